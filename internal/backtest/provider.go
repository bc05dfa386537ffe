package backtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"binance-decision-core/internal/market"
)

// series is one stored timeframe with its bar length
type series struct {
	candles  []market.Candle
	interval time.Duration
}

// closedBy returns how many candles have closed at now
func (s series) closedBy(now time.Time) int {
	return sort.Search(len(s.candles), func(i int) bool {
		return s.candles[i].Timestamp.Add(s.interval).After(now)
	})
}

// ReplayProvider serves stored candles as if the clock were at a fixed
// instant: only bars that closed by then are visible.
type ReplayProvider struct {
	mu     sync.RWMutex
	series map[market.TimeframeRole]series
	now    time.Time
}

var _ market.CandleProvider = (*ReplayProvider)(nil)

// NewReplayProvider creates an empty provider
func NewReplayProvider() *ReplayProvider {
	return &ReplayProvider{series: make(map[market.TimeframeRole]series)}
}

// Load registers a series for a role. The interval is inferred from the data.
func (p *ReplayProvider) Load(role market.TimeframeRole, candles []market.Candle) error {
	interval, err := InferInterval(candles)
	if err != nil {
		return fmt.Errorf("%s series: %w", role, err)
	}
	p.mu.Lock()
	p.series[role] = series{candles: candles, interval: interval}
	p.mu.Unlock()
	return nil
}

// Interval returns the bar length of a loaded role
func (p *ReplayProvider) Interval(role market.TimeframeRole) (time.Duration, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.series[role]
	return s.interval, ok
}

func (p *ReplayProvider) all(role market.TimeframeRole) []market.Candle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.series[role].candles
}

// SetTime moves the replay cursor
func (p *ReplayProvider) SetTime(now time.Time) {
	p.mu.Lock()
	p.now = now
	p.mu.Unlock()
}

// GetCandles returns up to limit candles closed at the cursor, oldest first
func (p *ReplayProvider) GetCandles(_ context.Context, role market.TimeframeRole, limit int) ([]market.Candle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s, ok := p.series[role]
	if !ok {
		return nil, fmt.Errorf("no %s candles loaded", role)
	}
	n := s.closedBy(p.now)
	start := max(0, n-limit)
	out := make([]market.Candle, n-start)
	copy(out, s.candles[start:n])
	return out, nil
}

// GetCurrentPrice returns the last primary close visible at the cursor
func (p *ReplayProvider) GetCurrentPrice(ctx context.Context) (float64, error) {
	candles, err := p.GetCandles(ctx, market.RolePrimary, 1)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, fmt.Errorf("no closed primary candle at %s", p.now.Format(time.RFC3339))
	}
	return candles[0].Close, nil
}
