package binance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"binance-decision-core/internal/clock"
	"binance-decision-core/internal/market"
)

// FeedConfig maps timeframe roles onto exchange intervals
type FeedConfig struct {
	PrimaryInterval string `json:"primary_interval" yaml:"primary_interval" default:"1m" validate:"required"`
	HigherInterval  string `json:"higher_interval" yaml:"higher_interval" default:"1h" validate:"required"`
	ReferenceSymbol string `json:"reference_symbol" yaml:"reference_symbol" default:"BTCUSDT"`
	DisableCache    bool   `json:"disable_cache" yaml:"disable_cache"`
}

// SymbolFeed adapts the REST client to the candle and order book providers
// for one symbol. Only closed candles are returned.
type SymbolFeed struct {
	client MarketDataClient
	symbol string
	cfg    FeedConfig
	clock  clock.Clock
	cache  *CandleCache
}

var (
	_ market.CandleProvider    = (*SymbolFeed)(nil)
	_ market.OrderBookProvider = (*SymbolFeed)(nil)
)

// NewSymbolFeed creates a feed. cache may be shared across feeds.
func NewSymbolFeed(client MarketDataClient, symbol string, cfg FeedConfig, cache *CandleCache, clk clock.Clock) *SymbolFeed {
	if clk == nil {
		clk = clock.System{}
	}
	if cfg.DisableCache {
		cache = nil
	}
	return &SymbolFeed{client: client, symbol: symbol, cfg: cfg, clock: clk, cache: cache}
}

// Symbol returns the feed's symbol
func (f *SymbolFeed) Symbol() string { return f.symbol }

func (f *SymbolFeed) resolve(role market.TimeframeRole) (symbol, interval string, err error) {
	switch role {
	case market.RolePrimary:
		return f.symbol, f.cfg.PrimaryInterval, nil
	case market.RoleHigher:
		return f.symbol, f.cfg.HigherInterval, nil
	case market.RoleReference:
		if f.cfg.ReferenceSymbol == "" {
			return "", "", fmt.Errorf("no reference symbol configured")
		}
		return f.cfg.ReferenceSymbol, f.cfg.HigherInterval, nil
	default:
		return "", "", fmt.Errorf("unknown timeframe role %q", role)
	}
}

// GetCandles returns up to limit closed candles, oldest first
func (f *SymbolFeed) GetCandles(ctx context.Context, role market.TimeframeRole, limit int) ([]market.Candle, error) {
	symbol, interval, err := f.resolve(role)
	if err != nil {
		return nil, err
	}

	now := f.clock.Now()
	key := fmt.Sprintf("%s:%s:%d", symbol, interval, limit)
	if f.cache != nil {
		if cached := f.cache.Get(key, now); cached != nil {
			return cached, nil
		}
	}

	// one extra row covers the still-forming bar that gets dropped
	klines, err := f.client.GetKlines(ctx, symbol, interval, limit+1)
	if err != nil {
		return nil, err
	}

	candles := make([]market.Candle, 0, len(klines))
	for _, k := range klines {
		if !k.IsClosed(now) {
			continue
		}
		candles = append(candles, k.ToCandle())
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}

	if f.cache != nil && len(candles) > 0 {
		f.cache.Set(key, candles, nextCloseAfter(candles, interval, now))
	}
	return candles, nil
}

// GetCurrentPrice returns the latest traded price
func (f *SymbolFeed) GetCurrentPrice(ctx context.Context) (float64, error) {
	return f.client.GetCurrentPrice(ctx, f.symbol)
}

// GetOrderBook returns a depth snapshot
func (f *SymbolFeed) GetOrderBook(ctx context.Context, depth int) (*market.OrderBook, error) {
	raw, err := f.client.GetOrderBookDepth(ctx, f.symbol, depth)
	if err != nil {
		return nil, err
	}
	return raw.ToOrderBook(f.clock.Now()), nil
}

// nextCloseAfter is when the next bar closes; cached history is valid until then
func nextCloseAfter(candles []market.Candle, interval string, now time.Time) time.Time {
	d, err := IntervalDuration(interval)
	if err != nil {
		return now.Add(time.Minute)
	}
	last := candles[len(candles)-1].Timestamp
	return last.Add(2 * d)
}

// CandleCache holds closed candle series until the next bar closes
type CandleCache struct {
	data map[string]*cacheEntry
	mu   sync.RWMutex
}

type cacheEntry struct {
	candles   []market.Candle
	expiresAt time.Time
}

// NewCandleCache creates a new candle cache
func NewCandleCache() *CandleCache {
	return &CandleCache{data: make(map[string]*cacheEntry)}
}

// Get retrieves cached candles if not expired
func (c *CandleCache) Get(key string, now time.Time) []market.Candle {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.data[key]
	if !ok || !now.Before(entry.expiresAt) {
		return nil
	}
	out := make([]market.Candle, len(entry.candles))
	copy(out, entry.candles)
	return out
}

// Set stores candles until expiresAt
func (c *CandleCache) Set(key string, candles []market.Candle, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make([]market.Candle, len(candles))
	copy(stored, candles)
	c.data[key] = &cacheEntry{candles: stored, expiresAt: expiresAt}
}
