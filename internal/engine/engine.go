package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"binance-decision-core/internal/confirmation"
	"binance-decision-core/internal/events"
	"binance-decision-core/internal/logging"
	"binance-decision-core/internal/market"
)

// ProviderFactory builds the candle provider for a symbol
type ProviderFactory func(symbol string) market.CandleProvider

// Engine owns one session per symbol and polls them for closed candles
type Engine struct {
	opts     Options
	deps     Deps
	sessions map[string]*Session
	order    []string
	mu       sync.RWMutex
	logger   *logging.Logger

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates sessions for every symbol
func New(ctx context.Context, symbols []string, factory ProviderFactory, opts Options, deps Deps) (*Engine, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("engine requires at least one symbol")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}

	e := &Engine{
		opts:     opts,
		deps:     deps,
		sessions: make(map[string]*Session, len(symbols)),
		logger:   deps.Logger.WithComponent("engine"),
	}
	for _, sym := range symbols {
		if _, dup := e.sessions[sym]; dup {
			continue
		}
		s, err := NewSession(ctx, sym, factory(sym), opts, deps)
		if err != nil {
			return nil, err
		}
		e.sessions[sym] = s
		e.order = append(e.order, sym)
	}
	return e, nil
}

// Session returns the session for a symbol
func (e *Engine) Session(symbol string) (*Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[symbol]
	return s, ok
}

// Sessions returns all sessions in configuration order
func (e *Engine) Sessions() []*Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Session, 0, len(e.order))
	for _, sym := range e.order {
		out = append(out, e.sessions[sym])
	}
	return out
}

// Confirmations returns the shared confirmation manager, possibly nil
func (e *Engine) Confirmations() *confirmation.Manager { return e.deps.Confirmations }

// CancelPending withdraws a pending entry by id
func (e *Engine) CancelPending(ctx context.Context, id string) bool {
	if e.deps.Confirmations == nil {
		return false
	}
	entry, ok := e.deps.Confirmations.GetPending(ctx, id)
	if !ok {
		return false
	}
	if !e.deps.Confirmations.Cancel(ctx, id) {
		return false
	}
	e.deps.Bus.PublishEntry(events.EventEntryCancelled, entry.Symbol, id, string(entry.Direction), entry.KeyLevel, "cancelled by operator", e.now())
	e.deps.Metrics.SetPending(e.deps.Confirmations.Count(ctx))
	return true
}

// TickAll runs one poll over every session and returns the results that
// processed a new candle. Sessions run concurrently; each is serialised.
func (e *Engine) TickAll(ctx context.Context) []*TickResult {
	sessions := e.Sessions()
	results := make([]*TickResult, len(sessions))

	var wg sync.WaitGroup
	for i, s := range sessions {
		wg.Add(1)
		go func(i int, s *Session) {
			defer wg.Done()
			res, err := s.Tick(ctx)
			if err != nil {
				e.logger.Warn("Tick failed", "symbol", s.Symbol(), "error", err)
				return
			}
			results[i] = res
		}(i, s)
	}
	wg.Wait()

	out := make([]*TickResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Cleanup sweeps expired pending entries and reports them
func (e *Engine) Cleanup(ctx context.Context) int {
	if e.deps.Confirmations == nil {
		return 0
	}
	expired := e.deps.Confirmations.SweepExpired(ctx)
	for _, p := range expired {
		e.deps.Bus.PublishEntry(events.EventEntryExpired, p.Symbol, p.ID, string(p.Direction), p.KeyLevel, confirmation.ReasonTimeout, e.now())
		e.deps.Metrics.RecordConfirmation(p.Symbol, "expired")
	}
	e.deps.Metrics.SetPending(e.deps.Confirmations.Count(ctx))
	return len(expired)
}

// Start launches the polling loop
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(ctx)

	e.deps.Bus.Publish(events.Event{
		Type:      events.EventEngineStarted,
		Timestamp: e.now(),
		Data:      map[string]interface{}{"symbols": e.order},
	})
	e.logger.Info("Engine started", "symbols", len(e.order), "poll_interval", e.opts.Engine.PollInterval.String())
	return nil
}

// Stop halts the polling loop and waits for it to exit
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	e.mu.Unlock()

	e.wg.Wait()
	e.deps.Bus.Publish(events.Event{Type: events.EventEngineStopped, Timestamp: e.now()})
	e.logger.Info("Engine stopped")
}

// IsRunning reports whether the loop is active
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	poll := e.opts.Engine.PollInterval
	if poll <= 0 {
		poll = 10 * time.Second
	}
	sweep := e.opts.Engine.CleanupInterval
	if sweep <= 0 {
		sweep = 30 * time.Second
	}

	pollTicker := time.NewTicker(poll)
	defer pollTicker.Stop()
	sweepTicker := time.NewTicker(sweep)
	defer sweepTicker.Stop()

	e.TickAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-pollTicker.C:
			e.TickAll(ctx)
		case <-sweepTicker.C:
			e.Cleanup(ctx)
		}
	}
}

func (e *Engine) now() time.Time {
	if e.deps.Clock == nil {
		return time.Now()
	}
	return e.deps.Clock.Now()
}
