// Package engine drives the decision pipeline for each symbol, one closed
// candle at a time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"binance-decision-core/internal/analysis"
	"binance-decision-core/internal/circuit"
	"binance-decision-core/internal/clock"
	"binance-decision-core/internal/confirmation"
	"binance-decision-core/internal/database"
	"binance-decision-core/internal/events"
	"binance-decision-core/internal/execution"
	"binance-decision-core/internal/indicators"
	"binance-decision-core/internal/logging"
	"binance-decision-core/internal/market"
	"binance-decision-core/internal/metrics"
	"binance-decision-core/internal/strategy"
)

// ErrStaleCandle is returned when a candle is not newer than the last one processed
var ErrStaleCandle = errors.New("candle already processed")

// ErrRiskGate is returned by submission when the breaker refuses the entry slot
var ErrRiskGate = errors.New("risk gate refused entry")

// Outcome classifies what a tick ended with
type Outcome string

const (
	OutcomeNoSignal         Outcome = "NO_SIGNAL"
	OutcomeInsufficientData Outcome = "INSUFFICIENT_DATA"
	OutcomeContextBlocked   Outcome = "CONTEXT_BLOCKED"
	OutcomeRiskGate         Outcome = "RISK_GATE"
	OutcomeDataUnavailable  Outcome = "DATA_UNAVAILABLE"
	OutcomeCorrelationVeto  Outcome = "CORRELATION_VETO"
	OutcomePending          Outcome = "PENDING"
	OutcomeSubmitted        Outcome = "SUBMITTED"
	OutcomeError            Outcome = "ERROR"
)

// Resolution reports a pending entry settled during a tick
type Resolution struct {
	ID        string           `json:"id"`
	Direction market.Direction `json:"direction"`
	Confirmed bool             `json:"confirmed"`
	Submitted bool             `json:"submitted"`
	Reason    string           `json:"reason"`
}

// TickResult is everything a tick decided
type TickResult struct {
	Symbol      string                   `json:"symbol"`
	CandleTime  time.Time                `json:"candle_time"`
	Close       float64                  `json:"close"`
	Outcome     Outcome                  `json:"outcome"`
	Reason      string                   `json:"reason"`
	TraceID     string                   `json:"trace_id"`
	Context     analysis.TradingContext  `json:"context"`
	Structure   analysis.StructureResult `json:"structure"`
	Divergence  analysis.Divergence      `json:"divergence"`
	Decision    *strategy.Decision       `json:"decision,omitempty"`
	Correlation *CorrelationCheck        `json:"correlation,omitempty"`
	PendingID   string                   `json:"pending_id,omitempty"`
	Submitted   []execution.Signal       `json:"submitted,omitempty"`
	Resolutions []Resolution             `json:"resolutions,omitempty"`
	Duration    time.Duration            `json:"duration"`
}

// Options bundles the analysis settings a session is built from
type Options struct {
	Engine                Config
	Context               analysis.ContextConfig
	Divergence            analysis.DivergenceConfig
	StructureTolerancePct float64
	Strategies            strategy.Config
	// StrategySet replaces the configured strategies when non-empty
	StrategySet []strategy.Strategy
	// MinConfidence is the global coordinator floor in percent
	MinConfidence float64
}

// Deps are the collaborators shared by every session. Confirmations, Breaker,
// Bus, Metrics, Journal and State are optional.
type Deps struct {
	Confirmations *confirmation.Manager
	Breaker       *circuit.CircuitBreaker
	Builder       *execution.Builder
	Sink          execution.Sink
	Bus           *events.EventBus
	Metrics       *metrics.Recorder
	Journal       Journal
	State         StateStore
	Clock         clock.Clock
	Logger        *logging.Logger
}

// Session owns the per-symbol state: the structure tracker, strategy instances
// and the last processed candle. Ticks are serialised.
type Session struct {
	symbol      string
	cfg         Config
	provider    market.CandleProvider
	book        market.OrderBookProvider
	ctxAnalyzer *analysis.ContextAnalyzer
	tracker     *analysis.StructureTracker
	divergence  *analysis.DivergenceDetector
	coordinator *strategy.Coordinator
	correlation *CorrelationFilter

	confirm *confirmation.Manager
	breaker *circuit.CircuitBreaker
	builder *execution.Builder
	sink    execution.Sink
	bus     *events.EventBus
	metrics *metrics.Recorder
	journal Journal
	state   StateStore
	clock   clock.Clock
	logger  *logging.Logger

	mu         sync.Mutex
	lastCandle time.Time
	last       *TickResult
	ticks      int
}

// NewSession wires one symbol's pipeline. If provider also implements
// market.OrderBookProvider, order books are fetched each tick.
func NewSession(ctx context.Context, symbol string, provider market.CandleProvider, opts Options, deps Deps) (*Session, error) {
	if symbol == "" {
		return nil, fmt.Errorf("session requires a symbol")
	}
	if provider == nil {
		return nil, fmt.Errorf("session %s requires a candle provider", symbol)
	}
	if deps.Builder == nil || deps.Sink == nil {
		return nil, fmt.Errorf("session %s requires an execution builder and sink", symbol)
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	logger := deps.Logger.WithComponent("session").WithField("symbol", symbol)

	s := &Session{
		symbol:      symbol,
		cfg:         opts.Engine,
		provider:    provider,
		ctxAnalyzer: analysis.NewContextAnalyzer(opts.Context, provider, deps.Logger),
		tracker:     analysis.NewStructureTracker(opts.StructureTolerancePct, deps.Clock),
		divergence:  analysis.NewDivergenceDetector(opts.Divergence),
		correlation: NewCorrelationFilter(opts.Engine.Correlation, opts.Engine.Policies.Correlation),
		coordinator: strategy.NewCoordinator(
			strategySet(opts),
			strategy.ThresholdGate(opts.MinConfidence, opts.Strategies.MinConfidenceOverrides()),
			deps.Logger,
		),
		confirm: deps.Confirmations,
		breaker: deps.Breaker,
		builder: deps.Builder,
		sink:    deps.Sink,
		bus:     deps.Bus,
		metrics: deps.Metrics,
		journal: deps.Journal,
		state:   deps.State,
		clock:   deps.Clock,
		logger:  logger,
	}
	if book, ok := provider.(market.OrderBookProvider); ok && opts.Engine.OrderBookDepth > 0 {
		s.book = book
	}

	s.restoreStructure(ctx)
	return s, nil
}

func strategySet(opts Options) []strategy.Strategy {
	if len(opts.StrategySet) > 0 {
		return opts.StrategySet
	}
	return strategy.BuildDefaultSet(opts.Strategies)
}

// Symbol returns the session's symbol
func (s *Session) Symbol() string { return s.symbol }

// Tracker exposes the structure tracker for operator resets
func (s *Session) Tracker() *analysis.StructureTracker { return s.tracker }

// Coordinator exposes the strategy coordinator
func (s *Session) Coordinator() *strategy.Coordinator { return s.coordinator }

// LastResult returns the most recent tick result, or nil
func (s *Session) LastResult() *TickResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Ticks returns how many candles have been processed
func (s *Session) Ticks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

// ResetStructure returns the trend tracker to NEUTRAL
func (s *Session) ResetStructure(ctx context.Context) {
	s.tracker.Reset()
	s.saveStructure(ctx)
	s.bus.Publish(events.Event{Type: events.EventStructureReset, Symbol: s.symbol, Timestamp: s.clock.Now()})
	s.logger.Info("Structure tracker reset")
}

// Tick fetches the primary series and processes it if a new candle has closed.
// It returns nil, nil when there is nothing new.
func (s *Session) Tick(ctx context.Context) (*TickResult, error) {
	candles, err := s.provider.GetCandles(ctx, market.RolePrimary, s.cfg.CandleLimit)
	if err != nil {
		s.metrics.RecordError("candles")
		s.bus.PublishError(s.symbol, "candles", "primary candle fetch failed", err)
		return nil, fmt.Errorf("fetch %s candles: %w", s.symbol, err)
	}
	if len(candles) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	fresh := candles[len(candles)-1].Timestamp.After(s.lastCandle)
	s.mu.Unlock()
	if !fresh {
		return nil, nil
	}
	return s.ProcessCandles(ctx, candles)
}

// ProcessCandles runs the pipeline with the last candle as the newly closed one
func (s *Session) ProcessCandles(ctx context.Context, candles []market.Candle) (*TickResult, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles to process")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	last := candles[len(candles)-1]
	if !last.Timestamp.After(s.lastCandle) {
		return nil, fmt.Errorf("%w: %s at %s", ErrStaleCandle, s.symbol, last.Timestamp.Format(time.RFC3339))
	}
	s.lastCandle = last.Timestamp

	res := s.process(ctx, candles)
	s.last = res
	s.ticks++
	return res, nil
}

func (s *Session) process(ctx context.Context, candles []market.Candle) *TickResult {
	started := time.Now()
	last := candles[len(candles)-1]
	ctx, log := logging.WithTickTrace(ctx, s.logger, s.symbol, last.Timestamp)

	res := &TickResult{
		Symbol:     s.symbol,
		CandleTime: last.Timestamp,
		Close:      last.Close,
		Outcome:    OutcomeNoSignal,
		TraceID:    logging.TraceIDFromContext(ctx),
	}
	defer s.finish(ctx, log, res, started)
	defer func() {
		if r := recover(); r != nil {
			res.Outcome = OutcomeError
			res.Reason = fmt.Sprintf("panic: %v", r)
			s.metrics.RecordError("panic")
			s.bus.PublishError(s.symbol, "pipeline", "tick panicked", fmt.Errorf("%v", r))
			log.Error("Tick panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()

	s.resolvePending(ctx, log, last, res)

	if need := s.cfg.minCandles(); len(candles) < need {
		res.Outcome = OutcomeInsufficientData
		res.Reason = fmt.Sprintf("need %d primary candles, have %d", need, len(candles))
		return res
	}

	data := s.snapshot(candles)
	res.Structure = data.Structure
	res.Divergence = data.Divergence
	if ev := data.Structure.Event; data.Structure.HasEvent && ev != nil {
		s.bus.PublishStructureBreak(s.symbol, string(ev.Type), string(ev.Direction), ev.Price, ev.Strength, last.Timestamp)
		s.metrics.RecordStructureEvent(s.symbol, string(ev.Type), string(ev.Direction))
		s.saveStructure(ctx)
		log.Info("Structure break", "type", string(ev.Type), "direction", string(ev.Direction), "strength", ev.Strength)
	}

	tc := s.ctxAnalyzer.Analyze(ctx)
	data.Context = tc
	res.Context = tc
	s.metrics.RecordContext(s.symbol, tc.OverallModifier, tc.BlockedBy)
	if !tc.IsValidContext {
		res.Outcome = OutcomeContextBlocked
		res.Reason = strings.Join(tc.BlockedBy, ",")
		s.bus.PublishContextBlocked(s.symbol, tc.BlockedBy, last.Timestamp)
		return res
	}

	if s.breaker != nil {
		if ok, why := s.breaker.CanTrade(); !ok {
			res.Outcome = OutcomeRiskGate
			res.Reason = why
			return res
		}
	}

	if s.book != nil {
		ob, err := s.book.GetOrderBook(ctx, s.cfg.OrderBookDepth)
		if err != nil {
			s.metrics.RecordError("order_book")
			if s.cfg.Policies.OrderBook == FailClosed {
				res.Outcome = OutcomeDataUnavailable
				res.Reason = fmt.Sprintf("order book unavailable: %v", err)
				return res
			}
			log.Warn("Order book unavailable, continuing without it", "error", err)
		} else {
			data.OrderBook = ob
		}
	}

	decision := s.coordinator.Evaluate(data)
	res.Decision = &decision
	if !decision.HasSignal() {
		res.Reason = decision.Reason
		return res
	}

	win := decision.Winner
	sig := win.Signal
	s.bus.PublishSignal(s.symbol, win.StrategyName, string(sig.Direction), sig.Reason, sig.Confidence, last.Timestamp)
	s.metrics.RecordSignal(s.symbol, win.StrategyName, string(sig.Direction))
	sigLog := logging.SignalContext(log, s.symbol, win.StrategyName, string(sig.Direction), sig.Confidence)

	check := s.correlation.Check(ctx, s.provider, s.symbol, sig.Direction)
	res.Correlation = &check
	if !check.Allowed {
		res.Outcome = OutcomeCorrelationVeto
		res.Reason = check.Reason
		sigLog.Info("Signal vetoed by correlation filter", "reason", check.Reason)
		return res
	}

	sd := confirmation.SignalData{
		Strategy:   win.StrategyName,
		Confidence: sig.Confidence,
		Reason:     sig.Reason,
		EntryPrice: last.Close,
		ATR:        data.Indicators.ATR,
	}

	if s.confirm != nil && s.confirm.IsEnabled(sig.Direction) {
		id, err := s.confirm.AddPending(ctx, confirmation.PendingEntry{
			Symbol:     s.symbol,
			Direction:  sig.Direction,
			KeyLevel:   sig.KeyLevel,
			DetectedAt: s.clock.Now(),
			SignalData: sd,
		})
		if err != nil {
			res.Outcome = OutcomeError
			res.Reason = err.Error()
			s.metrics.RecordError("pending")
			s.bus.PublishError(s.symbol, "confirmation", "failed to queue entry", err)
			return res
		}
		res.PendingID = id
		res.Outcome = OutcomePending
		res.Reason = decision.Reason
		s.bus.PublishEntry(events.EventEntryPending, s.symbol, id, string(sig.Direction), sig.KeyLevel, sig.Reason, last.Timestamp)
		sigLog.Info("Entry awaiting confirmation", "id", id, "key_level", sig.KeyLevel)
		return res
	}

	err := s.submit(ctx, sigLog, res, execution.Intent{
		Symbol:     s.symbol,
		Direction:  sig.Direction,
		EntryPrice: last.Close,
		KeyLevel:   sig.KeyLevel,
		ATR:        sd.ATR,
		Confidence: sig.Confidence,
		Reason:     sig.Reason,
		Strategy:   win.StrategyName,
		At:         s.clock.Now(),
	})
	if errors.Is(err, ErrRiskGate) {
		res.Outcome = OutcomeRiskGate
		res.Reason = err.Error()
		return res
	}
	if err != nil {
		res.Outcome = OutcomeError
		res.Reason = err.Error()
		return res
	}
	res.Outcome = OutcomeSubmitted
	res.Reason = decision.Reason
	return res
}

// snapshot computes everything strategies read from the primary series
func (s *Session) snapshot(candles []market.Candle) strategy.MarketData {
	last := candles[len(candles)-1]
	snap, rsi := indicators.Compute(candles, s.cfg.Indicators)
	swings := indicators.FindSwings(candles, s.cfg.SwingLookback)
	highs, lows := market.SplitSwings(swings)
	tol := s.cfg.LevelTolerancePct / 100

	return strategy.MarketData{
		Symbol:       s.symbol,
		Timestamp:    last.Timestamp,
		CurrentPrice: last.Close,
		Candles:      candles,
		Indicators:   snap,
		Swings:       swings,
		SwingHighs:   highs,
		SwingLows:    lows,
		Support:      indicators.ClusterLevels(lows, tol),
		Resistance:   indicators.ClusterLevels(highs, tol),
		Divergence:   s.divergence.Detect(swings, indicators.RSIByTimestamp(candles, rsi, s.cfg.Indicators.RSI)),
		Structure:    s.tracker.DetectCHoCHBoS(highs, lows, last.Close, ""),
	}
}

// resolvePending settles this symbol's queued entries against the new close
func (s *Session) resolvePending(ctx context.Context, log *logging.Logger, last market.Candle, res *TickResult) {
	if s.confirm == nil {
		return
	}
	for _, p := range s.confirm.DueForSymbol(ctx, s.symbol) {
		r := s.confirm.CheckConfirmation(ctx, p.ID, last.Close)
		if r.Entry == nil {
			continue
		}
		entry := *r.Entry
		rs := Resolution{ID: entry.ID, Direction: entry.Direction, Confirmed: r.Confirmed, Reason: r.Reason}

		switch {
		case r.Reason == confirmation.ReasonTimeout:
			s.metrics.RecordConfirmation(s.symbol, "expired")
			s.bus.PublishEntry(events.EventEntryExpired, s.symbol, entry.ID, string(entry.Direction), entry.KeyLevel, r.Reason, last.Timestamp)
		case r.Confirmed:
			s.metrics.RecordConfirmation(s.symbol, "confirmed")
			s.bus.PublishEntry(events.EventEntryConfirmed, s.symbol, entry.ID, string(entry.Direction), entry.KeyLevel, r.Reason, last.Timestamp)
			rs.Submitted = s.submitConfirmed(ctx, log, res, entry, last, &rs)
		default:
			s.metrics.RecordConfirmation(s.symbol, "rejected")
			s.bus.PublishEntry(events.EventEntryRejected, s.symbol, entry.ID, string(entry.Direction), entry.KeyLevel, r.Reason, last.Timestamp)
		}
		res.Resolutions = append(res.Resolutions, rs)
	}
	s.metrics.SetPending(s.confirm.Count(ctx))
}

func (s *Session) submitConfirmed(ctx context.Context, log *logging.Logger, res *TickResult, entry confirmation.PendingEntry, last market.Candle, rs *Resolution) bool {
	err := s.submit(ctx, log, res, execution.Intent{
		Symbol:     s.symbol,
		Direction:  entry.Direction,
		EntryPrice: last.Close,
		KeyLevel:   entry.KeyLevel,
		ATR:        entry.SignalData.ATR,
		Confidence: entry.SignalData.Confidence,
		Reason:     entry.SignalData.Reason,
		Strategy:   entry.SignalData.Strategy,
		Confirmed:  true,
		At:         s.clock.Now(),
	})
	if errors.Is(err, ErrRiskGate) {
		rs.Reason = fmt.Sprintf("%s; not submitted: %v", rs.Reason, err)
		log.Warn("Confirmed entry dropped by risk gate", "id", entry.ID, "reason", err.Error())
		return false
	}
	if err != nil {
		rs.Reason = fmt.Sprintf("%s; submit failed: %v", rs.Reason, err)
		return false
	}
	return true
}

// submit builds the execution signal, reserves a breaker slot and hands the
// signal to the sink. The slot is given back if the sink fails.
func (s *Session) submit(ctx context.Context, log *logging.Logger, res *TickResult, in execution.Intent) error {
	sig, err := s.builder.Build(in)
	if err != nil {
		s.metrics.RecordError("build")
		log.Warn("Could not build execution signal", "error", err)
		return err
	}

	if s.breaker != nil {
		if ok, why := s.breaker.TryEnter(); !ok {
			return fmt.Errorf("%w: %s", ErrRiskGate, why)
		}
	}

	err = s.sink.Submit(ctx, sig)
	s.metrics.RecordSubmission(s.symbol, err)
	s.journalSignal(ctx, log, sig, err == nil)
	if err != nil {
		if s.breaker != nil {
			s.breaker.ReleaseEntry()
		}
		s.bus.PublishError(s.symbol, "execution", "signal submission failed", err)
		log.Error("Signal submission failed", "id", sig.ID, "error", err)
		return fmt.Errorf("submit signal: %w", err)
	}

	s.bus.Publish(events.Event{
		Type:      events.EventSignalSubmitted,
		Symbol:    s.symbol,
		Timestamp: in.At,
		Data: map[string]interface{}{
			"id":           sig.ID,
			"direction":    string(sig.Direction),
			"entry_price":  sig.EntryPrice,
			"stop_loss":    sig.StopLoss,
			"take_profits": sig.TakeProfits,
			"strategy":     sig.Strategy,
			"confirmed":    sig.Confirmed,
		},
	})
	res.Submitted = append(res.Submitted, sig)
	return nil
}

func (s *Session) journalSignal(ctx context.Context, log *logging.Logger, sig execution.Signal, submitted bool) {
	if s.journal == nil {
		return
	}
	rec := &database.SignalRecord{
		ID:           sig.ID,
		Symbol:       sig.Symbol,
		Direction:    string(sig.Direction),
		StrategyName: sig.Strategy,
		EntryPrice:   sig.EntryPrice,
		StopLoss:     sig.StopLoss,
		TakeProfits:  sig.TakeProfits,
		KeyLevel:     sig.KeyLevel,
		Confidence:   sig.Confidence,
		Confirmed:    sig.Confirmed,
		Reason:       sig.Reason,
		Submitted:    submitted,
		CreatedAt:    sig.CreatedAt,
	}
	if err := s.journal.RecordSignal(ctx, rec); err != nil {
		log.Warn("Failed to journal signal", "error", err)
	}
}

// finish records metrics and the journal row for a completed tick
func (s *Session) finish(ctx context.Context, log *logging.Logger, res *TickResult, started time.Time) {
	res.Duration = time.Since(started)
	s.metrics.RecordTick(s.symbol, string(res.Outcome), res.Duration.Seconds())

	log.Debug("Tick processed",
		"outcome", string(res.Outcome),
		"reason", res.Reason,
		"trend", string(res.Structure.CurrentTrend),
		"duration_ms", res.Duration.Milliseconds())

	if s.journal == nil {
		return
	}
	rec := &database.DecisionRecord{
		Symbol:          s.symbol,
		CandleTime:      res.CandleTime,
		Outcome:         string(res.Outcome),
		Trend:           string(res.Structure.CurrentTrend),
		ContextValid:    res.Context.IsValidContext,
		OverallModifier: res.Context.OverallModifier,
		BlockedBy:       res.Context.BlockedBy,
		Reason:          res.Reason,
		TraceID:         res.TraceID,
	}
	if res.Decision != nil && res.Decision.Winner != nil && res.Decision.Winner.Signal != nil {
		rec.StrategyName = res.Decision.Winner.StrategyName
		rec.Direction = string(res.Decision.Winner.Signal.Direction)
		rec.Confidence = res.Decision.Winner.Signal.Confidence
	}
	if err := s.journal.RecordDecision(ctx, rec); err != nil {
		log.Warn("Failed to journal decision", "error", err)
	}
}
