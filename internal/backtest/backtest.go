// Package backtest replays stored candles through a decision session with a
// candle-driven clock and simulates the resulting entries.
package backtest

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"

	"binance-decision-core/internal/circuit"
	"binance-decision-core/internal/clock"
	"binance-decision-core/internal/confirmation"
	"binance-decision-core/internal/engine"
	"binance-decision-core/internal/events"
	"binance-decision-core/internal/execution"
	"binance-decision-core/internal/logging"
	"binance-decision-core/internal/market"
)

// Config holds replay settings
type Config struct {
	Options      engine.Options
	Confirmation confirmation.Config
	// Breaker enables the risk gate, fed with simulated trade results; nil disables it
	Breaker *circuit.CircuitBreakerConfig
	Builder execution.BuilderConfig
	// MaxHoldCandles closes a simulated trade at market after this many bars
	MaxHoldCandles int
	Logger         *logging.Logger
}

// Exit reasons
const (
	ExitStopLoss   = "stop_loss"
	ExitTakeProfit = "take_profit"
	ExitTimeout    = "timeout"
	ExitEndOfData  = "end_of_data"
)

// Trade is one simulated position opened from a submitted signal
type Trade struct {
	SignalID   string           `json:"signal_id"`
	Strategy   string           `json:"strategy"`
	Direction  market.Direction `json:"direction"`
	Confirmed  bool             `json:"confirmed"`
	EntryTime  time.Time        `json:"entry_time"`
	ExitTime   time.Time        `json:"exit_time"`
	EntryPrice float64          `json:"entry_price"`
	ExitPrice  float64          `json:"exit_price"`
	StopLoss   float64          `json:"stop_loss"`
	TakeProfit float64          `json:"take_profit"`
	PnLPercent float64          `json:"pnl_percent"`
	RMultiple  float64          `json:"r_multiple"`
	ExitReason string           `json:"exit_reason"`

	entryIndex int
}

// Decision is the compact record of one tick that did something
type Decision struct {
	Time       time.Time        `json:"time"`
	Outcome    engine.Outcome   `json:"outcome"`
	Reason     string           `json:"reason"`
	Trend      market.TrendBias `json:"trend"`
	Strategy   string           `json:"strategy,omitempty"`
	Direction  market.Direction `json:"direction,omitempty"`
	Confidence float64          `json:"confidence,omitempty"`
}

// BacktestResult contains replay statistics
type BacktestResult struct {
	Symbol        string                 `json:"symbol"`
	Start         time.Time              `json:"start"`
	End           time.Time              `json:"end"`
	Ticks         int                    `json:"ticks"`
	Outcomes      map[engine.Outcome]int `json:"outcomes"`
	Decisions     []Decision             `json:"decisions"`
	Trades        []Trade                `json:"trades"`
	TotalTrades   int                    `json:"total_trades"`
	WinningTrades int                    `json:"winning_trades"`
	LosingTrades  int                    `json:"losing_trades"`
	WinRate       float64                `json:"win_rate"`
	NetPnLPercent float64                `json:"net_pnl_percent"`
	AverageWin    float64                `json:"average_win"`
	AverageLoss   float64                `json:"average_loss"`
	ProfitFactor  float64                `json:"profit_factor"`
	AverageR      float64                `json:"average_r"`
	MaxDrawdown   float64                `json:"max_drawdown"`
}

// BacktestEngine runs historical replays
type BacktestEngine struct {
	cfg    Config
	logger *logging.Logger
}

// NewBacktestEngine creates a new backtest engine
func NewBacktestEngine(cfg Config) *BacktestEngine {
	if cfg.MaxHoldCandles <= 0 {
		cfg.MaxHoldCandles = 48
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &BacktestEngine{cfg: cfg, logger: cfg.Logger.WithComponent("backtest")}
}

// collector is the execution sink used during replays
type collector struct {
	mu   sync.Mutex
	sigs []execution.Signal
}

func (c *collector) Submit(_ context.Context, sig execution.Signal) error {
	c.mu.Lock()
	c.sigs = append(c.sigs, sig)
	c.mu.Unlock()
	return nil
}

// Run replays every primary candle loaded in provider for symbol
func (be *BacktestEngine) Run(ctx context.Context, symbol string, provider *ReplayProvider) (*BacktestResult, error) {
	primary := provider.all(market.RolePrimary)
	interval, ok := provider.Interval(market.RolePrimary)
	if !ok || len(primary) == 0 {
		return nil, fmt.Errorf("no primary candles loaded")
	}

	clk := clock.NewManual(primary[0].Timestamp.Add(interval))
	bus := events.NewEventBus()

	var breaker *circuit.CircuitBreaker
	if be.cfg.Breaker != nil {
		breaker = circuit.NewCircuitBreaker(be.cfg.Breaker, clk, bus)
	}
	builder, err := execution.NewBuilder(be.cfg.Builder)
	if err != nil {
		return nil, err
	}
	sink := &collector{}

	session, err := engine.NewSession(ctx, symbol, provider, be.cfg.Options, engine.Deps{
		Confirmations: confirmation.NewManager(be.cfg.Confirmation, nil, clk, be.cfg.Logger),
		Breaker:       breaker,
		Builder:       builder,
		Sink:          sink,
		Bus:           bus,
		Clock:         clk,
		Logger:        be.cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	result := &BacktestResult{
		Symbol:   symbol,
		Start:    primary[0].Timestamp,
		End:      primary[len(primary)-1].Timestamp.Add(interval),
		Outcomes: make(map[engine.Outcome]int),
	}
	limit := be.cfg.Options.Engine.CandleLimit
	if limit <= 0 {
		limit = len(primary)
	}

	var open []*Trade
	for i, c := range primary {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		now := c.Timestamp.Add(interval)
		clk.Set(now)
		provider.SetTime(now)

		// trades opened on earlier bars are checked against this bar first
		open = be.updateTrades(open, c, i, now, breaker, result)

		res, err := session.ProcessCandles(ctx, primary[max(0, i+1-limit):i+1])
		if err != nil {
			return nil, fmt.Errorf("replay %s at %s: %w", symbol, c.Timestamp.Format(time.RFC3339), err)
		}
		result.Ticks++
		result.Outcomes[res.Outcome]++
		if res.Outcome != engine.OutcomeNoSignal && res.Outcome != engine.OutcomeInsufficientData {
			result.Decisions = append(result.Decisions, summarize(res))
		}

		for _, sig := range res.Submitted {
			open = append(open, openTrade(sig, i))
		}
	}

	last := primary[len(primary)-1]
	for _, t := range open {
		be.closeTrade(t, last.Close, result.End, ExitEndOfData, breaker, result)
	}

	sort.SliceStable(result.Trades, func(i, j int) bool { return result.Trades[i].EntryTime.Before(result.Trades[j].EntryTime) })
	be.calculateMetrics(result)
	be.logger.Info("Replay finished",
		"symbol", symbol,
		"ticks", result.Ticks,
		"signals", len(sink.sigs),
		"trades", result.TotalTrades,
		"net_pnl_percent", result.NetPnLPercent)
	return result, nil
}

func summarize(res *engine.TickResult) Decision {
	d := Decision{
		Time:    res.CandleTime,
		Outcome: res.Outcome,
		Reason:  res.Reason,
		Trend:   res.Structure.CurrentTrend,
	}
	if res.Decision != nil && res.Decision.Winner != nil && res.Decision.Winner.Signal != nil {
		d.Strategy = res.Decision.Winner.StrategyName
		d.Direction = res.Decision.Winner.Signal.Direction
		d.Confidence = res.Decision.Winner.Signal.Confidence
	}
	return d
}

func openTrade(sig execution.Signal, index int) *Trade {
	t := &Trade{
		SignalID:   sig.ID,
		Strategy:   sig.Strategy,
		Direction:  sig.Direction,
		Confirmed:  sig.Confirmed,
		EntryTime:  sig.CreatedAt,
		EntryPrice: sig.EntryPrice,
		StopLoss:   sig.StopLoss,
		entryIndex: index,
	}
	if len(sig.TakeProfits) > 0 {
		t.TakeProfit = sig.TakeProfits[0]
	}
	return t
}

// updateTrades applies one bar to the open trades and returns those still open.
// When a bar spans both levels the stop is assumed to fill first.
func (be *BacktestEngine) updateTrades(open []*Trade, c market.Candle, index int, now time.Time, breaker *circuit.CircuitBreaker, result *BacktestResult) []*Trade {
	still := open[:0]
	for _, t := range open {
		exitPrice, reason := checkExitConditions(t, c)
		if reason == "" && index-t.entryIndex >= be.cfg.MaxHoldCandles {
			exitPrice, reason = c.Close, ExitTimeout
		}
		if reason == "" {
			still = append(still, t)
			continue
		}
		be.closeTrade(t, exitPrice, now, reason, breaker, result)
	}
	return still
}

func checkExitConditions(t *Trade, c market.Candle) (float64, string) {
	switch t.Direction {
	case market.Long:
		if c.Low <= t.StopLoss {
			return t.StopLoss, ExitStopLoss
		}
		if t.TakeProfit > 0 && c.High >= t.TakeProfit {
			return t.TakeProfit, ExitTakeProfit
		}
	case market.Short:
		if c.High >= t.StopLoss {
			return t.StopLoss, ExitStopLoss
		}
		if t.TakeProfit > 0 && c.Low <= t.TakeProfit {
			return t.TakeProfit, ExitTakeProfit
		}
	}
	return 0, ""
}

// closeTrade records the exit and reports the result to the risk gate
func (be *BacktestEngine) closeTrade(t *Trade, exitPrice float64, at time.Time, reason string, breaker *circuit.CircuitBreaker, result *BacktestResult) {
	t.ExitPrice = exitPrice
	t.ExitTime = at
	t.ExitReason = reason

	move := exitPrice - t.EntryPrice
	risk := t.EntryPrice - t.StopLoss
	if t.Direction == market.Short {
		move, risk = -move, -risk
	}
	if t.EntryPrice > 0 {
		t.PnLPercent = move / t.EntryPrice * 100
	}
	if risk > 0 {
		t.RMultiple = move / risk
	}

	if breaker != nil {
		breaker.RecordTrade(t.PnLPercent)
	}
	result.Trades = append(result.Trades, *t)
}

// calculateMetrics derives summary statistics from closed trades
func (be *BacktestEngine) calculateMetrics(result *BacktestResult) {
	result.TotalTrades = len(result.Trades)
	if result.TotalTrades == 0 {
		return
	}

	var grossWin, grossLoss, totalR float64
	for _, t := range result.Trades {
		result.NetPnLPercent += t.PnLPercent
		totalR += t.RMultiple
		if t.PnLPercent > 0 {
			result.WinningTrades++
			grossWin += t.PnLPercent
		} else {
			result.LosingTrades++
			grossLoss += -t.PnLPercent
		}
	}

	result.WinRate = float64(result.WinningTrades) / float64(result.TotalTrades) * 100
	result.AverageR = totalR / float64(result.TotalTrades)
	if result.WinningTrades > 0 {
		result.AverageWin = grossWin / float64(result.WinningTrades)
	}
	if result.LosingTrades > 0 {
		result.AverageLoss = grossLoss / float64(result.LosingTrades)
	}
	// left at zero without losses so the result stays JSON-encodable
	if grossLoss > 0 {
		result.ProfitFactor = grossWin / grossLoss
	}
	result.MaxDrawdown = calculateMaxDrawdown(result.Trades)
}

// calculateMaxDrawdown is the deepest fall of cumulative P&L (percent points) from its peak
func calculateMaxDrawdown(trades []Trade) float64 {
	var equity, peak, maxDD float64
	for _, t := range trades {
		equity += t.PnLPercent
		peak = math.Max(peak, equity)
		maxDD = math.Max(maxDD, peak-equity)
	}
	return maxDD
}

// PrintResults writes a human-readable summary
func PrintResults(w io.Writer, result *BacktestResult) {
	fmt.Fprintf(w, "\n=== REPLAY %s ===\n", result.Symbol)
	fmt.Fprintf(w, "Period: %s -> %s\n", result.Start.Format(time.RFC3339), result.End.Format(time.RFC3339))
	fmt.Fprintf(w, "Ticks: %d\n", result.Ticks)

	outcomes := make([]string, 0, len(result.Outcomes))
	for o := range result.Outcomes {
		outcomes = append(outcomes, string(o))
	}
	sort.Strings(outcomes)
	for _, o := range outcomes {
		fmt.Fprintf(w, "  %-18s %d\n", o, result.Outcomes[engine.Outcome(o)])
	}

	fmt.Fprintln(w, "\n=== DECISIONS ===")
	for _, d := range result.Decisions {
		fmt.Fprintf(w, "%s  %-17s %-8s %-5s %-16s %.2f  %s\n",
			d.Time.Format("2006-01-02 15:04"), d.Outcome, d.Trend, d.Direction, d.Strategy, d.Confidence, d.Reason)
	}

	fmt.Fprintln(w, "\n=== TRADES ===")
	fmt.Fprintf(w, "Total Trades: %d\n", result.TotalTrades)
	fmt.Fprintf(w, "Winning Trades: %d (%.1f%%)\n", result.WinningTrades, result.WinRate)
	fmt.Fprintf(w, "Losing Trades: %d\n", result.LosingTrades)
	fmt.Fprintf(w, "Net P&L: %.2f%%\n", result.NetPnLPercent)
	fmt.Fprintf(w, "Average Win: %.2f%%  Average Loss: %.2f%%\n", result.AverageWin, result.AverageLoss)
	fmt.Fprintf(w, "Profit Factor: %.2f  Average R: %.2f\n", result.ProfitFactor, result.AverageR)
	fmt.Fprintf(w, "Max Drawdown: %.2f%%\n", result.MaxDrawdown)
}
