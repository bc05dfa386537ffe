package strategy

import (
	"math"
	"time"

	"binance-decision-core/internal/analysis"
	"binance-decision-core/internal/indicators"
	"binance-decision-core/internal/market"
)

// Strategy is one independent signal evaluator. Implementations must not share
// mutable state with each other; any per-strategy state stays private.
type Strategy interface {
	// Name returns the strategy name
	Name() string

	// Priority ranks the strategy; lower numbers win
	Priority() int

	// Evaluate inspects one market snapshot and proposes at most one signal
	Evaluate(data MarketData) Evaluation
}

// MarketData is the shared, read-only snapshot every strategy sees on a tick
type MarketData struct {
	Symbol       string                   `json:"symbol"`
	Timestamp    time.Time                `json:"timestamp"`
	CurrentPrice float64                  `json:"current_price"`
	Candles      []market.Candle          `json:"-"`
	Indicators   indicators.Snapshot      `json:"indicators"`
	Swings       []market.SwingPoint      `json:"swings"`
	SwingHighs   []market.SwingPoint      `json:"-"`
	SwingLows    []market.SwingPoint      `json:"-"`
	Support      []float64                `json:"support"`
	Resistance   []float64                `json:"resistance"`
	Divergence   analysis.Divergence      `json:"divergence"`
	Structure    analysis.StructureResult `json:"structure"`
	Context      analysis.TradingContext  `json:"context"`
	OrderBook    *market.OrderBook        `json:"order_book,omitempty"`
}

// LastCandle returns the most recent closed candle
func (d MarketData) LastCandle() (market.Candle, bool) {
	if len(d.Candles) == 0 {
		return market.Candle{}, false
	}
	return d.Candles[len(d.Candles)-1], true
}

// VolumeRatio compares the last candle's volume with its moving average
func (d MarketData) VolumeRatio() float64 {
	last, ok := d.LastCandle()
	if !ok || d.Indicators.VolumeAvg <= 0 {
		return 0
	}
	return last.Volume / d.Indicators.VolumeAvg
}

// Signal is a directional proposal with its confirmation level
type Signal struct {
	Direction  market.Direction `json:"direction"`
	Confidence float64          `json:"confidence"`
	Reason     string           `json:"reason"`
	// KeyLevel is the price the next candle must hold for the entry to confirm
	KeyLevel float64 `json:"key_level"`
}

// Evaluation is one strategy's verdict for one tick
type Evaluation struct {
	Valid        bool    `json:"valid"`
	Signal       *Signal `json:"signal,omitempty"`
	StrategyName string  `json:"strategy_name"`
	Priority     int     `json:"priority"`
	Reason       string  `json:"reason"`
}

// Actionable reports whether the evaluation carries a LONG or SHORT signal
func (e Evaluation) Actionable() bool {
	return e.Valid && e.Signal != nil && (e.Signal.Direction == market.Long || e.Signal.Direction == market.Short)
}

func invalid(s Strategy, reason string) Evaluation {
	return Evaluation{
		Valid:        false,
		StrategyName: s.Name(),
		Priority:     s.Priority(),
		Reason:       reason,
	}
}

func signal(s Strategy, data MarketData, dir market.Direction, confidence, keyLevel float64, reason string) Evaluation {
	return Evaluation{
		Valid: true,
		Signal: &Signal{
			Direction:  dir,
			Confidence: adjustConfidence(confidence, data, dir),
			Reason:     reason,
			KeyLevel:   keyLevel,
		},
		StrategyName: s.Name(),
		Priority:     s.Priority(),
		Reason:       reason,
	}
}

// adjustConfidence applies the context multiplier and, when a structure break
// happened this tick, the structure alignment multiplier.
func adjustConfidence(raw float64, data MarketData, dir market.Direction) float64 {
	conf := raw
	if data.Context.IsValidContext {
		conf *= data.Context.OverallModifier
	}
	if data.Structure.HasEvent {
		conf *= analysis.ConfidenceModifier(data.Structure.Event, dir)
	}
	return math.Max(0, math.Min(1, conf))
}
