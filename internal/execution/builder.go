package execution

import (
	"fmt"
	"time"

	"binance-decision-core/internal/market"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BuilderConfig controls stop and target placement
type BuilderConfig struct {
	// StopBufferPct places the structural stop this far beyond the key level
	StopBufferPct float64 `json:"stop_buffer_pct" yaml:"stop_buffer_pct" default:"0.1"`
	// StopATRMultiple is used when the key level cannot anchor a stop
	StopATRMultiple float64 `json:"stop_atr_multiple" yaml:"stop_atr_multiple" default:"1.5"`
	// MaxStopPct rejects signals whose stop is further than this from entry
	MaxStopPct float64 `json:"max_stop_pct" yaml:"max_stop_pct" default:"5"`
	// TakeProfitR lists targets as multiples of initial risk
	TakeProfitR []float64 `json:"take_profit_r" yaml:"take_profit_r"`
	// TickSizes maps symbols to their price increment, e.g. "0.01"
	TickSizes map[string]string `json:"tick_sizes" yaml:"tick_sizes"`
}

// Builder derives stop-loss and take-profit levels for a direction and entry
type Builder struct {
	cfg   BuilderConfig
	ticks map[string]decimal.Decimal
}

// NewBuilder creates a builder. Unparseable tick sizes are reported as errors.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if len(cfg.TakeProfitR) == 0 {
		cfg.TakeProfitR = []float64{1, 2, 3}
	}
	if cfg.StopATRMultiple <= 0 {
		cfg.StopATRMultiple = 1.5
	}

	ticks := make(map[string]decimal.Decimal, len(cfg.TickSizes))
	for sym, raw := range cfg.TickSizes {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid tick size %q for %s: %w", raw, sym, err)
		}
		if d.IsPositive() {
			ticks[sym] = d
		}
	}
	return &Builder{cfg: cfg, ticks: ticks}, nil
}

// Intent is what the engine knows when a signal becomes actionable
type Intent struct {
	Symbol     string
	Direction  market.Direction
	EntryPrice float64
	KeyLevel   float64
	ATR        float64
	Confidence float64
	Reason     string
	Strategy   string
	Confirmed  bool
	At         time.Time
}

// Build turns an intent into an execution signal
func (b *Builder) Build(in Intent) (Signal, error) {
	if in.EntryPrice <= 0 {
		return Signal{}, fmt.Errorf("%w: entry price %.8f", ErrInvalidSignal, in.EntryPrice)
	}

	stop, err := b.stopLoss(in)
	if err != nil {
		return Signal{}, err
	}
	risk := in.EntryPrice - stop
	if in.Direction == market.Short {
		risk = stop - in.EntryPrice
	}

	tps := make([]float64, 0, len(b.cfg.TakeProfitR))
	for _, r := range b.cfg.TakeProfitR {
		var tp float64
		if in.Direction == market.Long {
			tp = in.EntryPrice + r*risk
		} else {
			tp = in.EntryPrice - r*risk
		}
		tps = append(tps, b.round(in.Symbol, tp))
	}

	return Signal{
		ID:          uuid.NewString(),
		Symbol:      in.Symbol,
		Direction:   in.Direction,
		EntryPrice:  b.round(in.Symbol, in.EntryPrice),
		StopLoss:    b.round(in.Symbol, stop),
		TakeProfits: tps,
		Confidence:  in.Confidence,
		Reason:      in.Reason,
		Strategy:    in.Strategy,
		KeyLevel:    in.KeyLevel,
		Confirmed:   in.Confirmed,
		CreatedAt:   in.At,
	}, nil
}

func (b *Builder) stopLoss(in Intent) (float64, error) {
	buffer := b.cfg.StopBufferPct / 100
	var stop float64

	switch in.Direction {
	case market.Long:
		if in.KeyLevel > 0 && in.KeyLevel < in.EntryPrice {
			stop = in.KeyLevel * (1 - buffer)
		} else if in.ATR > 0 {
			stop = in.EntryPrice - in.ATR*b.cfg.StopATRMultiple
		}
		if stop <= 0 || stop >= in.EntryPrice {
			return 0, fmt.Errorf("%w: no stop below entry %.8f", ErrInvalidSignal, in.EntryPrice)
		}
	case market.Short:
		if in.KeyLevel > in.EntryPrice {
			stop = in.KeyLevel * (1 + buffer)
		} else if in.ATR > 0 {
			stop = in.EntryPrice + in.ATR*b.cfg.StopATRMultiple
		}
		if stop <= in.EntryPrice {
			return 0, fmt.Errorf("%w: no stop above entry %.8f", ErrInvalidSignal, in.EntryPrice)
		}
	default:
		return 0, fmt.Errorf("%w: direction %q", ErrInvalidSignal, in.Direction)
	}

	if b.cfg.MaxStopPct > 0 {
		dist := (stop - in.EntryPrice) / in.EntryPrice * 100
		if dist < 0 {
			dist = -dist
		}
		if dist > b.cfg.MaxStopPct {
			return 0, fmt.Errorf("%w: stop %.2f%% from entry exceeds %.2f%%", ErrInvalidSignal, dist, b.cfg.MaxStopPct)
		}
	}
	return stop, nil
}

// round snaps a price to the symbol's tick size when one is configured
func (b *Builder) round(symbol string, price float64) float64 {
	tick, ok := b.ticks[symbol]
	if !ok {
		return price
	}
	return decimal.NewFromFloat(price).Div(tick).Round(0).Mul(tick).InexactFloat64()
}
