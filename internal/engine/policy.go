package engine

import (
	"time"

	"binance-decision-core/internal/indicators"
)

// FailurePolicy decides what a tick does when an optional dependency fails
type FailurePolicy string

const (
	// FailOpen treats the dependency as absent and carries on
	FailOpen FailurePolicy = "fail_open"
	// FailClosed ends the tick without a signal
	FailClosed FailurePolicy = "fail_closed"
)

// PolicyConfig names the failure policy per external dependency. Context
// candles always fail closed inside the context analyzer.
type PolicyConfig struct {
	OrderBook   FailurePolicy `json:"order_book" yaml:"order_book" default:"fail_open" validate:"oneof=fail_open fail_closed"`
	Correlation FailurePolicy `json:"correlation" yaml:"correlation" default:"fail_open" validate:"oneof=fail_open fail_closed"`
}

// Config holds per-session pipeline settings
type Config struct {
	CandleLimit       int                `json:"candle_limit" yaml:"candle_limit" default:"200" validate:"gt=0"`
	SwingLookback     int                `json:"swing_lookback" yaml:"swing_lookback" default:"5" validate:"gt=0"`
	LevelTolerancePct float64            `json:"level_tolerance_pct" yaml:"level_tolerance_pct" default:"0.2" validate:"gt=0"`
	OrderBookDepth    int                `json:"order_book_depth" yaml:"order_book_depth" default:"20"`
	PollInterval      time.Duration      `json:"poll_interval" yaml:"poll_interval" default:"10s"`
	CleanupInterval   time.Duration      `json:"cleanup_interval" yaml:"cleanup_interval" default:"30s"`
	Indicators        indicators.Periods `json:"indicators" yaml:"indicators"`
	Policies          PolicyConfig       `json:"policies" yaml:"policies"`
	Correlation       CorrelationConfig  `json:"correlation" yaml:"correlation"`
}

// DefaultConfig returns the settings used when no file overrides them
func DefaultConfig() Config {
	return Config{
		CandleLimit:       200,
		SwingLookback:     5,
		LevelTolerancePct: 0.2,
		OrderBookDepth:    20,
		PollInterval:      10 * time.Second,
		CleanupInterval:   30 * time.Second,
		Indicators:        indicators.Periods{RSI: 14, EMAFast: 20, EMASlow: 50, ATR: 14, Volume: 20},
		Policies:          PolicyConfig{OrderBook: FailOpen, Correlation: FailOpen},
		Correlation:       DefaultCorrelationConfig(),
	}
}

// minCandles is the shortest primary series a tick can evaluate
func (c Config) minCandles() int {
	n := 2*c.SwingLookback + 1
	for _, p := range []int{c.Indicators.RSI + 1, c.Indicators.ATR + 1, c.Indicators.EMAFast} {
		n = max(n, p)
	}
	return n
}
