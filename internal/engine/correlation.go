package engine

import (
	"context"
	"fmt"

	"binance-decision-core/internal/indicators"
	"binance-decision-core/internal/market"
)

// CorrelationConfig configures the reference-asset trend filter
type CorrelationConfig struct {
	Enabled     bool `json:"enabled" yaml:"enabled"`
	EMAPeriod   int  `json:"ema_period" yaml:"ema_period" default:"50" validate:"gt=0"`
	CandleLimit int  `json:"candle_limit" yaml:"candle_limit" default:"100" validate:"gtfield=EMAPeriod"`
	// Symbols that move on their own and skip the filter
	IndependentSymbols []string `json:"independent_symbols" yaml:"independent_symbols"`
}

// DefaultCorrelationConfig enables the filter with BTC and ETH exempt
func DefaultCorrelationConfig() CorrelationConfig {
	return CorrelationConfig{
		Enabled:            true,
		EMAPeriod:          50,
		CandleLimit:        100,
		IndependentSymbols: []string{"BTCUSDT", "ETHUSDT"},
	}
}

// CorrelationCheck is the filter's verdict on one signal
type CorrelationCheck struct {
	Allowed        bool             `json:"allowed"`
	Skipped        bool             `json:"skipped"`
	ReferenceTrend market.TrendBias `json:"reference_trend"`
	Reason         string           `json:"reason"`
}

// CorrelationFilter vetoes signals that fight the reference asset's EMA trend
type CorrelationFilter struct {
	cfg         CorrelationConfig
	policy      FailurePolicy
	independent map[string]bool
}

func NewCorrelationFilter(cfg CorrelationConfig, policy FailurePolicy) *CorrelationFilter {
	ind := make(map[string]bool, len(cfg.IndependentSymbols))
	for _, s := range cfg.IndependentSymbols {
		ind[s] = true
	}
	if policy == "" {
		policy = FailOpen
	}
	return &CorrelationFilter{cfg: cfg, policy: policy, independent: ind}
}

// Check compares dir against the reference trend. Fetch failures follow the policy.
func (f *CorrelationFilter) Check(ctx context.Context, provider market.CandleProvider, symbol string, dir market.Direction) CorrelationCheck {
	if !f.cfg.Enabled || f.independent[symbol] {
		return CorrelationCheck{Allowed: true, Skipped: true, ReferenceTrend: market.Neutral, Reason: "filter not applicable"}
	}

	candles, err := provider.GetCandles(ctx, market.RoleReference, f.cfg.CandleLimit)
	if err == nil && len(candles) < f.cfg.EMAPeriod {
		err = fmt.Errorf("only %d reference candles", len(candles))
	}
	if err != nil {
		return f.onFailure(err)
	}

	ema := indicators.Last(indicators.EMA(candles, f.cfg.EMAPeriod))
	last := candles[len(candles)-1].Close
	if ema <= 0 {
		return f.onFailure(fmt.Errorf("reference EMA unavailable"))
	}

	trend := market.Neutral
	switch {
	case last > ema:
		trend = market.Bullish
	case last < ema:
		trend = market.Bearish
	}

	if trend.Opposes(dir) {
		return CorrelationCheck{
			Allowed:        false,
			ReferenceTrend: trend,
			Reason:         fmt.Sprintf("%s signal against %s reference trend (close %.2f, EMA%d %.2f)", dir, trend, last, f.cfg.EMAPeriod, ema),
		}
	}
	return CorrelationCheck{Allowed: true, ReferenceTrend: trend, Reason: fmt.Sprintf("reference trend %s", trend)}
}

func (f *CorrelationFilter) onFailure(err error) CorrelationCheck {
	if f.policy == FailClosed {
		return CorrelationCheck{Allowed: false, ReferenceTrend: market.Neutral, Reason: fmt.Sprintf("reference data unavailable: %v", err)}
	}
	return CorrelationCheck{Allowed: true, Skipped: true, ReferenceTrend: market.Neutral, Reason: fmt.Sprintf("reference data unavailable, allowing: %v", err)}
}
