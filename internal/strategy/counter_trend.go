package strategy

import (
	"fmt"

	"binance-decision-core/internal/analysis"
	"binance-decision-core/internal/market"
)

const NameCounterTrend = "counter_trend"

// CounterTrend fades exhausted moves: RSI divergence at an RSI extreme
type CounterTrend struct {
	config CounterTrendConfig
}

func NewCounterTrend(config CounterTrendConfig) *CounterTrend {
	return &CounterTrend{config: config}
}

func (s *CounterTrend) Name() string  { return NameCounterTrend }
func (s *CounterTrend) Priority() int { return s.config.Priority }

func (s *CounterTrend) Evaluate(data MarketData) Evaluation {
	div := data.Divergence
	if !div.HasDivergence() {
		return invalid(s, "no divergence")
	}

	rsiAtSwing := div.RSIPoints[0]
	switch div.Type {
	case analysis.DivergenceBullish:
		if rsiAtSwing > s.config.RSIOversold {
			return invalid(s, fmt.Sprintf("bullish divergence without oversold RSI (%.1f)", rsiAtSwing))
		}
		return signal(s, data, market.Long, s.config.BaseConfidence+div.Strength*0.4, div.PricePoints[1],
			fmt.Sprintf("bullish RSI divergence %.1f->%.1f, strength %.2f", div.RSIPoints[0], div.RSIPoints[1], div.Strength))

	case analysis.DivergenceBearish:
		if rsiAtSwing < s.config.RSIOverbought {
			return invalid(s, fmt.Sprintf("bearish divergence without overbought RSI (%.1f)", rsiAtSwing))
		}
		return signal(s, data, market.Short, s.config.BaseConfidence+div.Strength*0.4, div.PricePoints[1],
			fmt.Sprintf("bearish RSI divergence %.1f->%.1f, strength %.2f", div.RSIPoints[0], div.RSIPoints[1], div.Strength))
	}

	return invalid(s, "no divergence")
}
