package strategy

import (
	"fmt"

	"binance-decision-core/internal/market"
)

const NamePriceAction = "price_action"

// PriceAction detects liquidity sweeps: a wick through the latest swing that
// closes back inside, trapping breakout traders.
type PriceAction struct {
	config PriceActionConfig
}

func NewPriceAction(config PriceActionConfig) *PriceAction {
	return &PriceAction{config: config}
}

func (s *PriceAction) Name() string  { return NamePriceAction }
func (s *PriceAction) Priority() int { return s.config.Priority }

func (s *PriceAction) Evaluate(data MarketData) Evaluation {
	last, ok := data.LastCandle()
	if !ok {
		return invalid(s, "no candles")
	}
	rng := last.High - last.Low
	if rng <= 0 {
		return invalid(s, "zero-range candle")
	}

	volRatio := data.VolumeRatio()
	if s.config.MinVolumeRatio > 0 && volRatio < s.config.MinVolumeRatio {
		return invalid(s, fmt.Sprintf("volume ratio %.2f below %.2f", volRatio, s.config.MinVolumeRatio))
	}
	volBonus := 0.0
	if volRatio > 0 {
		volBonus = min((volRatio-1)*0.1, 0.2)
	}

	if n := len(data.SwingLows); n > 0 {
		level := data.SwingLows[n-1].Price
		lowerWick := min(last.Open, last.Close) - last.Low
		if last.Low < level && last.Close > level && lowerWick/rng >= s.config.MinWickRatio {
			return signal(s, data, market.Long, s.config.BaseConfidence+volBonus, level,
				fmt.Sprintf("sell-side liquidity swept below %.4f, closed back at %.4f", level, last.Close))
		}
	}

	if n := len(data.SwingHighs); n > 0 {
		level := data.SwingHighs[n-1].Price
		upperWick := last.High - max(last.Open, last.Close)
		if last.High > level && last.Close < level && upperWick/rng >= s.config.MinWickRatio {
			return signal(s, data, market.Short, s.config.BaseConfidence+volBonus, level,
				fmt.Sprintf("buy-side liquidity swept above %.4f, closed back at %.4f", level, last.Close))
		}
	}

	return invalid(s, "no liquidity sweep")
}
