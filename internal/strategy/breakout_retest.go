package strategy

import (
	"fmt"

	"binance-decision-core/internal/market"
)

const NameBreakoutRetest = "breakout_retest"

// BreakoutRetest enters when price returns to a level it recently broke
// on volume and holds it.
type BreakoutRetest struct {
	config BreakoutRetestConfig
}

func NewBreakoutRetest(config BreakoutRetestConfig) *BreakoutRetest {
	if config.LookbackCandles <= 0 {
		config.LookbackCandles = 10
	}
	return &BreakoutRetest{config: config}
}

func (s *BreakoutRetest) Name() string  { return NameBreakoutRetest }
func (s *BreakoutRetest) Priority() int { return s.config.Priority }

func (s *BreakoutRetest) Evaluate(data MarketData) Evaluation {
	n := len(data.Candles)
	if n < s.config.LookbackCandles+1 {
		return invalid(s, "not enough candles")
	}
	last := data.Candles[n-1]
	window := data.Candles[n-1-s.config.LookbackCandles : n-1]
	retest := s.config.RetestPct / 100

	if k := len(data.SwingHighs); k > 0 {
		level := data.SwingHighs[k-1].Price
		if s.brokeAbove(window, level, data.Indicators.VolumeAvg) &&
			last.Low <= level*(1+retest) && last.Close > level {
			return signal(s, data, market.Long, s.config.BaseConfidence, level,
				fmt.Sprintf("retest of broken resistance %.4f held (close %.4f)", level, last.Close))
		}
	}

	if k := len(data.SwingLows); k > 0 {
		level := data.SwingLows[k-1].Price
		if s.brokeBelow(window, level, data.Indicators.VolumeAvg) &&
			last.High >= level*(1-retest) && last.Close < level {
			return signal(s, data, market.Short, s.config.BaseConfidence, level,
				fmt.Sprintf("retest of broken support %.4f held (close %.4f)", level, last.Close))
		}
	}

	return invalid(s, "no breakout retest")
}

func (s *BreakoutRetest) brokeAbove(window []market.Candle, level, avgVol float64) bool {
	for i, c := range window {
		prevClose := c.Open
		if i > 0 {
			prevClose = window[i-1].Close
		}
		if prevClose <= level && c.Close > level && s.volumeOK(c, avgVol) {
			return true
		}
	}
	return false
}

func (s *BreakoutRetest) brokeBelow(window []market.Candle, level, avgVol float64) bool {
	for i, c := range window {
		prevClose := c.Open
		if i > 0 {
			prevClose = window[i-1].Close
		}
		if prevClose >= level && c.Close < level && s.volumeOK(c, avgVol) {
			return true
		}
	}
	return false
}

func (s *BreakoutRetest) volumeOK(c market.Candle, avgVol float64) bool {
	if s.config.MinVolumeRatio <= 0 || avgVol <= 0 {
		return true
	}
	return c.Volume/avgVol >= s.config.MinVolumeRatio
}
