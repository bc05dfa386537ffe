package strategy

import (
	"fmt"
	"math"

	"binance-decision-core/internal/market"
)

const NameTrendFollowing = "trend_following"

// TrendFollowing buys pullbacks to the fast EMA in an established uptrend
// (and sells rallies in a downtrend). It keeps a private count of consecutive
// qualifying ticks and only signals after MinConsecutive of them.
type TrendFollowing struct {
	config      TrendFollowingConfig
	lastDir     market.Direction
	consecutive int
}

func NewTrendFollowing(config TrendFollowingConfig) *TrendFollowing {
	if config.MinConsecutive <= 0 {
		config.MinConsecutive = 1
	}
	return &TrendFollowing{config: config}
}

func (s *TrendFollowing) Name() string  { return NameTrendFollowing }
func (s *TrendFollowing) Priority() int { return s.config.Priority }

// Consecutive returns the current run length of qualifying ticks
func (s *TrendFollowing) Consecutive() int { return s.consecutive }

func (s *TrendFollowing) Evaluate(data MarketData) Evaluation {
	ind := data.Indicators
	if ind.EMAFast <= 0 || ind.EMASlow <= 0 {
		s.resetRun()
		return invalid(s, "indicators warming up")
	}

	dir := s.qualify(data)
	if dir == market.Hold {
		s.resetRun()
		return invalid(s, "no trend pullback")
	}

	if dir == s.lastDir {
		s.consecutive++
	} else {
		s.lastDir = dir
		s.consecutive = 1
	}
	if s.consecutive < s.config.MinConsecutive {
		return invalid(s, fmt.Sprintf("waiting for confirmation %d/%d", s.consecutive, s.config.MinConsecutive))
	}

	// Each extra confirming tick adds 5%, up to 15%
	bonus := math.Min(float64(s.consecutive-s.config.MinConsecutive)*0.05, 0.15)
	confidence := s.config.BaseConfidence + bonus

	reason := fmt.Sprintf("%s trend pullback to EMA %.4f (RSI %.1f, run %d)",
		market.BiasFor(dir), ind.EMAFast, ind.RSI, s.consecutive)
	return signal(s, data, dir, confidence, ind.EMAFast, reason)
}

func (s *TrendFollowing) qualify(data MarketData) market.Direction {
	ind := data.Indicators
	price := data.CurrentPrice
	distance := math.Abs(price-ind.EMAFast) / ind.EMAFast * 100
	if distance > s.config.PullbackPct {
		return market.Hold
	}

	trend := data.Structure.CurrentTrend
	switch {
	case trend == market.Bullish && ind.EMAFast > ind.EMASlow && price >= ind.EMAFast && ind.RSI < s.config.RSIOverbought:
		return market.Long
	case trend == market.Bearish && ind.EMAFast < ind.EMASlow && price <= ind.EMAFast && ind.RSI > s.config.RSIOversold:
		return market.Short
	default:
		return market.Hold
	}
}

func (s *TrendFollowing) resetRun() {
	s.lastDir = market.Hold
	s.consecutive = 0
}
