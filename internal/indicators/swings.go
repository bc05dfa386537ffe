package indicators

import (
	"math"

	"binance-decision-core/internal/market"
)

// FindSwings identifies fractal swing highs and lows: a candle whose high (low)
// is strictly above (below) every other candle within lookback bars on both sides.
// The result is time-ordered and mixes both types.
func FindSwings(candles []market.Candle, lookback int) []market.SwingPoint {
	if lookback <= 0 {
		lookback = 5 // Default 5-candle swing
	}

	var swings []market.SwingPoint
	for i := lookback; i < len(candles)-lookback; i++ {
		isHigh, isLow := true, true
		for j := i - lookback; j <= i+lookback; j++ {
			if j == i {
				continue
			}
			if candles[j].High >= candles[i].High {
				isHigh = false
			}
			if candles[j].Low <= candles[i].Low {
				isLow = false
			}
			if !isHigh && !isLow {
				break
			}
		}

		if isHigh {
			swings = append(swings, market.SwingPoint{
				Price:     candles[i].High,
				Timestamp: candles[i].Timestamp,
				Type:      market.SwingHigh,
			})
		}
		if isLow {
			swings = append(swings, market.SwingPoint{
				Price:     candles[i].Low,
				Timestamp: candles[i].Timestamp,
				Type:      market.SwingLow,
			})
		}
	}

	return swings
}

// ZigZag filters a swing list so that highs and lows alternate and each leg moves
// at least minDeviationPct percent. Consecutive points of the same type keep the
// more extreme one.
func ZigZag(swings []market.SwingPoint, minDeviationPct float64) []market.SwingPoint {
	var out []market.SwingPoint
	for _, p := range swings {
		if len(out) == 0 {
			out = append(out, p)
			continue
		}
		last := &out[len(out)-1]
		if p.Type == last.Type {
			if (p.Type == market.SwingHigh && p.Price > last.Price) ||
				(p.Type == market.SwingLow && p.Price < last.Price) {
				*last = p
			}
			continue
		}
		if last.Price > 0 && math.Abs(p.Price-last.Price)/last.Price*100 < minDeviationPct {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ClusterLevels groups swing prices lying within tolerance (fraction, e.g. 0.01)
// of each other and returns the averaged level for each cluster.
func ClusterLevels(points []market.SwingPoint, tolerance float64) []float64 {
	var levels []float64
	for _, p := range points {
		found := false
		for i, level := range levels {
			if level > 0 && math.Abs(p.Price-level)/level < tolerance {
				levels[i] = (level + p.Price) / 2
				found = true
				break
			}
		}
		if !found {
			levels = append(levels, p.Price)
		}
	}
	return levels
}

// NearestLevel returns the level closest to price and its distance as a fraction
// of the level. ok is false for an empty list.
func NearestLevel(price float64, levels []float64) (level, distance float64, ok bool) {
	best := math.Inf(1)
	for _, l := range levels {
		if l <= 0 {
			continue
		}
		d := math.Abs(price-l) / l
		if d < best {
			best = d
			level = l
			ok = true
		}
	}
	return level, best, ok
}
