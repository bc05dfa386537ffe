package analysis

import (
	"math"
	"time"

	"binance-decision-core/internal/market"
)

// DivergenceType classifies a price/RSI disagreement
type DivergenceType string

const (
	DivergenceBullish DivergenceType = "BULLISH"
	DivergenceBearish DivergenceType = "BEARISH"
	DivergenceNone    DivergenceType = "NONE"
)

// Divergence is the result of one detection pass. Points are [older, newer].
type Divergence struct {
	Type        DivergenceType `json:"type"`
	Strength    float64        `json:"strength"`
	PricePoints [2]float64     `json:"price_points"`
	RSIPoints   [2]float64     `json:"rsi_points"`
	TimePoints  [2]time.Time   `json:"time_points"`
}

// HasDivergence reports whether a bullish or bearish divergence was found
func (d Divergence) HasDivergence() bool {
	return d.Type == DivergenceBullish || d.Type == DivergenceBearish
}

// DivergenceConfig holds detector thresholds
type DivergenceConfig struct {
	MaxTimeGap       time.Duration `json:"max_time_gap" yaml:"max_time_gap" default:"48h"`
	MinPriceDeltaPct float64       `json:"min_price_delta_pct" yaml:"min_price_delta_pct" default:"0.3"`
	MinRSIDelta      float64       `json:"min_rsi_delta" yaml:"min_rsi_delta" default:"3"`
	MinStrength      float64       `json:"min_strength" yaml:"min_strength" default:"0.2"`
}

// DivergenceDetector finds RSI divergence across the two most recent swings
type DivergenceDetector struct {
	cfg DivergenceConfig
}

// NewDivergenceDetector creates a new divergence detector
func NewDivergenceDetector(cfg DivergenceConfig) *DivergenceDetector {
	return &DivergenceDetector{cfg: cfg}
}

// Detect checks the last two swing highs for bearish divergence, then the last two
// swing lows for bullish divergence. rsiByTimestamp is keyed by Unix milliseconds.
func (d *DivergenceDetector) Detect(swings []market.SwingPoint, rsiByTimestamp map[int64]float64) Divergence {
	highs, lows := market.SplitSwings(swings)

	if div, ok := d.checkBearish(highs, rsiByTimestamp); ok {
		return div
	}
	if div, ok := d.checkBullish(lows, rsiByTimestamp); ok {
		return div
	}
	return Divergence{Type: DivergenceNone}
}

// checkBearish: price higher high, RSI lower high
func (d *DivergenceDetector) checkBearish(highs []market.SwingPoint, rsi map[int64]float64) (Divergence, bool) {
	older, newer, oldRSI, newRSI, ok := d.lastPair(highs, rsi)
	if !ok {
		return Divergence{}, false
	}
	if newer.Price <= older.Price || newRSI >= oldRSI {
		return Divergence{}, false
	}
	return d.qualify(DivergenceBearish, older, newer, oldRSI, newRSI)
}

// checkBullish: price lower low, RSI higher low
func (d *DivergenceDetector) checkBullish(lows []market.SwingPoint, rsi map[int64]float64) (Divergence, bool) {
	older, newer, oldRSI, newRSI, ok := d.lastPair(lows, rsi)
	if !ok {
		return Divergence{}, false
	}
	if newer.Price >= older.Price || newRSI <= oldRSI {
		return Divergence{}, false
	}
	return d.qualify(DivergenceBullish, older, newer, oldRSI, newRSI)
}

func (d *DivergenceDetector) lastPair(points []market.SwingPoint, rsi map[int64]float64) (older, newer market.SwingPoint, oldRSI, newRSI float64, ok bool) {
	if len(points) < 2 {
		return older, newer, 0, 0, false
	}
	older, newer = points[len(points)-2], points[len(points)-1]

	if d.cfg.MaxTimeGap > 0 && newer.Timestamp.Sub(older.Timestamp) > d.cfg.MaxTimeGap {
		return older, newer, 0, 0, false
	}

	var found bool
	if oldRSI, found = rsi[older.Timestamp.UnixMilli()]; !found {
		return older, newer, 0, 0, false
	}
	if newRSI, found = rsi[newer.Timestamp.UnixMilli()]; !found {
		return older, newer, 0, 0, false
	}
	return older, newer, oldRSI, newRSI, true
}

func (d *DivergenceDetector) qualify(kind DivergenceType, older, newer market.SwingPoint, oldRSI, newRSI float64) (Divergence, bool) {
	if older.Price <= 0 {
		return Divergence{}, false
	}
	priceDelta := math.Abs(newer.Price-older.Price) / older.Price * 100
	rsiDelta := math.Abs(newRSI - oldRSI)

	if priceDelta < d.cfg.MinPriceDeltaPct || rsiDelta < d.cfg.MinRSIDelta {
		return Divergence{}, false
	}

	strength := CalculateStrength(priceDelta, rsiDelta)
	if strength < d.cfg.MinStrength {
		return Divergence{}, false
	}

	return Divergence{
		Type:        kind,
		Strength:    strength,
		PricePoints: [2]float64{older.Price, newer.Price},
		RSIPoints:   [2]float64{oldRSI, newRSI},
		TimePoints:  [2]time.Time{older.Timestamp, newer.Timestamp},
	}, true
}

// CalculateStrength averages a price delta clamped to 0-5% and an RSI delta
// clamped to 0-20 points, each mapped to [0,1].
func CalculateStrength(priceDeltaPct, rsiDelta float64) float64 {
	priceScore := clamp(priceDeltaPct, 0, 5) / 5
	rsiScore := clamp(rsiDelta, 0, 20) / 20
	return (priceScore + rsiScore) / 2
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
