package analysis

import (
	"math"
	"testing"
	"time"

	"binance-decision-core/internal/market"
)

func defaultDivergenceConfig() DivergenceConfig {
	return DivergenceConfig{
		MaxTimeGap:       48 * time.Hour,
		MinPriceDeltaPct: 0.3,
		MinRSIDelta:      3,
		MinStrength:      0.2,
	}
}

func point(kind market.SwingType, price float64, offset time.Duration) market.SwingPoint {
	return market.SwingPoint{Price: price, Timestamp: t0.Add(offset), Type: kind}
}

func TestBearishDivergence(t *testing.T) {
	d := NewDivergenceDetector(defaultDivergenceConfig())
	pts := []market.SwingPoint{
		point(market.SwingHigh, 100, 0),
		point(market.SwingLow, 95, 2*time.Hour),
		point(market.SwingHigh, 103, 4*time.Hour),
	}
	rsi := map[int64]float64{
		t0.UnixMilli():                    75,
		t0.Add(2 * time.Hour).UnixMilli(): 40,
		t0.Add(4 * time.Hour).UnixMilli(): 65,
	}

	div := d.Detect(pts, rsi)
	if div.Type != DivergenceBearish {
		t.Fatalf("Expected BEARISH divergence, got %s", div.Type)
	}
	if math.Abs(div.Strength-0.55) > 1e-9 {
		t.Errorf("Expected strength 0.55, got %f", div.Strength)
	}
	if div.PricePoints != [2]float64{100, 103} {
		t.Errorf("Unexpected price points %v", div.PricePoints)
	}
	if div.RSIPoints != [2]float64{75, 65} {
		t.Errorf("Unexpected RSI points %v", div.RSIPoints)
	}
}

func TestBullishDivergence(t *testing.T) {
	d := NewDivergenceDetector(defaultDivergenceConfig())
	pts := []market.SwingPoint{
		point(market.SwingLow, 100, 0),
		point(market.SwingLow, 97, 3*time.Hour),
	}
	rsi := map[int64]float64{
		t0.UnixMilli():                    25,
		t0.Add(3 * time.Hour).UnixMilli(): 35,
	}

	div := d.Detect(pts, rsi)
	if div.Type != DivergenceBullish {
		t.Fatalf("Expected BULLISH divergence, got %s", div.Type)
	}
	if !div.HasDivergence() {
		t.Error("Expected HasDivergence to be true")
	}
}

func TestBearishCheckedFirst(t *testing.T) {
	d := NewDivergenceDetector(defaultDivergenceConfig())
	pts := []market.SwingPoint{
		point(market.SwingHigh, 100, 0),
		point(market.SwingLow, 90, time.Hour),
		point(market.SwingHigh, 104, 2*time.Hour),
		point(market.SwingLow, 86, 3*time.Hour),
	}
	rsi := map[int64]float64{
		t0.UnixMilli():                    80,
		t0.Add(time.Hour).UnixMilli():     20,
		t0.Add(2 * time.Hour).UnixMilli(): 60,
		t0.Add(3 * time.Hour).UnixMilli(): 35,
	}

	if div := d.Detect(pts, rsi); div.Type != DivergenceBearish {
		t.Errorf("Expected bearish to win when both qualify, got %s", div.Type)
	}
}

func TestDivergenceRejections(t *testing.T) {
	d := NewDivergenceDetector(defaultDivergenceConfig())
	highs := []market.SwingPoint{
		point(market.SwingHigh, 100, 0),
		point(market.SwingHigh, 103, 4*time.Hour),
	}

	// RSI missing at one swing
	if div := d.Detect(highs, map[int64]float64{t0.UnixMilli(): 75}); div.Type != DivergenceNone {
		t.Errorf("Expected NONE with missing RSI, got %s", div.Type)
	}

	// RSI confirms price
	rsi := map[int64]float64{t0.UnixMilli(): 60, t0.Add(4 * time.Hour).UnixMilli(): 70}
	if div := d.Detect(highs, rsi); div.Type != DivergenceNone {
		t.Errorf("Expected NONE when RSI agrees, got %s", div.Type)
	}

	// stale structure
	stale := []market.SwingPoint{
		point(market.SwingHigh, 100, 0),
		point(market.SwingHigh, 103, 72*time.Hour),
	}
	rsi = map[int64]float64{t0.UnixMilli(): 75, t0.Add(72 * time.Hour).UnixMilli(): 65}
	if div := d.Detect(stale, rsi); div.Type != DivergenceNone {
		t.Errorf("Expected NONE for time gap over ceiling, got %s", div.Type)
	}

	// RSI delta under minimum
	rsi = map[int64]float64{t0.UnixMilli(): 75, t0.Add(4 * time.Hour).UnixMilli(): 74}
	if div := d.Detect(highs, rsi); div.Type != DivergenceNone {
		t.Errorf("Expected NONE for small RSI delta, got %s", div.Type)
	}

	if div := d.Detect(nil, nil); div.Type != DivergenceNone {
		t.Errorf("Expected NONE for no swings, got %s", div.Type)
	}
}

func TestCalculateStrengthBoundedAndMonotone(t *testing.T) {
	if s := CalculateStrength(50, 100); s != 1.0 {
		t.Errorf("Expected clamp to 1.0, got %f", s)
	}
	if s := CalculateStrength(-1, -5); s != 0 {
		t.Errorf("Expected clamp to 0, got %f", s)
	}
	if s := CalculateStrength(math.NaN(), 10); s != 0.25 {
		t.Errorf("Expected NaN price delta treated as 0, got %f", s)
	}

	prev := -1.0
	for p := 0.0; p <= 6; p += 0.5 {
		s := CalculateStrength(p, 10)
		if s < prev {
			t.Errorf("Strength decreased at price delta %f: %f < %f", p, s, prev)
		}
		prev = s
	}
	prev = -1.0
	for r := 0.0; r <= 25; r += 1 {
		s := CalculateStrength(2, r)
		if s < prev {
			t.Errorf("Strength decreased at RSI delta %f: %f < %f", r, s, prev)
		}
		prev = s
	}
}
