package analysis

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"binance-decision-core/internal/market"
)

// mockProvider serves a fixed higher-timeframe series
type mockProvider struct {
	candles []market.Candle
	err     error
}

func (m *mockProvider) GetCandles(ctx context.Context, role market.TimeframeRole, limit int) ([]market.Candle, error) {
	if m.err != nil {
		return nil, m.err
	}
	if len(m.candles) > limit {
		return m.candles[len(m.candles)-limit:], nil
	}
	return m.candles, nil
}

func (m *mockProvider) GetCurrentPrice(ctx context.Context) (float64, error) {
	if len(m.candles) == 0 {
		return 0, errors.New("no data")
	}
	return m.candles[len(m.candles)-1].Close, nil
}

// flatCandles builds n candles closing at price with a fixed high-low range
func flatCandles(n int, price, rng float64) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = market.Candle{
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
			Open:      price,
			High:      price + rng/2,
			Low:       price - rng/2,
			Close:     price,
			Volume:    1000,
		}
	}
	return out
}

func testContextConfig(mode FilterMode) ContextConfig {
	return ContextConfig{
		Mode:              mode,
		MinCandles:        60,
		CandleLimit:       100,
		EMAPeriod:         50,
		ATRPeriod:         14,
		MinATRPercent:     0.3,
		MaxATRPercent:     5,
		MaxEMADistance:    3,
		SwingLookback:     5,
		EqualTolerancePct: 0.1,
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func assertProduct(t *testing.T, tc TradingContext) {
	t.Helper()
	if tc.OverallModifier < 0 || tc.OverallModifier > 1 {
		t.Errorf("Overall modifier %f outside [0,1]", tc.OverallModifier)
	}
	if !approx(tc.OverallModifier, tc.ATRModifier*tc.EMAModifier*tc.TrendModifier) {
		t.Errorf("Overall %f != %f * %f * %f", tc.OverallModifier, tc.ATRModifier, tc.EMAModifier, tc.TrendModifier)
	}
}

func assertZeroModifiers(t *testing.T, tc TradingContext) {
	t.Helper()
	if tc.ATRModifier != 0 || tc.EMAModifier != 0 || tc.TrendModifier != 0 || tc.OverallModifier != 0 {
		t.Errorf("Expected all modifiers 0, got atr=%f ema=%f trend=%f overall=%f",
			tc.ATRModifier, tc.EMAModifier, tc.TrendModifier, tc.OverallModifier)
	}
}

func hasReason(tc TradingContext, code string) bool {
	for _, r := range tc.BlockedBy {
		if r == code {
			return true
		}
	}
	return false
}

func TestContextInsufficientData(t *testing.T) {
	ca := NewContextAnalyzer(testContextConfig(ModeWeightBased), &mockProvider{candles: flatCandles(10, 100, 1)}, nil)

	tc := ca.Analyze(context.Background())
	if tc.IsValidContext {
		t.Error("Expected invalid context")
	}
	if len(tc.BlockedBy) != 1 || tc.BlockedBy[0] != BlockInsufficientData {
		t.Errorf("Expected [INSUFFICIENT_DATA], got %v", tc.BlockedBy)
	}
	assertZeroModifiers(t, tc)
}

func TestContextSeriesShorterThanIndicatorPeriods(t *testing.T) {
	rising := make([]market.Candle, 30)
	price := 100.0
	for i := range rising {
		price *= 1.02
		rising[i] = market.Candle{
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
			Open:      price / 1.02,
			High:      price * 1.005,
			Low:       price / 1.025,
			Close:     price,
			Volume:    1000,
		}
	}

	tests := []struct {
		name   string
		mutate func(*ContextConfig)
	}{
		{"ema period", func(c *ContextConfig) { c.MinCandles, c.CandleLimit, c.EMAPeriod = 30, 30, 50 }},
		{"atr period", func(c *ContextConfig) { c.MinCandles, c.CandleLimit, c.EMAPeriod, c.ATRPeriod = 30, 30, 20, 30 }},
	}

	for _, mode := range []FilterMode{ModeHardBlock, ModeWeightBased} {
		for _, tt := range tests {
			t.Run(string(mode)+"/"+tt.name, func(t *testing.T) {
				cfg := testContextConfig(mode)
				tt.mutate(&cfg)
				ca := NewContextAnalyzer(cfg, &mockProvider{candles: rising}, nil)

				for _, tc := range []TradingContext{ca.Analyze(context.Background()), ca.Evaluate(rising)} {
					if tc.IsValidContext {
						t.Error("Expected invalid context")
					}
					if len(tc.BlockedBy) != 1 || tc.BlockedBy[0] != BlockInsufficientData {
						t.Errorf("Expected [INSUFFICIENT_DATA], got %v", tc.BlockedBy)
					}
					assertZeroModifiers(t, tc)
				}
			})
		}
	}
}

func TestRequiredCandles(t *testing.T) {
	cfg := testContextConfig(ModeHardBlock)
	if got := cfg.RequiredCandles(); got != 60 {
		t.Errorf("Expected 60, got %d", got)
	}
	cfg.MinCandles = 10
	if got := cfg.RequiredCandles(); got != 50 {
		t.Errorf("Expected 50, got %d", got)
	}
	cfg.EMAPeriod = 5
	if got := cfg.RequiredCandles(); got != 15 {
		t.Errorf("Expected 15, got %d", got)
	}
}

func TestContextFetchErrorFailsClosed(t *testing.T) {
	ca := NewContextAnalyzer(testContextConfig(ModeHardBlock), &mockProvider{err: errors.New("timeout")}, nil)

	tc := ca.Analyze(context.Background())
	if tc.IsValidContext {
		t.Error("Expected invalid context on fetch error")
	}
	if !hasReason(tc, BlockDataUnavailable) {
		t.Errorf("Expected DATA_UNAVAILABLE, got %v", tc.BlockedBy)
	}
	assertZeroModifiers(t, tc)
}

func TestHardBlockValidWithNeutralWarning(t *testing.T) {
	ca := NewContextAnalyzer(testContextConfig(ModeHardBlock), &mockProvider{candles: flatCandles(100, 100, 1)}, nil)

	tc := ca.Analyze(context.Background())
	if !tc.IsValidContext {
		t.Fatalf("Expected valid context, blocked by %v", tc.BlockedBy)
	}
	if !approx(tc.ATRPercent, 1.0) {
		t.Errorf("Expected ATR 1%%, got %f", tc.ATRPercent)
	}
	if tc.Trend != market.Neutral {
		t.Errorf("Expected neutral trend on flat data, got %s", tc.Trend)
	}
	if len(tc.Warnings) == 0 {
		t.Error("Expected neutral trend warning")
	}
	if tc.OverallModifier != 1 {
		t.Errorf("Expected overall 1, got %f", tc.OverallModifier)
	}
	assertProduct(t, tc)
}

func TestHardBlockATRTooLow(t *testing.T) {
	ca := NewContextAnalyzer(testContextConfig(ModeHardBlock), &mockProvider{candles: flatCandles(100, 100, 0.1)}, nil)

	tc := ca.Analyze(context.Background())
	if tc.IsValidContext {
		t.Fatal("Expected blocked context")
	}
	if !hasReason(tc, BlockATRTooLow) {
		t.Errorf("Expected ATR_TOO_LOW, got %v", tc.BlockedBy)
	}
	assertZeroModifiers(t, tc)
}

func TestHardBlockATRTooHigh(t *testing.T) {
	ca := NewContextAnalyzer(testContextConfig(ModeHardBlock), &mockProvider{candles: flatCandles(100, 100, 8)}, nil)

	tc := ca.Analyze(context.Background())
	if !hasReason(tc, BlockATRTooHigh) {
		t.Errorf("Expected ATR_TOO_HIGH, got %v", tc.BlockedBy)
	}
	assertZeroModifiers(t, tc)
}

func TestHardBlockPriceTooFar(t *testing.T) {
	candles := flatCandles(100, 100, 1)
	last := &candles[len(candles)-1]
	last.Open, last.High, last.Low, last.Close = 110, 110.5, 109.5, 110

	ca := NewContextAnalyzer(testContextConfig(ModeHardBlock), &mockProvider{candles: candles}, nil)
	tc := ca.Analyze(context.Background())
	if !hasReason(tc, BlockPriceTooFar) {
		t.Errorf("Expected PRICE_TOO_FAR, got %v (ema distance %f)", tc.BlockedBy, tc.EMADistance)
	}
	assertZeroModifiers(t, tc)
}

func TestATRCheckDisabled(t *testing.T) {
	cfg := testContextConfig(ModeHardBlock)
	cfg.DisableATRCheck = true
	ca := NewContextAnalyzer(cfg, &mockProvider{candles: flatCandles(100, 100, 0.1)}, nil)

	tc := ca.Analyze(context.Background())
	if !tc.IsValidContext {
		t.Errorf("Expected valid context with ATR check off, blocked by %v", tc.BlockedBy)
	}
}

func TestWeightBasedLowATR(t *testing.T) {
	ca := NewContextAnalyzer(testContextConfig(ModeWeightBased), &mockProvider{candles: flatCandles(100, 100, 0.1)}, nil)

	tc := ca.Analyze(context.Background())
	if !tc.IsValidContext {
		t.Fatal("Weight-based context should stay valid")
	}
	if !approx(tc.ATRModifier, ATRModifierFloor) {
		t.Errorf("Expected ATR modifier floored at 0.5, got %f", tc.ATRModifier)
	}
	if tc.TrendModifier != NeutralTrendModifier {
		t.Errorf("Expected neutral trend penalty 0.8, got %f", tc.TrendModifier)
	}
	if !approx(tc.OverallModifier, 0.4) {
		t.Errorf("Expected overall 0.4, got %f", tc.OverallModifier)
	}
	assertProduct(t, tc)
}

func TestWeightBasedHighATRLinear(t *testing.T) {
	// ATR 6% against a 5% ceiling: 1 - 0.2 = 0.8
	ca := NewContextAnalyzer(testContextConfig(ModeWeightBased), &mockProvider{candles: flatCandles(100, 100, 6)}, nil)

	tc := ca.Analyze(context.Background())
	if !approx(tc.ATRModifier, 0.8) {
		t.Errorf("Expected ATR modifier 0.8, got %f", tc.ATRModifier)
	}
	assertProduct(t, tc)
}

func TestWeightBasedEMAFloor(t *testing.T) {
	candles := flatCandles(100, 100, 1)
	last := &candles[len(candles)-1]
	last.Open, last.High, last.Low, last.Close = 110, 110.5, 109.5, 110

	ca := NewContextAnalyzer(testContextConfig(ModeWeightBased), &mockProvider{candles: candles}, nil)
	tc := ca.Analyze(context.Background())
	if !tc.IsValidContext {
		t.Fatal("Weight-based context should stay valid")
	}
	if !approx(tc.EMAModifier, EMAModifierFloor) {
		t.Errorf("Expected EMA modifier floored at 0.3, got %f", tc.EMAModifier)
	}
	assertProduct(t, tc)
}
