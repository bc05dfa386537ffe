package strategy

import (
	"math"
	"testing"
	"time"

	"binance-decision-core/internal/analysis"
	"binance-decision-core/internal/indicators"
	"binance-decision-core/internal/market"
)

var t0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func candle(i int, o, h, l, c, v float64) market.Candle {
	return market.Candle{Timestamp: t0.Add(time.Duration(i) * time.Hour), Open: o, High: h, Low: l, Close: c, Volume: v}
}

func TestTrendFollowingConsecutiveRun(t *testing.T) {
	cfg := DefaultConfig().TrendFollowing
	cfg.MinConsecutive = 2
	s := NewTrendFollowing(cfg)

	data := MarketData{
		CurrentPrice: 100.2,
		Candles:      []market.Candle{candle(0, 100, 100.5, 99.8, 100.2, 10)},
		Indicators:   indicators.Snapshot{EMAFast: 100, EMASlow: 95, RSI: 55},
		Structure:    analysis.StructureResult{CurrentTrend: market.Bullish},
	}

	if e := s.Evaluate(data); e.Valid {
		t.Fatal("Expected first qualifying tick to wait for confirmation")
	}
	e := s.Evaluate(data)
	if !e.Actionable() || e.Signal.Direction != market.Long {
		t.Fatalf("Expected LONG on second tick, got %+v", e)
	}
	if e.Signal.KeyLevel != 100 {
		t.Errorf("Expected key level at fast EMA, got %f", e.Signal.KeyLevel)
	}
	if math.Abs(e.Signal.Confidence-0.6) > 1e-9 {
		t.Errorf("Expected base confidence 0.6, got %f", e.Signal.Confidence)
	}
	e = s.Evaluate(data)
	if math.Abs(e.Signal.Confidence-0.65) > 1e-9 {
		t.Errorf("Expected run bonus to raise confidence to 0.65, got %f", e.Signal.Confidence)
	}

	// run resets once conditions fail
	data.Structure.CurrentTrend = market.Neutral
	s.Evaluate(data)
	if s.Consecutive() != 0 {
		t.Errorf("Expected run reset, got %d", s.Consecutive())
	}
}

func TestTrendFollowingShort(t *testing.T) {
	s := NewTrendFollowing(DefaultConfig().TrendFollowing)
	e := s.Evaluate(MarketData{
		CurrentPrice: 99.8,
		Indicators:   indicators.Snapshot{EMAFast: 100, EMASlow: 105, RSI: 45},
		Structure:    analysis.StructureResult{CurrentTrend: market.Bearish},
	})
	if !e.Actionable() || e.Signal.Direction != market.Short {
		t.Errorf("Expected SHORT, got %+v", e)
	}
}

func TestLevelBasedBounce(t *testing.T) {
	s := NewLevelBased(DefaultConfig().LevelBased)
	e := s.Evaluate(MarketData{
		CurrentPrice: 100.2,
		Candles:      []market.Candle{candle(0, 99.9, 100.4, 99.8, 100.2, 10)},
		Indicators:   indicators.Snapshot{RSI: 45},
		Support:      []float64{100, 90},
		Resistance:   []float64{110},
	})
	if !e.Actionable() || e.Signal.Direction != market.Long {
		t.Fatalf("Expected LONG bounce, got %+v", e)
	}
	if e.Signal.KeyLevel != 100 {
		t.Errorf("Expected key level 100, got %f", e.Signal.KeyLevel)
	}
}

func TestLevelBasedAwayFromLevels(t *testing.T) {
	s := NewLevelBased(DefaultConfig().LevelBased)
	e := s.Evaluate(MarketData{
		CurrentPrice: 105,
		Candles:      []market.Candle{candle(0, 104, 105.5, 103.8, 105, 10)},
		Support:      []float64{100},
		Resistance:   []float64{110},
	})
	if e.Valid {
		t.Errorf("Expected invalid away from levels, got %+v", e)
	}
}

func TestCounterTrendNeedsExtreme(t *testing.T) {
	s := NewCounterTrend(DefaultConfig().CounterTrend)

	div := analysis.Divergence{
		Type:        analysis.DivergenceBullish,
		Strength:    0.5,
		PricePoints: [2]float64{100, 97},
		RSIPoints:   [2]float64{25, 32},
	}
	e := s.Evaluate(MarketData{Divergence: div})
	if !e.Actionable() || e.Signal.Direction != market.Long {
		t.Fatalf("Expected LONG, got %+v", e)
	}
	if math.Abs(e.Signal.Confidence-0.7) > 1e-9 {
		t.Errorf("Expected confidence 0.7, got %f", e.Signal.Confidence)
	}
	if e.Signal.KeyLevel != 97 {
		t.Errorf("Expected key level at newer swing low, got %f", e.Signal.KeyLevel)
	}

	div.RSIPoints = [2]float64{45, 52}
	if e := s.Evaluate(MarketData{Divergence: div}); e.Valid {
		t.Error("Expected invalid without oversold RSI")
	}

	if e := s.Evaluate(MarketData{Divergence: analysis.Divergence{Type: analysis.DivergenceNone}}); e.Valid {
		t.Error("Expected invalid without divergence")
	}
}

func TestPriceActionSweep(t *testing.T) {
	s := NewPriceAction(DefaultConfig().PriceAction)
	e := s.Evaluate(MarketData{
		Candles:    []market.Candle{candle(0, 100.5, 101, 99, 100.8, 150)},
		Indicators: indicators.Snapshot{VolumeAvg: 100},
		SwingLows:  []market.SwingPoint{{Price: 100, Type: market.SwingLow}},
	})
	if !e.Actionable() || e.Signal.Direction != market.Long {
		t.Fatalf("Expected LONG sweep, got %+v", e)
	}
	if e.Signal.KeyLevel != 100 {
		t.Errorf("Expected key level 100, got %f", e.Signal.KeyLevel)
	}
}

func TestPriceActionRequiresVolume(t *testing.T) {
	s := NewPriceAction(DefaultConfig().PriceAction)
	e := s.Evaluate(MarketData{
		Candles:    []market.Candle{candle(0, 100.5, 101, 99, 100.8, 50)},
		Indicators: indicators.Snapshot{VolumeAvg: 100},
		SwingLows:  []market.SwingPoint{{Price: 100, Type: market.SwingLow}},
	})
	if e.Valid {
		t.Errorf("Expected invalid on thin volume, got %+v", e)
	}
}

func TestWhaleHunter(t *testing.T) {
	s := NewWhaleHunter(DefaultConfig().WhaleHunter)

	e := s.Evaluate(MarketData{})
	if e.Valid || e.Reason != "order book unavailable" {
		t.Errorf("Expected invalid without book, got %+v", e)
	}

	book := &market.OrderBook{
		Bids: []market.OrderBookLevel{{Price: 99.9, Quantity: 20}, {Price: 99.5, Quantity: 50}},
		Asks: []market.OrderBookLevel{{Price: 100.1, Quantity: 30}},
	}
	e = s.Evaluate(MarketData{OrderBook: book})
	if !e.Actionable() || e.Signal.Direction != market.Long {
		t.Fatalf("Expected LONG on bid imbalance, got %+v", e)
	}
	if e.Signal.KeyLevel != 99.5 {
		t.Errorf("Expected key level at largest bid wall, got %f", e.Signal.KeyLevel)
	}
	want := 0.5 + (0.7-0.65)/0.35*0.4
	if math.Abs(e.Signal.Confidence-want) > 1e-9 {
		t.Errorf("Expected confidence %f, got %f", want, e.Signal.Confidence)
	}

	balanced := &market.OrderBook{
		Bids: []market.OrderBookLevel{{Price: 99.9, Quantity: 50}},
		Asks: []market.OrderBookLevel{{Price: 100.1, Quantity: 50}},
	}
	if e := s.Evaluate(MarketData{OrderBook: balanced}); e.Valid {
		t.Error("Expected invalid on balanced book")
	}
}

func TestBreakoutRetest(t *testing.T) {
	cfg := DefaultConfig().BreakoutRetest
	cfg.LookbackCandles = 5
	s := NewBreakoutRetest(cfg)

	data := MarketData{
		Candles: []market.Candle{
			candle(0, 98.8, 99.3, 98.7, 99, 100),
			candle(1, 99, 99.8, 98.9, 99.5, 100),
			candle(2, 99.5, 101.2, 99.4, 101, 300),
			candle(3, 101, 101.8, 100.9, 101.5, 120),
			candle(4, 101.5, 101.6, 101, 101.2, 90),
			candle(5, 101, 101.3, 100.1, 100.8, 110),
		},
		Indicators: indicators.Snapshot{VolumeAvg: 100},
		SwingHighs: []market.SwingPoint{{Price: 100, Type: market.SwingHigh}},
	}

	e := s.Evaluate(data)
	if !e.Actionable() || e.Signal.Direction != market.Long {
		t.Fatalf("Expected LONG retest, got %+v", e)
	}
	if e.Signal.KeyLevel != 100 {
		t.Errorf("Expected key level 100, got %f", e.Signal.KeyLevel)
	}

	// no volume on the breakout candle
	data.Candles[2].Volume = 100
	if e := s.Evaluate(data); e.Valid {
		t.Error("Expected invalid without breakout volume")
	}
}

func TestConfidenceAdjustments(t *testing.T) {
	data := MarketData{
		Context: analysis.TradingContext{IsValidContext: true, OverallModifier: 0.5},
	}
	if got := adjustConfidence(0.8, data, market.Long); math.Abs(got-0.4) > 1e-9 {
		t.Errorf("Expected context modifier applied, got %f", got)
	}

	data.Context.OverallModifier = 1
	data.Structure = analysis.StructureResult{
		HasEvent: true,
		Event:    &analysis.StructureEvent{Type: analysis.EventCHoCH, Direction: market.Bullish},
	}
	if got := adjustConfidence(0.9, data, market.Long); got != 1 {
		t.Errorf("Expected aligned CHoCH clamped to 1, got %f", got)
	}
	if got := adjustConfidence(0.8, data, market.Short); math.Abs(got-0.4) > 1e-9 {
		t.Errorf("Expected opposed CHoCH to halve confidence, got %f", got)
	}
}
