package analysis

import (
	"math"
	"sync"
	"time"

	"binance-decision-core/internal/clock"
	"binance-decision-core/internal/market"
)

// StructureEventType distinguishes reversal breaks from continuation breaks
type StructureEventType string

const (
	EventCHoCH StructureEventType = "CHoCH" // change of character (reversal)
	EventBoS   StructureEventType = "BoS"   // break of structure (continuation)
)

// StructureEvent is one detected swing break
type StructureEvent struct {
	Type      StructureEventType `json:"type"`
	Direction market.TrendBias   `json:"direction"`
	Price     float64            `json:"price"`
	Level     float64            `json:"level"`
	Timestamp time.Time          `json:"timestamp"`
	Strength  float64            `json:"strength"`
}

// StructureResult is returned by every DetectCHoCHBoS call
type StructureResult struct {
	HasEvent           bool             `json:"has_event"`
	Event              *StructureEvent  `json:"event,omitempty"`
	CurrentTrend       market.TrendBias `json:"current_trend"`
	ConfidenceModifier float64          `json:"confidence_modifier"`
}

// Confidence multipliers applied to a trade direction
const (
	ModifierCHoCHAligned = 1.3
	ModifierCHoCHOpposed = 0.5
	ModifierBoSAligned   = 1.1
	ModifierNeutral      = 1.0
)

// StructureTracker keeps the long-lived trend bias for one symbol. It is safe
// for concurrent use, though the engine drives it from one tick at a time.
type StructureTracker struct {
	mu        sync.Mutex
	trend     market.TrendBias
	lastEvent *StructureEvent
	tolerance float64
	clock     clock.Clock
}

// NewStructureTracker creates a tracker starting in a NEUTRAL trend.
// tolerancePct is the equal-swing tolerance used to seed the trend (0.1 = 0.1%).
func NewStructureTracker(tolerancePct float64, clk clock.Clock) *StructureTracker {
	if tolerancePct <= 0 {
		tolerancePct = DefaultEqualTolerancePct
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &StructureTracker{
		trend:     market.Neutral,
		tolerance: tolerancePct,
		clock:     clk,
	}
}

// Trend returns the current trend bias
func (st *StructureTracker) Trend() market.TrendBias {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.trend
}

// LastEvent returns a copy of the most recent structure event, or nil
func (st *StructureTracker) LastEvent() *StructureEvent {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.lastEvent == nil {
		return nil
	}
	ev := *st.lastEvent
	return &ev
}

// Reset returns the tracker to NEUTRAL and forgets the last event
func (st *StructureTracker) Reset() {
	st.mu.Lock()
	st.trend = market.Neutral
	st.lastEvent = nil
	st.mu.Unlock()
}

// Restore loads a previously saved trend and last event
func (st *StructureTracker) Restore(trend market.TrendBias, last *StructureEvent) {
	st.mu.Lock()
	defer st.mu.Unlock()
	switch trend {
	case market.Bullish, market.Bearish:
		st.trend = trend
	default:
		st.trend = market.Neutral
	}
	if last != nil {
		ev := *last
		st.lastEvent = &ev
	} else {
		st.lastEvent = nil
	}
}

// DetectCHoCHBoS evaluates the latest price against recent swing highs and lows.
// A CHoCH flips the trend; a BoS is only checked when no CHoCH fired. While the
// trend is NEUTRAL it is first seeded from the swing pattern; the seed itself
// emits nothing, but the same call then checks the seeded trend for a break.
// An unclear pattern leaves the trend NEUTRAL and no break is checked.
// signalDirection may be empty (or HOLD) when no trade is being scored.
func (st *StructureTracker) DetectCHoCHBoS(highs, lows []market.SwingPoint, currentPrice float64, signalDirection market.Direction) StructureResult {
	st.mu.Lock()
	defer st.mu.Unlock()

	if len(highs) < 2 && len(lows) < 2 {
		return StructureResult{CurrentTrend: st.trend, ConfidenceModifier: ModifierNeutral}
	}

	if st.trend == market.Neutral {
		st.trend = GetTrendBias(IdentifyStructure(highs, lows, st.tolerance))
	}

	var event *StructureEvent

	// CHoCH against the previous (second-to-last) swing
	switch st.trend {
	case market.Bearish:
		if len(highs) >= 2 {
			level := highs[len(highs)-2].Price
			if currentPrice > level {
				event = st.newEvent(EventCHoCH, market.Bullish, currentPrice, level)
				st.trend = market.Bullish
			}
		}
	case market.Bullish:
		if len(lows) >= 2 {
			level := lows[len(lows)-2].Price
			if currentPrice < level {
				event = st.newEvent(EventCHoCH, market.Bearish, currentPrice, level)
				st.trend = market.Bearish
			}
		}
	}

	// BoS against the most recent swing
	if event == nil {
		switch st.trend {
		case market.Bullish:
			if len(highs) > 0 {
				level := highs[len(highs)-1].Price
				if currentPrice > level {
					event = st.newEvent(EventBoS, market.Bullish, currentPrice, level)
				}
			}
		case market.Bearish:
			if len(lows) > 0 {
				level := lows[len(lows)-1].Price
				if currentPrice < level {
					event = st.newEvent(EventBoS, market.Bearish, currentPrice, level)
				}
			}
		}
	}

	if event == nil {
		return StructureResult{CurrentTrend: st.trend, ConfidenceModifier: ModifierNeutral}
	}

	st.lastEvent = event
	ev := *event
	return StructureResult{
		HasEvent:           true,
		Event:              &ev,
		CurrentTrend:       st.trend,
		ConfidenceModifier: ConfidenceModifier(&ev, signalDirection),
	}
}

func (st *StructureTracker) newEvent(kind StructureEventType, dir market.TrendBias, price, level float64) *StructureEvent {
	return &StructureEvent{
		Type:      kind,
		Direction: dir,
		Price:     price,
		Level:     level,
		Timestamp: st.clock.Now(),
		Strength:  BreakStrength(price, level),
	}
}

// BreakStrength scores how far price cleared the broken level, capped at 1.0
func BreakStrength(price, level float64) float64 {
	if level <= 0 {
		return 0
	}
	return math.Min(math.Abs(price-level)/level*100, 1.0)
}

// ConfidenceModifier maps (event type, alignment with direction) to a multiplier.
// The only values ever returned are 1.3, 0.5, 1.1 and 1.0.
func ConfidenceModifier(event *StructureEvent, direction market.Direction) float64 {
	if event == nil || (direction != market.Long && direction != market.Short) {
		return ModifierNeutral
	}
	aligned := event.Direction.Aligns(direction)
	opposed := event.Direction.Opposes(direction)

	switch {
	case event.Type == EventCHoCH && aligned:
		return ModifierCHoCHAligned
	case event.Type == EventCHoCH && opposed:
		return ModifierCHoCHOpposed
	case event.Type == EventBoS && aligned:
		return ModifierBoSAligned
	default:
		return ModifierNeutral
	}
}

// ============================================================================
// READ-ONLY STRUCTURE HELPERS
// ============================================================================

// DefaultEqualTolerancePct treats two swings within 0.1% as equal
const DefaultEqualTolerancePct = 0.1

// SwingLabel classifies the latest swing against the previous one of its type
type SwingLabel string

const (
	HigherHigh SwingLabel = "HIGHER_HIGH"
	LowerHigh  SwingLabel = "LOWER_HIGH"
	EqualHigh  SwingLabel = "EQUAL_HIGH"
	HigherLow  SwingLabel = "HIGHER_LOW"
	LowerLow   SwingLabel = "LOWER_LOW"
	EqualLow   SwingLabel = "EQUAL_LOW"
	Unknown    SwingLabel = "UNKNOWN"
)

// MarketStructure labels the last two highs and the last two lows
type MarketStructure struct {
	Highs SwingLabel `json:"highs"`
	Lows  SwingLabel `json:"lows"`
}

// IdentifyStructure classifies the last two highs and lows. tolerancePct is a
// percentage of the older swing price.
func IdentifyStructure(highs, lows []market.SwingPoint, tolerancePct float64) MarketStructure {
	ms := MarketStructure{Highs: Unknown, Lows: Unknown}

	if len(highs) >= 2 {
		prev, last := highs[len(highs)-2].Price, highs[len(highs)-1].Price
		switch compareSwing(prev, last, tolerancePct) {
		case 1:
			ms.Highs = HigherHigh
		case -1:
			ms.Highs = LowerHigh
		default:
			ms.Highs = EqualHigh
		}
	}
	if len(lows) >= 2 {
		prev, last := lows[len(lows)-2].Price, lows[len(lows)-1].Price
		switch compareSwing(prev, last, tolerancePct) {
		case 1:
			ms.Lows = HigherLow
		case -1:
			ms.Lows = LowerLow
		default:
			ms.Lows = EqualLow
		}
	}
	return ms
}

func compareSwing(prev, last, tolerancePct float64) int {
	if prev > 0 && math.Abs(last-prev)/prev*100 <= tolerancePct {
		return 0
	}
	if last > prev {
		return 1
	}
	if last < prev {
		return -1
	}
	return 0
}

// GetTrendBias derives a bias from the swing labels: HH+HL is bullish, LH+LL is
// bearish, anything else (including equal swings) is neutral.
func GetTrendBias(ms MarketStructure) market.TrendBias {
	switch {
	case ms.Highs == HigherHigh && ms.Lows == HigherLow:
		return market.Bullish
	case ms.Highs == LowerHigh && ms.Lows == LowerLow:
		return market.Bearish
	default:
		return market.Neutral
	}
}
