package market

import (
	"context"
	"time"
)

// Candle is one closed OHLCV bar. Series are ordered oldest-first with unique timestamps.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// IsBullish reports whether the candle closed above its open
func (c Candle) IsBullish() bool { return c.Close > c.Open }

// IsBearish reports whether the candle closed below its open
func (c Candle) IsBearish() bool { return c.Close < c.Open }

// SwingType distinguishes swing highs from swing lows
type SwingType string

const (
	SwingHigh SwingType = "HIGH"
	SwingLow  SwingType = "LOW"
)

// SwingPoint is a local price extremum
type SwingPoint struct {
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	Type      SwingType `json:"type"`
}

// SplitSwings separates a mixed, time-ordered swing list into highs and lows
func SplitSwings(points []SwingPoint) (highs, lows []SwingPoint) {
	for _, p := range points {
		switch p.Type {
		case SwingHigh:
			highs = append(highs, p)
		case SwingLow:
			lows = append(lows, p)
		}
	}
	return highs, lows
}

// Direction is the side of a proposed trade
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
	Hold  Direction = "HOLD"
)

// Opposite returns the other trade side; HOLD stays HOLD
func (d Direction) Opposite() Direction {
	switch d {
	case Long:
		return Short
	case Short:
		return Long
	default:
		return Hold
	}
}

// TrendBias is the prevailing market structure direction
type TrendBias string

const (
	Bullish TrendBias = "BULLISH"
	Bearish TrendBias = "BEARISH"
	Neutral TrendBias = "NEUTRAL"
)

// Aligns reports whether a trade direction agrees with the bias
func (b TrendBias) Aligns(d Direction) bool {
	return (b == Bullish && d == Long) || (b == Bearish && d == Short)
}

// Opposes reports whether a trade direction fights the bias
func (b TrendBias) Opposes(d Direction) bool {
	return (b == Bullish && d == Short) || (b == Bearish && d == Long)
}

// BiasFor maps a trade direction to the bias it needs
func BiasFor(d Direction) TrendBias {
	switch d {
	case Long:
		return Bullish
	case Short:
		return Bearish
	default:
		return Neutral
	}
}

// OrderBookLevel is one price level of depth
type OrderBookLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// OrderBook is an optional depth snapshot. Bids are sorted best (highest) first,
// asks best (lowest) first.
type OrderBook struct {
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
	Timestamp time.Time        `json:"timestamp"`
}

// BidVolume sums bid quantity across levels
func (ob *OrderBook) BidVolume() float64 {
	total := 0.0
	for _, l := range ob.Bids {
		total += l.Quantity
	}
	return total
}

// AskVolume sums ask quantity across levels
func (ob *OrderBook) AskVolume() float64 {
	total := 0.0
	for _, l := range ob.Asks {
		total += l.Quantity
	}
	return total
}

// TimeframeRole names which series a caller wants without binding it to an interval
type TimeframeRole string

const (
	RolePrimary   TimeframeRole = "PRIMARY"   // entry timeframe
	RoleHigher    TimeframeRole = "HIGHER"    // context gate timeframe
	RoleReference TimeframeRole = "REFERENCE" // correlation reference (e.g. BTC) on the higher timeframe
)

// CandleProvider supplies candles and prices for one symbol
type CandleProvider interface {
	GetCandles(ctx context.Context, role TimeframeRole, limit int) ([]Candle, error)
	GetCurrentPrice(ctx context.Context) (float64, error)
}

// OrderBookProvider supplies depth snapshots for one symbol
type OrderBookProvider interface {
	GetOrderBook(ctx context.Context, depth int) (*OrderBook, error)
}

// Closes extracts close prices
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Highs extracts high prices
func Highs(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

// Lows extracts low prices
func Lows(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

// Volumes extracts volumes
func Volumes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}
