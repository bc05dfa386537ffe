package indicators

import (
	"binance-decision-core/internal/market"

	talib "github.com/markcheno/go-talib"
)

// ============================================================================
// SERIES
// ============================================================================

// RSI returns the RSI series aligned with candles. Entries before the warm-up
// period are zero. Returns nil when there is not enough data.
func RSI(candles []market.Candle, period int) []float64 {
	if period <= 0 || len(candles) <= period {
		return nil
	}
	return talib.Rsi(market.Closes(candles), period)
}

// EMA returns the EMA series of closes aligned with candles
func EMA(candles []market.Candle, period int) []float64 {
	if period <= 0 || len(candles) < period {
		return nil
	}
	return talib.Ema(market.Closes(candles), period)
}

// ATR returns the Average True Range series aligned with candles
func ATR(candles []market.Candle, period int) []float64 {
	if period <= 0 || len(candles) <= period {
		return nil
	}
	return talib.Atr(market.Highs(candles), market.Lows(candles), market.Closes(candles), period)
}

// VolumeSMA returns the simple moving average of volume
func VolumeSMA(candles []market.Candle, period int) []float64 {
	if period <= 0 || len(candles) < period {
		return nil
	}
	return talib.Sma(market.Volumes(candles), period)
}

// Last returns the final value of a series, or 0 for an empty one
func Last(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// ============================================================================
// SNAPSHOT
// ============================================================================

// Snapshot holds the latest indicator readings for one timeframe
type Snapshot struct {
	RSI       float64 `json:"rsi"`
	EMAFast   float64 `json:"ema_fast"`
	EMASlow   float64 `json:"ema_slow"`
	ATR       float64 `json:"atr"`
	VolumeAvg float64 `json:"volume_avg"`
}

// Periods configures Snapshot computation
type Periods struct {
	RSI     int `json:"rsi" yaml:"rsi" default:"14"`
	EMAFast int `json:"ema_fast" yaml:"ema_fast" default:"20"`
	EMASlow int `json:"ema_slow" yaml:"ema_slow" default:"50"`
	ATR     int `json:"atr" yaml:"atr" default:"14"`
	Volume  int `json:"volume" yaml:"volume" default:"20"`
}

// Compute builds a Snapshot and the RSI series used for divergence lookups
func Compute(candles []market.Candle, p Periods) (Snapshot, []float64) {
	rsi := RSI(candles, p.RSI)
	snap := Snapshot{
		RSI:       Last(rsi),
		EMAFast:   Last(EMA(candles, p.EMAFast)),
		EMASlow:   Last(EMA(candles, p.EMASlow)),
		ATR:       Last(ATR(candles, p.ATR)),
		VolumeAvg: Last(VolumeSMA(candles, p.Volume)),
	}
	if rsi == nil {
		snap.RSI = 50 // neutral when warming up
	}
	return snap, rsi
}

// RSIByTimestamp indexes an RSI series by candle open time in Unix milliseconds,
// skipping warm-up entries.
func RSIByTimestamp(candles []market.Candle, rsi []float64, period int) map[int64]float64 {
	out := make(map[int64]float64, len(rsi))
	for i := period; i < len(rsi) && i < len(candles); i++ {
		out[candles[i].Timestamp.UnixMilli()] = rsi[i]
	}
	return out
}
