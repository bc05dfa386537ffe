package backtest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"binance-decision-core/internal/binance"
	"binance-decision-core/internal/market"
)

// LoadCandles reads a candle file. ".csv" files hold
// timestamp,open,high,low,close,volume rows (unix ms or RFC3339, header
// optional). JSON files hold either a list of candle objects or a raw
// exchange kline dump. The result is sorted oldest first with duplicates dropped.
func LoadCandles(path string) ([]market.Candle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read candles: %w", err)
	}

	var candles []market.Candle
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		candles, err = ParseCSV(bytes.NewReader(data))
	} else {
		candles, err = ParseJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return normalizeSeries(candles), nil
}

// ParseJSON accepts candle objects or exchange kline arrays
func ParseJSON(data []byte) ([]market.Candle, error) {
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("[[")) {
		klines, err := binance.ParseKlines(trimmed)
		if err != nil {
			return nil, err
		}
		out := make([]market.Candle, len(klines))
		for i, k := range klines {
			out[i] = k.ToCandle()
		}
		return out, nil
	}

	var candles []market.Candle
	if err := json.Unmarshal(trimmed, &candles); err != nil {
		return nil, fmt.Errorf("parse candles: %w", err)
	}
	return candles, nil
}

// ParseCSV reads timestamp,open,high,low,close,volume rows
func ParseCSV(r io.Reader) ([]market.Candle, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	var out []market.Candle
	line := 0
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: %w", err)
		}
		line++
		if len(rec) < 6 {
			return nil, fmt.Errorf("csv line %d: want 6 fields, got %d", line, len(rec))
		}

		ts, err := parseTimestamp(rec[0])
		if err != nil {
			if line == 1 {
				continue // header
			}
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}

		var vals [5]float64
		for i := range vals {
			vals[i], err = strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("csv line %d field %d: %w", line, i+2, err)
			}
		}
		out = append(out, market.Candle{
			Timestamp: ts,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}
	return out, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}

func normalizeSeries(candles []market.Candle) []market.Candle {
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Timestamp.Before(candles[j].Timestamp) })
	out := candles[:0]
	for i, c := range candles {
		if i > 0 && c.Timestamp.Equal(out[len(out)-1].Timestamp) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// InferInterval returns the smallest gap between consecutive candles
func InferInterval(candles []market.Candle) (time.Duration, error) {
	if len(candles) < 2 {
		return 0, fmt.Errorf("need at least 2 candles to infer the interval")
	}
	var best time.Duration
	for i := 1; i < len(candles); i++ {
		gap := candles[i].Timestamp.Sub(candles[i-1].Timestamp)
		if gap > 0 && (best == 0 || gap < best) {
			best = gap
		}
	}
	if best == 0 {
		return 0, fmt.Errorf("candles share one timestamp")
	}
	return best, nil
}

// WriteCSV writes candles in the format ParseCSV reads, with a header row
func WriteCSV(w io.Writer, candles []market.Candle) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	for _, c := range candles {
		rec := []string{
			strconv.FormatInt(c.Timestamp.UnixMilli(), 10),
			strconv.FormatFloat(c.Open, 'f', -1, 64),
			strconv.FormatFloat(c.High, 'f', -1, 64),
			strconv.FormatFloat(c.Low, 'f', -1, 64),
			strconv.FormatFloat(c.Close, 'f', -1, 64),
			strconv.FormatFloat(c.Volume, 'f', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
