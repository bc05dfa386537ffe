package binance

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"binance-decision-core/internal/clock"
)

// MockClient provides simulated market data for development/testing.
// Candles are a deterministic function of symbol and open time, so repeated
// polls agree on history.
type MockClient struct {
	prices map[string]float64
	clock  clock.Clock
	mu     sync.RWMutex
}

// NewMockClient creates a new mock client
func NewMockClient(clk clock.Clock) *MockClient {
	if clk == nil {
		clk = clock.System{}
	}
	return &MockClient{
		clock: clk,
		prices: map[string]float64{
			"BTCUSDT":  104500.00,
			"ETHUSDT":  3900.00,
			"BNBUSDT":  710.00,
			"SOLUSDT":  220.00,
			"XRPUSDT":  2.35,
			"DOGEUSDT": 0.40,
			"LINKUSDT": 28.00,
		},
	}
}

// SetBasePrice overrides the anchor price for a symbol
func (mc *MockClient) SetBasePrice(symbol string, price float64) {
	mc.mu.Lock()
	mc.prices[symbol] = price
	mc.mu.Unlock()
}

func (mc *MockClient) basePrice(symbol string) float64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	if p, ok := mc.prices[symbol]; ok {
		return p
	}
	return 100.0
}

// IntervalDuration maps a kline interval to its length
func IntervalDuration(interval string) (time.Duration, error) {
	switch interval {
	case "1m":
		return time.Minute, nil
	case "3m":
		return 3 * time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "30m":
		return 30 * time.Minute, nil
	case "1h":
		return time.Hour, nil
	case "2h":
		return 2 * time.Hour, nil
	case "4h":
		return 4 * time.Hour, nil
	case "1d":
		return 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported interval %q", interval)
	}
}

// priceAt is a slow wave plus seeded noise around the base price
func (mc *MockClient) priceAt(symbol string, step int64) float64 {
	base := mc.basePrice(symbol)
	h := fnv.New64a()
	h.Write([]byte(symbol))
	h.Write([]byte(strconv.FormatInt(step, 10)))
	noise := rand.New(rand.NewSource(int64(h.Sum64()))).Float64() - 0.5

	wave := 0.03*math.Sin(float64(step)/18) + 0.015*math.Sin(float64(step)/5)
	return base * (1 + wave + noise*0.004)
}

// GetKlines returns simulated candlestick data ending at the current bar
func (mc *MockClient) GetKlines(_ context.Context, symbol, interval string, limit int) ([]Kline, error) {
	d, err := IntervalDuration(interval)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	now := mc.clock.Now()
	lastOpen := now.Truncate(d)
	klines := make([]Kline, limit)
	base := mc.basePrice(symbol)

	for i := 0; i < limit; i++ {
		openTime := lastOpen.Add(-time.Duration(limit-1-i) * d)
		step := openTime.Unix() / int64(d.Seconds())

		open := mc.priceAt(symbol, step-1)
		closePrice := mc.priceAt(symbol, step)
		wick := math.Abs(closePrice-open)*0.5 + base*0.001

		klines[i] = Kline{
			OpenTime:  openTime.UnixMilli(),
			Open:      open,
			High:      math.Max(open, closePrice) + wick,
			Low:       math.Min(open, closePrice) - wick,
			Close:     closePrice,
			Volume:    1000 + math.Abs(closePrice-open)/base*1e5,
			CloseTime: openTime.Add(d).UnixMilli() - 1,
		}
	}

	return klines, nil
}

// GetCurrentPrice returns the close of the forming bar
func (mc *MockClient) GetCurrentPrice(_ context.Context, symbol string) (float64, error) {
	step := mc.clock.Now().Unix() / 60
	return mc.priceAt(symbol, step), nil
}

// GetOrderBookDepth returns a symmetric book around the current price
func (mc *MockClient) GetOrderBookDepth(ctx context.Context, symbol string, limit int) (*OrderBookDepth, error) {
	price, _ := mc.GetCurrentPrice(ctx, symbol)
	book := &OrderBookDepth{LastUpdateId: mc.clock.Now().UnixMilli()}
	for i := 1; i <= limit; i++ {
		offset := price * 0.0005 * float64(i)
		qty := strconv.FormatFloat(1+float64(i%5), 'f', 4, 64)
		book.Bids = append(book.Bids, []string{strconv.FormatFloat(price-offset, 'f', 8, 64), qty})
		book.Asks = append(book.Asks, []string{strconv.FormatFloat(price+offset, 'f', 8, 64), qty})
	}
	return book, nil
}
