package binance

import (
	"context"
	"errors"
	"testing"
	"time"

	"binance-decision-core/internal/clock"
	"binance-decision-core/internal/market"
)

func fixedTime() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

type countingClient struct {
	*MockClient
	klineCalls int
	fail       bool
}

func (c *countingClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	c.klineCalls++
	if c.fail {
		return nil, errors.New("boom")
	}
	return c.MockClient.GetKlines(ctx, symbol, interval, limit)
}

func testFeedConfig() FeedConfig {
	return FeedConfig{PrimaryInterval: "15m", HigherInterval: "4h", ReferenceSymbol: "BTCUSDT"}
}

func TestFeedDropsFormingCandle(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 2, 10, 7, 0, 0, time.UTC))
	feed := NewSymbolFeed(NewMockClient(clk), "ETHUSDT", testFeedConfig(), nil, clk)

	candles, err := feed.GetCandles(context.Background(), market.RolePrimary, 10)
	if err != nil {
		t.Fatalf("GetCandles failed: %v", err)
	}
	if len(candles) != 10 {
		t.Fatalf("Expected 10 candles, got %d", len(candles))
	}
	last := candles[len(candles)-1]
	want := time.Date(2026, 3, 2, 9, 45, 0, 0, time.UTC)
	if !last.Timestamp.Equal(want) {
		t.Errorf("Expected last closed candle at %v, got %v", want, last.Timestamp)
	}
	for i := 1; i < len(candles); i++ {
		if !candles[i].Timestamp.After(candles[i-1].Timestamp) {
			t.Fatalf("Expected ascending timestamps at %d", i)
		}
	}
}

func TestFeedReferenceRole(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 2, 10, 7, 0, 0, time.UTC))
	mock := NewMockClient(clk)
	feed := NewSymbolFeed(mock, "ETHUSDT", testFeedConfig(), nil, clk)

	ref, err := feed.GetCandles(context.Background(), market.RoleReference, 5)
	if err != nil {
		t.Fatalf("GetCandles failed: %v", err)
	}
	if ref[len(ref)-1].Close < 50000 {
		t.Errorf("Expected BTC-scale prices for reference role, got %f", ref[len(ref)-1].Close)
	}

	cfg := testFeedConfig()
	cfg.ReferenceSymbol = ""
	noRef := NewSymbolFeed(mock, "ETHUSDT", cfg, nil, clk)
	if _, err := noRef.GetCandles(context.Background(), market.RoleReference, 5); err == nil {
		t.Error("Expected error without reference symbol")
	}
}

func TestFeedCacheUntilNextClose(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 2, 10, 7, 0, 0, time.UTC))
	client := &countingClient{MockClient: NewMockClient(clk)}
	feed := NewSymbolFeed(client, "ETHUSDT", testFeedConfig(), NewCandleCache(), clk)
	ctx := context.Background()

	feed.GetCandles(ctx, market.RolePrimary, 5)
	clk.Advance(5 * time.Minute)
	feed.GetCandles(ctx, market.RolePrimary, 5)
	if client.klineCalls != 1 {
		t.Errorf("Expected cached second call, got %d fetches", client.klineCalls)
	}

	clk.Advance(10 * time.Minute)
	candles, _ := feed.GetCandles(ctx, market.RolePrimary, 5)
	if client.klineCalls != 2 {
		t.Errorf("Expected refetch after bar close, got %d fetches", client.klineCalls)
	}
	want := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	if !candles[len(candles)-1].Timestamp.Equal(want) {
		t.Errorf("Expected new closed candle %v, got %v", want, candles[len(candles)-1].Timestamp)
	}
}

func TestFeedPropagatesErrors(t *testing.T) {
	clk := clock.NewManual(fixedTime())
	client := &countingClient{MockClient: NewMockClient(clk), fail: true}
	feed := NewSymbolFeed(client, "ETHUSDT", testFeedConfig(), NewCandleCache(), clk)
	if _, err := feed.GetCandles(context.Background(), market.RoleHigher, 5); err == nil {
		t.Error("Expected fetch error to propagate")
	}
}

func TestMockClientDeterministic(t *testing.T) {
	clk := clock.NewManual(fixedTime())
	a, _ := NewMockClient(clk).GetKlines(context.Background(), "SOLUSDT", "1h", 20)
	b, _ := NewMockClient(clk).GetKlines(context.Background(), "SOLUSDT", "1h", 20)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Expected identical klines at %d", i)
		}
		if a[i].High < a[i].Low {
			t.Fatalf("Expected high >= low at %d", i)
		}
	}
}
