package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientGetKlines(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			t.Errorf("Expected /api/v3/klines, got %s", r.URL.Path)
		}
		if r.URL.Query().Get("symbol") != "ETHUSDT" {
			t.Errorf("Expected symbol ETHUSDT, got %s", r.URL.Query().Get("symbol"))
		}
		w.Write([]byte(`[[1700000000000,"100.0","110.0","95.0","105.0","12.5",1700000899999,"0",1,"0","0","0"]]`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	klines, err := client.GetKlines(context.Background(), "ETHUSDT", "15m", 1)
	if err != nil {
		t.Fatalf("GetKlines failed: %v", err)
	}
	if len(klines) != 1 {
		t.Fatalf("Expected 1 kline, got %d", len(klines))
	}
	k := klines[0]
	if k.Open != 100 || k.High != 110 || k.Low != 95 || k.Close != 105 || k.Volume != 12.5 {
		t.Errorf("Unexpected kline values: %+v", k)
	}
	if k.CloseTime != 1700000899999 {
		t.Errorf("Expected close time 1700000899999, got %d", k.CloseTime)
	}
	c := k.ToCandle()
	if c.Timestamp.UnixMilli() != 1700000000000 {
		t.Errorf("Expected candle stamped with open time, got %d", c.Timestamp.UnixMilli())
	}
}

func TestClientAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	if _, err := client.GetCurrentPrice(context.Background(), "NOPE"); err == nil {
		t.Error("Expected error for non-200 response")
	}
}

func TestClientOrderBook(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"lastUpdateId":1,"bids":[["99.5","2.0"],["99.0","bad"]],"asks":[["100.5","3.0"]]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	depth, err := client.GetOrderBookDepth(context.Background(), "ETHUSDT", 5)
	if err != nil {
		t.Fatalf("GetOrderBookDepth failed: %v", err)
	}
	book := depth.ToOrderBook(fixedTime())
	if len(book.Bids) != 1 {
		t.Errorf("Expected malformed level to be skipped, got %d bids", len(book.Bids))
	}
	if book.AskVolume() != 3 {
		t.Errorf("Expected ask volume 3, got %f", book.AskVolume())
	}
}
