package binance

import "context"

// MarketDataClient defines the read-only market data operations the feed needs
type MarketDataClient interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	GetOrderBookDepth(ctx context.Context, symbol string, limit int) (*OrderBookDepth, error)
}

// Ensure both Client and MockClient implement MarketDataClient
var _ MarketDataClient = (*Client)(nil)
var _ MarketDataClient = (*MockClient)(nil)
