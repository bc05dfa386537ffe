package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"binance-decision-core/internal/market"
)

// DefaultBaseURL is the public spot REST endpoint
const DefaultBaseURL = "https://api.binance.com"

// Client is a read-only market data client for the spot REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Kline represents a candlestick
type Kline struct {
	OpenTime  int64   `json:"openTime"`
	Open      float64 `json:"open,string"`
	High      float64 `json:"high,string"`
	Low       float64 `json:"low,string"`
	Close     float64 `json:"close,string"`
	Volume    float64 `json:"volume,string"`
	CloseTime int64   `json:"closeTime"`
}

// ToCandle converts a kline into a candle stamped with its open time
func (k Kline) ToCandle() market.Candle {
	return market.Candle{
		Timestamp: time.UnixMilli(k.OpenTime).UTC(),
		Open:      k.Open,
		High:      k.High,
		Low:       k.Low,
		Close:     k.Close,
		Volume:    k.Volume,
	}
}

// IsClosed reports whether the kline finished before now
func (k Kline) IsClosed(now time.Time) bool {
	return k.CloseTime < now.UnixMilli()
}

// OrderBookDepth is the raw depth response, [price, qty] string pairs
type OrderBookDepth struct {
	LastUpdateId int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// ToOrderBook parses the string levels
func (d *OrderBookDepth) ToOrderBook(at time.Time) *market.OrderBook {
	return &market.OrderBook{
		Bids:      parseLevels(d.Bids),
		Asks:      parseLevels(d.Asks),
		Timestamp: at,
	}
}

func parseLevels(raw [][]string) []market.OrderBookLevel {
	levels := make([]market.OrderBookLevel, 0, len(raw))
	for _, l := range raw {
		if len(l) < 2 {
			continue
		}
		price, err1 := strconv.ParseFloat(l[0], 64)
		qty, err2 := strconv.ParseFloat(l[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		levels = append(levels, market.OrderBookLevel{Price: price, Quantity: qty})
	}
	return levels
}

// GetKlines fetches candlestick data
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, "/api/v3/klines", params)
	if err != nil {
		return nil, fmt.Errorf("error fetching klines: %w", err)
	}

	return ParseKlines(body)
}

// ParseKlines decodes the exchange's array-of-arrays kline payload. It also
// reads kline dumps saved to disk.
func ParseKlines(body []byte) ([]Kline, error) {
	var rawKlines [][]interface{}
	if err := json.Unmarshal(body, &rawKlines); err != nil {
		return nil, fmt.Errorf("error parsing klines: %w", err)
	}

	klines := make([]Kline, 0, len(rawKlines))
	for _, raw := range rawKlines {
		if len(raw) < 7 {
			return nil, fmt.Errorf("error parsing klines: short row of %d fields", len(raw))
		}
		klines = append(klines, Kline{
			OpenTime:  parseInt(raw[0]),
			Open:      parseFloat(raw[1]),
			High:      parseFloat(raw[2]),
			Low:       parseFloat(raw[3]),
			Close:     parseFloat(raw[4]),
			Volume:    parseFloat(raw[5]),
			CloseTime: parseInt(raw[6]),
		})
	}

	return klines, nil
}

// GetCurrentPrice fetches the current price for a symbol
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.get(ctx, "/api/v3/ticker/price", params)
	if err != nil {
		return 0, fmt.Errorf("error fetching price: %w", err)
	}

	var priceResp struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price,string"`
	}
	if err := json.Unmarshal(body, &priceResp); err != nil {
		return 0, fmt.Errorf("error parsing price: %w", err)
	}

	return priceResp.Price, nil
}

// GetOrderBookDepth retrieves the order book depth
func (c *Client) GetOrderBookDepth(ctx context.Context, symbol string, limit int) (*OrderBookDepth, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, "/api/v3/depth", params)
	if err != nil {
		return nil, fmt.Errorf("error fetching order book: %w", err)
	}

	var orderBook OrderBookDepth
	if err := json.Unmarshal(body, &orderBook); err != nil {
		return nil, fmt.Errorf("error parsing order book: %w", err)
	}

	return &orderBook, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

func parseFloat(val interface{}) float64 {
	switch v := val.(type) {
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case float64:
		return v
	default:
		return 0
	}
}

func parseInt(val interface{}) int64 {
	switch v := val.(type) {
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}
