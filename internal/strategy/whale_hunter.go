package strategy

import (
	"fmt"

	"binance-decision-core/internal/market"
)

const NameWhaleHunter = "whale_hunter"

// WhaleHunter follows heavy resting liquidity: a lopsided order book signals in
// the direction of the larger side. Without a book it reports invalid.
type WhaleHunter struct {
	config WhaleHunterConfig
}

func NewWhaleHunter(config WhaleHunterConfig) *WhaleHunter {
	if config.ImbalanceThreshold <= 0.5 || config.ImbalanceThreshold >= 1 {
		config.ImbalanceThreshold = 0.65
	}
	return &WhaleHunter{config: config}
}

func (s *WhaleHunter) Name() string  { return NameWhaleHunter }
func (s *WhaleHunter) Priority() int { return s.config.Priority }

func (s *WhaleHunter) Evaluate(data MarketData) Evaluation {
	ob := data.OrderBook
	if ob == nil {
		return invalid(s, "order book unavailable")
	}

	bids, asks := ob.BidVolume(), ob.AskVolume()
	total := bids + asks
	if total <= 0 || total < s.config.MinTotalVolume {
		return invalid(s, "insufficient book depth")
	}

	threshold := s.config.ImbalanceThreshold
	bidShare := bids / total
	span := 1 - threshold

	switch {
	case bidShare >= threshold:
		wall := largestLevel(ob.Bids)
		confidence := s.config.BaseConfidence + (bidShare-threshold)/span*0.4
		return signal(s, data, market.Long, confidence, wall,
			fmt.Sprintf("bid-side imbalance %.0f%%, largest bid wall %.4f", bidShare*100, wall))

	case bidShare <= 1-threshold:
		askShare := 1 - bidShare
		wall := largestLevel(ob.Asks)
		confidence := s.config.BaseConfidence + (askShare-threshold)/span*0.4
		return signal(s, data, market.Short, confidence, wall,
			fmt.Sprintf("ask-side imbalance %.0f%%, largest ask wall %.4f", askShare*100, wall))
	}

	return invalid(s, fmt.Sprintf("book balanced (bids %.0f%%)", bidShare*100))
}

func largestLevel(levels []market.OrderBookLevel) float64 {
	var best market.OrderBookLevel
	for _, l := range levels {
		if l.Quantity > best.Quantity {
			best = l
		}
	}
	return best.Price
}
