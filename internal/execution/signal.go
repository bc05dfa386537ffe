// Package execution turns a winning decision into an actionable order intent and
// hands it to the external position manager.
package execution

import (
	"context"
	"errors"
	"time"

	"binance-decision-core/internal/market"
)

// ErrInvalidSignal is returned when no sane stop-loss can be derived
var ErrInvalidSignal = errors.New("invalid execution signal")

// Signal is the hand-off to position management. Sizing and order placement
// are the receiver's job.
type Signal struct {
	ID          string           `json:"id"`
	Symbol      string           `json:"symbol"`
	Direction   market.Direction `json:"direction"`
	EntryPrice  float64          `json:"entry_price"`
	StopLoss    float64          `json:"stop_loss"`
	TakeProfits []float64        `json:"take_profits"`
	Confidence  float64          `json:"confidence"`
	Reason      string           `json:"reason"`
	Strategy    string           `json:"strategy"`
	KeyLevel    float64          `json:"key_level"`
	Confirmed   bool             `json:"confirmed"` // passed the entry confirmation gate
	CreatedAt   time.Time        `json:"created_at"`
}

// Sink receives actionable signals
type Sink interface {
	Submit(ctx context.Context, sig Signal) error
}

// MultiSink fans a signal out to several sinks, returning the joined errors
type MultiSink []Sink

func (m MultiSink) Submit(ctx context.Context, sig Signal) error {
	var errs []error
	for _, s := range m {
		if err := s.Submit(ctx, sig); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
