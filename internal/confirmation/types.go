// Package confirmation holds candidate entries until a confirming candle closes.
package confirmation

import (
	"context"
	"errors"
	"time"

	"binance-decision-core/internal/market"
)

var (
	// ErrInvalidEntry is returned when an entry cannot be queued
	ErrInvalidEntry = errors.New("invalid pending entry")
	// ErrStoreUnavailable wraps backend failures
	ErrStoreUnavailable = errors.New("pending store unavailable")
)

// SignalData carries what execution needs once the entry confirms
type SignalData struct {
	Strategy   string  `json:"strategy"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	EntryPrice float64 `json:"entry_price"`
	ATR        float64 `json:"atr"`
}

// PendingEntry is a candidate signal waiting for the next candle close
type PendingEntry struct {
	ID         string           `json:"id"`
	Symbol     string           `json:"symbol"`
	Direction  market.Direction `json:"direction"`
	KeyLevel   float64          `json:"key_level"`
	DetectedAt time.Time        `json:"detected_at"`
	ExpiresAt  time.Time        `json:"expires_at"`
	SignalData SignalData       `json:"signal_data"`
}

// Expired reports whether now is past the entry's deadline
func (p PendingEntry) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// Result is the outcome of one confirmation check
type Result struct {
	Confirmed bool          `json:"confirmed"`
	Reason    string        `json:"reason"`
	Entry     *PendingEntry `json:"entry,omitempty"`
}

// Store persists pending entries. Take must remove and return atomically so an
// entry can be resolved only once even with several readers.
type Store interface {
	Put(ctx context.Context, entry PendingEntry) error
	Get(ctx context.Context, id string) (PendingEntry, bool, error)
	Take(ctx context.Context, id string) (PendingEntry, bool, error)
	List(ctx context.Context) ([]PendingEntry, error)
}

// DirectionConfig toggles confirmation for one trade side
type DirectionConfig struct {
	Enabled       bool `json:"enabled" yaml:"enabled"`
	ExpirySeconds int  `json:"expiry_seconds" yaml:"expiry_seconds" default:"120" validate:"gt=0"`
}

// Config configures confirmation per direction
type Config struct {
	Long  DirectionConfig `json:"long" yaml:"long"`
	Short DirectionConfig `json:"short" yaml:"short"`
	// Backend selects the store: "memory" or "redis"
	Backend string `json:"backend" yaml:"backend" default:"memory" validate:"oneof=memory redis"`
}

// DefaultConfig enables confirmation for both sides with a 120s window
func DefaultConfig() Config {
	return Config{
		Long:    DirectionConfig{Enabled: true, ExpirySeconds: 120},
		Short:   DirectionConfig{Enabled: true, ExpirySeconds: 120},
		Backend: "memory",
	}
}

func (c Config) forDirection(d market.Direction) (DirectionConfig, bool) {
	switch d {
	case market.Long:
		return c.Long, true
	case market.Short:
		return c.Short, true
	default:
		return DirectionConfig{}, false
	}
}
