package confirmation

import (
	"context"
	"fmt"
	"time"

	"binance-decision-core/internal/clock"
	"binance-decision-core/internal/logging"
	"binance-decision-core/internal/market"

	"github.com/google/uuid"
)

// Resolution reasons
const (
	ReasonNotFound = "not found"
	ReasonTimeout  = "timeout"
)

// Manager runs the PENDING -> CONFIRMED | REJECTED | EXPIRED state machine
type Manager struct {
	cfg    Config
	store  Store
	clock  clock.Clock
	logger *logging.Logger
}

// NewManager creates a confirmation manager. A nil store defaults to memory and
// a nil clock to the system clock.
func NewManager(cfg Config, store Store, clk clock.Clock, logger *logging.Logger) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{
		cfg:    cfg,
		store:  store,
		clock:  clk,
		logger: logger.WithComponent("confirmation"),
	}
}

// IsEnabled reports whether entries in this direction wait for confirmation.
// Callers act on the signal immediately when it returns false.
func (m *Manager) IsEnabled(d market.Direction) bool {
	dc, ok := m.cfg.forDirection(d)
	return ok && dc.Enabled
}

// AddPending stores a candidate and returns its generated id. ExpiresAt is set
// from the current clock and the direction's expiry.
func (m *Manager) AddPending(ctx context.Context, entry PendingEntry) (string, error) {
	dc, ok := m.cfg.forDirection(entry.Direction)
	if !ok {
		return "", fmt.Errorf("%w: direction %q", ErrInvalidEntry, entry.Direction)
	}
	if entry.KeyLevel <= 0 {
		return "", fmt.Errorf("%w: key level %.8f", ErrInvalidEntry, entry.KeyLevel)
	}

	now := m.clock.Now()
	entry.ID = uuid.NewString()
	if entry.DetectedAt.IsZero() {
		entry.DetectedAt = now
	}
	entry.ExpiresAt = now.Add(time.Duration(dc.ExpirySeconds) * time.Second)

	if err := m.store.Put(ctx, entry); err != nil {
		return "", fmt.Errorf("failed to store pending entry: %w", err)
	}

	m.logger.Info("Entry pending confirmation",
		"id", entry.ID,
		"symbol", entry.Symbol,
		"direction", string(entry.Direction),
		"key_level", entry.KeyLevel,
		"expires_at", entry.ExpiresAt.Format(time.RFC3339))
	return entry.ID, nil
}

// CheckConfirmation resolves a pending entry against a candle close. Every path
// that finds the entry removes it; a second call with the same id reports "not found".
// LONG confirms on close >= keyLevel, SHORT on close <= keyLevel.
func (m *Manager) CheckConfirmation(ctx context.Context, id string, candleClose float64) Result {
	entry, found, err := m.store.Take(ctx, id)
	if err != nil {
		m.logger.Error("Pending store read failed", "id", id, "error", err)
		return Result{Confirmed: false, Reason: fmt.Sprintf("store error: %v", err)}
	}
	if !found {
		return Result{Confirmed: false, Reason: ReasonNotFound}
	}

	if entry.Expired(m.clock.Now()) {
		m.logger.Info("Pending entry timed out", "id", id, "symbol", entry.Symbol)
		return Result{Confirmed: false, Reason: ReasonTimeout, Entry: &entry}
	}

	res := evaluate(entry, candleClose)
	res.Entry = &entry
	m.logger.Info("Pending entry resolved",
		"id", id,
		"symbol", entry.Symbol,
		"direction", string(entry.Direction),
		"confirmed", res.Confirmed,
		"reason", res.Reason)
	return res
}

func evaluate(entry PendingEntry, close float64) Result {
	level := entry.KeyLevel
	switch entry.Direction {
	case market.Long:
		if close >= level {
			return Result{Confirmed: true, Reason: fmt.Sprintf("bounce confirmed: close %.4f at or above support %.4f", close, level)}
		}
		return Result{Confirmed: false, Reason: fmt.Sprintf("falling knife: close %.4f below support %.4f", close, level)}
	case market.Short:
		if close <= level {
			return Result{Confirmed: true, Reason: fmt.Sprintf("rejection confirmed: close %.4f at or below resistance %.4f", close, level)}
		}
		return Result{Confirmed: false, Reason: fmt.Sprintf("pump continues: close %.4f above resistance %.4f", close, level)}
	default:
		return Result{Confirmed: false, Reason: fmt.Sprintf("unsupported direction %q", entry.Direction)}
	}
}

// GetPending returns an unresolved entry. Expired entries are removed and reported missing.
func (m *Manager) GetPending(ctx context.Context, id string) (PendingEntry, bool) {
	entry, found, err := m.store.Get(ctx, id)
	if err != nil || !found {
		return PendingEntry{}, false
	}
	if entry.Expired(m.clock.Now()) {
		m.store.Take(ctx, id)
		return PendingEntry{}, false
	}
	return entry, true
}

// GetAllPending returns every unexpired entry, oldest first, sweeping expired ones
func (m *Manager) GetAllPending(ctx context.Context) []PendingEntry {
	entries, err := m.store.List(ctx)
	if err != nil {
		m.logger.Warn("Failed to list pending entries", "error", err)
		return nil
	}
	now := m.clock.Now()
	live := make([]PendingEntry, 0, len(entries))
	for _, e := range entries {
		if e.Expired(now) {
			m.store.Take(ctx, e.ID)
			continue
		}
		live = append(live, e)
	}
	sortByDetected(live)
	return live
}

// PendingForSymbol returns the unexpired entries for one symbol
func (m *Manager) PendingForSymbol(ctx context.Context, symbol string) []PendingEntry {
	var out []PendingEntry
	for _, e := range m.GetAllPending(ctx) {
		if e.Symbol == symbol {
			out = append(out, e)
		}
	}
	return out
}

// DueForSymbol returns every stored entry for a symbol, expired ones included,
// so the caller can resolve each through CheckConfirmation.
func (m *Manager) DueForSymbol(ctx context.Context, symbol string) []PendingEntry {
	entries, err := m.store.List(ctx)
	if err != nil {
		m.logger.Warn("Failed to list pending entries", "error", err)
		return nil
	}
	var out []PendingEntry
	for _, e := range entries {
		if e.Symbol == symbol {
			out = append(out, e)
		}
	}
	sortByDetected(out)
	return out
}

// Cancel withdraws an entry without resolving it either way
func (m *Manager) Cancel(ctx context.Context, id string) bool {
	entry, found, err := m.store.Take(ctx, id)
	if err != nil || !found {
		return false
	}
	m.logger.Info("Pending entry cancelled", "id", id, "symbol", entry.Symbol)
	return true
}

// CleanupExpired removes every entry past its deadline and returns how many went
func (m *Manager) CleanupExpired(ctx context.Context) int {
	return len(m.SweepExpired(ctx))
}

// SweepExpired removes every entry past its deadline and returns the removed entries
func (m *Manager) SweepExpired(ctx context.Context) []PendingEntry {
	entries, err := m.store.List(ctx)
	if err != nil {
		m.logger.Warn("Failed to list pending entries for cleanup", "error", err)
		return nil
	}
	now := m.clock.Now()
	var removed []PendingEntry
	for _, e := range entries {
		if !e.Expired(now) {
			continue
		}
		if taken, found, err := m.store.Take(ctx, e.ID); err == nil && found {
			removed = append(removed, taken)
		}
	}
	if len(removed) > 0 {
		m.logger.Debug("Expired pending entries removed", "count", len(removed))
	}
	return removed
}

// Count returns the number of entries currently stored, expired or not
func (m *Manager) Count(ctx context.Context) int {
	entries, err := m.store.List(ctx)
	if err != nil {
		return 0
	}
	return len(entries)
}
