package engine

import (
	"context"
	"time"

	"binance-decision-core/internal/analysis"
	"binance-decision-core/internal/cache"
	"binance-decision-core/internal/database"
	"binance-decision-core/internal/market"
)

// StateStore persists small JSON documents; *cache.CacheService satisfies it
type StateStore interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Journal records tick outcomes; *database.Repository satisfies it
type Journal interface {
	RecordDecision(ctx context.Context, d *database.DecisionRecord) error
	RecordSignal(ctx context.Context, s *database.SignalRecord) error
}

var (
	_ StateStore = (*cache.CacheService)(nil)
	_ Journal    = (*database.Repository)(nil)
)

// structureState is the saved form of a session's trend tracker
type structureState struct {
	Trend     market.TrendBias         `json:"trend"`
	LastEvent *analysis.StructureEvent `json:"last_event,omitempty"`
	SavedAt   time.Time                `json:"saved_at"`
}

func (s *Session) restoreStructure(ctx context.Context) {
	if s.state == nil {
		return
	}
	var st structureState
	if err := s.state.GetJSON(ctx, cache.StructureStateKey(s.symbol), &st); err != nil {
		s.logger.Debug("No saved structure state", "error", err)
		return
	}
	s.tracker.Restore(st.Trend, st.LastEvent)
	s.logger.Info("Restored structure state", "trend", string(st.Trend), "saved_at", st.SavedAt.Format(time.RFC3339))
}

func (s *Session) saveStructure(ctx context.Context) {
	if s.state == nil {
		return
	}
	st := structureState{Trend: s.tracker.Trend(), LastEvent: s.tracker.LastEvent(), SavedAt: s.clock.Now()}
	if err := s.state.SetJSON(ctx, cache.StructureStateKey(s.symbol), st, cache.DefaultStateTTL); err != nil {
		s.logger.Warn("Failed to save structure state", "error", err)
	}
}
