package database

import (
	"context"
	"fmt"
)

// Repository provides journal access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// RecordDecision inserts one tick outcome
func (r *Repository) RecordDecision(ctx context.Context, d *DecisionRecord) error {
	query := `
		INSERT INTO decisions (symbol, candle_time, outcome, trend, context_valid, overall_modifier,
		                       blocked_by, strategy_name, direction, confidence, reason, trace_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at
	`
	err := r.db.Pool.QueryRow(
		ctx, query,
		d.Symbol, d.CandleTime, d.Outcome, d.Trend, d.ContextValid, d.OverallModifier,
		d.BlockedBy, d.StrategyName, d.Direction, d.Confidence, d.Reason, d.TraceID,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// RecordSignal inserts a signal handed to execution
func (r *Repository) RecordSignal(ctx context.Context, s *SignalRecord) error {
	query := `
		INSERT INTO signals (id, symbol, direction, strategy_name, entry_price, stop_loss, take_profits,
		                     key_level, confidence, confirmed, reason, submitted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET submitted = EXCLUDED.submitted
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		s.ID, s.Symbol, s.Direction, s.StrategyName, s.EntryPrice, s.StopLoss, s.TakeProfits,
		s.KeyLevel, s.Confidence, s.Confirmed, s.Reason, s.Submitted, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// GetRecentDecisions retrieves the latest decisions, for one symbol or all when symbol is empty
func (r *Repository) GetRecentDecisions(ctx context.Context, symbol string, limit int) ([]*DecisionRecord, error) {
	query := `
		SELECT id, symbol, candle_time, outcome, COALESCE(trend, ''), context_valid,
		       COALESCE(overall_modifier, 0), COALESCE(blocked_by, '{}'), COALESCE(strategy_name, ''),
		       COALESCE(direction, ''), COALESCE(confidence, 0), COALESCE(reason, ''),
		       COALESCE(trace_id, ''), created_at
		FROM decisions
		WHERE $1::text = '' OR symbol = $1
		ORDER BY candle_time DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []*DecisionRecord
	for rows.Next() {
		d := &DecisionRecord{}
		if err := rows.Scan(
			&d.ID, &d.Symbol, &d.CandleTime, &d.Outcome, &d.Trend, &d.ContextValid,
			&d.OverallModifier, &d.BlockedBy, &d.StrategyName, &d.Direction, &d.Confidence,
			&d.Reason, &d.TraceID, &d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetRecentSignals retrieves the latest signals across symbols
func (r *Repository) GetRecentSignals(ctx context.Context, limit int) ([]*SignalRecord, error) {
	query := `
		SELECT id, symbol, direction, strategy_name, entry_price, stop_loss, take_profits,
		       COALESCE(key_level, 0), confidence, confirmed, COALESCE(reason, ''), submitted, created_at
		FROM signals
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var out []*SignalRecord
	for rows.Next() {
		s := &SignalRecord{}
		if err := rows.Scan(
			&s.ID, &s.Symbol, &s.Direction, &s.StrategyName, &s.EntryPrice, &s.StopLoss, &s.TakeProfits,
			&s.KeyLevel, &s.Confidence, &s.Confirmed, &s.Reason, &s.Submitted, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
