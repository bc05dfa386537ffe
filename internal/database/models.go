package database

import "time"

// DecisionRecord is one journaled tick outcome
type DecisionRecord struct {
	ID              int64     `json:"id"`
	Symbol          string    `json:"symbol"`
	CandleTime      time.Time `json:"candle_time"`
	Outcome         string    `json:"outcome"`
	Trend           string    `json:"trend"`
	ContextValid    bool      `json:"context_valid"`
	OverallModifier float64   `json:"overall_modifier"`
	BlockedBy       []string  `json:"blocked_by"`
	StrategyName    string    `json:"strategy_name,omitempty"`
	Direction       string    `json:"direction,omitempty"`
	Confidence      float64   `json:"confidence,omitempty"`
	Reason          string    `json:"reason"`
	TraceID         string    `json:"trace_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// SignalRecord is a signal handed to execution
type SignalRecord struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Direction    string    `json:"direction"`
	StrategyName string    `json:"strategy_name"`
	EntryPrice   float64   `json:"entry_price"`
	StopLoss     float64   `json:"stop_loss"`
	TakeProfits  []float64 `json:"take_profits"`
	KeyLevel     float64   `json:"key_level"`
	Confidence   float64   `json:"confidence"`
	Confirmed    bool      `json:"confirmed"`
	Reason       string    `json:"reason"`
	Submitted    bool      `json:"submitted"`
	CreatedAt    time.Time `json:"created_at"`
}
