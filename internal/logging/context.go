package logging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	traceIDKey contextKey = "trace_id"
)

// GenerateTraceID generates a new trace ID
func GenerateTraceID() string {
	return uuid.NewString()
}

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// TraceIDFromContext returns the trace ID stored by WithTickTrace, if any.
func TraceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}

// WithTickTrace tags one candle evaluation pass with a fresh trace ID so every
// line logged during the tick can be correlated.
func WithTickTrace(ctx context.Context, base *Logger, symbol string, candleTime time.Time) (context.Context, *Logger) {
	traceID := GenerateTraceID()
	l := base.WithTraceID(traceID).WithFields(map[string]interface{}{
		"symbol":      symbol,
		"candle_time": candleTime.UTC().Format(time.RFC3339),
	})
	newCtx := context.WithValue(ctx, traceIDKey, traceID)
	newCtx = context.WithValue(newCtx, loggerKey, l)
	return newCtx, l
}

// SignalContext creates a logger for a selected trade signal
func SignalContext(base *Logger, symbol, strategyName, direction string, confidence float64) *Logger {
	return base.WithFields(map[string]interface{}{
		"symbol":     symbol,
		"strategy":   strategyName,
		"direction":  direction,
		"confidence": confidence,
	}).WithComponent("signal")
}
