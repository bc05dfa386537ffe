package circuit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"binance-decision-core/internal/clock"
	"binance-decision-core/internal/events"
)

// BreakerState represents the circuit breaker state
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // Normal operation
	StateOpen     BreakerState = "open"      // Entries halted
	StateHalfOpen BreakerState = "half_open" // Testing recovery
)

// CircuitBreakerConfig holds the daily-loss and loss-streak throttles
type CircuitBreakerConfig struct {
	Enabled              bool    `json:"enabled" yaml:"enabled"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses" yaml:"max_consecutive_losses" default:"5"`
	CooldownMinutes      int     `json:"cooldown_minutes" yaml:"cooldown_minutes" default:"30"`
	MaxDailyLoss         float64 `json:"max_daily_loss" yaml:"max_daily_loss" default:"5"` // percent
	MaxDailyEntries      int     `json:"max_daily_entries" yaml:"max_daily_entries" default:"50"`
}

// DefaultCircuitBreakerConfig returns safe defaults
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Enabled:              true,
		MaxConsecutiveLosses: 5,
		CooldownMinutes:      30,
		MaxDailyLoss:         5.0,
		MaxDailyEntries:      50,
	}
}

// CircuitBreaker gates new entries on realised results reported back by the
// position manager.
type CircuitBreaker struct {
	config            CircuitBreakerConfig
	state             BreakerState
	consecutiveLosses int
	dailyLoss         float64
	dailyEntries      int
	lastTripTime      time.Time
	dailyResetTime    time.Time
	tripReason        string
	mu                sync.Mutex
	clock             clock.Clock
	bus               *events.EventBus
}

// NewCircuitBreaker creates a new circuit breaker. bus may be nil.
func NewCircuitBreaker(config *CircuitBreakerConfig, clk clock.Clock, bus *events.EventBus) *CircuitBreaker {
	if config == nil {
		config = DefaultCircuitBreakerConfig()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &CircuitBreaker{
		config:         *config,
		state:          StateClosed,
		clock:          clk,
		bus:            bus,
		dailyResetTime: nextMidnight(clk.Now()),
	}
}

func nextMidnight(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
}

// CanTrade checks if a new entry is allowed, returning the reason when not
func (cb *CircuitBreaker) CanTrade() (bool, string) {
	if !cb.config.Enabled {
		return true, ""
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.allowLocked(cb.clock.Now())
}

// TryEnter reserves one daily entry slot if trading is allowed. The check and
// the count happen under one lock so concurrent sessions cannot overshoot
// MaxDailyEntries.
func (cb *CircuitBreaker) TryEnter() (bool, string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.clock.Now()
	if cb.config.Enabled {
		if ok, why := cb.allowLocked(now); !ok {
			return false, why
		}
	} else {
		cb.resetCountersIfNeeded(now)
	}
	cb.dailyEntries++
	return true, ""
}

// ReleaseEntry returns a slot taken by TryEnter when the entry was not submitted
func (cb *CircuitBreaker) ReleaseEntry() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.dailyEntries > 0 {
		cb.dailyEntries--
	}
}

// allowLocked requires cb.mu
func (cb *CircuitBreaker) allowLocked(now time.Time) (bool, string) {
	cb.resetCountersIfNeeded(now)

	if cb.state == StateOpen {
		elapsed := now.Sub(cb.lastTripTime)
		cooldown := time.Duration(cb.config.CooldownMinutes) * time.Minute

		if elapsed < cooldown {
			remaining := cooldown - elapsed
			return false, fmt.Sprintf("circuit breaker open, cooldown remaining: %v (reason: %s)",
				remaining.Round(time.Second), cb.tripReason)
		}

		// Cooldown passed, allow a probe entry
		cb.state = StateHalfOpen
		cb.consecutiveLosses = 0
	}

	if cb.config.MaxDailyLoss > 0 && cb.dailyLoss >= cb.config.MaxDailyLoss {
		return false, fmt.Sprintf("daily loss limit reached: %.2f%% >= %.2f%%",
			cb.dailyLoss, cb.config.MaxDailyLoss)
	}

	if cb.config.MaxConsecutiveLosses > 0 && cb.consecutiveLosses >= cb.config.MaxConsecutiveLosses {
		return false, fmt.Sprintf("max consecutive losses reached: %d", cb.consecutiveLosses)
	}

	if cb.config.MaxDailyEntries > 0 && cb.dailyEntries >= cb.config.MaxDailyEntries {
		return false, fmt.Sprintf("daily entry limit reached: %d entries", cb.dailyEntries)
	}

	return true, ""
}

// RecordTrade records a closed trade's result in percent
func (cb *CircuitBreaker) RecordTrade(pnlPercent float64) {
	if !cb.config.Enabled {
		return
	}
	// NaN/Inf would poison the counters
	if math.IsNaN(pnlPercent) || math.IsInf(pnlPercent, 0) {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.resetCountersIfNeeded(cb.clock.Now())

	if pnlPercent < 0 {
		cb.consecutiveLosses++
		cb.dailyLoss += -pnlPercent
	} else {
		cb.consecutiveLosses = 0
		if cb.state == StateHalfOpen {
			cb.state = StateClosed
			cb.publish("recovered", "winning_trade_after_cooldown")
		}
	}

	cb.checkAndTrip()
}

// checkAndTrip checks conditions and trips if needed
func (cb *CircuitBreaker) checkAndTrip() {
	var reason string

	if cb.config.MaxConsecutiveLosses > 0 && cb.consecutiveLosses >= cb.config.MaxConsecutiveLosses {
		reason = fmt.Sprintf("consecutive losses: %d", cb.consecutiveLosses)
	} else if cb.config.MaxDailyLoss > 0 && cb.dailyLoss >= cb.config.MaxDailyLoss {
		reason = fmt.Sprintf("daily loss: %.2f%%", cb.dailyLoss)
	}

	if reason != "" && cb.state != StateOpen {
		cb.state = StateOpen
		cb.lastTripTime = cb.clock.Now()
		cb.tripReason = reason
		cb.publish("tripped", reason)
	}
}

// resetCountersIfNeeded rolls the daily counters at UTC midnight
func (cb *CircuitBreaker) resetCountersIfNeeded(now time.Time) {
	if now.After(cb.dailyResetTime) {
		cb.dailyLoss = 0
		cb.dailyEntries = 0
		cb.dailyResetTime = nextMidnight(now)
	}
}

// publish must be called with cb.mu held
func (cb *CircuitBreaker) publish(action, reason string) {
	cb.bus.PublishCircuitBreaker(map[string]interface{}{
		"state":              string(cb.state),
		"action":             action,
		"reason":             reason,
		"consecutive_losses": cb.consecutiveLosses,
		"daily_loss":         cb.dailyLoss,
	})
}

// ForceReset manually closes the circuit breaker
func (cb *CircuitBreaker) ForceReset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.consecutiveLosses = 0
	cb.tripReason = ""
	cb.publish("reset", "manual_reset")
}

// GetState returns current breaker state
func (cb *CircuitBreaker) GetState() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetStats returns current statistics
func (cb *CircuitBreaker) GetStats() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]interface{}{
		"enabled":            cb.config.Enabled,
		"state":              string(cb.state),
		"consecutive_losses": cb.consecutiveLosses,
		"daily_loss":         cb.dailyLoss,
		"daily_entries":      cb.dailyEntries,
		"trip_reason":        cb.tripReason,
		"last_trip_time":     cb.lastTripTime,
	}
}

// IsEnabled returns if circuit breaker is enabled
func (cb *CircuitBreaker) IsEnabled() bool {
	return cb.config.Enabled
}
