package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventContextBlocked       EventType = "CONTEXT_BLOCKED"
	EventStructureBreak       EventType = "STRUCTURE_BREAK"
	EventSignalGenerated      EventType = "SIGNAL_GENERATED"
	EventEntryPending         EventType = "ENTRY_PENDING"
	EventEntryConfirmed       EventType = "ENTRY_CONFIRMED"
	EventEntryRejected        EventType = "ENTRY_REJECTED"
	EventEntryExpired         EventType = "ENTRY_EXPIRED"
	EventEntryCancelled       EventType = "ENTRY_CANCELLED"
	EventSignalSubmitted      EventType = "SIGNAL_SUBMITTED"
	EventCircuitBreakerUpdate EventType = "CIRCUIT_BREAKER_UPDATE"
	EventStructureReset       EventType = "STRUCTURE_RESET"
	EventEngineStarted        EventType = "ENGINE_STARTED"
	EventEngineStopped        EventType = "ENGINE_STOPPED"
	EventError                EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Symbol    string                 `json:"symbol,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// DefaultHistorySize is how many recent events the bus keeps for inspection
const DefaultHistorySize = 200

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events

	histMu  sync.Mutex
	history []Event
	histCap int
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
		histCap:     DefaultHistorySize,
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Subscribers run in their own
// goroutines so a slow consumer never stalls a tick.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	eb.record(event)

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

func (eb *EventBus) record(event Event) {
	eb.histMu.Lock()
	defer eb.histMu.Unlock()
	eb.history = append(eb.history, event)
	if len(eb.history) > eb.histCap {
		eb.history = eb.history[len(eb.history)-eb.histCap:]
	}
}

// Recent returns up to n of the latest events, newest last
func (eb *EventBus) Recent(n int) []Event {
	if eb == nil {
		return nil
	}
	eb.histMu.Lock()
	defer eb.histMu.Unlock()
	if n <= 0 || n > len(eb.history) {
		n = len(eb.history)
	}
	out := make([]Event, n)
	copy(out, eb.history[len(eb.history)-n:])
	return out
}

// PublishSignal publishes a signal generated event
func (eb *EventBus) PublishSignal(symbol, strategyName, direction, reason string, confidence float64, at time.Time) {
	eb.Publish(Event{
		Type:      EventSignalGenerated,
		Symbol:    symbol,
		Timestamp: at,
		Data: map[string]interface{}{
			"strategy":   strategyName,
			"direction":  direction,
			"reason":     reason,
			"confidence": confidence,
		},
	})
}

// PublishContextBlocked publishes a blocked higher-timeframe context
func (eb *EventBus) PublishContextBlocked(symbol string, reasons []string, at time.Time) {
	eb.Publish(Event{
		Type:      EventContextBlocked,
		Symbol:    symbol,
		Timestamp: at,
		Data: map[string]interface{}{
			"blocked_by": reasons,
		},
	})
}

// PublishStructureBreak publishes a CHoCH or BoS detection
func (eb *EventBus) PublishStructureBreak(symbol, kind, direction string, price, strength float64, at time.Time) {
	eb.Publish(Event{
		Type:      EventStructureBreak,
		Symbol:    symbol,
		Timestamp: at,
		Data: map[string]interface{}{
			"kind":      kind,
			"direction": direction,
			"price":     price,
			"strength":  strength,
		},
	})
}

// PublishEntry publishes a pending-entry lifecycle transition
func (eb *EventBus) PublishEntry(eventType EventType, symbol, id, direction string, keyLevel float64, reason string, at time.Time) {
	eb.Publish(Event{
		Type:      eventType,
		Symbol:    symbol,
		Timestamp: at,
		Data: map[string]interface{}{
			"id":        id,
			"direction": direction,
			"key_level": keyLevel,
			"reason":    reason,
		},
	})
}

// PublishCircuitBreaker publishes a breaker state change
func (eb *EventBus) PublishCircuitBreaker(data map[string]interface{}) {
	eb.Publish(Event{
		Type: EventCircuitBreakerUpdate,
		Data: data,
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(symbol, source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type:   EventError,
		Symbol: symbol,
		Data:   data,
	})
}
