package events

import (
	"testing"
	"time"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := NewEventBus()
	typed := make(chan Event, 1)
	all := make(chan Event, 2)

	bus.Subscribe(EventEntryConfirmed, func(e Event) { typed <- e })
	bus.SubscribeAll(func(e Event) { all <- e })

	bus.PublishEntry(EventEntryConfirmed, "BTCUSDT", "id-1", "LONG", 100, "bounce confirmed", time.Time{})
	bus.PublishError("BTCUSDT", "feed", "fetch failed", nil)

	select {
	case e := <-typed:
		if e.Symbol != "BTCUSDT" || e.Data["id"] != "id-1" {
			t.Errorf("Unexpected event %+v", e)
		}
		if e.Timestamp.IsZero() {
			t.Error("Expected timestamp to be filled in")
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for typed subscriber")
	}

	for i := 0; i < 2; i++ {
		select {
		case <-all:
		case <-time.After(time.Second):
			t.Fatal("Timed out waiting for all-events subscriber")
		}
	}
}

func TestRecentKeepsBoundedHistory(t *testing.T) {
	bus := NewEventBus()
	for i := 0; i < DefaultHistorySize+10; i++ {
		bus.Publish(Event{Type: EventSignalGenerated, Data: map[string]interface{}{"n": i}})
	}

	recent := bus.Recent(0)
	if len(recent) != DefaultHistorySize {
		t.Fatalf("Expected %d events, got %d", DefaultHistorySize, len(recent))
	}
	if recent[len(recent)-1].Data["n"] != DefaultHistorySize+9 {
		t.Errorf("Expected newest event last, got %v", recent[len(recent)-1].Data["n"])
	}
	if got := len(bus.Recent(5)); got != 5 {
		t.Errorf("Expected 5 events, got %d", got)
	}
}

func TestNilBusIsNoop(t *testing.T) {
	var bus *EventBus
	bus.Publish(Event{Type: EventError})
}
