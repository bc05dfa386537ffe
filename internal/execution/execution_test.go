package execution

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"binance-decision-core/internal/logging"
	"binance-decision-core/internal/market"

	"github.com/segmentio/kafka-go"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestBuildLongFromKeyLevel(t *testing.T) {
	b, err := NewBuilder(BuilderConfig{StopBufferPct: 0.1, StopATRMultiple: 1.5, MaxStopPct: 5, TakeProfitR: []float64{1, 2}})
	if err != nil {
		t.Fatal(err)
	}

	sig, err := b.Build(Intent{Symbol: "X", Direction: market.Long, EntryPrice: 101, KeyLevel: 100, ATR: 2, Confidence: 0.7})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !near(sig.StopLoss, 99.9) {
		t.Errorf("Expected stop 99.9, got %f", sig.StopLoss)
	}
	if len(sig.TakeProfits) != 2 || !near(sig.TakeProfits[0], 102.1) || !near(sig.TakeProfits[1], 103.2) {
		t.Errorf("Unexpected take profits %v", sig.TakeProfits)
	}
	if sig.ID == "" {
		t.Error("Expected generated id")
	}
}

func TestBuildShortFallsBackToATR(t *testing.T) {
	b, _ := NewBuilder(BuilderConfig{StopATRMultiple: 2, TakeProfitR: []float64{1}})

	// key level below entry cannot anchor a short stop
	sig, err := b.Build(Intent{Symbol: "X", Direction: market.Short, EntryPrice: 100, KeyLevel: 99, ATR: 1})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !near(sig.StopLoss, 102) {
		t.Errorf("Expected ATR stop 102, got %f", sig.StopLoss)
	}
	if !near(sig.TakeProfits[0], 98) {
		t.Errorf("Expected target 98, got %f", sig.TakeProfits[0])
	}
}

func TestBuildRejects(t *testing.T) {
	b, _ := NewBuilder(BuilderConfig{MaxStopPct: 1})

	if _, err := b.Build(Intent{Direction: market.Long, EntryPrice: 100}); !errors.Is(err, ErrInvalidSignal) {
		t.Errorf("Expected ErrInvalidSignal without level or ATR, got %v", err)
	}
	if _, err := b.Build(Intent{Direction: market.Long, EntryPrice: 100, KeyLevel: 90}); !errors.Is(err, ErrInvalidSignal) {
		t.Errorf("Expected ErrInvalidSignal for a stop beyond the max distance, got %v", err)
	}
	if _, err := b.Build(Intent{Direction: market.Hold, EntryPrice: 100, ATR: 1}); !errors.Is(err, ErrInvalidSignal) {
		t.Errorf("Expected ErrInvalidSignal for HOLD, got %v", err)
	}
}

func TestTickRounding(t *testing.T) {
	b, err := NewBuilder(BuilderConfig{StopBufferPct: 0.1, TakeProfitR: []float64{1}, TickSizes: map[string]string{"BTCUSDT": "0.5"}})
	if err != nil {
		t.Fatal(err)
	}
	sig, err := b.Build(Intent{Symbol: "BTCUSDT", Direction: market.Long, EntryPrice: 60010.3, KeyLevel: 59800})
	if err != nil {
		t.Fatal(err)
	}
	if !near(sig.EntryPrice, 60010.5) {
		t.Errorf("Expected entry rounded to 60010.5, got %f", sig.EntryPrice)
	}
	if math.Mod(sig.StopLoss*2, 1) != 0 {
		t.Errorf("Expected stop on a 0.5 tick, got %f", sig.StopLoss)
	}

	if _, err := NewBuilder(BuilderConfig{TickSizes: map[string]string{"X": "abc"}}); err == nil {
		t.Error("Expected error for bad tick size")
	}
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaSinkPublishesKeyedJSON(t *testing.T) {
	w := &fakeWriter{}
	sink := &KafkaSink{writer: w, topic: "signals"}

	sig := Signal{ID: "1", Symbol: "ETHUSDT", Direction: market.Long, EntryPrice: 3000, Strategy: "level_based", CreatedAt: time.Unix(1700000000, 0)}
	if err := sink.Submit(context.Background(), sig); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "ETHUSDT" {
		t.Errorf("Expected symbol key, got %s", w.msgs[0].Key)
	}
	var decoded Signal
	if err := json.Unmarshal(w.msgs[0].Value, &decoded); err != nil || decoded.EntryPrice != 3000 {
		t.Errorf("Expected JSON signal payload, got %s (%v)", w.msgs[0].Value, err)
	}

	w.err = errors.New("broker down")
	if err := sink.Submit(context.Background(), sig); err == nil {
		t.Error("Expected publish error")
	}
}

type countingSink struct {
	n   int
	err error
}

func (c *countingSink) Submit(context.Context, Signal) error {
	c.n++
	return c.err
}

func TestMultiSink(t *testing.T) {
	a, b := &countingSink{}, &countingSink{err: errors.New("b failed")}
	m := MultiSink{a, NewLogSink(logging.Nop()), b}

	err := m.Submit(context.Background(), Signal{Symbol: "X"})
	if err == nil {
		t.Error("Expected joined error")
	}
	if a.n != 1 || b.n != 1 {
		t.Errorf("Expected every sink called once, got a=%d b=%d", a.n, b.n)
	}
}
