package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordTick("BTCUSDT", "signal", 0.01)
	r.RecordTick("BTCUSDT", "signal", 0.02)
	r.RecordContext("BTCUSDT", 0.4, []string{"ATR_TOO_LOW"})
	r.RecordSubmission("BTCUSDT", nil)
	r.RecordSubmission("BTCUSDT", errors.New("x"))
	r.SetPending(3)

	if got := testutil.ToFloat64(r.ticksTotal.WithLabelValues("BTCUSDT", "signal")); got != 2 {
		t.Errorf("Expected 2 ticks, got %f", got)
	}
	if got := testutil.ToFloat64(r.contextBlocked.WithLabelValues("BTCUSDT", "ATR_TOO_LOW")); got != 1 {
		t.Errorf("Expected 1 block, got %f", got)
	}
	if got := testutil.ToFloat64(r.contextModifier.WithLabelValues("BTCUSDT")); got != 0.4 {
		t.Errorf("Expected modifier 0.4, got %f", got)
	}
	if got := testutil.ToFloat64(r.submissionsTotal.WithLabelValues("BTCUSDT", "error")); got != 1 {
		t.Errorf("Expected 1 failed submission, got %f", got)
	}
	if got := testutil.ToFloat64(r.pendingEntries); got != 3 {
		t.Errorf("Expected 3 pending, got %f", got)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.RecordTick("X", "none", 0)
	r.RecordError("fetch")
	r.SetPending(1)
}
