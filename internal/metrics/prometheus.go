package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exposes decision-pipeline metrics to Prometheus
type Recorder struct {
	ticksTotal         *prometheus.CounterVec
	contextBlocked     *prometheus.CounterVec
	structureEvents    *prometheus.CounterVec
	signalsTotal       *prometheus.CounterVec
	confirmationsTotal *prometheus.CounterVec
	submissionsTotal   *prometheus.CounterVec
	errorsTotal        *prometheus.CounterVec
	pendingEntries     prometheus.Gauge
	contextModifier    *prometheus.GaugeVec
	tickLatency        *prometheus.HistogramVec
}

// New registers the recorder's collectors with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		ticksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decision_ticks_total",
				Help: "Candle ticks processed, by outcome",
			},
			[]string{"symbol", "outcome"},
		),
		contextBlocked: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decision_context_blocked_total",
				Help: "Ticks blocked by the higher-timeframe context, by reason code",
			},
			[]string{"symbol", "reason"},
		),
		structureEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decision_structure_events_total",
				Help: "CHoCH and BoS detections",
			},
			[]string{"symbol", "type", "direction"},
		),
		signalsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decision_signals_total",
				Help: "Winning strategy signals",
			},
			[]string{"symbol", "strategy", "direction"},
		),
		confirmationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decision_confirmations_total",
				Help: "Pending entry resolutions, by result",
			},
			[]string{"symbol", "result"},
		),
		submissionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decision_submissions_total",
				Help: "Signals handed to the execution sink",
			},
			[]string{"symbol", "status"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decision_errors_total",
				Help: "Errors encountered, by type",
			},
			[]string{"type"},
		),
		pendingEntries: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "decision_pending_entries",
				Help: "Entries currently awaiting confirmation",
			},
		),
		contextModifier: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "decision_context_modifier",
				Help: "Latest overall context confidence modifier",
			},
			[]string{"symbol"},
		),
		tickLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "decision_tick_duration_seconds",
				Help:    "Time to process one candle tick",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"symbol"},
		),
	}
}

// RecordTick records one processed tick and its outcome
func (r *Recorder) RecordTick(symbol, outcome string, seconds float64) {
	if r == nil {
		return
	}
	r.ticksTotal.WithLabelValues(symbol, outcome).Inc()
	r.tickLatency.WithLabelValues(symbol).Observe(seconds)
}

// RecordContext records the context modifier and any block reasons
func (r *Recorder) RecordContext(symbol string, modifier float64, blockedBy []string) {
	if r == nil {
		return
	}
	r.contextModifier.WithLabelValues(symbol).Set(modifier)
	for _, reason := range blockedBy {
		r.contextBlocked.WithLabelValues(symbol, reason).Inc()
	}
}

// RecordStructureEvent records a CHoCH or BoS
func (r *Recorder) RecordStructureEvent(symbol, kind, direction string) {
	if r == nil {
		return
	}
	r.structureEvents.WithLabelValues(symbol, kind, direction).Inc()
}

// RecordSignal records a coordinator winner
func (r *Recorder) RecordSignal(symbol, strategy, direction string) {
	if r == nil {
		return
	}
	r.signalsTotal.WithLabelValues(symbol, strategy, direction).Inc()
}

// RecordConfirmation records a pending entry resolution
func (r *Recorder) RecordConfirmation(symbol, result string) {
	if r == nil {
		return
	}
	r.confirmationsTotal.WithLabelValues(symbol, result).Inc()
}

// RecordSubmission records a hand-off to the execution sink
func (r *Recorder) RecordSubmission(symbol string, err error) {
	if r == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.submissionsTotal.WithLabelValues(symbol, status).Inc()
}

// RecordError records an error occurrence
func (r *Recorder) RecordError(kind string) {
	if r == nil {
		return
	}
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// SetPending records the current pending entry count
func (r *Recorder) SetPending(n int) {
	if r == nil {
		return
	}
	r.pendingEntries.Set(float64(n))
}
