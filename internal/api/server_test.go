package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"binance-decision-core/internal/circuit"
	"binance-decision-core/internal/clock"
	"binance-decision-core/internal/confirmation"
	"binance-decision-core/internal/database"
	"binance-decision-core/internal/engine"
	"binance-decision-core/internal/events"
	"binance-decision-core/internal/execution"
	"binance-decision-core/internal/logging"
	"binance-decision-core/internal/market"
	"binance-decision-core/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

type flatProvider struct{}

func (flatProvider) GetCandles(_ context.Context, _ market.TimeframeRole, limit int) ([]market.Candle, error) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, min(limit, 5))
	for i := range out {
		out[i] = market.Candle{Timestamp: start.Add(time.Duration(i) * time.Minute), Open: 100, High: 101, Low: 99, Close: 100, Volume: 10}
	}
	return out, nil
}

func (flatProvider) GetCurrentPrice(context.Context) (float64, error) { return 100, nil }

type discardSink struct{}

func (discardSink) Submit(context.Context, execution.Signal) error { return nil }

type stubHealth struct{ err error }

func (h stubHealth) HealthCheck(context.Context) error { return h.err }

type stubHistory struct {
	symbol string
}

func (h *stubHistory) GetRecentDecisions(_ context.Context, symbol string, limit int) ([]*database.DecisionRecord, error) {
	h.symbol = symbol
	return []*database.DecisionRecord{{Symbol: "BTCUSDT", Outcome: "NO_SIGNAL"}}, nil
}

func (h *stubHistory) GetRecentSignals(context.Context, int) ([]*database.SignalRecord, error) {
	return nil, errors.New("db down")
}

type testEnv struct {
	server  *Server
	engine  *engine.Engine
	breaker *circuit.CircuitBreaker
	bus     *events.EventBus
	clock   *clock.Manual
}

func newTestEnv(t *testing.T, cfg ServerConfig, mutate func(*Deps)) *testEnv {
	t.Helper()
	clk := clock.NewManual(time.Date(2025, 1, 1, 1, 0, 0, 0, time.UTC))
	bus := events.NewEventBus()
	builder, err := execution.NewBuilder(execution.BuilderConfig{StopBufferPct: 0.1, MaxStopPct: 5})
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}

	eng, err := engine.New(context.Background(), []string{"BTCUSDT", "ETHUSDT"},
		func(string) market.CandleProvider { return flatProvider{} },
		engine.Options{Engine: engine.DefaultConfig()},
		engine.Deps{
			Confirmations: confirmation.NewManager(confirmation.DefaultConfig(), nil, clk, nil),
			Builder:       builder,
			Sink:          discardSink{},
			Bus:           bus,
			Clock:         clk,
			Logger:        logging.Nop(),
		})
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}

	breaker := circuit.NewCircuitBreaker(&circuit.CircuitBreakerConfig{
		Enabled:              true,
		MaxConsecutiveLosses: 1,
		CooldownMinutes:      30,
		MaxDailyLoss:         10,
		MaxDailyEntries:      50,
	}, clk, bus)

	deps := Deps{Engine: eng, Breaker: breaker, Bus: bus, Logger: logging.Nop()}
	if mutate != nil {
		mutate(&deps)
	}
	srv, err := NewServer(cfg, deps)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return &testEnv{server: srv, engine: eng, breaker: breaker, bus: bus, clock: clk}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)

	var response map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
			t.Fatalf("Failed to parse response: %v", err)
		}
	}
	return w, response
}

func TestNewServerRequiresEngine(t *testing.T) {
	if _, err := NewServer(ServerConfig{}, Deps{}); err == nil {
		t.Error("Expected error without engine")
	}
}

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		db       HealthChecker
		cache    HealthChecker
		code     int
		status   string
		cacheVal interface{}
	}{
		{"all healthy", stubHealth{}, stubHealth{}, http.StatusOK, "healthy", "healthy"},
		{"database down", stubHealth{err: errors.New("down")}, nil, http.StatusServiceUnavailable, "unhealthy", nil},
		{"cache degraded", stubHealth{}, stubHealth{err: errors.New("down")}, http.StatusOK, "healthy", "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, ServerConfig{}, func(d *Deps) {
				d.Database = tt.db
				d.Cache = tt.cache
			})
			w, resp := env.do(t, http.MethodGet, "/health", nil)
			if w.Code != tt.code {
				t.Errorf("Expected status %d, got %d", tt.code, w.Code)
			}
			if resp["status"] != tt.status {
				t.Errorf("Expected status '%s', got '%v'", tt.status, resp["status"])
			}
			if resp["cache"] != tt.cacheVal {
				t.Errorf("Expected cache '%v', got '%v'", tt.cacheVal, resp["cache"])
			}
		})
	}
}

func TestSessionsEndpoints(t *testing.T) {
	env := newTestEnv(t, ServerConfig{}, nil)

	w, resp := env.do(t, http.MethodGet, "/api/sessions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	data, _ := resp["data"].([]interface{})
	if len(data) != 2 {
		t.Errorf("Expected 2 sessions, got %d", len(data))
	}

	w, resp = env.do(t, http.MethodGet, "/api/sessions/btcusdt", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	view := resp["data"].(map[string]interface{})
	if view["symbol"] != "BTCUSDT" || view["trend"] != "NEUTRAL" {
		t.Errorf("Unexpected session view: %v", view)
	}

	w, _ = env.do(t, http.MethodGet, "/api/sessions/DOGEUSDT", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestStructureResetPublishesEvent(t *testing.T) {
	env := newTestEnv(t, ServerConfig{}, nil)

	w, _ := env.do(t, http.MethodPost, "/api/sessions/ETHUSDT/structure/reset", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	recent := env.bus.Recent(10)
	if len(recent) == 0 || recent[len(recent)-1].Type != events.EventStructureReset {
		t.Errorf("Expected STRUCTURE_RESET event, got %v", recent)
	}
}

func TestPendingListAndCancel(t *testing.T) {
	env := newTestEnv(t, ServerConfig{}, nil)
	ctx := context.Background()

	id, err := env.engine.Confirmations().AddPending(ctx, confirmation.PendingEntry{
		Symbol:    "BTCUSDT",
		Direction: market.Long,
		KeyLevel:  100,
	})
	if err != nil {
		t.Fatalf("AddPending failed: %v", err)
	}

	_, resp := env.do(t, http.MethodGet, "/api/pending?symbol=btcusdt", nil)
	if data, _ := resp["data"].([]interface{}); len(data) != 1 {
		t.Fatalf("Expected 1 pending entry, got %v", resp["data"])
	}

	w, _ := env.do(t, http.MethodDelete, "/api/pending/"+id, nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	w, _ = env.do(t, http.MethodDelete, "/api/pending/"+id, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 on second cancel, got %d", w.Code)
	}
}

func TestCircuitEndpoints(t *testing.T) {
	env := newTestEnv(t, ServerConfig{}, nil)

	w, _ := env.do(t, http.MethodPost, "/api/circuit/trades", []byte(`{}`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 without pnl, got %d", w.Code)
	}

	w, resp := env.do(t, http.MethodPost, "/api/circuit/trades", []byte(`{"pnl_percent": -1.5}`))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	stats := resp["data"].(map[string]interface{})
	if stats["state"] != string(circuit.StateOpen) {
		t.Errorf("Expected breaker open after loss, got %v", stats["state"])
	}

	env.do(t, http.MethodPost, "/api/circuit/reset", nil)
	if env.breaker.GetState() != circuit.StateClosed {
		t.Errorf("Expected breaker closed after reset, got %s", env.breaker.GetState())
	}
}

func TestHistoryEndpoints(t *testing.T) {
	env := newTestEnv(t, ServerConfig{}, nil)
	w, _ := env.do(t, http.MethodGet, "/api/decisions", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 without journal, got %d", w.Code)
	}

	hist := &stubHistory{}
	env = newTestEnv(t, ServerConfig{}, func(d *Deps) { d.History = hist })

	w, resp := env.do(t, http.MethodGet, "/api/decisions?symbol=ethusdt&limit=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if hist.symbol != "ETHUSDT" {
		t.Errorf("Expected symbol ETHUSDT passed through, got %s", hist.symbol)
	}
	if data, _ := resp["data"].([]interface{}); len(data) != 1 {
		t.Errorf("Expected 1 decision, got %v", resp["data"])
	}

	w, _ = env.do(t, http.MethodGet, "/api/signals", nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500 on journal error, got %d", w.Code)
	}
}

func TestEventsEndpoint(t *testing.T) {
	env := newTestEnv(t, ServerConfig{}, nil)
	for i := 0; i < 3; i++ {
		env.bus.Publish(events.Event{Type: events.EventSignalGenerated, Symbol: "BTCUSDT"})
	}

	_, resp := env.do(t, http.MethodGet, "/api/events?limit=2", nil)
	if data, _ := resp["data"].([]interface{}); len(data) != 2 {
		t.Errorf("Expected 2 events, got %v", resp["data"])
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, ServerConfig{RateLimit: 2}, nil)

	for i := 0; i < 2; i++ {
		if w, _ := env.do(t, http.MethodGet, "/api/circuit", nil); w.Code != http.StatusOK {
			t.Fatalf("Expected status 200 on request %d, got %d", i+1, w.Code)
		}
	}
	if w, _ := env.do(t, http.MethodGet, "/api/circuit", nil); w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", w.Code)
	}
	if w, _ := env.do(t, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Errorf("Expected health to bypass the limiter, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	rec.RecordTick("BTCUSDT", "NO_SIGNAL", 0.01)

	env := newTestEnv(t, ServerConfig{}, func(d *Deps) { d.Gatherer = reg })
	w, _ := env.do(t, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "decision_ticks_total") {
		t.Error("Expected decision_ticks_total in metrics output")
	}
}
