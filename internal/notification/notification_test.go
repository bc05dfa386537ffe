package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"binance-decision-core/internal/events"
	"binance-decision-core/internal/execution"
	"binance-decision-core/internal/logging"
	"binance-decision-core/internal/market"
)

type capture struct {
	mu     sync.Mutex
	paths  []string
	bodies []map[string]interface{}
	status int
	got    chan struct{}
}

func newCapture(status int) (*capture, *httptest.Server) {
	c := &capture{status: status, got: make(chan struct{}, 10)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		c.mu.Lock()
		c.paths = append(c.paths, r.URL.Path)
		c.bodies = append(c.bodies, body)
		c.mu.Unlock()
		w.WriteHeader(c.status)
		c.got <- struct{}{}
	}))
	return c, srv
}

func testSignal() execution.Signal {
	return execution.Signal{
		ID:          "sig-1",
		Symbol:      "SOLUSDT",
		Direction:   market.Long,
		EntryPrice:  150,
		StopLoss:    147,
		TakeProfits: []float64{153, 156},
		Confidence:  0.72,
		Reason:      "support bounce",
		Strategy:    "level_based",
		Confirmed:   true,
		CreatedAt:   time.Date(2025, 5, 5, 10, 0, 0, 0, time.UTC),
	}
}

func TestTelegramSubmit(t *testing.T) {
	c, srv := newCapture(http.StatusOK)
	defer srv.Close()

	m := NewManager(Config{Telegram: TelegramConfig{Enabled: true, BotToken: "tok", ChatID: "42", APIURL: srv.URL}}, logging.Nop())
	if err := m.Submit(context.Background(), testSignal()); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if len(c.paths) != 1 || c.paths[0] != "/bottok/sendMessage" {
		t.Fatalf("Expected one call to /bottok/sendMessage, got %v", c.paths)
	}
	text, _ := c.bodies[0]["text"].(string)
	if !strings.Contains(text, "BUY SOLUSDT @ 150.0000") || !strings.Contains(text, "153.0000, 156.0000") {
		t.Errorf("Unexpected message text: %s", text)
	}
	if !strings.Contains(text, "level_based (72%, confirmed)") {
		t.Errorf("Expected strategy line, got %s", text)
	}
	if c.bodies[0]["chat_id"] != "42" {
		t.Errorf("Expected chat id 42, got %v", c.bodies[0]["chat_id"])
	}
}

func TestDiscordColoursShortsRed(t *testing.T) {
	c, srv := newCapture(http.StatusNoContent)
	defer srv.Close()

	m := NewManager(Config{Discord: DiscordConfig{Enabled: true, WebhookURL: srv.URL}}, logging.Nop())
	sig := testSignal()
	sig.Direction = market.Short
	if err := m.Submit(context.Background(), sig); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	embeds, _ := c.bodies[0]["embeds"].([]interface{})
	if len(embeds) != 1 {
		t.Fatalf("Expected one embed, got %v", c.bodies[0])
	}
	embed := embeds[0].(map[string]interface{})
	if embed["color"] != float64(0xFF0000) {
		t.Errorf("Expected red embed, got %v", embed["color"])
	}
	if !strings.HasPrefix(embed["title"].(string), "SELL") {
		t.Errorf("Expected SELL title, got %v", embed["title"])
	}
}

func TestSendJoinsProviderErrors(t *testing.T) {
	_, srv := newCapture(http.StatusInternalServerError)
	defer srv.Close()

	m := NewManager(Config{
		Telegram: TelegramConfig{Enabled: true, BotToken: "tok", ChatID: "1", APIURL: srv.URL},
		Discord:  DiscordConfig{Enabled: true, WebhookURL: srv.URL},
	}, logging.Nop())

	err := m.Send(context.Background(), &Notification{Title: "x", Timestamp: time.Now()})
	if err == nil {
		t.Fatal("Expected error from failing providers")
	}
	if !strings.Contains(err.Error(), "telegram") || !strings.Contains(err.Error(), "discord") {
		t.Errorf("Expected both providers named, got %v", err)
	}
}

func TestIncompleteProvidersAreDisabled(t *testing.T) {
	if NewTelegramNotifier(TelegramConfig{Enabled: true, BotToken: "tok"}).IsEnabled() {
		t.Error("Expected telegram without chat id to be disabled")
	}
	if NewDiscordNotifier(DiscordConfig{Enabled: true}).IsEnabled() {
		t.Error("Expected discord without webhook to be disabled")
	}

	m := NewManager(Config{}, logging.Nop())
	if err := m.Submit(context.Background(), testSignal()); err != nil {
		t.Errorf("Expected no-op submit without providers, got %v", err)
	}
	if (Config{}).Enabled() {
		t.Error("Expected empty config to be disabled")
	}
}

func TestWatchForwardsBreakerTrips(t *testing.T) {
	c, srv := newCapture(http.StatusNoContent)
	defer srv.Close()

	bus := events.NewEventBus()
	m := NewManager(Config{Discord: DiscordConfig{Enabled: true, WebhookURL: srv.URL}}, logging.Nop())
	m.Watch(bus)

	bus.PublishCircuitBreaker(map[string]interface{}{"action": "reset", "reason": "manual"})
	bus.PublishError("SOLUSDT", "candles", "primary candle fetch failed", nil)
	bus.PublishCircuitBreaker(map[string]interface{}{"action": "tripped", "reason": "consecutive losses: 3"})

	select {
	case <-c.got:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a notification for the trip")
	}
	select {
	case <-c.got:
		t.Error("Expected only the trip to be forwarded")
	case <-time.After(100 * time.Millisecond):
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	embed := c.bodies[0]["embeds"].([]interface{})[0].(map[string]interface{})
	if !strings.Contains(embed["description"].(string), "consecutive losses: 3") {
		t.Errorf("Expected trip reason in message, got %v", embed["description"])
	}
}

func TestSubmitIgnoresDeliveryFailure(t *testing.T) {
	_, srv := newCapture(http.StatusBadGateway)
	defer srv.Close()

	m := NewManager(Config{Discord: DiscordConfig{Enabled: true, WebhookURL: srv.URL}}, logging.Nop())
	if err := m.Submit(context.Background(), testSignal()); err != nil {
		t.Errorf("Expected delivery failure to be swallowed, got %v", err)
	}
}
