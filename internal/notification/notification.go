package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"binance-decision-core/internal/events"
	"binance-decision-core/internal/execution"
	"binance-decision-core/internal/logging"
	"binance-decision-core/internal/market"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	NotifySignal  NotificationType = "signal"
	NotifyBreaker NotificationType = "circuit_breaker"
	NotifyError   NotificationType = "error"
)

// Notification represents a notification message
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Symbol    string
	Price     float64
	Negative  bool // rendered as a warning
	Timestamp time.Time
}

// Notifier interface for different notification providers
type Notifier interface {
	Send(ctx context.Context, n *Notification) error
	Name() string
	IsEnabled() bool
}

// Config holds the chat providers
type Config struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Discord  DiscordConfig  `json:"discord" yaml:"discord"`
}

// Enabled reports whether any provider is configured
func (c Config) Enabled() bool {
	return c.Telegram.Enabled || c.Discord.Enabled
}

// Manager fans notifications out to every enabled provider. It doubles as an
// execution sink so submitted signals reach the chat channels.
type Manager struct {
	notifiers []Notifier
	logger    *logging.Logger
}

var _ execution.Sink = (*Manager)(nil)

// NewManager creates a manager with the configured providers
func NewManager(cfg Config, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Default()
	}
	m := &Manager{logger: logger.WithComponent("notification")}
	if cfg.Telegram.Enabled {
		m.AddNotifier(NewTelegramNotifier(cfg.Telegram))
	}
	if cfg.Discord.Enabled {
		m.AddNotifier(NewDiscordNotifier(cfg.Discord))
	}
	return m
}

// AddNotifier adds a notification provider
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Send delivers to all enabled providers and joins their errors
func (m *Manager) Send(ctx context.Context, n *Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if !notifier.IsEnabled() {
			continue
		}
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Submit announces an actionable signal. Delivery failures are logged and
// never fail the submission.
func (m *Manager) Submit(ctx context.Context, sig execution.Signal) error {
	side := "BUY"
	if sig.Direction == market.Short {
		side = "SELL"
	}
	targets := make([]string, len(sig.TakeProfits))
	for i, tp := range sig.TakeProfits {
		targets[i] = fmt.Sprintf("%.4f", tp)
	}
	entry := "immediate"
	if sig.Confirmed {
		entry = "confirmed"
	}

	err := m.Send(ctx, &Notification{
		Type:  NotifySignal,
		Title: fmt.Sprintf("%s signal: %s", side, sig.Symbol),
		Message: fmt.Sprintf("%s %s @ %.4f\nSL: %.4f | TP: %s\nStrategy: %s (%.0f%%, %s)\nReason: %s",
			side, sig.Symbol, sig.EntryPrice, sig.StopLoss, strings.Join(targets, ", "),
			sig.Strategy, sig.Confidence*100, entry, sig.Reason),
		Symbol:    sig.Symbol,
		Price:     sig.EntryPrice,
		Negative:  sig.Direction == market.Short,
		Timestamp: sig.CreatedAt,
	})
	if err != nil {
		m.logger.Warn("Signal notification failed", "signal_id", sig.ID, "symbol", sig.Symbol, "error", err)
	}
	return nil
}

// Watch forwards circuit breaker trips and submission errors from the bus
func (m *Manager) Watch(bus *events.EventBus) {
	bus.Subscribe(events.EventCircuitBreakerUpdate, func(ev events.Event) {
		if ev.Data["action"] != "tripped" {
			return
		}
		m.deliver(&Notification{
			Type:      NotifyBreaker,
			Title:     "Circuit breaker tripped",
			Message:   fmt.Sprintf("Reason: %v\nNew entries are blocked until the cooldown ends.", ev.Data["reason"]),
			Negative:  true,
			Timestamp: ev.Timestamp,
		})
	})
	bus.Subscribe(events.EventError, func(ev events.Event) {
		// feed outages repeat every poll and are only logged
		if ev.Data["source"] == "candles" {
			return
		}
		m.deliver(&Notification{
			Type:      NotifyError,
			Title:     fmt.Sprintf("Pipeline error: %s", ev.Symbol),
			Message:   fmt.Sprintf("%v: %v", ev.Data["message"], ev.Data["error"]),
			Symbol:    ev.Symbol,
			Negative:  true,
			Timestamp: ev.Timestamp,
		})
	})
}

func (m *Manager) deliver(n *Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := m.Send(ctx, n); err != nil {
		m.logger.Warn("Notification failed", "type", string(n.Type), "error", err)
	}
}

func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// =============================================================================
// TELEGRAM NOTIFIER
// =============================================================================

// TelegramNotifier sends notifications via Telegram
type TelegramNotifier struct {
	cfg     TelegramConfig
	enabled bool
	client  *http.Client
}

// TelegramConfig holds Telegram configuration
type TelegramConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	BotToken string `json:"bot_token" yaml:"bot_token"`
	ChatID   string `json:"chat_id" yaml:"chat_id"`
	APIURL   string `json:"api_url" yaml:"api_url" default:"https://api.telegram.org"`
}

// NewTelegramNotifier creates a new Telegram notifier
func NewTelegramNotifier(cfg TelegramConfig) *TelegramNotifier {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.telegram.org"
	}
	return &TelegramNotifier{
		cfg:     cfg,
		enabled: cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string { return "telegram" }

func (t *TelegramNotifier) IsEnabled() bool { return t.enabled }

func (t *TelegramNotifier) Send(ctx context.Context, n *Notification) error {
	if !t.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"chat_id":    t.cfg.ChatID,
		"text":       fmt.Sprintf("*%s*\n\n%s", n.Title, n.Message),
		"parse_mode": "Markdown",
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.cfg.APIURL, "/"), t.cfg.BotToken)

	status, err := postJSON(ctx, t.client, url, payload)
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", status)
	}
	return nil
}

// =============================================================================
// DISCORD NOTIFIER
// =============================================================================

// DiscordNotifier sends notifications via Discord webhook
type DiscordNotifier struct {
	webhookURL string
	enabled    bool
	client     *http.Client
}

// DiscordConfig holds Discord configuration
type DiscordConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
}

// NewDiscordNotifier creates a new Discord notifier
func NewDiscordNotifier(cfg DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: cfg.WebhookURL,
		enabled:    cfg.Enabled && cfg.WebhookURL != "",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Name() string { return "discord" }

func (d *DiscordNotifier) IsEnabled() bool { return d.enabled }

func (d *DiscordNotifier) Send(ctx context.Context, n *Notification) error {
	if !d.enabled {
		return nil
	}

	color := 0x00FF00
	if n.Negative {
		color = 0xFF0000
	}
	embed := map[string]interface{}{
		"title":       n.Title,
		"description": n.Message,
		"color":       color,
		"timestamp":   n.Timestamp.Format(time.RFC3339),
	}
	if n.Symbol != "" {
		fields := []map[string]interface{}{
			{"name": "Symbol", "value": n.Symbol, "inline": true},
		}
		if n.Price > 0 {
			fields = append(fields, map[string]interface{}{
				"name": "Price", "value": fmt.Sprintf("%.4f", n.Price), "inline": true,
			})
		}
		embed["fields"] = fields
	}

	status, err := postJSON(ctx, d.client, d.webhookURL, map[string]interface{}{
		"embeds": []map[string]interface{}{embed},
	})
	if err != nil {
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return fmt.Errorf("discord API returned status %d", status)
	}
	return nil
}
