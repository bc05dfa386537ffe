package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"binance-decision-core/internal/analysis"
	"binance-decision-core/internal/api"
	"binance-decision-core/internal/binance"
	"binance-decision-core/internal/cache"
	"binance-decision-core/internal/circuit"
	"binance-decision-core/internal/confirmation"
	"binance-decision-core/internal/database"
	"binance-decision-core/internal/engine"
	"binance-decision-core/internal/execution"
	"binance-decision-core/internal/logging"
	"binance-decision-core/internal/notification"
	"binance-decision-core/internal/strategy"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is tried when CONFIG_FILE is unset
const DefaultPath = "config.yaml"

type Config struct {
	Symbols        []string                     `json:"symbols" yaml:"symbols" validate:"required,min=1,dive,required,uppercase"`
	Binance        BinanceConfig                `json:"binance" yaml:"binance"`
	Engine         engine.Config                `json:"engine" yaml:"engine"`
	Context        analysis.ContextConfig       `json:"context" yaml:"context"`
	Structure      StructureConfig              `json:"structure" yaml:"structure"`
	Divergence     analysis.DivergenceConfig    `json:"divergence" yaml:"divergence"`
	Strategies     strategy.Config              `json:"strategies" yaml:"strategies"`
	Coordinator    CoordinatorConfig            `json:"coordinator" yaml:"coordinator"`
	Confirmation   confirmation.Config          `json:"confirmation" yaml:"confirmation"`
	CircuitBreaker circuit.CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
	Execution      ExecutionConfig              `json:"execution" yaml:"execution"`
	Logging        logging.Config               `json:"logging" yaml:"logging"`
	Redis          cache.Config                 `json:"redis" yaml:"redis"`
	Database       database.Config              `json:"database" yaml:"database"`
	Server         api.ServerConfig             `json:"server" yaml:"server"`
	Metrics        MetricsConfig                `json:"metrics" yaml:"metrics"`
	Notifications  notification.Config          `json:"notifications" yaml:"notifications"`
}

// BinanceConfig holds market data settings. Only public endpoints are used.
type BinanceConfig struct {
	BaseURL  string             `json:"base_url" yaml:"base_url" default:"https://api.binance.com" validate:"required,url"`
	MockMode bool               `json:"mock_mode" yaml:"mock_mode"`
	Feed     binance.FeedConfig `json:"feed" yaml:"feed"`
}

// StructureConfig configures the per-symbol trend tracker
type StructureConfig struct {
	TolerancePct float64 `json:"tolerance_pct" yaml:"tolerance_pct" default:"0.1" validate:"gte=0"`
}

// CoordinatorConfig holds the global confidence floor
type CoordinatorConfig struct {
	// MinConfidence is in percent; per-strategy floors override it
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence" default:"50" validate:"gte=0,lte=100"`
}

// ExecutionConfig selects where actionable signals go
type ExecutionConfig struct {
	Sink    string                  `json:"sink" yaml:"sink" default:"log" validate:"oneof=log kafka"`
	Builder execution.BuilderConfig `json:"builder" yaml:"builder"`
	Kafka   execution.KafkaConfig   `json:"kafka" yaml:"kafka"`
}

// MetricsConfig toggles the Prometheus collectors and /metrics route
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// Default returns a fully populated configuration. Booleans that default to
// true are set here since struct tags cannot tell false from unset.
func Default() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		// tags are static; a failure here is a programming error
		panic(fmt.Sprintf("config defaults: %v", err))
	}

	cfg.Symbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	cfg.Engine = engine.DefaultConfig()
	cfg.Strategies = strategy.DefaultConfig()
	cfg.Confirmation = confirmation.DefaultConfig()
	cfg.CircuitBreaker = *circuit.DefaultCircuitBreakerConfig()
	cfg.Server.Enabled = true
	cfg.Metrics.Enabled = true
	return cfg
}

// EngineOptions assembles the analysis settings every session is built from
func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		Engine:                c.Engine,
		Context:               c.Context,
		Divergence:            c.Divergence,
		StructureTolerancePct: c.Structure.TolerancePct,
		Strategies:            c.Strategies,
		MinConfidence:         c.Coordinator.MinConfidence,
	}
}

// Load reads .env, the config file (CONFIG_FILE or config.yaml, optional),
// applies environment overrides and validates the result.
func Load() (*Config, error) {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	path := getEnvOrDefault("CONFIG_FILE", DefaultPath)
	cfg, err := LoadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = Default()
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile decodes a YAML or JSON file over the defaults. The format follows
// the extension; anything other than .json is read as YAML.
func LoadFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		err = json.Unmarshal(file, cfg)
	default:
		err = yaml.Unmarshal(file, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", filename, err)
	}

	normalize(cfg)
	return cfg, nil
}

// Validate checks struct tag constraints and cross-field rules
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Context.MinCandles < cfg.Context.EMAPeriod || cfg.Context.MinCandles <= cfg.Context.ATRPeriod {
		return fmt.Errorf("invalid config: context.min_candles must cover ema_period and atr_period+1")
	}
	if cfg.Confirmation.Backend == "redis" && !cfg.Redis.Enabled {
		return fmt.Errorf("invalid config: confirmation.backend=redis requires redis.enabled")
	}
	if cfg.Execution.Sink == "kafka" && !cfg.Execution.Kafka.Enabled {
		return fmt.Errorf("invalid config: execution.sink=kafka requires execution.kafka.enabled")
	}
	return nil
}

func normalize(cfg *Config) {
	for i, s := range cfg.Symbols {
		cfg.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
}

// applyEnvOverrides applies environment variable overrides to the config.
// No exchange credentials are read; the core only uses public market data.
func applyEnvOverrides(cfg *Config) {
	cfg.Binance.BaseURL = getEnvOrDefault("BINANCE_BASE_URL", cfg.Binance.BaseURL)
	cfg.Binance.MockMode = getEnvBoolOrDefault("MOCK_MODE", cfg.Binance.MockMode)

	if symbols := os.Getenv("SYMBOLS"); symbols != "" {
		cfg.Symbols = strings.Split(symbols, ",")
		normalize(cfg)
	}

	cfg.Engine.PollInterval = getEnvDurationOrDefault("ENGINE_POLL_INTERVAL", cfg.Engine.PollInterval)
	cfg.Coordinator.MinConfidence = getEnvFloatOrDefault("COORDINATOR_MIN_CONFIDENCE", cfg.Coordinator.MinConfidence)
	cfg.Confirmation.Backend = getEnvOrDefault("CONFIRMATION_BACKEND", cfg.Confirmation.Backend)

	// Logging config
	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", cfg.Logging.Output)
	cfg.Logging.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.Logging.JSONFormat)

	// Redis config
	cfg.Redis.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)

	// Database config
	cfg.Database.Enabled = getEnvBoolOrDefault("DB_ENABLED", cfg.Database.Enabled)
	cfg.Database.Host = getEnvOrDefault("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvIntOrDefault("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnvOrDefault("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnvOrDefault("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnvOrDefault("DB_NAME", cfg.Database.Database)

	// Kafka config
	cfg.Execution.Sink = getEnvOrDefault("EXECUTION_SINK", cfg.Execution.Sink)
	cfg.Execution.Kafka.Enabled = getEnvBoolOrDefault("KAFKA_ENABLED", cfg.Execution.Kafka.Enabled)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Execution.Kafka.Brokers = strings.Split(brokers, ",")
	}
	cfg.Execution.Kafka.Topic = getEnvOrDefault("KAFKA_TOPIC", cfg.Execution.Kafka.Topic)

	// Chat notifications
	cfg.Notifications.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.Notifications.Telegram.BotToken)
	cfg.Notifications.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.Notifications.Telegram.ChatID)
	cfg.Notifications.Telegram.Enabled = getEnvBoolOrDefault("TELEGRAM_ENABLED", cfg.Notifications.Telegram.Enabled)
	cfg.Notifications.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.Notifications.Discord.WebhookURL)
	cfg.Notifications.Discord.Enabled = getEnvBoolOrDefault("DISCORD_ENABLED", cfg.Notifications.Discord.Enabled)

	// Server config
	cfg.Server.Enabled = getEnvBoolOrDefault("SERVER_ENABLED", cfg.Server.Enabled)
	cfg.Server.Port = getEnvIntOrDefault("WEB_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnvOrDefault("WEB_HOST", cfg.Server.Host)

	cfg.CircuitBreaker.Enabled = getEnvBoolOrDefault("CIRCUIT_BREAKER_ENABLED", cfg.CircuitBreaker.Enabled)
	cfg.CircuitBreaker.MaxConsecutiveLosses = getEnvIntOrDefault("CIRCUIT_MAX_CONSECUTIVE_LOSSES", cfg.CircuitBreaker.MaxConsecutiveLosses)
	cfg.CircuitBreaker.MaxDailyLoss = getEnvFloatOrDefault("CIRCUIT_MAX_DAILY_LOSS", cfg.CircuitBreaker.MaxDailyLoss)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GenerateSampleConfig writes the defaults as YAML
func GenerateSampleConfig(filename string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
