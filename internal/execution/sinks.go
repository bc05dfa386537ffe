package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"binance-decision-core/internal/logging"

	"github.com/segmentio/kafka-go"
)

// LogSink writes signals to the structured log. Used when no downstream
// position manager is configured.
type LogSink struct {
	logger *logging.Logger
}

func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSink{logger: logger.WithComponent("execution")}
}

func (s *LogSink) Submit(_ context.Context, sig Signal) error {
	s.logger.Info("Signal ready for execution",
		"id", sig.ID,
		"symbol", sig.Symbol,
		"direction", string(sig.Direction),
		"entry", sig.EntryPrice,
		"stop_loss", sig.StopLoss,
		"take_profits", fmt.Sprint(sig.TakeProfits),
		"confidence", sig.Confidence,
		"strategy", sig.Strategy,
		"confirmed", sig.Confirmed)
	return nil
}

// KafkaConfig configures the signal topic producer
type KafkaConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Brokers      []string      `json:"brokers" yaml:"brokers" validate:"required_if=Enabled true"`
	Topic        string        `json:"topic" yaml:"topic" default:"trade-signals"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" default:"10s"`
	MaxAttempts  int           `json:"max_attempts" yaml:"max_attempts" default:"3"`
}

// messageWriter is the subset of *kafka.Writer the sink needs
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes signals as JSON keyed by symbol so one symbol's signals
// stay ordered within a partition.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

// NewKafkaSink builds a synchronous, hash-balanced producer
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaSink{writer: w, topic: cfg.Topic}, nil
}

func (s *KafkaSink) Submit(ctx context.Context, sig Signal) error {
	value, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(sig.Symbol),
		Value: value,
		Time:  sig.CreatedAt,
		Headers: []kafka.Header{
			{Key: "strategy", Value: []byte(sig.Strategy)},
			{Key: "direction", Value: []byte(sig.Direction)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish signal to %s: %w", s.topic, err)
	}
	return nil
}

// Close flushes and closes the producer
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
