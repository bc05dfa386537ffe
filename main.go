package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"binance-decision-core/config"
	"binance-decision-core/internal/api"
	"binance-decision-core/internal/binance"
	"binance-decision-core/internal/cache"
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
	"binance-decision-core/internal/notification"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logCfg := cfg.Logging
	logCfg.Component = "main"
	logger := logging.New(&logCfg)
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized", "symbols", cfg.Symbols)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.System{}
	eventBus := events.NewEventBus()
	setupEventLogging(eventBus, logger)

	// Redis backs the pending-entry store and saved structure state
	var cacheService *cache.CacheService
	if cfg.Redis.Enabled {
		cacheService, err = cache.NewCacheService(cfg.Redis, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Redis", "error", err)
		}
		defer cacheService.Close()
	}

	// PostgreSQL journal is optional
	var repo *database.Repository
	var db *database.DB
	if cfg.Database.Enabled {
		db, err = database.NewDB(ctx, cfg.Database, logger)
		if err != nil {
			logger.Fatal("Failed to connect to database", "error", err)
		}
		defer db.Close()

		if err := db.RunMigrations(ctx); err != nil {
			logger.Fatal("Failed to run migrations", "error", err)
		}
		repo = database.NewRepository(db)
	}

	var recorder *metrics.Recorder
	if cfg.Metrics.Enabled {
		recorder = metrics.New(prometheus.DefaultRegisterer)
	}

	var store confirmation.Store
	if cfg.Confirmation.Backend == "redis" {
		store = confirmation.NewRedisStore(cacheService.GetClient())
		logger.Info("Pending entries stored in Redis")
	}
	confirmations := confirmation.NewManager(cfg.Confirmation, store, clk, logger)

	breakerCfg := cfg.CircuitBreaker
	breaker := circuit.NewCircuitBreaker(&breakerCfg, clk, eventBus)

	builder, err := execution.NewBuilder(cfg.Execution.Builder)
	if err != nil {
		logger.Fatal("Invalid execution builder config", "error", err)
	}

	var sink execution.Sink = execution.NewLogSink(logger)
	if cfg.Execution.Sink == "kafka" {
		kafkaSink, err := execution.NewKafkaSink(cfg.Execution.Kafka)
		if err != nil {
			logger.Fatal("Failed to create Kafka sink", "error", err)
		}
		defer kafkaSink.Close()
		sink = kafkaSink
		logger.Info("Signals published to Kafka", "topic", cfg.Execution.Kafka.Topic)
	}

	if cfg.Notifications.Enabled() {
		notifier := notification.NewManager(cfg.Notifications, logger)
		notifier.Watch(eventBus)
		sink = execution.MultiSink{sink, notifier}
		logger.Info("Chat notifications enabled")
	}

	// Market data
	var client binance.MarketDataClient
	if cfg.Binance.MockMode {
		client = binance.NewMockClient(clk)
		logger.Warn("Mock market data enabled")
	} else {
		client = binance.NewClient(cfg.Binance.BaseURL)
	}
	candleCache := binance.NewCandleCache()
	factory := func(symbol string) market.CandleProvider {
		return binance.NewSymbolFeed(client, symbol, cfg.Binance.Feed, candleCache, clk)
	}

	deps := engine.Deps{
		Confirmations: confirmations,
		Breaker:       breaker,
		Builder:       builder,
		Sink:          sink,
		Bus:           eventBus,
		Metrics:       recorder,
		Clock:         clk,
		Logger:        logger,
	}
	if repo != nil {
		deps.Journal = repo
	}
	if cacheService != nil {
		deps.State = cacheService
	}

	eng, err := engine.New(ctx, cfg.Symbols, factory, cfg.EngineOptions(), deps)
	if err != nil {
		logger.Fatal("Failed to create engine", "error", err)
	}

	// Operator API
	var server *api.Server
	if cfg.Server.Enabled {
		apiDeps := api.Deps{Engine: eng, Breaker: breaker, Bus: eventBus, Logger: logger}
		if db != nil {
			apiDeps.Database = db
			apiDeps.History = repo
		}
		if cacheService != nil {
			apiDeps.Cache = cacheService
		}
		if recorder != nil {
			apiDeps.Gatherer = prometheus.DefaultGatherer
		}
		server, err = api.NewServer(cfg.Server, apiDeps)
		if err != nil {
			logger.Fatal("Failed to create API server", "error", err)
		}
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("API server stopped", "error", err)
			}
		}()
	}

	if err := eng.Start(ctx); err != nil {
		logger.Fatal("Failed to start engine", "error", err)
	}

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down web server", "error", err)
		}
	}
	eng.Stop()

	logger.Info("Shutdown complete")
}

// setupEventLogging mirrors notable bus events into the log
func setupEventLogging(eventBus *events.EventBus, logger *logging.Logger) {
	evLog := logger.WithComponent("events")

	eventBus.Subscribe(events.EventCircuitBreakerUpdate, func(event events.Event) {
		evLog.Warn("Circuit breaker update", "data", event.Data)
	})
	eventBus.Subscribe(events.EventSignalSubmitted, func(event events.Event) {
		evLog.Info("Signal submitted", "symbol", event.Symbol, "data", event.Data)
	})
	eventBus.Subscribe(events.EventError, func(event events.Event) {
		evLog.Error("Pipeline error", "symbol", event.Symbol, "data", event.Data)
	})
}
