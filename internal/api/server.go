package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"binance-decision-core/internal/circuit"
	"binance-decision-core/internal/database"
	"binance-decision-core/internal/engine"
	"binance-decision-core/internal/events"
	"binance-decision-core/internal/logging"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client and endpoint
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	every    rate.Limit
	burst    int
}

// NewRateLimiter allows limit requests per window for each key
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		every:    rate.Limit(float64(limit) / window.Seconds()),
		burst:    limit,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	limiter, ok := r.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(r.every, r.burst)
		r.limiters[key] = limiter
	}
	r.mu.Unlock()
	return limiter.Allow()
}

// HealthChecker is satisfied by *database.DB and *cache.CacheService
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// History reads the decision journal; *database.Repository satisfies it
type History interface {
	GetRecentDecisions(ctx context.Context, symbol string, limit int) ([]*database.DecisionRecord, error)
	GetRecentSignals(ctx context.Context, limit int) ([]*database.SignalRecord, error)
}

var _ History = (*database.Repository)(nil)

// ServerConfig holds server configuration
type ServerConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled"`
	Port           int      `json:"port" yaml:"port" default:"8090" validate:"gt=0,lte=65535"`
	Host           string   `json:"host" yaml:"host" default:"0.0.0.0"`
	ProductionMode bool     `json:"production_mode" yaml:"production_mode"`
	AllowOrigins   []string `json:"allow_origins" yaml:"allow_origins"`
	// RateLimit is requests per minute per client and route; 0 disables it
	RateLimit int `json:"rate_limit" yaml:"rate_limit" default:"120"`
}

// Deps are the components the operator API reads and controls. Only Engine is required.
type Deps struct {
	Engine   *engine.Engine
	Breaker  *circuit.CircuitBreaker
	Bus      *events.EventBus
	Database HealthChecker
	Cache    HealthChecker
	History  History
	Gatherer prometheus.Gatherer
	Logger   *logging.Logger
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	deps        Deps
	config      ServerConfig
	rateLimiter *RateLimiter
	hub         *EventHub
	upgrader    websocket.Upgrader
	logger      *logging.Logger
	startedAt   time.Time
}

// NewServer creates a new API server
func NewServer(config ServerConfig, deps Deps) (*Server, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("api server requires an engine")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}

	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	logger := deps.Logger.WithComponent("api")

	router.Use(requestLogger(logger))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = config.AllowOrigins
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:8090"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:    router,
		deps:      deps,
		config:    config,
		logger:    logger,
		startedAt: time.Now(),
		upgrader:  newUpgrader(config.AllowOrigins),
	}
	if deps.Bus != nil {
		server.hub = NewEventHub(logger)
		server.hub.Attach(deps.Bus)
	}
	if config.RateLimit > 0 {
		server.rateLimiter = NewRateLimiter(config.RateLimit, time.Minute)
	}

	server.setupRoutes()
	return server, nil
}

// requestLogger logs each request through the structured logger
func requestLogger(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"client", c.ClientIP(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// rateLimitMiddleware limits requests by client IP and route
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.rateLimiter == nil {
			c.Next()
			return
		}
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		if !s.rateLimiter.Allow(c.ClientIP() + " " + path) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   true,
				"message": "Too many requests to this endpoint",
				"path":    path,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	if s.deps.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	if s.hub != nil {
		s.router.GET("/ws/events", s.handleEventStream)
	}

	api := s.router.Group("/api")
	api.Use(s.rateLimitMiddleware())
	{
		api.GET("/sessions", s.handleListSessions)
		api.GET("/sessions/:symbol", s.handleGetSession)
		api.POST("/sessions/:symbol/structure/reset", s.handleResetStructure)

		api.GET("/pending", s.handleListPending)
		api.DELETE("/pending/:id", s.handleCancelPending)

		api.GET("/circuit", s.handleCircuitStatus)
		api.POST("/circuit/reset", s.handleCircuitReset)
		api.POST("/circuit/trades", s.handleRecordTrade)

		api.GET("/events", s.handleRecentEvents)
		api.GET("/decisions", s.handleRecentDecisions)
		api.GET("/signals", s.handleRecentSignals)
	}
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler { return s.router }

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	if s.hub != nil {
		s.hub.Close()
	}

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// handleHealth reports dependency health. The database is the only hard
// dependency; a degraded cache is reported but keeps the status healthy.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{
		"status": "healthy",
		"engine": s.deps.Engine.IsRunning(),
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	}

	code := http.StatusOK
	if s.deps.Database != nil {
		if err := s.deps.Database.HealthCheck(ctx); err != nil {
			body["database"] = "unhealthy"
			body["status"] = "unhealthy"
			code = http.StatusServiceUnavailable
		} else {
			body["database"] = "healthy"
		}
	}
	if s.deps.Cache != nil {
		if err := s.deps.Cache.HealthCheck(ctx); err != nil {
			body["cache"] = "degraded"
		} else {
			body["cache"] = "healthy"
		}
	}

	c.JSON(code, body)
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
