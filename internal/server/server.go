// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/phishnet/phishnet/internal/circuitbreaker"
	"github.com/phishnet/phishnet/internal/config"
	"github.com/phishnet/phishnet/internal/fraud"
	"github.com/phishnet/phishnet/internal/health"
	"github.com/phishnet/phishnet/internal/idgen"
	"github.com/phishnet/phishnet/internal/logging"
	"github.com/phishnet/phishnet/internal/metrics"
	"github.com/phishnet/phishnet/internal/queue"
	"github.com/phishnet/phishnet/internal/ratelimit"
	"github.com/phishnet/phishnet/internal/realtime"
	"github.com/phishnet/phishnet/internal/security"
	"github.com/phishnet/phishnet/internal/validation"
	"github.com/phishnet/phishnet/pkg/smsclient"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	txns         fraud.TransactionStore
	users        fraud.UserStore
	alerts       fraud.AlertStore
	engine       *fraud.Engine
	correlator   *fraud.Correlator
	travel       *fraud.TravelController
	processor    *fraud.Processor
	interpreter  *fraud.Interpreter
	notifier     fraud.Notifier
	producer     *queue.Producer // nil: ingest scores inline
	consumer     *queue.Consumer // nil: no queue consumption
	realtimeHub  *realtime.Hub
	checks       *health.Registry
	rateLimiter  *ratelimit.Limiter
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithNotifier sets a custom SMS notifier (for testing)
func WithNotifier(n fraud.Notifier) Option {
	return func(s *Server) {
		s.notifier = n
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		checks: health.NewRegistry(),
	}

	// Apply options first (may set notifier/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.txns = fraud.NewPostgresTransactionStore(db)
		s.users = fraud.NewPostgresUserStore(db)
		s.alerts = fraud.NewPostgresAlertStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.checks.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		s.txns = fraud.NewMemoryTransactionStore()
		s.users = fraud.NewMemoryUserStore()
		s.alerts = fraud.NewMemoryAlertStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Load the classifier (packaged demo model unless MODEL_PATH points at
	// a trained artifact)
	var classifier *fraud.Classifier
	if cfg.ModelPath != "" {
		c, err := fraud.LoadClassifier(cfg.ModelPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load classifier: %w", err)
		}
		classifier = c
		s.logger.Info("classifier loaded", "path", cfg.ModelPath)
	} else {
		classifier = fraud.DemoClassifier()
		s.logger.Info("using built-in demo classifier")
	}

	s.engine = fraud.NewEngine(fraud.NewRuleEvaluator(), classifier).WithThreshold(cfg.FlagThreshold)
	s.correlator = fraud.NewCorrelator(s.alerts).WithLookback(cfg.AlertLookback)
	s.travel = fraud.NewTravelController(s.users)

	// SMS transport: real Twilio-compatible client when credentials are
	// present, log-only otherwise so local runs need no account. The real
	// client sits behind a circuit breaker so an SMS API outage fails
	// sends fast and lets the queue redeliver later.
	if s.notifier == nil {
		if cfg.SMSEnabled() {
			client := smsclient.NewClient(cfg.TwilioBaseURL, cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFrom)
			s.notifier = &breakerNotifier{
				next:    client,
				breaker: circuitbreaker.New(5, 30*time.Second),
			}
			s.logger.Info("SMS delivery enabled", "from", cfg.TwilioFrom)
		} else {
			s.notifier = &logNotifier{logger: s.logger}
			s.logger.Warn("SMS credentials not set, alerts will be logged only")
		}
	}

	// Create realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	s.processor = fraud.NewProcessor(s.txns, s.users, s.engine, s.correlator, s.notifier, s.realtimeHub)
	s.interpreter = fraud.NewInterpreter(s.txns, s.users, s.correlator, s.travel, s.realtimeHub)

	// Queue plumbing (optional; without a broker, ingest scores inline)
	if cfg.AMQPURL != "" {
		producer, err := queue.NewProducer(cfg.AMQPURL, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect producer: %w", err)
		}
		s.producer = producer

		consumer, err := queue.NewConsumer(cfg.AMQPURL, s.logger)
		if err != nil {
			producer.Close()
			return nil, fmt.Errorf("failed to connect consumer: %w", err)
		}
		s.consumer = consumer
		s.logger.Info("queue connected", "exchange", cfg.ScoringExchange, "queue", cfg.ScoringQueue)

		s.checks.Register("amqp", func(ctx context.Context) health.Status {
			if err := s.consumer.Ping(); err != nil {
				return health.Status{Name: "amqp", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "amqp", Healthy: true}
		})
	} else {
		s.logger.Info("AMQP_URL not set, scoring transactions inline")
	}

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// logNotifier logs outbound messages instead of sending them. Used when
// no SMS credentials are configured.
type logNotifier struct {
	logger *slog.Logger
}

func (n *logNotifier) Send(_ context.Context, to, body string) error {
	n.logger.Info("SMS (log only)", "to", to, "body", body)
	return nil
}

// breakerNotifier guards SMS sends with a circuit breaker.
type breakerNotifier struct {
	next    fraud.Notifier
	breaker *circuitbreaker.Breaker
}

const smsBreakerKey = "sms"

func (n *breakerNotifier) Send(ctx context.Context, to, body string) error {
	if !n.breaker.Allow(smsBreakerKey) {
		return fmt.Errorf("SMS circuit open, send rejected")
	}
	if err := n.next.Send(ctx, to, body); err != nil {
		n.breaker.RecordFailure(smsBreakerKey)
		return err
	}
	n.breaker.RecordSuccess(smsBreakerKey)
	return nil
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.WithPrefix("req_")
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// Inbound SMS replies (Twilio-style webhook, form-encoded)
	s.router.POST("/webhooks/sms", s.smsWebhookHandler)

	// V1 API group
	v1 := s.router.Group("/v1")

	v1.POST("/transactions", s.ingestTransaction)
	v1.GET("/transactions/:id", s.getTransaction)
	v1.POST("/users", s.createUser)
	v1.GET("/users/:id", s.getUser)
	v1.GET("/alerts/:phone", s.listAlerts)
	v1.GET("/stats", s.statsHandler)
}

// -----------------------------------------------------------------------------
// Health handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "PhishNet",
		"description": "Fraud scoring and SMS confirmation engine",
		"version":     "0.1.0",
	})
}

func (s *Server) statsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"realtime": s.realtimeHub.Stats(),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start the scoring consumer
	if s.consumer != nil {
		err := s.consumer.Start(runCtx, s.cfg.ScoringExchange, s.cfg.ScoringQueue, s.cfg.ScoringRoutingKey, s.processor)
		if err != nil {
			cancel()
			return fmt.Errorf("failed to start scoring consumer: %w", err)
		}
	}

	// Collect database pool stats
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, consumer)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Close queue connections
	if s.consumer != nil {
		s.consumer.Close()
		s.logger.Info("scoring consumer stopped")
	}
	if s.producer != nil {
		s.producer.Close()
		s.logger.Info("producer stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
