// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/fiscalfm/commerce/internal/catalog"
	"github.com/fiscalfm/commerce/internal/checkout"
	"github.com/fiscalfm/commerce/internal/circuitbreaker"
	"github.com/fiscalfm/commerce/internal/config"
	"github.com/fiscalfm/commerce/internal/customers"
	"github.com/fiscalfm/commerce/internal/download"
	"github.com/fiscalfm/commerce/internal/fulfillment"
	"github.com/fiscalfm/commerce/internal/health"
	"github.com/fiscalfm/commerce/internal/logging"
	"github.com/fiscalfm/commerce/internal/metrics"
	"github.com/fiscalfm/commerce/internal/purchase"
	"github.com/fiscalfm/commerce/internal/ratelimit"
	"github.com/fiscalfm/commerce/internal/realtime"
	"github.com/fiscalfm/commerce/internal/security"
	"github.com/fiscalfm/commerce/internal/traces"
	"github.com/fiscalfm/commerce/internal/validation"
	"github.com/fiscalfm/commerce/internal/webhook"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	items      catalog.Store
	purchases  purchase.Store
	tokens     download.Store
	events     webhook.EventStore
	custStore  customers.Store
	provider   checkout.Client
	sender     fulfillment.Sender
	checkout   *checkout.Service
	downloads  *download.Service
	receipts   *fulfillment.Service
	processor  *webhook.Processor
	sweeper    *purchase.Sweeper
	hub        *realtime.Hub
	linkLimit  *ratelimit.Limiter
	healthReg  *health.Registry
	db         *sql.DB // nil if using in-memory
	router     *gin.Engine
	httpSrv    *http.Server
	logger     *slog.Logger
	shutdownTr func(context.Context) error // tracer provider shutdown

	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	ready atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithPaymentProvider sets a custom payment provider client (for testing)
func WithPaymentProvider(client checkout.Client) Option {
	return func(s *Server) {
		s.provider = client
	}
}

// WithEmailSender sets a custom email sender (for testing)
func WithEmailSender(sender fulfillment.Sender) Option {
	return func(s *Server) {
		s.sender = sender
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, "json"),
		healthReg: health.NewRegistry(),
	}

	// Apply options first (may set provider/sender/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.items = catalog.NewPostgresStore(db)
		s.purchases = purchase.NewPostgresStore(db)
		s.tokens = download.NewPostgresStore(db)
		s.events = webhook.NewPostgresEventStore(db)
		s.custStore = customers.NewPostgresStore(db)
		s.healthReg.Register("database", health.DBChecker(db))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.items = catalog.NewMemoryStore()
		s.purchases = purchase.NewMemoryStore()
		s.tokens = download.NewMemoryStore()
		s.events = webhook.NewMemoryEventStore()
		s.custStore = customers.NewMemoryStore()
		s.healthReg.Register("storage", health.StaticChecker("memory"))
		s.logger.Warn("using in-memory storage (set DATABASE_URL for persistence)")
	}

	// Payment provider. Real provider calls go through a circuit breaker so
	// a Stripe outage fails fast instead of tying up request handlers.
	if s.provider == nil {
		s.provider = checkout.WithBreaker(
			checkout.NewStripeClient(cfg.StripeSecretKey),
			circuitbreaker.New(5, 30*time.Second),
		)
	}

	// Email delivery
	if s.sender == nil {
		if cfg.SMTPHost != "" {
			sender, err := fulfillment.NewSMTPSender(fulfillment.SMTPConfig{
				Host:     cfg.SMTPHost,
				Port:     cfg.SMTPPort,
				Username: cfg.SMTPUser,
				Password: cfg.SMTPPassword,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to configure SMTP: %w", err)
			}
			s.sender = sender
		} else {
			s.logger.Warn("SMTP not configured, receipt emails will only be logged")
			s.sender = &logSender{logger: logging.Component(s.logger, "email")}
		}
	}

	// Services
	resolver := customers.NewResolver(s.custStore, s.provider)
	s.hub = realtime.NewHub()
	s.checkout = checkout.NewService(s.items, s.purchases, resolver, s.provider, s.hub, checkout.Config{
		SuccessURL: cfg.SuccessURL,
		CancelURL:  cfg.CancelURL,
	})
	s.downloads = download.NewService(s.tokens, s.items, cfg.DownloadTokenTTL, cfg.MaxDownloads, cfg.DownloadBaseURL)
	s.receipts = fulfillment.NewService(s.sender, cfg.EmailFrom)
	s.processor = webhook.NewProcessor(s.purchases, s.items, s.events, s.downloads, s.receipts, s.hub)
	s.sweeper = purchase.NewSweeper(s.purchases, cfg.PendingPurchaseAge, logging.Component(s.logger, "sweeper"))
	s.linkLimit = ratelimit.New(ratelimit.Config{
		Window: cfg.LinkRateWindow,
		Quota:  cfg.LinkRateQuota,
	})

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// maskDSN hides the password in a database URL for logging.
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
			"details": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

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
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

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
	// Operational endpoints
	s.router.GET("/healthz", s.healthReg.Handler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket endpoint for live purchase events
	s.router.GET("/ws", s.hub.HandleWebSocket)

	v1 := s.router.Group("/v1")

	catalogHandler := catalog.NewHandler(s.items)
	catalogHandler.SetFileURLCheck(security.ValidateFileURL)
	catalogHandler.RegisterRoutes(v1)

	checkoutHandler := checkout.NewHandler(s.checkout)
	checkoutHandler.RegisterRoutes(v1, s.linkLimit.Middleware())

	downloadHandler := download.NewHandler(s.downloads)
	downloadHandler.RegisterRoutes(v1)

	webhookHandler := webhook.NewHandler(s.processor, s.cfg.StripeWebhookSecret)
	webhookHandler.RegisterRoutes(v1)

	// Admin routes, gated by shared secret
	admin := v1.Group("/admin")
	admin.Use(security.AdminAuthMiddleware(s.cfg.AdminSecret))

	catalogHandler.RegisterAdminRoutes(admin)
	purchase.NewHandler(s.purchases).RegisterAdminRoutes(admin)
	fulfillment.NewHandler(s.receipts, s.purchases, s.items, s.downloads).RegisterAdminRoutes(admin)
}

// -----------------------------------------------------------------------------
// Health handlers
// -----------------------------------------------------------------------------

func (s *Server) livenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the server and blocks until shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing
	shutdownTr, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Error("failed to initialize tracing", "error", err)
	} else {
		s.shutdownTr = shutdownTr
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Realtime hub
	go s.hub.Run()

	// Stale pending purchase sweeper
	go s.sweeper.Start(runCtx)

	// DB stats for Prometheus
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

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

	// Cancel the context for all background goroutines
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.sweeper.Stop()
	s.logger.Info("purchase sweeper stopped")

	s.hub.Stop()
	s.logger.Info("realtime hub stopped")

	s.linkLimit.Stop()
	s.logger.Info("rate limiter stopped")

	if s.shutdownTr != nil {
		if err := s.shutdownTr(ctx); err != nil {
			s.logger.Error("tracer shutdown error", "error", err)
		}
	}

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

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// logSender is the fallback email sender used when SMTP is not
// configured; it logs the delivery instead of sending it.
type logSender struct {
	logger *slog.Logger
}

func (l *logSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	l.logger.Info("receipt email suppressed (SMTP not configured)",
		"to", to,
		"subject", subject,
		"body_bytes", len(htmlBody),
	)
	return nil
}
