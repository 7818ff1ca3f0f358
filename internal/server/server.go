// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mbd888/fraudwatch/internal/admin"
	"github.com/mbd888/fraudwatch/internal/auth"
	"github.com/mbd888/fraudwatch/internal/blacklist"
	"github.com/mbd888/fraudwatch/internal/config"
	"github.com/mbd888/fraudwatch/internal/health"
	"github.com/mbd888/fraudwatch/internal/logging"
	"github.com/mbd888/fraudwatch/internal/metrics"
	"github.com/mbd888/fraudwatch/internal/ratelimit"
	"github.com/mbd888/fraudwatch/internal/realtime"
	"github.com/mbd888/fraudwatch/internal/risk"
	"github.com/mbd888/fraudwatch/internal/security"
	"github.com/mbd888/fraudwatch/internal/transactions"
	"github.com/mbd888/fraudwatch/internal/txstore"
	"github.com/mbd888/fraudwatch/internal/validation"
)

const (
	maintenanceInterval = time.Minute
	collectorInterval   = 15 * time.Second
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	engine       *risk.Engine
	networks     *risk.MemoryNetworks
	store        txstore.Store
	txService    *transactions.Service
	realtimeHub  *realtime.Hub
	healthChecks *health.Registry
	apiLimiter   *ratelimit.Limiter
	adminLimiter *ratelimit.Limiter
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	version      string
	started      time.Time
	drainDelay   time.Duration
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

// WithVersion sets the version reported by /health and traces.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithStore replaces the in-memory transaction store.
func WithStore(store txstore.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		version:    "dev",
		started:    time.Now(),
		drainDelay: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = txstore.NewMemoryStore()
	}

	// Scoring engine and its network registry
	s.networks = risk.NewMemoryNetworks()
	s.engine = risk.NewEngine(cfg.Risk()).WithNetworkRegistry(s.networks)
	if cfg.HistorySource == config.HistoryStore {
		s.engine.WithHistory(s.store)
	}
	if err := s.applySeed(cfg.Seed); err != nil {
		return nil, err
	}

	s.realtimeHub = realtime.NewHub(s.logger)
	s.txService = transactions.NewService(s.engine, s.store, s.realtimeHub, s.logger)

	s.healthChecks = health.NewRegistry()
	s.healthChecks.Register("engine", s.engine.HealthCheck)
	s.healthChecks.Register("realtime", func(context.Context) health.Status {
		stats := s.realtimeHub.Stats()
		return health.Status{
			Name:    "realtime",
			Healthy: stats.ConnectedClients < realtime.MaxClients,
			Detail:  fmt.Sprintf("clients=%d dropped=%d", stats.ConnectedClients, stats.DroppedEvents),
		}
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// applySeed loads the startup blacklist and flagged addresses.
func (s *Server) applySeed(seed *config.Seed) error {
	if seed == nil {
		return nil
	}
	bl := s.engine.Blacklist()
	groups := []struct {
		kind   blacklist.Kind
		values []string
	}{
		{blacklist.KindUser, seed.Blacklist.Users},
		{blacklist.KindIP, seed.Blacklist.IPs},
		{blacklist.KindInstrument, seed.Blacklist.Instruments},
		{blacklist.KindMerchant, seed.Blacklist.Merchants},
	}
	for _, g := range groups {
		for _, v := range g.values {
			if _, ok := blacklist.Normalize(g.kind, v); !ok {
				return fmt.Errorf("seed: invalid %s blacklist entry %q", g.kind, v)
			}
			bl.Add(g.kind, v)
		}
	}
	for _, f := range seed.FlaggedIPs {
		if !validation.IsValidIPv4(f.Address) {
			return fmt.Errorf("seed: invalid flagged IP %q", f.Address)
		}
		s.networks.Flag(f.Address, f.Reason)
	}

	counts := bl.Counts()
	s.logger.Info("seed applied",
		"blacklist", counts.Total,
		"flagged_ips", len(seed.FlaggedIPs),
	)
	return nil
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Request ID first so every later log line carries it
	s.router.Use(s.requestIDMiddleware())

	s.router.Use(security.HeadersMiddleware(s.cfg.IsProduction()))
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger.With("request_id", requestID))
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
			logger.Debug("request completed",
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
	s.router.GET("/", s.infoHandler)

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	apiCfg := ratelimit.APIConfig()
	if s.cfg.RateLimitRPM > 0 {
		apiCfg = ratelimit.PerMinute("api", s.cfg.RateLimitRPM)
	}
	s.apiLimiter = ratelimit.New(apiCfg)
	s.adminLimiter = ratelimit.New(ratelimit.AdminConfig())

	api := s.router.Group("/api")
	api.Use(security.TimeoutMiddleware(security.DefaultRequestTimeout))
	api.Use(s.apiLimiter.Middleware())
	api.GET("/health", s.healthHandler)

	transactions.NewHandler(s.txService).RegisterRoutes(api)

	adminGroup := api.Group("")
	adminGroup.Use(s.adminLimiter.Middleware())
	adminGroup.Use(auth.RequireAdmin(s.cfg.AdminSecret, s.cfg.IsDevelopment()))
	admin.NewHandler(s.engine.Blacklist(), s.logger).
		WithGraph(s.engine).
		WithNetworks(s.networks).
		WithAnalytics(s.txService).
		WithQueue(s.engine).
		WithAnnouncer(s.realtimeHub).
		RegisterRoutes(adminGroup)
	adminGroup.GET("/admin/realtime/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"stats": s.realtimeHub.Stats()})
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Uptime    string          `json:"uptime"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, checks := s.healthChecks.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   s.version,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Checks:    checks,
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
	if ok, checks := s.healthChecks.CheckAll(c.Request.Context()); !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    "fraudwatch",
		"version": s.version,
		"endpoints": gin.H{
			"transactions": "/api/transactions",
			"admin":        "/api/admin",
			"websocket":    "/ws",
			"metrics":      "/metrics",
			"health":       "/health",
		},
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
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
			"threshold_high", s.cfg.ThresholdHigh,
			"threshold_medium", s.cfg.ThresholdMedium,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)
	go s.engine.StartMaintenance(runCtx, maintenanceInterval)
	go metrics.StartEngineCollector(runCtx, s.engine, collectorInterval)
	metrics.ObserveEngine(s.engine.MetricsSnapshot())

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		cancel()
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

	// Cancel the context for all background goroutines (hub, maintenance, collector)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Stop rate limiter cleanup goroutines
	s.apiLimiter.Stop()
	s.adminLimiter.Stop()

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
