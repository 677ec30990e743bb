// Package server wires the RoadWatch HTTP API: storage selection,
// middleware chain, route registration, and lifecycle management.
package server

import (
	"context"
	"database/sql"
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
	_ "github.com/lib/pq"

	"github.com/roadwatch/roadwatch/internal/config"
	"github.com/roadwatch/roadwatch/internal/identity"
	"github.com/roadwatch/roadwatch/internal/idgen"
	"github.com/roadwatch/roadwatch/internal/ingest"
	"github.com/roadwatch/roadwatch/internal/logging"
	"github.com/roadwatch/roadwatch/internal/metrics"
	"github.com/roadwatch/roadwatch/internal/ratelimit"
	"github.com/roadwatch/roadwatch/internal/score"
	"github.com/roadwatch/roadwatch/internal/security"
	"github.com/roadwatch/roadwatch/internal/traces"
	"github.com/roadwatch/roadwatch/internal/validation"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

const maxRequestBody = 1 << 20 // 1 MiB

// Server is the RoadWatch API server.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	router  *gin.Engine
	httpSrv *http.Server

	db *sql.DB // nil when running on in-memory stores

	engine        *score.Engine
	sweeper       *score.Sweeper
	recoveryTimer *score.Timer
	pipeline      *ingest.Pipeline
	identitySvc   *identity.Service
	weights       score.WeightStore

	rateLimiter *ratelimit.Limiter

	shutdownTraces func(context.Context) error
	cancelRunCtx   context.CancelFunc

	ready   atomic.Bool
	healthy atomic.Bool
}

// New creates a fully wired server from configuration. With DATABASE_URL
// set it runs on PostgreSQL; otherwise everything lives in memory, which
// is intended for development and tests only.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
	}
	s.healthy.Store(true)

	var (
		scoreStore    score.Store
		weightStore   score.WeightStore
		ingestStore   ingest.Store
		identityStore identity.Store
	)

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("pinging database: %w", err)
		}

		logger.Info("connected to postgres", "dsn", maskDSN(cfg.DatabaseURL))
		s.db = db
		scoreStore = score.NewPostgresStore(db)
		weightStore = score.NewPostgresWeightStore(db)
		ingestStore = ingest.NewPostgresStore(db)
		identityStore = identity.NewPostgresStore(db)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory storage")
		scoreStore = score.NewMemoryStore()
		weightStore = score.NewMemoryWeightStore()
		ingestStore = ingest.NewMemoryStore()
		identityStore = identity.NewMemoryStore()
	}

	s.weights = weightStore

	s.engine = score.NewEngine(scoreStore, logger)
	s.engine.SetDirectory(ingestStore)
	s.engine.SetDetector(score.NewDetector(scoreStore, score.DefaultMilestoneConfig(), logger))
	s.engine.SetMutationTimeout(cfg.MutationTimeout)

	s.sweeper = score.NewSweeper(s.engine, scoreStore, score.DefaultRecoveryLadder,
		cfg.RecoveryWindow, cfg.SweepTimeout, logger)
	s.recoveryTimer = score.NewTimer(s.sweeper, cfg.RecoveryInterval, logger)

	s.pipeline = ingest.NewPipeline(ingestStore, weightStore, s.engine, logger)

	s.identitySvc = identity.NewService(identityStore, s.engine, identity.Config{
		SecretKey:     cfg.StripeKey,
		WebhookSecret: cfg.StripeWebhookSecret,
	}, logger)

	rlCfg := ratelimit.DefaultConfig()
	if cfg.RateLimitRPM > 0 {
		rlCfg.RequestsPerMinute = cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(rlCfg)

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// maskDSN hides credentials in a connection string for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "(unparseable)"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.Redacted()
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		s.logger.Error("panic recovered",
			"path", c.Request.URL.Path,
			"panic", fmt.Sprintf("%v", recovered),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An internal error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(maxRequestBody))
	s.router.Use(s.rateLimiter.Middleware())
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.WithPrefix("req_")
		}
		c.Header("X-Request-ID", requestID)

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger.With("request_id", requestID))
		c.Request = c.Request.WithContext(ctx)

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
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
		}

		switch {
		case status >= 500:
			logger.Error("request", attrs...)
		case status >= 400:
			logger.Warn("request", attrs...)
		default:
			logger.Info("request", attrs...)
		}
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	scoreHandler := score.NewHandler(s.engine, s.weights, s.sweeper)
	ingestHandler := ingest.NewHandler(s.pipeline)
	identityHandler := identity.NewHandler(s.identitySvc)

	v1 := s.router.Group("/v1")
	{
		scoreHandler.RegisterRoutes(v1)
		ingestHandler.RegisterRoutes(v1)
		identityHandler.RegisterRoutes(v1)
	}

	admin := s.router.Group("/v1/admin")
	admin.Use(security.AdminMiddleware(s.cfg.AdminSecret))
	{
		scoreHandler.RegisterAdminRoutes(admin)
		ingestHandler.RegisterAdminRoutes(admin)
		identityHandler.RegisterAdminRoutes(admin)
	}
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks"`
	Timestamp time.Time         `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]string)
	status := "healthy"
	code := http.StatusOK

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unreachable"
			status = "degraded"
			code = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "in-memory"
	}

	c.JSON(code, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Timestamp: time.Now().UTC(),
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
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Run starts the server and blocks until a shutdown signal or a fatal
// server error. The recovery timer runs for the lifetime of the server.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	shutdownTraces, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("tracing disabled", "error", err)
	} else {
		s.shutdownTraces = shutdownTraces
	}

	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
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
		s.logger.Info("server listening", "addr", s.httpSrv.Addr, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	go s.recoveryTimer.Start(runCtx)

	// Give the listener a moment before declaring readiness.
	time.AfterFunc(100*time.Millisecond, func() { s.ready.Store(true) })

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	s.Shutdown()
	return nil
}

// Shutdown drains in-flight requests and releases resources. Safe to call
// more than once.
func (s *Server) Shutdown() {
	s.ready.Store(false)

	// Let load balancers observe the readiness flip before the listener
	// stops accepting.
	if s.cfg.IsProduction() {
		time.Sleep(5 * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("http shutdown failed", "error", err)
		}
	}

	s.recoveryTimer.Stop()
	s.rateLimiter.Stop()

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(ctx); err != nil {
			s.logger.Warn("trace exporter shutdown failed", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close failed", "error", err)
		}
	}

	s.logger.Info("server stopped")
}

// Router exposes the underlying router for tests.
func (s *Server) Router() *gin.Engine { return s.router }
