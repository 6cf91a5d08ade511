// Package server wires the CryptoGuard HTTP API together.
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
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/mbd888/cryptoguard/internal/account"
	"github.com/mbd888/cryptoguard/internal/admin"
	"github.com/mbd888/cryptoguard/internal/alerts"
	"github.com/mbd888/cryptoguard/internal/auth"
	"github.com/mbd888/cryptoguard/internal/chain"
	"github.com/mbd888/cryptoguard/internal/circuitbreaker"
	"github.com/mbd888/cryptoguard/internal/config"
	"github.com/mbd888/cryptoguard/internal/dashboard"
	"github.com/mbd888/cryptoguard/internal/health"
	"github.com/mbd888/cryptoguard/internal/logging"
	"github.com/mbd888/cryptoguard/internal/metrics"
	"github.com/mbd888/cryptoguard/internal/monitor"
	"github.com/mbd888/cryptoguard/internal/notify"
	"github.com/mbd888/cryptoguard/internal/ratelimit"
	"github.com/mbd888/cryptoguard/internal/realtime"
	"github.com/mbd888/cryptoguard/internal/risk"
	"github.com/mbd888/cryptoguard/internal/security"
	"github.com/mbd888/cryptoguard/internal/syncer"
	"github.com/mbd888/cryptoguard/internal/traces"
	"github.com/mbd888/cryptoguard/internal/validation"
	"github.com/mbd888/cryptoguard/internal/wallet"
)

// Version reported by the health endpoint
const Version = "0.1.0"

// Server is the CryptoGuard API server
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	// Storage
	db      *sql.DB
	users   account.Store
	wallets wallet.Store
	alerts  alerts.Store

	// Services
	authMgr     *auth.Manager
	ethSource   *chain.EthereumSource
	chainBreak  *circuitbreaker.Breaker
	notifyBreak *circuitbreaker.Breaker
	sync        *syncer.Synchronizer
	notifier    *notify.Controller
	monitor     *monitor.Service
	worker      *monitor.Worker
	failures    *wallet.AccessCounter
	networks    wallet.Networks
	realtimeHub *realtime.Hub
	rateLimiter *ratelimit.Limiter
	notifyLimit *ratelimit.Limiter
	health      *health.Registry

	testSource chain.Source

	router       *gin.Engine
	httpSrv      *http.Server
	cancelRunCtx context.CancelFunc
	stopTracing  func(context.Context) error

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

// WithChainSource routes every network to src instead of the simulator
// (for testing).
func WithChainSource(src chain.Source) Option {
	return func(s *Server) {
		s.testSource = src
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}

	for _, opt := range opts {
		opt(s)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	networks, err := wallet.NewNetworks(cfg.SupportedNetworks)
	if err != nil {
		return nil, fmt.Errorf("SUPPORTED_NETWORKS: %w", err)
	}
	s.networks = networks

	ctx := context.Background()

	stop, err := traces.Init(ctx, traces.Config{
		Endpoint:    cfg.OTelEndpoint,
		Environment: cfg.Env,
		Version:     Version,
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.stopTracing = stop

	// Storage: Postgres if DATABASE_URL set, otherwise in-memory
	if cfg.DatabaseURL != "" {
		if err := s.openPostgres(ctx); err != nil {
			return nil, err
		}
	} else {
		s.users = account.NewMemoryStore()
		s.wallets = wallet.NewMemoryStore()
		s.alerts = alerts.NewMemoryStore()
		s.authMgr = auth.NewManager(auth.NewMemoryStore())
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Chain data
	router := chain.NewRouter(chain.NewSimulator(s.wallets))
	if s.testSource != nil {
		router = chain.NewRouter(s.testSource)
	} else if cfg.EthRPCURL != "" {
		eth, err := chain.DialEthereum(ctx, cfg.EthRPCURL, chain.NewSimulator(s.wallets))
		if err != nil {
			return nil, fmt.Errorf("failed to dial ethereum rpc: %w", err)
		}
		s.ethSource = eth
		router.Route(wallet.NetworkETH, eth)
		s.logger.Info("ETH balances read from chain", "rpc", maskDSN(cfg.EthRPCURL))
	}

	var liveness syncer.Liveness = syncer.DefaultFixedLiveness()
	if cfg.LivenessMode == "random" {
		liveness = syncer.NewRandomLiveness(syncer.DefaultRandomConfig(), uint64(time.Now().UnixNano()))
	}

	rates := syncer.RateTable{}
	for k, v := range cfg.USDRates {
		rates[wallet.Network(k)] = v
	}

	s.chainBreak = circuitbreaker.New(5, 30*time.Second)
	s.sync = syncer.New(s.wallets, router, liveness, rates,
		syncer.WithBreaker(s.chainBreak),
		syncer.WithLimits(cfg.TxWindowDefault, cfg.TxWindowMax),
		syncer.WithLogger(s.logger),
	)

	thresholds := risk.Thresholds{
		PerNetwork: map[wallet.Network]decimal.Decimal{},
		Default:    cfg.DefaultTransferThreshold,
	}
	for k, v := range cfg.LargeTransferThresholds {
		thresholds.PerNetwork[wallet.Network(k)] = v
	}
	engine := risk.NewEngine().
		WithThresholds(thresholds).
		WithFailureThreshold(cfg.RepeatedFailureThreshold)

	s.notifier = s.newNotifier()
	s.failures = wallet.NewAccessCounter()

	s.realtimeHub = realtime.NewHub(s.logger, cfg.ClientURL)
	s.logger.Info("realtime streaming enabled")

	s.monitor = monitor.NewService(s.wallets, s.alerts, s.sync, engine, s.notifier,
		monitor.WithMetricsSource(s.failures),
		monitor.WithBroadcaster(s.realtimeHub),
		monitor.WithConcurrency(cfg.MaxConcurrentSyncs),
		monitor.WithTxWindow(cfg.DashboardTxWindow),
		monitor.WithPersistGenerated(cfg.PersistGeneratedAlerts),
		monitor.WithLogger(s.logger),
	)
	if cfg.MonitorInterval > 0 {
		s.worker = monitor.NewWorker(s.monitor, s.users, cfg.MonitorInterval, s.logger)
		s.logger.Info("scheduled monitoring enabled", "interval", cfg.MonitorInterval)
	}

	s.health = health.NewRegistry()
	if s.db != nil {
		s.health.Register("database", health.Database(s.db))
	}
	chainKeys := make([]string, 0, len(s.networks))
	for _, n := range s.networks {
		chainKeys = append(chainKeys, "chain:"+string(n))
	}
	s.health.Register("chain", health.Breakers("chain", s.chainBreak, chainKeys...))
	s.health.Register("notify", health.Breakers("notify", s.notifyBreak, "notify:email", "notify:webhook"))

	if cfg.SeedDemoData() {
		if err := s.seedDemo(ctx); err != nil {
			s.logger.Warn("failed to seed demo data", "error", err)
		}
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func (s *Server) openPostgres(ctx context.Context) error {
	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	s.db = db
	s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))

	walletStore := wallet.NewPostgresStore(db)
	if err := walletStore.Migrate(ctx); err != nil {
		s.logger.Warn("failed to migrate wallet store", "error", err)
	}
	alertStore := alerts.NewPostgresStore(db)
	if err := alertStore.Migrate(ctx); err != nil {
		s.logger.Warn("failed to migrate alert store", "error", err)
	}

	s.users = account.NewPostgresStore(db)
	s.wallets = walletStore
	s.alerts = alertStore
	s.authMgr = auth.NewManager(auth.NewPostgresStore(db))
	return nil
}

// newNotifier builds the notification controller. Email goes over SMTP when
// a host is configured and to the log otherwise.
func (s *Server) newNotifier() *notify.Controller {
	cfg := s.cfg

	var transport notify.Transport
	if cfg.SMTPHost != "" {
		transport = notify.NewSMTPTransport(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
		s.logger.Info("email notifications via SMTP", "host", cfg.SMTPHost, "port", cfg.SMTPPort)
	} else {
		transport = notify.NewLogTransport(s.logger)
		s.logger.Info("email notifications logged only (no SMTP_HOST set)")
	}
	email := notify.NewEmailChannel(cfg.EmailFrom, cfg.ClientURL, transport)

	var webhook notify.Channel
	if cfg.NotificationWebhook != "" {
		if err := security.ValidateEndpointURL(cfg.NotificationWebhook); err != nil {
			s.logger.Warn("notification webhook rejected", "error", err)
		} else {
			webhook = notify.NewWebhookChannel(cfg.NotificationWebhook, cfg.WebhookSecret)
			s.logger.Info("webhook notifications enabled")
		}
	}

	s.notifyLimit = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.NotifyRatePerMinute,
		BurstSize:         cfg.NotifyRatePerMinute,
	})
	s.notifyBreak = circuitbreaker.New(5, time.Minute)
	breaker := s.notifyBreak

	return notify.NewController(email, webhook,
		notify.WithTimeout(cfg.NotifyTimeout),
		notify.WithRateLimiter(s.notifyLimit),
		notify.WithBreaker(breaker),
		notify.WithCooldown(cfg.NotifyCooldown),
		notify.WithLog(notify.NewLog(notify.DefaultLogSize)),
		notify.WithLogger(s.logger),
	)
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

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
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

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware([]string{s.cfg.ClientURL}))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	rl := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		rl.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(rl)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
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
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	authMW := auth.Middleware(s.authMgr, s.users)

	// WebSocket for real-time alert streaming
	s.router.GET("/ws", authMW, auth.RequireAuth(), func(c *gin.Context) {
		u, _ := auth.GetUser(c)
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request, u.ID)
	})

	v1 := s.router.Group("/v1")
	v1.Use(authMW)

	authHandler := auth.NewHandler(s.authMgr, s.users, s.cfg.SeedDemoData(), s.cfg.AdminSecret)
	v1.GET("/auth/info", authHandler.Info)
	v1.POST("/auth/users", authHandler.CreateUser)

	protected := v1.Group("")
	protected.Use(auth.RequireAuth())
	{
		protected.GET("/auth/me", authHandler.Me)
		protected.GET("/auth/keys", authHandler.ListKeys)
		protected.POST("/auth/keys", authHandler.CreateKey)
		protected.DELETE("/auth/keys/:keyId", validation.IDParamMiddleware("keyId"), authHandler.RevokeKey)

		dash := dashboard.NewHandler(s.wallets, s.alerts, s.sync, s.monitor).
			WithNotifier(s.notifier).
			WithAccessCounter(s.failures).
			WithBroadcaster(s.realtimeHub).
			WithNetworks(s.networks)
		dash.RegisterRoutes(protected)

		protected.GET("/stream/stats", func(c *gin.Context) {
			c.JSON(http.StatusOK, s.realtimeHub.Stats())
		})
	}

	adminGroup := v1.Group("")
	adminGroup.Use(auth.RequireAdmin(s.cfg.AdminSecret))
	{
		adminHandler := admin.NewHandler(s.users, s.wallets, s.sync).
			WithNotificationLog(s.notifier.Log())
		if s.worker != nil {
			adminHandler = adminHandler.WithSweeper(s.worker)
		}
		adminHandler.RegisterRoutes(adminGroup)
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
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
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
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

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if s.worker != nil {
		s.worker.Start(runCtx)
	}

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

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

	if s.worker != nil {
		s.worker.Stop()
		s.logger.Info("monitor worker stopped")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.notifyLimit != nil {
		s.notifyLimit.Stop()
	}

	if s.ethSource != nil {
		s.ethSource.Close()
	}

	if s.stopTracing != nil {
		if err := s.stopTracing(ctx); err != nil {
			s.logger.Error("tracing shutdown error", "error", err)
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
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
