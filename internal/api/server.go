// Package api exposes the management HTTP surface: account CRUD, on-demand
// connection tests, diagnostics, sync triggers and keep-alive control.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/avitobridge/avitobridge/internal/avito"
	"github.com/avitobridge/avitobridge/internal/config"
	"github.com/avitobridge/avitobridge/internal/diag"
	"github.com/avitobridge/avitobridge/internal/keepalive"
	"github.com/avitobridge/avitobridge/internal/logging"
	"github.com/avitobridge/avitobridge/internal/metrics"
	"github.com/avitobridge/avitobridge/internal/models"
	"github.com/avitobridge/avitobridge/internal/store"
)

// ClientFactory builds an ApiClient for one credentials + proxy pairing.
// Injected so tests can point clients at a stub server.
type ClientFactory func(creds models.AccountCredentials, proxyCfg *models.ProxyConfig) (*avito.ApiClient, error)

// AlertReporter receives operation failures worth an operator notification.
type AlertReporter interface {
	SyncFailed(accountID string, cause error)
	ProxyBlocking(accountID string, detail string)
}

// Server is the management HTTP server.
type Server struct {
	router     *gin.Engine
	config     config.ServerConfig
	apiConfig  config.APIConfig
	store      store.Store
	scheduler  *keepalive.Scheduler
	diag       *diag.Runner
	clients    ClientFactory
	alerts     AlertReporter
	metrics    *metrics.Metrics
	logger     *logging.Logger
	httpServer *http.Server
}

// SetAlertReporter wires failure notifications; optional.
func (s *Server) SetAlertReporter(r AlertReporter) { s.alerts = r }

// Router returns the gin router, for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// NewServer wires the management API.
func NewServer(cfg config.ServerConfig, apiCfg config.APIConfig, st store.Store, scheduler *keepalive.Scheduler, runner *diag.Runner, clients ClientFactory, m *metrics.Metrics, logger *logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	if m == nil {
		m = metrics.NewMetrics("avitobridge")
	}
	if logger == nil {
		logger = logging.NewLogger()
	}

	requestsPerMinute := apiCfg.RateLimit.RequestsPerMinute
	if requestsPerMinute <= 0 {
		requestsPerMinute = 600
	}
	burst := apiCfg.RateLimit.Burst
	if burst <= 0 {
		burst = 60
	}

	server := &Server{
		router:    gin.New(),
		config:    cfg,
		apiConfig: apiCfg,
		store:     st,
		scheduler: scheduler,
		diag:      runner,
		clients:   clients,
		metrics:   m,
		logger:    logger,
	}
	server.router.HandleMethodNotAllowed = true

	server.router.Use(gin.Recovery())
	server.router.Use(rateLimitMiddleware(newIPRateLimiter(time.Minute/time.Duration(requestsPerMinute), burst)))
	server.router.Use(bodyLimitMiddleware(1 << 20))
	server.router.Use(metrics.Middleware(m, logger))
	server.router.Use(loggingMiddleware(logger))

	server.setupRoutes()
	return server
}

// loggingMiddleware attaches a correlation ID and logs request completion.
func loggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = logging.GenerateCorrelationID()
		}
		ctx := logging.WithCorrelationID(c.Request.Context(), correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		logger.InfoWithContext(ctx, "request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_seconds", time.Since(start).Seconds(),
		)
	}
}

func (s *Server) setupRoutes() {
	// Unauthenticated operational endpoints.
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	s.router.GET("/healthz", s.handleHealth)

	authMiddleware := APIKeyAuth(s.apiConfig.Auth.APIKeys, s.apiConfig.Auth.HeaderName, s.logger)

	v1 := s.router.Group("/v1")
	v1.Use(authMiddleware)
	{
		v1.GET("/accounts", s.handleListAccounts)
		v1.POST("/accounts", s.handleUpsertAccount)
		v1.GET("/accounts/:id", s.handleGetAccount)
		v1.DELETE("/accounts/:id", s.handleDeleteAccount)

		v1.POST("/accounts/:id/test-connection", s.handleTestConnection)
		v1.POST("/accounts/:id/diagnose", s.handleDiagnose)
		v1.POST("/accounts/:id/sync", s.handleSync)
		v1.PUT("/accounts/:id/keepalive", s.handleKeepAlive)
	}
}

// Run starts the HTTP server and blocks.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.HTTPPort)
	if s.httpServer == nil {
		s.httpServer = NewHTTPServer(addr, s.router)
	}
	s.logger.Info("starting HTTP server", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests, stops every keep-alive job and closes
// the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	var firstErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", "error", err.Error())
			firstErr = err
		}
	}

	if s.scheduler != nil {
		s.scheduler.StopAll()
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("store close: %w", err)
		}
	}

	if firstErr == nil {
		s.logger.Info("graceful shutdown completed")
	}
	return firstErr
}

func (s *Server) handleHealth(c *gin.Context) {
	stats := s.store.Stats()
	jobs := 0
	if s.scheduler != nil {
		jobs = s.scheduler.Registry().Len()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"timestamp":      time.Now().UTC(),
		"accounts":       stats.Accounts,
		"proxies":        stats.Proxies,
		"keepalive_jobs": jobs,
	})
}
