// Package http exposes the approval workflow over a JSON API.
// Handlers translate requests into engine and service calls and nothing more.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rhadityaaa/ewd-tools/internal/application/port"
	"github.com/rhadityaaa/ewd-tools/internal/application/service"
	"github.com/rhadityaaa/ewd-tools/internal/application/workflow"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Observer records request measurements
type Observer interface {
	ObserveHTTP(method, route string, status int, seconds float64)
}

// HealthFunc reports overall health plus per-component details
type HealthFunc func(ctx context.Context) (healthy bool, details interface{})

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// JWTSecret signs HS256 bearer tokens. Issuer and Audience are checked when set.
	JWTSecret string
	Issuer    string
	Audience  string

	// RateLimit is the per-actor mutation rate; zero disables limiting
	RateLimit float64
	Burst     int
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		RateLimit:    5,
		Burst:        10,
	}
}

// Dependencies are the application components served by the API.
// Metrics, MetricsHandler and Health are optional.
type Dependencies struct {
	Engine         workflow.Engine
	Reports        service.ReportService
	Notifications  service.NotificationService
	Directory      port.UserDirectory
	Metrics        Observer
	MetricsHandler http.Handler
	Health         HealthFunc
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	deps       Dependencies
	limiter    *actorLimiter
	logger     Logger
}

// NewServer creates a new HTTP server with the given dependencies
func NewServer(config ServerConfig, deps Dependencies, logger Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		config:  config,
		router:  gin.New(),
		deps:    deps,
		limiter: newActorLimiter(config.RateLimit, config.Burst),
		logger:  logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
	if s.deps.Metrics != nil {
		s.router.Use(s.metricsMiddleware())
	}
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		kv := []interface{}{
			"method", method,
			"path", path,
			"status", status,
			"latency", latency.String(),
			"client_ip", c.ClientIP(),
		}
		if actor, ok := actorFrom(c); ok {
			kv = append(kv, "actor", actor.ID)
		}
		s.logger.Info("HTTP request", kv...)
	}
}

// metricsMiddleware records latency per route template
func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.deps.Metrics.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), time.Since(start).Seconds())
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	h := NewHandlers(s.deps, s.logger)

	s.router.GET("/health", h.HealthCheck)
	if s.deps.MetricsHandler != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.MetricsHandler))
	}

	api := s.router.Group("/api/v1", s.authMiddleware())
	mutate := s.rateLimitMiddleware()
	{
		api.POST("/reports", mutate, h.CreateReport)
		api.GET("/reports/:id", h.GetReport)
		api.GET("/reports/:id/progress", h.GetProgress)
		api.GET("/reports/:id/history", h.GetHistory)
		api.GET("/reports/:id/permissions", h.GetPermissions)
		api.GET("/reports/:id/details", h.GetWorkflowDetails)

		api.POST("/reports/:id/submit", mutate, h.Submit)
		api.POST("/reports/:id/approve", mutate, h.Approve)
		api.POST("/reports/:id/reject", mutate, h.Reject)
		api.POST("/reports/:id/revision", mutate, h.RequestRevision)
		api.POST("/reports/:id/override", mutate, h.Override)
		api.POST("/reports/:id/reassign", mutate, h.Reassign)
		api.POST("/reports/:id/withdraw", mutate, h.Withdraw)

		api.GET("/approvals/pending", h.ListPending)

		api.GET("/notifications", h.ListNotifications)
		api.POST("/notifications/:id/read", mutate, h.MarkNotificationRead)
		api.POST("/notifications/read-all", mutate, h.MarkAllNotificationsRead)

		api.GET("/stats", h.Statistics)
		api.GET("/stats/bottlenecks", h.Bottlenecks)
		api.GET("/stats/timeline", h.Timeline)
		api.GET("/stats/export", h.Export)
	}
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
