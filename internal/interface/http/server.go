// Package http implements the REST API of the lesson insights service:
// learner activity and habit reads, admin analytics and event ingestion.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alem-hub/lesson-insights/internal/application/command"
	"github.com/alem-hub/lesson-insights/internal/application/query"
	"github.com/alem-hub/lesson-insights/internal/infrastructure/metrics"
	"github.com/alem-hub/lesson-insights/internal/interface/http/handlers"
	"github.com/alem-hub/lesson-insights/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	Host string
	Port int

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int

	// EnableMetrics exposes GET /metrics.
	EnableMetrics bool

	// EnableAdmin serves /api/v1/admin.
	EnableAdmin bool

	// RateLimitPerMinute per client IP; 0 disables limiting.
	RateLimitPerMinute int
	RateLimitBurst     int

	// APIKeyHeader and APIKeys guard admin and write routes. No keys means open.
	APIKeyHeader string
	APIKeys      []string

	// Release switches gin to release mode.
	Release bool
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		IdleTimeout:        60 * time.Second,
		MaxHeaderBytes:     1 << 20,
		EnableMetrics:      true,
		EnableAdmin:        true,
		RateLimitPerMinute: 300,
		RateLimitBurst:     50,
		APIKeyHeader:       "X-API-Key",
	}
}

// Address returns the listen address.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies contains everything the handlers call into.
type Dependencies struct {
	Activity *query.ActivityHandler
	Habit    *query.HabitHandler
	Admin    *query.AdminHandler

	IngestEvents  *command.IngestEventsHandler
	UpsertMetrics *command.UpsertMetricsHandler

	Health  *handlers.HealthChecker
	Metrics *metrics.Metrics
	Logger  *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server is the HTTP API server.
type Server struct {
	config     Config
	deps       Dependencies
	engine     *gin.Engine
	httpServer *http.Server
	logger     *logger.Logger

	mu      sync.RWMutex
	running bool
}

// NewServer builds the gin engine and the underlying http.Server.
func NewServer(config Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if config.Release {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config: config,
		deps:   deps,
		engine: gin.New(),
		logger: deps.Logger.With(logger.Component("http")),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.engine,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}
	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	r := s.engine
	r.Use(handlers.Recovery(s.logger))
	r.Use(handlers.RequestID(s.logger))
	r.Use(handlers.AccessLog(s.logger))
	r.Use(s.deps.Metrics.Middleware())
	if s.config.RateLimitPerMinute > 0 {
		r.Use(handlers.NewRateLimiter(s.config.RateLimitPerMinute, s.config.RateLimitBurst).Middleware())
	}

	r.GET("/health", s.handleHealth)
	r.GET("/live", s.handleLive)
	if s.config.EnableMetrics && s.deps.Metrics != nil {
		r.GET("/metrics", s.deps.Metrics.Handler())
	}

	v1 := r.Group("/api/v1")
	{
		users := v1.Group("/users/:userId")
		users.GET("/heatmap", s.handleHeatmap)
		users.GET("/trend", s.handleTrend)
		users.GET("/habit", s.handleHabit)
		users.GET("/streak", s.handleStreak)
		users.GET("/weekly-goal", s.handleWeeklyGoal)
		users.GET("/intervention", s.handleIntervention)

		protected := v1.Group("")
		protected.Use(handlers.APIKeyAuth(s.config.APIKeyHeader, s.config.APIKeys))

		protected.POST("/events", s.handleIngestEvents)
		protected.PUT("/metrics", s.handleUpsertMetrics)

		if s.config.EnableAdmin {
			admin := protected.Group("/admin")
			admin.GET("/summary", s.handleSummary)
			admin.GET("/leaderboards", s.handleLeaderboards)
			admin.GET("/lessons/rankings", s.handleLessonRankings)
			admin.GET("/lessons/priorities", s.handlePriorities)
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine. The channel yields a start
// error, if any, and is closed when the server stops.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// IsRunning reports whether Start has been called and not shut down.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
