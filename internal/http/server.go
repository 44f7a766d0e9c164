// Package http serves cadence's operational API: health, Prometheus
// metrics, scheduler status and work summaries.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cadence/internal/scheduler"
	"github.com/fyrsmithlabs/cadence/internal/summary"
	"github.com/fyrsmithlabs/cadence/internal/workunit"
)

// Scheduler is the part of the scheduler the API exposes.
type Scheduler interface {
	Status() scheduler.Status
	PlanDay(ctx context.Context) scheduler.PlanResult
	Tick(ctx context.Context) *workunit.WorkUnit
}

// Summaries reads persisted work summaries.
type Summaries interface {
	Get(ctx context.Context, slug string) (*summary.WorkSummary, error)
	ByDate(ctx context.Context, date time.Time) ([]*summary.WorkSummary, error)
	Search(ctx context.Context, query string, limit int) ([]*summary.WorkSummary, error)
	Stats(ctx context.Context, start, end time.Time) (*summary.Stats, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
}

// Server provides the operational endpoints.
type Server struct {
	echo      *echo.Echo
	scheduler Scheduler
	summaries Summaries
	logger    *zap.Logger
	config    *Config
	clock     func() time.Time
}

// NewServer creates the server. summaries may be nil, in which case the
// summary routes answer 503.
func NewServer(sched Scheduler, summaries Summaries, logger *zap.Logger, cfg *Config) (*Server, error) {
	if sched == nil {
		return nil, fmt.Errorf("scheduler cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "127.0.0.1", Port: 9191}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:      e,
		scheduler: sched,
		summaries: summaries,
		logger:    logger.Named("http"),
		config:    cfg,
		clock:     time.Now,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.POST("/plan", s.handlePlan)
	v1.POST("/tick", s.handleTick)
	v1.GET("/summaries", s.handleSummaries)
	// Slugs contain slashes, e.g. work/2026-10-15/morning-reflection-ab12.
	v1.GET("/summaries/*", s.handleSummary)
	v1.GET("/stats", s.handleStats)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens until Shutdown. http.ErrServerClosed is not an error.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
