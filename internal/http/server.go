// Package http provides the HTTP API for codexd.
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

	"github.com/fyrsmithlabs/codexd/internal/naming"
	"github.com/fyrsmithlabs/codexd/internal/project"
	"github.com/fyrsmithlabs/codexd/internal/session"
)

// Resolver resolves requests to projects. Implemented by project.Resolver.
type Resolver interface {
	Resolve(ctx context.Context, req project.Request) (*project.Resolution, error)
}

// ProjectLister lists registered projects. Implemented by the registry store.
type ProjectLister interface {
	List(ctx context.Context) ([]*project.Project, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server provides HTTP endpoints for codexd.
type Server struct {
	echo     *echo.Echo
	resolver Resolver
	projects ProjectLister
	sessions *session.Tracker
	logger   *zap.Logger
	config   *Config
}

// NewServer creates the HTTP server.
func NewServer(resolver Resolver, projects ProjectLister, sessions *session.Tracker, logger *zap.Logger, cfg *Config) (*Server, error) {
	if resolver == nil {
		return nil, fmt.Errorf("resolver cannot be nil")
	}
	if projects == nil {
		return nil, fmt.Errorf("project lister cannot be nil")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session tracker cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8420}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		resolver: resolver,
		projects: projects,
		sessions: sessions,
		logger:   logger,
		config:   cfg,
	}

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/resolve", s.handleResolve)
	v1.GET("/projects", s.handleListProjects)
	v1.POST("/sessions", s.handleRegisterSession)
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("http server starting", zap.String("addr", addr))

	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleResolve(c echo.Context) error {
	var req project.Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	res, err := s.resolver.Resolve(c.Request().Context(), req)
	if err != nil {
		// Input errors (a bad database-name override) are the caller's to
		// fix; everything else is a server-side failure.
		if errors.Is(err, naming.ErrMissingPrefix) ||
			errors.Is(err, naming.ErrDatabaseNameTooLong) ||
			errors.Is(err, naming.ErrEmptyDatabaseName) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		}
		s.logger.Error("resolution failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "resolution failed"})
	}

	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleListProjects(c echo.Context) error {
	projects, err := s.projects.List(c.Request().Context())
	if err != nil {
		s.logger.Error("listing projects failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "listing projects failed"})
	}

	return c.JSON(http.StatusOK, ListProjectsResponse{Projects: projects})
}

func (s *Server) handleRegisterSession(c echo.Context) error {
	var req RegisterSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	if err := s.sessions.Register(req.SessionID, req.WorkingDirectory); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}

	return c.NoContent(http.StatusNoContent)
}
