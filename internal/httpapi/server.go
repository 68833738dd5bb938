// Package httpapi exposes scan and fix runs over HTTP for editor and CI
// integrations. The API is a thin transport: request bodies become config
// overrides, the orchestrator does the work, and result documents come back
// as JSON in their persisted shape.
package httpapi

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

	"github.com/Eng-Elias/codetective/internal/config"
	"github.com/Eng-Elias/codetective/internal/logging"
	"github.com/Eng-Elias/codetective/internal/models"
	"github.com/Eng-Elias/codetective/internal/orchestrator"
	"github.com/Eng-Elias/codetective/internal/system"
	"github.com/Eng-Elias/codetective/internal/version"
)

// Server serves the codetective HTTP API.
type Server struct {
	echo   *echo.Echo
	svc    orchestrator.Service
	prober *system.Prober
	log    *logging.Logger
	cfg    *config.Config
}

// NewServer creates the HTTP server around an orchestrator service. cfg
// provides the defaults each request may override.
func NewServer(svc orchestrator.Service, prober *system.Prober, cfg *config.Config, log *logging.Logger) (*Server, error) {
	if svc == nil {
		return nil, errors.New("orchestrator service is required")
	}
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = logging.NewNop()
	}
	if prober == nil {
		prober = system.NewProber(nil, nil)
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

			log.Info(c.Request().Context(), "http request",
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
		echo:   e,
		svc:    svc,
		prober: prober,
		log:    log.Named("httpapi"),
		cfg:    cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/scan", s.handleScan)
	v1.POST("/fix", s.handleFix)
	v1.GET("/info", s.handleInfo)
}

// ScanRequest is the request body for POST /api/v1/scan. Agents and Mode
// override the server's configured defaults when set.
type ScanRequest struct {
	Paths  []string `json:"paths"`
	Agents []string `json:"agents,omitempty"`
	Mode   string   `json:"mode,omitempty"`
}

// FixRequest is the request body for POST /api/v1/fix. ScanResult is a
// document previously returned by a scan.
type FixRequest struct {
	ScanResult       *models.ScanResult `json:"scan_result"`
	Agent            string             `json:"agent"`
	SelectedIssueIDs []string           `json:"selected_issue_ids,omitempty"`
	DryRun           bool               `json:"dry_run,omitempty"`
}

// FixResponse carries the fix report plus the updated scan document; fix
// runs mutate issue statuses, so clients need both.
type FixResponse struct {
	Fix    *models.FixResult  `json:"fix"`
	Result *models.ScanResult `json:"result"`
}

// InfoResponse is the response body for GET /api/v1/info.
type InfoResponse struct {
	Version string              `json:"version"`
	Tools   []system.ToolStatus `json:"tools"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleScan(c echo.Context) error {
	var req ScanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Paths) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "paths field is required")
	}

	cfg := *s.cfg
	if len(req.Agents) > 0 {
		cfg.Scan.Agents = req.Agents
	}
	if req.Mode != "" {
		if req.Mode != config.ModeSequential && req.Mode != config.ModeParallel {
			return echo.NewHTTPError(http.StatusBadRequest,
				fmt.Sprintf("mode must be %q or %q", config.ModeSequential, config.ModeParallel))
		}
		cfg.Scan.ExecutionMode = req.Mode
	}

	result, err := s.svc.Scan(c.Request().Context(), req.Paths, &cfg)
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleFix(c echo.Context) error {
	var req FixRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ScanResult == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "scan_result field is required")
	}
	if req.Agent == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent field is required")
	}

	cfg := *s.cfg
	cfg.Fix.SelectedIssueIDs = req.SelectedIssueIDs
	cfg.Fix.DryRun = req.DryRun

	fix, err := s.svc.Fix(c.Request().Context(), req.ScanResult, req.Agent, &cfg)
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, FixResponse{Fix: fix, Result: req.ScanResult})
}

func (s *Server) handleInfo(c echo.Context) error {
	return c.JSON(http.StatusOK, InfoResponse{
		Version: version.Version,
		Tools:   s.prober.Probe(c.Request().Context()),
	})
}

// mapError turns orchestrator errors into HTTP status codes: input
// validation is the caller's fault, everything else is ours.
func (s *Server) mapError(c echo.Context, err error) error {
	if orchestrator.IsInvalidInput(err) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.log.Error(c.Request().Context(), "request failed", zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Serve.Host, s.cfg.Serve.Port)
	s.log.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
