// Package httpapi exposes ingestion and search over HTTP with echo.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dshills/roomscan-mcp/internal/ingest"
	"github.com/dshills/roomscan-mcp/internal/metrics"
	"github.com/dshills/roomscan-mcp/internal/searcher"
	"github.com/dshills/roomscan-mcp/internal/storage"
	"github.com/dshills/roomscan-mcp/pkg/types"
)

// Searcher answers search queries.
type Searcher interface {
	Search(ctx context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error)
}

// ScanStore is the storage the HTTP surface reads and writes directly.
type ScanStore interface {
	CreateScan(ctx context.Context, scan *types.Scan) error
	GetScan(ctx context.Context, id string) (*types.Scan, error)
	GetStatus(ctx context.Context) (*storage.Status, error)
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Ingester ingest.Ingester
	Trigger  ingest.Trigger
	Searcher Searcher
	Store    ScanStore
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	NewID    func() string // scan ids; defaults to uuid v4
}

// Server is the HTTP front end.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *slog.Logger
}

// New builds the router.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(echo.WrapMiddleware(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "roomscan")
	}))

	s := &Server{echo: e, deps: deps, logger: deps.Logger}
	e.Use(s.requestLogger)

	e.GET("/healthz", s.health)
	e.GET("/metrics", echo.WrapHandler(metricsHandler(deps.Metrics)))

	v1 := e.Group("/v1")
	v1.POST("/scans", s.createScan)
	v1.POST("/scans/analyze", s.analyzeScan)
	v1.GET("/scans/:id", s.getScan)
	v1.POST("/search", s.search)
	v1.GET("/status", s.status)

	return s
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("http server listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		s.logger.Debug("http request",
			"method", c.Request().Method,
			"path", c.Path(),
			"status", c.Response().Status,
			"duration", time.Since(start))
		return nil
	}
}

func metricsHandler(m *metrics.Metrics) http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return m.Handler()
}
