// Package httpserver exposes placement, compositing and editing over HTTP.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	hatoverlay "github.com/menta2k/hat-overlay"
	"github.com/menta2k/hat-overlay/internal/config"
	"github.com/menta2k/hat-overlay/internal/metrics"
	"github.com/menta2k/hat-overlay/pkg/edit"
	"github.com/menta2k/hat-overlay/pkg/types"
)

type overlayService interface {
	Place(ctx context.Context, req types.CompositeRequest) (types.Placement, error)
	Composite(ctx context.Context, req types.CompositeRequest) (hatoverlay.Result, error)
	Edit(ctx context.Context, req edit.Request) (types.EditResult, error)
	Encode(w io.Writer, img image.Image, format string, quality int, lossless bool) error
}

type assetProvider interface {
	Get(ctx context.Context) (*types.OverlayAsset, error)
}

// HealthCheck is a named health check function.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Dependencies are the collaborators the server needs
type Dependencies struct {
	Service  overlayService
	Assets   assetProvider
	Registry *prometheus.Registry
	Domain   *metrics.DomainMetrics

	HealthChecks []HealthCheck
	Clock        clockwork.Clock
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	service overlayService
	assets  assetProvider

	registry    *prometheus.Registry
	httpMetrics *metrics.HTTPMetrics
	domain      *metrics.DomainMetrics

	healthChecks []HealthCheck
	clock        clockwork.Clock
	startTime    time.Time
}

func NewServer(cfg *config.Config, deps Dependencies) (*Server, error) {
	if deps.Service == nil || deps.Assets == nil {
		return nil, errors.New("httpserver: service and assets are required")
	}
	if deps.Registry == nil {
		deps.Registry = metrics.NewRegistry()
	}
	if deps.Domain == nil {
		deps.Domain = metrics.NewDomainMetrics(deps.Registry)
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		config:       cfg,
		service:      deps.Service,
		assets:       deps.Assets,
		registry:     deps.Registry,
		httpMetrics:  metrics.NewHTTPMetrics(deps.Registry),
		domain:       deps.Domain,
		healthChecks: deps.HealthChecks,
		clock:        deps.Clock,
		startTime:    deps.Clock.Now(),
	}

	srv.registerRoutes()

	return srv, nil
}

// ServeHTTP lets the server be mounted or exercised without a listener
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
