package httpserver

import (
	"log/slog"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/menta2k/hat-overlay/internal/apperrors"
	"github.com/menta2k/hat-overlay/internal/metrics"
)

func (s *Server) registerRoutes() {
	s.echo.Use(requestIDMiddleware())
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(s.httpMetrics.Middleware())
	s.echo.Use(middleware.CORS())
	s.echo.Use(middleware.BodyLimit(bodyLimit(s.config.MaxUploadBytes)))
	s.echo.Use(apperrors.Middleware(func(t apperrors.ErrorType) {
		s.httpMetrics.ObserveError(string(t))
	}))

	s.registerHealthRoutes()
	s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler(s.registry)))

	s.echo.GET("/asset", s.handleAsset)
	s.echo.GET("/assets/hat.png", s.handleAsset)

	limiter := newRateLimiter(s.config.RateLimitPerSecond, s.config.RateLimitBurst)
	s.echo.POST("/placement", s.handlePlacement, limiter)
	s.echo.POST("/api/hat-placement", s.handlePlacement, limiter)
	s.echo.POST("/edit", s.handleEdit, limiter)
	s.echo.POST("/api/generate", s.handleEdit, limiter)
	s.echo.POST("/composite", s.handleComposite, limiter)

	if dir := s.config.PublicDir; dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			s.echo.Static("/", dir)
		}
	}
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}
