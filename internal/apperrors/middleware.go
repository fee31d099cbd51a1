package apperrors

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Observer is told the type of every error the middleware handles
type Observer func(ErrorType)

// Middleware returns an Echo middleware that handles structured errors.
// Errors returned by handlers are mapped with FromDomain and written as JSON.
// Echo's own HTTPErrors pass through to the default error handler.
func Middleware(observe Observer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				if observe != nil {
					observe(typeForStatus(httpErr.Code))
				}
				return err
			}

			return HandleError(c, err, observe)
		}
	}
}

// HandleError writes err as a structured JSON response
func HandleError(c echo.Context, err error, observe Observer) error {
	structured := FromDomain(err)
	if observe != nil {
		observe(structured.Type)
	}
	logError(c, structured)

	if c.Response().Committed {
		return nil
	}
	if err := c.JSON(structured.HTTPStatus(), structured.ToResponse()); err != nil {
		return fmt.Errorf("failed to write error response: %w", err)
	}
	return nil
}

// logError logs an error with request context.
func logError(c echo.Context, err *Error) {
	ctx := c.Request().Context()
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}
	if err.Detail != "" {
		attrs = append(attrs, "detail", err.Detail)
	}
	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	switch err.Type {
	case TypeValidation:
		slog.InfoContext(ctx, "Validation error", attrs...)
	case TypeUpstreamUnavailable, TypeUpstreamRejected, TypeNoImageProduced:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.WarnContext(ctx, "Upstream model error", attrs...)
	default:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Internal error", attrs...)
	}
}

func typeForStatus(code int) ErrorType {
	switch {
	case code >= 400 && code < 500:
		return TypeValidation
	case code == http.StatusBadGateway, code == http.StatusServiceUnavailable:
		return TypeUpstreamUnavailable
	default:
		return TypeInternal
	}
}
