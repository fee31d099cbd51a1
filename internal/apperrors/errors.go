// Package apperrors maps domain failures onto structured HTTP errors.
package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/menta2k/hat-overlay/pkg/asset"
	"github.com/menta2k/hat-overlay/pkg/client"
	"github.com/menta2k/hat-overlay/pkg/compositor"
	"github.com/menta2k/hat-overlay/pkg/processing"
	"github.com/menta2k/hat-overlay/pkg/types"
)

// ErrorType represents the category of error for metrics and response formatting.
type ErrorType string

const (
	// TypeValidation indicates invalid input (HTTP 400)
	TypeValidation ErrorType = "validation"
	// TypeUpstreamUnavailable indicates the model could not be reached (HTTP 502, 500 when unconfigured)
	TypeUpstreamUnavailable ErrorType = "upstream_unavailable"
	// TypeUpstreamRejected indicates the model answered with an error status (HTTP 502)
	TypeUpstreamRejected ErrorType = "upstream_rejected"
	// TypeNoImageProduced indicates the model answered without an image (HTTP 500)
	TypeNoImageProduced ErrorType = "no_image_produced"
	// TypeAssetUnavailable indicates the hat graphic could not be loaded (HTTP 500)
	TypeAssetUnavailable ErrorType = "asset_unavailable"
	// TypeInternal indicates server-side error (HTTP 500)
	TypeInternal ErrorType = "internal"
)

// Response messages the browser client matches on
const (
	MsgNotConfigured = "Server: API Key not configured"
	MsgNoImage       = "No image generated in response"
	MsgHatMissing    = "hat_unavailable"
)

// Error represents a structured error with type, message, and context.
type Error struct {
	Type    ErrorType
	Message string
	Detail  string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the appropriate HTTP status code for this error type.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeUpstreamUnavailable:
		if errors.Is(e.Cause, client.ErrNotConfigured) {
			return http.StatusInternalServerError
		}
		return http.StatusBadGateway
	case TypeUpstreamRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ValidationError creates a new validation error (HTTP 400).
func ValidationError(message string) *Error {
	return &Error{Type: TypeValidation, Message: message}
}

// InternalError creates a new internal error (HTTP 500).
func InternalError(message string, cause error) *Error {
	return &Error{Type: TypeInternal, Message: message, Cause: cause}
}

// WithDetail sets the client-visible detail (chainable).
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// WithContext adds context fields to the error (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ErrorResponse represents the JSON structure sent to clients.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Detail  string         `json:"detail,omitempty"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

// ToResponse converts an Error to an ErrorResponse for JSON serialization.
func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error:   e.Message,
		Detail:  e.Detail,
		Type:    e.Type,
		Context: e.Context,
	}
}

// FromDomain converts any error into a structured Error.
// An *Error is returned unchanged; anything unrecognized becomes internal.
func FromDomain(err error) *Error {
	if err == nil {
		return nil
	}

	var structured *Error
	if errors.As(err, &structured) {
		return structured
	}

	var rejected *client.RejectedError
	var noImage *client.NoImageError
	var assetErr *asset.Error

	switch {
	case errors.Is(err, types.ErrEmptyPhoto), errors.Is(err, types.ErrInvalidDimensions):
		return &Error{Type: TypeValidation, Message: rootMessage(err), Cause: err}
	case errors.Is(err, processing.ErrUnsupportedFormat), errors.Is(err, compositor.ErrInvalidImage):
		return &Error{Type: TypeValidation, Message: "unsupported or undecodable image", Cause: err}
	case errors.Is(err, client.ErrNotConfigured):
		return &Error{Type: TypeUpstreamUnavailable, Message: MsgNotConfigured, Cause: err}
	case errors.As(err, &rejected):
		return (&Error{
			Type:    TypeUpstreamRejected,
			Message: "upstream model rejected the request",
			Detail:  rejected.Detail,
			Cause:   err,
		}).WithContext("upstream_status", rejected.StatusCode)
	case errors.As(err, &noImage):
		return &Error{Type: TypeNoImageProduced, Message: MsgNoImage, Detail: noImage.Raw, Cause: err}
	case errors.Is(err, client.ErrNoImage):
		return &Error{Type: TypeNoImageProduced, Message: MsgNoImage, Cause: err}
	case errors.Is(err, client.ErrUnavailable):
		return &Error{Type: TypeUpstreamUnavailable, Message: "upstream model unavailable", Cause: err}
	case errors.As(err, &assetErr):
		return &Error{Type: TypeAssetUnavailable, Message: MsgHatMissing, Detail: assetErr.Detail(), Cause: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Type: TypeUpstreamUnavailable, Message: "upstream model timed out", Cause: err}
	default:
		return InternalError("internal server error", err)
	}
}

// rootMessage returns the message of the innermost sentinel
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
