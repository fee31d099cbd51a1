package client

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable covers network failures and an open circuit
	ErrUnavailable = errors.New("upstream unavailable")
	// ErrNotConfigured means no credential is set for the backend
	ErrNotConfigured = fmt.Errorf("%w: credential not configured", ErrUnavailable)
	// ErrNoImage matches *NoImageError
	ErrNoImage = errors.New("no image produced")
)

// RejectedError is a non-success status returned by the model API
type RejectedError struct {
	StatusCode int
	Detail     string
}

func (e *RejectedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("upstream rejected request: status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream rejected request: status %d: %s", e.StatusCode, e.Detail)
}

// NoImageError is a well-formed response that carried no image part
type NoImageError struct {
	Raw string
}

func (e *NoImageError) Error() string {
	return "no image generated in response"
}

func (e *NoImageError) Is(target error) bool {
	return target == ErrNoImage
}

const maxRawLen = 2048

// Truncate shortens upstream bodies before they go into errors and logs
func Truncate(s string) string {
	if len(s) <= maxRawLen {
		return s
	}
	return s[:maxRawLen] + "...(truncated)"
}
