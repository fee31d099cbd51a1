package types

import (
	"errors"
	"math"
	"time"
)

// Source tells where a placement came from
type Source string

const (
	SourceModel    Source = "model"
	SourceFallback Source = "fallback"
)

// Placement describes where and how the overlay is drawn, in the photo's pixel space
type Placement struct {
	CenterX         float64 `json:"centerX"`
	CenterY         float64 `json:"centerY"`
	TargetWidth     float64 `json:"targetWidth"`
	RotationDegrees float64 `json:"rotationDegrees"`
	Confidence      float64 `json:"confidence"`
	Source          Source  `json:"source"`
}

// InlineImage is an encoded image exchanged with a model backend
type InlineImage struct {
	MimeType string
	Data     []byte
}

// OverlayAsset is the fixed hat graphic with its intrinsic size
type OverlayAsset struct {
	Data      []byte
	MimeType  string
	Width     int
	Height    int
	FetchedAt time.Time
}

// Inline returns the asset as a model payload
func (a *OverlayAsset) Inline() InlineImage {
	return InlineImage{MimeType: a.MimeType, Data: a.Data}
}

// PlacementHint is a normalized placement passed to the edit model
type PlacementHint struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Scale    float64 `json:"scale"`
	Rotation float64 `json:"rotation"`
}

// CompositeRequest bundles one uploaded photo with its natural dimensions
type CompositeRequest struct {
	Photo    []byte
	MimeType string
	Width    float64
	Height   float64
}

var (
	ErrEmptyPhoto        = errors.New("image is required")
	ErrInvalidDimensions = errors.New("width/height are required")
)

// Validate checks the request before it reaches the estimator
func (r CompositeRequest) Validate() error {
	if len(r.Photo) == 0 {
		return ErrEmptyPhoto
	}
	if !ValidDimensions(r.Width, r.Height) {
		return ErrInvalidDimensions
	}
	return nil
}

// ValidDimensions reports whether both sides are finite and positive
func ValidDimensions(width, height float64) bool {
	return isPositive(width) && isPositive(height)
}

func isPositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// EditResult is the terminal output of the edit pipeline
type EditResult struct {
	Success     bool   `json:"success"`
	Image       []byte `json:"-"`
	MimeType    string `json:"mimeType,omitempty"`
	ErrorDetail string `json:"errorDetail,omitempty"`
}
