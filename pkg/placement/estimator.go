// Package placement estimates where the hat goes on a photo.
//
// The estimator asks a vision model for the head position and falls back to
// fixed proportions of the photo whenever the model is missing, slow, wrong or
// unparseable. Callers always get a usable Placement.
package placement

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/menta2k/hat-overlay/pkg/client"
	"github.com/menta2k/hat-overlay/pkg/processing"
	"github.com/menta2k/hat-overlay/pkg/types"
)

// DefaultPrompt asks for the placement in the sent image's pixel space.
// The two %d verbs are the width and height of that image.
const DefaultPrompt = `You place a baseball cap on the main person's head in this photo.
The image is %d x %d pixels, origin at the top-left corner.

Return minified JSON only, no prose:
{"centerX":0,"centerY":0,"hatWidth":0,"angleDeg":0,"confidence":0}

RULES
- centerX, centerY: pixel point where the cap's brim line should sit, around the hairline, centered on the head.
- hatWidth: cap width in pixels, slightly wider than the head.
- angleDeg: clockwise rotation in degrees matching the head tilt, 0 means upright.
- confidence: 0.0 to 1.0.
- If no face is detected, return confidence 0 with a best-effort guess.`

// Config holds the estimator tuning. The fallback proportions and clamp limits
// were tuned by eye on sample photos.
type Config struct {
	Model string

	FallbackAnchorX    float64
	FallbackAnchorY    float64
	FallbackWidthRatio float64
	FallbackConfidence float64

	MinWidthRatio float64
	MaxWidthRatio float64
	MaxRotation   float64

	// SendMaxDim limits the long side of the photo sent to the model, 0 sends it as is
	SendMaxDim  int
	SendQuality int

	Timeout time.Duration
}

// DefaultConfig returns the stock tuning
func DefaultConfig() Config {
	return Config{
		Model:              "gemini-2.5-flash",
		FallbackAnchorX:    0.5,
		FallbackAnchorY:    0.18,
		FallbackWidthRatio: 0.6,
		FallbackConfidence: 0.2,
		MinWidthRatio:      0.15,
		MaxWidthRatio:      0.95,
		MaxRotation:        45,
		SendMaxDim:         1536,
		SendQuality:        85,
		Timeout:            60 * time.Second,
	}
}

// Estimator produces placements, delegating to a vision client when one is configured
type Estimator struct {
	client    client.VisionClient
	processor *processing.Processor
	config    Config
}

// New creates an Estimator with default configuration. A nil client means
// no credential is configured and every estimate is the fallback.
func New(vc client.VisionClient) *Estimator {
	return NewWithConfig(vc, DefaultConfig())
}

// NewWithConfig creates an Estimator with custom configuration
func NewWithConfig(vc client.VisionClient, cfg Config) *Estimator {
	return &Estimator{
		client:    vc,
		processor: processing.NewProcessor(),
		config:    cfg,
	}
}

// Enabled reports whether a vision client is configured
func (e *Estimator) Enabled() bool {
	return e.client != nil
}

// Estimate returns a placement for the photo. It never fails.
func (e *Estimator) Estimate(ctx context.Context, req types.CompositeRequest) types.Placement {
	if !types.ValidDimensions(req.Width, req.Height) {
		slog.WarnContext(ctx, "Placement requested with invalid dimensions", "width", req.Width, "height", req.Height)
		return e.Fallback(math.Max(req.Width, 0), math.Max(req.Height, 0))
	}
	if e.client == nil {
		return e.Fallback(req.Width, req.Height)
	}

	p, err := e.estimateWithModel(ctx, req)
	if err != nil {
		slog.WarnContext(ctx, "Placement estimation fell back", "error", err, "model", e.config.Model)
		return e.Fallback(req.Width, req.Height)
	}

	slog.DebugContext(ctx, "Placement estimated",
		"center_x", p.CenterX, "center_y", p.CenterY,
		"width", p.TargetWidth, "angle", p.RotationDegrees, "confidence", p.Confidence)
	return p
}

func (e *Estimator) estimateWithModel(ctx context.Context, req types.CompositeRequest) (types.Placement, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	mi := e.processor.PrepareImageForModel(req.Photo, req.MimeType, req.Width, req.Height, e.config.SendMaxDim, e.config.SendQuality)
	prompt := fmt.Sprintf(DefaultPrompt, mi.Width, mi.Height)

	text, err := e.client.SimpleQuery(ctx, e.config.Model, prompt, mi.Image)
	if err != nil {
		return types.Placement{}, fmt.Errorf("vision query failed: %w", err)
	}

	raw, err := ParseResponse(text)
	if err != nil {
		return types.Placement{}, err
	}

	// back to the original photo's pixel space
	raw.CenterX *= mi.ScaleX
	raw.CenterY *= mi.ScaleY
	raw.HatWidth *= mi.ScaleX

	return e.Clamp(raw, req.Width, req.Height)
}

// Clamp validates a raw estimate and forces every field into range
func (e *Estimator) Clamp(raw RawEstimate, width, height float64) (types.Placement, error) {
	if !raw.Finite() {
		return types.Placement{}, ErrNonFinite
	}

	return types.Placement{
		CenterX:         clamp(raw.CenterX, 0, width),
		CenterY:         clamp(raw.CenterY, 0, height),
		TargetWidth:     clamp(raw.HatWidth, width*e.config.MinWidthRatio, width*e.config.MaxWidthRatio),
		RotationDegrees: clamp(raw.AngleDeg, -e.config.MaxRotation, e.config.MaxRotation),
		Confidence:      clamp(raw.Confidence, 0, 1),
		Source:          types.SourceModel,
	}, nil
}

// Fallback is the deterministic placement used when the model cannot help
func (e *Estimator) Fallback(width, height float64) types.Placement {
	return types.Placement{
		CenterX:         width * e.config.FallbackAnchorX,
		CenterY:         height * e.config.FallbackAnchorY,
		TargetWidth:     width * e.fallbackWidthRatio(),
		RotationDegrees: 0,
		Confidence:      e.config.FallbackConfidence,
		Source:          types.SourceFallback,
	}
}

// fallbackWidthRatio keeps the fallback inside the same width range as model placements
func (e *Estimator) fallbackWidthRatio() float64 {
	if e.config.MaxWidthRatio <= 0 {
		return e.config.FallbackWidthRatio
	}
	return clamp(e.config.FallbackWidthRatio, e.config.MinWidthRatio, e.config.MaxWidthRatio)
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
