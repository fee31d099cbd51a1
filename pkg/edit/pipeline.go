// Package edit asks an image model to re-render a hat composite realistically.
package edit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/menta2k/hat-overlay/pkg/client"
	"github.com/menta2k/hat-overlay/pkg/types"
)

const (
	DefaultModel   = "gemini-2.5-flash-image-preview"
	DefaultTimeout = 120 * time.Second
)

// DefaultInstruction is used when a single pre-composited photo arrives without a prompt
const DefaultInstruction = `This photo is a composite: a red baseball cap with "MPGA" text has been placed on a person.
Make the composite look completely realistic while keeping the cap's design.

STRICT RULES:
1. Do not alter, blur or regenerate the "MPGA" text. It must stay sharp and legible.
2. Do not change the cap's shape or its red color.
3. Only adjust lighting and shadows on the cap to match the scene.
4. Blend the cap's edges naturally into the person's hair and head.
5. Keep the face and the background identical to the original.
6. Adjust the cap's size, scale and perspective slightly so it fits the head size and angle.

Output: one high-quality, photorealistic image.`

// twoImageInstruction is used when the photo and the cap are sent separately.
// The verbs are the normalized center x and y, the width fraction and the rotation.
const twoImageInstruction = `The first image is a photo of a person. The second image is a red baseball cap with "MPGA" text.
Put the cap on the person's head and return one photorealistic image.

PLACEMENT HINT (fractions of the photo size, origin top-left):
- brim center at x=%.3f, y=%.3f
- cap width about %.3f of the photo width
- rotated %.1f degrees clockwise

STRICT RULES:
1. Do not alter, blur or regenerate the "MPGA" text. It must stay sharp and legible.
2. Do not change the cap's shape or its red color.
3. Match the cap's lighting and shadows to the scene.
4. Blend the cap's edges naturally into the hair and head.
5. Keep the face and the background identical to the first image.
6. Follow the hint loosely: fit the cap to the real head size and angle.`

// hint limits
const (
	minHintScale = 0.05
	maxHintScale = 1.5
	maxHintAngle = 45
)

// Request is one edit job. Overlay switches to two-image mode.
type Request struct {
	Photo       types.InlineImage
	Instruction string
	Overlay     *types.InlineImage
	Hint        *types.PlacementHint
}

// Config holds pipeline settings
type Config struct {
	Model   string
	Timeout time.Duration
}

// Pipeline sends edit requests to an image model
type Pipeline struct {
	editor client.ImageEditor
	config Config
}

// New creates a Pipeline for model. A nil editor means no credential is configured.
func New(editor client.ImageEditor, model string) *Pipeline {
	return NewWithConfig(editor, Config{Model: model, Timeout: DefaultTimeout})
}

// NewWithConfig creates a Pipeline with custom configuration
func NewWithConfig(editor client.ImageEditor, cfg Config) *Pipeline {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Pipeline{editor: editor, config: cfg}
}

// Enabled reports whether an image model is configured
func (p *Pipeline) Enabled() bool {
	return p.editor != nil
}

// Edit returns the re-rendered image. Failures carry the client package errors
// (ErrNotConfigured, ErrUnavailable, *RejectedError, *NoImageError) and a
// result with ErrorDetail set.
func (p *Pipeline) Edit(ctx context.Context, req Request) (types.EditResult, error) {
	if p.editor == nil {
		return failed(client.ErrNotConfigured)
	}
	if len(req.Photo.Data) == 0 {
		return failed(types.ErrEmptyPhoto)
	}
	if req.Overlay != nil && len(req.Overlay.Data) == 0 {
		return failed(errors.New("hat image is empty"))
	}

	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	photo := req.Photo
	if photo.MimeType == "" {
		photo.MimeType = "image/jpeg"
	}
	images := []types.InlineImage{photo}
	if req.Overlay != nil {
		images = append(images, *req.Overlay)
	}

	start := time.Now()
	img, err := p.editor.GenerateImage(ctx, p.config.Model, BuildInstruction(req), images)
	if err != nil {
		attrs := []any{"model", p.config.Model, "images", len(images), "error", err}
		var noImage *client.NoImageError
		if errors.As(err, &noImage) {
			attrs = append(attrs, "raw", noImage.Raw)
		}
		slog.ErrorContext(ctx, "Image edit failed", attrs...)
		return failed(fmt.Errorf("image edit: %w", err))
	}

	slog.InfoContext(ctx, "Image edited",
		"model", p.config.Model, "images", len(images), "mime_type", img.MimeType,
		"bytes", len(img.Data), "duration", time.Since(start))

	return types.EditResult{Success: true, Image: img.Data, MimeType: img.MimeType}, nil
}

// BuildInstruction returns the prompt sent for req
func BuildInstruction(req Request) string {
	if req.Overlay == nil {
		if strings.TrimSpace(req.Instruction) == "" {
			return DefaultInstruction
		}
		return req.Instruction
	}

	h := ClampHint(req.Hint)
	prompt := fmt.Sprintf(twoImageInstruction, h.X, h.Y, h.Scale, h.Rotation)
	if extra := strings.TrimSpace(req.Instruction); extra != "" {
		prompt += "\n\nADDITIONAL INSTRUCTIONS:\n" + extra
	}
	return prompt
}

// ClampHint forces a hint into range; nil or non-finite fields take the
// same proportions as the placement fallback.
func ClampHint(h *types.PlacementHint) types.PlacementHint {
	def := types.PlacementHint{X: 0.5, Y: 0.18, Scale: 0.6, Rotation: 0}
	if h == nil {
		return def
	}
	return types.PlacementHint{
		X:        clampOr(h.X, 0, 1, def.X),
		Y:        clampOr(h.Y, 0, 1, def.Y),
		Scale:    clampOr(h.Scale, minHintScale, maxHintScale, def.Scale),
		Rotation: clampOr(h.Rotation, -maxHintAngle, maxHintAngle, def.Rotation),
	}
}

func clampOr(v, lo, hi, def float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return math.Min(math.Max(v, lo), hi)
}

func failed(err error) (types.EditResult, error) {
	detail := err.Error()
	var noImage *client.NoImageError
	if errors.As(err, &noImage) && noImage.Raw != "" {
		detail += ": " + noImage.Raw
	}
	return types.EditResult{Success: false, ErrorDetail: detail}, err
}
