// Package compositor draws the hat overlay onto a photo.
package compositor

import (
	"errors"
	"image"
	"math"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/menta2k/hat-overlay/pkg/types"
)

// DefaultAnchorRatio is how far above the anchor point the overlay's top edge
// sits, as a fraction of its rendered height. The brim lands near the anchor.
const DefaultAnchorRatio = 0.8

var (
	ErrInvalidImage     = errors.New("compositor: image is nil or empty")
	ErrInvalidPlacement = errors.New("compositor: placement width must be finite and positive")
)

// Config holds compositor settings
type Config struct {
	AnchorRatio  float64
	Interpolator xdraw.Interpolator
}

// Compositor renders placements. It holds no mutable state and is safe for concurrent use.
type Compositor struct {
	config Config
}

// New creates a Compositor with the default anchor ratio and bilinear sampling
func New() *Compositor {
	return NewWithConfig(Config{AnchorRatio: DefaultAnchorRatio, Interpolator: xdraw.BiLinear})
}

// NewWithConfig creates a Compositor with custom configuration
func NewWithConfig(cfg Config) *Compositor {
	if cfg.Interpolator == nil {
		cfg.Interpolator = xdraw.BiLinear
	}
	return &Compositor{config: cfg}
}

// Render returns a copy of photo with overlay drawn at the placement.
// The overlay is scaled to TargetWidth, rotated clockwise by RotationDegrees
// around (CenterX, CenterY), horizontally centered on that point with its top
// edge AnchorRatio rendered heights above it.
func (c *Compositor) Render(photo, overlay image.Image, p types.Placement) (*image.NRGBA, error) {
	if empty(photo) || empty(overlay) {
		return nil, ErrInvalidImage
	}
	if !finite(p.TargetWidth) || p.TargetWidth <= 0 ||
		!finite(p.CenterX) || !finite(p.CenterY) || !finite(p.RotationDegrees) {
		return nil, ErrInvalidPlacement
	}

	dst := imaging.Clone(photo)
	src := imaging.Clone(overlay)

	c.config.Interpolator.Transform(dst, c.transform(src.Bounds().Size(), p), src, src.Bounds(), xdraw.Over, nil)

	return dst, nil
}

// transform maps overlay pixel space onto the photo
func (c *Compositor) transform(size image.Point, p types.Placement) f64.Aff3 {
	scale := p.TargetWidth / float64(size.X)
	height := float64(size.Y) * scale
	theta := p.RotationDegrees * math.Pi / 180
	sin, cos := math.Sincos(theta)

	// overlay-local offset of the source origin before rotation
	ox := -p.TargetWidth / 2
	oy := -c.config.AnchorRatio * height

	return f64.Aff3{
		cos * scale, -sin * scale, cos*ox - sin*oy + p.CenterX,
		sin * scale, cos * scale, sin*ox + cos*oy + p.CenterY,
	}
}

func empty(img image.Image) bool {
	return img == nil || img.Bounds().Empty()
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
