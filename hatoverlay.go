// Package hatoverlay puts a hat on the person in a photo.
//
// It combines three pieces: a placement estimator that asks a vision model
// where the head is (falling back to fixed proportions when it cannot), a
// process-wide cache for the hat graphic, and a compositor that draws the hat
// scaled, rotated and anchored at the estimated point. An optional edit
// pipeline asks an image model to blend the result realistically.
//
// Basic usage:
//
//	cache := asset.NewCache("public/assets/hat.png")
//	estimator := placement.New(nil) // no model: fallback placement
//	ho := hatoverlay.New(estimator, cache)
//
//	res, err := ho.Composite(ctx, types.CompositeRequest{Photo: data, MimeType: "image/jpeg"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	_ = ho.Encode(w, res.Image, "png", 90, false)
package hatoverlay

import (
	"context"
	"fmt"
	"image"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/menta2k/hat-overlay/pkg/compositor"
	"github.com/menta2k/hat-overlay/pkg/edit"
	"github.com/menta2k/hat-overlay/pkg/processing"
	"github.com/menta2k/hat-overlay/pkg/types"
)

// Version of the hat overlay library
const Version = "1.0.0"

// Estimator produces a placement for a photo; it never fails
type Estimator interface {
	Estimate(ctx context.Context, req types.CompositeRequest) types.Placement
}

// AssetSource provides the overlay graphic
type AssetSource interface {
	Get(ctx context.Context) (*types.OverlayAsset, error)
}

// Editor re-renders a photo with an image model
type Editor interface {
	Edit(ctx context.Context, req edit.Request) (types.EditResult, error)
}

// HatOverlay provides a high-level interface for placing and rendering the hat
type HatOverlay struct {
	estimator  Estimator
	assets     AssetSource
	compositor *compositor.Compositor
	processor  *processing.Processor
	editor     Editor
}

// New creates a HatOverlay with the default compositor and no edit pipeline
func New(estimator Estimator, assets AssetSource) *HatOverlay {
	return NewWithConfig(estimator, assets, compositor.New(), nil)
}

// NewWithConfig creates a HatOverlay with a custom compositor and an optional editor
func NewWithConfig(estimator Estimator, assets AssetSource, comp *compositor.Compositor, editor Editor) *HatOverlay {
	if comp == nil {
		comp = compositor.New()
	}
	return &HatOverlay{
		estimator:  estimator,
		assets:     assets,
		compositor: comp,
		processor:  processing.NewProcessor(),
		editor:     editor,
	}
}

// Result is a rendered composite
type Result struct {
	Image     *image.NRGBA
	Placement types.Placement
	Asset     *types.OverlayAsset
}

// Place validates the request and returns the estimated placement
func (h *HatOverlay) Place(ctx context.Context, req types.CompositeRequest) (types.Placement, error) {
	if err := req.Validate(); err != nil {
		return types.Placement{}, err
	}
	return h.estimator.Estimate(ctx, req), nil
}

// Composite draws the hat on the photo. Width and height default to the
// decoded photo size when zero. The asset fetch and the placement estimate
// run concurrently.
func (h *HatOverlay) Composite(ctx context.Context, req types.CompositeRequest) (Result, error) {
	photo, err := h.decodePhoto(&req)
	if err != nil {
		return Result{}, err
	}

	p, overlay, err := h.placeAndFetch(ctx, req)
	if err != nil {
		return Result{}, err
	}

	hat, err := h.processor.DecodeImage(overlay.Data)
	if err != nil {
		return Result{}, fmt.Errorf("failed to decode hat asset: %w", err)
	}

	out, err := h.compositor.Render(photo, hat, p)
	if err != nil {
		return Result{}, fmt.Errorf("render failed: %w", err)
	}

	return Result{Image: out, Placement: p, Asset: overlay}, nil
}

// EditWithHat sends the photo and the hat graphic to the image model together
// with a hint derived from the estimated placement.
func (h *HatOverlay) EditWithHat(ctx context.Context, req types.CompositeRequest, instruction string) (types.EditResult, types.Placement, error) {
	if h.editor == nil {
		res, err := h.Edit(ctx, edit.Request{})
		return res, types.Placement{}, err
	}
	if _, err := h.decodePhoto(&req); err != nil {
		return types.EditResult{ErrorDetail: err.Error()}, types.Placement{}, err
	}

	p, overlay, err := h.placeAndFetch(ctx, req)
	if err != nil {
		return types.EditResult{ErrorDetail: err.Error()}, types.Placement{}, err
	}

	hat := overlay.Inline()
	hint := HintFromPlacement(p, req.Width, req.Height)
	res, err := h.editor.Edit(ctx, edit.Request{
		Photo:       types.InlineImage{MimeType: req.MimeType, Data: req.Photo},
		Instruction: instruction,
		Overlay:     &hat,
		Hint:        &hint,
	})
	return res, p, err
}

// Edit forwards a request to the edit pipeline
func (h *HatOverlay) Edit(ctx context.Context, req edit.Request) (types.EditResult, error) {
	if h.editor == nil {
		return edit.New(nil, "").Edit(ctx, req)
	}
	return h.editor.Edit(ctx, req)
}

// Encode writes img as png, jpg/jpeg or webp
func (h *HatOverlay) Encode(w io.Writer, img image.Image, format string, quality int, lossless bool) error {
	return h.processor.EncodeImage(w, img, format, quality, lossless)
}

// HintFromPlacement normalizes a placement against the photo size
func HintFromPlacement(p types.Placement, width, height float64) types.PlacementHint {
	if !types.ValidDimensions(width, height) {
		return edit.ClampHint(nil)
	}
	return edit.ClampHint(&types.PlacementHint{
		X:        p.CenterX / width,
		Y:        p.CenterY / height,
		Scale:    p.TargetWidth / width,
		Rotation: p.RotationDegrees,
	})
}

// decodePhoto decodes the photo and fills in missing dimensions
func (h *HatOverlay) decodePhoto(req *types.CompositeRequest) (image.Image, error) {
	if len(req.Photo) == 0 {
		return nil, types.ErrEmptyPhoto
	}
	photo, err := h.processor.DecodeImage(req.Photo)
	if err != nil {
		return nil, fmt.Errorf("failed to decode photo: %w", err)
	}
	if req.Width == 0 && req.Height == 0 {
		b := photo.Bounds()
		req.Width, req.Height = float64(b.Dx()), float64(b.Dy())
	}
	if req.MimeType == "" {
		req.MimeType = "image/jpeg"
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return photo, nil
}

func (h *HatOverlay) placeAndFetch(ctx context.Context, req types.CompositeRequest) (types.Placement, *types.OverlayAsset, error) {
	var (
		p       types.Placement
		overlay *types.OverlayAsset
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		overlay, err = h.assets.Get(gctx)
		return err
	})
	g.Go(func() error {
		p = h.estimator.Estimate(gctx, req)
		return nil
	})
	if err := g.Wait(); err != nil {
		return types.Placement{}, nil, err
	}
	return p, overlay, nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
