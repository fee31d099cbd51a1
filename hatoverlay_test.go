package hatoverlay

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/hat-overlay/pkg/asset"
	"github.com/menta2k/hat-overlay/pkg/client"
	"github.com/menta2k/hat-overlay/pkg/edit"
	"github.com/menta2k/hat-overlay/pkg/placement"
	"github.com/menta2k/hat-overlay/pkg/processing"
	"github.com/menta2k/hat-overlay/pkg/types"
)

// createTestImage creates a solid test image
func createTestImage(width, height int, c color.NRGBA) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func hatFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hat.png")
	require.NoError(t, os.WriteFile(path, encodePNG(t, createTestImage(20, 10, color.NRGBA{255, 0, 0, 255})), 0o644))
	return path
}

type fixedEstimator struct {
	p     types.Placement
	calls atomic.Int32
	req   types.CompositeRequest
}

func (f *fixedEstimator) Estimate(ctx context.Context, req types.CompositeRequest) types.Placement {
	f.calls.Add(1)
	f.req = req
	return f.p
}

type recordingEditor struct {
	req edit.Request
	err error
}

func (r *recordingEditor) Edit(ctx context.Context, req edit.Request) (types.EditResult, error) {
	r.req = req
	if r.err != nil {
		return types.EditResult{ErrorDetail: r.err.Error()}, r.err
	}
	return types.EditResult{Success: true, Image: []byte("edited"), MimeType: "image/png"}, nil
}

func TestGetVersion(t *testing.T) {
	assert.Equal(t, Version, GetVersion())
}

func TestComposite_FallbackPlacement(t *testing.T) {
	ho := New(placement.New(nil), asset.NewCache(hatFile(t)))
	photo := encodePNG(t, createTestImage(200, 100, color.NRGBA{0, 0, 0, 255}))

	res, err := ho.Composite(context.Background(), types.CompositeRequest{Photo: photo})
	require.NoError(t, err)

	assert.Equal(t, types.SourceFallback, res.Placement.Source)
	assert.InDelta(t, 100, res.Placement.CenterX, 1e-9)
	assert.InDelta(t, 18, res.Placement.CenterY, 1e-9)
	assert.InDelta(t, 120, res.Placement.TargetWidth, 1e-9)
	assert.Equal(t, 20, res.Asset.Width)
	assert.Equal(t, image.Rect(0, 0, 200, 100), res.Image.Bounds())

	// the 120x60 hat spans rows -30..29 around the anchor at y=18
	c := res.Image.NRGBAAt(100, 16)
	assert.Greater(t, c.R, uint8(250))
	c = res.Image.NRGBAAt(100, 90)
	assert.Zero(t, c.R)
}

func TestComposite_UsesEstimatorPlacement(t *testing.T) {
	est := &fixedEstimator{p: types.Placement{CenterX: 50, CenterY: 50, TargetWidth: 40, Confidence: 0.9, Source: types.SourceModel}}
	ho := New(est, asset.NewCache(hatFile(t)))
	photo := encodePNG(t, createTestImage(100, 100, color.NRGBA{0, 0, 0, 255}))

	res, err := ho.Composite(context.Background(), types.CompositeRequest{Photo: photo, MimeType: "image/png", Width: 100, Height: 100})
	require.NoError(t, err)

	assert.Equal(t, int32(1), est.calls.Load())
	assert.Equal(t, 100.0, est.req.Width)
	assert.Equal(t, types.SourceModel, res.Placement.Source)
	assert.Greater(t, res.Image.NRGBAAt(50, 40).R, uint8(250))
	assert.Zero(t, res.Image.NRGBAAt(10, 90).R)
}

func TestComposite_Errors(t *testing.T) {
	photo := encodePNG(t, createTestImage(10, 10, color.NRGBA{0, 0, 0, 255}))
	ho := New(placement.New(nil), asset.NewCache(hatFile(t)))

	_, err := ho.Composite(context.Background(), types.CompositeRequest{})
	assert.ErrorIs(t, err, types.ErrEmptyPhoto)

	_, err = ho.Composite(context.Background(), types.CompositeRequest{Photo: []byte("garbage")})
	assert.ErrorIs(t, err, processing.ErrUnsupportedFormat)

	_, err = ho.Composite(context.Background(), types.CompositeRequest{Photo: photo, Width: -1, Height: 10})
	assert.ErrorIs(t, err, types.ErrInvalidDimensions)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	broken := New(placement.New(nil), asset.NewCache(srv.URL))
	_, err = broken.Composite(context.Background(), types.CompositeRequest{Photo: photo})
	assert.ErrorIs(t, err, asset.ErrUnavailable)

	var assetErr *asset.Error
	require.True(t, errors.As(err, &assetErr))
	assert.Equal(t, http.StatusNotFound, assetErr.StatusCode)
}

func TestPlace_Validates(t *testing.T) {
	ho := New(placement.New(nil), asset.NewCache(hatFile(t)))

	_, err := ho.Place(context.Background(), types.CompositeRequest{Photo: []byte("x")})
	assert.ErrorIs(t, err, types.ErrInvalidDimensions)

	p, err := ho.Place(context.Background(), types.CompositeRequest{Photo: []byte("x"), Width: 800, Height: 600})
	require.NoError(t, err)
	assert.InDelta(t, 108, p.CenterY, 1e-9)
}

func TestEditWithHat_SendsHint(t *testing.T) {
	est := &fixedEstimator{p: types.Placement{CenterX: 100, CenterY: 20, TargetWidth: 100, RotationDegrees: 5, Source: types.SourceModel}}
	ed := &recordingEditor{}
	ho := NewWithConfig(est, asset.NewCache(hatFile(t)), nil, ed)
	photo := encodePNG(t, createTestImage(200, 100, color.NRGBA{0, 0, 0, 255}))

	res, p, err := ho.EditWithHat(context.Background(), types.CompositeRequest{Photo: photo, MimeType: "image/png"}, "")
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, types.SourceModel, p.Source)
	require.NotNil(t, ed.req.Overlay)
	assert.Equal(t, "image/png", ed.req.Overlay.MimeType)
	require.NotNil(t, ed.req.Hint)
	assert.Equal(t, types.PlacementHint{X: 0.5, Y: 0.2, Scale: 0.5, Rotation: 5}, *ed.req.Hint)
	assert.Equal(t, photo, ed.req.Photo.Data)
}

func TestEdit_NotConfigured(t *testing.T) {
	ho := New(placement.New(nil), asset.NewCache(hatFile(t)))

	res, err := ho.Edit(context.Background(), edit.Request{Photo: types.InlineImage{Data: []byte("x")}})
	assert.ErrorIs(t, err, client.ErrNotConfigured)
	assert.False(t, res.Success)

	_, _, err = ho.EditWithHat(context.Background(), types.CompositeRequest{Photo: []byte("x")}, "")
	assert.ErrorIs(t, err, client.ErrNotConfigured)
}

func TestHintFromPlacement(t *testing.T) {
	h := HintFromPlacement(types.Placement{CenterX: 400, CenterY: 108, TargetWidth: 480}, 800, 600)
	assert.InDelta(t, 0.5, h.X, 1e-9)
	assert.InDelta(t, 0.18, h.Y, 1e-9)
	assert.InDelta(t, 0.6, h.Scale, 1e-9)

	assert.Equal(t, edit.ClampHint(nil), HintFromPlacement(types.Placement{}, 0, 0))
}

func TestEncode(t *testing.T) {
	ho := New(placement.New(nil), asset.NewCache(hatFile(t)))
	var buf bytes.Buffer
	require.NoError(t, ho.Encode(&buf, createTestImage(4, 4, color.NRGBA{1, 2, 3, 255}), "webp", 80, true))
	assert.NotZero(t, buf.Len())
}
