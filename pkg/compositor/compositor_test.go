package compositor

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/hat-overlay/pkg/types"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
	}
	return img
}

var (
	black = color.NRGBA{0, 0, 0, 255}
	red   = color.NRGBA{255, 0, 0, 255}
)

func isRed(img *image.NRGBA, x, y int) bool {
	c := img.NRGBAAt(x, y)
	return c.R > 250 && c.G < 5 && c.B < 5
}

func isBlack(img *image.NRGBA, x, y int) bool {
	c := img.NRGBAAt(x, y)
	return c.R == 0 && c.G == 0 && c.B == 0
}

func uprightPlacement() types.Placement {
	return types.Placement{CenterX: 100, CenterY: 100, TargetWidth: 40, Source: types.SourceModel}
}

func TestRender_UprightFootprint(t *testing.T) {
	photo := solid(200, 200, black)
	overlay := solid(20, 10, red)

	out, err := New().Render(photo, overlay, uprightPlacement())
	require.NoError(t, err)
	assert.Equal(t, photo.Bounds(), out.Bounds())

	// 40px wide, 20px tall, top edge at 100 - 0.8*20
	for x := 80; x < 120; x++ {
		assert.True(t, isRed(out, x, 95), "column %d should be covered", x)
	}
	assert.True(t, isBlack(out, 79, 95))
	assert.True(t, isBlack(out, 120, 95))

	for y := 84; y < 104; y++ {
		assert.True(t, isRed(out, 100, y), "row %d should be covered", y)
	}
	assert.True(t, isBlack(out, 100, 83))
	assert.True(t, isBlack(out, 100, 104))
}

func TestRender_DoesNotMutateInputs(t *testing.T) {
	photo := solid(50, 50, black)
	overlay := solid(10, 10, red)

	_, err := New().Render(photo, overlay, types.Placement{CenterX: 25, CenterY: 25, TargetWidth: 20})
	require.NoError(t, err)

	assert.True(t, isBlack(photo, 25, 20))
}

func TestRender_Deterministic(t *testing.T) {
	photo := solid(120, 90, black)
	overlay := solid(17, 9, red)
	p := types.Placement{CenterX: 61.3, CenterY: 40.7, TargetWidth: 53.2, RotationDegrees: -17.5}

	c := New()
	a, err := c.Render(photo, overlay, p)
	require.NoError(t, err)
	b, err := c.Render(photo, overlay, p)
	require.NoError(t, err)

	assert.Equal(t, a.Pix, b.Pix)
}

func TestRender_Rotation(t *testing.T) {
	photo := solid(200, 200, black)
	// tall thin overlay so the rotated footprint is easy to probe
	overlay := solid(10, 40, red)

	out, err := New().Render(photo, overlay, types.Placement{CenterX: 100, CenterY: 100, TargetWidth: 10, RotationDegrees: 90})
	require.NoError(t, err)

	// unrotated it would extend 32px above the anchor; clockwise 90 swings that to the right
	assert.True(t, isRed(out, 120, 100))
	assert.True(t, isBlack(out, 100, 80))
	assert.True(t, isBlack(out, 80, 100))
}

func TestRender_AnchorRatio(t *testing.T) {
	photo := solid(200, 200, black)
	overlay := solid(20, 10, red)

	out, err := NewWithConfig(Config{AnchorRatio: 0}).Render(photo, overlay, uprightPlacement())
	require.NoError(t, err)

	// top edge sits on the anchor
	assert.True(t, isBlack(out, 100, 99))
	assert.True(t, isRed(out, 100, 100))
	assert.True(t, isRed(out, 100, 119))
	assert.True(t, isBlack(out, 100, 120))
}

func TestRender_InvalidInput(t *testing.T) {
	photo := solid(10, 10, black)
	overlay := solid(4, 4, red)
	c := New()

	_, err := c.Render(nil, overlay, uprightPlacement())
	assert.ErrorIs(t, err, ErrInvalidImage)

	_, err = c.Render(photo, image.NewNRGBA(image.Rect(0, 0, 0, 0)), uprightPlacement())
	assert.ErrorIs(t, err, ErrInvalidImage)

	for _, w := range []float64{0, -5, math.NaN(), math.Inf(1)} {
		p := uprightPlacement()
		p.TargetWidth = w
		_, err = c.Render(photo, overlay, p)
		assert.ErrorIs(t, err, ErrInvalidPlacement)
	}

	p := uprightPlacement()
	p.RotationDegrees = math.NaN()
	_, err = c.Render(photo, overlay, p)
	assert.ErrorIs(t, err, ErrInvalidPlacement)
}

func BenchmarkRender(b *testing.B) {
	photo := solid(1920, 1080, black)
	overlay := solid(512, 256, red)
	p := types.Placement{CenterX: 960, CenterY: 300, TargetWidth: 700, RotationDegrees: 12}
	c := New()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Render(photo, overlay, p)
	}
}
