package processing

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/hat-overlay/pkg/types"
)

// ErrUnsupportedFormat is returned for bytes no registered decoder understands
var ErrUnsupportedFormat = errors.New("image: unknown or unsupported format")

// Processor handles image decoding, encoding and model preparation
type Processor struct {
	httpClient *http.Client
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ModelImage is a photo ready to send to a vision model
type ModelImage struct {
	Image  types.InlineImage
	Width  int
	Height int
	// ScaleX and ScaleY map model coordinates back to the original photo
	ScaleX float64
	ScaleY float64
}

// LoadBytes reads an image source that is either a file path or an http(s) URL
func (p *Processor) LoadBytes(source string) ([]byte, string, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return p.loadFromURL(source)
	}
	data, err := os.ReadFile(strings.TrimPrefix(source, "file://"))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image file: %w", err)
	}
	return data, http.DetectContentType(data), nil
}

func (p *Processor) loadFromURL(imageURL string) ([]byte, string, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, "", fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequest(http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "hat-overlay/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image data: %w", err)
	}
	return data, contentType, nil
}

// DecodeImage decodes JPEG, PNG, GIF or WebP bytes, applying EXIF orientation
func (p *Processor) DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrUnsupportedFormat
	}
	if img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true)); err == nil {
		return img, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, ErrUnsupportedFormat
}

// PrepareImageForModel downscales the photo so its long side is at most maxDim
// and re-encodes it as JPEG. Undecodable bytes are passed through untouched with
// the caller's dimensions, the model may still understand formats we cannot.
func (p *Processor) PrepareImageForModel(data []byte, mimeType string, width, height float64, maxDim, quality int) ModelImage {
	passthrough := ModelImage{
		Image:  types.InlineImage{MimeType: mimeType, Data: data},
		Width:  int(math.Round(width)),
		Height: int(math.Round(height)),
		ScaleX: 1,
		ScaleY: 1,
	}
	if maxDim <= 0 {
		return passthrough
	}

	img, err := p.DecodeImage(data)
	if err != nil {
		return passthrough
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return passthrough
	}

	if w >= h {
		img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
	} else {
		img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return passthrough
	}

	nb := img.Bounds()
	return ModelImage{
		Image:  types.InlineImage{MimeType: "image/jpeg", Data: buf.Bytes()},
		Width:  nb.Dx(),
		Height: nb.Dy(),
		ScaleX: width / float64(nb.Dx()),
		ScaleY: height / float64(nb.Dy()),
	}
}

// EncodeImage writes img in the given format: png, jpg/jpeg or webp
func (p *Processor) EncodeImage(w io.Writer, img image.Image, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		return webp.Encode(w, img, &webp.Options{Lossless: lossless, Quality: float32(quality)})
	case "jpg", "jpeg":
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case "png", "":
		return imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(png.DefaultCompression))
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	if err := p.EncodeImage(f, img, format, quality, lossless); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return nil
}

// MimeForFormat maps an output format name to its MIME type
func MimeForFormat(format string) string {
	switch strings.ToLower(format) {
	case "webp":
		return "image/webp"
	case "jpg", "jpeg":
		return "image/jpeg"
	default:
		return "image/png"
	}
}

// CreateDebugOverlay marks the placement anchor and the unrotated hat width on a copy of img
func (p *Processor) CreateDebugOverlay(img image.Image, placement types.Placement) image.Image {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()

	green := color.NRGBA{0, 255, 0, 255}  // hat width
	red := color.NRGBA{255, 0, 0, 255}    // anchor
	blue := color.NRGBA{0, 170, 255, 255} // fallback anchor
	stroke := int(math.Max(2, 0.004*float64(min(w, h))))
	cross := int(math.Max(4, 0.01*float64(min(w, h))))

	px := int(placement.CenterX + 0.5)
	py := int(placement.CenterY + 0.5)
	half := int(placement.TargetWidth/2 + 0.5)
	for s := 0; s < stroke; s++ {
		drawHLine(nrgba, py+s, px-half, px+half, green)
	}

	marker := red
	if placement.Source == types.SourceFallback {
		marker = blue
	}
	drawHLine(nrgba, py, px-cross, px+cross, marker)
	drawVLine(nrgba, px, py-cross, py+cross, marker)

	return nrgba
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	x0 = max(x0, 0)
	x1 = min(x1, img.Bounds().Dx())
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	y0 = max(y0, 0)
	y1 = min(y1, img.Bounds().Dy())
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
