package processing

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
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

	"github.com/menta2k/drink-preview/pkg/types"
)

const (
	defaultUserAgent = "Drink-Preview/1.0"
	defaultMaxBytes  = 32 << 20
)

var ErrUnknownFormat = errors.New("image: unknown or unsupported format")

// Options configures downloads.
type Options struct {
	HTTPClient *http.Client
	UserAgent  string
	// MaxBytes caps a single download; 0 means 32 MiB.
	MaxBytes int64
}

// Processor handles image loading, encoding and debug rendering
type Processor struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
}

// NewProcessor creates a new image processor
func NewProcessor(opts Options) *Processor {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Processor{client: client, userAgent: ua, maxBytes: maxBytes}
}

// Fetch returns the raw bytes and content type behind an http(s) or data: URL.
func (p *Processor) Fetch(ctx context.Context, imageURL string) ([]byte, string, error) {
	if strings.HasPrefix(imageURL, "data:") {
		return DecodeDataURL(imageURL)
	}

	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, "", fmt.Errorf("unsupported URL scheme: %q (only http, https and data are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to download image: HTTP %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") && !strings.HasPrefix(contentType, "application/octet-stream") {
		return nil, "", fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image data: %w", err)
	}
	if int64(len(data)) > p.maxBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", p.maxBytes)
	}
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

// LoadImageFromURL downloads and decodes an image.
func (p *Processor) LoadImageFromURL(ctx context.Context, imageURL string) (image.Image, error) {
	data, _, err := p.Fetch(ctx, imageURL)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, path)
	}
	return img, nil
}

// LoadImageSmart loads an image from a URL (http, https, data) or a file path
func (p *Processor) LoadImageSmart(ctx context.Context, source string) (image.Image, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") || strings.HasPrefix(source, "data:") {
		return p.LoadImageFromURL(ctx, source)
	}
	return p.LoadImage(source)
}

// Decode decodes PNG, JPEG, GIF or WebP bytes.
func Decode(data []byte) (image.Image, error) {
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, ErrUnknownFormat
}

// DecodeDataURL splits a base64 data URL into its bytes and media type.
func DecodeDataURL(dataURL string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return nil, "", fmt.Errorf("not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("malformed data URL")
	}
	if !strings.HasSuffix(meta, ";base64") {
		return nil, "", fmt.Errorf("data URL is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode data URL: %w", err)
	}
	return data, strings.TrimSuffix(meta, ";base64"), nil
}

// DataURL wraps encoded image bytes in a data URL.
func DataURL(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PrepareImageForModel converts an image to base64 for sending to vision models
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return "", err
		}
	default: // jpg
		if quality <= 0 || quality > 100 {
			quality = 85
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		return webp.Encode(f, img, opts)
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

// Overlay describes what CreateDebugOverlay draws. Nil fields are skipped.
type Overlay struct {
	Cup      *types.CupCoordinates
	Detailed *types.DetailedCupPoints
	// Logo is the pixel rectangle the logo was composited into.
	Logo *image.Rectangle
}

// CreateDebugOverlay renders the detected cup geometry and the logo rectangle on a copy
// of img.
func (p *Processor) CreateDebugOverlay(img image.Image, o Overlay) image.Image {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()

	green := color.NRGBA{0, 255, 0, 255}  // basic cup box
	gold := color.NRGBA{255, 204, 0, 255} // rim / bottom
	red := color.NRGBA{255, 0, 0, 255}    // target point
	blue := color.NRGBA{0, 170, 255, 255} // logo rectangle
	stroke := int(math.Max(2, 0.004*float64(min(w, h))))
	cross := int(math.Max(4, 0.01*float64(min(w, h))))

	if c := o.Cup; c != nil {
		x0, y0, x1, y1 := normToPixels(c.X, c.Y, c.X+c.Width, c.Y+c.Height, w, h)
		drawRect(nrgba, image.Rect(x0, y0, x1, y1), green, stroke)
		px, py := toPixel(c.CenterX, w), toPixel(c.CenterY, h)
		drawHLine(nrgba, py, px-cross, px+cross, red)
		drawVLine(nrgba, px, py-cross, py+cross, red)
	}

	if d := o.Detailed; d != nil {
		s := d.CupStructure
		left, right := toPixel(s.RimLeftX, w), toPixel(s.RimRightX, w)
		for i := 0; i < stroke; i++ {
			drawHLine(nrgba, toPixel(s.RimY, h)+i, left, right, gold)
			drawHLine(nrgba, toPixel(s.BottomY, h)-i, left, right, gold)
		}
		cx := toPixel(s.CupCenterX, w)
		drawVLine(nrgba, cx, toPixel(s.RimY, h), toPixel(s.BottomY, h), gold)
		px, py := toPixel(d.TargetCenter.X, w), toPixel(d.TargetCenter.Y, h)
		drawHLine(nrgba, py, px-cross, px+cross, red)
		drawVLine(nrgba, px, py-cross, py+cross, red)
	}

	if o.Logo != nil {
		drawRect(nrgba, *o.Logo, blue, stroke)
	}

	ix, iy := w/2, h/2
	drawHLine(nrgba, iy, ix-6, ix+6, blue)
	drawVLine(nrgba, ix, iy-6, iy+6, blue)

	return nrgba
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func toPixel(v float64, size int) int {
	return int(clamp(v, 0, 1)*float64(size) + 0.5)
}

func normToPixels(nx0, ny0, nx1, ny1 float64, w, h int) (int, int, int, int) {
	x0, y0 := toPixel(nx0, w), toPixel(ny0, h)
	x1, y1 := toPixel(nx1, w), toPixel(ny1, h)
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	return x0, y0, x1, y1
}

func drawRect(img *image.NRGBA, r image.Rectangle, c color.NRGBA, stroke int) {
	for s := 0; s < stroke; s++ {
		drawHLine(img, r.Min.Y+s, r.Min.X, r.Max.X, c)
		drawHLine(img, r.Max.Y-1-s, r.Min.X, r.Max.X, c)
		drawVLine(img, r.Min.X+s, r.Min.Y, r.Max.Y, c)
		drawVLine(img, r.Max.X-1-s, r.Min.Y, r.Max.Y, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	x0 = max(x0, 0)
	x1 = min(x1, img.Bounds().Dx())
	if x0 >= x1 {
		return
	}
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
	y0 = max(y0, 0)
	y1 = min(y1, img.Bounds().Dy())
	if y0 >= y1 {
		return
	}
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
