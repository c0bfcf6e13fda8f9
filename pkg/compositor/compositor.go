// Package compositor blends a logo onto a generated drink image at a position derived
// from the detected cup geometry.
package compositor

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"github.com/menta2k/drink-preview/pkg/processing"
	"github.com/menta2k/drink-preview/pkg/types"
)

const (
	DefaultBottomOffsetRatio = 0.10
	DefaultOpacity           = 0.4

	// Logo sizing as fractions of the base image.
	cupWidthFraction = 0.25
	maxWidthFraction = 0.15
	centerFraction   = 0.20

	// Basic-coordinate foam adjustment and the downward nudge applied after it.
	foamHeightShrink = 0.04
	foamCenterShift  = 0.02
	minFoamHeight    = 0.1
	basicNudge       = 0.10

	creamCenterY = 0.60
)

var (
	ErrEmptyImage       = errors.New("compositor: empty image")
	ErrMissingPlacement = errors.New("compositor: placement has no geometry")
	ErrImageTooSmall    = errors.New("compositor: image too narrow for a logo")
)

// Mode selects how the logo center is derived.
type Mode int

const (
	ModeCenter Mode = iota
	ModeCreamCenter
	ModeBasic
	ModeDetailed
)

func (m Mode) String() string {
	switch m {
	case ModeCreamCenter:
		return "cream-center"
	case ModeBasic:
		return "basic"
	case ModeDetailed:
		return "detailed"
	default:
		return "center"
	}
}

// Placement is the geometry a composite is anchored to.
type Placement struct {
	Mode     Mode
	Cup      *types.CupCoordinates
	Detailed *types.DetailedCupPoints
}

func AtDetailed(p *types.DetailedCupPoints) Placement {
	return Placement{Mode: ModeDetailed, Detailed: p}
}

func AtCup(c *types.CupCoordinates) Placement {
	return Placement{Mode: ModeBasic, Cup: c}
}

func AtCenter() Placement { return Placement{Mode: ModeCenter} }

func AtCreamCenter() Placement { return Placement{Mode: ModeCreamCenter} }

// Output is a composited image and the pixel rectangle the logo occupies.
type Output struct {
	Image    *image.NRGBA
	LogoRect image.Rectangle
}

// PNG encodes the composited image.
func (o *Output) PNG() ([]byte, error) {
	return processing.EncodePNG(o.Image)
}

// ImageCompositor places a logo onto a base image.
type ImageCompositor interface {
	Composite(base, logo image.Image, p Placement) (*Output, error)
}

// Options configures a PixelCompositor. Zero values select the defaults.
type Options struct {
	BottomOffsetRatio float64
	Opacity           float64
	Logger            *zerolog.Logger
}

// PixelCompositor composites locally with alpha-over blending.
type PixelCompositor struct {
	bottomOffset float64
	opacity      float64
	log          zerolog.Logger
}

var _ ImageCompositor = (*PixelCompositor)(nil)

func New(opts Options) *PixelCompositor {
	c := &PixelCompositor{bottomOffset: opts.BottomOffsetRatio, opacity: opts.Opacity}
	if c.bottomOffset <= 0 || c.bottomOffset > 1 {
		c.bottomOffset = DefaultBottomOffsetRatio
	}
	if c.opacity <= 0 || c.opacity > 1 {
		c.opacity = DefaultOpacity
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	c.log = logger.With().Str("component", "compositor").Logger()
	return c
}

func (c *PixelCompositor) Composite(base, logo image.Image, p Placement) (*Output, error) {
	if base == nil || base.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	if logo == nil || logo.Bounds().Empty() {
		return nil, fmt.Errorf("%w: logo", ErrEmptyImage)
	}

	w, h := base.Bounds().Dx(), base.Bounds().Dy()
	target, cupWidth, err := c.Target(p)
	if err != nil {
		return nil, err
	}
	size := LogoSize(w, h, cupWidth)
	if size == 0 {
		return nil, fmt.Errorf("%w: width %d", ErrImageTooSmall, w)
	}

	cx := int(math.Round(target.X * float64(w)))
	cy := int(math.Round(target.Y * float64(h)))
	rect := image.Rect(cx-size/2, cy-size/2, cx-size/2+size, cy-size/2+size)

	mark := PrepareLogo(logo, size, c.opacity)
	out := imaging.Overlay(base, mark, rect.Min, 1.0)

	c.log.Debug().Str("mode", p.Mode.String()).Int("size", size).
		Int("x", rect.Min.X).Int("y", rect.Min.Y).Msg("logo composited")
	return &Output{Image: out, LogoRect: rect}, nil
}

// Target returns the normalized logo center for p and the normalized cup width used to
// size the logo (0 when unknown).
func (c *PixelCompositor) Target(p Placement) (types.Point, float64, error) {
	switch p.Mode {
	case ModeDetailed:
		if p.Detailed == nil {
			return types.Point{}, 0, ErrMissingPlacement
		}
		return DetailedTarget(p.Detailed.CupStructure, c.bottomOffset), p.Detailed.CupStructure.Width(), nil
	case ModeBasic:
		if p.Cup == nil {
			return types.Point{}, 0, ErrMissingPlacement
		}
		return BasicTarget(*p.Cup), p.Cup.Width, nil
	case ModeCreamCenter:
		return types.Point{X: 0.5, Y: creamCenterY}, 0, nil
	default:
		return types.Point{X: 0.5, Y: 0.5}, 0, nil
	}
}

// DetailedTarget puts the logo on the cup axis, ratio of the cup height above the bottom.
func DetailedTarget(s types.CupStructure, ratio float64) types.Point {
	return types.Point{
		X: clamp01(s.CupCenterX),
		Y: clamp01(s.BottomY - s.Height()*ratio),
	}
}

// AdjustForFoam keeps the top edge, shrinks the height and lifts the center to drop a
// foam layer reported as part of the cup.
func AdjustForFoam(c types.CupCoordinates) types.CupCoordinates {
	out := c
	out.Height = math.Max(minFoamHeight, c.Height-foamHeightShrink)
	out.CenterY = c.CenterY - foamCenterShift
	return out
}

// BasicTarget applies the foam adjustment and then nudges the center down, since basic
// detection reports the cup and foam combined.
func BasicTarget(c types.CupCoordinates) types.Point {
	adj := AdjustForFoam(c)
	return types.Point{
		X: clamp01(adj.CenterX),
		Y: clamp01(adj.CenterY + basicNudge),
	}
}

// LogoSize is the logo edge in pixels. A known cup width (normalized) gives 25% of it,
// otherwise 20% of the shorter side; either way capped at 15% of the image width. It
// returns 0 when the cap leaves no room for a single pixel.
func LogoSize(width, height int, cupWidth float64) int {
	var size int
	if cupWidth > 0 {
		size = int(math.Round(cupWidth * float64(width) * cupWidthFraction))
	} else {
		size = int(math.Round(float64(min(width, height)) * centerFraction))
	}
	limit := int(math.Floor(float64(width)*maxWidthFraction + 1e-9))
	if limit < 1 {
		return 0
	}
	if size > limit {
		size = limit
	}
	return max(size, 1)
}

// PrepareLogo scales logo to fit a size×size box, centers it on a transparent canvas of
// that size and applies opacity.
func PrepareLogo(logo image.Image, size int, opacity float64) *image.NRGBA {
	lw, lh := logo.Bounds().Dx(), logo.Bounds().Dy()
	scale := math.Min(float64(size)/float64(lw), float64(size)/float64(lh))
	fw := max(1, int(math.Round(float64(lw)*scale)))
	fh := max(1, int(math.Round(float64(lh)*scale)))
	fitted := imaging.Resize(logo, fw, fh, imaging.Lanczos)

	canvas := imaging.New(size, size, image.Transparent)
	canvas = imaging.Paste(canvas, fitted, image.Pt((size-fw)/2, (size-fh)/2))
	ApplyOpacity(canvas, opacity)
	return canvas
}

// ApplyOpacity multiplies every alpha value in place, rounding to nearest.
func ApplyOpacity(img *image.NRGBA, opacity float64) {
	for i := 3; i < len(img.Pix); i += 4 {
		if a := img.Pix[i]; a != 0 {
			img.Pix[i] = uint8(math.Round(float64(a) * opacity))
		}
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
