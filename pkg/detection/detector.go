package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/menta2k/drink-preview/pkg/client"
	"github.com/menta2k/drink-preview/pkg/types"
)

// DefaultMinConfidence is the standard acceptance threshold for reported confidence.
const DefaultMinConfidence = 0.7

// SimpleTestPrompt for testing if the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// BasicPrompt asks for the bounding region of the cup body.
const BasicPrompt = `Analyze this image and detect ONLY the physical cup container walls - completely ignore all foam, cream, and beverage content.

CRITICAL INSTRUCTIONS:
1. IGNORE ALL FOAM/CREAM: Do not include any white foam, whipped cream, or beverage toppings in your measurements
2. DETECT CUP WALLS ONLY: Focus only on the solid cup container (paper, plastic, ceramic, glass)
3. EXCLUDE HANDLES: Measure only the cylindrical cup body width, not handles or spouts
4. LOOK BELOW THE FOAM: If there's foam on top, detect the cup walls underneath it

Provide coordinates for the CUP CONTAINER ONLY, all normalized to [0,1]:
- x: left edge of the solid cup wall
- y: top edge of the solid cup rim, ignoring any foam above it
- width: solid cup body width only, no handles
- height: solid cup height from rim to bottom, ignoring foam
- confidence: detection confidence (0-1)
- cupType: one of "paper", "plastic", "ceramic", "glass", "unknown"
- centerX, centerY: center of the solid cup wall surface, NOT the foam level

Return JSON only, for example:
{"x": 0.3, "y": 0.2, "width": 0.4, "height": 0.6, "confidence": 0.95, "cupType": "paper", "centerX": 0.5, "centerY": 0.5}`

const detailedPromptTemplate = `Locate the physical structure of the drink cup in this image. Ignore foam, whipped cream, toppings, steam and handles: measure the container only.

Image size: %dx%d pixels. Report every position in PIXELS of this image.

- rimY: Y of the top rim opening (the elliptical edge, not the beverage surface)
- bottomY: Y where the cup base touches the surface
- rimLeftX, rimRightX: left and right X of the rim
- cupCenterX: X of the cup's vertical center axis
- targetCenter: a point on the cup's visible face, on the center axis, midway between rim and bottom
- confidence: how sure you are, from 0 to 100

Return JSON only:
{
  "targetCenter": {"x": 0, "y": 0},
  "cupStructure": {"rimY": 0, "bottomY": 0, "rimLeftX": 0, "rimRightX": 0, "cupCenterX": 0},
  "confidence": 0
}`

// AdvancedPrompt asks for the primary cup, alternative logo areas and overall image
// characteristics.
const AdvancedPrompt = `Analyze this image to find the SOLID CUP CONTAINER for logo placement - completely ignore all foam, cream, and beverage content.

RULES:
1. Any white, fluffy or textured content on top is beverage foam; never include it in measurements
2. Find the solid container walls (paper, plastic, ceramic, glass) underneath any beverage content
3. Exclude handles and spouts

Respond with this exact JSON structure, all coordinates normalized to [0,1]:
{
  "primary": {"x": 0.0, "y": 0.0, "width": 0.0, "height": 0.0, "confidence": 0.0, "cupType": "paper|plastic|ceramic|glass|unknown", "centerX": 0.0, "centerY": 0.0},
  "suggestions": [
    {"area": "center|upper|lower|left|right", "coordinates": {"x": 0.0, "y": 0.0, "width": 0.0, "height": 0.0, "confidence": 0.0, "cupType": "unknown", "centerX": 0.0, "centerY": 0.0}, "reasoning": "why this cup surface suits a logo"}
  ],
  "imageAnalysis": {"cupCount": 0, "dominantColors": ["color1"], "lighting": "bright|moderate|dim", "background": "clean|textured|complex", "hasCreamLayer": false, "beverage": "espresso|latte|cappuccino|americano|other"}
}
JSON only. No markdown, no comments.`

// DetailedPrompt renders the structural prompt for an image of the given pixel size.
func DetailedPrompt(width, height int) string {
	return fmt.Sprintf(detailedPromptTemplate, width, height)
}

// Options configures a Detector.
type Options struct {
	Model string
	// MinConfidence below which a detection is discarded; 0 means DefaultMinConfidence.
	MinConfidence float64
	Logger        *zerolog.Logger
}

// Detector locates the cup in a generated image using a vision model. Unusable model
// output is reported as a nil result, never as an error.
type Detector struct {
	client        client.VisionClient
	model         string
	minConfidence float64
	log           zerolog.Logger
}

// NewDetector creates a new detector with a vision client
func NewDetector(c client.VisionClient, opts Options) *Detector {
	minConf := opts.MinConfidence
	if minConf <= 0 {
		minConf = DefaultMinConfidence
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Detector{
		client:        c,
		model:         opts.Model,
		minConfidence: minConf,
		log:           logger.With().Str("component", "detector").Logger(),
	}
}

// TestVision tests if the model can actually see the image with a simple prompt
func (d *Detector) TestVision(ctx context.Context, imageB64 string) (string, error) {
	return d.client.SimpleQuery(ctx, d.model, SimpleTestPrompt, imageB64)
}

type rawCoordinates struct {
	X          *float64 `json:"x"`
	Y          *float64 `json:"y"`
	Width      *float64 `json:"width"`
	Height     *float64 `json:"height"`
	CenterX    *float64 `json:"centerX"`
	CenterY    *float64 `json:"centerY"`
	Confidence *float64 `json:"confidence"`
	CupType    string   `json:"cupType"`
}

type rawPoint struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

type rawStructure struct {
	RimY       *float64 `json:"rimY"`
	BottomY    *float64 `json:"bottomY"`
	RimLeftX   *float64 `json:"rimLeftX"`
	RimRightX  *float64 `json:"rimRightX"`
	CupCenterX *float64 `json:"cupCenterX"`
}

type rawDetailed struct {
	TargetCenter *rawPoint     `json:"targetCenter"`
	CupStructure *rawStructure `json:"cupStructure"`
	Confidence   *float64      `json:"confidence"`
}

type rawAnalysis struct {
	Primary     *rawCoordinates `json:"primary"`
	Suggestions []struct {
		Area        string         `json:"area"`
		Coordinates rawCoordinates `json:"coordinates"`
		Reasoning   string         `json:"reasoning"`
	} `json:"suggestions"`
	ImageAnalysis types.ImageAnalysis `json:"imageAnalysis"`
}

// DetectBasic returns the normalized bounding region of the cup body, or nil when the
// model's answer is missing, malformed, out of range or below the confidence threshold.
// The error is non-nil only when ctx is done.
func (d *Detector) DetectBasic(ctx context.Context, imageB64 string) (*types.CupCoordinates, error) {
	text, err := d.query(ctx, BasicPrompt, imageB64)
	if err != nil || text == "" {
		return nil, ctx.Err()
	}

	var raw rawCoordinates
	if err := json.Unmarshal([]byte(sanitizeModelJSON(text)), &raw); err != nil {
		d.log.Warn().Err(err).Str("stage", "basic").Msg("unparseable detection response")
		return nil, nil
	}
	coords, ok := raw.validate()
	if !ok {
		d.log.Warn().Str("stage", "basic").Msg("detection out of range or incomplete")
		return nil, nil
	}
	if coords.Confidence < d.minConfidence {
		d.log.Warn().Str("stage", "basic").Float64("confidence", coords.Confidence).Msg("detection below confidence threshold")
		return nil, nil
	}
	d.log.Debug().Str("stage", "basic").Float64("confidence", coords.Confidence).
		Float64("center_x", coords.CenterX).Float64("center_y", coords.CenterY).Msg("cup detected")
	return coords, nil
}

// DetectDetailed asks for rim/bottom references in pixels of a width×height image and
// returns them normalized. Confidence is reported by the model on a 0-100 scale.
func (d *Detector) DetectDetailed(ctx context.Context, imageB64 string, width, height int) (*types.DetailedCupPoints, error) {
	if width <= 0 || height <= 0 {
		return nil, nil
	}
	text, err := d.query(ctx, DetailedPrompt(width, height), imageB64)
	if err != nil || text == "" {
		return nil, ctx.Err()
	}

	var raw rawDetailed
	if err := json.Unmarshal([]byte(sanitizeModelJSON(text)), &raw); err != nil {
		d.log.Warn().Err(err).Str("stage", "detailed").Msg("unparseable detection response")
		return nil, nil
	}
	points, ok := raw.normalize(float64(width), float64(height))
	if !ok {
		d.log.Warn().Str("stage", "detailed").Msg("detailed points out of range or incomplete")
		return nil, nil
	}
	if points.Confidence < d.minConfidence {
		d.log.Warn().Str("stage", "detailed").Float64("confidence", points.Confidence).Msg("detection below confidence threshold")
		return nil, nil
	}
	d.log.Debug().Str("stage", "detailed").Float64("confidence", points.Confidence).
		Float64("rim_y", points.CupStructure.RimY).Float64("bottom_y", points.CupStructure.BottomY).Msg("cup structure detected")
	return points, nil
}

// Analyze runs the advanced analysis. Primary is kept only when valid and its
// confidence exceeds the threshold; invalid suggestions are dropped.
func (d *Detector) Analyze(ctx context.Context, imageB64 string) (*types.CupAnalysis, error) {
	text, err := d.query(ctx, AdvancedPrompt, imageB64)
	if err != nil || text == "" {
		return nil, ctx.Err()
	}

	var raw rawAnalysis
	if err := json.Unmarshal([]byte(sanitizeModelJSON(text)), &raw); err != nil {
		d.log.Warn().Err(err).Str("stage", "analysis").Msg("unparseable analysis response")
		return nil, nil
	}

	out := &types.CupAnalysis{ImageAnalysis: raw.ImageAnalysis}
	if raw.Primary != nil {
		if c, ok := raw.Primary.validate(); ok && c.Confidence > d.minConfidence {
			out.Primary = c
		}
	}
	for _, s := range raw.Suggestions {
		c, ok := s.Coordinates.validate()
		if !ok {
			continue
		}
		out.Suggestions = append(out.Suggestions, types.PlacementSuggestion{
			Area:        strings.ToLower(strings.TrimSpace(s.Area)),
			Coordinates: *c,
			Reasoning:   s.Reasoning,
		})
	}
	d.log.Debug().Str("stage", "analysis").Bool("primary", out.Primary != nil).
		Bool("cream_layer", out.ImageAnalysis.HasCreamLayer).Int("suggestions", len(out.Suggestions)).Msg("image analyzed")
	return out, nil
}

func (d *Detector) query(ctx context.Context, prompt, imageB64 string) (string, error) {
	text, err := d.client.AnalyzeImage(ctx, d.model, prompt, imageB64)
	if err != nil {
		d.log.Warn().Err(err).Msg("vision request failed")
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (r rawCoordinates) validate() (*types.CupCoordinates, bool) {
	fields := []*float64{r.X, r.Y, r.Width, r.Height, r.CenterX, r.CenterY, r.Confidence}
	for _, f := range fields {
		if f == nil || !inUnit(*f) {
			return nil, false
		}
	}
	if *r.Width <= 0 || *r.Height <= 0 {
		return nil, false
	}
	return &types.CupCoordinates{
		X:          *r.X,
		Y:          *r.Y,
		Width:      *r.Width,
		Height:     *r.Height,
		CenterX:    *r.CenterX,
		CenterY:    *r.CenterY,
		Confidence: *r.Confidence,
		CupType:    parseCupType(r.CupType),
	}, true
}

func (r rawDetailed) normalize(w, h float64) (*types.DetailedCupPoints, bool) {
	if r.TargetCenter == nil || r.CupStructure == nil || r.Confidence == nil {
		return nil, false
	}
	tc, s := r.TargetCenter, r.CupStructure
	for _, f := range []*float64{tc.X, tc.Y, s.RimY, s.BottomY, s.RimLeftX, s.RimRightX, s.CupCenterX} {
		if f == nil {
			return nil, false
		}
	}
	p := &types.DetailedCupPoints{
		TargetCenter: types.Point{X: *tc.X / w, Y: *tc.Y / h},
		CupStructure: types.CupStructure{
			RimY:       *s.RimY / h,
			BottomY:    *s.BottomY / h,
			RimLeftX:   *s.RimLeftX / w,
			RimRightX:  *s.RimRightX / w,
			CupCenterX: *s.CupCenterX / w,
		},
		Confidence: *r.Confidence / 100,
	}
	cs := p.CupStructure
	for _, v := range []float64{p.TargetCenter.X, p.TargetCenter.Y, cs.RimY, cs.BottomY, cs.RimLeftX, cs.RimRightX, cs.CupCenterX, p.Confidence} {
		if !inUnit(v) {
			return nil, false
		}
	}
	if cs.Height() <= 0 || cs.Width() <= 0 {
		return nil, false
	}
	return p, true
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}

func parseCupType(s string) types.CupType {
	switch t := types.CupType(strings.ToLower(strings.TrimSpace(s))); t {
	case types.CupPaper, types.CupPlastic, types.CupCeramic, types.CupGlass:
		return t
	default:
		return types.CupUnknown
	}
}

var (
	reBlockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment   = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON removes code fences, comments, and trailing commas from a model
// response and keeps only the first balanced {...}.
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if i := strings.Index(raw, "```"); i >= 0 {
		raw = raw[i+3:]
		if nl := strings.Index(raw, "\n"); nl >= 0 {
			raw = raw[nl+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reTrailingComma.ReplaceAllString(raw, "$1")

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := matchingBrace(raw, start); end > start {
			raw = raw[start : end+1]
		} else if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

// matchingBrace returns the index of the brace closing the object that opens at start,
// ignoring braces inside string literals, or -1 when the object is unterminated.
func matchingBrace(s string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
