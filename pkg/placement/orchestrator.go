// Package placement runs the logo placement fallback chain: detailed detection, basic
// detection, center placement, descriptive regeneration and finally the bare base image.
package placement

import (
	"context"
	"image"

	"github.com/rs/zerolog"

	"github.com/menta2k/drink-preview/pkg/compositor"
	"github.com/menta2k/drink-preview/pkg/processing"
	"github.com/menta2k/drink-preview/pkg/prompt"
	"github.com/menta2k/drink-preview/pkg/types"
)

const (
	DefaultSendSize = 1536
	remotePrompt    = "Professional coffee cup with the logo placed on the center of the cup wall"
)

// Detector is the subset of detection.Detector the chain needs.
type Detector interface {
	DetectDetailed(ctx context.Context, imageB64 string, width, height int) (*types.DetailedCupPoints, error)
	DetectBasic(ctx context.Context, imageB64 string) (*types.CupCoordinates, error)
	Analyze(ctx context.Context, imageB64 string) (*types.CupAnalysis, error)
}

// Loader fetches image bytes from a URL.
type Loader interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// RemoteCompositor composites through the image API instead of locally.
type RemoteCompositor interface {
	CompositeObject(ctx context.Context, backgroundURL, logoURL, prompt string) (string, error)
}

// Regenerator produces a new image from a prompt that describes the logo in words.
type Regenerator interface {
	GenerateDescriptive(ctx context.Context, prompt, negativePrompt string) (string, error)
}

// Options wires the chain. Detector, Remote, Regenerator are optional: a missing
// collaborator skips its tier.
type Options struct {
	Detector    Detector
	Compositor  compositor.ImageCompositor
	Loader      Loader
	Remote      RemoteCompositor
	Regenerator Regenerator
	// CreamAware runs the advanced analysis before center placement so a cream layer
	// pushes the logo lower.
	CreamAware bool
	// SendSize bounds the longest side of the image sent to the vision model.
	SendSize int
	Logger   *zerolog.Logger
}

type Orchestrator struct {
	detector    Detector
	compositor  compositor.ImageCompositor
	loader      Loader
	processor   *processing.Processor
	remote      RemoteCompositor
	regenerator Regenerator
	creamAware  bool
	sendSize    int
	log         zerolog.Logger
}

func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		detector:    opts.Detector,
		compositor:  opts.Compositor,
		loader:      opts.Loader,
		remote:      opts.Remote,
		regenerator: opts.Regenerator,
		creamAware:  opts.CreamAware,
		sendSize:    opts.SendSize,
		processor:   processing.NewProcessor(processing.Options{}),
	}
	if o.compositor == nil {
		o.compositor = compositor.New(compositor.Options{Logger: opts.Logger})
	}
	if o.loader == nil {
		o.loader = o.processor
	}
	if o.sendSize <= 0 {
		o.sendSize = DefaultSendSize
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	o.log = logger.With().Str("component", "placement").Logger()
	return o
}

// Request names the generated image, the logo and the prompt that produced the image.
type Request struct {
	BaseImageURL string
	LogoURL      string
	Prompt       types.PromptPair
}

// Place always returns a result. Failures descend to the next tier; when every tier
// fails the base image is returned untouched.
func (o *Orchestrator) Place(ctx context.Context, req Request) types.CompositeResult {
	if res, ok := o.remoteTier(ctx, req); ok {
		return res
	}
	if res, ok := o.pixelTiers(ctx, req); ok {
		return res
	}
	if res, ok := o.descriptiveTier(ctx, req); ok {
		return res
	}
	o.log.Warn().Str("method", string(types.MethodBaseImage)).Msg("all placement tiers failed, returning base image")
	return types.CompositeResult{ImageURL: req.BaseImageURL, Method: types.MethodBaseImage}
}

func (o *Orchestrator) remoteTier(ctx context.Context, req Request) (types.CompositeResult, bool) {
	if o.remote == nil || ctx.Err() != nil {
		return types.CompositeResult{}, false
	}
	u, err := o.remote.CompositeObject(ctx, req.BaseImageURL, req.LogoURL, remotePrompt)
	if err != nil {
		o.log.Warn().Err(err).Str("stage", "remote").Msg("object composite failed, falling back to pixel compositing")
		return types.CompositeResult{}, false
	}
	return types.CompositeResult{ImageURL: u, Method: types.MethodRemote}, true
}

func (o *Orchestrator) pixelTiers(ctx context.Context, req Request) (types.CompositeResult, bool) {
	base, err := o.load(ctx, req.BaseImageURL)
	if err != nil {
		o.log.Warn().Err(err).Str("stage", "download").Msg("base image unavailable, skipping pixel placement")
		return types.CompositeResult{}, false
	}
	logo, err := o.load(ctx, req.LogoURL)
	if err != nil {
		o.log.Warn().Err(err).Str("stage", "download").Msg("logo unavailable, skipping pixel placement")
		return types.CompositeResult{}, false
	}

	var imgB64 string
	var sentW, sentH int
	if o.detector != nil {
		imgB64, sentW, sentH, err = o.prepare(base)
		if err != nil {
			o.log.Warn().Err(err).Str("stage", "prepare").Msg("cannot encode image for detection")
		}
	}

	if imgB64 != "" {
		points, err := o.detector.DetectDetailed(ctx, imgB64, sentW, sentH)
		if err != nil {
			return types.CompositeResult{}, false
		}
		if points != nil {
			if res, ok := o.composite(base, logo, compositor.AtDetailed(points), types.MethodDetailed, points); ok {
				return res, true
			}
		} else {
			o.log.Warn().Str("stage", "detailed").Msg("no detailed points, trying basic detection")
		}

		coords, err := o.detector.DetectBasic(ctx, imgB64)
		if err != nil {
			return types.CompositeResult{}, false
		}
		if coords != nil {
			if res, ok := o.composite(base, logo, compositor.AtCup(coords), types.MethodBasic, coords); ok {
				return res, true
			}
		} else {
			o.log.Warn().Str("stage", "basic").Msg("no cup coordinates, falling back to center")
		}
	}

	placement, method := compositor.AtCenter(), types.MethodCenter
	var analysis *types.CupAnalysis
	if o.creamAware && imgB64 != "" {
		analysis, err = o.detector.Analyze(ctx, imgB64)
		if err != nil {
			return types.CompositeResult{}, false
		}
		if analysis != nil && analysis.ImageAnalysis.HasCreamLayer {
			placement, method = compositor.AtCreamCenter(), types.MethodCreamCenter
		}
	}
	var source any
	if analysis != nil {
		source = analysis
	}
	return o.composite(base, logo, placement, method, source)
}

func (o *Orchestrator) composite(base, logo image.Image, p compositor.Placement, method types.Method, source any) (types.CompositeResult, bool) {
	out, err := o.compositor.Composite(base, logo, p)
	if err != nil {
		o.log.Warn().Err(err).Str("method", string(method)).Msg("composite failed")
		return types.CompositeResult{}, false
	}
	data, err := out.PNG()
	if err != nil {
		o.log.Warn().Err(err).Str("method", string(method)).Msg("encode failed")
		return types.CompositeResult{}, false
	}
	rect := out.LogoRect
	o.log.Info().Str("method", string(method)).Msg("logo placed")
	return types.CompositeResult{ImageData: data, Method: method, SourceAnalysis: source, LogoRect: &rect}, true
}

func (o *Orchestrator) descriptiveTier(ctx context.Context, req Request) (types.CompositeResult, bool) {
	if o.regenerator == nil || req.Prompt.Prompt == "" || ctx.Err() != nil {
		return types.CompositeResult{}, false
	}
	p := prompt.DescribeLogo(req.Prompt)
	u, err := o.regenerator.GenerateDescriptive(ctx, p.Prompt, p.NegativePrompt)
	if err != nil {
		o.log.Warn().Err(err).Str("stage", "descriptive").Msg("descriptive regeneration failed")
		return types.CompositeResult{}, false
	}
	return types.CompositeResult{ImageURL: u, Method: types.MethodDescriptive}, true
}

func (o *Orchestrator) load(ctx context.Context, url string) (image.Image, error) {
	data, _, err := o.loader.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return processing.Decode(data)
}

// prepare encodes img for the vision model and returns the dimensions the model sees.
func (o *Orchestrator) prepare(img image.Image) (string, int, int, error) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w > o.sendSize || h > o.sendSize {
		if w >= h {
			h = int(float64(h)*float64(o.sendSize)/float64(w) + 0.5)
			w = o.sendSize
		} else {
			w = int(float64(w)*float64(o.sendSize)/float64(h) + 0.5)
			h = o.sendSize
		}
	}
	b64, err := o.processor.PrepareImageForModel(img, "jpg", o.sendSize, 85)
	return b64, w, h, err
}
