// Package pipeline turns a drink configuration into a preview image: prompt, generation
// and, when a logo is requested, placement.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/menta2k/drink-preview/pkg/client"
	"github.com/menta2k/drink-preview/pkg/placement"
	"github.com/menta2k/drink-preview/pkg/processing"
	"github.com/menta2k/drink-preview/pkg/prompt"
	"github.com/menta2k/drink-preview/pkg/types"
)

var ErrValidation = errors.New("invalid drink configuration")

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Placer applies a logo to a generated image and never fails.
type Placer interface {
	Place(ctx context.Context, req placement.Request) types.CompositeResult
}

// PreviewStore keeps composited images addressable by id.
type PreviewStore interface {
	Save(ctx context.Context, data []byte) (string, error)
}

type Options struct {
	Generator client.ImageGenerator
	Placer    Placer
	// Store is optional; without it previews are only returned inline.
	Store          PreviewStore
	DefaultLogoURL string
	UseCustomModel bool
	Logger         *zerolog.Logger
}

type Pipeline struct {
	generator      client.ImageGenerator
	placer         Placer
	store          PreviewStore
	defaultLogoURL string
	useCustomModel bool
	log            zerolog.Logger
}

func New(opts Options) (*Pipeline, error) {
	if opts.Generator == nil {
		return nil, errors.New("pipeline: image generator is required")
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Pipeline{
		generator:      opts.Generator,
		placer:         opts.Placer,
		store:          opts.Store,
		defaultLogoURL: opts.DefaultLogoURL,
		useCustomModel: opts.UseCustomModel,
		log:            logger.With().Str("component", "pipeline").Logger(),
	}, nil
}

// Request is one preview request. A nil Catalog disables catalog-driven exclusions.
type Request struct {
	Config     types.DrinkConfig
	LogoURL    string
	Catalog    *types.Catalog
	EnableLogo bool
}

// Validate checks the configuration and returns its normalized form.
func Validate(cfg types.DrinkConfig) (types.DrinkConfig, error) {
	n := cfg.Normalized()
	if n.Base == "" {
		return n, &ValidationError{Field: "base", Reason: "is required"}
	}
	if !n.Temperature.Valid() {
		return n, &ValidationError{Field: "temperature", Reason: fmt.Sprintf("must be Hot, Iced or Blended, got %q", n.Temperature)}
	}
	return n, nil
}

// GeneratePreview validates the request, generates the drink image and composites the
// logo. Only validation and generation failures are returned as errors; placement
// problems degrade to the uncomposited image.
func (p *Pipeline) GeneratePreview(ctx context.Context, req Request) (*types.PreviewResult, error) {
	cfg, err := Validate(req.Config)
	if err != nil {
		return nil, err
	}

	logoURL := req.LogoURL
	if logoURL == "" {
		logoURL = p.defaultLogoURL
	}
	withLogo := req.EnableLogo && logoURL != "" && p.placer != nil

	var pair types.PromptPair
	if withLogo {
		pair = prompt.BuildForLogo(cfg, req.Catalog)
	} else {
		pair = prompt.Build(cfg, req.Catalog)
	}
	p.log.Debug().Bool("logo", withLogo).Int("negative_len", len(pair.NegativePrompt)).Msg("prompt built")

	imageURL, err := p.generator.Generate(ctx, pair.Prompt, pair.NegativePrompt, p.useCustomModel)
	if err != nil {
		return nil, fmt.Errorf("generate image: %w", err)
	}

	result := &types.PreviewResult{
		ImageURL:       imageURL,
		Prompt:         pair.Prompt,
		NegativePrompt: pair.NegativePrompt,
		Method:         types.MethodNoLogo,
	}
	if !withLogo {
		return result, nil
	}

	placed := p.place(ctx, placement.Request{BaseImageURL: imageURL, LogoURL: logoURL, Prompt: pair})
	result.Method = placed.Method
	result.SourceAnalysis = placed.SourceAnalysis
	if len(placed.ImageData) > 0 {
		result.ImageData = placed.ImageData
		result.ImageURL = processing.DataURL("image/png", placed.ImageData)
		if p.store != nil {
			id, err := p.store.Save(ctx, placed.ImageData)
			if err != nil {
				p.log.Warn().Err(err).Msg("preview not stored")
			} else {
				result.PreviewID = id
			}
		}
	} else if placed.ImageURL != "" {
		result.ImageURL = placed.ImageURL
	}
	p.log.Info().Str("method", string(result.Method)).Str("preview_id", result.PreviewID).Msg("preview generated")
	return result, nil
}

func (p *Pipeline) place(ctx context.Context, req placement.Request) (res types.CompositeResult) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("placement panicked, returning base image")
			res = types.CompositeResult{ImageURL: req.BaseImageURL, Method: types.MethodBaseImage}
		}
	}()
	return p.placer.Place(ctx, req)
}
