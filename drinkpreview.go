// Package drinkpreview renders photorealistic previews of customized drinks with a
// brand logo placed on the cup.
//
// A preview runs in three steps:
//
//  1. pkg/prompt turns a drink configuration into a text-to-image prompt pair
//  2. pkg/firefly generates the base image (custom model first, standard as fallback)
//  3. pkg/placement finds the cup with a vision model (pkg/detection) and composites the
//     logo (pkg/compositor), falling back through simpler strategies when detection fails
//
// Basic usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//	svc, err := drinkpreview.New(ctx, cfg, drinkpreview.Options{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer svc.Close()
//
//	res, err := svc.GeneratePreview(ctx, pipeline.Request{
//		Config:     types.DrinkConfig{Base: "Latte", Size: "Grande", Temperature: types.TempHot},
//		EnableLogo: true,
//	})
//
// Vision backends are selected by name: openai (any OpenAI-compatible endpoint),
// ollama and gemini.
package drinkpreview

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/menta2k/drink-preview/internal/config"
	"github.com/menta2k/drink-preview/pkg/client"
	"github.com/menta2k/drink-preview/pkg/compositor"
	"github.com/menta2k/drink-preview/pkg/detection"
	"github.com/menta2k/drink-preview/pkg/firefly"
	"github.com/menta2k/drink-preview/pkg/gemini"
	"github.com/menta2k/drink-preview/pkg/ollama"
	"github.com/menta2k/drink-preview/pkg/openai"
	"github.com/menta2k/drink-preview/pkg/pipeline"
	"github.com/menta2k/drink-preview/pkg/placement"
	"github.com/menta2k/drink-preview/pkg/processing"
	"github.com/menta2k/drink-preview/pkg/types"
)

// Version of the drink preview library
const Version = "1.0.0"

// Default models per vision backend.
const (
	DefaultOpenAIModel = "gpt-4o"
	DefaultOllamaModel = "openbmb/minicpm-v4.5"
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultGeminiModel = "gemini-1.5-flash"
)

// Options carries collaborators that do not come from configuration.
type Options struct {
	Logger     *zerolog.Logger
	HTTPClient *http.Client
	// Store keeps composited previews addressable by id; nil returns them inline only.
	Store pipeline.PreviewStore
}

// Service is a fully wired preview pipeline.
type Service struct {
	Pipeline     *pipeline.Pipeline
	Orchestrator *placement.Orchestrator
	Detector     *detection.Detector
	Firefly      *firefly.Client

	closers []func() error
}

// NewVisionClient builds the vision backend named by cfg.Backend and returns the
// model to query it with. The closer is never nil.
func NewVisionClient(ctx context.Context, cfg config.VisionConfig, opts Options) (client.VisionClient, string, func() error, error) {
	noop := func() error { return nil }
	model := cfg.Model
	switch cfg.Backend {
	case config.BackendOpenAI, "":
		if model == "" {
			model = DefaultOpenAIModel
		}
		return openai.NewClient(openai.Options{
			BaseURL:    cfg.URL,
			APIKey:     cfg.APIKey,
			HTTPClient: opts.HTTPClient,
			Logger:     opts.Logger,
		}), model, noop, nil
	case config.BackendOllama:
		if model == "" {
			model = DefaultOllamaModel
		}
		url := cfg.URL
		if url == "" {
			url = DefaultOllamaURL
		}
		c, err := ollama.NewClient(url, ollama.Options{HTTPClient: opts.HTTPClient, Logger: opts.Logger})
		if err != nil {
			return nil, "", noop, fmt.Errorf("ollama client: %w", err)
		}
		return c, model, noop, nil
	case config.BackendGemini:
		if model == "" {
			model = DefaultGeminiModel
		}
		c, err := gemini.NewClient(ctx, gemini.Options{
			APIKey:     cfg.APIKey,
			Endpoint:   cfg.URL,
			HTTPClient: opts.HTTPClient,
			Logger:     opts.Logger,
		})
		if err != nil {
			return nil, "", noop, err
		}
		return c, model, c.Close, nil
	}
	return nil, "", noop, fmt.Errorf("unknown vision backend %q (use openai, ollama or gemini)", cfg.Backend)
}

// NewFireflyClient builds the image API client from cfg.
func NewFireflyClient(cfg config.FireflyConfig, opts Options) (*firefly.Client, error) {
	return firefly.NewClient(firefly.Options{
		ClientID:           cfg.ClientID,
		ClientSecret:       cfg.ClientSecret,
		Scopes:             cfg.Scopes,
		BaseURL:            cfg.BaseURL,
		IMSURL:             cfg.IMSURL,
		CustomModelID:      cfg.CustomModelID,
		CustomModelVersion: cfg.CustomModelVersion,
		PollInterval:       cfg.PollInterval(),
		PollMaxAttempts:    cfg.PollMaxAttempts,
		HTTPClient:         opts.HTTPClient,
		Logger:             opts.Logger,
	})
}

// NewOrchestrator wires logo placement. ff may be nil, which disables the remote
// and descriptive tiers.
func NewOrchestrator(ctx context.Context, cfg *config.Config, ff *firefly.Client, opts Options) (*placement.Orchestrator, *detection.Detector, func() error, error) {
	vc, model, closer, err := NewVisionClient(ctx, cfg.Vision, opts)
	if err != nil {
		return nil, nil, closer, err
	}
	det := detection.NewDetector(vc, detection.Options{
		Model:         model,
		MinConfidence: cfg.Vision.MinConfidence,
		Logger:        opts.Logger,
	})
	po := placement.Options{
		Detector: det,
		Compositor: compositor.New(compositor.Options{
			BottomOffsetRatio: cfg.Compositor.BottomOffsetRatio,
			Opacity:           cfg.Compositor.Opacity,
			Logger:            opts.Logger,
		}),
		Loader:     processing.NewProcessor(processing.Options{HTTPClient: opts.HTTPClient}),
		CreamAware: true,
		SendSize:   cfg.Vision.SendSize,
		Logger:     opts.Logger,
	}
	if ff != nil {
		po.Regenerator = ff
		if cfg.Compositor.Mode == config.ModeRemote {
			po.Remote = ff
		}
	}
	return placement.New(po), det, closer, nil
}

// New wires the complete pipeline from cfg.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("drinkpreview: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("drinkpreview: %w", err)
	}

	ff, err := NewFireflyClient(cfg.Firefly, opts)
	if err != nil {
		return nil, fmt.Errorf("drinkpreview: %w", err)
	}
	orch, det, closer, err := NewOrchestrator(ctx, cfg, ff, opts)
	if err != nil {
		return nil, fmt.Errorf("drinkpreview: %w", err)
	}

	p, err := pipeline.New(pipeline.Options{
		Generator:      firefly.NewGenerator(ff),
		Placer:         orch,
		Store:          opts.Store,
		DefaultLogoURL: cfg.Compositor.LogoURL,
		UseCustomModel: cfg.Firefly.UseCustomModel,
		Logger:         opts.Logger,
	})
	if err != nil {
		_ = closer()
		return nil, fmt.Errorf("drinkpreview: %w", err)
	}

	return &Service{
		Pipeline:     p,
		Orchestrator: orch,
		Detector:     det,
		Firefly:      ff,
		closers:      []func() error{closer},
	}, nil
}

// GeneratePreview runs the pipeline for one request.
func (s *Service) GeneratePreview(ctx context.Context, req pipeline.Request) (*types.PreviewResult, error) {
	return s.Pipeline.GeneratePreview(ctx, req)
}

// Close releases backend connections.
func (s *Service) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
