package firefly

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/menta2k/drink-preview/pkg/client"
)

// GenerationError reports an image generation failure. Custom is set only when the
// custom model was attempted.
type GenerationError struct {
	Custom   error
	Standard error
}

func (e *GenerationError) Error() string {
	if e.Custom != nil {
		return fmt.Sprintf("Both custom and standard models failed. Custom: %v. Standard: %v", e.Custom, e.Standard)
	}
	return fmt.Sprintf("image generation failed: %v", e.Standard)
}

func (e *GenerationError) Unwrap() []error {
	var errs []error
	if e.Custom != nil {
		errs = append(errs, e.Custom)
	}
	if e.Standard != nil {
		errs = append(errs, e.Standard)
	}
	return errs
}

// Generator tries the custom model first and falls back to the standard model once.
type Generator struct {
	client *Client
	log    zerolog.Logger
}

var _ client.ImageGenerator = (*Generator)(nil)

func NewGenerator(c *Client) *Generator {
	return &Generator{client: c, log: c.log.With().Str("stage", "generate").Logger()}
}

// Generate returns the URL of one generated image.
func (g *Generator) Generate(ctx context.Context, prompt, negativePrompt string, useCustomModel bool) (string, error) {
	var customErr error
	if useCustomModel && g.client.HasCustomModel() {
		u, err := g.client.GenerateCustom(ctx, prompt, negativePrompt)
		if err == nil {
			return u, nil
		}
		if ctx.Err() != nil {
			return "", &GenerationError{Custom: err, Standard: ctx.Err()}
		}
		customErr = err
		g.log.Warn().Err(err).Msg("custom model failed, retrying with standard model")
	}

	u, err := g.client.GenerateStandard(ctx, prompt, negativePrompt)
	if err != nil {
		return "", &GenerationError{Custom: customErr, Standard: err}
	}
	return u, nil
}
