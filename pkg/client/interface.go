package client

import (
	"context"
)

// VisionClient sends an image plus an instruction to a vision-capable model and returns
// the model's text. AnalyzeImage is tuned for structured extraction (low temperature,
// bounded output); SimpleQuery is free-form.
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	AnalyzeImage(ctx context.Context, model, prompt, imgB64 string) (string, error)
}

// ImageGenerator produces an image URL from a prompt pair.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt, negativePrompt string, useCustomModel bool) (string, error)
}
