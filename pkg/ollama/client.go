package ollama

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"

	"github.com/menta2k/drink-preview/pkg/client"
)

const defaultTimeout = 300 * time.Second

// Options configures the Ollama backend.
type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zerolog.Logger
}

// Client wraps the Ollama API client
type Client struct {
	client  *api.Client
	timeout time.Duration
	log     zerolog.Logger
}

var _ client.VisionClient = (*Client)(nil)

// NewClient creates a new Ollama client. Any path on ollamaURL (such as /api/chat) is
// ignored; the SDK appends its own.
func NewClient(ollamaURL string, opts Options) (*Client, error) {
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q needs scheme and host", ollamaURL)
	}

	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Client{
		client:  api.NewClient(baseURL, httpClient),
		timeout: timeout,
		log:     logger.With().Str("component", "ollama").Logger(),
	}, nil
}

// SimpleQuery performs a free-form query with an image
func (c *Client) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	return c.chat(ctx, model, prompt, imgB64, nil)
}

// AnalyzeImage asks for a structured answer; sampling is kept nearly deterministic so
// coordinates are stable between calls.
func (c *Client) AnalyzeImage(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	options := map[string]any{
		"temperature": 0.1,
		"num_ctx":     4096,
		"num_predict": 1000,
	}
	return c.chat(ctx, model, prompt, imgB64, options)
}

func (c *Client) chat(ctx context.Context, model, prompt, imgB64 string, options map[string]any) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msg := api.Message{
		Role:    "user",
		Content: prompt,
	}
	if imgB64 != "" {
		imgBytes, err := base64.StdEncoding.DecodeString(imgB64)
		if err != nil {
			return "", fmt.Errorf("failed to decode base64 image: %w", err)
		}
		msg.Images = []api.ImageData{api.ImageData(imgBytes)}
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model:    model,
		Messages: []api.Message{msg},
		Stream:   &streamFalse,
		Options:  options,
	}

	start := time.Now()
	var responseContent string
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent += resp.Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat error: %w", err)
	}
	c.log.Debug().Str("model", model).Dur("took", time.Since(start)).Int("chars", len(responseContent)).Msg("chat completed")

	if responseContent == "" {
		return "", fmt.Errorf("empty response from ollama")
	}
	return responseContent, nil
}
