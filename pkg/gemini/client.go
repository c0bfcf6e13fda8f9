// Package gemini is a VisionClient backed by the Gemini API.
package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/menta2k/drink-preview/pkg/client"
)

const defaultTimeout = 2 * time.Minute

var ErrEmptyResponse = errors.New("gemini: empty response")

// Options configures the Gemini backend.
type Options struct {
	APIKey string
	// Endpoint overrides the API host, mainly for proxies.
	Endpoint   string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zerolog.Logger
}

type Client struct {
	genai   *genai.Client
	timeout time.Duration
	log     zerolog.Logger
}

var _ client.VisionClient = (*Client)(nil)

// NewClient dials the Gemini API. Callers must Close the client.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, errors.New("gemini: API key is missing")
	}
	clientOpts := []option.ClientOption{option.WithAPIKey(key)}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	gc, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
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
		genai:   gc,
		timeout: timeout,
		log:     logger.With().Str("component", "gemini").Logger(),
	}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.genai.Close()
}

func (c *Client) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	return c.generate(ctx, model, prompt, imgB64, 0.7, 2048)
}

func (c *Client) AnalyzeImage(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	return c.generate(ctx, model, prompt, imgB64, 0.1, 1000)
}

func (c *Client) generate(ctx context.Context, model, prompt, imgB64 string, temperature float32, maxTokens int32) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var parts []genai.Part
	if imgB64 != "" {
		data, err := base64.StdEncoding.DecodeString(imgB64)
		if err != nil {
			return "", fmt.Errorf("gemini: decode image: %w", err)
		}
		parts = append(parts, genai.ImageData(sniffFormat(data), data))
	}
	parts = append(parts, genai.Text(prompt))

	m := c.genai.GenerativeModel(model)
	m.SetTemperature(temperature)
	m.SetMaxOutputTokens(maxTokens)

	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return "", ErrEmptyResponse
	}
	c.log.Debug().Str("model", model).Int("chars", len(text)).Msg("content generated")
	return text, nil
}

// responseText concatenates the text parts of the first candidate that has any.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		var sb strings.Builder
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		if sb.Len() > 0 {
			return sb.String()
		}
	}
	return ""
}

// sniffFormat returns the image subtype genai.ImageData expects ("png", "jpeg", "webp").
func sniffFormat(data []byte) string {
	switch ct := http.DetectContentType(data); ct {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	default:
		return "jpeg"
	}
}
