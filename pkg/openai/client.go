// Package openai is a VisionClient for any server speaking the OpenAI chat completions
// protocol (OpenAI itself, llama.cpp, vLLM).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/menta2k/drink-preview/pkg/client"
)

const (
	DefaultBaseURL  = "https://api.openai.com"
	completionsPath = "/v1/chat/completions"
	defaultTimeout  = 5 * time.Minute
)

// Options configures the client.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
	// ImageDetail is forwarded as image_url.detail ("high" unless set).
	ImageDetail string
	Logger      *zerolog.Logger
}

type Client struct {
	baseURL    string
	apiKey     string
	detail     string
	httpClient *http.Client
	log        zerolog.Logger
}

var _ client.VisionClient = (*Client)(nil)

// Message is one chat message. Content is a string or []ContentPart.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
	Stream      bool      `json:"stream"`
}

type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage,omitempty"`
	Error   *apiErr  `json:"error,omitempty"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type apiErr struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

var ErrEmptyResponse = errors.New("openai: no text content in response")

func NewClient(opts Options) *Client {
	base := strings.TrimSuffix(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	detail := opts.ImageDetail
	if detail == "" {
		detail = "high"
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		baseURL:    base,
		apiKey:     strings.TrimSpace(opts.APIKey),
		detail:     detail,
		httpClient: httpClient,
		log:        logger.With().Str("component", "openai").Logger(),
	}
}

func (c *Client) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	req := ChatCompletionRequest{
		Model:       model,
		Messages:    []Message{c.userMessage(prompt, imgB64)},
		Temperature: 0.7,
		MaxTokens:   2048,
		TopP:        0.9,
	}
	return c.complete(ctx, req)
}

// AnalyzeImage uses a low temperature so repeated detections agree.
func (c *Client) AnalyzeImage(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	req := ChatCompletionRequest{
		Model:       model,
		Messages:    []Message{c.userMessage(prompt, imgB64)},
		Temperature: 0.1,
		MaxTokens:   1000,
	}
	return c.complete(ctx, req)
}

func (c *Client) userMessage(prompt, imgB64 string) Message {
	content := []ContentPart{{Type: "text", Text: prompt}}
	if imgB64 != "" {
		url := imgB64
		if !strings.HasPrefix(url, "data:") && !strings.HasPrefix(url, "http") {
			url = "data:image/jpeg;base64," + imgB64
		}
		content = append(content, ContentPart{
			Type:     "image_url",
			ImageURL: &ImageURL{URL: url, Detail: c.detail},
		})
	}
	return Message{Role: "user", Content: content}
}

func (c *Client) complete(ctx context.Context, req ChatCompletionRequest) (string, error) {
	body, err := c.sendRequest(ctx, completionsPath, req)
	if err != nil {
		return "", fmt.Errorf("openai: request failed: %w", err)
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("openai: failed to parse response: %w", err)
	}
	if resp.Error != nil && resp.Error.Message != "" {
		return "", fmt.Errorf("openai error: %s (%s)", resp.Error.Message, resp.Error.Type)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices in response")
	}
	c.log.Debug().Str("model", req.Model).Int("total_tokens", resp.Usage.TotalTokens).Msg("completion received")

	text := messageText(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// messageText handles both the string and the array-of-parts content shapes.
func messageText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var sb strings.Builder
		for _, item := range v {
			part, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := part["text"].(string); ok {
				sb.WriteString(text)
			}
		}
		return sb.String()
	}
	return ""
}

func (c *Client) sendRequest(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
