// Package cohere is a minimal client for the Cohere rerank endpoint.
package cohere

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
)

const (
	DefaultBaseURL = "https://api.cohere.ai"
	DefaultModel   = "rerank-english-v3.0"
	DefaultTopN    = 10
)

var ErrMissingAPIKey = errors.New("cohere: API key is missing")

type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	TopN       int
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

type Client struct {
	apiKey     string
	baseURL    string
	model      string
	topN       int
	httpClient *http.Client
	log        zerolog.Logger
}

func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	c := &Client{
		apiKey:     opts.APIKey,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		model:      opts.Model,
		topN:       opts.TopN,
		httpClient: opts.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.topN <= 0 {
		c.topN = DefaultTopN
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	c.log = logger.With().Str("component", "cohere").Logger()
	return c, nil
}

type rerankRequest struct {
	Model           string   `json:"model"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	TopN            int      `json:"top_n"`
	ReturnDocuments bool     `json:"return_documents"`
}

// Result is one ranked document; Index points into the documents passed to Rerank.
type Result struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type rerankResponse struct {
	ID      string   `json:"id"`
	Results []Result `json:"results"`
	Message string   `json:"message,omitempty"`
}

// Rerank orders documents by relevance to query, best first.
func (c *Client) Rerank(ctx context.Context, query string, documents []string) ([]Result, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(rerankRequest{
		Model:           c.model,
		Query:           query,
		Documents:       documents,
		TopN:            min(c.topN, len(documents)),
		ReturnDocuments: true,
	})
	if err != nil {
		return nil, fmt.Errorf("cohere: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("cohere: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cohere: rerank: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cohere: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cohere API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rr rerankResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return nil, fmt.Errorf("cohere: decode response: %w", err)
	}
	out := rr.Results[:0]
	for _, r := range rr.Results {
		if r.Index >= 0 && r.Index < len(documents) {
			out = append(out, r)
		}
	}
	c.log.Debug().Int("documents", len(documents)).Int("results", len(out)).Msg("reranked")
	return out, nil
}
