// Package firefly talks to the Adobe Firefly image API: token exchange, synchronous and
// job-based generation, image upload and object compositing.
package firefly

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/menta2k/drink-preview/pkg/processing"
)

const (
	DefaultBaseURL            = "https://firefly-api.adobe.io"
	DefaultIMSURL             = "https://ims-na1.adobelogin.com"
	DefaultCustomModelVersion = "image3_custom"
	DefaultPollInterval       = 10 * time.Second
	DefaultPollMaxAttempts    = 30

	imageSize            = 1024
	descriptiveImageSize = 2048
	compositeStrength    = 90
	tokenSkew            = 60 * time.Second
)

// DefaultScopes are requested when Options.Scopes is empty.
var DefaultScopes = []string{"openid", "AdobeID", "firefly_api", "ff_apis"}

var (
	ErrMissingCredentials = errors.New("firefly: client id and secret are required")
	ErrNoImage            = errors.New("firefly: no image returned")
	ErrJobFailed          = errors.New("firefly: job failed")
	ErrUnknownStatus      = errors.New("firefly: unknown job status")
	ErrJobTimeout         = errors.New("firefly: job did not complete")
)

// Options configures a Client.
type Options struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
	BaseURL      string
	IMSURL       string

	CustomModelID      string
	CustomModelVersion string

	// PollInterval and PollMaxAttempts bound job polling (10s × 30 when zero).
	PollInterval    time.Duration
	PollMaxAttempts int

	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// Client is safe for concurrent use; only the access token is shared state.
type Client struct {
	clientID     string
	clientSecret string
	scopes       string
	baseURL      string
	imsURL       string

	customModelID      string
	customModelVersion string

	pollInterval    time.Duration
	pollMaxAttempts int

	httpClient *http.Client
	log        zerolog.Logger
	now        func() time.Time

	tokenGroup  singleflight.Group
	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.ClientID) == "" || strings.TrimSpace(opts.ClientSecret) == "" {
		return nil, ErrMissingCredentials
	}
	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	c := &Client{
		clientID:           opts.ClientID,
		clientSecret:       opts.ClientSecret,
		scopes:             strings.Join(scopes, ","),
		baseURL:            strings.TrimRight(orDefault(opts.BaseURL, DefaultBaseURL), "/"),
		imsURL:             strings.TrimRight(orDefault(opts.IMSURL, DefaultIMSURL), "/"),
		customModelID:      opts.CustomModelID,
		customModelVersion: orDefault(opts.CustomModelVersion, DefaultCustomModelVersion),
		pollInterval:       opts.PollInterval,
		pollMaxAttempts:    opts.PollMaxAttempts,
		httpClient:         opts.HTTPClient,
		now:                time.Now,
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultPollInterval
	}
	if c.pollMaxAttempts <= 0 {
		c.pollMaxAttempts = DefaultPollMaxAttempts
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	c.log = logger.With().Str("component", "firefly").Logger()
	return c, nil
}

// HasCustomModel reports whether a custom model id is configured.
func (c *Client) HasCustomModel() bool {
	return c.customModelID != ""
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Token returns a cached IMS access token, refreshing it shortly before expiry.
// Concurrent callers share one refresh; a caller whose ctx ends stops waiting without
// aborting the refresh for the others.
func (c *Client) Token(ctx context.Context) (string, error) {
	if tok, ok := c.cachedToken(); ok {
		return tok, nil
	}
	ch := c.tokenGroup.DoChan("token", func() (any, error) {
		if tok, ok := c.cachedToken(); ok {
			return tok, nil
		}
		return c.fetchToken(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	}
}

func (c *Client) cachedToken() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, true
	}
	return "", false
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("scope", c.scopes)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.imsURL+"/ims/token/v3", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("firefly: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("firefly: token request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("firefly: failed to get access token (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("firefly: decode token: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("firefly: empty access token")
	}

	c.mu.Lock()
	c.token = tr.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(tr.ExpiresIn)*time.Second - tokenSkew)
	c.mu.Unlock()
	c.log.Debug().Int64("expires_in", tr.ExpiresIn).Msg("access token refreshed")
	return tr.AccessToken, nil
}

type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Style struct {
	Presets        []string        `json:"presets,omitempty"`
	ImageReference *ImageReference `json:"imageReference,omitempty"`
	Strength       int             `json:"strength,omitempty"`
}

type ImageReference struct {
	Source ImageSource `json:"source"`
}

type ImageSource struct {
	URL      string `json:"url,omitempty"`
	UploadID string `json:"uploadId,omitempty"`
}

type GenerateRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negativePrompt,omitempty"`
	NumVariations  int    `json:"numVariations"`
	ContentClass   string `json:"contentClass,omitempty"`
	Size           Size   `json:"size"`
	Style          *Style `json:"style,omitempty"`
	CustomModelID  string `json:"customModelId,omitempty"`
}

type Alignment struct {
	Horizontal string `json:"horizontal"`
	Vertical   string `json:"vertical"`
}

type Placement struct {
	Alignment Alignment `json:"alignment"`
}

type CompositeRequest struct {
	Prompt       string         `json:"prompt"`
	ContentClass string         `json:"contentClass"`
	Image        ImageReference `json:"image"`
	Placement    Placement      `json:"placement"`
	Style        Style          `json:"style"`
}

type Output struct {
	Seed  int64 `json:"seed"`
	Image struct {
		URL string `json:"url"`
	} `json:"image"`
}

// Result covers both the synchronous outputs and the job-based response shapes.
type Result struct {
	JobID     string   `json:"jobId"`
	StatusURL string   `json:"statusUrl"`
	Outputs   []Output `json:"outputs"`
}

func (r Result) imageURL() string {
	if len(r.Outputs) > 0 {
		return r.Outputs[0].Image.URL
	}
	return ""
}

type JobStatus struct {
	JobID   string   `json:"jobId"`
	Status  string   `json:"status"`
	Outputs []Output `json:"outputs"`
	Result  *struct {
		Outputs []Output `json:"outputs"`
	} `json:"result,omitempty"`
	Error   any    `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s JobStatus) imageURL() string {
	if len(s.Outputs) > 0 {
		return s.Outputs[0].Image.URL
	}
	if s.Result != nil && len(s.Result.Outputs) > 0 {
		return s.Result.Outputs[0].Image.URL
	}
	return ""
}

// GenerateStandard runs the synchronous standard-model endpoint.
func (c *Client) GenerateStandard(ctx context.Context, prompt, negativePrompt string) (string, error) {
	req := GenerateRequest{
		Prompt:         prompt,
		NegativePrompt: negativePrompt,
		NumVariations:  1,
		Size:           Size{Width: imageSize, Height: imageSize},
		Style:          &Style{Presets: []string{"photo"}},
	}
	var res Result
	if err := c.postJSON(ctx, "/v3/images/generate", req, nil, &res); err != nil {
		return "", err
	}
	u := res.imageURL()
	if u == "" {
		return "", ErrNoImage
	}
	c.log.Debug().Str("stage", "generate").Msg("standard image generated")
	return u, nil
}

// GenerateCustom submits a custom-model job and polls it to completion.
func (c *Client) GenerateCustom(ctx context.Context, prompt, negativePrompt string) (string, error) {
	if c.customModelID == "" {
		return "", errors.New("firefly: custom model id is not configured")
	}
	req := GenerateRequest{
		Prompt:         prompt,
		NegativePrompt: negativePrompt,
		NumVariations:  1,
		Size:           Size{Width: imageSize, Height: imageSize},
		Style:          &Style{Presets: []string{"photo"}},
		CustomModelID:  c.customModelID,
	}
	headers := map[string]string{"x-model-version": c.customModelVersion}

	var res Result
	err := c.postJSON(ctx, "/v3/images/generate-async", req, headers, &res)
	var se *StatusError
	if errors.As(err, &se) {
		return "", c.customModelError(se)
	}
	if err != nil {
		return "", err
	}
	if res.JobID != "" {
		c.log.Debug().Str("stage", "generate").Str("job_id", res.JobID).Msg("custom model job submitted")
		return c.PollJob(ctx, res.JobID)
	}
	if u := res.imageURL(); u != "" {
		return u, nil
	}
	return "", ErrNoImage
}

func (c *Client) customModelError(se *StatusError) error {
	switch se.Code {
	case http.StatusInternalServerError:
		return fmt.Errorf("custom model error (500): the custom model %q may be unavailable or incorrectly configured. Details: %s: %w", c.customModelID, se.Body, se)
	case http.StatusBadRequest:
		return fmt.Errorf("custom model configuration error (400): check model ID and parameters. Details: %s: %w", se.Body, se)
	case http.StatusForbidden:
		return fmt.Errorf("custom model access denied (403): no permission to use this custom model. Details: %s: %w", se.Body, se)
	}
	return se
}

// PollJob waits for a job to reach a terminal state. Transport and decode errors are
// retried until the attempt budget is spent; failed and unknown statuses are terminal.
func (c *Client) PollJob(ctx context.Context, jobID string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.pollMaxAttempts; attempt++ {
		var st JobStatus
		err := c.getJSON(ctx, "/v3/status/"+url.PathEscape(jobID), &st)
		if err == nil {
			switch strings.ToLower(st.Status) {
			case "completed", "succeeded":
				if u := st.imageURL(); u != "" {
					c.log.Debug().Str("job_id", jobID).Int("attempt", attempt).Msg("job completed")
					return u, nil
				}
				return "", fmt.Errorf("%w: job %s completed without outputs", ErrNoImage, jobID)
			case "failed", "cancelled":
				return "", fmt.Errorf("%w: %s", ErrJobFailed, st.failure())
			case "running", "pending", "submitted", "in_progress":
				c.log.Debug().Str("job_id", jobID).Int("attempt", attempt).Str("status", st.Status).Msg("job still running")
			default:
				return "", fmt.Errorf("%w: %q", ErrUnknownStatus, st.Status)
			}
		} else {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			c.log.Warn().Err(err).Str("job_id", jobID).Int("attempt", attempt).Msg("job status check failed")
		}

		if attempt == c.pollMaxAttempts {
			break
		}
		t := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("%w within %s: %w", ErrJobTimeout, time.Duration(c.pollMaxAttempts)*c.pollInterval, lastErr)
	}
	return "", fmt.Errorf("%w within %s", ErrJobTimeout, time.Duration(c.pollMaxAttempts)*c.pollInterval)
}

func (s JobStatus) failure() string {
	if s.Message != "" {
		return s.Message
	}
	switch e := s.Error.(type) {
	case string:
		if e != "" {
			return e
		}
	case map[string]any:
		if m, ok := e["message"].(string); ok && m != "" {
			return m
		}
	}
	return "unknown error"
}

type uploadResponse struct {
	ID     string `json:"id"`
	Images []struct {
		ID string `json:"id"`
	} `json:"images"`
}

// Upload stores raw image bytes and returns the upload id.
func (c *Client) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "image/png"
	}
	body, err := c.do(ctx, http.MethodPost, "/v3/images/upload", bytes.NewReader(data), contentType, nil)
	if err != nil {
		return "", err
	}
	var ur uploadResponse
	if err := json.Unmarshal(body, &ur); err != nil {
		return "", fmt.Errorf("firefly: decode upload response: %w", err)
	}
	if ur.ID != "" {
		return ur.ID, nil
	}
	if len(ur.Images) > 0 && ur.Images[0].ID != "" {
		return ur.Images[0].ID, nil
	}
	return "", errors.New("firefly: upload returned no id")
}

// CompositeObject places the logo image onto the background through the generative
// object-composite endpoint. The response is either synchronous or a job to poll.
func (c *Client) CompositeObject(ctx context.Context, backgroundURL, logoURL, prompt string) (string, error) {
	background, err := c.source(ctx, backgroundURL)
	if err != nil {
		return "", err
	}
	logo, err := c.source(ctx, logoURL)
	if err != nil {
		return "", err
	}
	req := CompositeRequest{
		Prompt:       prompt,
		ContentClass: "photo",
		Image:        ImageReference{Source: background},
		Placement:    Placement{Alignment: Alignment{Horizontal: "center", Vertical: "center"}},
		Style: Style{
			ImageReference: &ImageReference{Source: logo},
			Strength:       compositeStrength,
		},
	}
	var res Result
	if err := c.postJSON(ctx, "/v3/images/generate-object-composite", req, nil, &res); err != nil {
		return "", err
	}
	if u := res.imageURL(); u != "" {
		return u, nil
	}
	if res.JobID != "" {
		return c.PollJob(ctx, res.JobID)
	}
	return "", ErrNoImage
}

// source references an image for the API. Data URLs are uploaded first since the API
// only fetches http(s) sources.
func (c *Client) source(ctx context.Context, imageURL string) (ImageSource, error) {
	if !strings.HasPrefix(imageURL, "data:") {
		return ImageSource{URL: imageURL}, nil
	}
	data, contentType, err := processing.DecodeDataURL(imageURL)
	if err != nil {
		return ImageSource{}, fmt.Errorf("firefly: %w", err)
	}
	id, err := c.Upload(ctx, data, contentType)
	if err != nil {
		return ImageSource{}, err
	}
	c.log.Debug().Str("upload_id", id).Msg("uploaded inline image")
	return ImageSource{UploadID: id}, nil
}

// GenerateDescriptive regenerates the drink from a prompt that describes the logo in
// words. Used as the last fallback when pixel placement is impossible.
func (c *Client) GenerateDescriptive(ctx context.Context, prompt, negativePrompt string) (string, error) {
	req := GenerateRequest{
		Prompt:         prompt,
		NegativePrompt: negativePrompt,
		NumVariations:  1,
		ContentClass:   "photo",
		Size:           Size{Width: descriptiveImageSize, Height: descriptiveImageSize},
	}
	var res Result
	if err := c.postJSON(ctx, "/v3/images/generate", req, nil, &res); err != nil {
		return "", err
	}
	if u := res.imageURL(); u != "" {
		return u, nil
	}
	return "", ErrNoImage
}

// StatusError is a non-2xx API response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("firefly API error (%d): %s", e.Code, e.Body)
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, headers map[string]string, out any) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("firefly: marshal request: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, path, bytes.NewReader(jsonData), "application/json", headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("firefly: decode response: %w", err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	body, err := c.do(ctx, http.MethodGet, path, nil, "", nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("firefly: decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, headers map[string]string) ([]byte, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("firefly: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("x-api-key", c.clientID)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("firefly: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("firefly: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
