package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	AppEnv     string           `json:"app_env"`
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Redis      RedisConfig      `json:"redis"`
	Firefly    FireflyConfig    `json:"firefly"`
	Vision     VisionConfig     `json:"vision"`
	Compositor CompositorConfig `json:"compositor"`
	Cohere     CohereConfig     `json:"cohere"`
}

type ServerConfig struct {
	Port                string `json:"port"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds"`
	IdleTimeoutSeconds  int    `json:"idle_timeout_seconds"`
}

func (s ServerConfig) ReadTimeout() time.Duration  { return time.Duration(s.ReadTimeoutSeconds) * time.Second }
func (s ServerConfig) WriteTimeout() time.Duration { return time.Duration(s.WriteTimeoutSeconds) * time.Second }
func (s ServerConfig) IdleTimeout() time.Duration  { return time.Duration(s.IdleTimeoutSeconds) * time.Second }

// DatabaseConfig enables the catalog when URL is set.
type DatabaseConfig struct {
	URL string `json:"url"`
}

// RedisConfig enables the preview store when Addr is set.
type RedisConfig struct {
	Addr              string `json:"addr"`
	Username          string `json:"username"`
	Password          string `json:"password"`
	TLS               bool   `json:"tls"`
	PreviewTTLMinutes int    `json:"preview_ttl_minutes"`
}

func (r RedisConfig) PreviewTTL() time.Duration {
	return time.Duration(r.PreviewTTLMinutes) * time.Minute
}

type FireflyConfig struct {
	ClientID            string   `json:"client_id"`
	ClientSecret        string   `json:"client_secret"`
	Scopes              []string `json:"scopes"`
	BaseURL             string   `json:"base_url"`
	IMSURL              string   `json:"ims_url"`
	CustomModelID       string   `json:"custom_model_id"`
	CustomModelVersion  string   `json:"custom_model_version"`
	UseCustomModel      bool     `json:"use_custom_model"`
	PollIntervalSeconds int      `json:"poll_interval_seconds"`
	PollMaxAttempts     int      `json:"poll_max_attempts"`
}

func (f FireflyConfig) PollInterval() time.Duration {
	return time.Duration(f.PollIntervalSeconds) * time.Second
}

// PollCeiling is the longest a single job can be polled.
func (f FireflyConfig) PollCeiling() time.Duration {
	return f.PollInterval() * time.Duration(f.PollMaxAttempts)
}

// requestHeadroom covers the standard-model fallback, downloads and the detection calls
// that follow a timed-out custom-model job.
const requestHeadroom = 5 * time.Minute

// RequestBudget is the longest one preview request can legitimately take.
func (c *Config) RequestBudget() time.Duration {
	return c.Firefly.PollCeiling() + requestHeadroom
}

// VisionConfig selects the cup detection backend. Empty URL and Model fall back to
// the backend's defaults.
type VisionConfig struct {
	Backend       string  `json:"backend"`
	URL           string  `json:"url"`
	Model         string  `json:"model"`
	APIKey        string  `json:"api_key"`
	MinConfidence float64 `json:"min_confidence"`
	SendSize      int     `json:"send_size"`
}

type CompositorConfig struct {
	LogoURL           string  `json:"logo_url"`
	BottomOffsetRatio float64 `json:"bottom_offset_ratio"`
	Opacity           float64 `json:"opacity"`
	Mode              string  `json:"mode"`
}

type CohereConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
}

// Vision backends.
const (
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
	BackendGemini = "gemini"
)

// Composite modes.
const (
	ModePixel  = "pixel"
	ModeRemote = "remote"
)

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		AppEnv: "development",
		Server: ServerConfig{
			Port:                "8080",
			ReadTimeoutSeconds:  15,
			WriteTimeoutSeconds: 600,
			IdleTimeoutSeconds:  60,
		},
		Redis: RedisConfig{PreviewTTLMinutes: 60},
		Firefly: FireflyConfig{
			Scopes:              []string{"openid", "AdobeID", "firefly_api", "ff_apis"},
			BaseURL:             "https://firefly-api.adobe.io",
			IMSURL:              "https://ims-na1.adobelogin.com",
			CustomModelVersion:  "image3_custom",
			PollIntervalSeconds: 10,
			PollMaxAttempts:     30,
		},
		Vision: VisionConfig{
			Backend:       BackendOpenAI,
			MinConfidence: 0.7,
			SendSize:      1536,
		},
		Compositor: CompositorConfig{
			BottomOffsetRatio: 0.10,
			Opacity:           0.4,
			Mode:              ModePixel,
		},
		Cohere: CohereConfig{
			BaseURL: "https://api.cohere.ai",
			Model:   "rerank-english-v3.0",
		},
	}
}

// Load returns the defaults overridden by environment variables.
func Load() (*Config, error) {
	c := Default()
	c.ApplyEnv()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// ApplyEnv overrides fields whose environment variables are set.
func (c *Config) ApplyEnv() {
	c.AppEnv = getEnv("APP_ENV", c.AppEnv)

	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.ReadTimeoutSeconds = getEnvInt("HTTP_READ_TIMEOUT_SECONDS", c.Server.ReadTimeoutSeconds)
	c.Server.WriteTimeoutSeconds = getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", c.Server.WriteTimeoutSeconds)
	c.Server.IdleTimeoutSeconds = getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", c.Server.IdleTimeoutSeconds)

	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Username = getEnv("REDIS_USERNAME", c.Redis.Username)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.TLS = getEnvBool("REDIS_TLS", c.Redis.TLS)
	c.Redis.PreviewTTLMinutes = getEnvInt("PREVIEW_TTL_MINUTES", c.Redis.PreviewTTLMinutes)

	c.Firefly.ClientID = getEnv("FIREFLY_CLIENT_ID", c.Firefly.ClientID)
	c.Firefly.ClientSecret = getEnv("FIREFLY_CLIENT_SECRET", c.Firefly.ClientSecret)
	c.Firefly.Scopes = getEnvList("FIREFLY_SCOPES", c.Firefly.Scopes)
	c.Firefly.BaseURL = getEnv("FIREFLY_BASE_URL", c.Firefly.BaseURL)
	c.Firefly.IMSURL = getEnv("FIREFLY_IMS_URL", c.Firefly.IMSURL)
	c.Firefly.CustomModelID = getEnv("FIREFLY_CUSTOM_MODEL_ID", c.Firefly.CustomModelID)
	c.Firefly.CustomModelVersion = getEnv("FIREFLY_CUSTOM_MODEL_VERSION", c.Firefly.CustomModelVersion)
	c.Firefly.UseCustomModel = getEnvBool("FIREFLY_USE_CUSTOM_MODEL", c.Firefly.UseCustomModel)
	c.Firefly.PollIntervalSeconds = getEnvInt("FIREFLY_POLL_INTERVAL_SECONDS", c.Firefly.PollIntervalSeconds)
	c.Firefly.PollMaxAttempts = getEnvInt("FIREFLY_POLL_MAX_ATTEMPTS", c.Firefly.PollMaxAttempts)

	c.Vision.Backend = strings.ToLower(getEnv("VISION_BACKEND", c.Vision.Backend))
	c.Vision.URL = getEnv("VISION_URL", c.Vision.URL)
	c.Vision.Model = getEnv("VISION_MODEL", c.Vision.Model)
	c.Vision.APIKey = getEnv("VISION_API_KEY", c.Vision.APIKey)
	c.Vision.MinConfidence = getEnvFloat("VISION_MIN_CONFIDENCE", c.Vision.MinConfidence)
	c.Vision.SendSize = getEnvInt("VISION_SEND_SIZE", c.Vision.SendSize)

	c.Compositor.LogoURL = getEnv("LOGO_URL", c.Compositor.LogoURL)
	c.Compositor.BottomOffsetRatio = getEnvFloat("BOTTOM_OFFSET_RATIO", c.Compositor.BottomOffsetRatio)
	c.Compositor.Opacity = getEnvFloat("LOGO_OPACITY", c.Compositor.Opacity)
	c.Compositor.Mode = strings.ToLower(getEnv("COMPOSITE_MODE", c.Compositor.Mode))

	c.Cohere.APIKey = getEnv("COHERE_API_KEY", c.Cohere.APIKey)
	c.Cohere.BaseURL = getEnv("COHERE_BASE_URL", c.Cohere.BaseURL)
	c.Cohere.Model = getEnv("COHERE_MODEL", c.Cohere.Model)
}

// LoadFromFile loads configuration from a JSON file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port cannot be empty")
	}

	if c.Firefly.PollIntervalSeconds < 1 {
		return fmt.Errorf("firefly.poll_interval_seconds must be positive")
	}

	if c.Firefly.PollMaxAttempts < 1 {
		return fmt.Errorf("firefly.poll_max_attempts must be at least 1")
	}

	if c.Server.WriteTimeout() < c.RequestBudget() {
		return fmt.Errorf("server.write_timeout_seconds (%s) must cover polling plus fallback (%s)", c.Server.WriteTimeout(), c.RequestBudget())
	}

	switch c.Vision.Backend {
	case BackendOpenAI, BackendOllama, BackendGemini:
	default:
		return fmt.Errorf("vision.backend must be one of openai, ollama, gemini (got %q)", c.Vision.Backend)
	}

	if c.Vision.MinConfidence < 0 || c.Vision.MinConfidence > 1 {
		return fmt.Errorf("vision.min_confidence must be between 0 and 1")
	}

	if c.Vision.SendSize < 0 {
		return fmt.Errorf("vision.send_size cannot be negative")
	}

	if c.Compositor.BottomOffsetRatio <= 0 || c.Compositor.BottomOffsetRatio > 1 {
		return fmt.Errorf("compositor.bottom_offset_ratio must be in (0, 1]")
	}

	if c.Compositor.Opacity <= 0 || c.Compositor.Opacity > 1 {
		return fmt.Errorf("compositor.opacity must be in (0, 1]")
	}

	if c.Compositor.Mode != ModePixel && c.Compositor.Mode != ModeRemote {
		return fmt.Errorf("compositor.mode must be pixel or remote (got %q)", c.Compositor.Mode)
	}

	if c.Redis.Addr != "" && c.Redis.PreviewTTLMinutes < 1 {
		return fmt.Errorf("redis.preview_ttl_minutes must be positive")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "drink-preview", "config.json")
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
