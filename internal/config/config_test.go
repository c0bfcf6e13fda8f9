package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestRequestBudgetCoversPolling(t *testing.T) {
	c := Default()
	if got := c.Firefly.PollCeiling(); got != 5*time.Minute {
		t.Fatalf("poll ceiling = %v", got)
	}
	if c.RequestBudget() <= c.Firefly.PollCeiling() {
		t.Fatalf("budget %v leaves no room after polling", c.RequestBudget())
	}
	if c.Server.WriteTimeout() < c.RequestBudget() {
		t.Fatalf("default write timeout %v is shorter than the request budget %v", c.Server.WriteTimeout(), c.RequestBudget())
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("FIREFLY_SCOPES", "openid, firefly_api")
	t.Setenv("FIREFLY_POLL_INTERVAL_SECONDS", "2")
	t.Setenv("FIREFLY_USE_CUSTOM_MODEL", "true")
	t.Setenv("VISION_BACKEND", "Ollama")
	t.Setenv("BOTTOM_OFFSET_RATIO", "0.2")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("PREVIEW_TTL_MINUTES", "not-a-number")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Server.Port != "9090" || c.Vision.Backend != BackendOllama || c.Compositor.BottomOffsetRatio != 0.2 {
		t.Fatalf("env not applied: %+v", c)
	}
	if len(c.Firefly.Scopes) != 2 || c.Firefly.Scopes[1] != "firefly_api" || !c.Firefly.UseCustomModel {
		t.Fatalf("firefly env not applied: %+v", c.Firefly)
	}
	if c.Firefly.PollInterval() != 2*time.Second {
		t.Fatalf("poll interval = %v", c.Firefly.PollInterval())
	}
	if c.Redis.PreviewTTL() != time.Hour {
		t.Fatalf("unparseable TTL should keep the default, got %v", c.Redis.PreviewTTL())
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"ratio zero":    func(c *Config) { c.Compositor.BottomOffsetRatio = 0 },
		"opacity high":  func(c *Config) { c.Compositor.Opacity = 1.5 },
		"poll attempts": func(c *Config) { c.Firefly.PollMaxAttempts = 0 },
		"backend":       func(c *Config) { c.Vision.Backend = "llamacpp" },
		"mode":          func(c *Config) { c.Compositor.Mode = "svg" },
		"confidence":    func(c *Config) { c.Vision.MinConfidence = 2 },
		"redis ttl":     func(c *Config) { c.Redis.Addr = "x:1"; c.Redis.PreviewTTLMinutes = 0 },
		"empty port":    func(c *Config) { c.Server.Port = "" },
		"negative size": func(c *Config) { c.Vision.SendSize = -1 },
		"poll interval": func(c *Config) { c.Firefly.PollIntervalSeconds = 0 },
		"write timeout": func(c *Config) { c.Server.WriteTimeoutSeconds = 300 },
	}
	for name, mutate := range cases {
		c := Default()
		mutate(c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestLoadFromFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"compositor":{"logo_url":"https://cdn/logo.png"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if c.Compositor.LogoURL != "https://cdn/logo.png" || c.Compositor.Opacity != 0.4 {
		t.Fatalf("unexpected config: %+v", c.Compositor)
	}
}
