package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// Hat width bounds, as a fraction of the photo width, that every placement respects
const (
	MinWidthRatio = 0.15
	MaxWidthRatio = 0.95
)

// Config holds the server configuration, read from the environment
type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"3000"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	GeminiAPIKey   string `env:"GEMINI_API_KEY"`
	GeminiBaseURL  string `env:"GEMINI_BASE_URL" default:"https://generativelanguage.googleapis.com"`
	PlacementModel string `env:"PLACEMENT_MODEL" default:"gemini-2.5-flash"`
	EditModel      string `env:"EDIT_MODEL" default:"gemini-2.5-flash-image-preview"`

	// VisionBackend selects the placement backend: gemini or ollama
	VisionBackend string `env:"VISION_BACKEND" default:"gemini"`
	OllamaURL     string `env:"OLLAMA_URL" default:"http://localhost:11434"`
	OllamaModel   string `env:"OLLAMA_MODEL" default:"qwen2.5vl:7b"`

	// HatURL is an http(s) URL or a file path
	HatURL    string `env:"HAT_URL" default:"public/assets/hat.png"`
	// PublicDir holds the browser client; served at / when it exists
	PublicDir string `env:"PUBLIC_DIR" default:"public"`

	UpstreamTimeout   time.Duration `env:"UPSTREAM_TIMEOUT" default:"60s"`
	EditTimeout       time.Duration `env:"EDIT_TIMEOUT" default:"120s"`
	AssetFetchTimeout time.Duration `env:"ASSET_FETCH_TIMEOUT" default:"15s"`
	AssetCacheMaxAge  time.Duration `env:"ASSET_CACHE_MAX_AGE" default:"8760h"` // 1 year
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`

	MaxUploadBytes     int64   `env:"MAX_UPLOAD_BYTES" default:"52428800"` // 50 MB
	RateLimitPerSecond float64 `env:"RATE_LIMIT_PER_SECOND" default:"2"`
	RateLimitBurst     int     `env:"RATE_LIMIT_BURST" default:"10"`

	SendMaxDim  int `env:"SEND_MAX_DIM" default:"1536"`
	SendQuality int `env:"SEND_QUALITY" default:"85"`

	FallbackAnchorX    float64 `env:"FALLBACK_ANCHOR_X" default:"0.5"`
	FallbackAnchorY    float64 `env:"FALLBACK_ANCHOR_Y" default:"0.18"`
	FallbackWidthRatio float64 `env:"FALLBACK_WIDTH_RATIO" default:"0.6"`
	HatAnchorRatio     float64 `env:"HAT_ANCHOR_RATIO" default:"0.8"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		AppEnv:             "development",
		Port:               "3000",
		LogLevel:           "info",
		LogFormat:          "text",
		GeminiBaseURL:      "https://generativelanguage.googleapis.com",
		PlacementModel:     "gemini-2.5-flash",
		EditModel:          "gemini-2.5-flash-image-preview",
		VisionBackend:      "gemini",
		OllamaURL:          "http://localhost:11434",
		OllamaModel:        "qwen2.5vl:7b",
		HatURL:             "public/assets/hat.png",
		PublicDir:          "public",
		UpstreamTimeout:    60 * time.Second,
		EditTimeout:        120 * time.Second,
		AssetFetchTimeout:  15 * time.Second,
		AssetCacheMaxAge:   8760 * time.Hour,
		ShutdownTimeout:    10 * time.Second,
		MaxUploadBytes:     50 << 20,
		RateLimitPerSecond: 2,
		RateLimitBurst:     10,
		SendMaxDim:         1536,
		SendQuality:        85,
		FallbackAnchorX:    0.5,
		FallbackAnchorY:    0.18,
		FallbackWidthRatio: 0.6,
		HatAnchorRatio:     0.8,
	}
}

// Load reads .env (if present) and the environment, then validates
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// EditingEnabled reports whether a Gemini credential is configured
func (c *Config) EditingEnabled() bool {
	return c.GeminiAPIKey != ""
}

// IsProduction reports whether APP_ENV is production
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}

	switch c.VisionBackend {
	case "gemini", "ollama":
	default:
		return fmt.Errorf("VISION_BACKEND must be gemini or ollama, got %q", c.VisionBackend)
	}

	if c.HatURL == "" {
		return errors.New("HAT_URL is required")
	}

	ratios := []struct {
		name  string
		value float64
	}{
		{"FALLBACK_ANCHOR_X", c.FallbackAnchorX},
		{"FALLBACK_ANCHOR_Y", c.FallbackAnchorY},
		{"HAT_ANCHOR_RATIO", c.HatAnchorRatio},
	}
	for _, r := range ratios {
		if r.value < 0 || r.value > 1 {
			return fmt.Errorf("%s must be between 0 and 1", r.name)
		}
	}
	if c.FallbackWidthRatio < MinWidthRatio || c.FallbackWidthRatio > MaxWidthRatio {
		return fmt.Errorf("FALLBACK_WIDTH_RATIO must be between %.2f and %.2f", MinWidthRatio, MaxWidthRatio)
	}

	if c.SendQuality < 1 || c.SendQuality > 100 {
		return errors.New("SEND_QUALITY must be between 1 and 100")
	}
	if c.SendMaxDim < 0 {
		return errors.New("SEND_MAX_DIM must not be negative")
	}

	if c.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be positive")
	}
	if c.RateLimitPerSecond <= 0 {
		return errors.New("RATE_LIMIT_PER_SECOND must be positive")
	}
	if c.RateLimitBurst < 1 {
		return errors.New("RATE_LIMIT_BURST must be at least 1")
	}

	timeouts := map[string]time.Duration{
		"UPSTREAM_TIMEOUT":    c.UpstreamTimeout,
		"EDIT_TIMEOUT":        c.EditTimeout,
		"ASSET_FETCH_TIMEOUT": c.AssetFetchTimeout,
		"SHUTDOWN_TIMEOUT":    c.ShutdownTimeout,
	}
	for name, d := range timeouts {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.AssetCacheMaxAge < 0 {
		return errors.New("ASSET_CACHE_MAX_AGE must not be negative")
	}

	return nil
}
