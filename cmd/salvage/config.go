package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the full salvage service configuration.
type Config struct {
	Listen          string          `yaml:"listen"`
	ArtifactDB      string          `yaml:"artifact_db"`
	TraceDB         string          `yaml:"trace_db"`
	ArtifactBaseURL string          `yaml:"artifact_base_url"`
	MaxFileMB       int             `yaml:"max_file_mb"`
	LogLevel        string          `yaml:"log_level"`
	MCPTransport    string          `yaml:"mcp_transport"` // "" | stdio
	OCR             OCRConfig       `yaml:"ocr"`
	Remote          RemoteConfig    `yaml:"remote"`
	Render          RenderConfig    `yaml:"render"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// OCRConfig configures the recognition service client.
type OCRConfig struct {
	Endpoint   string   `yaml:"endpoint"`
	APIKey     string   `yaml:"api_key"`
	Languages  []string `yaml:"languages"`
	PageLimit  int      `yaml:"page_limit"`
	TimeoutSec int      `yaml:"timeout_sec"`
}

// RemoteConfig configures the extraction fallback service client.
type RemoteConfig struct {
	Endpoint   string `yaml:"endpoint"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// RenderConfig selects the PDF raster backend.
type RenderConfig struct {
	Backend   string `yaml:"backend"` // auto | poppler | chrome | none
	ChromeURL string `yaml:"chrome_url"`
	DPI       int    `yaml:"dpi"`
}

// RateLimitConfig bounds per-client request rates.
type RateLimitConfig struct {
	EveryMs int `yaml:"every_ms"`
	Burst   int `yaml:"burst"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:     ":8086",
		ArtifactDB: "db/artifacts.db",
		TraceDB:    "db/traces.db",
		MaxFileMB:  100,
		LogLevel:   "info",
		OCR: OCRConfig{
			Languages:  []string{"eng", "rus"},
			PageLimit:  20,
			TimeoutSec: 60,
		},
		Remote: RemoteConfig{
			TimeoutSec: 30,
		},
		Render: RenderConfig{
			Backend: "auto",
			DPI:     150,
		},
		RateLimit: RateLimitConfig{
			EveryMs: 600, // ~100/min
			Burst:   20,
		},
	}
}

// LoadConfig reads a YAML file over DefaultConfig, then applies environment
// overrides. An empty path skips the file and uses defaults + env only.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Listen = ":" + v
	}
	setEnv(&c.ArtifactDB, "ARTIFACT_DB")
	setEnv(&c.TraceDB, "TRACE_DB")
	setEnv(&c.LogLevel, "LOG_LEVEL")
	setEnv(&c.MCPTransport, "MCP_TRANSPORT")
	setEnv(&c.OCR.Endpoint, "OCR_ENDPOINT")
	setEnv(&c.OCR.APIKey, "OCR_API_KEY")
	setEnv(&c.Remote.Endpoint, "REMOTE_ENDPOINT")
	setEnv(&c.Render.ChromeURL, "CHROME_URL")
	setEnv(&c.Render.Backend, "RENDER_BACKEND")
}

func setEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if c.ArtifactDB == "" {
		return fmt.Errorf("artifact_db is required")
	}
	if c.TraceDB == "" {
		return fmt.Errorf("trace_db is required")
	}
	if c.MaxFileMB <= 0 {
		return fmt.Errorf("max_file_mb must be > 0")
	}
	switch c.Render.Backend {
	case "", "auto", "poppler", "chrome", "none":
	default:
		return fmt.Errorf("render.backend must be auto, poppler, chrome or none")
	}
	switch c.MCPTransport {
	case "", "stdio":
	default:
		return fmt.Errorf("mcp_transport must be empty or stdio")
	}
	for _, lang := range c.OCR.Languages {
		if strings.TrimSpace(lang) == "" {
			return fmt.Errorf("ocr.languages must not contain empty entries")
		}
	}
	return nil
}
