package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":8086" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if cfg.MaxFileMB != 100 {
		t.Errorf("max_file_mb = %d", cfg.MaxFileMB)
	}
	if cfg.OCR.PageLimit != 20 || len(cfg.OCR.Languages) != 2 {
		t.Errorf("ocr = %+v", cfg.OCR)
	}
	if cfg.Render.Backend != "auto" || cfg.Render.DPI != 150 {
		t.Errorf("render = %+v", cfg.Render)
	}
	if cfg.RateLimit.EveryMs != 600 || cfg.RateLimit.Burst != 20 {
		t.Errorf("rate_limit = %+v", cfg.RateLimit)
	}
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: ":9000"
max_file_mb: 25
ocr:
  endpoint: "http://ocr.internal:8080"
  languages: [rus]
render:
  backend: poppler
  dpi: 300
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":9000" || cfg.MaxFileMB != 25 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.OCR.Endpoint != "http://ocr.internal:8080" {
		t.Errorf("ocr endpoint = %q", cfg.OCR.Endpoint)
	}
	if len(cfg.OCR.Languages) != 1 || cfg.OCR.Languages[0] != "rus" {
		t.Errorf("ocr languages = %v", cfg.OCR.Languages)
	}
	if cfg.Render.Backend != "poppler" || cfg.Render.DPI != 300 {
		t.Errorf("render = %+v", cfg.Render)
	}
	// untouched fields keep their defaults
	if cfg.TraceDB != "db/traces.db" {
		t.Errorf("trace_db = %q", cfg.TraceDB)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
listen: ":9000"
log_level: warn
`)
	t.Setenv("PORT", "7777")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("OCR_ENDPOINT", "http://env-ocr:8080")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":7777" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q", cfg.LogLevel)
	}
	if cfg.OCR.Endpoint != "http://env-ocr:8080" {
		t.Errorf("ocr endpoint = %q", cfg.OCR.Endpoint)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestLoadConfig_BadYAML(t *testing.T) {
	path := writeConfig(t, "listen: [unclosed")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("broken yaml accepted")
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"empty listen", func(c *Config) { c.Listen = "" }, "listen"},
		{"empty artifact db", func(c *Config) { c.ArtifactDB = "" }, "artifact_db"},
		{"zero max file", func(c *Config) { c.MaxFileMB = 0 }, "max_file_mb"},
		{"bad render backend", func(c *Config) { c.Render.Backend = "ghostscript" }, "render.backend"},
		{"bad mcp transport", func(c *Config) { c.MCPTransport = "quic" }, "mcp_transport"},
		{"blank ocr language", func(c *Config) { c.OCR.Languages = []string{"eng", " "} }, "languages"},
		{"stdio transport ok", func(c *Config) { c.MCPTransport = "stdio" }, ""},
		{"none backend ok", func(c *Config) { c.Render.Backend = "none" }, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want %q", err, tc.wantErr)
			}
		})
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" rus, eng ,,deu ")
	if len(got) != 3 || got[0] != "rus" || got[1] != "eng" || got[2] != "deu" {
		t.Fatalf("got %v", got)
	}
	if out := splitCSV(""); out != nil {
		t.Fatalf("empty input gave %v", out)
	}
}
