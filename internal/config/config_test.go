package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rollcall/internal/config"
)

func validConfigTOML(base string) string {
	return `
[paths]
upload_dir = "` + filepath.Join(base, "uploads") + `"
data_dir = "` + filepath.Join(base, "data") + `"
log_dir = "` + filepath.Join(base, "logs") + `"

[registry]
base_url = "https://registry.example.gov/api/v1"
client_id = "rollcall"
client_secret = "secret"
`
}

func TestLoadExplicitPath(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "config.toml")
	if err := os.WriteFile(path, []byte(validConfigTOML(base)), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to be reported as existing")
	}
	if resolved != path {
		t.Fatalf("expected resolved path %s, got %s", path, resolved)
	}
	if cfg.Registry.ClientID != "rollcall" {
		t.Fatalf("unexpected client id %q", cfg.Registry.ClientID)
	}
	if cfg.Workflow.RowConcurrency != 4 {
		t.Fatalf("expected default row concurrency, got %d", cfg.Workflow.RowConcurrency)
	}
}

func TestLoadMissingExplicitPathFails(t *testing.T) {
	if _, _, _, err := config.Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing explicit config path")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"missing base url", func(c *config.Config) { c.Registry.BaseURL = "" }, "registry.base_url"},
		{"bad base url", func(c *config.Config) { c.Registry.BaseURL = "::not-a-url" }, "registry.base_url"},
		{"missing client id", func(c *config.Config) { c.Registry.ClientID = "" }, "registry.client_id"},
		{"zero rate", func(c *config.Config) { c.Registry.RequestsPerSecond = 0 }, "requests_per_second"},
		{"zero concurrency", func(c *config.Config) { c.Workflow.RowConcurrency = 0 }, "row_concurrency"},
		{"zero checkpoint", func(c *config.Config) { c.Workflow.CheckpointInterval = 0 }, "checkpoint_interval"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Registry.BaseURL = "https://registry.example.gov"
			cfg.Registry.ClientID = "id"
			cfg.Registry.ClientSecret = "secret"
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample failed: %v", err)
	}
	if err := config.WriteSample(path); err == nil {
		t.Fatal("expected overwrite refusal")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[registry]") {
		t.Fatal("sample config missing registry section")
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.UploadDir = filepath.Join(base, "uploads")
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.UploadDir, cfg.Paths.DataDir, cfg.Paths.LogDir} {
		if _, err := os.Stat(dir); err != nil {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
	if cfg.DatabasePath() != filepath.Join(cfg.Paths.DataDir, "history.db") {
		t.Fatalf("unexpected database path %s", cfg.DatabasePath())
	}
}
