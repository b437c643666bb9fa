package testsupport

import (
	"path/filepath"
	"testing"

	"rollcall/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.UploadDir = filepath.Join(base, "uploads")
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Registry.BaseURL = "https://registry.test"
	cfg.Registry.ClientID = "test-client"
	cfg.Registry.ClientSecret = "test-secret"

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return &cfg
}

// WithRegistryURL points the test config at a custom registry endpoint,
// typically an httptest server.
func WithRegistryURL(url string) ConfigOption {
	return func(c *config.Config) {
		c.Registry.BaseURL = url
	}
}

// WithRowConcurrency overrides the per-job verification fan-out.
func WithRowConcurrency(n int) ConfigOption {
	return func(c *config.Config) {
		c.Workflow.RowConcurrency = n
	}
}
