package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateRegistry(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.UploadDir) == "" {
		return errors.New("paths.upload_dir must be set")
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	return nil
}

func (c *Config) validateRegistry() error {
	if strings.TrimSpace(c.Registry.BaseURL) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/rollcall/config.toml"
		}
		return fmt.Errorf("registry.base_url is required. Edit %s (create with 'rollcall config init')", defaultPath)
	}
	parsed, err := url.Parse(c.Registry.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("registry.base_url %q is not a valid URL", c.Registry.BaseURL)
	}
	if strings.TrimSpace(c.Registry.ClientID) == "" {
		return errors.New("registry.client_id must be set")
	}
	if strings.TrimSpace(c.Registry.ClientSecret) == "" {
		return errors.New("registry.client_secret must be set")
	}
	if c.Registry.RequestsPerSecond <= 0 {
		return errors.New("registry.requests_per_second must be positive")
	}
	if c.Registry.Burst < 1 {
		return errors.New("registry.burst must be at least 1")
	}
	if c.Registry.RequestTimeout <= 0 {
		return errors.New("registry.request_timeout must be positive")
	}
	if c.Registry.ExchangeTimeout <= 0 {
		return errors.New("registry.exchange_timeout must be positive")
	}
	if c.Registry.TokenSafetyMargin < 0 {
		return errors.New("registry.token_safety_margin must not be negative")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.QueuePollInterval <= 0 {
		return errors.New("workflow.queue_poll_interval must be positive")
	}
	if c.Workflow.UploadScanInterval <= 0 {
		return errors.New("workflow.upload_scan_interval must be positive")
	}
	if c.Workflow.RowConcurrency < 1 {
		return errors.New("workflow.row_concurrency must be at least 1")
	}
	if c.Workflow.RowRetryLimit < 0 {
		return errors.New("workflow.row_retry_limit must not be negative")
	}
	if c.Workflow.JobMaxRetries < 0 {
		return errors.New("workflow.job_max_retries must not be negative")
	}
	if c.Workflow.CheckpointInterval <= 0 {
		return errors.New("workflow.checkpoint_interval must be positive")
	}
	if c.Workflow.CheckpointRows < 1 {
		return errors.New("workflow.checkpoint_rows must be at least 1")
	}
	return nil
}
