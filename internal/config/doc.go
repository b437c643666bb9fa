// Package config loads, normalizes, and validates the TOML configuration
// shared by the rollcall daemon and CLI. Defaults live in defaults.go; the
// embedded sample_config.toml documents every knob and is written by
// 'rollcall config init'.
package config
