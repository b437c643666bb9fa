// Package notifications sends ntfy push alerts for job lifecycle events.
// When no topic is configured a noop implementation is used, so callers
// never need to nil-check.
package notifications
