// Package logging centralizes slog construction and the attribute helpers the
// rest of the daemon uses. Components receive loggers tagged with a component
// attribute; tests use NewNop to silence output.
package logging
