// Package services defines shared utilities consumed by the verification
// pipeline and external integrations.
//
// Key responsibilities:
//   - Structured error markers plus the Wrap helper that keep failure
//     classification (auth, transient, fatal ingest) uniform across packages.
//   - Retry heuristics for network-facing calls.
//
// Use these helpers when wiring new pipeline logic so operational behaviour
// (error handling, retries) stays consistent.
package services
