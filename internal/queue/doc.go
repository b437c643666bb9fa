// Package queue persists file processing jobs in SQLite and exposes helpers
// for driving their lifecycle.
//
// The Store manages database connections, schema initialization, stats
// queries, heartbeat tracking, stuck-job recovery, and the state transitions
// the workflow manager relies on. Jobs capture progress counters, retry
// budgets, and fingerprints so the watcher can detect already-processed files
// without additional state.
//
// Exactly one component (the workflow manager) writes to an in-flight job;
// everything else reads. WAL mode keeps status queries from blocking writes.
// Schema changes bump the version in schema.go; users delete the database to
// adopt the new schema.
package queue
