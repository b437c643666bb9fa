// Package workflow drains the job queue. A single manager goroutine picks
// up one queued upload at a time, parses the workbook, fans the rows out to
// a bounded pool of verification workers, and persists progress checkpoints
// and the terminal state back to the store. Submission, status, and
// cancellation are safe to call from any goroutine while a job is running.
package workflow
