// Package watcher detects new ward spreadsheets in the upload directory and
// submits them for processing. Submission is at-most-once per path and
// content fingerprint: a file already present in the job history is skipped
// until it is modified. The watcher owns no job state; it only enqueues.
package watcher
