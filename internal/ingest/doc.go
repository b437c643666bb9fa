// Package ingest handles the file side of the pipeline: recognizing ward
// upload filenames, fingerprinting files for dedup, and reading spreadsheet
// rows into verification records. Files are read-only inputs and are never
// mutated.
package ingest
