package ingest

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Upload files are named WARD_<n>_<description>.xlsx; the ward identifier is
// the only business fact the pipeline parses out of the name.
var wardFilePattern = regexp.MustCompile(`(?i)^WARD_(\d+)_.+\.xlsx$`)

// Request is one ingestion request emitted by the watcher and consumed by the
// queue manager.
type Request struct {
	Path        string
	WardID      int
	Fingerprint string
}

// ParseWardFilename extracts the ward identifier from an upload filename.
func ParseWardFilename(path string) (int, error) {
	name := filepath.Base(strings.TrimSpace(path))
	matches := wardFilePattern.FindStringSubmatch(name)
	if matches == nil {
		return 0, fmt.Errorf("filename %q does not match WARD_<n>_*.xlsx", name)
	}
	ward, err := strconv.Atoi(matches[1])
	if err != nil || ward <= 0 {
		return 0, fmt.Errorf("filename %q has invalid ward identifier", name)
	}
	return ward, nil
}

// EligibleFilename reports whether a file name looks like a ward upload.
func EligibleFilename(path string) bool {
	_, err := ParseWardFilename(path)
	return err == nil
}
