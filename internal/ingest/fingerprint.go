package ingest

import (
	"fmt"
	"os"
)

// Fingerprint derives a stable identifier from a file's size and modification
// time. A file edited after submission yields a new fingerprint and is
// treated as new work.
func Fingerprint(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	return fmt.Sprintf("%d-%d", info.Size(), info.ModTime().UnixNano()), nil
}
