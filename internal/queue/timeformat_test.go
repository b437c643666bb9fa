package queue

import (
	"testing"
	"time"
)

func TestFormatSQLTimeOrdersLexicographically(t *testing.T) {
	// .120 vs .123 seconds: a trimmed-fraction encoding would sort these
	// backwards as strings, which the requeue cutoff comparison relies on.
	base := time.Date(2026, 3, 1, 12, 0, 0, 120000000, time.UTC)
	later := base.Add(3 * time.Millisecond)

	a := formatSQLTime(base)
	b := formatSQLTime(later)
	if len(a) != len(b) {
		t.Fatalf("timestamps must be fixed width, got %q and %q", a, b)
	}
	if a >= b {
		t.Fatalf("string order must follow time order, got %q >= %q", a, b)
	}
}

func TestFormatSQLTimeRoundTrips(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 987654321, time.UTC)
	parsed, err := parseTimeString(formatSQLTime(now))
	if err != nil {
		t.Fatalf("parse formatted time: %v", err)
	}
	if !parsed.Equal(now) {
		t.Fatalf("round trip mismatch: %v != %v", parsed, now)
	}
}
