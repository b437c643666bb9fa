package testsupport

import (
	"testing"

	"rollcall/internal/config"
	"rollcall/internal/queue"
)

// MustOpenStore opens a job history store against the test config and closes
// it when the test finishes.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
