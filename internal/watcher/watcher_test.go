package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/ingest"
	"rollcall/internal/logging"
	"rollcall/internal/queue"
	"rollcall/internal/testsupport"
)

type recordingSubmitter struct {
	mu       sync.Mutex
	requests []ingest.Request
	store    *queue.Store
}

func (r *recordingSubmitter) Submit(ctx context.Context, req ingest.Request) (string, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()

	job := &queue.Job{
		JobID:       uuid.NewString(),
		SourcePath:  req.Path,
		WardID:      req.WardID,
		Fingerprint: req.Fingerprint,
		MaxRetries:  3,
	}
	created, err := r.store.Create(ctx, job)
	if err != nil {
		return "", err
	}
	return created.JobID, nil
}

func (r *recordingSubmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func newTestWatcher(t *testing.T) (*Watcher, *recordingSubmitter, string) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	submitter := &recordingSubmitter{store: store}
	w := New(cfg, store, submitter, logging.NewNop())
	return w, submitter, cfg.Paths.UploadDir
}

func TestScanSubmitsEligibleFileOnce(t *testing.T) {
	w, submitter, dir := newTestWatcher(t)
	ctx := context.Background()

	path := filepath.Join(dir, "WARD_4_voters.xlsx")
	if err := os.WriteFile(path, []byte("workbook"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	w.scan(ctx)
	w.scan(ctx)
	w.scan(ctx)

	if got := submitter.count(); got != 1 {
		t.Fatalf("expected one submission across repeated scans, got %d", got)
	}
	if submitter.requests[0].WardID != 4 {
		t.Fatalf("unexpected ward %d", submitter.requests[0].WardID)
	}
}

func TestScanSkipsFileAlreadyInHistory(t *testing.T) {
	w, submitter, dir := newTestWatcher(t)
	ctx := context.Background()

	path := filepath.Join(dir, "WARD_4_voters.xlsx")
	if err := os.WriteFile(path, []byte("workbook"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	fingerprint, err := ingest.Fingerprint(path)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if _, err := submitter.store.Create(ctx, &queue.Job{
		JobID:       uuid.NewString(),
		SourcePath:  path,
		WardID:      4,
		Fingerprint: fingerprint,
		MaxRetries:  3,
	}); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	w.scan(ctx)

	if got := submitter.count(); got != 0 {
		t.Fatalf("file already in history must not be resubmitted, got %d submissions", got)
	}
}

func TestScanResubmitsModifiedFile(t *testing.T) {
	w, submitter, dir := newTestWatcher(t)
	ctx := context.Background()

	path := filepath.Join(dir, "WARD_9_voters.xlsx")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	w.scan(ctx)

	later := time.Now().Add(2 * time.Second)
	if err := os.WriteFile(path, []byte("v2 with more rows"), 0o644); err != nil {
		t.Fatalf("rewrite file: %v", err)
	}
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	w.scan(ctx)

	if got := submitter.count(); got != 2 {
		t.Fatalf("modified file must be resubmitted, got %d submissions", got)
	}
}

func TestScanIgnoresMalformedAndForeignFiles(t *testing.T) {
	w, submitter, dir := newTestWatcher(t)
	ctx := context.Background()

	for _, name := range []string{
		"district_4_voters.xlsx",
		"WARD_4_voters.csv",
		".WARD_4_hidden.xlsx",
		"~WARD_4_temp.xlsx",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	w.scan(ctx)
	w.scan(ctx)

	if got := submitter.count(); got != 0 {
		t.Fatalf("expected no submissions, got %d", got)
	}
	// The malformed xlsx is left in place, untouched.
	if _, err := os.Stat(filepath.Join(dir, "district_4_voters.xlsx")); err != nil {
		t.Fatalf("malformed file must be left alone: %v", err)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	w, submitter, dir := newTestWatcher(t)

	path := filepath.Join(dir, "WARD_2_voters.xlsx")
	if err := os.WriteFile(path, []byte("workbook"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := w.Start(ctx); err == nil {
		t.Fatal("second Start must fail")
	}

	deadline := time.Now().Add(2 * time.Second)
	for submitter.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	w.Stop()

	if got := submitter.count(); got != 1 {
		t.Fatalf("expected initial scan to submit the file, got %d", got)
	}
}
