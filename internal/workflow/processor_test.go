package workflow

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rollcall/internal/ingest"
	"rollcall/internal/queue"
	"rollcall/internal/registry"
	"rollcall/internal/services"
	"rollcall/internal/testsupport"
)

type recordingObserver struct {
	mu       sync.Mutex
	percents []float64
}

func (r *recordingObserver) OnProgress(jobID string, percent float64, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.percents = append(r.percents, percent)
}

func (r *recordingObserver) snapshot() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.percents...)
}

func submitAndFetch(t *testing.T, m *Manager, store *queue.Store, req ingest.Request) *queue.Job {
	t.Helper()
	ctx := context.Background()
	jobID, err := m.Submit(ctx, req)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	job, err := store.GetByJobID(ctx, jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	return job
}

// Exercises a 100-row workbook with a mixed outcome profile: 5 rows unknown
// to the registry, 1 row with an ambiguous match, and 4 rows that need a
// transient retry before verifying.
func TestProcessJobMixedOutcomeWorkbook(t *testing.T) {
	var transientSeen sync.Map
	verifier := verifierFunc(func(ctx context.Context, record registry.Record) (registry.Result, error) {
		idx, err := strconv.ParseInt(record.IdentityNumber, 10, 64)
		if err != nil {
			return registry.Result{}, err
		}
		switch row := int(idx - 1000000000000); {
		case row < 5:
			return registry.Result{Outcome: registry.OutcomeNotFound}, nil
		case row == 5:
			return registry.Result{Outcome: registry.OutcomeAmbiguous}, nil
		case row >= 6 && row < 10:
			if _, retried := transientSeen.LoadOrStore(row, true); !retried {
				return registry.Result{Outcome: registry.OutcomeTransient, Detail: "timeout"}, nil
			}
			return registry.Result{Outcome: registry.OutcomeVerified}, nil
		default:
			return registry.Result{Outcome: registry.OutcomeVerified}, nil
		}
	})

	observer := &recordingObserver{}
	notifier := &recordingNotifier{}
	m, store, cfg := newTestManager(t, verifier, notifier, observer)
	cfg.Workflow.RowRetryLimit = 1
	cfg.Workflow.CheckpointRows = 10
	cfg.Workflow.CheckpointInterval = 1

	req := writeVoterWorkbook(t, cfg, "WARD_4_voters.xlsx", 100)
	job := submitAndFetch(t, m, store, req)

	m.processJob(context.Background(), job)

	final, err := store.GetByJobID(context.Background(), job.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if final.State != queue.StateCompleted {
		t.Fatalf("expected completed, got %s (%s)", final.State, final.ErrorSummary)
	}
	if final.TotalRecords != 100 || final.ProcessedRecords != 100 {
		t.Fatalf("expected 100/100 processed, got %d/%d", final.ProcessedRecords, final.TotalRecords)
	}
	if final.VerifiedCount != 94 {
		t.Fatalf("expected 94 verified, got %d", final.VerifiedCount)
	}
	if final.FailedCount != 6 {
		t.Fatalf("expected 6 failed, got %d", final.FailedCount)
	}
	if final.NotFoundCount != 5 {
		t.Fatalf("expected 5 not found, got %d", final.NotFoundCount)
	}
	if final.ProgressPercent != 100 {
		t.Fatalf("expected 100%% progress, got %v", final.ProgressPercent)
	}
	if final.CompletedAt == nil || final.StartedAt == nil {
		t.Fatal("completed job must carry start and completion times")
	}

	percents := observer.snapshot()
	if len(percents) == 0 {
		t.Fatal("expected progress checkpoints")
	}
	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Fatalf("progress went backwards: %v", percents)
		}
	}
	if events := notifier.snapshot(); events[len(events)-1] != "completed" {
		t.Fatalf("expected completion notification, got %v", events)
	}
}

func TestProcessJobCancelPreservesPartialCounters(t *testing.T) {
	var calls atomic.Int64
	verifier := verifierFunc(func(ctx context.Context, record registry.Record) (registry.Result, error) {
		if calls.Add(1) <= 40 {
			return registry.Result{Outcome: registry.OutcomeVerified}, nil
		}
		<-ctx.Done()
		return registry.Result{}, ctx.Err()
	})

	m, store, cfg := newTestManager(t, verifier, nil, nil)
	cfg.Workflow.CheckpointRows = 10
	cfg.Workflow.CheckpointInterval = 1

	req := writeVoterWorkbook(t, cfg, "WARD_8_voters.xlsx", 100)
	job := submitAndFetch(t, m, store, req)

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.processJob(context.Background(), job)
	}()

	deadline := time.Now().Add(10 * time.Second)
	for calls.Load() <= 40 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if calls.Load() <= 40 {
		t.Fatal("verifier never reached the blocking rows")
	}

	accepted, err := m.Cancel(context.Background(), job.JobID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if !accepted {
		t.Fatal("expected cancellation to be accepted")
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("processJob did not wind down after cancel")
	}

	final, err := store.GetByJobID(context.Background(), job.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if final.State != queue.StateCancelled {
		t.Fatalf("expected cancelled, got %s", final.State)
	}
	if final.ProcessedRecords != 40 || final.VerifiedCount != 40 {
		t.Fatalf("partial counters must survive cancellation, got processed=%d verified=%d",
			final.ProcessedRecords, final.VerifiedCount)
	}
	if final.ProgressPercent != 40 {
		t.Fatalf("expected 40%% progress, got %v", final.ProgressPercent)
	}
	if final.CompletedAt == nil {
		t.Fatal("cancelled job must carry a completion time")
	}
}

func TestProcessJobFailsOnUnreadableWorkbook(t *testing.T) {
	notifier := &recordingNotifier{}
	m, store, cfg := newTestManager(t, verifierFunc(verifyAll), notifier, nil)

	path := filepath.Join(cfg.Paths.UploadDir, "WARD_2_corrupt.xlsx")
	if err := os.WriteFile(path, []byte("not a workbook"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	fingerprint, err := ingest.Fingerprint(path)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	job := submitAndFetch(t, m, store, ingest.Request{Path: path, WardID: 2, Fingerprint: fingerprint})

	m.processJob(context.Background(), job)

	final, err := store.GetByJobID(context.Background(), job.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if final.State != queue.StateFailed {
		t.Fatalf("expected failed, got %s", final.State)
	}
	if !strings.Contains(final.ErrorSummary, "ingest") {
		t.Fatalf("error summary should mention ingest, got %q", final.ErrorSummary)
	}
	if !final.CanRetry() {
		t.Fatal("ingest failure should leave the job eligible for retry")
	}
	if events := notifier.snapshot(); len(events) == 0 || events[len(events)-1] != "failed" {
		t.Fatalf("expected failure notification, got %v", events)
	}
}

func TestProcessJobFailsAfterRepeatedAuthErrors(t *testing.T) {
	verifier := verifierFunc(func(ctx context.Context, record registry.Record) (registry.Result, error) {
		return registry.Result{}, services.Wrap(services.ErrAuth, "registry", "verify", "token exchange rejected", nil)
	})
	m, store, cfg := newTestManager(t, verifier, nil, nil, testsupport.WithRowConcurrency(2))

	req := writeVoterWorkbook(t, cfg, "WARD_6_voters.xlsx", 10)
	job := submitAndFetch(t, m, store, req)

	m.processJob(context.Background(), job)

	final, err := store.GetByJobID(context.Background(), job.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if final.State != queue.StateFailed {
		t.Fatalf("expected failed, got %s", final.State)
	}
	if !strings.Contains(final.ErrorSummary, "authentication") {
		t.Fatalf("unexpected error summary %q", final.ErrorSummary)
	}
}

func TestProcessJobCountsAuthFailedRowAsFailed(t *testing.T) {
	// A single auth failure stays below the job-abort threshold; the row
	// must still end with a recorded outcome rather than vanish from the
	// counters.
	verifier := verifierFunc(func(ctx context.Context, record registry.Record) (registry.Result, error) {
		if record.IdentityNumber == "1000000000003" {
			return registry.Result{}, services.Wrap(services.ErrAuth, "registry", "verify", "token exchange rejected", nil)
		}
		return registry.Result{Outcome: registry.OutcomeVerified}, nil
	})
	m, store, cfg := newTestManager(t, verifier, nil, nil)

	req := writeVoterWorkbook(t, cfg, "WARD_11_voters.xlsx", 10)
	job := submitAndFetch(t, m, store, req)

	m.processJob(context.Background(), job)

	final, err := store.GetByJobID(context.Background(), job.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if final.State != queue.StateCompleted {
		t.Fatalf("expected completed, got %s (%s)", final.State, final.ErrorSummary)
	}
	if final.ProcessedRecords != 10 {
		t.Fatalf("every row must be accounted for, got processed=%d", final.ProcessedRecords)
	}
	if final.VerifiedCount != 9 || final.FailedCount != 1 || final.NotFoundCount != 0 {
		t.Fatalf("unexpected counters verified=%d failed=%d not_found=%d",
			final.VerifiedCount, final.FailedCount, final.NotFoundCount)
	}
}

func TestProcessJobCompletesEmptyWorkbook(t *testing.T) {
	m, store, cfg := newTestManager(t, verifierFunc(verifyAll), nil, nil)

	req := writeVoterWorkbook(t, cfg, "WARD_9_empty.xlsx", 0)
	job := submitAndFetch(t, m, store, req)

	m.processJob(context.Background(), job)

	final, err := store.GetByJobID(context.Background(), job.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if final.State != queue.StateCompleted {
		t.Fatalf("expected completed, got %s", final.State)
	}
	if final.TotalRecords != 0 || final.ProgressPercent != 100 {
		t.Fatalf("unexpected totals: records=%d percent=%v", final.TotalRecords, final.ProgressPercent)
	}
}

func TestVerifyRowRetriesTransientUpToCeiling(t *testing.T) {
	var calls atomic.Int64
	verifier := verifierFunc(func(ctx context.Context, record registry.Record) (registry.Result, error) {
		if calls.Add(1) <= 2 {
			return registry.Result{Outcome: registry.OutcomeTransient, Detail: "registry 503"}, nil
		}
		return registry.Result{Outcome: registry.OutcomeVerified}, nil
	})
	m, _, cfg := newTestManager(t, verifier, nil, nil)
	cfg.Workflow.RowRetryLimit = 2

	outcome := m.verifyRow(context.Background(), registry.Record{RowIndex: 1, IdentityNumber: "1000000000000"})
	if outcome.outcome != registry.OutcomeVerified {
		t.Fatalf("expected verified after retries, got %s", outcome.outcome)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestVerifyRowGivesUpAfterCeiling(t *testing.T) {
	var calls atomic.Int64
	verifier := verifierFunc(func(ctx context.Context, record registry.Record) (registry.Result, error) {
		calls.Add(1)
		return registry.Result{Outcome: registry.OutcomeTransient, Detail: "timeout"}, nil
	})
	m, _, cfg := newTestManager(t, verifier, nil, nil)
	cfg.Workflow.RowRetryLimit = 2

	outcome := m.verifyRow(context.Background(), registry.Record{RowIndex: 1, IdentityNumber: "1000000000000"})
	if outcome.outcome != registry.OutcomeTransient {
		t.Fatalf("expected transient after exhausted retries, got %s", outcome.outcome)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected initial attempt plus 2 retries, got %d", calls.Load())
	}
}
