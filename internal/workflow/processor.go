package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"rollcall/internal/ingest"
	"rollcall/internal/logging"
	"rollcall/internal/queue"
	"rollcall/internal/registry"
	"rollcall/internal/services"
)

const (
	// maxAuthFailures is how many rows may hit an authentication failure
	// before the whole job is failed. A broken credential affects every
	// row, so there is no point grinding through the spreadsheet.
	maxAuthFailures = 3

	rowRetryBaseDelay = 500 * time.Millisecond
	rowRetryMaxDelay  = 5 * time.Second

	maxErrorSummaryLen = 500
)

// errAuthExhausted aborts the row pipeline when registry authentication
// keeps failing after token refresh.
var errAuthExhausted = errors.New("registry authentication failed repeatedly")

type rowOutcome struct {
	outcome     registry.Outcome
	authFailure bool
	aborted     bool
}

// processJob runs one job end to end: parse the workbook, fan rows out to a
// bounded worker pool, collect outcomes on a single goroutine, and persist
// the terminal state. Counters are only ever advanced by the collector, so
// processed_records is monotonically non-decreasing in the store.
func (m *Manager) processJob(ctx context.Context, job *queue.Job) {
	logger := m.logger.With(
		logging.String(logging.FieldJobID, job.JobID),
		logging.Int(logging.FieldWard, job.WardID))

	jobCtx, cancelJob := context.WithCancelCause(ctx)
	defer cancelJob(nil)
	m.setActive(job.JobID, cancelJob)
	defer m.clearActive()

	records, err := ingest.ReadWorkbook(job.SourcePath)
	if err != nil {
		logger.Error("workbook ingest failed", logging.Error(err))
		m.failJob(ctx, job, fmt.Sprintf("ingest: %v", err))
		return
	}

	now := time.Now().UTC()
	job.State = queue.StateProcessing
	job.StartedAt = &now
	job.LastHeartbeat = &now
	job.TotalRecords = len(records)
	job.SetProgress(0, fmt.Sprintf("Verifying %d rows", len(records)))
	if err := m.store.Update(ctx, job); err != nil {
		logger.Error("mark processing failed", logging.Error(err))
		return
	}
	logger.Info("job started", logging.Int("total_records", len(records)))

	if len(records) == 0 {
		m.completeJob(ctx, job, logger)
		return
	}

	concurrency := m.cfg.Workflow.RowConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	results := make(chan rowOutcome)
	go m.dispatchRows(jobCtx, records, concurrency, results)
	m.collectRows(ctx, jobCtx, cancelJob, job, results, logger)
}

// dispatchRows feeds rows to a bounded pool of verification workers and
// closes results once every in-flight row has reported. Rows are not handed
// out after the job context is cancelled, but workers already running are
// allowed to finish.
func (m *Manager) dispatchRows(jobCtx context.Context, records []registry.Record, concurrency int, results chan<- rowOutcome) {
	sem := make(chan struct{}, concurrency)
	done := make(chan struct{}, len(records))
	dispatched := 0

	for _, record := range records {
		if jobCtx.Err() != nil {
			break
		}
		sem <- struct{}{}
		dispatched++
		go func(rec registry.Record) {
			defer func() {
				<-sem
				done <- struct{}{}
			}()
			results <- m.verifyRow(jobCtx, rec)
		}(record)
	}

	go func() {
		for i := 0; i < dispatched; i++ {
			<-done
		}
		close(results)
	}()
}

// verifyRow verifies one row, retrying transient outcomes up to the
// configured ceiling with exponential backoff. A row interrupted by
// cancellation reports aborted and is not counted against the job.
func (m *Manager) verifyRow(ctx context.Context, record registry.Record) rowOutcome {
	retryLimit := m.cfg.Workflow.RowRetryLimit
	delay := rowRetryBaseDelay

	for attempt := 0; ; attempt++ {
		result, err := m.verifier.Verify(ctx, record)
		if err != nil {
			if ctx.Err() != nil {
				return rowOutcome{aborted: true}
			}
			if errors.Is(err, services.ErrAuth) {
				return rowOutcome{outcome: registry.OutcomeTransient, authFailure: true}
			}
			result = registry.Result{Outcome: registry.OutcomeTransient, Detail: err.Error()}
		}

		if result.Outcome != registry.OutcomeTransient || attempt >= retryLimit {
			return rowOutcome{outcome: result.Outcome}
		}

		if services.SleepWithContext(ctx, delay) != nil {
			return rowOutcome{aborted: true}
		}
		delay *= 2
		if delay > rowRetryMaxDelay {
			delay = rowRetryMaxDelay
		}
	}
}

// collectRows is the single goroutine that advances job counters. It
// checkpoints progress to the store on a row-count and wall-clock cadence,
// refreshes the heartbeat, and polls the persisted cancellation flag so a
// cancel issued from another process takes effect mid-job.
func (m *Manager) collectRows(ctx, jobCtx context.Context, cancelJob context.CancelCauseFunc, job *queue.Job, results <-chan rowOutcome, logger *slog.Logger) {
	checkpointRows := m.cfg.Workflow.CheckpointRows
	if checkpointRows <= 0 {
		checkpointRows = 25
	}
	checkpointInterval := time.Duration(m.cfg.Workflow.CheckpointInterval) * time.Second
	if checkpointInterval <= 0 {
		checkpointInterval = 3 * time.Second
	}

	processed := 0
	lastPersisted := 0
	lastCheckpoint := time.Now()
	authFailures := 0

	for outcome := range results {
		if outcome.aborted {
			continue
		}
		if outcome.authFailure {
			// The row still gets a terminal outcome below; only repeated
			// auth failures escalate to a job-level abort.
			authFailures++
			if authFailures >= maxAuthFailures {
				cancelJob(errAuthExhausted)
			}
		}

		processed++
		switch outcome.outcome {
		case registry.OutcomeVerified:
			job.VerifiedCount++
		case registry.OutcomeNotFound:
			job.NotFoundCount++
			job.FailedCount++
		case registry.OutcomeAmbiguous:
			job.FailedCount++
		default:
			job.FailedCount++
		}

		if processed-lastPersisted >= checkpointRows || time.Since(lastCheckpoint) >= checkpointInterval {
			m.checkpoint(ctx, cancelJob, job, processed, logger)
			lastPersisted = processed
			lastCheckpoint = time.Now()
		}
	}

	job.SetProgress(processed, job.ProgressMessage)

	cause := context.Cause(jobCtx)
	switch {
	case errors.Is(cause, errCancelled):
		m.finalizeCancelled(ctx, job, logger)
	case errors.Is(cause, errAuthExhausted):
		logger.Error("registry authentication kept failing, failing job")
		m.failJob(ctx, job, "registry authentication failed repeatedly")
	case ctx.Err() != nil:
		// Daemon shutdown. Persist the watermark and leave the job in
		// processing; the next Start resets it to queued.
		if err := m.store.Update(context.WithoutCancel(ctx), job); err != nil {
			logger.Warn("persist on shutdown failed", logging.Error(err))
		}
		logger.Info("job interrupted by shutdown", logging.Int("processed", processed))
	default:
		m.completeJob(ctx, job, logger)
	}
}

// checkpoint persists the current counters and heartbeat, reports progress
// to the observer, and checks whether a cancellation was requested through
// the store since the last checkpoint.
func (m *Manager) checkpoint(ctx context.Context, cancelJob context.CancelCauseFunc, job *queue.Job, processed int, logger *slog.Logger) {
	persistCtx := context.WithoutCancel(ctx)

	now := time.Now().UTC()
	job.LastHeartbeat = &now
	job.SetProgress(processed, fmt.Sprintf("Verified %d/%d rows", processed, job.TotalRecords))
	if err := m.store.Update(persistCtx, job); err != nil {
		logger.Warn("checkpoint persist failed", logging.Error(err))
		return
	}
	m.observer.OnProgress(job.JobID, job.ProgressPercent, job.ProgressMessage)

	fresh, err := m.store.GetByID(persistCtx, job.ID)
	if err != nil {
		logger.Warn("cancellation check failed", logging.Error(err))
		return
	}
	if fresh != nil && fresh.CancelRequested {
		job.CancelRequested = true
		cancelJob(errCancelled)
	}
}

func (m *Manager) completeJob(ctx context.Context, job *queue.Job, logger *slog.Logger) {
	job.SetCompleted(time.Now().UTC())
	persistCtx := context.WithoutCancel(ctx)
	if err := m.store.Update(persistCtx, job); err != nil {
		logger.Error("persist completion failed", logging.Error(err))
		return
	}
	m.observer.OnProgress(job.JobID, 100, "Completed")
	logger.Info("job completed",
		logging.Int("verified", job.VerifiedCount),
		logging.Int("failed", job.FailedCount),
		logging.Int("not_found", job.NotFoundCount))
	if err := m.notifier.NotifyJobCompleted(persistCtx, job); err != nil {
		logger.Warn("completion notification failed", logging.Error(err))
	}
}

func (m *Manager) finalizeCancelled(ctx context.Context, job *queue.Job, logger *slog.Logger) {
	now := time.Now().UTC()
	job.State = queue.StateCancelled
	job.CompletedAt = &now
	job.LastHeartbeat = nil
	job.ProgressMessage = "Cancelled by operator"
	if err := m.store.Update(context.WithoutCancel(ctx), job); err != nil {
		logger.Error("persist cancellation failed", logging.Error(err))
		return
	}
	logger.Info("job cancelled", logging.Int("processed", job.ProcessedRecords))
}

// failJob moves a job to the failed state and fires the failure alert. The
// summary is truncated so a pathological parser error cannot bloat the row.
func (m *Manager) failJob(ctx context.Context, job *queue.Job, summary string) {
	if len(summary) > maxErrorSummaryLen {
		summary = summary[:maxErrorSummaryLen]
	}
	job.SetFailed(summary)
	now := time.Now().UTC()
	job.CompletedAt = &now

	persistCtx := context.WithoutCancel(ctx)
	if err := m.store.Update(persistCtx, job); err != nil {
		m.logger.Error("persist failure failed",
			logging.String(logging.FieldJobID, job.JobID),
			logging.Error(err))
		return
	}
	if err := m.notifier.NotifyJobFailed(persistCtx, job); err != nil {
		m.logger.Warn("failure notification failed", logging.Error(err))
	}
}
