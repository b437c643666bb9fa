package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/config"
	"rollcall/internal/ingest"
	"rollcall/internal/logging"
	"rollcall/internal/notifications"
	"rollcall/internal/queue"
	"rollcall/internal/registry"
	"rollcall/internal/services"
)

// Verifier checks a single spreadsheet row against the identity registry.
// *registry.Client satisfies it; tests substitute fakes.
type Verifier interface {
	Verify(ctx context.Context, record registry.Record) (registry.Result, error)
}

// errCancelled is the cancellation cause recorded when an operator cancels
// the active job. It distinguishes operator cancellation from daemon
// shutdown when the row pipeline winds down.
var errCancelled = errors.New("job cancelled by operator")

// Manager owns the job queue. It accepts submissions at any time but drains
// the queue with a single worker goroutine, so at most one job is ever in
// the processing state.
type Manager struct {
	cfg      *config.Config
	store    *queue.Store
	verifier Verifier
	notifier notifications.Service
	observer ProgressObserver
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	activeMu     sync.Mutex
	activeJobID  string
	activeCancel context.CancelCauseFunc
}

// NewManager builds a manager with a notifier derived from configuration and
// no progress observer.
func NewManager(cfg *config.Config, store *queue.Store, verifier Verifier, logger *slog.Logger) *Manager {
	return NewManagerWithOptions(cfg, store, verifier, logger, notifications.NewService(cfg), NopObserver{})
}

// NewManagerWithOptions builds a manager with explicit collaborators.
func NewManagerWithOptions(cfg *config.Config, store *queue.Store, verifier Verifier, logger *slog.Logger, notifier notifications.Service, observer ProgressObserver) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		verifier: verifier,
		notifier: notifier,
		observer: observer,
		logger:   logging.NewComponentLogger(logger, "workflow"),
	}
}

// Submit records an upload as a queued job and returns its identifier. It
// never blocks on processing: the drain loop picks the job up later.
func (m *Manager) Submit(ctx context.Context, req ingest.Request) (string, error) {
	if strings.TrimSpace(req.Path) == "" {
		return "", services.Wrap(services.ErrValidation, "workflow", "submit", "source path is required", nil)
	}
	if req.WardID <= 0 {
		return "", services.Wrap(services.ErrValidation, "workflow", "submit", fmt.Sprintf("invalid ward %d", req.WardID), nil)
	}
	if strings.TrimSpace(req.Fingerprint) == "" {
		return "", services.Wrap(services.ErrValidation, "workflow", "submit", "fingerprint is required", nil)
	}

	job := &queue.Job{
		JobID:       uuid.NewString(),
		SourcePath:  req.Path,
		WardID:      req.WardID,
		Fingerprint: req.Fingerprint,
		MaxRetries:  m.cfg.Workflow.JobMaxRetries,
	}
	created, err := m.store.Create(ctx, job)
	if err != nil {
		return "", err
	}

	m.logger.Info("job queued",
		logging.String(logging.FieldJobID, created.JobID),
		logging.Int(logging.FieldWard, created.WardID),
		logging.String("source_path", created.SourcePath))
	if err := m.notifier.NotifyJobQueued(ctx, created); err != nil {
		m.logger.Warn("queued notification failed", logging.Error(err))
	}
	return created.JobID, nil
}

// Status returns the current state of a job by its public identifier.
func (m *Manager) Status(ctx context.Context, jobID string) (*queue.Job, error) {
	return m.store.GetByJobID(ctx, jobID)
}

// Recent lists the most recently created jobs, optionally filtered by state.
func (m *Manager) Recent(ctx context.Context, limit int, states ...queue.State) ([]*queue.Job, error) {
	return m.store.List(ctx, limit, states...)
}

// Cancel requests cancellation of a job. Queued jobs move to cancelled
// immediately. If the job is the one currently processing, its row pipeline
// is also interrupted in-process so the cancellation takes effect without
// waiting for the next checkpoint.
func (m *Manager) Cancel(ctx context.Context, jobID string) (bool, error) {
	accepted, err := m.store.RequestCancel(ctx, jobID)
	if err != nil || !accepted {
		return accepted, err
	}

	m.activeMu.Lock()
	if m.activeJobID == jobID && m.activeCancel != nil {
		m.activeCancel(errCancelled)
	}
	m.activeMu.Unlock()

	m.logger.Info("cancellation requested", logging.String(logging.FieldJobID, jobID))
	return true, nil
}

// Start launches the drain loop and the stall monitor. Jobs left in the
// processing state by a previous run are reset to queued first, so an
// interrupted upload restarts from scratch.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return services.Wrap(services.ErrValidation, "workflow", "start", "manager already running", nil)
	}

	reset, err := m.store.ResetStuckProcessing(ctx)
	if err != nil {
		return fmt.Errorf("reset interrupted jobs: %w", err)
	}
	if reset > 0 {
		m.logger.Info("reset interrupted jobs to queued", logging.Int64("count", reset))
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.run(runCtx)
	}()
	go func() {
		defer m.wg.Done()
		m.monitorStalls(runCtx)
	}()

	m.logger.Info("workflow manager started",
		logging.Int("row_concurrency", m.cfg.Workflow.RowConcurrency),
		logging.Int("poll_interval_seconds", m.cfg.Workflow.QueuePollInterval))
	return nil
}

// Stop halts the drain loop and waits for the active job, if any, to wind
// down. The active job stays in the processing state and is reset to queued
// on the next Start.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.logger.Info("workflow manager stopped")
}

func (m *Manager) run(ctx context.Context) {
	pollInterval := time.Duration(m.cfg.Workflow.QueuePollInterval) * time.Second
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	errorInterval := time.Duration(m.cfg.Workflow.ErrorRetryInterval) * time.Second
	if errorInterval <= 0 {
		errorInterval = pollInterval
	}
	backoff := time.Duration(m.cfg.Workflow.RetryBackoff) * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		if requeued, err := m.store.RequeueRetryable(ctx, backoff); err != nil {
			m.logger.Error("requeue retryable jobs failed", logging.Error(err))
		} else if requeued > 0 {
			m.logger.Info("requeued failed jobs for retry", logging.Int64("count", requeued))
		}

		job, err := m.store.NextQueued(ctx)
		if err != nil {
			m.logger.Error("poll queue failed", logging.Error(err))
			if services.SleepWithContext(ctx, errorInterval) != nil {
				return
			}
			continue
		}
		if job == nil {
			if services.SleepWithContext(ctx, pollInterval) != nil {
				return
			}
			continue
		}

		m.processJob(ctx, job)
	}
}

func (m *Manager) setActive(jobID string, cancel context.CancelCauseFunc) {
	m.activeMu.Lock()
	m.activeJobID = jobID
	m.activeCancel = cancel
	m.activeMu.Unlock()
}

func (m *Manager) clearActive() {
	m.activeMu.Lock()
	m.activeJobID = ""
	m.activeCancel = nil
	m.activeMu.Unlock()
}

// monitorStalls watches the heartbeat of the processing job and alerts when
// no progress has been persisted for longer than the configured threshold.
// The job is left alone otherwise; stall detection is advisory.
func (m *Manager) monitorStalls(ctx context.Context) {
	threshold := time.Duration(m.cfg.Workflow.StallThreshold) * time.Second
	if threshold <= 0 {
		return
	}
	interval := threshold / 4
	if interval < 10*time.Second {
		interval = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	alerted := make(map[string]time.Time)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		jobs, err := m.store.List(ctx, 1, queue.StateProcessing)
		if err != nil {
			m.logger.Warn("stall monitor query failed", logging.Error(err))
			continue
		}
		if len(jobs) == 0 {
			continue
		}

		job := jobs[0]
		if job.LastHeartbeat == nil {
			continue
		}
		since := time.Since(*job.LastHeartbeat)
		if since < threshold {
			delete(alerted, job.JobID)
			continue
		}
		if last, ok := alerted[job.JobID]; ok && last.Equal(*job.LastHeartbeat) {
			continue
		}
		alerted[job.JobID] = *job.LastHeartbeat

		m.logger.Warn("job appears stalled",
			logging.String(logging.FieldJobID, job.JobID),
			logging.Int(logging.FieldWard, job.WardID),
			logging.Duration("since_heartbeat", since))
		if err := m.notifier.NotifyJobStalled(ctx, job, since); err != nil {
			m.logger.Warn("stall notification failed", logging.Error(err))
		}
	}
}
