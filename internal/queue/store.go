package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"rollcall/internal/config"
	"rollcall/internal/services"
)

// Store manages job history persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open initializes or connects to the job history database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.DatabasePath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Create inserts a new queued job. JobID, SourcePath, WardID, Fingerprint,
// and MaxRetries must be populated by the caller.
func (s *Store) Create(ctx context.Context, job *Job) (*Job, error) {
	if job == nil {
		return nil, errors.New("job is nil")
	}
	if strings.TrimSpace(job.JobID) == "" {
		return nil, errors.New("job id is required")
	}
	if strings.TrimSpace(job.SourcePath) == "" {
		return nil, errors.New("source path is required")
	}
	if strings.TrimSpace(job.Fingerprint) == "" {
		return nil, errors.New("fingerprint is required")
	}

	timestamp := formatSQLTime(time.Now())

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO jobs (
            job_id, source_path, ward_id, fingerprint, state,
            max_retries, progress_message, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.JobID,
		job.SourcePath,
		job.WardID,
		job.Fingerprint,
		StateQueued,
		job.MaxRetries,
		nullableString(job.ProgressMessage),
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a job by row identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetByJobID fetches a job by its public identifier. An unknown identifier
// is an error carrying the ErrNotFound marker, never a nil job.
func (s *Store) GetByJobID(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "queue", "get job", jobID, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get job by job id: %w", err)
	}
	return job, nil
}

// FindByFingerprint returns the most recent job matching a source path and
// content fingerprint, or nil when none exists.
func (s *Store) FindByFingerprint(ctx context.Context, sourcePath, fingerprint string) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE source_path = ? AND fingerprint = ? ORDER BY id DESC LIMIT 1`,
		sourcePath,
		fingerprint,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by fingerprint: %w", err)
	}
	return job, nil
}

// Update persists changes to an existing job.
func (s *Store) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()
	_, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET state = ?, total_records = ?, processed_records = ?, verified_count = ?,
             failed_count = ?, not_found_count = ?, progress_percent = ?, progress_message = ?,
             error_summary = ?, retry_count = ?, max_retries = ?, cancel_requested = ?,
             updated_at = ?, started_at = ?, completed_at = ?, last_heartbeat = ?
         WHERE id = ?`,
		job.State,
		job.TotalRecords,
		job.ProcessedRecords,
		job.VerifiedCount,
		job.FailedCount,
		job.NotFoundCount,
		job.ProgressPercent,
		nullableString(job.ProgressMessage),
		nullableString(job.ErrorSummary),
		job.RetryCount,
		job.MaxRetries,
		boolToInt(job.CancelRequested),
		formatSQLTime(job.UpdatedAt),
		nullableTime(job.StartedAt),
		nullableTime(job.CompletedAt),
		nullableTime(job.LastHeartbeat),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// List returns jobs filtered by state set (or all jobs when no state is
// provided), newest first, bounded by limit when positive.
func (s *Store) List(ctx context.Context, limit int, states ...State) ([]*Job, error) {
	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at DESC, id DESC`

	var args []any
	if len(states) > 0 {
		placeholders := makePlaceholders(len(states))
		baseQuery += ` WHERE state IN (` + placeholders + `)`
		for _, state := range states {
			args = append(args, state)
		}
	}
	query := baseQuery + orderClause
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// NextQueued returns the oldest queued job, or nil when the queue is empty.
func (s *Store) NextQueued(ctx context.Context) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE state = ? ORDER BY created_at, id LIMIT 1`,
		StateQueued,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next queued job: %w", err)
	}
	return job, nil
}

// ResetStuckProcessing returns jobs left in processing by a crashed worker to
// queued. Counters are zeroed: recovery restarts a job from row zero.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET state = ?, total_records = 0, processed_records = 0, verified_count = 0,
             failed_count = 0, not_found_count = 0, progress_percent = 0,
             progress_message = 'Reset after restart', started_at = NULL,
             last_heartbeat = NULL, updated_at = ?
         WHERE state = ?`,
		StateQueued,
		formatSQLTime(time.Now()),
		StateProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	return res.RowsAffected()
}

// RequeueRetryable moves failed jobs with retry budget left back to queued
// once they have aged past the backoff window. Counters are zeroed and the
// retry count incremented.
func (s *Store) RequeueRetryable(ctx context.Context, backoff time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-backoff)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET state = ?, total_records = 0, processed_records = 0, verified_count = 0,
             failed_count = 0, not_found_count = 0, progress_percent = 0,
             progress_message = 'Retry scheduled', error_summary = NULL,
             retry_count = retry_count + 1, started_at = NULL, completed_at = NULL,
             last_heartbeat = NULL, updated_at = ?
         WHERE state = ? AND retry_count < max_retries AND updated_at < ?`,
		StateQueued,
		formatSQLTime(time.Now()),
		StateFailed,
		formatSQLTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("requeue retryable jobs: %w", err)
	}
	return res.RowsAffected()
}

// RetryJob forces a failed job back to queued regardless of its retry budget,
// resetting the retry count. Used by explicit operator action.
func (s *Store) RetryJob(ctx context.Context, jobID string) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET state = ?, total_records = 0, processed_records = 0, verified_count = 0,
             failed_count = 0, not_found_count = 0, progress_percent = 0,
             progress_message = 'Retry requested', error_summary = NULL,
             retry_count = 0, started_at = NULL, completed_at = NULL,
             last_heartbeat = NULL, updated_at = ?
         WHERE job_id = ? AND state = ?`,
		StateQueued,
		formatSQLTime(time.Now()),
		jobID,
		StateFailed,
	)
	if err != nil {
		return false, fmt.Errorf("retry job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// RequestCancel cancels a queued job immediately or flags a processing job
// for cooperative cancellation. It reports whether the request took effect.
func (s *Store) RequestCancel(ctx context.Context, jobID string) (bool, error) {
	now := formatSQLTime(time.Now())

	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET state = ?, progress_message = 'Cancelled by operator',
             completed_at = ?, updated_at = ?
         WHERE job_id = ? AND state = ?`,
		StateCancelled,
		now,
		now,
		jobID,
		StateQueued,
	)
	if err != nil {
		return false, fmt.Errorf("cancel queued job: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	} else if affected > 0 {
		return true, nil
	}

	res, err = s.execWithRetry(
		ctx,
		`UPDATE jobs SET cancel_requested = 1, updated_at = ? WHERE job_id = ? AND state = ?`,
		now,
		jobID,
		StateProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("flag processing job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// UpdateHeartbeat updates the last heartbeat timestamp for an in-flight job.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := formatSQLTime(time.Now())
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now,
		now,
		id,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// Stats returns a count of jobs grouped by state.
func (s *Store) Stats(ctx context.Context) (map[State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[State]int)
	for rows.Next() {
		var state State
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats[state] = count
	}
	return stats, rows.Err()
}

// Health aggregates job counts for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for state, count := range stats {
		health.Total += count
		switch state {
		case StateQueued:
			health.Queued += count
		case StateProcessing:
			health.Processing += count
		case StateCompleted:
			health.Completed += count
		case StateFailed:
			health.Failed += count
		case StateCancelled:
			health.Cancelled += count
		}
	}
	return health, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) execWithoutResultRetry(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

const jobColumns = "id, job_id, source_path, ward_id, fingerprint, state, total_records, processed_records, verified_count, failed_count, not_found_count, progress_percent, progress_message, error_summary, retry_count, max_retries, cancel_requested, created_at, updated_at, started_at, completed_at, last_heartbeat"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id              int64
		jobID           string
		sourcePath      string
		wardID          int
		fingerprint     string
		stateStr        string
		totalRecords    int
		processed       int
		verified        int
		failed          int
		notFound        int
		progressPercent sql.NullFloat64
		progressMessage sql.NullString
		errorSummary    sql.NullString
		retryCount      int
		maxRetries      int
		cancelRequested sql.NullInt64
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
		startedRaw      sql.NullString
		completedRaw    sql.NullString
		heartbeatRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&jobID,
		&sourcePath,
		&wardID,
		&fingerprint,
		&stateStr,
		&totalRecords,
		&processed,
		&verified,
		&failed,
		&notFound,
		&progressPercent,
		&progressMessage,
		&errorSummary,
		&retryCount,
		&maxRetries,
		&cancelRequested,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&completedRaw,
		&heartbeatRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:               id,
		JobID:            jobID,
		SourcePath:       sourcePath,
		WardID:           wardID,
		Fingerprint:      fingerprint,
		State:            State(stateStr),
		TotalRecords:     totalRecords,
		ProcessedRecords: processed,
		VerifiedCount:    verified,
		FailedCount:      failed,
		NotFoundCount:    notFound,
		ProgressPercent:  progressPercent.Float64,
		ProgressMessage:  progressMessage.String,
		ErrorSummary:     errorSummary.String,
		RetryCount:       retryCount,
		MaxRetries:       maxRetries,
	}
	if cancelRequested.Valid {
		job.CancelRequested = cancelRequested.Int64 != 0
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			job.StartedAt = &started
		}
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			job.CompletedAt = &completed
		}
	}
	if heartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(heartbeatRaw.String); err == nil {
			job.LastHeartbeat = &heartbeat
		}
	}
	return job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatSQLTime(*value)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// sqlTimeLayout is RFC3339 with fixed-width nanoseconds. RFC3339Nano trims
// trailing fractional zeros, which breaks lexicographic comparison of the
// stored strings; a fixed-width fraction keeps string order identical to
// time order.
const sqlTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatSQLTime(t time.Time) string {
	return t.UTC().Format(sqlTimeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
