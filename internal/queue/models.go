package queue

import (
	"math"
	"strings"
	"time"
)

// State represents the lifecycle of a file processing job.
type State string

const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

var allStates = []State{
	StateQueued,
	StateProcessing,
	StateCompleted,
	StateFailed,
	StateCancelled,
}

var stateSet = func() map[State]struct{} {
	set := make(map[State]struct{}, len(allStates))
	for _, state := range allStates {
		set[state] = struct{}{}
	}
	return set
}()

// AllStates returns the ordered list of known states.
func AllStates() []State {
	cp := make([]State, len(allStates))
	copy(cp, allStates)
	return cp
}

// ParseState converts a string into a known State.
func ParseState(value string) (State, bool) {
	normalized := State(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stateSet[normalized]
	return normalized, ok
}

// Job represents one spreadsheet's ingestion-and-verification unit of work,
// persisted in SQLite.
type Job struct {
	ID               int64
	JobID            string
	SourcePath       string
	WardID           int
	Fingerprint      string
	State            State
	TotalRecords     int
	ProcessedRecords int
	VerifiedCount    int
	FailedCount      int
	NotFoundCount    int
	ProgressPercent  float64
	ProgressMessage  string
	ErrorSummary     string
	RetryCount       int
	MaxRetries       int
	CancelRequested  bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
	LastHeartbeat    *time.Time
}

// IsTerminal reports whether the job has reached a final state.
func (j Job) IsTerminal() bool {
	switch j.State {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// SetProgress records a processed-record watermark and keeps the derived
// percentage consistent with it. Processed never exceeds TotalRecords.
func (j *Job) SetProgress(processed int, message string) {
	if processed < 0 {
		processed = 0
	}
	if j.TotalRecords > 0 && processed > j.TotalRecords {
		processed = j.TotalRecords
	}
	j.ProcessedRecords = processed
	j.ProgressMessage = message
	if j.TotalRecords > 0 {
		j.ProgressPercent = math.Round(float64(processed) / float64(j.TotalRecords) * 100)
	} else {
		j.ProgressPercent = 0
	}
}

// SetFailed marks the job as failed with the given error summary and clears
// the heartbeat.
func (j *Job) SetFailed(summary string) {
	j.State = StateFailed
	j.ErrorSummary = summary
	j.ProgressMessage = summary
	j.LastHeartbeat = nil
}

// SetCompleted marks the job completed and stamps the completion time.
func (j *Job) SetCompleted(at time.Time) {
	j.State = StateCompleted
	j.ProgressPercent = 100
	j.ProgressMessage = "Completed"
	j.CompletedAt = &at
	j.LastHeartbeat = nil
}

// CanRetry reports whether the job is eligible for an automatic re-enqueue.
func (j Job) CanRetry() bool {
	return j.State == StateFailed && j.RetryCount < j.MaxRetries
}

// HealthSummary describes aggregated job counts per lifecycle state.
type HealthSummary struct {
	Total      int
	Queued     int
	Processing int
	Completed  int
	Failed     int
	Cancelled  int
}
