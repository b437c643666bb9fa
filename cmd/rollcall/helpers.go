package main

import (
	"fmt"
	"time"

	"rollcall/internal/queue"
)

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatProgress(job *queue.Job) string {
	if job.TotalRecords == 0 {
		return "-"
	}
	return fmt.Sprintf("%d/%d (%.0f%%)", job.ProcessedRecords, job.TotalRecords, job.ProgressPercent)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func shortJobID(jobID string) string {
	if len(jobID) > 8 {
		return jobID[:8]
	}
	return jobID
}
