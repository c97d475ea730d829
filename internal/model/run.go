// Package model defines the core domain types for benchd.
//
// Types correspond directly to database tables and queue payloads.
// Strong typing (UUIDs, time.Time, enums) throughout; interface{} is
// avoided except for JSON envelope data.
package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of a benchmark run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
)

// Run is one benchmark execution spanning multiple prompts and models.
// Created before enqueue; the enqueue procedure only updates its summary
// fields, and the finalizer transitions it to completed.
type Run struct {
	ID              uuid.UUID  `json:"id"`
	Models          string     `json:"models"`
	Status          RunStatus  `json:"status"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	QueryCount      int        `json:"query_count"`
	CompetitorCount int        `json:"competitor_count"`
	TotalResponses  int        `json:"total_responses"`
	CreatedAt       time.Time  `json:"created_at"`
}

// RunSummary carries the run-level aggregate fields written after job
// expansion completes. StartedAt is set-once in SQL (first enqueue wins).
type RunSummary struct {
	RunID           uuid.UUID
	Models          string
	QueryCount      int
	CompetitorCount int
}

// JobProgress is the per-run aggregate over job statuses, backed by the
// vw_job_progress view.
type JobProgress struct {
	RunID          uuid.UUID `json:"run_id"`
	TotalJobs      int       `json:"total_jobs"`
	PendingJobs    int       `json:"pending_jobs"`
	ProcessingJobs int       `json:"processing_jobs"`
	CompletedJobs  int       `json:"completed_jobs"`
	FailedJobs     int       `json:"failed_jobs"`
	DeadLetterJobs int       `json:"dead_letter_jobs"`
}

// AllTerminal reports whether every job for the run has reached a terminal
// state. A run with zero jobs is not considered terminal here; empty runs
// are finalized directly by the enqueue procedure instead.
func (p JobProgress) AllTerminal() bool {
	return p.TotalJobs > 0 &&
		p.CompletedJobs+p.DeadLetterJobs == p.TotalJobs &&
		p.PendingJobs == 0 && p.ProcessingJobs == 0 && p.FailedJobs == 0
}
