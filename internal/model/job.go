package model

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a benchmark job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusDeadLetter JobStatus = "dead_letter"
)

// Job is one (prompt, model, repetition) unit of work executed by the
// benchmark worker. The business key (run_id, query_id, model,
// run_iteration) is globally unique; inserting a duplicate is a no-op.
type Job struct {
	ID               uuid.UUID  `json:"id"`
	RunID            uuid.UUID  `json:"run_id"`
	QueryID          uuid.UUID  `json:"query_id"`
	QueryText        string     `json:"query_text"`
	Model            string     `json:"model"`
	RunIteration     int        `json:"run_iteration"`
	Provider         string     `json:"provider"`
	Temperature      float64    `json:"temperature"`
	WebSearchEnabled bool       `json:"web_search_enabled"`
	OurTerms         []string   `json:"our_terms"`
	Status           JobStatus  `json:"status"`
	AttemptCount     int        `json:"attempt_count"`
	MaxAttempts      int        `json:"max_attempts"`
	MsgID            *int64     `json:"msg_id,omitempty"`
	ResponseID       *uuid.UUID `json:"response_id,omitempty"`
	LastError        *string    `json:"last_error,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// QueueMessage is the envelope published to the job queue. The job row
// remains the authority for execution parameters; the message carries just
// enough for the worker to locate and describe the job in logs.
type QueueMessage struct {
	JobID        uuid.UUID `json:"job_id"`
	RunID        uuid.UUID `json:"run_id"`
	QueryID      uuid.UUID `json:"query_id"`
	QueryText    string    `json:"query_text"`
	Model        string    `json:"model"`
	RunIteration int       `json:"run_iteration"`
}

// Response is the persisted outcome of one job execution, upserted on
// (run_id, query_id, run_iteration, model) so retried jobs overwrite their
// own row instead of duplicating it.
type Response struct {
	ID               uuid.UUID  `json:"id"`
	RunID            uuid.UUID  `json:"run_id"`
	QueryID          uuid.UUID  `json:"query_id"`
	RunIteration     int        `json:"run_iteration"`
	Model            string     `json:"model"`
	Provider         string     `json:"provider"`
	WebSearchEnabled bool       `json:"web_search_enabled"`
	DurationMS       int        `json:"duration_ms"`
	PromptTokens     int        `json:"prompt_tokens"`
	CompletionTokens int        `json:"completion_tokens"`
	TotalTokens      int        `json:"total_tokens"`
	ResponseText     string     `json:"response_text"`
	OurMentioned     bool       `json:"our_mentioned"`
	Citations        []Citation `json:"citations"`
	Error            *string    `json:"error,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Citation is one web-search source attached to a response.
type Citation struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Mention records whether a single competitor was mentioned in a response.
type Mention struct {
	ResponseID   uuid.UUID `json:"response_id"`
	CompetitorID uuid.UUID `json:"competitor_id"`
	Mentioned    bool      `json:"mentioned"`
}
