package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mentionlab/benchd/internal/model"
)

// JobCreateResult reports the outcome of one idempotent job insert.
// Created is false when a row with the same business key already existed;
// such jobs must not be re-published.
type JobCreateResult struct {
	Job     model.Job
	Created bool
}

// CreateJobs inserts job specifications in a single transaction, preserving
// input order. Each insert is ON CONFLICT DO NOTHING on the business key
// (run_id, query_id, model, run_iteration): a duplicate is a silent no-op
// that leaves the existing row's status and attempt counters untouched, so
// a retried enqueue only fills in missing jobs.
//
// The whole batch retries on serialization or deadlock errors; a retry
// after a partial commit race simply finds the rows already present.
func (db *DB) CreateJobs(ctx context.Context, specs []model.Job) ([]JobCreateResult, error) {
	var results []JobCreateResult

	err := WithRetry(ctx, 3, 100*time.Millisecond, func() error {
		results = make([]JobCreateResult, 0, len(specs))
		return db.createJobsTx(ctx, specs, &results)
	})
	if err != nil {
		return nil, fmt.Errorf("storage: create jobs: %w", err)
	}
	return results, nil
}

func (db *DB) createJobsTx(ctx context.Context, specs []model.Job, results *[]JobCreateResult) error {
	return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		for _, spec := range specs {
			spec.ID = uuid.New()
			spec.Status = model.JobStatusPending
			spec.CreatedAt = time.Now().UTC()

			tag, err := tx.Exec(ctx,
				`INSERT INTO benchmark_jobs
				   (id, run_id, query_id, query_text, model, run_iteration, provider,
				    temperature, web_search_enabled, our_terms, status, attempt_count,
				    max_attempts, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
				 ON CONFLICT (run_id, query_id, model, run_iteration) DO NOTHING`,
				spec.ID, spec.RunID, spec.QueryID, spec.QueryText, spec.Model,
				spec.RunIteration, spec.Provider, spec.Temperature, spec.WebSearchEnabled,
				spec.OurTerms, string(spec.Status), spec.AttemptCount, spec.MaxAttempts,
				spec.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("storage: insert job (%s, %s, %d): %w",
					spec.QueryID, spec.Model, spec.RunIteration, err)
			}
			*results = append(*results, JobCreateResult{Job: spec, Created: tag.RowsAffected() == 1})
		}
		return nil
	})
}

// AttachQueueMessage backfills the queue message handle onto a job row
// after a successful publish.
func (db *DB) AttachQueueMessage(ctx context.Context, jobID uuid.UUID, msgID int64) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE benchmark_jobs SET msg_id = $2 WHERE id = $1`,
		jobID, msgID,
	)
	if err != nil {
		return fmt.Errorf("storage: attach queue message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetJob retrieves a job by ID.
func (db *DB) GetJob(ctx context.Context, id uuid.UUID) (model.Job, error) {
	var j model.Job
	err := db.pool.QueryRow(ctx,
		`SELECT id, run_id, query_id, query_text, model, run_iteration, provider,
		        temperature, web_search_enabled, our_terms, status, attempt_count,
		        max_attempts, msg_id, response_id, last_error, started_at, completed_at, created_at
		 FROM benchmark_jobs WHERE id = $1`, id,
	).Scan(
		&j.ID, &j.RunID, &j.QueryID, &j.QueryText, &j.Model, &j.RunIteration,
		&j.Provider, &j.Temperature, &j.WebSearchEnabled, &j.OurTerms, &j.Status,
		&j.AttemptCount, &j.MaxAttempts, &j.MsgID, &j.ResponseID, &j.LastError,
		&j.StartedAt, &j.CompletedAt, &j.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Job{}, ErrNotFound
		}
		return model.Job{}, fmt.Errorf("storage: get job: %w", err)
	}
	return j, nil
}

// MarkJobProcessing transitions a job to processing, incrementing its
// attempt counter and clearing any previous error. Returns the new attempt
// count.
func (db *DB) MarkJobProcessing(ctx context.Context, id uuid.UUID) (int, error) {
	var attempts int
	err := db.pool.QueryRow(ctx,
		`UPDATE benchmark_jobs
		 SET status = 'processing',
		     attempt_count = attempt_count + 1,
		     started_at = now(),
		     last_error = NULL
		 WHERE id = $1
		 RETURNING attempt_count`,
		id,
	).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("storage: mark job processing: %w", err)
	}
	return attempts, nil
}

// CompleteJob marks a job completed and links its response row.
func (db *DB) CompleteJob(ctx context.Context, id, responseID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE benchmark_jobs
		 SET status = 'completed', response_id = $2, completed_at = now(), last_error = NULL
		 WHERE id = $1`,
		id, responseID,
	)
	if err != nil {
		return fmt.Errorf("storage: complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failed attempt. Terminal failures become dead_letter
// with completed_at stamped; non-terminal ones return to failed and are
// re-delivered when the queue visibility timeout expires.
func (db *DB) FailJob(ctx context.Context, id uuid.UUID, errText string, terminal bool) error {
	status := model.JobStatusFailed
	if terminal {
		status = model.JobStatusDeadLetter
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE benchmark_jobs
		 SET status = $2,
		     last_error = $3,
		     completed_at = CASE WHEN $4 THEN now() ELSE completed_at END
		 WHERE id = $1`,
		id, string(status), errText, terminal,
	)
	if err != nil {
		return fmt.Errorf("storage: fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetJobResponse links a response row to a job without changing status.
// Used when a terminal failure persists an error response for analytics.
func (db *DB) SetJobResponse(ctx context.Context, id, responseID uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE benchmark_jobs SET response_id = $2 WHERE id = $1`,
		id, responseID,
	)
	if err != nil {
		return fmt.Errorf("storage: set job response: %w", err)
	}
	return nil
}

// GetJobProgress returns the per-status job counts for a run from the
// vw_job_progress view. A run with no jobs yields all zeros.
func (db *DB) GetJobProgress(ctx context.Context, runID uuid.UUID) (model.JobProgress, error) {
	p := model.JobProgress{RunID: runID}
	err := db.pool.QueryRow(ctx,
		`SELECT total_jobs, pending_jobs, processing_jobs, completed_jobs, failed_jobs, dead_letter_jobs
		 FROM vw_job_progress WHERE run_id = $1`, runID,
	).Scan(&p.TotalJobs, &p.PendingJobs, &p.ProcessingJobs, &p.CompletedJobs, &p.FailedJobs, &p.DeadLetterJobs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p, nil
		}
		return model.JobProgress{}, fmt.Errorf("storage: get job progress: %w", err)
	}
	return p, nil
}
