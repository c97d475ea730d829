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

// CreateRun inserts a new benchmark run in the pending state and returns it.
func (db *DB) CreateRun(ctx context.Context) (model.Run, error) {
	run := model.Run{
		ID:        uuid.New(),
		Status:    model.RunStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO benchmark_runs (id, status, created_at) VALUES ($1, $2, $3)`,
		run.ID, string(run.Status), run.CreatedAt,
	)
	if err != nil {
		return model.Run{}, fmt.Errorf("storage: create run: %w", err)
	}
	return run, nil
}

// GetRun retrieves a run by ID.
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (model.Run, error) {
	var run model.Run
	err := db.pool.QueryRow(ctx,
		`SELECT id, models, status, started_at, completed_at, query_count, competitor_count, total_responses, created_at
		 FROM benchmark_runs WHERE id = $1`, id,
	).Scan(
		&run.ID, &run.Models, &run.Status, &run.StartedAt, &run.CompletedAt,
		&run.QueryCount, &run.CompetitorCount, &run.TotalResponses, &run.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Run{}, ErrNotFound
		}
		return model.Run{}, fmt.Errorf("storage: get run: %w", err)
	}
	return run, nil
}

// RunExists reports whether a run row exists.
func (db *DB) RunExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM benchmark_runs WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage: run exists: %w", err)
	}
	return exists, nil
}

// UpdateRunSummary writes the run-level aggregate fields after job
// expansion. started_at is set only if previously NULL (first enqueue
// wins); the other fields are last-writer-wins, which is safe because
// retries write equivalent values.
func (db *DB) UpdateRunSummary(ctx context.Context, s model.RunSummary) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE benchmark_runs
		 SET models = $2,
		     started_at = COALESCE(started_at, now()),
		     status = CASE WHEN status = 'pending' THEN 'running' ELSE status END,
		     query_count = $3,
		     competitor_count = $4
		 WHERE id = $1`,
		s.RunID, s.Models, s.QueryCount, s.CompetitorCount,
	)
	if err != nil {
		return fmt.Errorf("storage: update run summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FinalizeRun transitions a run to its terminal state, stamping
// completed_at and backfilling total_responses from the responses table.
// Idempotent: already-completed runs are left untouched.
func (db *DB) FinalizeRun(ctx context.Context, id uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE benchmark_runs
		 SET status = 'completed',
		     completed_at = now(),
		     started_at = COALESCE(started_at, now()),
		     total_responses = (SELECT count(*) FROM benchmark_responses WHERE run_id = $1)
		 WHERE id = $1 AND status <> 'completed'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("storage: finalize run: %w", err)
	}
	return nil
}
