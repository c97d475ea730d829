package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mentionlab/benchd/internal/model"
)

// UpsertResponse persists the outcome of one job execution, keyed on
// (run_id, query_id, run_iteration, model) so a retried job overwrites its
// own earlier row. Returns the response row ID.
func (db *DB) UpsertResponse(ctx context.Context, r model.Response) (uuid.UUID, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	var id uuid.UUID
	err := db.pool.QueryRow(ctx,
		`INSERT INTO benchmark_responses
		   (id, run_id, query_id, run_iteration, model, provider, web_search_enabled,
		    duration_ms, prompt_tokens, completion_tokens, total_tokens,
		    response_text, our_mentioned, citations, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (run_id, query_id, run_iteration, model) DO UPDATE
		 SET provider = EXCLUDED.provider,
		     web_search_enabled = EXCLUDED.web_search_enabled,
		     duration_ms = EXCLUDED.duration_ms,
		     prompt_tokens = EXCLUDED.prompt_tokens,
		     completion_tokens = EXCLUDED.completion_tokens,
		     total_tokens = EXCLUDED.total_tokens,
		     response_text = EXCLUDED.response_text,
		     our_mentioned = EXCLUDED.our_mentioned,
		     citations = EXCLUDED.citations,
		     error = EXCLUDED.error
		 RETURNING id`,
		r.ID, r.RunID, r.QueryID, r.RunIteration, r.Model, r.Provider,
		r.WebSearchEnabled, r.DurationMS, r.PromptTokens, r.CompletionTokens,
		r.TotalTokens, r.ResponseText, r.OurMentioned, r.Citations, r.Error, r.CreatedAt,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("storage: upsert response: %w", err)
	}
	return id, nil
}

// UpsertMentions writes mention-detection results for a response in a single
// transaction, one row per competitor, keyed on (response_id, competitor_id).
func (db *DB) UpsertMentions(ctx context.Context, mentions []model.Mention) error {
	if len(mentions) == 0 {
		return nil
	}

	err := pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		for _, m := range mentions {
			_, err := tx.Exec(ctx,
				`INSERT INTO response_mentions (response_id, competitor_id, mentioned)
				 VALUES ($1, $2, $3)
				 ON CONFLICT (response_id, competitor_id) DO UPDATE
				 SET mentioned = EXCLUDED.mentioned`,
				m.ResponseID, m.CompetitorID, m.Mentioned,
			)
			if err != nil {
				return fmt.Errorf("storage: upsert mention %s: %w", m.CompetitorID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storage: upsert mentions: %w", err)
	}
	return nil
}

// CountResponses returns the number of persisted responses for a run.
func (db *DB) CountResponses(ctx context.Context, runID uuid.UUID) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT count(*) FROM benchmark_responses WHERE run_id = $1`, runID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count responses: %w", err)
	}
	return n, nil
}
