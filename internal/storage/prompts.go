package storage

import (
	"context"
	"fmt"

	"github.com/mentionlab/benchd/internal/model"
)

// ListActivePrompts returns the active prompt catalog in deterministic
// expansion order: sort_order, then created_at, then id. limit caps the
// number of prompts returned; 0 means unlimited.
func (db *DB) ListActivePrompts(ctx context.Context, limit int) ([]model.Prompt, error) {
	query := `SELECT id, query_text, sort_order, is_active, created_at
		 FROM benchmark_queries
		 WHERE is_active
		 ORDER BY sort_order ASC, created_at ASC, id ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list active prompts: %w", err)
	}
	defer rows.Close()

	var prompts []model.Prompt
	for rows.Next() {
		var p model.Prompt
		if err := rows.Scan(&p.ID, &p.QueryText, &p.SortOrder, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan prompt: %w", err)
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}
