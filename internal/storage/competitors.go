package storage

import (
	"context"
	"fmt"

	"github.com/mentionlab/benchd/internal/model"
)

// CountActiveCompetitors returns the number of active registry entries.
// Enqueue stamps this onto the run summary; it does not drive expansion.
func (db *DB) CountActiveCompetitors(ctx context.Context) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT count(*) FROM competitors WHERE is_active`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count active competitors: %w", err)
	}
	return n, nil
}

// ListActiveCompetitors returns the active registry with aliases attached,
// ordered by sort_order. The worker builds mention-detection patterns from
// this; the competitor's own name always counts as an alias.
func (db *DB) ListActiveCompetitors(ctx context.Context) ([]model.Competitor, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT c.id, c.name, c.sort_order, c.is_active, c.created_at,
		        COALESCE(array_agg(a.alias ORDER BY a.alias) FILTER (WHERE a.alias IS NOT NULL), '{}')
		 FROM competitors c
		 LEFT JOIN competitor_aliases a ON a.competitor_id = c.id
		 WHERE c.is_active
		 GROUP BY c.id, c.name, c.sort_order, c.is_active, c.created_at
		 ORDER BY c.sort_order ASC, c.name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list active competitors: %w", err)
	}
	defer rows.Close()

	var competitors []model.Competitor
	for rows.Next() {
		var c model.Competitor
		if err := rows.Scan(&c.ID, &c.Name, &c.SortOrder, &c.IsActive, &c.CreatedAt, &c.Aliases); err != nil {
			return nil, fmt.Errorf("storage: scan competitor: %w", err)
		}
		competitors = append(competitors, c)
	}
	return competitors, rows.Err()
}
