package model

import (
	"time"

	"github.com/google/uuid"
)

// Prompt is one benchmark query from the active catalog. Read-only during
// an enqueue invocation; expansion visits prompts in (sort_order,
// created_at, id) order.
type Prompt struct {
	ID        uuid.UUID `json:"id"`
	QueryText string    `json:"query_text"`
	SortOrder int       `json:"sort_order"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Competitor is a tracked entity whose mentions the worker detects in LLM
// responses. Enqueue only reads the active count; the worker loads the full
// registry with aliases.
type Competitor struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	SortOrder int       `json:"sort_order"`
	IsActive  bool      `json:"is_active"`
	Aliases   []string  `json:"aliases,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
