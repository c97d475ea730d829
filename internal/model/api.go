package model

import (
	"time"

	"github.com/google/uuid"
)

// EnqueueRequest is the request body for POST /v1/runs/{run_id}/enqueue.
// Zero values select the documented defaults: repetitions 1, temperature
// 0.7, web search enabled, unlimited prompts.
type EnqueueRequest struct {
	Models           []string `json:"models"`
	OurTerms         string   `json:"our_terms,omitempty"`
	Repetitions      int      `json:"repetitions,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	WebSearchEnabled *bool    `json:"web_search_enabled,omitempty"`
	PromptLimit      int      `json:"prompt_limit,omitempty"`
}

// EnqueueResponse is the structured summary returned by the enqueue
// operation. JobsEnqueued counts rows newly created, not combinations
// attempted; PublishFailures counts jobs whose row exists but whose queue
// publish failed and awaits reconciliation.
type EnqueueResponse struct {
	RunID           uuid.UUID `json:"run_id"`
	JobsEnqueued    int       `json:"jobs_enqueued"`
	Models          []string  `json:"models"`
	QueryCount      int       `json:"query_count"`
	CompetitorCount int       `json:"competitor_count"`
	PublishFailures int       `json:"publish_failures,omitempty"`
}

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	APIKey string `json:"api_key"`
}

// AuthTokenResponse carries the issued bearer token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// APIResponse is the standard success envelope.
type APIResponse struct {
	Data any          `json:"data"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ErrorDetail carries a stable machine-readable code plus a human message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta is attached to every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Stable error codes used in API responses.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
)
