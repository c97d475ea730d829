// Package llm calls model providers through their OpenAI-compatible chat
// completions endpoints. One client per provider, differing only in base
// URL and API key.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/mentionlab/benchd/internal/model"
)

// Request describes one generation call.
type Request struct {
	Model       string
	Prompt      string
	Temperature float64
	WebSearch   bool
}

// Result is the provider's answer plus usage accounting.
type Result struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Citations        []model.Citation
}

// Client generates one completion. Implementations must honor ctx
// cancellation.
type Client interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// transientError marks failures worth retrying: rate limits, server
// errors, timeouts. Everything else is treated as permanent.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so IsTransient reports true for it.
func Transient(err error) error {
	return &transientError{err: err}
}

// IsTransient reports whether the failure is retryable. Context
// cancellation is never transient; the caller is shutting down.
func IsTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	// Timeouts without an explicit wrap still count.
	return errors.Is(err, context.DeadlineExceeded)
}

// Registry maps provider names to clients.
type Registry map[string]Client

// For returns the client for a provider.
func (r Registry) For(provider string) (Client, error) {
	c, ok := r[provider]
	if !ok {
		return nil, fmt.Errorf("llm: no client configured for provider %q", provider)
	}
	return c, nil
}
