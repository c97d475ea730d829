package model

import (
	"sort"
	"strings"
)

// Provider names inferred from model name prefixes.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// Clamp bounds for enqueue parameters.
const (
	MinRepetitions = 1
	MaxRepetitions = 10
	MinTemperature = 0.0
	MaxTemperature = 2.0

	DefaultTemperature = 0.7
	DefaultRepetitions = 1
)

// NormalizeModels canonicalizes a caller-supplied model list: trims
// whitespace, drops empties, lowercases, removes duplicates, and sorts
// ascending. The result is deterministic regardless of input order, so
// repeated enqueue calls with reordered input expand to the same job set.
func NormalizeModels(models []string) []string {
	seen := make(map[string]bool, len(models))
	out := make([]string, 0, len(models))
	for _, m := range models {
		m = strings.ToLower(strings.TrimSpace(m))
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// InferProvider classifies a model name into its LLM vendor by prefix.
// Unrecognized names default to openai, matching the worker's routing.
func InferProvider(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(m, "claude"), strings.HasPrefix(m, "anthropic/"):
		return ProviderAnthropic
	case strings.HasPrefix(m, "gemini"), strings.HasPrefix(m, "google/"):
		return ProviderGoogle
	default:
		return ProviderOpenAI
	}
}

// NormalizeTerms splits a comma-separated brand-terms string, trims each
// term, drops empties, and removes case-insensitive duplicates while
// preserving first-seen order and casing. An empty result falls back to
// defaultTerm so every job carries at least one detectable brand term.
func NormalizeTerms(raw, defaultTerm string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, part := range strings.Split(raw, ",") {
		term := strings.TrimSpace(part)
		if term == "" {
			continue
		}
		key := strings.ToLower(term)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, term)
	}
	if len(out) == 0 {
		return []string{defaultTerm}
	}
	return out
}

// ClampRepetitions bounds a requested repetition count into
// [MinRepetitions, MaxRepetitions]; zero or negative requests mean
// "default" and clamp to the minimum.
func ClampRepetitions(n int) int {
	if n < MinRepetitions {
		return MinRepetitions
	}
	if n > MaxRepetitions {
		return MaxRepetitions
	}
	return n
}

// ClampTemperature bounds a sampling temperature into
// [MinTemperature, MaxTemperature].
func ClampTemperature(t float64) float64 {
	if t < MinTemperature {
		return MinTemperature
	}
	if t > MaxTemperature {
		return MaxTemperature
	}
	return t
}
