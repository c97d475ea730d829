package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mentionlab/benchd/internal/model"
)

// ---- NormalizeModels ------------------------------------------------------

func TestNormalizeModelsDedupesAndSorts(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, model.NormalizeModels([]string{"b", "a", "a"}))
}

func TestNormalizeModelsCaseAndWhitespace(t *testing.T) {
	got := model.NormalizeModels([]string{"Gpt-4o", "gpt-4o", "  gpt-4o  "})
	assert.Equal(t, []string{"gpt-4o"}, got)
}

func TestNormalizeModelsDropsEmpties(t *testing.T) {
	got := model.NormalizeModels([]string{"  ", "", "gpt-4o-mini"})
	assert.Equal(t, []string{"gpt-4o-mini"}, got)
}

func TestNormalizeModelsEmptyInput(t *testing.T) {
	assert.Empty(t, model.NormalizeModels(nil))
	assert.Empty(t, model.NormalizeModels([]string{"", "   "}))
}

func TestNormalizeModelsDeterministicAcrossOrder(t *testing.T) {
	a := model.NormalizeModels([]string{"gpt-4o", "claude-3-5-sonnet-latest", "gemini-2.0-flash"})
	b := model.NormalizeModels([]string{"gemini-2.0-flash", "gpt-4o", "claude-3-5-sonnet-latest"})
	assert.Equal(t, a, b)
}

// ---- InferProvider --------------------------------------------------------

func TestInferProvider(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"claude-3-5-sonnet-latest", model.ProviderAnthropic},
		{"anthropic/custom", model.ProviderAnthropic},
		{"Claude-3-Opus", model.ProviderAnthropic},
		{"gemini-2.0-flash", model.ProviderGoogle},
		{"google/custom", model.ProviderGoogle},
		{"gpt-4o-mini", model.ProviderOpenAI},
		{"o3-mini", model.ProviderOpenAI},
		{"mystery-model", model.ProviderOpenAI},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, model.InferProvider(tt.model))
		})
	}
}

// ---- NormalizeTerms -------------------------------------------------------

func TestNormalizeTermsSplitsAndTrims(t *testing.T) {
	got := model.NormalizeTerms(" EasyLLM , Easy LLM Benchmarker ,", "Highcharts")
	assert.Equal(t, []string{"EasyLLM", "Easy LLM Benchmarker"}, got)
}

func TestNormalizeTermsDedupesCaseInsensitively(t *testing.T) {
	got := model.NormalizeTerms("Foo,foo,FOO,bar", "Highcharts")
	assert.Equal(t, []string{"Foo", "bar"}, got)
}

func TestNormalizeTermsEmptyFallsBackToDefault(t *testing.T) {
	assert.Equal(t, []string{"Highcharts"}, model.NormalizeTerms("", "Highcharts"))
	assert.Equal(t, []string{"Highcharts"}, model.NormalizeTerms(" , ,", "Highcharts"))
}

// ---- Clamps ---------------------------------------------------------------

func TestClampRepetitions(t *testing.T) {
	assert.Equal(t, 1, model.ClampRepetitions(0))
	assert.Equal(t, 1, model.ClampRepetitions(-5))
	assert.Equal(t, 10, model.ClampRepetitions(50))
	assert.Equal(t, 3, model.ClampRepetitions(3))
}

func TestClampTemperature(t *testing.T) {
	assert.Equal(t, 0.0, model.ClampTemperature(-1))
	assert.Equal(t, 2.0, model.ClampTemperature(5))
	assert.Equal(t, 0.7, model.ClampTemperature(0.7))
}

// ---- JobProgress ----------------------------------------------------------

func TestJobProgressAllTerminal(t *testing.T) {
	assert.False(t, model.JobProgress{}.AllTerminal(), "zero jobs is not terminal")
	assert.True(t, model.JobProgress{TotalJobs: 3, CompletedJobs: 2, DeadLetterJobs: 1}.AllTerminal())
	assert.False(t, model.JobProgress{TotalJobs: 3, CompletedJobs: 2, PendingJobs: 1}.AllTerminal())
	assert.False(t, model.JobProgress{TotalJobs: 3, CompletedJobs: 2, FailedJobs: 1}.AllTerminal(),
		"failed jobs will be retried, not terminal")
}
