package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateParsesResponse(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{"message": {
				"content": "Highcharts and Chart.js are popular.",
				"annotations": [
					{"type": "url_citation", "url_citation": {"url": "https://example.com/a", "title": "Comparison"}},
					{"type": "other", "url_citation": {"url": "https://example.com/skip"}}
				]
			}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 34, "total_tokens": 46}
		}`))
	}))
	defer srv.Close()

	c := NewOpenAICompat(srv.URL, "test-key", 5*time.Second)
	res, err := c.Generate(context.Background(), Request{
		Model:       "gpt-4o",
		Prompt:      "best charting library?",
		Temperature: 0.7,
	})
	require.NoError(t, err)

	assert.Equal(t, "Highcharts and Chart.js are popular.", res.Text)
	assert.Equal(t, 12, res.PromptTokens)
	assert.Equal(t, 34, res.CompletionTokens)
	assert.Equal(t, 46, res.TotalTokens)
	require.Len(t, res.Citations, 1)
	assert.Equal(t, "https://example.com/a", res.Citations[0].URL)

	assert.Equal(t, "gpt-4o", gotBody["model"])
	assert.InDelta(t, 0.7, gotBody["temperature"], 1e-9)
	_, hasSearch := gotBody["web_search_options"]
	assert.False(t, hasSearch)
}

func TestGenerateWebSearchDropsTemperature(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"choices": [{"message": {"content": "ok"}}], "usage": {}}`))
	}))
	defer srv.Close()

	c := NewOpenAICompat(srv.URL, "k", 5*time.Second)
	_, err := c.Generate(context.Background(), Request{Model: "gpt-4o", Prompt: "p", WebSearch: true})
	require.NoError(t, err)

	_, hasSearch := gotBody["web_search_options"]
	assert.True(t, hasSearch)
	_, hasTemp := gotBody["temperature"]
	assert.False(t, hasTemp)
}

func TestGenerateErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error": {"message": "nope"}}`))
			}))
			defer srv.Close()

			c := NewOpenAICompat(srv.URL, "k", 5*time.Second)
			_, err := c.Generate(context.Background(), Request{Model: "m", Prompt: "p"})
			require.Error(t, err)
			assert.Equal(t, tt.transient, IsTransient(err))
		})
	}
}

func TestRegistryFor(t *testing.T) {
	c := NewOpenAICompat("http://localhost", "k", time.Second)
	r := Registry{"openai": c}

	got, err := r.For("openai")
	require.NoError(t, err)
	assert.Same(t, c, got)

	_, err = r.For("anthropic")
	assert.Error(t, err)
}

func TestIsTransientContextCanceled(t *testing.T) {
	assert.False(t, IsTransient(context.Canceled))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(Transient(assert.AnError)))
	assert.False(t, IsTransient(assert.AnError))
}
