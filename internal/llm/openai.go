package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mentionlab/benchd/internal/model"
)

// OpenAICompat talks to any OpenAI-compatible /chat/completions endpoint.
// Anthropic and Google both expose compatibility endpoints, so a single
// implementation covers all three providers.
type OpenAICompat struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewOpenAICompat creates a client for one provider endpoint. baseURL is
// the API root without the /chat/completions suffix.
func NewOpenAICompat(baseURL, apiKey string, timeout time.Duration) *OpenAICompat {
	return &OpenAICompat{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model            string           `json:"model"`
	Messages         []chatMessage    `json:"messages"`
	Temperature      *float64         `json:"temperature,omitempty"`
	WebSearchOptions *json.RawMessage `json:"web_search_options,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content     string `json:"content"`
			Annotations []struct {
				Type        string `json:"type"`
				URLCitation struct {
					URL   string `json:"url"`
					Title string `json:"title"`
				} `json:"url_citation"`
			} `json:"annotations"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

var emptySearchOptions = json.RawMessage(`{}`)

// Generate performs one chat completion call. HTTP 429 and 5xx responses
// and network timeouts come back wrapped as transient; other failures are
// permanent.
func (c *OpenAICompat) Generate(ctx context.Context, req Request) (Result, error) {
	body := chatRequest{
		Model:       req.Model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: &req.Temperature,
	}
	if req.WebSearch {
		body.WebSearchOptions = &emptySearchOptions
		// Search-enabled models reject an explicit temperature.
		body.Temperature = nil
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("llm: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return Result{}, Transient(fmt.Errorf("llm: request timeout: %w", err))
		}
		return Result{}, Transient(fmt.Errorf("llm: request failed: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return Result{}, Transient(fmt.Errorf("llm: read response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return Result{}, Transient(fmt.Errorf("llm: provider returned %d: %s",
			resp.StatusCode, truncate(raw, 200)))
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("llm: provider returned %d: %s",
			resp.StatusCode, truncate(raw, 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, fmt.Errorf("llm: decode response: %w", err)
	}
	if parsed.Error != nil {
		return Result{}, fmt.Errorf("llm: provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return Result{}, fmt.Errorf("llm: response has no choices")
	}

	msg := parsed.Choices[0].Message
	result := Result{
		Text:             msg.Content,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		TotalTokens:      parsed.Usage.TotalTokens,
	}
	for _, ann := range msg.Annotations {
		if ann.Type != "url_citation" {
			continue
		}
		result.Citations = append(result.Citations, model.Citation{
			Title: ann.URLCitation.Title,
			URL:   ann.URLCitation.URL,
		})
	}
	return result, nil
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
