// Package llm provides the optional LLM_SERVICE (spec §4.10): the seam
// person_job uses to call out to a language model. Grounded on the raw
// net/http provider clients the corpus favors over vendor SDKs (compare
// rakunlabs-at's internal/service/llm/openai and leofalp-aigo's
// providers/ai/openai, both hand-rolled HTTP clients rather than an
// imported SDK) and on the Dutt23 http_worker's
// timeout/context/json-body request shape.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dipeo/dipeo-core/internal/registry"
)

// Message is one turn of a conversation sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is what person_job hands the LLM service.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	APIKey      string
	BaseURL     string
}

// CompletionResult is what the LLM service hands back.
type CompletionResult struct {
	Text         string
	PromptTokens int
	OutputTokens int
}

// Service is the seam person_job calls through; swap in a fake for tests.
type Service interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
}

// Key is the typed registry token for the optional LLM_SERVICE.
var Key = registry.NewKey[Service]("LLM_SERVICE")

// HTTPService talks to an OpenAI-compatible chat-completions endpoint
// over plain net/http, the way every provider client in the corpus
// does it rather than pulling in a vendor SDK.
type HTTPService struct {
	client *http.Client
}

// NewHTTPService builds an HTTPService with a bounded request timeout.
func NewHTTPService(timeout time.Duration) *HTTPService {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPService{client: &http.Client{Timeout: timeout}}
}

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (s *HTTPService) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	if req.BaseURL == "" {
		return CompletionResult{}, fmt.Errorf("llm: base URL is required")
	}

	body, err := json.Marshal(chatCompletionRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return CompletionResult{}, fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.BaseURL, bytes.NewReader(body))
	if err != nil {
		return CompletionResult{}, fmt.Errorf("llm: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("llm: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return CompletionResult{}, fmt.Errorf("llm: provider returned %d: %s", resp.StatusCode, string(raw))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return CompletionResult{}, fmt.Errorf("llm: unmarshal response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return CompletionResult{}, fmt.Errorf("llm: provider returned no choices")
	}

	return CompletionResult{
		Text:         parsed.Choices[0].Message.Content,
		PromptTokens: parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}, nil
}
