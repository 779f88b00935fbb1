package builtin

import (
	"context"
	"fmt"

	"github.com/dipeo/dipeo-core/internal/apikey"
	"github.com/dipeo/dipeo-core/internal/envelope"
	"github.com/dipeo/dipeo-core/internal/handler"
	"github.com/dipeo/dipeo-core/internal/llm"
	"github.com/dipeo/dipeo-core/internal/registry"
)

// PersonJobHandler sends a rendered prompt to the optional LLM_SERVICE
// and returns its completion. Each run sends only the current turn; the
// node's "messages" data is not read and no conversation history is
// carried from one run to the next.
type PersonJobHandler struct {
	handler.Defaults
}

func (PersonJobHandler) Validate(req *handler.ExecutionRequest) error {
	prompt, _ := req.Node.Data["prompt"].(string)
	if prompt == "" {
		return &missingConfigError{NodeType: req.Node.Type, Field: "prompt"}
	}
	return nil
}

func (PersonJobHandler) Run(ctx context.Context, req *handler.ExecutionRequest, args map[string]any) (any, error) {
	cfg := readBatchConfig(req.Node.Data)
	if !cfg.enabled {
		result, err := completeOnce(ctx, req, nil)
		if err != nil {
			return nil, fmt.Errorf("person_job: %w", err)
		}
		return result, nil
	}

	items, err := batchItems(req, args, cfg)
	if err != nil {
		return nil, fmt.Errorf("person_job: %w", err)
	}
	outcome := runBatch(ctx, req, cfg, items, func(ctx context.Context, _ int, item any) (any, error) {
		return completeOnce(ctx, req, item)
	})

	texts := make([]any, len(outcome.results))
	for i, r := range outcome.results {
		if r.err != nil {
			texts[i] = map[string]any{"error": r.err.Error()}
			continue
		}
		texts[i] = r.val.(llm.CompletionResult).Text
	}
	return batchRunResult{items: texts, errors: outcome.errors}, nil
}

// completeOnce sends one prompt to the LLM_SERVICE, appending batchItem as
// an extra user turn when the node is running in batch mode.
func completeOnce(ctx context.Context, req *handler.ExecutionRequest, batchItem any) (llm.CompletionResult, error) {
	svc, err := registry.Resolve(req.Registry, llm.Key)
	if err != nil {
		return llm.CompletionResult{}, err
	}

	model, _ := req.Node.Data["model"].(string)
	baseURL, _ := req.Node.Data["base_url"].(string)
	prompt, _ := req.Node.Data["prompt"].(string)
	systemPrompt, _ := req.Node.Data["system_prompt"].(string)
	temperature, _ := req.Node.Data["temperature"].(float64)
	maxTokens, _ := req.Node.Data["max_tokens"].(float64)

	messages := make([]llm.Message, 0, 3)
	if systemPrompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, llm.Message{Role: "user", Content: prompt})
	if batchItem != nil {
		messages = append(messages, llm.Message{Role: "user", Content: fmt.Sprintf("%v", batchItem)})
	}

	apiKey := ""
	if keyName, ok := req.Node.Data["api_key_name"].(string); ok && keyName != "" {
		if keySvc, err := registry.Resolve(req.Registry, apikey.Key); err == nil {
			if value, err := keySvc.Resolve(keyName); err == nil {
				apiKey = value
			}
		}
	}

	return svc.Complete(ctx, llm.CompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   int(maxTokens),
		APIKey:      apiKey,
		BaseURL:     baseURL,
	})
}

func (PersonJobHandler) SerializeOutput(req *handler.ExecutionRequest, result any) (envelope.Envelope, error) {
	switch v := result.(type) {
	case llm.CompletionResult:
		return envelope.Text(v.Text, req.Node.ID, req.ExecutionID), nil
	case batchRunResult:
		env, err := envelope.JSONEnvelope(v.items, req.Node.ID, req.ExecutionID)
		if err != nil {
			return envelope.Envelope{}, err
		}
		return env.WithMeta("batch_errors", v.errors), nil
	default:
		return envelope.Envelope{}, &unexpectedResultError{NodeType: req.Node.Type}
	}
}
