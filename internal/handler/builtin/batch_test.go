package builtin_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo-core/internal/compiler"
	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/envelope"
	"github.com/dipeo/dipeo-core/internal/handler"
	"github.com/dipeo/dipeo-core/internal/handler/builtin"
	"github.com/dipeo/dipeo-core/internal/llm"
	"github.com/dipeo/dipeo-core/internal/registry"
)

func TestPersonJobHandlerBatchModeRunsOnePerItem(t *testing.T) {
	reg := registry.New()
	registry.Register(reg, llm.Key, llm.Service(countingLLM{}))

	h := builtin.PersonJobHandler{}
	env, err := envelope.JSONEnvelope(map[string]any{"items": []any{"a", "b", "c"}}, "up", "exec-1")
	require.NoError(t, err)

	req := &handler.ExecutionRequest{
		Node: &compiler.ExecutableNode{
			ID:   "person",
			Type: diagram.NodePersonJob,
			Data: map[string]any{"prompt": "hi", "batch": true},
		},
		Registry:    reg,
		ExecutionID: "exec-1",
	}
	args := map[string]any{string(diagram.LabelDefault): env}

	result, err := h.Run(context.Background(), req, args)
	require.NoError(t, err)

	out, err := h.SerializeOutput(req, result)
	require.NoError(t, err)

	var decoded []any
	require.NoError(t, out.AsJSON(&decoded))
	assert.Len(t, decoded, 3)
	assert.Equal(t, 0, out.Meta()["batch_errors"])
}

func TestPersonJobHandlerBatchModeRecordsPartialFailure(t *testing.T) {
	reg := registry.New()
	registry.Register(reg, llm.Key, llm.Service(failOnBLLM{}))

	h := builtin.PersonJobHandler{}
	env, err := envelope.JSONEnvelope(map[string]any{"items": []any{"a", "b"}}, "up", "exec-1")
	require.NoError(t, err)

	req := &handler.ExecutionRequest{
		Node: &compiler.ExecutableNode{
			ID:   "person",
			Type: diagram.NodePersonJob,
			Data: map[string]any{"prompt": "hi", "batch": true, "batch_parallel": true},
		},
		Registry:      reg,
		ExecutionID:   "exec-1",
		MaxConcurrent: 4,
	}
	args := map[string]any{string(diagram.LabelDefault): env}

	result, err := h.Run(context.Background(), req, args)
	require.NoError(t, err)

	out, err := h.SerializeOutput(req, result)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Meta()["batch_errors"])
}

type countingLLM struct{}

func (countingLLM) Complete(_ context.Context, req llm.CompletionRequest) (llm.CompletionResult, error) {
	return llm.CompletionResult{Text: "ok:" + req.Messages[len(req.Messages)-1].Content}, nil
}

type failOnBLLM struct{}

func (failOnBLLM) Complete(_ context.Context, req llm.CompletionRequest) (llm.CompletionResult, error) {
	last := req.Messages[len(req.Messages)-1].Content
	if last == "b" {
		return llm.CompletionResult{}, fmt.Errorf("simulated failure for %q", last)
	}
	return llm.CompletionResult{Text: "ok:" + last}, nil
}
