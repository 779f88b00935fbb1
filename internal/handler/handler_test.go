package handler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo-core/internal/compiler"
	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/envelope"
	"github.com/dipeo/dipeo-core/internal/handler"
)

type echoHandler struct {
	handler.Defaults
}

func (echoHandler) Run(_ context.Context, _ *handler.ExecutionRequest, args map[string]any) (any, error) {
	return "echoed", nil
}

func TestRegistryResolvesRegisteredHandler(t *testing.T) {
	reg := handler.NewRegistry()
	reg.RegisterFunc(diagram.NodeStart, echoHandler{})

	h, err := reg.Resolve(diagram.NodeStart)
	require.NoError(t, err)

	req := &handler.ExecutionRequest{
		Node:        &compiler.ExecutableNode{ID: "n1", Type: diagram.NodeStart},
		ExecutionID: "exec-1",
	}
	result, err := h.Run(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, "echoed", result)
}

func TestRegistryReportsUnsupportedNodeType(t *testing.T) {
	reg := handler.NewRegistry()

	_, err := reg.Resolve(diagram.NodeCodeJob)
	require.Error(t, err)

	var typed *handler.UnsupportedNodeTypeError
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, diagram.NodeCodeJob, typed.NodeType)
}

func TestDefaultsSerializeOutputDispatchesByResultType(t *testing.T) {
	var d handler.Defaults
	req := &handler.ExecutionRequest{
		Node:        &compiler.ExecutableNode{ID: "n1"},
		ExecutionID: "exec-1",
	}

	env, err := d.SerializeOutput(req, "hello")
	require.NoError(t, err)
	text, err := env.AsText()
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	env, err = d.SerializeOutput(req, map[string]any{"a": 1.0})
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, env.AsJSON(&decoded))
	assert.Equal(t, 1.0, decoded["a"])
}

func TestDefaultsPrepareInputsConvertsLabelsToArgs(t *testing.T) {
	var d handler.Defaults
	inputs := map[diagram.HandleLabel]envelope.Envelope{
		diagram.LabelDefault: envelope.Text("hi", "n0", "exec-1"),
	}

	args, err := d.PrepareInputs(context.Background(), nil, inputs)
	require.NoError(t, err)
	assert.Contains(t, args, string(diagram.LabelDefault))
}
