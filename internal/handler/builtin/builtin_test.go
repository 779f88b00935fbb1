package builtin_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo-core/internal/apiinvoker"
	"github.com/dipeo/dipeo-core/internal/compiler"
	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/engine/condition"
	"github.com/dipeo/dipeo-core/internal/envelope"
	"github.com/dipeo/dipeo-core/internal/fsadapter"
	"github.com/dipeo/dipeo-core/internal/handler"
	"github.com/dipeo/dipeo-core/internal/handler/builtin"
	"github.com/dipeo/dipeo-core/internal/llm"
	"github.com/dipeo/dipeo-core/internal/registry"
	"github.com/dipeo/dipeo-core/internal/template"
)

func TestRegisterAllWiresEveryNodeType(t *testing.T) {
	reg := handler.NewRegistry()
	builtin.RegisterAll(reg)

	for _, nt := range []diagram.NodeType{
		diagram.NodeStart, diagram.NodeEndpoint, diagram.NodePersonJob, diagram.NodeCondition,
		diagram.NodeCodeJob, diagram.NodeAPIJob, diagram.NodeDB, diagram.NodeSubDiagram,
		diagram.NodeTemplateJob, diagram.NodeJSONSchemaValidator, diagram.NodeHook,
		diagram.NodeUserResponse, diagram.NodeTypescriptAST, diagram.NodeIntegratedAPI,
		diagram.NodeIRBuilder, diagram.NodeDiffPatch,
	} {
		_, err := reg.Resolve(nt)
		assert.NoErrorf(t, err, "node type %s should have a registered handler", nt)
	}
}

func TestStartHandlerReturnsConfiguredInput(t *testing.T) {
	h := builtin.StartHandler{}
	req := &handler.ExecutionRequest{
		Node:        &compiler.ExecutableNode{ID: "start", Type: diagram.NodeStart, Data: map[string]any{"input": "seed"}},
		ExecutionID: "exec-1",
	}
	result, err := h.Run(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, "seed", result)
}

func TestConditionHandlerRoutesCondTrueOnMatch(t *testing.T) {
	h := builtin.ConditionHandler{}
	node := &compiler.ExecutableNode{
		ID:   "cond",
		Type: diagram.NodeCondition,
		Branch: &compiler.BranchConfig{
			Enabled: true,
			Rules: []compiler.BranchRule{
				{Condition: &compiler.Condition{Type: diagram.ConditionCustom, Expression: "$.ok == true"}},
			},
		},
	}
	env, err := envelope.JSONEnvelope(map[string]any{"ok": true}, "up", "exec-1")
	require.NoError(t, err)

	req := &handler.ExecutionRequest{
		Node:          node,
		ExecutionID:   "exec-1",
		ConditionEval: condition.NewEvaluator(),
	}
	args := map[string]any{string(diagram.LabelDefault): env}

	result, err := h.Run(context.Background(), req, args)
	require.NoError(t, err)

	out, err := h.SerializeOutput(req, result)
	require.NoError(t, err)
	assert.Equal(t, diagram.LabelCondTrue, out.OutputLabel())
}

func TestCodeJobHandlerCapturesStdout(t *testing.T) {
	h := builtin.CodeJobHandler{}
	dir := t.TempDir()
	req := &handler.ExecutionRequest{
		Node: &compiler.ExecutableNode{
			ID:   "code",
			Type: diagram.NodeCodeJob,
			Data: map[string]any{"code": "echo hello", "sandbox_root": dir},
		},
		ExecutionID: "exec-1",
	}
	require.NoError(t, h.Validate(req))

	result, err := h.Run(context.Background(), req, nil)
	require.NoError(t, err)

	out, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hello\n", out["stdout"])
	assert.Equal(t, 0, out["exit_code"])
}

func TestTemplateJobHandlerRendersWithProcessor(t *testing.T) {
	reg := registry.New()
	registry.Register(reg, template.Key, template.Processor(template.NewGoTemplateProcessor()))

	h := builtin.TemplateJobHandler{}
	req := &handler.ExecutionRequest{
		Node:        &compiler.ExecutableNode{ID: "tmpl", Type: diagram.NodeTemplateJob, Data: map[string]any{"template": "hi {{.name}}"}},
		Registry:    reg,
		ExecutionID: "exec-1",
	}
	result, err := h.Run(context.Background(), req, map[string]any{"name": "world"})
	require.NoError(t, err)
	assert.Equal(t, "hi world", result)
}

func TestDBHandlerWritesAndReadsJSON(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New()
	registry.Register(reg, fsadapter.Key, fsadapter.Adapter(fsadapter.NewLocal(dir)))

	h := builtin.DBHandler{}
	env, err := envelope.JSONEnvelope(map[string]any{"a": 1.0}, "up", "exec-1")
	require.NoError(t, err)

	writeReq := &handler.ExecutionRequest{
		Node:        &compiler.ExecutableNode{ID: "db", Type: diagram.NodeDB, Data: map[string]any{"path": "out.json", "operation": "write"}},
		Registry:    reg,
		ExecutionID: "exec-1",
	}
	_, err = h.Run(context.Background(), writeReq, map[string]any{string(diagram.LabelDefault): env})
	require.NoError(t, err)

	readReq := &handler.ExecutionRequest{
		Node:        &compiler.ExecutableNode{ID: "db", Type: diagram.NodeDB, Data: map[string]any{"path": "out.json", "operation": "read"}},
		Registry:    reg,
		ExecutionID: "exec-1",
	}
	result, err := h.Run(context.Background(), readReq, nil)
	require.NoError(t, err)
	decoded, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1.0, decoded["a"])
}

func TestJSONSchemaValidatorReportsMissingRequiredField(t *testing.T) {
	h := builtin.JSONSchemaValidatorHandler{}
	schema := map[string]any{"required": []any{"name"}}
	env, err := envelope.JSONEnvelope(map[string]any{}, "up", "exec-1")
	require.NoError(t, err)

	req := &handler.ExecutionRequest{
		Node:        &compiler.ExecutableNode{ID: "schema", Type: diagram.NodeJSONSchemaValidator, Data: map[string]any{"schema": schema}},
		ExecutionID: "exec-1",
	}
	result, err := h.Run(context.Background(), req, map[string]any{string(diagram.LabelDefault): env})
	require.NoError(t, err)

	out := result.(map[string]any)
	assert.False(t, out["valid"].(bool))
}

func TestSubDiagramHandlerDelegatesToRunner(t *testing.T) {
	h := builtin.SubDiagramHandler{}
	called := false
	req := &handler.ExecutionRequest{
		Node:        &compiler.ExecutableNode{ID: "sub", Type: diagram.NodeSubDiagram, Data: map[string]any{"diagram_id": "child"}},
		ExecutionID: "exec-1",
		RunSubDiagram: func(ctx context.Context, diagramID diagram.DiagramID, inputs map[string]any) (envelope.Envelope, error) {
			called = true
			assert.Equal(t, diagram.DiagramID("child"), diagramID)
			return envelope.Text("done", "sub", "exec-1"), nil
		},
	}
	result, err := h.Run(context.Background(), req, nil)
	require.NoError(t, err)
	assert.True(t, called)

	out, err := h.SerializeOutput(req, result)
	require.NoError(t, err)
	text, err := out.AsText()
	require.NoError(t, err)
	assert.Equal(t, "done", text)
}

func TestPersonJobHandlerCallsLLMService(t *testing.T) {
	reg := registry.New()
	registry.Register(reg, llm.Key, llm.Service(fakeLLM{}))

	h := builtin.PersonJobHandler{}
	req := &handler.ExecutionRequest{
		Node:        &compiler.ExecutableNode{ID: "person", Type: diagram.NodePersonJob, Data: map[string]any{"prompt": "hi", "base_url": "http://fake"}},
		Registry:    reg,
		ExecutionID: "exec-1",
	}
	result, err := h.Run(context.Background(), req, nil)
	require.NoError(t, err)

	out, err := h.SerializeOutput(req, result)
	require.NoError(t, err)
	text, err := out.AsText()
	require.NoError(t, err)
	assert.Equal(t, "canned response", text)
}

type fakeLLM struct{}

func (fakeLLM) Complete(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResult, error) {
	return llm.CompletionResult{Text: "canned response"}, nil
}

func TestAPIJobHandlerUsesInvoker(t *testing.T) {
	reg := registry.New()
	registry.Register(reg, apiinvoker.Key, apiinvoker.Invoker(fakeInvoker{}))

	h := builtin.APIJobHandler{}
	req := &handler.ExecutionRequest{
		Node:        &compiler.ExecutableNode{ID: "api", Type: diagram.NodeAPIJob, Data: map[string]any{"url": "http://fake", "method": "GET"}},
		Registry:    reg,
		ExecutionID: "exec-1",
	}
	result, err := h.Run(context.Background(), req, nil)
	require.NoError(t, err)

	resp := result.(apiinvoker.Response)
	assert.Equal(t, 200, resp.StatusCode)
}

type fakeInvoker struct{}

func (fakeInvoker) Invoke(_ context.Context, _ apiinvoker.Request) (apiinvoker.Response, error) {
	return apiinvoker.Response{StatusCode: 200, Body: map[string]any{"ok": true}}, nil
}
