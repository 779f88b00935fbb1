package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo-core/internal/compiler"
	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/engine"
	"github.com/dipeo/dipeo-core/internal/eventbus"
	"github.com/dipeo/dipeo-core/internal/handle"
	"github.com/dipeo/dipeo-core/internal/handler"
	"github.com/dipeo/dipeo-core/internal/handler/builtin"
	"github.com/dipeo/dipeo-core/internal/logging"
	"github.com/dipeo/dipeo-core/internal/registry"
	"github.com/dipeo/dipeo-core/internal/state"
	"github.com/dipeo/dipeo-core/internal/state/memstate"
)

func newTestRegistry(t *testing.T) (*registry.Registry, *eventbus.Bus) {
	t.Helper()
	log := logging.New("error", "console")

	reg := registry.New()
	bus := eventbus.New(log)
	registry.Register(reg, eventbus.BusKey, bus)

	svc := state.NewService(memstate.NewCache(256), memstate.NewRepository(), log)
	registry.Register(reg, state.ServiceKey, svc)

	handlers := handler.NewRegistry()
	builtin.RegisterAll(handlers)
	registry.Register(reg, handler.Key, handlers)

	return reg, bus
}

func arrow(id diagram.ArrowID, srcNode, dstNode diagram.NodeID, srcLabel, dstLabel diagram.HandleLabel) diagram.Arrow {
	return diagram.Arrow{
		ID:     id,
		Source: handle.CreateID(srcNode, srcLabel, diagram.DirectionOutput),
		Target: handle.CreateID(dstNode, dstLabel, diagram.DirectionInput),
	}
}

func TestEngineRunsLinearDiagramToCompletion(t *testing.T) {
	reg, _ := newTestRegistry(t)

	d := &diagram.DomainDiagram{
		ID: "d1",
		Nodes: []diagram.Node{
			{ID: "start", Type: diagram.NodeStart, Data: map[string]any{"input": map[string]any{"greeting": "hi"}}},
			{ID: "code", Type: diagram.NodeCodeJob, Data: map[string]any{"code": "echo ok", "sandbox_root": t.TempDir()}},
			{ID: "end", Type: diagram.NodeEndpoint},
		},
		Arrows: []diagram.Arrow{
			arrow("a1", "start", "code", diagram.LabelDefault, diagram.LabelDefault),
			arrow("a2", "code", "end", diagram.LabelDefault, diagram.LabelDefault),
		},
	}

	compiled, err := compiler.Compile(d, compiler.Options{})
	require.NoError(t, err)

	log := logging.New("error", "console")
	eng, err := engine.New(reg, log, engine.Options{ExecutionTimeout: 5 * time.Second})
	require.NoError(t, err)

	final, err := eng.Run(context.Background(), compiled, "exec-1", nil)
	require.NoError(t, err)
	assert.Equal(t, state.ExecutionCompleted, final.Status)
	assert.Equal(t, state.NodeCompleted, final.NodeStates["start"].Status)
	assert.Equal(t, state.NodeCompleted, final.NodeStates["code"].Status)
	assert.Equal(t, state.NodeCompleted, final.NodeStates["end"].Status)

	endOutput, ok := final.NodeOutputs["end"]
	require.True(t, ok)
	var decoded map[string]any
	require.NoError(t, endOutput.AsJSON(&decoded))
	assert.Equal(t, float64(0), decoded["exit_code"])
}

func TestEngineRoutesConditionalBranch(t *testing.T) {
	reg, _ := newTestRegistry(t)

	d := &diagram.DomainDiagram{
		ID: "d2",
		Nodes: []diagram.Node{
			{ID: "start", Type: diagram.NodeStart, Data: map[string]any{"input": map[string]any{"ok": true}}},
			{ID: "cond", Type: diagram.NodeCondition, Data: map[string]any{"expression": "$.ok == true"}},
			{ID: "true_end", Type: diagram.NodeEndpoint},
			{ID: "false_end", Type: diagram.NodeEndpoint},
		},
		Arrows: []diagram.Arrow{
			arrow("a1", "start", "cond", diagram.LabelDefault, diagram.LabelDefault),
			arrow("a2", "cond", "true_end", diagram.LabelCondTrue, diagram.LabelDefault),
			arrow("a3", "cond", "false_end", diagram.LabelCondFalse, diagram.LabelDefault),
		},
	}

	compiled, err := compiler.Compile(d, compiler.Options{})
	require.NoError(t, err)

	log := logging.New("error", "console")
	eng, err := engine.New(reg, log, engine.Options{ExecutionTimeout: 5 * time.Second})
	require.NoError(t, err)

	final, err := eng.Run(context.Background(), compiled, "exec-2", nil)
	require.NoError(t, err)
	assert.Equal(t, state.ExecutionCompleted, final.Status)
	assert.Equal(t, state.NodeCompleted, final.NodeStates["true_end"].Status)
	_, falseRan := final.NodeStates["false_end"]
	assert.False(t, falseRan, "the condfalse branch must never have been dispatched")
}

func TestEngineFailsExecutionOnFatalNodeError(t *testing.T) {
	reg, _ := newTestRegistry(t)

	d := &diagram.DomainDiagram{
		ID: "d3",
		Nodes: []diagram.Node{
			{ID: "start", Type: diagram.NodeStart, Data: map[string]any{"input": map[string]any{}}},
			{ID: "code", Type: diagram.NodeCodeJob, Data: map[string]any{"code": "exit 1", "sandbox_root": t.TempDir()}},
			{ID: "end", Type: diagram.NodeEndpoint},
		},
		Arrows: []diagram.Arrow{
			arrow("a1", "start", "code", diagram.LabelDefault, diagram.LabelDefault),
			arrow("a2", "code", "end", diagram.LabelDefault, diagram.LabelDefault),
		},
	}

	compiled, err := compiler.Compile(d, compiler.Options{})
	require.NoError(t, err)

	log := logging.New("error", "console")
	eng, err := engine.New(reg, log, engine.Options{ExecutionTimeout: 5 * time.Second})
	require.NoError(t, err)

	final, err := eng.Run(context.Background(), compiled, "exec-3", nil)
	require.NoError(t, err)
	assert.Equal(t, state.ExecutionFailed, final.Status)
	assert.Equal(t, state.NodeFailed, final.NodeStates["code"].Status)
}

func TestAbortRegistryCancelsTrackedExecution(t *testing.T) {
	reg, _ := newTestRegistry(t)
	aborts := engine.NewAbortRegistry()

	d := &diagram.DomainDiagram{
		ID: "d4",
		Nodes: []diagram.Node{
			{ID: "start", Type: diagram.NodeStart, Data: map[string]any{"input": map[string]any{}}},
			{ID: "code", Type: diagram.NodeCodeJob, Data: map[string]any{"code": "sleep 5", "sandbox_root": t.TempDir()}},
			{ID: "end", Type: diagram.NodeEndpoint},
		},
		Arrows: []diagram.Arrow{
			arrow("a1", "start", "code", diagram.LabelDefault, diagram.LabelDefault),
			arrow("a2", "code", "end", diagram.LabelDefault, diagram.LabelDefault),
		},
	}
	compiled, err := compiler.Compile(d, compiler.Options{})
	require.NoError(t, err)

	log := logging.New("error", "console")
	eng, err := engine.New(reg, log, engine.Options{Aborts: aborts})
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		aborts.Abort("exec-4")
	}()

	final, err := eng.Run(context.Background(), compiled, "exec-4", nil)
	require.NoError(t, err)
	assert.Equal(t, state.ExecutionAborted, final.Status)
}
