package state_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/envelope"
	"github.com/dipeo/dipeo-core/internal/logging"
	"github.com/dipeo/dipeo-core/internal/state"
	"github.com/dipeo/dipeo-core/internal/state/memstate"
)

func newTestService() *state.Service {
	log := logging.New("error", "console")
	return state.NewService(memstate.NewCache(100), memstate.NewRepository(), log)
}

func TestStartExecutionCreatesPendingState(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	es, err := svc.StartExecution(ctx, "exec-1", "diagram-1")
	require.NoError(t, err)
	assert.Equal(t, state.ExecutionPending, es.Status)

	got, err := svc.GetExecutionState(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, diagram.DiagramID("diagram-1"), got.DiagramID)
}

func TestStartExecutionRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, err := svc.StartExecution(ctx, "exec-1", "diagram-1")
	require.NoError(t, err)

	_, err = svc.StartExecution(ctx, "exec-1", "diagram-1")
	assert.Error(t, err)
}

func TestUpdateNodeExecutionMirrorsToRepository(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, err := svc.StartExecution(ctx, "exec-1", "diagram-1")
	require.NoError(t, err)

	err = svc.UpdateNodeExecution(ctx, "exec-1", "node-a", func(ns *state.NodeState) {
		ns.Status = state.NodeRunning
		ns.ExecCount++
	})
	require.NoError(t, err)

	got, err := svc.GetExecutionState(ctx, "exec-1")
	require.NoError(t, err)
	require.Contains(t, got.NodeStates, diagram.NodeID("node-a"))
	assert.Equal(t, state.NodeRunning, got.NodeStates["node-a"].Status)
	assert.Equal(t, 1, got.NodeStates["node-a"].ExecCount)
}

func TestSetNodeOutputIsCacheOnly(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, err := svc.StartExecution(ctx, "exec-1", "diagram-1")
	require.NoError(t, err)

	env := envelope.Text("hello", "node-a", "exec-1")
	require.NoError(t, svc.SetNodeOutput(ctx, "exec-1", "node-a", env))

	got, err := svc.GetExecutionState(ctx, "exec-1")
	require.NoError(t, err)
	require.Contains(t, got.NodeOutputs, diagram.NodeID("node-a"))
	body, err := got.NodeOutputs["node-a"].AsText()
	require.NoError(t, err)
	assert.Equal(t, "hello", body)
}

func TestFinishExecutionEvictsFromCacheAndFlushesRepository(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, err := svc.StartExecution(ctx, "exec-1", "diagram-1")
	require.NoError(t, err)
	require.NoError(t, svc.UpdateNodeExecution(ctx, "exec-1", "node-a", func(ns *state.NodeState) {
		ns.Status = state.NodeCompleted
	}))

	require.NoError(t, svc.FinishExecution(ctx, "exec-1", state.ExecutionCompleted, ""))

	got, err := svc.GetExecutionState(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, state.ExecutionCompleted, got.Status)
	assert.NotNil(t, got.EndedAt)
	assert.Equal(t, state.NodeCompleted, got.NodeStates["node-a"].Status)
}

func TestFinishExecutionRejectsNonTerminalStatus(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, err := svc.StartExecution(ctx, "exec-1", "diagram-1")
	require.NoError(t, err)

	err = svc.FinishExecution(ctx, "exec-1", state.ExecutionRunning, "")
	assert.Error(t, err)
}

func TestAppendTokenUsageAccumulates(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, err := svc.StartExecution(ctx, "exec-1", "diagram-1")
	require.NoError(t, err)

	require.NoError(t, svc.AppendTokenUsage(ctx, "exec-1", state.TokenUsage{Input: 10, Output: 5, Total: 15}))
	require.NoError(t, svc.AppendTokenUsage(ctx, "exec-1", state.TokenUsage{Input: 3, Output: 2, Total: 5}))

	got, err := svc.GetExecutionState(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, int64(13), got.TokenUsage.Input)
	assert.Equal(t, int64(7), got.TokenUsage.Output)
	assert.Equal(t, int64(20), got.TokenUsage.Total)
}
