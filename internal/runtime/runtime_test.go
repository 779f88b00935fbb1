package runtime_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo-core/internal/config"
	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/handle"
	"github.com/dipeo/dipeo-core/internal/runtime"
	"github.com/dipeo/dipeo-core/internal/state"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("CACHE_BACKEND", "memory")
	t.Setenv("LOG_LEVEL", "error")
	cfg, err := config.Load("runtime-test")
	require.NoError(t, err)
	return cfg
}

func TestNewWiresEveryRequiredServiceAndRunsADiagram(t *testing.T) {
	cfg := testConfig(t)
	rt, err := runtime.New(context.Background(), cfg, runtime.Options{})
	require.NoError(t, err)
	defer rt.Close()
	rt.StartObservers()

	d := &diagram.DomainDiagram{
		Nodes: []diagram.Node{
			{ID: "start", Type: diagram.NodeStart},
			{ID: "end", Type: diagram.NodeEndpoint},
		},
		Arrows: []diagram.Arrow{
			{
				ID:     "a1",
				Source: handle.CreateID("start", diagram.LabelDefault, diagram.DirectionOutput),
				Target: handle.CreateID("end", diagram.LabelDefault, diagram.DirectionInput),
			},
		},
	}

	es, err := rt.CompileAndRun(context.Background(), d, "exec-rt-1", map[string]any{"hello": "world"})
	require.NoError(t, err)
	assert.Equal(t, state.ExecutionCompleted, es.Status)
}
