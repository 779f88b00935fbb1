package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo-core/internal/diagram"
)

func minimalDiagram() *diagram.DomainDiagram {
	start := diagram.NodeID("start")
	end := diagram.NodeID("end")
	src := diagram.HandleID("start_default_output")
	dst := diagram.HandleID("end_default_input")

	return &diagram.DomainDiagram{
		Nodes: []diagram.Node{
			{ID: start, Type: diagram.NodeStart},
			{ID: end, Type: diagram.NodeEndpoint},
		},
		Arrows: []diagram.Arrow{
			{ID: "a1", Source: src, Target: dst},
		},
		Handles: []diagram.Handle{
			{ID: src, NodeID: start, Label: diagram.LabelDefault, Direction: diagram.DirectionOutput, DataType: "object"},
			{ID: dst, NodeID: end, Label: diagram.LabelDefault, Direction: diagram.DirectionInput, DataType: "object"},
		},
	}
}

func TestDiagramStorePutCompilesAndLoadRetrievesIt(t *testing.T) {
	store := newDiagramStore()
	id := diagram.DiagramID("diagram-1")

	compiled, err := store.Put(id, minimalDiagram())
	require.NoError(t, err)
	assert.NotNil(t, compiled)

	loaded, err := store.Load(id)
	require.NoError(t, err)
	assert.Same(t, compiled, loaded)

	d, ok := store.Domain(id)
	require.True(t, ok)
	assert.Equal(t, id, d.ID)
}

func TestDiagramStoreLoadUnknownIDFails(t *testing.T) {
	store := newDiagramStore()
	_, err := store.Load("missing")
	assert.Error(t, err)
}
