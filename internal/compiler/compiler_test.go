package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/handle"
)

func linearDiagram() *diagram.DomainDiagram {
	start := diagram.NodeID("start1")
	code := diagram.NodeID("code1")
	end := diagram.NodeID("end1")

	d := &diagram.DomainDiagram{
		Nodes: []diagram.Node{
			{ID: start, Type: diagram.NodeStart},
			{ID: code, Type: diagram.NodeCodeJob},
			{ID: end, Type: diagram.NodeEndpoint},
		},
	}
	d.Handles = append(d.Handles, handle.GenerateDefaultHandles(start, diagram.NodeStart)...)
	d.Handles = append(d.Handles, handle.GenerateDefaultHandles(code, diagram.NodeCodeJob)...)
	d.Handles = append(d.Handles, handle.GenerateDefaultHandles(end, diagram.NodeEndpoint)...)

	d.Arrows = []diagram.Arrow{
		{ID: "a1", Source: handle.CreateID(start, diagram.LabelDefault, diagram.DirectionOutput), Target: handle.CreateID(code, diagram.LabelDefault, diagram.DirectionInput)},
		{ID: "a2", Source: handle.CreateID(code, diagram.LabelDefault, diagram.DirectionOutput), Target: handle.CreateID(end, diagram.LabelDefault, diagram.DirectionInput)},
	}
	return d
}

func TestCompileLinearDiagram(t *testing.T) {
	d := linearDiagram()
	ed, err := Compile(d, Options{})
	require.NoError(t, err)

	assert.Len(t, ed.Nodes, 3)
	assert.ElementsMatch(t, ed.GetEntryNodes(), []diagram.NodeID{"start1"})
	assert.ElementsMatch(t, ed.GetTerminalNodes(), []diagram.NodeID{"end1"})
	assert.Equal(t, []diagram.NodeID{"code1", "end1", "start1"}, sortedCopy(ed.ExecutionOrder))
}

func TestCompileRejectsZeroNodes(t *testing.T) {
	_, err := Compile(&diagram.DomainDiagram{}, Options{})
	require.Error(t, err)
}

func TestCompileRejectsMultipleStartNodes(t *testing.T) {
	d := linearDiagram()
	d.Nodes = append(d.Nodes, diagram.Node{ID: "start2", Type: diagram.NodeStart})
	_, err := Compile(d, Options{})
	require.Error(t, err)
}

func TestCompileConditionalBranch(t *testing.T) {
	start := diagram.NodeID("start1")
	cond := diagram.NodeID("cond1")
	a := diagram.NodeID("a")
	b := diagram.NodeID("b")

	d := &diagram.DomainDiagram{
		Nodes: []diagram.Node{
			{ID: start, Type: diagram.NodeStart},
			{ID: cond, Type: diagram.NodeCondition, Data: map[string]any{"condition_type": "custom", "expression": "x>5"}},
			{ID: a, Type: diagram.NodeEndpoint},
			{ID: b, Type: diagram.NodeEndpoint},
		},
	}
	d.Handles = append(d.Handles, handle.GenerateDefaultHandles(start, diagram.NodeStart)...)
	d.Handles = append(d.Handles, handle.GenerateDefaultHandles(cond, diagram.NodeCondition)...)
	d.Handles = append(d.Handles, handle.GenerateDefaultHandles(a, diagram.NodeEndpoint)...)
	d.Handles = append(d.Handles, handle.GenerateDefaultHandles(b, diagram.NodeEndpoint)...)

	d.Arrows = []diagram.Arrow{
		{ID: "a1", Source: handle.CreateID(start, diagram.LabelDefault, diagram.DirectionOutput), Target: handle.CreateID(cond, diagram.LabelDefault, diagram.DirectionInput)},
		{ID: "a2", Source: handle.CreateID(cond, diagram.LabelCondTrue, diagram.DirectionOutput), Target: handle.CreateID(a, diagram.LabelDefault, diagram.DirectionInput)},
		{ID: "a3", Source: handle.CreateID(cond, diagram.LabelCondFalse, diagram.DirectionOutput), Target: handle.CreateID(b, diagram.LabelDefault, diagram.DirectionInput)},
	}

	ed, err := Compile(d, Options{})
	require.NoError(t, err)

	condNode := ed.Nodes[cond]
	require.NotNil(t, condNode.Branch)
	assert.Equal(t, []diagram.NodeID{a}, condNode.Branch.Rules[0].NextNodes)
	assert.Equal(t, []diagram.NodeID{b}, condNode.Branch.Default)

	for _, e := range ed.Edges {
		if e.SourceNode == cond {
			assert.True(t, e.IsConditional)
		}
	}
}

func TestCompileRejectsUnboundedCycle(t *testing.T) {
	a := diagram.NodeID("a")
	b := diagram.NodeID("b")
	start := diagram.NodeID("start1")

	d := &diagram.DomainDiagram{
		Nodes: []diagram.Node{
			{ID: start, Type: diagram.NodeStart},
			{ID: a, Type: diagram.NodeCodeJob},
			{ID: b, Type: diagram.NodeCodeJob},
		},
	}
	d.Handles = append(d.Handles, handle.GenerateDefaultHandles(start, diagram.NodeStart)...)
	d.Handles = append(d.Handles, handle.GenerateDefaultHandles(a, diagram.NodeCodeJob)...)
	d.Handles = append(d.Handles, handle.GenerateDefaultHandles(b, diagram.NodeCodeJob)...)

	d.Arrows = []diagram.Arrow{
		{ID: "a1", Source: handle.CreateID(start, diagram.LabelDefault, diagram.DirectionOutput), Target: handle.CreateID(a, diagram.LabelDefault, diagram.DirectionInput)},
		{ID: "a2", Source: handle.CreateID(a, diagram.LabelDefault, diagram.DirectionOutput), Target: handle.CreateID(b, diagram.LabelDefault, diagram.DirectionInput)},
		{ID: "a3", Source: handle.CreateID(b, diagram.LabelDefault, diagram.DirectionOutput), Target: handle.CreateID(a, diagram.LabelDefault, diagram.DirectionInput)},
	}

	_, err := Compile(d, Options{})
	require.Error(t, err)
}

func TestCompileIdempotent(t *testing.T) {
	d := linearDiagram()
	ed1, err := Compile(d, Options{})
	require.NoError(t, err)
	ed2, err := Compile(d, Options{})
	require.NoError(t, err)

	assert.Equal(t, ed1.ExecutionOrder, ed2.ExecutionOrder)
	assert.Equal(t, len(ed1.Edges), len(ed2.Edges))
}

func sortedCopy(ids []diagram.NodeID) []diagram.NodeID {
	out := append([]diagram.NodeID{}, ids...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
