package handle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo-core/internal/diagram"
)

func TestCreateParseRoundTrip(t *testing.T) {
	cases := []struct {
		nodeID diagram.NodeID
		label  diagram.HandleLabel
		dir    diagram.Direction
	}{
		{"node1", diagram.LabelDefault, diagram.DirectionOutput},
		{"code_job_2", diagram.LabelCondTrue, diagram.DirectionOutput},
		{"my_node_with_underscores", diagram.LabelFirst, diagram.DirectionInput},
	}

	for _, c := range cases {
		id := CreateID(c.nodeID, c.label, c.dir)
		parsed, err := ParseID(id)
		require.NoError(t, err)
		assert.Equal(t, c.nodeID, parsed.NodeID)
		assert.Equal(t, c.label, parsed.Label)
		assert.Equal(t, c.dir, parsed.Direction)
		assert.Equal(t, id, CreateID(parsed.NodeID, parsed.Label, parsed.Direction))
	}
}

func TestParseIDRejectsUnknownDirection(t *testing.T) {
	_, err := ParseID("node1_default_sideways")
	require.Error(t, err)
}

func TestParseIDRejectsTooFewSegments(t *testing.T) {
	_, err := ParseID("onlyone")
	require.Error(t, err)
}

func TestParseBracketSyntax(t *testing.T) {
	label, handleName, ok := ParseBracketSyntax("MyNode[condtrue]")
	require.True(t, ok)
	assert.Equal(t, "MyNode", label)
	assert.Equal(t, "condtrue", handleName)

	_, _, ok = ParseBracketSyntax("MyNode")
	assert.False(t, ok)
}

func TestValidateBracketSyntaxUnknownHandle(t *testing.T) {
	err := ValidateBracketSyntax("Cond", "bogus", diagram.NodeCondition, diagram.DirectionOutput)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "condtrue")
	assert.Contains(t, err.Error(), "condfalse")
}

func TestResolveLabelReferenceUnderscoreFallback(t *testing.T) {
	labelToNode := map[string]diagram.NodeID{"My Cond Node": "n1"}
	nodeType := func(diagram.NodeID) diagram.NodeType { return diagram.NodeCondition }

	nodeID, lbl, err := ResolveLabelReference("My Cond Node_condtrue", labelToNode, nodeType, diagram.DirectionOutput)
	require.NoError(t, err)
	assert.Equal(t, diagram.NodeID("n1"), nodeID)
	assert.Equal(t, diagram.LabelCondTrue, lbl)
}

func TestEnsureHandleExistsCreatesMissing(t *testing.T) {
	handles, id := EnsureHandleExists(nil, "n1", diagram.LabelDefault, diagram.DirectionOutput, "ANY")
	require.Len(t, handles, 1)
	assert.Equal(t, CreateID("n1", diagram.LabelDefault, diagram.DirectionOutput), id)

	// idempotent: calling again with the same handle doesn't duplicate it.
	handles, id2 := EnsureHandleExists(handles, "n1", diagram.LabelDefault, diagram.DirectionOutput, "ANY")
	require.Len(t, handles, 1)
	assert.Equal(t, id, id2)
}

func TestCacheGetOrParse(t *testing.T) {
	c := NewCache()
	id := CreateID("n1", diagram.LabelDefault, diagram.DirectionOutput)

	p1, err := c.GetOrParse(id)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	p2, err := c.GetOrParse(id)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.Equal(t, 1, c.Len())
}
