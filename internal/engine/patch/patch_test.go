package patch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/engine/patch"
)

func baseDiagram() *diagram.DomainDiagram {
	return &diagram.DomainDiagram{
		Nodes: []diagram.Node{{ID: "start", Type: diagram.NodeStart}},
	}
}

func TestApplyAddsNode(t *testing.T) {
	ops := []map[string]any{
		{"op": "add", "path": "/nodes/-", "value": map[string]any{"id": "new", "type": "code_job"}},
	}

	patched, err := patch.Apply(baseDiagram(), ops)
	require.NoError(t, err)
	require.Len(t, patched.Nodes, 2)
	assert.Equal(t, diagram.NodeID("new"), patched.Nodes[1].ID)
}

func TestValidateRejectsMissingOpField(t *testing.T) {
	ops := []map[string]any{{"path": "/nodes/-"}}
	assert.Error(t, patch.Validate(ops))
}

func TestValidateRejectsNodeWithoutType(t *testing.T) {
	ops := []map[string]any{
		{"op": "add", "path": "/nodes/-", "value": map[string]any{"id": "new"}},
	}
	assert.Error(t, patch.Validate(ops))
}

func TestValidateRejectsTooManyAddedNodes(t *testing.T) {
	ops := make([]map[string]any, 0, patch.MaxAddedNodesPerPatch+1)
	for i := 0; i <= patch.MaxAddedNodesPerPatch; i++ {
		ops = append(ops, map[string]any{
			"op": "add", "path": "/nodes/-",
			"value": map[string]any{"id": "n", "type": "code_job"},
		})
	}
	err := patch.Validate(ops)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeding the limit")
}

func TestValidateRejectsUnsupportedOp(t *testing.T) {
	ops := []map[string]any{{"op": "move", "path": "/nodes/-"}}
	assert.Error(t, patch.Validate(ops))
}
