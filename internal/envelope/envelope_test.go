package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo-core/internal/diagram"
)

func TestTextRoundTrip(t *testing.T) {
	e := Text("hello", "node1", "exec1")
	assert.Equal(t, diagram.NodeID("node1"), e.ProducedBy())
	assert.Equal(t, diagram.ExecutionID("exec1"), e.TraceID())

	body, err := e.AsText()
	require.NoError(t, err)
	assert.Equal(t, "hello", body)
}

func TestJSONRoundTrip(t *testing.T) {
	type payload struct {
		X int `json:"x"`
	}
	e, err := JSONEnvelope(payload{X: 1}, "node1", "exec1")
	require.NoError(t, err)

	var out payload
	require.NoError(t, e.AsJSON(&out))
	assert.Equal(t, 1, out.X)
}

func TestAccessorMismatchFails(t *testing.T) {
	e := Text("hello", "node1", "exec1")
	var out any
	err := e.AsJSON(&out)
	require.Error(t, err)
}

func TestErrorEnvelope(t *testing.T) {
	e := ErrorEnvelope("boom", "ServiceError", "node1", "exec1")
	assert.True(t, e.IsError())
	msg, kind, err := e.AsError()
	require.NoError(t, err)
	assert.Equal(t, "boom", msg)
	assert.Equal(t, "ServiceError", kind)
}

func TestWithOutputLabelDoesNotMutateOriginalMeta(t *testing.T) {
	base := Text("x", "node1", "exec1")
	routed := base.WithOutputLabel(diagram.LabelCondTrue)

	assert.Equal(t, diagram.LabelDefault, base.OutputLabel())
	assert.Equal(t, diagram.LabelCondTrue, routed.OutputLabel())
}
