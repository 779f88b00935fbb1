package resolver_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/engine/resolver"
)

func lookupFixture(outputs map[string]any) resolver.OutputLookup {
	return func(nodeID diagram.NodeID) (any, bool) {
		v, ok := outputs[string(nodeID)]
		return v, ok
	}
}

func TestResolveFullNodeReference(t *testing.T) {
	r := resolver.New(lookupFixture(map[string]any{"a": map[string]any{"x": 1}}))

	out, err := r.ResolveMap(map[string]any{"value": "$nodes.a"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 1}, out["value"])
}

func TestResolveFieldPath(t *testing.T) {
	r := resolver.New(lookupFixture(map[string]any{"a": map[string]any{"x": map[string]any{"y": 42}}}))

	out, err := r.ResolveMap(map[string]any{"value": "$nodes.a.x.y"})
	require.NoError(t, err)
	assert.EqualValues(t, 42, out["value"])
}

func TestResolveMissingNodeErrors(t *testing.T) {
	r := resolver.New(lookupFixture(nil))

	_, err := r.ResolveMap(map[string]any{"value": "$nodes.missing"})
	assert.Error(t, err)
}

func TestResolveInterpolation(t *testing.T) {
	r := resolver.New(lookupFixture(map[string]any{"a": "hello"}))

	out, err := r.ResolveMap(map[string]any{"value": "prefix-${$nodes.a}-suffix"})
	require.NoError(t, err)
	assert.Equal(t, "prefix-hello-suffix", out["value"])
}

func TestResolveRecursesIntoNestedStructures(t *testing.T) {
	r := resolver.New(lookupFixture(map[string]any{"a": "hi"}))

	out, err := r.ResolveMap(map[string]any{
		"nested": map[string]any{"inner": "$nodes.a"},
		"list":   []any{"$nodes.a", "plain"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", out["nested"].(map[string]any)["inner"])
	assert.Equal(t, []any{"hi", "plain"}, out["list"])
}
