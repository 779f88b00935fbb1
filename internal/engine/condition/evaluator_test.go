package condition_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo-core/internal/compiler"
	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/engine/condition"
)

func noLookup(diagram.NodeID) (int, bool, bool) { return 0, false, false }

func TestEvaluateCustomCELExpression(t *testing.T) {
	e := condition.NewEvaluator()
	cond := compiler.Condition{Type: diagram.ConditionCustom, Expression: "$.approved == true"}

	result, err := e.Evaluate(cond, map[string]any{"approved": true}, nil, noLookup)
	require.NoError(t, err)
	assert.True(t, result)
}

func TestEvaluateCustomCELInverted(t *testing.T) {
	e := condition.NewEvaluator()
	cond := compiler.Condition{Type: diagram.ConditionCustom, Expression: "$.approved == true", Invert: true}

	result, err := e.Evaluate(cond, map[string]any{"approved": true}, nil, noLookup)
	require.NoError(t, err)
	assert.False(t, result)
}

func TestEvaluateDetectMaxIterations(t *testing.T) {
	e := condition.NewEvaluator()
	cond := compiler.Condition{Type: diagram.ConditionDetectMaxIterations, Expression: "loop-node:3"}

	lookup := func(id diagram.NodeID) (int, bool, bool) {
		if id == "loop-node" {
			return 3, true, true
		}
		return 0, false, false
	}

	result, err := e.Evaluate(cond, nil, nil, lookup)
	require.NoError(t, err)
	assert.True(t, result)
}

func TestEvaluateCheckNodesExecutedRequiresAll(t *testing.T) {
	e := condition.NewEvaluator()
	cond := compiler.Condition{Type: diagram.ConditionCheckNodesExecuted, Expression: "a, b"}

	lookup := func(id diagram.NodeID) (int, bool, bool) {
		switch id {
		case "a":
			return 1, true, true
		case "b":
			return 0, false, true
		}
		return 0, false, false
	}

	result, err := e.Evaluate(cond, nil, nil, lookup)
	require.NoError(t, err)
	assert.False(t, result)
}

func TestEvaluateLLMDecisionRequiresBooleanField(t *testing.T) {
	e := condition.NewEvaluator()
	cond := compiler.Condition{Type: diagram.ConditionLLMDecision}

	_, err := e.Evaluate(cond, map[string]any{"decision": "yes"}, nil, noLookup)
	assert.Error(t, err)

	result, err := e.Evaluate(cond, map[string]any{"decision": true}, nil, noLookup)
	require.NoError(t, err)
	assert.True(t, result)
}
