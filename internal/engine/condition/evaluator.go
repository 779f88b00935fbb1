// Package condition evaluates compiled Condition expressions for
// condition nodes (spec §4.8: condition_type ∈ {custom,
// detect_max_iterations, check_nodes_executed, llm_decision}).
// Grounded on the teacher's cmd/workflow-runner/condition/evaluator.go
// (CEL compile-and-cache), generalized from a single "cel" condition
// type to the full closed set the spec names.
package condition

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/dipeo/dipeo-core/internal/compiler"
	"github.com/dipeo/dipeo-core/internal/diagram"
)

// NodeLookup resolves the exec_count and status of another node in the
// same diagram, for detect_max_iterations/check_nodes_executed.
type NodeLookup func(nodeID diagram.NodeID) (execCount int, completed bool, ok bool)

// Evaluator evaluates compiler.Condition values against a node's
// output and the execution's running context.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewEvaluator builds an Evaluator with an empty CEL program cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]cel.Program)}
}

// Evaluate dispatches on cond.Type and returns true/false for whether
// the condtrue branch is selected; Invert flips the result.
func (e *Evaluator) Evaluate(cond compiler.Condition, output any, vars map[string]any, lookup NodeLookup) (bool, error) {
	var (
		result bool
		err    error
	)

	switch cond.Type {
	case diagram.ConditionCustom:
		result, err = e.evaluateCEL(cond.Expression, output, vars)
	case diagram.ConditionDetectMaxIterations:
		result, err = e.evaluateDetectMaxIterations(cond.Expression, lookup)
	case diagram.ConditionCheckNodesExecuted:
		result, err = e.evaluateCheckNodesExecuted(cond.Expression, lookup)
	case diagram.ConditionLLMDecision:
		result, err = e.evaluateLLMDecision(output)
	default:
		return false, fmt.Errorf("unsupported condition type: %s", cond.Type)
	}
	if err != nil {
		return false, err
	}
	if cond.Invert {
		result = !result
	}
	return result, nil
}

// evaluateCEL mirrors the teacher's evaluateCEL: JSONPath-style $.field
// is rewritten to CEL's output.field before compiling, and compiled
// programs are cached by normalized expression text.
func (e *Evaluator) evaluateCEL(expr string, output any, vars map[string]any) (bool, error) {
	normalized := strings.ReplaceAll(expr, "$.", "output.")

	e.mu.RLock()
	prg, ok := e.cache[normalized]
	e.mu.RUnlock()

	if !ok {
		var err error
		prg, err = e.compileCEL(normalized)
		if err != nil {
			return false, err
		}
		e.mu.Lock()
		e.cache[normalized] = prg
		e.mu.Unlock()
	}

	out, _, err := prg.Eval(map[string]any{"output": output, "vars": vars})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return a boolean, got %T", out.Value())
	}
	return result, nil
}

func (e *Evaluator) compileCEL(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("output", cel.DynType),
		cel.Variable("vars", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile CEL expression %q: %w", expr, issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("create CEL program: %w", err)
	}
	return prg, nil
}

// evaluateDetectMaxIterations reads Expression as "<nodeID>:<limit>" and
// reports whether that node's execCount (from lookup) has reached limit.
// The node's compiled Loop config is not consulted; the limit comes only
// from Expression.
func (e *Evaluator) evaluateDetectMaxIterations(expr string, lookup NodeLookup) (bool, error) {
	nodeID, limit, err := splitNodeLimit(expr)
	if err != nil {
		return false, err
	}
	execCount, _, ok := lookup(nodeID)
	if !ok {
		return false, fmt.Errorf("detect_max_iterations: node %q not found", nodeID)
	}
	return execCount >= limit, nil
}

// evaluateCheckNodesExecuted treats Expression as a comma-separated list
// of node ids and reports whether all of them have completed at least
// once.
func (e *Evaluator) evaluateCheckNodesExecuted(expr string, lookup NodeLookup) (bool, error) {
	ids := strings.Split(expr, ",")
	for _, raw := range ids {
		id := diagram.NodeID(strings.TrimSpace(raw))
		if id == "" {
			continue
		}
		_, completed, ok := lookup(id)
		if !ok || !completed {
			return false, nil
		}
	}
	return true, nil
}

// evaluateLLMDecision expects the node's own output to already carry a
// boolean "decision" field, produced by an upstream person_job node
// whose prompt asked for a yes/no answer.
func (e *Evaluator) evaluateLLMDecision(output any) (bool, error) {
	m, ok := output.(map[string]any)
	if !ok {
		return false, fmt.Errorf("llm_decision requires a map output, got %T", output)
	}
	decision, ok := m["decision"].(bool)
	if !ok {
		return false, fmt.Errorf("llm_decision output missing boolean %q field", "decision")
	}
	return decision, nil
}

func splitNodeLimit(expr string) (diagram.NodeID, int, error) {
	parts := strings.SplitN(expr, ":", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("detect_max_iterations expression must be \"<node_id>:<limit>\", got %q", expr)
	}
	var limit int
	if _, err := fmt.Sscanf(parts[1], "%d", &limit); err != nil {
		return "", 0, fmt.Errorf("detect_max_iterations limit not an integer: %w", err)
	}
	return diagram.NodeID(parts[0]), limit, nil
}

// ClearCache drops every compiled CEL program, for tests that need a
// fresh evaluator.
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]cel.Program)
}
