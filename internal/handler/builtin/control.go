// Package builtin implements the concrete Handler for every node type
// named in the node-type enum, grounded on rakunlabs-at's
// internal/service/workflow/nodes package: one file per related group
// of node types, each registered by RegisterAll rather than init()
// (this module's handler registry is request-scoped, not a package
// global, so registration happens at runtime construction instead).
package builtin

import (
	"context"

	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/envelope"
	"github.com/dipeo/dipeo-core/internal/handler"
)

// StartHandler seeds a diagram's execution. It has no upstream inputs;
// its output is the trigger payload carried in the node's own data
// under "input", or an empty JSON object if absent.
type StartHandler struct {
	handler.Defaults
}

func (StartHandler) Run(_ context.Context, req *handler.ExecutionRequest, _ map[string]any) (any, error) {
	if v, ok := req.Node.Data["input"]; ok {
		return v, nil
	}
	return map[string]any{}, nil
}

// EndpointHandler is a diagram's terminal node: it has no downstream
// edges and its serialized output becomes the execution's final result.
type EndpointHandler struct {
	handler.Defaults
}

func (EndpointHandler) PrepareInputs(_ context.Context, _ *handler.ExecutionRequest, inputs map[diagram.HandleLabel]envelope.Envelope) (map[string]any, error) {
	args := make(map[string]any, len(inputs))
	for label, env := range inputs {
		args[string(label)] = env
	}
	return args, nil
}

func (EndpointHandler) Run(_ context.Context, _ *handler.ExecutionRequest, args map[string]any) (any, error) {
	if env, ok := args[string(diagram.LabelDefault)].(envelope.Envelope); ok {
		return env, nil
	}
	return args, nil
}

// ConditionHandler evaluates a node's compiled Condition and reports
// which branch (condtrue/condfalse) the engine should route downstream
// on. It does not itself transform data: the output envelope simply
// carries the upstream default input forward, labeled with the decision.
type ConditionHandler struct {
	handler.Defaults
}

func (ConditionHandler) Validate(req *handler.ExecutionRequest) error {
	if req.Node.Branch == nil || len(req.Node.Branch.Rules) == 0 {
		return &missingConfigError{NodeType: req.Node.Type, Field: "branch"}
	}
	return nil
}

func (ConditionHandler) Run(_ context.Context, req *handler.ExecutionRequest, args map[string]any) (any, error) {
	// The evaluator operates on decoded values ($.field / output.field),
	// never on the Envelope wrapper itself, so unwrap before evaluating
	// while keeping the original envelope for SerializeOutput to forward.
	var forward, evalTarget any
	if env, ok := args[string(diagram.LabelDefault)].(envelope.Envelope); ok {
		forward = env
		var decoded any
		if err := env.AsJSON(&decoded); err == nil {
			evalTarget = decoded
		} else if text, err := env.AsText(); err == nil {
			evalTarget = text
		}
	} else {
		forward = args
		evalTarget = args
	}

	for _, rule := range req.Node.Branch.Rules {
		if rule.Condition == nil {
			continue
		}
		ok, err := req.ConditionEval.Evaluate(*rule.Condition, evalTarget, req.Variables, req.NodeLookup)
		if err != nil {
			return nil, err
		}
		if ok {
			return conditionResult{output: forward, branch: diagram.LabelCondTrue}, nil
		}
	}
	return conditionResult{output: forward, branch: diagram.LabelCondFalse}, nil
}

func (ConditionHandler) SerializeOutput(req *handler.ExecutionRequest, result any) (envelope.Envelope, error) {
	cr, ok := result.(conditionResult)
	if !ok {
		return envelope.Envelope{}, &unexpectedResultError{NodeType: req.Node.Type}
	}

	var env envelope.Envelope
	switch v := cr.output.(type) {
	case envelope.Envelope:
		env = v
	default:
		built, err := envelope.JSONEnvelope(v, req.Node.ID, req.ExecutionID)
		if err != nil {
			return envelope.Envelope{}, err
		}
		env = built
	}
	return env.WithOutputLabel(cr.branch), nil
}

type conditionResult struct {
	output any
	branch diagram.HandleLabel
}
