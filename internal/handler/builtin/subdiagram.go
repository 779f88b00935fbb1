package builtin

import (
	"context"
	"fmt"

	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/envelope"
	"github.com/dipeo/dipeo-core/internal/handler"
)

// SubDiagramHandler delegates to the engine-supplied RunSubDiagram
// callback to execute a nested diagram to completion and adopts its
// endpoint output as this node's own output (spec §4.8 "batch & sub-
// diagram execution").
type SubDiagramHandler struct {
	handler.Defaults
}

func (SubDiagramHandler) Validate(req *handler.ExecutionRequest) error {
	diagramID, _ := req.Node.Data["diagram_id"].(string)
	if diagramID == "" {
		return &missingConfigError{NodeType: req.Node.Type, Field: "diagram_id"}
	}
	return nil
}

// ignoreIfSub makes the node a no-op (passes its default input straight
// through) when the current execution is itself a sub-diagram run, so a
// diagram authored to stand alone doesn't re-enter itself when nested.
func (SubDiagramHandler) ignoreIfSub(req *handler.ExecutionRequest) bool {
	enabled, _ := req.Node.Data["ignore_if_sub"].(bool)
	return enabled
}

func (h SubDiagramHandler) Run(ctx context.Context, req *handler.ExecutionRequest, args map[string]any) (any, error) {
	if req.IsSubDiagram && h.ignoreIfSub(req) {
		if env, ok := args[string(diagram.LabelDefault)].(envelope.Envelope); ok {
			return env, nil
		}
		return envelope.JSONEnvelope(args, req.Node.ID, req.ExecutionID)
	}

	if req.RunSubDiagram == nil {
		return nil, fmt.Errorf("sub_diagram: no sub-diagram runner available in this execution context")
	}

	baseInputs := make(map[string]any, len(args))
	for k, v := range args {
		baseInputs[k] = v
	}

	diagramID, _ := req.Node.Data["diagram_id"].(string)
	cfg := readBatchConfig(req.Node.Data)
	if !cfg.enabled {
		output, err := req.RunSubDiagram(ctx, diagram.DiagramID(diagramID), baseInputs)
		if err != nil {
			return nil, fmt.Errorf("sub_diagram: %w", err)
		}
		return output, nil
	}

	items, err := batchItems(req, args, cfg)
	if err != nil {
		return nil, fmt.Errorf("sub_diagram: %w", err)
	}
	outcome := runBatch(ctx, req, cfg, items, func(ctx context.Context, _ int, item any) (any, error) {
		itemInputs := make(map[string]any, len(baseInputs)+1)
		for k, v := range baseInputs {
			itemInputs[k] = v
		}
		itemInputs["batch_item"] = item
		return req.RunSubDiagram(ctx, diagram.DiagramID(diagramID), itemInputs)
	})

	outputs := make([]any, len(outcome.results))
	for i, r := range outcome.results {
		if r.err != nil {
			outputs[i] = map[string]any{"error": r.err.Error()}
			continue
		}
		env := r.val.(envelope.Envelope)
		var decoded any
		if err := env.AsJSON(&decoded); err == nil {
			outputs[i] = decoded
		} else if text, err := env.AsText(); err == nil {
			outputs[i] = text
		}
	}
	return batchRunResult{items: outputs, errors: outcome.errors}, nil
}

func (SubDiagramHandler) SerializeOutput(req *handler.ExecutionRequest, result any) (envelope.Envelope, error) {
	switch v := result.(type) {
	case envelope.Envelope:
		return v, nil
	case batchRunResult:
		env, err := envelope.JSONEnvelope(v.items, req.Node.ID, req.ExecutionID)
		if err != nil {
			return envelope.Envelope{}, err
		}
		return env.WithMeta("batch_errors", v.errors), nil
	default:
		return envelope.Envelope{}, &unexpectedResultError{NodeType: req.Node.Type}
	}
}
