package builtin

import (
	"context"
	"fmt"

	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/engine/patch"
	"github.com/dipeo/dipeo-core/internal/envelope"
	"github.com/dipeo/dipeo-core/internal/handler"
)

// DiffPatchHandler applies an RFC 6902 JSON Patch to the diagram
// identified in its node data and returns the patched document, using
// package patch's validation and size limits. See package patch's doc
// comment for its grounding.
type DiffPatchHandler struct {
	handler.Defaults
}

func (DiffPatchHandler) Validate(req *handler.ExecutionRequest) error {
	if _, ok := req.Node.Data["patch"].([]any); !ok {
		return &missingConfigError{NodeType: req.Node.Type, Field: "patch"}
	}
	return nil
}

func (DiffPatchHandler) Run(_ context.Context, req *handler.ExecutionRequest, args map[string]any) (any, error) {
	env, ok := args[string(diagram.LabelDefault)].(envelope.Envelope)
	if !ok {
		return nil, fmt.Errorf("diff_patch: missing default input diagram")
	}

	var target diagram.DomainDiagram
	if err := env.AsJSON(&target); err != nil {
		return nil, fmt.Errorf("diff_patch: decode input diagram: %w", err)
	}

	ops := convertOps(req.Node.Data["patch"])

	patched, err := patch.Apply(&target, ops)
	if err != nil {
		return nil, fmt.Errorf("diff_patch: %w", err)
	}
	return patched, nil
}

func convertOps(raw any) []map[string]any {
	list, _ := raw.([]any)
	ops := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			ops = append(ops, m)
		}
	}
	return ops
}

func (DiffPatchHandler) SerializeOutput(req *handler.ExecutionRequest, result any) (envelope.Envelope, error) {
	return envelope.JSONEnvelope(result, req.Node.ID, req.ExecutionID)
}
