// Package patch applies JSON Patch (RFC 6902) documents to a diagram
// (spec §9 Design Notes: the Runtime value carries enough state
// to support dynamic graph mutation). Its caller is the diff_patch node
// handler; controlExecution has no "patch" action. Grounded on the teacher's
// cmd/orchestrator/handlers/run_patch.go (patch-then-recompile flow)
// and common/validation/patch_validator.go (structural + node-count
// limits on patch operations), adapted from the teacher's generic
// workflow-schema patches to DiPeO's DomainDiagram shape.
package patch

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/dipeo/dipeo-core/internal/diagram"
)

// MaxAddedNodesPerPatch mirrors the teacher's "max 5 agent nodes per
// patch" guardrail, generalized from agent nodes specifically to any
// node addition, since an unbounded patch could otherwise grow a
// running diagram without limit.
const MaxAddedNodesPerPatch = 5

// Validate checks structural and safety constraints on a raw JSON Patch
// document before it is applied, grounded on the teacher's
// PatchValidator.ValidateOperations/validateOperation.
func Validate(ops []map[string]any) error {
	addedNodes := 0

	for i, op := range ops {
		opType, ok := op["op"].(string)
		if !ok {
			return fmt.Errorf("operation %d: missing or invalid \"op\" field", i)
		}
		path, ok := op["path"].(string)
		if !ok {
			return fmt.Errorf("operation %d: missing or invalid \"path\" field", i)
		}

		switch opType {
		case "add", "replace":
			if _, ok := op["value"]; !ok {
				return fmt.Errorf("operation %d: \"value\" required for %s", i, opType)
			}
			if path == "/nodes/-" {
				if err := validateNodeValue(op["value"], i); err != nil {
					return err
				}
				addedNodes++
			}
		case "remove":
			// no value required
		default:
			return fmt.Errorf("operation %d: unsupported op type %q", i, opType)
		}
	}

	if addedNodes > MaxAddedNodesPerPatch {
		return fmt.Errorf("patch adds %d nodes, exceeding the limit of %d per patch", addedNodes, MaxAddedNodesPerPatch)
	}
	return nil
}

func validateNodeValue(value any, opIndex int) error {
	node, ok := value.(map[string]any)
	if !ok {
		return fmt.Errorf("operation %d: node value must be an object, got %T", opIndex, value)
	}
	if _, ok := node["id"].(string); !ok {
		return fmt.Errorf("operation %d: node must have a string \"id\" field", opIndex)
	}
	if _, ok := node["type"].(string); !ok {
		return fmt.Errorf("operation %d: node must have a string \"type\" field", opIndex)
	}
	if data, exists := node["data"]; exists {
		if _, ok := data.(map[string]any); !ok {
			return fmt.Errorf("operation %d: node \"data\" must be an object, got %T", opIndex, data)
		}
	}
	return nil
}

// Apply validates ops, marshals d, applies the patch document, and
// unmarshals the result into a new DomainDiagram. The caller is
// responsible for recompiling the patched diagram before it takes
// effect on a running execution.
func Apply(d *diagram.DomainDiagram, ops []map[string]any) (*diagram.DomainDiagram, error) {
	if err := Validate(ops); err != nil {
		return nil, fmt.Errorf("invalid patch: %w", err)
	}

	opsJSON, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("marshal patch operations: %w", err)
	}
	jp, err := jsonpatch.DecodePatch(opsJSON)
	if err != nil {
		return nil, fmt.Errorf("decode json patch: %w", err)
	}

	docJSON, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal diagram: %w", err)
	}
	patchedJSON, err := jp.Apply(docJSON)
	if err != nil {
		return nil, fmt.Errorf("apply json patch: %w", err)
	}

	var patched diagram.DomainDiagram
	if err := json.Unmarshal(patchedJSON, &patched); err != nil {
		return nil, fmt.Errorf("unmarshal patched diagram: %w", err)
	}
	return &patched, nil
}
