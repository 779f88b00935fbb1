package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/envelope"
	"github.com/dipeo/dipeo-core/internal/fsadapter"
	"github.com/dipeo/dipeo-core/internal/handler"
	"github.com/dipeo/dipeo-core/internal/registry"
)

// DBHandler reads or writes a JSON document through the
// FILESYSTEM_ADAPTER service, grounded on the teacher's CAS pattern
// (common/clients, a named blob keyed by path) simplified to the
// minimal filesystem seam this module exposes (spec §4.10).
type DBHandler struct {
	handler.Defaults
}

func (DBHandler) Validate(req *handler.ExecutionRequest) error {
	path, _ := req.Node.Data["path"].(string)
	if path == "" {
		return &missingConfigError{NodeType: req.Node.Type, Field: "path"}
	}
	op, _ := req.Node.Data["operation"].(string)
	switch op {
	case "read", "write", "":
	default:
		return fmt.Errorf("db: unsupported operation %q", op)
	}
	return nil
}

func (DBHandler) Run(_ context.Context, req *handler.ExecutionRequest, args map[string]any) (any, error) {
	adapter, err := registry.Resolve(req.Registry, fsadapter.Key)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}

	path, _ := req.Node.Data["path"].(string)
	op, _ := req.Node.Data["operation"].(string)
	if op == "" {
		op = "read"
	}

	switch op {
	case "read":
		raw, err := adapter.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("db: read %q: %w", path, err)
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, fmt.Errorf("db: decode %q: %w", path, err)
		}
		return decoded, nil
	case "write":
		payload := args[string(diagram.LabelDefault)]
		if env, ok := payload.(envelope.Envelope); ok {
			payload = json.RawMessage(env.RawBody())
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("db: marshal payload: %w", err)
		}
		if err := adapter.WriteFile(path, raw, 0o644); err != nil {
			return nil, fmt.Errorf("db: write %q: %w", path, err)
		}
		return map[string]any{"path": path, "bytes_written": len(raw)}, nil
	default:
		return nil, fmt.Errorf("db: unsupported operation %q", op)
	}
}

func (DBHandler) SerializeOutput(req *handler.ExecutionRequest, result any) (envelope.Envelope, error) {
	return envelope.JSONEnvelope(result, req.Node.ID, req.ExecutionID)
}

// IRBuilderHandler assembles an intermediate-representation document
// from its upstream inputs plus static node config, grounded on the
// teacher's cmd/workflow-runner/compiler/ir.go notion of an IR as a
// plain JSON-able struct assembled from a workflow's declared nodes.
type IRBuilderHandler struct {
	handler.Defaults
}

func (IRBuilderHandler) Run(_ context.Context, req *handler.ExecutionRequest, args map[string]any) (any, error) {
	doc := map[string]any{}
	if base, ok := req.Node.Data["base"].(map[string]any); ok {
		for k, v := range base {
			doc[k] = v
		}
	}
	for label, v := range args {
		if env, ok := v.(envelope.Envelope); ok {
			var decoded any
			if err := env.AsJSON(&decoded); err == nil {
				doc[label] = decoded
				continue
			}
			if text, err := env.AsText(); err == nil {
				doc[label] = text
				continue
			}
		}
		doc[label] = v
	}
	return doc, nil
}

func (IRBuilderHandler) SerializeOutput(req *handler.ExecutionRequest, result any) (envelope.Envelope, error) {
	return envelope.JSONEnvelope(result, req.Node.ID, req.ExecutionID)
}

// JSONSchemaValidatorHandler checks its default input against a subset
// of JSON Schema (type, required, properties) declared in the node's
// "schema" field. No example repo in the corpus imports a JSON Schema
// validation library (leofalp-aigo's internal/jsonschema generates
// schemas from Go structs; it doesn't validate arbitrary documents
// against one), so this implements the minimal structural subset
// directly rather than fabricating a dependency.
type JSONSchemaValidatorHandler struct {
	handler.Defaults
}

func (JSONSchemaValidatorHandler) Validate(req *handler.ExecutionRequest) error {
	if _, ok := req.Node.Data["schema"].(map[string]any); !ok {
		return &missingConfigError{NodeType: req.Node.Type, Field: "schema"}
	}
	return nil
}

func (JSONSchemaValidatorHandler) Run(_ context.Context, req *handler.ExecutionRequest, args map[string]any) (any, error) {
	schema, _ := req.Node.Data["schema"].(map[string]any)

	var doc map[string]any
	if env, ok := args[string(diagram.LabelDefault)].(envelope.Envelope); ok {
		if err := env.AsJSON(&doc); err != nil {
			return nil, fmt.Errorf("json_schema_validator: input is not a JSON object: %w", err)
		}
	} else {
		doc, _ = args[string(diagram.LabelDefault)].(map[string]any)
	}

	violations := validateAgainstSchema(doc, schema)
	return map[string]any{
		"valid":      len(violations) == 0,
		"violations": violations,
	}, nil
}

func validateAgainstSchema(doc map[string]any, schema map[string]any) []string {
	var violations []string

	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			name, _ := r.(string)
			if _, present := doc[name]; !present {
				violations = append(violations, fmt.Sprintf("missing required field %q", name))
			}
		}
	}

	props, _ := schema["properties"].(map[string]any)
	for name, rawSpec := range props {
		spec, ok := rawSpec.(map[string]any)
		if !ok {
			continue
		}
		value, present := doc[name]
		if !present {
			continue
		}
		wantType, _ := spec["type"].(string)
		if wantType != "" && !matchesJSONType(value, wantType) {
			violations = append(violations, fmt.Sprintf("field %q: expected type %q", name, wantType))
		}
	}
	return violations
}

func matchesJSONType(value any, want string) bool {
	switch want {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := value.(float64)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	default:
		return true
	}
}

func (JSONSchemaValidatorHandler) SerializeOutput(req *handler.ExecutionRequest, result any) (envelope.Envelope, error) {
	return envelope.JSONEnvelope(result, req.Node.ID, req.ExecutionID)
}
