// Package resolver performs $nodes.node_id-style variable substitution
// in handler input data (spec §4.8/§4.9 "input resolution"). Grounded
// on the teacher's cmd/workflow-runner/resolver/resolver.go, generalized
// from a Redis-backed SDK.LoadNodeOutput lookup to an injected
// OutputLookup function over whatever state backend the caller holds.
package resolver

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/dipeo/dipeo-core/internal/diagram"
)

// OutputLookup returns the raw (envelope-decoded) output for a node, or
// ok=false if the node hasn't produced one yet.
type OutputLookup func(nodeID diagram.NodeID) (output any, ok bool)

// Resolver resolves $nodes.* references and ${...} interpolations
// against an OutputLookup.
type Resolver struct {
	lookup OutputLookup
}

// New builds a Resolver bound to lookup.
func New(lookup OutputLookup) *Resolver {
	return &Resolver{lookup: lookup}
}

var interpolationPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveMap resolves every value in data, recursing into nested maps
// and slices.
func (r *Resolver) ResolveMap(data map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(data))
	for key, value := range data {
		v, err := r.resolveValue(value)
		if err != nil {
			return nil, fmt.Errorf("resolve key %q: %w", key, err)
		}
		resolved[key] = v
	}
	return resolved, nil
}

func (r *Resolver) resolveValue(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return r.resolveString(v)
	case map[string]any:
		return r.ResolveMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := r.resolveValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

func (r *Resolver) resolveString(s string) (any, error) {
	if strings.HasPrefix(s, "$nodes.") {
		return r.resolveNodeReference(s)
	}
	if strings.Contains(s, "${") {
		return r.resolveInterpolation(s)
	}
	return s, nil
}

// resolveNodeReference resolves "$nodes.node_id" or
// "$nodes.node_id.field.path" using gjson for the field path.
func (r *Resolver) resolveNodeReference(expr string) (any, error) {
	expr = strings.TrimPrefix(expr, "$nodes.")
	parts := strings.SplitN(expr, ".", 2)
	nodeID := diagram.NodeID(parts[0])

	output, ok := r.lookup(nodeID)
	if !ok {
		return nil, fmt.Errorf("node output not found: %s", nodeID)
	}
	if len(parts) == 1 {
		return output, nil
	}

	outputJSON, err := json.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("marshal node %q output: %w", nodeID, err)
	}

	result := gjson.GetBytes(outputJSON, parts[1])
	if !result.Exists() {
		return nil, fmt.Errorf("field %q not found in node %q output", parts[1], nodeID)
	}
	return result.Value(), nil
}

// resolveInterpolation substitutes every ${...} placeholder in s with
// its resolved value, stringified.
func (r *Resolver) resolveInterpolation(s string) (string, error) {
	result := s
	for _, match := range interpolationPattern.FindAllStringSubmatch(s, -1) {
		if len(match) < 2 {
			continue
		}
		placeholder, expr := match[0], match[1]

		value, err := r.resolveString(expr)
		if err != nil {
			return "", fmt.Errorf("resolve interpolation %s: %w", placeholder, err)
		}

		var valueStr string
		switch v := value.(type) {
		case string:
			valueStr = v
		case []byte:
			valueStr = string(v)
		default:
			jsonBytes, err := json.Marshal(v)
			if err != nil {
				return "", fmt.Errorf("marshal interpolated value: %w", err)
			}
			valueStr = string(jsonBytes)
		}
		result = strings.Replace(result, placeholder, valueStr, 1)
	}
	return result, nil
}
