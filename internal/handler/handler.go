// Package handler implements the handler lifecycle (spec §4.9): every
// node type's behavior is a Handler with five required phases and one
// optional phase, invoked in a fixed order by the engine. Grounded on
// the teacher's node-type-to-worker dispatch in
// coordinator.processWorkerNode (closest analog to "resolve behavior by
// node type"); the phase interface itself follows the small-interface
// idiom the teacher applies to its Logger/EventPublisher seams, given
// default no-op methods so a handler only overrides what it needs.
package handler

import (
	"context"
	"fmt"

	"github.com/dipeo/dipeo-core/internal/compiler"
	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/engine/condition"
	"github.com/dipeo/dipeo-core/internal/envelope"
	"github.com/dipeo/dipeo-core/internal/registry"
)

// SubDiagramRunner executes a nested diagram to completion and returns
// its endpoint output, the seam sub_diagram dispatches through. The
// engine supplies a concrete implementation at dispatch time; it is nil
// outside that context (e.g. unit tests of other node types).
type SubDiagramRunner func(ctx context.Context, diagramID diagram.DiagramID, inputs map[string]any) (envelope.Envelope, error)

// ExecutionRequest is passed to every phase: the typed node, the
// resolved service registry, the owning execution, a cancellation
// signal, and a scoped variable snapshot (spec §4.9). ConditionEval,
// NodeLookup and RunSubDiagram are populated by the engine for every
// node it dispatches; only the condition and sub_diagram handlers read
// them.
type ExecutionRequest struct {
	Node          *compiler.ExecutableNode
	Registry      *registry.Registry
	ExecutionID   diagram.ExecutionID
	Variables     map[string]any
	ConditionEval *condition.Evaluator
	NodeLookup    condition.NodeLookup
	RunSubDiagram SubDiagramRunner
	// MaxConcurrent is the engine's worker-pool size, handed to handlers
	// (person_job, sub_diagram) that fan out internally under batch:true
	// so a node's own batch items never outrun the execution's pool.
	MaxConcurrent int
	// IsSubDiagram reports whether the current execution was itself
	// instantiated by sub_diagram dispatch, the seam ignore_if_sub checks.
	IsSubDiagram bool
}

// Handler is the five-(plus one)-phase lifecycle every node type
// implements. Embed Defaults to get no-op behavior for phases a
// handler doesn't need to override.
type Handler interface {
	Validate(req *ExecutionRequest) error
	PreExecute(ctx context.Context, req *ExecutionRequest) (*envelope.Envelope, error)
	PrepareInputs(ctx context.Context, req *ExecutionRequest, inputs map[diagram.HandleLabel]envelope.Envelope) (map[string]any, error)
	Run(ctx context.Context, req *ExecutionRequest, args map[string]any) (any, error)
	SerializeOutput(req *ExecutionRequest, result any) (envelope.Envelope, error)
	PostExecute(ctx context.Context, req *ExecutionRequest, output envelope.Envelope) (envelope.Envelope, error)
}

// Defaults implements every Handler phase as a no-op, so a concrete
// handler only needs to override the phases it actually uses (spec
// §4.9 "every handler implements five optional phases").
type Defaults struct{}

func (Defaults) Validate(*ExecutionRequest) error { return nil }

func (Defaults) PreExecute(context.Context, *ExecutionRequest) (*envelope.Envelope, error) {
	return nil, nil
}

func (Defaults) PrepareInputs(_ context.Context, _ *ExecutionRequest, inputs map[diagram.HandleLabel]envelope.Envelope) (map[string]any, error) {
	args := make(map[string]any, len(inputs))
	for label, env := range inputs {
		args[string(label)] = env
	}
	return args, nil
}

func (Defaults) Run(context.Context, *ExecutionRequest, map[string]any) (any, error) {
	return nil, fmt.Errorf("handler does not implement Run")
}

func (Defaults) SerializeOutput(req *ExecutionRequest, result any) (envelope.Envelope, error) {
	switch v := result.(type) {
	case string:
		return envelope.Text(v, req.Node.ID, req.ExecutionID), nil
	case envelope.Envelope:
		return v, nil
	default:
		return envelope.JSONEnvelope(result, req.Node.ID, req.ExecutionID)
	}
}

func (Defaults) PostExecute(_ context.Context, _ *ExecutionRequest, output envelope.Envelope) (envelope.Envelope, error) {
	return output, nil
}

// UnsupportedNodeTypeError is returned by Registry.Resolve when no
// handler is registered for a node type (spec §4.9 "missing handlers
// fail the node with a typed error").
type UnsupportedNodeTypeError struct {
	NodeType diagram.NodeType
}

func (e *UnsupportedNodeTypeError) Error() string {
	return fmt.Sprintf("no handler registered for node type %q", e.NodeType)
}

// Registry maps node types to their Handler. Registration happens at
// startup; lookups happen on every dispatch.
type Registry struct {
	handlers map[diagram.NodeType]Handler
}

// NewRegistry builds an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[diagram.NodeType]Handler)}
}

// RegisterFunc registers h for nodeType. Re-registering overwrites.
func (r *Registry) RegisterFunc(nodeType diagram.NodeType, h Handler) {
	r.handlers[nodeType] = h
}

// Resolve looks up the handler for nodeType.
func (r *Registry) Resolve(nodeType diagram.NodeType) (Handler, error) {
	h, ok := r.handlers[nodeType]
	if !ok {
		return nil, &UnsupportedNodeTypeError{NodeType: nodeType}
	}
	return h, nil
}

// Key is the typed registry token for the handler registry (spec
// §4.10's HANDLER_REGISTRY).
var Key = registry.NewKey[*Registry]("HANDLER_REGISTRY")
