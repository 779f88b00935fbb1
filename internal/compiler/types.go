// Package compiler lowers a diagram.DomainDiagram into an
// ExecutableDiagram: a validated, handle-resolved, topologically hinted
// form the engine can schedule without re-validating the source diagram.
//
// Grounded on the teacher's cmd/workflow-runner/compiler/ir.go
// (CompileWorkflowSchema, convertWorkflowNode, createBranchConfig,
// createLoopConfig, validate, cycle detection) and sdk/types.go's
// Node/LoopConfig/BranchConfig/Condition shapes.
package compiler

import "github.com/dipeo/dipeo-core/internal/diagram"

// Condition describes how a condition node (or a loop's exit check)
// decides which branch to take.
type Condition struct {
	Type       diagram.ConditionType
	Expression string
	Invert     bool
}

// LoopConfig is attached to a compiled node that participates in a
// bounded cycle (spec §9: "Loop semantics live on the condition node's
// condition_type, not in the graph structure itself" — here
// materialized onto the node the loop wraps so the engine doesn't need
// to re-derive it from the raw graph on every dispatch).
type LoopConfig struct {
	Enabled       bool
	Condition     *Condition
	MaxIterations int
	LoopBackTo    diagram.NodeID
	BreakPath     diagram.NodeID
	TimeoutPath   diagram.NodeID
}

// BranchRule is one condition-to-next-nodes mapping inside a
// BranchConfig, evaluated in declaration order.
type BranchRule struct {
	Condition *Condition
	NextNodes []diagram.NodeID
}

// BranchConfig describes a condition node's branch routing.
type BranchConfig struct {
	Enabled            bool
	Rules              []BranchRule
	Default            []diagram.NodeID
	AvailableNextNodes []diagram.NodeID
}

// ExecutableNode is the compiled form of a diagram.Node: its Data is
// carried as declared (the node type's handler validates it when the
// engine dispatches the node), and its dependency/dependent edges are
// pre-resolved so the engine never walks the arrow list during
// scheduling.
type ExecutableNode struct {
	ID           diagram.NodeID
	Type         diagram.NodeType
	Label        string
	Data         map[string]any
	Dependencies []diagram.NodeID
	Dependents   []diagram.NodeID
	WaitForAll   bool
	IsTerminal   bool
	Loop         *LoopConfig
	Branch       *BranchConfig
}

// ExecutableEdge is the resolved, transform-annotated form of an Arrow.
type ExecutableEdge struct {
	ID                     diagram.ArrowID
	SourceNode             diagram.NodeID
	TargetNode             diagram.NodeID
	SourceOutputLabel      diagram.HandleLabel
	TargetInputLabel       diagram.HandleLabel
	ContentType            diagram.ContentType
	TransformRules         map[string]any
	IsConditional          bool
	RequiresFirstExecution bool
	ContinueOnError        bool
	Metadata               map[string]any
}

// ExecutableDiagram is the compiled, runtime-ready form of a diagram
// (spec §3.4). It is not re-parseable from diagram source.
type ExecutableDiagram struct {
	ID             diagram.DiagramID
	Nodes          map[diagram.NodeID]*ExecutableNode
	Edges          []ExecutableEdge
	ExecutionOrder []diagram.NodeID
	Metadata       map[string]string
	APIKeys        map[diagram.ApiKeyID]string
}

// EdgesInto returns every edge targeting nodeID, in declaration order.
func (d *ExecutableDiagram) EdgesInto(nodeID diagram.NodeID) []ExecutableEdge {
	var out []ExecutableEdge
	for _, e := range d.Edges {
		if e.TargetNode == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// EdgesFrom returns every edge sourced from nodeID, in declaration order.
func (d *ExecutableDiagram) EdgesFrom(nodeID diagram.NodeID) []ExecutableEdge {
	var out []ExecutableEdge
	for _, e := range d.Edges {
		if e.SourceNode == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// GetEntryNodes returns nodes with no dependencies — the set the
// scheduler seeds its first ready-round from.
func (d *ExecutableDiagram) GetEntryNodes() []diagram.NodeID {
	var out []diagram.NodeID
	for id, n := range d.Nodes {
		if len(n.Dependencies) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// GetTerminalNodes returns nodes flagged terminal by the compiler.
func (d *ExecutableDiagram) GetTerminalNodes() []diagram.NodeID {
	var out []diagram.NodeID
	for id, n := range d.Nodes {
		if n.IsTerminal {
			out = append(out, id)
		}
	}
	return out
}
