// Package state implements the execution state store (spec §3.6, §4.5):
// per-execution node statuses, outputs, variables and token usage,
// behind a write-through cache backed by a durable repository.
package state

import (
	"time"

	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/envelope"
)

// ExecutionStatus is the closed set of terminal and non-terminal states
// an ExecutionState can occupy.
type ExecutionStatus string

const (
	ExecutionPending        ExecutionStatus = "PENDING"
	ExecutionRunning        ExecutionStatus = "RUNNING"
	ExecutionPaused         ExecutionStatus = "PAUSED"
	ExecutionCompleted      ExecutionStatus = "COMPLETED"
	ExecutionFailed         ExecutionStatus = "FAILED"
	ExecutionAborted        ExecutionStatus = "ABORTED"
	ExecutionMaxIterReached ExecutionStatus = "MAXITER_REACHED"
)

// IsTerminal reports whether status ends the execution's lifecycle.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionAborted, ExecutionMaxIterReached:
		return true
	default:
		return false
	}
}

// NodeStatus is the closed set of states a single node's state machine
// can occupy (spec §4.8).
type NodeStatus string

const (
	NodePending  NodeStatus = "PENDING"
	NodeRunning  NodeStatus = "RUNNING"
	NodeCompleted NodeStatus = "COMPLETED"
	NodeFailed   NodeStatus = "FAILED"
	NodeSkipped  NodeStatus = "SKIPPED"
	NodeMaxIter  NodeStatus = "MAXITER_REACHED"
	NodePaused   NodeStatus = "PAUSED"
)

func (s NodeStatus) IsTerminal() bool {
	switch s {
	case NodeCompleted, NodeFailed, NodeSkipped, NodeMaxIter:
		return true
	default:
		return false
	}
}

// TokenUsage aggregates LLM token consumption.
type TokenUsage struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Cached int64 `json:"cached"`
	Total  int64 `json:"total"`
}

// Add returns the elementwise sum of u and other.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		Input:  u.Input + other.Input,
		Output: u.Output + other.Output,
		Cached: u.Cached + other.Cached,
		Total:  u.Total + other.Total,
	}
}

// NodeState is the per-node record inside an ExecutionState.
type NodeState struct {
	Status     NodeStatus
	StartedAt  *time.Time
	EndedAt    *time.Time
	Error      string
	ExecCount  int
	TokenUsage TokenUsage
}

// ExecutionState is the per-execution record owned exclusively by the
// state store; the scheduler and handlers call store methods rather
// than mutating it directly (spec §3.6 "Ownership").
type ExecutionState struct {
	ID          diagram.ExecutionID
	DiagramID   diagram.DiagramID
	Status      ExecutionStatus
	StartedAt   time.Time
	EndedAt     *time.Time
	Error       string
	NodeStates  map[diagram.NodeID]*NodeState
	NodeOutputs map[diagram.NodeID]envelope.Envelope
	Variables   map[string]any
	TokenUsage  TokenUsage
}

// Clone returns a deep-enough copy for safe handoff to readers outside
// the state store's mutex (spec §4.5 "reads may be stale-consistent").
func (s *ExecutionState) Clone() *ExecutionState {
	clone := &ExecutionState{
		ID:          s.ID,
		DiagramID:   s.DiagramID,
		Status:      s.Status,
		StartedAt:   s.StartedAt,
		EndedAt:     s.EndedAt,
		Error:       s.Error,
		NodeStates:  make(map[diagram.NodeID]*NodeState, len(s.NodeStates)),
		NodeOutputs: make(map[diagram.NodeID]envelope.Envelope, len(s.NodeOutputs)),
		Variables:   make(map[string]any, len(s.Variables)),
		TokenUsage:  s.TokenUsage,
	}
	for k, v := range s.NodeStates {
		cp := *v
		clone.NodeStates[k] = &cp
	}
	for k, v := range s.NodeOutputs {
		clone.NodeOutputs[k] = v
	}
	for k, v := range s.Variables {
		clone.Variables[k] = v
	}
	return clone
}
