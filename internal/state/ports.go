package state

import (
	"context"

	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/envelope"
	"github.com/dipeo/dipeo-core/internal/registry"
)

// ServiceKey and RepositoryKey are the typed registry tokens for the
// two minimal state-related services spec §4.10 requires every runtime
// to register.
var (
	ServiceKey    = registry.NewKey[*Service]("STATE_SERVICE")
	RepositoryKey = registry.NewKey[StateRepository]("STATE_REPOSITORY")
)

// ListFilter narrows StateRepository.List.
type ListFilter struct {
	DiagramID diagram.DiagramID
	Status    ExecutionStatus
	Limit     int
	Offset    int
}

// StateRepository is durable CRUD on ExecutionState (spec §4.5). Backed
// by pgstate.Repository (Postgres) in production and memstate.Repository
// in tests/single-process runs.
type StateRepository interface {
	Create(ctx context.Context, s *ExecutionState) error
	Get(ctx context.Context, id diagram.ExecutionID) (*ExecutionState, error)
	List(ctx context.Context, filter ListFilter) ([]*ExecutionState, error)
	UpdateStatus(ctx context.Context, id diagram.ExecutionID, status ExecutionStatus, errMsg string) error
	UpdateNodeState(ctx context.Context, id diagram.ExecutionID, nodeID diagram.NodeID, ns *NodeState) error
	AppendTokenUsage(ctx context.Context, id diagram.ExecutionID, usage TokenUsage) error
	CleanupOlderThan(ctx context.Context, olderThanSeconds int64) (int, error)
}

// ExecutionCache is the in-memory live-execution cache (spec §4.5): same
// read surface as StateRepository plus the live-only operations
// CreateInCache/PersistFinalState.
type ExecutionCache interface {
	CreateInCache(ctx context.Context, s *ExecutionState) error
	Get(ctx context.Context, id diagram.ExecutionID) (*ExecutionState, bool)
	UpdateNodeState(ctx context.Context, id diagram.ExecutionID, nodeID diagram.NodeID, mutate func(*NodeState)) error
	SetNodeOutput(ctx context.Context, id diagram.ExecutionID, nodeID diagram.NodeID, env envelope.Envelope) error
	SetStatus(ctx context.Context, id diagram.ExecutionID, status ExecutionStatus, errMsg string) error
	AppendTokenUsage(ctx context.Context, id diagram.ExecutionID, usage TokenUsage) error
	PersistFinalState(ctx context.Context, id diagram.ExecutionID) (*ExecutionState, error)
	Evict(ctx context.Context, id diagram.ExecutionID)
}
