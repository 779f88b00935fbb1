package memstate

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/state"
)

// Repository is an in-memory StateRepository, used in tests and as the
// default durable backend for single-process deployments that don't
// configure Postgres (see internal/state/pgstate for the production
// backend).
type Repository struct {
	mu         sync.RWMutex
	executions map[diagram.ExecutionID]*state.ExecutionState
}

// NewRepository builds an empty in-memory repository.
func NewRepository() *Repository {
	return &Repository{executions: make(map[diagram.ExecutionID]*state.ExecutionState)}
}

func (r *Repository) Create(ctx context.Context, s *state.ExecutionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executions[s.ID]; exists {
		return fmt.Errorf("execution %q already exists", s.ID)
	}
	r.executions[s.ID] = s.Clone()
	return nil
}

func (r *Repository) Get(ctx context.Context, id diagram.ExecutionID) (*state.ExecutionState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.executions[id]
	if !ok {
		return nil, fmt.Errorf("execution %q not found", id)
	}
	return s.Clone(), nil
}

func (r *Repository) List(ctx context.Context, filter state.ListFilter) ([]*state.ExecutionState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*state.ExecutionState
	for _, s := range r.executions {
		if filter.DiagramID != "" && s.DiagramID != filter.DiagramID {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		out = append(out, s.Clone())
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })

	if filter.Offset > 0 && filter.Offset < len(out) {
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *Repository) UpdateStatus(ctx context.Context, id diagram.ExecutionID, status state.ExecutionStatus, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.executions[id]
	if !ok {
		return fmt.Errorf("execution %q not found", id)
	}
	s.Status = status
	s.Error = errMsg
	if status.IsTerminal() {
		now := time.Now()
		s.EndedAt = &now
	}
	return nil
}

func (r *Repository) UpdateNodeState(ctx context.Context, id diagram.ExecutionID, nodeID diagram.NodeID, ns *state.NodeState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.executions[id]
	if !ok {
		return fmt.Errorf("execution %q not found", id)
	}
	cp := *ns
	s.NodeStates[nodeID] = &cp
	return nil
}

func (r *Repository) AppendTokenUsage(ctx context.Context, id diagram.ExecutionID, usage state.TokenUsage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.executions[id]
	if !ok {
		return fmt.Errorf("execution %q not found", id)
	}
	s.TokenUsage = s.TokenUsage.Add(usage)
	return nil
}

func (r *Repository) CleanupOlderThan(ctx context.Context, olderThanSeconds int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-time.Duration(olderThanSeconds) * time.Second)
	removed := 0
	for id, s := range r.executions {
		if s.EndedAt != nil && s.EndedAt.Before(cutoff) {
			delete(r.executions, id)
			removed++
		}
	}
	return removed, nil
}
