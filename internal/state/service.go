package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/envelope"
	"github.com/dipeo/dipeo-core/internal/logging"
)

// Service is the execution state store (spec §4.5): a write-through
// cache over a durable repository, with writes to a single execution
// serialized by a per-execution mutex. Grounded on the teacher's
// workflow_lifecycle/status.go hot/cold split, generalized from its
// single Postgres-only path to the cache/repository interfaces so the
// backend can be memstate, redisstate, or pgstate independently.
type Service struct {
	cache ExecutionCache
	repo  StateRepository
	log   *logging.Logger

	mu     sync.Mutex
	locks  map[diagram.ExecutionID]*sync.Mutex
}

// NewService composes a cache and a durable repository.
func NewService(cache ExecutionCache, repo StateRepository, log *logging.Logger) *Service {
	return &Service{
		cache: cache,
		repo:  repo,
		log:   log,
		locks: make(map[diagram.ExecutionID]*sync.Mutex),
	}
}

func (s *Service) lockFor(id diagram.ExecutionID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Service) forgetLock(id diagram.ExecutionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, id)
}

// StartExecution creates a new ExecutionState in both cache and
// repository, entering ExecutionPending.
func (s *Service) StartExecution(ctx context.Context, id diagram.ExecutionID, diagramID diagram.DiagramID) (*ExecutionState, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	es := &ExecutionState{
		ID:          id,
		DiagramID:   diagramID,
		Status:      ExecutionPending,
		StartedAt:   time.Now(),
		NodeStates:  make(map[diagram.NodeID]*NodeState),
		NodeOutputs: make(map[diagram.NodeID]envelope.Envelope),
		Variables:   make(map[string]any),
	}

	if err := s.cache.CreateInCache(ctx, es); err != nil {
		return nil, fmt.Errorf("create execution in cache: %w", err)
	}
	if err := s.repo.Create(ctx, es); err != nil {
		return nil, fmt.Errorf("create execution in repository: %w", err)
	}
	s.log.WithExecutionID(string(id)).Info("execution started", "diagram_id", diagramID)
	return es, nil
}

// UpdateNodeExecution applies mutate to the node's state under the
// execution's write lock and mirrors the status transition into the
// durable repository.
func (s *Service) UpdateNodeExecution(ctx context.Context, id diagram.ExecutionID, nodeID diagram.NodeID, mutate func(*NodeState)) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if err := s.cache.UpdateNodeState(ctx, id, nodeID, mutate); err != nil {
		return fmt.Errorf("update node state in cache: %w", err)
	}

	es, ok := s.cache.Get(ctx, id)
	if !ok {
		return fmt.Errorf("execution %q missing from cache after update", id)
	}
	ns, ok := es.NodeStates[nodeID]
	if !ok {
		return fmt.Errorf("node %q missing from execution %q after update", nodeID, id)
	}
	if err := s.repo.UpdateNodeState(ctx, id, nodeID, ns); err != nil {
		return fmt.Errorf("update node state in repository: %w", err)
	}
	return nil
}

// SetNodeOutput records a node's produced envelope. Outputs are
// cache-only (spec §6.5): the durable repository never stores payload
// bodies, only status/metrics.
func (s *Service) SetNodeOutput(ctx context.Context, id diagram.ExecutionID, nodeID diagram.NodeID, env envelope.Envelope) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if err := s.cache.SetNodeOutput(ctx, id, nodeID, env); err != nil {
		return fmt.Errorf("set node output: %w", err)
	}
	return nil
}

// AppendTokenUsage adds usage to the execution's running total in both
// cache and repository.
func (s *Service) AppendTokenUsage(ctx context.Context, id diagram.ExecutionID, usage TokenUsage) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if err := s.cache.AppendTokenUsage(ctx, id, usage); err != nil {
		return fmt.Errorf("append token usage in cache: %w", err)
	}
	if err := s.repo.AppendTokenUsage(ctx, id, usage); err != nil {
		return fmt.Errorf("append token usage in repository: %w", err)
	}
	return nil
}

// FinishExecution transitions status to a terminal value, flushes the
// final state to the durable repository, and evicts the execution from
// the cache.
func (s *Service) FinishExecution(ctx context.Context, id diagram.ExecutionID, status ExecutionStatus, errMsg string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("FinishExecution requires a terminal status, got %q", status)
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	defer s.forgetLock(id)

	if err := s.cache.SetStatus(ctx, id, status, errMsg); err != nil {
		return fmt.Errorf("set terminal status in cache: %w", err)
	}
	if err := s.repo.UpdateStatus(ctx, id, status, errMsg); err != nil {
		return fmt.Errorf("set terminal status in repository: %w", err)
	}

	final, err := s.cache.PersistFinalState(ctx, id)
	if err != nil {
		return fmt.Errorf("persist final state: %w", err)
	}
	for nodeID, ns := range final.NodeStates {
		if err := s.repo.UpdateNodeState(ctx, id, nodeID, ns); err != nil {
			s.log.WithExecutionID(string(id)).Error("flush node state on finish", "node_id", nodeID, "error", err)
		}
	}

	s.cache.Evict(ctx, id)
	s.log.WithExecutionID(string(id)).Info("execution finished", "status", status)
	return nil
}

// GetExecutionState reads the live state from cache, falling back to
// the durable repository for executions already evicted (spec §4.5
// "reads may be stale-consistent").
func (s *Service) GetExecutionState(ctx context.Context, id diagram.ExecutionID) (*ExecutionState, error) {
	if es, ok := s.cache.Get(ctx, id); ok {
		return es, nil
	}
	return s.repo.Get(ctx, id)
}

// ListExecutions delegates to the durable repository, which is the
// system of record for anything beyond the live set.
func (s *Service) ListExecutions(ctx context.Context, filter ListFilter) ([]*ExecutionState, error) {
	return s.repo.List(ctx, filter)
}

// CleanupOlderThan purges terminal executions older than the given
// retention window from the durable repository.
func (s *Service) CleanupOlderThan(ctx context.Context, olderThanSeconds int64) (int, error) {
	return s.repo.CleanupOlderThan(ctx, olderThanSeconds)
}
