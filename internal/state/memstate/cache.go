// Package memstate implements the in-memory ExecutionCache and
// StateRepository backends, grounded on the teacher's
// common/cache/cache.go (mutex-guarded map + background sweep
// goroutine), adapted from a flat byte cache into a richer
// per-execution structure plus an LRU eviction list (spec §5 "State
// cache: LRU-evicted on terminal status flush; max live executions
// default 256").
package memstate

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/dperr"
	"github.com/dipeo/dipeo-core/internal/envelope"
	"github.com/dipeo/dipeo-core/internal/state"
)

type entry struct {
	state    *state.ExecutionState
	mu       sync.Mutex // per-execution writer serialization (spec §4.5)
	lruElem  *list.Element
}

// Cache is the default single-process ExecutionCache.
type Cache struct {
	mu         sync.RWMutex
	entries    map[diagram.ExecutionID]*entry
	lru        *list.List
	maxEntries int
}

// NewCache builds an empty cache bounded to maxEntries live executions.
func NewCache(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &Cache{
		entries:    make(map[diagram.ExecutionID]*entry),
		lru:        list.New(),
		maxEntries: maxEntries,
	}
}

func (c *Cache) CreateInCache(ctx context.Context, s *state.ExecutionState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[s.ID]; exists {
		return fmt.Errorf("execution %q already exists in cache", s.ID)
	}

	e := &entry{state: s}
	e.lruElem = c.lru.PushFront(s.ID)
	c.entries[s.ID] = e

	c.evictIfOverCapacityLocked()
	return nil
}

// evictIfOverCapacityLocked drops the least-recently-touched entry once
// the cache exceeds maxEntries. Called with c.mu held for writing.
func (c *Cache) evictIfOverCapacityLocked() {
	for len(c.entries) > c.maxEntries {
		back := c.lru.Back()
		if back == nil {
			return
		}
		id := back.Value.(diagram.ExecutionID)
		c.lru.Remove(back)
		delete(c.entries, id)
	}
}

func (c *Cache) touch(e *entry) {
	c.mu.Lock()
	c.lru.MoveToFront(e.lruElem)
	c.mu.Unlock()
}

func (c *Cache) Get(ctx context.Context, id diagram.ExecutionID) (*state.ExecutionState, bool) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	e.mu.Lock()
	clone := e.state.Clone()
	e.mu.Unlock()
	return clone, true
}

func (c *Cache) UpdateNodeState(ctx context.Context, id diagram.ExecutionID, nodeID diagram.NodeID, mutate func(*state.NodeState)) error {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("execution %q not in cache", id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ns, ok := e.state.NodeStates[nodeID]
	if !ok {
		ns = &state.NodeState{Status: state.NodePending}
		e.state.NodeStates[nodeID] = ns
	}
	mutate(ns)
	c.touch(e)
	return nil
}

func (c *Cache) SetNodeOutput(ctx context.Context, id diagram.ExecutionID, nodeID diagram.NodeID, env envelope.Envelope) error {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("execution %q not in cache", id)
	}

	e.mu.Lock()
	e.state.NodeOutputs[nodeID] = env
	e.mu.Unlock()
	c.touch(e)
	return nil
}

func (c *Cache) SetStatus(ctx context.Context, id diagram.ExecutionID, status state.ExecutionStatus, errMsg string) error {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("execution %q not in cache", id)
	}

	e.mu.Lock()
	e.state.Status = status
	e.state.Error = errMsg
	if status.IsTerminal() {
		now := time.Now()
		e.state.EndedAt = &now
	}
	e.mu.Unlock()
	c.touch(e)
	return nil
}

func (c *Cache) AppendTokenUsage(ctx context.Context, id diagram.ExecutionID, usage state.TokenUsage) error {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("execution %q not in cache", id)
	}

	e.mu.Lock()
	e.state.TokenUsage = e.state.TokenUsage.Add(usage)
	e.mu.Unlock()
	return nil
}

// PersistFinalState returns a clone of the execution's final state for
// the caller (typically StateService) to hand to the durable repository,
// without evicting it — eviction is a separate explicit step so the
// caller can retry a failed durable write.
func (c *Cache) PersistFinalState(ctx context.Context, id diagram.ExecutionID) (*state.ExecutionState, error) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return nil, &dperr.ServiceError{Service: "execution_cache", Err: fmt.Errorf("execution %q not found", id)}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.Status.IsTerminal() {
		return nil, fmt.Errorf("execution %q is not terminal (status=%s)", id, e.state.Status)
	}
	return e.state.Clone(), nil
}

func (c *Cache) Evict(ctx context.Context, id diagram.ExecutionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		c.lru.Remove(e.lruElem)
		delete(c.entries, id)
	}
}

// Len reports how many executions are currently cached, for tests and
// metrics.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
