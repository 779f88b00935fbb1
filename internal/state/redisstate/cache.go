package redisstate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/envelope"
	"github.com/dipeo/dipeo-core/internal/state"
)

// Cache is the distributed ExecutionCache backend. Writers are still
// serialized per execution via an in-process mutex (spec §4.5: "a live
// execution has one writer"); Redis provides durability of the hot path
// across process restarts, not additional concurrency control.
type Cache struct {
	client *Client
	mu     sync.Map // diagram.ExecutionID -> *sync.Mutex
	ttl    time.Duration
}

// NewCache wraps an already-connected Client.
func NewCache(client *Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) lockFor(id diagram.ExecutionID) *sync.Mutex {
	v, _ := c.mu.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func key(id diagram.ExecutionID) string { return fmt.Sprintf("execution:%s", id) }
func stream(id diagram.ExecutionID) string { return fmt.Sprintf("execution:%s:events", id) }

func (c *Cache) load(ctx context.Context, id diagram.ExecutionID) (*state.ExecutionState, error) {
	raw, err := c.client.GetHash(ctx, key(id), "state")
	if err != nil {
		return nil, err
	}
	var s state.ExecutionState
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("unmarshal cached execution state: %w", err)
	}
	return &s, nil
}

func (c *Cache) save(ctx context.Context, s *state.ExecutionState) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal execution state: %w", err)
	}
	return c.client.SetHash(ctx, key(s.ID), "state", string(raw))
}

func (c *Cache) CreateInCache(ctx context.Context, s *state.ExecutionState) error {
	lock := c.lockFor(s.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := c.save(ctx, s); err != nil {
		return err
	}
	_, err := c.client.AddToStream(ctx, stream(s.ID), map[string]any{"type": "EXECUTION_STARTED"})
	return err
}

func (c *Cache) Get(ctx context.Context, id diagram.ExecutionID) (*state.ExecutionState, bool) {
	s, err := c.load(ctx, id)
	if err != nil {
		return nil, false
	}
	return s, true
}

func (c *Cache) UpdateNodeState(ctx context.Context, id diagram.ExecutionID, nodeID diagram.NodeID, mutate func(*state.NodeState)) error {
	lock := c.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	s, err := c.load(ctx, id)
	if err != nil {
		return err
	}
	ns, ok := s.NodeStates[nodeID]
	if !ok {
		ns = &state.NodeState{Status: state.NodePending}
		s.NodeStates[nodeID] = ns
	}
	mutate(ns)

	if err := c.save(ctx, s); err != nil {
		return err
	}
	_, err = c.client.AddToStream(ctx, stream(id), map[string]any{"type": "NODE_STATE_CHANGED", "node_id": string(nodeID), "status": string(ns.Status)})
	return err
}

func (c *Cache) SetNodeOutput(ctx context.Context, id diagram.ExecutionID, nodeID diagram.NodeID, env envelope.Envelope) error {
	lock := c.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	s, err := c.load(ctx, id)
	if err != nil {
		return err
	}
	s.NodeOutputs[nodeID] = env
	return c.save(ctx, s)
}

func (c *Cache) SetStatus(ctx context.Context, id diagram.ExecutionID, status state.ExecutionStatus, errMsg string) error {
	lock := c.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	s, err := c.load(ctx, id)
	if err != nil {
		return err
	}
	s.Status = status
	s.Error = errMsg
	if status.IsTerminal() {
		now := time.Now()
		s.EndedAt = &now
	}

	if err := c.save(ctx, s); err != nil {
		return err
	}
	_, err = c.client.AddToStream(ctx, stream(id), map[string]any{"type": "EXECUTION_STATUS_CHANGED", "status": string(status)})
	return err
}

func (c *Cache) AppendTokenUsage(ctx context.Context, id diagram.ExecutionID, usage state.TokenUsage) error {
	lock := c.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	s, err := c.load(ctx, id)
	if err != nil {
		return err
	}
	s.TokenUsage = s.TokenUsage.Add(usage)
	return c.save(ctx, s)
}

func (c *Cache) PersistFinalState(ctx context.Context, id diagram.ExecutionID) (*state.ExecutionState, error) {
	s, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.Status.IsTerminal() {
		return nil, fmt.Errorf("execution %q is not terminal (status=%s)", id, s.Status)
	}
	return s, nil
}

func (c *Cache) Evict(ctx context.Context, id diagram.ExecutionID) {
	_ = c.client.Delete(ctx, key(id))
	c.mu.Delete(id)
}
