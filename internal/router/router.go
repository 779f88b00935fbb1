// Package router implements the message router (spec §4.7): a singleton
// subscriber on the event bus that fans events out to per-execution
// WebSocket/CLI subscribers. Grounded on the teacher's
// cmd/fanout/hub.go register/unregister/broadcast hub, adapted from a
// connection set keyed by username to one keyed by execution_id, and
// from a flat []byte payload to JSON-encoded eventbus.Event.
package router

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/eventbus"
	"github.com/dipeo/dipeo-core/internal/logging"
	"github.com/dipeo/dipeo-core/internal/registry"
)

// Key is the typed registry token for the message router (spec §4.10).
var Key = registry.NewKey[*Router]("MESSAGE_ROUTER")

// Subscriber is anything the router can push an encoded event to: a
// WebSocket connection, a CLI display session, or a test fake.
type Subscriber interface {
	Send(payload []byte) error
	Close() error
}

// Router holds per-execution subscriber sets and forwards every bus
// event for an execution to its subscribers, dropping (and reporting)
// any subscriber whose Send fails.
type Router struct {
	bus *eventbus.Bus
	log *logging.Logger

	mu          sync.RWMutex
	subscribers map[diagram.ExecutionID]map[int64]Subscriber
	nextSubID   int64

	cliMu    sync.RWMutex
	cliBySid map[string]diagram.ExecutionID

	busSub *eventbus.Subscription
}

// New wires a Router to bus. Call Start to begin consuming events.
func New(bus *eventbus.Bus, log *logging.Logger) *Router {
	return &Router{
		bus:         bus,
		log:         log,
		subscribers: make(map[diagram.ExecutionID]map[int64]Subscriber),
		cliBySid:    make(map[string]diagram.ExecutionID),
	}
}

// Start registers the router as a bus subscriber for every event type.
// Call once at process startup.
func (r *Router) Start(ctx context.Context) {
	r.busSub = r.bus.Subscribe(nil, r.handleEvent)
}

// Stop unsubscribes from the bus and closes every tracked subscriber.
func (r *Router) Stop() {
	if r.busSub != nil {
		r.busSub.Unsubscribe()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, subs := range r.subscribers {
		for _, sub := range subs {
			_ = sub.Close()
		}
	}
	r.subscribers = make(map[diagram.ExecutionID]map[int64]Subscriber)
}

func (r *Router) handleEvent(ev eventbus.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		r.log.Error("marshal event for router fanout", "error", err)
		return
	}

	r.mu.RLock()
	subs := r.subscribers[ev.ExecutionID]
	targets := make(map[int64]Subscriber, len(subs))
	for id, s := range subs {
		targets[id] = s
	}
	r.mu.RUnlock()

	for id, sub := range targets {
		if err := sub.Send(payload); err != nil {
			r.log.WithExecutionID(string(ev.ExecutionID)).Error("subscriber send failed, removing", "error", err)
			r.removeSubscriber(ev.ExecutionID, id)
			_ = sub.Close()
		}
	}
}

// Register attaches sub to executionID's fan-out set and returns an id
// usable with Unregister.
func (r *Router) Register(executionID diagram.ExecutionID, sub Subscriber) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextSubID
	r.nextSubID++

	if r.subscribers[executionID] == nil {
		r.subscribers[executionID] = make(map[int64]Subscriber)
	}
	r.subscribers[executionID][id] = sub
	return id
}

// Unregister removes a previously-registered subscriber.
func (r *Router) Unregister(executionID diagram.ExecutionID, id int64) {
	r.removeSubscriber(executionID, id)
}

func (r *Router) removeSubscriber(executionID diagram.ExecutionID, id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.subscribers[executionID]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(r.subscribers, executionID)
	}
}

// SubscriberCount reports how many live subscribers an execution has,
// for tests and metrics.
func (r *Router) SubscriberCount(executionID diagram.ExecutionID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers[executionID])
}

// RegisterCLISession binds an external CLI process (sessionID) to an
// execution, so ActiveCLISession can report it (spec §4.7).
func (r *Router) RegisterCLISession(sessionID string, executionID diagram.ExecutionID) {
	r.cliMu.Lock()
	defer r.cliMu.Unlock()
	r.cliBySid[sessionID] = executionID
}

// UnregisterCLISession releases a previously-registered CLI session.
func (r *Router) UnregisterCLISession(sessionID string) {
	r.cliMu.Lock()
	defer r.cliMu.Unlock()
	delete(r.cliBySid, sessionID)
}

// ActiveCLISession reports the execution a CLI session is bound to, if
// any.
func (r *Router) ActiveCLISession(sessionID string) (diagram.ExecutionID, bool) {
	r.cliMu.RLock()
	defer r.cliMu.RUnlock()
	id, ok := r.cliBySid[sessionID]
	return id, ok
}
