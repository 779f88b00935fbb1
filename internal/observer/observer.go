// Package observer implements the event-bus observers spec §4.11 names
// (StateStoreObserver, StreamingObserver): consumers that subscribe to
// every event the engine publishes and react to it, rather than being
// called directly by the engine. Grounded on the teacher's
// workflow_lifecycle/completion.go (a bus-driven consumer that mutates
// status on every matching event) and cmd/fanout/redis_subscriber.go
// (a pub/sub-to-transport bridge), adapted from Redis pub/sub channels
// to this module's in-process eventbus.Bus.
package observer

import (
	"context"
	"fmt"

	"github.com/dipeo/dipeo-core/internal/engine"
	"github.com/dipeo/dipeo-core/internal/eventbus"
	"github.com/dipeo/dipeo-core/internal/logging"
	"github.com/dipeo/dipeo-core/internal/router"
	"github.com/dipeo/dipeo-core/internal/state"
)

// StateStoreObserver drives state.Service purely off bus events, the way
// an out-of-process worker with bus access but no direct state-service
// handle would have to. The in-process Engine (internal/engine) already
// writes state.Service directly and publishes the same events in the
// same call, so StateStoreObserver's writes are redundant — but
// idempotent — in that deployment; Start it only for a worker that isn't
// also running the engine for the executions it observes (spec §4.11
// "subscribes to all events and forwards node/execution status changes
// to StateService.update_*").
type StateStoreObserver struct {
	state *state.Service
	log   *logging.Logger
	sub   *eventbus.Subscription
}

// NewStateStoreObserver builds an observer bound to svc; call Start to
// begin consuming bus events.
func NewStateStoreObserver(svc *state.Service, log *logging.Logger) *StateStoreObserver {
	return &StateStoreObserver{state: svc, log: log}
}

// Start subscribes the observer to every NODE_*/EXECUTION_* event on bus.
func (o *StateStoreObserver) Start(bus *eventbus.Bus) {
	o.sub = bus.Subscribe(nil, o.handle)
}

// Stop releases the bus subscription.
func (o *StateStoreObserver) Stop() {
	if o.sub != nil {
		o.sub.Unsubscribe()
	}
}

func (o *StateStoreObserver) handle(ev eventbus.Event) {
	ctx := context.Background()
	switch ev.Type {
	case eventbus.NodeStarted, eventbus.NodeRunning:
		o.updateNode(ctx, ev, state.NodeRunning, "")
	case eventbus.NodeCompleted:
		o.updateNode(ctx, ev, state.NodeCompleted, "")
	case eventbus.NodeFailed:
		payload, ok := ev.Payload.(engine.NodeEventPayload)
		msg := ""
		if ok {
			msg = fmt.Sprint(payload.Detail)
		}
		o.updateNode(ctx, ev, state.NodeFailed, msg)
	case eventbus.ExecutionCompleted:
		o.finish(ctx, ev, state.ExecutionCompleted)
	case eventbus.ExecutionFailed:
		o.finish(ctx, ev, state.ExecutionFailed)
	case eventbus.ExecutionAborted:
		o.finish(ctx, ev, state.ExecutionAborted)
	}
}

func (o *StateStoreObserver) updateNode(ctx context.Context, ev eventbus.Event, status state.NodeStatus, errMsg string) {
	payload, ok := ev.Payload.(engine.NodeEventPayload)
	if !ok {
		return
	}
	err := o.state.UpdateNodeExecution(ctx, ev.ExecutionID, payload.NodeID, func(ns *state.NodeState) {
		ns.Status = status
		if errMsg != "" {
			ns.Error = errMsg
		}
	})
	if err != nil {
		o.log.WithExecutionID(string(ev.ExecutionID)).Warn("state store observer: reconcile node state failed", "node_id", payload.NodeID, "error", err)
	}
}

func (o *StateStoreObserver) finish(ctx context.Context, ev eventbus.Event, status state.ExecutionStatus) {
	errMsg := ""
	if payload, ok := ev.Payload.(engine.ExecutionEventPayload); ok && payload.Detail != nil {
		errMsg = fmt.Sprint(payload.Detail)
	}
	if err := o.state.FinishExecution(ctx, ev.ExecutionID, status, errMsg); err != nil {
		o.log.WithExecutionID(string(ev.ExecutionID)).Warn("state store observer: reconcile execution finish failed", "error", err)
	}
}

// StreamingObserver is the bus-to-transport bridge spec §4.11 names
// (the source side of spec §6.4's WebSocket subscription transport).
// Its fan-out logic already lives in router.Router (C7), which subscribes
// to the bus exactly the way an observer does and relays every event to
// per-execution subscribers; StreamingObserver is a thin named wrapper
// around it so Runtime's composition root can construct and start every
// observer from one place without importing router directly for this
// purpose.
type StreamingObserver struct {
	router *router.Router
}

// NewStreamingObserver wraps an already-constructed Router.
func NewStreamingObserver(r *router.Router) *StreamingObserver {
	return &StreamingObserver{router: r}
}

// Start begins the router's bus consumption.
func (o *StreamingObserver) Start(ctx context.Context) {
	o.router.Start(ctx)
}

// Stop releases the router's bus subscription and closes its subscribers.
func (o *StreamingObserver) Stop() {
	o.router.Stop()
}
