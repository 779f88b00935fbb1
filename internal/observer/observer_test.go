package observer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo-core/internal/engine"
	"github.com/dipeo/dipeo-core/internal/eventbus"
	"github.com/dipeo/dipeo-core/internal/logging"
	"github.com/dipeo/dipeo-core/internal/observer"
	"github.com/dipeo/dipeo-core/internal/router"
	"github.com/dipeo/dipeo-core/internal/state"
	"github.com/dipeo/dipeo-core/internal/state/memstate"
)

func TestStateStoreObserverReconcilesNodeAndExecutionEvents(t *testing.T) {
	log := logging.New("error", "console")
	bus := eventbus.New(log)
	svc := state.NewService(memstate.NewCache(16), memstate.NewRepository(), log)

	obs := observer.NewStateStoreObserver(svc, log)
	obs.Start(bus)
	defer obs.Stop()

	ctx := context.Background()
	_, err := svc.StartExecution(ctx, "exec-1", "diagram-1")
	require.NoError(t, err)
	require.NoError(t, svc.UpdateNodeExecution(ctx, "exec-1", "n1", func(ns *state.NodeState) { ns.Status = state.NodePending }))

	bus.Publish(ctx, eventbus.Event{
		Type:        eventbus.NodeCompleted,
		ExecutionID: "exec-1",
		Timestamp:   time.Now(),
		Payload:     engine.NodeEventPayload{NodeID: "n1"},
	})

	require.Eventually(t, func() bool {
		es, err := svc.GetExecutionState(ctx, "exec-1")
		return err == nil && es.NodeStates["n1"].Status == state.NodeCompleted
	}, time.Second, 5*time.Millisecond)

	bus.Publish(ctx, eventbus.Event{
		Type:        eventbus.ExecutionCompleted,
		ExecutionID: "exec-1",
		Timestamp:   time.Now(),
	})

	require.Eventually(t, func() bool {
		es, err := svc.GetExecutionState(ctx, "exec-1")
		return err == nil && es.Status == state.ExecutionCompleted
	}, time.Second, 5*time.Millisecond)
}

type fakeSubscriber struct{ sent chan []byte }

func (f *fakeSubscriber) Send(payload []byte) error { f.sent <- payload; return nil }
func (f *fakeSubscriber) Close() error              { return nil }

func TestStreamingObserverRelaysEventsToRegisteredSubscribers(t *testing.T) {
	log := logging.New("error", "console")
	bus := eventbus.New(log)
	r := router.New(bus, log)

	obs := observer.NewStreamingObserver(r)
	obs.Start(context.Background())
	defer obs.Stop()

	sub := &fakeSubscriber{sent: make(chan []byte, 1)}
	r.Register("exec-1", sub)

	bus.Publish(context.Background(), eventbus.Event{
		Type:        eventbus.NodeStarted,
		ExecutionID: "exec-1",
		Timestamp:   time.Now(),
	})

	select {
	case payload := <-sub.sent:
		assert.Contains(t, string(payload), "NODE_STARTED")
	case <-time.After(time.Second):
		t.Fatal("expected the streaming observer to relay the event")
	}
}
