package eventbus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo-core/internal/eventbus"
	"github.com/dipeo/dipeo-core/internal/logging"
)

func newTestBus() *eventbus.Bus {
	return eventbus.New(logging.New("error", "console"))
}

func TestSubscribeReceivesMatchingEvents(t *testing.T) {
	bus := newTestBus()

	var mu sync.Mutex
	var received []eventbus.Event
	done := make(chan struct{}, 1)

	sub := bus.Subscribe([]eventbus.Type{eventbus.NodeCompleted}, func(ev eventbus.Event) {
		mu.Lock()
		received = append(received, ev)
		mu.Unlock()
		done <- struct{}{}
	})
	defer sub.Unsubscribe()

	bus.Publish(context.Background(), eventbus.Event{Type: eventbus.NodeStarted, ExecutionID: "exec-1"})
	bus.Publish(context.Background(), eventbus.Event{Type: eventbus.NodeCompleted, ExecutionID: "exec-1"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscriber delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, eventbus.NodeCompleted, received[0].Type)
}

func TestSequenceIsMonotonicPerExecution(t *testing.T) {
	bus := newTestBus()

	e1 := bus.Publish(context.Background(), eventbus.Event{Type: eventbus.NodeStarted, ExecutionID: "exec-1"})
	e2 := bus.Publish(context.Background(), eventbus.Event{Type: eventbus.NodeCompleted, ExecutionID: "exec-1"})
	e3 := bus.Publish(context.Background(), eventbus.Event{Type: eventbus.NodeStarted, ExecutionID: "exec-2"})

	assert.Equal(t, uint64(1), e1.Sequence)
	assert.Equal(t, uint64(2), e2.Sequence)
	assert.Equal(t, uint64(1), e3.Sequence)
}

func TestOverflowDropsOldestWithoutBlockingPublisher(t *testing.T) {
	bus := eventbus.New(logging.New("error", "console"), eventbus.WithQueueDepth(2))

	block := make(chan struct{})
	sub := bus.Subscribe(nil, func(ev eventbus.Event) {
		<-block // never returns until test unblocks it, simulating a stalled handler
	})
	defer sub.Unsubscribe()

	for i := 0; i < 10; i++ {
		bus.Publish(context.Background(), eventbus.Event{Type: eventbus.NodeRunning, ExecutionID: "exec-1"})
	}
	close(block)

	assert.Greater(t, bus.DroppedCount(sub), uint64(0))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := newTestBus()

	count := 0
	var mu sync.Mutex
	sub := bus.Subscribe(nil, func(ev eventbus.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(context.Background(), eventbus.Event{Type: eventbus.NodeStarted, ExecutionID: "exec-1"})
	time.Sleep(20 * time.Millisecond)
	sub.Unsubscribe()
	bus.Publish(context.Background(), eventbus.Event{Type: eventbus.NodeStarted, ExecutionID: "exec-1"})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestEventStoreReplaysAfterSequence(t *testing.T) {
	store := eventbus.NewStore(10)
	bus := eventbus.New(logging.New("error", "console"), eventbus.WithEventStore(store))

	for i := 0; i < 5; i++ {
		bus.Publish(context.Background(), eventbus.Event{Type: eventbus.NodeRunning, ExecutionID: "exec-1"})
	}

	replay := store.Replay("exec-1", 3)
	require.Len(t, replay, 2)
	assert.Equal(t, uint64(4), replay[0].Sequence)
	assert.Equal(t, uint64(5), replay[1].Sequence)
}

func TestEventStoreIsBoundedPerExecution(t *testing.T) {
	store := eventbus.NewStore(3)
	bus := eventbus.New(logging.New("error", "console"), eventbus.WithEventStore(store))

	for i := 0; i < 10; i++ {
		bus.Publish(context.Background(), eventbus.Event{Type: eventbus.NodeRunning, ExecutionID: "exec-1"})
	}

	replay := store.Replay("exec-1", 0)
	require.Len(t, replay, 3)
	assert.Equal(t, uint64(8), replay[0].Sequence)
	assert.Equal(t, uint64(10), replay[2].Sequence)
}
