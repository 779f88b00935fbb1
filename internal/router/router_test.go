package router_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/dipeo-core/internal/eventbus"
	"github.com/dipeo/dipeo-core/internal/logging"
	"github.com/dipeo/dipeo-core/internal/router"
)

type fakeSubscriber struct {
	mu       sync.Mutex
	received [][]byte
	closed   bool
	failSend bool
}

func (f *fakeSubscriber) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return assert.AnError
	}
	f.received = append(f.received, payload)
	return nil
}

func (f *fakeSubscriber) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSubscriber) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func (f *fakeSubscriber) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestRouter() (*router.Router, *eventbus.Bus) {
	bus := eventbus.New(logging.New("error", "console"))
	r := router.New(bus, logging.New("error", "console"))
	r.Start(context.Background())
	return r, bus
}

func TestRouterForwardsEventsToSubscribersOfThatExecution(t *testing.T) {
	r, bus := newTestRouter()
	defer r.Stop()

	sub := &fakeSubscriber{}
	r.Register("exec-1", sub)

	other := &fakeSubscriber{}
	r.Register("exec-2", other)

	bus.Publish(context.Background(), eventbus.Event{Type: eventbus.NodeStarted, ExecutionID: "exec-1"})

	require.Eventually(t, func() bool { return sub.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, other.count())
}

func TestRouterRemovesSubscriberOnSendFailure(t *testing.T) {
	r, bus := newTestRouter()
	defer r.Stop()

	sub := &fakeSubscriber{failSend: true}
	r.Register("exec-1", sub)

	bus.Publish(context.Background(), eventbus.Event{Type: eventbus.NodeStarted, ExecutionID: "exec-1"})

	require.Eventually(t, func() bool { return sub.isClosed() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, r.SubscriberCount("exec-1"))
}

func TestUnregisterStopsDelivery(t *testing.T) {
	r, bus := newTestRouter()
	defer r.Stop()

	sub := &fakeSubscriber{}
	id := r.Register("exec-1", sub)
	r.Unregister("exec-1", id)

	bus.Publish(context.Background(), eventbus.Event{Type: eventbus.NodeStarted, ExecutionID: "exec-1"})
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 0, sub.count())
}

func TestCLISessionRegistration(t *testing.T) {
	r, _ := newTestRouter()
	defer r.Stop()

	r.RegisterCLISession("sess-1", "exec-1")
	id, ok := r.ActiveCLISession("sess-1")
	require.True(t, ok)
	assert.Equal(t, "exec-1", string(id))

	r.UnregisterCLISession("sess-1")
	_, ok = r.ActiveCLISession("sess-1")
	assert.False(t, ok)
}
