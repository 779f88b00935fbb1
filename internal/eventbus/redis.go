package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/logging"
)

// RedisBridge republishes every event a local Bus handles onto a Redis
// pubsub channel, and forwards events received from Redis back into a
// local Bus. Grounded on the teacher's cmd/fanout/redis_subscriber.go,
// generalized from a single flat payload channel to the bus's typed
// Event and from a hub keyed by username to one keyed by execution id.
type RedisBridge struct {
	rdb *redis.Client
	bus *Bus
	log *logging.Logger
}

// NewRedisBridge wires rdb to bus.
func NewRedisBridge(rdb *redis.Client, bus *Bus, log *logging.Logger) *RedisBridge {
	return &RedisBridge{rdb: rdb, bus: bus, log: log}
}

func channelFor(id diagram.ExecutionID) string {
	return fmt.Sprintf("dipeo:events:%s", id)
}

// PublishToRedis forwards a locally-published event to other processes.
// Call this as a Bus subscriber handler.
func (r *RedisBridge) PublishToRedis(ctx context.Context) Handler {
	return func(ev Event) {
		payload, err := json.Marshal(ev)
		if err != nil {
			r.log.Error("marshal event for redis publish", "error", err)
			return
		}
		if err := r.rdb.Publish(ctx, channelFor(ev.ExecutionID), payload).Err(); err != nil {
			r.log.Error("publish event to redis", "error", err)
		}
	}
}

// Listen subscribes to every execution's channel pattern and re-publishes
// received events onto the local Bus, until ctx is cancelled.
func (r *RedisBridge) Listen(ctx context.Context) {
	pubsub := r.rdb.PSubscribe(ctx, "dipeo:events:*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		r.log.Error("subscribe to redis event channel", "error", err)
		return
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok || msg == nil {
				continue
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.log.Error("unmarshal event from redis", "error", err)
				continue
			}
			// Re-publish locally without re-assigning sequence: this event
			// already carries a sequence minted by the originating process.
			r.bus.mu.RLock()
			for _, sub := range r.bus.subscribers {
				if sub.matches(ev.Type) {
					enqueueDropOldest(sub, ev)
				}
			}
			r.bus.mu.RUnlock()
		}
	}
}
