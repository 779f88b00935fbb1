// Package eventbus implements the in-memory execution event bus (spec
// §4.6): publish/subscribe with per-subscriber bounded queues, drop-oldest
// overflow, and a bounded per-execution event store for cold replay.
// Grounded on the teacher's cmd/fanout/hub.go register/unregister/broadcast
// channel loop, generalized from a single broadcast channel keyed by
// username to typed per-execution subscriptions filtered by event type.
package eventbus

import (
	"time"

	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/registry"
)

// BusKey is the typed registry token for the event bus (spec §4.10).
var BusKey = registry.NewKey[*Bus]("EVENT_BUS")

// Type is the closed set of event kinds the bus carries.
type Type string

const (
	ExecutionStarted    Type = "EXECUTION_STARTED"
	ExecutionUpdated    Type = "EXECUTION_UPDATED"
	ExecutionCompleted  Type = "EXECUTION_COMPLETED"
	ExecutionFailed     Type = "EXECUTION_FAILED"
	ExecutionAborted    Type = "EXECUTION_ABORTED"
	NodeStarted         Type = "NODE_STARTED"
	NodeRunning         Type = "NODE_RUNNING"
	NodeCompleted       Type = "NODE_COMPLETED"
	NodeFailed          Type = "NODE_FAILED"
	NodeSkipped         Type = "NODE_SKIPPED"
	NodePaused          Type = "NODE_PAUSED"
	MetricsCollected    Type = "METRICS_COLLECTED"
	InteractivePrompt   Type = "INTERACTIVE_PROMPT"
	InteractiveResponse Type = "INTERACTIVE_RESPONSE"
)

// Event is the unit published on the bus. Sequence is monotonic per
// ExecutionID only; no cross-execution ordering guarantee (spec §4.6).
type Event struct {
	Type        Type
	ExecutionID diagram.ExecutionID
	Sequence    uint64
	Timestamp   time.Time
	Payload     any
}
