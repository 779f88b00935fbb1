// Package envelope implements the Envelope value model (spec §3.5,
// §4.2): the single typed value type that crosses a node boundary.
//
// Grounded on the teacher's sdk/types.go Token/Event field shapes
// (produced-by/trace propagation, open metadata map) and sdk.go's
// marshal-to-JSON storage pattern.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/dipeo/dipeo-core/internal/diagram"
)

// ContentType tags the shape of an envelope's body.
type ContentType string

const (
	ContentText              ContentType = "text"
	ContentJSON              ContentType = "json"
	ContentBinary            ContentType = "binary"
	ContentError             ContentType = "error"
	ContentConversationState ContentType = "conversation_state"
)

// Envelope is immutable once constructed; every factory function
// returns a fully-populated value, and there are no setters.
type Envelope struct {
	producedBy  diagram.NodeID
	traceID     diagram.ExecutionID
	contentType ContentType
	body        []byte
	meta        map[string]any
}

// ProducedBy returns the node id that emitted this envelope.
func (e Envelope) ProducedBy() diagram.NodeID { return e.producedBy }

// TraceID returns the execution this envelope was produced within.
func (e Envelope) TraceID() diagram.ExecutionID { return e.traceID }

// ContentType returns the envelope's declared content type.
func (e Envelope) ContentType() ContentType { return e.contentType }

// Meta returns the envelope's open metadata map. Callers must treat the
// returned map as read-only; Envelope itself never mutates it after
// construction.
func (e Envelope) Meta() map[string]any { return e.meta }

// MetaValue returns a single metadata entry.
func (e Envelope) MetaValue(key string) (any, bool) {
	v, ok := e.meta[key]
	return v, ok
}

// OutputLabel returns the handle label this envelope was routed to
// ("default" unless the engine attached a branch/custom label).
func (e Envelope) OutputLabel() diagram.HandleLabel {
	if v, ok := e.meta["output_label"]; ok {
		if s, ok := v.(string); ok {
			return diagram.HandleLabel(s)
		}
	}
	return diagram.LabelDefault
}

// WithOutputLabel returns a copy of e with output_label set in meta.
// Used by the engine when attaching routing information; does not
// mutate e (envelopes are immutable once emitted).
func (e Envelope) WithOutputLabel(label diagram.HandleLabel) Envelope {
	next := e.cloneMeta()
	next["output_label"] = string(label)
	e.meta = next
	return e
}

// WithMeta returns a copy of e with key set to value in meta. Used by
// batch-mode handlers to attach a batch_errors count alongside the
// per-item result array; does not mutate e.
func (e Envelope) WithMeta(key string, value any) Envelope {
	next := e.cloneMeta()
	next[key] = value
	e.meta = next
	return e
}

func (e Envelope) cloneMeta() map[string]any {
	m := make(map[string]any, len(e.meta)+1)
	for k, v := range e.meta {
		m[k] = v
	}
	return m
}

// Text builds a text-content envelope.
func Text(body string, producedBy diagram.NodeID, traceID diagram.ExecutionID) Envelope {
	return Envelope{producedBy: producedBy, traceID: traceID, contentType: ContentText, body: []byte(body), meta: map[string]any{}}
}

// JSONEnvelope builds a json-content envelope by marshaling obj.
// Named JSONEnvelope rather than JSON.
func JSONEnvelope(obj any, producedBy diagram.NodeID, traceID diagram.ExecutionID) (Envelope, error) {
	b, err := json.Marshal(obj)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal envelope body: %w", err)
	}
	return Envelope{producedBy: producedBy, traceID: traceID, contentType: ContentJSON, body: b, meta: map[string]any{}}, nil
}

// Binary builds a binary-content envelope.
func Binary(body []byte, producedBy diagram.NodeID, traceID diagram.ExecutionID) Envelope {
	return Envelope{producedBy: producedBy, traceID: traceID, contentType: ContentBinary, body: body, meta: map[string]any{}}
}

// ErrorEnvelope builds an error-content envelope, the canonical way a
// handler's serialize_output communicates a node failure downstream
// without raising.
func ErrorEnvelope(message, errorType string, producedBy diagram.NodeID, traceID diagram.ExecutionID) Envelope {
	meta := map[string]any{"error_type": errorType}
	return Envelope{producedBy: producedBy, traceID: traceID, contentType: ContentError, body: []byte(message), meta: meta}
}

// ConversationStateEnvelope wraps a conversation array (person_job's
// output when a downstream edge declares content_type=conversation_state).
func ConversationStateEnvelope(obj any, producedBy diagram.NodeID, traceID diagram.ExecutionID) (Envelope, error) {
	b, err := json.Marshal(obj)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal conversation state: %w", err)
	}
	return Envelope{producedBy: producedBy, traceID: traceID, contentType: ContentConversationState, body: b, meta: map[string]any{}}, nil
}

// mismatchError is returned by accessors when the envelope's content
// type doesn't match what the caller asked for.
type mismatchError struct {
	want, got ContentType
}

func (e *mismatchError) Error() string {
	return fmt.Sprintf("envelope content type mismatch: want %s, got %s", e.want, e.got)
}

// AsText returns the envelope body as a string, failing if the envelope
// isn't text content.
func (e Envelope) AsText() (string, error) {
	if e.contentType != ContentText {
		return "", &mismatchError{want: ContentText, got: e.contentType}
	}
	return string(e.body), nil
}

// AsJSON unmarshals the envelope body into out, failing unless the
// envelope is json or conversation_state content.
func (e Envelope) AsJSON(out any) error {
	if e.contentType != ContentJSON && e.contentType != ContentConversationState {
		return &mismatchError{want: ContentJSON, got: e.contentType}
	}
	return json.Unmarshal(e.body, out)
}

// AsError returns the envelope's error message and type, failing if the
// envelope isn't error content.
func (e Envelope) AsError() (message, errorType string, err error) {
	if e.contentType != ContentError {
		return "", "", &mismatchError{want: ContentError, got: e.contentType}
	}
	et, _ := e.meta["error_type"].(string)
	return string(e.body), et, nil
}

// RawBody exposes the envelope's raw bytes regardless of content type,
// for transport/persistence code that needs to move envelopes without
// interpreting them.
func (e Envelope) RawBody() []byte { return e.body }

// IsError reports whether this envelope carries an error.
func (e Envelope) IsError() bool { return e.contentType == ContentError }
