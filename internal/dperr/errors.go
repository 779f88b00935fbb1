// Package dperr defines the error taxonomy shared across the execution
// core. Errors are plain structs rather than sentinel values so callers
// can carry structured context (node id, handle string, kind) through
// fmt.Errorf("...: %w", err) wrapping the same way the rest of the
// codebase wraps errors.
package dperr

import "fmt"

// Kind classifies an error without binding callers to a concrete type.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindHandle          Kind = "handle"
	KindService         Kind = "service"
	KindNodeExecution   Kind = "node_execution"
	KindTimeout         Kind = "timeout"
	KindCancelled       Kind = "cancelled"
	KindMaxIterations   Kind = "max_iterations_reached"
)

// ValidationError reports a diagram that failed a structural invariant.
// Raised at import/compile time; never reaches the runtime.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }
func (e *ValidationError) Kind() Kind    { return KindValidation }

// HandleError reports an unknown or unresolved handle reference.
type HandleError struct {
	Handle string
	Reason string
}

func (e *HandleError) Error() string {
	return fmt.Sprintf("handle %q: %s", e.Handle, e.Reason)
}
func (e *HandleError) Kind() Kind { return KindHandle }

// ServiceError reports a port resolution or external adapter failure.
type ServiceError struct {
	Service   string
	Retryable bool
	Err       error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service %q: %v", e.Service, e.Err)
}
func (e *ServiceError) Unwrap() error { return e.Err }
func (e *ServiceError) Kind() Kind    { return KindService }

// NodeExecutionError reports a handler that raised or returned an error
// envelope. Fatal for the node and cascades downstream unless the
// triggering edge opts out via continue_on_error.
type NodeExecutionError struct {
	NodeID string
	Kind_  Kind
	Err    error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %q failed (%s): %v", e.NodeID, e.Kind_, e.Err)
}
func (e *NodeExecutionError) Unwrap() error { return e.Err }
func (e *NodeExecutionError) Kind() Kind    { return e.Kind_ }

// Timeout wraps a NodeExecutionError with kind=timeout.
func Timeout(nodeID string, err error) *NodeExecutionError {
	return &NodeExecutionError{NodeID: nodeID, Kind_: KindTimeout, Err: err}
}

// Cancelled wraps a NodeExecutionError with kind=cancelled.
func Cancelled(nodeID string) *NodeExecutionError {
	return &NodeExecutionError{NodeID: nodeID, Kind_: KindCancelled, Err: fmt.Errorf("execution aborted")}
}

// MaxIterationsReached signals the engine exceeded its global iteration
// budget. Execution transitions to MAXITER_REACHED, a success-ish
// terminal state, not a failure.
type MaxIterationsReached struct {
	Limit int
}

func (e *MaxIterationsReached) Error() string {
	return fmt.Sprintf("max iterations reached (limit=%d)", e.Limit)
}
func (e *MaxIterationsReached) Kind() Kind { return KindMaxIterations }

// MissingService reports a ServiceKey with no bound value in the registry.
type MissingService struct {
	Key string
}

func (e *MissingService) Error() string { return fmt.Sprintf("missing service: %s", e.Key) }
