// Package registry implements the service registry (spec §4.10): a
// typed keyed map where keys are strongly-typed tokens, not strings.
// Grounded on the teacher's cmd/orchestrator/container/container.go
// bottom-up construction (repositories built before the services that
// depend on them), generalized from concrete struct fields to a
// generic Key[T]/Resolve[T] container because the teacher's handler set
// is closed while DiPeO's node-type handlers are registered
// independently and need a common typed lookup surface.
package registry

import (
	"fmt"
	"sync"
)

// Key is a strongly-typed token for one registry entry. Two keys with
// the same Name but different T are distinct entries; construct keys
// with NewKey so each call site gets its own identity even if names
// collide accidentally.
type Key[T any] struct {
	name string
	id   *int
}

// NewKey creates a typed key named name, for diagnostics only — identity
// is by the Key value itself, not by name comparison.
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name, id: new(int)}
}

func (k Key[T]) String() string { return k.name }

// Registry is a read-after-startup typed DI container. Registration
// happens during bootstrap; handlers only ever call Resolve.
type Registry struct {
	mu      sync.RWMutex
	entries map[any]any
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[any]any)}
}

// Register binds value to key. Re-registering the same key overwrites
// the previous binding, which is only expected during test setup.
func Register[T any](r *Registry, key Key[T], value T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = value
}

// MissingServiceError reports that a required key has no binding.
type MissingServiceError struct {
	Key string
}

func (e *MissingServiceError) Error() string {
	return fmt.Sprintf("service not registered: %s", e.Key)
}

// Resolve looks up key's binding, returning MissingServiceError if
// absent. Go's type system guarantees the stored value is already a T
// once present, since Register is the only writer.
func Resolve[T any](r *Registry, key Key[T]) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero T
	raw, ok := r.entries[key]
	if !ok {
		return zero, &MissingServiceError{Key: key.String()}
	}
	v, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("service %q has unexpected type %T", key.String(), raw)
	}
	return v, nil
}

// MustResolve panics if key is unbound, for use only in bootstrap code
// where a missing core service is unrecoverable.
func MustResolve[T any](r *Registry, key Key[T]) T {
	v, err := Resolve(r, key)
	if err != nil {
		panic(err)
	}
	return v
}
