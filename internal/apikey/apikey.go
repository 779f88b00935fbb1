// Package apikey provides the optional API_KEY_SERVICE (spec §4.10):
// the seam person_job/api_job use to resolve a named credential without
// the node data carrying secrets directly. Grounded on the teacher's
// compiler.ExecutableDiagram.APIKeys map (internal/compiler/types.go),
// generalized from a diagram-scoped map into a service interface so a
// runtime can back it with a secrets manager instead.
package apikey

import (
	"fmt"
	"sync"

	"github.com/dipeo/dipeo-core/internal/registry"
)

// Service resolves a named API key.
type Service interface {
	Resolve(name string) (string, error)
}

// Key is the typed registry token for the optional API_KEY_SERVICE.
var Key = registry.NewKey[Service]("API_KEY_SERVICE")

// MissingKeyError is returned when name has no registered value.
type MissingKeyError struct {
	Name string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("apikey: no value registered for %q", e.Name)
}

// StaticService resolves keys from an in-memory map, the form the
// compiled diagram's own APIKeys map takes.
type StaticService struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewStaticService builds a StaticService seeded from values.
func NewStaticService(values map[string]string) *StaticService {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &StaticService{values: copied}
}

func (s *StaticService) Resolve(name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	if !ok {
		return "", &MissingKeyError{Name: name}
	}
	return v, nil
}
