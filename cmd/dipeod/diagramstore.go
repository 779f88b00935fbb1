package main

import (
	"fmt"
	"sync"

	"github.com/dipeo/dipeo-core/internal/compiler"
	"github.com/dipeo/dipeo-core/internal/diagram"
)

// diagramStore holds every diagram this process has compiled, keyed by
// id, so POST /api/v1/executions can run a previously-uploaded diagram
// by id and sub_diagram dispatch (engine.DiagramLoader) can resolve a
// nested diagram the same way. In-process only; a restart loses it,
// matching spec §6.5's "durable store writes on terminal status
// transition only" — diagram source itself isn't named as durable.
type diagramStore struct {
	mu    sync.RWMutex
	byID  map[diagram.DiagramID]*diagram.DomainDiagram
	compi map[diagram.DiagramID]*compiler.ExecutableDiagram
}

func newDiagramStore() *diagramStore {
	return &diagramStore{
		byID:  make(map[diagram.DiagramID]*diagram.DomainDiagram),
		compi: make(map[diagram.DiagramID]*compiler.ExecutableDiagram),
	}
}

// Put compiles d and stores both forms under id, overwriting any
// previous version.
func (s *diagramStore) Put(id diagram.DiagramID, d *diagram.DomainDiagram) (*compiler.ExecutableDiagram, error) {
	d.ID = id
	compiled, err := compiler.Compile(d, compiler.Options{})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.byID[id] = d
	s.compi[id] = compiled
	s.mu.Unlock()
	return compiled, nil
}

// Load implements engine.DiagramLoader for sub_diagram dispatch.
func (s *diagramStore) Load(id diagram.DiagramID) (*compiler.ExecutableDiagram, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	compiled, ok := s.compi[id]
	if !ok {
		return nil, fmt.Errorf("diagram store: no diagram registered under id %q", id)
	}
	return compiled, nil
}

// Domain returns the source DomainDiagram for GET /api/v1/diagrams/:id.
func (s *diagramStore) Domain(id diagram.DiagramID) (*diagram.DomainDiagram, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byID[id]
	return d, ok
}
