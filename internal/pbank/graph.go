package pbank

import (
	"sort"
	"sync"

	"github.com/synthpod/synthpod/internal/synerr"
	"github.com/synthpod/synthpod/internal/urid"
)

// AudioSettings is the Graph's snapshot of the audio driver's current
// configuration, persisted alongside the session.
type AudioSettings struct {
	SampleRate float64
	PeriodSize int
	NumPeriods int
	CPUsUsed   int
}

// Graph is the top-level session entity: every Module keyed by URN,
// the canvas view state, and the audio settings snapshot. Connections
// and automation mappings are owned by internal/graph and
// internal/automation respectively, which both reference Modules here
// by URN rather than embedding them, so a Module's lifecycle (add,
// remove, lookup) has exactly one owner.
type Graph struct {
	// mu guards the module map and order slice. Writers are rare and
	// worker-only (module add/remove at graph-mutation time); readers
	// include the RT automation pass, whose RLock on an uncontended
	// mutex is the cheapest safe option Go offers for a map a second
	// thread occasionally grows.
	mu      sync.RWMutex
	modules map[urid.ID]*Module
	order   []urid.ID // insertion order, for deterministic iteration

	ScrollX, ScrollY     float32
	SidebarVisible       bool
	BottombarVisible     bool
	Settings             AudioSettings

	SourceURN urid.ID
	SinkURN   urid.ID
}

func NewGraph() *Graph {
	return &Graph{modules: make(map[urid.ID]*Module)}
}

// AddModule inserts m; URNs must be unique and stay stable.
func (g *Graph) AddModule(m *Module) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.modules[m.URN]; exists {
		return &synerr.ConstraintError{Op: "AddModule", Reason: "module URN already present"}
	}
	g.modules[m.URN] = m
	g.order = append(g.order, m.URN)
	return nil
}

// RemoveModule deletes m. The built-in source and sink modules
// cannot be deleted. Callers are responsible for
// first deleting every connection incident on m;
// this method does not reach into internal/graph to do that itself,
// to keep the two packages' ownership boundaries one-directional.
func (g *Graph) RemoveModule(urn urid.ID) error {
	if urn == g.SourceURN || urn == g.SinkURN {
		return &synerr.ConstraintError{Op: "RemoveModule", Reason: "built-in source/sink module cannot be removed"}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.modules[urn]; !ok {
		return &synerr.LookupError{Op: "RemoveModule", Target: "module"}
	}
	delete(g.modules, urn)
	for i, id := range g.order {
		if id == urn {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	return nil
}

// Module looks up a Module by URN.
func (g *Graph) Module(urn urid.ID) (*Module, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m, ok := g.modules[urn]
	return m, ok
}

// Modules returns every Module in insertion order.
func (g *Graph) Modules() []*Module {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Module, len(g.order))
	for i, id := range g.order {
		out[i] = g.modules[id]
	}
	return out
}

// SortedURNs returns every Module URN in ascending order, the
// deterministic tie-break the scheduler uses.
func (g *Graph) SortedURNs() []urid.ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]urid.ID, 0, len(g.modules))
	for id := range g.modules {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
