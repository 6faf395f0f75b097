// Package graph implements the directed connection multigraph:
// PortConns between individual ports, grouped into ModConns per
// module pair, plus the implicit mixer buffers interposed on any sink
// Input port with at least one incident source.
package graph

import (
	"sync/atomic"

	"github.com/synthpod/synthpod/internal/pbank"
	"github.com/synthpod/synthpod/internal/port"
	"github.com/synthpod/synthpod/internal/synerr"
	"github.com/synthpod/synthpod/internal/urid"
)

// PortHandle identifies one port by its owning module and symbol.
type PortHandle struct {
	Module urid.ID
	Symbol urid.ID
}

// PortConn is one source→sink edge with an associated gain. Gain only
// applies to Audio/CV; it is ignored for Control/Atom.
type PortConn struct {
	Source   PortHandle
	Sink     PortHandle
	Gain     float32
	Feedback bool // flagged by the user to break a cycle
}

// ModConn aggregates every PortConn sharing the same (source, sink)
// module pair, for the "patch matrix" node the UI draws.
type ModConn struct {
	SourceModule urid.ID
	SinkModule   urid.ID
	PortTypes    map[port.Type]bool
	NodeX, NodeY float32
}

// ConnGraph owns every PortConn and ModConn in a session, and the
// mixer state derived from them. It looks Modules and Ports up by
// handle through a pbank.Graph rather than owning them, so a Module's
// lifecycle stays entirely inside internal/pbank.
type ConnGraph struct {
	bank *pbank.Graph

	conns    map[connKey]*PortConn
	connList []*PortConn // insertion order, for deterministic save

	modConns map[modKey]*ModConn

	mixers map[PortHandle]*Mixer

	// rank is each module's position in the scheduler's current flat
	// execution order, fed back by the worker after every successful
	// plan build (Reorder). Mixer sources sort by it so Control
	// last-writer-wins ties break by actual run order, not by module
	// identity.
	rank map[urid.ID]int

	snap atomic.Pointer[RunSnapshot]
}

type connKey struct {
	src, sink PortHandle
}

type modKey struct {
	src, sink urid.ID
}

func New(bank *pbank.Graph) *ConnGraph {
	g := &ConnGraph{
		bank:     bank,
		conns:    make(map[connKey]*PortConn),
		modConns: make(map[modKey]*ModConn),
		mixers:   make(map[PortHandle]*Mixer),
	}
	g.refresh()
	return g
}

func (g *ConnGraph) lookupPort(h PortHandle) (*pbank.Module, *pbank.Port, error) {
	m, ok := g.bank.Module(h.Module)
	if !ok {
		return nil, nil, &synerr.LookupError{Op: "connection", Target: "module"}
	}
	p, ok := m.PortBySymbol(h.Symbol)
	if !ok {
		return nil, nil, &synerr.LookupError{Op: "connection", Target: "port"}
	}
	return m, p, nil
}

// subtypeOverlap reports whether two Atom subtype bitmasks share at
// least one bit.
func subtypeOverlap(a, b urid.AtomSubtype) bool {
	if a == urid.AtomSubtypeAll || b == urid.AtomSubtypeAll {
		return true
	}
	return a&b != 0
}

// Connect adds or updates the PortConn from src to sink, enforcing
// direction correctness, type compatibility, and
// at-most-one-edge-per-pair (idempotent gain update).
func (g *ConnGraph) Connect(src, sink PortHandle, gain float32, feedback bool) error {
	_, srcPort, err := g.lookupPort(src)
	if err != nil {
		return err
	}
	_, sinkPort, err := g.lookupPort(sink)
	if err != nil {
		return err
	}

	if srcPort.Direction != pbank.Output {
		return &synerr.ConstraintError{Op: "Connect", Reason: "source port is not an Output"}
	}
	if sinkPort.Direction != pbank.Input {
		return &synerr.ConstraintError{Op: "Connect", Reason: "sink port is not an Input"}
	}
	if srcPort.Type != sinkPort.Type {
		return &synerr.ConstraintError{Op: "Connect", Reason: "port type mismatch"}
	}
	if srcPort.Type == port.Atom && !subtypeOverlap(srcPort.Subtypes, sinkPort.Subtypes) {
		return &synerr.ConstraintError{Op: "Connect", Reason: "atom subtypes do not overlap"}
	}

	key := connKey{src, sink}
	if existing, ok := g.conns[key]; ok {
		existing.Gain = gain
		existing.Feedback = feedback
		g.refresh()
		return nil
	}

	pc := &PortConn{Source: src, Sink: sink, Gain: gain, Feedback: feedback}
	g.conns[key] = pc
	g.connList = append(g.connList, pc)

	g.mixerFor(sink, sinkPort).addSource(pc, srcPort)
	g.touchModConn(src.Module, sink.Module, srcPort.Type)
	g.refresh()
	return nil
}

// Disconnect removes the PortConn from src to sink, a no-op if it
// does not exist (removal is idempotent).
func (g *ConnGraph) Disconnect(src, sink PortHandle) {
	key := connKey{src, sink}
	pc, ok := g.conns[key]
	if !ok {
		return
	}
	delete(g.conns, key)
	for i, c := range g.connList {
		if c == pc {
			g.connList = append(g.connList[:i], g.connList[i+1:]...)
			break
		}
	}
	if mx, ok := g.mixers[sink]; ok {
		mx.removeSource(pc)
		if mx.empty() {
			delete(g.mixers, sink)
		}
	}
	g.refresh()
}

// RemoveModule drops every PortConn with either endpoint on urn, the
// first step of removing the module itself.
func (g *ConnGraph) RemoveModule(urn urid.ID) {
	var toRemove []*PortConn
	for _, pc := range g.connList {
		if pc.Source.Module == urn || pc.Sink.Module == urn {
			toRemove = append(toRemove, pc)
		}
	}
	for _, pc := range toRemove {
		g.Disconnect(pc.Source, pc.Sink)
	}
	for k := range g.modConns {
		if k.src == urn || k.sink == urn {
			delete(g.modConns, k)
		}
	}
}

func (g *ConnGraph) touchModConn(src, sink urid.ID, typ port.Type) {
	k := modKey{src, sink}
	mc, ok := g.modConns[k]
	if !ok {
		mc = &ModConn{SourceModule: src, SinkModule: sink, PortTypes: make(map[port.Type]bool)}
		g.modConns[k] = mc
	}
	mc.PortTypes[typ] = true
}

// Connections returns every PortConn in insertion order.
func (g *ConnGraph) Connections() []*PortConn {
	out := make([]*PortConn, len(g.connList))
	copy(out, g.connList)
	return out
}

// ModConns returns every ModConn, unordered (the UI positions them by
// NodeX/NodeY, not list order).
func (g *ConnGraph) ModConns() []*ModConn {
	out := make([]*ModConn, 0, len(g.modConns))
	for _, mc := range g.modConns {
		out = append(out, mc)
	}
	return out
}

// Reorder records the scheduler's current flat execution order and
// republishes the RT snapshot with mixer sources re-sorted by it.
// Called by the worker after every successful plan build; until the
// first call, or for modules not yet in any plan, sources fall back to
// URN order so the sort stays total and deterministic.
func (g *ConnGraph) Reorder(order []urid.ID) {
	rank := make(map[urid.ID]int, len(order))
	for i, urn := range order {
		rank[urn] = i
	}
	g.rank = rank
	g.refresh()
}

// moduleBefore orders modules by scheduler position, planned modules
// first, URN as the total-order fallback.
func (g *ConnGraph) moduleBefore(a, b urid.ID) bool {
	ra, okA := g.rank[a]
	rb, okB := g.rank[b]
	switch {
	case okA && okB:
		if ra != rb {
			return ra < rb
		}
		return a < b
	case okA != okB:
		return okA
	default:
		return a < b
	}
}

// Sources returns every PortConn feeding into sink, for mixer
// construction and for the scheduler's dependency analysis.
func (g *ConnGraph) Sources(sink PortHandle) []*PortConn {
	mx, ok := g.mixers[sink]
	if !ok {
		return nil
	}
	return mx.sourcesInOrder(g.moduleBefore)
}

// Mixer returns the Mixer interposed on sink, if any incident
// PortConn exists for it.
func (g *ConnGraph) Mixer(sink PortHandle) (*Mixer, bool) {
	mx, ok := g.mixers[sink]
	return mx, ok
}

// MixAll runs every frozen mixer's Mix for the current period, in
// unspecified order (each mixer writes only its own sink buffer, so
// order between sinks never matters).
func (g *ConnGraph) MixAll(nframes int) {
	for _, mx := range g.Current().Mixers {
		mx.Mix(nframes)
	}
}
