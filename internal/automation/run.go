package automation

import (
	"sync"
	"sync/atomic"

	"github.com/synthpod/synthpod/internal/pbank"
	"github.com/synthpod/synthpod/internal/port"
	"github.com/synthpod/synthpod/internal/urid"
)

// Table owns every AutomationMapping in a session. Mutations happen on
// the worker/UI side; the RT automation pass reads a frozen snapshot
// published by atomic pointer swap, the same handover every other
// worker→RT shared structure here uses.
type Table struct {
	mu       sync.Mutex
	mappings []*Mapping

	snap atomic.Pointer[[]*Mapping]
}

func NewTable() *Table {
	t := &Table{}
	t.publish()
	return t
}

func (t *Table) Add(m *Mapping) {
	t.mu.Lock()
	t.mappings = append(t.mappings, m)
	t.publish()
	t.mu.Unlock()
}

func (t *Table) Remove(m *Mapping) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, x := range t.mappings {
		if x == m {
			t.mappings = append(t.mappings[:i], t.mappings[i+1:]...)
			t.publish()
			return
		}
	}
}

func (t *Table) publish() {
	snap := make([]*Mapping, len(t.mappings))
	copy(snap, t.mappings)
	t.snap.Store(&snap)
}

// Mappings returns the current frozen snapshot. Safe from RT.
func (t *Table) Mappings() []*Mapping { return *t.snap.Load() }

// Endpoints names the module ports a Mapping reads its external
// stream from and writes its upstream echo back into. They are
// addressed explicitly per Mapping rather than implied by the graph,
// since automation sources (a MIDI controller surface, an OSC client)
// are not themselves graph Modules.
type Endpoints struct {
	SourceOutput urid.ID // module URN whose Atom output carries external events in
	OutputSymbol urid.ID
	SourceInput  urid.ID // module URN whose Atom input receives the upstream echo
	InputSymbol  urid.ID
}

// Run executes every Mapping for one period against bank: if
// snk_enabled, scan the endpoint's output Atom stream for a matching
// event, remap and write to the sink; if src_enabled (whether or not
// snk_enabled is set), emit the sink's current value upstream.
func Run(bank *pbank.Graph, regs *urid.Regs, mappings []*Mapping, endpointOf func(*Mapping) Endpoints) {
	for _, m := range mappings {
		if m.Kind == None {
			continue
		}
		ep := endpointOf(m)

		if m.SnkEnabled {
			if mod, ok := bank.Module(ep.SourceOutput); ok {
				if p, ok := mod.PortBySymbol(ep.OutputSymbol); ok {
					if ab, ok := p.Buffer.(*port.AtomBuffer); ok {
						switch m.Kind {
						case MIDI:
							m.scanMIDI(bank, regs, ab)
						case OSC:
							m.scanOSC(bank, regs, ab)
						}
					}
				}
			}
		}

		if m.SrcEnabled {
			if mod, ok := bank.Module(ep.SourceInput); ok {
				if p, ok := mod.PortBySymbol(ep.InputSymbol); ok {
					if ab, ok := p.Buffer.(*port.AtomBuffer); ok {
						switch m.Kind {
						case MIDI:
							m.emitMIDI(bank, regs, ab)
						case OSC:
							m.emitOSC(bank, regs, ab)
						}
					}
				}
			}
		}
	}
}
