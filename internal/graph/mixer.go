package graph

import (
	"sort"

	"github.com/synthpod/synthpod/internal/pbank"
	"github.com/synthpod/synthpod/internal/urid"
)

// Mixer is the bookkeeping side of the implicit fan-in interposed on a
// sink Input port with n ≥ 1 connected source Outputs.
// Where n=0 the sink buffer is simply left zero/empty and no Mixer is
// constructed at all; Connect/Disconnect in conn.go create and destroy
// Mixers as the incident count crosses zero and one. The actual
// per-period mixing runs on the frozen RunMixer a RunSnapshot derives
// from this (snapshot.go), never on this mutable struct.
type Mixer struct {
	sinkPort *pbank.Port
	sources  []*mixSource
}

type mixSource struct {
	conn    *PortConn
	srcPort *pbank.Port
}

func newMixer(sinkPort *pbank.Port) *Mixer {
	return &Mixer{sinkPort: sinkPort}
}

func (g *ConnGraph) mixerFor(sink PortHandle, sinkPort *pbank.Port) *Mixer {
	mx, ok := g.mixers[sink]
	if !ok {
		mx = newMixer(sinkPort)
		g.mixers[sink] = mx
	}
	return mx
}

func (m *Mixer) addSource(pc *PortConn, srcPort *pbank.Port) {
	m.sources = append(m.sources, &mixSource{conn: pc, srcPort: srcPort})
}

func (m *Mixer) removeSource(pc *PortConn) {
	for i, s := range m.sources {
		if s.conn == pc {
			m.sources = append(m.sources[:i], m.sources[i+1:]...)
			return
		}
	}
}

func (m *Mixer) empty() bool { return len(m.sources) == 0 }

// sourcesInOrder returns incident PortConns sorted by moduleBefore,
// the execution order RunMixer freezes them in so Control
// last-writer-wins ties break by actual scheduler order.
func (m *Mixer) sourcesInOrder(moduleBefore func(a, b urid.ID) bool) []*PortConn {
	srcs := make([]*mixSource, len(m.sources))
	copy(srcs, m.sources)
	sort.Slice(srcs, func(i, j int) bool {
		return moduleBefore(srcs[i].conn.Source.Module, srcs[j].conn.Source.Module)
	})
	out := make([]*PortConn, len(srcs))
	for i, s := range srcs {
		out[i] = s.conn
	}
	return out
}
