package graph

import (
	"sort"

	"github.com/synthpod/synthpod/internal/pbank"
	"github.com/synthpod/synthpod/internal/port"
	"github.com/synthpod/synthpod/internal/urid"
)

// RunSnapshot is the immutable, RT-consumable view of the connection
// graph: one frozen RunMixer per connected sink port, grouped by sink
// module. ConnGraph rebuilds it on every mutation (worker thread) and
// publishes it by atomic pointer swap; RT only ever loads it, the same
// handover scheduler.Holder uses for Plans.
type RunSnapshot struct {
	Mixers []*RunMixer

	byModule map[urid.ID][]*RunMixer
}

// ForModule returns the mixers feeding sinks owned by urn, so the RT
// engine can mix a module's inputs immediately before its Run.
func (s *RunSnapshot) ForModule(urn urid.ID) []*RunMixer {
	if s == nil {
		return nil
	}
	return s.byModule[urn]
}

// RunSource is one frozen incident edge of a RunMixer.
type RunSource struct {
	Port *pbank.Port
	Gain float32
}

// RunMixer is the frozen fan-in state for one sink port. Sources are
// pre-sorted by scheduler execution order at snapshot build time, so
// Control last-writer-wins ties break by actual run order without any
// per-period sorting on RT.
type RunMixer struct {
	Sink    *pbank.Port
	Sources []RunSource

	// scratch for mixAtom's n-way merge; sized at snapshot build so
	// Mix never allocates on RT. Only the RT thread touches it.
	idx []int
}

func (g *ConnGraph) refresh() {
	snap := &RunSnapshot{byModule: make(map[urid.ID][]*RunMixer)}
	for sink, mx := range g.mixers {
		rm := &RunMixer{Sink: mx.sinkPort}
		srcs := make([]*mixSource, len(mx.sources))
		copy(srcs, mx.sources)
		sort.Slice(srcs, func(i, j int) bool {
			return g.moduleBefore(srcs[i].conn.Source.Module, srcs[j].conn.Source.Module)
		})
		for _, s := range srcs {
			rm.Sources = append(rm.Sources, RunSource{Port: s.srcPort, Gain: s.conn.Gain})
		}
		rm.idx = make([]int, len(rm.Sources))
		snap.Mixers = append(snap.Mixers, rm)
		snap.byModule[sink.Module] = append(snap.byModule[sink.Module], rm)
	}
	g.snap.Store(snap)
}

// Current returns the most recently published RunSnapshot. Safe to
// call from RT every period.
func (g *ConnGraph) Current() *RunSnapshot {
	return g.snap.Load()
}

// Elide reports whether this mixer can be skipped in favour of reading
// the lone source's buffer directly: n=1 and gain≈1 (an optimisation, never observable).
func (m *RunMixer) Elide() (*pbank.Port, bool) {
	if len(m.Sources) != 1 {
		return nil, false
	}
	const epsilon = 1e-6
	s := m.Sources[0]
	if s.Gain < 1-epsilon || s.Gain > 1+epsilon {
		return nil, false
	}
	return s.Port, true
}

// Mix computes the sink buffer for one period from every connected
// source: Audio/CV accumulate sink += gain*source; Atom
// merges event sequences in timestamp order with gain ignored; Control
// is last-writer-wins in source-module order.
func (m *RunMixer) Mix(nframes int) {
	switch m.Sink.Type {
	case port.Audio, port.CV:
		m.mixAudio(nframes)
	case port.Atom:
		m.mixAtom()
	case port.Control:
		m.mixControl()
	}
}

func samplesOf(b port.Buffer) []float32 {
	switch buf := b.(type) {
	case *port.AudioBuffer:
		return buf.Samples
	case *port.CVBuffer:
		return buf.Samples
	default:
		return nil
	}
}

func (m *RunMixer) mixAudio(nframes int) {
	dst := samplesOf(m.Sink.Buffer)
	if dst == nil {
		return
	}
	m.Sink.Buffer.Reset()

	for _, s := range m.Sources {
		samples := samplesOf(s.Port.Buffer)
		n := nframes
		if n > len(samples) {
			n = len(samples)
		}
		if n > len(dst) {
			n = len(dst)
		}
		for i := 0; i < n; i++ {
			dst[i] += s.Gain * samples[i]
		}
	}
}

func (m *RunMixer) mixAtom() {
	sink, ok := m.Sink.Buffer.(*port.AtomBuffer)
	if !ok {
		return
	}
	sink.Reset()

	// Merge by repeatedly taking the earliest-stamped remaining event
	// across all sources; each source sequence is already in frame
	// order, so this is an n-way merge without a per-period sort.
	idx := m.idx
	for i := range idx {
		idx[i] = 0
	}
	for {
		best := -1
		var bestFrame uint32
		for si, s := range m.Sources {
			srcBuf, ok := s.Port.Buffer.(*port.AtomBuffer)
			if !ok {
				continue
			}
			evs := srcBuf.Events()
			if idx[si] >= len(evs) {
				continue
			}
			f := evs[idx[si]].Frame
			if best == -1 || f < bestFrame {
				best, bestFrame = si, f
			}
		}
		if best == -1 {
			return
		}
		srcBuf := m.Sources[best].Port.Buffer.(*port.AtomBuffer)
		sink.Append(srcBuf.Events()[idx[best]])
		idx[best]++
	}
}

func (m *RunMixer) mixControl() {
	cb, ok := m.Sink.Buffer.(*port.ControlBuffer)
	if !ok {
		return
	}
	for _, s := range m.Sources {
		if srcBuf, ok := s.Port.Buffer.(*port.ControlBuffer); ok {
			cb.Value = srcBuf.Value
		}
	}
}
