package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/synthpod/synthpod/internal/pbank"
	"github.com/synthpod/synthpod/internal/port"
	"github.com/synthpod/synthpod/internal/synerr"
	"github.com/synthpod/synthpod/internal/urid"
)

type fixture struct {
	reg  *urid.Registry
	bank *pbank.Graph
	g    *ConnGraph
}

func newFixture() *fixture {
	reg := urid.New()
	bank := pbank.NewGraph()
	return &fixture{reg: reg, bank: bank, g: New(bank)}
}

type portSpec struct {
	symbol   string
	typ      port.Type
	dir      pbank.Direction
	subtypes urid.AtomSubtype
}

func (f *fixture) addModule(name string, specs ...portSpec) urid.ID {
	urn := f.reg.Map("urn:test:" + name)
	mod := pbank.NewModule(urn, "builtin:"+name)
	for i, s := range specs {
		p := &pbank.Port{
			Index:     i,
			Symbol:    f.reg.Map(s.symbol),
			Type:      s.typ,
			Direction: s.dir,
			Subtypes:  s.subtypes,
		}
		switch s.typ {
		case port.Audio:
			p.Buffer = port.NewAudioBuffer(16)
		case port.CV:
			p.Buffer = port.NewCVBuffer(16)
		case port.Control:
			p.Buffer = port.NewControlBuffer(0)
		case port.Atom:
			p.Buffer = port.NewAtomBuffer(1024, s.subtypes)
		}
		mod.AddPort(p)
	}
	if err := f.bank.AddModule(mod); err != nil {
		panic(err)
	}
	return urn
}

func (f *fixture) handle(urn urid.ID, symbol string) PortHandle {
	return PortHandle{Module: urn, Symbol: f.reg.Map(symbol)}
}

func TestConnectEnforcesDirection(t *testing.T) {
	f := newFixture()
	a := f.addModule("a",
		portSpec{"in", port.Audio, pbank.Input, 0},
		portSpec{"out", port.Audio, pbank.Output, 0})
	b := f.addModule("b",
		portSpec{"in", port.Audio, pbank.Input, 0},
		portSpec{"out", port.Audio, pbank.Output, 0})

	var cerr *synerr.ConstraintError
	err := f.g.Connect(f.handle(a, "in"), f.handle(b, "in"), 1, false)
	require.ErrorAs(t, err, &cerr)

	err = f.g.Connect(f.handle(a, "out"), f.handle(b, "out"), 1, false)
	require.ErrorAs(t, err, &cerr)

	require.NoError(t, f.g.Connect(f.handle(a, "out"), f.handle(b, "in"), 1, false))
}

func TestConnectEnforcesTypeCompatibility(t *testing.T) {
	f := newFixture()
	a := f.addModule("a",
		portSpec{"audio_out", port.Audio, pbank.Output, 0},
		portSpec{"cv_out", port.CV, pbank.Output, 0},
		portSpec{"midi_out", port.Atom, pbank.Output, urid.AtomSubtypeMIDI})
	b := f.addModule("b",
		portSpec{"audio_in", port.Audio, pbank.Input, 0},
		portSpec{"cv_in", port.CV, pbank.Input, 0},
		portSpec{"osc_in", port.Atom, pbank.Input, urid.AtomSubtypeOSC})

	var cerr *synerr.ConstraintError
	err := f.g.Connect(f.handle(a, "audio_out"), f.handle(b, "cv_in"), 1, false)
	require.ErrorAs(t, err, &cerr, "Audio to CV must be refused")

	err = f.g.Connect(f.handle(a, "midi_out"), f.handle(b, "osc_in"), 1, false)
	require.ErrorAs(t, err, &cerr, "disjoint atom subtypes must be refused")

	require.NoError(t, f.g.Connect(f.handle(a, "audio_out"), f.handle(b, "audio_in"), 1, false))
}

func TestConnectIdempotence(t *testing.T) {
	f := newFixture()
	a := f.addModule("a", portSpec{"out", port.Audio, pbank.Output, 0})
	b := f.addModule("b", portSpec{"in", port.Audio, pbank.Input, 0})

	require.NoError(t, f.g.Connect(f.handle(a, "out"), f.handle(b, "in"), 1.0, false))
	require.NoError(t, f.g.Connect(f.handle(a, "out"), f.handle(b, "in"), 0.5, false))

	conns := f.g.Connections()
	require.Len(t, conns, 1, "re-adding must update gain, not duplicate")
	assert.Equal(t, float32(0.5), conns[0].Gain)

	// Removing a non-existent connection is a no-op.
	f.g.Disconnect(f.handle(b, "in"), f.handle(a, "out"))
	assert.Len(t, f.g.Connections(), 1)

	f.g.Disconnect(f.handle(a, "out"), f.handle(b, "in"))
	assert.Empty(t, f.g.Connections())
	f.g.Disconnect(f.handle(a, "out"), f.handle(b, "in"))
	assert.Empty(t, f.g.Connections())
}

func TestConnectUnknownEndpoints(t *testing.T) {
	f := newFixture()
	a := f.addModule("a", portSpec{"out", port.Audio, pbank.Output, 0})

	var lerr *synerr.LookupError
	err := f.g.Connect(f.handle(a, "out"), PortHandle{Module: urid.ID(999), Symbol: urid.ID(1)}, 1, false)
	require.ErrorAs(t, err, &lerr)

	err = f.g.Connect(f.handle(a, "nope"), f.handle(a, "out"), 1, false)
	require.ErrorAs(t, err, &lerr)
}

// Type safety property: for generated port type/direction pairs,
// acceptance implies equal types with overlapping atom subtypes, and
// rejection implies they differ.
func TestConnectTypeSafetyProperty(t *testing.T) {
	types := []port.Type{port.Audio, port.Control, port.CV, port.Atom}
	rapid.Check(t, func(t *rapid.T) {
		f := newFixture()
		srcType := rapid.SampledFrom(types).Draw(t, "srcType")
		sinkType := rapid.SampledFrom(types).Draw(t, "sinkType")
		srcSub := urid.AtomSubtype(rapid.Uint32Range(0, 31).Draw(t, "srcSub"))
		sinkSub := urid.AtomSubtype(rapid.Uint32Range(0, 31).Draw(t, "sinkSub"))

		a := f.addModule("a", portSpec{"out", srcType, pbank.Output, srcSub})
		b := f.addModule("b", portSpec{"in", sinkType, pbank.Input, sinkSub})

		err := f.g.Connect(f.handle(a, "out"), f.handle(b, "in"), 1, false)

		compatible := srcType == sinkType &&
			(srcType != port.Atom || srcSub == 0 || sinkSub == 0 || srcSub&sinkSub != 0)
		if compatible {
			require.NoError(t, err)
		} else {
			require.Error(t, err)
			require.Empty(t, f.g.Connections())
		}
	})
}

func TestRemoveModuleDropsIncidentConnections(t *testing.T) {
	f := newFixture()
	a := f.addModule("a", portSpec{"out", port.Audio, pbank.Output, 0})
	b := f.addModule("b",
		portSpec{"in", port.Audio, pbank.Input, 0},
		portSpec{"out", port.Audio, pbank.Output, 0})
	c := f.addModule("c", portSpec{"in", port.Audio, pbank.Input, 0})

	require.NoError(t, f.g.Connect(f.handle(a, "out"), f.handle(b, "in"), 1, false))
	require.NoError(t, f.g.Connect(f.handle(b, "out"), f.handle(c, "in"), 1, false))

	f.g.RemoveModule(b)
	assert.Empty(t, f.g.Connections())
	assert.Empty(t, f.g.ModConns())
}

func samples(t *testing.T, bank *pbank.Graph, urn urid.ID, sym urid.ID) []float32 {
	t.Helper()
	mod, ok := bank.Module(urn)
	require.True(t, ok)
	p, ok := mod.PortBySymbol(sym)
	require.True(t, ok)
	ab, ok := p.Buffer.(*port.AudioBuffer)
	require.True(t, ok)
	return ab.Samples
}

func TestMixerAccumulatesWithGain(t *testing.T) {
	f := newFixture()
	a := f.addModule("a", portSpec{"out", port.Audio, pbank.Output, 0})
	b := f.addModule("b", portSpec{"out", port.Audio, pbank.Output, 0})
	c := f.addModule("c", portSpec{"in", port.Audio, pbank.Input, 0})

	require.NoError(t, f.g.Connect(f.handle(a, "out"), f.handle(c, "in"), 0.5, false))
	require.NoError(t, f.g.Connect(f.handle(b, "out"), f.handle(c, "in"), 0.25, false))

	for i := range samples(t, f.bank, a, f.reg.Map("out")) {
		samples(t, f.bank, a, f.reg.Map("out"))[i] = 1.0
		samples(t, f.bank, b, f.reg.Map("out"))[i] = 1.0
	}

	f.g.MixAll(16)

	for _, v := range samples(t, f.bank, c, f.reg.Map("in")) {
		assert.InDelta(t, 0.75, v, 1e-7)
	}
}

func TestMixerElision(t *testing.T) {
	f := newFixture()
	a := f.addModule("a", portSpec{"out", port.Audio, pbank.Output, 0})
	b := f.addModule("b", portSpec{"in", port.Audio, pbank.Input, 0})

	require.NoError(t, f.g.Connect(f.handle(a, "out"), f.handle(b, "in"), 1.0, false))
	snap := f.g.Current()
	require.Len(t, snap.Mixers, 1)
	src, ok := snap.Mixers[0].Elide()
	require.True(t, ok)
	assert.Equal(t, f.reg.Map("out"), src.Symbol)

	// A non-unit gain defeats the elision.
	require.NoError(t, f.g.Connect(f.handle(a, "out"), f.handle(b, "in"), 0.5, false))
	snap = f.g.Current()
	_, ok = snap.Mixers[0].Elide()
	assert.False(t, ok)
}

func TestAtomMixMergesInTimestampOrder(t *testing.T) {
	f := newFixture()
	a := f.addModule("a", portSpec{"out", port.Atom, pbank.Output, urid.AtomSubtypeMIDI})
	b := f.addModule("b", portSpec{"out", port.Atom, pbank.Output, urid.AtomSubtypeMIDI})
	c := f.addModule("c", portSpec{"in", port.Atom, pbank.Input, urid.AtomSubtypeMIDI})

	require.NoError(t, f.g.Connect(f.handle(a, "out"), f.handle(c, "in"), 1, false))
	require.NoError(t, f.g.Connect(f.handle(b, "out"), f.handle(c, "in"), 1, false))

	modA, _ := f.bank.Module(a)
	pA, _ := modA.PortBySymbol(f.reg.Map("out"))
	modB, _ := f.bank.Module(b)
	pB, _ := modB.PortBySymbol(f.reg.Map("out"))

	pA.AppendAtomEvent(port.AtomEvent{Frame: 10, Type: urid.ID(1), Data: []byte{1}})
	pA.AppendAtomEvent(port.AtomEvent{Frame: 30, Type: urid.ID(1), Data: []byte{3}})
	pB.AppendAtomEvent(port.AtomEvent{Frame: 20, Type: urid.ID(1), Data: []byte{2}})

	f.g.MixAll(64)

	modC, _ := f.bank.Module(c)
	pC, _ := modC.PortBySymbol(f.reg.Map("in"))
	evs := pC.Buffer.(*port.AtomBuffer).Events()
	require.Len(t, evs, 3)
	assert.Equal(t, uint32(10), evs[0].Frame)
	assert.Equal(t, uint32(20), evs[1].Frame)
	assert.Equal(t, uint32(30), evs[2].Frame)
}

func TestControlMixLastWriterWinsBySchedulerOrder(t *testing.T) {
	f := newFixture()
	a := f.addModule("a", portSpec{"out", port.Control, pbank.Output, 0})
	b := f.addModule("b", portSpec{"out", port.Control, pbank.Output, 0})
	c := f.addModule("c", portSpec{"in", port.Control, pbank.Input, 0})

	require.NoError(t, f.g.Connect(f.handle(a, "out"), f.handle(c, "in"), 1, false))
	require.NoError(t, f.g.Connect(f.handle(b, "out"), f.handle(c, "in"), 1, false))

	modA, _ := f.bank.Module(a)
	pA, _ := modA.PortBySymbol(f.reg.Map("out"))
	pA.SetControlValue(1.0)
	modB, _ := f.bank.Module(b)
	pB, _ := modB.PortBySymbol(f.reg.Map("out"))
	pB.SetControlValue(2.0)

	modC, _ := f.bank.Module(c)
	pC, _ := modC.PortBySymbol(f.reg.Map("in"))

	// The scheduler runs b before a: a is the last writer even though
	// its URN sorts first.
	f.g.Reorder([]urid.ID{b, a, c})
	f.g.MixAll(16)
	v, ok := pC.ControlValue()
	require.True(t, ok)
	assert.Equal(t, float32(1.0), v)

	// A new plan with the opposite order flips the winner.
	f.g.Reorder([]urid.ID{a, b, c})
	f.g.MixAll(16)
	v, _ = pC.ControlValue()
	assert.Equal(t, float32(2.0), v)
}

func TestControlMixFallbackOrderWithoutPlan(t *testing.T) {
	f := newFixture()
	a := f.addModule("a", portSpec{"out", port.Control, pbank.Output, 0})
	b := f.addModule("b", portSpec{"out", port.Control, pbank.Output, 0})
	c := f.addModule("c", portSpec{"in", port.Control, pbank.Input, 0})

	require.NoError(t, f.g.Connect(f.handle(a, "out"), f.handle(c, "in"), 1, false))
	require.NoError(t, f.g.Connect(f.handle(b, "out"), f.handle(c, "in"), 1, false))

	modA, _ := f.bank.Module(a)
	pA, _ := modA.PortBySymbol(f.reg.Map("out"))
	pA.SetControlValue(1.0)
	modB, _ := f.bank.Module(b)
	pB, _ := modB.PortBySymbol(f.reg.Map("out"))
	pB.SetControlValue(2.0)

	// Before any plan exists the sort falls back to URN order, which
	// stays deterministic: b was interned after a and writes last.
	f.g.MixAll(16)
	modC, _ := f.bank.Module(c)
	pC, _ := modC.PortBySymbol(f.reg.Map("in"))
	v, ok := pC.ControlValue()
	require.True(t, ok)
	assert.Equal(t, float32(2.0), v)
}
