package automation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"
	"pgregory.net/rapid"

	"github.com/synthpod/synthpod/internal/pbank"
	"github.com/synthpod/synthpod/internal/port"
	"github.com/synthpod/synthpod/internal/urid"
)

func TestRemapLinear(t *testing.T) {
	assert.InDelta(t, 0.5, Remap(63.5, 0, 127, 0, 1), 1e-9)
	assert.InDelta(t, 220, Remap(0.5, 0, 1, 0, 440), 1e-9)
	assert.InDelta(t, -1, Remap(0, 0, 1, -1, 1), 1e-9)
}

func TestRemapEdgeCases(t *testing.T) {
	// a == b: constant output at c.
	assert.Equal(t, 5.0, Remap(3, 2, 2, 5, 9))
	// c == d: constant output.
	assert.Equal(t, 7.0, Remap(3, 0, 10, 7, 7))
	// Clipping at both boundaries.
	assert.Equal(t, 0.0, Remap(-10, 0, 127, 0, 1))
	assert.Equal(t, 1.0, Remap(500, 0, 127, 0, 1))
}

// For any a<b, c<d and v in [a,b]: output = c + (v-a)(d-c)/(b-a)
// within 1 ULP, and clipping holds at the boundaries.
func TestRemapProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.Float64Range(-1e6, 1e6).Draw(t, "a")
		b := rapid.Float64Range(a+1e-3, a+2e6).Draw(t, "b")
		c := rapid.Float64Range(-1e6, 1e6).Draw(t, "c")
		d := rapid.Float64Range(c+1e-3, c+2e6).Draw(t, "d")
		v := rapid.Float64Range(a, b).Draw(t, "v")

		got := Remap(v, a, b, c, d)
		want := c + (v-a)*(d-c)/(b-a)
		require.InDelta(t, want, got, math.Abs(want)*1e-9+1e-9)

		require.Equal(t, c, Remap(a, a, b, c, d))
		require.InDelta(t, d, Remap(b, a, b, c, d), math.Abs(d)*1e-12+1e-12)
		require.Equal(t, c, Remap(a-1, a, b, c, d))
	})
}

type autoWorld struct {
	reg  *urid.Registry
	regs *urid.Regs
	bank *pbank.Graph

	source urid.ID
	sink   urid.ID

	midiOut *pbank.Port // source module's external-event stream
	midiIn  *pbank.Port // sink module's upstream echo stream
	target  *pbank.Port // automated control port
}

func newAutoWorld(t *testing.T) *autoWorld {
	t.Helper()
	w := &autoWorld{reg: urid.New(), bank: pbank.NewGraph()}
	w.regs = urid.NewRegs(w.reg)

	w.source = w.reg.Map("urn:auto:source")
	src := pbank.NewModule(w.source, "builtin:source")
	w.midiOut = &pbank.Port{
		Index: 0, Symbol: w.reg.Map("midi_out"), Type: port.Atom,
		Direction: pbank.Output, Subtypes: urid.AtomSubtypeMIDI,
		Buffer: port.NewAtomBuffer(4096, urid.AtomSubtypeMIDI),
	}
	src.AddPort(w.midiOut)
	require.NoError(t, w.bank.AddModule(src))

	w.sink = w.reg.Map("urn:auto:sink")
	snk := pbank.NewModule(w.sink, "builtin:sink")
	w.midiIn = &pbank.Port{
		Index: 0, Symbol: w.reg.Map("midi_in"), Type: port.Atom,
		Direction: pbank.Input, Subtypes: urid.AtomSubtypeMIDI,
		Buffer: port.NewAtomBuffer(4096, urid.AtomSubtypeMIDI),
	}
	snk.AddPort(w.midiIn)
	require.NoError(t, w.bank.AddModule(snk))

	tgt := w.reg.Map("urn:auto:target")
	mod := pbank.NewModule(tgt, "builtin:target")
	w.target = &pbank.Port{
		Index: 0, Symbol: w.reg.Map("level"), Type: port.Control,
		Direction: pbank.Input, Min: 0, Max: 1,
		Buffer: port.NewControlBuffer(0),
	}
	mod.AddPort(w.target)
	require.NoError(t, w.bank.AddModule(mod))

	return w
}

func (w *autoWorld) endpoints(*Mapping) Endpoints {
	return Endpoints{
		SourceOutput: w.source,
		OutputSymbol: w.reg.Map("midi_out"),
		SourceInput:  w.sink,
		InputSymbol:  w.reg.Map("midi_in"),
	}
}

func (w *autoWorld) mapping() *Mapping {
	return &Mapping{
		Kind: MIDI,
		Sink: SinkDescriptor{
			Kind:   SinkPort,
			Module: w.reg.Map("urn:auto:target"),
			Symbol: w.reg.Map("level"),
		},
		SrcMin: 0, SrcMax: 127,
		SnkMin: 0, SnkMax: 1,
		SnkEnabled: true,
		Channel:    -1, Controller: -1,
	}
}

func (w *autoWorld) injectCC(channel, controller, value uint8) {
	msg := midi.ControlChange(channel, controller, value)
	w.midiOut.AppendAtomEvent(port.AtomEvent{Type: w.regs.MIDIEvent, Data: msg})
}

func TestMIDILearn(t *testing.T) {
	w := newAutoWorld(t)
	m := w.mapping()
	m.Learning = true

	tbl := NewTable()
	tbl.Add(m)

	w.injectCC(3, 74, 64)
	Run(w.bank, w.regs, tbl.Mappings(), w.endpoints)

	assert.Equal(t, 3, m.Channel, "learning locks the channel")
	assert.Equal(t, 74, m.Controller, "learning locks the controller")
	assert.False(t, m.Learning)

	v, ok := w.target.ControlValue()
	require.True(t, ok)
	assert.InDelta(t, 0.504, v, 0.001)
}

func TestMIDIFilterByChannelAndController(t *testing.T) {
	w := newAutoWorld(t)
	m := w.mapping()
	m.Channel = 5
	m.Controller = 7

	tbl := NewTable()
	tbl.Add(m)

	w.injectCC(3, 74, 127) // wrong channel and controller
	Run(w.bank, w.regs, tbl.Mappings(), w.endpoints)
	v, _ := w.target.ControlValue()
	assert.Zero(t, v)

	w.midiOut.Buffer.Reset()
	w.injectCC(5, 7, 127)
	Run(w.bank, w.regs, tbl.Mappings(), w.endpoints)
	v, _ = w.target.ControlValue()
	assert.InDelta(t, 1.0, v, 1e-6)
}

func TestWriteSinkClampsToDeclaredPortRange(t *testing.T) {
	w := newAutoWorld(t)
	m := w.mapping()
	m.Channel = 1
	m.Controller = 20
	// The mapping's target range deliberately exceeds the port's
	// declared [0,1]: the remap may produce 2.0, the write may not.
	m.SnkMin, m.SnkMax = 0, 2

	tbl := NewTable()
	tbl.Add(m)

	w.injectCC(1, 20, 127)
	Run(w.bank, w.regs, tbl.Mappings(), w.endpoints)

	v, ok := w.target.ControlValue()
	require.True(t, ok)
	assert.Equal(t, float32(1.0), v, "remapped 2.0 must clip to the port's declared max")

	// And below the declared minimum.
	m.SnkMin, m.SnkMax = -2, 0
	w.midiOut.Buffer.Reset()
	w.injectCC(1, 20, 0)
	Run(w.bank, w.regs, tbl.Mappings(), w.endpoints)
	v, _ = w.target.ControlValue()
	assert.Equal(t, float32(0.0), v, "remapped -2.0 must clip to the port's declared min")
}

func TestWriteSinkClampsToDeclaredParamRange(t *testing.T) {
	w := newAutoWorld(t)
	tgt := w.reg.Map("urn:auto:target")
	mod, ok := w.bank.Module(tgt)
	require.True(t, ok)

	prop := w.reg.Map("urn:param:cutoff")
	mod.Params.Register(&pbank.Param{
		Property: prop, Range: pbank.RangeFloat,
		Min: 0, Max: 1, HasRange: true,
	})

	m := &Mapping{
		Kind: MIDI,
		Sink: SinkDescriptor{Kind: SinkParam, Module: tgt, Property: prop},
	}
	require.True(t, m.WriteSink(w.bank, 2.0))
	p, _ := mod.Params.Get(prop)
	assert.Equal(t, 1.0, p.Value(), "param writes clip to the declared range")

	require.True(t, m.WriteSink(w.bank, -0.5))
	assert.Equal(t, 0.0, p.Value())

	// A param without a declared range passes values through.
	open := w.reg.Map("urn:param:open")
	mod.Params.Register(&pbank.Param{Property: open, Range: pbank.RangeFloat})
	m.Sink.Property = open
	require.True(t, m.WriteSink(w.bank, 3.5))
	op, _ := mod.Params.Get(open)
	assert.Equal(t, 3.5, op.Value())
}

func TestMIDIEmitUpstream(t *testing.T) {
	w := newAutoWorld(t)
	m := w.mapping()
	m.Channel = 2
	m.Controller = 11
	m.SnkEnabled = false
	m.SrcEnabled = true

	w.target.SetControlValue(0.5)

	tbl := NewTable()
	tbl.Add(m)
	Run(w.bank, w.regs, tbl.Mappings(), w.endpoints)

	evs := w.midiIn.Buffer.(*port.AtomBuffer).Events()
	require.Len(t, evs, 1)
	var ch, cc, val uint8
	require.True(t, midi.Message(evs[0].Data).GetControlChange(&ch, &cc, &val))
	assert.Equal(t, uint8(2), ch)
	assert.Equal(t, uint8(11), cc)
	assert.EqualValues(t, 63, val) // 0.5 remapped back into [0,127]
}

func TestOSCRoundTrip(t *testing.T) {
	data := encodeOSCFloat("/synth/level", 0.75)
	msg, ok := decodeOSC(data)
	require.True(t, ok)
	assert.Equal(t, "/synth/level", msg.address)
	require.Len(t, msg.args, 1)
	assert.InDelta(t, 0.75, msg.args[0], 1e-6)
}

func TestOSCDecodeInt(t *testing.T) {
	// ,i payload: address + tags + one big-endian int32
	data := append([]byte("/x\x00\x00,i\x00\x00"), 0, 0, 0, 42)
	msg, ok := decodeOSC(data)
	require.True(t, ok)
	require.Len(t, msg.args, 1)
	assert.Equal(t, 42.0, msg.args[0])
}

func TestOSCScanAndLearn(t *testing.T) {
	w := newAutoWorld(t)
	m := w.mapping()
	m.Kind = OSC
	m.SrcMin, m.SrcMax = 0, 1
	m.Learning = true

	tbl := NewTable()
	tbl.Add(m)

	w.midiOut.AppendAtomEvent(port.AtomEvent{
		Type: w.regs.OSCEvent,
		Data: encodeOSCFloat("/fader/1", 0.25),
	})
	Run(w.bank, w.regs, tbl.Mappings(), w.endpoints)

	assert.Equal(t, "/fader/1", m.Path)
	assert.False(t, m.Learning)
	v, _ := w.target.ControlValue()
	assert.InDelta(t, 0.25, v, 1e-6)
}

func TestOSCPathPattern(t *testing.T) {
	assert.True(t, pathMatches("/fader/*", "/fader/3"))
	assert.True(t, pathMatches("/fader/?", "/fader/3"))
	assert.False(t, pathMatches("/fader/*", "/knob/3"))
}

func TestTableSnapshotIsolation(t *testing.T) {
	tbl := NewTable()
	m1 := &Mapping{Kind: MIDI}
	tbl.Add(m1)
	snap := tbl.Mappings()
	require.Len(t, snap, 1)

	tbl.Add(&Mapping{Kind: OSC})
	assert.Len(t, snap, 1, "earlier snapshot must not grow")
	assert.Len(t, tbl.Mappings(), 2)

	tbl.Remove(m1)
	assert.Len(t, tbl.Mappings(), 1)
}
