package engine_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"

	"github.com/synthpod/synthpod/internal/automation"
	"github.com/synthpod/synthpod/internal/config"
	"github.com/synthpod/synthpod/internal/pluginhost"
	"github.com/synthpod/synthpod/internal/port"
	"github.com/synthpod/synthpod/internal/uiproto"
	"github.com/synthpod/synthpod/internal/urid"
	"github.com/synthpod/synthpod/pkg/engine"
)

const testPeriod = 512

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cfg := config.Default()
	cfg.Audio.SampleRate = 48000
	cfg.Audio.PeriodSize = testPeriod

	eng, err := engine.New(cfg)
	require.NoError(t, err)
	registerTestPlugins(eng.Loader())
	t.Cleanup(func() { eng.Close() })
	return eng
}

func buffers(n int) [][]float32 {
	out := make([][]float32, 2)
	for ch := range out {
		out[ch] = make([]float32, n)
	}
	return out
}

// gen emits a constant level from its Control input on its audio out.
type genDescriptor struct{}

func (genDescriptor) URI() string { return "builtin:gen" }

func (genDescriptor) Ports() []pluginhost.PortSpec {
	return []pluginhost.PortSpec{
		{Symbol: "level", Label: "Level", Type: port.Control, Direction: 0, Min: 0, Max: 1, Default: 1},
		{Symbol: "out", Label: "Out", Type: port.Audio, Direction: 1},
	}
}

func (genDescriptor) Params() []pluginhost.ParamSpec { return nil }

func (genDescriptor) Instantiate(sampleRate float64, maxBlock uint32, urids *urid.Regs) (pluginhost.Instance, error) {
	return &genInstance{}, nil
}

type genInstance struct {
	level *port.ControlBuffer
	out   *port.AudioBuffer
}

func (g *genInstance) ConnectPort(index int, buf port.Buffer) error {
	switch index {
	case 0:
		g.level = buf.(*port.ControlBuffer)
	case 1:
		g.out = buf.(*port.AudioBuffer)
	}
	return nil
}

func (g *genInstance) Activate(minFrames, maxFrames uint32) error { return nil }
func (g *genInstance) Run(nframes uint32) error {
	for i := uint32(0); i < nframes && int(i) < len(g.out.Samples); i++ {
		g.out.Samples[i] = g.level.Value
	}
	return nil
}
func (g *genInstance) Deactivate() error               { return nil }
func (g *genInstance) Cleanup() error                  { return nil }
func (g *genInstance) Extension(string) (any, bool)    { return nil, false }

// copy passes its audio input through unchanged.
type copyDescriptor struct{}

func (copyDescriptor) URI() string { return "builtin:copy" }

func (copyDescriptor) Ports() []pluginhost.PortSpec {
	return []pluginhost.PortSpec{
		{Symbol: "in", Label: "In", Type: port.Audio, Direction: 0},
		{Symbol: "out", Label: "Out", Type: port.Audio, Direction: 1},
	}
}

func (copyDescriptor) Params() []pluginhost.ParamSpec { return nil }

func (copyDescriptor) Instantiate(float64, uint32, *urid.Regs) (pluginhost.Instance, error) {
	return &copyInstance{}, nil
}

type copyInstance struct {
	in, out *port.AudioBuffer
	add     float32
}

func (c *copyInstance) ConnectPort(index int, buf port.Buffer) error {
	switch index {
	case 0:
		c.in = buf.(*port.AudioBuffer)
	case 1:
		c.out = buf.(*port.AudioBuffer)
	}
	return nil
}

func (c *copyInstance) Activate(minFrames, maxFrames uint32) error { return nil }
func (c *copyInstance) Run(nframes uint32) error {
	for i := uint32(0); i < nframes && int(i) < len(c.out.Samples); i++ {
		c.out.Samples[i] = c.in.Samples[i] + c.add
	}
	return nil
}
func (c *copyInstance) Deactivate() error            { return nil }
func (c *copyInstance) Cleanup() error               { return nil }
func (c *copyInstance) Extension(string) (any, bool) { return nil, false }

// inc adds one to every input sample, for observing feedback latency.
type incDescriptor struct{ copyDescriptor }

func (incDescriptor) URI() string { return "builtin:inc" }

func (incDescriptor) Instantiate(float64, uint32, *urid.Regs) (pluginhost.Instance, error) {
	return &copyInstance{add: 1}, nil
}

// osc is a stand-in voice with a persisted "freq" Control input.
type oscDescriptor struct{}

func (oscDescriptor) URI() string { return "builtin:oscillator" }

func (oscDescriptor) Ports() []pluginhost.PortSpec {
	return []pluginhost.PortSpec{
		{Symbol: "freq", Label: "Frequency", Type: port.Control, Direction: 0, Min: 0, Max: 20000, Default: 440},
		{Symbol: "out", Label: "Out", Type: port.Audio, Direction: 1},
	}
}

func (oscDescriptor) Params() []pluginhost.ParamSpec { return nil }

func (oscDescriptor) Instantiate(float64, uint32, *urid.Regs) (pluginhost.Instance, error) {
	return &genInstance{}, nil
}

// worky defers a payload to the worker on its first Run and records
// the response delivered back on the RT side.
type workDescriptor struct{ inst **workInstance }

func (workDescriptor) URI() string                    { return "builtin:worky" }
func (workDescriptor) Ports() []pluginhost.PortSpec   { return nil }
func (workDescriptor) Params() []pluginhost.ParamSpec { return nil }

func (d workDescriptor) Instantiate(float64, uint32, *urid.Regs) (pluginhost.Instance, error) {
	w := &workInstance{}
	*d.inst = w
	return w, nil
}

type workInstance struct {
	scheduled bool
	pending   [][]byte
	response  []byte
}

func (w *workInstance) ConnectPort(int, port.Buffer) error  { return nil }
func (w *workInstance) Activate(uint32, uint32) error       { return nil }
func (w *workInstance) Deactivate() error                   { return nil }
func (w *workInstance) Cleanup() error                      { return nil }
func (w *workInstance) Extension(string) (any, bool)        { return nil, false }

func (w *workInstance) Run(nframes uint32) error {
	if !w.scheduled {
		w.scheduled = true
		w.ScheduleWork([]byte("load-sample"))
	}
	return nil
}

func (w *workInstance) ScheduleWork(payload []byte) bool {
	w.pending = append(w.pending, payload)
	return true
}

func (w *workInstance) DrainWork(fn func([]byte)) {
	for _, p := range w.pending {
		fn(p)
	}
	w.pending = w.pending[:0]
}

func (w *workInstance) Work(respond func([]byte), payload []byte) {
	respond(append([]byte("done:"), payload...))
}

func (w *workInstance) WorkResponse(payload []byte) {
	w.response = append([]byte(nil), payload...)
}

func registerTestPlugins(l *pluginhost.Loader) {
	l.RegisterBuiltin("gen", func() pluginhost.Descriptor { return genDescriptor{} })
	l.RegisterBuiltin("copy", func() pluginhost.Descriptor { return copyDescriptor{} })
	l.RegisterBuiltin("inc", func() pluginhost.Descriptor { return incDescriptor{} })
	l.RegisterBuiltin("oscillator", func() pluginhost.Descriptor { return oscDescriptor{} })
}

func TestEmptyGraphSilence(t *testing.T) {
	eng := newTestEngine(t)

	in := buffers(testPeriod)
	out := buffers(testPeriod)
	for ch := range out {
		for i := range out[ch] {
			out[ch][i] = 0.123 // garbage the engine must overwrite
		}
	}

	require.NoError(t, eng.Process(testPeriod, in, out))

	for ch := range out {
		for i, v := range out[ch] {
			require.Equal(t, float32(0), v, "ch %d sample %d", ch, i)
		}
	}
}

func TestPassthrough(t *testing.T) {
	eng := newTestEngine(t)
	require.NoError(t, eng.Connect(eng.SourceURN(), "audio_out_1", eng.SinkURN(), "audio_in_1", 1.0, false))

	const total = 4096
	sine := make([]float32, total)
	for i := range sine {
		sine[i] = 0.5 * float32(math.Sin(2*math.Pi*440*float64(i)/48000))
	}

	out := buffers(testPeriod)
	for off := 0; off < total; off += testPeriod {
		in := [][]float32{sine[off : off+testPeriod], make([]float32, testPeriod)}
		require.NoError(t, eng.Process(testPeriod, in, out))
		for i := 0; i < testPeriod; i++ {
			require.Equal(t, sine[off+i], out[0][i], "sample %d must match to 0 ULP", off+i)
			require.Equal(t, float32(0), out[1][i])
		}
	}
}

func TestGainMix(t *testing.T) {
	run := func() []float32 {
		eng := newTestEngine(t)
		a, err := eng.AddModule("builtin:gen")
		require.NoError(t, err)
		b, err := eng.AddModule("builtin:gen")
		require.NoError(t, err)

		require.NoError(t, eng.Connect(a, "out", eng.SinkURN(), "audio_in_1", 0.5, false))
		require.NoError(t, eng.Connect(b, "out", eng.SinkURN(), "audio_in_1", 0.25, false))

		in := buffers(testPeriod)
		out := buffers(testPeriod)
		require.NoError(t, eng.Process(testPeriod, in, out))
		return append([]float32(nil), out[0]...)
	}

	first := run()
	for i, v := range first {
		require.InDelta(t, 0.75, v, 1e-7, "sample %d", i)
	}

	// Determinism: an identical graph produces bit-identical output.
	second := run()
	assert.Equal(t, first, second)
}

func TestFeedback(t *testing.T) {
	eng := newTestEngine(t)
	a, err := eng.AddModule("builtin:copy")
	require.NoError(t, err)
	b, err := eng.AddModule("builtin:inc")
	require.NoError(t, err)

	require.NoError(t, eng.Connect(a, "out", b, "in", 1.0, false))
	require.NoError(t, eng.Connect(b, "out", a, "in", 1.0, true)) // feedback-flagged

	in := buffers(testPeriod)
	out := buffers(testPeriod)

	modA, ok := eng.Module(a)
	require.True(t, ok)
	pOut, ok := modA.PortBySymbol(eng.Registry().Map("out"))
	require.True(t, ok)

	for period := 0; period < 5; period++ {
		require.NoError(t, eng.Process(testPeriod, in, out))
		got := pOut.Buffer.(*port.AudioBuffer).Samples[0]
		assert.Equal(t, float32(period), got,
			"at period %d the consumer sees the producer's previous-period output", period)
	}
}

func TestCycleWithoutFeedbackRefused(t *testing.T) {
	eng := newTestEngine(t)
	a, err := eng.AddModule("builtin:copy")
	require.NoError(t, err)
	b, err := eng.AddModule("builtin:copy")
	require.NoError(t, err)

	require.NoError(t, eng.Connect(a, "out", b, "in", 1.0, false))
	err = eng.Connect(b, "out", a, "in", 1.0, false)
	require.Error(t, err, "a cycle without a feedback hint must be refused")
	assert.Len(t, eng.Connections(), 1, "the refused edge must not persist")
}

func TestPresetRoundTripViaBundle(t *testing.T) {
	dir := t.TempDir() + "/session.synthpod"

	eng := newTestEngine(t)
	osc, err := eng.AddModule("builtin:oscillator")
	require.NoError(t, err)
	require.NoError(t, eng.Connect(osc, "out", eng.SinkURN(), "audio_in_1", 0.75, false))

	mod, ok := eng.Module(osc)
	require.True(t, ok)
	require.NoError(t, mod.SetPortValue(eng.Registry().Map("freq"), 220.0, eng.Regs().PatchSet))

	eng.Automations().Add(&automation.Mapping{
		Kind: automation.MIDI,
		Sink: automation.SinkDescriptor{
			Kind:   automation.SinkPort,
			Module: osc,
			Symbol: eng.Registry().Map("freq"),
		},
		SrcMin: 0, SrcMax: 127,
		SnkMin: 0, SnkMax: 20000,
		SnkEnabled: true,
		Channel:    3, Controller: 74,
	})

	require.NoError(t, eng.SaveBundle(dir))
	eng.Close()

	fresh := newTestEngine(t)
	require.NoError(t, fresh.LoadBundle(dir))

	var loaded urid.ID
	for _, m := range fresh.Modules() {
		if m.PluginURI == "builtin:oscillator" {
			loaded = m.URN
		}
	}
	require.NotZero(t, loaded, "oscillator must be re-instantiated")

	lm, _ := fresh.Module(loaded)
	v, err := lm.GetPortValue(fresh.Registry().Map("freq"))
	require.NoError(t, err)
	assert.Equal(t, float32(220), v)

	var gain float32
	found := false
	for _, pc := range fresh.Connections() {
		if pc.Source.Module == loaded {
			gain = pc.Gain
			found = true
		}
	}
	require.True(t, found, "the saved connection must be recreated")
	assert.Equal(t, float32(0.75), gain)

	maps := fresh.Automations().Mappings()
	require.Len(t, maps, 1, "the saved automation mapping must be reinstalled")
	assert.Equal(t, automation.MIDI, maps[0].Kind)
	assert.Equal(t, loaded, maps[0].Sink.Module)
	assert.Equal(t, fresh.Registry().Map("freq"), maps[0].Sink.Symbol)
	assert.Equal(t, 3, maps[0].Channel)
	assert.Equal(t, 74, maps[0].Controller)
	assert.Equal(t, 127.0, maps[0].SrcMax)
	assert.Equal(t, 20000.0, maps[0].SnkMax)
	assert.True(t, maps[0].SnkEnabled)
}

func TestMIDILearnEndToEnd(t *testing.T) {
	eng := newTestEngine(t)
	g, err := eng.AddModule("builtin:gen")
	require.NoError(t, err)

	m := &automation.Mapping{
		Kind: automation.MIDI,
		Sink: automation.SinkDescriptor{
			Kind:   automation.SinkPort,
			Module: g,
			Symbol: eng.Registry().Map("level"),
		},
		SrcMin: 0, SrcMax: 127,
		SnkMin: 0, SnkMax: 1,
		SnkEnabled: true,
		Learning:   true,
		Channel:    -1, Controller: -1,
	}
	eng.Automations().Add(m)

	in := buffers(testPeriod)
	out := buffers(testPeriod)
	cc := midi.ControlChange(3, 74, 64)
	events := []port.AtomEvent{{Frame: 0, Type: eng.Regs().MIDIEvent, Data: cc}}

	require.NoError(t, eng.ProcessEvents(testPeriod, in, out, events, nil))

	assert.Equal(t, 3, m.Channel, "mapping locks onto the learned channel")
	assert.Equal(t, 74, m.Controller)
	assert.False(t, m.Learning)

	mod, _ := eng.Module(g)
	v, err := mod.GetPortValue(eng.Registry().Map("level"))
	require.NoError(t, err)
	assert.InDelta(t, 0.504, v, 0.001)
}

func TestSubscriptionNotifications(t *testing.T) {
	eng := newTestEngine(t)
	require.NoError(t, eng.Connect(eng.SourceURN(), "audio_out_1", eng.SinkURN(), "audio_in_1", 1.0, false))

	sinkSym := eng.Registry().Map("audio_in_1")
	require.True(t, eng.SendUI(uiproto.Message{
		Verb:       uiproto.SubscriptionList,
		SinkModule: eng.SinkURN(),
		SinkSymbol: sinkSym,
		BoolValue:  true,
	}))

	in := buffers(testPeriod)
	for i := range in[0] {
		in[0][i] = 0.5
	}
	out := buffers(testPeriod)
	require.NoError(t, eng.Process(testPeriod, in, out))

	count := 0
	var peak float32
	eng.DrainUI(func(m uiproto.Message) {
		if m.Verb == uiproto.NotificationList && m.SinkSymbol == sinkSym {
			count++
			peak = m.NotificationPeakMax
		}
	})
	assert.Equal(t, 1, count, "exactly one notification per subscribed port per period")
	assert.InDelta(t, 0.5, peak, 1e-6)

	require.True(t, eng.SendUI(uiproto.Message{
		Verb:       uiproto.SubscriptionList,
		SinkModule: eng.SinkURN(),
		SinkSymbol: sinkSym,
		BoolValue:  false,
	}))
	require.NoError(t, eng.Process(testPeriod, in, out))

	count = 0
	eng.DrainUI(func(m uiproto.Message) {
		if m.Verb == uiproto.NotificationList && m.SinkSymbol == sinkSym {
			count++
		}
	})
	assert.Zero(t, count, "no notifications after unsubscribe")
}

func TestPatchSetGetProtocol(t *testing.T) {
	eng := newTestEngine(t)
	g, err := eng.AddModule("builtin:gen")
	require.NoError(t, err)
	levelSym := eng.Registry().Map("level")

	require.True(t, eng.SendUI(uiproto.Message{
		Verb:              uiproto.PatchSet,
		ModuleURN:         g,
		PortSymbol:        levelSym,
		NotificationValue: 0.25,
	}))
	in := buffers(testPeriod)
	out := buffers(testPeriod)
	require.NoError(t, eng.Process(testPeriod, in, out))

	require.True(t, eng.SendUI(uiproto.Message{
		Verb:       uiproto.PatchGet,
		ModuleURN:  g,
		PortSymbol: levelSym,
	}))
	require.NoError(t, eng.Process(testPeriod, in, out))

	var got float32
	seen := false
	eng.DrainUI(func(m uiproto.Message) {
		if m.Verb == uiproto.PatchSet && m.ModuleURN == g {
			got = m.NotificationValue
			seen = true
		}
	})
	require.True(t, seen, "patch:Get answers with a patch:Set carrying the observed value")
	assert.Equal(t, float32(0.25), got)
}

func TestWorkScheduleRoundTrip(t *testing.T) {
	eng := newTestEngine(t)
	var inst *workInstance
	eng.Loader().RegisterBuiltin("worky", func() pluginhost.Descriptor {
		return workDescriptor{inst: &inst}
	})
	_, err := eng.AddModule("builtin:worky")
	require.NoError(t, err)
	require.NotNil(t, inst)

	in := buffers(testPeriod)
	out := buffers(testPeriod)

	// First period schedules the work; the worker answers off-thread
	// and the response is delivered inside a later period, before Run.
	deadline := time.Now().Add(2 * time.Second)
	for inst.response == nil && time.Now().Before(deadline) {
		require.NoError(t, eng.Process(testPeriod, in, out))
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, []byte("done:load-sample"), inst.response)
}

func TestModuleRemovalDeletesConnections(t *testing.T) {
	eng := newTestEngine(t)
	g, err := eng.AddModule("builtin:gen")
	require.NoError(t, err)
	require.NoError(t, eng.Connect(g, "out", eng.SinkURN(), "audio_in_1", 1.0, false))
	require.Len(t, eng.Connections(), 1)

	require.NoError(t, eng.RemoveModule(g))
	assert.Empty(t, eng.Connections())
	_, ok := eng.Module(g)
	assert.False(t, ok)

	// The builtin edge modules can never be removed.
	require.Error(t, eng.RemoveModule(eng.SourceURN()))
	require.Error(t, eng.RemoveModule(eng.SinkURN()))
}
