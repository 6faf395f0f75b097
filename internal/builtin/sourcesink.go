// Package builtin provides the two modules every Graph must always
// contain: a source fanning external audio/MIDI
// inputs into the graph, and a sink fanning the graph's outputs back
// out to the audio driver. Both are registered under the builtin:
// scheme with internal/pluginhost.Loader; internal/rtengine copies the audio
// callback's raw sample slices into the source's output buffers
// before running the scheduler plan, and copies the sink's input
// buffers back out after, so neither needs a Run implementation of
// its own beyond satisfying the Instance contract.
package builtin

import (
	"github.com/synthpod/synthpod/internal/pluginhost"
	"github.com/synthpod/synthpod/internal/port"
	"github.com/synthpod/synthpod/internal/urid"
)

const (
	SourceURI = "http://open-music-kontrollers.ch/synthpod#source"
	SinkURI   = "http://open-music-kontrollers.ch/synthpod#sink"
)

// NumAudioChannels is the bundled source/sink's stereo fan-in/out
// width. A richer channel-count negotiation is left to the metadata
// database.
const NumAudioChannels = 2

// passthrough backs both Source and Sink: an Instance that exposes a
// fixed set of ports and does nothing on Run, because the engine
// moves samples in/out of its buffers directly.
type passthrough struct {
	spec []pluginhost.PortSpec
	bufs []port.Buffer
}

func (p *passthrough) ConnectPort(index int, buf port.Buffer) error {
	if index < 0 || index >= len(p.bufs) {
		return nil
	}
	p.bufs[index] = buf
	return nil
}

func (p *passthrough) Activate(minFrames, maxFrames uint32) error { return nil }
func (p *passthrough) Run(nframes uint32) error                   { return nil }
func (p *passthrough) Deactivate() error                          { return nil }
func (p *passthrough) Cleanup() error                              { return nil }
func (p *passthrough) Extension(id string) (any, bool)            { return nil, false }

// BufferAccessor is implemented by both Source and Sink instances and
// exposes the buffer bound to each port index. The RT engine does not
// go through it: it copies driver samples in and out via the module's
// pbank ports.
type BufferAccessor interface {
	Buffer(index int) port.Buffer
}

// Buffer returns the buffer bound to port index, or nil if index is
// out of range.
func (p *passthrough) Buffer(index int) port.Buffer {
	if index < 0 || index >= len(p.bufs) {
		return nil
	}
	return p.bufs[index]
}

type sourceDescriptor struct{}

// NewSourceDescriptor returns the Descriptor registered as
// builtin:source.
func NewSourceDescriptor() pluginhost.Descriptor { return sourceDescriptor{} }

func (sourceDescriptor) URI() string { return SourceURI }

func (sourceDescriptor) Ports() []pluginhost.PortSpec {
	specs := make([]pluginhost.PortSpec, 0, NumAudioChannels+1)
	for i := 0; i < NumAudioChannels; i++ {
		specs = append(specs, pluginhost.PortSpec{
			Symbol: audioSymbol("out", i), Label: "Audio Out", Type: port.Audio, Direction: 1,
		})
	}
	specs = append(specs, pluginhost.PortSpec{
		Symbol: "midi_out", Label: "MIDI Out", Type: port.Atom, Direction: 1,
		Subtypes: urid.AtomSubtypeMIDI,
	})
	return specs
}

func (sourceDescriptor) Params() []pluginhost.ParamSpec { return nil }

func (sourceDescriptor) Instantiate(sampleRate float64, maxBlockLength uint32, urids *urid.Regs) (pluginhost.Instance, error) {
	d := sourceDescriptor{}
	specs := d.Ports()
	return &passthrough{spec: specs, bufs: make([]port.Buffer, len(specs))}, nil
}

type sinkDescriptor struct{}

// NewSinkDescriptor returns the Descriptor registered as builtin:sink.
func NewSinkDescriptor() pluginhost.Descriptor { return sinkDescriptor{} }

func (sinkDescriptor) URI() string { return SinkURI }

func (sinkDescriptor) Ports() []pluginhost.PortSpec {
	specs := make([]pluginhost.PortSpec, 0, NumAudioChannels+1)
	for i := 0; i < NumAudioChannels; i++ {
		specs = append(specs, pluginhost.PortSpec{
			Symbol: audioSymbol("in", i), Label: "Audio In", Type: port.Audio, Direction: 0,
		})
	}
	specs = append(specs, pluginhost.PortSpec{
		Symbol: "midi_in", Label: "MIDI In", Type: port.Atom, Direction: 0,
		Subtypes: urid.AtomSubtypeMIDI,
	})
	return specs
}

func (sinkDescriptor) Params() []pluginhost.ParamSpec { return nil }

func (sinkDescriptor) Instantiate(sampleRate float64, maxBlockLength uint32, urids *urid.Regs) (pluginhost.Instance, error) {
	d := sinkDescriptor{}
	specs := d.Ports()
	return &passthrough{spec: specs, bufs: make([]port.Buffer, len(specs))}, nil
}

func audioSymbol(dir string, i int) string {
	const letters = "123456789"
	if i < len(letters) {
		return "audio_" + dir + "_" + string(letters[i])
	}
	return "audio_" + dir + "_n"
}

// Register installs both builtins under their builtin: names with l.
func Register(l *pluginhost.Loader) {
	l.RegisterBuiltin("source", NewSourceDescriptor)
	l.RegisterBuiltin("sink", NewSinkDescriptor)
}
