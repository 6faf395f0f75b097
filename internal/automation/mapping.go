// Package automation maps external MIDI CC and OSC
// messages onto port/parameter writes with linear remapping, clipping,
// learn mode, and the bidirectional src_enabled path for control
// surfaces that need their fader position echoed back.
package automation

import (
	"github.com/synthpod/synthpod/internal/pbank"
	"github.com/synthpod/synthpod/internal/urid"
)

// Kind selects which external protocol a Mapping listens on.
type Kind int

const (
	None Kind = iota
	MIDI
	OSC
)

// SinkKind distinguishes the two shapes a Mapping's target can take.
type SinkKind int

const (
	SinkPort SinkKind = iota
	SinkParam
)

// SinkDescriptor addresses the module/port or module/property a
// Mapping writes to.
type SinkDescriptor struct {
	Kind   SinkKind
	Module urid.ID
	Symbol urid.ID // valid when Kind == SinkPort
	Property urid.ID // valid when Kind == SinkParam
	Range    urid.ID // valid when Kind == SinkParam
}

// Mapping is one AutomationMapping.
type Mapping struct {
	Kind Kind
	Sink SinkDescriptor

	SrcMin, SrcMax float64 // [a,b]
	SnkMin, SnkMax float64 // [c,d]

	SrcEnabled bool
	SnkEnabled bool
	Learning   bool

	// MIDI
	Channel    int // -1 = any
	Controller int // -1 = any

	// OSC
	Path string
}

// Remap maps v from [a,b] to [c,d] linearly, clamping v into [a,b]
// first, and handles a==b or c==d as a constant output. Clipping the
// result to the sink's declared range is WriteSink's job, since only
// the resolved port/param knows that range.
func Remap(v, a, b, c, d float64) float64 {
	if a == b {
		return c
	}
	if v < a {
		v = a
	}
	if v >= b {
		return d
	}
	if c == d {
		return c
	}
	return c + (v-a)*(d-c)/(b-a)
}

// resolvePort looks up the module/port a port-kind Mapping's Sink
// names, so the caller can write to it.
func (m *Mapping) resolvePort(bank *pbank.Graph) (*pbank.Module, *pbank.Port, bool) {
	mod, ok := bank.Module(m.Sink.Module)
	if !ok {
		return nil, nil, false
	}
	p, ok := mod.PortBySymbol(m.Sink.Symbol)
	if !ok {
		return nil, nil, false
	}
	return mod, p, true
}

func (m *Mapping) resolveParam(bank *pbank.Graph) (*pbank.Module, *pbank.Param, bool) {
	mod, ok := bank.Module(m.Sink.Module)
	if !ok {
		return nil, nil, false
	}
	p, ok := mod.Params.Get(m.Sink.Property)
	if !ok {
		return nil, nil, false
	}
	return mod, p, true
}

// clampDeclared clips v into a declared [lo,hi] range. A degenerate
// range (lo >= hi) means nothing was declared and v passes through.
func clampDeclared(v, lo, hi float64) float64 {
	if lo >= hi {
		return v
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// WriteSink applies value (already remapped into [c,d]) to whatever
// this Mapping's Sink addresses, clipping it to the sink's declared
// range first — [c,d] is the mapping's target range, not the port's,
// and the two need not agree.
func (m *Mapping) WriteSink(bank *pbank.Graph, value float64) bool {
	switch m.Sink.Kind {
	case SinkPort:
		_, p, ok := m.resolvePort(bank)
		if !ok {
			return false
		}
		value = clampDeclared(value, float64(p.Min), float64(p.Max))
		return p.SetControlValue(float32(value))
	case SinkParam:
		_, p, ok := m.resolveParam(bank)
		if !ok {
			return false
		}
		if p.HasRange {
			value = clampDeclared(value, p.Min, p.Max)
		}
		p.SetValue(value)
		return true
	default:
		return false
	}
}

// ReadSink returns the sink's current value for the upstream
// src_enabled path, or ok=false if it cannot be read.
func (m *Mapping) ReadSink(bank *pbank.Graph) (float64, bool) {
	switch m.Sink.Kind {
	case SinkPort:
		_, p, ok := m.resolvePort(bank)
		if !ok {
			return 0, false
		}
		v, ok := p.ControlValue()
		return float64(v), ok
	case SinkParam:
		_, p, ok := m.resolveParam(bank)
		if !ok {
			return 0, false
		}
		if f, ok := p.Value().(float64); ok {
			return f, true
		}
		return 0, false
	default:
		return 0, false
	}
}
