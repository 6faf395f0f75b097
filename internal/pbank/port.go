package pbank

import (
	"sync/atomic"

	"github.com/synthpod/synthpod/internal/port"
	"github.com/synthpod/synthpod/internal/urid"
)

// Direction is a Port's data flow direction relative to its Module.
type Direction int

const (
	Input Direction = iota
	Output
)

// Port is the attribute set of one plugin port:
// identity, type, direction, the Control-specific range/flags, and the
// buffer allocated for it.
type Port struct {
	ModuleURN urid.ID
	Index     int
	Symbol    urid.ID
	Label     string

	Type      port.Type
	Direction Direction
	Subtypes  urid.AtomSubtype // meaningful only when Type == port.Atom

	// Control-only range and display hints. Zero values for a
	// non-Control port are simply unused.
	Min, Max, Default float32
	Integer           bool
	Boolean           bool
	Logarithmic       bool
	Toggle            bool
	Enum              bool
	Bitmask           bool
	Unit              string
	ScalePoints       []ScalePoint

	subscribers atomic.Int32

	Buffer port.Buffer
}

// Subscribe increments the port's subscription refcount; once
// positive, the RT engine emits a notification for this port every period.
func (p *Port) Subscribe() int32 { return p.subscribers.Add(1) }

// Unsubscribe decrements the refcount, floored at zero.
func (p *Port) Unsubscribe() int32 {
	for {
		cur := p.subscribers.Load()
		if cur == 0 {
			return 0
		}
		if p.subscribers.CompareAndSwap(cur, cur-1) {
			return cur - 1
		}
	}
}

// Subscribed reports whether any controller currently subscribes to
// this port's notifications.
func (p *Port) Subscribed() bool { return p.subscribers.Load() > 0 }

// SetControlValue writes v into the port's Control buffer slot. It is
// a no-op (returning false) for any other port type; the caller
// routes Atom writes through AppendAtomEvent instead.
func (p *Port) SetControlValue(v float32) bool {
	cb, ok := p.Buffer.(*port.ControlBuffer)
	if !ok {
		return false
	}
	cb.Value = v
	return true
}

// ControlValue returns the port's last written/observed Control
// value, or 0 and false if this is not a Control port.
func (p *Port) ControlValue() (float32, bool) {
	cb, ok := p.Buffer.(*port.ControlBuffer)
	if !ok {
		return 0, false
	}
	return cb.Value, true
}

// AppendAtomEvent appends e to the port's Atom sequence, used by
// SetPortValue when writing a patch:Set into a patch-capable Atom
// input. It returns false if the buffer is full or is not an Atom
// buffer at all.
func (p *Port) AppendAtomEvent(e port.AtomEvent) bool {
	ab, ok := p.Buffer.(*port.AtomBuffer)
	if !ok {
		return false
	}
	return ab.Append(e)
}
