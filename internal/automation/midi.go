package automation

import (
	"gitlab.com/gomidi/midi/v2"

	"github.com/synthpod/synthpod/internal/pbank"
	"github.com/synthpod/synthpod/internal/port"
	"github.com/synthpod/synthpod/internal/urid"
)

// scanMIDI walks src's Atom output sequence for Control Change events
// matching m's (channel, controller) — wildcard channel/controller of
// -1 matches anything — and applies the first match found this period.
func (m *Mapping) scanMIDI(bank *pbank.Graph, regs *urid.Regs, src *port.AtomBuffer) {
	for _, ev := range src.Events() {
		if ev.Type != regs.MIDIEvent {
			continue
		}
		var ch, cc, val uint8
		if !midi.Message(ev.Data).GetControlChange(&ch, &cc, &val) {
			continue
		}

		if m.Learning {
			m.Channel = int(ch)
			m.Controller = int(cc)
			m.Learning = false
		}
		if m.Channel != -1 && m.Channel != int(ch) {
			continue
		}
		if m.Controller != -1 && m.Controller != int(cc) {
			continue
		}

		remapped := Remap(float64(val), m.SrcMin, m.SrcMax, m.SnkMin, m.SnkMax)
		m.WriteSink(bank, remapped)
		return // one applied write per period, per mapping
	}
}

// emitMIDI synthesises a Control Change event into dst carrying the
// sink's current value remapped back into [a,b], for the
// bidirectional src_enabled control-surface path.
func (m *Mapping) emitMIDI(bank *pbank.Graph, regs *urid.Regs, dst *port.AtomBuffer) {
	if m.Channel < 0 || m.Controller < 0 {
		return // nothing learned yet to emit on
	}
	v, ok := m.ReadSink(bank)
	if !ok {
		return
	}
	remapped := Remap(v, m.SnkMin, m.SnkMax, m.SrcMin, m.SrcMax)
	val := clampByte(remapped)
	msg := midi.ControlChange(uint8(m.Channel), uint8(m.Controller), val)
	dst.Append(port.AtomEvent{Type: regs.MIDIEvent, Data: msg})
}

func clampByte(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 127 {
		return 127
	}
	return uint8(v)
}
