package uiproto

import (
	"math"

	"github.com/synthpod/synthpod/internal/ring"
	"github.com/synthpod/synthpod/internal/urid"
)

// Encode serialises m into a ring.Writer payload ready for
// ring.Ring.Write, tagging it with m's verb URID from regs.
func Encode(regs *urid.Regs, m Message) (urid.ID, []byte) {
	return EncodeTo(ring.NewWriter(64), regs, m)
}

// EncodeTo serialises m into w, which the caller may reuse across
// calls (Reset first) so the RT engine's notification path does not
// allocate a fresh payload buffer every period.
func EncodeTo(w *ring.Writer, regs *urid.Regs, m Message) (urid.ID, []byte) {
	if m.Verb == VerbUnknown && m.Raw != nil {
		return m.Raw.VerbURID, m.Raw.Payload
	}
	w.WriteUint32(uint32(m.ModuleURN))
	w.WriteString(m.PluginURI)
	w.WriteUint32(uint32(m.PortSymbol))
	w.WriteFloat32(m.X)
	w.WriteFloat32(m.Y)
	w.WriteString(m.Alias)
	w.WriteBool(m.Enabled)
	w.WriteUint64(uint64(int64(m.ProfileMinNs)))
	w.WriteUint64(uint64(int64(m.ProfileAvgNs)))
	w.WriteUint64(uint64(int64(m.ProfileMaxNs)))
	w.WriteUint32(uint32(m.SinkModule))
	w.WriteUint32(uint32(m.SinkSymbol))
	w.WriteUint32(uint32(m.SourceModule))
	w.WriteUint32(uint32(m.SourceSymbol))
	w.WriteFloat32(m.Gain)
	w.WriteString(m.Path)
	w.WriteFloat32(m.NotificationValue)
	w.WriteFloat32(m.NotificationPeakMin)
	w.WriteFloat32(m.NotificationPeakMax)
	w.WriteBytes(m.NotificationAtom)
	w.WriteInt32(m.IntValue)
	w.WriteBool(m.BoolValue)
	w.WriteInt32(m.AutoKind)
	w.WriteInt32(m.Channel)
	w.WriteInt32(m.Controller)
	w.WriteUint64(math.Float64bits(m.SrcMin))
	w.WriteUint64(math.Float64bits(m.SrcMax))
	w.WriteUint64(math.Float64bits(m.SnkMin))
	w.WriteUint64(math.Float64bits(m.SnkMax))
	w.WriteBool(m.SrcEnabled)
	w.WriteBool(m.SnkEnabled)
	w.WriteBool(m.Learning)

	return verbURI(regs, m.Verb), w.Bytes()
}

// Decode parses a ring.Message back into a Message, using regs to
// resolve the type URID back to a Verb. An unrecognised verb becomes a
// Message wrapping a RawMessage rather than an error.
func Decode(regs *urid.Regs, typ urid.ID, payload []byte) Message {
	verb := verbFromURI(regs, typ)
	if verb == VerbUnknown {
		return Message{Verb: VerbUnknown, Raw: &RawMessage{VerbURID: typ, Payload: payload}}
	}

	r := ring.NewReader(payload)
	m := Message{Verb: verb}
	m.ModuleURN = urid.ID(r.ReadUint32())
	m.PluginURI = r.ReadString()
	m.PortSymbol = urid.ID(r.ReadUint32())
	m.X = r.ReadFloat32()
	m.Y = r.ReadFloat32()
	m.Alias = r.ReadString()
	m.Enabled = r.ReadBool()
	m.ProfileMinNs = float64(int64(r.ReadUint64()))
	m.ProfileAvgNs = float64(int64(r.ReadUint64()))
	m.ProfileMaxNs = float64(int64(r.ReadUint64()))
	m.SinkModule = urid.ID(r.ReadUint32())
	m.SinkSymbol = urid.ID(r.ReadUint32())
	m.SourceModule = urid.ID(r.ReadUint32())
	m.SourceSymbol = urid.ID(r.ReadUint32())
	m.Gain = r.ReadFloat32()
	m.Path = r.ReadString()
	m.NotificationValue = r.ReadFloat32()
	m.NotificationPeakMin = r.ReadFloat32()
	m.NotificationPeakMax = r.ReadFloat32()
	m.NotificationAtom = r.ReadBytes()
	m.IntValue = r.ReadInt32()
	m.BoolValue = r.ReadBool()
	m.AutoKind = r.ReadInt32()
	m.Channel = r.ReadInt32()
	m.Controller = r.ReadInt32()
	m.SrcMin = math.Float64frombits(r.ReadUint64())
	m.SrcMax = math.Float64frombits(r.ReadUint64())
	m.SnkMin = math.Float64frombits(r.ReadUint64())
	m.SnkMax = math.Float64frombits(r.ReadUint64())
	m.SrcEnabled = r.ReadBool()
	m.SnkEnabled = r.ReadBool()
	m.Learning = r.ReadBool()
	return m
}

// Send encodes and writes m onto rng, reporting whether the
// reservation succeeded (a failed reservation drops the
// message, never blocks).
func Send(rng *ring.Ring, regs *urid.Regs, m Message) bool {
	typ, payload := Encode(regs, m)
	return rng.Write(typ, payload)
}

// DrainInto calls fn with every Message currently queued on rng.
func DrainInto(rng *ring.Ring, regs *urid.Regs, fn func(Message)) {
	rng.Drain(func(raw ring.Message) {
		fn(Decode(regs, raw.Type, raw.Payload))
	})
}
