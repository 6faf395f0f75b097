package automation

import (
	"bytes"
	"encoding/binary"
	"math"
	"path"
	"strings"

	"github.com/synthpod/synthpod/internal/pbank"
	"github.com/synthpod/synthpod/internal/port"
	"github.com/synthpod/synthpod/internal/urid"
)

// Minimal subset of the OSC 1.0 packet format: an address pattern, a
// type tag string, and the arguments it describes. Automation only
// ever needs the address and the leading numeric argument.

type oscMessage struct {
	address string
	args    []float64
}

func decodeOSC(data []byte) (oscMessage, bool) {
	addr, rest, ok := readOSCString(data)
	if !ok || !strings.HasPrefix(addr, "/") {
		return oscMessage{}, false
	}
	tags, rest, ok := readOSCString(rest)
	if !ok || !strings.HasPrefix(tags, ",") {
		return oscMessage{address: addr}, true
	}

	var args []float64
	for _, tag := range tags[1:] {
		switch tag {
		case 'f':
			if len(rest) < 4 {
				return oscMessage{address: addr, args: args}, true
			}
			bits := binary.BigEndian.Uint32(rest[:4])
			args = append(args, float64(math.Float32frombits(bits)))
			rest = rest[4:]
		case 'i':
			if len(rest) < 4 {
				return oscMessage{address: addr, args: args}, true
			}
			args = append(args, float64(int32(binary.BigEndian.Uint32(rest[:4]))))
			rest = rest[4:]
		default:
			// Unsupported tag (string/blob/etc.): stop, we only need
			// the leading numeric argument.
			return oscMessage{address: addr, args: args}, true
		}
	}
	return oscMessage{address: addr, args: args}, true
}

func readOSCString(data []byte) (string, []byte, bool) {
	idx := bytes.IndexByte(data, 0)
	if idx < 0 {
		return "", nil, false
	}
	s := string(data[:idx])
	// OSC strings are null-padded to a 4-byte boundary.
	total := ((idx + 1 + 3) / 4) * 4
	if total > len(data) {
		return "", nil, false
	}
	return s, data[total:], true
}

func encodeOSCFloat(address string, v float32) []byte {
	var buf bytes.Buffer
	writeOSCString(&buf, address)
	writeOSCString(&buf, ",f")
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], math.Float32bits(v))
	buf.Write(b[:])
	return buf.Bytes()
}

func writeOSCString(buf *bytes.Buffer, s string) {
	buf.WriteString(s)
	buf.WriteByte(0)
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
}

// pathMatches reports whether addr matches the mapping's path
// pattern, treated as a filepath.Match-style glob (OSC address
// patterns and shell globs share the same `*`/`?`/`[...]` vocabulary,
// so path.Match is a faithful, dependency-free match engine for it).
func pathMatches(pattern, addr string) bool {
	ok, err := path.Match(pattern, addr)
	return err == nil && ok
}

func (m *Mapping) scanOSC(bank *pbank.Graph, regs *urid.Regs, src *port.AtomBuffer) {
	for _, ev := range src.Events() {
		if ev.Type != regs.OSCEvent {
			continue
		}
		msg, ok := decodeOSC(ev.Data)
		if !ok || len(msg.args) == 0 {
			continue
		}

		if m.Learning {
			m.Path = msg.address
			m.Learning = false
		}
		if m.Path != "" && !pathMatches(m.Path, msg.address) {
			continue
		}

		remapped := Remap(msg.args[0], m.SrcMin, m.SrcMax, m.SnkMin, m.SnkMax)
		m.WriteSink(bank, remapped)
		return
	}
}

func (m *Mapping) emitOSC(bank *pbank.Graph, regs *urid.Regs, dst *port.AtomBuffer) {
	if m.Path == "" {
		return
	}
	v, ok := m.ReadSink(bank)
	if !ok {
		return
	}
	remapped := Remap(v, m.SnkMin, m.SnkMax, m.SrcMin, m.SrcMax)
	data := encodeOSCFloat(m.Path, float32(remapped))
	dst.Append(port.AtomEvent{Type: regs.OSCEvent, Data: data})
}
