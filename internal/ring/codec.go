package ring

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrShortBuffer is returned by Reader methods when the remaining
// payload is too small to satisfy the read.
var ErrShortBuffer = errors.New("ring: short buffer")

// Writer builds a message payload in little-endian wire format,
// mirroring the length-prefixed encoding the plugin host's own state
// streams use. Used to encode the typed fields of a uiproto.Message
// or an automation event before handing it to Ring.Write.
type Writer struct {
	buf []byte
	err error
}

// NewWriter creates an empty Writer with a capacity hint.
func NewWriter(capHint int) *Writer {
	return &Writer{buf: make([]byte, 0, capHint)}
}

// Err returns the first error encountered, if any.
func (w *Writer) Err() error { return w.err }

// Reset clears the writer for reuse, keeping its backing array so hot
// paths can re-encode without allocating.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.err = nil
}

// Bytes returns the encoded payload so far.
func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) WriteUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteInt32(v int32) { w.WriteUint32(uint32(v)) }

func (w *Writer) WriteFloat32(v float32) {
	w.WriteUint32(math.Float32bits(v))
}

func (w *Writer) WriteUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) WriteBytes(p []byte) {
	w.WriteUint32(uint32(len(p)))
	w.buf = append(w.buf, p...)
}

func (w *Writer) WriteString(s string) {
	w.WriteBytes([]byte(s))
}

// Reader walks a payload produced by Writer.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader wraps payload for sequential decoding.
func NewReader(payload []byte) *Reader {
	return &Reader{buf: payload}
}

// Err returns the first error encountered, if any; once set, every
// subsequent read is a no-op returning the zero value.
func (r *Reader) Err() error { return r.err }

func (r *Reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.buf) {
		r.err = ErrShortBuffer
		return false
	}
	return true
}

func (r *Reader) ReadUint32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *Reader) ReadInt32() int32 { return int32(r.ReadUint32()) }

func (r *Reader) ReadFloat32() float32 {
	return math.Float32frombits(r.ReadUint32())
}

func (r *Reader) ReadUint64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *Reader) ReadBool() bool {
	if !r.need(1) {
		return false
	}
	v := r.buf[r.off] != 0
	r.off++
	return v
}

func (r *Reader) ReadBytes() []byte {
	n := int(r.ReadUint32())
	if n == 0 || !r.need(n) {
		return nil
	}
	v := r.buf[r.off : r.off+n]
	r.off += n
	return v
}

func (r *Reader) ReadString() string {
	return string(r.ReadBytes())
}
