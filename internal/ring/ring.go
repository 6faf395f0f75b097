// Package ring implements the lockless single-producer/single-consumer
// byte ring that carries tagged messages between the RT, worker, and UI
// threads. The producer never blocks: a reservation that does not
// fit is simply dropped and counted. The consumer drains a ring to
// empty without allocating, by returning slices that alias the ring's
// backing array — a consumer must finish with a message before the next
// reservation can overwrite it, which holds for every caller here since
// all three threads drain their inbound ring to empty once per period
// or once per wakeup before doing anything else with the data.
package ring

import (
	"sync/atomic"

	"github.com/synthpod/synthpod/internal/urid"
)

const headerSize = 8 // uint32 total length + uint32 type URID

// Records occupy a multiple of 8 bytes so a header never straddles the
// end of the backing array and the padding record below always fits.
func aligned(n int) uint64 { return uint64(n+7) &^ 7 }

// typeSkip marks a padding record inserted when a reservation would
// otherwise straddle the end of the backing array; the consumer skips
// it without surfacing it as a message.
const typeSkip uint32 = 0

// Ring is a fixed-capacity byte ring. Capacity must be a power of two.
// The zero value is not usable; construct with New.
type Ring struct {
	buf  []byte
	mask uint64

	head atomic.Uint64 // producer-owned write cursor
	tail atomic.Uint64 // consumer-owned read cursor

	drops atomic.Uint64
}

// New creates a Ring with the given capacity in bytes, rounded up to
// the next power of two and never less than 64 bytes.
func New(capacity int) *Ring {
	cap := nextPow2(capacity)
	return &Ring{
		buf:  make([]byte, cap),
		mask: uint64(cap - 1),
	}
}

func nextPow2(n int) int {
	if n < 64 {
		n = 64
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Drops returns the count of reservations that failed for lack of
// contiguous space.
func (r *Ring) Drops() uint64 { return r.drops.Load() }

func (r *Ring) free(head, tail uint64) uint64 {
	return uint64(len(r.buf)) - (head - tail)
}

// Write attempts to append a message of the given type carrying
// payload. It returns false without blocking if there is not enough
// contiguous space; the caller must treat that as a dropped message
// and increment whatever error counter it tracks (Drops already
// reflects it here).
func (r *Ring) Write(typ urid.ID, payload []byte) bool {
	total := headerSize + len(payload)
	alloc := aligned(total)
	head := r.head.Load()
	tail := r.tail.Load()

	if alloc > r.free(head, tail) {
		r.drops.Add(1)
		return false
	}

	capacity := uint64(len(r.buf))
	off := head & r.mask
	tailSpace := capacity - off

	if alloc > tailSpace {
		// Would straddle the end of the backing array. Only proceed if
		// padding the remainder plus the real record both fit within
		// the already-confirmed free space.
		if alloc+tailSpace > r.free(head, tail) {
			r.drops.Add(1)
			return false
		}
		r.putHeader(off, typeSkip, int(tailSpace)-headerSize)
		head += tailSpace
		off = 0
	}

	r.putHeader(off, uint32(typ), len(payload))
	copy(r.buf[off+headerSize:], payload)
	head += alloc

	r.head.Store(head)
	return true
}

func (r *Ring) putHeader(off uint64, typ uint32, payloadLen int) {
	putU32(r.buf[off:], uint32(headerSize+payloadLen))
	putU32(r.buf[off+4:], typ)
}

// Message is a view onto one drained record. Payload aliases the
// ring's backing array and is only valid until the next call to Read
// or Advance.
type Message struct {
	Type    urid.ID
	Payload []byte
}

// Read returns the next message without consuming it, or ok=false if
// the ring is empty. Call Advance to consume it.
func (r *Ring) Read() (Message, bool) {
	head := r.head.Load()
	tail := r.tail.Load()

	for tail < head {
		off := tail & r.mask
		total := getU32(r.buf[off:])
		typ := getU32(r.buf[off+4:])

		if typ == typeSkip {
			tail += aligned(int(total))
			r.tail.Store(tail)
			continue
		}

		payload := r.buf[off+headerSize : off+uint64(total)]
		return Message{Type: urid.ID(typ), Payload: payload}, true
	}
	return Message{}, false
}

// Advance consumes the message most recently returned by Read.
func (r *Ring) Advance(m Message) {
	r.tail.Add(aligned(headerSize + len(m.Payload)))
}

// Drain calls fn for every message currently queued, advancing after
// each, until the ring is empty. fn must not call Write on this ring.
func (r *Ring) Drain(fn func(Message)) {
	for {
		m, ok := r.Read()
		if !ok {
			return
		}
		fn(m)
		r.Advance(m)
	}
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
