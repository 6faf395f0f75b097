package port

import (
	"sync"
	"sync/atomic"

	"github.com/synthpod/synthpod/internal/urid"
)

// AtomPool recycles AtomBuffer allocations on the worker's module
// load/unload path. RT never touches it: Atom port buffers are sized
// and handed over at module-activate time, and only ever returned to
// the pool when the owning Module is destroyed, both on the worker thread.
type AtomPool struct {
	pool sync.Pool

	totalAllocations atomic.Uint64
	hits             atomic.Uint64
	misses           atomic.Uint64
	highWaterMark    atomic.Uint64
	currentAllocated atomic.Uint64
}

// NewAtomPool creates a pool whose buffers are allocated with the
// given default capacity when the pool is empty.
func NewAtomPool(defaultCapacity int) *AtomPool {
	p := &AtomPool{}
	p.pool.New = func() any {
		p.totalAllocations.Add(1)
		p.misses.Add(1)
		return NewAtomBuffer(defaultCapacity, urid.AtomSubtypeAll)
	}
	return p
}

// Get returns an AtomBuffer sized to at least capacity and restricted
// to subtypes, recycling a pooled instance when one is large enough.
func (p *AtomPool) Get(capacity int, subtypes urid.AtomSubtype) *AtomBuffer {
	buf := p.pool.Get().(*AtomBuffer)
	if buf.capacity < capacity {
		// Pooled instance too small for this port; allocate a
		// right-sized one and let the undersized one be collected.
		buf = NewAtomBuffer(capacity, subtypes)
		p.misses.Add(1)
		p.totalAllocations.Add(1)
	} else {
		p.hits.Add(1)
		buf.subtypes = subtypes
		buf.Reset()
	}

	current := p.currentAllocated.Add(1)
	for {
		high := p.highWaterMark.Load()
		if current <= high || p.highWaterMark.CompareAndSwap(high, current) {
			break
		}
	}
	return buf
}

// Put returns buf to the pool for reuse by a future module load.
func (p *AtomPool) Put(buf *AtomBuffer) {
	buf.Reset()
	p.pool.Put(buf)
	p.currentAllocated.Add(^uint64(0))
}

// Diagnostics reports pool utilization, mirroring the counters logged
// by the event pool this is adapted from.
type Diagnostics struct {
	TotalAllocations uint64
	Hits             uint64
	Misses           uint64
	HighWaterMark    uint64
	CurrentAllocated uint64
}

func (p *AtomPool) Diagnostics() Diagnostics {
	return Diagnostics{
		TotalAllocations: p.totalAllocations.Load(),
		Hits:             p.hits.Load(),
		Misses:           p.misses.Load(),
		HighWaterMark:    p.highWaterMark.Load(),
		CurrentAllocated: p.currentAllocated.Load(),
	}
}
