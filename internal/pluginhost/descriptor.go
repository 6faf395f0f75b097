// Package pluginhost is the plugin host glue: resolving a
// plugin URI to a loadable Descriptor, instantiating it with the
// engine's feature set, and exposing the per-port contract the RT
// engine drives every period.
// The capability surface is split into a base lifecycle interface and
// optional Stateful/Working extensions, resolved by type assertion.
package pluginhost

import (
	"github.com/synthpod/synthpod/internal/port"
	"github.com/synthpod/synthpod/internal/state"
	"github.com/synthpod/synthpod/internal/urid"
)

// PortSpec describes one port a Descriptor declares, in the exact
// order Instance.ConnectPort indexes them.
type PortSpec struct {
	Symbol      string
	Label       string
	Type        port.Type
	Direction   int // 0 = Input, 1 = Output; mirrors pbank.Direction
	Subtypes    urid.AtomSubtype
	Min, Max    float32
	Default     float32
	AtomCapHint int // 0 = use port.DefaultAtomCapacity
}

// ParamSpec describes one plugin-provided Param, distinct from a
// port, discovered at Instantiate time.
type ParamSpec struct {
	Property urid.ID
	Label    string
	Min, Max float64
	HasRange bool
}

// Descriptor is the loaded, not-yet-instantiated plugin: the
// equivalent of resolving the descriptor function and matching its URI.
type Descriptor interface {
	URI() string
	Ports() []PortSpec
	Params() []ParamSpec
	Instantiate(sampleRate float64, maxBlockLength uint32, urids *urid.Regs) (Instance, error)
}

// Instance is one running plugin instance's contract to the RT
// engine: connect_port/activate/run/deactivate/cleanup.
type Instance interface {
	// ConnectPort binds buf as the buffer for the port at index; the
	// pointer inside buf is stable for the port's lifetime. Must be
	// called before Activate.
	ConnectPort(index int, buf port.Buffer) error
	Activate(minFrames, maxFrames uint32) error
	// Run executes nframes of processing. Must be RT-safe: no
	// allocation, no blocking I/O, bounded time.
	Run(nframes uint32) error
	Deactivate() error
	Cleanup() error
	// Extension resolves an optional capability by id, following the
	// plugin standard's own extension-query convention.
	Extension(id string) (any, bool)
}

// StatefulInstance is an Instance that can save/restore its state,
// used by state save/restore on the worker thread.
type StatefulInstance interface {
	Instance
	SaveState(w *state.Writer) error
	LoadState(r *state.Reader) error
}

// WorkingInstance is an Instance that can defer work to the worker
// thread via schedule_work/work.
type WorkingInstance interface {
	Instance
	// ScheduleWork is called from RT; it must enqueue payload without
	// blocking and return false if it could not (a dropped work
	// request, logged but not fatal).
	ScheduleWork(payload []byte) bool
	// Work runs on the worker thread; respond delivers payload back to
	// the instance inside its next Run.
	Work(respond func([]byte), payload []byte)
}

// WorkSource is implemented alongside WorkingInstance by plugins that
// queue work requests during Run. The RT engine drains it after every
// Run and forwards each payload to the RT→Worker ring; DrainWork must
// not allocate or block.
type WorkSource interface {
	DrainWork(fn func(payload []byte))
}

// WorkResponder receives the worker's response on the RT thread,
// delivered before the instance's next Run.
type WorkResponder interface {
	WorkResponse(payload []byte)
}
