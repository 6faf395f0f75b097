// Package engine wires the runtime's components into one Engine: the
// URID registry, the ring bus, the module/connection graph, the
// scheduler, the realtime callback, the worker goroutine, and the UI
// protocol surface. An embedding audio driver calls Process once per
// period; everything else reaches the engine through the UI protocol
// or the exported bundle/module operations.
package engine

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/synthpod/synthpod/internal/automation"
	"github.com/synthpod/synthpod/internal/builtin"
	"github.com/synthpod/synthpod/internal/config"
	"github.com/synthpod/synthpod/internal/graph"
	"github.com/synthpod/synthpod/internal/logging"
	"github.com/synthpod/synthpod/internal/metrics"
	"github.com/synthpod/synthpod/internal/pbank"
	"github.com/synthpod/synthpod/internal/pluginhost"
	"github.com/synthpod/synthpod/internal/port"
	"github.com/synthpod/synthpod/internal/ring"
	"github.com/synthpod/synthpod/internal/rtengine"
	"github.com/synthpod/synthpod/internal/scheduler"
	"github.com/synthpod/synthpod/internal/uiproto"
	"github.com/synthpod/synthpod/internal/urid"
	"github.com/synthpod/synthpod/internal/worker"
)

// Ring capacities, in bytes. The notification ring is the busiest: one
// message per subscribed port per period.
const (
	uiRingSize     = 1 << 16
	notifyRingSize = 1 << 18
	workerRingSize = 1 << 16
	logRingSize    = 1024
)

// Engine is the assembled runtime.
type Engine struct {
	cfg *config.Config
	log zerolog.Logger

	reg  *urid.Registry
	regs *urid.Regs

	bank   *pbank.Graph
	conns  *graph.ConnGraph
	loader *pluginhost.Loader
	autos  *automation.Table

	uiToRT     *ring.Ring
	rtToUI     *ring.Ring
	rtToWorker *ring.Ring
	workerToRT *ring.Ring
	logRing    *logging.LogRing

	rt     *rtengine.Engine
	worker *worker.Worker
	hub    *uiproto.Hub
	met    *metrics.Metrics

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs and bootstraps an Engine: all components wired, the
// builtin source and sink instantiated, and the worker goroutine
// running. The audio driver may call Process immediately.
func New(cfg *config.Config) (*Engine, error) {
	e := &Engine{
		cfg:  cfg,
		log:  logging.With("engine"),
		reg:  urid.New(),
		bank: pbank.NewGraph(),

		uiToRT:     ring.New(uiRingSize),
		rtToUI:     ring.New(notifyRingSize),
		rtToWorker: ring.New(workerRingSize),
		workerToRT: ring.New(workerRingSize),
		logRing:    logging.NewLogRing(logRingSize),

		done: make(chan struct{}),
	}
	e.regs = urid.NewRegs(e.reg)

	e.bank.Settings = pbank.AudioSettings{
		SampleRate: cfg.Audio.SampleRate,
		PeriodSize: int(cfg.Audio.PeriodSize),
		NumPeriods: cfg.Audio.NumPeriods,
		CPUsUsed:   cfg.Audio.CPUsUsed,
	}

	e.conns = graph.New(e.bank)
	e.autos = automation.NewTable()

	e.loader = pluginhost.NewLoader()
	builtin.Register(e.loader)

	schedPlan := scheduler.NewHolder(nil)
	rtPlan := rtengine.NewHolder()
	pool := port.NewAtomPool(port.DefaultAtomCapacity)
	presets := pbank.NewMemoryPresetStore(e.reg)

	e.worker = worker.New(worker.Config{
		Regs:        e.regs,
		Reg:         e.reg,
		Bank:        e.bank,
		Conns:       e.conns,
		Loader:      e.loader,
		Automations: e.autos,
		Presets:     presets,
		AtomPool:    pool,
		Plan:        schedPlan,
		RTPlan:      rtPlan,
		FromRT:      e.rtToWorker,
		ToRT:        e.workerToRT,
		LogRing:     e.logRing,
		SampleRate:  cfg.Audio.SampleRate,
		MaxBlock:    cfg.Audio.PeriodSize,
		Log:         logging.With("worker"),
	})

	midiOutSym := e.reg.Map("midi_out")
	midiInSym := e.reg.Map("midi_in")
	e.rt = rtengine.New(rtengine.Config{
		Regs:       e.regs,
		Bank:       e.bank,
		Conns:      e.conns,
		Autos:      e.autos,
		Plan:       rtPlan,
		FromUI:     e.uiToRT,
		ToUI:       e.rtToUI,
		ToWorker:   e.rtToWorker,
		FromWorker: e.workerToRT,
		LogRing:    e.logRing,
		WakeWorker: e.worker.Wake,
		Endpoints: func(*automation.Mapping) automation.Endpoints {
			// External events enter through the builtin source's MIDI
			// output and bidirectional echoes leave through the builtin
			// sink's MIDI input, the external control surface boundary.
			return automation.Endpoints{
				SourceOutput: e.bank.SourceURN,
				OutputSymbol: midiOutSym,
				SourceInput:  e.bank.SinkURN,
				InputSymbol:  midiInSym,
			}
		},
		SampleRate: cfg.Audio.SampleRate,
		PeriodSize: cfg.Audio.PeriodSize,
		CPUsUsed:   cfg.Audio.CPUsUsed,
	})

	// Every graph carries the builtin source and sink; they exist
	// before the first period and can never be removed.
	srcURN, err := e.worker.AddModule("builtin:source")
	if err != nil {
		return nil, err
	}
	sinkURN, err := e.worker.AddModule("builtin:sink")
	if err != nil {
		return nil, err
	}
	e.bank.SourceURN = srcURN
	e.bank.SinkURN = sinkURN
	e.worker.RebuildPlan()

	e.met = metrics.New(metrics.Sources{
		LastPeriodNs: e.rt.LastPeriodNs,
		Periods:      e.rt.Period,
		OverBudget:   e.rt.OverBudget,
		RingDrops: map[string]func() uint64{
			"ui_rt":     e.uiToRT.Drops,
			"rt_ui":     e.rtToUI.Drops,
			"rt_worker": e.rtToWorker.Drops,
			"worker_rt": e.workerToRT.Drops,
		},
		LogDrops: e.logRing.Drops,
		ModuleProfiles: func(yield func(name string, min, avg, max float64)) {
			for _, m := range e.bank.Modules() {
				name := m.Alias
				if name == "" {
					name, _ = e.reg.Unmap(m.URN)
				}
				yield(name, m.Profile.Min(), m.Profile.Avg(), m.Profile.Max())
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go func() {
		defer close(e.done)
		e.worker.Run(ctx)
	}()

	return e, nil
}

// Process runs one audio period without MIDI I/O.
func (e *Engine) Process(nframes uint32, in, out [][]float32) error {
	return e.rt.Process(nframes, in, out, nil, nil)
}

// ProcessEvents runs one audio period with MIDI: midiIn events feed
// the builtin source's MIDI stream, and every event reaching the
// builtin sink's MIDI input is handed to midiOut.
func (e *Engine) ProcessEvents(nframes uint32, in, out [][]float32, midiIn []port.AtomEvent, midiOut func(port.AtomEvent)) error {
	return e.rt.Process(nframes, in, out, midiIn, midiOut)
}

// LoadBundle loads a session bundle directory on the worker.
func (e *Engine) LoadBundle(path string) error { return e.worker.LoadBundle(path) }

// SaveBundle saves the session to a bundle directory on the worker.
func (e *Engine) SaveBundle(path string) error { return e.worker.SaveBundle(path) }

// AddModule instantiates pluginURI and returns its assigned URN.
func (e *Engine) AddModule(pluginURI string) (urid.ID, error) {
	return e.worker.AddModule(pluginURI)
}

// RemoveModule destroys a module, deleting its connections first.
func (e *Engine) RemoveModule(urn urid.ID) error { return e.worker.RemoveModule(urn) }

// Connect wires source module/symbol to sink module/symbol with gain;
// feedback marks the edge as permitted to close a cycle.
func (e *Engine) Connect(src urid.ID, srcSym string, sink urid.ID, sinkSym string, gain float32, feedback bool) error {
	return e.worker.Connect(
		graph.PortHandle{Module: src, Symbol: e.reg.Map(srcSym)},
		graph.PortHandle{Module: sink, Symbol: e.reg.Map(sinkSym)},
		gain, feedback,
	)
}

// Disconnect removes the edge; a no-op if it does not exist.
func (e *Engine) Disconnect(src urid.ID, srcSym string, sink urid.ID, sinkSym string) {
	e.worker.Disconnect(
		graph.PortHandle{Module: src, Symbol: e.reg.Map(srcSym)},
		graph.PortHandle{Module: sink, Symbol: e.reg.Map(sinkSym)},
	)
}

// SourceURN and SinkURN return the builtin edge modules' identities.
func (e *Engine) SourceURN() urid.ID { return e.bank.SourceURN }
func (e *Engine) SinkURN() urid.ID   { return e.bank.SinkURN }

// Module looks a live module up by URN.
func (e *Engine) Module(urn urid.ID) (*pbank.Module, bool) { return e.bank.Module(urn) }

// Modules returns every live module in insertion order.
func (e *Engine) Modules() []*pbank.Module { return e.bank.Modules() }

// Connections returns every port connection in insertion order.
func (e *Engine) Connections() []*graph.PortConn { return e.conns.Connections() }

// Registry returns the engine's URID registry.
func (e *Engine) Registry() *urid.Registry { return e.reg }

// Regs returns the pre-interned well-known URIDs.
func (e *Engine) Regs() *urid.Regs { return e.regs }

// Loader exposes the plugin loader so an embedder can register
// additional builtin module factories before adding them.
func (e *Engine) Loader() *pluginhost.Loader { return e.loader }

// Automations exposes the automation mapping table.
func (e *Engine) Automations() *automation.Table { return e.autos }

// SendUI enqueues a UI-protocol request onto the UI→RT ring; it is
// applied at the start of the next period. Returns false if the ring
// reservation failed.
func (e *Engine) SendUI(m uiproto.Message) bool {
	return uiproto.Send(e.uiToRT, e.regs, m)
}

// DrainUI empties the RT→UI ring of notifications and echoes into fn.
// Mutually exclusive with ServeUI, which pumps the same ring to the
// websocket hub.
func (e *Engine) DrainUI(fn func(uiproto.Message)) {
	uiproto.DrainInto(e.rtToUI, e.regs, fn)
}

// QuitRequested reports whether a controller asked the engine to shut
// down.
func (e *Engine) QuitRequested() bool { return e.rt.QuitRequested() }

// Metrics returns the engine's Prometheus collectors.
func (e *Engine) Metrics() *metrics.Metrics { return e.met }

// ServeUI mounts the websocket controller endpoint and the Prometheus
// metrics handler on addr, and pumps notifications from the RT→UI
// ring out to every connected controller. Blocks until the listener
// fails; run it on its own goroutine.
func (e *Engine) ServeUI(addr string) error {
	e.hub = uiproto.NewHub(e.regs, e.reg, e.uiToRT)

	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-e.done:
				return
			case <-ticker.C:
				e.DrainUI(e.hub.Broadcast)
				e.met.Refresh()
			}
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/ws", e.hub)
	mux.Handle("/metrics", e.met.Handler())
	return http.ListenAndServe(addr, mux)
}

// Close stops the worker goroutine and waits for it to drain.
func (e *Engine) Close() error {
	e.cancel()
	<-e.done
	return nil
}
