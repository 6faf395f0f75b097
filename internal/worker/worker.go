// Package worker implements the non-realtime worker thread:
// module load/unload, plugin work dispatch, state save/restore, and
// preset database maintenance, all off the RT path.
package worker

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/synthpod/synthpod/internal/automation"
	"github.com/synthpod/synthpod/internal/graph"
	"github.com/synthpod/synthpod/internal/logging"
	"github.com/synthpod/synthpod/internal/pbank"
	"github.com/synthpod/synthpod/internal/pluginhost"
	"github.com/synthpod/synthpod/internal/port"
	"github.com/synthpod/synthpod/internal/ring"
	"github.com/synthpod/synthpod/internal/rtengine"
	"github.com/synthpod/synthpod/internal/scheduler"
	"github.com/synthpod/synthpod/internal/state"
	"github.com/synthpod/synthpod/internal/synerr"
	"github.com/synthpod/synthpod/internal/uiproto"
	"github.com/synthpod/synthpod/internal/urid"

	"github.com/rs/zerolog"
)

// Worker owns everything the non-realtime thread is responsible for: plugin
// lifecycles, the *next* scheduler plan, file I/O for state, and its
// half of the RT↔Worker ring.
type Worker struct {
	Log zerolog.Logger

	regs *urid.Regs
	reg  *urid.Registry

	bank  *pbank.Graph
	conns *graph.ConnGraph

	loader      *pluginhost.Loader
	automations *automation.Table
	presets     pbank.PresetStore
	atomPool    *port.AtomPool

	plan   *scheduler.Holder
	rtPlan *rtengine.Holder

	// mu guards every mutation of bank/conns/instances below so that
	// errgroup-parallel module instantiation during bundle load (the
	// only place more than one goroutine ever touches them) cannot race
	// with itself; Run's single goroutine needs it only incidentally,
	// since nothing else runs concurrently with it.
	mu        sync.Mutex
	instances map[urid.ID]pluginhost.Instance

	// opMu serialises the ring-driven dispatch loop with the
	// synchronous operation entry points (AddModule, LoadBundle,
	// SaveBundle) the engine calls directly at bootstrap and from the
	// CLI, both of which may run while the dispatch goroutine is live.
	opMu sync.Mutex

	fromRT *ring.Ring // RT writes requests here
	toRT   *ring.Ring // worker writes responses/echoes here

	logRing *logging.LogRing // drained here, never touched by RT beyond Push

	sampleRate     float64
	maxBlockLength uint32

	wake chan struct{}
}

// Config bundles the collaborators a Worker needs, all already
// constructed by pkg/engine at startup.
type Config struct {
	Regs        *urid.Regs
	Reg         *urid.Registry
	Bank        *pbank.Graph
	Conns       *graph.ConnGraph
	Loader      *pluginhost.Loader
	Automations *automation.Table
	Presets     pbank.PresetStore
	AtomPool    *port.AtomPool
	Plan        *scheduler.Holder
	RTPlan      *rtengine.Holder
	FromRT      *ring.Ring
	ToRT        *ring.Ring
	LogRing     *logging.LogRing
	SampleRate  float64
	MaxBlock    uint32
	Log         zerolog.Logger
}

func New(cfg Config) *Worker {
	return &Worker{
		Log:            cfg.Log,
		regs:           cfg.Regs,
		reg:            cfg.Reg,
		bank:           cfg.Bank,
		conns:          cfg.Conns,
		loader:         cfg.Loader,
		automations:    cfg.Automations,
		presets:        cfg.Presets,
		atomPool:       cfg.AtomPool,
		plan:           cfg.Plan,
		rtPlan:         cfg.RTPlan,
		instances:      make(map[urid.ID]pluginhost.Instance),
		fromRT:         cfg.FromRT,
		toRT:           cfg.ToRT,
		logRing:        cfg.LogRing,
		sampleRate:     cfg.SampleRate,
		maxBlockLength: cfg.MaxBlock,
		wake:           make(chan struct{}, 1),
	}
}

// Wake nudges the worker to drain its ring immediately rather than
// waiting for the next poll tick. Safe to call from any thread; a
// buffered channel stands in for a condition-variable wakeup since
// the rings have no OS-level wait primitive of their own.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run drains fromRT until ctx is cancelled. It is the worker thread's
// entire body: one goroutine, blocking between wakeups, never on the
// RT path.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		w.drainOnce()
		if w.logRing != nil {
			w.logRing.DrainToLog()
		}
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		case <-ticker.C:
		}
	}
}

func (w *Worker) drainOnce() {
	w.fromRT.Drain(func(raw ring.Message) {
		if raw.Type == w.regs.WorkRequest {
			w.handleWorkRequest(raw.Payload)
			return
		}
		m := uiproto.Decode(w.regs, raw.Type, raw.Payload)
		w.opMu.Lock()
		w.handle(m)
		w.opMu.Unlock()
	})
}

func (w *Worker) handle(m uiproto.Message) {
	switch m.Verb {
	case uiproto.ModuleAdd:
		w.handleModuleAdd(m)
	case uiproto.ModuleDel:
		w.handleModuleDel(m)
	case uiproto.ModulePresetLoad:
		w.handlePresetLoad(m)
	case uiproto.ModulePresetSave:
		w.handlePresetSave(m)
	case uiproto.ConnectionList:
		w.handleConnection(m)
	case uiproto.NodeList:
		w.handleNode(m)
	case uiproto.AutomationList:
		w.handleAutomation(m)
	case uiproto.CPUsUsed:
		w.bank.Settings.CPUsUsed = int(m.IntValue)
		w.rebuildPlan()
		w.reply(uiproto.Message{Verb: uiproto.CPUsUsed, IntValue: m.IntValue})
	case uiproto.BundleLoad:
		w.handleBundleLoad(m)
	case uiproto.BundleSave:
		w.handleBundleSave(m)
	default:
		w.Log.Debug().Int("verb", int(m.Verb)).Msg("worker: unhandled verb")
	}
}

// handleConnection applies a connectionList add/remove:
// BoolValue true adds or regains the edge, false removes it. The
// Enabled flag marks the edge as a feedback hint.
func (w *Worker) handleConnection(m uiproto.Message) {
	if m.SourceModule == 0 && m.SinkModule == 0 {
		// Get-whole-list request.
		for _, pc := range w.conns.Connections() {
			w.reply(uiproto.Message{
				Verb:         uiproto.ConnectionList,
				SourceModule: pc.Source.Module, SourceSymbol: pc.Source.Symbol,
				SinkModule: pc.Sink.Module, SinkSymbol: pc.Sink.Symbol,
				Gain: pc.Gain, BoolValue: true, Enabled: pc.Feedback,
			})
		}
		w.reply(uiproto.Message{Verb: uiproto.ConnectionList})
		return
	}
	src := graph.PortHandle{Module: m.SourceModule, Symbol: m.SourceSymbol}
	sink := graph.PortHandle{Module: m.SinkModule, Symbol: m.SinkSymbol}
	if !m.BoolValue {
		w.conns.Disconnect(src, sink)
		w.rebuildPlan()
		w.reply(m)
		return
	}
	if err := w.conns.Connect(src, sink, m.Gain, m.Enabled); err != nil {
		w.replyError("connectionList", err)
		return
	}
	// Refuse the mutation if it closed a cycle the feedback hints do
	// not break: undo and keep the previous order.
	if _, err := scheduler.Build(w.bank, w.conns, w.bank.Settings.CPUsUsed); err != nil {
		w.conns.Disconnect(src, sink)
		w.replyError("connectionList", err)
		return
	}
	w.rebuildPlan()
	w.reply(m)
}

func (w *Worker) handleNode(m uiproto.Message) {
	if m.SourceModule == 0 && m.SinkModule == 0 {
		for _, mc := range w.conns.ModConns() {
			w.reply(uiproto.Message{
				Verb:         uiproto.NodeList,
				SourceModule: mc.SourceModule, SinkModule: mc.SinkModule,
				X: mc.NodeX, Y: mc.NodeY,
			})
		}
		w.reply(uiproto.Message{Verb: uiproto.NodeList})
		return
	}
	for _, mc := range w.conns.ModConns() {
		if mc.SourceModule == m.SourceModule && mc.SinkModule == m.SinkModule {
			mc.NodeX, mc.NodeY = m.X, m.Y
		}
	}
	w.reply(m)
}

func (w *Worker) handleAutomation(m uiproto.Message) {
	if m.SinkModule == 0 {
		for _, mp := range w.automations.Mappings() {
			w.reply(uiproto.Message{
				Verb:       uiproto.AutomationList,
				SinkModule: mp.Sink.Module, SinkSymbol: mp.Sink.Symbol,
				AutoKind: int32(mp.Kind), BoolValue: true,
				Channel: int32(mp.Channel), Controller: int32(mp.Controller),
				SrcMin: mp.SrcMin, SrcMax: mp.SrcMax, SnkMin: mp.SnkMin, SnkMax: mp.SnkMax,
				SrcEnabled: mp.SrcEnabled, SnkEnabled: mp.SnkEnabled, Learning: mp.Learning,
				Path: mp.Path,
			})
		}
		w.reply(uiproto.Message{Verb: uiproto.AutomationList})
		return
	}
	if !m.BoolValue {
		for _, mp := range w.automations.Mappings() {
			if mp.Sink.Module == m.SinkModule && mp.Sink.Symbol == m.SinkSymbol {
				w.automations.Remove(mp)
			}
		}
		w.reply(m)
		return
	}
	w.automations.Add(&automation.Mapping{
		Kind: automation.Kind(m.AutoKind),
		Sink: automation.SinkDescriptor{
			Kind:   automation.SinkPort,
			Module: m.SinkModule,
			Symbol: m.SinkSymbol,
		},
		SrcMin: m.SrcMin, SrcMax: m.SrcMax,
		SnkMin: m.SnkMin, SnkMax: m.SnkMax,
		SrcEnabled: m.SrcEnabled, SnkEnabled: m.SnkEnabled,
		Learning:   m.Learning,
		Channel:    int(m.Channel), Controller: int(m.Controller),
		Path: m.Path,
	})
	w.reply(m)
}

func (w *Worker) reply(m uiproto.Message) {
	typ, payload := uiproto.Encode(w.regs, m)
	if !w.toRT.Write(typ, payload) {
		w.Log.Warn().Msg("worker: RT-bound reply dropped, ring full")
	}
}

func (w *Worker) replyError(verb string, err error) {
	w.Log.Error().Err(err).Str("op", verb).Msg("worker: request failed")
	w.reply(uiproto.Message{Verb: uiproto.PatchError, Path: verb})
}

// handleModuleAdd instantiates pluginURI on the worker thread:
// load the descriptor, build ports/params from its
// declared spec, add it to the bank, rebuild the scheduler plan, and
// echo moduleAdd with the assigned URN once it is fully live — RT only
// sees it after this handover.
func (w *Worker) handleModuleAdd(m uiproto.Message) {
	urn, err := w.instantiateModule(m.PluginURI)
	if err != nil {
		w.replyError("moduleAdd", err)
		return
	}
	w.rebuildPlan()
	w.reply(uiproto.Message{Verb: uiproto.ModuleAdd, ModuleURN: urn, PluginURI: m.PluginURI})
}

func (w *Worker) instantiateModule(pluginURI string) (urid.ID, error) {
	desc, err := w.loader.Load(pluginURI)
	if err != nil {
		// One automatic retry on a transient resource failure;
		// anything else reports immediately.
		var re *synerr.ResourceError
		if errors.As(err, &re) {
			desc, err = w.loader.Load(pluginURI)
		}
		if err != nil {
			return 0, err
		}
	}
	inst, err := desc.Instantiate(w.sampleRate, w.maxBlockLength, w.regs)
	if err != nil {
		return 0, &synerr.PluginError{URI: pluginURI, Op: "Instantiate", Err: err}
	}

	// Everything past this point touches the bank/instances maps, which
	// a parallel bundle load shares across goroutines; the expensive
	// Load/Instantiate above runs lock-free so cpus_used parallelism is
	// real rather than nominal.
	w.mu.Lock()
	defer w.mu.Unlock()

	urn := w.reg.Map("urn:uuid:" + uuid.NewString())
	mod := pbank.NewModule(urn, pluginURI)

	for i, spec := range desc.Ports() {
		p := w.newPort(i, spec)
		mod.AddPort(p)
		if err := inst.ConnectPort(i, p.Buffer); err != nil {
			inst.Cleanup()
			return 0, &synerr.PluginError{URI: pluginURI, Op: "ConnectPort", Err: err}
		}
	}
	for _, ps := range desc.Params() {
		mod.Params.Register(&pbank.Param{
			Property: ps.Property, Range: pbank.RangeFloat,
			Label: ps.Label, Min: ps.Min, Max: ps.Max, HasRange: ps.HasRange,
		})
	}

	if err := inst.Activate(1, w.maxBlockLength); err != nil {
		inst.Cleanup()
		return 0, &synerr.PluginError{URI: pluginURI, Op: "Activate", Err: err}
	}

	if err := w.bank.AddModule(mod); err != nil {
		inst.Deactivate()
		inst.Cleanup()
		return 0, err
	}
	w.instances[urn] = inst
	return urn, nil
}

func (w *Worker) newPort(index int, spec pluginhost.PortSpec) *pbank.Port {
	p := &pbank.Port{
		Index: index, Symbol: w.reg.Map(spec.Symbol), Label: spec.Label,
		Type: spec.Type, Direction: pbank.Direction(spec.Direction),
		Subtypes: spec.Subtypes, Min: spec.Min, Max: spec.Max, Default: spec.Default,
	}
	switch spec.Type {
	case port.Audio:
		p.Buffer = port.NewAudioBuffer(int(w.maxBlockLength))
	case port.CV:
		p.Buffer = port.NewCVBuffer(int(w.maxBlockLength))
	case port.Control:
		p.Buffer = port.NewControlBuffer(spec.Default)
	case port.Atom:
		capHint := spec.AtomCapHint
		if capHint <= 0 {
			capHint = port.DefaultAtomCapacity
		}
		p.Buffer = w.atomPool.Get(capHint, spec.Subtypes)
	}
	return p
}

// handleModuleDel tears down a module; every incident connection is
// removed first.
func (w *Worker) handleModuleDel(m uiproto.Message) {
	if err := w.removeModule(m.ModuleURN); err != nil {
		w.replyError("moduleDel", err)
		return
	}
	w.rebuildPlan()
	w.reply(uiproto.Message{Verb: uiproto.ModuleDel, ModuleURN: m.ModuleURN})
}

func (w *Worker) removeModule(urn urid.ID) error {
	if urn == w.bank.SourceURN || urn == w.bank.SinkURN {
		return &synerr.ConstraintError{Op: "moduleDel", Reason: "built-in source/sink module cannot be removed"}
	}
	w.conns.RemoveModule(urn)
	w.mu.Lock()
	inst, ok := w.instances[urn]
	if ok {
		mod, _ := w.bank.Module(urn)
		if mod != nil {
			for _, p := range mod.Ports {
				if ab, ok := p.Buffer.(*port.AtomBuffer); ok {
					w.atomPool.Put(ab)
				}
			}
		}
		inst.Deactivate()
		inst.Cleanup()
		delete(w.instances, urn)
	}
	w.mu.Unlock()
	return w.bank.RemoveModule(urn)
}

func (w *Worker) handlePresetLoad(m uiproto.Message) {
	mod, ok := w.bank.Module(m.ModuleURN)
	if !ok {
		w.replyError("modulePresetLoad", &synerr.LookupError{Op: "modulePresetLoad", Target: "module"})
		return
	}
	if err := mod.ApplyPreset(w.presets, urid.ID(m.IntValue)); err != nil {
		w.replyError("modulePresetLoad", err)
		return
	}
	w.reply(uiproto.Message{Verb: uiproto.ModulePresetLoad, ModuleURN: m.ModuleURN})
}

func (w *Worker) handlePresetSave(m uiproto.Message) {
	mod, ok := w.bank.Module(m.ModuleURN)
	if !ok {
		w.replyError("modulePresetSave", &synerr.LookupError{Op: "modulePresetSave", Target: "module"})
		return
	}
	id, err := mod.SavePreset(w.presets, m.Alias)
	if err != nil {
		w.replyError("modulePresetSave", err)
		return
	}
	w.reply(uiproto.Message{Verb: uiproto.ModulePresetSave, ModuleURN: m.ModuleURN, IntValue: int32(id)})
}

// handleBundleSave snapshots the live graph and writes it to m.Path,
// entirely on the worker.
func (w *Worker) handleBundleSave(m uiproto.Message) {
	if err := w.doBundleSave(m.Path); err != nil {
		w.replyError("bundleSave", err)
		return
	}
	w.reply(uiproto.Message{Verb: uiproto.BundleSave, Path: m.Path})
}

func (w *Worker) doBundleSave(path string) error {
	return state.Save(path, w.bank, w.conns, w.automations, w.reg, func(urn urid.ID) any {
		return w.instances[urn]
	})
}

func (w *Worker) handleBundleLoad(m uiproto.Message) {
	if err := w.doBundleLoad(m.Path); err != nil {
		w.replyError("bundleLoad", err)
		return
	}
	w.reply(uiproto.Message{Verb: uiproto.BundleLoad, Path: m.Path})
}

// doBundleLoad applies a bundle's state.ttl in load order (manifest.ttl
// is not read): modules (instantiated in parallel up to cpus_used via errgroup, then
// matched back to their declarations since instantiation order itself
// carries no meaning), then control values, plugin state, connections,
// node positions, automation, and finally the plan handover.
func (w *Worker) doBundleLoad(path string) error {
	res, err := state.Load(path)
	if err != nil {
		return err
	}

	cpus := w.bank.Settings.CPUsUsed
	if cpus < 1 {
		cpus = 1
	}

	type loaded struct {
		urn urid.ID
		lm  state.LoadedModule
	}
	results := make([]loaded, len(res.Modules))

	// The builtin source/sink of the running engine stand in for the
	// saved bundle's own (every graph has exactly one of
	// each, and they cannot be destroyed), so a saved connection to
	// them re-attaches to the live pair instead of instantiating a
	// duplicate edge module.
	reuse := func(lm state.LoadedModule) (urid.ID, bool) {
		for _, urn := range []urid.ID{w.bank.SourceURN, w.bank.SinkURN} {
			if mod, ok := w.bank.Module(urn); ok && mod.PluginURI == lm.PluginURI {
				return urn, true
			}
		}
		return 0, false
	}

	g := new(errgroup.Group)
	g.SetLimit(cpus)
	for i, lm := range res.Modules {
		if urn, ok := reuse(lm); ok {
			results[i] = loaded{urn: urn, lm: lm}
			continue
		}
		i, lm := i, lm
		g.Go(func() error {
			urn, err := w.instantiateModule(lm.PluginURI)
			if err != nil {
				return err
			}
			results[i] = loaded{urn: urn, lm: lm}
			return nil
		})
	}
	rollback := func() {
		// strict all-or-nothing: unwind
		// every module this load instantiated before reporting failure.
		for _, r := range results {
			if r.urn != 0 && r.urn != w.bank.SourceURN && r.urn != w.bank.SinkURN {
				w.removeModule(r.urn)
			}
		}
		w.rebuildPlan()
	}
	if err := g.Wait(); err != nil {
		rollback()
		return err
	}

	byURI := make(map[string]urid.ID, len(results))
	for _, r := range results {
		mod, _ := w.bank.Module(r.urn)
		if mod == nil {
			continue
		}
		mod.Position = pbank.Position{X: r.lm.X, Y: r.lm.Y}
		mod.Alias = r.lm.Alias
		mod.Enabled = !r.lm.Disabled
		byURI[r.lm.URI] = r.urn
	}

	for _, lc := range res.Controls {
		urn, ok := byURI[lc.ModuleURI]
		if !ok {
			continue
		}
		mod, _ := w.bank.Module(urn)
		if mod == nil {
			continue
		}
		if p, ok := mod.PortBySymbol(w.reg.Map(lc.Symbol)); ok {
			p.SetControlValue(lc.Value)
		}
	}

	for _, r := range results {
		if ls, ok := w.instances[r.urn].(state.StateLoader); ok {
			if err := w.loadModuleStateFile(path, r.lm.URI, ls); err != nil {
				rollback()
				return err
			}
		}
	}

	for _, lc := range res.Connections {
		srcURN, ok1 := byURI[lc.SourceModuleURI]
		sinkURN, ok2 := byURI[lc.SinkModuleURI]
		if !ok1 || !ok2 {
			continue
		}
		src := graph.PortHandle{Module: srcURN, Symbol: w.reg.Map(lc.SourceSymbol)}
		sink := graph.PortHandle{Module: sinkURN, Symbol: w.reg.Map(lc.SinkSymbol)}
		if err := w.conns.Connect(src, sink, lc.Gain, false); err != nil {
			w.Log.Warn().Err(err).Msg("bundleLoad: connection skipped")
		}
	}

	for _, ln := range res.Nodes {
		srcURN, ok1 := byURI[ln.SourceModuleURI]
		sinkURN, ok2 := byURI[ln.SinkModuleURI]
		if !ok1 || !ok2 {
			continue
		}
		for _, mc := range w.conns.ModConns() {
			if mc.SourceModule == srcURN && mc.SinkModule == sinkURN {
				mc.NodeX, mc.NodeY = ln.X, ln.Y
			}
		}
	}

	for _, la := range res.Automations {
		modURN, ok := byURI[la.ModuleURI]
		if !ok {
			continue
		}
		kind := automation.None
		switch la.Kind {
		case "midi":
			kind = automation.MIDI
		case "osc":
			kind = automation.OSC
		}
		sink := automation.SinkDescriptor{Kind: automation.SinkPort, Module: modURN}
		if la.PropertyURI != "" {
			sink.Kind = automation.SinkParam
			sink.Property = w.reg.Map(la.PropertyURI)
		} else {
			sink.Symbol = w.reg.Map(la.Symbol)
		}
		w.automations.Add(&automation.Mapping{
			Kind: kind,
			Sink: sink,
			SrcMin: la.SrcMin, SrcMax: la.SrcMax, SnkMin: la.SnkMin, SnkMax: la.SnkMax,
			Channel: la.Channel, Controller: la.Controller, Path: la.Path,
			SrcEnabled: la.SrcEnabled, SnkEnabled: la.SnkEnabled,
		})
	}

	w.rebuildPlan()
	return nil
}

func (w *Worker) loadModuleStateFile(bundleDir, moduleURI string, loader state.StateLoader) error {
	path := bundleDir + "/" + state.SanitizeURN(moduleURI) + ".ttl.bin"
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return &synerr.ResourceError{Op: "bundleLoad: open module state", Err: err}
	}
	defer f.Close()
	r := state.NewReader(f)
	if err := loader.LoadState(r); err != nil {
		return &synerr.PluginError{URI: moduleURI, Op: "LoadState", Err: err}
	}
	return r.Error()
}

// handleWorkRequest implements the schedule_work/work dispatch: the
// payload names the module and carries the opaque bytes the plugin
// asked to have processed off the RT path; the response goes back on
// the same RT↔Worker ring, to be delivered to the instance inside its
// next Run.
func (w *Worker) handleWorkRequest(payload []byte) {
	r := ring.NewReader(payload)
	urn := urid.ID(r.ReadUint32())
	data := r.ReadBytes()
	if r.Err() != nil {
		w.Log.Warn().Err(r.Err()).Msg("worker: malformed work request")
		return
	}

	w.mu.Lock()
	inst, ok := w.instances[urn]
	w.mu.Unlock()
	working, ok2 := inst.(pluginhost.WorkingInstance)
	if !ok || !ok2 {
		return
	}

	working.Work(func(resp []byte) {
		ww := ring.NewWriter(len(resp) + 8)
		ww.WriteUint32(uint32(urn))
		ww.WriteBytes(resp)
		w.toRT.Write(w.regs.WorkResponse, ww.Bytes())
	}, data)
}

// rebuildPlan recomputes the scheduler plan from the current bank and
// connection graph and publishes both it and its RT-resolved
// counterpart via their Holders' atomic pointer-swap, the only
// mutation the worker makes to RT-visible scheduling state.
func (w *Worker) rebuildPlan() {
	p, err := scheduler.Build(w.bank, w.conns, w.bank.Settings.CPUsUsed)
	if err != nil {
		w.Log.Error().Err(err).Msg("worker: scheduler refused plan, keeping previous")
		return
	}
	w.plan.Store(p)
	// Feed the new execution order back into the connection graph so
	// mixer last-writer-wins ties break by actual run order.
	w.conns.Reorder(p.Flat())
	if w.rtPlan != nil {
		w.mu.Lock()
		rp := rtengine.BuildPlan(p, w.bank, func(urn urid.ID) pluginhost.Instance {
			return w.instances[urn]
		})
		w.mu.Unlock()
		w.rtPlan.Store(rp)
	}
}

// RebuildPlan recomputes and republishes the scheduler plan, for the
// engine's bootstrap after it designates the source/sink URNs.
func (w *Worker) RebuildPlan() {
	w.opMu.Lock()
	defer w.opMu.Unlock()
	w.rebuildPlan()
}

// AddModule synchronously instantiates pluginURI and publishes the new
// plan, for engine bootstrap (builtin source/sink) and tests. Safe to
// call while the dispatch loop is running.
func (w *Worker) AddModule(pluginURI string) (urid.ID, error) {
	w.opMu.Lock()
	defer w.opMu.Unlock()
	urn, err := w.instantiateModule(pluginURI)
	if err != nil {
		return 0, err
	}
	w.rebuildPlan()
	return urn, nil
}

// RemoveModule synchronously tears a module down, connections first.
func (w *Worker) RemoveModule(urn urid.ID) error {
	w.opMu.Lock()
	defer w.opMu.Unlock()
	if err := w.removeModule(urn); err != nil {
		return err
	}
	w.rebuildPlan()
	return nil
}

// Connect synchronously adds a connection, refusing it if the result
// would be cyclic once feedback edges are stripped.
func (w *Worker) Connect(src, sink graph.PortHandle, gain float32, feedback bool) error {
	w.opMu.Lock()
	defer w.opMu.Unlock()
	if err := w.conns.Connect(src, sink, gain, feedback); err != nil {
		return err
	}
	if _, err := scheduler.Build(w.bank, w.conns, w.bank.Settings.CPUsUsed); err != nil {
		w.conns.Disconnect(src, sink)
		return err
	}
	w.rebuildPlan()
	return nil
}

// Disconnect synchronously removes a connection; a no-op if absent.
func (w *Worker) Disconnect(src, sink graph.PortHandle) {
	w.opMu.Lock()
	defer w.opMu.Unlock()
	w.conns.Disconnect(src, sink)
	w.rebuildPlan()
}

// LoadBundle synchronously loads a bundle directory, for the CLI path
// where no audio driver is pumping the rings yet.
func (w *Worker) LoadBundle(path string) error {
	w.opMu.Lock()
	defer w.opMu.Unlock()
	return w.doBundleLoad(path)
}

// SaveBundle synchronously saves the session to a bundle directory.
func (w *Worker) SaveBundle(path string) error {
	w.opMu.Lock()
	defer w.opMu.Unlock()
	return w.doBundleSave(path)
}
