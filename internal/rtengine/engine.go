package rtengine

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/synthpod/synthpod/internal/automation"
	"github.com/synthpod/synthpod/internal/graph"
	"github.com/synthpod/synthpod/internal/logging"
	"github.com/synthpod/synthpod/internal/pbank"
	"github.com/synthpod/synthpod/internal/pluginhost"
	"github.com/synthpod/synthpod/internal/port"
	"github.com/synthpod/synthpod/internal/ring"
	"github.com/synthpod/synthpod/internal/uiproto"
	"github.com/synthpod/synthpod/internal/urid"
)

const logComponent = "rt"

// Config bundles the collaborators the RT engine needs, all owned by
// pkg/engine and constructed before the first period.
type Config struct {
	Regs  *urid.Regs
	Bank  *pbank.Graph
	Conns *graph.ConnGraph
	Autos *automation.Table
	Plan  *Holder

	FromUI     *ring.Ring // UI → RT requests
	ToUI       *ring.Ring // RT → UI notifications and echoes
	ToWorker   *ring.Ring // RT → Worker bounced operations
	FromWorker *ring.Ring // Worker → RT handovers and work responses

	LogRing    *logging.LogRing
	WakeWorker func()

	// Endpoints resolves which module's Atom streams a Mapping reads
	// external events from and echoes back into.
	Endpoints func(*automation.Mapping) automation.Endpoints

	SampleRate float64
	PeriodSize uint32
	CPUsUsed   int
}

// Engine is the realtime callback body. One goroutine — the audio
// driver's — calls Process; everything else reaches the engine through
// the rings or through atomically swapped snapshots.
type Engine struct {
	regs  *urid.Regs
	bank  *pbank.Graph
	conns *graph.ConnGraph
	autos *automation.Table
	plan  *Holder

	fromUI     *ring.Ring
	toUI       *ring.Ring
	toWorker   *ring.Ring
	fromWorker *ring.Ring

	logRing    *logging.LogRing
	wakeWorker func()
	endpoints  func(*automation.Mapping) automation.Endpoints

	sampleRate float64
	periodSize uint32
	cpusAvail  int

	// Reusable encoders so the notification and work-forwarding paths
	// never allocate once warmed up. Only the RT thread touches them.
	notifyWriter *ring.Writer
	atomWriter   *ring.Writer
	workWriter   *ring.Writer

	period       atomic.Uint64
	lastPeriodNs atomic.Int64
	overBudget   atomic.Uint64
	quit         atomic.Bool

	dspProfile pbank.Profile

	bundlePath atomic.Pointer[string]

	slots *slotPool
}

func New(cfg Config) *Engine {
	e := &Engine{
		regs:         cfg.Regs,
		bank:         cfg.Bank,
		conns:        cfg.Conns,
		autos:        cfg.Autos,
		plan:         cfg.Plan,
		fromUI:       cfg.FromUI,
		toUI:         cfg.ToUI,
		toWorker:     cfg.ToWorker,
		fromWorker:   cfg.FromWorker,
		logRing:      cfg.LogRing,
		wakeWorker:   cfg.WakeWorker,
		endpoints:    cfg.Endpoints,
		sampleRate:   cfg.SampleRate,
		periodSize:   cfg.PeriodSize,
		cpusAvail:    runtime.NumCPU(),
		notifyWriter: ring.NewWriter(4096),
		atomWriter:   ring.NewWriter(4096),
		workWriter:   ring.NewWriter(1024),
	}
	empty := ""
	e.bundlePath.Store(&empty)
	if cfg.CPUsUsed > 1 {
		e.slots = newSlotPool(cfg.CPUsUsed, e)
	}
	return e
}

// Period returns the number of completed periods.
func (e *Engine) Period() uint64 { return e.period.Load() }

// LastPeriodNs returns the wall time the most recent period took.
func (e *Engine) LastPeriodNs() int64 { return e.lastPeriodNs.Load() }

// OverBudget returns how many periods exceeded the soft realtime
// budget of period_size/sample_rate.
func (e *Engine) OverBudget() uint64 { return e.overBudget.Load() }

// QuitRequested reports whether a controller sent the quit verb.
func (e *Engine) QuitRequested() bool { return e.quit.Load() }

// DSPProfile returns the engine-wide period-time running statistics.
func (e *Engine) DSPProfile() (min, avg, max float64) {
	return e.dspProfile.Min(), e.dspProfile.Avg(), e.dspProfile.Max()
}

// Process runs one audio period: the audio driver's callback contract.
// in/out carry one slice per audio channel of the builtin source/sink;
// midiIn events are fed to the source's MIDI output stream and every
// event arriving at the sink's MIDI input is handed to midiOut.
// A period always completes; there is no cancellation.
func (e *Engine) Process(nframes uint32, in, out [][]float32, midiIn []port.AtomEvent, midiOut func(port.AtomEvent)) error {
	start := time.Now()

	e.drainWorker()
	e.drainUI()

	plan := e.plan.Load()
	snap := e.conns.Current()

	e.feedSource(plan, nframes, in, midiIn)

	for _, barrier := range plan.Barriers {
		e.runBarrier(barrier, plan, snap, nframes)
	}

	e.collectSink(plan, nframes, out, midiOut)
	e.notifySubscribers(plan, nframes)

	automation.Run(e.bank, e.regs, e.autos.Mappings(), e.endpoints)

	elapsed := time.Since(start)
	e.lastPeriodNs.Store(elapsed.Nanoseconds())
	e.dspProfile.Sample(float64(elapsed.Nanoseconds()))
	budget := time.Duration(float64(nframes) / e.sampleRate * float64(time.Second))
	if elapsed > budget {
		e.overBudget.Add(1)
		e.logRing.Push(logging.SeverityWarning, logComponent, "period exceeded time budget", e.period.Load())
	}
	e.period.Add(1)
	return nil
}

// drainWorker empties the Worker→RT ring: work responses are delivered
// to their instance before its next Run; everything else
// is a prepared handover or request echo forwarded on to the UI.
func (e *Engine) drainWorker() {
	plan := e.plan.Load()
	e.fromWorker.Drain(func(raw ring.Message) {
		if raw.Type == e.regs.WorkResponse {
			r := ring.NewReader(raw.Payload)
			urn := urid.ID(r.ReadUint32())
			data := r.ReadBytes()
			if r.Err() != nil {
				e.logRing.Push(logging.SeverityWarning, logComponent, "malformed work response", e.period.Load())
				return
			}
			if t := findTask(plan, urn); t != nil {
				if wr, ok := t.Inst.(pluginhost.WorkResponder); ok {
					wr.WorkResponse(data)
				}
			}
			return
		}
		if raw.Type == e.regs.BundleLoad || raw.Type == e.regs.BundleSave {
			m := uiproto.Decode(e.regs, raw.Type, raw.Payload)
			p := m.Path
			e.bundlePath.Store(&p)
		}
		e.toUI.Write(raw.Type, raw.Payload)
	})
}

func findTask(plan *Plan, urn urid.ID) *Task {
	for bi := range plan.Barriers {
		for ti := range plan.Barriers[bi] {
			if plan.Barriers[bi][ti].Mod.URN == urn {
				return &plan.Barriers[bi][ti]
			}
		}
	}
	return nil
}

func (e *Engine) runBarrier(barrier []Task, plan *Plan, snap *graph.RunSnapshot, nframes uint32) {
	if e.slots != nil && len(barrier) > 1 {
		e.slots.run(barrier, plan, snap, nframes)
		return
	}
	for i := range barrier {
		e.runTask(&barrier[i], plan, snap, nframes)
	}
}

func (e *Engine) runTask(t *Task, plan *Plan, snap *graph.RunSnapshot, nframes uint32) {
	// Mix this module's fan-in first: upstream producers have already
	// run this period, and a feedback producer scheduled later still
	// holds its previous-period output.
	for _, mx := range snap.ForModule(t.Mod.URN) {
		mx.Mix(int(nframes))
	}

	isSource := plan.Source != nil && t.Mod.URN == plan.Source.Mod.URN
	if !isSource {
		// Pre-reset outputs; the source's were just filled from the
		// audio driver and must survive into the graph.
		for _, p := range t.Mod.Ports {
			if p.Direction == pbank.Output {
				p.Buffer.Reset()
			}
		}
	}

	if !t.Mod.Enabled || t.Inst == nil {
		return
	}

	t0 := time.Now()
	if err := t.Inst.Run(nframes); err != nil {
		e.logRing.Push(logging.SeverityError, logComponent, "plugin run failed: "+err.Error(), e.period.Load())
	}
	t.Mod.ProfileSample(float64(time.Since(t0).Nanoseconds()))

	if ws, ok := t.Inst.(pluginhost.WorkSource); ok {
		ws.DrainWork(func(payload []byte) {
			e.workWriter.Reset()
			e.workWriter.WriteUint32(uint32(t.Mod.URN))
			e.workWriter.WriteBytes(payload)
			if !e.toWorker.Write(e.regs.WorkRequest, e.workWriter.Bytes()) {
				e.logRing.Push(logging.SeverityWarning, logComponent, "work request dropped, ring full", e.period.Load())
				return
			}
			e.wakeWorker()
		})
	}
}

// feedSource copies the driver's input samples and MIDI events into
// the builtin source module's output buffers.
func (e *Engine) feedSource(plan *Plan, nframes uint32, in [][]float32, midiIn []port.AtomEvent) {
	if plan.Source == nil {
		return
	}
	ch := 0
	for _, p := range plan.Source.Mod.Ports {
		switch {
		case p.Type == port.Audio && p.Direction == pbank.Output:
			buf, ok := p.Buffer.(*port.AudioBuffer)
			if !ok {
				continue
			}
			if ch < len(in) {
				n := copy(buf.Samples, in[ch])
				for i := n; i < int(nframes) && i < len(buf.Samples); i++ {
					buf.Samples[i] = 0
				}
			} else {
				buf.Reset()
			}
			ch++
		case p.Type == port.Atom && p.Direction == pbank.Output:
			ab, ok := p.Buffer.(*port.AtomBuffer)
			if !ok {
				continue
			}
			ab.Reset()
			for _, ev := range midiIn {
				ab.Append(ev)
			}
		}
	}
}

// collectSink copies the builtin sink module's input buffers back out
// to the driver.
func (e *Engine) collectSink(plan *Plan, nframes uint32, out [][]float32, midiOut func(port.AtomEvent)) {
	for ch := range out {
		for i := range out[ch] {
			out[ch][i] = 0
		}
	}
	if plan.Sink == nil {
		return
	}
	ch := 0
	for _, p := range plan.Sink.Mod.Ports {
		switch {
		case p.Type == port.Audio && p.Direction == pbank.Input:
			if buf, ok := p.Buffer.(*port.AudioBuffer); ok && ch < len(out) {
				copy(out[ch], buf.Samples[:min(int(nframes), len(buf.Samples))])
			}
			ch++
		case p.Type == port.Atom && p.Direction == pbank.Input:
			if midiOut == nil {
				continue
			}
			if ab, ok := p.Buffer.(*port.AtomBuffer); ok {
				for _, ev := range ab.Events() {
					midiOut(ev)
				}
			}
		}
	}
}

// notifySubscribers emits at most one notification per subscribed port
// per period: float protocol for Control, peak for
// Audio/CV, event transfer for Atom.
func (e *Engine) notifySubscribers(plan *Plan, nframes uint32) {
	for _, barrier := range plan.Barriers {
		for i := range barrier {
			mod := barrier[i].Mod
			for _, p := range mod.Ports {
				if !p.Subscribed() {
					continue
				}
				e.notifyPort(mod, p, nframes)
			}
		}
	}
}

func (e *Engine) notifyPort(mod *pbank.Module, p *pbank.Port, nframes uint32) {
	m := uiproto.Message{
		Verb:       uiproto.NotificationList,
		SinkModule: mod.URN,
		SinkSymbol: p.Symbol,
	}
	switch p.Type {
	case port.Control:
		v, _ := p.ControlValue()
		m.NotificationValue = v
	case port.Audio, port.CV:
		lo, hi := peaks(p.Buffer, int(nframes))
		m.NotificationPeakMin = lo
		m.NotificationPeakMax = hi
		m.NotificationValue = hi
	case port.Atom:
		ab, ok := p.Buffer.(*port.AtomBuffer)
		if !ok {
			return
		}
		m.NotificationAtom = e.encodeAtomSeq(ab)
	}
	e.notifyWriter.Reset()
	typ, payload := uiproto.EncodeTo(e.notifyWriter, e.regs, m)
	if !e.toUI.Write(typ, payload) {
		e.logRing.Push(logging.SeverityDebug, logComponent, "notification dropped, ring full", e.period.Load())
	}
}

// encodeAtomSeq flattens an Atom sequence for the event_transfer
// protocol: (frame, type, length, bytes) per event, little-endian.
// Valid only until the next call; the ring write copies it out.
func (e *Engine) encodeAtomSeq(ab *port.AtomBuffer) []byte {
	w := e.atomWriter
	w.Reset()
	for _, ev := range ab.Events() {
		w.WriteUint32(ev.Frame)
		w.WriteUint32(uint32(ev.Type))
		w.WriteBytes(ev.Data)
	}
	return w.Bytes()
}

func peaks(b port.Buffer, nframes int) (lo, hi float32) {
	var samples []float32
	switch buf := b.(type) {
	case *port.AudioBuffer:
		samples = buf.Samples
	case *port.CVBuffer:
		samples = buf.Samples
	default:
		return 0, 0
	}
	if nframes > len(samples) {
		nframes = len(samples)
	}
	for _, v := range samples[:nframes] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// slotPool runs one barrier's tasks across persistent worker
// goroutines when cpus_used > 1; barrier parallelism is opt-in,
// never the default. The goroutines are
// spawned once at engine construction so the per-period dispatch
// allocates nothing.
type slotPool struct {
	eng   *Engine
	tasks chan slotMsg
	wg    sync.WaitGroup
}

type slotMsg struct {
	t       *Task
	plan    *Plan
	snap    *graph.RunSnapshot
	nframes uint32
}

func newSlotPool(n int, eng *Engine) *slotPool {
	p := &slotPool{eng: eng, tasks: make(chan slotMsg, n)}
	for i := 0; i < n; i++ {
		go func() {
			for m := range p.tasks {
				p.eng.runTask(m.t, m.plan, m.snap, m.nframes)
				p.wg.Done()
			}
		}()
	}
	return p
}

func (p *slotPool) run(barrier []Task, plan *Plan, snap *graph.RunSnapshot, nframes uint32) {
	p.wg.Add(len(barrier))
	for i := range barrier {
		p.tasks <- slotMsg{t: &barrier[i], plan: plan, snap: snap, nframes: nframes}
	}
	p.wg.Wait()
}
