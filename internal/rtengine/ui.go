package rtengine

import (
	"github.com/synthpod/synthpod/internal/logging"
	"github.com/synthpod/synthpod/internal/pbank"
	"github.com/synthpod/synthpod/internal/ring"
	"github.com/synthpod/synthpod/internal/uiproto"
	"github.com/synthpod/synthpod/internal/urid"
)

// drainUI empties the UI→RT ring once per period.
// Port writes, subscriptions, and canvas-state updates are applied
// here directly; anything that loads plugins, mutates the connection
// graph, or touches the filesystem is bounced to the worker ring
// untouched.
func (e *Engine) drainUI() {
	e.fromUI.Drain(func(raw ring.Message) {
		if e.isWorkerVerb(raw.Type) {
			if !e.toWorker.Write(raw.Type, raw.Payload) {
				e.logRing.Push(logging.SeverityWarning, logComponent, "worker-bound request dropped, ring full", e.period.Load())
				return
			}
			e.wakeWorker()
			return
		}
		m := uiproto.Decode(e.regs, raw.Type, raw.Payload)
		e.applyUI(m)
	})
}

func (e *Engine) isWorkerVerb(typ urid.ID) bool {
	switch typ {
	case e.regs.ModuleAdd, e.regs.ModuleDel,
		e.regs.ModulePresetLoad, e.regs.ModulePresetSave,
		e.regs.ConnectionList, e.regs.NodeList,
		e.regs.AutomationList,
		e.regs.BundleLoad, e.regs.BundleSave,
		e.regs.CPUsUsed:
		return true
	}
	return false
}

func (e *Engine) applyUI(m uiproto.Message) {
	switch m.Verb {
	case uiproto.ModuleMove:
		if mod, ok := e.bank.Module(m.ModuleURN); ok {
			mod.Position = pbank.Position{X: m.X, Y: m.Y}
		}
	case uiproto.ModulePositionX:
		if mod, ok := e.bank.Module(m.ModuleURN); ok {
			mod.Position.X = m.X
		}
	case uiproto.ModulePositionY:
		if mod, ok := e.bank.Module(m.ModuleURN); ok {
			mod.Position.Y = m.Y
		}
	case uiproto.ModuleDisabled:
		if mod, ok := e.bank.Module(m.ModuleURN); ok {
			mod.Enabled = !m.BoolValue
		}
	case uiproto.ModuleVisible:
		if mod, ok := e.bank.Module(m.ModuleURN); ok {
			if m.Enabled {
				mod.SelectedUI = urid.ID(m.IntValue)
			} else {
				mod.SelectedUI = 0
			}
		}
	case uiproto.ModuleSelected, uiproto.ModuleEmbedded,
		uiproto.PortMonitored, uiproto.PortSelected,
		uiproto.GridColumn, uiproto.GridRow, uiproto.GridPosition,
		uiproto.ColumnEnabled, uiproto.RowEnabled, uiproto.PaneLeft:
		// Pure UI focus/layout state: echoed so every attached
		// controller converges, nothing engine-side to apply.
		e.echo(m)

	case uiproto.ModuleList:
		// Get-whole-list: one moduleAdd echo per live module, then the
		// moduleList echo as the terminator.
		for _, mod := range e.bank.Modules() {
			e.echo(uiproto.Message{
				Verb:      uiproto.ModuleAdd,
				ModuleURN: mod.URN,
				PluginURI: mod.PluginURI,
				X:         mod.Position.X,
				Y:         mod.Position.Y,
				Alias:     mod.Alias,
				Enabled:   mod.Enabled,
			})
		}
		e.echo(uiproto.Message{Verb: uiproto.ModuleList})

	case uiproto.ModuleProfiling:
		if mod, ok := e.bank.Module(m.ModuleURN); ok {
			e.echo(uiproto.Message{
				Verb:         uiproto.ModuleProfiling,
				ModuleURN:    mod.URN,
				ProfileMinNs: mod.Profile.Min(),
				ProfileAvgNs: mod.Profile.Avg(),
				ProfileMaxNs: mod.Profile.Max(),
			})
		}
	case uiproto.DSPProfiling:
		lo, avg, hi := e.DSPProfile()
		e.echo(uiproto.Message{
			Verb:         uiproto.DSPProfiling,
			ProfileMinNs: lo,
			ProfileAvgNs: avg,
			ProfileMaxNs: hi,
		})

	case uiproto.SubscriptionList:
		mod, ok := e.bank.Module(m.SinkModule)
		if !ok {
			return
		}
		p, ok := mod.PortBySymbol(m.SinkSymbol)
		if !ok {
			return
		}
		if m.BoolValue {
			p.Subscribe()
		} else {
			p.Unsubscribe()
		}
	case uiproto.PortRefresh:
		if mod, ok := e.bank.Module(m.ModuleURN); ok {
			if p, ok := mod.PortBySymbol(m.PortSymbol); ok {
				e.notifyPort(mod, p, e.periodSize)
			}
		}

	case uiproto.PatchSet:
		mod, ok := e.bank.Module(m.ModuleURN)
		if !ok {
			e.logRing.Push(logging.SeverityWarning, logComponent, "patch:Set for unknown module", e.period.Load())
			return
		}
		if err := mod.SetPortValue(m.PortSymbol, m.NotificationValue, e.regs.PatchSet); err != nil {
			e.logRing.Push(logging.SeverityWarning, logComponent, "patch:Set failed: "+err.Error(), e.period.Load())
		}
	case uiproto.PatchGet:
		mod, ok := e.bank.Module(m.ModuleURN)
		if !ok {
			e.echo(uiproto.Message{Verb: uiproto.PatchError, ModuleURN: m.ModuleURN})
			return
		}
		v, err := mod.GetPortValue(m.PortSymbol)
		if err != nil {
			e.echo(uiproto.Message{Verb: uiproto.PatchError, ModuleURN: m.ModuleURN, PortSymbol: m.PortSymbol})
			return
		}
		// A responder returns a patch:Set with the observed value, not
		// an ack.
		e.echo(uiproto.Message{
			Verb:              uiproto.PatchSet,
			ModuleURN:         m.ModuleURN,
			PortSymbol:        m.PortSymbol,
			NotificationValue: v,
		})

	case uiproto.PathGet:
		e.echo(uiproto.Message{Verb: uiproto.PathGet, Path: *e.bundlePath.Load()})
	case uiproto.PeriodSize:
		e.echo(uiproto.Message{Verb: uiproto.PeriodSize, IntValue: int32(e.periodSize)})
	case uiproto.CPUsAvailable:
		e.echo(uiproto.Message{Verb: uiproto.CPUsAvailable, IntValue: int32(e.cpusAvail)})
	case uiproto.Quit:
		e.quit.Store(true)

	case uiproto.VerbUnknown:
		// Forward compatibility: unknown verbs are skipped and logged.
		e.logRing.Push(logging.SeverityDebug, logComponent, "unknown verb skipped", e.period.Load())
	}
}

func (e *Engine) echo(m uiproto.Message) {
	e.notifyWriter.Reset()
	typ, payload := uiproto.EncodeTo(e.notifyWriter, e.regs, m)
	e.toUI.Write(typ, payload)
}
