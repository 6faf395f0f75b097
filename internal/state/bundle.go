package state

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/synthpod/synthpod/internal/automation"
	"github.com/synthpod/synthpod/internal/graph"
	"github.com/synthpod/synthpod/internal/pbank"
	"github.com/synthpod/synthpod/internal/synerr"
	"github.com/synthpod/synthpod/internal/urid"
)

const spodNS = "http://open-music-kontrollers.ch/synthpod#"

// StateSaver is implemented by a plugin instance that can emit its
// own state to a Writer, invoked on the worker thread.
type StateSaver interface {
	SaveState(w *Writer) error
}

// StateLoader is the restore half, invoked during bundle load.
type StateLoader interface {
	LoadState(r *Reader) error
}

// Bundle is a <name>.synthpod/ directory: manifest.ttl, state.ttl, and
// one <SanitizeURN(module-urn)>.ttl.bin per plugin with state to save.
// That per-module file holds the binary Writer stream the plugin's
// SaveState produced; it is not a Turtle document.
type Bundle struct {
	Path string
}

// Save writes bank/conns/automations to dir, via a temp directory
// renamed into place atomically (write to temp, rename). instanceOf resolves a Module's live plugin
// instance so its state can be captured; a Module whose instance does
// not implement StateSaver is skipped without error (not every plugin
// has state worth persisting).
func Save(dir string, bank *pbank.Graph, conns *graph.ConnGraph, automations *automation.Table, reg *urid.Registry, instanceOf func(urid.ID) any) error {
	tmp := dir + ".tmp"
	if err := os.RemoveAll(tmp); err != nil {
		return &synerr.ResourceError{Op: "Save: clear temp dir", Err: err}
	}
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return &synerr.ResourceError{Op: "Save: mkdir", Err: err}
	}

	if err := writeManifest(filepath.Join(tmp, "manifest.ttl")); err != nil {
		return err
	}
	if err := writeState(filepath.Join(tmp, "state.ttl"), bank, conns, automations, reg); err != nil {
		return err
	}
	for _, m := range bank.Modules() {
		inst := instanceOf(m.URN)
		saver, ok := inst.(StateSaver)
		if !ok {
			continue
		}
		uri, _ := reg.Unmap(m.URN)
		path := filepath.Join(tmp, SanitizeURN(uri)+".ttl.bin")
		if err := saveModuleState(path, saver); err != nil {
			return err
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		return &synerr.ResourceError{Op: "Save: clear previous bundle", Err: err}
	}
	if err := os.Rename(tmp, dir); err != nil {
		return &synerr.ResourceError{Op: "Save: rename into place", Err: err}
	}
	return nil
}

func saveModuleState(path string, saver StateSaver) error {
	f, err := os.Create(path)
	if err != nil {
		return &synerr.ResourceError{Op: "Save: create module state file", Err: err}
	}
	defer f.Close()
	w := NewWriter(f)
	if err := saver.SaveState(w); err != nil {
		return &synerr.PluginError{Op: "SaveState", Err: err}
	}
	return w.Error()
}

func writeManifest(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return &synerr.ResourceError{Op: "Save: create manifest.ttl", Err: err}
	}
	defer f.Close()
	tw := NewTurtleWriter(f)
	tw.Prefix("spod", spodNS)
	tw.Subject("<>")
	tw.PredURI("spod:bundleType", spodNS+"Session")
	tw.End()
	return tw.Flush()
}

func writeState(path string, bank *pbank.Graph, conns *graph.ConnGraph, automations *automation.Table, reg *urid.Registry) error {
	f, err := os.Create(path)
	if err != nil {
		return &synerr.ResourceError{Op: "Save: create state.ttl", Err: err}
	}
	defer f.Close()
	tw := NewTurtleWriter(f)
	tw.Prefix("spod", spodNS)
	tw.Prefix("xsd", "http://www.w3.org/2001/XMLSchema#")
	tw.Prefix("param", "http://lv2plug.in/ns/ext/parameters#")

	for _, m := range bank.Modules() {
		uri, _ := reg.Unmap(m.URN)
		tw.Subject("<" + uri + ">")
		tw.PredURI("spod:plugin", m.PluginURI)
		tw.PredFloat("spod:modulePositionX", m.Position.X)
		tw.PredFloat("spod:modulePositionY", m.Position.Y)
		tw.PredString("spod:moduleAlias", m.Alias)
		tw.PredBool("spod:moduleDisabled", !m.Enabled)
		tw.End()

		// Non-default Control input values get their own blocks so load
		// can re-apply them after instantiation.
		for _, p := range m.Ports {
			if p.Direction != pbank.Input {
				continue
			}
			v, ok := p.ControlValue()
			if !ok || v == p.Default {
				continue
			}
			sym, _ := reg.Unmap(p.Symbol)
			tw.Subject("[]")
			tw.PredURI("spod:controlModule", uri)
			tw.PredString("spod:controlSymbol", sym)
			tw.PredFloat("spod:controlValue", v)
			tw.End()
		}
	}

	for _, pc := range conns.Connections() {
		srcMod, _ := bank.Module(pc.Source.Module)
		sinkMod, _ := bank.Module(pc.Sink.Module)
		if srcMod == nil || sinkMod == nil {
			continue
		}
		srcURI, _ := reg.Unmap(pc.Source.Module)
		sinkURI, _ := reg.Unmap(pc.Sink.Module)
		srcSym, _ := reg.Unmap(pc.Source.Symbol)
		sinkSym, _ := reg.Unmap(pc.Sink.Symbol)

		tw.Subject("[]")
		tw.PredURI("spod:sourceModule", srcURI)
		tw.PredString("spod:sourceSymbol", srcSym)
		tw.PredURI("spod:sinkModule", sinkURI)
		tw.PredString("spod:sinkSymbol", sinkSym)
		tw.PredFloat("param:gain", pc.Gain)
		tw.End()
	}

	for _, mc := range conns.ModConns() {
		srcURI, _ := reg.Unmap(mc.SourceModule)
		sinkURI, _ := reg.Unmap(mc.SinkModule)
		tw.Subject("[]")
		tw.PredURI("spod:nodeSourceModule", srcURI)
		tw.PredURI("spod:nodeSinkModule", sinkURI)
		tw.PredFloat("spod:nodePositionX", mc.NodeX)
		tw.PredFloat("spod:nodePositionY", mc.NodeY)
		tw.End()
	}

	for _, mp := range automations.Mappings() {
		modURI, _ := reg.Unmap(mp.Sink.Module)
		tw.Subject("[]")
		tw.PredString("spod:automationKind", kindName(mp.Kind))
		tw.PredURI("spod:automationModule", modURI)
		if mp.Sink.Kind == automation.SinkPort {
			sym, _ := reg.Unmap(mp.Sink.Symbol)
			tw.PredString("spod:automationSymbol", sym)
		} else {
			prop, _ := reg.Unmap(mp.Sink.Property)
			tw.PredURI("spod:automationProperty", prop)
		}
		if mp.Kind == MIDI {
			tw.PredFloat("spod:automationChannel", float32(mp.Channel))
			tw.PredFloat("spod:automationController", float32(mp.Controller))
		}
		if mp.Kind == OSC {
			tw.PredString("spod:automationPath", mp.Path)
		}
		tw.PredFloat("spod:automationSrcMin", float32(mp.SrcMin))
		tw.PredFloat("spod:automationSrcMax", float32(mp.SrcMax))
		tw.PredFloat("spod:automationSnkMin", float32(mp.SnkMin))
		tw.PredFloat("spod:automationSnkMax", float32(mp.SnkMax))
		tw.PredBool("spod:automationSrcEnabled", mp.SrcEnabled)
		tw.PredBool("spod:automationSnkEnabled", mp.SnkEnabled)
		tw.End()
	}

	return tw.Flush()
}

func kindName(k Kind) string {
	switch k {
	case MIDI:
		return "midi"
	case OSC:
		return "osc"
	default:
		return "none"
	}
}

// Kind re-exports automation.Kind so callers of this package do not
// need to import internal/automation solely to name a constant.
type Kind = automation.Kind

const (
	MIDI = automation.MIDI
	OSC  = automation.OSC
)

// SanitizeURN turns a plugin instance URI into a filesystem-safe name
// for its per-module state file.
func SanitizeURN(uri string) string {
	out := make([]rune, 0, len(uri))
	for _, r := range uri {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// LoadResult is the parsed content of a bundle's state.ttl, staged for
// the worker to apply in load order: modules
// first, then control values, then plugin state, then connections,
// then automation, then handover to RT.
type LoadResult struct {
	Modules     []LoadedModule
	Controls    []LoadedControl
	Connections []LoadedConnection
	Nodes       []LoadedNode
	Automations []LoadedAutomation
}

type LoadedModule struct {
	URI         string
	PluginURI   string
	X, Y        float32
	Alias       string
	Disabled    bool
}

type LoadedControl struct {
	ModuleURI string
	Symbol    string
	Value     float32
}

type LoadedConnection struct {
	SourceModuleURI, SourceSymbol string
	SinkModuleURI, SinkSymbol     string
	Gain                          float32
}

type LoadedNode struct {
	SourceModuleURI, SinkModuleURI string
	X, Y                           float32
}

type LoadedAutomation struct {
	Kind                           string
	ModuleURI                      string
	Symbol                         string
	PropertyURI                    string
	Channel, Controller            int
	Path                           string
	SrcMin, SrcMax, SnkMin, SnkMax float64
	SrcEnabled, SnkEnabled         bool
}

// Load parses dir's state.ttl into a LoadResult. Applying it to a live
// Graph/ConnGraph/Table, instantiating plugins and handing over to RT,
// is the worker's job (internal/worker), since that needs the plugin
// loader and URID registry this package does not own.
func Load(dir string) (LoadResult, error) {
	f, err := os.Open(filepath.Join(dir, "state.ttl"))
	if err != nil {
		return LoadResult{}, &synerr.ResourceError{Op: "Load: open state.ttl", Err: err}
	}
	defer f.Close()

	tr := NewTurtleReader(f)
	var res LoadResult
	for {
		blk, ok, err := tr.Next()
		if err != nil {
			return LoadResult{}, &synerr.ResourceError{Op: "Load: parse state.ttl", Err: err}
		}
		if !ok {
			break
		}
		classify(blk, &res)
	}
	return res, nil
}

func classify(blk Block, res *LoadResult) {
	isConn, isAuto, isControl, isNode := false, false, false, false
	for _, s := range blk.Statements {
		switch s.Pred {
		case "spod:sourceModule":
			isConn = true
		case "spod:automationKind":
			isAuto = true
		case "spod:controlModule":
			isControl = true
		case "spod:nodeSourceModule":
			isNode = true
		}
	}
	switch {
	case isConn:
		res.Connections = append(res.Connections, parseConnection(blk))
	case isAuto:
		res.Automations = append(res.Automations, parseAutomation(blk))
	case isControl:
		res.Controls = append(res.Controls, parseControl(blk))
	case isNode:
		res.Nodes = append(res.Nodes, parseNode(blk))
	case blk.Subject != "<>":
		if m, ok := parseModule(blk); ok {
			res.Modules = append(res.Modules, m)
		}
	}
}

func parseControl(blk Block) LoadedControl {
	var c LoadedControl
	for _, s := range blk.Statements {
		switch s.Pred {
		case "spod:controlModule":
			c.ModuleURI = UnquoteURI(s.Value)
		case "spod:controlSymbol":
			c.Symbol = UnquoteString(s.Value)
		case "spod:controlValue":
			c.Value, _ = UnquoteFloat(s.Value)
		}
	}
	return c
}

func parseNode(blk Block) LoadedNode {
	var n LoadedNode
	for _, s := range blk.Statements {
		switch s.Pred {
		case "spod:nodeSourceModule":
			n.SourceModuleURI = UnquoteURI(s.Value)
		case "spod:nodeSinkModule":
			n.SinkModuleURI = UnquoteURI(s.Value)
		case "spod:nodePositionX":
			n.X, _ = UnquoteFloat(s.Value)
		case "spod:nodePositionY":
			n.Y, _ = UnquoteFloat(s.Value)
		}
	}
	return n
}

func parseModule(blk Block) (LoadedModule, bool) {
	m := LoadedModule{URI: UnquoteURI(strings.TrimSuffix(strings.TrimPrefix(blk.Subject, "<"), ">"))}
	found := false
	for _, s := range blk.Statements {
		switch s.Pred {
		case "spod:plugin":
			m.PluginURI = UnquoteURI(s.Value)
			found = true
		case "spod:modulePositionX":
			m.X, _ = UnquoteFloat(s.Value)
		case "spod:modulePositionY":
			m.Y, _ = UnquoteFloat(s.Value)
		case "spod:moduleAlias":
			m.Alias = UnquoteString(s.Value)
		case "spod:moduleDisabled":
			m.Disabled = UnquoteBool(s.Value)
		}
	}
	return m, found
}

func parseConnection(blk Block) LoadedConnection {
	var c LoadedConnection
	for _, s := range blk.Statements {
		switch s.Pred {
		case "spod:sourceModule":
			c.SourceModuleURI = UnquoteURI(s.Value)
		case "spod:sourceSymbol":
			c.SourceSymbol = UnquoteString(s.Value)
		case "spod:sinkModule":
			c.SinkModuleURI = UnquoteURI(s.Value)
		case "spod:sinkSymbol":
			c.SinkSymbol = UnquoteString(s.Value)
		case "param:gain":
			c.Gain, _ = UnquoteFloat(s.Value)
		}
	}
	return c
}

func parseAutomation(blk Block) LoadedAutomation {
	var a LoadedAutomation
	for _, s := range blk.Statements {
		switch s.Pred {
		case "spod:automationKind":
			a.Kind = UnquoteString(s.Value)
		case "spod:automationModule":
			a.ModuleURI = UnquoteURI(s.Value)
		case "spod:automationSymbol":
			a.Symbol = UnquoteString(s.Value)
		case "spod:automationProperty":
			a.PropertyURI = UnquoteURI(s.Value)
		case "spod:automationChannel":
			f, _ := UnquoteFloat(s.Value)
			a.Channel = int(f)
		case "spod:automationController":
			f, _ := UnquoteFloat(s.Value)
			a.Controller = int(f)
		case "spod:automationPath":
			a.Path = UnquoteString(s.Value)
		case "spod:automationSrcMin":
			f, _ := UnquoteFloat(s.Value)
			a.SrcMin = float64(f)
		case "spod:automationSrcMax":
			f, _ := UnquoteFloat(s.Value)
			a.SrcMax = float64(f)
		case "spod:automationSnkMin":
			f, _ := UnquoteFloat(s.Value)
			a.SnkMin = float64(f)
		case "spod:automationSnkMax":
			f, _ := UnquoteFloat(s.Value)
			a.SnkMax = float64(f)
		case "spod:automationSrcEnabled":
			a.SrcEnabled = UnquoteBool(s.Value)
		case "spod:automationSnkEnabled":
			a.SnkEnabled = UnquoteBool(s.Value)
		}
	}
	return a
}
