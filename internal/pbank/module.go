package pbank

import (
	"math"

	"github.com/synthpod/synthpod/internal/port"
	"github.com/synthpod/synthpod/internal/synerr"
	"github.com/synthpod/synthpod/internal/urid"
)

// Display is an optional inline-display surface a plugin renders for
// the patch canvas.
type Display struct {
	W, H   int
	Pixels []byte // ARGB, W*H*4 bytes
}

// PresetInfo names one preset discoverable for a Module's plugin URI,
// as surfaced by the (external) metadata database.
type PresetInfo struct {
	URID  urid.ID
	Label string
}

// Position is a Module's canvas coordinate.
type Position struct {
	X, Y float32
}

// Module is one plugin instance plus its port state, parameter state,
// preset list, and display position.
type Module struct {
	URN        urid.ID
	PluginURI  string
	Ports      []*Port
	Params     *ParamManager
	Position   Position
	Alias      string
	Enabled    bool
	SelectedUI urid.ID // 0 = none

	Profile Profile
	Display *Display

	Presets []PresetInfo

	portBySymbol map[urid.ID]*Port
}

// NewModule creates an empty Module for the given plugin URI, with no
// ports or params yet — the plugin host glue populates those once the
// plugin is instantiated.
func NewModule(urn urid.ID, pluginURI string) *Module {
	return &Module{
		URN:          urn,
		PluginURI:    pluginURI,
		Params:       NewParamManager(),
		Enabled:      true,
		portBySymbol: make(map[urid.ID]*Port),
	}
}

// AddPort appends p to the Module's port list and indexes it by
// symbol. Port indices must be assigned by the caller in plugin
// declaration order and never change afterward.
func (m *Module) AddPort(p *Port) {
	p.ModuleURN = m.URN
	m.Ports = append(m.Ports, p)
	m.portBySymbol[p.Symbol] = p
}

// PortBySymbol looks up a port by its interned symbol.
func (m *Module) PortBySymbol(symbol urid.ID) (*Port, bool) {
	p, ok := m.portBySymbol[symbol]
	return p, ok
}

// PortByIndex looks up a port by its plugin-declared index.
func (m *Module) PortByIndex(index int) (*Port, bool) {
	if index < 0 || index >= len(m.Ports) {
		return nil, false
	}
	return m.Ports[index], true
}

// SetPortValue writes a scalar to a port: for Control ports it
// writes the f32 directly; for Atom ports it appends a patch:Set
// event into the port's sequence rather than erroring, since a
// patch-capable Atom input is the only other place a scalar value can
// land.
func (m *Module) SetPortValue(symbol urid.ID, value float32, patchSet urid.ID) error {
	p, ok := m.portBySymbol[symbol]
	if !ok {
		return &synerr.LookupError{Op: "set_port_value", Target: "port"}
	}
	switch p.Type {
	case port.Control:
		if value < p.Min || value > p.Max {
			return &synerr.ConstraintError{Op: "set_port_value", Reason: "value out of declared range"}
		}
		p.SetControlValue(value)
		return nil
	case port.Atom:
		ok := p.AppendAtomEvent(port.AtomEvent{Type: patchSet, Data: f32Bytes(value)})
		if !ok {
			return &synerr.ResourceError{Op: "set_port_value: atom buffer full"}
		}
		return nil
	default:
		return &synerr.ConstraintError{Op: "set_port_value", Reason: "port is not writable"}
	}
}

// GetPortValue returns a Control port's current value: the
// last written/observed value.
func (m *Module) GetPortValue(symbol urid.ID) (float32, error) {
	p, ok := m.portBySymbol[symbol]
	if !ok {
		return 0, &synerr.LookupError{Op: "get_port_value", Target: "port"}
	}
	v, ok := p.ControlValue()
	if !ok {
		return 0, &synerr.ConstraintError{Op: "get_port_value", Reason: "port is not a Control port"}
	}
	return v, nil
}

// ProfileSample records one period's run time in nanoseconds.
func (m *Module) ProfileSample(ns float64) {
	m.Profile.Sample(ns)
}

func f32Bytes(v float32) []byte {
	bits := math.Float32bits(v)
	return []byte{byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24)}
}
