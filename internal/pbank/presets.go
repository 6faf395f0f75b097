package pbank

import (
	"sync"

	"github.com/synthpod/synthpod/internal/synerr"
	"github.com/synthpod/synthpod/internal/urid"
)

// PresetStore is the read/write capability ApplyPreset and
// SavePreset need from the metadata database. The database itself is
// an external collaborator; this is its interface to the core.
type PresetStore interface {
	// Load returns the saved control/param values for preset.
	Load(preset urid.ID) (PresetData, error)
	// Save persists data under a new preset named label for pluginURI,
	// returning its assigned URID.
	Save(pluginURI, label string, data PresetData) (urid.ID, error)
	// List returns every preset known for pluginURI.
	List(pluginURI string) []PresetInfo
}

// PresetData is the captured state ApplyPreset restores and
// SavePreset captures: every Control port's value by port symbol,
// and Param values by property URID.
type PresetData struct {
	ControlValues map[urid.ID]float32
	ParamValues   map[urid.ID]any
}

// MemoryPresetStore is an in-memory PresetStore, standing in for the
// external metadata database in tests and for the bundled builtin
// modules, which have no on-disk preset bundle of their own.
type MemoryPresetStore struct {
	mu      sync.RWMutex
	byURID  map[urid.ID]PresetData
	byURI   map[string][]PresetInfo
	reg     *urid.Registry
	counter int
}

func NewMemoryPresetStore(reg *urid.Registry) *MemoryPresetStore {
	return &MemoryPresetStore{
		byURID: make(map[urid.ID]PresetData),
		byURI:  make(map[string][]PresetInfo),
		reg:    reg,
	}
}

func (s *MemoryPresetStore) Load(preset urid.ID) (PresetData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byURID[preset]
	if !ok {
		return PresetData{}, &synerr.LookupError{Op: "preset.Load", Target: "preset"}
	}
	return d, nil
}

func (s *MemoryPresetStore) Save(pluginURI, label string, data PresetData) (urid.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	uri := pluginURI + "#preset" + itoa(s.counter)
	id := s.reg.Map(uri)
	s.byURID[id] = data
	s.byURI[pluginURI] = append(s.byURI[pluginURI], PresetInfo{URID: id, Label: label})
	return id, nil
}

func (s *MemoryPresetStore) List(pluginURI string) []PresetInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PresetInfo, len(s.byURI[pluginURI]))
	copy(out, s.byURI[pluginURI])
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ApplyPreset restores saved state from
// the PresetStore and update every port/param value it names.
func (m *Module) ApplyPreset(store PresetStore, preset urid.ID) error {
	data, err := store.Load(preset)
	if err != nil {
		return err
	}
	for symbol, v := range data.ControlValues {
		p, ok := m.portBySymbol[symbol]
		if !ok {
			continue
		}
		p.SetControlValue(v)
	}
	for property, v := range data.ParamValues {
		m.Params.Set(property, v)
	}
	return nil
}

// SavePreset captures current state and
// persist it to the PresetStore under label, returning the new
// preset's URID.
func (m *Module) SavePreset(store PresetStore, label string) (urid.ID, error) {
	data := PresetData{
		ControlValues: make(map[urid.ID]float32),
		ParamValues:   make(map[urid.ID]any),
	}
	for symbol, p := range m.portBySymbol {
		if v, ok := p.ControlValue(); ok {
			data.ControlValues[symbol] = v
		}
	}
	m.Params.ForEach(func(property urid.ID, p *Param) {
		data.ParamValues[property] = p.Value()
	})
	id, err := store.Save(m.PluginURI, label, data)
	if err != nil {
		return 0, err
	}
	m.Presets = append(m.Presets, PresetInfo{URID: id, Label: label})
	return id, nil
}
