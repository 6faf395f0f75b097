package pluginhost

import (
	"fmt"
	"plugin"
	"strings"
	"sync"

	"github.com/synthpod/synthpod/internal/synerr"
)

// Factory constructs a Descriptor for a builtin module, registered by
// name through RegisterBuiltin (internal/builtin.Register installs the
// source and sink).
type Factory func() Descriptor

// Loader resolves a plugin URI to a Descriptor, either from the
// process's own builtin registry (`builtin:<name>`, used for the
// bundled source/sink modules every graph carries) or by
// opening a shared object on disk (`file:<path>.so`) via the standard
// library's plugin package.
//
// The plugin package is the only in-process, ABI-agnostic dynamic
// loader available; hosting over a subprocess RPC boundary would not
// satisfy the stable connect_port pointer contract.
type Loader struct {
	mu       sync.RWMutex
	builtins map[string]Factory
	cache    map[string]Descriptor // path -> already-opened file: plugin
}

func NewLoader() *Loader {
	return &Loader{
		builtins: make(map[string]Factory),
		cache:    make(map[string]Descriptor),
	}
}

// RegisterBuiltin makes name available under the builtin: scheme.
func (l *Loader) RegisterBuiltin(name string, f Factory) {
	l.mu.Lock()
	l.builtins[name] = f
	l.mu.Unlock()
}

// Load resolves uri to a Descriptor. Called on the worker thread only
//.
func (l *Loader) Load(uri string) (Descriptor, error) {
	switch {
	case strings.HasPrefix(uri, "builtin:"):
		return l.loadBuiltin(strings.TrimPrefix(uri, "builtin:"))
	case strings.HasPrefix(uri, "file:"):
		return l.loadFile(strings.TrimPrefix(uri, "file:"))
	default:
		return nil, &synerr.PluginError{URI: uri, Op: "load", Err: fmt.Errorf("unrecognised plugin URI scheme")}
	}
}

func (l *Loader) loadBuiltin(name string) (Descriptor, error) {
	l.mu.RLock()
	f, ok := l.builtins[name]
	l.mu.RUnlock()
	if !ok {
		return nil, &synerr.PluginError{URI: "builtin:" + name, Op: "load", Err: fmt.Errorf("no such builtin module")}
	}
	return f(), nil
}

// descriptorSymbol is the exported variable a shared object must
// provide: var SynthpodPlugin pluginhost.Descriptor.
const descriptorSymbol = "SynthpodPlugin"

func (l *Loader) loadFile(path string) (Descriptor, error) {
	l.mu.RLock()
	if d, ok := l.cache[path]; ok {
		l.mu.RUnlock()
		return d, nil
	}
	l.mu.RUnlock()

	p, err := plugin.Open(path)
	if err != nil {
		return nil, &synerr.PluginError{URI: "file:" + path, Op: "open", Err: err}
	}
	sym, err := p.Lookup(descriptorSymbol)
	if err != nil {
		return nil, &synerr.PluginError{URI: "file:" + path, Op: "lookup", Err: err}
	}
	d, ok := sym.(*Descriptor)
	if !ok || d == nil || *d == nil {
		return nil, &synerr.PluginError{URI: "file:" + path, Op: "lookup", Err: fmt.Errorf("exported symbol is not a non-nil pluginhost.Descriptor")}
	}

	l.mu.Lock()
	l.cache[path] = *d
	l.mu.Unlock()
	return *d, nil
}
