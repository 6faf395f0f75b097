// Package config loads the engine's bootstrap settings: the audio
// settings snapshot, plugin search paths, and bundle/preset
// directories. This is distinct from the RDF bundle state a session
// saves (internal/state) — config is read once at startup, not
// round-tripped through a running session.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/synthpod/synthpod/internal/synerr"
)

// AudioSettings is the engine's fixed-for-the-session audio
// configuration, handed to pkg/engine at construction.
type AudioSettings struct {
	SampleRate float64 `yaml:"sample_rate"`
	PeriodSize uint32  `yaml:"period_size"`
	NumPeriods int     `yaml:"num_periods"`
	CPUsUsed   int     `yaml:"cpus_used"`
}

// Config is the top-level shape of the YAML configuration file.
type Config struct {
	Audio      AudioSettings `yaml:"audio"`
	PluginPath []string      `yaml:"plugin_path"`
	BundleDir  string        `yaml:"bundle_dir"`
	PresetDir  string        `yaml:"preset_dir"`
}

// Default returns the settings the engine falls back to when no
// config file is given and no flag or environment variable overrides
// a field: a single-period, single-CPU, 48kHz/256-frame setup, with
// search/data directories taken from the environment.
func Default() *Config {
	return &Config{
		Audio: AudioSettings{
			SampleRate: 48000,
			PeriodSize: 256,
			NumPeriods: 1,
			CPUsUsed:   1,
		},
		PluginPath: lv2PathDirs(),
		BundleDir:  ".",
		PresetDir:  presetDir(),
	}
}

// Load reads and parses a YAML config file, starting from Default()
// so a file only needs to mention the fields it overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &synerr.ResourceError{Op: "config.Load: read", Err: err}
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &synerr.ResourceError{Op: "config.Load: parse", Err: err}
	}
	if len(cfg.PluginPath) == 0 {
		cfg.PluginPath = lv2PathDirs()
	}
	return cfg, nil
}

// ResolvePlugin finds name (a bare shared-object file name) on the
// configured plugin search path and returns a file: URI ready for
// pluginhost.Loader.Load. Returns an error if no search directory
// contains it.
func (c *Config) ResolvePlugin(name string) (string, error) {
	for _, dir := range c.PluginPath {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return "file:" + candidate, nil
		}
	}
	return "", &synerr.LookupError{Op: "config.ResolvePlugin", Target: name}
}

// lv2PathDirs splits LV2_PATH the way the original synthpod's plugin
// metadata database does, colon-separated on all platforms since
// there is no Windows target here.
func lv2PathDirs() []string {
	v := os.Getenv("LV2_PATH")
	if v == "" {
		return nil
	}
	var dirs []string
	for _, d := range strings.Split(v, ":") {
		if d != "" {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

// presetDir follows XDG_DATA_HOME, falling back to ~/.local/share the
// way the XDG base directory spec requires when the variable is unset.
func presetDir() string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return filepath.Join(v, "synthpod", "presets")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "presets"
	}
	return filepath.Join(home, ".local", "share", "synthpod", "presets")
}
