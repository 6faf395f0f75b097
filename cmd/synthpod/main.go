// Command synthpod is the engine's CLI entrypoint: load or save a
// bundle, optionally render a fixed number of frames offline to a WAV
// file in the absence of a real audio driver.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/pflag"

	"github.com/synthpod/synthpod/internal/builtin"
	"github.com/synthpod/synthpod/internal/config"
	"github.com/synthpod/synthpod/internal/logging"
	"github.com/synthpod/synthpod/internal/synerr"
	"github.com/synthpod/synthpod/pkg/engine"
)

const (
	exitOK          = 0
	exitBundleError = 1
	exitPluginError = 2
	exitDriverError = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		loadPath   = pflag.StringP("load", "l", "", "Bundle directory to load at startup.")
		savePath   = pflag.StringP("save", "s", "", "Bundle directory to save to before exiting.")
		offline    = pflag.Int("offline", 0, "Render this many frames offline instead of waiting for an audio driver.")
		sampleRate = pflag.Float64("sample-rate", 48000, "Audio sample rate in Hz.")
		period     = pflag.Uint32("period", 256, "Frames per processing period.")
		numPeriods = pflag.Int("num-periods", 1, "Number of periods of ring buffering between threads.")
		cpus       = pflag.Int("cpus", 1, "Number of worker goroutines the scheduler may use per barrier.")
		configPath = pflag.StringP("config", "c", "", "YAML config file (overrides --sample-rate/--period/--num-periods/--cpus).")
		logLevel   = pflag.String("log-level", "info", "Log level: debug, info, warn, error.")
		pretty     = pflag.Bool("pretty", false, "Console-formatted logs instead of JSON.")
	)

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "synthpod - modular audio/control plugin host\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	logging.Init(*logLevel, *pretty)
	log := logging.With("cli")

	cfg, err := loadConfig(*configPath, *sampleRate, *period, *numPeriods, *cpus)
	if err != nil {
		log.Error().Err(err).Msg("config")
		return exitCodeFor(err)
	}

	eng, err := engine.New(cfg)
	if err != nil {
		log.Error().Err(err).Msg("engine init")
		return exitCodeFor(err)
	}
	defer eng.Close()

	if *loadPath != "" {
		if err := eng.LoadBundle(*loadPath); err != nil {
			log.Error().Err(err).Str("bundle", *loadPath).Msg("load")
			return exitCodeFor(err)
		}
	}

	if *offline > 0 {
		if err := renderOffline(eng, cfg, *offline, outputPathFor(*savePath)); err != nil {
			log.Error().Err(err).Msg("offline render")
			return exitCodeFor(err)
		}
	}

	if *savePath != "" {
		if err := eng.SaveBundle(*savePath); err != nil {
			log.Error().Err(err).Str("bundle", *savePath).Msg("save")
			return exitCodeFor(err)
		}
	}

	return exitOK
}

func loadConfig(path string, sampleRate float64, period uint32, numPeriods, cpus int) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := config.Default()
	cfg.Audio.SampleRate = sampleRate
	cfg.Audio.PeriodSize = period
	cfg.Audio.NumPeriods = numPeriods
	cfg.Audio.CPUsUsed = cpus
	return cfg, nil
}

// outputPathFor names the WAV file an offline render is written to:
// alongside the bundle being saved when one is given, "offline.wav" in
// the working directory otherwise.
func outputPathFor(savePath string) string {
	if savePath == "" {
		return "offline.wav"
	}
	return savePath + "/offline.wav"
}

// renderOffline drives the engine through frames frames of silent
// input, writing the rendered stereo output to a WAV file. This is
// the CLI's one necessary touch of the audio-driver boundary,
// standing in for a real ALSA-style callback loop so the engine is
// runnable end-to-end without one.
func renderOffline(eng *engine.Engine, cfg *config.Config, frames int, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return &synerr.ResourceError{Op: "renderOffline: create wav", Err: err}
	}
	defer out.Close()

	enc := wav.NewEncoder(out, int(cfg.Audio.SampleRate), 16, builtin.NumAudioChannels, 1)
	defer enc.Close()

	period := int(cfg.Audio.PeriodSize)
	if period <= 0 {
		period = frames
	}

	silentIn := make([][]float32, builtin.NumAudioChannels)
	for ch := range silentIn {
		silentIn[ch] = make([]float32, period)
	}
	out32 := make([][]float32, builtin.NumAudioChannels)
	for ch := range out32 {
		out32[ch] = make([]float32, period)
	}

	intBuf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: builtin.NumAudioChannels, SampleRate: int(cfg.Audio.SampleRate)},
		Data:   make([]int, period*builtin.NumAudioChannels),
	}

	remaining := frames
	for remaining > 0 {
		n := period
		if n > remaining {
			n = remaining
		}
		if err := eng.Process(uint32(n), sliceTo(silentIn, n), sliceTo(out32, n)); err != nil {
			return err
		}
		interleave(out32, n, intBuf)
		if err := enc.Write(intBuf); err != nil {
			return &synerr.ResourceError{Op: "renderOffline: write wav", Err: err}
		}
		remaining -= n
	}
	return nil
}

func sliceTo(bufs [][]float32, n int) [][]float32 {
	out := make([][]float32, len(bufs))
	for i, b := range bufs {
		out[i] = b[:n]
	}
	return out
}

func interleave(chans [][]float32, n int, dst *audio.IntBuffer) {
	dst.Data = dst.Data[:n*len(chans)]
	for i := 0; i < n; i++ {
		for ch, buf := range chans {
			dst.Data[i*len(chans)+ch] = int(buf[i] * 32767)
		}
	}
}

func exitCodeFor(err error) int {
	var pluginErr *synerr.PluginError
	if errors.As(err, &pluginErr) {
		return exitPluginError
	}
	var resourceErr *synerr.ResourceError
	if errors.As(err, &resourceErr) {
		return exitBundleError
	}
	var lookupErr *synerr.LookupError
	if errors.As(err, &lookupErr) {
		return exitBundleError
	}
	return exitDriverError
}
