// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"livefx/internal/analysis"
	"livefx/internal/audio"
	"livefx/internal/config"
	"livefx/internal/dsp"
	"livefx/internal/engine"
	"livefx/internal/log"
	"livefx/internal/observe"
	"livefx/internal/param"
	"livefx/internal/session"
	"livefx/internal/transport"
)

// newSource creates the capture backend; tests substitute their own.
var newSource = audio.NewSource

// runFlags mirror the configuration file. Only flags given on the command
// line override it.
type runFlags struct {
	inputDevice     int
	outputDevice    int
	sampleRate      float64
	framesPerBuffer int
	channels        int
	lowLatency      bool

	record    bool
	recordDir string

	control string
	metrics string

	pitch     float64
	reverbMix float64
	delay     float64
	gain      float64
	set       []string
}

func newRunCommand(opts *globalOptions) *cobra.Command {
	f := &runFlags{}

	c := &cobra.Command{
		Use:   "run",
		Short: "Process the microphone through the effect chain until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := f.apply(cmd, cfg); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	// Audio Device Configuration
	flags := c.Flags()
	flags.IntVarP(&f.inputDevice, "device", "d", config.DefaultDeviceID,
		"Specify input device ID. Use 'devices' command to see available devices.")
	flags.IntVar(&f.outputDevice, "output-device", config.DefaultDeviceID,
		"Specify output device ID")
	flags.Float64VarP(&f.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate, measured in Hertz (Hz), 0 for the device default")
	flags.IntVarP(&f.framesPerBuffer, "frames-per-buffer", "b", config.DefaultFramesPerBuffer,
		"The number of frames per buffer (affects latency)")
	flags.IntVarP(&f.channels, "channels", "c", config.DefaultChannels,
		"Number of channels to process (1=mono, 2=stereo)")
	flags.BoolVarP(&f.lowLatency, "low-latency", "l", config.DefaultLowLatency,
		"Use low latency mode for real-time processing")

	// Recording Configuration
	flags.BoolVarP(&f.record, "record", "r", false,
		"Record the processed output to a WAV file")
	flags.StringVar(&f.recordDir, "record-dir", config.DefaultRecordingDir,
		"Directory for recordings")

	// Surfaces
	flags.StringVar(&f.control, "control", config.DefaultControlAddress,
		"WebSocket control address, empty to disable")
	flags.StringVar(&f.metrics, "metrics", "",
		"Prometheus metrics address, empty to disable")

	// Effects
	flags.Float64Var(&f.pitch, "pitch", 0, "Pitch shift in cents")
	flags.Float64Var(&f.reverbMix, "reverb-mix", 0, "Reverb mix in percent")
	flags.Float64Var(&f.delay, "delay", 0, "Delay time in seconds")
	flags.Float64Var(&f.gain, "gain", 0, "Output volume, 0 to 1")
	flags.StringArrayVar(&f.set, "set", nil,
		"Set any parameter as stage.param=value (repeatable, see 'params')")

	return c
}

// apply copies the flags given on the command line over cfg.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed

	if changed("device") {
		cfg.Audio.InputDevice = f.inputDevice
	}
	if changed("output-device") {
		cfg.Audio.OutputDevice = f.outputDevice
	}
	if changed("sample-rate") {
		cfg.Audio.SampleRate = f.sampleRate
	}
	if changed("frames-per-buffer") {
		cfg.Audio.FramesPerBuffer = f.framesPerBuffer
	}
	if changed("channels") {
		cfg.Audio.Channels = f.channels
	}
	if changed("low-latency") {
		cfg.Audio.LowLatency = f.lowLatency
	}
	if changed("record") {
		cfg.Recording.Enabled = f.record
	}
	if changed("record-dir") {
		cfg.Recording.OutputDir = f.recordDir
	}
	if changed("control") {
		cfg.Control.Enabled = f.control != ""
		cfg.Control.Address = f.control
	}
	if changed("metrics") {
		cfg.Metrics.Enabled = f.metrics != ""
		cfg.Metrics.Address = f.metrics
	}

	effect := func(flag, stage, id string, v float64) {
		if !changed(flag) {
			return
		}
		if cfg.Effects == nil {
			cfg.Effects = config.EffectsConfig{}
		}
		if cfg.Effects[stage] == nil {
			cfg.Effects[stage] = map[string]float64{}
		}
		cfg.Effects[stage][id] = v
	}
	effect("pitch", dsp.StagePitch, "cents", f.pitch)
	effect("reverb-mix", dsp.StageReverb, "mix", f.reverbMix)
	effect("delay", dsp.StageDelay, "time", f.delay)
	effect("gain", dsp.StageMixer, "gain", f.gain)

	for _, kv := range f.set {
		stage, id, v, err := parseSet(kv)
		if err != nil {
			return err
		}
		effect("set", stage, id, v)
	}

	return cfg.Validate()
}

// parseSet splits "stage.param=value".
func parseSet(kv string) (stage, id string, v float64, err error) {
	key, value, ok := strings.Cut(kv, "=")
	if ok {
		stage, id, ok = strings.Cut(key, ".")
	}
	if !ok || stage == "" || id == "" {
		return "", "", 0, fmt.Errorf("--set %q: want stage.param=value", kv)
	}
	v, err = strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return "", "", 0, fmt.Errorf("--set %q: %w", kv, err)
	}
	return stage, id, v, nil
}

// applyEffects writes the configured initial values into the registry.
func applyEffects(reg *param.Registry, effects config.EffectsConfig) error {
	for stage, params := range effects {
		for id, v := range params {
			got, err := reg.Set(stage, id, v)
			if err != nil {
				return fmt.Errorf("effects.%s.%s: %w", stage, id, err)
			}
			if got != v {
				log.Warnf("effects.%s.%s: %g clamped to %g", stage, id, v, got)
			}
		}
	}
	return nil
}

// run builds the engine from cfg, starts it with every enabled surface and
// blocks until ctx is cancelled, a signal arrives or the device faults.
//
// Startup (cold path): source, chain, taps, surfaces.
// Running (hot path): the device thread renders; errgroup members serve
// control, metrics, analysis and recording.
// Shutdown (cold path): surfaces drain, the engine stops and is torn down.
func run(ctx context.Context, cfg *config.Config, out io.Writer) (err error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := newSource(cfg)
	if err != nil {
		return err
	}
	eng := engine.New(
		engine.WithAuthorizer(session.Static(cfg.Audio.Authorized)),
		engine.WithOpenTimeout(cfg.Audio.OpenTimeout),
	)
	if err := eng.Build(ctx, dsp.NewStandardChain(), source); err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, eng.Teardown())
	}()
	if err := applyEffects(eng.Registry(), cfg.Effects); err != nil {
		return err
	}

	format := eng.Format()
	drops := map[string]observe.Dropper{}
	var tasks []func(context.Context) error

	var ctrl *transport.WebSocketServer
	if cfg.Control.Enabled {
		ctrl = transport.NewWebSocketServer(cfg.Control.Address, cfg.Control.Path, eng)
		tasks = append(tasks, ctrl.Run)
	}

	if cfg.Analysis.Enabled {
		window, err := analysis.ParseWindowFunc(cfg.Analysis.Window)
		if err != nil {
			return err
		}
		var pub analysis.Publisher
		if ctrl != nil {
			pub = ctrl
		}
		an, err := analysis.NewAnalyzer(format, analysis.Config{
			FFTSize:       cfg.Analysis.FFTSize,
			Window:        window,
			Interval:      cfg.Analysis.Interval,
			GateThreshold: cfg.Analysis.GateThreshold,
			Capacity:      config.DefaultTapCapacity,
		}, pub)
		if err != nil {
			return err
		}
		if err := eng.AttachTap(an); err != nil {
			return err
		}
		drops["analyzer"] = an
		tasks = append(tasks, an.Run)
	}

	var (
		rec     *audio.Recorder
		recPath string
	)
	if cfg.Recording.Enabled {
		rec, err = audio.NewRecorder(format, audio.RecorderConfig{
			OutputDir:   cfg.Recording.OutputDir,
			BitDepth:    cfg.Recording.BitDepth,
			MaxDuration: time.Duration(cfg.Recording.MaxDuration) * time.Second,
			Capacity:    cfg.Recording.Capacity,
		})
		if err != nil {
			return err
		}
		if err := eng.AttachTap(rec); err != nil {
			return err
		}
		drops["recorder"] = rec
		tasks = append(tasks, rec.Run)
	}

	if cfg.Metrics.Enabled {
		prom, err := observe.NewPrometheus()
		if err != nil {
			return err
		}
		metrics, err := observe.NewMetrics(prom.Provider, eng, drops)
		if err != nil {
			return err
		}
		defer metrics.Close()
		tasks = append(tasks, func(ctx context.Context) error {
			return prom.Serve(ctx, cfg.Metrics.Address, cfg.Metrics.Path)
		})
	}

	if sim, ok := source.(*audio.Simulator); ok {
		tasks = append(tasks, sim.Run)
	}

	if err := eng.Start(ctx); err != nil {
		return err
	}
	// Open the take only once Running, so a failed start writes no file.
	if rec != nil {
		if recPath, err = rec.Start(""); err != nil {
			return errors.Join(err, eng.Stop())
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		g.Go(func() error { return task(gctx) })
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-eng.Faults():
			return err
		}
	})

	fmt.Fprintf(out, "livefx running at %s. Press Ctrl+C to stop.\n", format)

	waitErr := g.Wait()
	stopErr := eng.Stop()

	if rec != nil {
		// Recorder.Run finished the take when the group was cancelled.
		fmt.Fprintf(out, "Recording saved to: %s (%d frames)\n", recPath, rec.Frames())
	}
	stats := eng.Stats()
	log.Infof("Engine: %d buffers processed, %d dropped, %d overruns, max render %s",
		stats.BuffersOut, stats.Dropped, stats.Overruns, stats.MaxRender)

	return errors.Join(waitErr, stopErr)
}
