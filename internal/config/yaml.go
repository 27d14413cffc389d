// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"livefx/internal/analysis"
	"livefx/internal/dsp"
	"livefx/internal/log"
	"livefx/pkg/bitint"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations ("config.yaml", "livefx.yaml"). If no file is found,
// it uses built-in defaults. After loading defaults or from file, it applies
// environment variable overrides and validates the final configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, candidate := range []string{"config.yaml", "livefx.yaml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		log.Debugf("configuration: loaded %s", path)
	}

	// Environment variables win over the file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section and reports the first problem found.
func (c *Config) Validate() error {
	if c.LogLevel != "" {
		if _, ok := log.ParseLevel(c.LogLevel); !ok {
			return fmt.Errorf("%w: unknown log_level %q", ErrInvalid, c.LogLevel)
		}
	}

	a := c.Audio
	switch a.Backend {
	case BackendPortAudio, BackendMalgo, BackendSimulated:
	default:
		return fmt.Errorf("%w: audio.backend %q (want %s, %s or %s)",
			ErrInvalid, a.Backend, BackendPortAudio, BackendMalgo, BackendSimulated)
	}
	if a.InputDevice < MinDeviceID || a.OutputDevice < MinDeviceID {
		return fmt.Errorf("%w: device ids must be >= %d", ErrInvalid, MinDeviceID)
	}
	if a.SampleRate != 0 && (a.SampleRate < dsp.MinSampleRate || a.SampleRate > dsp.MaxSampleRate) {
		return fmt.Errorf("%w: audio.sample_rate %.0f outside [%d, %d]",
			ErrInvalid, a.SampleRate, dsp.MinSampleRate, dsp.MaxSampleRate)
	}
	if a.FramesPerBuffer != 0 && (a.FramesPerBuffer < dsp.MinBufferFrames || a.FramesPerBuffer > dsp.MaxBufferFrames) {
		return fmt.Errorf("%w: audio.frames_per_buffer %d outside [%d, %d]",
			ErrInvalid, a.FramesPerBuffer, dsp.MinBufferFrames, dsp.MaxBufferFrames)
	}
	if a.Channels < 0 || a.Channels > dsp.MaxChannels {
		return fmt.Errorf("%w: audio.channels %d (mono or stereo only)", ErrInvalid, a.Channels)
	}
	if _, err := ParseSampleFormat(a.SampleFormat); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if a.OpenTimeout <= 0 {
		return fmt.Errorf("%w: audio.open_timeout must be positive", ErrInvalid)
	}

	for stage, params := range c.Effects {
		if stage == "" || len(params) == 0 {
			return fmt.Errorf("%w: effects.%s has no parameters", ErrInvalid, stage)
		}
	}

	r := c.Recording
	switch r.BitDepth {
	case 16, 24, 32:
	default:
		return fmt.Errorf("%w: recording.bit_depth %d (want 16, 24 or 32)", ErrInvalid, r.BitDepth)
	}
	if r.Enabled && r.OutputDir == "" {
		return fmt.Errorf("%w: recording.output_dir must be set when recording is enabled", ErrInvalid)
	}
	if r.MaxDuration < 0 || r.Capacity < 0 {
		return fmt.Errorf("%w: recording limits must not be negative", ErrInvalid)
	}

	if c.Control.Enabled && !strings.Contains(c.Control.Address, ":") {
		return fmt.Errorf("%w: control.address %q appears invalid (missing port?)", ErrInvalid, c.Control.Address)
	}
	if c.Metrics.Enabled && !strings.Contains(c.Metrics.Address, ":") {
		return fmt.Errorf("%w: metrics.address %q appears invalid (missing port?)", ErrInvalid, c.Metrics.Address)
	}

	an := c.Analysis
	if an.Enabled {
		if !bitint.IsPowerOfTwo(an.FFTSize) {
			return fmt.Errorf("%w: analysis.fft_size %d must be a power of 2", ErrInvalid, an.FFTSize)
		}
		if _, err := analysis.ParseWindowFunc(an.Window); err != nil {
			return fmt.Errorf("%w: analysis.window: %w", ErrInvalid, err)
		}
		if an.Interval <= 0 {
			return fmt.Errorf("%w: analysis.interval must be positive", ErrInvalid)
		}
		if an.GateThreshold < 0 || an.GateThreshold > 1 {
			return fmt.Errorf("%w: analysis.gate_threshold %v outside [0, 1]", ErrInvalid, an.GateThreshold)
		}
	}

	s := c.Simulate
	if s.Frequency <= 0 || s.Amplitude < 0 || s.Amplitude > 1 {
		return fmt.Errorf("%w: simulate tone %.1f Hz at %.2f", ErrInvalid, s.Frequency, s.Amplitude)
	}
	return nil
}

// ParseSampleFormat converts a configuration name to a device sample format.
func ParseSampleFormat(name string) (dsp.SampleFormat, error) {
	switch strings.ToLower(name) {
	case "", "f32", "float32":
		return dsp.Float32, nil
	case "s16", "int16":
		return dsp.Int16, nil
	case "s32", "int32":
		return dsp.Int32, nil
	default:
		return dsp.Float32, fmt.Errorf("unknown sample format %q", name)
	}
}

// Level returns the configured log level, debug when Debug is set.
func (c *Config) Level() log.LogLevel {
	if c.Debug {
		return log.LevelDebug
	}
	level, _ := log.ParseLevel(c.LogLevel)
	return level
}

// applyEnvOverrides applies ENV_* variables over file and default values.
// Unparseable values are ignored with a warning.
func (c *Config) applyEnvOverrides() {
	envBool("ENV_DEBUG", &c.Debug)
	envString("ENV_LOG_LEVEL", &c.LogLevel)

	// ENV_AUDIO_{...}
	envString("ENV_AUDIO_BACKEND", &c.Audio.Backend)
	envInt("ENV_AUDIO_INPUT_DEVICE", &c.Audio.InputDevice)
	envInt("ENV_AUDIO_OUTPUT_DEVICE", &c.Audio.OutputDevice)
	envFloat("ENV_AUDIO_SAMPLE_RATE", &c.Audio.SampleRate)
	envInt("ENV_AUDIO_FRAMES_PER_BUFFER", &c.Audio.FramesPerBuffer)
	envInt("ENV_AUDIO_CHANNELS", &c.Audio.Channels)
	envDuration("ENV_AUDIO_OPEN_TIMEOUT", &c.Audio.OpenTimeout)
	envBool("ENV_AUDIO_AUTHORIZED", &c.Audio.Authorized)

	envBool("ENV_RECORDING_ENABLED", &c.Recording.Enabled)
	envString("ENV_RECORDING_OUTPUT_DIR", &c.Recording.OutputDir)

	envBool("ENV_CONTROL_ENABLED", &c.Control.Enabled)
	envString("ENV_CONTROL_ADDRESS", &c.Control.Address)

	envBool("ENV_METRICS_ENABLED", &c.Metrics.Enabled)
	envString("ENV_METRICS_ADDRESS", &c.Metrics.Address)

	envBool("ENV_ANALYSIS_ENABLED", &c.Analysis.Enabled)
}

func envString(key string, dst *string) {
	if val, ok := os.LookupEnv(key); ok {
		*dst = val
		log.Debugf("configuration: overriding %s from env: %s", key, val)
	}
}

func envBool(key string, dst *bool) {
	if val, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			log.Warnf("configuration: ignoring %s=%q: %v", key, val, err)
			return
		}
		*dst = b
		log.Debugf("configuration: overriding %s from env: %v", key, b)
	}
}

func envInt(key string, dst *int) {
	if val, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			log.Warnf("configuration: ignoring %s=%q: %v", key, val, err)
			return
		}
		*dst = n
		log.Debugf("configuration: overriding %s from env: %d", key, n)
	}
}

func envFloat(key string, dst *float64) {
	if val, ok := os.LookupEnv(key); ok {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			log.Warnf("configuration: ignoring %s=%q: %v", key, val, err)
			return
		}
		*dst = f
		log.Debugf("configuration: overriding %s from env: %v", key, f)
	}
}

func envDuration(key string, dst *time.Duration) {
	if val, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Warnf("configuration: ignoring %s=%q: %v", key, val, err)
			return
		}
		*dst = d
		log.Debugf("configuration: overriding %s from env: %s", key, d)
	}
}
