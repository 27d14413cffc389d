// SPDX-License-Identifier: MIT
package config

import "time"

// Core configuration constants that define the defaults for the effects
// engine. Hardware limits live with the audio format in package dsp.
const (
	DefaultBackend         = BackendPortAudio
	DefaultDeviceID        = MinDeviceID // System default device
	DefaultSampleRate      = 0           // Use the device's native rate
	DefaultFramesPerBuffer = 0           // Backend default
	DeviceFramesPerBuffer  = 512         // Hardware backend default, balanced latency/performance
	DefaultChannels        = 0           // Use the device's native layout (mono or stereo)
	DefaultSampleFormat    = "f32"
	DefaultLowLatency      = false
	DefaultOpenTimeout     = 5 * time.Second

	DefaultRecordingDir = "./recordings"
	DefaultBitDepth     = 16
	DefaultTapCapacity  = 64 // Blocks a tap can queue before dropping

	DefaultControlAddress = ":8080"
	DefaultControlPath    = "/ws"
	DefaultMetricsAddress = ":9090"
	DefaultMetricsPath    = "/metrics"

	DefaultFFTSize       = 4096
	DefaultFFTWindow     = "Hann"
	DefaultInterval      = 100 * time.Millisecond
	DefaultGateThreshold = 0.01

	// Simulated capture block: 0.1 s at 44.1 kHz.
	DefaultSimulatedFrames = 4410
	DefaultToneFrequency   = 440.0
	DefaultToneAmplitude   = 0.5
	DefaultSimulatedRate   = 44100

	MinDeviceID = -1 // -1 represents the system default device
)

// Capture backends.
const (
	BackendPortAudio = "portaudio"
	BackendMalgo     = "malgo"
	BackendSimulated = "simulated"
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	Debug    bool   `yaml:"debug"`     // Enable debug logging.
	LogLevel string `yaml:"log_level"` // Logging level (e.g., "debug", "info", "warn", "error").

	Audio     AudioConfig     `yaml:"audio"`
	Effects   EffectsConfig   `yaml:"effects"`
	Recording RecordingConfig `yaml:"recording"`
	Control   ControlConfig   `yaml:"control"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Simulate  SimulateConfig  `yaml:"simulate"`
}

// AudioConfig holds settings related to the capture/playback device.
type AudioConfig struct {
	Backend         string        `yaml:"backend"`           // portaudio, malgo or simulated.
	InputDevice     int           `yaml:"input_device"`      // Device index for capture (-1 for default).
	OutputDevice    int           `yaml:"output_device"`     // Device index for playback (-1 for default).
	SampleRate      float64       `yaml:"sample_rate"`       // Sample rate in Hz, 0 for the device default.
	FramesPerBuffer int           `yaml:"frames_per_buffer"` // Frames per render callback, 0 for the backend default.
	Channels        int           `yaml:"channels"`          // 1 or 2, 0 for the device default.
	SampleFormat    string        `yaml:"sample_format"`     // Device sample format: f32, s16 or s32.
	LowLatency      bool          `yaml:"low_latency"`       // Request low latency device settings.
	OpenTimeout     time.Duration `yaml:"open_timeout"`      // Bound on authorization and device open.
	Authorized      bool          `yaml:"authorized"`        // Microphone access granted by the host.
}

// EffectsConfig holds initial parameter values keyed by stage and
// parameter id, for example effects.mixer.gain: 0.8. Unset parameters keep
// their defaults.
type EffectsConfig map[string]map[string]float64

// RecordingConfig holds settings for the monitoring recorder.
type RecordingConfig struct {
	Enabled     bool   `yaml:"enabled"`              // Record the processed output to WAV.
	OutputDir   string `yaml:"output_dir"`           // Directory to save recordings.
	BitDepth    int    `yaml:"bit_depth"`            // 16, 24 or 32.
	MaxDuration int    `yaml:"max_duration_seconds"` // Maximum duration of one recording (0 for unlimited).
	Capacity    int    `yaml:"capacity"`             // Blocks queued before dropping.
}

// ControlConfig holds settings for the WebSocket control surface.
type ControlConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// MetricsConfig holds settings for the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// AnalysisConfig holds settings for the output analyzer.
type AnalysisConfig struct {
	Enabled       bool          `yaml:"enabled"`
	FFTSize       int           `yaml:"fft_size"`
	Window        string        `yaml:"window"`         // e.g. "Hann", "Hamming".
	Interval      time.Duration `yaml:"interval"`       // Telemetry period.
	GateThreshold float64       `yaml:"gate_threshold"` // 0.0-1.0 peak below which analysis is skipped.
}

// SimulateConfig configures the simulated backend's test tone.
type SimulateConfig struct {
	Frequency float64 `yaml:"frequency"`
	Amplitude float64 `yaml:"amplitude"`
	Realtime  bool    `yaml:"realtime"` // Pace buffers at the device period.
}

// Default returns a configuration with built-in defaults.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			Backend:         DefaultBackend,
			InputDevice:     DefaultDeviceID,
			OutputDevice:    DefaultDeviceID,
			SampleRate:      DefaultSampleRate,
			FramesPerBuffer: DefaultFramesPerBuffer,
			Channels:        DefaultChannels,
			SampleFormat:    DefaultSampleFormat,
			LowLatency:      DefaultLowLatency,
			OpenTimeout:     DefaultOpenTimeout,
			Authorized:      true,
		},
		Effects: EffectsConfig{},
		Recording: RecordingConfig{
			OutputDir: DefaultRecordingDir,
			BitDepth:  DefaultBitDepth,
			Capacity:  DefaultTapCapacity,
		},
		Control: ControlConfig{
			Enabled: true,
			Address: DefaultControlAddress,
			Path:    DefaultControlPath,
		},
		Metrics: MetricsConfig{
			Address: DefaultMetricsAddress,
			Path:    DefaultMetricsPath,
		},
		Analysis: AnalysisConfig{
			Enabled:       true,
			FFTSize:       DefaultFFTSize,
			Window:        DefaultFFTWindow,
			Interval:      DefaultInterval,
			GateThreshold: DefaultGateThreshold,
		},
		Simulate: SimulateConfig{
			Frequency: DefaultToneFrequency,
			Amplitude: DefaultToneAmplitude,
			Realtime:  true,
		},
	}
}
