// SPDX-License-Identifier: MIT
/*
Package audio connects the effects engine to capture and playback devices.

A Source is a full-duplex driver: it captures one block from the input
device, hands it to the render callback, and plays back whatever the
callback left in the buffer. The callback runs on the driver's thread;
sources never start a processing thread of their own beyond what the
device library requires.

Backends:
- PortAudio duplex stream (github.com/gordonklaus/portaudio)
- miniaudio duplex device (github.com/gen2brain/malgo)
- Simulator, a deterministic in-process device for tests and demos

Real-time rules for the callback path:
- Buffers are allocated in Open, never per callback
- Conversion to and from the device format is allocation free
- Faults are reported through Callbacks.Fault, never by panicking
*/
package audio

import (
	"context"
	"errors"
	"fmt"

	"livefx/internal/config"
	"livefx/internal/dsp"
	"livefx/pkg/utils"
)

var (
	// ErrDeviceUnavailable is returned when no usable capture or playback
	// device exists, or access to it was refused.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrEngineStart is returned when a device was found but could not be
	// opened or started.
	ErrEngineStart = errors.New("audio engine failed to start")
	// ErrDeviceFault is reported when a running device stops unexpectedly.
	ErrDeviceFault = errors.New("audio device fault")
)

// Callbacks are invoked by a source on its driver thread.
type Callbacks struct {
	// Render is called once per captured block. It transforms buf in place;
	// the source plays back buf.Data() when Render returns.
	Render func(buf *dsp.Buffer)
	// Fault is called at most once per Open when the device fails while
	// running. It may be called from any thread and must not block.
	Fault func(err error)
}

// Source is a full-duplex capture/playback device.
type Source interface {
	// NativeFormat reports the format the device prefers, adjusted by the
	// source's configuration.
	NativeFormat() (dsp.Format, error)
	// Open starts streaming with the requested format and returns the
	// format the device actually negotiated. Render is not called before
	// Open returns successfully.
	Open(ctx context.Context, format dsp.Format, cb Callbacks) (dsp.Format, error)
	// Close stops streaming. No callback runs after Close returns.
	Close() error
}

// XRunCounter is implemented by sources that count device-level overruns
// and underruns.
type XRunCounter interface {
	XRuns() uint64
}

// NewSource creates the backend selected by cfg.Audio.Backend.
func NewSource(cfg *config.Config) (Source, error) {
	sample, err := config.ParseSampleFormat(cfg.Audio.SampleFormat)
	if err != nil {
		return nil, err
	}
	a := cfg.Audio

	switch a.Backend {
	case config.BackendPortAudio:
		return NewPortAudio(PortAudioConfig{
			InputDevice:     a.InputDevice,
			OutputDevice:    a.OutputDevice,
			SampleRate:      a.SampleRate,
			Channels:        a.Channels,
			FramesPerBuffer: orDefault(a.FramesPerBuffer, config.DeviceFramesPerBuffer),
			LowLatency:      a.LowLatency,
		}), nil

	case config.BackendMalgo:
		return NewMiniaudio(MiniaudioConfig{
			InputDevice:     a.InputDevice,
			OutputDevice:    a.OutputDevice,
			SampleRate:      a.SampleRate,
			Channels:        a.Channels,
			FramesPerBuffer: orDefault(a.FramesPerBuffer, config.DeviceFramesPerBuffer),
			Sample:          sample,
			LowLatency:      a.LowLatency,
		}), nil

	case config.BackendSimulated:
		rate := a.SampleRate
		if rate == 0 {
			rate = config.DefaultSimulatedRate
		}
		format := dsp.Format{
			SampleRate:      rate,
			Channels:        orDefault(a.Channels, 1),
			FramesPerBuffer: orDefault(a.FramesPerBuffer, config.DefaultSimulatedFrames),
			Sample:          sample,
		}
		sim := NewSimulator(format, &utils.Tone{
			Frequency:  cfg.Simulate.Frequency,
			Amplitude:  cfg.Simulate.Amplitude,
			SampleRate: rate,
		})
		sim.Realtime = cfg.Simulate.Realtime
		return sim, nil

	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrDeviceUnavailable, a.Backend)
	}
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
