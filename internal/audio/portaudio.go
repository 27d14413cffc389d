// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"livefx/internal/dsp"
	"livefx/internal/log"
)

// PortAudioConfig selects devices and stream settings for PortAudio.
type PortAudioConfig struct {
	InputDevice     int     // -1 for the system default
	OutputDevice    int     // -1 for the system default
	SampleRate      float64 // 0 for the input device default
	Channels        int     // 0 for the largest layout both devices support, at most stereo
	FramesPerBuffer int
	LowLatency      bool
}

// PortAudio is a duplex PortAudio stream. Samples are exchanged with the
// device as float32 and widened to the engine's float64 buffers.
type PortAudio struct {
	cfg PortAudioConfig

	mu     sync.Mutex
	stream *portaudio.Stream
	buf    *dsp.Buffer
	render func(*dsp.Buffer)
	rate   float64
	frames int64 // frames delivered since Open, for buffer timestamps

	xruns atomic.Uint64
}

// Compile-time checks for interface implementations.
var _ Source = (*PortAudio)(nil)
var _ XRunCounter = (*PortAudio)(nil)

// NewPortAudio creates a PortAudio source. PortAudio itself is initialised
// on demand and terminated on Close.
func NewPortAudio(cfg PortAudioConfig) *PortAudio {
	return &PortAudio{cfg: cfg}
}

// Initialize sets up the PortAudio subsystem.
// This must be called before any audio operations and paired with a Terminate() call.
func Initialize() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: failed to initialize PortAudio: %w", ErrDeviceUnavailable, err)
	}
	return nil
}

// Terminate cleanly shuts down the PortAudio subsystem.
func Terminate() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

func (p *PortAudio) NativeFormat() (dsp.Format, error) {
	if err := Initialize(); err != nil {
		return dsp.Format{}, err
	}
	defer Terminate()

	in, out, err := p.devices()
	if err != nil {
		return dsp.Format{}, err
	}

	f := dsp.Format{
		SampleRate:      p.cfg.SampleRate,
		Channels:        p.cfg.Channels,
		FramesPerBuffer: p.cfg.FramesPerBuffer,
		Sample:          dsp.Float32,
	}
	if f.SampleRate == 0 {
		f.SampleRate = in.DefaultSampleRate
	}
	if f.Channels == 0 {
		f.Channels = min(in.MaxInputChannels, out.MaxOutputChannels, dsp.MaxChannels)
	}
	return f, nil
}

func (p *PortAudio) Open(ctx context.Context, f dsp.Format, cb Callbacks) (dsp.Format, error) {
	if err := ctx.Err(); err != nil {
		return dsp.Format{}, fmt.Errorf("%w: %w", ErrEngineStart, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		return dsp.Format{}, fmt.Errorf("%w: stream already open", ErrEngineStart)
	}

	if err := Initialize(); err != nil {
		return dsp.Format{}, err
	}
	in, out, err := p.devices()
	if err != nil {
		Terminate()
		return dsp.Format{}, err
	}

	var params portaudio.StreamParameters
	if p.cfg.LowLatency {
		params = portaudio.LowLatencyParameters(in, out)
	} else {
		params = portaudio.HighLatencyParameters(in, out)
	}
	params.Input.Channels = f.Channels
	params.Output.Channels = f.Channels
	params.SampleRate = f.SampleRate
	params.FramesPerBuffer = f.FramesPerBuffer

	p.buf = dsp.NewBuffer(f)
	p.render = cb.Render
	p.rate = f.SampleRate
	p.frames = 0

	stream, err := portaudio.OpenStream(params, p.process)
	if err != nil {
		Terminate()
		return dsp.Format{}, fmt.Errorf("%w: open stream (%s): %w", ErrEngineStart, f, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		Terminate()
		return dsp.Format{}, fmt.Errorf("%w: start stream: %w", ErrEngineStart, err)
	}
	p.stream = stream

	negotiated := f
	if info := stream.Info(); info != nil {
		negotiated.SampleRate = info.SampleRate
		log.Infof("Audio: PortAudio stream %s -> %s (in %.1fms, out %.1fms)",
			in.Name, out.Name,
			info.InputLatency.Seconds()*1000, info.OutputLatency.Seconds()*1000)
	}
	return negotiated, nil
}

// process is the PortAudio duplex callback.
// Performance Critical:
// - Uses the buffer allocated in Open only
// - No locks, no logging
func (p *PortAudio) process(in, out []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
	if flags&(portaudio.InputOverflow|portaudio.OutputUnderflow) != 0 {
		p.xruns.Add(1)
	}

	buf := p.buf
	n := fromFloat32(buf.Samples, in)
	buf.Frames = n / buf.Channels
	buf.Time = time.Duration(float64(p.frames) / p.rate * float64(time.Second))
	p.frames += int64(buf.Frames)

	p.render(buf)
	toFloat32(out, buf.Data())
}

func (p *PortAudio) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return nil
	}

	// Stop blocks until the last callback has returned.
	stopErr := p.stream.Stop()
	closeErr := p.stream.Close()
	p.stream = nil
	termErr := Terminate()

	switch {
	case stopErr != nil:
		return fmt.Errorf("stop stream: %w", stopErr)
	case closeErr != nil:
		return fmt.Errorf("close stream: %w", closeErr)
	default:
		return termErr
	}
}

// XRuns returns the number of callbacks flagged with an input overflow or
// output underflow.
func (p *PortAudio) XRuns() uint64 {
	return p.xruns.Load()
}

func (p *PortAudio) devices() (in, out *portaudio.DeviceInfo, err error) {
	if in, err = InputDevice(p.cfg.InputDevice); err != nil {
		return nil, nil, err
	}
	if out, err = OutputDevice(p.cfg.OutputDevice); err != nil {
		return nil, nil, err
	}
	if in.MaxInputChannels < 1 {
		return nil, nil, fmt.Errorf("%w: %q has no input channels", ErrDeviceUnavailable, in.Name)
	}
	if out.MaxOutputChannels < 1 {
		return nil, nil, fmt.Errorf("%w: %q has no output channels", ErrDeviceUnavailable, out.Name)
	}
	return in, out, nil
}
