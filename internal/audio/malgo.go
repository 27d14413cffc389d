// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"livefx/internal/config"
	"livefx/internal/dsp"
	"livefx/internal/log"
)

// Miniaudio picks its standard rate when the configuration leaves it open.
const miniaudioDefaultRate = 48000

// MiniaudioConfig selects devices and stream settings for miniaudio.
type MiniaudioConfig struct {
	InputDevice     int     // index into MiniaudioDevices capture list, -1 for default
	OutputDevice    int     // index into the playback list, -1 for default
	SampleRate      float64 // 0 for 48 kHz
	Channels        int     // 0 for stereo
	FramesPerBuffer int
	Sample          dsp.SampleFormat
	LowLatency      bool
}

// Miniaudio is a duplex miniaudio device. The device exchanges raw bytes in
// the configured sample format; conversion happens in the data callback.
type Miniaudio struct {
	cfg MiniaudioConfig

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	buf     *dsp.Buffer
	cb      Callbacks
	rate    float64
	frames  int64
	closing atomic.Bool
	faulted atomic.Bool

	xruns atomic.Uint64
}

var _ Source = (*Miniaudio)(nil)
var _ XRunCounter = (*Miniaudio)(nil)

func NewMiniaudio(cfg MiniaudioConfig) *Miniaudio {
	return &Miniaudio{cfg: cfg}
}

func (m *Miniaudio) NativeFormat() (dsp.Format, error) {
	f := dsp.Format{
		SampleRate:      m.cfg.SampleRate,
		Channels:        m.cfg.Channels,
		FramesPerBuffer: m.cfg.FramesPerBuffer,
		Sample:          m.cfg.Sample,
	}
	if f.SampleRate == 0 {
		f.SampleRate = miniaudioDefaultRate
	}
	if f.Channels == 0 {
		f.Channels = dsp.MaxChannels
	}
	return f, nil
}

func (m *Miniaudio) Open(ctx context.Context, f dsp.Format, cb Callbacks) (dsp.Format, error) {
	if err := ctx.Err(); err != nil {
		return dsp.Format{}, fmt.Errorf("%w: %w", ErrEngineStart, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device != nil {
		return dsp.Format{}, fmt.Errorf("%w: device already open", ErrEngineStart)
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		log.Debugf("Audio: miniaudio: %s", msg)
	})
	if err != nil {
		return dsp.Format{}, fmt.Errorf("%w: init context: %w", ErrDeviceUnavailable, err)
	}

	dc := malgo.DefaultDeviceConfig(malgo.Duplex)
	dc.Capture.Format = malgoFormat(f.Sample)
	dc.Capture.Channels = uint32(f.Channels)
	dc.Playback.Format = malgoFormat(f.Sample)
	dc.Playback.Channels = uint32(f.Channels)
	dc.SampleRate = uint32(f.SampleRate)
	dc.PeriodSizeInFrames = uint32(f.FramesPerBuffer)
	dc.Alsa.NoMMap = 1
	if m.cfg.LowLatency {
		dc.PerformanceProfile = malgo.LowLatency
	}
	if err := selectDevices(mctx, &dc, m.cfg.InputDevice, m.cfg.OutputDevice); err != nil {
		freeContext(mctx)
		return dsp.Format{}, err
	}

	m.buf = dsp.NewBuffer(f)
	m.cb = cb
	m.rate = f.SampleRate
	m.frames = 0
	m.closing.Store(false)
	m.faulted.Store(false)

	device, err := malgo.InitDevice(mctx.Context, dc, malgo.DeviceCallbacks{
		Data: m.process,
		Stop: m.stopped,
	})
	if err != nil {
		freeContext(mctx)
		return dsp.Format{}, fmt.Errorf("%w: init device (%s): %w", ErrEngineStart, f, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(mctx)
		return dsp.Format{}, fmt.Errorf("%w: start device: %w", ErrEngineStart, err)
	}
	m.ctx = mctx
	m.device = device

	negotiated := f
	negotiated.SampleRate = float64(device.SampleRate())
	log.Infof("Audio: miniaudio duplex device started at %s", negotiated)
	return negotiated, nil
}

// process is the miniaudio data callback. miniaudio may deliver more or
// fewer frames than the period size, so the block is rendered in chunks of
// at most one engine buffer.
func (m *Miniaudio) process(out, in []byte, frameCount uint32) {
	buf := m.buf
	size := BytesPerSample(m.cfg.Sample) * buf.Channels
	capacity := len(buf.Samples) / buf.Channels

	if len(in) < int(frameCount)*size {
		m.xruns.Add(1)
	}

	for done := 0; done < int(frameCount); {
		n := min(int(frameCount)-done, capacity)
		lo, hi := done*size, (done+n)*size

		clear(buf.Samples)
		if hi <= len(in) {
			decodeBytes(buf.Samples[:n*buf.Channels], in[lo:hi], m.cfg.Sample)
		}
		buf.Frames = n
		buf.Time = time.Duration(float64(m.frames) / m.rate * float64(time.Second))
		m.frames += int64(n)

		m.cb.Render(buf)
		if hi <= len(out) {
			encodeBytes(out[lo:hi], buf.Data(), m.cfg.Sample)
		}
		done += n
	}
}

// stopped runs when the device stops. Anything other than our own Close is
// a device fault.
func (m *Miniaudio) stopped() {
	if m.closing.Load() || !m.faulted.CompareAndSwap(false, true) {
		return
	}
	if m.cb.Fault != nil {
		m.cb.Fault(fmt.Errorf("%w: miniaudio device stopped", ErrDeviceFault))
	}
}

func (m *Miniaudio) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return nil
	}

	m.closing.Store(true)
	err := m.device.Stop()
	m.device.Uninit()
	freeContext(m.ctx)
	m.device, m.ctx = nil, nil
	if err != nil {
		return fmt.Errorf("stop device: %w", err)
	}
	return nil
}

// XRuns counts callbacks that arrived with a short capture block.
func (m *Miniaudio) XRuns() uint64 {
	return m.xruns.Load()
}

// MiniaudioDevices lists capture devices followed by playback devices.
// IDs index each list separately, as MiniaudioConfig expects.
func MiniaudioDevices() ([]Device, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("%w: init context: %w", ErrDeviceUnavailable, err)
	}
	defer freeContext(mctx)

	var devices []Device
	for _, kind := range []malgo.DeviceType{malgo.Capture, malgo.Playback} {
		infos, err := mctx.Devices(kind)
		if err != nil {
			return nil, fmt.Errorf("%w: enumerate devices: %w", ErrDeviceUnavailable, err)
		}
		for i, info := range infos {
			d := Device{ID: i, Name: info.Name(), IsDefault: info.IsDefault != 0}
			if kind == malgo.Capture {
				d.MaxInputChannels = dsp.MaxChannels
			} else {
				d.MaxOutputChannels = dsp.MaxChannels
			}
			devices = append(devices, d)
		}
	}
	return devices, nil
}

func selectDevices(mctx *malgo.AllocatedContext, dc *malgo.DeviceConfig, input, output int) error {
	if input != config.MinDeviceID {
		infos, err := mctx.Devices(malgo.Capture)
		if err != nil {
			return fmt.Errorf("%w: enumerate capture devices: %w", ErrDeviceUnavailable, err)
		}
		if input < 0 || input >= len(infos) {
			return fmt.Errorf("%w: invalid capture device ID: %d", ErrDeviceUnavailable, input)
		}
		dc.Capture.DeviceID = infos[input].ID.Pointer()
	}
	if output != config.MinDeviceID {
		infos, err := mctx.Devices(malgo.Playback)
		if err != nil {
			return fmt.Errorf("%w: enumerate playback devices: %w", ErrDeviceUnavailable, err)
		}
		if output < 0 || output >= len(infos) {
			return fmt.Errorf("%w: invalid playback device ID: %d", ErrDeviceUnavailable, output)
		}
		dc.Playback.DeviceID = infos[output].ID.Pointer()
	}
	return nil
}

func malgoFormat(s dsp.SampleFormat) malgo.FormatType {
	switch s {
	case dsp.Int16:
		return malgo.FormatS16
	case dsp.Int32:
		return malgo.FormatS32
	default:
		return malgo.FormatF32
	}
}

func freeContext(mctx *malgo.AllocatedContext) {
	_ = mctx.Uninit()
	mctx.Free()
}
