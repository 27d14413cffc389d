// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"livefx/internal/dsp"
	"livefx/internal/log"
)

// ErrNotOpen is returned by Simulator.Pump when the simulator is closed.
var ErrNotOpen = errors.New("simulator not open")

// Generator fills interleaved capture blocks. utils.Tone satisfies it.
type Generator interface {
	Fill(dst []float64, channels int)
}

// Signal plays a fixed mono signal once, duplicated to every channel, and
// silence afterwards.
type Signal struct {
	Samples []float64
	pos     int
}

func NewSignal(samples []float64) *Signal {
	return &Signal{Samples: samples}
}

func (s *Signal) Fill(dst []float64, channels int) {
	if channels < 1 {
		channels = 1
	}
	for i := 0; i+channels <= len(dst); i += channels {
		var v float64
		if s.pos < len(s.Samples) {
			v = s.Samples[s.pos]
			s.pos++
		}
		for c := 0; c < channels; c++ {
			dst[i+c] = v
		}
	}
}

// Simulator is an in-process duplex device. Blocks are delivered
// synchronously by Pump or paced at the buffer period by Run, so tests can
// drive the engine deterministically without hardware.
type Simulator struct {
	format dsp.Format
	gen    Generator

	// Realtime makes Run pace blocks at the buffer period. When false, Run
	// returns immediately and the caller drives the device with Pump.
	Realtime bool
	// OnOutput receives every processed block on the driver thread. The
	// buffer is only valid for the duration of the call.
	OnOutput func(buf *dsp.Buffer)
	// FailOpen, when set, is returned by Open.
	FailOpen error
	// Negotiated, when set, replaces the format Open reports back.
	Negotiated *dsp.Format
	// OpenDelay simulates a slow device; Open gives up when ctx ends first.
	OpenDelay time.Duration

	mu     sync.Mutex
	open   bool
	buf    *dsp.Buffer
	cb     Callbacks
	frames int64

	opens  atomic.Int64
	closes atomic.Int64
}

var _ Source = (*Simulator)(nil)

// NewSimulator creates a simulator with the given native format. gen may be
// nil for a silent input.
func NewSimulator(f dsp.Format, gen Generator) *Simulator {
	return &Simulator{format: f, gen: gen}
}

func (s *Simulator) NativeFormat() (dsp.Format, error) {
	return s.format, nil
}

func (s *Simulator) Open(ctx context.Context, f dsp.Format, cb Callbacks) (dsp.Format, error) {
	if s.OpenDelay > 0 {
		select {
		case <-time.After(s.OpenDelay):
		case <-ctx.Done():
			return dsp.Format{}, fmt.Errorf("%w: %w", ErrEngineStart, ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return dsp.Format{}, fmt.Errorf("%w: %w", ErrEngineStart, err)
	}
	if s.FailOpen != nil {
		return dsp.Format{}, s.FailOpen
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return dsp.Format{}, fmt.Errorf("%w: simulator already open", ErrDeviceUnavailable)
	}
	s.open = true
	s.buf = dsp.NewBuffer(f)
	s.cb = cb
	s.frames = 0
	s.opens.Add(1)

	if s.Negotiated != nil {
		return *s.Negotiated, nil
	}
	return f, nil
}

// Pump delivers n blocks and returns after the last one has been rendered.
func (s *Simulator) Pump(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for range n {
		if !s.open {
			return ErrNotOpen
		}
		s.deliver()
	}
	return nil
}

func (s *Simulator) deliver() {
	buf := s.buf
	buf.Frames = len(buf.Samples) / buf.Channels
	if s.gen != nil {
		s.gen.Fill(buf.Samples, buf.Channels)
	} else {
		clear(buf.Samples)
	}
	buf.Time = time.Duration(float64(s.frames) / s.format.SampleRate * float64(time.Second))
	s.frames += int64(buf.Frames)

	s.cb.Render(buf)
	if s.OnOutput != nil {
		s.OnOutput(buf)
	}
}

// Run paces blocks at the buffer period until ctx is done. Ticks while the
// simulator is closed are skipped, so Run may outlive several Open/Close
// cycles.
func (s *Simulator) Run(ctx context.Context) error {
	if !s.Realtime {
		return nil
	}
	period := time.Duration(s.format.Period() * float64(time.Second))
	if period <= 0 {
		return fmt.Errorf("%w: invalid simulated period for %s", ErrEngineStart, s.format)
	}
	log.Debugf("Audio: simulator pacing %s blocks every %s", s.format, period)

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Pump(1); err != nil && !errors.Is(err, ErrNotOpen) {
				return err
			}
		}
	}
}

// InjectFault reports err to the open device's fault callback, as a real
// backend would when the device disappears.
func (s *Simulator) InjectFault(err error) {
	s.mu.Lock()
	fault := s.cb.Fault
	open := s.open
	s.mu.Unlock()
	if open && fault != nil {
		fault(fmt.Errorf("%w: %w", ErrDeviceFault, err))
	}
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	s.open = false
	s.closes.Add(1)
	return nil
}

// IsOpen reports whether the simulator is streaming.
func (s *Simulator) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Opens and Closes count successful Open and Close calls.
func (s *Simulator) Opens() int64  { return s.opens.Load() }
func (s *Simulator) Closes() int64 { return s.closes.Load() }
