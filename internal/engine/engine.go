// SPDX-License-Identifier: MIT
/*
Package engine drives the effect chain from a capture source.

The Engine owns the lifecycle of one chain and one source:

	Uninitialized -Build-> Configured -Start-> Running -Stop-> Stopped
	Stopped -Start-> Running
	Configured, Stopped -Teardown-> Uninitialized

Lifecycle calls come from the control side and are serialised. The render
callback runs on the device thread and shares only atomics with them: the
state word, a busy flag and the statistics counters. Parameter changes
reach the stages through their registry slots.

Render path rules:
- No allocation, no locks, no logging
- Silence is emitted whenever the engine is not Running
- A render that arrives while another is in flight is dropped, not queued
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"livefx/internal/audio"
	"livefx/internal/dsp"
	"livefx/internal/log"
	"livefx/internal/param"
	"livefx/internal/session"
)

// ErrInvalidState is returned for lifecycle calls made in the wrong state.
var ErrInvalidState = errors.New("invalid engine state")

// Errors surfaced by the engine, re-exported so callers need one import.
var (
	ErrDeviceUnavailable = audio.ErrDeviceUnavailable
	ErrEngineStart       = audio.ErrEngineStart
	ErrDeviceFault       = audio.ErrDeviceFault
	ErrFormatUnsupported = dsp.ErrFormatUnsupported
	ErrNotAuthorized     = session.ErrNotAuthorized
)

// DefaultOpenTimeout bounds authorization and device open.
const DefaultOpenTimeout = 5 * time.Second

// State is the lifecycle state of an Engine.
type State int32

const (
	Uninitialized State = iota
	Configured
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Configured:
		return "configured"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name, so it reads as a string in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for c := Uninitialized; c <= Stopped; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("engine: unknown state %q", b)
}

// Tap receives every processed block on the render path. Write must not
// block or allocate; taps copy what they need into their own queue.
type Tap interface {
	Write(buf *dsp.Buffer)
}

// Option configures an Engine.
type Option func(*Engine)

// WithAuthorizer sets the capture permission check. The default grants.
func WithAuthorizer(a session.Authorizer) Option {
	return func(e *Engine) { e.auth = a }
}

// WithOpenTimeout bounds authorization and device open.
func WithOpenTimeout(d time.Duration) Option {
	return func(e *Engine) { e.openTimeout = d }
}

// WithTaps adds taps that see every processed block.
func WithTaps(taps ...Tap) Option {
	return func(e *Engine) { e.taps = append(e.taps, taps...) }
}

// Engine is the audio graph: one chain, one source, one lifecycle.
type Engine struct {
	mu sync.Mutex // serialises lifecycle calls; never taken by Render

	state atomic.Int32
	busy  atomic.Bool
	gen   atomic.Uint64 // incremented per Open, so stale faults are ignored

	auth        session.Authorizer
	openTimeout time.Duration

	// Written under mu while not Running, read by Render while Running.
	chain  *dsp.Chain
	source audio.Source
	format dsp.Format
	period time.Duration
	taps   []Tap

	stats counters

	faults    chan error
	faultMu   sync.Mutex
	lastFault error
}

// New creates an Uninitialized engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		auth:        session.Granted,
		openTimeout: DefaultOpenTimeout,
		faults:      make(chan error, 8),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Format returns the format negotiated by Build.
func (e *Engine) Format() dsp.Format {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.format
}

// Registry returns the parameter registry of the built chain, or nil
// before Build.
func (e *Engine) Registry() *param.Registry {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.chain == nil {
		return nil
	}
	return e.chain.Registry()
}

// AttachTap adds a tap to a built engine that is not running. Taps whose
// buffers depend on the negotiated format are attached this way.
func (e *Engine) AttachTap(t Tap) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.State() {
	case Configured, Stopped:
		e.taps = append(e.taps, t)
		return nil
	default:
		return fmt.Errorf("engine: attach tap: %w: %s", ErrInvalidState, e.State())
	}
}

// Build negotiates the format with source and configures every stage of
// chain for it, once, in chain order.
func (e *Engine) Build(ctx context.Context, chain *dsp.Chain, source audio.Source) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s := e.State(); s != Uninitialized {
		return fmt.Errorf("engine: build: %w: %s", ErrInvalidState, s)
	}
	if chain == nil || source == nil {
		return errors.New("engine: build: chain and source are required")
	}
	if err := e.authorize(ctx); err != nil {
		return fmt.Errorf("engine: build: %w", err)
	}

	f, err := source.NativeFormat()
	if err != nil {
		if !errors.Is(err, ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
		return fmt.Errorf("engine: build: %w", err)
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("engine: build: %w", err)
	}
	if err := chain.Configure(f); err != nil {
		return fmt.Errorf("engine: build: %w", err)
	}

	e.chain = chain
	e.source = source
	e.format = f
	e.period = time.Duration(f.Period() * float64(time.Second))
	e.state.Store(int32(Configured))

	log.Infof("Engine: built %d-stage chain at %s", chain.Len(), f)
	return nil
}

// Start opens the source and begins processing. It is legal from
// Configured and Stopped; on failure the state is unchanged.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch s := e.State(); s {
	case Configured, Stopped:
	default:
		return fmt.Errorf("engine: start: %w: %s", ErrInvalidState, s)
	}
	if err := e.authorize(ctx); err != nil {
		return fmt.Errorf("engine: start: %w", err)
	}

	e.chain.Reset()
	gen := e.gen.Add(1)
	cb := audio.Callbacks{
		Render: e.Render,
		Fault:  func(err error) { go e.handleFault(gen, err) },
	}

	openCtx, cancel := context.WithTimeout(ctx, e.openTimeout)
	defer cancel()
	got, err := e.source.Open(openCtx, e.format, cb)
	if err != nil {
		if !errors.Is(err, ErrDeviceUnavailable) && !errors.Is(err, ErrEngineStart) {
			err = fmt.Errorf("%w: %w", ErrEngineStart, err)
		}
		return fmt.Errorf("engine: start: %w", err)
	}
	if !compatible(got, e.format) {
		e.source.Close()
		return fmt.Errorf("engine: start: %w: device negotiated %s, chain built for %s",
			ErrFormatUnsupported, got, e.format)
	}

	e.state.Store(int32(Running))
	log.Infof("Engine: running at %s", e.format)
	return nil
}

// Stop halts processing and closes the source. No block reaches the output
// after Stop returns. Stop is a no-op when Configured or Stopped.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch s := e.State(); s {
	case Running:
	case Configured, Stopped:
		return nil
	default:
		return fmt.Errorf("engine: stop: %w: %s", ErrInvalidState, s)
	}

	e.halt()
	if err := e.source.Close(); err != nil {
		return fmt.Errorf("engine: stop: close source: %w", err)
	}
	log.Infof("Engine: stopped")
	return nil
}

// Teardown releases every stage and returns the engine to Uninitialized so
// it can be built again. Legal from Configured and Stopped.
func (e *Engine) Teardown() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch s := e.State(); s {
	case Configured, Stopped:
	default:
		return fmt.Errorf("engine: teardown: %w: %s", ErrInvalidState, s)
	}

	e.chain.Release()
	e.chain = nil
	e.source = nil
	e.format = dsp.Format{}
	e.taps = nil
	e.state.Store(int32(Uninitialized))
	log.Infof("Engine: torn down")
	return nil
}

// Render processes one block in place. It is the source's render callback.
func (e *Engine) Render(buf *dsp.Buffer) {
	if !e.busy.CompareAndSwap(false, true) {
		e.stats.dropped.Add(1)
		buf.Silence()
		return
	}
	if e.State() != Running {
		e.busy.Store(false)
		buf.Silence()
		return
	}
	e.stats.in.Add(1)
	if buf.Channels != e.format.Channels || buf.Frames*buf.Channels > e.format.Samples() {
		e.stats.dropped.Add(1)
		e.busy.Store(false)
		buf.Silence()
		return
	}

	start := time.Now()
	e.chain.Process(buf)
	for _, t := range e.taps {
		t.Write(buf)
	}
	elapsed := time.Since(start)

	e.stats.out.Add(1)
	e.stats.record(elapsed, e.period)
	e.busy.Store(false)
}

// halt moves Running to Stopped and waits for an in-flight render.
// Caller holds mu.
func (e *Engine) halt() {
	e.state.Store(int32(Stopped))
	for e.busy.Load() {
		time.Sleep(50 * time.Microsecond)
	}
}

func (e *Engine) handleFault(gen uint64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen.Load() != gen || e.State() != Running {
		return
	}

	e.halt()
	if cerr := e.source.Close(); cerr != nil {
		log.Warnf("Engine: closing faulted source: %v", cerr)
	}
	if !errors.Is(err, ErrDeviceFault) {
		err = fmt.Errorf("%w: %w", ErrDeviceFault, err)
	}
	e.stats.faults.Add(1)

	e.faultMu.Lock()
	e.lastFault = err
	e.faultMu.Unlock()
	select {
	case e.faults <- err:
	default:
	}
	log.Errorf("Engine: device fault, stopped: %v", err)
}

// Faults delivers device faults. The channel is buffered; faults are
// dropped when nobody reads it, but LastFault always has the latest.
func (e *Engine) Faults() <-chan error {
	return e.faults
}

// LastFault returns the most recent device fault, or nil.
func (e *Engine) LastFault() error {
	e.faultMu.Lock()
	defer e.faultMu.Unlock()
	return e.lastFault
}

// xruns returns the device-level overrun count when the source reports one.
func (e *Engine) xruns() uint64 {
	e.mu.Lock()
	src := e.source
	e.mu.Unlock()
	if x, ok := src.(audio.XRunCounter); ok {
		return x.XRuns()
	}
	return 0
}

func (e *Engine) authorize(ctx context.Context) error {
	if err := session.Check(ctx, e.auth, e.openTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	return nil
}

// compatible reports whether the device format can feed a chain built for
// want. Backends may round the sample rate and split blocks, so only the
// rate (to the nearest hertz) and the channel count must match.
func compatible(got, want dsp.Format) bool {
	return got.Channels == want.Channels && math.Abs(got.SampleRate-want.SampleRate) < 1
}
