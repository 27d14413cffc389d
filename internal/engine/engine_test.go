// SPDX-License-Identifier: MIT
package engine

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"livefx/internal/analysis"
	"livefx/internal/audio"
	"livefx/internal/dsp"
	"livefx/internal/param"
	"livefx/internal/session"
	"livefx/pkg/utils"
)

var testFormat = dsp.Format{SampleRate: 44100, Channels: 1, FramesPerBuffer: 441, Sample: dsp.Float32}

// tracer is a pass-through stage that journals lifecycle calls and records
// the value of its parameter at every Process.
type tracer struct {
	id      string
	journal *[]string
	level   *param.Slot
	current float64
	reject  bool
	seen    []float64
	inside  func()
}

func newTracer(id string, journal *[]string) *tracer {
	return &tracer{
		id:      id,
		journal: journal,
		level:   param.NewSlot(id, param.Spec{ID: "level", Min: 0, Max: 1, Default: 0}),
		seen:    make([]float64, 0, 64),
	}
}

func (p *tracer) ID() string            { return p.id }
func (p *tracer) Params() []*param.Slot { return []*param.Slot{p.level} }
func (p *tracer) Reset()                { p.log("reset") }
func (p *tracer) Release()              { p.log("release") }
func (p *tracer) log(event string)      { *p.journal = append(*p.journal, event+":"+p.id) }
func (p *tracer) Configure(dsp.Format) error {
	p.log("configure")
	if p.reject {
		return dsp.ErrFormatUnsupported
	}
	return nil
}

func (p *tracer) Snapshot() { p.current = p.level.Load() }

func (p *tracer) Process(*dsp.Buffer) {
	if len(p.seen) < cap(p.seen) {
		p.seen = append(p.seen, p.current)
	}
	if p.inside != nil {
		p.inside()
	}
}

func newSim() *audio.Simulator {
	return audio.NewSimulator(testFormat, &utils.Tone{Frequency: 440, Amplitude: 0.5, SampleRate: testFormat.SampleRate})
}

func mustBuild(t *testing.T, e *Engine, chain *dsp.Chain, src audio.Source) {
	t.Helper()
	if err := e.Build(context.Background(), chain, src); err != nil {
		t.Fatalf("Build() = %v", err)
	}
}

func mustStart(t *testing.T, e *Engine) {
	t.Helper()
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
}

func TestLifecycle(t *testing.T) {
	var journal []string
	chain, err := dsp.NewChain(newTracer("a", &journal), newTracer("b", &journal))
	if err != nil {
		t.Fatal(err)
	}
	sim := newSim()
	e := New()

	if e.State() != Uninitialized {
		t.Fatalf("new engine state = %s", e.State())
	}
	mustBuild(t, e, chain, sim)
	if e.State() != Configured || e.Format() != testFormat {
		t.Fatalf("after Build: %s at %s", e.State(), e.Format())
	}
	if e.Registry() == nil {
		t.Fatal("Registry() = nil after Build")
	}

	mustStart(t, e)
	if e.State() != Running || !sim.IsOpen() {
		t.Fatalf("after Start: %s, open = %v", e.State(), sim.IsOpen())
	}
	if err := sim.Pump(3); err != nil {
		t.Fatal(err)
	}

	if err := e.Stop(); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if e.State() != Stopped || sim.IsOpen() {
		t.Fatalf("after Stop: %s, open = %v", e.State(), sim.IsOpen())
	}
	if err := e.Stop(); err != nil {
		t.Errorf("second Stop() = %v, want no-op", err)
	}

	mustStart(t, e)
	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := e.Teardown(); err != nil {
		t.Fatalf("Teardown() = %v", err)
	}
	if e.State() != Uninitialized || e.Registry() != nil {
		t.Fatalf("after Teardown: %s", e.State())
	}

	// The same source can be built again.
	mustBuild(t, e, chain, sim)
	if sim.Opens() != 2 || sim.Closes() != 2 {
		t.Errorf("opens = %d, closes = %d, want 2 each", sim.Opens(), sim.Closes())
	}

	got := strings.Join(journal, ",")
	want := "configure:a,configure:b," +
		"reset:a,reset:b," + // first Start
		"reset:a,reset:b," + // restart
		"release:a,release:b," +
		"configure:a,configure:b"
	if got != want {
		t.Errorf("journal = %s\nwant      %s", got, want)
	}
}

func TestInvalidTransitions(t *testing.T) {
	e := New()
	ctx := context.Background()

	if err := e.Start(ctx); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Start before Build = %v", err)
	}
	if err := e.Stop(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Stop before Build = %v", err)
	}
	if err := e.Teardown(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Teardown before Build = %v", err)
	}
	if err := e.Build(ctx, nil, newSim()); err == nil {
		t.Error("Build with nil chain should fail")
	}

	sim := newSim()
	mustBuild(t, e, dsp.NewStandardChain(), sim)
	if err := e.Build(ctx, dsp.NewStandardChain(), sim); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Build = %v", err)
	}
	if err := e.Stop(); err != nil {
		t.Errorf("Stop while Configured = %v, want no-op", err)
	}

	mustStart(t, e)
	defer e.Stop()
	if err := e.Start(ctx); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Start = %v, want ErrInvalidState", err)
	}
	if sim.Opens() != 1 {
		t.Errorf("device opened %d times, want 1", sim.Opens())
	}
	if err := e.Teardown(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Teardown while Running = %v", err)
	}
	if err := e.AttachTap(&countingTap{}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("AttachTap while Running = %v", err)
	}
}

func TestBuildFormatUnsupported(t *testing.T) {
	var journal []string
	bad := newTracer("b", &journal)
	bad.reject = true
	chain, err := dsp.NewChain(newTracer("a", &journal), bad, newTracer("c", &journal))
	if err != nil {
		t.Fatal(err)
	}

	e := New()
	if err := e.Build(context.Background(), chain, newSim()); !errors.Is(err, ErrFormatUnsupported) {
		t.Fatalf("Build() = %v, want ErrFormatUnsupported", err)
	}
	if e.State() != Uninitialized {
		t.Errorf("state = %s, want uninitialized", e.State())
	}
	if got := strings.Join(journal, ","); got != "configure:a,configure:b,release:a" {
		t.Errorf("journal = %s", got)
	}

	surround := testFormat
	surround.Channels = 6
	err = e.Build(context.Background(), dsp.NewStandardChain(), audio.NewSimulator(surround, nil))
	if !errors.Is(err, ErrFormatUnsupported) {
		t.Errorf("Build(6ch) = %v, want ErrFormatUnsupported", err)
	}
}

func TestNotAuthorized(t *testing.T) {
	e := New(WithAuthorizer(session.Denied))
	err := e.Build(context.Background(), dsp.NewStandardChain(), newSim())
	if !errors.Is(err, ErrDeviceUnavailable) || !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("Build() = %v, want ErrDeviceUnavailable wrapping ErrNotAuthorized", err)
	}

	// Permission revoked between Build and Start.
	var allowed = true
	var mu sync.Mutex
	auth := session.AuthorizerFunc(func(context.Context) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		return allowed, nil
	})
	sim := newSim()
	e = New(WithAuthorizer(auth))
	mustBuild(t, e, dsp.NewStandardChain(), sim)
	mu.Lock()
	allowed = false
	mu.Unlock()
	if err := e.Start(context.Background()); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("Start() = %v, want ErrNotAuthorized", err)
	}
	if sim.Opens() != 0 || e.State() != Configured {
		t.Errorf("device opened without permission (state %s)", e.State())
	}
}

func TestAuthorizationTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	hang := session.AuthorizerFunc(func(context.Context) (bool, error) {
		<-block
		return true, nil
	})

	e := New(WithAuthorizer(hang), WithOpenTimeout(20*time.Millisecond))
	start := time.Now()
	err := e.Build(context.Background(), dsp.NewStandardChain(), newSim())
	if !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("Build() = %v, want ErrNotAuthorized", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Build() should fail fast when authorization never arrives")
	}
}

func TestStartFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(sim *audio.Simulator)
		want  error
	}{
		{"device busy", func(sim *audio.Simulator) { sim.FailOpen = audio.ErrDeviceUnavailable }, ErrDeviceUnavailable},
		{"stream failed", func(sim *audio.Simulator) { sim.FailOpen = errors.New("stream refused") }, ErrEngineStart},
		{"open timeout", func(sim *audio.Simulator) { sim.OpenDelay = time.Second }, ErrEngineStart},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := newSim()
			e := New(WithOpenTimeout(20 * time.Millisecond))
			mustBuild(t, e, dsp.NewStandardChain(), sim)

			tt.setup(sim)
			if err := e.Start(context.Background()); !errors.Is(err, tt.want) {
				t.Fatalf("Start() = %v, want %v", err, tt.want)
			}
			if e.State() != Configured {
				t.Fatalf("state after failed Start = %s, want configured", e.State())
			}

			// Retry once the device is back.
			sim.FailOpen, sim.OpenDelay = nil, 0
			mustStart(t, e)
			e.Stop()
		})
	}
}

func TestStartNegotiationMismatch(t *testing.T) {
	sim := newSim()
	other := testFormat
	other.SampleRate = 48000
	sim.Negotiated = &other

	e := New()
	mustBuild(t, e, dsp.NewStandardChain(), sim)
	if err := e.Start(context.Background()); !errors.Is(err, ErrFormatUnsupported) {
		t.Fatalf("Start() = %v, want ErrFormatUnsupported", err)
	}
	if sim.IsOpen() || sim.Closes() != 1 {
		t.Error("device should be closed after a negotiation mismatch")
	}
	if e.State() != Configured {
		t.Errorf("state = %s, want configured", e.State())
	}
}

func TestBufferCounts(t *testing.T) {
	sim := newSim()
	e := New()
	mustBuild(t, e, dsp.NewStandardChain(), sim)
	mustStart(t, e)

	if err := sim.Pump(10); err != nil {
		t.Fatal(err)
	}
	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}

	s := e.Stats()
	if s.BuffersIn != 10 || s.BuffersOut != 10 || s.Dropped != 0 {
		t.Errorf("stats = %+v, want 10 in, 10 out, none dropped", s)
	}
	if s.State != Stopped {
		t.Errorf("stats state = %s", s.State)
	}
	if s.MaxRender <= 0 || s.MaxRender < s.LastRender {
		t.Errorf("render timings = last %s, max %s", s.LastRender, s.MaxRender)
	}
}

func TestParameterVisibleAtNextBuffer(t *testing.T) {
	var journal []string
	p := newTracer("tr", &journal)
	chain, err := dsp.NewChain(p)
	if err != nil {
		t.Fatal(err)
	}
	sim := newSim()
	e := New()
	mustBuild(t, e, chain, sim)
	mustStart(t, e)
	defer e.Stop()

	reg := e.Registry()
	for _, v := range []float64{0.25, 0.5, 1.5} {
		if _, err := reg.Set("tr", "level", v); err != nil {
			t.Fatal(err)
		}
		if err := sim.Pump(1); err != nil {
			t.Fatal(err)
		}
	}

	want := []float64{0.25, 0.5, 1} // the last write is clamped
	if len(p.seen) != len(want) {
		t.Fatalf("seen %v, want %v", p.seen, want)
	}
	for i := range want {
		if p.seen[i] != want[i] {
			t.Errorf("buffer %d saw %v, want %v", i, p.seen[i], want[i])
		}
	}
}

func TestParameterWrittenMidBufferWaitsForNextBuffer(t *testing.T) {
	var journal []string
	a := newTracer("a", &journal)
	b := newTracer("b", &journal)
	chain, err := dsp.NewChain(a, b)
	if err != nil {
		t.Fatal(err)
	}
	sim := newSim()
	e := New()
	mustBuild(t, e, chain, sim)
	mustStart(t, e)
	defer e.Stop()

	reg := e.Registry()
	written := false
	a.inside = func() {
		// Runs on the render path while a processes the first buffer.
		if !written {
			written = true
			reg.Set("b", "level", 0.9)
		}
	}
	if err := sim.Pump(2); err != nil {
		t.Fatal(err)
	}

	if len(b.seen) != 2 {
		t.Fatalf("b processed %d buffers, want 2", len(b.seen))
	}
	if b.seen[0] != 0 {
		t.Errorf("buffer 0: b saw %v written after the buffer began, want 0", b.seen[0])
	}
	if b.seen[1] != 0.9 {
		t.Errorf("buffer 1: b saw %v, want 0.9", b.seen[1])
	}
}

func TestSilenceWhenNotRunning(t *testing.T) {
	sim := newSim()
	e := New()
	mustBuild(t, e, dsp.NewStandardChain(), sim)

	buf := dsp.NewBuffer(testFormat)
	for i := range buf.Samples {
		buf.Samples[i] = 0.5
	}
	e.Render(buf)
	if buf.Peak() != 0 {
		t.Error("Render while Configured should output silence")
	}

	mustStart(t, e)
	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}
	for i := range buf.Samples {
		buf.Samples[i] = 0.5
	}
	before := e.Stats()
	e.Render(buf)
	if buf.Peak() != 0 {
		t.Error("Render after Stop should output silence")
	}
	if after := e.Stats(); after.BuffersIn != before.BuffersIn || after.BuffersOut != before.BuffersOut {
		t.Errorf("render after Stop was counted: %+v", after)
	}
}

func TestReentrantRenderDropped(t *testing.T) {
	var journal []string
	p := newTracer("tr", &journal)
	chain, err := dsp.NewChain(p)
	if err != nil {
		t.Fatal(err)
	}
	sim := newSim()
	e := New()
	mustBuild(t, e, chain, sim)
	mustStart(t, e)
	defer e.Stop()

	inner := dsp.NewBuffer(testFormat)
	inner.Samples[0] = 0.5
	p.inside = func() { e.Render(inner) }
	if err := sim.Pump(1); err != nil {
		t.Fatal(err)
	}

	if inner.Peak() != 0 {
		t.Error("re-entrant render should output silence")
	}
	if s := e.Stats(); s.Dropped != 1 || s.BuffersOut != 1 {
		t.Errorf("stats = %+v, want 1 dropped and 1 processed", s)
	}
}

func TestMalformedBufferDropped(t *testing.T) {
	e := New()
	mustBuild(t, e, dsp.NewStandardChain(), newSim())
	mustStart(t, e)
	defer e.Stop()

	stereo := testFormat
	stereo.Channels = 2
	buf := dsp.NewBuffer(stereo)
	buf.Samples[0] = 0.5
	e.Render(buf)
	if buf.Peak() != 0 || e.Stats().Dropped != 1 {
		t.Errorf("mismatched buffer should be silenced and dropped: %+v", e.Stats())
	}
}

func TestDeviceFault(t *testing.T) {
	sim := newSim()
	e := New()
	mustBuild(t, e, dsp.NewStandardChain(), sim)
	mustStart(t, e)

	sim.InjectFault(errors.New("unplugged"))

	select {
	case err := <-e.Faults():
		if !errors.Is(err, ErrDeviceFault) || !strings.Contains(err.Error(), "unplugged") {
			t.Errorf("fault = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no fault reported")
	}
	if e.State() != Stopped {
		t.Errorf("state after fault = %s, want stopped", e.State())
	}
	if sim.IsOpen() {
		t.Error("faulted device should be closed")
	}
	if !errors.Is(e.LastFault(), ErrDeviceFault) || e.Stats().Faults != 1 {
		t.Errorf("LastFault = %v, faults = %d", e.LastFault(), e.Stats().Faults)
	}

	// The engine recovers with an explicit Start.
	mustStart(t, e)
	if err := sim.Pump(1); err != nil {
		t.Fatal(err)
	}
	e.Stop()
}

type countingTap struct {
	mu     sync.Mutex
	blocks int
	peak   float64
}

func (c *countingTap) Write(buf *dsp.Buffer) {
	c.mu.Lock()
	c.blocks++
	c.peak = math.Max(c.peak, buf.Peak())
	c.mu.Unlock()
}

func TestTaps(t *testing.T) {
	early, late := &countingTap{}, &countingTap{}
	sim := newSim()
	e := New(WithTaps(early))
	mustBuild(t, e, dsp.NewStandardChain(), sim)
	if err := e.AttachTap(late); err != nil {
		t.Fatal(err)
	}
	mustStart(t, e)
	if err := sim.Pump(4); err != nil {
		t.Fatal(err)
	}
	e.Stop()

	for name, tap := range map[string]*countingTap{"option": early, "attached": late} {
		if tap.blocks != 4 {
			t.Errorf("%s tap saw %d blocks, want 4", name, tap.blocks)
		}
		// Default mixer gain halves the 0.5 tone.
		if math.Abs(tap.peak-0.25) > 0.01 {
			t.Errorf("%s tap peak = %v, want the processed output", name, tap.peak)
		}
	}
}

// renderScenario plays seconds of a 440 Hz tone followed by silence through
// the standard chain and returns 1.5 s of output.
func renderScenario(t *testing.T, seconds, amplitude float64, settings map[[2]string]float64) []float64 {
	t.Helper()

	tone := make([]float64, int(seconds*testFormat.SampleRate))
	(&utils.Tone{Frequency: 440, Amplitude: amplitude, SampleRate: testFormat.SampleRate}).Fill(tone, 1)
	sim := audio.NewSimulator(testFormat, audio.NewSignal(tone))

	out := make([]float64, 0, int(1.5*testFormat.SampleRate))
	sim.OnOutput = func(buf *dsp.Buffer) { out = append(out, buf.Data()...) }

	e := New()
	mustBuild(t, e, dsp.NewStandardChain(), sim)
	for k, v := range settings {
		if _, err := e.Registry().Set(k[0], k[1], v); err != nil {
			t.Fatal(err)
		}
	}
	mustStart(t, e)
	if err := sim.Pump(150); err != nil {
		t.Fatal(err)
	}
	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestOctaveUpWithEchoAndReverb(t *testing.T) {
	at := func(sec float64) int { return int(sec * testFormat.SampleRate) }
	base := map[[2]string]float64{
		{dsp.StagePitch, "cents"}:    1200,
		{dsp.StageReverb, "mix"}:     30,
		{dsp.StageDelay, "time"}:     0.25,
		{dsp.StageDelay, "feedback"}: 0,
		{dsp.StageDelay, "mix"}:      50,
		{dsp.StageMixer, "gain"}:     1,
	}
	with := func(overrides map[[2]string]float64) map[[2]string]float64 {
		m := make(map[[2]string]float64, len(base))
		for k, v := range base {
			m[k] = v
		}
		for k, v := range overrides {
			m[k] = v
		}
		return m
	}

	full := renderScenario(t, 0.2, 0.5, base)
	noDelay := renderScenario(t, 0.2, 0.5, with(map[[2]string]float64{{dsp.StageDelay, "time"}: 0}))
	dry := renderScenario(t, 0.2, 0.5, with(map[[2]string]float64{
		{dsp.StageDelay, "time"}: 0,
		{dsp.StageReverb, "mix"}: 0,
	}))

	if peak := utils.PeakAbs(full); peak > 1 {
		t.Errorf("output exceeds unity: %v", peak)
	}

	got := analysis.PeakFrequency(full[at(0.05):at(0.2)], testFormat.SampleRate)
	if math.Abs(got-880) > 20 {
		t.Errorf("dominant frequency = %.1f Hz, want 880", got)
	}

	echo := analysis.RMS(full[at(0.3):at(0.4)])
	without := analysis.RMS(noDelay[at(0.3):at(0.4)])
	if echo < 2*without {
		t.Errorf("no echo 0.25 s later: rms %.4f with delay, %.4f without", echo, without)
	}

	tail := analysis.RMS(full[at(0.7):at(0.9)])
	silent := analysis.RMS(dry[at(0.7):at(0.9)])
	if tail <= 1e-5 {
		t.Errorf("no reverb tail after the input stopped (rms %v)", tail)
	}
	if silent > 1e-9 {
		t.Errorf("dry chain should be silent after the input stopped (rms %v)", silent)
	}
}

func TestOneSecondToneScenario(t *testing.T) {
	at := func(sec float64) int { return int(sec * testFormat.SampleRate) }
	// Delay feedback and echo mix stay at their defaults.
	settings := map[[2]string]float64{
		{dsp.StagePitch, "cents"}: 1200,
		{dsp.StageReverb, "mix"}:  50,
		{dsp.StageDelay, "time"}:  0.25,
		{dsp.StageMixer, "gain"}:  0.8,
	}
	withoutDelay := map[[2]string]float64{{dsp.StageDelay, "time"}: 0}
	for k, v := range settings {
		if _, ok := withoutDelay[k]; !ok {
			withoutDelay[k] = v
		}
	}
	bypassed := map[[2]string]float64{
		{dsp.StagePitch, "cents"}: 1200,
		{dsp.StageMixer, "gain"}:  0.8,
	}

	for _, amplitude := range []float64{0.5, 1} {
		out := renderScenario(t, 1, amplitude, settings)
		if peak := utils.PeakAbs(out); peak > 1 {
			t.Errorf("amplitude %v: output exceeds unity: %v", amplitude, peak)
		}
		got := analysis.PeakFrequency(out[at(0.05):at(0.25)], testFormat.SampleRate)
		if math.Abs(got-880) > 20 {
			t.Errorf("amplitude %v: dominant frequency = %.1f Hz, want 880", amplitude, got)
		}
	}

	// Stages before the delay behave identically in both runs, so with the
	// default 50% echo mix the difference full - noDelay/2 is the echo alone.
	full := renderScenario(t, 1, 0.5, settings)
	noDelay := renderScenario(t, 1, 0.5, withoutDelay)
	echo := make([]float64, len(full))
	for i := range full {
		echo[i] = full[i] - noDelay[i]/2
	}
	if early := analysis.RMS(echo[:at(0.24)]); early > 1e-9 {
		t.Errorf("echo present before 0.25 s (rms %v)", early)
	}
	if late := analysis.RMS(echo[at(0.26):at(0.5)]); late < 0.01 {
		t.Errorf("no echo 0.25 s after the input (rms %v)", late)
	}

	tail := analysis.RMS(noDelay[at(1.3):at(1.5)])
	silent := analysis.RMS(renderScenario(t, 1, 0.5, bypassed)[at(1.3):at(1.5)])
	if tail <= 1e-5 {
		t.Errorf("no reverb tail after the input stopped (rms %v)", tail)
	}
	if silent > 1e-9 {
		t.Errorf("chain without reverb and delay should be silent after the input stopped (rms %v)", silent)
	}
}

func TestRenderZeroAllocs(t *testing.T) {
	sim := newSim()
	e := New(WithTaps(&countingTap{}))
	mustBuild(t, e, dsp.NewStandardChain(), sim)
	if _, err := e.Registry().Set(dsp.StagePitch, "cents", 700); err != nil {
		t.Fatal(err)
	}
	mustStart(t, e)
	defer e.Stop()

	allocs := testing.AllocsPerRun(100, func() { _ = sim.Pump(1) })
	if allocs != 0 {
		t.Errorf("render allocated %.0f times per block", allocs)
	}
}

func TestConcurrentParameterUpdates(t *testing.T) {
	sim := newSim()
	e := New()
	mustBuild(t, e, dsp.NewStandardChain(), sim)
	mustStart(t, e)
	defer e.Stop()
	reg := e.Registry()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := float64(i) / 4
			for ctx.Err() == nil {
				reg.Set(dsp.StageMixer, "gain", v)
				reg.Set(dsp.StagePitch, "cents", v*2400-1200)
				reg.Get(dsp.StageDelay, "time")
				_ = e.Stats()
			}
		}()
	}
	if err := sim.Pump(50); err != nil {
		t.Fatal(err)
	}
	cancel()
	wg.Wait()

	if s := e.Stats(); s.BuffersOut != 50 {
		t.Errorf("processed %d blocks, want 50", s.BuffersOut)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		Uninitialized: "uninitialized",
		Configured:    "configured",
		Running:       "running",
		Stopped:       "stopped",
		State(42):     "unknown",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}

func BenchmarkRender(b *testing.B) {
	sim := newSim()
	e := New()
	if err := e.Build(context.Background(), dsp.NewStandardChain(), sim); err != nil {
		b.Fatal(err)
	}
	if err := e.Start(context.Background()); err != nil {
		b.Fatal(err)
	}
	defer e.Stop()
	for b.Loop() {
		_ = sim.Pump(1)
	}
}
