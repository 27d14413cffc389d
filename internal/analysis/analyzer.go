// SPDX-License-Identifier: MIT
package analysis

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"livefx/internal/dsp"
	"livefx/internal/log"
	"livefx/internal/ring"
)

// Publisher receives telemetry. The control surface implements it.
type Publisher interface {
	Send(data any) error
}

// Telemetry is one analysis report of the processed output.
type Telemetry struct {
	Type      string      `json:"type"`
	Time      float64     `json:"time"` // seconds since stream start
	RMS       float64     `json:"rms"`
	RMSDB     float64     `json:"rms_db"`
	Peak      float64     `json:"peak"`
	PeakDB    float64     `json:"peak_db"`
	Frequency float64     `json:"frequency,omitempty"` // dominant frequency, 0 when gated
	Gated     bool        `json:"gated"`
	Bands     []BandLevel `json:"bands,omitempty"`
	Dropped   uint64      `json:"dropped"`
}

// Config holds the analyzer settings.
type Config struct {
	FFTSize       int
	Window        WindowFunc
	Interval      time.Duration
	GateThreshold float64
	// Capacity is the number of blocks the tap can queue before dropping.
	Capacity int
}

// DefaultConfig returns a 4096-point Hann analysis published at 10 Hz.
func DefaultConfig() Config {
	return Config{
		FFTSize:       4096,
		Window:        Hann,
		Interval:      100 * time.Millisecond,
		GateThreshold: 0.01,
		Capacity:      64,
	}
}

// Analyzer is a tap on the processed output. Write runs on the render
// path and only enqueues; Run drains the queue, measures and publishes.
type Analyzer struct {
	cfg      Config
	format   dsp.Format
	blocks   *ring.Blocks
	spectrum *Spectrum
	gate     *Gate
	out      Publisher

	// Consumer-side state, owned by Run.
	scratch *dsp.Buffer
	history []float64
	filled  int
	level   Level
	last    time.Duration
	bands   []BandLevel

	latest atomic.Pointer[Telemetry]
}

// NewAnalyzer creates an analyzer for output of format f. out may be nil,
// in which case reports are only available through Latest.
func NewAnalyzer(f dsp.Format, cfg Config, out Publisher) (*Analyzer, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("analysis: interval must be positive, got %s", cfg.Interval)
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	spectrum, err := NewSpectrum(cfg.FFTSize, f.SampleRate, cfg.Window)
	if err != nil {
		return nil, fmt.Errorf("analysis: %w", err)
	}

	log.Infof("Analysis: FFT size %d at %.0f Hz, reporting every %s", cfg.FFTSize, f.SampleRate, cfg.Interval)

	return &Analyzer{
		cfg:      cfg,
		format:   f,
		blocks:   ring.NewBlocks(f, cfg.Capacity),
		spectrum: spectrum,
		gate:     NewGate(cfg.GateThreshold),
		out:      out,
		scratch:  dsp.NewBuffer(f),
		history:  make([]float64, cfg.FFTSize),
		bands:    make([]BandLevel, len(DefaultBands)),
	}, nil
}

// Write enqueues a copy of buf. It never blocks; when the queue is full the
// block is dropped and counted.
func (a *Analyzer) Write(buf *dsp.Buffer) {
	a.blocks.Push(buf)
}

// Gate returns the analysis gate.
func (a *Analyzer) Gate() *Gate { return a.gate }

// Dropped returns the number of blocks dropped because Run fell behind.
func (a *Analyzer) Dropped() uint64 { return a.blocks.Dropped() }

// Latest returns the most recent report.
func (a *Analyzer) Latest() (Telemetry, bool) {
	t := a.latest.Load()
	if t == nil {
		return Telemetry{}, false
	}
	return *t, true
}

// Run drains the tap and publishes a report every interval until ctx is
// cancelled.
func (a *Analyzer) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.Drain()
			return nil
		case <-a.blocks.Ready():
			a.Drain()
		case <-ticker.C:
			a.Drain()
			a.Report()
		}
	}
}

// Drain consumes every queued block.
func (a *Analyzer) Drain() {
	for a.blocks.Pop(a.scratch) {
		a.consume(a.scratch)
	}
}

func (a *Analyzer) consume(buf *dsp.Buffer) {
	data := buf.Data()
	a.level.Add(data)
	a.last = buf.Time + time.Duration(float64(buf.Frames)/a.format.SampleRate*float64(time.Second))

	// Downmix into the sliding history window.
	ch := buf.Channels
	frames := buf.Frames
	n := len(a.history)
	if frames > n {
		data = data[(frames-n)*ch:]
		frames = n
	}
	copy(a.history, a.history[frames:])
	tail := a.history[n-frames:]
	for i := range tail {
		var sum float64
		for c := 0; c < ch; c++ {
			sum += data[i*ch+c]
		}
		tail[i] = sum / float64(ch)
	}
	a.filled = min(n, a.filled+frames)
}

// Report measures everything consumed since the previous report and
// publishes it. Nothing is published when no audio arrived.
func (a *Analyzer) Report() {
	if a.level.Count() == 0 {
		return
	}

	t := &Telemetry{
		Type:    "telemetry",
		Time:    a.last.Seconds(),
		RMS:     a.level.RMS(),
		Peak:    a.level.Peak(),
		Dropped: a.blocks.Dropped(),
	}
	t.RMSDB = DBFS(t.RMS)
	t.PeakDB = DBFS(t.Peak)
	a.level.Reset()

	if !a.gate.Open(t.Peak) {
		t.Gated = true
	} else if a.filled == len(a.history) {
		a.spectrum.Analyze(a.history)
		t.Frequency = a.spectrum.PeakFrequency(20, a.format.SampleRate/2)
		BandEnergy(a.spectrum, DefaultBands, a.bands)
		t.Bands = append([]BandLevel(nil), a.bands...)
	}

	a.latest.Store(t)
	if a.out != nil {
		if err := a.out.Send(*t); err != nil {
			log.Debugf("Analysis: publish failed: %v", err)
		}
	}
}
