// SPDX-License-Identifier: MIT
package analysis

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"livefx/internal/dsp"
	"livefx/pkg/utils"
)

const testSampleRate = 44100.0

func TestNewSpectrumValidation(t *testing.T) {
	if _, err := NewSpectrum(1000, testSampleRate, Hann); !errors.Is(err, ErrFFTSize) {
		t.Errorf("non power of two: err = %v, want ErrFFTSize", err)
	}
	if _, err := NewSpectrum(1024, 0, Hann); !errors.Is(err, ErrSampleRate) {
		t.Errorf("zero sample rate: err = %v, want ErrSampleRate", err)
	}
	s, err := NewSpectrum(1024, testSampleRate, Blackman)
	if err != nil {
		t.Fatalf("NewSpectrum() error = %v", err)
	}
	if s.Bins() != 513 || s.Size() != 1024 {
		t.Errorf("Bins() = %d, Size() = %d", s.Bins(), s.Size())
	}
}

func TestSpectrumPeakFrequency(t *testing.T) {
	tests := []struct {
		name string
		freq float64
		win  WindowFunc
	}{
		{"A4 Hann", 440, Hann},
		{"A5 Hamming", 880, Hamming},
		{"1kHz Blackman", 1000, Blackman},
		{"3kHz Nuttall", 3000, Nuttall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSpectrum(4096, testSampleRate, tt.win)
			if err != nil {
				t.Fatal(err)
			}
			s.Analyze(utils.GenerateSineWave(4096, testSampleRate, tt.freq))
			got := s.PeakFrequency(20, testSampleRate/2)
			if math.Abs(got-tt.freq) > 5 {
				t.Errorf("PeakFrequency() = %.2f, want %.0f ±5", got, tt.freq)
			}
		})
	}
}

func TestPeakFrequencyFunc(t *testing.T) {
	// Not a power of two: the tail 8192 samples are analysed.
	samples := utils.GenerateSineWave(10000, testSampleRate, 880)
	if got := PeakFrequency(samples, testSampleRate); math.Abs(got-880) > 3 {
		t.Errorf("PeakFrequency() = %.2f, want 880 ±3", got)
	}
	if got := PeakFrequency(make([]float64, 2), testSampleRate); got != 0 {
		t.Errorf("too short: PeakFrequency() = %v, want 0", got)
	}
	if got := PeakFrequency(make([]float64, 1024), testSampleRate); got != 0 {
		t.Errorf("silence: PeakFrequency() = %v, want 0", got)
	}
}

func TestMagnitudesInto(t *testing.T) {
	s, _ := NewSpectrum(256, testSampleRate, Hann)
	s.Analyze(utils.GenerateComplexWave(256, testSampleRate))

	if err := s.MagnitudesInto(make([]float64, 10)); err == nil {
		t.Error("expected length mismatch error")
	}
	dst := make([]float64, s.Bins())
	if err := s.MagnitudesInto(dst); err != nil {
		t.Fatal(err)
	}
	mags := s.Magnitudes()
	for i := range dst {
		if dst[i] != mags[i] {
			t.Fatalf("bin %d: %v != %v", i, dst[i], mags[i])
		}
	}
	if s.FrequencyForBin(-1) != 0 || s.FrequencyForBin(s.Bins()) != 0 {
		t.Error("out of range bins should report 0 Hz")
	}
	if got := s.FrequencyForBin(128); got != testSampleRate/2 {
		t.Errorf("FrequencyForBin(128) = %v, want Nyquist", got)
	}
}

func TestAnalyzeZeroAllocs(t *testing.T) {
	s, _ := NewSpectrum(1024, testSampleRate, Hann)
	in := utils.GenerateSineWave(1024, testSampleRate, 440)
	allocs := testing.AllocsPerRun(50, func() {
		s.Analyze(in)
	})
	if allocs > 0 {
		t.Errorf("Analyze allocated %.1f times", allocs)
	}
}

func TestParseWindowFunc(t *testing.T) {
	tests := []struct {
		in      string
		want    WindowFunc
		wantErr bool
	}{
		{"Hann", Hann, false},
		{"hanning", Hann, false},
		{"BLACKMAN", Blackman, false},
		{"blackmannuttall", BlackmanNuttall, false},
		{"bartletthann", BartlettHann, false},
		{"hamming", Hamming, false},
		{"lanczos", Lanczos, false},
		{"nuttall", Nuttall, false},
		{"kaiser", Hann, true},
	}
	for _, tt := range tests {
		got, err := ParseWindowFunc(tt.in)
		if got != tt.want || (err != nil) != tt.wantErr {
			t.Errorf("ParseWindowFunc(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestLevel(t *testing.T) {
	var l Level
	if l.RMS() != 0 || l.Peak() != 0 {
		t.Fatal("empty level should be zero")
	}
	l.Add([]float64{0.5, -0.5, 0.5, -0.5})
	l.Add([]float64{-0.8})
	if l.Peak() != 0.8 {
		t.Errorf("Peak() = %v, want 0.8", l.Peak())
	}
	want := math.Sqrt((4*0.25 + 0.64) / 5)
	if math.Abs(l.RMS()-want) > 1e-12 {
		t.Errorf("RMS() = %v, want %v", l.RMS(), want)
	}
	l.Reset()
	if l.Count() != 0 {
		t.Error("Reset() did not clear the count")
	}

	sine := utils.GenerateSineWave(44100, testSampleRate, 441)
	if got := RMS(sine); math.Abs(got-0.9/math.Sqrt2) > 1e-3 {
		t.Errorf("sine RMS = %v, want %v", got, 0.9/math.Sqrt2)
	}
}

func TestDBFS(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{1, 0},
		{0.5, -6.0206},
		{0, SilenceDB},
		{-1, SilenceDB},
		{1e-9, SilenceDB},
	}
	for _, tt := range tests {
		if got := DBFS(tt.in); math.Abs(got-tt.want) > 1e-3 {
			t.Errorf("DBFS(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestGate(t *testing.T) {
	g := NewGate(0.1)
	if g.Open(0.05) {
		t.Error("gate should be closed below threshold")
	}
	if !g.Open(0.1) || !g.Open(0.5) {
		t.Error("gate should be open at and above threshold")
	}

	g.SetThreshold(2)
	if g.Threshold() != 1 {
		t.Errorf("threshold = %v, want clamp to 1", g.Threshold())
	}
	g.SetThreshold(-1)
	if g.Threshold() != 0 || !g.Open(0) {
		t.Error("zero threshold should always be open")
	}
}

func TestBandEnergy(t *testing.T) {
	s, _ := NewSpectrum(4096, testSampleRate, Hann)
	s.Analyze(utils.GenerateSineWave(4096, testSampleRate, 1000))

	levels := make([]BandLevel, len(DefaultBands))
	BandEnergy(s, DefaultBands, levels)

	loudest := 0
	for i := range levels {
		if levels[i].Level > levels[loudest].Level {
			loudest = i
		}
	}
	if levels[loudest].Name != "mid" {
		t.Errorf("loudest band = %s, want mid (1 kHz)", levels[loudest].Name)
	}
}

func TestMagnitudesPeakBin(t *testing.T) {
	s, _ := NewSpectrum(4096, testSampleRate, Hann)
	s.Analyze(utils.GenerateSineWave(4096, testSampleRate, 1000))

	mags := s.Magnitudes()
	bin := utils.FindPeakBin(mags, 1, len(mags)-1)
	if got := s.FrequencyForBin(bin); math.Abs(got-1000) > testSampleRate/4096 {
		t.Errorf("peak bin %d is %.1f Hz, want 1000 Hz within one bin", bin, got)
	}
}

func newTestAnalyzer(t *testing.T, out Publisher) (*Analyzer, dsp.Format) {
	t.Helper()
	f := dsp.Format{SampleRate: testSampleRate, Channels: 2, FramesPerBuffer: 512}
	cfg := DefaultConfig()
	cfg.Interval = time.Hour
	a, err := NewAnalyzer(f, cfg, out)
	if err != nil {
		t.Fatalf("NewAnalyzer() error = %v", err)
	}
	return a, f
}

func feedTone(a *Analyzer, f dsp.Format, freq, amp float64, blocks int) {
	tone := &utils.Tone{Frequency: freq, Amplitude: amp, SampleRate: f.SampleRate}
	buf := dsp.NewBuffer(f)
	for i := 0; i < blocks; i++ {
		tone.Fill(buf.Samples, f.Channels)
		buf.Time = time.Duration(i) * time.Duration(f.Period()*float64(time.Second))
		a.Write(buf)
	}
}

func TestAnalyzerReport(t *testing.T) {
	mt := &utils.MockTransport{}
	a, f := newTestAnalyzer(t, mt)

	if _, ok := a.Latest(); ok {
		t.Fatal("no report expected before audio")
	}
	a.Report()
	if mt.Last() != nil {
		t.Fatal("nothing should be published without audio")
	}

	feedTone(a, f, 440, 0.5, 10) // 5120 frames fills the 4096 window
	a.Drain()
	a.Report()

	got, ok := a.Latest()
	if !ok {
		t.Fatal("expected a report")
	}
	if got.Type != "telemetry" || got.Gated {
		t.Errorf("unexpected report header: %+v", got)
	}
	if math.Abs(got.Frequency-440) > 5 {
		t.Errorf("Frequency = %.2f, want 440 ±5", got.Frequency)
	}
	if math.Abs(got.Peak-0.5) > 1e-3 {
		t.Errorf("Peak = %v, want 0.5", got.Peak)
	}
	if len(got.Bands) != len(DefaultBands) {
		t.Errorf("Bands = %d entries, want %d", len(got.Bands), len(DefaultBands))
	}
	if got.Time <= 0 {
		t.Errorf("Time = %v, want > 0", got.Time)
	}

	sent, ok := mt.Last().(Telemetry)
	if !ok || sent.Frequency != got.Frequency {
		t.Errorf("published %#v, want the latest report", mt.Last())
	}
}

func TestAnalyzerGatesSilence(t *testing.T) {
	a, f := newTestAnalyzer(t, nil)
	feedTone(a, f, 440, 0.001, 10)
	a.Drain()
	a.Report()

	got, _ := a.Latest()
	if !got.Gated || got.Frequency != 0 {
		t.Errorf("quiet input should be gated: %+v", got)
	}
}

func TestAnalyzerDropsWhenFull(t *testing.T) {
	f := dsp.Format{SampleRate: testSampleRate, Channels: 1, FramesPerBuffer: 64}
	cfg := DefaultConfig()
	cfg.Capacity = 2
	a, err := NewAnalyzer(f, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	buf := dsp.NewBuffer(f)
	for i := 0; i < 5; i++ {
		a.Write(buf)
	}
	if a.Dropped() != 3 {
		t.Errorf("Dropped() = %d, want 3", a.Dropped())
	}
}

func TestAnalyzerWriteZeroAllocs(t *testing.T) {
	a, f := newTestAnalyzer(t, nil)
	buf := dsp.NewBuffer(f)
	allocs := testing.AllocsPerRun(100, func() {
		a.Write(buf)
		a.Drain()
	})
	if allocs > 0 {
		t.Errorf("Write/Drain allocated %.1f times", allocs)
	}
}

func TestAnalyzerRun(t *testing.T) {
	f := dsp.Format{SampleRate: testSampleRate, Channels: 1, FramesPerBuffer: 1024}
	cfg := DefaultConfig()
	cfg.Interval = 5 * time.Millisecond
	mt := &utils.MockTransport{}
	a, err := NewAnalyzer(f, cfg, mt)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	feedTone(a, f, 1000, 0.5, 8)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if got, ok := a.Latest(); ok && got.Frequency > 0 {
			if math.Abs(got.Frequency-1000) > 5 {
				t.Errorf("Frequency = %.2f, want 1000 ±5", got.Frequency)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("analyzer never published a report")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewAnalyzerValidation(t *testing.T) {
	good := dsp.Format{SampleRate: testSampleRate, Channels: 1, FramesPerBuffer: 256}
	if _, err := NewAnalyzer(dsp.Format{}, DefaultConfig(), nil); !errors.Is(err, dsp.ErrFormatUnsupported) {
		t.Errorf("bad format: err = %v", err)
	}
	cfg := DefaultConfig()
	cfg.FFTSize = 1000
	if _, err := NewAnalyzer(good, cfg, nil); !errors.Is(err, ErrFFTSize) {
		t.Errorf("bad fft size: err = %v", err)
	}
	cfg = DefaultConfig()
	cfg.Interval = 0
	if _, err := NewAnalyzer(good, cfg, nil); err == nil {
		t.Error("zero interval should fail")
	}
}
