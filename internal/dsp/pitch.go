// SPDX-License-Identifier: MIT
package dsp

import (
	"math"

	"livefx/internal/param"
)

const (
	// Grain window of the modulated delay line. Longer windows smear
	// transients, shorter ones add roughness from the crossfade rate.
	pitchWindowSeconds = 0.05

	pitchMinCents = -2400
	pitchMaxCents = 2400
)

// PitchShift changes pitch without changing duration. Two read taps sweep
// a delay line at the pitch ratio, half a window apart, and are crossfaded
// with complementary raised-cosine gains so one tap is always silent when
// the other wraps.
//
// A ratio r moves each tap's delay by (1-r) samples per sample: taps that
// read faster than the write head raise the pitch, slower taps lower it.
type PitchShift struct {
	cents *param.Slot

	lines  []line
	window float64 // window length in samples
	phase  float64 // position of tap A in [0, 1)

	lastCents float64
	ratio     float64
}

// NewPitchShift creates a pitch shifter with a 0 cent default.
func NewPitchShift() *PitchShift {
	return &PitchShift{
		cents: param.NewSlot(StagePitch, param.Spec{
			ID: "cents", Label: "Pitch", Unit: "cents",
			Min: pitchMinCents, Max: pitchMaxCents, Default: 0,
		}),
		ratio: 1,
	}
}

func (p *PitchShift) ID() string { return StagePitch }

func (p *PitchShift) Params() []*param.Slot { return []*param.Slot{p.cents} }

// Cents returns the slot holding the pitch shift in cents.
func (p *PitchShift) Cents() *param.Slot { return p.cents }

func (p *PitchShift) Configure(f Format) error {
	if err := checkFormat(StagePitch, f); err != nil {
		return err
	}
	p.window = math.Round(pitchWindowSeconds * f.SampleRate)
	p.lines = make([]line, f.Channels)
	for ch := range p.lines {
		// Window plus the interpolator's look-around.
		p.lines[ch] = newLine(int(p.window) + 8)
	}
	p.phase = 0
	p.lastCents = 0
	p.ratio = 1
	p.Snapshot()
	return nil
}

func (p *PitchShift) Snapshot() {
	if cents := p.cents.Load(); cents != p.lastCents {
		p.lastCents = cents
		p.ratio = math.Exp2(cents / 1200)
	}
}

func (p *PitchShift) Process(buf *Buffer) {
	if len(p.lines) != buf.Channels {
		return
	}

	cents := p.lastCents
	data := buf.Data()
	channels := buf.Channels

	if cents == 0 {
		// Identity: keep the history warm so a later shift starts cleanly.
		for i := 0; i < len(data); i += channels {
			for ch := 0; ch < channels; ch++ {
				p.lines[ch].push(data[i+ch])
			}
		}
		return
	}

	step := (1 - p.ratio) / p.window
	for i := 0; i < len(data); i += channels {
		phaseB := p.phase + 0.5
		if phaseB >= 1 {
			phaseB--
		}
		delayA := p.phase*p.window + 1
		delayB := phaseB*p.window + 1
		gainA := 0.5 - 0.5*math.Cos(2*math.Pi*p.phase)
		gainB := 1 - gainA

		for ch := 0; ch < channels; ch++ {
			l := &p.lines[ch]
			l.push(data[i+ch])
			data[i+ch] = gainA*l.readFrac(delayA) + gainB*l.readFrac(delayB)
		}

		p.phase += step
		if p.phase >= 1 {
			p.phase--
		} else if p.phase < 0 {
			p.phase++
		}
	}
}

func (p *PitchShift) Reset() {
	for ch := range p.lines {
		p.lines[ch].reset()
	}
	p.phase = 0
}

func (p *PitchShift) Release() {
	p.lines = nil
}
