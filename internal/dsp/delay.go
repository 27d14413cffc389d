// SPDX-License-Identifier: MIT
package dsp

import (
	"math"

	"livefx/internal/param"
)

const delayMaxSeconds = 0.5

// Delay is a feedback echo: a circular buffer per channel tapped at the
// delay time, with a one-pole low-pass in the feedback path so repeats
// darken as they decay. A delay time of zero passes the dry signal.
type Delay struct {
	time     *param.Slot
	feedback *param.Slot
	mix      *param.Slot
	lowpass  *param.Slot

	sampleRate float64
	lines      []line
	lpState    []float64

	lastCutoff float64
	lpCoeff    float64

	// Values of the last Snapshot.
	seconds float64
	fb      float64
	wet     float64
}

// NewDelay creates a delay with a zero delay time.
func NewDelay() *Delay {
	return &Delay{
		time: param.NewSlot(StageDelay, param.Spec{
			ID: "time", Label: "Delay", Unit: "s",
			Min: 0, Max: delayMaxSeconds, Default: 0,
		}),
		feedback: param.NewSlot(StageDelay, param.Spec{
			ID: "feedback", Label: "Feedback", Unit: "%",
			Min: 0, Max: 90, Default: 50,
		}),
		mix: param.NewSlot(StageDelay, param.Spec{
			ID: "mix", Label: "Echo mix", Unit: "%",
			Min: 0, Max: 100, Default: 50,
		}),
		lowpass: param.NewSlot(StageDelay, param.Spec{
			ID: "lowpass", Label: "Echo tone", Unit: "Hz",
			Min: 10, Max: 20000, Default: 15000,
		}),
	}
}

func (d *Delay) ID() string { return StageDelay }

func (d *Delay) Params() []*param.Slot {
	return []*param.Slot{d.time, d.feedback, d.mix, d.lowpass}
}

// Time returns the delay time slot (seconds).
func (d *Delay) Time() *param.Slot { return d.time }

// Feedback returns the feedback slot (percent).
func (d *Delay) Feedback() *param.Slot { return d.feedback }

// Mix returns the wet/dry slot (percent).
func (d *Delay) Mix() *param.Slot { return d.mix }

// Lowpass returns the feedback low-pass cutoff slot (Hz).
func (d *Delay) Lowpass() *param.Slot { return d.lowpass }

func (d *Delay) Configure(f Format) error {
	if err := checkFormat(StageDelay, f); err != nil {
		return err
	}
	d.sampleRate = f.SampleRate
	maxSamples := int(math.Ceil(delayMaxSeconds*f.SampleRate)) + 1
	d.lines = make([]line, f.Channels)
	for ch := range d.lines {
		d.lines[ch] = newLine(maxSamples)
	}
	d.lpState = make([]float64, f.Channels)
	d.lastCutoff = 0
	d.Snapshot()
	return nil
}

func (d *Delay) Snapshot() {
	d.seconds = d.time.Load()
	d.fb = d.feedback.Load() / 100
	d.wet = d.mix.Load() / 100
	if cutoff := d.lowpass.Load(); cutoff != d.lastCutoff && d.sampleRate > 0 {
		d.lastCutoff = cutoff
		d.lpCoeff = onePoleCoeff(cutoff, d.sampleRate)
	}
}

func (d *Delay) Process(buf *Buffer) {
	if len(d.lines) != buf.Channels {
		return
	}

	seconds, fb, mix := d.seconds, d.fb, d.wet
	data := buf.Data()
	channels := buf.Channels
	samples := int(math.Round(seconds * d.sampleRate))

	if samples == 0 {
		for i := 0; i < len(data); i += channels {
			for ch := 0; ch < channels; ch++ {
				d.lines[ch].push(data[i+ch])
			}
		}
		return
	}

	a := d.lpCoeff
	for i := 0; i < len(data); i += channels {
		for ch := 0; ch < channels; ch++ {
			l := &d.lines[ch]
			x := data[i+ch]
			delayed := l.read(samples - 1)
			d.lpState[ch] = delayed*(1-a) + d.lpState[ch]*a
			l.push(x + d.lpState[ch]*fb)
			data[i+ch] = x*(1-mix) + delayed*mix
		}
	}
}

func (d *Delay) Reset() {
	for ch := range d.lines {
		d.lines[ch].reset()
	}
	clear(d.lpState)
}

func (d *Delay) Release() {
	d.lines = nil
	d.lpState = nil
}

// onePoleCoeff returns the pole of a one-pole low-pass at cutoff Hz.
func onePoleCoeff(cutoff, sampleRate float64) float64 {
	if sampleRate <= 0 {
		return 0
	}
	nyquist := 0.49 * sampleRate
	if cutoff > nyquist {
		cutoff = nyquist
	}
	return math.Exp(-2 * math.Pi * cutoff / sampleRate)
}
