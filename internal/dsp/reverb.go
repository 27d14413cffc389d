// SPDX-License-Identifier: MIT
package dsp

import (
	"math"

	"livefx/internal/param"
)

const (
	reverbNumCombs     = 8
	reverbNumAllpasses = 4

	reverbInputGain    = 0.015
	reverbWetScale     = 1.0
	reverbAllpassFB    = 0.5
	reverbStereoSpread = 23

	// Freeverb room scaling: comb feedback = room*reverbRoomScale + reverbRoomOffset.
	reverbRoomScale  = 0.28
	reverbRoomOffset = 0.7

	// Tunings are in samples at 44.1kHz and scaled to the configured rate.
	reverbTuningRate = 44100.0
)

var (
	reverbCombTuning    = [reverbNumCombs]int{1116, 1188, 1277, 1356, 1422, 1491, 1557, 1617}
	reverbAllpassTuning = [reverbNumAllpasses]int{556, 441, 341, 225}
)

// ReverbPreset is a factory room model.
type ReverbPreset struct {
	Name  string
	Room  float64 // 0..1, longer decay for larger values
	Damp  float64 // 0..1, high-frequency absorption
	Width float64 // 0..1, stereo width of the wet signal
}

// ReverbPresets lists the factory presets by index. Index 1 (medium room)
// is the default.
var ReverbPresets = []ReverbPreset{
	{Name: "small room", Room: 0.35, Damp: 0.60, Width: 0.6},
	{Name: "medium room", Room: 0.50, Damp: 0.50, Width: 0.8},
	{Name: "large room", Room: 0.65, Damp: 0.45, Width: 1.0},
	{Name: "medium hall", Room: 0.75, Damp: 0.40, Width: 1.0},
	{Name: "large hall", Room: 0.85, Damp: 0.35, Width: 1.0},
	{Name: "plate", Room: 0.70, Damp: 0.10, Width: 1.0},
	{Name: "medium chamber", Room: 0.60, Damp: 0.30, Width: 0.9},
	{Name: "large chamber", Room: 0.72, Damp: 0.30, Width: 1.0},
	{Name: "cathedral", Room: 0.95, Damp: 0.25, Width: 1.0},
	{Name: "large room 2", Room: 0.68, Damp: 0.55, Width: 1.0},
	{Name: "medium hall 2", Room: 0.78, Damp: 0.50, Width: 1.0},
	{Name: "medium hall 3", Room: 0.80, Damp: 0.20, Width: 1.0},
	{Name: "large hall 2", Room: 0.90, Damp: 0.45, Width: 1.0},
}

// DefaultReverbPreset is the index of the medium room preset.
const DefaultReverbPreset = 1

type reverbComb struct {
	buf      []float64
	index    int
	feedback float64
	dampA    float64
	dampB    float64
	store    float64
}

func (c *reverbComb) process(x float64) float64 {
	out := c.buf[c.index]
	c.store = out*c.dampB + c.store*c.dampA
	if math.Abs(c.store) < 1e-23 {
		c.store = 0
	}
	c.buf[c.index] = x + c.store*c.feedback
	c.index++
	if c.index >= len(c.buf) {
		c.index = 0
	}
	return out
}

type reverbAllpass struct {
	buf   []float64
	index int
}

func (a *reverbAllpass) process(x float64) float64 {
	bufOut := a.buf[a.index]
	out := bufOut - x
	a.buf[a.index] = x + bufOut*reverbAllpassFB
	a.index++
	if a.index >= len(a.buf) {
		a.index = 0
	}
	return out
}

type reverbChannel struct {
	combs   [reverbNumCombs]reverbComb
	allpass [reverbNumAllpasses]reverbAllpass
}

func newReverbChannel(scale float64, spread int) reverbChannel {
	var rc reverbChannel
	for i, n := range reverbCombTuning {
		rc.combs[i].buf = make([]float64, scaledTuning(n+spread, scale))
	}
	for i, n := range reverbAllpassTuning {
		rc.allpass[i].buf = make([]float64, scaledTuning(n+spread, scale))
	}
	return rc
}

func (rc *reverbChannel) process(x float64) float64 {
	var acc float64
	for i := range rc.combs {
		acc += rc.combs[i].process(x)
	}
	for i := range rc.allpass {
		acc = rc.allpass[i].process(acc)
	}
	return acc
}

func (rc *reverbChannel) setRoom(p ReverbPreset) {
	fb := p.Room*reverbRoomScale + reverbRoomOffset
	for i := range rc.combs {
		rc.combs[i].feedback = fb
		rc.combs[i].dampA = p.Damp
		rc.combs[i].dampB = 1 - p.Damp
	}
}

func (rc *reverbChannel) reset() {
	for i := range rc.combs {
		clear(rc.combs[i].buf)
		rc.combs[i].index = 0
		rc.combs[i].store = 0
	}
	for i := range rc.allpass {
		clear(rc.allpass[i].buf)
		rc.allpass[i].index = 0
	}
}

func scaledTuning(n int, scale float64) int {
	size := int(math.Round(float64(n) * scale))
	if size < 1 {
		size = 1
	}
	return size
}

// Reverb is an algorithmic Schroeder/Freeverb reverberator: eight damped
// feedback combs in parallel followed by four allpass diffusers per
// channel, blended with the dry signal by the mix parameter.
type Reverb struct {
	mix    *param.Slot
	preset *param.Slot

	channels   []reverbChannel
	lastPreset int
	wetMix     float64
}

// NewReverb creates a reverb on the medium room preset with a 0% mix.
func NewReverb() *Reverb {
	return &Reverb{
		mix: param.NewSlot(StageReverb, param.Spec{
			ID: "mix", Label: "Reverb", Unit: "%",
			Min: 0, Max: 100, Default: 0,
		}),
		preset: param.NewSlot(StageReverb, param.Spec{
			ID: "preset", Label: "Room", Unit: "index",
			Min: 0, Max: float64(len(ReverbPresets) - 1), Default: DefaultReverbPreset, Step: 1,
		}),
		lastPreset: -1,
	}
}

func (r *Reverb) ID() string { return StageReverb }

func (r *Reverb) Params() []*param.Slot { return []*param.Slot{r.mix, r.preset} }

// Mix returns the wet/dry mix slot (percent).
func (r *Reverb) Mix() *param.Slot { return r.mix }

// Preset returns the preset index slot.
func (r *Reverb) Preset() *param.Slot { return r.preset }

func (r *Reverb) Configure(f Format) error {
	if err := checkFormat(StageReverb, f); err != nil {
		return err
	}
	scale := f.SampleRate / reverbTuningRate
	r.channels = make([]reverbChannel, f.Channels)
	for ch := range r.channels {
		r.channels[ch] = newReverbChannel(scale, ch*reverbStereoSpread)
	}
	r.lastPreset = -1
	r.Snapshot()
	return nil
}

func (r *Reverb) Snapshot() {
	r.wetMix = r.mix.Load() / 100
	if preset := int(r.preset.Load()); preset != r.lastPreset && len(r.channels) > 0 {
		r.lastPreset = preset
		for ch := range r.channels {
			r.channels[ch].setRoom(ReverbPresets[preset])
		}
	}
}

func (r *Reverb) Process(buf *Buffer) {
	if len(r.channels) != buf.Channels || r.lastPreset < 0 {
		return
	}

	mix := r.wetMix
	preset := r.lastPreset

	data := buf.Data()
	wetGain := mix * reverbWetScale
	dryGain := 1 - mix

	if buf.Channels == 1 {
		rc := &r.channels[0]
		for i, x := range data {
			wet := rc.process(x * reverbInputGain)
			data[i] = x*dryGain + wet*wetGain
		}
		return
	}

	width := ReverbPresets[preset].Width
	wet1 := wetGain * (width/2 + 0.5)
	wet2 := wetGain * ((1 - width) / 2)
	left, right := &r.channels[0], &r.channels[1]
	for i := 0; i+1 < len(data); i += 2 {
		xl, xr := data[i], data[i+1]
		in := (xl + xr) * reverbInputGain
		wl := left.process(in)
		wr := right.process(in)
		data[i] = xl*dryGain + wl*wet1 + wr*wet2
		data[i+1] = xr*dryGain + wr*wet1 + wl*wet2
	}
}

func (r *Reverb) Reset() {
	for ch := range r.channels {
		r.channels[ch].reset()
	}
}

func (r *Reverb) Release() {
	r.channels = nil
	r.lastPreset = -1
}
