// SPDX-License-Identifier: MIT
package dsp

import (
	vecmath "github.com/cwbudde/algo-vecmath"

	"livefx/internal/param"
)

// Mixer is the output stage: gain, balance (stereo only) and a hard clip
// that keeps every output sample within [-1, 1].
type Mixer struct {
	gain *param.Slot
	pan  *param.Slot

	// gains holds one multiplier per interleaved sample, rebuilt only when
	// gain or pan change, so the hot loop is a single vector multiply.
	gains    []float64
	channels int
	lastGain float64
	lastPan  float64
}

// NewMixer creates a mixer at 0.5 gain, centred.
func NewMixer() *Mixer {
	return &Mixer{
		gain: param.NewSlot(StageMixer, param.Spec{
			ID: "gain", Label: "Volume",
			Min: 0, Max: 1, Default: 0.5,
		}),
		pan: param.NewSlot(StageMixer, param.Spec{
			ID: "pan", Label: "Pan",
			Min: -1, Max: 1, Default: 0,
		}),
	}
}

func (m *Mixer) ID() string { return StageMixer }

func (m *Mixer) Params() []*param.Slot { return []*param.Slot{m.gain, m.pan} }

// Gain returns the output gain slot.
func (m *Mixer) Gain() *param.Slot { return m.gain }

// Pan returns the balance slot, -1 (left) to 1 (right).
func (m *Mixer) Pan() *param.Slot { return m.pan }

func (m *Mixer) Configure(f Format) error {
	if err := checkFormat(StageMixer, f); err != nil {
		return err
	}
	m.channels = f.Channels
	m.gains = make([]float64, f.Samples())
	m.fill(m.gain.Load(), m.pan.Load())
	return nil
}

// Snapshot rebuilds the gain vector when gain or pan changed.
func (m *Mixer) Snapshot() {
	if m.gains == nil {
		return
	}
	if gain, pan := m.gain.Load(), m.pan.Load(); gain != m.lastGain || pan != m.lastPan {
		m.fill(gain, pan)
	}
}

func (m *Mixer) Process(buf *Buffer) {
	if m.channels != buf.Channels || m.gains == nil {
		return
	}

	data := buf.Data()
	vecmath.MulBlockInPlace(data, m.gains[:len(data)])

	for i, s := range data {
		if s > 1 {
			data[i] = 1
		} else if s < -1 {
			data[i] = -1
		}
	}
}

func (m *Mixer) fill(gain, pan float64) {
	m.lastGain, m.lastPan = gain, pan
	if m.channels == 1 {
		for i := range m.gains {
			m.gains[i] = gain
		}
		return
	}
	left, right := gain, gain
	if pan > 0 {
		left *= 1 - pan
	} else if pan < 0 {
		right *= 1 + pan
	}
	for i := 0; i+1 < len(m.gains); i += 2 {
		m.gains[i] = left
		m.gains[i+1] = right
	}
}

func (m *Mixer) Reset() {}

func (m *Mixer) Release() {
	m.gains = nil
	m.channels = 0
}
