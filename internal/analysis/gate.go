// SPDX-License-Identifier: MIT
package analysis

import "livefx/internal/param"

// Gate skips spectral analysis while the output is quieter than a
// threshold, so silence does not produce a random dominant frequency.
// The threshold is a peak amplitude in the range 0.0-1.0 where 0 means
// always open and 1 effectively always closed.
type Gate struct {
	threshold *param.Slot
}

// NewGate creates a gate with the given threshold.
func NewGate(threshold float64) *Gate {
	return &Gate{
		threshold: param.NewSlot("analysis", param.Spec{
			ID: "gate", Label: "Gate", Min: 0, Max: 1, Default: threshold,
		}),
	}
}

// SetThreshold adjusts the threshold, clamped to 0.0-1.0. Safe from any
// goroutine.
func (g *Gate) SetThreshold(threshold float64) {
	_, _ = g.threshold.Store(threshold)
}

// Threshold returns the current threshold.
func (g *Gate) Threshold() float64 {
	return g.threshold.Load()
}

// Open reports whether a block with the given peak passes the gate.
func (g *Gate) Open(peak float64) bool {
	t := g.threshold.Load()
	return t == 0 || peak >= t
}
