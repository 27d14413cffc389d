// SPDX-License-Identifier: MIT
/*
Package param implements the parameter slots that connect the control
context to the render context.

A Slot holds one float64 stored as its IEEE-754 bit pattern in an
atomic.Uint64, so a write from the control context and a read from the
render callback never block and never observe a torn value. Writes are
clamped to the slot's declared range before they are stored, which means
the render path only ever sees valid values.

Stages own their slots. The Registry holds non-owning references keyed
by stage and parameter id and is the only way the control surface
touches a running graph.
*/
package param

import (
	"errors"
	"math"
	"sync/atomic"
)

// ErrInvalidValue is returned for values that cannot be clamped (NaN).
var ErrInvalidValue = errors.New("param: invalid value")

// Spec declares a parameter: its id, unit, valid range and default.
type Spec struct {
	ID      string
	Label   string
	Unit    string
	Min     float64
	Max     float64
	Default float64
	// Step, when non-zero, quantizes stored values (preset indices use 1).
	Step float64
}

// Slot is a single atomically readable and writable scalar.
type Slot struct {
	spec  Spec
	stage string
	bits  atomic.Uint64
}

// NewSlot creates a slot initialised to the spec default. The default is
// itself clamped so a malformed spec cannot leak an invalid value.
func NewSlot(stage string, spec Spec) *Slot {
	if spec.Min > spec.Max {
		spec.Min, spec.Max = spec.Max, spec.Min
	}
	s := &Slot{spec: spec, stage: stage}
	s.bits.Store(math.Float64bits(s.clamp(spec.Default)))
	return s
}

// ID returns the parameter id.
func (s *Slot) ID() string { return s.spec.ID }

// Stage returns the id of the owning stage.
func (s *Slot) Stage() string { return s.stage }

// Spec returns the declared range and default.
func (s *Slot) Spec() Spec { return s.spec }

// Load returns the current value. Safe on the render path.
func (s *Slot) Load() float64 {
	return math.Float64frombits(s.bits.Load())
}

// Store clamps v into the declared range and stores it atomically,
// returning the value that was stored.
func (s *Slot) Store(v float64) (float64, error) {
	if math.IsNaN(v) {
		return s.Load(), ErrInvalidValue
	}
	v = s.clamp(v)
	s.bits.Store(math.Float64bits(v))
	return v, nil
}

// Reset restores the default value.
func (s *Slot) Reset() {
	s.bits.Store(math.Float64bits(s.clamp(s.spec.Default)))
}

func (s *Slot) clamp(v float64) float64 {
	if s.spec.Step > 0 {
		v = s.spec.Min + math.Round((v-s.spec.Min)/s.spec.Step)*s.spec.Step
	}
	if v < s.spec.Min {
		return s.spec.Min
	}
	if v > s.spec.Max {
		return s.spec.Max
	}
	return v
}
