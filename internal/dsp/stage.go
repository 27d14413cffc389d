// SPDX-License-Identifier: MIT
package dsp

import (
	"fmt"

	"livefx/internal/param"
)

// Stage IDs of the standard chain.
const (
	StagePitch  = "pitch"
	StageReverb = "reverb"
	StageDelay  = "delay"
	StageMixer  = "mixer"
)

// Stage is one unit of the effect chain. Process transforms the buffer in
// place and must be real-time safe: bounded time proportional to the
// buffer size, no allocation, no I/O, no blocking.
type Stage interface {
	ID() string
	// Configure prepares the stage for f, allocating all state. It fails
	// with ErrFormatUnsupported when the stage cannot run at f.
	Configure(f Format) error
	// Snapshot loads the stage's parameters for the next Process. The
	// chain snapshots every stage before any stage processes a buffer, so
	// a whole buffer sees one set of values.
	Snapshot()
	// Process transforms buf with the values of the last Snapshot.
	Process(buf *Buffer)
	// Reset clears signal history (delay lines, filter state).
	Reset()
	// Release frees the state allocated by Configure.
	Release()
	Params() []*param.Slot
}

// checkFormat is the shared Configure precondition of the built-in stages.
func checkFormat(stage string, f Format) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("%s: %w", stage, err)
	}
	return nil
}
