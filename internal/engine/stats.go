// SPDX-License-Identifier: MIT
package engine

import (
	"sync/atomic"
	"time"
)

// Stats is a snapshot of the engine's render counters.
type Stats struct {
	State      State         `json:"state"`
	BuffersIn  uint64        `json:"buffers_in"`  // blocks received while running
	BuffersOut uint64        `json:"buffers_out"` // blocks processed and handed back to the device
	Dropped    uint64        `json:"dropped"`     // blocks silenced: re-entrant or malformed
	Overruns   uint64        `json:"overruns"`    // renders slower than the buffer period
	XRuns      uint64        `json:"xruns"`       // device-reported overruns and underruns
	Faults     uint64        `json:"faults"`
	LastRender time.Duration `json:"last_render_ns"`
	MaxRender  time.Duration `json:"max_render_ns"` // slowest render since the engine was created
}

type counters struct {
	in, out, dropped, overruns, faults atomic.Uint64
	last, max                          atomic.Int64
}

// record updates the timing counters. Render path.
func (c *counters) record(elapsed, period time.Duration) {
	c.last.Store(int64(elapsed))
	for {
		cur := c.max.Load()
		if int64(elapsed) <= cur || c.max.CompareAndSwap(cur, int64(elapsed)) {
			break
		}
	}
	if period > 0 && elapsed > period {
		c.overruns.Add(1)
	}
}

// Stats returns a snapshot of the counters. Safe to call at any time from
// any goroutine; it never touches the render path.
func (e *Engine) Stats() Stats {
	return Stats{
		State:      e.State(),
		BuffersIn:  e.stats.in.Load(),
		BuffersOut: e.stats.out.Load(),
		Dropped:    e.stats.dropped.Load(),
		Overruns:   e.stats.overruns.Load(),
		XRuns:      e.xruns(),
		Faults:     e.stats.faults.Load(),
		LastRender: time.Duration(e.stats.last.Load()),
		MaxRender:  time.Duration(e.stats.max.Load()),
	}
}
