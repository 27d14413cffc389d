// SPDX-License-Identifier: MIT
/*
Package ring hands audio blocks from the render callback to a consumer
goroutine without locks or allocation.

Blocks is a single-producer/single-consumer queue of pre-allocated
buffers. The render callback is the only producer and never waits: when
the consumer falls behind, Push drops the block and counts it, so a slow
disk or analyzer can never add latency to playback.
*/
package ring

import (
	"sync/atomic"

	"livefx/internal/dsp"
	"livefx/pkg/bitint"
)

// Blocks is a bounded SPSC queue of audio blocks.
type Blocks struct {
	slots []*dsp.Buffer
	mask  uint64

	head    atomic.Uint64 // next slot to write, owned by the producer
	tail    atomic.Uint64 // next slot to read, owned by the consumer
	dropped atomic.Uint64

	notify chan struct{}
}

// NewBlocks allocates capacity (rounded up to a power of two) blocks of
// format f.
func NewBlocks(f dsp.Format, capacity int) *Blocks {
	size := bitint.NextPowerOfTwo(capacity)
	b := &Blocks{
		slots:  make([]*dsp.Buffer, size),
		mask:   uint64(bitint.Mask(size)),
		notify: make(chan struct{}, 1),
	}
	for i := range b.slots {
		b.slots[i] = dsp.NewBuffer(f)
	}
	return b
}

// Push copies buf into the next free slot. It returns false, and counts a
// drop, when the queue is full. Producer side only.
func (b *Blocks) Push(buf *dsp.Buffer) bool {
	head := b.head.Load()
	if head-b.tail.Load() > b.mask {
		b.dropped.Add(1)
		return false
	}
	b.slots[head&b.mask].CopyFrom(buf)
	b.head.Store(head + 1)

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return true
}

// Pop copies the oldest block into dst. It returns false when empty.
// Consumer side only.
func (b *Blocks) Pop(dst *dsp.Buffer) bool {
	tail := b.tail.Load()
	if tail == b.head.Load() {
		return false
	}
	dst.CopyFrom(b.slots[tail&b.mask])
	b.tail.Store(tail + 1)
	return true
}

// Len returns the number of queued blocks.
func (b *Blocks) Len() int {
	return int(b.head.Load() - b.tail.Load())
}

// Cap returns the number of slots.
func (b *Blocks) Cap() int {
	return len(b.slots)
}

// Dropped returns the number of blocks rejected because the queue was full.
func (b *Blocks) Dropped() uint64 {
	return b.dropped.Load()
}

// Ready is signalled (coalesced) after every successful Push.
func (b *Blocks) Ready() <-chan struct{} {
	return b.notify
}
