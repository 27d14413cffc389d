// SPDX-License-Identifier: MIT
package dsp

import (
	"errors"
	"fmt"

	"livefx/internal/param"
)

// Chain is an ordered, immutable sequence of stages. The order is fixed
// at construction and the stage list is never resized or reordered.
type Chain struct {
	stages   []Stage
	registry *param.Registry
}

// NewChain builds a chain from stages in processing order and indexes
// their parameters.
func NewChain(stages ...Stage) (*Chain, error) {
	if len(stages) == 0 {
		return nil, errors.New("dsp: chain needs at least one stage")
	}

	seen := make(map[string]struct{}, len(stages))
	providers := make([]param.Provider, 0, len(stages))
	for i, s := range stages {
		if s == nil {
			return nil, fmt.Errorf("dsp: stage %d is nil", i)
		}
		if _, dup := seen[s.ID()]; dup {
			return nil, fmt.Errorf("dsp: duplicate stage id %q", s.ID())
		}
		seen[s.ID()] = struct{}{}
		providers = append(providers, s)
	}

	registry, err := param.NewRegistry(providers...)
	if err != nil {
		return nil, err
	}

	return &Chain{
		stages:   append([]Stage(nil), stages...),
		registry: registry,
	}, nil
}

// NewStandardChain returns the pitch → reverb → delay → mixer chain with
// default parameters.
func NewStandardChain() *Chain {
	c, err := NewChain(NewPitchShift(), NewReverb(), NewDelay(), NewMixer())
	if err != nil {
		// Built-in stage ids are unique; this cannot fail.
		panic(err)
	}
	return c
}

// Registry returns the parameter registry for the chain's stages.
func (c *Chain) Registry() *param.Registry {
	return c.registry
}

// Stages returns the stages in processing order.
func (c *Chain) Stages() []Stage {
	return append([]Stage(nil), c.stages...)
}

// Len returns the number of stages.
func (c *Chain) Len() int {
	return len(c.stages)
}

// Configure calls Configure on every stage exactly once, in chain order.
// On the first failure, stages configured so far are released.
func (c *Chain) Configure(f Format) error {
	for i, s := range c.stages {
		if err := s.Configure(f); err != nil {
			for _, done := range c.stages[:i] {
				done.Release()
			}
			if !errors.Is(err, ErrFormatUnsupported) {
				err = fmt.Errorf("%w: %w", ErrFormatUnsupported, err)
			}
			return fmt.Errorf("configure stage %q: %w", s.ID(), err)
		}
	}
	return nil
}

// Process snapshots the parameters of every stage, then runs buf through
// the stages in order. Writes that land while buf is rendering take effect
// from the next buffer.
func (c *Chain) Process(buf *Buffer) {
	for _, s := range c.stages {
		s.Snapshot()
	}
	for _, s := range c.stages {
		s.Process(buf)
	}
}

// Reset clears the signal history of every stage.
func (c *Chain) Reset() {
	for _, s := range c.stages {
		s.Reset()
	}
}

// Release frees the state of every stage.
func (c *Chain) Release() {
	for _, s := range c.stages {
		s.Release()
	}
}
