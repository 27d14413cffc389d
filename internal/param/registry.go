// SPDX-License-Identifier: MIT
package param

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownParameter is returned when a stage or parameter id is not registered.
var ErrUnknownParameter = errors.New("param: unknown parameter")

// Provider is implemented by anything that owns slots, typically a stage.
type Provider interface {
	ID() string
	Params() []*Slot
}

// Info is a point-in-time view of one parameter, used for UI sync.
type Info struct {
	Stage   string  `json:"stage"`
	Param   string  `json:"param"`
	Label   string  `json:"label,omitempty"`
	Unit    string  `json:"unit,omitempty"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Default float64 `json:"default"`
	Value   float64 `json:"value"`
}

type key struct {
	stage string
	param string
}

// Registry maps (stage, param) ids to slots. It is populated once by
// NewRegistry and is read-only afterwards, so lookups need no locking.
type Registry struct {
	slots map[key]*Slot
	order []key
}

// NewRegistry indexes the slots of every provider. Duplicate ids are an error.
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{slots: make(map[key]*Slot)}
	for _, p := range providers {
		for _, s := range p.Params() {
			k := key{stage: p.ID(), param: s.ID()}
			if _, exists := r.slots[k]; exists {
				return nil, fmt.Errorf("param: duplicate parameter %s.%s", k.stage, k.param)
			}
			r.slots[k] = s
			r.order = append(r.order, k)
		}
	}
	return r, nil
}

// Lookup returns the slot for stage and param.
func (r *Registry) Lookup(stage, param string) (*Slot, error) {
	s, ok := r.slots[key{stage: stage, param: param}]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownParameter, stage, param)
	}
	return s, nil
}

// Set clamps value into the parameter's range and stores it. It never
// blocks on the render path and returns the value actually stored.
func (r *Registry) Set(stage, param string, value float64) (float64, error) {
	s, err := r.Lookup(stage, param)
	if err != nil {
		return 0, err
	}
	stored, err := s.Store(value)
	if err != nil {
		return stored, fmt.Errorf("%s.%s: %w", stage, param, err)
	}
	return stored, nil
}

// Get returns the current value of a parameter.
func (r *Registry) Get(stage, param string) (float64, error) {
	s, err := r.Lookup(stage, param)
	if err != nil {
		return 0, err
	}
	return s.Load(), nil
}

// Reset restores every parameter to its default.
func (r *Registry) Reset() {
	for _, k := range r.order {
		r.slots[k].Reset()
	}
}

// Snapshot returns every parameter in registration order.
func (r *Registry) Snapshot() []Info {
	out := make([]Info, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, info(r.slots[k]))
	}
	return out
}

// Stages returns the registered stage ids, sorted.
func (r *Registry) Stages() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, k := range r.order {
		if _, ok := seen[k.stage]; ok {
			continue
		}
		seen[k.stage] = struct{}{}
		ids = append(ids, k.stage)
	}
	sort.Strings(ids)
	return ids
}

// Info describes a single parameter.
func (r *Registry) Info(stage, param string) (Info, error) {
	s, err := r.Lookup(stage, param)
	if err != nil {
		return Info{}, err
	}
	return info(s), nil
}

func info(s *Slot) Info {
	spec := s.Spec()
	return Info{
		Stage:   s.Stage(),
		Param:   spec.ID,
		Label:   spec.Label,
		Unit:    spec.Unit,
		Min:     spec.Min,
		Max:     spec.Max,
		Default: spec.Default,
		Value:   s.Load(),
	}
}
