// SPDX-License-Identifier: MIT
// Package observe exports engine counters as OpenTelemetry metrics.
//
// Every instrument is observable: values are read from Engine.Stats and the
// taps' drop counters when a reader collects, so the render path does no
// metrics work at all.
package observe

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"livefx/internal/engine"
)

// meterName is the instrumentation scope of all livefx metrics.
const meterName = "livefx"

// StatsSource is implemented by *engine.Engine.
type StatsSource interface {
	Stats() engine.Stats
}

// Dropper is a tap that counts blocks it had to drop.
type Dropper interface {
	Dropped() uint64
}

// Metrics holds the observable instruments and their callback registration.
type Metrics struct {
	buffersIn  metric.Int64ObservableCounter
	buffersOut metric.Int64ObservableCounter
	dropped    metric.Int64ObservableCounter
	overruns   metric.Int64ObservableCounter
	xruns      metric.Int64ObservableCounter
	faults     metric.Int64ObservableCounter
	lastRender metric.Float64ObservableGauge
	maxRender  metric.Float64ObservableGauge
	running    metric.Int64ObservableGauge
	tapDropped metric.Int64ObservableCounter

	src  StatsSource
	taps map[string]Dropper
	reg  metric.Registration
}

// NewMetrics creates the instruments on mp and registers a callback that
// reads src and taps on every collection.
func NewMetrics(mp metric.MeterProvider, src StatsSource, taps map[string]Dropper) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{src: src, taps: taps}

	var err error
	counter := func(name, desc string) metric.Int64ObservableCounter {
		if err != nil {
			return nil
		}
		var c metric.Int64ObservableCounter
		c, err = meter.Int64ObservableCounter(name, metric.WithDescription(desc))
		return c
	}
	gauge := func(name, desc string) metric.Float64ObservableGauge {
		if err != nil {
			return nil
		}
		var g metric.Float64ObservableGauge
		g, err = meter.Float64ObservableGauge(name, metric.WithDescription(desc), metric.WithUnit("s"))
		return g
	}

	m.buffersIn = counter("livefx.engine.buffers_in", "Blocks received from the capture device while running.")
	m.buffersOut = counter("livefx.engine.buffers_out", "Blocks processed and returned to the playback device.")
	m.dropped = counter("livefx.engine.dropped", "Blocks silenced because a render was already in flight.")
	m.overruns = counter("livefx.engine.overruns", "Renders that took longer than the buffer period.")
	m.xruns = counter("livefx.engine.xruns", "Device-reported input overflows and output underflows.")
	m.faults = counter("livefx.engine.faults", "Device faults that stopped the engine.")
	m.tapDropped = counter("livefx.tap.dropped", "Blocks a tap dropped because its consumer fell behind.")
	m.lastRender = gauge("livefx.engine.render.last", "Duration of the most recent render.")
	m.maxRender = gauge("livefx.engine.render.max", "Slowest render so far.")
	if err != nil {
		return nil, fmt.Errorf("observe: create instrument: %w", err)
	}
	m.running, err = meter.Int64ObservableGauge("livefx.engine.running",
		metric.WithDescription("1 while the engine is running."))
	if err != nil {
		return nil, fmt.Errorf("observe: create instrument: %w", err)
	}

	m.reg, err = meter.RegisterCallback(m.observe,
		m.buffersIn, m.buffersOut, m.dropped, m.overruns, m.xruns, m.faults,
		m.lastRender, m.maxRender, m.running, m.tapDropped)
	if err != nil {
		return nil, fmt.Errorf("observe: register callback: %w", err)
	}
	return m, nil
}

func (m *Metrics) observe(_ context.Context, o metric.Observer) error {
	s := m.src.Stats()
	o.ObserveInt64(m.buffersIn, int64(s.BuffersIn))
	o.ObserveInt64(m.buffersOut, int64(s.BuffersOut))
	o.ObserveInt64(m.dropped, int64(s.Dropped))
	o.ObserveInt64(m.overruns, int64(s.Overruns))
	o.ObserveInt64(m.xruns, int64(s.XRuns))
	o.ObserveInt64(m.faults, int64(s.Faults))
	o.ObserveFloat64(m.lastRender, s.LastRender.Seconds())
	o.ObserveFloat64(m.maxRender, s.MaxRender.Seconds())

	var running int64
	if s.State == engine.Running {
		running = 1
	}
	o.ObserveInt64(m.running, running)

	for name, tap := range m.taps {
		o.ObserveInt64(m.tapDropped, int64(tap.Dropped()), metric.WithAttributes(attribute.String("tap", name)))
	}
	return nil
}

// Close unregisters the callback.
func (m *Metrics) Close() error {
	return m.reg.Unregister()
}
