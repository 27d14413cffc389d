// SPDX-License-Identifier: MIT
/*
Package transport is the control surface of the engine.

A WebSocket server accepts JSON requests that change parameters and drive
the lifecycle, and broadcasts parameter changes, state changes and
analyzer telemetry to every connected client.
*/
package transport

import (
	"context"

	"livefx/internal/engine"
	"livefx/internal/param"
)

// Transport defines a generic interface for sending processed data or events.
// Implementations should be thread-safe.
type Transport interface {
	Send(data any) error
	Close() error
}

// Controller is the engine as seen by the control surface. *engine.Engine
// implements it.
type Controller interface {
	Registry() *param.Registry
	Start(ctx context.Context) error
	Stop() error
	Stats() engine.Stats
}

var _ Controller = (*engine.Engine)(nil)
