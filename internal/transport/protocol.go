// SPDX-License-Identifier: MIT
package transport

import (
	"livefx/internal/engine"
	"livefx/internal/param"
)

// Request types sent by clients.
const (
	TypeSet      = "set"
	TypeGet      = "get"
	TypeSnapshot = "snapshot"
	TypeReset    = "reset"
	TypeStart    = "start"
	TypeStop     = "stop"
	TypeStatus   = "status"
)

// Message types sent by the server, in addition to TypeSnapshot and
// analysis telemetry.
const (
	TypeParam = "param"
	TypeState = "state"
	TypeError = "error"
)

// Request is a client message.
type Request struct {
	Type  string   `json:"type"`
	Stage string   `json:"stage,omitempty"`
	Param string   `json:"param,omitempty"`
	Value *float64 `json:"value,omitempty"`
}

// ParamMessage reports the stored value of one parameter.
type ParamMessage struct {
	Type string `json:"type"`
	param.Info
}

// SnapshotMessage lists every parameter.
type SnapshotMessage struct {
	Type   string       `json:"type"`
	Params []param.Info `json:"params"`
}

// StateMessage reports the engine state and counters.
type StateMessage struct {
	Type  string       `json:"type"`
	State engine.State `json:"state"`
	Stats engine.Stats `json:"stats"`
}

// ErrorMessage reports a failed request to the client that sent it.
type ErrorMessage struct {
	Type    string `json:"type"`
	Request string `json:"request,omitempty"`
	Error   string `json:"error"`
}
