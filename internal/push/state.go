// Trackgate - Resilient Client Access Layer for GPS Tracking Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackgate

package push

// State is the push channel's connection lifecycle state.
type State int32

const (
	// StateDisconnected means no connection exists and none is being made.
	StateDisconnected State = iota

	// StateConnecting means the initial session bootstrap and handshake
	// are in progress.
	StateConnecting

	// StateConnected means the socket is established and frames flow.
	StateConnected

	// StateReconnecting means the connection dropped and recovery attempts
	// are running.
	StateReconnecting

	// StateError means reconnection attempts were exhausted. Terminal
	// until Connect is called again.
	StateError
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
