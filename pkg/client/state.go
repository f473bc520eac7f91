// Package client implements the sender and receiver state machines that ride
// on the relay: metadata exchange, windowed chunk streaming, and batch
// completion.
package client

import "errors"

// State tracks a sender or receiver through its lifecycle. Error is reachable
// from any non-terminal state.
type State int

const (
	StateIdle State = iota
	StateAwaitingSession
	StateAwaitingPeer
	StateAwaitingMetadata
	StateSending
	StateReceiving
	StateCompleted
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingSession:
		return "awaiting-session"
	case StateAwaitingPeer:
		return "awaiting-peer"
	case StateAwaitingMetadata:
		return "awaiting-metadata"
	case StateSending:
		return "sending"
	case StateReceiving:
		return "receiving"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// TransferStatus labels one file in flight on the receiver.
type TransferStatus string

const (
	StatusPending      TransferStatus = "pending"
	StatusTransferring TransferStatus = "transferring"
	StatusCompleted    TransferStatus = "completed"
	StatusError        TransferStatus = "error"
)

var (
	ErrSessionNotFound   = errors.New("client: session not found")
	ErrSessionExpired    = errors.New("client: session expired")
	ErrPeerDisconnected  = errors.New("client: peer disconnected")
	ErrBadState          = errors.New("client: operation not valid in current state")
	ErrIntegrity         = errors.New("client: received bytes do not match declared size")
	ErrTransportClosed   = errors.New("client: transport closed")
)
