// Package transport defines the endpoint abstraction the relay and clients
// ride on, and provides implementations (ws, tcp, mem).
//
// Key concepts:
// - Endpoint: a bidirectional frame connection; one frame carries one encoded
//   protocol event. Delivery preserves per-endpoint send order (FIFO).
// - Listener: accepts inbound Endpoints.
// - Dialer: creates outbound Endpoints of a specific Kind.
package transport

import (
	"context"
	"net"
)

// Kind identifies the link type.
type Kind int

const (
	KindUnknown Kind = iota
	KindWS
	KindTCP
	KindMem
)

func (k Kind) String() string {
	switch k {
	case KindWS:
		return "ws"
	case KindTCP:
		return "tcp"
	case KindMem:
		return "mem"
	default:
		return "unknown"
	}
}

// MaxFrameSize bounds one encoded event. Chunks are 64 KiB of payload plus
// envelope overhead, so 1 MiB leaves ample headroom even for JSON base64.
const MaxFrameSize = 1 << 20

// Endpoint is a bidirectional frame connection.
// Exactly one reader and one writer goroutine are expected.
type Endpoint interface {
	// SendBytes sends one frame as opaque bytes (an encoded protocol event).
	SendBytes([]byte) error
	// RecvBytes receives the next frame and returns its bytes.
	RecvBytes() ([]byte, error)
	// Kind reports the underlying link type.
	Kind() Kind
	// RemoteAddr returns the remote address, or nil when not applicable.
	RemoteAddr() net.Addr
	Close() error
}

// Listener accepts inbound endpoints.
type Listener interface {
	// Accept blocks until an inbound endpoint is available or ctx is done.
	Accept(ctx context.Context) (Endpoint, error)
	// Addr returns the local listening address.
	Addr() net.Addr
	// Close stops the listener and unblocks Accept.
	Close() error
}

// Dialer creates outbound endpoints for a specific link kind.
type Dialer interface {
	Kind() Kind
	// Dial creates an outbound endpoint to address (kind-specific format).
	Dial(ctx context.Context, address string) (Endpoint, error)
}
