// Package ws adapts a gorilla websocket connection to the Endpoint interface.
// One websocket message carries one frame; text and binary messages are both
// accepted so JSON and CBOR codecs interoperate.
package ws

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/harshalgadre/file-share/pkg/transport"
)

type Dialer struct {
	d *websocket.Dialer
}

func New() *Dialer { return &Dialer{d: websocket.DefaultDialer} }

func (d *Dialer) Kind() transport.Kind { return transport.KindWS }

// Dial connects to a ws:// or wss:// URL.
func (d *Dialer) Dial(ctx context.Context, address string) (transport.Endpoint, error) {
	c, resp, err := d.d.DialContext(ctx, address, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return Wrap(c), nil
}

// Wrap adapts an established websocket connection (either side of the
// upgrade) into an Endpoint.
func Wrap(c *websocket.Conn) transport.Endpoint {
	c.SetReadLimit(transport.MaxFrameSize)
	return &endpoint{c: c}
}

type endpoint struct {
	mu sync.Mutex
	c  *websocket.Conn
}

func (e *endpoint) Kind() transport.Kind { return transport.KindWS }
func (e *endpoint) RemoteAddr() net.Addr { return e.c.RemoteAddr() }

func (e *endpoint) SendBytes(b []byte) error {
	if len(b) > transport.MaxFrameSize {
		return errors.New("ws: frame too large")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.c.WriteMessage(websocket.BinaryMessage, b)
}

func (e *endpoint) RecvBytes() ([]byte, error) {
	for {
		mt, data, err := e.c.ReadMessage()
		if err != nil {
			return nil, err
		}
		switch mt {
		case websocket.BinaryMessage, websocket.TextMessage:
			return data, nil
		default:
			// control frames are handled by gorilla; skip anything else
		}
	}
}

func (e *endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.c.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return e.c.Close()
}
