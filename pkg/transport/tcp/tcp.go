// Package tcp implements a stream transport with length-prefixed frames
// (u32 LE), matching the mem transport's framing.
package tcp

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/harshalgadre/file-share/pkg/transport"
)

type Dialer struct{}

func New() *Dialer { return &Dialer{} }

func (d *Dialer) Kind() transport.Kind { return transport.KindTCP }

func (d *Dialer) Dial(ctx context.Context, address string) (transport.Endpoint, error) {
	nd := &net.Dialer{}
	c, err := nd.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	e := newEndpoint(c)
	go func() { <-ctx.Done(); _ = e.Close() }()
	return e, nil
}

// Listen starts accepting inbound endpoints on address.
func Listen(ctx context.Context, address string) (transport.Listener, error) {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	tl := &listener{l: l, newCh: make(chan *endpoint, 8), closeCh: make(chan struct{})}
	go tl.acceptLoop()
	go func() { <-ctx.Done(); _ = tl.Close() }()
	return tl, nil
}

type listener struct {
	l       net.Listener
	newCh   chan *endpoint
	closeCh chan struct{}
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

func (l *listener) Accept(ctx context.Context) (transport.Endpoint, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, errors.New("tcp listener closed")
	case e := <-l.newCh:
		return e, nil
	}
}

func (l *listener) Close() error {
	select {
	case <-l.closeCh:
	default:
		close(l.closeCh)
	}
	return l.l.Close()
}

func (l *listener) acceptLoop() {
	for {
		c, err := l.l.Accept()
		if err != nil {
			return
		}
		e := newEndpoint(c)
		select {
		case l.newCh <- e:
		default:
			_ = e.Close()
		}
	}
}

type endpoint struct {
	mu sync.Mutex
	c  net.Conn
	br *bufio.Reader
	bw *bufio.Writer
}

func newEndpoint(c net.Conn) *endpoint {
	return &endpoint{c: c, br: bufio.NewReader(c), bw: bufio.NewWriter(c)}
}

func (e *endpoint) Kind() transport.Kind { return transport.KindTCP }
func (e *endpoint) RemoteAddr() net.Addr { return e.c.RemoteAddr() }
func (e *endpoint) Close() error         { return e.c.Close() }

func (e *endpoint) SendBytes(b []byte) error {
	if len(b) > transport.MaxFrameSize {
		return errors.New("tcp: frame too large")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(b)))
	if _, err := e.bw.Write(lenbuf[:]); err != nil {
		return err
	}
	if _, err := e.bw.Write(b); err != nil {
		return err
	}
	return e.bw.Flush()
}

func (e *endpoint) RecvBytes() ([]byte, error) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(e.br, lenbuf[:]); err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint32(lenbuf[:]))
	if n < 0 || n > transport.MaxFrameSize {
		return nil, errors.New("invalid frame size")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(e.br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
