// Package mem is an in-process transport using net.Pipe. Useful for tests and
// as a stand-in for a local loopback link.
package mem

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

// Network is a namespace of named in-process listeners. Dial and Listen on
// the same Network pair up through net.Pipe.
type Network struct {
	mu        sync.Mutex
	listeners map[string]*listener
}

func New() *Network { return &Network{listeners: make(map[string]*listener)} }

func (n *Network) Kind() transport.Kind { return transport.KindMem }

func (n *Network) Listen(ctx context.Context, name string) (transport.Listener, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.listeners[name]; ok {
		return nil, errors.New("mem: listener already exists")
	}
	l := &listener{name: name, newCh: make(chan *endpoint, 8), closeCh: make(chan struct{})}
	n.listeners[name] = l
	go func() {
		<-ctx.Done()
		_ = l.Close()
		n.mu.Lock()
		delete(n.listeners, name)
		n.mu.Unlock()
	}()
	return l, nil
}

func (n *Network) Dial(ctx context.Context, name string) (transport.Endpoint, error) {
	n.mu.Lock()
	l := n.listeners[name]
	n.mu.Unlock()
	if l == nil {
		return nil, errors.New("mem: no such listener")
	}
	c1, c2 := net.Pipe()
	srv := newEndpoint(c1)
	cli := newEndpoint(c2)
	select {
	case l.newCh <- srv:
	default:
		_ = srv.Close()
		_ = cli.Close()
		return nil, errors.New("mem: listener backlog full")
	}
	go func() { <-ctx.Done(); _ = cli.Close() }()
	return cli, nil
}

type listener struct {
	name    string
	newCh   chan *endpoint
	closeCh chan struct{}
}

func (l *listener) Addr() net.Addr { return memAddr(l.name) }

func (l *listener) Accept(ctx context.Context) (transport.Endpoint, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, errors.New("mem listener closed")
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
	return nil
}

type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

type endpoint struct {
	mu sync.Mutex
	c  net.Conn
	br *bufio.Reader
	bw *bufio.Writer
}

func newEndpoint(c net.Conn) *endpoint {
	return &endpoint{c: c, br: bufio.NewReader(c), bw: bufio.NewWriter(c)}
}

func (e *endpoint) Kind() transport.Kind { return transport.KindMem }
func (e *endpoint) RemoteAddr() net.Addr { return e.c.RemoteAddr() }
func (e *endpoint) Close() error         { return e.c.Close() }

// Frames are length-prefixed (u32 LE).
func (e *endpoint) SendBytes(b []byte) error {
	if len(b) > transport.MaxFrameSize {
		return errors.New("mem: frame too large")
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
