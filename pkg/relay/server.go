// Package relay wires the hub, session registry and protocol handling into
// the server process. Each accepted endpoint gets a connection identity, a
// read loop dispatching events, and a single writer goroutine draining a
// FIFO queue so per-recipient delivery order matches emission order.
package relay

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harshalgadre/file-share/pkg/config"
	"github.com/harshalgadre/file-share/pkg/hub"
	"github.com/harshalgadre/file-share/pkg/observability"
	"github.com/harshalgadre/file-share/pkg/protocol"
	"github.com/harshalgadre/file-share/pkg/protocol/codec"
	"github.com/harshalgadre/file-share/pkg/session"
	"github.com/harshalgadre/file-share/pkg/staging"
	"github.com/harshalgadre/file-share/pkg/transport"
)

// outboundDepth bounds a connection's delivery queue. A receiver that stops
// draining for this many events is closed rather than buffered without bound.
const outboundDepth = 512

type Server struct {
	cfg       *config.Config
	hub       *hub.Hub
	registry  *session.Registry
	artifacts *staging.Store
	codecs    *codec.Registry
}

// New assembles a relay from configuration. The staging store is optional
// and only created when enabled.
func New(cfg *config.Config) (*Server, error) {
	s := &Server{cfg: cfg, hub: hub.New(), codecs: codec.NewRegistry()}
	cb, err := codec.CBOR()
	if err != nil {
		return nil, err
	}
	s.codecs.Register(cb)

	if cfg.Staging.Enable {
		s.artifacts = staging.New(staging.Options{
			TTL:      cfg.Staging.TTL,
			MaxBytes: cfg.Staging.MaxBytes,
		})
	}
	s.registry = session.NewRegistry(session.Options{
		TTL:       cfg.Session.TTL,
		Sliding:   cfg.Session.ExpiryPolicy == config.ExpirySliding,
		Artifacts: s.artifacts,
	}, s.hub)
	observability.RegisterMetrics()
	return s, nil
}

// Registry exposes the session registry (used by tests and the HTTP surface).
func (s *Server) Registry() *session.Registry { return s.registry }

// Close releases background resources.
func (s *Server) Close() {
	if s.artifacts != nil {
		s.artifacts.Close()
	}
}

// ServeListener accepts endpoints until ctx is done or the listener fails.
func (s *Server) ServeListener(ctx context.Context, l transport.Listener) error {
	for {
		ep, err := l.Accept(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		go s.HandleEndpoint(ctx, ep)
	}
}

// HandleEndpoint runs one connection to completion: assign identity, pump
// the writer, dispatch inbound events, and on any transport error tear down
// every session the connection participated in.
func (s *Server) HandleEndpoint(ctx context.Context, ep transport.Endpoint) {
	c := newConn(ep, s.codecs)
	zap.L().Debug("connection open",
		zap.String("conn", c.id), zap.String("kind", ep.Kind().String()))

	go c.writeLoop()
	defer c.close()

	for {
		frame, err := ep.RecvBytes()
		if err != nil {
			s.disconnect(c)
			zap.L().Debug("connection closed", zap.String("conn", c.id), zap.Error(err))
			return
		}
		ev, err := c.decode(frame)
		if err != nil {
			observability.RecordProtocolError("generic")
			c.Deliver(protocol.Event{Type: protocol.TypeError, Message: "malformed event"})
			continue
		}
		s.dispatch(c, ev)
	}
}

// disconnect implements transport-level teardown: the connection leaves all
// rooms, sessions it owned are removed, and sessions it merely joined are
// torn down too since a transfer cannot survive losing either party.
func (s *Server) disconnect(c *conn) {
	rooms := s.hub.LeaveAll(c.id)
	owned := make(map[string]bool)
	for _, code := range s.registry.DisconnectOwner(c.id) {
		owned[code] = true
	}
	for _, room := range rooms {
		if !owned[room] && !s.registry.Exists(room) {
			continue
		}
		s.hub.Broadcast(room, "", protocol.Event{
			Type:    protocol.TypeError,
			Code:    room,
			Message: "peer disconnected",
		})
		if !owned[room] {
			s.registry.Teardown(room)
		}
	}
}

// conn couples an endpoint with its identity, negotiated codec and outbound
// queue. It satisfies hub.Member.
type conn struct {
	id     string
	ep     transport.Endpoint
	codecs *codec.Registry

	mu    sync.Mutex
	codec codec.Codec

	out       chan protocol.Event
	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(ep transport.Endpoint, codecs *codec.Registry) *conn {
	return &conn{
		id:     uuid.NewString(),
		ep:     ep,
		codecs: codecs,
		out:    make(chan protocol.Event, outboundDepth),
		closed: make(chan struct{}),
	}
}

func (c *conn) ID() string { return c.id }

// Deliver enqueues ev for the writer goroutine. A connection that lets its
// queue fill up is closed; the relay never buffers without bound.
func (c *conn) Deliver(ev protocol.Event) {
	select {
	case c.out <- ev:
	case <-c.closed:
	default:
		zap.L().Warn("slow consumer, dropping connection", zap.String("conn", c.id))
		c.close()
	}
}

func (c *conn) writeLoop() {
	for {
		select {
		case ev := <-c.out:
			b, err := c.activeCodec().Marshal(ev)
			if err != nil {
				zap.L().Warn("encode event", zap.String("conn", c.id), zap.Error(err))
				continue
			}
			if err := c.ep.SendBytes(b); err != nil {
				c.close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ep.Close()
	})
}

// decode negotiates the connection codec from the first frame: JSON is tried
// first, CBOR second, and whichever succeeds sticks for both directions.
func (c *conn) decode(frame []byte) (protocol.Event, error) {
	c.mu.Lock()
	active := c.codec
	c.mu.Unlock()

	var ev protocol.Event
	if active != nil {
		return ev, active.Unmarshal(frame, &ev)
	}
	j := c.codecs.Get("application/json")
	if err := j.Unmarshal(frame, &ev); err == nil {
		c.setCodec(j)
		return ev, nil
	}
	cb := c.codecs.Get("application/cbor")
	if cb != nil {
		if err := cb.Unmarshal(frame, &ev); err == nil {
			c.setCodec(cb)
			return ev, nil
		}
	}
	return ev, errors.New("relay: undecodable frame")
}

func (c *conn) setCodec(cd codec.Codec) {
	c.mu.Lock()
	c.codec = cd
	c.mu.Unlock()
}

func (c *conn) activeCodec() codec.Codec {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.codec != nil {
		return c.codec
	}
	return c.codecs.Get("application/json")
}
