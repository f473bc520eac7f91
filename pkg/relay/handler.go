package relay

import (
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/harshalgadre/file-share/pkg/observability"
	"github.com/harshalgadre/file-share/pkg/protocol"
	"github.com/harshalgadre/file-share/pkg/staging"
)

// dispatch routes one inbound event. The relay validates shape and the file
// size ceiling; chunk payloads pass through opaque.
func (s *Server) dispatch(c *conn, ev protocol.Event) {
	if err := ev.Validate(); err != nil {
		kind := "generic"
		if errors.Is(err, protocol.ErrFileTooLarge) {
			kind = "validation"
		}
		observability.RecordProtocolError(kind)
		c.Deliver(protocol.Event{Type: protocol.TypeError, Message: err.Error()})
		return
	}

	switch ev.Type {
	case protocol.TypeCreateSession:
		s.registry.Create(ev.Code, c.id)
		s.hub.Join(ev.Code, c)
		c.Deliver(protocol.Event{Type: protocol.TypeSessionCreated, Code: ev.Code})

	case protocol.TypeJoinSession:
		if !s.registry.Join(ev.Code) {
			observability.RecordProtocolError("session")
			c.Deliver(protocol.Event{Type: protocol.TypeInvalidSession, Code: ev.Code})
			return
		}
		s.hub.Join(ev.Code, c)
		s.hub.Broadcast(ev.Code, c.id, protocol.Event{Type: protocol.TypeReceiverJoined, Code: ev.Code})

	case protocol.TypeFileMeta:
		// the size ceiling was enforced by Validate above; an oversized
		// declaration never reaches the room
		if ev.Code == "" || !s.registry.Exists(ev.Code) {
			observability.RecordProtocolError("session")
			c.Deliver(protocol.Event{Type: protocol.TypeInvalidSession, Code: ev.Code})
			return
		}
		s.stageManifest(ev)
		s.registry.Touch(ev.Code)
		s.hub.Broadcast(ev.Code, c.id, ev)

	case protocol.TypeFileChunk:
		if ev.Code == "" {
			observability.RecordProtocolError("session")
			c.Deliver(protocol.Event{Type: protocol.TypeInvalidSession})
			return
		}
		observability.RecordRelayedChunk(len(ev.Chunk.Data))
		s.registry.Touch(ev.Code)
		s.hub.Broadcast(ev.Code, c.id, ev)

	case protocol.TypeChunkAck, protocol.TypeFileComplete:
		if ev.Code == "" {
			observability.RecordProtocolError("session")
			c.Deliver(protocol.Event{Type: protocol.TypeInvalidSession})
			return
		}
		s.hub.Broadcast(ev.Code, c.id, ev)

	case protocol.TypeTransferComplete:
		s.hub.Broadcast(ev.Code, c.id, ev)
		s.registry.Teardown(ev.Code)

	case protocol.TypeError:
		// a client abandoning a transfer (for example an oversized file
		// caught before any metadata) tells its peer through the room
		if ev.Code == "" {
			return
		}
		observability.RecordProtocolError("client")
		s.hub.Broadcast(ev.Code, c.id, ev)
		s.registry.Teardown(ev.Code)

	default:
		// server-originated types arriving from a client are ignored
		zap.L().Debug("unexpected inbound event",
			zap.String("conn", c.id), zap.String("type", string(ev.Type)))
	}
}

// stageManifest records the announced file in the transient artifact store,
// keyed under the session prefix so teardown purges it.
func (s *Server) stageManifest(ev protocol.Event) {
	if s.artifacts == nil {
		return
	}
	b, err := json.Marshal(ev.Meta)
	if err != nil {
		return
	}
	key := staging.KeyFor(ev.Code, "manifest-"+ev.Meta.TransferID)
	if !s.artifacts.Put(key, b, 0) {
		zap.L().Warn("staging budget exceeded, manifest dropped", zap.String("code", ev.Code))
	}
}
