package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Wire limits. MaxFileSize bounds a single declared file; a size exactly at
// the limit is accepted, one byte over is rejected.
const (
	ChunkSize   = 64 * 1024
	MaxFileSize = int64(2) << 30
)

// Type names a room-scoped event exchanged over the relay.
type Type string

const (
	// client -> server
	TypeCreateSession Type = "create-session"
	TypeJoinSession   Type = "join-session"

	// server -> client
	TypeSessionCreated Type = "session-created"
	TypeReceiverJoined Type = "receiver-joined"
	TypeInvalidSession Type = "invalid-session"
	TypeSessionExpired Type = "session-expired"
	TypeError          Type = "error"

	// sender <-> receiver, relayed through the room
	TypeFileMeta         Type = "file-meta"
	TypeFileChunk        Type = "file-chunk"
	TypeChunkAck         Type = "chunk-ack"
	TypeFileComplete     Type = "file-complete"
	TypeTransferComplete Type = "transfer-complete"
)

var (
	ErrInvalidEvent = errors.New("protocol: invalid event")
	ErrFileTooLarge = errors.New("protocol: file exceeds size limit")
)

// FileMeta announces an incoming file to the room.
type FileMeta struct {
	TransferID string `json:"transfer_id" cbor:"transfer_id"`
	Name       string `json:"name" cbor:"name"`
	Size       int64  `json:"size" cbor:"size"`
	MimeType   string `json:"type,omitempty" cbor:"type,omitempty"`
}

func (m FileMeta) Validate() error {
	if strings.TrimSpace(m.TransferID) == "" {
		return fmt.Errorf("%w: file-meta missing transfer_id", ErrInvalidEvent)
	}
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: file-meta missing name", ErrInvalidEvent)
	}
	if m.Size < 0 {
		return fmt.Errorf("%w: file-meta negative size", ErrInvalidEvent)
	}
	if m.Size > MaxFileSize {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, m.Size, MaxFileSize)
	}
	return nil
}

// Chunk carries one fragment of the active file. Progress is the fraction
// offset/total measured before this chunk's own bytes; consecutive chunks
// therefore report a non-decreasing sequence that never reaches 1.0 until
// file-complete.
type Chunk struct {
	TransferID string  `json:"transfer_id" cbor:"transfer_id"`
	Seq        uint64  `json:"seq" cbor:"seq"`
	Progress   float64 `json:"progress" cbor:"progress"`
	Data       []byte  `json:"data" cbor:"data"`
}

func (c Chunk) Validate() error {
	if strings.TrimSpace(c.TransferID) == "" {
		return fmt.Errorf("%w: file-chunk missing transfer_id", ErrInvalidEvent)
	}
	if c.Progress < 0 || c.Progress > 1 {
		return fmt.Errorf("%w: file-chunk progress %v out of range", ErrInvalidEvent, c.Progress)
	}
	return nil
}

// ChunkAck flows receiver -> sender and opens the sender's in-flight window.
type ChunkAck struct {
	TransferID string `json:"transfer_id" cbor:"transfer_id"`
	Seq        uint64 `json:"seq" cbor:"seq"`
}

func (a ChunkAck) Validate() error {
	if strings.TrimSpace(a.TransferID) == "" {
		return fmt.Errorf("%w: chunk-ack missing transfer_id", ErrInvalidEvent)
	}
	return nil
}

// FileComplete ends one file of a batch. The receiver verifies its byte
// counter against the declared size on receipt.
type FileComplete struct {
	TransferID string `json:"transfer_id" cbor:"transfer_id"`
}

func (f FileComplete) Validate() error {
	if strings.TrimSpace(f.TransferID) == "" {
		return fmt.Errorf("%w: file-complete missing transfer_id", ErrInvalidEvent)
	}
	return nil
}

// Event is the envelope for every relay message. Exactly the payload
// matching Type is set; the rest stay nil.
type Event struct {
	Type     Type          `json:"type" cbor:"type"`
	Code     string        `json:"code,omitempty" cbor:"code,omitempty"`
	Meta     *FileMeta     `json:"meta,omitempty" cbor:"meta,omitempty"`
	Chunk    *Chunk        `json:"chunk,omitempty" cbor:"chunk,omitempty"`
	Ack      *ChunkAck     `json:"ack,omitempty" cbor:"ack,omitempty"`
	File     *FileComplete `json:"file,omitempty" cbor:"file,omitempty"`
	Message  string        `json:"message,omitempty" cbor:"message,omitempty"`
}

func (e Event) Validate() error {
	switch e.Type {
	case TypeCreateSession, TypeJoinSession, TypeSessionCreated, TypeTransferComplete:
		if strings.TrimSpace(e.Code) == "" {
			return fmt.Errorf("%w: %s missing code", ErrInvalidEvent, e.Type)
		}
	case TypeFileMeta:
		if e.Meta == nil {
			return fmt.Errorf("%w: file-meta missing payload", ErrInvalidEvent)
		}
		return e.Meta.Validate()
	case TypeFileChunk:
		if e.Chunk == nil {
			return fmt.Errorf("%w: file-chunk missing payload", ErrInvalidEvent)
		}
		return e.Chunk.Validate()
	case TypeChunkAck:
		if e.Ack == nil {
			return fmt.Errorf("%w: chunk-ack missing payload", ErrInvalidEvent)
		}
		return e.Ack.Validate()
	case TypeFileComplete:
		if e.File == nil {
			return fmt.Errorf("%w: file-complete missing payload", ErrInvalidEvent)
		}
		return e.File.Validate()
	case TypeReceiverJoined, TypeInvalidSession, TypeSessionExpired, TypeError:
		// no required payload
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, string(e.Type))
	}
	return nil
}

// Progress reports the fraction of the file sent before the chunk starting
// at offset. A zero total maps to 0 so empty files stay well-defined.
func Progress(offset, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(offset) / float64(total)
}
