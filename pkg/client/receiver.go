package client

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/harshalgadre/file-share/pkg/protocol"
	"github.com/harshalgadre/file-share/pkg/protocol/codec"
	"github.com/harshalgadre/file-share/pkg/transport"
)

// ReceiverOptions tunes the receiving half.
type ReceiverOptions struct {
	// Codec for the wire; defaults to JSON.
	Codec codec.Codec
	// Sink receives file contents; defaults to MemorySink.
	Sink Sink
}

// FileTransfer tracks one incoming file of a batch.
type FileTransfer struct {
	TransferID    string
	Name          string
	MimeType      string
	DeclaredSize  int64
	ReceivedBytes int64
	Status        TransferStatus
	// Path is where DirSink placed the file; empty for in-memory sinks.
	Path string
	// Data holds the content when the sink is in-memory.
	Data []byte

	w       io.WriteCloser
	nextSeq uint64
}

// Receiver drives the receiving half of a transfer:
// Idle -> AwaitingMetadata -> Receiving -> Completed.
type Receiver struct {
	ep   transport.Endpoint
	cd   codec.Codec
	sink Sink

	mu        sync.Mutex
	state     State
	code      string
	transfers []*FileTransfer
	byID      map[string]*FileTransfer
}

// NewReceiver wraps an established endpoint.
func NewReceiver(ep transport.Endpoint, opts ReceiverOptions) *Receiver {
	if opts.Codec == nil {
		opts.Codec = codec.JSON()
	}
	if opts.Sink == nil {
		opts.Sink = MemorySink{}
	}
	return &Receiver{
		ep:    ep,
		cd:    opts.Codec,
		sink:  opts.Sink,
		state: StateIdle,
		byID:  make(map[string]*FileTransfer),
	}
}

// State returns the current machine state.
func (r *Receiver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Transfers returns the batch seen so far.
func (r *Receiver) Transfers() []*FileTransfer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*FileTransfer, len(r.transfers))
	copy(out, r.transfers)
	return out
}

// Close tears down the endpoint.
func (r *Receiver) Close() error { return r.ep.Close() }

// Join announces this connection as the receiver for code. The relay answers
// join failures with invalid-session; success is implied by the metadata that
// follows, so Join returns as soon as the request is on the wire.
func (r *Receiver) Join(ctx context.Context, code string) error {
	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBadState, r.state)
	}
	r.state = StateAwaitingMetadata
	r.code = code
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return r.send(protocol.Event{Type: protocol.TypeJoinSession, Code: code})
}

// Receive runs the event loop until the batch completes or fails. Canceling
// ctx closes the endpoint to unblock the read.
func (r *Receiver) Receive(ctx context.Context) ([]*FileTransfer, error) {
	r.mu.Lock()
	if r.state != StateAwaitingMetadata {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrBadState, r.state)
	}
	r.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = r.ep.Close() })
	defer stop()

	for {
		frame, err := r.ep.RecvBytes()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return r.failAll(ctxErr)
			}
			return r.failAll(ErrTransportClosed)
		}
		var ev protocol.Event
		if err := r.cd.Unmarshal(frame, &ev); err != nil {
			continue
		}

		switch ev.Type {
		case protocol.TypeInvalidSession:
			return r.failAll(ErrSessionNotFound)
		case protocol.TypeSessionExpired:
			return r.failAll(ErrSessionExpired)
		case protocol.TypeError:
			if ev.Message == "peer disconnected" {
				return r.failAll(ErrPeerDisconnected)
			}
			return r.failAll(fmt.Errorf("client: relay error: %s", ev.Message))
		case protocol.TypeFileMeta:
			if err := r.openTransfer(ev.Meta); err != nil {
				return r.failAll(err)
			}
		case protocol.TypeFileChunk:
			if err := r.writeChunk(ev.Chunk); err != nil {
				return r.failAll(err)
			}
		case protocol.TypeFileComplete:
			if err := r.completeTransfer(ev.File); err != nil {
				return r.failAll(err)
			}
		case protocol.TypeTransferComplete:
			return r.completeBatch()
		}
	}
}

func (r *Receiver) openTransfer(meta *protocol.FileMeta) error {
	if meta == nil {
		return fmt.Errorf("%w: file-meta without metadata", protocol.ErrInvalidEvent)
	}
	w, path, err := r.sink.Open(*meta)
	if err != nil {
		return fmt.Errorf("client: open sink for %q: %w", meta.Name, err)
	}
	ft := &FileTransfer{
		TransferID:   meta.TransferID,
		Name:         meta.Name,
		MimeType:     meta.MimeType,
		DeclaredSize: meta.Size,
		Status:       StatusTransferring,
		Path:         path,
		w:            w,
	}
	r.mu.Lock()
	r.transfers = append(r.transfers, ft)
	r.byID[ft.TransferID] = ft
	r.state = StateReceiving
	r.mu.Unlock()
	zap.L().Debug("incoming file", zap.String("name", meta.Name), zap.Int64("size", meta.Size))
	return nil
}

func (r *Receiver) writeChunk(chunk *protocol.Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: file-chunk without payload", protocol.ErrInvalidEvent)
	}
	r.mu.Lock()
	ft := r.byID[chunk.TransferID]
	code := r.code
	r.mu.Unlock()
	if ft == nil {
		return fmt.Errorf("%w: chunk for unknown transfer %s", protocol.ErrInvalidEvent, chunk.TransferID)
	}
	if ft.Status != StatusTransferring {
		return fmt.Errorf("%w: chunk after completion of %q", protocol.ErrInvalidEvent, ft.Name)
	}
	if chunk.Seq != ft.nextSeq {
		return fmt.Errorf("%w: %q chunk %d arrived, expected %d", ErrIntegrity, ft.Name, chunk.Seq, ft.nextSeq)
	}
	if _, err := ft.w.Write(chunk.Data); err != nil {
		return fmt.Errorf("client: write %q: %w", ft.Name, err)
	}
	ft.nextSeq++
	ft.ReceivedBytes += int64(len(chunk.Data))

	return r.send(protocol.Event{Type: protocol.TypeChunkAck, Code: code,
		Ack: &protocol.ChunkAck{TransferID: chunk.TransferID, Seq: chunk.Seq}})
}

// completeTransfer closes the sink and verifies the byte count against the
// declared size; a mismatch is an integrity failure, not a silent success.
func (r *Receiver) completeTransfer(fc *protocol.FileComplete) error {
	if fc == nil {
		return fmt.Errorf("%w: file-complete without payload", protocol.ErrInvalidEvent)
	}
	r.mu.Lock()
	ft := r.byID[fc.TransferID]
	r.mu.Unlock()
	if ft == nil {
		return fmt.Errorf("%w: completion for unknown transfer %s", protocol.ErrInvalidEvent, fc.TransferID)
	}
	return r.finish(ft)
}

func (r *Receiver) finish(ft *FileTransfer) error {
	if ft.Status != StatusTransferring {
		return nil
	}
	if err := ft.w.Close(); err != nil {
		ft.Status = StatusError
		return fmt.Errorf("client: close %q: %w", ft.Name, err)
	}
	if ft.ReceivedBytes != ft.DeclaredSize {
		ft.Status = StatusError
		return fmt.Errorf("%w: %q received %d of %d bytes", ErrIntegrity, ft.Name, ft.ReceivedBytes, ft.DeclaredSize)
	}
	if mf, ok := ft.w.(*memFile); ok {
		ft.Data = mf.Bytes()
	}
	ft.Status = StatusCompleted
	zap.L().Info("file received", zap.String("name", ft.Name), zap.Int64("bytes", ft.ReceivedBytes))
	return nil
}

// completeBatch also settles any transfer the sender never closed with an
// explicit file-complete.
func (r *Receiver) completeBatch() ([]*FileTransfer, error) {
	r.mu.Lock()
	transfers := r.transfers
	r.mu.Unlock()

	for _, ft := range transfers {
		if err := r.finish(ft); err != nil {
			r.mu.Lock()
			r.state = StateError
			r.mu.Unlock()
			return transfers, err
		}
	}
	r.mu.Lock()
	r.state = StateCompleted
	r.mu.Unlock()
	return transfers, nil
}

func (r *Receiver) failAll(err error) ([]*FileTransfer, error) {
	r.mu.Lock()
	r.state = StateError
	transfers := r.transfers
	r.mu.Unlock()
	for _, ft := range transfers {
		if ft.Status == StatusTransferring {
			_ = ft.w.Close()
			ft.Status = StatusError
		}
	}
	return transfers, err
}

func (r *Receiver) send(ev protocol.Event) error {
	b, err := r.cd.Marshal(ev)
	if err != nil {
		return err
	}
	return r.ep.SendBytes(b)
}
