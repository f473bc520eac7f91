package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harshalgadre/file-share/pkg/protocol"
	"github.com/harshalgadre/file-share/pkg/protocol/codec"
	"github.com/harshalgadre/file-share/pkg/transport"
)

// File is one entry of an outgoing batch.
type File struct {
	Name     string
	Size     int64
	MimeType string
	Content  io.Reader
}

// SenderOptions tunes chunking and flow control.
type SenderOptions struct {
	// ChunkSize per fragment; defaults to protocol.ChunkSize (64 KiB).
	ChunkSize int
	// Window is the number of unacknowledged chunks kept in flight before
	// the sender blocks. Defaults to 32.
	Window int
	// RateBytesPerSec shapes emission; 0 disables shaping.
	RateBytesPerSec int64
	// Codec for the wire; defaults to JSON.
	Codec codec.Codec
}

// Sender drives the sending half of a transfer:
// Idle -> AwaitingSession -> AwaitingPeer -> Sending -> Completed.
type Sender struct {
	ep        transport.Endpoint
	cd        codec.Codec
	chunkSize int
	winSize   int
	bucket    *tokenBucket

	mu    sync.Mutex
	state State
	code  string
	win   *sendWindow
	err   error

	createdCh chan string
	peerCh    chan struct{}
	peerOnce  sync.Once
	failCh    chan struct{}
	failOnce  sync.Once
}

type sendWindow struct {
	id  string
	sem chan struct{}
}

// NewSender wraps an established endpoint and starts its read loop.
func NewSender(ep transport.Endpoint, opts SenderOptions) *Sender {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = protocol.ChunkSize
	}
	if opts.Window <= 0 {
		opts.Window = 32
	}
	if opts.Codec == nil {
		opts.Codec = codec.JSON()
	}
	s := &Sender{
		ep:        ep,
		cd:        opts.Codec,
		chunkSize: opts.ChunkSize,
		winSize:   opts.Window,
		state:     StateIdle,
		createdCh: make(chan string, 1),
		peerCh:    make(chan struct{}),
		failCh:    make(chan struct{}),
	}
	if opts.RateBytesPerSec > 0 {
		s.bucket = newTokenBucket(opts.RateBytesPerSec, opts.RateBytesPerSec)
	}
	go s.readLoop()
	return s
}

// State returns the current machine state.
func (s *Sender) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Code returns the session code after CreateSession succeeds.
func (s *Sender) Code() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

// Close tears down the endpoint.
func (s *Sender) Close() error { return s.ep.Close() }

// CreateSession generates a code, registers the session, and waits for the
// relay's acknowledgment.
func (s *Sender) CreateSession(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrBadState, s.state)
	}
	s.state = StateAwaitingSession
	s.mu.Unlock()

	code, err := protocol.GenerateCode()
	if err != nil {
		s.fail(err)
		return "", err
	}
	if err := s.send(protocol.Event{Type: protocol.TypeCreateSession, Code: code}); err != nil {
		s.fail(err)
		return "", err
	}

	select {
	case got := <-s.createdCh:
		s.mu.Lock()
		s.code = got
		s.state = StateAwaitingPeer
		s.mu.Unlock()
		return got, nil
	case <-s.failCh:
		return "", s.terminalErr()
	case <-ctx.Done():
		s.fail(ctx.Err())
		return "", ctx.Err()
	}
}

// WaitForPeer blocks until a receiver joins the session.
func (s *Sender) WaitForPeer(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateAwaitingPeer {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBadState, s.state)
	}
	s.mu.Unlock()

	select {
	case <-s.peerCh:
		return nil
	case <-s.failCh:
		return s.terminalErr()
	case <-ctx.Done():
		s.fail(ctx.Err())
		return ctx.Err()
	}
}

// Send streams the batch: per file one file-meta, the chunk sequence, then
// file-complete; a terminal transfer-complete ends the batch. Completion is
// marked optimistically without waiting for receiver acknowledgment of the
// final chunks.
func (s *Sender) Send(ctx context.Context, files ...File) error {
	s.mu.Lock()
	if s.state != StateAwaitingPeer {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBadState, s.state)
	}
	select {
	case <-s.peerCh:
	default:
		s.mu.Unlock()
		return fmt.Errorf("%w: no peer joined", ErrBadState)
	}
	if len(files) == 0 {
		s.mu.Unlock()
		return errors.New("client: nothing to send")
	}
	code := s.code
	s.state = StateSending
	s.mu.Unlock()

	// size validation happens before any metadata leaves this process
	for _, f := range files {
		if f.Size > protocol.MaxFileSize {
			err := fmt.Errorf("%w: %q is %d bytes", protocol.ErrFileTooLarge, f.Name, f.Size)
			_ = s.send(protocol.Event{Type: protocol.TypeError, Code: code, Message: err.Error()})
			s.fail(err)
			return err
		}
	}

	for _, f := range files {
		if err := s.sendFile(ctx, code, f); err != nil {
			s.fail(err)
			return err
		}
	}
	if err := s.send(protocol.Event{Type: protocol.TypeTransferComplete, Code: code}); err != nil {
		s.fail(err)
		return err
	}

	s.mu.Lock()
	s.state = StateCompleted
	s.mu.Unlock()
	return nil
}

func (s *Sender) sendFile(ctx context.Context, code string, f File) error {
	id := uuid.NewString()
	meta := protocol.FileMeta{TransferID: id, Name: f.Name, Size: f.Size, MimeType: f.MimeType}
	if err := s.send(protocol.Event{Type: protocol.TypeFileMeta, Code: code, Meta: &meta}); err != nil {
		return err
	}

	win := &sendWindow{id: id, sem: make(chan struct{}, s.winSize)}
	s.mu.Lock()
	s.win = win
	s.mu.Unlock()

	buf := make([]byte, s.chunkSize)
	var offset int64
	var seq uint64
	for offset < f.Size {
		want := s.chunkSize
		if rem := f.Size - offset; rem < int64(want) {
			want = int(rem)
		}
		n, err := io.ReadFull(f.Content, buf[:want])
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			if n == 0 {
				break
			}
		} else if err != nil {
			return fmt.Errorf("client: read %q: %w", f.Name, err)
		}

		if err := s.throttle(ctx, int64(n)); err != nil {
			return err
		}
		select {
		case win.sem <- struct{}{}:
		case <-s.failCh:
			return s.terminalErr()
		case <-ctx.Done():
			return ctx.Err()
		}

		chunk := protocol.Chunk{
			TransferID: id,
			Seq:        seq,
			// progress up to the start of this chunk, not including it
			Progress: protocol.Progress(offset, f.Size),
			Data:     append([]byte(nil), buf[:n]...),
		}
		if err := s.send(protocol.Event{Type: protocol.TypeFileChunk, Code: code, Chunk: &chunk}); err != nil {
			return err
		}
		offset += int64(n)
		seq++
	}
	if offset != f.Size {
		return fmt.Errorf("client: %q is %d bytes, declared %d", f.Name, offset, f.Size)
	}

	zap.L().Debug("file streamed", zap.String("name", f.Name), zap.Int64("bytes", offset))
	return s.send(protocol.Event{Type: protocol.TypeFileComplete, Code: code,
		File: &protocol.FileComplete{TransferID: id}})
}

func (s *Sender) throttle(ctx context.Context, n int64) error {
	if s.bucket == nil {
		return nil
	}
	for {
		ok, wait := s.bucket.allow(n)
		if ok {
			return nil
		}
		select {
		case <-time.After(wait):
		case <-s.failCh:
			return s.terminalErr()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Sender) readLoop() {
	for {
		frame, err := s.ep.RecvBytes()
		if err != nil {
			s.fail(ErrTransportClosed)
			return
		}
		var ev protocol.Event
		if err := s.cd.Unmarshal(frame, &ev); err != nil {
			continue
		}
		switch ev.Type {
		case protocol.TypeSessionCreated:
			select {
			case s.createdCh <- ev.Code:
			default:
			}
		case protocol.TypeReceiverJoined:
			s.peerOnce.Do(func() { close(s.peerCh) })
		case protocol.TypeChunkAck:
			if ev.Ack != nil {
				s.release(ev.Ack.TransferID)
			}
		case protocol.TypeInvalidSession:
			s.fail(ErrSessionNotFound)
		case protocol.TypeSessionExpired:
			s.fail(ErrSessionExpired)
		case protocol.TypeError:
			if ev.Message == "peer disconnected" {
				s.fail(ErrPeerDisconnected)
			} else {
				s.fail(fmt.Errorf("client: relay error: %s", ev.Message))
			}
		}
	}
}

// release frees one window slot for the transfer the ack names. Acks for a
// finished transfer are stale and ignored.
func (s *Sender) release(transferID string) {
	s.mu.Lock()
	win := s.win
	s.mu.Unlock()
	if win == nil || win.id != transferID {
		return
	}
	select {
	case <-win.sem:
	default:
	}
}

func (s *Sender) send(ev protocol.Event) error {
	b, err := s.cd.Marshal(ev)
	if err != nil {
		return err
	}
	return s.ep.SendBytes(b)
}

func (s *Sender) fail(err error) {
	s.failOnce.Do(func() {
		s.mu.Lock()
		if s.state != StateCompleted {
			s.state = StateError
		}
		s.err = err
		s.mu.Unlock()
		close(s.failCh)
	})
}

func (s *Sender) terminalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	return ErrTransportClosed
}
