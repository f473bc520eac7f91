package mem

import (
	"bytes"
	"context"
	"testing"
)

func TestDialListenRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := New()
	l, err := n.Listen(ctx, "relay")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	cli, err := n.Dial(ctx, "relay")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	srv, err := l.Accept(ctx)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	want := []byte("hello relay")
	done := make(chan error, 1)
	go func() { done <- cli.SendBytes(want) }()
	got, err := srv.RecvBytes()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("send: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("frame mismatch: %q != %q", got, want)
	}
}

func TestFIFOOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := New()
	l, err := n.Listen(ctx, "fifo")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	cli, err := n.Dial(ctx, "fifo")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	srv, err := l.Accept(ctx)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	const frames = 50
	go func() {
		for i := 0; i < frames; i++ {
			_ = cli.SendBytes([]byte{byte(i)})
		}
	}()
	for i := 0; i < frames; i++ {
		b, err := srv.RecvBytes()
		if err != nil {
			t.Fatalf("recv %d: %v", i, err)
		}
		if len(b) != 1 || b[0] != byte(i) {
			t.Fatalf("frame %d out of order: %v", i, b)
		}
	}
}

func TestDialUnknownListener(t *testing.T) {
	n := New()
	if _, err := n.Dial(context.Background(), "nope"); err == nil {
		t.Fatalf("expected error dialing unknown listener")
	}
}
