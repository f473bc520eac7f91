package relay

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harshalgadre/file-share/pkg/client"
	"github.com/harshalgadre/file-share/pkg/config"
	"github.com/harshalgadre/file-share/pkg/protocol"
	"github.com/harshalgadre/file-share/pkg/protocol/codec"
	"github.com/harshalgadre/file-share/pkg/staging"
	"github.com/harshalgadre/file-share/pkg/transport"
	"github.com/harshalgadre/file-share/pkg/transport/mem"
)

func startRelay(t *testing.T, cfg *config.Config) (*Server, *mem.Network) {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	n := mem.New()
	l, err := n.Listen(context.Background(), "relay")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go srv.ServeListener(ctx, l)
	t.Cleanup(func() {
		cancel()
		l.Close()
		srv.Close()
	})
	return srv, n
}

func dialRelay(t *testing.T, n *mem.Network) transport.Endpoint {
	t.Helper()
	ep, err := n.Dial(context.Background(), "relay")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return ep
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRelayEndToEnd(t *testing.T) {
	cfg := config.Default()
	cfg.Staging.Enable = true
	srv, n := startRelay(t, cfg)
	ctx := context.Background()

	sender := client.NewSender(dialRelay(t, n), client.SenderOptions{})
	receiver := client.NewReceiver(dialRelay(t, n), client.ReceiverOptions{})
	defer sender.Close()
	defer receiver.Close()

	code, err := sender.CreateSession(ctx)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if len(code) != protocol.CodeLength {
		t.Fatalf("code %q has wrong length", code)
	}
	if srv.Registry().Len() != 1 {
		t.Fatalf("registry has %d sessions, want 1", srv.Registry().Len())
	}

	if err := receiver.Join(ctx, code); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := sender.WaitForPeer(ctx); err != nil {
		t.Fatalf("wait for peer: %v", err)
	}

	payload := make([]byte, 128000)
	for i := range payload {
		payload[i] = byte(i)
	}

	type result struct {
		transfers []*client.FileTransfer
		err       error
	}
	got := make(chan result, 1)
	go func() {
		ts, err := receiver.Receive(ctx)
		got <- result{ts, err}
	}()

	err = sender.Send(ctx, client.File{
		Name:     "a.txt",
		Size:     128000,
		MimeType: "text/plain",
		Content:  bytes.NewReader(payload),
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sender.State() != client.StateCompleted {
		t.Fatalf("sender state %s, want completed", sender.State())
	}

	res := <-got
	if res.err != nil {
		t.Fatalf("receive: %v", res.err)
	}
	if len(res.transfers) != 1 {
		t.Fatalf("got %d transfers, want 1", len(res.transfers))
	}
	ft := res.transfers[0]
	if ft.Name != "a.txt" || ft.MimeType != "text/plain" {
		t.Fatalf("transfer meta %+v", ft)
	}
	if ft.ReceivedBytes != 128000 || ft.Status != client.StatusCompleted {
		t.Fatalf("transfer %+v", ft)
	}
	if !bytes.Equal(ft.Data, payload) {
		t.Fatal("received bytes differ from sent bytes")
	}

	// transfer-complete tears the session down on the relay
	waitFor(t, "registry drain", func() bool { return srv.Registry().Len() == 0 })
	if n := srv.artifacts.DeletePrefix(staging.Prefix(code)); n != 0 {
		t.Fatalf("%d staged artifacts survived teardown", n)
	}
}

func TestRelayJoinUnknownCode(t *testing.T) {
	_, n := startRelay(t, nil)
	ctx := context.Background()

	receiver := client.NewReceiver(dialRelay(t, n), client.ReceiverOptions{})
	defer receiver.Close()

	if err := receiver.Join(ctx, "ZZZZ9999"); err != nil {
		t.Fatalf("join: %v", err)
	}
	_, err := receiver.Receive(ctx)
	if !errors.Is(err, client.ErrSessionNotFound) {
		t.Fatalf("err %v, want ErrSessionNotFound", err)
	}
}

func TestRelayOversizedMetaNeverReachesRoom(t *testing.T) {
	_, n := startRelay(t, nil)
	cd := codec.JSON()

	send := func(ep transport.Endpoint, ev protocol.Event) {
		b, err := cd.Marshal(ev)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if err := ep.SendBytes(b); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	recv := func(ep transport.Endpoint) protocol.Event {
		frame, err := ep.RecvBytes()
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		var ev protocol.Event
		if err := cd.Unmarshal(frame, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return ev
	}

	a := dialRelay(t, n)
	b := dialRelay(t, n)
	defer a.Close()
	defer b.Close()

	send(a, protocol.Event{Type: protocol.TypeCreateSession, Code: "BIGF1234"})
	if ev := recv(a); ev.Type != protocol.TypeSessionCreated {
		t.Fatalf("got %s, want session-created", ev.Type)
	}
	send(b, protocol.Event{Type: protocol.TypeJoinSession, Code: "BIGF1234"})
	if ev := recv(a); ev.Type != protocol.TypeReceiverJoined {
		t.Fatalf("got %s, want receiver-joined", ev.Type)
	}

	send(a, protocol.Event{Type: protocol.TypeFileMeta, Code: "BIGF1234",
		Meta: &protocol.FileMeta{TransferID: "t-big", Name: "huge.iso", Size: protocol.MaxFileSize + 1}})
	if ev := recv(a); ev.Type != protocol.TypeError {
		t.Fatalf("got %s, want error back to sender", ev.Type)
	}

	// the room only ever sees the follow-up meta, not the rejected one
	send(a, protocol.Event{Type: protocol.TypeFileMeta, Code: "BIGF1234",
		Meta: &protocol.FileMeta{TransferID: "t-ok", Name: "ok.txt", Size: 10}})
	ev := recv(b)
	if ev.Type != protocol.TypeFileMeta || ev.Meta.TransferID != "t-ok" {
		t.Fatalf("receiver saw %s/%+v, want the valid meta", ev.Type, ev.Meta)
	}
}

func TestRelayMaxSizeExactlyAccepted(t *testing.T) {
	_, n := startRelay(t, nil)
	cd := codec.JSON()

	a := dialRelay(t, n)
	b := dialRelay(t, n)
	defer a.Close()
	defer b.Close()

	send := func(ep transport.Endpoint, ev protocol.Event) {
		buf, _ := cd.Marshal(ev)
		if err := ep.SendBytes(buf); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	recv := func(ep transport.Endpoint) protocol.Event {
		frame, err := ep.RecvBytes()
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		var out protocol.Event
		if err := cd.Unmarshal(frame, &out); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return out
	}

	send(a, protocol.Event{Type: protocol.TypeCreateSession, Code: "EDGE0001"})
	if ev := recv(a); ev.Type != protocol.TypeSessionCreated {
		t.Fatalf("got %s, want session-created", ev.Type)
	}
	send(b, protocol.Event{Type: protocol.TypeJoinSession, Code: "EDGE0001"})
	if ev := recv(a); ev.Type != protocol.TypeReceiverJoined {
		t.Fatalf("got %s, want receiver-joined", ev.Type)
	}

	send(a, protocol.Event{Type: protocol.TypeFileMeta, Code: "EDGE0001",
		Meta: &protocol.FileMeta{TransferID: "t-edge", Name: "edge.bin", Size: protocol.MaxFileSize}})
	ev := recv(b)
	if ev.Type != protocol.TypeFileMeta || ev.Meta.Size != protocol.MaxFileSize {
		t.Fatalf("receiver saw %s, want meta at the exact ceiling", ev.Type)
	}
}

func TestRelayOwnerDisconnectNotifiesReceiver(t *testing.T) {
	srv, n := startRelay(t, nil)
	ctx := context.Background()

	sender := client.NewSender(dialRelay(t, n), client.SenderOptions{})
	receiver := client.NewReceiver(dialRelay(t, n), client.ReceiverOptions{})
	defer receiver.Close()

	code, err := sender.CreateSession(ctx)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := receiver.Join(ctx, code); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := sender.WaitForPeer(ctx); err != nil {
		t.Fatalf("wait for peer: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := receiver.Receive(ctx)
		done <- err
	}()
	sender.Close()

	if err := <-done; !errors.Is(err, client.ErrPeerDisconnected) {
		t.Fatalf("err %v, want ErrPeerDisconnected", err)
	}
	waitFor(t, "registry drain", func() bool { return srv.Registry().Len() == 0 })
}

func TestRelaySessionExpiryReachesBothSides(t *testing.T) {
	cfg := config.Default()
	cfg.Session.TTL = 80 * time.Millisecond
	srv, n := startRelay(t, cfg)
	ctx := context.Background()

	sender := client.NewSender(dialRelay(t, n), client.SenderOptions{})
	receiver := client.NewReceiver(dialRelay(t, n), client.ReceiverOptions{})
	defer sender.Close()
	defer receiver.Close()

	code, err := sender.CreateSession(ctx)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := receiver.Join(ctx, code); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := sender.WaitForPeer(ctx); err != nil {
		t.Fatalf("wait for peer: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := receiver.Receive(ctx)
		done <- err
	}()

	if err := <-done; !errors.Is(err, client.ErrSessionExpired) {
		t.Fatalf("receiver err %v, want ErrSessionExpired", err)
	}
	waitFor(t, "sender error state", func() bool { return sender.State() == client.StateError })
	if srv.Registry().Len() != 0 {
		t.Fatalf("registry has %d sessions after expiry", srv.Registry().Len())
	}
}

func TestRelayCodecNegotiationPerConnection(t *testing.T) {
	_, n := startRelay(t, nil)
	ctx := context.Background()

	cb, err := codec.CBOR()
	if err != nil {
		t.Fatalf("cbor codec: %v", err)
	}
	sender := client.NewSender(dialRelay(t, n), client.SenderOptions{Codec: cb})
	receiver := client.NewReceiver(dialRelay(t, n), client.ReceiverOptions{})
	defer sender.Close()
	defer receiver.Close()

	code, err := sender.CreateSession(ctx)
	if err != nil {
		t.Fatalf("create session over cbor: %v", err)
	}
	if err := receiver.Join(ctx, code); err != nil {
		t.Fatalf("join over json: %v", err)
	}
	if err := sender.WaitForPeer(ctx); err != nil {
		t.Fatalf("wait for peer: %v", err)
	}

	got := make(chan error, 1)
	var transfers []*client.FileTransfer
	go func() {
		ts, err := receiver.Receive(ctx)
		transfers = ts
		got <- err
	}()
	payload := []byte("cross-codec payload")
	err = sender.Send(ctx, client.File{Name: "x.bin", Size: int64(len(payload)), Content: bytes.NewReader(payload)})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := <-got; err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(transfers) != 1 || !bytes.Equal(transfers[0].Data, payload) {
		t.Fatal("payload did not survive codec translation")
	}
}
