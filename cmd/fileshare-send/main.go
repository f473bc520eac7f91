package main

import (
	"context"
	"flag"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/harshalgadre/file-share/pkg/client"
	"github.com/harshalgadre/file-share/pkg/config"
	"github.com/harshalgadre/file-share/pkg/protocol"
	"github.com/harshalgadre/file-share/pkg/protocol/codec"
	"github.com/harshalgadre/file-share/pkg/transport"
	"github.com/harshalgadre/file-share/pkg/transport/tcp"
	"github.com/harshalgadre/file-share/pkg/transport/ws"
)

func main() {
	defaults := config.Default().Transfer
	kind := flag.String("kind", "tcp", "transport kind: tcp|ws")
	addr := flag.String("addr", "localhost:9440", "relay address (host:port or ws url)")
	base := flag.String("base", "", "public base URL for the printed share link")
	chunk := flag.Int("chunk", defaults.ChunkSize, "chunk size in bytes")
	window := flag.Int("window", defaults.SendWindow, "in-flight chunk window")
	rate := flag.Int64("rate", defaults.SendRateBytesPerSec, "send rate in bytes/sec (0 = unshaped)")
	useCBOR := flag.Bool("cbor", false, "encode events as CBOR instead of JSON")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall timeout")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	zap.ReplaceGlobals(logger)
	defer logger.Sync()

	files := flag.Args()
	if len(files) == 0 {
		fatalf("usage: fileshare-send [flags] FILE...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	ep := dial(ctx, *kind, *addr)
	opts := client.SenderOptions{ChunkSize: *chunk, Window: *window, RateBytesPerSec: *rate}
	if *useCBOR {
		cb, err := codec.CBOR()
		if err != nil {
			fatalf("cbor codec: %v", err)
		}
		opts.Codec = cb
	}
	s := client.NewSender(ep, opts)
	defer s.Close()

	code, err := s.CreateSession(ctx)
	if err != nil {
		fatalf("create session: %v", err)
	}
	fmt.Println("Session code:", code)
	if *base != "" {
		link, err := protocol.ShareLink(*base, code)
		if err != nil {
			fatalf("share link: %v", err)
		}
		fmt.Println("Share link:", link)
	}

	fmt.Println("Waiting for receiver...")
	if err := s.WaitForPeer(ctx); err != nil {
		fatalf("wait for receiver: %v", err)
	}

	batch := make([]client.File, 0, len(files))
	handles := make([]*os.File, 0, len(files))
	defer func() {
		for _, h := range handles {
			_ = h.Close()
		}
	}()
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			fatalf("open %s: %v", path, err)
		}
		st, err := f.Stat()
		if err != nil {
			fatalf("stat %s: %v", path, err)
		}
		handles = append(handles, f)
		batch = append(batch, client.File{
			Name:     filepath.Base(path),
			Size:     st.Size(),
			MimeType: mime.TypeByExtension(filepath.Ext(path)),
			Content:  f,
		})
	}

	if err := s.Send(ctx, batch...); err != nil {
		fatalf("send: %v", err)
	}
	fmt.Printf("Sent %d file(s)\n", len(batch))
}

func dial(ctx context.Context, kind, addr string) transport.Endpoint {
	var d transport.Dialer
	switch kind {
	case "tcp":
		d = tcp.New()
	case "ws":
		d = ws.New()
	default:
		fatalf("unknown transport kind %q", kind)
	}
	ep, err := d.Dial(ctx, addr)
	if err != nil {
		fatalf("dial %s: %v", addr, err)
	}
	return ep
}

func fatalf(format string, a ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
