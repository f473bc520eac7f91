package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/harshalgadre/file-share/pkg/client"
	"github.com/harshalgadre/file-share/pkg/protocol"
	"github.com/harshalgadre/file-share/pkg/transport"
	"github.com/harshalgadre/file-share/pkg/transport/tcp"
	"github.com/harshalgadre/file-share/pkg/transport/ws"
)

func main() {
	kind := flag.String("kind", "tcp", "transport kind: tcp|ws")
	addr := flag.String("addr", "localhost:9440", "relay address (host:port or ws url)")
	code := flag.String("code", "", "session code (or pass a share link)")
	link := flag.String("link", "", "share link to parse the code from")
	out := flag.String("out", ".", "directory to write received files into")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall timeout")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	zap.ReplaceGlobals(logger)
	defer logger.Sync()

	sessionCode := strings.ToUpper(strings.TrimSpace(*code))
	if *link != "" {
		parsed, err := protocol.ParseShareLink(*link)
		if err != nil {
			fatalf("parse link: %v", err)
		}
		sessionCode = parsed
	}
	if sessionCode == "" {
		fatalf("usage: fileshare-recv -code CODE (or -link URL)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	ep := dial(ctx, *kind, *addr)
	r := client.NewReceiver(ep, client.ReceiverOptions{Sink: client.DirSink{Dir: *out}})
	defer r.Close()

	if err := r.Join(ctx, sessionCode); err != nil {
		fatalf("join session: %v", err)
	}
	fmt.Println("Joined session", sessionCode, "- waiting for files...")

	transfers, err := r.Receive(ctx)
	if err != nil {
		fatalf("receive: %v", err)
	}
	for _, ft := range transfers {
		fmt.Printf("%s: %d bytes -> %s\n", ft.Name, ft.ReceivedBytes, ft.Path)
	}
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
