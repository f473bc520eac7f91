package client

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/harshalgadre/file-share/pkg/protocol"
)

// Sink decides where received file bytes land. The memory sink reproduces
// the reference behavior of accumulating the whole file; the directory sink
// streams chunks to disk so memory use stays bounded by one chunk.
type Sink interface {
	// Open returns a writer for the announced file and an optional local
	// reference (a path for disk-backed sinks, empty otherwise).
	Open(meta protocol.FileMeta) (io.WriteCloser, string, error)
}

// MemorySink accumulates each file in memory.
type MemorySink struct{}

func (MemorySink) Open(meta protocol.FileMeta) (io.WriteCloser, string, error) {
	return &memFile{}, "", nil
}

type memFile struct{ buf bytes.Buffer }

func (m *memFile) Write(p []byte) (int, error) { return m.buf.Write(p) }
func (m *memFile) Close() error                { return nil }
func (m *memFile) Bytes() []byte               { return m.buf.Bytes() }

// DirSink writes each file under Dir, using the declared name stripped of
// any path components.
type DirSink struct {
	Dir string
}

func (d DirSink) Open(meta protocol.FileMeta) (io.WriteCloser, string, error) {
	name := sanitizeName(meta.Name)
	if name == "" {
		name = "download-" + meta.TransferID
	}
	path := filepath.Join(d.Dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, "", fmt.Errorf("client: open sink file: %w", err)
	}
	return f, path, nil
}

func sanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}
