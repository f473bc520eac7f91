package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("explicit missing file should error")
	}

	cfg = Default()
	if err := cfg.validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Session.TTL != 5*time.Minute {
		t.Fatalf("session TTL = %v, want 5m", cfg.Session.TTL)
	}
	if cfg.Session.ExpiryPolicy != ExpiryFixed {
		t.Fatalf("expiry policy = %q, want fixed", cfg.Session.ExpiryPolicy)
	}
	if cfg.Transfer.ChunkSize != 64*1024 {
		t.Fatalf("chunk size = %d, want 64KiB", cfg.Transfer.ChunkSize)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fileshare.yaml")
	body := `
app_name: test-relay
session:
  ttl: 90s
  expiry_policy: sliding
transfer:
  chunk_size: 16384
  send_window: 4
server:
  http_listen: ":0"
staging:
  enable: true
  max_bytes: 1024
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppName != "test-relay" {
		t.Fatalf("app_name = %q", cfg.AppName)
	}
	if cfg.Session.TTL != 90*time.Second {
		t.Fatalf("ttl = %v", cfg.Session.TTL)
	}
	if cfg.Session.ExpiryPolicy != ExpirySliding {
		t.Fatalf("policy = %q", cfg.Session.ExpiryPolicy)
	}
	if cfg.Transfer.ChunkSize != 16384 || cfg.Transfer.SendWindow != 4 {
		t.Fatalf("transfer = %+v", cfg.Transfer)
	}
	if !cfg.Staging.Enable || cfg.Staging.MaxBytes != 1024 {
		t.Fatalf("staging = %+v", cfg.Staging)
	}
}

func TestValidateRejectsBadPolicy(t *testing.T) {
	cfg := Default()
	cfg.Session.ExpiryPolicy = "sometimes"
	if err := cfg.validate(); err == nil {
		t.Fatalf("expected error for bad expiry policy")
	}
}

func TestValidateRequiresListener(t *testing.T) {
	cfg := Default()
	cfg.Server.HTTPListen = ""
	cfg.Server.TCPListen = ""
	if err := cfg.validate(); err == nil {
		t.Fatalf("expected error when no listeners configured")
	}
}
