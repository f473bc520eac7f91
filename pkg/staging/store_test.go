package staging

import (
	"fmt"
	"testing"
	"time"
)

func TestPutGetDelete(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	if ok := s.Put(KeyFor("ABC12345", "meta"), []byte("m"), 0); !ok {
		t.Fatalf("Put failed")
	}
	v, ok := s.Get(KeyFor("ABC12345", "meta"))
	if !ok || string(v) != "m" {
		t.Fatalf("Get mismatch: ok=%v v=%q", ok, v)
	}
	// returned slice is a copy
	v[0] = 'X'
	v2, _ := s.Get(KeyFor("ABC12345", "meta"))
	if string(v2) != "m" {
		t.Fatalf("store mutated through Get copy")
	}
	if !s.Delete(KeyFor("ABC12345", "meta")) {
		t.Fatalf("Delete returned false")
	}
	if s.Exists(KeyFor("ABC12345", "meta")) {
		t.Fatalf("key present after Delete")
	}
}

func TestDeletePrefixPurgesSession(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	for i := 0; i < 5; i++ {
		s.Put(KeyFor("ABC12345", fmt.Sprintf("part-%d", i)), []byte{byte(i)}, 0)
	}
	s.Put(KeyFor("ZZZ99999", "meta"), []byte("other"), 0)

	if n := s.DeletePrefix(Prefix("ABC12345")); n != 5 {
		t.Fatalf("DeletePrefix removed %d, want 5", n)
	}
	if s.Exists(KeyFor("ABC12345", "part-0")) {
		t.Fatalf("session artifact survived purge")
	}
	if !s.Exists(KeyFor("ZZZ99999", "meta")) {
		t.Fatalf("purge crossed session prefix")
	}
	if n := s.DeletePrefix(Prefix("ABC12345")); n != 0 {
		t.Fatalf("second purge removed %d, want 0", n)
	}
}

func TestTTLExpiry(t *testing.T) {
	s := New(Options{TTL: 40 * time.Millisecond})
	defer s.Close()

	s.Put("K/meta", []byte("v"), 0)
	if !s.Exists("K/meta") {
		t.Fatalf("key missing before TTL")
	}
	time.Sleep(120 * time.Millisecond)
	if s.Exists("K/meta") {
		t.Fatalf("key survived TTL")
	}
	if st := s.Metrics(); st.Expired == 0 {
		t.Fatalf("expected Expired > 0, got %+v", st)
	}
}

func TestMaxBytes(t *testing.T) {
	s := New(Options{MaxBytes: 8})
	defer s.Close()

	if !s.Put("a/1", make([]byte, 8), 0) {
		t.Fatalf("put within budget failed")
	}
	if s.Put("a/2", []byte{1}, 0) {
		t.Fatalf("put over budget succeeded")
	}
	s.Delete("a/1")
	if !s.Put("a/2", []byte{1}, 0) {
		t.Fatalf("put after free failed")
	}
	if st := s.Metrics(); st.Bytes != 1 {
		t.Fatalf("bytes = %d, want 1", st.Bytes)
	}
}
