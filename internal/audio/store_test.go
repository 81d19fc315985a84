package audio

import (
	"testing"
	"time"
)

func TestReplyStorePutGet(t *testing.T) {
	s := NewReplyStore(time.Minute, 4)
	id := s.Put("s1", []byte("abc"), "audio/mpeg")
	got, ok := s.Get(id)
	if !ok {
		t.Fatalf("Get(%q) missing", id)
	}
	if string(got.Data) != "abc" || got.ContentType != "audio/mpeg" || got.SessionID != "s1" {
		t.Fatalf("unexpected reply: %+v", got)
	}
}

func TestReplyStoreDropSession(t *testing.T) {
	s := NewReplyStore(time.Minute, 8)
	a := s.Put("s1", []byte("a"), "audio/mpeg")
	s.Put("s1", []byte("b"), "audio/mpeg")
	c := s.Put("s2", []byte("c"), "audio/mpeg")

	if n := s.DropSession("s1"); n != 2 {
		t.Fatalf("DropSession() = %d, want 2", n)
	}
	if _, ok := s.Get(a); ok {
		t.Fatalf("reply %q should be gone", a)
	}
	if _, ok := s.Get(c); !ok {
		t.Fatalf("reply %q of other session should remain", c)
	}
}

func TestReplyStoreSweepExpired(t *testing.T) {
	s := NewReplyStore(time.Minute, 8)
	id := s.Put("s1", []byte("a"), "audio/mpeg")
	if n := s.Sweep(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}
	if _, ok := s.Get(id); ok {
		t.Fatalf("expired reply should be gone")
	}
}

func TestReplyStoreBoundsEntries(t *testing.T) {
	s := NewReplyStore(time.Minute, 2)
	first := s.Put("s1", []byte("1"), "audio/mpeg")
	time.Sleep(2 * time.Millisecond)
	s.Put("s1", []byte("2"), "audio/mpeg")
	time.Sleep(2 * time.Millisecond)
	s.Put("s1", []byte("3"), "audio/mpeg")

	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	if _, ok := s.Get(first); ok {
		t.Fatalf("oldest reply should have been dropped")
	}
}
