package sessions

import (
	"errors"
	"testing"
)

func TestRegistry_CreateAndGet(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	s, err := r.Create("stdio", "2025-06-18")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.ID() == "" {
		t.Fatal("session id should not be empty")
	}
	if s.Transport() != "stdio" {
		t.Fatalf("transport = %q, want stdio", s.Transport())
	}
	if s.ProtocolVersion() != "2025-06-18" {
		t.Fatalf("protocol version = %q", s.ProtocolVersion())
	}

	got, ok := r.Get(s.ID())
	if !ok || got != s {
		t.Fatal("Get should return the created session")
	}
	if _, ok := r.Get("nope"); ok {
		t.Fatal("Get of unknown id should report false")
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
}

func TestRegistry_Capacity(t *testing.T) {
	t.Parallel()
	r := NewRegistry(WithMaxSessions(2))

	a, err := r.Create("sse", "")
	if err != nil {
		t.Fatalf("Create a: %v", err)
	}
	if _, err := r.Create("sse", ""); err != nil {
		t.Fatalf("Create b: %v", err)
	}
	if _, err := r.Create("sse", ""); !errors.Is(err, ErrRegistryFull) {
		t.Fatalf("expected ErrRegistryFull, got %v", err)
	}

	// Removing a session frees a slot.
	r.Remove(a.ID())
	if _, err := r.Create("sse", ""); err != nil {
		t.Fatalf("Create after Remove: %v", err)
	}
}

func TestRegistry_RemoveIdempotent(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	s, err := r.Create("streaminghttp", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if !r.Remove(s.ID()) {
		t.Fatal("first Remove should report true")
	}
	if r.Remove(s.ID()) {
		t.Fatal("second Remove should report false")
	}
	select {
	case <-s.Done():
	default:
		t.Fatal("removed session should be closed")
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	var created []*Session
	for i := 0; i < 3; i++ {
		s, err := r.Create("stdio", "")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		created = append(created, s)
	}

	r.CloseAll()
	if r.Len() != 0 {
		t.Fatalf("Len after CloseAll = %d, want 0", r.Len())
	}
	for _, s := range created {
		select {
		case <-s.Done():
		default:
			t.Fatalf("session %s not closed", s.ID())
		}
	}
	r.CloseAll() // idempotent
}

func TestSession_SendAndMessages(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	s, err := r.Create("sse", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	want := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, m := range want {
		if err := s.Send(m); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	for i, m := range want {
		got := <-s.Messages()
		if string(got) != string(m) {
			t.Fatalf("message %d = %q, want %q", i, got, m)
		}
	}
}

func TestSession_SendAfterClose(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	s, err := r.Create("sse", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s.Close()
	s.Close() // idempotent

	if err := s.Send([]byte("late")); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if s.TrySend([]byte("late")) {
		t.Fatal("TrySend after Close should report false")
	}
}

func TestSession_TrySendFullQueue(t *testing.T) {
	t.Parallel()
	r := NewRegistry(WithQueueSize(1))
	s, err := r.Create("sse", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if !s.TrySend([]byte("a")) {
		t.Fatal("first TrySend should succeed")
	}
	if s.TrySend([]byte("b")) {
		t.Fatal("TrySend on a full queue should report false")
	}
	<-s.Messages()
	if !s.TrySend([]byte("c")) {
		t.Fatal("TrySend after drain should succeed")
	}
}

func TestSession_IDsAreUnique(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		s, err := r.Create("stdio", "")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if seen[s.ID()] {
			t.Fatalf("duplicate session id %q", s.ID())
		}
		seen[s.ID()] = true
	}
}

func TestSession_StreamClaim(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	s, err := r.Create("streaminghttp", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if !s.AcquireStream() {
		t.Fatal("first AcquireStream should succeed")
	}
	if s.AcquireStream() {
		t.Fatal("AcquireStream while held should report false")
	}
	s.ReleaseStream()
	if !s.AcquireStream() {
		t.Fatal("AcquireStream after release should succeed")
	}
}
