package mcpservice

import (
	"context"
	"testing"
)

func TestChangeNotifier_FanOut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var cn ChangeNotifier
	a := cn.Subscriber()
	b := cn.Subscriber()

	if err := cn.Notify(ctx); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	for name, ch := range map[string]<-chan struct{}{"a": a, "b": b} {
		select {
		case <-ch:
		default:
			t.Fatalf("subscriber %s did not receive tick", name)
		}
	}
}

func TestChangeNotifier_NonBlockingCoalesce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var cn ChangeNotifier
	ch := cn.Subscriber()

	// Undrained ticks coalesce; Notify never blocks.
	for i := 0; i < 3; i++ {
		if err := cn.Notify(ctx); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	<-ch
	select {
	case <-ch:
		t.Fatal("coalesced ticks should leave at most one pending")
	default:
	}
}

func TestChangeNotifier_Close(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var cn ChangeNotifier
	ch := cn.Subscriber()
	cn.Close()
	cn.Close() // idempotent

	if _, ok := <-ch; ok {
		t.Fatal("subscriber channel should be closed")
	}
	if err := cn.Notify(ctx); err != nil {
		t.Fatalf("Notify after Close: %v", err)
	}
	if _, ok := <-cn.Subscriber(); ok {
		t.Fatal("post-close Subscriber should return a closed channel")
	}
}
