package mcpservice

import (
	"context"
	"sync"
)

// ChangeSubscriber exposes a change feed. Each call to Subscriber returns an
// independent channel that ticks after every change.
type ChangeSubscriber interface {
	Subscriber() <-chan struct{}
}

// ChangeNotifier is a small in-process fan-out used by the container types to
// signal that a list has changed. The zero value is ready to use.
type ChangeNotifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan struct{}
	closed bool
}

// Notify delivers a tick to every subscriber. Sends are non-blocking; a
// subscriber that has not drained its previous tick keeps a single pending
// one, which is enough to trigger a re-list.
func (cn *ChangeNotifier) Notify(ctx context.Context) error {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.closed {
		return nil
	}
	for _, ch := range cn.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// Subscriber registers a new listener. The returned channel has capacity 1 so
// Notify never blocks. After Close the channel is already closed.
func (cn *ChangeNotifier) Subscriber() <-chan struct{} {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	ch := make(chan struct{}, 1)
	if cn.closed {
		close(ch)
		return ch
	}
	if cn.subs == nil {
		cn.subs = make(map[int]chan struct{})
	}
	cn.subs[cn.nextID] = ch
	cn.nextID++
	return ch
}

// Close terminates the notifier and closes all subscriber channels. It is
// idempotent.
func (cn *ChangeNotifier) Close() {
	cn.mu.Lock()
	if cn.closed {
		cn.mu.Unlock()
		return
	}
	cn.closed = true
	subs := cn.subs
	cn.subs = nil
	cn.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}
