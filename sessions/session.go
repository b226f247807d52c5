package sessions

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrSessionClosed is returned by Send after a session has been closed.
var ErrSessionClosed = errors.New("session closed")

// Session is one live client connection. Outbound messages are queued on an
// internal channel and drained by a single transport writer goroutine, so
// messages for a session are delivered in the order they were enqueued.
type Session struct {
	id              string
	transport       string
	protocolVersion string
	createdAt       time.Time

	lastActivity atomic.Int64 // unix nanos

	mu        sync.Mutex
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once

	streamClaimed atomic.Bool
}

// newSession is called by the Registry only.
func newSession(transport, protocolVersion string, queueSize int) *Session {
	now := time.Now()
	s := &Session{
		id:              newSessionID(now),
		transport:       transport,
		protocolVersion: protocolVersion,
		createdAt:       now,
		out:             make(chan []byte, queueSize),
		done:            make(chan struct{}),
	}
	s.lastActivity.Store(now.UnixNano())
	return s
}

// newSessionID builds an opaque, unguessable identifier. The timestamp prefix
// keeps IDs roughly sortable in logs; the UUID suffix carries the entropy.
func newSessionID(now time.Time) string {
	return strconv.FormatInt(now.UnixNano(), 36) + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ID returns the opaque session identifier.
func (s *Session) ID() string { return s.id }

// Transport returns the name of the transport that created the session.
func (s *Session) Transport() string { return s.transport }

// ProtocolVersion returns the protocol revision negotiated at initialize.
func (s *Session) ProtocolVersion() string { return s.protocolVersion }

// SetProtocolVersion records the negotiated protocol revision.
func (s *Session) SetProtocolVersion(v string) {
	s.mu.Lock()
	s.protocolVersion = v
	s.mu.Unlock()
}

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Touch records client activity for diagnostics.
func (s *Session) Touch() { s.lastActivity.Store(time.Now().UnixNano()) }

// LastActivity returns the time of the most recent Touch.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Send enqueues an outbound message for the transport writer. It blocks while
// the queue is full and fails once the session is closed.
func (s *Session) Send(msg []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.out <- msg:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

// TrySend enqueues an outbound message without blocking. It reports false
// when the session is closed or its queue is full. Used for best-effort
// notifications so a stalled session cannot block a broadcaster.
func (s *Session) TrySend(msg []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- msg:
		return true
	default:
		return false
	}
}

// Messages returns the outbound queue. Exactly one goroutine (the transport
// writer) should range over it; transports enforce this with AcquireStream.
func (s *Session) Messages() <-chan []byte { return s.out }

// AcquireStream claims the session's push stream for a single writer. It
// reports false while another writer already holds the claim.
func (s *Session) AcquireStream() bool {
	return s.streamClaimed.CompareAndSwap(false, true)
}

// ReleaseStream gives up the claim taken by AcquireStream.
func (s *Session) ReleaseStream() {
	s.streamClaimed.Store(false)
}

// Done is closed when the session is terminated.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close terminates the session. It is idempotent and safe to call from any
// goroutine; pending queued messages are discarded by the departing writer.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
