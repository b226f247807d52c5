package sessions

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrRegistryFull indicates the configured session capacity has been reached.
var ErrRegistryFull = errors.New("session capacity reached")

const defaultQueueSize = 32

// Registry tracks live sessions, enforces admission capacity, and closes all
// sessions during shutdown. All methods are safe for concurrent use.
type Registry struct {
	log         *slog.Logger
	maxSessions int // <= 0 means unlimited
	queueSize   int

	mu       sync.Mutex
	sessions map[string]*Session
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithMaxSessions caps the number of concurrently live sessions. Zero or
// negative means unlimited.
func WithMaxSessions(n int) RegistryOption {
	return func(r *Registry) { r.maxSessions = n }
}

// WithQueueSize sets the per-session outbound queue capacity.
func WithQueueSize(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithLogger sets the registry logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRegistry constructs an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		log:       slog.Default(),
		queueSize: defaultQueueSize,
		sessions:  make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create admits a new session. It fails with ErrRegistryFull when the
// capacity limit is reached.
func (r *Registry) Create(transport, protocolVersion string) (*Session, error) {
	r.mu.Lock()
	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		n := len(r.sessions)
		r.mu.Unlock()
		r.log.Warn("sessions.create.capacity",
			slog.String("transport", transport),
			slog.Int("live", n),
			slog.Int("max", r.maxSessions),
		)
		return nil, ErrRegistryFull
	}
	s := newSession(transport, protocolVersion, r.queueSize)
	r.sessions[s.ID()] = s
	n := len(r.sessions)
	r.mu.Unlock()

	r.log.Info("sessions.create.ok",
		slog.String("sid", s.ID()),
		slog.String("transport", transport),
		slog.Int("live", n),
	)
	return s, nil
}

// Get returns the live session with the given id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	return s, ok
}

// Remove closes and deregisters a session. It is idempotent: removing an
// unknown or already-removed id reports false and has no other effect.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	n := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.Close()
	r.log.Info("sessions.remove.ok", slog.String("sid", id), slog.Int("live", n))
	return true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshot returns the current live sessions.
func (r *Registry) Snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// CloseAll closes and deregisters every session. It is idempotent and used
// during graceful shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	closing := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		closing = append(closing, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range closing {
		s.Close()
	}
	if len(closing) > 0 {
		r.log.Info("sessions.close_all.ok", slog.Int("closed", len(closing)))
	}
}
