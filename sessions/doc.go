// Package sessions tracks live protocol sessions across transports. The
// Registry is the single source of truth for admission control and graceful
// shutdown; each Session owns an outbound message queue drained by exactly
// one transport writer, which preserves per-session message ordering.
package sessions
