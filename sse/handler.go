// Package sse implements the legacy HTTP+SSE transport: the client opens a
// long-lived event stream with GET, learns its message endpoint from the
// first "endpoint" event, and posts JSON-RPC messages to it. All
// server-to-client traffic, including responses, flows over the stream.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mcpdemo/server-go/engine"
	"github.com/mcpdemo/server-go/internal/jsonrpc"
	"github.com/mcpdemo/server-go/internal/logctx"
	"github.com/mcpdemo/server-go/sessions"
	"github.com/tmaxmax/go-sse"
)

const (
	transportName = "sse"

	sessionIDParam = "sessionID"

	endpointEventType  = "endpoint"
	connectedEventType = "connected"
	messageEventType   = "message"
	keepAliveEventType = "keep-alive"

	defaultKeepAlive    = 25 * time.Second
	defaultMaxBodyBytes = 4 << 20
)

// Option configures the Handler.
type Option func(*Handler)

// WithLogger sets the slog logger. Defaults to slog.Default().
func WithLogger(h *slog.Logger) Option {
	return func(s *Handler) {
		if h != nil {
			s.log = slog.New(logctx.Handler{Handler: h.Handler()})
		}
	}
}

// WithKeepAliveInterval sets the keep-alive event cadence. Defaults to 25s.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(s *Handler) {
		if d > 0 {
			s.keepAlive = d
		}
	}
}

// WithMaxBodyBytes caps the accepted POST body size. Defaults to 4 MiB.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Handler) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// Handler serves the legacy SSE transport. HandleStream upgrades GET requests
// to event streams and HandleMessage accepts the posted messages.
type Handler struct {
	log         *slog.Logger
	eng         *engine.Engine
	registry    *sessions.Registry
	messagePath string

	keepAlive    time.Duration
	maxBodyBytes int64
}

// New constructs a Handler. messagePath is the path clients are told to POST
// to (e.g. "/messages"); the sessionID query parameter is appended per
// session.
func New(messagePath string, registry *sessions.Registry, eng *engine.Engine, opts ...Option) *Handler {
	h := &Handler{
		log:          slog.New(logctx.Handler{Handler: slog.Default().Handler()}),
		eng:          eng,
		registry:     registry,
		messagePath:  messagePath,
		keepAlive:    defaultKeepAlive,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleStream returns the GET handler that upgrades to an event stream. The
// first event names the session's message endpoint and a connected event
// carries the bare session id; afterwards queued session messages and
// keep-alive events are delivered until the client disconnects or the session
// is closed. Cleanup runs exactly once either way.
func (h *Handler) HandleStream() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		h.log.InfoContext(ctx, "sse.stream.open")

		sess, err := h.registry.Create(transportName, "")
		if err != nil {
			http.Error(w, "session capacity reached", http.StatusServiceUnavailable)
			h.log.WarnContext(ctx, "sse.stream.capacity")
			return
		}
		defer h.registry.Remove(sess.ID())

		ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
			SessionID: sess.ID(),
			Transport: transportName,
		})

		stream, err := sse.Upgrade(w, r)
		if err != nil {
			http.Error(w, "cannot upgrade to event stream", http.StatusInternalServerError)
			h.log.ErrorContext(ctx, "sse.upgrade.fail", slog.String("err", err.Error()))
			return
		}

		endpoint := fmt.Sprintf("%s?%s=%s", h.messagePath, sessionIDParam, sess.ID())
		if err := h.sendEvent(stream, endpointEventType, endpoint); err != nil {
			h.log.ErrorContext(ctx, "sse.endpoint.fail", slog.String("err", err.Error()))
			return
		}
		h.log.InfoContext(ctx, "sse.endpoint.ok", slog.String("endpoint", endpoint))

		if err := h.sendEvent(stream, connectedEventType, sess.ID()); err != nil {
			h.log.ErrorContext(ctx, "sse.connected.fail", slog.String("err", err.Error()))
			return
		}

		keepAlive := time.NewTicker(h.keepAlive)
		defer keepAlive.Stop()

		start := time.Now()
		for {
			select {
			case <-ctx.Done():
				h.log.InfoContext(ctx, "sse.stream.disconnect", slog.Duration("dur", time.Since(start)))
				return
			case <-sess.Done():
				h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
				return
			case <-keepAlive.C:
				if err := h.sendEvent(stream, keepAliveEventType, "{}"); err != nil {
					h.log.WarnContext(ctx, "sse.keep_alive.fail", slog.String("err", err.Error()))
					return
				}
			case payload := <-sess.Messages():
				if err := h.sendEvent(stream, messageEventType, string(payload)); err != nil {
					h.log.ErrorContext(ctx, "sse.message.fail", slog.String("err", err.Error()))
					return
				}
				h.log.DebugContext(ctx, "sse.message.deliver")
			}
		}
	})
}

// HandleMessage returns the POST handler for client-to-server messages. The
// message is dispatched asynchronously; requests are answered over the
// session's event stream and the POST itself only acknowledges receipt.
func (h *Handler) HandleMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		sessID := r.URL.Query().Get(sessionIDParam)
		if sessID == "" {
			http.Error(w, "missing sessionID query parameter", http.StatusBadRequest)
			h.log.WarnContext(ctx, "sse.post.session_id.missing")
			return
		}
		sess, ok := h.registry.Get(sessID)
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			h.log.InfoContext(ctx, "session.load.miss")
			return
		}
		sess.Touch()
		ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
			SessionID:       sess.ID(),
			Transport:       transportName,
			ProtocolVersion: sess.ProtocolVersion(),
		})

		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
		var msg jsonrpc.AnyMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, "invalid JSON-RPC message: "+err.Error(), http.StatusBadRequest)
			h.log.WarnContext(ctx, "sse.post.message.invalid", slog.String("err", err.Error()))
			return
		}

		req := msg.AsRequest()
		if req == nil {
			// Client responses have no recipient on this server; drop them.
			w.WriteHeader(http.StatusAccepted)
			h.log.DebugContext(ctx, "sse.post.response.ignored")
			return
		}

		// Dispatch off the request goroutine. The session queue serializes
		// delivery, so responses still arrive on the stream in order.
		dispatchCtx := logctx.WithSessionData(context.WithoutCancel(ctx), &logctx.SessionData{
			SessionID:       sess.ID(),
			Transport:       transportName,
			ProtocolVersion: sess.ProtocolVersion(),
		})
		go h.dispatch(dispatchCtx, sess, req)

		w.WriteHeader(http.StatusAccepted)
	})
}

func (h *Handler) dispatch(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) {
	if req.IsNotification() {
		h.eng.HandleNotification(ctx, sess, req)
		return
	}
	res := h.eng.HandleRequest(ctx, sess, req)
	payload, err := json.Marshal(res)
	if err != nil {
		h.log.ErrorContext(ctx, "sse.dispatch.marshal.fail", slog.String("err", err.Error()))
		return
	}
	if err := sess.Send(payload); err != nil {
		h.log.WarnContext(ctx, "sse.dispatch.send.fail", slog.String("err", err.Error()))
	}
}

// sendEvent writes one typed event to the stream and flushes it.
func (h *Handler) sendEvent(stream *sse.Session, eventType, data string) error {
	msg := &sse.Message{Type: sse.Type(eventType)}
	msg.AppendData(data)
	if err := stream.Send(msg); err != nil {
		return err
	}
	return stream.Flush()
}
