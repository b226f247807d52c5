package streaminghttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"
	"github.com/mcpdemo/server-go/engine"
	"github.com/mcpdemo/server-go/internal/jsonrpc"
	"github.com/mcpdemo/server-go/internal/logctx"
	"github.com/mcpdemo/server-go/mcp"
	"github.com/mcpdemo/server-go/sessions"
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	// Canonical header names for clarity; Go matches headers case-insensitively.
	lastEventIDHeader        = "Last-Event-ID"
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"

	transportName = "streaminghttp"

	defaultMaxBodyBytes = 4 << 20
	defaultKeepAlive    = 25 * time.Second
)

// writeJSONError emits a minimal JSON body for HTTP-layer rejections before a
// JSON-RPC exchange is possible. This is transport-level, not JSON-RPC
// framing. Shape: {"error":{"code":<httpStatus>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	if ct := w.Header().Get("Content-Type"); ct == "" || ct == jsonMediaType.String() {
		w.Header().Set("Content-Type", jsonMediaType.String())
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// Option configures the Handler.
type Option func(*config)

type config struct {
	logger       *slog.Logger
	maxBodyBytes int64
	keepAlive    time.Duration
}

// WithLogger sets the slog logger. Defaults to slog.Default().
func WithLogger(h *slog.Logger) Option {
	return func(c *config) {
		if h != nil {
			c.logger = h
		}
	}
}

// WithMaxBodyBytes caps the accepted request body size. Defaults to 4 MiB.
func WithMaxBodyBytes(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

// WithKeepAliveInterval sets the comment keep-alive cadence on GET streams.
// Defaults to 25s.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.keepAlive = d
		}
	}
}

// Handler serves the streamable HTTP transport on a single endpoint path.
type Handler struct {
	mux *http.ServeMux
	log *slog.Logger

	eng      *engine.Engine
	registry *sessions.Registry

	maxBodyBytes int64
	keepAlive    time.Duration
}

// lockedWriteFlusher serializes writes/flushes to an SSE response body and
// refuses to write after the request context is canceled.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// New constructs a Handler serving the given endpoint path (e.g. "/mcp").
func New(endpointPath string, registry *sessions.Registry, eng *engine.Engine, opts ...Option) *Handler {
	cfg := &config{
		logger:       slog.Default(),
		maxBodyBytes: defaultMaxBodyBytes,
		keepAlive:    defaultKeepAlive,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if endpointPath == "" {
		endpointPath = "/"
	}

	h := &Handler{
		log:          slog.New(logctx.Handler{Handler: cfg.logger.Handler()}),
		eng:          eng,
		registry:     registry,
		maxBodyBytes: cfg.maxBodyBytes,
		keepAlive:    cfg.keepAlive,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("POST %s", endpointPath), h.handlePost)
	mux.HandleFunc(fmt.Sprintf("GET %s", endpointPath), h.handleGet)
	mux.HandleFunc(fmt.Sprintf("DELETE %s", endpointPath), h.handleDelete)
	h.mux = mux
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// handlePost accepts one JSON-RPC message per request. Four shapes are
// handled: an initialize request creating a session, a notification on an
// existing session, a request on an existing session (answered over an
// SSE-framed body), and a stateless one-shot request without a session.
func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start")

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "http.post.content_type.unsupported")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		h.log.WarnContext(ctx, "http.post.decode.fail", slog.String("err", err.Error()))
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		writeJSONError(w, http.StatusBadRequest, "JSON-RPC batch arrays are not supported")
		h.log.WarnContext(ctx, "http.post.batch.forbidden")
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON-RPC message: "+err.Error())
		h.log.WarnContext(ctx, "http.post.message.invalid", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
	})

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		h.handleSessionless(ctx, w, r, &msg, start)
		return
	}

	sess, ok := h.registry.Get(sessID)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "session not found")
		h.log.InfoContext(ctx, "session.load.miss")
		return
	}
	sess.Touch()
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID(),
		Transport:       transportName,
		ProtocolVersion: sess.ProtocolVersion(),
	})
	h.log.DebugContext(ctx, "session.load.ok")

	req := msg.AsRequest()
	if req != nil && req.Method == string(mcp.InitializeMethod) {
		writeJSONError(w, http.StatusConflict, "session already initialized")
		h.log.WarnContext(ctx, "session.initialize.redundant")
		return
	}
	if pv := r.Header.Get(mcpProtocolVersionHeader); pv != "" && pv != sess.ProtocolVersion() {
		writeJSONError(w, http.StatusBadRequest, "protocol version mismatch")
		h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", pv))
		return
	}

	if req == nil {
		// Responses from the client are not expected; the server issues no
		// client-directed requests. Accept and drop.
		w.WriteHeader(http.StatusAccepted)
		h.log.DebugContext(ctx, "http.post.response.ignored")
		return
	}

	if req.IsNotification() {
		h.eng.HandleNotification(ctx, sess, req)
		w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion())
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "http.post.notification.ok", slog.Duration("dur", time.Since(start)))
		return
	}

	if acc := r.Header.Get("Accept"); acc != "" {
		if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
			w.WriteHeader(http.StatusNotAcceptable)
			h.log.WarnContext(ctx, "http.post.accept.unsupported", slog.String("accept", acc))
			return
		}
	}

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "http.post.flusher.missing")
		return
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion())
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	res := h.eng.HandleRequest(ctx, sess, req)
	b, err := json.Marshal(res)
	if err != nil {
		h.log.ErrorContext(ctx, "http.post.marshal.fail", slog.String("err", err.Error()))
		return
	}
	if err := writeSSEEvent(wf, "", b); err != nil {
		h.log.ErrorContext(ctx, "http.post.sse_write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "http.post.request.ok", slog.Duration("dur", time.Since(start)))
}

// handleSessionless covers POSTs without a session header: an initialize
// request admits a new session; any other request runs as a stateless
// one-shot; notifications are accepted and dropped.
func (h *Handler) handleSessionless(ctx context.Context, w http.ResponseWriter, r *http.Request, msg *jsonrpc.AnyMessage, start time.Time) {
	req := msg.AsRequest()
	if req == nil {
		writeJSONError(w, http.StatusBadRequest, "unexpected response message")
		h.log.WarnContext(ctx, "http.post.response.unexpected")
		return
	}

	if req.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		h.log.DebugContext(ctx, "http.post.notification.sessionless")
		return
	}

	if req.Method == string(mcp.InitializeMethod) {
		var initReq mcp.InitializeRequest
		if err := json.Unmarshal(req.Params, &initReq); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid initialize params")
			h.log.WarnContext(ctx, "session.initialize.params.fail", slog.String("err", err.Error()))
			return
		}
		sess, err := h.registry.Create(transportName, initReq.ProtocolVersion)
		if err != nil {
			writeJSONError(w, http.StatusServiceUnavailable, "session capacity reached")
			h.log.WarnContext(ctx, "session.initialize.capacity")
			return
		}
		initRes, err := h.eng.Initialize(ctx, sess, &initReq)
		if err != nil {
			h.registry.Remove(sess.ID())
			writeJSONError(w, http.StatusInternalServerError, "failed to initialize session")
			h.log.ErrorContext(ctx, "session.initialize.fail", slog.String("err", err.Error()))
			return
		}
		ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
			SessionID:       sess.ID(),
			Transport:       transportName,
			ProtocolVersion: sess.ProtocolVersion(),
		})

		resp, err := jsonrpc.NewResultResponse(req.ID, initRes)
		if err != nil {
			h.registry.Remove(sess.ID())
			writeJSONError(w, http.StatusInternalServerError, "failed to encode initialize response")
			h.log.ErrorContext(ctx, "session.initialize.encode.fail", slog.String("err", err.Error()))
			return
		}
		w.Header().Set(mcpSessionIDHeader, sess.ID())
		w.Header().Set(mcpProtocolVersionHeader, initRes.ProtocolVersion)
		w.Header().Set("Content-Type", jsonMediaType.String())
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			h.log.ErrorContext(ctx, "session.initialize.write.fail", slog.String("err", err.Error()))
		}
		h.log.InfoContext(ctx, "session.initialize.ok", slog.Duration("dur", time.Since(start)))
		return
	}

	// Stateless one-shot for clients that skip the handshake.
	res := h.eng.HandleRequest(ctx, nil, req)
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		h.log.ErrorContext(ctx, "http.post.oneshot.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "http.post.oneshot.ok", slog.Duration("dur", time.Since(start)))
}

// handleGet opens the server push stream for an existing session. Messages
// queued on the session are delivered as SSE events with monotonically
// increasing ids; comment lines keep intermediaries from timing the stream
// out. A session carries at most one push stream at a time; a second GET is
// rejected with 409. When the client disconnects the session is removed.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		w.WriteHeader(http.StatusNotAcceptable)
		h.log.WarnContext(ctx, "http.get.accept.unsupported")
		return
	}
	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "http.get.flusher.missing")
		return
	}

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		w.WriteHeader(http.StatusBadRequest)
		h.log.WarnContext(ctx, "http.get.session_id.missing")
		return
	}
	sess, ok := h.registry.Get(sessID)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		h.log.InfoContext(ctx, "session.load.miss")
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID(),
		Transport:       transportName,
		ProtocolVersion: sess.ProtocolVersion(),
	})

	if pv := r.Header.Get(mcpProtocolVersionHeader); pv != "" && pv != sess.ProtocolVersion() {
		w.WriteHeader(http.StatusBadRequest)
		h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", pv))
		return
	}
	if lastID := r.Header.Get(lastEventIDHeader); lastID != "" {
		// Delivered events are not retained, so resumption restarts the feed.
		h.log.InfoContext(ctx, "http.get.resume", slog.String("last_event_id", lastID))
	}

	// One writer per session queue; a competing GET would split the feed.
	if !sess.AcquireStream() {
		w.WriteHeader(http.StatusConflict)
		h.log.WarnContext(ctx, "http.get.stream.conflict")
		return
	}
	defer sess.ReleaseStream()

	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}
	w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion())
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	h.log.InfoContext(ctx, "sse.stream.start")

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	var eventID uint64
	for {
		select {
		case <-ctx.Done():
			// Client went away; the session is gone with it.
			h.registry.Remove(sess.ID())
			h.log.InfoContext(ctx, "sse.stream.disconnect", slog.Duration("dur", time.Since(start)))
			return
		case <-sess.Done():
			h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
			return
		case <-keepAlive.C:
			if _, err := wf.Write([]byte(": keep-alive\n\n")); err != nil {
				h.registry.Remove(sess.ID())
				return
			}
			wf.Flush()
		case payload := <-sess.Messages():
			eventID++
			if err := writeSSEEvent(wf, strconv.FormatUint(eventID, 10), payload); err != nil {
				h.registry.Remove(sess.ID())
				h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
				return
			}
			h.log.DebugContext(ctx, "sse.message.deliver")
		}
	}
}

// handleDelete terminates an existing session.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.delete.start")

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		w.WriteHeader(http.StatusBadRequest)
		h.log.WarnContext(ctx, "http.delete.session_id.missing")
		return
	}
	sess, ok := h.registry.Get(sessID)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		h.log.InfoContext(ctx, "session.delete.miss")
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID(),
		Transport:       transportName,
		ProtocolVersion: sess.ProtocolVersion(),
	})

	if pv := r.Header.Get(mcpProtocolVersionHeader); pv != "" && pv != sess.ProtocolVersion() {
		w.WriteHeader(http.StatusBadRequest)
		h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", pv))
		return
	}

	h.registry.Remove(sess.ID())
	w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion())
	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "http.delete.ok", slog.Duration("dur", time.Since(start)))
}

// writeSSEEvent writes one Server-Sent Event and flushes it.
func writeSSEEvent(wf *lockedWriteFlusher, msgID string, payload []byte) error {
	if msgID != "" {
		if _, err := fmt.Fprintf(wf, "id: %s\n", msgID); err != nil {
			return fmt.Errorf("write SSE event id: %w", err)
		}
	}
	if _, err := wf.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("write SSE data prefix: %w", err)
	}
	if _, err := wf.Write(payload); err != nil {
		return fmt.Errorf("write SSE payload: %w", err)
	}
	if _, err := wf.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("write SSE frame terminator: %w", err)
	}
	wf.Flush()
	return nil
}
