package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/mcpdemo/server-go/engine"
	"github.com/mcpdemo/server-go/internal/jsonrpc"
	"github.com/mcpdemo/server-go/internal/logctx"
	"github.com/mcpdemo/server-go/sessions"
)

const (
	transportName = "stdio"

	maxLineBytes = 4 << 20
)

// Handler runs the line-framed transport over a reader/writer pair,
// defaulting to stdin/stdout. Requests are processed strictly in order: a
// request's response is written before the next line is read.
type Handler struct {
	r   io.Reader
	w   io.Writer
	log *slog.Logger

	eng      *engine.Engine
	registry *sessions.Registry
}

// New constructs a Handler bound to stdin/stdout. Use options to substitute
// streams in tests.
func New(registry *sessions.Registry, eng *engine.Engine, opts ...Option) *Handler {
	h := &Handler{
		r:        os.Stdin,
		w:        os.Stdout,
		log:      slog.New(logctx.Handler{Handler: slog.Default().Handler()}),
		eng:      eng,
		registry: registry,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve processes messages until the input closes, the context is canceled,
// or the session is shut down. A closed input is terminal: the session is
// removed and Serve returns nil.
func (h *Handler) Serve(ctx context.Context) error {
	sess, err := h.registry.Create(transportName, "")
	if err != nil {
		return err
	}
	defer h.registry.Remove(sess.ID())

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: sess.ID(),
		Transport: transportName,
	})
	h.log.InfoContext(ctx, "stdio.serve.start")

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(h.r)
		sc.Buffer(make([]byte, 64*1024), maxLineBytes)
		for sc.Scan() {
			line := make([]byte, len(sc.Bytes()))
			copy(line, sc.Bytes())
			select {
			case lines <- line:
			case <-sess.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			h.log.InfoContext(ctx, "stdio.serve.cancelled")
			return ctx.Err()
		case <-sess.Done():
			h.log.InfoContext(ctx, "stdio.serve.session_closed")
			return nil
		case payload := <-sess.Messages():
			if err := h.writeLine(payload); err != nil {
				return err
			}
		case line, ok := <-lines:
			if !ok {
				err := <-readErr
				if err != nil && !errors.Is(err, io.EOF) {
					h.log.WarnContext(ctx, "stdio.read.fail", slog.String("err", err.Error()))
					return err
				}
				h.log.InfoContext(ctx, "stdio.serve.eof")
				return nil
			}
			if len(line) == 0 {
				continue
			}
			if err := h.handleLine(ctx, sess, line); err != nil {
				return err
			}
		}
	}
}

// handleLine parses and dispatches one inbound frame, writing any response
// before returning so request/response ordering is preserved.
func (h *Handler) handleLine(ctx context.Context, sess *sessions.Session, line []byte) error {
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		h.log.WarnContext(ctx, "stdio.message.invalid", slog.String("err", err.Error()))
		res := jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeParseError, "parse error: "+err.Error(), nil)
		return h.writeResponse(ctx, res)
	}

	req := msg.AsRequest()
	if req == nil {
		// Client responses have no recipient here; drop them.
		h.log.DebugContext(ctx, "stdio.response.ignored")
		return nil
	}
	if req.IsNotification() {
		h.eng.HandleNotification(ctx, sess, req)
		return nil
	}
	return h.writeResponse(ctx, h.eng.HandleRequest(ctx, sess, req))
}

func (h *Handler) writeResponse(ctx context.Context, res *jsonrpc.Response) error {
	payload, err := json.Marshal(res)
	if err != nil {
		h.log.ErrorContext(ctx, "stdio.marshal.fail", slog.String("err", err.Error()))
		return err
	}
	return h.writeLine(payload)
}

func (h *Handler) writeLine(payload []byte) error {
	if _, err := h.w.Write(payload); err != nil {
		return err
	}
	_, err := h.w.Write([]byte{'\n'})
	return err
}
