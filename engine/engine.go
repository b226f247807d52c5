// Package engine dispatches protocol requests to server capabilities. It is
// transport independent: every transport parses its own framing and hands
// requests here for uniform semantics and error mapping.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/mcpdemo/server-go/internal/jsonrpc"
	"github.com/mcpdemo/server-go/internal/logctx"
	"github.com/mcpdemo/server-go/mcp"
	"github.com/mcpdemo/server-go/mcpservice"
	"github.com/mcpdemo/server-go/sessions"
)

// requestHandler handles one protocol method. A returned *jsonrpc.Response is
// always non-nil for requests; errors never escape to callers as Go errors.
type requestHandler func(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response

// Engine routes decoded JSON-RPC requests to the capability layer. Methods
// are registered in a dispatch table at construction time.
type Engine struct {
	log      *slog.Logger
	caps     mcpservice.ServerCapabilities
	registry *sessions.Registry
	handlers map[mcp.Method]requestHandler
}

// New constructs an Engine over the given capabilities and session registry.
func New(log *slog.Logger, caps mcpservice.ServerCapabilities, registry *sessions.Registry) *Engine {
	e := &Engine{
		log:      log,
		caps:     caps,
		registry: registry,
	}
	e.handlers = map[mcp.Method]requestHandler{
		mcp.InitializeMethod:      e.handleInitialize,
		mcp.PingMethod:            e.handlePing,
		mcp.ToolsListMethod:       e.handleToolsList,
		mcp.ToolsCallMethod:       e.handleToolsCall,
		mcp.ResourcesListMethod:   e.handleResourcesList,
		mcp.ResourcesReadMethod:   e.handleResourcesRead,
		mcp.PromptsListMethod:     e.handlePromptsList,
		mcp.PromptsGetMethod:      e.handlePromptsGet,
		mcp.LoggingSetLevelMethod: e.handleLoggingSetLevel,
	}
	return e
}

// Handles reports whether the engine knows the given request method.
func (e *Engine) Handles(method string) bool {
	_, ok := e.handlers[mcp.Method(method)]
	return ok
}

// HandleRequest dispatches one request and returns its response. Unknown
// methods yield a method-not-found error response. sess may be nil for
// stateless one-shot requests.
func (e *Engine) HandleRequest(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: req.Method,
		ID:     req.ID.String(),
		Type:   "request",
	})
	start := time.Now()

	h, ok := e.handlers[mcp.Method(req.Method)]
	if !ok {
		e.log.InfoContext(ctx, "engine.handle_request.method_not_found")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "method not found: "+req.Method, nil)
	}

	res := h(ctx, sess, req)
	if res.Error != nil {
		e.log.InfoContext(ctx, "engine.handle_request.error",
			slog.Int("code", int(res.Error.Code)),
			slog.String("err", res.Error.Message),
			slog.Duration("dur", time.Since(start)),
		)
	} else {
		e.log.DebugContext(ctx, "engine.handle_request.ok",
			slog.Duration("dur", time.Since(start)),
		)
	}
	return res
}

// HandleNotification processes one notification. Notifications never produce
// responses; unknown ones are logged and dropped.
func (e *Engine) HandleNotification(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: req.Method,
		Type:   "notification",
	})
	switch mcp.Method(req.Method) {
	case mcp.InitializedNotificationMethod:
		e.log.InfoContext(ctx, "engine.handle_notification.initialized")
	case mcp.CancelledNotificationMethod:
		e.log.DebugContext(ctx, "engine.handle_notification.cancelled")
	default:
		e.log.DebugContext(ctx, "engine.handle_notification.ignored")
	}
	if sess != nil {
		sess.Touch()
	}
}

// Initialize performs the handshake semantics: protocol version negotiation
// and capability advertisement. Transports call it directly when they need
// the typed result (e.g. to stamp the session before replying).
func (e *Engine) Initialize(ctx context.Context, sess *sessions.Session, req *mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	version := mcp.NegotiateProtocolVersion(req.ProtocolVersion)
	if sess != nil {
		sess.SetProtocolVersion(version)
	}

	var caps mcp.ServerCapabilities
	if tc, ok, err := e.caps.GetToolsCapability(ctx); err != nil {
		return nil, err
	} else if ok {
		_, listChanged, err := tc.GetListChangedCapability(ctx)
		if err != nil {
			return nil, err
		}
		caps.Tools = &struct {
			ListChanged bool `json:"listChanged"`
		}{ListChanged: listChanged}
	}
	if rc, ok, err := e.caps.GetResourcesCapability(ctx); err != nil {
		return nil, err
	} else if ok {
		_, listChanged, err := rc.GetListChangedCapability(ctx)
		if err != nil {
			return nil, err
		}
		caps.Resources = &struct {
			ListChanged bool `json:"listChanged"`
		}{ListChanged: listChanged}
	}
	if pc, ok, err := e.caps.GetPromptsCapability(ctx); err != nil {
		return nil, err
	} else if ok {
		_, listChanged, err := pc.GetListChangedCapability(ctx)
		if err != nil {
			return nil, err
		}
		caps.Prompts = &struct {
			ListChanged bool `json:"listChanged"`
		}{ListChanged: listChanged}
	}
	if _, ok, err := e.caps.GetLoggingCapability(ctx); err != nil {
		return nil, err
	} else if ok {
		caps.Logging = &struct{}{}
	}

	info, err := e.caps.GetServerInfo(ctx)
	if err != nil {
		return nil, err
	}
	res := &mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    caps,
		ServerInfo:      info,
	}
	if instr, ok, err := e.caps.GetInstructions(ctx); err != nil {
		return nil, err
	} else if ok {
		res.Instructions = instr
	}
	return res, nil
}

func (e *Engine) handleInitialize(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.InitializeRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid initialize params", nil)
	}
	res, err := e.Initialize(ctx, sess, &params)
	if err != nil {
		return e.internalError(ctx, req.ID, err)
	}
	return e.result(ctx, req.ID, res)
}

func (e *Engine) handlePing(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	if sess != nil {
		sess.Touch()
	}
	return e.result(ctx, req.ID, mcp.EmptyResult{})
}

func (e *Engine) handleToolsList(ctx context.Context, _ *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	tc, ok, err := e.caps.GetToolsCapability(ctx)
	if res := e.requireCapability(ctx, req, ok, err); res != nil {
		return res
	}
	var params mcp.ListToolsRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid list params", nil)
		}
	}
	page, err := tc.ListTools(ctx, cursorPtr(params.Cursor))
	if err != nil {
		return e.capabilityError(ctx, req.ID, err)
	}
	res := mcp.ListToolsResult{Tools: page.Items}
	if page.NextCursor != nil {
		res.NextCursor = *page.NextCursor
	}
	return e.result(ctx, req.ID, res)
}

func (e *Engine) handleToolsCall(ctx context.Context, _ *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	tc, ok, err := e.caps.GetToolsCapability(ctx)
	if res := e.requireCapability(ctx, req, ok, err); res != nil {
		return res
	}
	var params mcp.CallToolRequestReceived
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid tool call params", nil)
	}
	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: params.Name})
	result, err := tc.CallTool(ctx, &params)
	if err != nil {
		return e.capabilityError(ctx, req.ID, err)
	}
	return e.result(ctx, req.ID, result)
}

func (e *Engine) handleResourcesList(ctx context.Context, _ *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	rc, ok, err := e.caps.GetResourcesCapability(ctx)
	if res := e.requireCapability(ctx, req, ok, err); res != nil {
		return res
	}
	var params mcp.ListResourcesRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid list params", nil)
		}
	}
	page, err := rc.ListResources(ctx, cursorPtr(params.Cursor))
	if err != nil {
		return e.capabilityError(ctx, req.ID, err)
	}
	res := mcp.ListResourcesResult{Resources: page.Items}
	if page.NextCursor != nil {
		res.NextCursor = *page.NextCursor
	}
	return e.result(ctx, req.ID, res)
}

func (e *Engine) handleResourcesRead(ctx context.Context, _ *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	rc, ok, err := e.caps.GetResourcesCapability(ctx)
	if res := e.requireCapability(ctx, req, ok, err); res != nil {
		return res
	}
	var params mcp.ReadResourceRequest
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid read params", nil)
	}
	contents, err := rc.ReadResource(ctx, params.URI)
	if err != nil {
		return e.capabilityError(ctx, req.ID, err)
	}
	return e.result(ctx, req.ID, mcp.ReadResourceResult{Contents: contents})
}

func (e *Engine) handlePromptsList(ctx context.Context, _ *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	pc, ok, err := e.caps.GetPromptsCapability(ctx)
	if res := e.requireCapability(ctx, req, ok, err); res != nil {
		return res
	}
	var params mcp.ListPromptsRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid list params", nil)
		}
	}
	page, err := pc.ListPrompts(ctx, cursorPtr(params.Cursor))
	if err != nil {
		return e.capabilityError(ctx, req.ID, err)
	}
	res := mcp.ListPromptsResult{Prompts: page.Items}
	if page.NextCursor != nil {
		res.NextCursor = *page.NextCursor
	}
	return e.result(ctx, req.ID, res)
}

func (e *Engine) handlePromptsGet(ctx context.Context, _ *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	pc, ok, err := e.caps.GetPromptsCapability(ctx)
	if res := e.requireCapability(ctx, req, ok, err); res != nil {
		return res
	}
	var params mcp.GetPromptRequestReceived
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid prompt params", nil)
	}
	result, err := pc.GetPrompt(ctx, &params)
	if err != nil {
		return e.capabilityError(ctx, req.ID, err)
	}
	return e.result(ctx, req.ID, result)
}

func (e *Engine) handleLoggingSetLevel(ctx context.Context, _ *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	lc, ok, err := e.caps.GetLoggingCapability(ctx)
	if res := e.requireCapability(ctx, req, ok, err); res != nil {
		return res
	}
	var params mcp.SetLoggingLevelRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid setLevel params", nil)
	}
	if err := lc.SetLevel(ctx, params.Level); err != nil {
		if errors.Is(err, mcpservice.ErrInvalidLoggingLevel) {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid logging level: "+string(params.Level), nil)
		}
		return e.internalError(ctx, req.ID, err)
	}
	e.log.InfoContext(ctx, "engine.set_level.ok", slog.String("level", string(params.Level)))
	return e.result(ctx, req.ID, mcp.EmptyResult{})
}

// requireCapability returns a method-not-found response when the capability is
// absent, an internal error response on discovery failure, and nil otherwise.
func (e *Engine) requireCapability(ctx context.Context, req *jsonrpc.Request, ok bool, err error) *jsonrpc.Response {
	if err != nil {
		return e.internalError(ctx, req.ID, err)
	}
	if !ok {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "method not found: "+req.Method, nil)
	}
	return nil
}

// capabilityError maps capability-layer errors to protocol error codes.
// Unknown names and invalid arguments surface as invalid-params; anything
// else is internal.
func (e *Engine) capabilityError(ctx context.Context, id *jsonrpc.RequestID, err error) *jsonrpc.Response {
	var unknown *mcpservice.UnknownCapabilityError
	if errors.As(err, &unknown) {
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInvalidParams, unknown.Error(), nil)
	}
	var invalid *mcpservice.InvalidArgumentsError
	if errors.As(err, &invalid) {
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInvalidParams, invalid.Error(), nil)
	}
	return e.internalError(ctx, id, err)
}

func (e *Engine) internalError(ctx context.Context, id *jsonrpc.RequestID, err error) *jsonrpc.Response {
	e.log.ErrorContext(ctx, "engine.internal_error", slog.String("err", err.Error()))
	return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, "internal error", nil)
}

func (e *Engine) result(ctx context.Context, id *jsonrpc.RequestID, v any) *jsonrpc.Response {
	res, err := jsonrpc.NewResultResponse(id, v)
	if err != nil {
		return e.internalError(ctx, id, err)
	}
	return res
}

func cursorPtr(cursor string) *string {
	if cursor == "" {
		return nil
	}
	return &cursor
}
