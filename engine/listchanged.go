package engine

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mcpdemo/server-go/internal/jsonrpc"
	"github.com/mcpdemo/server-go/mcp"
	"github.com/mcpdemo/server-go/mcpservice"
)

// ForwardListChanges bridges capability change feeds to connected clients.
// Whenever a tool, resource or prompt list changes, the matching
// list_changed notification is broadcast to every live session. It blocks
// until ctx is canceled and is typically run from its own goroutine.
func (e *Engine) ForwardListChanges(ctx context.Context) {
	if tc, ok, err := e.caps.GetToolsCapability(ctx); err == nil && ok {
		if sub, ok, err := tc.GetListChangedCapability(ctx); err == nil && ok {
			go e.forward(ctx, sub, mcp.ToolsListChangedNotificationMethod)
		}
	}
	if rc, ok, err := e.caps.GetResourcesCapability(ctx); err == nil && ok {
		if sub, ok, err := rc.GetListChangedCapability(ctx); err == nil && ok {
			go e.forward(ctx, sub, mcp.ResourcesListChangedNotificationMethod)
		}
	}
	if pc, ok, err := e.caps.GetPromptsCapability(ctx); err == nil && ok {
		if sub, ok, err := pc.GetListChangedCapability(ctx); err == nil && ok {
			go e.forward(ctx, sub, mcp.PromptsListChangedNotificationMethod)
		}
	}
	<-ctx.Done()
}

func (e *Engine) forward(ctx context.Context, sub mcpservice.ChangeSubscriber, method mcp.Method) {
	ch := sub.Subscriber()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			e.broadcast(ctx, method)
		}
	}
}

// broadcast enqueues a notification on every live session. Sessions that are
// already closed are skipped; ordering within each session is preserved by
// its single writer.
func (e *Engine) broadcast(ctx context.Context, method mcp.Method) {
	note, err := jsonrpc.NewRequest(nil, string(method), nil)
	if err != nil {
		return
	}
	payload, err := json.Marshal(note)
	if err != nil {
		return
	}
	sessions := e.registry.Snapshot()
	for _, s := range sessions {
		s.TrySend(payload)
	}
	e.log.DebugContext(ctx, "engine.broadcast.list_changed",
		slog.String("method", string(method)),
		slog.Int("sessions", len(sessions)),
	)
}
