package tests

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/mcpdemo/server-go/engine"
	"github.com/mcpdemo/server-go/mcp"
	"github.com/mcpdemo/server-go/mcpservice"
	"github.com/mcpdemo/server-go/sessions"
	"github.com/mcpdemo/server-go/streaminghttp"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func newE2EServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	caps := mcpservice.NewServer(
		mcpservice.WithServerInfo("e2e-server", "0.0.1"),
		mcpservice.WithInstructions("Call echo to get started."),
		mcpservice.WithToolsCapability(mcpservice.NewToolsContainer(
			mcpservice.NewTool("echo", func(ctx context.Context, args struct {
				Message string `json:"message"`
			}) (*mcp.CallToolResult, error) {
				return mcpservice.TextResult(args.Message), nil
			}, mcpservice.WithToolDescription("Echo a message back.")),
		)),
		mcpservice.WithResourcesCapability(mcpservice.NewResourcesContainer(
			[]mcp.Resource{{URI: "demo://greeting", Name: "greeting", MimeType: "text/plain"}},
			map[string][]mcp.ResourceContents{
				"demo://greeting": {{URI: "demo://greeting", MimeType: "text/plain", Text: "hello"}},
			},
		)),
		mcpservice.WithPromptsCapability(mcpservice.NewPromptsContainer(mcpservice.StaticPrompt{
			Descriptor: mcp.Prompt{
				Name:      "shout",
				Arguments: []mcp.PromptArgument{{Name: "text", Required: true}},
			},
			Handler: func(ctx context.Context, req *mcp.GetPromptRequestReceived) (*mcp.GetPromptResult, error) {
				return &mcp.GetPromptResult{
					Messages: []mcp.PromptMessage{{
						Role:    mcp.RoleUser,
						Content: mcp.ContentBlock{Type: "text", Text: req.Arguments["text"] + "!"},
					}},
				}, nil
			},
		})),
	)
	registry := sessions.NewRegistry(sessions.WithLogger(log))
	eng := engine.New(log, caps, registry)
	h := streaminghttp.New("/mcp", registry, eng, streaminghttp.WithLogger(log))

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	t.Cleanup(registry.CloseAll)
	return srv
}

func connect(t *testing.T, srv *httptest.Server) *sdk.ClientSession {
	t.Helper()
	ctx := t.Context()
	client := sdk.NewClient(&sdk.Implementation{Name: "e2e", Version: "0.0.0"}, &sdk.ClientOptions{})
	transport := &sdk.StreamableClientTransport{Endpoint: srv.URL + "/mcp"}
	cs, err := client.Connect(ctx, transport, &sdk.ClientSessionOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func TestE2E_ToolsListAndCall(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	srv := newE2EServer(t)
	cs := connect(t, srv)

	lt, err := cs.ListTools(ctx, &sdk.ListToolsParams{})
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(lt.Tools) != 1 || lt.Tools[0].Name != "echo" {
		t.Fatalf("unexpected tools: %+v", lt.Tools)
	}

	res, err := cs.CallTool(ctx, &sdk.CallToolParams{
		Name:      "echo",
		Arguments: map[string]any{"message": "hello"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if len(res.Content) == 0 {
		t.Fatalf("empty call result: %+v", res)
	}
	if tc, ok := res.Content[0].(*sdk.TextContent); !ok || tc.Text != "hello" {
		t.Fatalf("unexpected content: %+v", res.Content[0])
	}
}

func TestE2E_Resources(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	srv := newE2EServer(t)
	cs := connect(t, srv)

	lr, err := cs.ListResources(ctx, &sdk.ListResourcesParams{})
	if err != nil {
		t.Fatalf("ListResources: %v", err)
	}
	if len(lr.Resources) != 1 || lr.Resources[0].URI != "demo://greeting" {
		t.Fatalf("unexpected resources: %+v", lr.Resources)
	}

	rr, err := cs.ReadResource(ctx, &sdk.ReadResourceParams{URI: "demo://greeting"})
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	if len(rr.Contents) != 1 || rr.Contents[0].Text != "hello" {
		t.Fatalf("unexpected contents: %+v", rr.Contents)
	}
}

func TestE2E_Prompts(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	srv := newE2EServer(t)
	cs := connect(t, srv)

	lp, err := cs.ListPrompts(ctx, &sdk.ListPromptsParams{})
	if err != nil {
		t.Fatalf("ListPrompts: %v", err)
	}
	if len(lp.Prompts) != 1 || lp.Prompts[0].Name != "shout" {
		t.Fatalf("unexpected prompts: %+v", lp.Prompts)
	}

	gp, err := cs.GetPrompt(ctx, &sdk.GetPromptParams{
		Name:      "shout",
		Arguments: map[string]string{"text": "hey"},
	})
	if err != nil {
		t.Fatalf("GetPrompt: %v", err)
	}
	if len(gp.Messages) != 1 {
		t.Fatalf("unexpected messages: %+v", gp.Messages)
	}
	if tc, ok := gp.Messages[0].Content.(*sdk.TextContent); !ok || tc.Text != "hey!" {
		t.Fatalf("unexpected prompt content: %+v", gp.Messages[0].Content)
	}
}

func TestE2E_Ping(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	srv := newE2EServer(t)
	cs := connect(t, srv)

	if err := cs.Ping(ctx, &sdk.PingParams{}); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
