// Command mcp-demo-server runs a demonstration protocol server exposing a
// small set of tools, resources and prompts over the stdio, streamable HTTP
// and legacy SSE transports.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/mcpdemo/server-go/engine"
	"github.com/mcpdemo/server-go/internal/logctx"
	"github.com/mcpdemo/server-go/mcp"
	"github.com/mcpdemo/server-go/mcpservice"
	"github.com/mcpdemo/server-go/sessions"
	"github.com/mcpdemo/server-go/sse"
	"github.com/mcpdemo/server-go/stdio"
	"github.com/mcpdemo/server-go/streaminghttp"
)

const (
	serverName    = "mcp-demo-server"
	serverVersion = "1.0.0"
)

// Config is populated from the environment via envdecode.
type Config struct {
	// Transport is "http" (streamable HTTP + legacy SSE) or "stdio".
	Transport         string        `env:"MCP_TRANSPORT,default=http"`
	ListenAddr        string        `env:"MCP_LISTEN_ADDR,default=:8080"`
	MaxSessions       int           `env:"MCP_MAX_SESSIONS,default=64"`
	SSEKeepAlive      time.Duration `env:"MCP_SSE_KEEP_ALIVE,default=25s"`
	ValidateArguments bool          `env:"MCP_VALIDATE_ARGUMENTS,default=true"`
	LogLevel          string        `env:"MCP_LOG_LEVEL,default=info"`
	// ResourceDir, when set, serves the directory's files as resources in
	// addition to the built-in static documents.
	ResourceDir string `env:"MCP_RESOURCE_DIR"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("decode config: %w", err)
	}

	levelVar := new(slog.LevelVar)
	if err := levelVar.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("invalid MCP_LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	// Logs always go to stderr; on the stdio transport stdout carries frames.
	log := slog.New(logctx.Handler{Handler: slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})})
	slog.SetDefault(log)

	caps := buildCapabilities(cfg, levelVar)
	registry := sessions.NewRegistry(
		sessions.WithMaxSessions(cfg.MaxSessions),
		sessions.WithLogger(log),
	)
	eng := engine.New(log, caps, registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go eng.ForwardListChanges(ctx)

	switch cfg.Transport {
	case "stdio":
		return runStdio(ctx, log, registry, eng)
	case "http":
		return runHTTP(ctx, log, cfg, registry, eng)
	default:
		return fmt.Errorf("unknown MCP_TRANSPORT %q (want \"http\" or \"stdio\")", cfg.Transport)
	}
}

func runStdio(ctx context.Context, log *slog.Logger, registry *sessions.Registry, eng *engine.Engine) error {
	h := stdio.New(registry, eng, stdio.WithLogger(log))
	err := h.Serve(ctx)
	registry.CloseAll()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runHTTP(ctx context.Context, log *slog.Logger, cfg Config, registry *sessions.Registry, eng *engine.Engine) error {
	streamHandler := streaminghttp.New("/mcp", registry, eng,
		streaminghttp.WithLogger(log),
		streaminghttp.WithKeepAliveInterval(cfg.SSEKeepAlive),
	)
	sseHandler := sse.New("/messages", registry, eng,
		sse.WithLogger(log),
		sse.WithKeepAliveInterval(cfg.SSEKeepAlive),
	)

	mux := http.NewServeMux()
	mux.Handle("/mcp", streamHandler)
	mux.Handle("GET /sse", sseHandler.HandleStream())
	mux.Handle("POST /messages", sseHandler.HandleMessage())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
			"connections": registry.Len(),
		})
	})

	srv := &http.Server{Handler: mux}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http.listen", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	// Stop accepting before closing sessions so nothing is admitted into the
	// teardown window; then let Shutdown drain the now-terminating streams.
	log.Info("shutdown.start")
	if err := ln.Close(); err != nil {
		log.Warn("shutdown.listener.fail", slog.String("err", err.Error()))
	}
	registry.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Warn("shutdown.http.fail", slog.String("err", err.Error()))
	}
	log.Info("shutdown.ok")
	return nil
}

// buildCapabilities assembles the demonstration tool, resource, prompt and
// logging surfaces.
func buildCapabilities(cfg Config, levelVar *slog.LevelVar) mcpservice.ServerCapabilities {
	type HelloArgs struct {
		Name string `json:"name" jsonschema:"description=Name to greet"`
	}
	type TimeArgs struct {
		Format string `json:"format,omitempty" jsonschema:"description=Go reference layout or 'unix'"`
	}

	tools := mcpservice.NewToolsContainer(
		mcpservice.NewTool("say_hello", func(ctx context.Context, args HelloArgs) (*mcp.CallToolResult, error) {
			name := args.Name
			if name == "" {
				name = "world"
			}
			return mcpservice.TextResult("Hello, " + name + "!"), nil
		}, mcpservice.WithToolDescription("Greet someone by name.")),
		mcpservice.NewTool("get_time", func(ctx context.Context, args TimeArgs) (*mcp.CallToolResult, error) {
			now := time.Now().UTC()
			switch args.Format {
			case "", "rfc3339":
				return mcpservice.TextResult(now.Format(time.RFC3339)), nil
			case "unix":
				return mcpservice.TextResult(fmt.Sprintf("%d", now.Unix())), nil
			default:
				return mcpservice.TextResult(now.Format(args.Format)), nil
			}
		}, mcpservice.WithToolDescription("Return the current UTC time.")),
	).Configure(mcpservice.WithArgumentValidation(cfg.ValidateArguments))

	var resourcesCap mcpservice.ResourcesCapability
	if cfg.ResourceDir != "" {
		resourcesCap = mcpservice.NewFSResources(
			mcpservice.WithOSDir(cfg.ResourceDir),
			mcpservice.WithBaseURI("file://workspace"),
		)
	} else {
		resourcesCap = mcpservice.NewResourcesContainer(
			[]mcp.Resource{
				{URI: "demo://readme", Name: "readme", Description: "About this server", MimeType: "text/plain"},
				{URI: "demo://config", Name: "config", Description: "Example configuration", MimeType: "application/json"},
			},
			map[string][]mcp.ResourceContents{
				"demo://readme": {{
					URI:      "demo://readme",
					MimeType: "text/plain",
					Text:     "This is a demonstration MCP server. It exposes example tools, resources and prompts.",
				}},
				"demo://config": {{
					URI:      "demo://config",
					MimeType: "application/json",
					Text:     `{"demo":true,"version":"` + serverVersion + `"}`,
				}},
			},
		)
	}

	prompts := mcpservice.NewPromptsContainer(
		mcpservice.StaticPrompt{
			Descriptor: mcp.Prompt{
				Name:        "summarize",
				Description: "Summarize a block of text.",
				Arguments: []mcp.PromptArgument{
					{Name: "text", Description: "Text to summarize", Required: true},
				},
			},
			Handler: func(ctx context.Context, req *mcp.GetPromptRequestReceived) (*mcp.GetPromptResult, error) {
				return &mcp.GetPromptResult{
					Description: "Summarization prompt",
					Messages: []mcp.PromptMessage{{
						Role: mcp.RoleUser,
						Content: mcp.ContentBlock{
							Type: "text",
							Text: "Summarize the following text in a few sentences:\n\n" + req.Arguments["text"],
						},
					}},
				}, nil
			},
		},
		mcpservice.StaticPrompt{
			Descriptor: mcp.Prompt{
				Name:        "code_review",
				Description: "Review code for problems and improvements.",
				Arguments: []mcp.PromptArgument{
					{Name: "code", Description: "Code to review", Required: true},
					{Name: "language", Description: "Programming language", Required: false},
				},
			},
			Handler: func(ctx context.Context, req *mcp.GetPromptRequestReceived) (*mcp.GetPromptResult, error) {
				lang := req.Arguments["language"]
				if lang == "" {
					lang = "unknown"
				}
				return &mcp.GetPromptResult{
					Description: "Code review prompt",
					Messages: []mcp.PromptMessage{{
						Role: mcp.RoleUser,
						Content: mcp.ContentBlock{
							Type: "text",
							Text: "Review the following " + lang + " code and point out bugs and improvements:\n\n" + req.Arguments["code"],
						},
					}},
				}, nil
			},
		},
	)

	return mcpservice.NewServer(
		mcpservice.WithServerInfo(serverName, serverVersion),
		mcpservice.WithInstructions("A demonstration server. Call say_hello to get started."),
		mcpservice.WithToolsCapability(tools),
		mcpservice.WithResourcesCapability(resourcesCap),
		mcpservice.WithPromptsCapability(prompts),
		mcpservice.WithLoggingCapability(mcpservice.NewSlogLevelVarLogging(levelVar)),
	)
}
