package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mcpdemo/server-go/engine"
	"github.com/mcpdemo/server-go/mcp"
	"github.com/mcpdemo/server-go/mcpservice"
	"github.com/mcpdemo/server-go/sessions"
)

func newTestServer(t *testing.T) (*httptest.Server, *sessions.Registry) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	caps := mcpservice.NewServer(
		mcpservice.WithServerInfo("test-server", "0.0.1"),
		mcpservice.WithToolsCapability(mcpservice.NewToolsContainer(
			mcpservice.NewTool("echo", func(ctx context.Context, args struct {
				Text string `json:"text"`
			}) (*mcp.CallToolResult, error) {
				return mcpservice.TextResult(args.Text), nil
			}),
		)),
	)
	registry := sessions.NewRegistry(sessions.WithLogger(log))
	eng := engine.New(log, caps, registry)
	h := New("/messages", registry, eng, WithLogger(log), WithKeepAliveInterval(50*time.Millisecond))

	mux := http.NewServeMux()
	mux.Handle("GET /sse", h.HandleStream())
	mux.Handle("POST /messages", h.HandleMessage())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, registry
}

// openStream connects to the event stream and returns the announced message
// endpoint plus a channel of subsequent event data payloads.
func openStream(t *testing.T, srv *httptest.Server) (string, <-chan string, func()) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/sse", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %d, want 200", resp.StatusCode)
	}

	events := make(chan string, 16)
	endpointCh := make(chan string, 1)
	go func() {
		defer close(events)
		sc := bufio.NewScanner(resp.Body)
		var eventType string
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event:"):
				eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				switch eventType {
				case "endpoint":
					endpointCh <- data
				case "message":
					events <- data
				}
			}
		}
	}()

	select {
	case endpoint := <-endpointCh:
		return endpoint, events, func() { resp.Body.Close() }
	case <-time.After(5 * time.Second):
		resp.Body.Close()
		t.Fatal("timed out waiting for endpoint event")
		return "", nil, nil
	}
}

func TestStream_EndpointEvent(t *testing.T) {
	t.Parallel()
	srv, registry := newTestServer(t)

	endpoint, _, done := openStream(t, srv)
	defer done()

	if !strings.HasPrefix(endpoint, "/messages?sessionID=") {
		t.Fatalf("endpoint = %q", endpoint)
	}
	sid := strings.TrimPrefix(endpoint, "/messages?sessionID=")
	if _, ok := registry.Get(sid); !ok {
		t.Fatal("announced session not registered")
	}
}

func TestStream_ConnectedEvent(t *testing.T) {
	t.Parallel()
	srv, registry := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/sse", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	defer resp.Body.Close()

	sidCh := make(chan string, 1)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		var eventType string
		for sc.Scan() {
			line := sc.Text()
			if strings.HasPrefix(line, "event:") {
				eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			}
			if strings.HasPrefix(line, "data:") && eventType == "connected" {
				sidCh <- strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				return
			}
		}
	}()

	select {
	case sid := <-sidCh:
		if _, ok := registry.Get(sid); !ok {
			t.Fatalf("connected event announced unknown session %q", sid)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for connected event")
	}
}

func TestMessage_RequestAnsweredOverStream(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	endpoint, events, done := openStream(t, srv)
	defer done()

	body, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": mcp.LatestProtocolVersion,
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]any{"name": "legacy-client", "version": "1"},
		},
	})
	resp, err := http.Post(srv.URL+endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("post status = %d, want 202", resp.StatusCode)
	}

	select {
	case data := <-events:
		var rpc struct {
			ID     int                  `json:"id"`
			Result mcp.InitializeResult `json:"result"`
		}
		if err := json.Unmarshal([]byte(data), &rpc); err != nil {
			t.Fatalf("decode stream payload: %v", err)
		}
		if rpc.ID != 1 || rpc.Result.ServerInfo.Name != "test-server" {
			t.Fatalf("unexpected response on stream: %s", data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for response on stream")
	}
}

func TestMessage_Rejections(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	t.Run("missing session id", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/messages", "application/json",
			strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/messages?sessionID=missing", "application/json",
			strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("invalid message", func(t *testing.T) {
		endpoint, _, done := openStream(t, srv)
		defer done()
		resp, err := http.Post(srv.URL+endpoint, "application/json", strings.NewReader(`{"nope":`))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestMessage_SessionIsolation(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	endpointA, eventsA, doneA := openStream(t, srv)
	defer doneA()
	_, eventsB, doneB := openStream(t, srv)
	defer doneB()

	resp, err := http.Post(srv.URL+endpointA, "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":7,"method":"ping"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("post status = %d, want 202", resp.StatusCode)
	}

	select {
	case data := <-eventsA:
		var rpc struct {
			ID int `json:"id"`
		}
		if err := json.Unmarshal([]byte(data), &rpc); err != nil {
			t.Fatalf("decode stream payload: %v", err)
		}
		if rpc.ID != 7 {
			t.Fatalf("unexpected payload on stream A: %s", data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for response on stream A")
	}

	select {
	case data := <-eventsB:
		t.Fatalf("stream B received %q, want nothing", data)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestStream_DisconnectRemovesSession(t *testing.T) {
	t.Parallel()
	srv, registry := newTestServer(t)

	endpoint, _, done := openStream(t, srv)
	sid := strings.TrimPrefix(endpoint, "/messages?sessionID=")
	if _, ok := registry.Get(sid); !ok {
		t.Fatal("session should be live while stream is open")
	}

	done()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := registry.Get(sid); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session not removed after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStream_KeepAliveEvents(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/sse", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	defer resp.Body.Close()

	found := make(chan struct{})
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if strings.HasPrefix(sc.Text(), "event:") && strings.Contains(sc.Text(), "keep-alive") {
				close(found)
				return
			}
		}
	}()
	select {
	case <-found:
	case <-time.After(5 * time.Second):
		t.Fatal("no keep-alive event observed")
	}
}
