// Package streaminghttp implements the streamable HTTP transport: POST for
// client-to-server messages, GET for a server push stream, DELETE for session
// termination. Sessions are correlated through the Mcp-Session-Id header.
package streaminghttp
