package mcpservice

import (
	"context"

	"github.com/mcpdemo/server-go/mcp"
)

// ServerOption configures the ServerCapabilities value built by NewServer.
type ServerOption func(*server)

type server struct {
	info         mcp.ImplementationInfo
	instructions *string

	toolsCap     ToolsCapability
	resourcesCap ResourcesCapability
	promptsCap   PromptsCapability
	loggingCap   LoggingCapability
}

// NewServer builds a static ServerCapabilities from functional options. Every
// session observes the same capability set.
func NewServer(opts ...ServerOption) ServerCapabilities {
	s := &server{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithServerInfo sets the implementation info surfaced during initialize.
func WithServerInfo(name, version string) ServerOption {
	return func(s *server) { s.info = mcp.ImplementationInfo{Name: name, Version: version} }
}

// WithInstructions sets optional human-readable instructions returned during
// initialize. An empty string omits the field.
func WithInstructions(instr string) ServerOption {
	return func(s *server) { s.instructions = &instr }
}

// WithToolsCapability wires the tools capability.
func WithToolsCapability(cap ToolsCapability) ServerOption {
	return func(s *server) { s.toolsCap = cap }
}

// WithResourcesCapability wires the resources capability.
func WithResourcesCapability(cap ResourcesCapability) ServerOption {
	return func(s *server) { s.resourcesCap = cap }
}

// WithPromptsCapability wires the prompts capability.
func WithPromptsCapability(cap PromptsCapability) ServerOption {
	return func(s *server) { s.promptsCap = cap }
}

// WithLoggingCapability wires the logging capability.
func WithLoggingCapability(cap LoggingCapability) ServerOption {
	return func(s *server) { s.loggingCap = cap }
}

func (s *server) GetServerInfo(ctx context.Context) (mcp.ImplementationInfo, error) {
	return s.info, nil
}

func (s *server) GetInstructions(ctx context.Context) (string, bool, error) {
	if s.instructions == nil || *s.instructions == "" {
		return "", false, nil
	}
	return *s.instructions, true, nil
}

func (s *server) GetToolsCapability(ctx context.Context) (ToolsCapability, bool, error) {
	if s.toolsCap == nil {
		return nil, false, nil
	}
	return s.toolsCap, true, nil
}

func (s *server) GetResourcesCapability(ctx context.Context) (ResourcesCapability, bool, error) {
	if s.resourcesCap == nil {
		return nil, false, nil
	}
	return s.resourcesCap, true, nil
}

func (s *server) GetPromptsCapability(ctx context.Context) (PromptsCapability, bool, error) {
	if s.promptsCap == nil {
		return nil, false, nil
	}
	return s.promptsCap, true, nil
}

func (s *server) GetLoggingCapability(ctx context.Context) (LoggingCapability, bool, error) {
	if s.loggingCap == nil {
		return nil, false, nil
	}
	return s.loggingCap, true, nil
}
