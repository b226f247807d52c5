package mcpservice

import (
	"context"

	"github.com/mcpdemo/server-go/mcp"
)

// ServerCapabilities is the surface a transport-independent dispatcher uses to
// discover and exercise what the server offers. Implementations MUST be safe
// for concurrent use; every transport shares one instance.
type ServerCapabilities interface {
	// GetServerInfo returns implementation metadata surfaced in initialize
	// results. It MAY be called multiple times and SHOULD be inexpensive.
	GetServerInfo(ctx context.Context) (mcp.ImplementationInfo, error)

	// GetInstructions returns optional human-readable instructions included in
	// the initialize result. If ok is false the field is omitted.
	GetInstructions(ctx context.Context) (instructions string, ok bool, err error)

	// GetToolsCapability returns the tools capability. If ok is false the
	// server does not advertise tool support.
	GetToolsCapability(ctx context.Context) (cap ToolsCapability, ok bool, err error)

	// GetResourcesCapability returns the resources capability. If ok is false
	// the server does not advertise resource support.
	GetResourcesCapability(ctx context.Context) (cap ResourcesCapability, ok bool, err error)

	// GetPromptsCapability returns the prompts capability. If ok is false the
	// server does not advertise prompt support.
	GetPromptsCapability(ctx context.Context) (cap PromptsCapability, ok bool, err error)

	// GetLoggingCapability returns the logging capability. If ok is false the
	// server does not advertise logging support and logging/setLevel is
	// rejected as an unknown method.
	GetLoggingCapability(ctx context.Context) (cap LoggingCapability, ok bool, err error)
}

// ToolsCapability defines the server's tools surface area. All methods MUST be
// safe for concurrent use.
type ToolsCapability interface {
	// ListTools returns a (possibly paginated) list of tools. A nil cursor
	// requests the first page; Page.NextCursor is set when more data exists.
	ListTools(ctx context.Context, cursor *string) (Page[mcp.Tool], error)

	// CallTool invokes a named tool with the provided request payload. An
	// unknown name yields UnknownCapabilityError; argument validation failures
	// yield InvalidArgumentsError. Tool-level execution failures are reported
	// in-band through CallToolResult.IsError, not as a Go error.
	CallTool(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)

	// GetListChangedCapability returns an optional change feed that ticks when
	// the tool list changes. If ok is false, listChanged is not advertised.
	GetListChangedCapability(ctx context.Context) (cap ChangeSubscriber, ok bool, err error)
}

// ResourcesCapability defines the server's resources surface area. All methods
// MUST be safe for concurrent use.
type ResourcesCapability interface {
	// ListResources returns a (possibly paginated) list of resources.
	ListResources(ctx context.Context, cursor *string) (Page[mcp.Resource], error)

	// ReadResource returns the contents for a specific resource URI. An
	// unknown URI yields UnknownCapabilityError.
	ReadResource(ctx context.Context, uri string) ([]mcp.ResourceContents, error)

	// GetListChangedCapability returns an optional change feed that ticks when
	// the resource list changes. If ok is false, listChanged is not advertised.
	GetListChangedCapability(ctx context.Context) (cap ChangeSubscriber, ok bool, err error)
}

// PromptsCapability defines the server's prompts surface area. All methods
// MUST be safe for concurrent use.
type PromptsCapability interface {
	// ListPrompts returns a (possibly paginated) list of prompt descriptors.
	ListPrompts(ctx context.Context, cursor *string) (Page[mcp.Prompt], error)

	// GetPrompt materializes the named prompt with the provided arguments.
	// Unknown names yield UnknownCapabilityError; missing required arguments
	// yield InvalidArgumentsError.
	GetPrompt(ctx context.Context, req *mcp.GetPromptRequestReceived) (*mcp.GetPromptResult, error)

	// GetListChangedCapability returns an optional change feed that ticks when
	// the prompt list changes. If ok is false, listChanged is not advertised.
	GetListChangedCapability(ctx context.Context) (cap ChangeSubscriber, ok bool, err error)
}

// LoggingCapability allows clients to adjust the server's minimum log
// severity. Implementations should be thread-safe and return quickly.
type LoggingCapability interface {
	// SetLevel updates the minimum severity. Invalid levels yield
	// ErrInvalidLoggingLevel.
	SetLevel(ctx context.Context, level mcp.LoggingLevel) error
}
