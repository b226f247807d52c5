package mcpservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/mcpdemo/server-go/mcp"
)

// ToolHandler handles a single tool invocation. Domain-level failures should
// be reported through the result's IsError flag rather than a Go error; a
// returned error is treated as an internal fault.
type ToolHandler func(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)

// StaticTool pairs a tool descriptor with its handler.
type StaticTool struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
}

// ToolOption configures NewTool behavior.
type ToolOption func(*toolConfig)

type toolConfig struct {
	description               string
	allowAdditionalProperties bool
}

// WithToolDescription sets the tool description used in listings.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithToolAllowAdditionalProperties controls whether unknown argument fields
// are accepted. When false (the default) the generated schema sets
// additionalProperties=false and decoding rejects unknown fields.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// NewTool constructs a StaticTool from a typed argument struct A. The input
// schema is reflected from A with invopop/jsonschema and down-converted to the
// simplified wire shape. At call time the raw arguments are decoded into A
// before fn runs.
func NewTool[A any](name string, fn func(ctx context.Context, args A) (*mcp.CallToolResult, error), opts ...ToolOption) StaticTool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	desc := mcp.Tool{
		Name:        name,
		Description: cfg.description,
		InputSchema: reflectInputSchema[A](cfg.allowAdditionalProperties),
	}

	handler := func(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
		var a A
		if len(req.Arguments) > 0 {
			if cfg.allowAdditionalProperties {
				if err := json.Unmarshal(req.Arguments, &a); err != nil {
					return nil, &InvalidArgumentsError{Name: name, Reason: err.Error()}
				}
			} else {
				dec := json.NewDecoder(bytes.NewReader(req.Arguments))
				dec.DisallowUnknownFields()
				if err := dec.Decode(&a); err != nil {
					return nil, &InvalidArgumentsError{Name: name, Reason: err.Error()}
				}
			}
		}
		return fn(ctx, a)
	}

	return StaticTool{Descriptor: desc, Handler: handler}
}

// reflectInputSchema reflects Go type A into the simplified ToolInputSchema.
// Non-object roots degrade to an empty object schema.
func reflectInputSchema[A any](allowAdditional bool) mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.Reflect(new(A))
	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{
			Type:                 "object",
			Properties:           map[string]mcp.SchemaProperty{},
			AdditionalProperties: allowAdditional,
		}
	}

	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toSchemaProperty(el.Value)
		}
	}
	var required []string
	required = append(required, s.Required...)

	return mcp.ToolInputSchema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: allowAdditional,
	}
}

// toSchemaProperty recursively maps a reflected schema node to the simplified
// wire shape.
func toSchemaProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toSchemaProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toSchemaProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}

// ToolsContainer owns a mutable, threadsafe set of tool descriptors and
// handlers. It implements ToolsCapability directly and signals list changes
// through an embedded ChangeNotifier.
//
// When argument validation is enabled (the default), incoming arguments are
// checked against the declared input schema before the handler runs: required
// properties must be present and declared property types must match.
type ToolsContainer struct {
	mu       sync.RWMutex
	tools    []mcp.Tool
	handlers map[string]ToolHandler

	notifier ChangeNotifier

	pageSize int
	validate bool
}

// ToolsContainerOption configures a ToolsContainer.
type ToolsContainerOption func(*ToolsContainer)

// WithToolsPageSize sets the pagination size used by ListTools. Values < 1
// are ignored. Defaults to 50.
func WithToolsPageSize(n int) ToolsContainerOption {
	return func(tc *ToolsContainer) {
		if n > 0 {
			tc.pageSize = n
		}
	}
}

// WithArgumentValidation toggles schema validation of call arguments.
// Enabled by default.
func WithArgumentValidation(enabled bool) ToolsContainerOption {
	return func(tc *ToolsContainer) { tc.validate = enabled }
}

// NewToolsContainer constructs a ToolsContainer with the given definitions.
func NewToolsContainer(defs ...StaticTool) *ToolsContainer {
	tc := &ToolsContainer{pageSize: 50, validate: true}
	tc.Replace(context.Background(), defs...)
	return tc
}

// Configure applies options after construction.
func (tc *ToolsContainer) Configure(opts ...ToolsContainerOption) *ToolsContainer {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	for _, opt := range opts {
		opt(tc)
	}
	return tc
}

// Snapshot returns a copy of the current tool descriptors.
func (tc *ToolsContainer) Snapshot() []mcp.Tool {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	out := make([]mcp.Tool, len(tc.tools))
	copy(out, tc.tools)
	return out
}

// Replace atomically replaces the entire tool set. Last write wins on
// duplicate names.
func (tc *ToolsContainer) Replace(ctx context.Context, defs ...StaticTool) {
	tc.mu.Lock()
	tc.tools = make([]mcp.Tool, 0, len(defs))
	tc.handlers = make(map[string]ToolHandler, len(defs))
	for _, d := range defs {
		tc.tools = append(tc.tools, d.Descriptor)
		if d.Handler != nil {
			tc.handlers[d.Descriptor.Name] = d.Handler
		}
	}
	tc.mu.Unlock()
	_ = tc.notifier.Notify(ctx)
}

// Add registers a new tool. Returns false on a duplicate name.
func (tc *ToolsContainer) Add(ctx context.Context, def StaticTool) bool {
	tc.mu.Lock()
	name := def.Descriptor.Name
	if _, exists := tc.handlers[name]; exists {
		tc.mu.Unlock()
		return false
	}
	tc.tools = append(tc.tools, def.Descriptor)
	if def.Handler != nil {
		tc.handlers[name] = def.Handler
	}
	tc.mu.Unlock()
	_ = tc.notifier.Notify(ctx)
	return true
}

// Remove removes a tool by name. Returns true if removed.
func (tc *ToolsContainer) Remove(ctx context.Context, name string) bool {
	tc.mu.Lock()
	n := 0
	removed := false
	for _, t := range tc.tools {
		if t.Name == name {
			removed = true
			continue
		}
		tc.tools[n] = t
		n++
	}
	if removed {
		tc.tools = tc.tools[:n]
		delete(tc.handlers, name)
	}
	tc.mu.Unlock()
	if removed {
		_ = tc.notifier.Notify(ctx)
	}
	return removed
}

// ListTools implements ToolsCapability.
func (tc *ToolsContainer) ListTools(ctx context.Context, cursor *string) (Page[mcp.Tool], error) {
	tc.mu.RLock()
	all := make([]mcp.Tool, len(tc.tools))
	copy(all, tc.tools)
	pageSize := tc.pageSize
	tc.mu.RUnlock()
	return pageSlice(all, pageSize, cursor), nil
}

// CallTool implements ToolsCapability.
func (tc *ToolsContainer) CallTool(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
	if req == nil || req.Name == "" {
		return nil, &InvalidArgumentsError{Name: "", Reason: "missing tool name"}
	}

	tc.mu.RLock()
	h := tc.handlers[req.Name]
	var schema *mcp.ToolInputSchema
	if tc.validate {
		for i := range tc.tools {
			if tc.tools[i].Name == req.Name {
				schema = &tc.tools[i].InputSchema
				break
			}
		}
	}
	tc.mu.RUnlock()

	if h == nil {
		return nil, &UnknownCapabilityError{Kind: "tool", Name: req.Name}
	}
	if schema != nil {
		if err := validateArguments(req.Name, schema, req.Arguments); err != nil {
			return nil, err
		}
	}
	return h(ctx, req)
}

// GetListChangedCapability implements ToolsCapability.
func (tc *ToolsContainer) GetListChangedCapability(ctx context.Context) (ChangeSubscriber, bool, error) {
	return &tc.notifier, true, nil
}

// validateArguments checks raw arguments against a declared input schema:
// required properties must be present and declared property types must match.
func validateArguments(name string, schema *mcp.ToolInputSchema, raw json.RawMessage) error {
	var args map[string]json.RawMessage
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return &InvalidArgumentsError{Name: name, Reason: "arguments must be an object"}
		}
	}
	for _, req := range schema.Required {
		if _, ok := args[req]; !ok {
			return &InvalidArgumentsError{Name: name, Reason: fmt.Sprintf("missing required property %q", req)}
		}
	}
	for key, val := range args {
		prop, declared := schema.Properties[key]
		if !declared {
			if !schema.AdditionalProperties {
				return &InvalidArgumentsError{Name: name, Reason: fmt.Sprintf("unknown property %q", key)}
			}
			continue
		}
		if prop.Type == "" {
			continue
		}
		if !matchesJSONType(prop.Type, val) {
			return &InvalidArgumentsError{Name: name, Reason: fmt.Sprintf("property %q must be of type %s", key, prop.Type)}
		}
	}
	return nil
}

// matchesJSONType does a shallow type check of a raw JSON value against a
// schema type name.
func matchesJSONType(typ string, raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	switch typ {
	case "string":
		return raw[0] == '"'
	case "number":
		return raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9')
	case "integer":
		if raw[0] != '-' && (raw[0] < '0' || raw[0] > '9') {
			return false
		}
		var n float64
		if err := json.Unmarshal(raw, &n); err != nil {
			return false
		}
		return n == float64(int64(n))
	case "boolean":
		return bytes.Equal(raw, []byte("true")) || bytes.Equal(raw, []byte("false"))
	case "array":
		return raw[0] == '['
	case "object":
		return raw[0] == '{'
	case "null":
		return bytes.Equal(raw, []byte("null"))
	default:
		return true
	}
}

// TextResult builds a single-text-block tool result.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: s}}}
}

// Errorf builds an in-band tool error result with a single text block.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.ContentBlock{{Type: "text", Text: fmt.Sprintf(format, a...)}},
		IsError: true,
	}
}
