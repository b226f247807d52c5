package mcpservice

import (
	"context"
	"fmt"
	"sync"

	"github.com/mcpdemo/server-go/mcp"
)

// PromptHandler materializes a prompt get request into messages.
type PromptHandler func(ctx context.Context, req *mcp.GetPromptRequestReceived) (*mcp.GetPromptResult, error)

// StaticPrompt pairs a prompt descriptor with its handler.
type StaticPrompt struct {
	Descriptor mcp.Prompt
	Handler    PromptHandler
}

// PromptsContainer owns a mutable, threadsafe set of prompt descriptors and
// handlers. It implements PromptsCapability directly. Before a handler runs,
// required arguments declared on the descriptor are checked for presence.
type PromptsContainer struct {
	mu       sync.RWMutex
	prompts  []mcp.Prompt
	handlers map[string]PromptHandler

	notifier ChangeNotifier

	pageSize int
}

// NewPromptsContainer constructs a PromptsContainer with the given
// definitions.
func NewPromptsContainer(defs ...StaticPrompt) *PromptsContainer {
	pc := &PromptsContainer{pageSize: 50}
	pc.Replace(context.Background(), defs...)
	return pc
}

// Snapshot returns a copy of the current prompt descriptors.
func (pc *PromptsContainer) Snapshot() []mcp.Prompt {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	out := make([]mcp.Prompt, len(pc.prompts))
	copy(out, pc.prompts)
	return out
}

// Replace atomically replaces the entire prompt set.
func (pc *PromptsContainer) Replace(ctx context.Context, defs ...StaticPrompt) {
	pc.mu.Lock()
	pc.prompts = make([]mcp.Prompt, 0, len(defs))
	pc.handlers = make(map[string]PromptHandler, len(defs))
	for _, d := range defs {
		pc.prompts = append(pc.prompts, d.Descriptor)
		if d.Handler != nil {
			pc.handlers[d.Descriptor.Name] = d.Handler
		}
	}
	pc.mu.Unlock()
	_ = pc.notifier.Notify(ctx)
}

// Add registers a new prompt. Returns false on a duplicate or empty name.
func (pc *PromptsContainer) Add(ctx context.Context, def StaticPrompt) bool {
	name := def.Descriptor.Name
	if name == "" {
		return false
	}
	pc.mu.Lock()
	if _, exists := pc.handlers[name]; exists {
		pc.mu.Unlock()
		return false
	}
	pc.prompts = append(pc.prompts, def.Descriptor)
	if def.Handler != nil {
		pc.handlers[name] = def.Handler
	}
	pc.mu.Unlock()
	_ = pc.notifier.Notify(ctx)
	return true
}

// Remove removes a prompt by name. Returns true if removed.
func (pc *PromptsContainer) Remove(ctx context.Context, name string) bool {
	pc.mu.Lock()
	n := 0
	removed := false
	for _, p := range pc.prompts {
		if p.Name == name {
			removed = true
			continue
		}
		pc.prompts[n] = p
		n++
	}
	if removed {
		pc.prompts = pc.prompts[:n]
		delete(pc.handlers, name)
	}
	pc.mu.Unlock()
	if removed {
		_ = pc.notifier.Notify(ctx)
	}
	return removed
}

// ListPrompts implements PromptsCapability.
func (pc *PromptsContainer) ListPrompts(ctx context.Context, cursor *string) (Page[mcp.Prompt], error) {
	pc.mu.RLock()
	all := make([]mcp.Prompt, len(pc.prompts))
	copy(all, pc.prompts)
	pageSize := pc.pageSize
	pc.mu.RUnlock()
	return pageSlice(all, pageSize, cursor), nil
}

// GetPrompt implements PromptsCapability.
func (pc *PromptsContainer) GetPrompt(ctx context.Context, req *mcp.GetPromptRequestReceived) (*mcp.GetPromptResult, error) {
	if req == nil || req.Name == "" {
		return nil, &InvalidArgumentsError{Name: "", Reason: "missing prompt name"}
	}

	pc.mu.RLock()
	h := pc.handlers[req.Name]
	var desc *mcp.Prompt
	for i := range pc.prompts {
		if pc.prompts[i].Name == req.Name {
			desc = &pc.prompts[i]
			break
		}
	}
	pc.mu.RUnlock()

	if h == nil {
		return nil, &UnknownCapabilityError{Kind: "prompt", Name: req.Name}
	}
	if desc != nil {
		for _, arg := range desc.Arguments {
			if !arg.Required {
				continue
			}
			if _, ok := req.Arguments[arg.Name]; !ok {
				return nil, &InvalidArgumentsError{
					Name:   req.Name,
					Reason: fmt.Sprintf("missing required argument %q", arg.Name),
				}
			}
		}
	}
	return h(ctx, req)
}

// GetListChangedCapability implements PromptsCapability.
func (pc *PromptsContainer) GetListChangedCapability(ctx context.Context) (ChangeSubscriber, bool, error) {
	return &pc.notifier, true, nil
}
