package mcpservice

import (
	"context"
	"sync"

	"github.com/mcpdemo/server-go/mcp"
)

// ResourcesContainer owns a mutable, threadsafe set of resources and their
// contents. It implements ResourcesCapability directly and signals list
// changes through an embedded ChangeNotifier.
type ResourcesContainer struct {
	mu        sync.RWMutex
	resources []mcp.Resource
	contents  map[string][]mcp.ResourceContents

	notifier ChangeNotifier

	pageSize int
}

// NewResourcesContainer constructs a ResourcesContainer with initial
// resources and contents. Inputs are copied so callers retain ownership.
func NewResourcesContainer(resources []mcp.Resource, contents map[string][]mcp.ResourceContents) *ResourcesContainer {
	rc := &ResourcesContainer{
		contents: make(map[string][]mcp.ResourceContents),
		pageSize: 50,
	}
	rc.ReplaceResources(context.Background(), resources)
	rc.ReplaceAllContents(context.Background(), contents)
	return rc
}

// SetPageSize configures the maximum number of items per listing page.
// Values < 1 are ignored.
func (rc *ResourcesContainer) SetPageSize(n int) {
	if n < 1 {
		return
	}
	rc.mu.Lock()
	rc.pageSize = n
	rc.mu.Unlock()
}

// SnapshotResources returns a copy of the current resource descriptors.
func (rc *ResourcesContainer) SnapshotResources() []mcp.Resource {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	out := make([]mcp.Resource, len(rc.resources))
	copy(out, rc.resources)
	return out
}

// ReplaceResources atomically replaces the resource descriptor set.
func (rc *ResourcesContainer) ReplaceResources(ctx context.Context, resources []mcp.Resource) {
	rc.mu.Lock()
	rc.resources = make([]mcp.Resource, len(resources))
	copy(rc.resources, resources)
	rc.mu.Unlock()
	_ = rc.notifier.Notify(ctx)
}

// ReplaceAllContents atomically replaces the contents map.
func (rc *ResourcesContainer) ReplaceAllContents(_ context.Context, contents map[string][]mcp.ResourceContents) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.contents = make(map[string][]mcp.ResourceContents, len(contents))
	for uri, c := range contents {
		cc := make([]mcp.ResourceContents, len(c))
		copy(cc, c)
		rc.contents[uri] = cc
	}
}

// AddResource adds a resource and its contents. Returns false on a duplicate
// URI.
func (rc *ResourcesContainer) AddResource(ctx context.Context, res mcp.Resource, contents []mcp.ResourceContents) bool {
	rc.mu.Lock()
	for _, r := range rc.resources {
		if r.URI == res.URI {
			rc.mu.Unlock()
			return false
		}
	}
	rc.resources = append(rc.resources, res)
	if contents != nil {
		cc := make([]mcp.ResourceContents, len(contents))
		copy(cc, contents)
		rc.contents[res.URI] = cc
	}
	rc.mu.Unlock()
	_ = rc.notifier.Notify(ctx)
	return true
}

// RemoveResource removes a resource by URI. Returns true if removed.
func (rc *ResourcesContainer) RemoveResource(ctx context.Context, uri string) bool {
	rc.mu.Lock()
	n := 0
	removed := false
	for _, r := range rc.resources {
		if r.URI == uri {
			removed = true
			continue
		}
		rc.resources[n] = r
		n++
	}
	if removed {
		rc.resources = rc.resources[:n]
		delete(rc.contents, uri)
	}
	rc.mu.Unlock()
	if removed {
		_ = rc.notifier.Notify(ctx)
	}
	return removed
}

// ListResources implements ResourcesCapability.
func (rc *ResourcesContainer) ListResources(ctx context.Context, cursor *string) (Page[mcp.Resource], error) {
	rc.mu.RLock()
	all := make([]mcp.Resource, len(rc.resources))
	copy(all, rc.resources)
	pageSize := rc.pageSize
	rc.mu.RUnlock()
	return pageSlice(all, pageSize, cursor), nil
}

// ReadResource implements ResourcesCapability.
func (rc *ResourcesContainer) ReadResource(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
	rc.mu.RLock()
	c, ok := rc.contents[uri]
	rc.mu.RUnlock()
	if !ok {
		return nil, &UnknownCapabilityError{Kind: "resource", Name: uri}
	}
	out := make([]mcp.ResourceContents, len(c))
	copy(out, c)
	return out, nil
}

// GetListChangedCapability implements ResourcesCapability.
func (rc *ResourcesContainer) GetListChangedCapability(ctx context.Context) (ChangeSubscriber, bool, error) {
	return &rc.notifier, true, nil
}
