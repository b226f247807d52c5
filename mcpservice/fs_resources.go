package mcpservice

import (
	"context"
	"encoding/base64"
	"io/fs"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"
	"github.com/mcpdemo/server-go/mcp"
)

// FSResources exposes a directory tree as a read-only resources capability.
// Files become resources addressed as baseURI + "/" + relative path. When
// backed by an OS directory, an fsnotify watcher drives listChanged signals
// and reads are constrained to the symlink-resolved root.
type FSResources struct {
	fsys   fs.FS
	osRoot string // absolute, symlink-evaluated root on disk (if set)

	baseURI  string
	pageSize int

	notifier  ChangeNotifier
	watchOnce sync.Once
}

// FSOption configures FSResources.
type FSOption func(*FSResources)

// WithOSDir sets the root to an OS directory. Symlinks are resolved once and
// reads are constrained to the resolved root.
func WithOSDir(root string) FSOption {
	return func(r *FSResources) {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
		if real, err := filepath.EvalSymlinks(root); err == nil {
			root = real
		}
		r.osRoot = root
		r.fsys = os.DirFS(root)
	}
}

// WithFS provides a generic fs.FS (e.g. embed.FS). Parent traversal is
// rejected and symlinks are not followed. No change watching is available.
func WithFS(f fs.FS) FSOption {
	return func(r *FSResources) { r.fsys = f; r.osRoot = "" }
}

// WithBaseURI sets the URI prefix used in Resource.URI, e.g. "fs://workspace".
// Defaults to "fs://".
func WithBaseURI(base string) FSOption {
	return func(r *FSResources) { r.baseURI = strings.TrimRight(base, "/") }
}

// WithFSPageSize sets the listing page size. Defaults to 50.
func WithFSPageSize(n int) FSOption {
	return func(r *FSResources) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// NewFSResources constructs a filesystem-backed resources capability.
func NewFSResources(opts ...FSOption) *FSResources {
	r := &FSResources{baseURI: "fs://", pageSize: 50}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ListResources implements ResourcesCapability.
func (r *FSResources) ListResources(ctx context.Context, cursor *string) (Page[mcp.Resource], error) {
	if r.fsys == nil {
		return NewPage[mcp.Resource](nil), nil
	}
	all, err := r.scanFiles(ctx)
	if err != nil {
		return NewPage[mcp.Resource](nil), err
	}
	return pageSlice(all, r.pageSize, cursor), nil
}

// ReadResource implements ResourcesCapability.
func (r *FSResources) ReadResource(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
	rel, ok := r.uriToRel(uri)
	if !ok || r.fsys == nil {
		return nil, &UnknownCapabilityError{Kind: "resource", Name: uri}
	}

	if r.osRoot != "" {
		abs := filepath.Join(r.osRoot, filepath.FromSlash(rel))
		real, err := filepath.EvalSymlinks(abs)
		if err != nil || !within(real, r.osRoot) {
			return nil, &UnknownCapabilityError{Kind: "resource", Name: uri}
		}
		data, err := os.ReadFile(real)
		if err != nil {
			return nil, &UnknownCapabilityError{Kind: "resource", Name: uri}
		}
		mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(real)))
		return []mcp.ResourceContents{contentsFor(uri, mt, data)}, nil
	}

	if !fs.ValidPath(rel) {
		return nil, &UnknownCapabilityError{Kind: "resource", Name: uri}
	}
	data, err := fs.ReadFile(r.fsys, rel)
	if err != nil {
		return nil, &UnknownCapabilityError{Kind: "resource", Name: uri}
	}
	mt := mime.TypeByExtension(strings.ToLower(path.Ext(rel)))
	return []mcp.ResourceContents{contentsFor(uri, mt, data)}, nil
}

// GetListChangedCapability implements ResourcesCapability. Change signals are
// available only for OS-backed directories where fsnotify can watch the tree.
func (r *FSResources) GetListChangedCapability(ctx context.Context) (ChangeSubscriber, bool, error) {
	if r.osRoot == "" {
		return nil, false, nil
	}
	r.watchOnce.Do(func() { go r.watch(context.WithoutCancel(ctx)) })
	return &r.notifier, true, nil
}

// watch maintains fsnotify watches over the directory tree and fans change
// signals into the notifier.
func (r *FSResources) watch(ctx context.Context) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Debug("fsresources.watch.unavailable", slog.String("err", err.Error()))
		return
	}
	defer func() { _ = w.Close() }()

	err = filepath.WalkDir(r.osRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		return w.Add(p)
	})
	if err != nil {
		slog.Debug("fsresources.watch.add_dirs_failed", slog.String("err", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Create != 0 {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = w.Add(ev.Name)
				}
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) != 0 {
				_ = r.notifier.Notify(ctx)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			slog.Debug("fsresources.watch.error", slog.String("err", err.Error()))
		}
	}
}

func (r *FSResources) scanFiles(ctx context.Context) ([]mcp.Resource, error) {
	var out []mcp.Resource
	err := fs.WalkDir(r.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // best-effort listing
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || d.Type()&fs.ModeSymlink != 0 || !fs.ValidPath(p) {
			return nil
		}
		out = append(out, mcp.Resource{
			URI:      r.relToURI(p),
			Name:     path.Base(p),
			MimeType: mime.TypeByExtension(strings.ToLower(path.Ext(p))),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out, nil
}

func contentsFor(uri, mimeType string, data []byte) mcp.ResourceContents {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	if utf8.Valid(data) {
		return mcp.ResourceContents{URI: uri, MimeType: mimeType, Text: string(data)}
	}
	return mcp.ResourceContents{URI: uri, MimeType: mimeType, Blob: base64.StdEncoding.EncodeToString(data)}
}

func (r *FSResources) relToURI(rel string) string {
	segs := strings.Split(rel, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return r.baseURI + "/" + strings.Join(segs, "/")
}

func (r *FSResources) uriToRel(uri string) (string, bool) {
	base := strings.TrimRight(r.baseURI, "/") + "/"
	if !strings.HasPrefix(uri, base) {
		return "", false
	}
	segs := strings.Split(strings.TrimPrefix(uri, base), "/")
	for i, s := range segs {
		dec, err := url.PathUnescape(s)
		if err != nil {
			return "", false
		}
		segs[i] = dec
	}
	rel := path.Clean(strings.Join(segs, "/"))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

// within reports whether target equals root or is a descendant of it.
func within(target, root string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)))
}
