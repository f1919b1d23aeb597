// ABOUTME: Route table of exposed tools rebuilt from the registry on every change
// ABOUTME: Snapshots are immutable and swapped atomically so readers never lock

package gateway

import (
	"log/slog"
	"sync/atomic"

	"github.com/2389/toolbridge/internal/registry"
	"github.com/2389/toolbridge/internal/tool"
)

// Route is the per-tool alias entry.
type Route struct {
	Name  string
	Title string
	Auth  tool.AuthRequirement
}

type routeSnapshot struct {
	version uint64
	names   []string
	routes  map[string]Route
}

// RouteTable maps tool names to routes for every procedure carrying extension
// metadata, regardless of principal.
type RouteTable struct {
	source      registry.Source
	current     atomic.Pointer[routeSnapshot]
	unsubscribe func()
	metrics     *Metrics
	logger      *slog.Logger
}

// NewRouteTable builds the initial snapshot and subscribes to registry changes.
func NewRouteTable(source registry.Source, metrics *Metrics, logger *slog.Logger) *RouteTable {
	if logger == nil {
		logger = slog.Default()
	}
	t := &RouteTable{
		source:  source,
		metrics: metrics,
		logger:  logger.With("component", "routes"),
	}
	t.Rebuild()
	t.unsubscribe = source.Subscribe(func(registry.Event) {
		t.Rebuild()
	})
	return t
}

// Rebuild recomputes the snapshot from the registry.
func (t *RouteTable) Rebuild() {
	version := t.source.Version()
	snap := &routeSnapshot{
		version: version,
		routes:  make(map[string]Route),
	}
	for _, desc := range t.source.Procedures() {
		ext, ok := t.source.Extension(desc.Impl)
		if !ok || ext == nil {
			continue
		}
		snap.names = append(snap.names, desc.ID)
		snap.routes[desc.ID] = Route{
			Name:  desc.ID,
			Title: ext.Title,
			Auth:  tool.RequirementFor(ext),
		}
	}

	// A slow rebuild must not replace a newer snapshot.
	for {
		old := t.current.Load()
		if old != nil && old.version > version {
			return
		}
		if t.current.CompareAndSwap(old, snap) {
			break
		}
	}

	t.metrics.SetExposedTools(len(snap.names))
	t.logger.Debug("route table rebuilt", "version", version, "routes", len(snap.names))
}

// Lookup returns the route for a tool name.
func (t *RouteTable) Lookup(name string) (Route, bool) {
	r, ok := t.current.Load().routes[name]
	return r, ok
}

// Names returns routed tool names in registration order.
func (t *RouteTable) Names() []string {
	names := t.current.Load().names
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// Version is the registry version of the current snapshot.
func (t *RouteTable) Version() uint64 {
	return t.current.Load().version
}

// Close stops following registry changes.
func (t *RouteTable) Close() {
	if t.unsubscribe != nil {
		t.unsubscribe()
	}
}
