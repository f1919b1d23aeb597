// ABOUTME: Discovery service selecting the procedures a principal may see as tools
// ABOUTME: Filters by extension metadata and the permission predicate, with an optional cache

package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/2389/toolbridge/internal/auth"
	"github.com/2389/toolbridge/internal/registry"
)

// DefaultCacheSize bounds the cache when caching is enabled without a size.
const DefaultCacheSize = 1024

// Entry is one discovered procedure.
type Entry struct {
	Descriptor registry.Descriptor
	Extension  *registry.Extension
}

// Result is an ordered map of tool name to entry, in registration order.
// Results may be shared between callers and must not be modified.
type Result struct {
	names   []string
	entries map[string]Entry
	version uint64
}

// Names returns tool names in registration order.
func (r *Result) Names() []string {
	return slices.Clone(r.names)
}

// Lookup returns the entry for name.
func (r *Result) Lookup(name string) (Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// Len returns the number of discovered tools.
func (r *Result) Len() int {
	return len(r.names)
}

// Entries returns entries in registration order.
func (r *Result) Entries() []Entry {
	out := make([]Entry, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.entries[name])
	}
	return out
}

// Version is the registry version the result was computed from.
func (r *Result) Version() uint64 {
	return r.version
}

// Config configures a Service.
type Config struct {
	Registry    registry.Source
	Permissions auth.PermissionPredicate

	// CacheTTL enables result caching when positive.
	CacheTTL  time.Duration
	CacheSize int

	Logger *slog.Logger
}

// Service computes discovery results.
type Service struct {
	registry    registry.Source
	permissions auth.PermissionPredicate
	cache       *resultCache // nil when caching is off
	logger      *slog.Logger

	closeOnce   sync.Once
	unsubscribe func()
}

// New creates a discovery service. When caching is enabled the service
// subscribes to registry changes; call Close to release the subscription.
func New(cfg Config) (*Service, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Permissions == nil {
		return nil, errors.New("permission predicate is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		registry:    cfg.Registry,
		permissions: cfg.Permissions,
		logger:      logger.With("component", "discovery"),
	}
	if cfg.CacheTTL > 0 {
		size := cfg.CacheSize
		if size <= 0 {
			size = DefaultCacheSize
		}
		s.cache = newResultCache(cfg.CacheTTL, size)
		s.unsubscribe = cfg.Registry.Subscribe(func(ev registry.Event) {
			s.logger.Debug("registry changed, invalidating cache",
				"event", ev.Type, "procedure", ev.ProcedureID, "version", ev.Version)
			s.Invalidate()
		})
	}
	return s, nil
}

// Discover returns the tools principal may see. A nil principal is treated
// as anonymous without permissions.
func (s *Service) Discover(ctx context.Context, principal *auth.Principal) (*Result, error) {
	if principal == nil {
		principal = auth.Anonymous(nil)
	}

	version := s.registry.Version()
	var key string
	var generation uint64
	if s.cache != nil {
		key = fmt.Sprintf("%d:%s", version, auth.Fingerprint(principal))
		cached, gen, ok := s.cache.get(key)
		if ok {
			return cached, nil
		}
		generation = gen
	}

	result, err := s.compute(ctx, principal, version)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.put(key, generation, result)
	}
	return result, nil
}

func (s *Service) compute(ctx context.Context, principal *auth.Principal, version uint64) (*Result, error) {
	result := &Result{
		entries: make(map[string]Entry),
		version: version,
	}
	for _, desc := range s.registry.Procedures() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("discovering tools: %w", err)
		}
		ext, ok := s.registry.Extension(desc.Impl)
		if !ok || ext == nil {
			continue
		}
		if !s.permissions.Permits(ctx, principal, desc.Access) {
			continue
		}
		result.names = append(result.names, desc.ID)
		result.entries[desc.ID] = Entry{Descriptor: desc, Extension: ext}
	}
	return result, nil
}

// Invalidate drops every cached result.
func (s *Service) Invalidate() {
	if s.cache == nil {
		return
	}
	s.cache.invalidate()
	s.logger.Info("discovery cache invalidated")
}

// Fingerprint returns the cache identity of principal.
func (s *Service) Fingerprint(principal *auth.Principal) string {
	return auth.Fingerprint(principal)
}

// Version returns the current registry version.
func (s *Service) Version() uint64 {
	return s.registry.Version()
}

// CachedResults returns how many results are cached (for monitoring).
func (s *Service) CachedResults() int {
	if s.cache == nil {
		return 0
	}
	return s.cache.size()
}

// Close unsubscribes from the registry and stops cache maintenance.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		if s.cache != nil {
			s.cache.close()
		}
	})
}
