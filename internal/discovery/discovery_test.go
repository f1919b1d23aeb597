// ABOUTME: Tests for the discovery service and its result cache
// ABOUTME: Covers metadata filtering, permission checks, ordering, and cache isolation

package discovery

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/toolbridge/internal/auth"
	"github.com/2389/toolbridge/internal/registry"
)

func noop(context.Context, json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func register(t *testing.T, r *registry.Registry, id string, access []string, exposed bool) {
	t.Helper()
	p := registry.Procedure{
		Descriptor: registry.Descriptor{ID: id, Usage: id, Access: access},
		Handler:    noop,
	}
	if exposed {
		p.Extension = registry.MustExtension("", nil)
	}
	require.NoError(t, r.Register(p))
}

// countingPredicate wraps RoleChecker and counts evaluations.
type countingPredicate struct {
	auth.RoleChecker
	calls atomic.Int64
}

func (c *countingPredicate) Permits(ctx context.Context, p *auth.Principal, required []string) bool {
	c.calls.Add(1)
	return c.RoleChecker.Permits(ctx, p, required)
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New(nil)
	register(t, r, "content.list", []string{"access content"}, true)
	register(t, r, "internal.reindex", []string{"access content"}, false)
	register(t, r, "users.list", []string{"administer users"}, true)
	register(t, r, "demo.echo", nil, true)
	return r
}

func TestDiscover_FiltersByMetadataAndPermission(t *testing.T) {
	svc, err := New(Config{Registry: newTestRegistry(t), Permissions: auth.RoleChecker{AllowEmpty: true}})
	require.NoError(t, err)
	defer svc.Close()

	reader := &auth.Principal{ID: "u1", Permissions: []string{"access content"}}
	result, err := svc.Discover(context.Background(), reader)
	require.NoError(t, err)

	assert.Equal(t, []string{"content.list", "demo.echo"}, result.Names())
	assert.Equal(t, 2, result.Len())
	_, ok := result.Lookup("internal.reindex")
	assert.False(t, ok, "procedures without extension metadata are never tools")

	entry, ok := result.Lookup("content.list")
	require.True(t, ok)
	assert.Equal(t, "content.list", entry.Descriptor.ID)
	assert.NotNil(t, entry.Extension)
}

func TestDiscover_AdminSeesEveryExposedProcedure(t *testing.T) {
	svc, err := New(Config{Registry: newTestRegistry(t), Permissions: auth.RoleChecker{}})
	require.NoError(t, err)
	defer svc.Close()

	result, err := svc.Discover(context.Background(), &auth.Principal{ID: "root", Roles: []string{"admin"}})
	require.NoError(t, err)

	names := make([]string, 0, result.Len())
	for _, e := range result.Entries() {
		names = append(names, e.Descriptor.ID)
	}
	assert.Equal(t, []string{"content.list", "users.list", "demo.echo"}, names)
}

func TestDiscover_EmptyAccessFollowsPredicate(t *testing.T) {
	r := newTestRegistry(t)

	strict, err := New(Config{Registry: r, Permissions: auth.RoleChecker{}})
	require.NoError(t, err)
	result, err := strict.Discover(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, result.Len())

	lenient, err := New(Config{Registry: r, Permissions: auth.RoleChecker{AllowEmpty: true}})
	require.NoError(t, err)
	result, err = lenient.Discover(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"demo.echo"}, result.Names())
}

func TestDiscover_CacheNeverCrossesPrincipals(t *testing.T) {
	pred := &countingPredicate{RoleChecker: auth.RoleChecker{AllowEmpty: true}}
	svc, err := New(Config{Registry: newTestRegistry(t), Permissions: pred, CacheTTL: time.Minute})
	require.NoError(t, err)
	defer svc.Close()
	ctx := context.Background()

	admin := &auth.Principal{ID: "root", Roles: []string{"admin"}}
	anon := auth.Anonymous(nil)

	adminResult, err := svc.Discover(ctx, admin)
	require.NoError(t, err)
	anonResult, err := svc.Discover(ctx, anon)
	require.NoError(t, err)

	assert.Equal(t, 3, adminResult.Len())
	assert.Equal(t, []string{"demo.echo"}, anonResult.Names())
	assert.Equal(t, 2, svc.CachedResults())

	calls := pred.calls.Load()
	again, err := svc.Discover(ctx, admin)
	require.NoError(t, err)
	assert.Same(t, adminResult, again)
	assert.Equal(t, calls, pred.calls.Load(), "cache hit must not re-evaluate permissions")
}

func TestDiscover_SameIDDifferentGrantsNotShared(t *testing.T) {
	svc, err := New(Config{Registry: newTestRegistry(t), Permissions: auth.RoleChecker{}, CacheTTL: time.Minute})
	require.NoError(t, err)
	defer svc.Close()
	ctx := context.Background()

	before, err := svc.Discover(ctx, &auth.Principal{ID: "u1"})
	require.NoError(t, err)
	after, err := svc.Discover(ctx, &auth.Principal{ID: "u1", Permissions: []string{"access content"}})
	require.NoError(t, err)

	assert.Zero(t, before.Len())
	assert.Equal(t, []string{"content.list"}, after.Names())
}

func TestDiscover_RegistryChangeInvalidates(t *testing.T) {
	r := newTestRegistry(t)
	svc, err := New(Config{Registry: r, Permissions: auth.RoleChecker{AllowEmpty: true}, CacheTTL: time.Minute})
	require.NoError(t, err)
	defer svc.Close()
	ctx := context.Background()

	first, err := svc.Discover(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"demo.echo"}, first.Names())

	register(t, r, "demo.ping", nil, true)
	assert.Zero(t, svc.CachedResults())

	second, err := svc.Discover(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"demo.echo", "demo.ping"}, second.Names())
	assert.Greater(t, second.Version(), first.Version())

	require.NoError(t, r.Unregister("demo.echo"))
	third, err := svc.Discover(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"demo.ping"}, third.Names())
}

func TestDiscover_CanceledContext(t *testing.T) {
	svc, err := New(Config{Registry: newTestRegistry(t), Permissions: auth.RoleChecker{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.Discover(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{Permissions: auth.RoleChecker{}})
	assert.Error(t, err)
	_, err = New(Config{Registry: registry.New(nil)})
	assert.Error(t, err)
}

func TestResultCache_GenerationBlocksStalePut(t *testing.T) {
	c := newResultCache(time.Minute, 10)
	defer c.close()

	_, gen, ok := c.get("k")
	require.False(t, ok)

	c.invalidate()
	assert.False(t, c.put("k", gen, &Result{}), "result computed before invalidate must not be stored")
	assert.Zero(t, c.size())

	_, gen, _ = c.get("k")
	assert.True(t, c.put("k", gen, &Result{}))
	assert.Equal(t, 1, c.size())
}

func TestResultCache_EvictsOldestAndExpires(t *testing.T) {
	c := newResultCache(20*time.Millisecond, 2)
	defer c.close()

	for _, key := range []string{"a", "b", "c"} {
		_, gen, _ := c.get(key)
		c.put(key, gen, &Result{})
	}
	assert.Equal(t, 2, c.size())
	_, _, ok := c.get("a")
	assert.False(t, ok, "oldest entry evicted at capacity")

	time.Sleep(30 * time.Millisecond)
	_, _, ok = c.get("c")
	assert.False(t, ok, "entries expire after ttl")

	c.runCleanup()
	assert.Zero(t, c.size())
}

func TestResultCache_CloseIdempotent(t *testing.T) {
	c := newResultCache(time.Minute, 1)
	c.close()
	c.close()
}
