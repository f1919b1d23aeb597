// ABOUTME: End-to-end tests for the assembled gateway over its HTTP handler
// ABOUTME: Shared harness plus the echo scenarios, health and shutdown behaviour

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/toolbridge/internal/config"
	"github.com/2389/toolbridge/internal/oauth"
	"github.com/2389/toolbridge/internal/registry"
	"github.com/2389/toolbridge/internal/store"
)

const testResource = "https://tools.example.com"

type testEnv struct {
	gw     *Gateway
	tokens *oauth.MemoryTokenStore
}

func newTestGateway(t *testing.T, opts ...func(*config.Config)) *testEnv {
	t.Helper()

	cfg := &config.Config{
		Server:    config.ServerConfig{HTTPAddr: "127.0.0.1:0", PublicURL: testResource + "/"},
		Database:  config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "toolbridge.db")},
		OAuth:     config.OAuthConfig{TokenStore: config.TokenStoreMemory, ResourceName: "Test Tools"},
		Discovery: config.DiscoveryConfig{CacheTTL: time.Minute},
		Examples:  config.ExamplesConfig{Enabled: true},
		Metrics:   config.MetricsConfig{Enabled: true},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
	})

	tokens, ok := gw.Tokens().(*oauth.MemoryTokenStore)
	require.True(t, ok, "tests run with the memory token store")
	return &testEnv{gw: gw, tokens: tokens}
}

func withoutExamples(cfg *config.Config) {
	cfg.Examples.Enabled = false
}

// do sends a request through the gateway handler. headers alternate name, value.
func (e *testEnv) do(t *testing.T, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.gw.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) addPrincipal(t *testing.T, id string, roles, permissions []string) {
	t.Helper()
	require.NoError(t, e.gw.Store().CreatePrincipal(context.Background(), &store.Principal{
		ID:          id,
		DisplayName: "Principal " + id,
		Status:      store.PrincipalStatusActive,
		Roles:       roles,
		Permissions: permissions,
		CreatedAt:   time.Now().UTC(),
	}))
}

func (e *testEnv) issue(value, principalID string, scopes ...string) {
	e.tokens.Put(value, oauth.TokenRecord{
		PrincipalID: principalID,
		Scopes:      scopes,
		ExpiresAt:   time.Now().Add(time.Hour),
	})
}

func bearer(token string) []string {
	return []string{"Authorization", "Bearer " + token}
}

type errorEnvelope struct {
	Error struct {
		Code           string   `json:"code"`
		Message        string   `json:"message"`
		RequiredScopes []string `json:"requiredScopes"`
		MissingScopes  []string `json:"missingScopes"`
		CurrentScopes  []string `json:"currentScopes"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"), "errors are never cached")
	return env
}

// registerEcho registers demo.echo with a required "msg" parameter and
// returns a counter of handler calls.
func registerEcho(t *testing.T, reg *registry.Registry, ext *registry.Extension) *atomic.Int32 {
	t.Helper()
	var calls atomic.Int32
	require.NoError(t, reg.Register(registry.Procedure{
		Descriptor: registry.Descriptor{
			ID:    "demo.echo",
			Usage: "Echo",
			Params: []registry.Param{
				{Name: "msg", Spec: registry.ParameterSpec{Schema: map[string]any{"type": "string"}, Required: true}},
			},
		},
		Handler: func(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
			calls.Add(1)
			return params, nil
		},
		Extension: ext,
	}))
	return &calls
}

var scopedEcho = registry.MustExtension("Echo", map[string]any{
	"auth": map[string]any{"scopes": []any{"x:read"}},
})

func TestScenario_UnexposedProcedureIsNotListed(t *testing.T) {
	env := newTestGateway(t, withoutExamples)
	registerEcho(t, env.gw.Registry(), nil)

	rec := env.do(t, http.MethodGet, "/tools/list", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tools":[],"nextCursor":null}`, rec.Body.String())
}

func TestScenario_DescribeScopedTool(t *testing.T) {
	env := newTestGateway(t, withoutExamples)
	registerEcho(t, env.gw.Registry(), scopedEcho)

	rec := env.do(t, http.MethodGet, "/tools/describe?name=demo.echo", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"tool":{
		"name":"demo.echo",
		"title":"Echo",
		"description":"Echo",
		"inputSchema":{"type":"object","properties":{"msg":{"type":"string"}},"required":["msg"]},
		"annotations":{"auth":{"scopes":["x:read"]}}
	}}`, rec.Body.String())

	route, ok := env.gw.routes.Lookup("demo.echo")
	require.True(t, ok)
	assert.Equal(t, "required", string(route.Auth.Level), "scopes imply required")
}

func TestScenario_InvokeWithScopes(t *testing.T) {
	env := newTestGateway(t, withoutExamples)
	registerEcho(t, env.gw.Registry(), scopedEcho)
	env.issue("reader", "p1", "x:read")
	env.issue("other", "p1", "y:read")

	body := `{"name":"demo.echo","arguments":{"msg":"hello"}}`

	rec := env.do(t, http.MethodPost, "/tools/invoke", body, bearer("reader")...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"result":{"msg":"hello"}}`, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	rec = env.do(t, http.MethodPost, "/tools/invoke", body, bearer("other")...)
	require.Equal(t, http.StatusForbidden, rec.Code)
	got := decodeError(t, rec)
	assert.Equal(t, CodeInsufficientScope, got.Error.Code)
	assert.Equal(t, []string{"x:read"}, got.Error.RequiredScopes)
	assert.Equal(t, []string{"x:read"}, got.Error.MissingScopes)
	assert.Equal(t, []string{"y:read"}, got.Error.CurrentScopes)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `error="insufficient_scope"`)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `scope="x:read"`)
}

func TestScenario_MalformedBodyNeverDispatches(t *testing.T) {
	env := newTestGateway(t, withoutExamples)
	calls := registerEcho(t, env.gw.Registry(), registry.MustExtension("Echo", nil))

	rec := env.do(t, http.MethodPost, "/tools/invoke", `{"name":"demo.echo",`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidJSON, decodeError(t, rec).Error.Code)
	assert.Zero(t, calls.Load())
}

func TestInvoke_UnauthenticatedChallenge(t *testing.T) {
	env := newTestGateway(t, withoutExamples)
	registerEcho(t, env.gw.Registry(), scopedEcho)

	rec := env.do(t, http.MethodPost, "/tools/invoke", `{"name":"demo.echo","arguments":{"msg":"x"}}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeUnauthenticated, decodeError(t, rec).Error.Code)
	assert.Equal(t,
		`Bearer realm="MCP Tools", resource_metadata="https://tools.example.com/.well-known/oauth-protected-resource"`,
		rec.Header().Get("WWW-Authenticate"))
}

func TestInvoke_InvalidToken(t *testing.T) {
	env := newTestGateway(t, withoutExamples)
	registerEcho(t, env.gw.Registry(), scopedEcho)

	rec := env.do(t, http.MethodPost, "/tools/invoke", `{"name":"demo.echo","arguments":{"msg":"x"}}`, bearer("bogus")...)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	got := decodeError(t, rec)
	assert.Equal(t, CodeInvalidToken, got.Error.Code)
	assert.Equal(t, "The access token is invalid or expired", got.Error.Message)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `error="invalid_token"`)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestGateway(t)

	rec := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = env.do(t, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "5 procedures")
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestGateway(t)

	rec := env.do(t, http.MethodPost, "/tools/invoke", `{"name":"demo.echo","arguments":{"message":"hi"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `toolbridge_invocations_total{outcome="ok",tool="demo.echo"} 1`)
	assert.Contains(t, body, "toolbridge_exposed_tools 5")
}

func TestMetricsEndpoint_UnknownToolsShareOneLabel(t *testing.T) {
	env := newTestGateway(t)

	for i := range 5 {
		body := fmt.Sprintf(`{"name":"bogus-%d","arguments":{}}`, i)
		rec := env.do(t, http.MethodPost, "/tools/invoke", body)
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `toolbridge_invocations_total{outcome="tool_not_found",tool="unknown"} 5`)
	assert.NotContains(t, body, "bogus-")
}

func TestInvoke_DispatcherFaultsAreExecutionErrors(t *testing.T) {
	env := newTestGateway(t, withoutExamples)
	reg := env.gw.Registry()

	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	require.NoError(t, reg.Register(registry.Procedure{
		Descriptor: registry.Descriptor{ID: "demo.panic", Usage: "Panics"},
		Handler: func(context.Context, json.RawMessage) (json.RawMessage, error) {
			panic("boom")
		},
		Extension: registry.MustExtension("Panic", nil),
	}))
	require.NoError(t, reg.Register(registry.Procedure{
		Descriptor: registry.Descriptor{ID: "demo.slow", Usage: "Never finishes in time"},
		Handler: func(context.Context, json.RawMessage) (json.RawMessage, error) {
			<-block
			return json.RawMessage(`{}`), nil
		},
		Extension: registry.MustExtension("Slow", nil),
		Timeout:   20 * time.Millisecond,
	}))

	rec := env.do(t, http.MethodPost, "/tools/invoke", `{"name":"demo.panic","arguments":{}}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())
	e := decodeError(t, rec)
	assert.Equal(t, CodeExecutionError, e.Error.Code)
	assert.Equal(t, "Tool execution failed: procedure panicked: boom", e.Error.Message)

	rec = env.do(t, http.MethodPost, "/tools/invoke", `{"name":"demo.slow","arguments":{}}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())
	e = decodeError(t, rec)
	assert.Equal(t, CodeExecutionError, e.Error.Code)
	assert.Equal(t, "Tool execution failed: context deadline exceeded", e.Error.Message)

	rec = env.do(t, http.MethodGet, "/metrics", "")
	assert.Contains(t, rec.Body.String(), `toolbridge_invocations_total{outcome="execution_error",tool="demo.panic"} 1`)
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	env := newTestGateway(t, func(cfg *config.Config) { cfg.Metrics.Enabled = false })

	rec := env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvoke_RecordsAudit(t *testing.T) {
	env := newTestGateway(t)

	rec := env.do(t, http.MethodPost, "/tools/invoke", `{"name":"demo.echo","arguments":{"message":"hi"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, "/tools/invoke", `{"name":"examples.articles.list","arguments":{}}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	invocations, err := env.gw.Store().ListInvocations(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, invocations, 2)

	outcomes := map[string]string{}
	for _, inv := range invocations {
		outcomes[inv.ToolName] = inv.Outcome
		assert.True(t, strings.HasPrefix(inv.CorrelationID, "mcp_"), inv.CorrelationID)
	}
	assert.Equal(t, "ok", outcomes["demo.echo"])
	assert.Equal(t, CodeToolNotFound, outcomes["examples.articles.list"])
}

func TestExposureManifest(t *testing.T) {
	env := newTestGateway(t, func(cfg *config.Config) {
		cfg.Exposure = []config.ExposureEntry{
			{Impl: "examples.contentTypes.list", Title: "Content Types", Annotations: map[string]any{"category": "admin"}},
		}
	})
	env.addPrincipal(t, "reader", nil, []string{"access content"})
	env.issue("reader-token", "reader")

	rec := env.do(t, http.MethodGet, "/tools/describe?name=examples.contentTypes.list", "", bearer("reader-token")...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got DescribeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Content Types", got.Tool.Title)
	assert.Equal(t, map[string]any{"category": "admin"}, got.Tool.Annotations)
}

func TestNew_RejectsBadExposure(t *testing.T) {
	cfg := &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "toolbridge.db")},
		Exposure: []config.ExposureEntry{{Impl: "demo.echo", Annotations: []any{"auth"}}},
	}
	cfg.ApplyDefaults()

	_, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
	assert.ErrorIs(t, err, registry.ErrAnnotationsNotMap)
}

func TestShutdown_ClosesStore(t *testing.T) {
	env := newTestGateway(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, env.gw.Shutdown(ctx))
	assert.Error(t, env.gw.Store().Ping())
}
