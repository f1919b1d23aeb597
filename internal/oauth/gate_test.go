// ABOUTME: Tests for the OAuth gate decision table
// ABOUTME: Covers anonymous, missing bearer, invalid token, and scope checks

package oauth

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/toolbridge/internal/auth"
	"github.com/2389/toolbridge/internal/tool"
)

type failingTokenStore struct{}

func (failingTokenStore) Resolve(context.Context, string) (*TokenRecord, error) {
	return nil, errors.New("database is locked")
}

func newTestGate(t *testing.T, tokens TokenStore) *Gate {
	t.Helper()
	g, err := NewGate(GateConfig{Tokens: tokens})
	require.NoError(t, err)
	return g
}

func seededTokens() *MemoryTokenStore {
	ts := NewMemoryTokenStore()
	future := time.Now().Add(time.Hour)
	ts.Put("read-only", TokenRecord{PrincipalID: "p1", Scopes: []string{"content:read"}, ExpiresAt: future})
	ts.Put("read-write", TokenRecord{PrincipalID: "p1", Scopes: []string{"content:read", "content:write"}, ExpiresAt: future})
	ts.Put("expired", TokenRecord{PrincipalID: "p1", Scopes: []string{"content:read"}, ExpiresAt: time.Now().Add(-time.Minute)})
	ts.Put("revoked", TokenRecord{PrincipalID: "p1", Scopes: []string{"content:read"}, ExpiresAt: future, Revoked: true})
	return ts
}

func TestGate_Authorize(t *testing.T) {
	anon := auth.Anonymous(nil)
	user := &auth.Principal{ID: "p1"}
	scoped := tool.AuthRequirement{Level: tool.AuthRequired, Scopes: []string{"content:read", "content:write"}}

	tests := []struct {
		name          string
		req           tool.AuthRequirement
		principal     *auth.Principal
		header        string
		wantAllowed   bool
		wantStatus    int
		wantCode      string
		wantChallenge string
	}{
		{
			name:        "no auth requirement anonymous",
			req:         tool.AuthRequirement{Level: tool.AuthNone},
			principal:   anon,
			wantAllowed: true,
		},
		{
			name:          "required and anonymous",
			req:           tool.AuthRequirement{Level: tool.AuthRequired},
			principal:     anon,
			wantStatus:    http.StatusUnauthorized,
			wantCode:      CodeUnauthenticated,
			wantChallenge: `Bearer realm="MCP Tools"`,
		},
		{
			name:        "required without scopes and session principal",
			req:         tool.AuthRequirement{Level: tool.AuthRequired},
			principal:   user,
			wantAllowed: true,
		},
		{
			name:          "scopes without bearer even when signed in",
			req:           scoped,
			principal:     user,
			wantStatus:    http.StatusUnauthorized,
			wantCode:      CodeUnauthenticated,
			wantChallenge: `Bearer realm="MCP Tools"`,
		},
		{
			name:          "optional level with scopes still needs bearer",
			req:           tool.AuthRequirement{Level: tool.AuthOptional, Scopes: []string{"content:read"}},
			principal:     anon,
			wantStatus:    http.StatusUnauthorized,
			wantCode:      CodeUnauthenticated,
			wantChallenge: `Bearer realm="MCP Tools"`,
		},
		{
			name:          "unknown bearer",
			req:           tool.AuthRequirement{Level: tool.AuthNone},
			principal:     anon,
			header:        "Bearer nope",
			wantStatus:    http.StatusUnauthorized,
			wantCode:      CodeInvalidToken,
			wantChallenge: `Bearer realm="MCP Tools", error="invalid_token", error_description="The access token is invalid or expired"`,
		},
		{
			name:       "expired bearer",
			req:        scoped,
			principal:  anon,
			header:     "Bearer expired",
			wantStatus: http.StatusUnauthorized,
			wantCode:   CodeInvalidToken,
		},
		{
			name:       "revoked bearer",
			req:        scoped,
			principal:  anon,
			header:     "Bearer revoked",
			wantStatus: http.StatusUnauthorized,
			wantCode:   CodeInvalidToken,
		},
		{
			name:          "missing one scope",
			req:           scoped,
			principal:     user,
			header:        "Bearer read-only",
			wantStatus:    http.StatusForbidden,
			wantCode:      CodeInsufficientScope,
			wantChallenge: `Bearer realm="MCP Tools", error="insufficient_scope", scope="content:write"`,
		},
		{
			name:        "all scopes",
			req:         scoped,
			principal:   user,
			header:      "Bearer read-write",
			wantAllowed: true,
		},
		{
			name:        "lowercase scheme",
			req:         scoped,
			principal:   user,
			header:      "bearer read-write",
			wantAllowed: true,
		},
	}

	g := newTestGate(t, seededTokens())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Authorize(context.Background(), tt.req, tt.principal, tt.header)
			assert.Equal(t, tt.wantAllowed, d.Allowed)
			if tt.wantAllowed {
				return
			}
			assert.Equal(t, tt.wantStatus, d.Status)
			assert.Equal(t, tt.wantCode, d.Code)
			assert.NotEmpty(t, d.Message)
			if tt.wantChallenge != "" {
				assert.Equal(t, tt.wantChallenge, d.Challenge)
			}
		})
	}
}

func TestGate_InsufficientScopeDetails(t *testing.T) {
	g := newTestGate(t, seededTokens())
	req := tool.AuthRequirement{Level: tool.AuthRequired, Scopes: []string{"content:write", "content:read", "user:read"}}

	d := g.Authorize(context.Background(), req, auth.Anonymous(nil), "Bearer read-only")

	require.False(t, d.Allowed)
	assert.Equal(t, []string{"content:write", "content:read", "user:read"}, d.RequiredScopes)
	assert.Equal(t, []string{"content:write", "user:read"}, d.MissingScopes)
	assert.Equal(t, []string{"content:read"}, d.CurrentScopes)
	assert.Contains(t, d.Challenge, `scope="content:write user:read"`)
}

func TestGate_TokenStoreFailure(t *testing.T) {
	g := newTestGate(t, failingTokenStore{})

	d := g.Authorize(context.Background(), tool.AuthRequirement{Level: tool.AuthNone}, auth.Anonymous(nil), "Bearer x")

	assert.False(t, d.Allowed)
	assert.Equal(t, http.StatusUnauthorized, d.Status)
	assert.Equal(t, CodeInvalidToken, d.Code)
}

func TestGate_ResourceMetadataInChallenge(t *testing.T) {
	g, err := NewGate(GateConfig{
		Tokens:              NewMemoryTokenStore(),
		Realm:               "Example",
		ResourceMetadataURL: "https://tools.example.com/.well-known/oauth-protected-resource",
	})
	require.NoError(t, err)

	d := g.Authorize(context.Background(), tool.AuthRequirement{Level: tool.AuthRequired}, auth.Anonymous(nil), "")

	assert.Equal(t,
		`Bearer realm="Example", resource_metadata="https://tools.example.com/.well-known/oauth-protected-resource"`,
		d.Challenge)
}

func TestGate_ExpiryUsesClock(t *testing.T) {
	ts := NewMemoryTokenStore()
	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	ts.Put("t", TokenRecord{Scopes: []string{"profile"}, ExpiresAt: expires})
	req := tool.AuthRequirement{Level: tool.AuthRequired, Scopes: []string{"profile"}}

	before, err := NewGate(GateConfig{Tokens: ts, Now: func() time.Time { return expires.Add(-time.Second) }})
	require.NoError(t, err)
	assert.True(t, before.Authorize(context.Background(), req, nil, "Bearer t").Allowed)

	at, err := NewGate(GateConfig{Tokens: ts, Now: func() time.Time { return expires }})
	require.NoError(t, err)
	assert.False(t, at.Authorize(context.Background(), req, nil, "Bearer t").Allowed)
}

func TestNewGate_RequiresTokenStore(t *testing.T) {
	_, err := NewGate(GateConfig{})
	assert.Error(t, err)
}
