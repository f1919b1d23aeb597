// ABOUTME: Tests for the REST tool surface: list, describe, invoke and aliases
// ABOUTME: Covers pagination, cache headers, permission filtering and error envelopes

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/toolbridge/internal/auth"
	"github.com/2389/toolbridge/internal/config"
	"github.com/2389/toolbridge/internal/registry"
)

// readerEnv is a gateway with a principal allowed to see the content tools.
func readerEnv(t *testing.T, opts ...func(*config.Config)) *testEnv {
	t.Helper()
	env := newTestGateway(t, opts...)
	env.addPrincipal(t, "reader", []string{"member"}, []string{"access content"})
	env.addPrincipal(t, "root", []string{"admin"}, nil)
	env.issue("reader-token", "reader")
	env.issue("reader-content", "reader", "content:read", "content_type:read")
	env.issue("root-token", "root")
	return env
}

func listNames(t *testing.T, body []byte) ([]string, *string) {
	t.Helper()
	var res struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
		NextCursor *string `json:"nextCursor"`
	}
	require.NoError(t, json.Unmarshal(body, &res))
	names := make([]string, 0, len(res.Tools))
	for _, tl := range res.Tools {
		names = append(names, tl.Name)
	}
	return names, res.NextCursor
}

func TestList_FiltersByPermission(t *testing.T) {
	env := readerEnv(t)

	rec := env.do(t, http.MethodGet, "/tools/list", "")
	require.Equal(t, http.StatusOK, rec.Code)
	names, next := listNames(t, rec.Body.Bytes())
	assert.Equal(t, []string{"demo.echo"}, names)
	assert.Nil(t, next)

	rec = env.do(t, http.MethodGet, "/mcp/tools/list", "", bearer("reader-token")...)
	require.Equal(t, http.StatusOK, rec.Code)
	names, _ = listNames(t, rec.Body.Bytes())
	assert.Equal(t, []string{
		"examples.articles.list",
		"examples.contentTypes.list",
		"examples.article.toMarkdown",
		"examples.article.render",
		"demo.echo",
	}, names)
}

func TestList_Pagination(t *testing.T) {
	env := readerEnv(t, func(cfg *config.Config) { cfg.Discovery.PageSize = 2 })

	var all []string
	cursor := ""
	for pages := 0; pages < 10; pages++ {
		target := "/tools/list"
		if cursor != "" {
			target += "?cursor=" + url.QueryEscape(cursor)
		}
		rec := env.do(t, http.MethodGet, target, "", bearer("reader-token")...)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		names, next := listNames(t, rec.Body.Bytes())
		assert.LessOrEqual(t, len(names), 2)
		all = append(all, names...)
		if next == nil {
			break
		}
		cursor = *next
	}
	assert.Len(t, all, 5)
	assert.Equal(t, "demo.echo", all[4])
}

func TestList_InvalidCursor(t *testing.T) {
	env := readerEnv(t)

	rec := env.do(t, http.MethodGet, "/tools/list?cursor=not-base64!", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidCursor, decodeError(t, rec).Error.Code)
}

func TestList_CacheHeaders(t *testing.T) {
	env := readerEnv(t)

	rec := env.do(t, http.MethodGet, "/tools/list", "", bearer("reader-token")...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "private, max-age=60", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "Authorization, Cookie", rec.Header().Get("Vary"))
	assert.Equal(t, DiscoveryCacheTag, rec.Header().Get("Cache-Tag"))
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	rec = env.do(t, http.MethodGet, "/tools/list", "", append(bearer("reader-token"), "If-None-Match", etag)...)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, etag, rec.Header().Get("ETag"))

	anon := env.do(t, http.MethodGet, "/tools/list", "")
	assert.NotEqual(t, etag, anon.Header().Get("ETag"), "ETags differ per principal")
}

func TestList_ETagChangesWithRegistry(t *testing.T) {
	env := readerEnv(t)

	rec := env.do(t, http.MethodGet, "/tools/list", "")
	etag := rec.Header().Get("ETag")

	require.NoError(t, env.gw.Registry().Register(registry.Procedure{
		Descriptor: registry.Descriptor{ID: "demo.time", Usage: "Current time"},
		Handler:    func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) { return json.RawMessage(`"now"`), nil },
		Extension:  registry.MustExtension("Time", nil),
	}))

	rec = env.do(t, http.MethodGet, "/tools/list", "", "If-None-Match", etag)
	require.Equal(t, http.StatusOK, rec.Code)
	names, _ := listNames(t, rec.Body.Bytes())
	assert.Contains(t, names, "demo.time")
}

func TestDescribe(t *testing.T) {
	env := readerEnv(t)

	rec := env.do(t, http.MethodGet, "/tools/describe?name=examples.article.toMarkdown", "", bearer("reader-token")...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"tool":{
		"name":"examples.article.toMarkdown",
		"title":"Get Article as Markdown",
		"description":"Retrieves an article node and formats it as markdown",
		"inputSchema":{"type":"object","properties":{"nid":{"type":"integer","minimum":1,"description":"The node ID of the article"}},"required":["nid"]},
		"outputSchema":{"type":"string","description":"Article content formatted as markdown"},
		"annotations":{"category":"content","returns":"markdown"}
	}}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("ETag"))
}

func TestDescribe_Errors(t *testing.T) {
	env := readerEnv(t)

	tests := []struct {
		name     string
		target   string
		wantCode string
		status   int
	}{
		{"missing name", "/tools/describe", CodeMissingParameter, http.StatusBadRequest},
		{"unknown tool", "/tools/describe?name=nope", CodeToolNotFound, http.StatusNotFound},
		{"forbidden looks unknown", "/tools/describe?name=examples.articles.list", CodeToolNotFound, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.target, "")
			require.Equal(t, tt.status, rec.Code)
			got := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, got.Error.Code)
		})
	}
}

func TestDescribe_NotFoundMessage(t *testing.T) {
	env := readerEnv(t)

	rec := env.do(t, http.MethodGet, "/tools/describe?name=examples.articles.list", "")
	assert.Equal(t, "Tool 'examples.articles.list' not found or access denied", decodeError(t, rec).Error.Message)
}

func TestInvoke_Errors(t *testing.T) {
	env := readerEnv(t)

	tests := []struct {
		name     string
		body     string
		status   int
		wantCode string
		wantMsg  string
	}{
		{"not an object", `[1,2]`, http.StatusBadRequest, CodeInvalidJSON, ""},
		{"missing name", `{"arguments":{}}`, http.StatusBadRequest, CodeMissingParameter, `Required parameter "name" is missing or invalid`},
		{"name not a string", `{"name":7}`, http.StatusBadRequest, CodeMissingParameter, ""},
		{"arguments not an object", `{"name":"demo.echo","arguments":"hi"}`, http.StatusBadRequest, CodeMissingParameter, `Required parameter "arguments" is missing or invalid`},
		{"arguments missing", `{"name":"demo.echo"}`, http.StatusBadRequest, CodeMissingParameter, ""},
		{"unknown tool", `{"name":"nope","arguments":{}}`, http.StatusNotFound, CodeToolNotFound, ""},
		{"procedure rejection", `{"name":"examples.article.toMarkdown","arguments":{"nid":99}}`, http.StatusInternalServerError, CodeExecutionError, "Node with ID 99 not found"},
		{"schema violation", `{"name":"demo.echo","arguments":{}}`, http.StatusInternalServerError, CodeExecutionError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/tools/invoke", tt.body, bearer("reader-token")...)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			got := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, got.Error.Code)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, got.Error.Message)
			}
		})
	}
}

func TestInvoke_BodyTooLarge(t *testing.T) {
	env := readerEnv(t)

	big := `{"name":"demo.echo","arguments":{"message":"` + strings.Repeat("a", MaxRequestBodySize) + `"}}`
	rec := env.do(t, http.MethodPost, "/tools/invoke", big)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, CodeInvalidJSON, decodeError(t, rec).Error.Code)
}

func TestInvoke_ScopedExampleTool(t *testing.T) {
	env := readerEnv(t)
	body := `{"name":"examples.article.render","arguments":{"nid":1}}`

	rec := env.do(t, http.MethodPost, "/tools/invoke", body, bearer("reader-token")...)
	require.Equal(t, http.StatusForbidden, rec.Code)
	got := decodeError(t, rec)
	assert.Equal(t, []string{"content:read"}, got.Error.MissingScopes)
	assert.Equal(t, []string{}, got.Error.CurrentScopes)

	rec = env.do(t, http.MethodPost, "/tools/invoke", body, bearer("reader-content")...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res struct {
		Result struct {
			HTML string `json:"html"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Contains(t, res.Result.HTML, "<strong>tools</strong>")
}

func TestAlias(t *testing.T) {
	env := readerEnv(t)

	args := url.QueryEscape(`{"nid":1}`)
	rec := env.do(t, http.MethodGet, "/tools/examples.article.toMarkdown?arguments="+args, "", bearer("reader-token")...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `# Welcome to toolbridge`)

	rec = env.do(t, http.MethodGet, "/mcp/tools/demo.echo?message=hi", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"result":{"message":"hi","principal":"","anonymous":true}}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/tools/demo.echo", `{"arguments":{"message":"wrapped"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"wrapped"`)

	rec = env.do(t, http.MethodPost, "/tools/demo.echo", `{"message":"bare"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"bare"`)
}

func TestAlias_Errors(t *testing.T) {
	env := readerEnv(t)

	rec := env.do(t, http.MethodGet, "/tools/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeToolNotFound, decodeError(t, rec).Error.Code)

	rec = env.do(t, http.MethodPost, "/tools/demo.echo", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidJSON, decodeError(t, rec).Error.Code)

	rec = env.do(t, http.MethodGet, "/tools/examples.articles.list", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "routed but not visible to anonymous")
}

func TestResourceMetadata(t *testing.T) {
	env := readerEnv(t)

	rec := env.do(t, http.MethodGet, ResourceMetadataPath, "", bearer("reader-token")...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, DiscoveryCacheTag, rec.Header().Get("Cache-Tag"))

	var doc ResourceMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, testResource, doc.Resource)
	assert.Equal(t, "Test Tools", doc.ResourceName)
	assert.Equal(t, []string{}, doc.AuthorizationServers)
	assert.Equal(t, []string{"content:read", "content_type:read"}, doc.ScopesSupported)
	assert.Equal(t, []string{"header"}, doc.BearerMethodsSupported)
	assert.Equal(t, []string{
		"demo.echo",
		"examples.article.render",
		"examples.article.toMarkdown",
		"examples.articles.list",
		"examples.contentTypes.list",
	}, doc.AuthorizationDetailsTypesSupported)

	rec = env.do(t, http.MethodGet, ResourceMetadataPath, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, []string{}, doc.ScopesSupported)
	assert.Equal(t, []string{"demo.echo"}, doc.AuthorizationDetailsTypesSupported)
}

func TestInvalidate(t *testing.T) {
	env := readerEnv(t)

	rec := env.do(t, http.MethodPost, "/tools/invalidate", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/tools/invalidate", "", bearer("reader-token")...)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	env.do(t, http.MethodGet, "/tools/list", "", bearer("root-token")...)
	require.Positive(t, env.gw.discovery.CachedResults())

	rec = env.do(t, http.MethodPost, "/mcp/tools/invalidate", "", bearer("root-token")...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"invalidated":true`)
	assert.Zero(t, env.gw.discovery.CachedResults())
}

func TestSessionCookie(t *testing.T) {
	secret := strings.Repeat("s", 32)
	env := readerEnv(t, func(cfg *config.Config) { cfg.Auth.JWTSecret = secret })

	signer, err := auth.NewSessionSigner([]byte(secret))
	require.NoError(t, err)
	session, err := signer.Sign("reader", time.Hour)
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/tools/list", "", "Cookie", config.DefaultSessionCookie+"="+session)
	require.Equal(t, http.StatusOK, rec.Code)
	names, _ := listNames(t, rec.Body.Bytes())
	assert.Len(t, names, 5)

	// A session alone never satisfies a scoped tool.
	rec = env.do(t, http.MethodPost, "/tools/invoke", `{"name":"examples.contentTypes.list","arguments":{}}`,
		"Cookie", config.DefaultSessionCookie+"="+session)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
