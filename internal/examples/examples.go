// ABOUTME: Example procedures exposed as tools: article listing, content types, markdown
// ABOUTME: Backed by the SQLite content tables and registered at gateway start-up

package examples

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/toolbridge/internal/auth"
	"github.com/2389/toolbridge/internal/registry"
	"github.com/2389/toolbridge/internal/store"
)

// AccessContent is the permission the content procedures require.
const AccessContent = "access content"

// maxPageLimit caps examples.articles.list page sizes.
const maxPageLimit = 100

// articleType is the content type the article procedures operate on.
const articleType = "article"

// Procedures returns the example procedures bound to s.
func Procedures(s store.ContentStore) []registry.Procedure {
	h := &handlers{store: s}
	return []registry.Procedure{
		{
			Descriptor: registry.Descriptor{
				ID:    "examples.articles.list",
				Usage: "Lists article nodes with optional pagination",
				Params: []registry.Param{
					{Name: "page", Spec: registry.ParameterSpec{
						Schema: map[string]any{
							"type": "object",
							"properties": map[string]any{
								"offset": map[string]any{"type": "integer", "minimum": 0},
								"limit":  map[string]any{"type": "integer", "minimum": 1, "maximum": maxPageLimit},
							},
						},
						Description: "Pagination parameters (offset and limit)",
					}},
				},
				Access: []string{AccessContent},
			},
			Handler: h.ListArticles,
			Extension: registry.MustExtension("List Articles", map[string]any{
				"category":            "content",
				"supports_pagination": true,
			}),
			OutputSchema: map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"nid":     map[string]any{"type": "integer", "description": "Node ID"},
						"title":   map[string]any{"type": "string", "description": "Article title"},
						"created": map[string]any{"type": "integer", "description": "Creation timestamp"},
					},
					"required": []any{"nid", "title", "created"},
				},
			},
		},
		{
			Descriptor: registry.Descriptor{
				ID:     "examples.contentTypes.list",
				Usage:  "Lists all available content types",
				Access: []string{AccessContent},
			},
			Handler: h.ListContentTypes,
			Extension: registry.MustExtension("List Content Types", map[string]any{
				"category": "discovery",
				"auth": map[string]any{
					"scopes":      []any{"content_type:read"},
					"description": "Requires a token allowed to read content type definitions",
				},
			}),
			OutputSchema: map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":    map[string]any{"type": "string", "description": "Content type machine name"},
						"label": map[string]any{"type": "string", "description": "Content type human-readable label"},
					},
					"required": []any{"id", "label"},
				},
			},
		},
		{
			Descriptor: registry.Descriptor{
				ID:     "examples.article.toMarkdown",
				Usage:  "Retrieves an article node and formats it as markdown",
				Params: []registry.Param{nidParam()},
				Access: []string{AccessContent},
			},
			Handler: h.ArticleToMarkdown,
			Extension: registry.MustExtension("Get Article as Markdown", map[string]any{
				"category": "content",
				"returns":  "markdown",
			}),
			OutputSchema: map[string]any{
				"type":        "string",
				"description": "Article content formatted as markdown",
			},
		},
		{
			Descriptor: registry.Descriptor{
				ID:     "examples.article.render",
				Usage:  "Renders an article's markdown body to HTML",
				Params: []registry.Param{nidParam()},
				Access: []string{AccessContent},
			},
			Handler: h.RenderArticle,
			Extension: registry.MustExtension("Render Article", map[string]any{
				"category": "content",
				"returns":  "html",
				"auth": map[string]any{
					"scopes": []any{"content:read"},
				},
			}),
			OutputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"nid":   map[string]any{"type": "integer"},
					"title": map[string]any{"type": "string"},
					"html":  map[string]any{"type": "string"},
				},
				"required": []any{"nid", "title", "html"},
			},
		},
		{
			Descriptor: registry.Descriptor{
				ID:    "demo.echo",
				Usage: "Echoes the message back with the caller's identity",
				Params: []registry.Param{
					{Name: "message", Spec: registry.ParameterSpec{
						Schema:      map[string]any{"type": "string"},
						Description: "Text to echo",
						Required:    true,
					}},
				},
			},
			Handler:   h.Echo,
			Extension: registry.MustExtension("Echo", map[string]any{"category": "demo"}),
		},
	}
}

// Register adds every example procedure to r.
func Register(r *registry.Registry, s store.ContentStore) error {
	for _, p := range Procedures(s) {
		if err := r.Register(p); err != nil {
			return fmt.Errorf("registering %s: %w", p.Descriptor.ID, err)
		}
	}
	return nil
}

func nidParam() registry.Param {
	return registry.Param{Name: "nid", Spec: registry.ParameterSpec{
		Schema:      map[string]any{"type": "integer", "minimum": 1},
		Description: "The node ID of the article",
		Required:    true,
	}}
}

type handlers struct {
	store store.ContentStore
}

type articleSummary struct {
	NID     int64  `json:"nid"`
	Title   string `json:"title"`
	Created int64  `json:"created"`
}

type listArticlesInput struct {
	Page *struct {
		Offset int `json:"offset"`
		Limit  int `json:"limit"`
	} `json:"page"`
}

func (h *handlers) ListArticles(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var in listArticlesInput
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, registry.InvalidParams("invalid input: %v", err)
	}

	offset, limit := 0, maxPageLimit
	if in.Page != nil {
		offset = in.Page.Offset
		if in.Page.Limit > 0 {
			limit = in.Page.Limit
		}
	}

	articles, err := h.store.ListArticles(ctx, articleType, offset, limit)
	if err != nil {
		return nil, err
	}

	out := make([]articleSummary, 0, len(articles))
	for _, a := range articles {
		out = append(out, articleSummary{NID: a.ID, Title: a.Title, Created: a.CreatedAt.Unix()})
	}
	return json.Marshal(out)
}

type contentTypeOutput struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

func (h *handlers) ListContentTypes(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
	types, err := h.store.ListContentTypes(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]contentTypeOutput, 0, len(types))
	for _, ct := range types {
		out = append(out, contentTypeOutput{ID: ct.ID, Label: ct.Label})
	}
	return json.Marshal(out)
}

type nidInput struct {
	NID int64 `json:"nid"`
}

func (h *handlers) ArticleToMarkdown(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	a, err := h.loadArticle(ctx, params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ToMarkdown(a))
}

func (h *handlers) RenderArticle(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	a, err := h.loadArticle(ctx, params)
	if err != nil {
		return nil, err
	}
	html, err := RenderHTML(a.Body)
	if err != nil {
		return nil, fmt.Errorf("rendering article %d: %w", a.ID, err)
	}
	return json.Marshal(map[string]any{"nid": a.ID, "title": a.Title, "html": html})
}

// loadArticle resolves the nid parameter to a viewable article. Unpublished
// articles are visible to admins only.
func (h *handlers) loadArticle(ctx context.Context, params json.RawMessage) (*store.Article, error) {
	var in nidInput
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, registry.InvalidParams("invalid input: %v", err)
	}

	a, err := h.store.GetArticle(ctx, in.NID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, registry.InvalidParams("Node with ID %d not found", in.NID)
	}
	if err != nil {
		return nil, err
	}
	if a.ContentType != articleType {
		return nil, registry.InvalidParams("Node %d is not an article", in.NID)
	}
	if !a.Published && !auth.PrincipalOrAnonymous(ctx).IsAdmin() {
		return nil, registry.InvalidParams("Access denied to node %d", in.NID)
	}
	return a, nil
}

type echoInput struct {
	Message string `json:"message"`
}

func (h *handlers) Echo(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var in echoInput
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, registry.InvalidParams("invalid input: %v", err)
	}
	p := auth.PrincipalOrAnonymous(ctx)
	return json.Marshal(map[string]any{
		"message":   in.Message,
		"principal": p.ID,
		"anonymous": p.IsAnonymous(),
	})
}
