// ABOUTME: Seeds the content tables with sample articles and content types
// ABOUTME: Runs at start-up when examples are enabled and the database has no articles

package examples

import (
	"context"
	"fmt"
	"time"

	"github.com/2389/toolbridge/internal/store"
)

var seedContentTypes = []store.ContentType{
	{ID: "article", Label: "Article", Description: "Time-sensitive content like news and blog posts"},
	{ID: "page", Label: "Basic page", Description: "Static content such as an about page"},
}

var seedArticles = []store.Article{
	{
		Title:     "Welcome to toolbridge",
		Body:      "Procedures registered with the gateway can be exposed as **tools**.\n\nAsk `tools/list` what you can call.",
		Author:    "toolbridge",
		Published: true,
	},
	{
		Title:     "Scopes and tokens",
		Body:      "Some tools require a bearer token carrying specific scopes.\n\n- `content:read`\n- `content_type:read`",
		Author:    "toolbridge",
		Published: true,
	},
	{
		Title:     "About",
		Body:      "This page is not an article.",
		Author:    "toolbridge",
		Published: true,
	},
	{
		Title:  "Draft: upcoming changes",
		Body:   "Not ready yet.",
		Author: "toolbridge",
	},
}

// Seed inserts sample content types and articles. Content types are upserted
// every time; articles are only created when none are published yet.
func Seed(ctx context.Context, s store.ContentStore) error {
	for i := range seedContentTypes {
		ct := seedContentTypes[i]
		if err := s.UpsertContentType(ctx, &ct); err != nil {
			return fmt.Errorf("seeding content type %s: %w", ct.ID, err)
		}
	}

	count, err := s.CountArticles(ctx)
	if err != nil {
		return fmt.Errorf("counting articles: %w", err)
	}
	if count > 0 {
		return nil
	}

	now := time.Now().UTC()
	for i := range seedArticles {
		a := seedArticles[i]
		if a.Title == "About" {
			a.ContentType = "page"
		}
		// Later entries are newer, one hour apart.
		a.CreatedAt = now.Add(-time.Duration(len(seedArticles)-i) * time.Hour)
		a.UpdatedAt = a.CreatedAt
		if err := s.CreateArticle(ctx, &a); err != nil {
			return fmt.Errorf("seeding article %q: %w", a.Title, err)
		}
	}
	return nil
}
