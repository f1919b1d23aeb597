// ABOUTME: Markdown helpers for article procedures
// ABOUTME: Formats articles as markdown documents and renders markdown to HTML with goldmark

package examples

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/toolbridge/internal/store"
)

var renderer = goldmark.New(goldmark.WithExtensions(extension.GFM))

// ToMarkdown formats an article as "# Title\n\nbody".
func ToMarkdown(a *store.Article) string {
	return "# " + a.Title + "\n\n" + strings.TrimSpace(a.Body)
}

// RenderHTML converts markdown to HTML. Raw HTML in the source is omitted.
func RenderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := renderer.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
