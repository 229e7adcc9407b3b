// Package content turns backend CMS text (terms, privacy, FAQ answers) into
// sanitized HTML for the storefront templates.
package content

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Renderer converts markdown or raw HTML bodies into safe template HTML.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

func NewRenderer() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
		policy: newContentPolicy(),
	}
}

func newContentPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.AllowElements("figure", "figcaption")
	policy.AllowAttrs("class").OnElements("figure", "figcaption", "p", "span")
	policy.AllowAttrs("loading").OnElements("img")
	policy.RequireNoFollowOnLinks(true)
	return policy
}

// Render converts body to HTML. Bodies the CMS already stored as HTML skip the
// markdown pass; either way the result is sanitized.
func (r *Renderer) Render(body string) (template.HTML, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", nil
	}
	var out []byte
	if looksLikeHTML(body) {
		out = []byte(body)
	} else {
		var buf bytes.Buffer
		if err := r.md.Convert([]byte(body), &buf); err != nil {
			return "", err
		}
		out = buf.Bytes()
	}
	// sanitized above
	return template.HTML(r.policy.SanitizeBytes(out)), nil
}

func looksLikeHTML(s string) bool {
	return strings.HasPrefix(s, "<") && strings.Contains(s, ">")
}
