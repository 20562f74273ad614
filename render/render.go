// Package render is the document-generation seam. The envelope workflow only
// needs "give me signable bytes for this title and context"; how rendering
// happens (PDF service, headless browser) is a deployment concern behind the
// Renderer interface. HTML is the built-in fallback.
package render

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
)

// Renderer produces signable document bytes from a title and a flat template
// context.
type Renderer interface {
	Render(ctx context.Context, title string, templateContext map[string]string) ([]byte, error)
}

// HTML renders a plain, print-friendly HTML document. Context keys are
// emitted sorted so the same inputs always produce the same bytes.
type HTML struct{}

func NewHTML() *HTML { return &HTML{} }

func (h *HTML) Render(ctx context.Context, title string, templateContext map[string]string) ([]byte, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("render: title is required")
	}

	keys := make([]string, 0, len(templateContext))
	for k := range templateContext {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("<!doctype html>\n<html>\n<head><title>")
	b.WriteString(html.EscapeString(title))
	b.WriteString("</title></head>\n<body>\n<h1>")
	b.WriteString(html.EscapeString(title))
	b.WriteString("</h1>\n<dl>\n")
	for _, k := range keys {
		b.WriteString("<dt>")
		b.WriteString(html.EscapeString(k))
		b.WriteString("</dt><dd>")
		b.WriteString(html.EscapeString(templateContext[k]))
		b.WriteString("</dd>\n")
	}
	b.WriteString("</dl>\n</body>\n</html>\n")
	return []byte(b.String()), nil
}
