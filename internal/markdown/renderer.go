package markdown

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
)

// cacheLimit bounds the memo map. Polling clients re-render the same
// bot messages every cycle, so recent sources repeat heavily.
const cacheLimit = 256

// Renderer converts markdown to sanitized HTML. Sanitization is the one
// safety boundary before bot output is injected into the page as raw
// markup, so it is an explicit step here rather than an assumed library
// default.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy

	mu    sync.Mutex
	cache map[string]string
}

func NewRenderer() *Renderer {
	return &Renderer{
		// Raw HTML passes through goldmark so that bluemonday, not the
		// markdown parser, is the single sanitization boundary.
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(goldmarkhtml.WithUnsafe()),
		),
		policy: bluemonday.UGCPolicy(),
		cache:  make(map[string]string),
	}
}

// Render returns sanitized HTML for the markdown source. Identical
// sources render identically, so results are memoized.
func (r *Renderer) Render(source string) (string, error) {
	r.mu.Lock()
	if html, ok := r.cache[source]; ok {
		r.mu.Unlock()
		return html, nil
	}
	r.mu.Unlock()

	var buf bytes.Buffer
	if err := r.md.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("failed to convert markdown: %w", err)
	}
	html := r.policy.Sanitize(buf.String())

	r.mu.Lock()
	if len(r.cache) >= cacheLimit {
		r.cache = make(map[string]string)
	}
	r.cache[source] = html
	r.mu.Unlock()

	return html, nil
}
