package render

import (
	"html"
	"html/template"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/MrSnakeDoc/skyembed/internal/domain"
)

// linkPattern finds bare URLs and @mentions in post text.
var linkPattern = regexp.MustCompile(`https?://[^\s<>"]+|@[a-zA-Z0-9][a-zA-Z0-9_.-]*`)

var linkClassPattern = regexp.MustCompile(`^bsky-(link|mention)$`)

// newTextPolicy only lets through the anchors produced by formatText.
func newTextPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowStandardURLs()
	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("class").Matching(linkClassPattern).OnElements("a")
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)
	return p
}

// formatText escapes post text, turns URLs and mentions into links and
// runs the result through the sanitizer.
func (r *Renderer) formatText(text string) template.HTML {
	if text == "" {
		return ""
	}

	var b strings.Builder
	last := 0
	for _, loc := range linkPattern.FindAllStringIndex(text, -1) {
		start := loc[0]
		tok := text[start:loc[1]]

		if tok[0] == '@' {
			// part of an email address or a word, not a mention
			if start > 0 && isWordByte(text[start-1]) {
				continue
			}
			tok = strings.TrimRight(tok, ".-_")
			if len(tok) < 2 {
				continue
			}
			b.WriteString(html.EscapeString(text[last:start]))
			b.WriteString(`<a href="`)
			b.WriteString(html.EscapeString(domain.WebProfileURL(r.webURL, tok[1:])))
			b.WriteString(`" class="bsky-mention">`)
			b.WriteString(html.EscapeString(tok))
			b.WriteString(`</a>`)
			last = start + len(tok)
			continue
		}

		tok = strings.TrimRight(tok, ".,;:!?)]}'")
		b.WriteString(html.EscapeString(text[last:start]))
		b.WriteString(`<a href="`)
		b.WriteString(html.EscapeString(tok))
		b.WriteString(`" class="bsky-link">`)
		b.WriteString(html.EscapeString(tok))
		b.WriteString(`</a>`)
		last = start + len(tok)
	}
	b.WriteString(html.EscapeString(text[last:]))

	return template.HTML(r.policy.Sanitize(b.String()))
}

func isWordByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
