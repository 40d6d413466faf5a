package render

import (
	"fmt"

	"github.com/MrSnakeDoc/skyembed/internal/domain"
)

const defaultOEmbedWidth = 550

// OEmbed is an oEmbed 1.0 "rich" response.
type OEmbed struct {
	Version      string `json:"version"`
	Type         string `json:"type"`
	ProviderName string `json:"provider_name"`
	ProviderURL  string `json:"provider_url"`
	AuthorName   string `json:"author_name"`
	AuthorURL    string `json:"author_url"`
	Title        string `json:"title"`
	HTML         string `json:"html"`
	Width        int    `json:"width"`
	Height       *int   `json:"height"` // always null, height follows content
}

// OEmbed describes post for oEmbed consumers. maxWidth <= 0 uses 550px.
func (r *Renderer) OEmbed(post *domain.Post, maxWidth int, theme string) OEmbed {
	if maxWidth <= 0 {
		maxWidth = defaultOEmbedWidth
	}
	opts := Options{Theme: theme, Width: fmt.Sprintf("%dpx", maxWidth)}

	out := OEmbed{
		Version:      "1.0",
		Type:         "rich",
		ProviderName: "Bluesky",
		ProviderURL:  r.webURL,
		HTML:         r.Post(post, opts),
		Width:        maxWidth,
	}
	if post == nil {
		return out
	}

	handle := firstNonEmpty(post.Author.Handle, post.Author.DID)
	out.AuthorName = post.Author.Name()
	out.AuthorURL = domain.WebProfileURL(r.webURL, handle)
	out.Title = fmt.Sprintf("Post by %s (@%s)", out.AuthorName, handle)
	return out
}
