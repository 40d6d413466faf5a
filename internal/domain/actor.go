package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// PostCollection is the NSID of post records.
const PostCollection = "app.bsky.feed.post"

// postURLPattern matches the human web form of a post link:
// https://<host>/profile/{handleOrDID}/post/{postID}
var postURLPattern = regexp.MustCompile(`^https://[^/]+/profile/([^/?#]+)/post/([^/?#]+)/?(?:[?#].*)?$`)

// handlePattern is the handle syntax: dot-separated labels of letters,
// digits and inner hyphens, the last label starting with a letter.
var handlePattern = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]([a-z0-9-]{0,61}[a-z0-9])?$`)

// NormalizeHandle strips the optional leading sigil and surrounding spaces.
// Handles are case-insensitive and come back lower-cased; DIDs are kept
// as given.
func NormalizeHandle(handle string) string {
	h := strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if IsActorID(h) {
		return h
	}
	return strings.ToLower(h)
}

// IsActorID reports whether s is already a resolved actor identifier.
func IsActorID(s string) bool {
	return strings.HasPrefix(s, "did:")
}

// ValidateHandle checks that a handle carries a domain-like component.
func ValidateHandle(handle string) error {
	h := NormalizeHandle(handle)
	if h == "" {
		return fmt.Errorf("%w: empty handle", ErrInvalidIdentifier)
	}
	if !strings.Contains(h, ".") {
		return fmt.Errorf("%w: handle %q is missing a domain", ErrInvalidIdentifier, h)
	}
	if !handlePattern.MatchString(h) {
		return fmt.Errorf("%w: handle %q is malformed", ErrInvalidIdentifier, h)
	}
	return nil
}

// PostLink is a parsed web post URL.
type PostLink struct {
	Actor  string // handle or DID exactly as it appeared in the URL
	PostID string
}

// ParsePostURL parses https://<host>/profile/{h}/post/{id}.
func ParsePostURL(raw string) (PostLink, error) {
	m := postURLPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return PostLink{}, fmt.Errorf("%w: expected https://<host>/profile/<handle>/post/<id>, got %q",
			ErrInvalidIdentifier, raw)
	}
	return PostLink{Actor: m[1], PostID: m[2]}, nil
}

// IsPostURI reports whether s is a canonical at:// post URI.
func IsPostURI(s string) bool {
	if !strings.HasPrefix(s, "at://") {
		return false
	}
	parts := strings.Split(strings.TrimPrefix(s, "at://"), "/")
	return len(parts) == 3 && parts[0] != "" && parts[1] == PostCollection && parts[2] != ""
}

// PostURI builds at://{actorID}/app.bsky.feed.post/{postID}.
func PostURI(actorID, postID string) string {
	return fmt.Sprintf("at://%s/%s/%s", actorID, PostCollection, postID)
}

// LastSegment returns the part after the final "/" (the record key for URIs).
func LastSegment(uri string) string {
	uri = strings.TrimRight(uri, "/")
	if i := strings.LastIndexByte(uri, '/'); i >= 0 {
		return uri[i+1:]
	}
	return uri
}

// WebPostURL builds the public link for a post.
func WebPostURL(webBase, actor, postID string) string {
	return fmt.Sprintf("%s/profile/%s/post/%s", strings.TrimRight(webBase, "/"), actor, postID)
}

// WebProfileURL builds the public link for an actor.
func WebProfileURL(webBase, actor string) string {
	return fmt.Sprintf("%s/profile/%s", strings.TrimRight(webBase, "/"), actor)
}
