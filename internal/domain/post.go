package domain

import (
	"encoding/json"
	"time"
)

// Post is the normalized form of a post as read from upstream.
//
// Upstream payloads are NOT stable across API versions; every field here
// is the result of probing an ordered list of candidate locations (see
// bluesky.NormalizePost). Absent values are left at their zero value.
type Post struct {
	// ─────────────────────────────
	// Identity
	// ─────────────────────────────

	// URI is the canonical at:// URI, unique per post.
	URI string `json:"uri,omitempty"`

	// CID is the content hash of the record.
	CID string `json:"cid,omitempty"`

	// ID is the record key (last URI segment), falling back to CID.
	ID string `json:"id,omitempty"`

	// ─────────────────────────────
	// Content
	// ─────────────────────────────

	Author    Author    `json:"author"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Media     Media     `json:"media"`

	// Raw is the verbatim upstream payload the post was normalized from.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Author identifies who wrote a post. Only DID and Handle are expected;
// DisplayName and Avatar are optional.
type Author struct {
	DID         string `json:"did,omitempty"`
	Handle      string `json:"handle,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// Name returns the display name, the handle, or a generic label.
func (a Author) Name() string {
	switch {
	case a.DisplayName != "":
		return a.DisplayName
	case a.Handle != "":
		return a.Handle
	default:
		return "Unknown User"
	}
}

// Media holds at most one block per embed class.
type Media struct {
	Images   []Image   `json:"images,omitempty"`
	External *External `json:"external,omitempty"`
	Quote    *Quote    `json:"quote,omitempty"`
	Video    *Video    `json:"video,omitempty"`
}

// Empty reports whether no embed class was found.
func (m Media) Empty() bool {
	return len(m.Images) == 0 && m.External == nil && m.Quote == nil && m.Video == nil
}

type AspectRatio struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Image struct {
	URL         string       `json:"url"`
	Alt         string       `json:"alt,omitempty"`
	AspectRatio *AspectRatio `json:"aspectRatio,omitempty"`
}

// External is a link card.
type External struct {
	URI         string `json:"uri"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Thumb       string `json:"thumb,omitempty"`
}

// Quote is an embedded (quoted) post.
type Quote struct {
	URI    string `json:"uri,omitempty"`
	Author Author `json:"author"`
	Text   string `json:"text,omitempty"`
}

type Video struct {
	Playlist    string      `json:"playlist,omitempty"`
	Thumbnail   string      `json:"thumbnail,omitempty"`
	AspectRatio AspectRatio `json:"aspectRatio"`
}

// FeedItem is one entry of a feed page.
type FeedItem struct {
	// Post is nil when the item carried no post payload.
	Post *Post `json:"post,omitempty"`

	// Reply is set when the item answers another post.
	Reply bool `json:"reply,omitempty"`

	// Repost is set when the item was injected by a repost reason.
	Repost bool `json:"repost,omitempty"`

	// Malformed describes why the item could not be normalized.
	Malformed string `json:"malformed,omitempty"`
}

// FeedPage is an ordered page of items plus an opaque cursor.
// An empty cursor means end-of-feed; cursors are forwarded verbatim.
type FeedPage struct {
	Feed   []FeedItem `json:"feed"`
	Cursor string     `json:"cursor,omitempty"`
}

// EmptyFeedPage is returned when every fetch path failed.
func EmptyFeedPage() *FeedPage {
	return &FeedPage{Feed: []FeedItem{}}
}

type Profile struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName,omitempty"`
	Description string `json:"description,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// PostRef points at a newly created post.
type PostRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}
