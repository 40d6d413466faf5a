package bluesky

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/MrSnakeDoc/skyembed/internal/domain"
)

// Upstream payloads are not stable across API versions. Every normalizer
// below probes an ordered list of candidate locations and takes the first
// present value; absence never fails, only a payload that is not JSON of
// the expected kind does.

const (
	typeImagesView          = "app.bsky.embed.images#view"
	typeImages              = "app.bsky.embed.images"
	typeImagesMain          = "app.bsky.embed.images#main"
	typeExternalView        = "app.bsky.embed.external#view"
	typeExternal            = "app.bsky.embed.external"
	typeRecordView          = "app.bsky.embed.record#view"
	typeRecord              = "app.bsky.embed.record"
	typeRecordWithMediaView = "app.bsky.embed.recordWithMedia#view"
	typeRecordWithMedia     = "app.bsky.embed.recordWithMedia"
	typeVideoView           = "app.bsky.embed.video#view"
	typeVideo               = "app.bsky.embed.video"

	videoHost = "https://video.bsky.app"
	imageCDN  = "https://cdn.bsky.app/img/feed_fullsize/plain"
)

var defaultVideoAspect = domain.AspectRatio{Width: 16, Height: 9}

// ─────────────────────────────
// Feed pages
// ─────────────────────────────

// NormalizeFeed extracts a FeedPage from an author-feed or timeline
// payload. The item array is probed in priority order: the payload itself,
// then "feed", then "data.feed", then the first non-empty array field (in
// document order). The cursor comes from "cursor" then "data.cursor".
func NormalizeFeed(payload []byte, now time.Time) (*domain.FeedPage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", domain.ErrInvalidFeedShape)
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidFeedShape, err)
		}
		return buildPage(items, "", now), nil
	case '{':
	default:
		return nil, fmt.Errorf("%w: payload is neither an object nor an array", domain.ErrInvalidFeedShape)
	}

	fields, err := orderedFields(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidFeedShape, err)
	}

	cursor := ""
	var data []field
	for _, f := range fields {
		switch f.key {
		case "cursor":
			cursor = rawString(f.value)
		case "data":
			if isObject(f.value) {
				data, _ = orderedFields(f.value)
			}
		}
	}
	if cursor == "" {
		for _, f := range data {
			if f.key == "cursor" {
				cursor = rawString(f.value)
			}
		}
	}

	if items, ok := arrayField(fields, "feed"); ok {
		return buildPage(items, cursor, now), nil
	}
	if items, ok := arrayField(data, "feed"); ok {
		return buildPage(items, cursor, now), nil
	}
	for _, f := range fields {
		var items []json.RawMessage
		if json.Unmarshal(f.value, &items) == nil && len(items) > 0 {
			return buildPage(items, cursor, now), nil
		}
	}

	return nil, fmt.Errorf("%w: no feed array found", domain.ErrInvalidFeedShape)
}

func buildPage(items []json.RawMessage, cursor string, now time.Time) *domain.FeedPage {
	page := &domain.FeedPage{Feed: make([]domain.FeedItem, 0, len(items)), Cursor: cursor}
	for _, raw := range items {
		page.Feed = append(page.Feed, normalizeFeedItem(raw, now))
	}
	return page
}

func normalizeFeedItem(raw json.RawMessage, now time.Time) domain.FeedItem {
	var item map[string]any
	if err := json.Unmarshal(raw, &item); err != nil || item == nil {
		return domain.FeedItem{Malformed: "feed item is not an object"}
	}

	out := domain.FeedItem{
		Reply:  item["reply"] != nil,
		Repost: isRepost(item["reason"]),
	}

	postVal, present := item["post"]
	if !present || postVal == nil {
		return out
	}
	postRaw, err := json.Marshal(postVal)
	if err != nil {
		out.Malformed = "post could not be re-encoded"
		return out
	}
	post, err := NormalizePost(postRaw, now)
	if err != nil {
		out.Malformed = err.Error()
		return out
	}
	if asObject(asObject(postVal)["record"])["reply"] != nil {
		out.Reply = true
	}
	out.Post = post
	return out
}

// isRepost accepts the typed reason object and the bare "repost" string.
func isRepost(reason any) bool {
	if s, ok := reason.(string); ok {
		return s == "repost"
	}
	obj := asObject(reason)
	if obj == nil {
		return false
	}
	t := str(obj, "$type")
	return t == "" || strings.Contains(t, "reasonRepost")
}

// ─────────────────────────────
// Posts
// ─────────────────────────────

// NormalizePost converts one post view (as returned inside getPosts,
// getAuthorFeed or getTimeline) into a domain.Post. now is used when no
// timestamp is present so rendering stays deterministic.
func NormalizePost(raw json.RawMessage, now time.Time) (*domain.Post, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, fmt.Errorf("post is not an object")
	}

	uri := str(obj, "uri")
	cid := str(obj, "cid")
	if uri == "" && cid == "" && str(obj, "id") == "" {
		return nil, fmt.Errorf("post has no uri, cid or id")
	}

	author := normalizeAuthor(asObject(obj["author"]))
	if author.DID == "" && strings.HasPrefix(uri, "at://") {
		author.DID = strings.SplitN(strings.TrimPrefix(uri, "at://"), "/", 2)[0]
	}

	post := &domain.Post{
		URI:       uri,
		CID:       cid,
		ID:        firstNonEmpty(domain.LastSegment(uri), cid, str(obj, "id")),
		Author:    author,
		Text:      firstNonEmpty(str(obj, "record", "text"), str(obj, "text"), str(obj, "value", "text"), str(obj, "record", "value", "text")),
		Timestamp: firstTime(now, str(obj, "indexedAt"), str(obj, "createdAt"), str(obj, "record", "createdAt"), str(obj, "record", "indexedAt")),
		Raw:       append(json.RawMessage(nil), raw...),
	}
	post.Media = extractMedia(obj, author.DID, cid)
	return post, nil
}

func normalizeAuthor(obj map[string]any) domain.Author {
	return domain.Author{
		DID:         str(obj, "did"),
		Handle:      str(obj, "handle"),
		DisplayName: str(obj, "displayName"),
		Avatar:      str(obj, "avatar"),
	}
}

// NormalizePosts extracts every post of a getPosts payload.
func NormalizePosts(payload []byte, now time.Time) ([]*domain.Post, error) {
	var body struct {
		Posts []json.RawMessage `json:"posts"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("decode posts: %w", err)
	}
	out := make([]*domain.Post, 0, len(body.Posts))
	for _, raw := range body.Posts {
		p, err := NormalizePost(raw, now)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// NormalizeRecords maps a listRecords payload onto a FeedPage. Records
// carry no author view, so the given author is attached to each post.
func NormalizeRecords(payload []byte, author domain.Author, now time.Time) (*domain.FeedPage, error) {
	var body struct {
		Records []struct {
			URI   string          `json:"uri"`
			CID   string          `json:"cid"`
			Value json.RawMessage `json:"value"`
		} `json:"records"`
		Cursor string `json:"cursor"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidFeedShape, err)
	}

	page := &domain.FeedPage{Feed: make([]domain.FeedItem, 0, len(body.Records)), Cursor: body.Cursor}
	for _, rec := range body.Records {
		view, err := json.Marshal(map[string]any{
			"uri":    rec.URI,
			"cid":    rec.CID,
			"author": author,
			"record": rec.Value,
		})
		if err != nil {
			page.Feed = append(page.Feed, domain.FeedItem{Malformed: "record could not be re-encoded"})
			continue
		}
		page.Feed = append(page.Feed, normalizeFeedItem(wrapPost(view), now))
	}
	return page, nil
}

func wrapPost(view []byte) json.RawMessage {
	out := make([]byte, 0, len(view)+9)
	out = append(out, `{"post":`...)
	out = append(out, view...)
	out = append(out, '}')
	return out
}

// ─────────────────────────────
// Profiles and sessions
// ─────────────────────────────

func NormalizeProfile(payload []byte) (*domain.Profile, error) {
	var p domain.Profile
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if p.DID == "" && p.Handle == "" {
		return nil, fmt.Errorf("%w: profile payload has neither did nor handle", domain.ErrNotFound)
	}
	return &p, nil
}

// ─────────────────────────────
// Media
// ─────────────────────────────

// extractMedia probes the hydrated "embed" view first and the raw
// "record.embed" second. Only the first match per class is kept.
func extractMedia(post map[string]any, did, postCID string) domain.Media {
	var m domain.Media
	for _, embed := range []map[string]any{
		asObject(post["embed"]),
		asObject(asObject(post["record"])["embed"]),
	} {
		if embed != nil {
			collectEmbed(&m, embed, did, postCID)
		}
	}
	return m
}

func collectEmbed(m *domain.Media, embed map[string]any, did, postCID string) {
	switch str(embed, "$type") {
	case typeImagesView, typeImages, typeImagesMain:
		if len(m.Images) == 0 {
			m.Images = images(embed, did)
		}
	case typeExternalView, typeExternal:
		if m.External == nil {
			m.External = external(embed, did)
		}
	case typeRecordView, typeRecord:
		if m.Quote == nil {
			m.Quote = quote(asObject(embed["record"]))
		}
	case typeRecordWithMediaView, typeRecordWithMedia:
		if m.Quote == nil {
			// view: record.record; raw record: record.record is a strongRef
			inner := asObject(embed["record"])
			if nested := asObject(inner["record"]); nested != nil {
				inner = nested
			}
			m.Quote = quote(inner)
		}
		if media := asObject(embed["media"]); media != nil {
			collectEmbed(m, media, did, postCID)
		}
	case typeVideoView, typeVideo:
		if m.Video == nil {
			m.Video = video(embed, did, postCID)
		}
	}
}

func images(embed map[string]any, did string) []domain.Image {
	list, _ := embed["images"].([]any)
	out := make([]domain.Image, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, domain.Image{URL: s})
			continue
		}
		img := asObject(v)
		if img == nil {
			continue
		}
		u := firstNonEmpty(str(img, "image", "url"), str(img, "fullsize"), str(img, "thumb"), blobURL(did, asObject(img["image"])))
		if u == "" {
			continue
		}
		out = append(out, domain.Image{
			URL:         u,
			Alt:         str(img, "alt"),
			AspectRatio: aspect(asObject(img["aspectRatio"])),
		})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func external(embed map[string]any, did string) *domain.External {
	ext := asObject(embed["external"])
	if ext == nil || str(ext, "uri") == "" {
		return nil
	}
	thumb := str(ext, "thumb")
	if thumb == "" {
		thumb = blobURL(did, asObject(ext["thumb"]))
	}
	return &domain.External{
		URI:         str(ext, "uri"),
		Title:       str(ext, "title"),
		Description: str(ext, "description"),
		Thumb:       thumb,
	}
}

func quote(rec map[string]any) *domain.Quote {
	if rec == nil {
		return nil
	}
	q := &domain.Quote{
		URI:    str(rec, "uri"),
		Author: normalizeAuthor(asObject(rec["author"])),
		Text:   firstNonEmpty(str(rec, "value", "text"), str(rec, "record", "text"), str(rec, "text")),
	}
	if q.Author.Handle == "" && q.Author.DID == "" && q.Text == "" {
		// bare strong reference, nothing displayable
		return nil
	}
	return q
}

func video(embed map[string]any, did, postCID string) *domain.Video {
	v := &domain.Video{
		Playlist:  str(embed, "playlist"),
		Thumbnail: str(embed, "thumbnail"),
	}
	ar := aspect(asObject(embed["aspectRatio"]))
	if ar == nil {
		ar = aspect(asObject(asObject(embed["video"])["aspectRatio"]))
	}
	if v.Playlist == "" {
		cid := firstNonEmpty(str(embed, "video", "ref", "$link"), postCID)
		if cid != "" && did != "" {
			base := fmt.Sprintf("%s/watch/%s/%s", videoHost, url.PathEscape(did), cid)
			v.Playlist = base + "/playlist.m3u8"
			if v.Thumbnail == "" {
				v.Thumbnail = base + "/thumbnail.jpg"
			}
		}
	}
	if v.Playlist == "" && v.Thumbnail == "" {
		return nil
	}
	if ar != nil {
		v.AspectRatio = *ar
	} else {
		v.AspectRatio = defaultVideoAspect
	}
	return v
}

// blobURL builds a CDN URL for a raw blob reference.
func blobURL(did string, blob map[string]any) string {
	if blob == nil || did == "" {
		return ""
	}
	cid := firstNonEmpty(str(blob, "ref", "$link"), str(blob, "cid"))
	if cid == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/%s@jpeg", imageCDN, did, cid)
}

func aspect(obj map[string]any) *domain.AspectRatio {
	w, wok := obj["width"].(float64)
	h, hok := obj["height"].(float64)
	if !wok || !hok || w <= 0 || h <= 0 {
		return nil
	}
	return &domain.AspectRatio{Width: int(w), Height: int(h)}
}

// ─────────────────────────────
// Probing helpers
// ─────────────────────────────

type field struct {
	key   string
	value json.RawMessage
}

// orderedFields decodes the top level of a JSON object keeping key order.
func orderedFields(raw []byte) ([]field, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object")
	}
	var out []field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, field{key: key, value: v})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

func arrayField(fields []field, key string) ([]json.RawMessage, bool) {
	for _, f := range fields {
		if f.key != key {
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(f.value, &items); err == nil && items != nil {
			return items, true
		}
	}
	return nil, false
}

func isObject(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '{'
}

func rawString(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

func asObject(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// str walks path through nested objects and returns the string found, or "".
func str(obj map[string]any, path ...string) string {
	var cur any = obj
	for _, k := range path {
		m := asObject(cur)
		if m == nil {
			return ""
		}
		cur = m[k]
	}
	s, _ := cur.(string)
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstTime(now time.Time, candidates ...string) time.Time {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339Nano, c); err == nil {
			return t
		}
	}
	return now
}
