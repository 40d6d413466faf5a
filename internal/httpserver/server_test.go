package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/MrSnakeDoc/skyembed/internal/bluesky"
	"github.com/MrSnakeDoc/skyembed/internal/cache"
	"github.com/MrSnakeDoc/skyembed/internal/config"
	"github.com/MrSnakeDoc/skyembed/internal/domain"
	"github.com/MrSnakeDoc/skyembed/internal/feed"
	"github.com/MrSnakeDoc/skyembed/internal/httpserver/deps"
	"github.com/MrSnakeDoc/skyembed/internal/logger"
	"github.com/MrSnakeDoc/skyembed/internal/metrics"
	"github.com/MrSnakeDoc/skyembed/internal/render"
)

const (
	testToken = "s3cret"
	homeTest  = "home.test"
	postURL   = "https://bsky.app/profile/alice.test/post/k1"
)

// fakeUpstream serves both the handlers and the feed fetcher.
type fakeUpstream struct {
	mu sync.Mutex

	posts     map[string]*domain.Post
	postErr   error
	postCalls int

	page      *domain.FeedPage
	pageErr   error
	feedCalls int

	profile   *domain.Profile
	created   []string
	createErr error

	session *bluesky.Session
}

func newFakeUpstream() *fakeUpstream {
	post := &domain.Post{
		URI:       "at://did:plc:alice/app.bsky.feed.post/k1",
		CID:       "cid1",
		ID:        "k1",
		Author:    domain.Author{DID: "did:plc:alice", Handle: "alice.test", DisplayName: "Alice"},
		Text:      "hello world",
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Raw:       json.RawMessage(`{"uri":"at://did:plc:alice/app.bsky.feed.post/k1","record":{"text":"hello world"}}`),
	}
	return &fakeUpstream{
		posts: map[string]*domain.Post{postURL: post},
		page: &domain.FeedPage{
			Feed:   []domain.FeedItem{{Post: post}, {Post: post, Reply: true}},
			Cursor: "next-1",
		},
		profile: &domain.Profile{DID: "did:plc:alice", Handle: "alice.test", DisplayName: "Alice", Description: "bio here"},
		session: bluesky.NewSession(),
	}
}

func (u *fakeUpstream) FetchPost(_ context.Context, id string) (*domain.Post, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.postCalls++
	if u.postErr != nil {
		return nil, u.postErr
	}
	p, ok := u.posts[id]
	if !ok {
		return nil, fmt.Errorf("fetch %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

func (u *fakeUpstream) CreatePost(_ context.Context, text string) (*domain.PostRef, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if text == "" {
		return nil, fmt.Errorf("create post: %w", domain.ErrInvalidIdentifier)
	}
	if u.createErr != nil {
		return nil, u.createErr
	}
	u.created = append(u.created, text)
	return &domain.PostRef{URI: "at://did:plc:home/app.bsky.feed.post/new", CID: "cnew"}, nil
}

func (u *fakeUpstream) FetchProfile(_ context.Context, _ string) (*domain.Profile, error) {
	if u.profile == nil {
		return nil, domain.ErrNotFound
	}
	return u.profile, nil
}

func (u *fakeUpstream) HomeHandle() string { return homeTest }
func (u *fakeUpstream) HasCredentials() bool { return false }
func (u *fakeUpstream) Session() *bluesky.Session { return u.session }
func (u *fakeUpstream) IsHome(handle string) bool { return handle == homeTest }

func (u *fakeUpstream) feedPage() (*domain.FeedPage, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.feedCalls++
	return u.page, u.pageErr
}

func (u *fakeUpstream) FetchAuthorFeed(context.Context, string, int, string) (*domain.FeedPage, error) {
	return u.feedPage()
}

func (u *fakeUpstream) FetchTimeline(context.Context, int, string) (*domain.FeedPage, error) {
	return nil, domain.ErrAuthRequired
}

func (u *fakeUpstream) FetchAuthoredOnly(context.Context, string, int, string) (*domain.FeedPage, error) {
	return u.feedPage()
}

func (u *fakeUpstream) calls() (posts, feeds int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.postCalls, u.feedCalls
}

type harness struct {
	up     *fakeUpstream
	cache  *cache.Cache
	router http.Handler
}

func newHarness(t *testing.T, mutate ...func(*deps.Deps)) *harness {
	t.Helper()
	log := logger.Nop()
	m := metrics.New()
	c := cache.New(cache.NewMemoryBackend(1000), cache.Options{Enabled: true, DefaultTTL: time.Hour, Observer: m}, log)
	rend, err := render.New(render.Config{WebURL: "https://bsky.app", DefaultTheme: render.ThemeLight, DefaultWidth: "100%", Metrics: m}, log)
	if err != nil {
		t.Fatalf("render.New() error = %v", err)
	}
	up := newFakeUpstream()

	d := deps.Deps{
		Logger:       log,
		StartTime:    time.Now(),
		Version:      "test",
		AdminToken:   testToken,
		CacheBackend: config.CacheBackendMemory,
		PostTTL:      time.Hour,
		FeedTTL:      time.Minute,
		Client:       up,
		Fetcher:      feed.NewFetcher(up, c, rend, time.Minute, m, log),
		Renderer:     rend,
		Cache:        c,
		Metrics:      m,
		RetryPolicy:  feed.DefaultRetryPolicy(),
	}
	for _, fn := range mutate {
		fn(&d)
	}

	cfg := &config.Config{RequestTimeout: 5 * time.Second, RateLimitBurst: 1000, RateLimitPerMin: 1000}
	return &harness{up: up, cache: c, router: NewRouter(cfg, log, d)}
}

func (h *harness) do(t *testing.T, method, target, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func doc(t *testing.T, rec *httptest.ResponseRecorder) *goquery.Document {
	t.Helper()
	d, err := goquery.NewDocumentFromReader(strings.NewReader(rec.Body.String()))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return d
}

func TestEmbedServesAndCachesPage(t *testing.T) {
	h := newHarness(t)
	target := "/embed?url=" + postURL + "&theme=dark"

	rec := h.do(t, "GET", target, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	page := doc(t, rec)
	if got := page.Find(".bsky-post-text").Text(); !strings.Contains(got, "hello world") {
		t.Errorf("post text = %q", got)
	}
	if page.Find(".bsky-embed-container").Length() == 0 {
		t.Error("missing embed container")
	}

	again := h.do(t, "GET", target, "")
	if again.Header().Get("X-Cache") != "HIT" || again.Body.String() != rec.Body.String() {
		t.Errorf("second request X-Cache = %q", again.Header().Get("X-Cache"))
	}
	if posts, _ := h.up.calls(); posts != 1 {
		t.Errorf("upstream post calls = %d, want 1", posts)
	}

	fresh := h.do(t, "GET", target+"&_nocache=1", "")
	if fresh.Header().Get("X-Cache") != "MISS" {
		t.Errorf("_nocache X-Cache = %q", fresh.Header().Get("X-Cache"))
	}
	if posts, _ := h.up.calls(); posts != 2 {
		t.Errorf("upstream post calls after _nocache = %d, want 2", posts)
	}
}

func TestEmbedErrorPages(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		postErr error
		want    int
	}{
		{name: "missing url", target: "/embed", want: http.StatusBadRequest},
		{name: "unknown post", target: "/embed?url=https://bsky.app/profile/bob.test/post/zz", want: http.StatusNotFound},
		{name: "upstream down", target: "/embed?url=" + postURL, postErr: &domain.UpstreamError{Endpoint: "getPosts", Status: 503}, want: http.StatusBadGateway},
		{name: "auth required", target: "/embed?url=" + postURL, postErr: &domain.UpstreamError{Endpoint: "getPosts", Status: 401}, want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.up.postErr = tt.postErr

			rec := h.do(t, "GET", tt.target, "")
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			page := doc(t, rec)
			if page.Find(".bsky-error-message").Length() == 0 {
				t.Error("missing error message")
			}
			if page.Find(".bsky-back-link").Length() == 0 {
				t.Error("missing link home")
			}
			if again := h.do(t, "GET", tt.target, ""); again.Header().Get("X-Cache") == "HIT" {
				t.Error("error pages must not be cached")
			}
		})
	}
}

func TestAPIPost(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, "GET", "/api/post?url="+postURL, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "<html") {
		t.Error("fragment should not be a full document")
	}
	if doc(t, rec).Find(".bsky-embed-container").Length() != 1 {
		t.Error("expected one embed container")
	}

	missing := h.do(t, "GET", "/api/post?url=https://bsky.app/profile/bob.test/post/zz", "")
	if missing.Code != http.StatusNotFound {
		t.Fatalf("status = %d", missing.Code)
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(missing.Body.Bytes(), &body); err != nil || body.Error == "" {
		t.Errorf("error body = %s (%v)", missing.Body.String(), err)
	}
}

func TestAPIPostRaw(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, "GET", "/api/post/raw?url="+postURL, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if got["uri"] != "at://did:plc:alice/app.bsky.feed.post/k1" {
		t.Errorf("raw = %v", got)
	}
}

func TestOEmbed(t *testing.T) {
	h := newHarness(t)

	if rec := h.do(t, "GET", "/oembed?url="+postURL+"&format=xml", ""); rec.Code != http.StatusNotImplemented {
		t.Errorf("format=xml status = %d, want 501", rec.Code)
	}

	rec := h.do(t, "GET", "/oembed?url="+postURL+"&maxwidth=400", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got render.OEmbed
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Version != "1.0" || got.Type != "rich" || got.Width != 400 || got.AuthorName != "Alice" {
		t.Errorf("oembed = %+v", got)
	}
	if !strings.Contains(rec.Body.String(), `"height":null`) {
		t.Error("height should be null")
	}
}

func TestFeedPage(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, "GET", "/feed?handle=@alice.test&skipReplies=true&limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	page := doc(t, rec)
	if n := page.Find(".feed-posts .bsky-embed-container").Length(); n != 1 {
		t.Errorf("rendered posts = %d, want 1 (reply skipped)", n)
	}
	href, ok := page.Find(".load-more-btn").Attr("href")
	if !ok || !strings.HasPrefix(href, "/feed?") || !strings.Contains(href, "cursor=next-1") || !strings.Contains(href, "skipReplies=true") {
		t.Errorf("load more href = %q", href)
	}

	if rec := h.do(t, "GET", "/feed?handle=nodots", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid handle status = %d", rec.Code)
	}
}

func TestFeedFailureShowsCardAndIsNotCached(t *testing.T) {
	h := newHarness(t)
	h.up.pageErr = &domain.UpstreamError{Endpoint: "getAuthorFeed", Status: 502}

	rec := h.do(t, "GET", "/feed?handle=alice.test", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	page := doc(t, rec)
	if page.Find(".bsky-feed-error").Length() != 1 {
		t.Error("missing feed error card")
	}
	if page.Find(".load-more-btn").Length() != 0 {
		t.Error("failed page must not offer a cursor")
	}
	if _, feeds := h.up.calls(); feeds != 2 {
		t.Errorf("feed calls = %d, want 2 (one retry)", feeds)
	}
	if again := h.do(t, "GET", "/feed?handle=alice.test", ""); again.Header().Get("X-Cache") == "HIT" {
		t.Error("failed page was cached")
	}
}

func TestUserPostsHasProfileHeader(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, "GET", "/user-posts?handle=alice.test", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	page := doc(t, rec)
	if page.Find(".feed-profile").Length() != 1 {
		t.Error("missing profile header")
	}
	if got := page.Find(".feed-profile-description").Text(); !strings.Contains(got, "bio here") {
		t.Errorf("profile description = %q", got)
	}
	if href, _ := page.Find(".load-more-btn").Attr("href"); !strings.HasPrefix(href, "/user-posts?") {
		t.Errorf("load more href = %q", href)
	}
}

func TestAPIFeed(t *testing.T) {
	h := newHarness(t)

	var got struct {
		Posts  []string `json:"posts"`
		Cursor *string  `json:"cursor"`
	}
	rec := h.do(t, "GET", "/api/feed?handle=alice.test", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got.Posts) != 2 || got.Cursor == nil || *got.Cursor != "next-1" {
		t.Errorf("feed = %+v", got)
	}

	h.up.page = &domain.FeedPage{Feed: []domain.FeedItem{}}
	rec = h.do(t, "GET", "/api/feed?handle=bob.test&authoredOnly=true", "")
	got.Cursor = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"cursor":null`) {
		t.Errorf("cursor should be null: %s", rec.Body.String())
	}
	if len(got.Posts) != 1 || !strings.Contains(got.Posts[0], "bsky-no-posts") {
		t.Errorf("posts = %v", got.Posts)
	}

	if rec := h.do(t, "GET", "/api/feed", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("missing handle status = %d", rec.Code)
	}
}

func TestCreatePost(t *testing.T) {
	h := newHarness(t)
	auth := []string{"Authorization", "Bearer " + testToken, "Content-Type", "application/json"}

	if rec := h.do(t, "POST", "/api/posts", `{"text":"hi"}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d", rec.Code)
	}
	if rec := h.do(t, "POST", "/api/posts", `{"text":"hi"}`, "Authorization", "Bearer wrong"); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d", rec.Code)
	}

	// Warm the home feed, then check creation drops it.
	h.do(t, "GET", "/feed?handle="+homeTest, "")
	if again := h.do(t, "GET", "/feed?handle="+homeTest, ""); again.Header().Get("X-Cache") != "HIT" {
		t.Fatal("home feed should be cached")
	}

	rec := h.do(t, "POST", "/api/posts", `{"text":"  fresh post  "}`, auth...)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created struct {
		URI         string `json:"uri"`
		Invalidated int    `json:"invalidated"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.URI == "" || created.Invalidated == 0 {
		t.Errorf("created = %+v", created)
	}
	if len(h.up.created) != 1 || h.up.created[0] != "fresh post" {
		t.Errorf("created texts = %q", h.up.created)
	}
	if after := h.do(t, "GET", "/feed?handle="+homeTest, ""); after.Header().Get("X-Cache") != "MISS" {
		t.Error("home feed should be refetched after posting")
	}

	bad := h.do(t, "POST", "/api/posts", `{"text":""}`, auth...)
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("empty text status = %d", bad.Code)
	}
	var apiErr struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(bad.Body.Bytes(), &apiErr); err != nil || apiErr.Error.Code != "invalid_request" {
		t.Errorf("error body = %s", bad.Body.String())
	}

	h.up.createErr = &domain.UpstreamError{Endpoint: "createRecord", Status: 401}
	if rec := h.do(t, "POST", "/api/posts", `{"text":"x"}`, auth...); rec.Code != http.StatusUnauthorized {
		t.Errorf("auth failure status = %d", rec.Code)
	}
}

func TestAdminClosedWithoutTokenOrCIDRs(t *testing.T) {
	h := newHarness(t, func(d *deps.Deps) { d.AdminToken = "" })
	if rec := h.do(t, "POST", "/cache/clear", ""); rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestCacheClear(t *testing.T) {
	h := newHarness(t)
	auth := []string{"Authorization", "Bearer " + testToken}
	ctx := context.Background()

	h.do(t, "GET", "/embed?url="+postURL, "")
	h.do(t, "GET", "/feed?handle=alice.test", "")
	if h.cache.Len(ctx) == 0 {
		t.Fatal("cache should hold entries")
	}

	rec := h.do(t, "POST", "/cache/clear?handle=alice.test", "", auth...)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"scope":"alice.test"`) {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if again := h.do(t, "GET", "/feed?handle=alice.test", ""); again.Header().Get("X-Cache") != "MISS" {
		t.Error("actor feed should be refetched")
	}

	before := h.cache.Len(ctx)
	for _, bad := range []string{"*", "alice", "al[ce].test*"} {
		rec := h.do(t, "POST", "/cache/clear?handle="+url.QueryEscape(bad), "", auth...)
		if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), `"code":"invalid_request"`) {
			t.Errorf("clear %q: status = %d, body = %s", bad, rec.Code, rec.Body.String())
		}
	}
	if n := h.cache.Len(ctx); n != before {
		t.Errorf("rejected clears removed entries: %d -> %d", before, n)
	}

	rec = h.do(t, "POST", "/cache/clear", "", auth...)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"scope":"all"`) {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if n := h.cache.Len(ctx); n != 0 {
		t.Errorf("entries after clear = %d", n)
	}
}

func TestOpsRoutes(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, "GET", "/healthz", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("healthz = %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"service":"skyembed"`) || !strings.Contains(rec.Body.String(), `"session":"`) {
		t.Errorf("healthz body = %s", rec.Body.String())
	}
	if rec := h.do(t, "GET", "/readyz", ""); rec.Code != http.StatusOK {
		t.Errorf("readyz = %d", rec.Code)
	}

	rec = h.do(t, "GET", "/infra", "")
	var infra struct {
		ServiceMode string `json:"service_mode"`
		Components  map[string]struct {
			OK   bool   `json:"ok"`
			Mode string `json:"mode"`
		} `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &infra); err != nil {
		t.Fatalf("unmarshal infra: %v", err)
	}
	if infra.ServiceMode != "public" || infra.Components["cache"].Mode != "memory" || !infra.Components["fallback"].OK {
		t.Errorf("infra = %+v", infra)
	}
	if _, ok := infra.Components["redis"]; ok {
		t.Error("redis component reported without a redis client")
	}

	h.do(t, "GET", "/embed?url="+postURL, "")
	rec = h.do(t, "GET", "/metrics", "")
	if !strings.Contains(rec.Body.String(), `skyembed_web_requests_duration_seconds_count{route="/embed"}`) {
		t.Error("metrics should expose per-route durations")
	}
}

func TestOpsRestrictedByCIDR(t *testing.T) {
	h := newHarness(t, func(d *deps.Deps) { d.AdminCIDRS = []string{"10.0.0.0/8"} })
	if rec := h.do(t, "GET", "/metrics", ""); rec.Code != http.StatusForbidden {
		t.Errorf("/metrics from outside status = %d", rec.Code)
	}
	if rec := h.do(t, "GET", "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("/healthz status = %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, "OPTIONS", "/api/feed", "", "Origin", "https://blog.example", "Access-Control-Request-Method", "GET")
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("allow origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}
