package bluesky

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/MrSnakeDoc/skyembed/internal/domain"
	"github.com/MrSnakeDoc/skyembed/internal/logger"
	"github.com/MrSnakeDoc/skyembed/internal/metrics"
	"github.com/MrSnakeDoc/skyembed/internal/sources/fallback"
)

// alternativeFeedLimit is the page size of the author-feed path tried when
// listing authored records fails.
const alternativeFeedLimit = 20

// Options configures a Client. Zero values fall back to sane defaults.
type Options struct {
	ServiceURL  string
	Username    string // home handle
	DID         string // home actor ID
	AppPassword string

	HTTPClient  *http.Client
	Timeout     time.Duration
	RPS         float64
	Burst       int
	MaxAttempts int
	BaseBackoff time.Duration

	Fallbacks *fallback.AllowList
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// Client talks XRPC to a Bluesky service. It is safe for concurrent use.
type Client struct {
	serviceURL  string
	username    string
	homeDID     string
	appPassword string

	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	baseBackoff time.Duration

	session   *Session
	fallbacks *fallback.AllowList
	metrics   *metrics.Metrics
	logger    logger.Logger
	now       func() time.Time

	actorMu  sync.RWMutex
	actorIDs map[string]string // handle -> DID, process lifetime
}

func New(opts Options, session *Session, log logger.Logger) *Client {
	if opts.ServiceURL == "" {
		opts.ServiceURL = "https://bsky.social"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.RPS <= 0 {
		opts.RPS = 5
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 500 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if session == nil {
		session = NewSession()
	}

	return &Client{
		serviceURL:  strings.TrimRight(opts.ServiceURL, "/"),
		username:    domain.NormalizeHandle(opts.Username),
		homeDID:     opts.DID,
		appPassword: opts.AppPassword,
		httpClient:  opts.HTTPClient,
		limiter:     rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst),
		maxAttempts: opts.MaxAttempts,
		baseBackoff: opts.BaseBackoff,
		session:     session,
		fallbacks:   opts.Fallbacks,
		metrics:     opts.Metrics,
		logger:      log,
		now:         opts.Now,
		actorIDs:    make(map[string]string),
	}
}

// HomeHandle is the configured account handle, empty in public mode.
func (c *Client) HomeHandle() string { return c.username }

// IsHome reports whether handle designates the configured account.
func (c *Client) IsHome(handle string) bool {
	h := domain.NormalizeHandle(handle)
	return c.username != "" && (h == c.username || (c.homeDID != "" && h == c.homeDID))
}

// HasCredentials reports whether Authenticate can possibly succeed.
func (c *Client) HasCredentials() bool {
	return c.username != "" && c.appPassword != ""
}

// Session exposes the shared authentication state.
func (c *Client) Session() *Session { return c.session }

// ─────────────────────────────
// Authentication
// ─────────────────────────────

// Authenticate establishes the session once. It returns true when the
// session is (already) authenticated and false when credentials are
// missing or the login failed; the failure cause is logged, not returned.
func (c *Client) Authenticate(ctx context.Context) bool {
	if c.session.Authenticated() {
		return true
	}
	if !c.HasCredentials() {
		return false
	}

	c.session.loginMu.Lock()
	defer c.session.loginMu.Unlock()

	// another caller may have logged in while we waited
	if c.session.Authenticated() {
		return true
	}

	body, err := c.post(ctx, nsidCreateSession, map[string]string{
		"identifier": c.username,
		"password":   c.appPassword,
	}, false)
	if err != nil {
		c.logger.Warn("bluesky login failed", logger.String("handle", c.username), logger.Error(err))
		return false
	}

	var out struct {
		AccessJwt string `json:"accessJwt"`
		DID       string `json:"did"`
		Handle    string `json:"handle"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.AccessJwt == "" {
		c.logger.Warn("bluesky login returned an unusable session", logger.String("handle", c.username))
		return false
	}

	c.session.establish(out.AccessJwt, out.DID, out.Handle)
	if out.DID != "" {
		c.rememberActor(c.username, out.DID)
	}
	c.logger.Info("bluesky session established", logger.String("handle", c.username))
	return true
}

// ─────────────────────────────
// Resolution
// ─────────────────────────────

// ResolveActorID maps a handle to its actor ID. IDs pass through, the home
// handle maps to the configured ID, and results are cached for the process
// lifetime. Allow-listed handles fall back to their configured ID.
func (c *Client) ResolveActorID(ctx context.Context, handle string) (string, error) {
	h := domain.NormalizeHandle(handle)
	if domain.IsActorID(h) {
		return h, nil
	}
	if h != "" && h == c.username && c.homeDID != "" {
		return c.homeDID, nil
	}
	if err := domain.ValidateHandle(h); err != nil {
		return "", &domain.ResolutionError{Handle: h, Err: err}
	}
	if id, ok := c.cachedActor(h); ok {
		return id, nil
	}

	body, err := c.get(ctx, nsidResolveHandle, url.Values{"handle": {h}}, false)
	if err == nil {
		var out struct {
			DID string `json:"did"`
		}
		if err = json.Unmarshal(body, &out); err == nil && !domain.IsActorID(out.DID) {
			err = fmt.Errorf("%w: resolveHandle returned no did", domain.ErrNotFound)
		}
		if err == nil {
			c.rememberActor(h, out.DID)
			return out.DID, nil
		}
	}

	if did, ok := c.fallbacks.DID(h); ok {
		c.logger.Warn("handle resolution failed, using allow-listed did",
			logger.String("handle", h), logger.Error(err))
		c.rememberActor(h, did)
		return did, nil
	}
	return "", &domain.ResolutionError{Handle: h, Err: err}
}

func (c *Client) cachedActor(handle string) (string, bool) {
	c.actorMu.RLock()
	defer c.actorMu.RUnlock()
	id, ok := c.actorIDs[handle]
	return id, ok
}

func (c *Client) rememberActor(handle, id string) {
	c.actorMu.Lock()
	defer c.actorMu.Unlock()
	c.actorIDs[handle] = id
}

// ─────────────────────────────
// Posts
// ─────────────────────────────

// CanonicalPostURI turns a web link or at:// URI into the canonical
// at://{did}/app.bsky.feed.post/{id}, resolving the handle when needed.
func (c *Client) CanonicalPostURI(ctx context.Context, identifier string) (string, error) {
	id := strings.TrimSpace(identifier)
	if strings.HasPrefix(id, "at://") {
		if !domain.IsPostURI(id) {
			return "", fmt.Errorf("%w: %q is not a post uri", domain.ErrInvalidIdentifier, id)
		}
		actor := strings.SplitN(strings.TrimPrefix(id, "at://"), "/", 2)[0]
		if domain.IsActorID(actor) {
			return id, nil
		}
		did, err := c.ResolveActorID(ctx, actor)
		if err != nil {
			return "", err
		}
		return domain.PostURI(did, domain.LastSegment(id)), nil
	}

	link, err := domain.ParsePostURL(id)
	if err != nil {
		return "", err
	}
	did, err := c.ResolveActorID(ctx, link.Actor)
	if err != nil {
		return "", err
	}
	return domain.PostURI(did, link.PostID), nil
}

// FetchPost returns a single post from a web link or at:// URI.
func (c *Client) FetchPost(ctx context.Context, identifier string) (*domain.Post, error) {
	uri, err := c.CanonicalPostURI(ctx, identifier)
	if err != nil {
		return nil, err
	}

	auth := c.Authenticate(ctx)
	body, err := c.get(ctx, nsidGetPosts, url.Values{"uris": {uri}}, auth)
	if err != nil {
		return nil, fmt.Errorf("fetch post %s: %w", uri, err)
	}

	posts, err := NormalizePosts(body, c.now())
	if err != nil {
		return nil, &domain.UpstreamError{Endpoint: nsidGetPosts, Status: http.StatusOK, Message: err.Error()}
	}
	if len(posts) == 0 {
		return nil, fmt.Errorf("post %s: %w", uri, domain.ErrNotFound)
	}
	return posts[0], nil
}

// CreatePost publishes text as the home account.
func (c *Client) CreatePost(ctx context.Context, text string) (*domain.PostRef, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: post text is empty", domain.ErrInvalidIdentifier)
	}
	if !c.Authenticate(ctx) {
		return nil, fmt.Errorf("create post: %w", domain.ErrAuthRequired)
	}

	repo := c.session.DID()
	if repo == "" {
		repo = c.homeDID
	}
	body, err := c.post(ctx, nsidCreateRecord, map[string]any{
		"repo":       repo,
		"collection": domain.PostCollection,
		"record": map[string]any{
			"$type":     domain.PostCollection,
			"text":      text,
			"createdAt": c.now().UTC().Format(time.RFC3339Nano),
		},
	}, true)
	if err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}

	var ref domain.PostRef
	if err := json.Unmarshal(body, &ref); err != nil || ref.URI == "" {
		return nil, &domain.UpstreamError{Endpoint: nsidCreateRecord, Status: http.StatusOK, Message: "response carried no uri"}
	}
	c.logger.Info("post created", logger.String("uri", ref.URI))
	return &ref, nil
}

// ─────────────────────────────
// Feeds
// ─────────────────────────────

// FetchAuthorFeed returns one page of an actor's feed (posts, reposts,
// replies). It degrades to public access when login fails.
func (c *Client) FetchAuthorFeed(ctx context.Context, actor string, limit int, cursor string) (*domain.FeedPage, error) {
	auth := c.Authenticate(ctx)
	if !auth && c.HasCredentials() {
		c.logger.Warn("not authenticated, proceeding with public access", logger.String("actor", actor))
	}

	id, err := c.ResolveActorID(ctx, actor)
	if err != nil {
		return nil, err
	}

	body, err := c.get(ctx, nsidGetAuthorFeed, pageParams(url.Values{"actor": {id}}, limit, cursor), auth)
	if err != nil {
		return nil, fmt.Errorf("author feed %s: %w", actor, err)
	}
	return NormalizeFeed(body, c.now())
}

// FetchTimeline returns the home account's timeline. It needs a session.
func (c *Client) FetchTimeline(ctx context.Context, limit int, cursor string) (*domain.FeedPage, error) {
	if !c.Authenticate(ctx) {
		return nil, fmt.Errorf("timeline: %w", domain.ErrAuthRequired)
	}
	body, err := c.get(ctx, nsidGetTimeline, pageParams(url.Values{}, limit, cursor), true)
	if err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}
	return NormalizeFeed(body, c.now())
}

// FetchAuthoredOnly lists the actor's own post records. Profile enrichment
// is best effort. On failure it tries, in order, the allow-listed posts and
// a short author feed before giving up.
func (c *Client) FetchAuthoredOnly(ctx context.Context, actor string, limit int, cursor string) (*domain.FeedPage, error) {
	handle := domain.NormalizeHandle(actor)
	page, err := c.listAuthored(ctx, handle, limit, cursor)
	if err == nil {
		return page, nil
	}

	c.logger.Warn("listing authored posts failed",
		logger.String("actor", handle), logger.Error(err))

	if fb, ok := c.fallbacks.Posts(handle, limit); ok {
		c.logger.Info("serving allow-listed fallback posts", logger.String("actor", handle))
		return fb, nil
	}

	if alt, altErr := c.FetchAuthorFeed(ctx, handle, alternativeFeedLimit, ""); altErr == nil && len(alt.Feed) > 0 {
		c.logger.Info("author feed served authored-only request",
			logger.String("actor", handle), logger.Int("items", len(alt.Feed)))
		return alt, nil
	} else if altErr != nil {
		c.logger.Debug("author feed alternative failed", logger.String("actor", handle), logger.Error(altErr))
	}

	return nil, fmt.Errorf("authored posts %s: %w", handle, err)
}

func (c *Client) listAuthored(ctx context.Context, handle string, limit int, cursor string) (*domain.FeedPage, error) {
	auth := c.Authenticate(ctx)

	did, err := c.ResolveActorID(ctx, handle)
	if err != nil {
		return nil, err
	}

	params := pageParams(url.Values{"repo": {did}, "collection": {domain.PostCollection}}, limit, cursor)
	body, err := c.get(ctx, nsidListRecords, params, auth)
	if err != nil {
		return nil, err
	}

	author := domain.Author{DID: did, Handle: handle, DisplayName: handle}
	if domain.IsActorID(handle) {
		author.Handle = ""
		author.DisplayName = ""
	}
	if profile, perr := c.FetchProfile(ctx, handle); perr == nil {
		author.Handle = firstNonEmpty(profile.Handle, author.Handle)
		author.DisplayName = firstNonEmpty(profile.DisplayName, author.Handle)
		author.Avatar = profile.Avatar
	} else {
		c.logger.Debug("profile enrichment skipped", logger.String("actor", handle), logger.Error(perr))
	}

	return NormalizeRecords(body, author, c.now())
}

// ─────────────────────────────
// Profiles
// ─────────────────────────────

// FetchProfile returns the actor's profile, or its allow-listed fallback
// profile when the upstream call fails.
func (c *Client) FetchProfile(ctx context.Context, handle string) (*domain.Profile, error) {
	h := domain.NormalizeHandle(handle)
	profile, err := c.fetchProfile(ctx, h)
	if err == nil {
		return profile, nil
	}
	if fb, ok := c.fallbacks.Profile(h); ok {
		c.logger.Warn("profile fetch failed, using allow-listed profile",
			logger.String("actor", h), logger.Error(err))
		return fb, nil
	}
	return nil, err
}

func (c *Client) fetchProfile(ctx context.Context, handle string) (*domain.Profile, error) {
	auth := c.Authenticate(ctx)
	did, err := c.ResolveActorID(ctx, handle)
	if err != nil {
		return nil, err
	}
	body, err := c.get(ctx, nsidGetProfile, url.Values{"actor": {did}}, auth)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", handle, err)
	}
	return NormalizeProfile(body)
}

func pageParams(v url.Values, limit int, cursor string) url.Values {
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		v.Set("cursor", cursor)
	}
	return v
}
