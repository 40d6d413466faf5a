package render

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"html/template"
	"net/url"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/spaolacci/murmur3"

	"github.com/MrSnakeDoc/skyembed/internal/domain"
	"github.com/MrSnakeDoc/skyembed/internal/logger"
	"github.com/MrSnakeDoc/skyembed/internal/metrics"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const (
	ThemeLight = "light"
	ThemeDark  = "dark"

	defaultWidth    = "100%"
	standaloneWidth = "600px"
	maxImages       = 4
)

// failsafe is served when even the fallback template cannot execute.
const failsafe = `<div class="bsky-embed-container"><p>This Bluesky post couldn&#39;t be displayed.</p></div>`

var widthPattern = regexp.MustCompile(`^\d{1,4}(\.\d{1,2})?(px|%|em|rem|vw)$`)

type palette struct {
	Page, Card, Text, Muted, Border, Link string
}

var palettes = map[string]palette{
	ThemeLight: {Page: "#f7f9fa", Card: "#ffffff", Text: "#0f1419", Muted: "#657786", Border: "#e1e8ed", Link: "#1da1f2"},
	ThemeDark:  {Page: "#192734", Card: "#15202b", Text: "#ffffff", Muted: "#8899a6", Border: "#38444d", Link: "#1d9bf0"},
}

// Options selects the presentation of a rendered fragment.
type Options struct {
	Theme string // light or dark
	Width string // CSS length, e.g. 550px or 100%
}

type Config struct {
	WebURL       string
	DefaultTheme string
	DefaultWidth string
	Metrics      *metrics.Metrics
}

// Renderer turns normalized posts into embeddable HTML. Every method is
// deterministic for a given input and never panics outward.
type Renderer struct {
	tmpl         *template.Template
	policy       *bluemonday.Policy
	webURL       string
	defaultTheme string
	defaultWidth string
	metrics      *metrics.Metrics
	logger       logger.Logger
}

func New(cfg Config, log logger.Logger) (*Renderer, error) {
	tmpl, err := template.New("render").ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	if cfg.WebURL == "" {
		cfg.WebURL = "https://bsky.app"
	}
	r := &Renderer{
		tmpl:    tmpl,
		policy:  newTextPolicy(),
		webURL:  strings.TrimRight(cfg.WebURL, "/"),
		metrics: cfg.Metrics,
		logger:  log,
	}
	r.defaultTheme = normalizeTheme(cfg.DefaultTheme, ThemeLight)
	r.defaultWidth = normalizeWidth(cfg.DefaultWidth, defaultWidth)
	return r, nil
}

// WebURL is the public web base used for post and profile links.
func (r *Renderer) WebURL() string { return r.webURL }

// Normalize fills defaults and drops unsafe values.
func (r *Renderer) Normalize(opts Options) Options {
	return Options{
		Theme: normalizeTheme(opts.Theme, r.defaultTheme),
		Width: normalizeWidth(opts.Width, r.defaultWidth),
	}
}

func normalizeTheme(theme, def string) string {
	switch strings.ToLower(strings.TrimSpace(theme)) {
	case ThemeDark:
		return ThemeDark
	case ThemeLight:
		return ThemeLight
	default:
		return def
	}
}

func normalizeWidth(width, def string) string {
	w := strings.TrimSpace(width)
	if widthPattern.MatchString(w) {
		return w
	}
	return def
}

// ─────────────────────────────
// View models
// ─────────────────────────────

type frame struct {
	Theme    string
	Width    string
	MaxWidth string
	Palette  palette
}

func newFrame(opts Options) frame {
	maxWidth := opts.Width
	if strings.HasSuffix(maxWidth, "%") {
		maxWidth = standaloneWidth
	}
	return frame{Theme: opts.Theme, Width: opts.Width, MaxWidth: maxWidth, Palette: palettes[opts.Theme]}
}

type postView struct {
	frame
	AuthorName   string
	AuthorHandle string
	AuthorURL    string
	Avatar       string
	Initial      string
	Text         template.HTML
	Date         string
	DateTime     string
	PostURL      string
	Media        mediaView
}

type mediaView struct {
	Images   []domain.Image
	External *domain.External
	Quote    *quoteView
	Video    *videoView
}

type quoteView struct {
	URL          string
	AuthorName   string
	AuthorHandle string
	Text         string
}

type videoView struct {
	ID          string
	Playlist    string
	Poster      string
	AspectRatio template.CSS
}

func (r *Renderer) newPostView(post *domain.Post, opts Options) postView {
	actor := r.actorRef(post.Author)
	name := post.Author.Name()

	v := postView{
		frame:        newFrame(opts),
		AuthorName:   name,
		AuthorHandle: firstNonEmpty(post.Author.Handle, post.Author.DID, "unknown.user"),
		AuthorURL:    domain.WebProfileURL(r.webURL, actor),
		Avatar:       post.Author.Avatar,
		Initial:      initial(name),
		Text:         r.formatText(post.Text),
		Date:         "Unknown date",
		PostURL:      r.postURL(post),
	}
	if !post.Timestamp.IsZero() {
		ts := post.Timestamp.UTC()
		v.Date = ts.Format("Jan 2, 2006, 15:04") + " UTC"
		v.DateTime = ts.Format("2006-01-02T15:04:05Z")
	}
	v.Media = r.newMediaView(post)
	return v
}

func (r *Renderer) newMediaView(post *domain.Post) mediaView {
	m := post.Media
	out := mediaView{External: m.External}

	if len(m.Images) > 0 {
		n := len(m.Images)
		if n > maxImages {
			n = maxImages
		}
		out.Images = m.Images[:n]
	}

	if q := m.Quote; q != nil {
		qv := &quoteView{
			AuthorName:   q.Author.Name(),
			AuthorHandle: q.Author.Handle,
			Text:         q.Text,
		}
		actor := r.actorRef(q.Author)
		switch {
		case domain.IsPostURI(q.URI):
			if actor == "" {
				actor = strings.SplitN(strings.TrimPrefix(q.URI, "at://"), "/", 2)[0]
			}
			qv.URL = domain.WebPostURL(r.webURL, actor, domain.LastSegment(q.URI))
		case actor != "":
			qv.URL = domain.WebProfileURL(r.webURL, actor)
		default:
			qv.URL = r.webURL
		}
		out.Quote = qv
	}

	if vid := m.Video; vid != nil && vid.Playlist != "" {
		ar := vid.AspectRatio
		if ar.Width <= 0 || ar.Height <= 0 {
			ar = domain.AspectRatio{Width: 16, Height: 9}
		}
		out.Video = &videoView{
			ID:          videoID(post.URI, vid.Playlist),
			Playlist:    vid.Playlist,
			Poster:      vid.Thumbnail,
			AspectRatio: template.CSS(fmt.Sprintf("%d / %d", ar.Width, ar.Height)),
		}
	}
	return out
}

// actorRef prefers the handle for links and falls back to the DID.
func (r *Renderer) actorRef(a domain.Author) string {
	return firstNonEmpty(a.Handle, a.DID)
}

func (r *Renderer) postURL(post *domain.Post) string {
	if post == nil {
		return ""
	}
	id := firstNonEmpty(post.ID, domain.LastSegment(post.URI), post.CID)
	actor := r.actorRef(post.Author)
	if actor == "" && strings.HasPrefix(post.URI, "at://") {
		actor = strings.SplitN(strings.TrimPrefix(post.URI, "at://"), "/", 2)[0]
	}
	if id == "" || actor == "" {
		return ""
	}
	return domain.WebPostURL(r.webURL, actor, id)
}

// videoID is stable per post so repeated renders are byte-identical.
func videoID(uri, playlist string) string {
	return fmt.Sprintf("bsky-video-%08x", murmur3.Sum32([]byte(uri+"|"+playlist)))
}

func initial(name string) string {
	for _, r := range name {
		return strings.ToUpper(string(r))
	}
	return "?"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// ─────────────────────────────
// Fragments
// ─────────────────────────────

// Post renders one post as a self-contained fragment. Failures, including
// panics, degrade to a "could not display" fragment.
func (r *Renderer) Post(post *domain.Post, opts Options) (out string) {
	opts = r.Normalize(opts)
	defer func() {
		if rec := recover(); rec != nil {
			r.failed("panic", fmt.Errorf("%v", rec))
			out = r.fallback(post, opts)
		}
	}()

	if post == nil {
		r.failed("missing_post", nil)
		return r.fallback(nil, opts)
	}
	s, err := r.exec("post", r.newPostView(post, opts))
	if err != nil {
		r.failed("template", err)
		return r.fallback(post, opts)
	}
	return s
}

func (r *Renderer) fallback(post *domain.Post, opts Options) (out string) {
	defer func() {
		if rec := recover(); rec != nil {
			out = failsafe
		}
	}()
	s, err := r.exec("post-fallback", struct {
		frame
		PostURL string
	}{newFrame(opts), r.postURL(post)})
	if err != nil {
		return failsafe
	}
	return s
}

// ItemError is the inline placeholder for one feed item that failed.
func (r *Renderer) ItemError(message string, opts Options) string {
	return r.placeholder("item-error", struct {
		frame
		Message string
	}{newFrame(r.Normalize(opts)), message})
}

// NoPosts is the placeholder for an authored-only feed with nothing to show.
func (r *Renderer) NoPosts(handle string, opts Options) string {
	return r.placeholder("no-posts", struct {
		frame
		Handle string
	}{newFrame(r.Normalize(opts)), domain.NormalizeHandle(handle)})
}

// FeedError is the single card shown when a whole feed failed.
func (r *Renderer) FeedError(message string, opts Options) string {
	if message == "" {
		message = "The feed could not be loaded right now. Please try again later."
	}
	return r.placeholder("feed-error", struct {
		frame
		Message string
	}{newFrame(r.Normalize(opts)), message})
}

func (r *Renderer) placeholder(name string, data any) string {
	s, err := r.exec(name, data)
	if err != nil {
		r.failed("template", err)
		return failsafe
	}
	return s
}

// ─────────────────────────────
// Pages
// ─────────────────────────────

// StandalonePage wraps a post in a full HTML document with Open Graph tags.
func (r *Renderer) StandalonePage(post *domain.Post, opts Options) string {
	opts = r.Normalize(opts)
	body := r.Post(post, opts)

	data := struct {
		frame
		AuthorName   string
		AuthorHandle string
		Avatar       string
		Description  string
		HasVideo     bool
		Body         template.HTML
	}{
		frame:        newFrame(opts),
		AuthorName:   "Bluesky User",
		AuthorHandle: "bluesky-user",
		Description:  "Bluesky post",
		Body:         template.HTML(body),
	}
	if post != nil {
		data.AuthorName = firstNonEmpty(post.Author.DisplayName, data.AuthorName)
		data.AuthorHandle = firstNonEmpty(post.Author.Handle, data.AuthorHandle)
		data.Avatar = post.Author.Avatar
		data.Description = firstNonEmpty(post.Text, data.Description)
		data.HasVideo = post.Media.Video != nil
	}

	s, err := r.exec("standalone", data)
	if err != nil {
		r.failed("template", err)
		return r.ErrorPage("The post could not be rendered properly.", opts)
	}
	return s
}

// ErrorPage is the full document served when a single post cannot be shown.
func (r *Renderer) ErrorPage(message string, opts Options) string {
	if message == "" {
		message = "It may have been deleted or you may not have permission to view it."
	}
	s, err := r.exec("error-page", struct {
		frame
		Message string
	}{newFrame(r.Normalize(opts)), message})
	if err != nil {
		r.failed("template", err)
		return "<!DOCTYPE html><html><body>" + failsafe + "<p>" + html.EscapeString(message) + "</p></body></html>"
	}
	return s
}

// FeedPageData describes a feed page. Posts are fragments produced by this
// renderer and are embedded as-is.
type FeedPageData struct {
	Handle  string
	Title   string
	Posts   []string
	Cursor  string
	Profile *domain.Profile

	// Path is the route the load-more link points at, e.g. /feed.
	Path string
	// Params are extra query parameters carried by the load-more link.
	Params url.Values
}

type profileView struct {
	Name        string
	Handle      string
	Avatar      string
	Description string
	URL         string
}

// FeedPage renders a list of post fragments. The load-more link is only
// present when a cursor exists.
func (r *Renderer) FeedPage(data FeedPageData, opts Options) string {
	opts = r.Normalize(opts)
	handle := domain.NormalizeHandle(data.Handle)
	title := data.Title
	if title == "" {
		title = "Bluesky Feed for @" + handle
	}

	view := struct {
		frame
		Title       string
		Profile     *profileView
		Posts       []template.HTML
		HasVideo    bool
		LoadMoreURL string
	}{
		frame: newFrame(opts),
		Title: title,
		Posts: make([]template.HTML, 0, len(data.Posts)),
	}

	for _, p := range data.Posts {
		view.Posts = append(view.Posts, template.HTML(p))
		if strings.Contains(p, "bsky-video-") {
			view.HasVideo = true
		}
	}

	if p := data.Profile; p != nil {
		h := firstNonEmpty(p.Handle, handle)
		view.Profile = &profileView{
			Name:        firstNonEmpty(p.DisplayName, h),
			Handle:      h,
			Avatar:      p.Avatar,
			Description: p.Description,
			URL:         domain.WebProfileURL(r.webURL, firstNonEmpty(h, p.DID)),
		}
	}

	if data.Cursor != "" {
		q := url.Values{}
		for k, v := range data.Params {
			q[k] = append([]string(nil), v...)
		}
		q.Set("handle", handle)
		q.Set("theme", opts.Theme)
		q.Set("cursor", data.Cursor)
		path := data.Path
		if path == "" {
			path = "/feed"
		}
		view.LoadMoreURL = path + "?" + q.Encode()
	}

	s, err := r.exec("feed-page", view)
	if err != nil {
		r.failed("template", err)
		return r.ErrorPage("The feed could not be rendered.", opts)
	}
	return s
}

func (r *Renderer) exec(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

func (r *Renderer) failed(reason string, err error) {
	r.metrics.RenderFailure(reason)
	if r.logger == nil {
		return
	}
	if err != nil {
		r.logger.Warn("render failed", logger.String("reason", reason), logger.Error(err))
	} else {
		r.logger.Warn("render failed", logger.String("reason", reason))
	}
}
