package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/MrSnakeDoc/skyembed/internal/domain"
	"github.com/MrSnakeDoc/skyembed/internal/logger"
	"github.com/MrSnakeDoc/skyembed/internal/utils"
)

const (
	nsidCreateSession = "com.atproto.server.createSession"
	nsidResolveHandle = "com.atproto.identity.resolveHandle"
	nsidGetPosts      = "app.bsky.feed.getPosts"
	nsidGetAuthorFeed = "app.bsky.feed.getAuthorFeed"
	nsidGetTimeline   = "app.bsky.feed.getTimeline"
	nsidListRecords   = "com.atproto.repo.listRecords"
	nsidGetProfile    = "app.bsky.actor.getProfile"
	nsidCreateRecord  = "com.atproto.repo.createRecord"

	maxBodyBytes = 4 << 20
)

// xrpcError is the error body shape upstream uses for non-2xx answers.
type xrpcError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// get performs GET /xrpc/{nsid}?params and returns the raw body.
func (c *Client) get(ctx context.Context, nsid string, params url.Values, auth bool) ([]byte, error) {
	u := c.serviceURL + "/xrpc/" + nsid
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", nsid, err)
	}
	return c.do(ctx, nsid, req, auth)
}

// post performs POST /xrpc/{nsid} with a JSON body.
func (c *Client) post(ctx context.Context, nsid string, body any, auth bool) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: encode body: %w", nsid, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serviceURL+"/xrpc/"+nsid, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", nsid, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(ctx, nsid, req, auth)
}

func (c *Client) do(ctx context.Context, nsid string, req *http.Request, auth bool) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	if auth {
		if token := c.session.token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.doWithRetry(ctx, nsid, req)
	if err != nil {
		outcome := "unavailable"
		var le *limiterError
		if errors.As(err, &le) {
			outcome = "canceled"
		}
		c.metrics.ObserveUpstream(nsid, outcome, start)
		return nil, &domain.UpstreamError{Endpoint: nsid, Err: err}
	}
	defer utils.Close(resp.Body)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.metrics.ObserveUpstream(nsid, "unavailable", start)
		return nil, &domain.UpstreamError{Endpoint: nsid, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode >= 300 {
		c.metrics.ObserveUpstream(nsid, strconv.Itoa(resp.StatusCode), start)
		var xe xrpcError
		_ = json.Unmarshal(body, &xe)
		msg := xe.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		c.logger.Debug("upstream error",
			logger.String("endpoint", nsid),
			logger.Int("status", resp.StatusCode),
			logger.String("code", xe.Error),
			logger.String("message", msg))
		return nil, &domain.UpstreamError{
			Endpoint: nsid,
			Status:   resp.StatusCode,
			Code:     xe.Error,
			Message:  msg,
		}
	}

	c.metrics.ObserveUpstream(nsid, "ok", start)
	return body, nil
}

// limiterError reports that the upstream limiter refused to grant a slot.
type limiterError struct{ err error }

func (e *limiterError) Error() string { return "upstream rate limiter: " + e.err.Error() }
func (e *limiterError) Unwrap() error { return e.err }

// doWithRetry retries 429, 5xx and transport errors with exponential
// backoff, honoring Retry-After. The last retryable response is returned
// as-is once attempts run out so the caller can map its status.
func (c *Client) doWithRetry(ctx context.Context, nsid string, req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		_ = req.Body.Close()
		body = b
	}

	backoff := c.baseBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		// every attempt, retries included, takes a limiter slot
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &limiterError{err: err}
		}

		r := req.Clone(ctx)
		if body != nil {
			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
		}

		resp, err := c.httpClient.Do(r)
		last := attempt == c.maxAttempts
		if err == nil {
			if !retryableStatus(resp.StatusCode) || last {
				return resp, nil
			}
			wait := retryAfter(resp.Header.Get("Retry-After"), backoff, c.now())
			utils.Close(resp.Body)
			c.logger.Warn("upstream throttled or failing, retrying",
				logger.String("endpoint", nsid),
				logger.Int("status", resp.StatusCode),
				logger.Int("attempt", attempt),
				logger.Duration("wait", wait))
			if err := sleep(ctx, jitter(wait, c.now())); err != nil {
				return nil, err
			}
			c.metrics.IncUpstreamRetry(nsid)
			backoff *= 2
			continue
		}

		if ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		if last {
			break
		}
		c.logger.Warn("upstream request failed, retrying",
			logger.String("endpoint", nsid),
			logger.Int("attempt", attempt),
			logger.Error(err))
		if err := sleep(ctx, backoff); err != nil {
			return nil, err
		}
		c.metrics.IncUpstreamRetry(nsid)
		backoff *= 2
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}

// retryAfter parses delta-seconds or an HTTP date, falling back to def.
func retryAfter(header string, def time.Duration, now time.Time) time.Duration {
	if header == "" {
		return def
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return def
}

// jitter spreads wait by +/-20%.
func jitter(wait time.Duration, now time.Time) time.Duration {
	j := time.Duration(float64(wait) * 0.2)
	if j <= 0 {
		return wait
	}
	return wait - j + time.Duration(now.UnixNano()%int64(2*j))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
