// Package antibot fetches pages while rotating client identities, detecting bot
// challenges and escalating to a headless browser when plain HTTP is blocked.
package antibot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"

	"github.com/aluiziolira/go-price-compare/config"
	"github.com/aluiziolira/go-price-compare/metrics"
)

// BlockIndicators are lowercase body fragments that mark a challenge or denial page.
var BlockIndicators = [][]byte{
	[]byte("cloudflare"),
	[]byte("captcha"),
	[]byte("rate limit"),
	[]byte("access denied"),
	[]byte("bot detection"),
	[]byte("suspicious activity"),
	[]byte("security check"),
}

// DetectBlocking reports whether a response looks like an anti-bot challenge or denial.
func DetectBlocking(statusCode int, body []byte) bool {
	switch statusCode {
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	}
	lower := bytes.ToLower(body)
	for _, indicator := range BlockIndicators {
		if bytes.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

// Response is a fetched page. Rendered responses come from the browser and always carry status 200.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Rendered   bool
	SessionID  int64
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// FetchOptions tune a single logical fetch.
type FetchOptions struct {
	// MaxRetries overrides the client default when positive.
	MaxRetries int
	// Delay overrides the human-like pause before each attempt.
	Delay *config.DelayWindow
	// WaitSelector is awaited by the browser before the page is captured.
	WaitSelector string
	// RequireBrowser skips plain HTTP for script-rendered sites.
	RequireBrowser bool
}

// Options configure a Client.
type Options struct {
	UserAgents      []string
	Proxies         []string
	RequestTimeout  time.Duration
	MaxRetries      int
	HumanDelay      config.DelayWindow
	BlockedDelay    config.DelayWindow
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	RequestRPS      float64
	Browser         config.BrowserConfig

	// Transport replaces the per-session proxy transport, mainly for tests.
	Transport http.RoundTripper
	// Renderer replaces the lazily started Chrome renderer.
	Renderer Renderer
	Metrics  *metrics.Metrics
}

// OptionsFromConfig maps the loaded configuration onto client options.
func OptionsFromConfig(cfg *config.Config, m *metrics.Metrics) Options {
	return Options{
		UserAgents:      cfg.UserAgents,
		Proxies:         cfg.Proxies,
		RequestTimeout:  cfg.RequestTimeout,
		MaxRetries:      cfg.MaxRetries,
		HumanDelay:      cfg.HumanDelay,
		BlockedDelay:    cfg.BlockedDelay,
		RetryBackoff:    cfg.RetryBackoff,
		RetryBackoffMax: cfg.RetryBackoffMax,
		RequestRPS:      cfg.RequestRPS,
		Browser:         cfg.Browser,
		Metrics:         m,
	}
}

// Client hands out sessions and runs the request, retry and escalation policy.
// It is safe for concurrent use; sessions are not.
type Client struct {
	opts       Options
	userAgents []string
	proxies    []*url.URL
	limiter    *rate.Limiter
	renderer   Renderer
	metrics    *metrics.Metrics

	seq atomic.Int64

	mu       sync.Mutex // guards proxyIdx
	proxyIdx int
}

// NewClient validates options and builds a client.
func NewClient(opts Options) (*Client, error) {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}

	c := &Client{
		opts:       opts,
		userAgents: opts.UserAgents,
		renderer:   opts.Renderer,
		metrics:    opts.Metrics,
	}
	if len(c.userAgents) == 0 {
		c.userAgents = DefaultUserAgents
	}
	for _, raw := range opts.Proxies {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("parse proxy %q: invalid url", raw)
		}
		c.proxies = append(c.proxies, u)
	}
	if opts.RequestRPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestRPS), 1)
	}
	if c.renderer == nil && opts.Browser.Enabled {
		c.renderer = NewChromeRenderer(opts.Browser, c.userAgents)
	}
	return c, nil
}

// NewSession builds a fresh identity: random user agent, randomized header set and the next proxy in rotation.
func (c *Client) NewSession() *Session {
	s := &Session{}
	c.assign(s)
	return s
}

func (c *Client) rotate(s *Session) {
	old := s.id
	c.assign(s)
	c.metrics.IncRotation()
	slog.Debug("session rotated", slog.Int64("from", old), slog.Int64("to", s.id))
}

func (c *Client) assign(s *Session) {
	if t, ok := s.transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}

	s.id = c.seq.Add(1)
	s.userAgent = c.userAgents[rand.IntN(len(c.userAgents))]
	s.headers = buildHeaders()
	s.proxy = c.nextProxy()
	s.createdAt = time.Now()
	if c.opts.Transport != nil {
		s.transport = c.opts.Transport
	} else {
		s.transport = newTransport(s.proxy, c.opts.RequestTimeout)
	}

	col := colly.NewCollector(
		colly.UserAgent(s.userAgent),
		colly.AllowURLRevisit(),
	)
	col.SetRequestTimeout(c.opts.RequestTimeout)
	col.ParseHTTPErrorResponse = true
	col.WithTransport(s.transport)
	s.collector = col
}

func (c *Client) nextProxy() *url.URL {
	if len(c.proxies) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.proxies[c.proxyIdx%len(c.proxies)]
	c.proxyIdx++
	return p
}

// Fetch retrieves target with sess, rendering directly in the browser when RequireBrowser is set.
func (c *Client) Fetch(ctx context.Context, target string, sess *Session, opts FetchOptions) (*Response, error) {
	if !opts.RequireBrowser {
		return c.SmartRequest(ctx, target, sess, opts)
	}
	if err := Sleep(ctx, c.delay(opts).Pick()); err != nil {
		return nil, err
	}
	return c.render(ctx, target, sess, opts.WaitSelector)
}

// SmartRequest fetches target with human-like pacing. Transient failures back off exponentially;
// blocking responses rotate the session and wait longer, and on the final attempt the page is
// rendered in the headless browser instead. The error is non-nil only when nothing usable came back.
func (c *Client) SmartRequest(ctx context.Context, target string, sess *Session, opts FetchOptions) (*Response, error) {
	if sess == nil {
		sess = c.NewSession()
	}
	attempts := c.opts.MaxRetries
	if opts.MaxRetries > 0 {
		attempts = opts.MaxRetries
	}
	pacing := c.delay(opts)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			c.metrics.IncRetries()
		}
		if err := Sleep(ctx, pacing.Pick()); err != nil {
			return nil, err
		}
		if err := c.wait(ctx); err != nil {
			return nil, err
		}

		start := time.Now()
		resp, err := sess.get(target)
		c.metrics.ObserveDuration(time.Since(start))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		if err != nil {
			lastErr = err
			c.metrics.IncRequest("error")
			c.metrics.IncError(ErrorType(err))
			slog.Warn("request failed",
				slog.String("url", target),
				slog.Int("attempt", attempt),
				slog.String("category", ErrorType(err)),
				slog.Any("error", err),
			)
			if !transient(err) {
				break
			}
			if attempt < attempts {
				if err := Sleep(ctx, c.backoff(attempt)); err != nil {
					return nil, err
				}
			}
			continue
		}

		if DetectBlocking(resp.StatusCode, resp.Body) {
			lastErr = ErrBlocked{StatusCode: resp.StatusCode, Err: classifyError(nil, resp.StatusCode)}
			c.metrics.IncRequest("blocked")
			c.metrics.IncError("blocked")
			slog.Warn("blocking detected",
				slog.String("url", target),
				slog.Int("attempt", attempt),
				slog.Int("status", resp.StatusCode),
				slog.Int64("session", sess.id),
			)
			if attempt == attempts {
				rendered, err := c.render(ctx, target, sess, opts.WaitSelector)
				if err != nil {
					return nil, errors.Join(lastErr, err)
				}
				return rendered, nil
			}
			c.rotate(sess)
			if err := Sleep(ctx, c.opts.BlockedDelay.Pick()); err != nil {
				return nil, err
			}
			continue
		}

		if resp.OK() {
			c.metrics.IncRequest("ok")
		} else {
			c.metrics.IncRequest("http_error")
			c.metrics.IncError(ErrorType(classifyError(nil, resp.StatusCode)))
		}
		return resp, nil
	}

	return nil, fmt.Errorf("fetch %s failed after %d attempts: %w", target, attempts, lastErr)
}

// Probe issues one undelayed request with a fresh session, for availability checks.
func (c *Client) Probe(ctx context.Context, target string) (*Response, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := c.NewSession().get(target)
	c.metrics.ObserveDuration(time.Since(start))
	if err != nil {
		c.metrics.IncError(ErrorType(err))
		return nil, err
	}
	return resp, ctx.Err()
}

// Close releases the browser if one was started.
func (c *Client) Close() error {
	if c.renderer == nil {
		return nil
	}
	return c.renderer.Close()
}

func (c *Client) render(ctx context.Context, target string, sess *Session, waitSelector string) (*Response, error) {
	if c.renderer == nil {
		c.metrics.IncRender("unavailable")
		return nil, ErrBrowserUnavailable
	}
	ua := ""
	var sid int64
	if sess != nil {
		ua = sess.userAgent
		sid = sess.id
	}
	html, err := c.renderer.Render(ctx, target, RenderOptions{WaitSelector: waitSelector, UserAgent: ua})
	if err != nil {
		c.metrics.IncRender("error")
		return nil, fmt.Errorf("render %s: %w", target, err)
	}
	c.metrics.IncRender("ok")
	c.metrics.IncRequest("rendered")
	slog.Info("page rendered in browser", slog.String("url", target), slog.Int("bytes", len(html)))
	return &Response{
		URL:        target,
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:       []byte(html),
		Rendered:   true,
		SessionID:  sid,
	}, nil
}

func (c *Client) delay(opts FetchOptions) config.DelayWindow {
	if opts.Delay != nil {
		return *opts.Delay
	}
	return c.opts.HumanDelay
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := c.opts.RetryBackoff
	if base <= 0 {
		return 0
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := c.opts.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
