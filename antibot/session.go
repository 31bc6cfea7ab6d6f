package antibot

import (
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
)

// DefaultUserAgents is the identity pool sessions draw from when none is configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

var baseHeaders = [][2]string{
	{"Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8"},
	{"Accept-Language", "en-US,en;q=0.9"},
	{"DNT", "1"},
	{"Connection", "keep-alive"},
	{"Upgrade-Insecure-Requests", "1"},
	{"Sec-Fetch-Dest", "document"},
	{"Sec-Fetch-Mode", "navigate"},
	{"Sec-Fetch-Site", "none"},
	{"Cache-Control", "max-age=0"},
}

// Each optional fingerprint header is sent with optionalHeaderRate probability.
var optionalHeaders = [][2]string{
	{"Sec-CH-UA", `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`},
	{"Sec-CH-UA-Mobile", "?0"},
	{"Sec-CH-UA-Platform", `"Windows"`},
	{"Sec-Fetch-User", "?1"},
}

const optionalHeaderRate = 0.7

func buildHeaders() http.Header {
	h := make(http.Header, len(baseHeaders)+len(optionalHeaders))
	for _, kv := range baseHeaders {
		h.Set(kv[0], kv[1])
	}
	for _, kv := range optionalHeaders {
		if rand.Float64() < optionalHeaderRate {
			h.Set(kv[0], kv[1])
		}
	}
	return h
}

// Session is one client identity: user agent, header set, optional proxy and the collector bound to them.
// A session is owned by a single scraping task; rotation replaces its identity in place.
type Session struct {
	id        int64
	userAgent string
	headers   http.Header
	proxy     *url.URL
	transport http.RoundTripper
	collector *colly.Collector
	createdAt time.Time
}

// ID is a process-unique sequence number, bumped on every rotation.
func (s *Session) ID() int64 { return s.id }

// UserAgent returns the session's user agent.
func (s *Session) UserAgent() string { return s.userAgent }

// Proxy returns the assigned proxy, or nil for direct connections.
func (s *Session) Proxy() *url.URL { return s.proxy }

// Headers returns a copy of the header set sent with every request.
func (s *Session) Headers() http.Header { return s.headers.Clone() }

// get issues a single GET through the session's collector.
func (s *Session) get(target string) (*Response, error) {
	col := s.collector.Clone()

	var (
		resp     *Response
		visitErr error
	)
	col.OnRequest(func(r *colly.Request) {
		for key, values := range s.headers {
			if len(values) > 0 {
				r.Headers.Set(key, values[0])
			}
		}
	})
	col.OnResponse(func(r *colly.Response) {
		header := http.Header{}
		if r.Headers != nil {
			header = r.Headers.Clone()
		}
		resp = &Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Header:     header,
			Body:       r.Body,
			SessionID:  s.id,
		}
	})
	col.OnError(func(r *colly.Response, err error) {
		visitErr = err
	})

	if err := col.Visit(target); err != nil {
		if visitErr == nil {
			visitErr = err
		}
	}
	if visitErr != nil {
		return nil, classifyError(visitErr, 0)
	}
	if resp == nil {
		return nil, fmt.Errorf("no response for %s", target)
	}
	return resp, nil
}

func newTransport(proxy *url.URL, timeout time.Duration) *http.Transport {
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if proxy != nil {
		t.Proxy = http.ProxyURL(proxy)
	}
	return t
}
