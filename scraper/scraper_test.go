package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-price-compare/antibot"
	"github.com/aluiziolira/go-price-compare/config"
	"github.com/aluiziolira/go-price-compare/metrics"
)

func testSource() config.SourceConfig {
	return config.SourceConfig{
		ID:       "shop",
		Name:     "Test Shop",
		BaseURL:  "http://shop.test",
		Currency: "KES",
		Search: config.SearchConfig{
			Path:              "/search",
			QueryParam:        "q",
			PageParam:         "page",
			CategoryPageParam: "page",
		},
		Listing: config.ListingSelectors{
			Items:         []string{".missing-card", ".card"},
			Name:          []string{".title-new a", ".title a", ".title"},
			Link:          []string{`a[href*="/p/"]`},
			Price:         []string{".price-new", ".price"},
			OriginalPrice: []string{".old"},
			Image:         []string{"img"},
			Stock:         []string{".stock"},
			Rating:        []string{".stars"},
			Reviews:       []string{".rev"},
		},
		Detail: config.DetailSelectors{
			Name:        []string{"h1"},
			Price:       []string{".price"},
			Description: []string{".desc"},
			Images:      []string{".gallery img"},
			Specs:       []string{".specs tr", ".features li"},
			Stock:       []string{".stock"},
		},
		Links: config.LinkFilter{
			Include: []string{"/p/"},
			Exclude: []string{"login"},
		},
	}
}

func newTestClient(t *testing.T, transport http.RoundTripper) *antibot.Client {
	t.Helper()
	c, err := antibot.NewClient(antibot.Options{
		RequestTimeout: 2 * time.Second,
		MaxRetries:     1,
		Transport:      transport,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func newTestScraper(t *testing.T, src config.SourceConfig, transport http.RoundTripper) *SelectorScraper {
	t.Helper()
	s, err := New(src, newTestClient(t, transport), metrics.New(), 1)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	return s
}

func htmlResponse(body string) *http.Response {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html")
	return resp
}

func buildListingPage(page, count int) string {
	var builder strings.Builder
	builder.WriteString("<html><body><div class=\"results\">")
	for i := 1; i <= count; i++ {
		id := (page-1)*100 + i
		builder.WriteString("<div class=\"card\">")
		fmt.Fprintf(&builder, "<h3 class=\"title\"><a href=\"/p/phone-%d\">Phone %d KSh 9,999 -10%%</a></h3>", id, id)
		fmt.Fprintf(&builder, "<span class=\"price\">KSh %d,000</span>", 10+id)
		fmt.Fprintf(&builder, "<span class=\"old\">KSh %d,000</span>", 20+id)
		fmt.Fprintf(&builder, "<img data-src=\"/img/%d.jpg\" src=\"data:image/gif;base64,AAAA\">", id)
		builder.WriteString("<span class=\"stars\">4.5 out of 5</span><span class=\"rev\">(12)</span>")
		builder.WriteString("</div>")
	}
	builder.WriteString("</div></body></html>")
	return builder.String()
}

func TestSearchURL(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.SourceConfig)
		page   int
		want   string
	}{
		{name: "first page", page: 1, want: "http://shop.test/search?page=1&q=galaxy+a14"},
		{name: "later page", page: 3, want: "http://shop.test/search?page=3&q=galaxy+a14"},
		{
			name:   "omitted first page",
			mutate: func(s *config.SourceConfig) { s.Search.OmitFirstPage = true },
			page:   1,
			want:   "http://shop.test/search?q=galaxy+a14",
		},
		{
			name: "extra params",
			mutate: func(s *config.SourceConfig) {
				s.Search.Params = map[string]string{"post_type": "product"}
				s.Search.QueryParam = "s"
				s.Search.PageParam = "paged"
			},
			page: 2,
			want: "http://shop.test/search?paged=2&post_type=product&s=galaxy+a14",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := testSource()
			if tt.mutate != nil {
				tt.mutate(&src)
			}
			s := newTestScraper(t, src, httpmock.NewMockTransport())
			if got := s.SearchURL("galaxy a14", tt.page); got != tt.want {
				t.Fatalf("SearchURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCategoryURL(t *testing.T) {
	s := newTestScraper(t, testSource(), httpmock.NewMockTransport())
	if got := s.CategoryURL("/phones-tablets/", 1); got != "http://shop.test/phones-tablets/" {
		t.Fatalf("page 1 = %q", got)
	}
	if got := s.CategoryURL("/phones-tablets/?sort=new", 2); got != "http://shop.test/phones-tablets/?page=2&sort=new" {
		t.Fatalf("page 2 = %q", got)
	}
}

func TestParseListingExtractsFields(t *testing.T) {
	s := newTestScraper(t, testSource(), httpmock.NewMockTransport())
	products, err := s.ParseListing([]byte(buildListingPage(1, 3)), "http://shop.test/search?q=phone")
	if err != nil {
		t.Fatalf("parse listing: %v", err)
	}
	if len(products) != 3 {
		t.Fatalf("products=%d, want 3", len(products))
	}

	p := products[0]
	if p.Name != "Phone 1" {
		t.Fatalf("name=%q, want cleaned %q", p.Name, "Phone 1")
	}
	if p.URL != "http://shop.test/p/phone-1" {
		t.Fatalf("url=%q", p.URL)
	}
	if p.Price == nil || *p.Price != 11000 {
		t.Fatalf("price=%v, want 11000", p.Price)
	}
	if p.OriginalPrice == nil || *p.OriginalPrice != 21000 {
		t.Fatalf("original price=%v", p.OriginalPrice)
	}
	if p.DiscountPercent == nil {
		t.Fatalf("expected derived discount")
	}
	if p.ImageURL != "http://shop.test/img/1.jpg" {
		t.Fatalf("image=%q", p.ImageURL)
	}
	if p.Rating == nil || *p.Rating != 4.5 {
		t.Fatalf("rating=%v", p.Rating)
	}
	if p.ReviewsCount == nil || *p.ReviewsCount != 12 {
		t.Fatalf("reviews=%v", p.ReviewsCount)
	}
	if p.SourceID != "shop" || p.SourceName != "Test Shop" || p.Currency != "KES" || !p.InStock {
		t.Fatalf("unexpected source fields %+v", p)
	}
}

func TestParseListingFieldFallbacksAreIndependent(t *testing.T) {
	page := `<html><body>
<div class="card">
  <span class="title">Tecno Spark 10</span>
  <a class="more" href="/p/spark-10">view</a>
  <span class="price-new">Negotiable</span><span class="price">KSh 14,500</span>
  <span class="stock">Out of stock</span>
</div>
<div class="card">
  <span class="title">Contact-only listing</span>
  <span class="price">Call for price</span>
</div>
<div class="card">
  <a href="/p/no-name">link only</a>
  <span class="price">KSh 5,000</span>
</div>
<div class="card">
  <span class="title">Price only</span>
  <span class="price">KSh 7,000</span>
  <a href="/account/login">sign in</a>
</div>
</body></html>`

	s := newTestScraper(t, testSource(), httpmock.NewMockTransport())
	products, err := s.ParseListing([]byte(page), "http://shop.test/search?q=x")
	if err != nil {
		t.Fatalf("parse listing: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("products=%d, want 2: %+v", len(products), products)
	}

	spark := products[0]
	if spark.URL != "http://shop.test/p/spark-10" {
		t.Fatalf("link chain fallback url=%q", spark.URL)
	}
	if spark.Price == nil || *spark.Price != 14500 {
		t.Fatalf("price chain should skip placeholder, got %v", spark.Price)
	}
	if spark.InStock {
		t.Fatalf("expected out of stock")
	}

	priceOnly := products[1]
	if priceOnly.URL != "" {
		t.Fatalf("excluded link should be dropped, got %q", priceOnly.URL)
	}
	if priceOnly.Price == nil || *priceOnly.Price != 7000 {
		t.Fatalf("price=%v", priceOnly.Price)
	}
}

func TestParseListingFallbackLinks(t *testing.T) {
	src := testSource()
	src.Listing.Items = []string{".advert"}
	src.Listing.FallbackLinks = `a[href*="/ads/"]`
	src.Listing.FallbackLimit = 2
	src.Links = config.LinkFilter{Include: []string{"/ads/"}}

	page := `<html><body>
<div><a href="/ads/one" title="Used iPhone 12">Used iPhone 12</a><span class="price">KSh 40,000</span></div>
<div><a href="/ads/two">Samsung A14</a><span class="price">KSh 18,000</span></div>
<div><a href="/ads/three">Redmi Note</a><span class="price">KSh 15,000</span></div>
</body></html>`

	s := newTestScraper(t, src, httpmock.NewMockTransport())
	products, err := s.ParseListing([]byte(page), "http://shop.test/search?query=x")
	if err != nil {
		t.Fatalf("parse listing: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("products=%d, want fallback limit 2", len(products))
	}
	if products[0].Name != "Used iPhone 12" || products[0].URL != "http://shop.test/ads/one" {
		t.Fatalf("unexpected first product %+v", products[0])
	}
	if products[1].Price == nil || *products[1].Price != 18000 {
		t.Fatalf("price=%v", products[1].Price)
	}
}

func TestSearchStopsOnEmptyPage(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterNoResponder(func(req *http.Request) (*http.Response, error) {
		switch req.URL.Query().Get("page") {
		case "1":
			return htmlResponse(buildListingPage(1, 4)), nil
		case "2":
			return htmlResponse(buildListingPage(2, 2)), nil
		default:
			return htmlResponse("<html><body><p>No results</p></body></html>"), nil
		}
	})

	s := newTestScraper(t, testSource(), transport)
	products, err := s.Search(context.Background(), "phone", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(products) != 6 {
		t.Fatalf("products=%d, want 6", len(products))
	}
	if got := transport.GetTotalCallCount(); got != 3 {
		t.Fatalf("requests=%d, want 3 (stop after empty page)", got)
	}
}

func TestSearchFirstPageFailure(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterNoResponder(httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))

	s := newTestScraper(t, testSource(), transport)
	products, err := s.Search(context.Background(), "phone", 2)
	if err == nil {
		t.Fatalf("expected error, got %d products", len(products))
	}
	if products != nil {
		t.Fatalf("expected no products")
	}
}

func TestSearchLaterPageFailureKeepsResults(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterNoResponder(func(req *http.Request) (*http.Response, error) {
		if req.URL.Query().Get("page") == "1" {
			return htmlResponse(buildListingPage(1, 2)), nil
		}
		return httpmock.NewStringResponse(http.StatusNotFound, "gone"), nil
	})

	s := newTestScraper(t, testSource(), transport)
	products, err := s.Search(context.Background(), "phone", 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("products=%d, want 2", len(products))
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	s := newTestScraper(t, testSource(), httpmock.NewMockTransport())
	if _, err := s.Search(context.Background(), "   ", 1); err == nil {
		t.Fatalf("expected error for empty query")
	}
}

func TestSearchCategory(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterNoResponder(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/phones/" {
			return httpmock.NewStringResponse(http.StatusNotFound, ""), nil
		}
		if req.URL.Query().Get("page") == "" {
			return htmlResponse(buildListingPage(1, 3)), nil
		}
		return htmlResponse("<html></html>"), nil
	})

	s := newTestScraper(t, testSource(), transport)
	products, err := s.SearchCategory(context.Background(), "/phones/", 2)
	if err != nil {
		t.Fatalf("search category: %v", err)
	}
	if len(products) != 3 {
		t.Fatalf("products=%d, want 3", len(products))
	}
}

func TestGetDetails(t *testing.T) {
	page := `<html><body>
<h1>Samsung Galaxy A14 128GB</h1>
<div class="price">KSh 21,000</div>
<div class="desc">` + strings.Repeat("a", 600) + `</div>
<div class="gallery"><img src="/g/1.jpg"><img data-src="/g/2.jpg"><img src="/g/1.jpg"></div>
<table class="specs"><tr><th>Storage</th><td>128 GB</td></tr><tr><th>Colour</th><td>Black</td></tr></table>
</body></html>`

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "http://shop.test/p/a14", httpmock.ResponderFromResponse(htmlResponse(page)))

	s := newTestScraper(t, testSource(), transport)
	p, err := s.GetDetails(context.Background(), "http://shop.test/p/a14")
	if err != nil {
		t.Fatalf("get details: %v", err)
	}
	if p.Name != "Samsung Galaxy A14 128GB" || p.Price == nil || *p.Price != 21000 {
		t.Fatalf("unexpected product %+v", p)
	}
	if len([]rune(p.Description)) != 500 {
		t.Fatalf("description length=%d, want 500", len([]rune(p.Description)))
	}
	if len(p.Images) != 2 || p.ImageURL != "http://shop.test/g/1.jpg" {
		t.Fatalf("images=%v", p.Images)
	}
	if p.Specifications["Storage"] != "128 GB" || p.Specifications["Colour"] != "Black" {
		t.Fatalf("specs=%v", p.Specifications)
	}
}

func TestGetDetailsListSpecs(t *testing.T) {
	page := `<html><body><h1>Tecno Camon</h1><div class="price">KSh 19,999</div>
<ul class="features"><li>RAM: 8GB</li><li>no separator</li></ul></body></html>`

	transport := httpmock.NewMockTransport()
	transport.RegisterNoResponder(httpmock.ResponderFromResponse(htmlResponse(page)))

	s := newTestScraper(t, testSource(), transport)
	p, err := s.GetDetails(context.Background(), "http://shop.test/p/camon")
	if err != nil {
		t.Fatalf("get details: %v", err)
	}
	if len(p.Specifications) != 1 || p.Specifications["RAM"] != "8GB" {
		t.Fatalf("specs=%v", p.Specifications)
	}
}

func TestGetDetailsUnreachable(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterNoResponder(httpmock.NewStringResponder(http.StatusNotFound, ""))

	s := newTestScraper(t, testSource(), transport)
	p, err := s.GetDetails(context.Background(), "http://shop.test/p/missing")
	if !errors.Is(err, ErrNoDetails) {
		t.Fatalf("expected ErrNoDetails, got %v", err)
	}
	if p != nil {
		t.Fatalf("expected nil product")
	}
}

func TestBuildAll(t *testing.T) {
	client := newTestClient(t, httpmock.NewMockTransport())
	scrapers, err := BuildAll(config.DefaultSources(), client, nil, 3)
	if err != nil {
		t.Fatalf("build all: %v", err)
	}
	ids := make([]string, 0, len(scrapers))
	for _, s := range scrapers {
		ids = append(ids, s.ID())
	}
	if got := strings.Join(ids, ","); got != "jumia,jiji,kilimall,kenyatronics,zurimall" {
		t.Fatalf("ids=%s", got)
	}

	bad := testSource()
	bad.BaseURL = ""
	if _, err := BuildAll([]config.SourceConfig{bad}, client, nil, 3); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestBrowserSourceRequestsRender(t *testing.T) {
	src := testSource()
	src.RequiresBrowser = true
	src.WaitSelector = ".card"

	fetcher := &recordingFetcher{body: buildListingPage(1, 2)}
	s, err := New(src, fetcher, nil, 2)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	products, err := s.Search(context.Background(), "phone", 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("products=%d", len(products))
	}
	if !fetcher.opts.RequireBrowser || fetcher.opts.WaitSelector != ".card" || fetcher.opts.MaxRetries != 2 {
		t.Fatalf("unexpected fetch options %+v", fetcher.opts)
	}
}

type recordingFetcher struct {
	body  string
	opts  antibot.FetchOptions
	calls int
}

func (f *recordingFetcher) NewSession() *antibot.Session { return nil }

func (f *recordingFetcher) Fetch(_ context.Context, target string, _ *antibot.Session, opts antibot.FetchOptions) (*antibot.Response, error) {
	f.opts = opts
	f.calls++
	return &antibot.Response{URL: target, StatusCode: http.StatusOK, Body: []byte(f.body), Rendered: opts.RequireBrowser}, nil
}

func TestSourceDelayIsAddedBeforeEachFetch(t *testing.T) {
	var pauses []time.Duration
	previous := sleep
	sleep = func(_ context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return nil
	}
	t.Cleanup(func() { sleep = previous })

	src := testSource()
	src.Delay = config.Window(3*time.Second, 3*time.Second)
	src.DetailDelay = config.Window(time.Second, time.Second)

	fetcher := &recordingFetcher{body: buildListingPage(1, 2)}
	s, err := New(src, fetcher, nil, 1)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := s.Search(context.Background(), "phone", 2); err != nil {
		t.Fatalf("search: %v", err)
	}
	if fetcher.opts.Delay != nil {
		t.Fatalf("source delay must not replace the client pacing, got %+v", *fetcher.opts.Delay)
	}
	if len(pauses) != 2 || pauses[0] != 3*time.Second || pauses[1] != 3*time.Second {
		t.Fatalf("search pauses = %v, want [3s 3s]", pauses)
	}

	pauses = nil
	if _, err := s.GetDetails(context.Background(), "http://shop.test/p/phone-1"); err != nil && !errors.Is(err, ErrNoDetails) {
		t.Fatalf("details: %v", err)
	}
	if len(pauses) != 1 || pauses[0] != time.Second {
		t.Fatalf("detail pauses = %v, want [1s]", pauses)
	}
}

func TestSearchStopsWhenSourcePauseIsCancelled(t *testing.T) {
	src := testSource()
	src.Delay = config.Window(time.Hour, time.Hour)
	fetcher := &recordingFetcher{body: buildListingPage(1, 2)}
	s, err := New(src, fetcher, nil, 1)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Search(ctx, "phone", 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if fetcher.calls != 0 {
		t.Fatalf("fetch ran %d times despite cancellation", fetcher.calls)
	}
}
