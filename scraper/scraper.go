// Package scraper turns a source's search and product pages into ScrapedProduct records
// using ordered selector-fallback chains.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-price-compare/antibot"
	"github.com/aluiziolira/go-price-compare/config"
	"github.com/aluiziolira/go-price-compare/metrics"
	"github.com/aluiziolira/go-price-compare/models"
)

// ErrNoDetails is returned by GetDetails when the page could not be fetched or held no product.
var ErrNoDetails = errors.New("scraper: no product details")

// sleep waits out the per-source pause; replaced in tests.
var sleep = antibot.Sleep

// Scraper is the capability set every source variant provides.
type Scraper interface {
	ID() string
	Source() config.SourceConfig
	Search(ctx context.Context, query string, maxPages int) ([]*models.ScrapedProduct, error)
	SearchCategory(ctx context.Context, path string, maxPages int) ([]*models.ScrapedProduct, error)
	GetDetails(ctx context.Context, productURL string) (*models.ScrapedProduct, error)
}

// Fetcher is the part of antibot.Client a scraper depends on.
type Fetcher interface {
	NewSession() *antibot.Session
	Fetch(ctx context.Context, target string, sess *antibot.Session, opts antibot.FetchOptions) (*antibot.Response, error)
}

// SelectorScraper is a Scraper driven entirely by a SourceConfig.
type SelectorScraper struct {
	src        config.SourceConfig
	base       *url.URL
	fetcher    Fetcher
	metrics    *metrics.Metrics
	maxRetries int

	listing listingChains
	detail  detailChains
}

// New builds the scraper variant for src.
func New(src config.SourceConfig, fetcher Fetcher, m *metrics.Metrics, maxRetries int) (*SelectorScraper, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if fetcher == nil {
		return nil, fmt.Errorf("source %s: fetcher is required", src.ID)
	}
	base, err := url.Parse(src.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("source %s: parse base url: %w", src.ID, err)
	}
	return &SelectorScraper{
		src:        src,
		base:       base,
		fetcher:    fetcher,
		metrics:    m,
		maxRetries: maxRetries,
		listing:    newListingChains(src.Listing),
		detail:     newDetailChains(src.Detail),
	}, nil
}

// BuildAll creates one scraper per configured source, in configuration order.
func BuildAll(sources []config.SourceConfig, fetcher Fetcher, m *metrics.Metrics, maxRetries int) ([]Scraper, error) {
	out := make([]Scraper, 0, len(sources))
	for _, src := range sources {
		s, err := New(src, fetcher, m, maxRetries)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (s *SelectorScraper) ID() string { return s.src.ID }

func (s *SelectorScraper) Source() config.SourceConfig { return s.src }

// Search walks up to maxPages result pages for query. Pagination stops at the first page
// that yields no products or cannot be fetched. Only a failure on the first page is an error.
func (s *SelectorScraper) Search(ctx context.Context, query string, maxPages int) ([]*models.ScrapedProduct, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("source %s: empty query", s.src.ID)
	}
	return s.crawl(ctx, maxPages, func(page int) string { return s.SearchURL(query, page) })
}

// SearchCategory walks a category listing such as "/phones-tablets/".
func (s *SelectorScraper) SearchCategory(ctx context.Context, path string, maxPages int) ([]*models.ScrapedProduct, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("source %s: empty category path", s.src.ID)
	}
	return s.crawl(ctx, maxPages, func(page int) string { return s.CategoryURL(path, page) })
}

// GetDetails fetches a single product page. Any failure yields ErrNoDetails.
func (s *SelectorScraper) GetDetails(ctx context.Context, productURL string) (*models.ScrapedProduct, error) {
	if err := sleep(ctx, s.src.DetailDelay.Pick()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDetails, err)
	}
	resp, err := s.fetcher.Fetch(ctx, productURL, s.fetcher.NewSession(), s.fetchOptions())
	if err != nil {
		slog.Warn("detail fetch failed",
			slog.String("source", s.src.ID),
			slog.String("url", productURL),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("%w: %v", ErrNoDetails, err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%w: status %d for %s", ErrNoDetails, resp.StatusCode, productURL)
	}
	p, err := s.ParseDetails(resp.Body, productURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDetails, err)
	}
	return p, nil
}

// SearchURL builds the result-page URL for query.
func (s *SelectorScraper) SearchURL(query string, page int) string {
	sc := s.src.Search
	u := s.base.ResolveReference(&url.URL{Path: sc.Path})
	q := url.Values{}
	for k, v := range sc.Params {
		q.Set(k, v)
	}
	q.Set(sc.QueryParam, query)
	if page > 1 || !sc.OmitFirstPage {
		q.Set(sc.PageParam, strconv.Itoa(page))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// CategoryURL resolves a category path against the base URL; pages after the first carry the page parameter.
func (s *SelectorScraper) CategoryURL(path string, page int) string {
	ref, err := url.Parse(path)
	if err != nil {
		ref = &url.URL{Path: path}
	}
	u := s.base.ResolveReference(ref)
	if page > 1 {
		q := u.Query()
		q.Set(s.src.Search.CategoryPageParam, strconv.Itoa(page))
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (s *SelectorScraper) crawl(ctx context.Context, maxPages int, pageURL func(page int) string) ([]*models.ScrapedProduct, error) {
	if maxPages <= 0 {
		maxPages = 1
	}
	sess := s.fetcher.NewSession()
	opts := s.fetchOptions()

	var products []*models.ScrapedProduct
	for page := 1; page <= maxPages; page++ {
		target := pageURL(page)
		start := time.Now()

		// The source pause comes on top of the client's own request pacing.
		if err := sleep(ctx, s.src.Delay.Pick()); err != nil {
			return products, err
		}
		resp, err := s.fetcher.Fetch(ctx, target, sess, opts)
		if err == nil && !resp.OK() {
			err = fmt.Errorf("status %d", resp.StatusCode)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return products, ctxErr
			}
			if page == 1 {
				return nil, fmt.Errorf("source %s: fetch %s: %w", s.src.ID, target, err)
			}
			slog.Warn("stopping pagination after fetch failure",
				slog.String("source", s.src.ID),
				slog.Int("page", page),
				slog.Any("error", err),
			)
			break
		}

		found, err := s.ParseListing(resp.Body, target)
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("source %s: parse %s: %w", s.src.ID, target, err)
			}
			slog.Warn("stopping pagination after parse failure", slog.String("source", s.src.ID), slog.Any("error", err))
			break
		}
		s.metrics.AddItems(s.src.ID, len(found))
		slog.Info("page scraped",
			slog.String("source", s.src.ID),
			slog.Int("page", page),
			slog.Int("products", len(found)),
			slog.Bool("rendered", resp.Rendered),
			slog.Duration("elapsed", time.Since(start)),
		)
		if len(found) == 0 {
			break
		}
		products = append(products, found...)
	}
	return products, nil
}

func (s *SelectorScraper) fetchOptions() antibot.FetchOptions {
	return antibot.FetchOptions{
		MaxRetries:     s.maxRetries,
		WaitSelector:   s.src.WaitSelector,
		RequireBrowser: s.src.RequiresBrowser,
	}
}
