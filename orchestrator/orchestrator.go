// Package orchestrator runs the source scrapers for a query with bounded concurrency,
// per-source deadlines and failure isolation.
package orchestrator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-price-compare/antibot"
	"github.com/aluiziolira/go-price-compare/cache"
	"github.com/aluiziolira/go-price-compare/config"
	"github.com/aluiziolira/go-price-compare/metrics"
	"github.com/aluiziolira/go-price-compare/models"
	"github.com/aluiziolira/go-price-compare/scraper"
)

var (
	// ErrNoSources is returned when an orchestrator is built without scrapers.
	ErrNoSources = errors.New("orchestrator: no sources registered")
	// ErrUnknownSource is returned for a source id that is not registered.
	ErrUnknownSource = errors.New("orchestrator: unknown source")
)

// Results maps a source id to the listings it produced. Every requested source has a key;
// an empty list means no results or failure.
type Results map[string][]*models.ScrapedProduct

// Clone deep-copies every listing so cached runs are never shared between callers.
func (r Results) Clone() Results {
	if r == nil {
		return nil
	}
	out := make(Results, len(r))
	for id, products := range r {
		copied := make([]*models.ScrapedProduct, len(products))
		for i, p := range products {
			copied[i] = p.Clone()
		}
		out[id] = copied
	}
	return out
}

// Prober issues a single availability request.
type Prober interface {
	Probe(ctx context.Context, target string) (*antibot.Response, error)
}

// Options configure an Orchestrator.
type Options struct {
	MaxWorkers       int
	TaskTimeout      time.Duration
	StartJitter      config.DelayWindow
	InterSourceDelay config.DelayWindow
	CategoryDelay    config.DelayWindow
	StatusTimeout    time.Duration

	Cache   cache.Store[Results]
	Prober  Prober
	Metrics *metrics.Metrics
}

// OptionsFromConfig maps the loaded configuration onto orchestrator options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxWorkers:       cfg.MaxWorkers,
		TaskTimeout:      cfg.TaskTimeout,
		StartJitter:      cfg.StartJitter,
		InterSourceDelay: cfg.InterSourceDelay,
		CategoryDelay:    cfg.CategoryDelay,
		StatusTimeout:    cfg.StatusTimeout,
	}
}

// Orchestrator owns the registered scrapers. It holds no per-run mutable state and is safe for concurrent use.
type Orchestrator struct {
	scrapers map[string]scraper.Scraper
	order    []string
	opts     Options
}

// New registers scrapers in the given order. It fails when none are given or ids collide.
func New(scrapers []scraper.Scraper, opts Options) (*Orchestrator, error) {
	if len(scrapers) == 0 {
		return nil, ErrNoSources
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 3
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 60 * time.Second
	}
	if opts.StatusTimeout <= 0 {
		opts.StatusTimeout = 10 * time.Second
	}
	if opts.Cache == nil {
		opts.Cache = cache.Noop[Results]{}
	}

	o := &Orchestrator{
		scrapers: make(map[string]scraper.Scraper, len(scrapers)),
		opts:     opts,
	}
	for _, s := range scrapers {
		if s == nil {
			return nil, fmt.Errorf("orchestrator: nil scraper")
		}
		id := s.ID()
		if _, dup := o.scrapers[id]; dup {
			return nil, fmt.Errorf("orchestrator: duplicate source %q", id)
		}
		o.scrapers[id] = s
		o.order = append(o.order, id)
	}
	return o, nil
}

// Sources returns the registered source ids in registration order.
func (o *Orchestrator) Sources() []string {
	return slices.Clone(o.order)
}

// SearchAll searches every registered source concurrently, at most maxWorkers at a time
// (the configured default when maxWorkers <= 0). Each task sleeps a random start jitter and
// runs under its own deadline; a task that fails, panics or overruns is recorded as an
// empty list without affecting its siblings.
func (o *Orchestrator) SearchAll(ctx context.Context, query string, maxPages, maxWorkers int) (Results, *models.RunSummary) {
	if maxWorkers <= 0 {
		maxWorkers = o.opts.MaxWorkers
	}
	run := o.newRun(query)
	key := cache.Key("all", query, strings.Join(o.order, ","), strconv.Itoa(maxPages))
	if results, ok := o.lookup(ctx, run, key); ok {
		return results, run.finish()
	}

	var (
		mu      sync.Mutex
		results = make(Results, len(o.order))
		g       errgroup.Group
	)
	g.SetLimit(maxWorkers)
	for _, id := range o.order {
		s := o.scrapers[id]
		g.Go(func() error {
			products, outcome := o.runTask(ctx, run.log, id, func(ctx context.Context) ([]*models.ScrapedProduct, error) {
				if err := antibot.Sleep(ctx, o.opts.StartJitter.Pick()); err != nil {
					return nil, err
				}
				return s.Search(ctx, query, maxPages)
			})
			mu.Lock()
			results[id] = products
			run.summary.Sources[id] = outcome
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	o.store(ctx, run, key, results)
	return results, run.finish()
}

// SearchSpecific searches the named sources one after another with an inter-source delay.
// Unknown ids are logged and mapped to an empty list.
func (o *Orchestrator) SearchSpecific(ctx context.Context, query string, sourceIDs []string, maxPages int) (Results, *models.RunSummary) {
	run := o.newRun(query)
	key := cache.Key("specific", query, strings.Join(sourceIDs, ","), strconv.Itoa(maxPages))
	if results, ok := o.lookup(ctx, run, key); ok {
		return results, run.finish()
	}

	results := o.sequential(ctx, run, sourceIDs, o.opts.InterSourceDelay, func(ctx context.Context, s scraper.Scraper) ([]*models.ScrapedProduct, error) {
		return s.Search(ctx, query, maxPages)
	})
	o.store(ctx, run, key, results)
	return results, run.finish()
}

// ScrapeCategories walks one category path per source sequentially, with the category delay between sources.
func (o *Orchestrator) ScrapeCategories(ctx context.Context, categories map[string]string, maxPages int) (Results, *models.RunSummary) {
	ids := make([]string, 0, len(categories))
	for id := range categories {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	run := o.newRun("categories")
	results := o.sequential(ctx, run, ids, o.opts.CategoryDelay, func(ctx context.Context, s scraper.Scraper) ([]*models.ScrapedProduct, error) {
		return s.SearchCategory(ctx, categories[s.ID()], maxPages)
	})
	return results, run.finish()
}

func (o *Orchestrator) sequential(ctx context.Context, r *run, ids []string, gap config.DelayWindow,
	work func(context.Context, scraper.Scraper) ([]*models.ScrapedProduct, error)) Results {
	results := make(Results, len(ids))
	for _, id := range ids {
		results[id] = []*models.ScrapedProduct{}
	}

	ran := 0
	for _, id := range ids {
		s, ok := o.scrapers[id]
		if !ok {
			r.log.Warn("unknown source requested", slog.String("source", id))
			r.summary.Sources[id] = models.SourceOutcome{Error: ErrUnknownSource.Error()}
			continue
		}
		if ran > 0 {
			if err := antibot.Sleep(ctx, gap.Pick()); err != nil {
				r.summary.Sources[id] = models.SourceOutcome{Error: err.Error()}
				continue
			}
		}
		ran++
		products, outcome := o.runTask(ctx, r.log, id, func(ctx context.Context) ([]*models.ScrapedProduct, error) {
			return work(ctx, s)
		})
		results[id] = products
		r.summary.Sources[id] = outcome
	}
	return results
}

type taskResult struct {
	products []*models.ScrapedProduct
	err      error
}

// runTask executes work under the per-task deadline. The worker goroutine reports on a buffered
// channel so an overrunning task can be abandoned without blocking anyone.
func (o *Orchestrator) runTask(ctx context.Context, log *slog.Logger, id string,
	work func(context.Context) ([]*models.ScrapedProduct, error)) ([]*models.ScrapedProduct, models.SourceOutcome) {
	start := time.Now()
	taskCtx, cancel := context.WithTimeout(ctx, o.opts.TaskTimeout)
	defer cancel()

	done := make(chan taskResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- taskResult{err: fmt.Errorf("source %s panicked: %v", id, r)}
			}
		}()
		products, err := work(taskCtx)
		done <- taskResult{products: products, err: err}
	}()

	var res taskResult
	select {
	case res = <-done:
	case <-taskCtx.Done():
		res.err = taskCtx.Err()
	}

	outcome := models.SourceOutcome{Duration: time.Since(start)}
	label := "ok"
	switch {
	case res.err != nil && errors.Is(res.err, context.DeadlineExceeded) && taskCtx.Err() != nil:
		outcome.TimedOut = true
		outcome.Error = fmt.Sprintf("timed out after %s", o.opts.TaskTimeout)
		label = "timeout"
	case res.err != nil:
		outcome.Error = res.err.Error()
		label = "error"
	case len(res.products) == 0:
		label = "empty"
	}

	products := res.products
	if res.err != nil || products == nil {
		products = []*models.ScrapedProduct{}
	}
	outcome.Products = len(products)
	o.opts.Metrics.ObserveTask(id, label, outcome.Duration)

	if res.err != nil {
		log.Error("source task failed",
			slog.String("source", id),
			slog.Bool("timed_out", outcome.TimedOut),
			slog.Duration("elapsed", outcome.Duration),
			slog.Any("error", res.err),
		)
	} else {
		log.Info("source task finished",
			slog.String("source", id),
			slog.Int("products", outcome.Products),
			slog.Duration("elapsed", outcome.Duration),
		)
	}
	return products, outcome
}

// GetDetails fetches one product page through the named source.
func (o *Orchestrator) GetDetails(ctx context.Context, sourceID, productURL string) (*models.ScrapedProduct, error) {
	s, ok := o.scrapers[sourceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, sourceID)
	}
	ctx, cancel := context.WithTimeout(ctx, o.opts.TaskTimeout)
	defer cancel()
	return s.GetDetails(ctx, productURL)
}

// Status probes each source's base URL once, concurrently.
func (o *Orchestrator) Status(ctx context.Context) ([]models.SourceStatus, error) {
	if o.opts.Prober == nil {
		return nil, errors.New("orchestrator: no prober configured")
	}
	statuses := make([]models.SourceStatus, len(o.order))
	var g errgroup.Group
	g.SetLimit(o.opts.MaxWorkers)
	for i, id := range o.order {
		src := o.scrapers[id].Source()
		g.Go(func() error {
			st := models.SourceStatus{SourceID: id, Name: src.Name, BaseURL: src.BaseURL}
			probeCtx, cancel := context.WithTimeout(ctx, o.opts.StatusTimeout)
			defer cancel()

			start := time.Now()
			resp, err := o.opts.Prober.Probe(probeCtx, src.BaseURL)
			st.Latency = time.Since(start)
			if err != nil {
				st.Error = err.Error()
			} else {
				st.StatusCode = resp.StatusCode
				st.Available = resp.OK()
			}
			statuses[i] = st
			return nil
		})
	}
	_ = g.Wait()
	return statuses, nil
}

// Aggregate flattens results into one list tagged with each item's source, sorted by ascending
// price with unpriced items last. Input products are not modified.
func Aggregate(results Results) []*models.ScrapedProduct {
	ids := make([]string, 0, len(results))
	total := 0
	for id, products := range results {
		ids = append(ids, id)
		total += len(products)
	}
	sort.Strings(ids)

	out := make([]*models.ScrapedProduct, 0, total)
	for _, id := range ids {
		for _, p := range results[id] {
			if p == nil {
				continue
			}
			tagged := *p
			tagged.SourceID = id
			out = append(out, &tagged)
		}
	}
	slices.SortStableFunc(out, func(a, b *models.ScrapedProduct) int {
		switch {
		case a.Price == nil && b.Price == nil:
			return 0
		case a.Price == nil:
			return 1
		case b.Price == nil:
			return -1
		}
		return cmp.Compare(*a.Price, *b.Price)
	})
	return out
}

type run struct {
	log     *slog.Logger
	summary *models.RunSummary
}

func (o *Orchestrator) newRun(query string) *run {
	id := uuid.NewString()
	return &run{
		log: slog.With(slog.String("run_id", id), slog.String("query", query)),
		summary: &models.RunSummary{
			RunID:     id,
			Query:     query,
			StartTime: time.Now(),
			Sources:   make(map[string]models.SourceOutcome),
		},
	}
}

func (r *run) finish() *models.RunSummary {
	r.summary.EndTime = time.Now()
	r.log.Info("run finished",
		slog.Int("products", r.summary.TotalProducts()),
		slog.Any("failed_sources", r.summary.FailedSources()),
		slog.Bool("cache_hit", r.summary.CacheHit),
		slog.Duration("elapsed", r.summary.EndTime.Sub(r.summary.StartTime)),
	)
	return r.summary
}

func (o *Orchestrator) lookup(ctx context.Context, r *run, key string) (Results, bool) {
	results, ok, err := o.opts.Cache.Get(ctx, key)
	if err != nil {
		r.log.Warn("cache lookup failed", slog.Any("error", err))
		o.opts.Metrics.IncCache("error")
		return nil, false
	}
	if !ok {
		o.opts.Metrics.IncCache("miss")
		return nil, false
	}
	o.opts.Metrics.IncCache("hit")
	r.summary.CacheHit = true
	for id, products := range results {
		r.summary.Sources[id] = models.SourceOutcome{Products: len(products)}
	}
	return results, true
}

// store caches only runs that produced at least one product.
func (o *Orchestrator) store(ctx context.Context, r *run, key string, results Results) {
	if r.summary.TotalProducts() == 0 {
		return
	}
	if err := o.opts.Cache.Set(ctx, key, results); err != nil {
		r.log.Warn("cache store failed", slog.Any("error", err))
	}
}
