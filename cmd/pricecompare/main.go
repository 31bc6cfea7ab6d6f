package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-price-compare/antibot"
	"github.com/aluiziolira/go-price-compare/cache"
	"github.com/aluiziolira/go-price-compare/config"
	"github.com/aluiziolira/go-price-compare/matching"
	"github.com/aluiziolira/go-price-compare/metrics"
	"github.com/aluiziolira/go-price-compare/models"
	"github.com/aluiziolira/go-price-compare/orchestrator"
	"github.com/aluiziolira/go-price-compare/pipeline"
	"github.com/aluiziolira/go-price-compare/scraper"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	flags := registerFlags(flag.CommandLine)
	flag.Parse()

	cfg, err := config.Load(*flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	flags.apply(cfg, set)

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, cancelling in-flight work")
	}()

	if err := run(ctx, cfg, flags); err != nil {
		slog.Error("run failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, flags *cliFlags) error {
	m := metrics.New()
	metricsServer := startMetricsServer(cfg.MetricsAddr, m)
	defer stopMetricsServer(metricsServer)

	client, err := antibot.NewClient(antibot.OptionsFromConfig(cfg, m))
	if err != nil {
		return fmt.Errorf("initialise client: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			slog.Warn("close client", slog.Any("error", err))
		}
	}()

	scrapers, err := scraper.BuildAll(cfg.Sources, client, m, cfg.MaxRetries)
	if err != nil {
		return fmt.Errorf("build scrapers: %w", err)
	}

	resultCache, err := cache.New[orchestrator.Results](ctx, cfg.Cache)
	if err != nil {
		return fmt.Errorf("initialise cache: %w", err)
	}
	defer resultCache.Close()

	opts := orchestrator.OptionsFromConfig(cfg)
	opts.Cache = resultCache
	opts.Prober = client
	opts.Metrics = m
	orch, err := orchestrator.New(scrapers, opts)
	if err != nil {
		return fmt.Errorf("initialise orchestrator: %w", err)
	}

	switch *flags.mode {
	case "search":
		return runSearch(ctx, cfg, orch, m, *flags.query, splitList(*flags.sources))
	case "categories":
		categories, err := parseCategories(*flags.categories)
		if err != nil {
			return err
		}
		return runCategories(ctx, cfg, orch, m, categories)
	case "status":
		return runStatus(ctx, orch)
	case "details":
		return runDetails(ctx, orch, *flags.source, *flags.url)
	default:
		return fmt.Errorf("unsupported mode %q", *flags.mode)
	}
}

func runSearch(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator, m *metrics.Metrics, query string, ids []string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return errors.New("search mode requires -query")
	}

	slog.Info("starting search",
		slog.String("query", query),
		slog.Int("pages", cfg.MaxPages),
		slog.Int("workers", cfg.MaxWorkers),
		slog.Any("sources", ids),
	)

	start := time.Now()
	var (
		results orchestrator.Results
		summary *models.RunSummary
	)
	if len(ids) > 0 {
		results, summary = orch.SearchSpecific(ctx, query, ids, cfg.MaxPages)
	} else {
		results, summary = orch.SearchAll(ctx, query, cfg.MaxPages, cfg.MaxWorkers)
	}
	return report(ctx, cfg, m, query, results, &runReport{summary: summary}, start)
}

func runCategories(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator, m *metrics.Metrics, categories map[string]string) error {
	if len(categories) == 0 {
		return errors.New("categories mode requires -categories source=path[,source=path]")
	}
	start := time.Now()
	results, summary := orch.ScrapeCategories(ctx, categories, cfg.MaxPages)
	return report(ctx, cfg, m, "", results, &runReport{summary: summary}, start)
}

// report streams the aggregated listings to the output writer, writes the comparison
// groups and prints the run summary.
func report(ctx context.Context, cfg *config.Config, m *metrics.Metrics, query string, results orchestrator.Results, rep *runReport, start time.Time) error {
	products := orchestrator.Aggregate(results)

	writer, err := createWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		return fmt.Errorf("create writer: %w", err)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	p := pipeline.NewPipeline(ctx, writer, cfg)
	p.Start(1)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}
	if err := p.Process(products...); err != nil {
		_ = p.Close()
		return fmt.Errorf("process products: %w", err)
	}
	if err := p.Close(); err != nil {
		return fmt.Errorf("pipeline shutdown: %w", err)
	}
	rep.pipeline = p.GetMetrics()
	if processed, _ := rep.pipeline["processed_products"].(int64); processed > 0 {
		if err := writer.Validate(); err != nil {
			return fmt.Errorf("output validation: %w", err)
		}
	}

	rep.groups = matching.NewComparisonBuilder(m).BuildComparison(results, cfg.SimilarityThreshold)
	if cfg.ComparisonFile != "" {
		if err := pipeline.WriteComparison(cfg.ComparisonFile, query, rep.groups); err != nil {
			return err
		}
	}

	rep.duration = time.Since(start)
	rep.print(os.Stdout, cfg)
	return nil
}

func runStatus(ctx context.Context, orch *orchestrator.Orchestrator) error {
	statuses, err := orch.Status(ctx)
	if err != nil {
		return err
	}
	printStatus(os.Stdout, statuses)
	return nil
}

func runDetails(ctx context.Context, orch *orchestrator.Orchestrator, sourceID, productURL string) error {
	if sourceID == "" || productURL == "" {
		return errors.New("details mode requires -source and -url")
	}
	product, err := orch.GetDetails(ctx, sourceID, productURL)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(product)
}

func startMetricsServer(addr string, m *metrics.Metrics) *http.Server {
	if addr == "" || m == nil {
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return srv
}

func stopMetricsServer(srv *http.Server) {
	if srv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("metrics server shutdown failed", slog.Any("error", err))
	}
}

func createWriter(format, filename string) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".jsonl"
		return pipeline.NewDualWriter(filename, jsonFilename)
	case "split":
		return pipeline.NewSourceSplitWriter(strings.TrimSuffix(filename, filepath.Ext(filename)))
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
