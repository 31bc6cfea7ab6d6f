package main

import (
	"flag"
	"fmt"
	"strings"

	"github.com/aluiziolira/go-price-compare/config"
)

type cliFlags struct {
	configPath *string
	mode       *string
	query      *string
	sources    *string
	categories *string
	source     *string
	url        *string

	pages       *int
	workers     *int
	threshold   *float64
	maxRetries  *int
	output      *string
	format      *string
	comparison  *string
	cacheType   *string
	metricsAddr *string
	noBrowser   *bool
	verbose     *bool
}

func registerFlags(fs *flag.FlagSet) *cliFlags {
	return &cliFlags{
		configPath: fs.String("config", "", "Path to a YAML config file (default: ./pricecompare.yaml if present)"),
		mode:       fs.String("mode", "search", "Run mode: search, categories, status or details"),
		query:      fs.String("query", "", "Search query (search mode)"),
		sources:    fs.String("sources", "", "Comma-separated source ids to search one after another; empty searches all concurrently"),
		categories: fs.String("categories", "", "Comma-separated source=path pairs (categories mode)"),
		source:     fs.String("source", "", "Source id (details mode)"),
		url:        fs.String("url", "", "Product page URL (details mode)"),

		pages:       fs.Int("pages", 0, "Maximum result pages per source"),
		workers:     fs.Int("workers", 0, "Maximum sources searched concurrently"),
		threshold:   fs.Float64("threshold", 0, "Similarity threshold for grouping listings (0-1)"),
		maxRetries:  fs.Int("max-retries", 0, "Maximum attempts per page"),
		output:      fs.String("output", "", "Listing output file path"),
		format:      fs.String("format", "", "Listing output format: csv, json, dual or split (one JSONL file per source)"),
		comparison:  fs.String("comparison", "", "Comparison groups output file (JSON)"),
		cacheType:   fs.String("cache", "", "Search result cache: none, memory or redis"),
		metricsAddr: fs.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)"),
		noBrowser:   fs.Bool("no-browser", false, "Disable the headless browser fallback"),
		verbose:     fs.Bool("v", false, "Enable verbose logging"),
	}
}

// apply copies explicitly set flags over the loaded configuration.
func (f *cliFlags) apply(cfg *config.Config, set map[string]bool) {
	if set["pages"] {
		cfg.MaxPages = *f.pages
	}
	if set["workers"] {
		cfg.MaxWorkers = *f.workers
	}
	if set["threshold"] {
		cfg.SimilarityThreshold = *f.threshold
	}
	if set["max-retries"] {
		cfg.MaxRetries = *f.maxRetries
	}
	if set["output"] {
		cfg.OutputFile = *f.output
	}
	if set["format"] {
		cfg.OutputFormat = strings.ToLower(*f.format)
	}
	if set["comparison"] {
		cfg.ComparisonFile = *f.comparison
	}
	if set["cache"] {
		cfg.Cache.Type = strings.ToLower(*f.cacheType)
	}
	if set["metrics-addr"] {
		cfg.MetricsAddr = *f.metricsAddr
	}
	if set["no-browser"] && *f.noBrowser {
		cfg.Browser.Enabled = false
	}
	if set["v"] {
		cfg.Verbose = *f.verbose
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseCategories reads "jumia=/phones,jiji=/mobile-phones".
func parseCategories(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range splitList(raw) {
		id, path, ok := strings.Cut(pair, "=")
		id, path = strings.TrimSpace(id), strings.TrimSpace(path)
		if !ok || id == "" || path == "" {
			return nil, fmt.Errorf("invalid category %q: want source=path", pair)
		}
		out[id] = path
	}
	return out, nil
}
