package main

import (
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/aluiziolira/go-price-compare/config"
	"github.com/aluiziolira/go-price-compare/models"
)

const separator = "--------------------------------------------------"

// topGroups caps how many comparison groups the summary lists.
const topGroups = 5

type runReport struct {
	summary  *models.RunSummary
	groups   []*models.MatchGroup
	pipeline map[string]interface{}
	duration time.Duration
}

func (r *runReport) print(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "Price comparison complete")

	if r.summary != nil {
		if r.summary.Query != "" {
			fmt.Fprintf(w, "  Query:         %s\n", r.summary.Query)
		}
		fmt.Fprintf(w, "  Run ID:        %s\n", r.summary.RunID)
		fmt.Fprintf(w, "  Listings:      %d\n", r.summary.TotalProducts())
		if r.summary.CacheHit {
			fmt.Fprintln(w, "  Cache:         hit")
		}

		ids := make([]string, 0, len(r.summary.Sources))
		for id := range r.summary.Sources {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			o := r.summary.Sources[id]
			state := "ok"
			switch {
			case o.TimedOut:
				state = "timed out"
			case o.Error != "":
				state = "error: " + o.Error
			}
			fmt.Fprintf(w, "    %-14s %4d  %-8s %s\n", id, o.Products, o.Duration.Round(time.Millisecond), state)
		}
	}

	if processed, ok := r.pipeline["processed_products"].(int64); ok {
		fmt.Fprintf(w, "  Written:       %d\n", processed)
	}
	if valErrors, ok := r.pipeline["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Fprintf(w, "  Validation:    %v\n", valErrors)
	}
	fmt.Fprintf(w, "  Groups:        %d\n", len(r.groups))
	for i, g := range r.groups {
		if i == topGroups {
			fmt.Fprintf(w, "    ... %d more\n", len(r.groups)-topGroups)
			break
		}
		fmt.Fprintf(w, "    %s\n", describeGroup(g))
	}
	fmt.Fprintf(w, "  Duration:      %v\n", r.duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  Output file:   %s\n", cfg.OutputFile)
	if cfg.ComparisonFile != "" {
		fmt.Fprintf(w, "  Comparison:    %s\n", cfg.ComparisonFile)
	}
	fmt.Fprintln(w, separator)
}

func describeGroup(g *models.MatchGroup) string {
	line := fmt.Sprintf("%s [%d sources, confidence %.2f]", g.Primary.Name, g.DistinctSources(), g.Confidence)
	if g.BestDeal != nil && g.BestDeal.Price != nil {
		line += fmt.Sprintf(" best %s %.0f at %s", g.BestDeal.Currency, *g.BestDeal.Price, g.BestDeal.SourceID)
	}
	if g.Savings.Amount > 0 {
		line += fmt.Sprintf(", save %.0f (%.1f%%)", g.Savings.Amount, g.Savings.Percent)
	}
	return line
}

func printStatus(w io.Writer, statuses []models.SourceStatus) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tAVAILABLE\tSTATUS\tLATENCY\tERROR")
	for _, s := range statuses {
		code := "-"
		if s.StatusCode > 0 {
			code = fmt.Sprint(s.StatusCode)
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\n", s.SourceID, s.Available, code, s.Latency.Round(time.Millisecond), s.Error)
	}
	tw.Flush()
}
