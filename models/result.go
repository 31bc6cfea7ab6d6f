package models

import "time"

// SourceOutcome records how one source task finished within a run.
type SourceOutcome struct {
	Products int           `json:"products"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// RunSummary holds the overall result of one orchestration run.
type RunSummary struct {
	RunID     string                   `json:"run_id"`
	Query     string                   `json:"query"`
	StartTime time.Time                `json:"start_time"`
	EndTime   time.Time                `json:"end_time"`
	CacheHit  bool                     `json:"cache_hit,omitempty"`
	Sources   map[string]SourceOutcome `json:"sources"`
}

// TotalProducts sums the listing counts across sources.
func (r *RunSummary) TotalProducts() int {
	total := 0
	for _, o := range r.Sources {
		total += o.Products
	}
	return total
}

// FailedSources lists the ids of sources that errored or timed out.
func (r *RunSummary) FailedSources() []string {
	var out []string
	for id, o := range r.Sources {
		if o.TimedOut || o.Error != "" {
			out = append(out, id)
		}
	}
	return out
}

// SourceStatus is the availability probe result for one source.
type SourceStatus struct {
	SourceID   string        `json:"source_id"`
	Name       string        `json:"name"`
	BaseURL    string        `json:"base_url"`
	Available  bool          `json:"available"`
	StatusCode int           `json:"status_code,omitempty"`
	Latency    time.Duration `json:"latency"`
	Error      string        `json:"error,omitempty"`
}
