package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/benediktbwimmer/job-search/internal/model"
	"github.com/benediktbwimmer/job-search/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Run metrics (within the lookback window).
	RunsTotal   int     `json:"runs_total"`
	RunsSuccess int     `json:"runs_success"`
	RunsFailed  int     `json:"runs_failed"`
	RunsRunning int     `json:"runs_running"`
	FailRate    float64 `json:"fail_rate"`

	// Aggregates across those runs.
	TotalJobs    int `json:"total_jobs"`
	CacheHits    int `json:"cache_hits"`
	ScoredLive   int `json:"scored_live"`
	LLMFailed    int `json:"llm_failed"`
	SourceErrors int `json:"source_errors"`

	// Metadata.
	LookbackRuns int       `json:"lookback_runs"`
	CollectedAt  time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot over the most recent lookbackRuns runs.
func (c *Collector) Collect(ctx context.Context, lookbackRuns int) (*MetricsSnapshot, error) {
	if lookbackRuns < 1 {
		lookbackRuns = 1
	}
	snap := &MetricsSnapshot{
		LookbackRuns: lookbackRuns,
		CollectedAt:  time.Now().UTC(),
	}

	runs, err := c.store.ListRuns(ctx, store.RunFilter{Limit: lookbackRuns})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusSuccess:
			snap.RunsSuccess++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
		snap.TotalJobs += r.TotalJobs
		snap.CacheHits += r.LLMCacheHits
		snap.ScoredLive += r.LLMScoredLive
		snap.LLMFailed += r.LLMFailed
		snap.SourceErrors += r.SourceErrors
	}

	finished := snap.RunsSuccess + snap.RunsFailed
	if finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}

	return snap, nil
}
