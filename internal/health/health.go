// Package health scores source reliability from historical fetch events and
// decides the per-run fetch policy: skip consistently broken sources, cap
// retries on flaky ones, and alert on stale ones.
package health

import (
	"math"
	"time"

	"github.com/benediktbwimmer/job-search/internal/model"
)

// lowSuccessRate is the threshold below which a source's retry budget is
// capped at one retry for the run.
const lowSuccessRate = 0.35

// Config controls health scoring and the fetch policy derived from it.
type Config struct {
	Enabled           bool
	WindowRuns        int
	StaleAfter        time.Duration
	DegradedThreshold int
	MinEventsForSkip  int
}

// Compute derives a source's health from its aggregated fetch events.
// The score blends success rate (70 points), freshness (20 points), and
// event volume net of failures (10 points), clamped to [0, 100].
func Compute(stats model.SourceEventStats, staleAfter time.Duration, now time.Time) model.SourceHealth {
	rate := 0.0
	if stats.TotalEvents > 0 {
		rate = float64(stats.SuccessEvents) / float64(stats.TotalEvents)
	}

	stale := !stats.HasSuccess || now.Sub(stats.LastSuccess) > staleAfter

	freshness := 20.0
	if stale {
		freshness = 0
	}
	volume := float64(stats.TotalEvents - stats.FailedEvents)
	if volume < 0 {
		volume = 0
	}
	if volume > 10 {
		volume = 10
	}

	score := int(math.Round(rate*70 + freshness + volume))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return model.SourceHealth{
		SourceName:   stats.SourceName,
		SuccessRate:  rate,
		Stale:        stale,
		TotalEvents:  stats.TotalEvents,
		FailedEvents: stats.FailedEvents,
		HealthScore:  score,
	}
}

// Decision is the per-source fetch policy for one run.
type Decision struct {
	// Skip excludes the source from fetching entirely.
	Skip bool
	// MaxRetries is the effective retry budget after health tuning.
	MaxRetries int
	// StaleAlert flags the source for an alert; staleness never blocks.
	StaleAlert bool
}

// Decide applies the fetch policy for one source given its health and the
// configured retry budget. Sources with enough history and a degraded score
// are skipped; flaky sources get their retries capped so one feed does not
// dominate run time.
func (c Config) Decide(h model.SourceHealth, maxRetries int) Decision {
	d := Decision{MaxRetries: maxRetries, StaleAlert: h.Stale}

	if h.TotalEvents >= c.MinEventsForSkip && h.HealthScore <= c.DegradedThreshold {
		d.Skip = true
		return d
	}

	if h.SuccessRate < lowSuccessRate && d.MaxRetries > 1 {
		d.MaxRetries = 1
	}
	return d
}
