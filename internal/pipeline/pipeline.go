// Package pipeline orchestrates one ingestion run: fetch sources with
// health-tuned retries, dedupe and enrich postings, evaluate them through
// the cache-backed scheduler, rank the results, and persist the whole run
// atomically.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/benediktbwimmer/job-search/internal/config"
	"github.com/benediktbwimmer/job-search/internal/eval"
	"github.com/benediktbwimmer/job-search/internal/health"
	"github.com/benediktbwimmer/job-search/internal/model"
	"github.com/benediktbwimmer/job-search/internal/monitoring"
	"github.com/benediktbwimmer/job-search/internal/ranking"
	"github.com/benediktbwimmer/job-search/internal/resilience"
	"github.com/benediktbwimmer/job-search/internal/source"
	"github.com/benediktbwimmer/job-search/internal/store"
)

const (
	maxEvalErrorLen = 220
	maxRunErrorLen  = 400
)

// Fetcher fetches postings for one configured source.
type Fetcher interface {
	Fetch(ctx context.Context, src source.Config) ([]model.Posting, error)
}

// Enricher upgrades thin listing postings with detail-page metadata.
type Enricher interface {
	Enrich(ctx context.Context, postings []model.Posting)
}

// Pipeline coordinates a full run.
type Pipeline struct {
	cfg       *config.Config
	store     store.Store
	fetcher   Fetcher
	enricher  Enricher
	evaluator eval.Evaluator
	alerter   *monitoring.Alerter
}

// New creates a Pipeline. evaluator may be nil, in which case every posting
// is scored by rules; enricher and alerter may also be nil.
func New(cfg *config.Config, st store.Store, fetcher Fetcher, enricher Enricher, evaluator eval.Evaluator, alerter *monitoring.Alerter) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		fetcher:   fetcher,
		enricher:  enricher,
		evaluator: evaluator,
		alerter:   alerter,
	}
}

// Run executes one full pipeline run over the given sources and persists
// its snapshot. A failed run is still recorded before the error is returned.
func (p *Pipeline) Run(ctx context.Context, sources []source.Config) (*model.RunSummary, error) {
	runID := uuid.New().String()
	startedAt := time.Now().UTC()
	log := zap.L().With(zap.String("run_id", runID))
	log.Info("pipeline: starting run", zap.Int("sources", len(sources)))

	summary, ranked, events, runErr := p.execute(ctx, runID, log, sources)

	endedAt := time.Now().UTC()
	summary.RunID = runID
	summary.StartedAt = startedAt.Format(time.RFC3339)
	summary.EndedAt = endedAt.Format(time.RFC3339)
	if runErr != nil {
		summary.Status = model.RunStatusFailed
		summary.ErrorMessage = truncate(runErr.Error(), maxRunErrorLen)
	} else {
		summary.Status = model.RunStatusSuccess
	}

	run := runRecord(summary, startedAt, endedAt)
	postings := make([]model.Posting, 0, len(ranked))
	for _, r := range ranked {
		postings = append(postings, r.Posting)
	}

	// Finalization must survive an interrupt: the snapshot write and the
	// failure alert run on a context that ignores cancellation.
	finalCtx := context.WithoutCancel(ctx)
	if err := p.store.ReplaceRunSnapshot(finalCtx, run, postings, ranked, events); err != nil {
		if runErr != nil {
			// The run already failed; persisting its record is best effort.
			log.Error("pipeline: failed to persist failed run", zap.Error(err))
			p.alertRunFailure(finalCtx, runID, runErr)
			return summary, runErr
		}
		return summary, eris.Wrap(err, "pipeline: persist run snapshot")
	}

	if runErr != nil {
		log.Error("pipeline: run failed", zap.Error(runErr))
		p.alertRunFailure(finalCtx, runID, runErr)
		return summary, runErr
	}

	log.Info("pipeline: run complete",
		zap.Int("total_jobs", summary.TotalJobs),
		zap.Int("a_tier", summary.TierCounts.A),
		zap.Int("cache_hits", summary.LLM.CacheHits),
		zap.Int("scored_live", summary.LLM.ScoredLive),
		zap.Int("source_errors", summary.SourceErrors),
		zap.Duration("duration", endedAt.Sub(startedAt)),
	)
	return summary, nil
}

// execute runs the fetch/enrich/evaluate/rank phases and returns whatever it
// produced, even on error, so the caller can persist a partial record.
func (p *Pipeline) execute(ctx context.Context, runID string, log *zap.Logger, sources []source.Config) (*model.RunSummary, []model.RankedPosting, []model.SourceFetchEvent, error) {
	summary := &model.RunSummary{
		LLM: model.LLMStats{
			Enabled: p.evaluator != nil,
			Model:   p.cfg.LLM.Model,
		},
	}

	decisions := p.healthDecisions(ctx, log, sources)

	postings, events, sourceErrors := p.fetchAll(ctx, runID, log, sources, decisions)
	summary.SourceErrors = sourceErrors

	postings = source.Dedupe(postings)
	if p.enricher != nil {
		p.enricher.Enrich(ctx, postings)
	}

	candidates, skippedApplied, err := p.dropApplied(ctx, postings)
	if err != nil {
		return summary, nil, events, err
	}
	summary.SkippedApplied = skippedApplied

	if limit := p.cfg.Pipeline.MaxJobsPerRun; limit > 0 && len(candidates) > limit {
		summary.LLM.OverflowSkipped = len(candidates) - limit
		candidates = candidates[:limit]
		log.Warn("pipeline: candidate overflow",
			zap.Int("cap", limit),
			zap.Int("overflow_skipped", summary.LLM.OverflowSkipped),
		)
	}

	ranked := p.score(ctx, log, candidates, summary)

	ranking.Rank(ranked)
	summary.TotalJobs = len(ranked)
	summary.TierCounts = ranking.CountTiers(ranked)
	return summary, ranked, events, nil
}

// healthDecisions derives a per-source fetch policy from recent history.
// Missing history is never fatal: without it every source runs with the
// configured retry budget.
func (p *Pipeline) healthDecisions(ctx context.Context, log *zap.Logger, sources []source.Config) map[string]health.Decision {
	decisions := make(map[string]health.Decision, len(sources))
	if !p.cfg.Health.Enabled {
		return decisions
	}

	stats, err := p.store.GetSourceStats(ctx, p.cfg.Health.WindowRuns)
	if err != nil {
		log.Warn("pipeline: source stats unavailable, skipping health gating", zap.Error(err))
		return decisions
	}

	hcfg := health.Config{
		Enabled:           true,
		WindowRuns:        p.cfg.Health.WindowRuns,
		StaleAfter:        time.Duration(p.cfg.Health.StaleAfterHours) * time.Hour,
		DegradedThreshold: p.cfg.Health.DegradedThreshold,
		MinEventsForSkip:  p.cfg.Health.MinEventsForSkip,
	}

	now := time.Now().UTC()
	healths := make([]model.SourceHealth, 0, len(stats))
	for _, st := range stats {
		h := health.Compute(st, hcfg.StaleAfter, now)
		healths = append(healths, h)
		decisions[h.SourceName] = hcfg.Decide(h, p.cfg.Sources.MaxRetries)
	}

	if p.alerter != nil {
		if alerts := p.alerter.SourceAlerts(healths); len(alerts) > 0 {
			p.alerter.SendAlerts(ctx, alerts)
		}
	}
	return decisions
}

func (p *Pipeline) fetchAll(ctx context.Context, runID string, log *zap.Logger, sources []source.Config, decisions map[string]health.Decision) ([]model.Posting, []model.SourceFetchEvent, int) {
	var postings []model.Posting
	var events []model.SourceFetchEvent
	sourceErrors := 0

	backoff := time.Duration(p.cfg.Sources.BackoffMS) * time.Millisecond
	for _, src := range sources {
		if !src.IsEnabled() {
			continue
		}

		maxRetries := p.cfg.Sources.MaxRetries
		if d, ok := decisions[src.Name]; ok {
			if d.Skip {
				log.Warn("pipeline: skipping degraded source", zap.String("source", src.Name))
				events = append(events, model.SourceFetchEvent{
					RunID:        runID,
					SourceName:   src.Name,
					SourceKind:   src.Kind,
					SourceType:   src.Type,
					SourceURL:    src.URL,
					Attempts:     0,
					Success:      false,
					ErrorMessage: "skipped: source degraded",
				})
				continue
			}
			maxRetries = d.MaxRetries
		}

		start := time.Now()
		fetched, attempts, err := resilience.FetchWithRetry(ctx, func(ctx context.Context) ([]model.Posting, error) {
			return p.fetcher.Fetch(ctx, src)
		}, maxRetries, backoff)
		durationMS := time.Since(start).Milliseconds()

		event := model.SourceFetchEvent{
			RunID:       runID,
			SourceName:  src.Name,
			SourceKind:  src.Kind,
			SourceType:  src.Type,
			SourceURL:   src.URL,
			Attempts:    attempts,
			Success:     err == nil,
			JobsFetched: len(fetched),
			DurationMS:  durationMS,
		}
		if err != nil {
			event.ErrorMessage = truncate(err.Error(), maxRunErrorLen)
			sourceErrors++
			log.Error("pipeline: source fetch failed",
				zap.String("source", src.Name),
				zap.Int("attempts", attempts),
				zap.Bool("transient", resilience.IsTransient(err)),
				zap.Error(err),
			)
		} else {
			log.Info("pipeline: source fetched",
				zap.String("source", src.Name),
				zap.Int("jobs", len(fetched)),
				zap.Int("attempts", attempts),
			)
			postings = append(postings, fetched...)
		}
		events = append(events, event)
	}

	return postings, events, sourceErrors
}

// dropApplied removes postings whose URL is already in the applications
// ledger. Matching is on trimmed, lowercased URLs.
func (p *Pipeline) dropApplied(ctx context.Context, postings []model.Posting) ([]model.Posting, int, error) {
	urls, err := p.store.ListAppliedURLs(ctx)
	if err != nil {
		return nil, 0, eris.Wrap(err, "pipeline: list applied urls")
	}
	applied := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		applied[strings.ToLower(strings.TrimSpace(u))] = struct{}{}
	}

	kept := postings[:0]
	skipped := 0
	for _, posting := range postings {
		key := strings.ToLower(strings.TrimSpace(posting.URL))
		if key != "" {
			if _, ok := applied[key]; ok {
				skipped++
				continue
			}
		}
		kept = append(kept, posting)
	}
	return kept, skipped, nil
}

// score evaluates candidates through the cache and scheduler when an
// evaluator is configured. Without one every posting is rule-scored; with
// one, postings whose evaluation fails are recorded and excluded.
func (p *Pipeline) score(ctx context.Context, log *zap.Logger, candidates []model.Posting, summary *model.RunSummary) []model.RankedPosting {
	llm := &summary.LLM
	if p.evaluator == nil {
		ranked := make([]model.RankedPosting, 0, len(candidates))
		for _, posting := range candidates {
			ranked = append(ranked, p.ruleRanked(posting))
		}
		return ranked
	}

	cache := eval.NewCache(p.store)
	if err := cache.Load(ctx); err != nil {
		log.Warn("pipeline: eval cache unavailable, starting cold", zap.Error(err))
	}

	modelID := p.cfg.LLM.Model
	promptVersion := p.cfg.LLM.PromptVersion
	descriptionChars := p.cfg.LLM.DescriptionMaxChars

	var ranked []model.RankedPosting
	var queue []model.Posting

	progress := eval.NewProgress(len(candidates), p.cfg.Pipeline.ProgressEvery, func(completed, target int) {
		log.Info("pipeline: evaluation progress", zap.Int("completed", completed), zap.Int("target", target))
		if err := cache.Snapshot(ctx); err != nil {
			log.Warn("pipeline: eval cache snapshot failed", zap.Error(err))
		}
	})

	for _, posting := range candidates {
		entry, ok := cache.Lookup(posting, modelID, promptVersion, descriptionChars)
		if !ok {
			queue = append(queue, posting)
			continue
		}
		llm.CacheHits++
		progress.Complete()
		if !entry.Evaluation.IsJobPosting {
			llm.FilteredInvalid++
			continue
		}
		ranked = append(ranked, p.llmRanked(posting, entry.Evaluation))
	}

	if len(queue) > 0 {
		scheduler := eval.NewScheduler(eval.SchedulerConfig{
			InitialWorkers:  p.cfg.LLM.Workers,
			MinWorkers:      p.cfg.LLM.MinWorkers,
			MaxWorkers:      p.cfg.LLM.MaxWorkers,
			RoundMultiplier: p.cfg.LLM.RoundMultiplier,
			PerCallTimeout:  time.Duration(p.cfg.LLM.PerJobTimeoutSecs) * time.Second,
		}, p.evaluator.Evaluate)

		stats := scheduler.Run(ctx, queue, progress, func(res eval.Result) {
			if res.Err != nil {
				// Failed postings are excluded from ranking; the error
				// entry keeps them auditable in the persisted summary.
				log.Warn("pipeline: evaluation failed, excluding posting",
					zap.String("title", res.Posting.Title),
					zap.String("error", truncate(res.Err.Error(), maxEvalErrorLen)),
				)
				summary.Errors = append(summary.Errors, model.EvalError{
					Source: res.Posting.Source,
					URL:    res.Posting.URL,
					Error:  truncate(res.Err.Error(), maxEvalErrorLen),
				})
				return
			}
			cache.Put(res.Posting, modelID, promptVersion, descriptionChars, res.Evaluation)
			if !res.Evaluation.IsJobPosting {
				llm.FilteredInvalid++
				return
			}
			ranked = append(ranked, p.llmRanked(res.Posting, res.Evaluation))
		})
		llm.ScoredLive = stats.ScoredLive
		llm.Failed = stats.Failed
	}

	// Evaluations already paid for are saved even when the run was
	// interrupted mid-round.
	if err := cache.Snapshot(context.WithoutCancel(ctx)); err != nil {
		log.Warn("pipeline: final eval cache snapshot failed", zap.Error(err))
	}
	return ranked
}

// alertRunFailure emits a best-effort alert for a failed run. Delivery
// problems never propagate.
func (p *Pipeline) alertRunFailure(ctx context.Context, runID string, runErr error) {
	if p.alerter == nil {
		return
	}
	msg := truncate(runErr.Error(), maxRunErrorLen)
	p.alerter.SendAlerts(ctx, []monitoring.Alert{{
		Type:     monitoring.AlertRunFailed,
		Severity: "high",
		Message:  fmt.Sprintf("pipeline run %s failed: %s", runID, msg),
		Details: map[string]any{
			"run_id": runID,
			"error":  msg,
		},
		Timestamp: time.Now().UTC(),
	}})
}

// ruleRanked scores a posting with the rule scorer.
func (p *Pipeline) ruleRanked(posting model.Posting) model.RankedPosting {
	rr := ranking.RuleScore(posting, p.cfg.Profile, p.cfg.Constraints)
	score := rr.Score
	return model.RankedPosting{
		Posting:   posting,
		Score:     rr.Score,
		Tier:      rr.Tier,
		RuleScore: &score,
		Reasons:   rr.Reasons,
		SkillHits: rr.SkillHits,
		ScoredBy:  "rules",
	}
}

// llmRanked folds a normalized evaluation back into the posting and keeps
// the rule score alongside for comparison.
func (p *Pipeline) llmRanked(posting model.Posting, ev model.Evaluation) model.RankedPosting {
	rr := ranking.RuleScore(posting, p.cfg.Profile, p.cfg.Constraints)
	ruleScore := rr.Score

	merged := posting
	if ev.Title != "" {
		merged.Title = ev.Title
	}
	if ev.Company != "" {
		merged.Company = ev.Company
	}
	if ev.Location != "" {
		merged.Location = ev.Location
	}
	if ev.Description != "" {
		merged.Description = ev.Description
	}
	if ev.Published != "" {
		merged.Published = ev.Published
	}
	merged.RemoteHint = ev.RemoteHint

	return model.RankedPosting{
		Posting:    merged,
		Score:      ev.Score,
		Tier:       ev.Tier,
		RuleScore:  &ruleScore,
		Reasons:    ev.Reasons,
		SkillHits:  rr.SkillHits,
		LLMSummary: ev.Summary,
		ScoredBy:   "llm",
	}
}

// runRecord flattens a summary into the durable run row.
func runRecord(summary *model.RunSummary, startedAt, endedAt time.Time) model.PipelineRun {
	blob, _ := json.Marshal(summary)
	return model.PipelineRun{
		RunID:          summary.RunID,
		StartedAt:      summary.StartedAt,
		EndedAt:        summary.EndedAt,
		Status:         summary.Status,
		DurationMS:     endedAt.Sub(startedAt).Milliseconds(),
		TotalJobs:      summary.TotalJobs,
		ATier:          summary.TierCounts.A,
		BTier:          summary.TierCounts.B,
		CTier:          summary.TierCounts.C,
		SkippedApplied: summary.SkippedApplied,
		LLMEnabled:     summary.LLM.Enabled,
		LLMModel:       summary.LLM.Model,
		LLMScoredLive:  summary.LLM.ScoredLive,
		LLMCacheHits:   summary.LLM.CacheHits,
		LLMFailed:      summary.LLM.Failed,
		SourceErrors:   summary.SourceErrors,
		ErrorMessage:   summary.ErrorMessage,
		SummaryJSON:    string(blob),
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
