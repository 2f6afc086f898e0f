// Package store is the persistence gateway: durable pipeline runs, postings,
// per-run rankings and fetch events, the evaluation cache, and the applied-
// jobs ledger. Implementations must make ReplaceRunSnapshot atomic — the
// pipeline never issues partial writes it cannot roll back.
package store

import (
	"context"

	"github.com/benediktbwimmer/job-search/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the job-search pipeline.
type Store interface {
	// ReplaceRunSnapshot writes one run's complete output in a single
	// transaction: upsert the run record and postings, replace the run's
	// rankings and fetch events. All-or-nothing.
	ReplaceRunSnapshot(ctx context.Context, run model.PipelineRun, postings []model.Posting, rankings []model.RankedPosting, events []model.SourceFetchEvent) error

	// Runs
	GetRun(ctx context.Context, runID string) (*model.PipelineRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error)
	ListRunEvents(ctx context.Context, runID string) ([]model.SourceFetchEvent, error)

	// Source health input: per-source fetch-event aggregates over the most
	// recent windowRuns runs.
	GetSourceStats(ctx context.Context, windowRuns int) ([]model.SourceEventStats, error)

	// Applications
	ListAppliedURLs(ctx context.Context) ([]string, error)
	UpsertApplication(ctx context.Context, app model.Application) error

	// Evaluation cache
	LoadEvalCache(ctx context.Context) (map[string]model.EvalCacheEntry, error)
	SaveEvalCache(ctx context.Context, entries map[string]model.EvalCacheEntry) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
