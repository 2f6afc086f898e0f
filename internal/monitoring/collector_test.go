package monitoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benediktbwimmer/job-search/internal/model"
	"github.com/benediktbwimmer/job-search/internal/store"
)

type fakeStore struct {
	store.Store
	runs    []model.PipelineRun
	lastCap int
}

func (f *fakeStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.PipelineRun, error) {
	f.lastCap = filter.Limit
	if filter.Limit > 0 && len(f.runs) > filter.Limit {
		return f.runs[:filter.Limit], nil
	}
	return f.runs, nil
}

func TestCollector_Collect(t *testing.T) {
	st := &fakeStore{runs: []model.PipelineRun{
		{RunID: "r1", Status: model.RunStatusSuccess, TotalJobs: 10, LLMCacheHits: 6, LLMScoredLive: 4},
		{RunID: "r2", Status: model.RunStatusSuccess, TotalJobs: 8, LLMCacheHits: 8, LLMFailed: 1, SourceErrors: 1},
		{RunID: "r3", Status: model.RunStatusFailed},
		{RunID: "r4", Status: model.RunStatusRunning},
	}}

	snap, err := NewCollector(st).Collect(context.Background(), 20)
	require.NoError(t, err)

	assert.Equal(t, 20, st.lastCap)
	assert.Equal(t, 4, snap.RunsTotal)
	assert.Equal(t, 2, snap.RunsSuccess)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsRunning)
	assert.InDelta(t, 1.0/3.0, snap.FailRate, 0.001)
	assert.Equal(t, 18, snap.TotalJobs)
	assert.Equal(t, 14, snap.CacheHits)
	assert.Equal(t, 4, snap.ScoredLive)
	assert.Equal(t, 1, snap.LLMFailed)
	assert.Equal(t, 1, snap.SourceErrors)
	assert.Equal(t, 20, snap.LookbackRuns)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollector_Collect_Empty(t *testing.T) {
	snap, err := NewCollector(&fakeStore{}).Collect(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.RunsTotal)
	assert.Zero(t, snap.FailRate)
	assert.Equal(t, 1, snap.LookbackRuns) // clamped
}
