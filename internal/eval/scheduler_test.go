package eval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benediktbwimmer/job-search/internal/model"
	"github.com/benediktbwimmer/job-search/internal/resilience"
)

func makeQueue(n int) []model.Posting {
	queue := make([]model.Posting, n)
	for i := range queue {
		queue[i] = model.Posting{ID: "feed:" + string(rune('a'+i)), URL: "https://example.com/" + string(rune('a'+i))}
	}
	return queue
}

func TestScheduler_SequentialCountsResults(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	s := NewScheduler(SchedulerConfig{InitialWorkers: 1}, func(_ context.Context, p model.Posting) (model.Evaluation, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 2 {
			return model.Evaluation{}, errors.New("malformed response")
		}
		return model.Evaluation{Score: 60, IsJobPosting: true}, nil
	})

	var results []Result
	progress := NewProgress(3, 10, nil)
	stats := s.Run(context.Background(), makeQueue(3), progress, func(r Result) {
		results = append(results, r)
	})

	assert.Equal(t, 2, stats.ScoredLive)
	assert.Equal(t, 1, stats.Failed)
	assert.Len(t, results, 3)
	assert.Equal(t, 3, progress.Completed())
}

func TestScheduler_SequentialTimeoutCountsAsFailure(t *testing.T) {
	s := NewScheduler(SchedulerConfig{InitialWorkers: 1, PerCallTimeout: 10 * time.Second}, func(ctx context.Context, _ model.Posting) (model.Evaluation, error) {
		<-ctx.Done()
		return model.Evaluation{}, ctx.Err()
	})
	// Drive the hard timeout through an already-short parent context so the
	// test does not wait out the 10s floor.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	stats := s.Run(ctx, makeQueue(1), nil, nil)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.ScoredLive)
}

func TestScheduler_AIMDConvergence(t *testing.T) {
	// Fail every call in the first two rounds with a 429 signature, then
	// succeed: worker count must halve twice, then grow again. The first
	// two rounds submit 8 and then 4 jobs (multiplier 1), so the first 12
	// calls carry the rate-limit signature.
	var mu sync.Mutex
	calls := 0
	evaluate := func(_ context.Context, _ model.Posting) (model.Evaluation, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n <= 12 {
			return model.Evaluation{}, resilience.NewTransientError(errors.New("too many requests"), 429)
		}
		return model.Evaluation{Score: 50, IsJobPosting: true}, nil
	}

	s := NewScheduler(SchedulerConfig{
		InitialWorkers:  8,
		MinWorkers:      1,
		MaxWorkers:      16,
		RoundMultiplier: 1,
	}, evaluate)

	progress := NewProgress(40, 100, nil)
	queue := make([]model.Posting, 40)
	for i := range queue {
		queue[i] = model.Posting{URL: "https://example.com/x"}
	}

	stats := s.Run(context.Background(), queue, progress, nil)

	require.GreaterOrEqual(t, len(stats.WorkersByRound), 4)
	assert.Equal(t, 8, stats.WorkersByRound[0])
	assert.Equal(t, 4, stats.WorkersByRound[1], "halved after rate-limited round")
	assert.Equal(t, 2, stats.WorkersByRound[2], "halved again after second rate-limited round")
	assert.Greater(t, stats.WorkersByRound[3], 2, "grows once failures stop")
	assert.Equal(t, 40, progress.Completed())
	assert.Equal(t, stats.ScoredLive+stats.Failed, 40)
}

func TestScheduler_MixedFailuresHoldSteady(t *testing.T) {
	var mu sync.Mutex
	n := 0
	evaluate := func(_ context.Context, _ model.Posting) (model.Evaluation, error) {
		mu.Lock()
		n++
		odd := n%2 == 1
		mu.Unlock()
		if odd {
			return model.Evaluation{}, errors.New("malformed response")
		}
		return model.Evaluation{Score: 50}, nil
	}

	s := NewScheduler(SchedulerConfig{InitialWorkers: 4, MinWorkers: 1, MaxWorkers: 8, RoundMultiplier: 2}, evaluate)
	stats := s.Run(context.Background(), makeQueue(16), nil, nil)

	for _, workers := range stats.WorkersByRound {
		assert.Equal(t, 4, workers, "non-rate-limit failures never resize the pool")
	}
}

func TestProgress_ReportCadence(t *testing.T) {
	var reported []int
	p := NewProgress(7, 3, func(completed, target int) {
		assert.Equal(t, 7, target)
		reported = append(reported, completed)
	})
	for range 7 {
		p.Complete()
	}

	// Boundaries at 3 and 6, plus the final completion.
	assert.Equal(t, []int{3, 6, 7}, reported)
}
