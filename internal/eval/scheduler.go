package eval

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/benediktbwimmer/job-search/internal/model"
	"github.com/benediktbwimmer/job-search/internal/resilience"
)

// SchedulerConfig bounds the adaptive worker pool.
type SchedulerConfig struct {
	InitialWorkers  int
	MinWorkers      int
	MaxWorkers      int
	RoundMultiplier int
	// PerCallTimeout is the hard timeout applied to each call in
	// sequential mode.
	PerCallTimeout time.Duration
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.MinWorkers < 1 {
		c.MinWorkers = 1
	}
	if c.MaxWorkers < c.MinWorkers {
		c.MaxWorkers = c.MinWorkers
	}
	if c.InitialWorkers < 1 {
		c.InitialWorkers = 1
	}
	if c.InitialWorkers > 120 {
		c.InitialWorkers = 120
	}
	if c.InitialWorkers > c.MaxWorkers {
		c.InitialWorkers = c.MaxWorkers
	}
	if c.RoundMultiplier < 1 {
		c.RoundMultiplier = 1
	}
	if c.RoundMultiplier > 6 {
		c.RoundMultiplier = 6
	}
	if c.PerCallTimeout < 10*time.Second {
		c.PerCallTimeout = 10 * time.Second
	}
	return c
}

// workerState is the mutable pool size, adjusted only between rounds.
type workerState struct {
	current         int
	min             int
	max             int
	roundMultiplier int
}

// shed halves the pool after rate limiting, floored at min.
func (w *workerState) shed() {
	w.current /= 2
	if w.current < w.min {
		w.current = w.min
	}
}

// grow adds roughly a third after a clean round, capped at max.
func (w *workerState) grow() {
	step := w.current / 3
	if step < 1 {
		step = 1
	}
	w.current += step
	if w.current > w.max {
		w.current = w.max
	}
}

// roundSize is how many jobs the next round drains from the queue.
func (w *workerState) roundSize() int {
	return w.current * w.roundMultiplier
}

// Result is one evaluation outcome.
type Result struct {
	Posting    model.Posting
	Evaluation model.Evaluation
	Err        error
}

// Stats summarizes a scheduler run.
type Stats struct {
	ScoredLive int
	Failed     int
	// WorkersByRound records the pool size used for each parallel round.
	WorkersByRound []int
}

// Progress tracks monotonic completion across cache hits and live calls and
// fires the callback on every progress boundary and at the end.
type Progress struct {
	mu        sync.Mutex
	target    int
	every     int
	completed int
	onReport  func(completed, target int)
}

// NewProgress creates a tracker over target total completions, reporting
// every `every` completions. A nil onReport disables reporting.
func NewProgress(target, every int, onReport func(completed, target int)) *Progress {
	if every <= 0 {
		every = 10
	}
	return &Progress{target: target, every: every, onReport: onReport}
}

// Complete advances the counter by one and reports when due.
func (p *Progress) Complete() {
	p.mu.Lock()
	p.completed++
	completed := p.completed
	due := completed%p.every == 0 || completed == p.target
	report := p.onReport
	p.mu.Unlock()

	if due && report != nil {
		report(completed, p.target)
	}
}

// Completed returns the monotonic completion count.
func (p *Progress) Completed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}

// Scheduler evaluates a queue of postings with an adaptively sized worker
// pool: halve on rate limiting, grow by a third on clean rounds, hold on
// mixed failures.
type Scheduler struct {
	cfg      SchedulerConfig
	evaluate func(ctx context.Context, p model.Posting) (model.Evaluation, error)
}

// NewScheduler creates a scheduler calling evaluate for every queued posting.
func NewScheduler(cfg SchedulerConfig, evaluate func(ctx context.Context, p model.Posting) (model.Evaluation, error)) *Scheduler {
	return &Scheduler{cfg: cfg.withDefaults(), evaluate: evaluate}
}

// Run processes the queue. onResult is invoked serially, in completion
// order, for every posting (successful or failed); progress advances once
// per posting. A single failure never aborts the run.
func (s *Scheduler) Run(ctx context.Context, queue []model.Posting, progress *Progress, onResult func(Result)) Stats {
	if s.cfg.InitialWorkers <= 1 {
		return s.runSequential(ctx, queue, progress, onResult)
	}
	return s.runParallel(ctx, queue, progress, onResult)
}

// runSequential evaluates one posting at a time with a hard per-call
// timeout. The timeout abandons the in-flight goroutine rather than
// interrupting it; its context is canceled so the call unwinds on its own.
func (s *Scheduler) runSequential(ctx context.Context, queue []model.Posting, progress *Progress, onResult func(Result)) Stats {
	var stats Stats
	for _, p := range queue {
		if ctx.Err() != nil {
			break
		}

		evaluation, err := s.callWithTimeout(ctx, p)
		res := Result{Posting: p, Evaluation: evaluation, Err: err}
		if err != nil {
			stats.Failed++
		} else {
			stats.ScoredLive++
		}
		if onResult != nil {
			onResult(res)
		}
		if progress != nil {
			progress.Complete()
		}
	}
	return stats
}

func (s *Scheduler) callWithTimeout(ctx context.Context, p model.Posting) (model.Evaluation, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.PerCallTimeout)
	defer cancel()

	type outcome struct {
		evaluation model.Evaluation
		err        error
	}
	done := make(chan outcome, 1)
	go func() {
		evaluation, err := s.evaluate(callCtx, p)
		done <- outcome{evaluation, err}
	}()

	select {
	case out := <-done:
		return out.evaluation, out.err
	case <-callCtx.Done():
		return model.Evaluation{}, eris.Wrapf(callCtx.Err(), "eval: call timed out for %s", p.Identity())
	}
}

func (s *Scheduler) runParallel(ctx context.Context, queue []model.Posting, progress *Progress, onResult func(Result)) Stats {
	state := &workerState{
		current:         s.cfg.InitialWorkers,
		min:             s.cfg.MinWorkers,
		max:             s.cfg.MaxWorkers,
		roundMultiplier: s.cfg.RoundMultiplier,
	}

	var stats Stats
	idx := 0
	for idx < len(queue) && ctx.Err() == nil {
		size := state.roundSize()
		if size > len(queue)-idx {
			size = len(queue) - idx
		}
		round := queue[idx : idx+size]
		idx += size
		stats.WorkersByRound = append(stats.WorkersByRound, state.current)

		results := s.runRound(ctx, round, state.current)

		failures := 0
		successes := 0
		rateLimited := false
		for _, res := range results {
			if res.Err != nil {
				failures++
				if resilience.IsRateLimited(res.Err) {
					rateLimited = true
				}
			} else {
				successes++
			}
			if onResult != nil {
				onResult(res)
			}
			if progress != nil {
				progress.Complete()
			}
		}
		stats.Failed += failures
		stats.ScoredLive += successes

		before := state.current
		switch {
		case rateLimited:
			state.shed()
		case failures == 0 && successes > 0:
			state.grow()
		}
		if state.current != before {
			zap.L().Info("adaptive scheduler resized pool",
				zap.Int("workers_before", before),
				zap.Int("workers_after", state.current),
				zap.Bool("rate_limited", rateLimited),
				zap.Int("round_failures", failures),
			)
		}
	}
	return stats
}

// runRound fans round jobs over a fixed-size pool and returns all outcomes.
func (s *Scheduler) runRound(ctx context.Context, round []model.Posting, workers int) []Result {
	jobs := make(chan model.Posting)
	results := make(chan Result, len(round))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				evaluation, err := s.evaluate(ctx, p)
				results <- Result{Posting: p, Evaluation: evaluation, Err: err}
			}
		}()
	}

	for _, p := range round {
		jobs <- p
	}
	close(jobs)
	wg.Wait()
	close(results)

	out := make([]Result, 0, len(round))
	for res := range results {
		out = append(out, res)
	}
	return out
}
