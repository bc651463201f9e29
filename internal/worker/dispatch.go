package worker

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"sync"

	"github.com/dontdude/goscribe/internal/domain"

	"golang.org/x/sync/errgroup"
)

// JobRunner runs a single job to an outcome.
type JobRunner interface {
	Run(ctx context.Context, job domain.Job) domain.Outcome
}

// Dispatcher fans a batch out to one goroutine per job and aggregates the outcomes.
// The engine pool behind the runner is the only limit on real parallelism.
type Dispatcher struct {
	runner JobRunner
}

// NewDispatcher returns a dispatcher running every job with runner.
func NewDispatcher(runner JobRunner) *Dispatcher {
	return &Dispatcher{runner: runner}
}

// Dispatch runs all jobs concurrently and waits for every one of them.
// The result is the first recorded failure, or the name to text map of all jobs.
// A panic in a job is not a job failure: it aborts the batch with domain.ErrTaskFault.
// Jobs are detached from ctx cancellation, a dispatched batch always runs to completion.
func (d *Dispatcher) Dispatch(ctx context.Context, jobs []domain.Job) (domain.BatchResult, error) {
	ctx = context.WithoutCancel(ctx)
	slog.InfoContext(ctx, "Dispatching batch", "jobs", len(jobs))

	agg := NewAggregator(len(jobs))
	var g errgroup.Group
	for _, job := range jobs {
		g.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					slog.ErrorContext(ctx, "Job panicked", "file", job.Name, "panic", p, "stack", string(debug.Stack()))
					err = fmt.Errorf("%w: job %q: %v", domain.ErrTaskFault, job.Name, p)
				}
			}()
			if agg.Record(d.runner.Run(ctx, job)) {
				slog.DebugContext(ctx, "First failure recorded", "file", job.Name)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return domain.BatchResult{}, err
	}

	res := agg.Result()
	if res.Failed() {
		slog.InfoContext(ctx, "Batch failed", "file", res.Failure.Name, "error", res.Failure.Err)
	} else {
		slog.InfoContext(ctx, "Batch completed", "results", len(res.Results))
	}
	return res, nil
}

// Aggregator collects outcomes with first-failure-wins semantics.
// It is safe for concurrent use.
type Aggregator struct {
	mu      sync.Mutex
	results map[string]string
	// failure is assigned at most once.
	failure *domain.Outcome
}

// NewAggregator returns an empty aggregator sized for n outcomes.
func NewAggregator(n int) *Aggregator {
	return &Aggregator{results: make(map[string]string, n)}
}

// Record adds one outcome. It returns true only for the failure that got latched.
// Successes arriving after a failure are dropped.
func (a *Aggregator) Record(o domain.Outcome) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case o.Failed() && a.failure == nil:
		a.failure = &o
		a.results = nil
		return true
	case o.Failed(), a.failure != nil:
		return false
	default:
		a.results[o.Name] = o.Text
		return false
	}
}

// Result returns the batch result as of now.
func (a *Aggregator) Result() domain.BatchResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.failure != nil {
		f := *a.failure
		return domain.BatchResult{Failure: &f}
	}
	return domain.BatchResult{Results: maps.Clone(a.results)}
}
