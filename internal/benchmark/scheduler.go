package benchmark

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"llm-stream-bench/internal/llm"
	"llm-stream-bench/internal/logging"
	"llm-stream-bench/internal/metrics"
	"llm-stream-bench/internal/types"
)

// Scheduler runs a configured number of requests through a bounded pool of
// workers
type Scheduler struct {
	transport llm.Transport
	logger    *slog.Logger
	recorder  *metrics.Recorder
	limiter   *rate.Limiter
	onResult  func(types.RequestResult)
	now       func() time.Time
}

// SchedulerOption configures the scheduler
type SchedulerOption func(*Scheduler)

// WithLogger sets the logger used by the scheduler and its workers
func WithLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithRecorder records request metrics into r
func WithRecorder(r *metrics.Recorder) SchedulerOption {
	return func(s *Scheduler) {
		s.recorder = r
	}
}

// WithLimiter paces dispatch with l, overriding the configured rate limit
func WithLimiter(l *rate.Limiter) SchedulerOption {
	return func(s *Scheduler) {
		s.limiter = l
	}
}

// WithResultHook calls fn for every result as it is collected. fn runs on the
// collecting goroutine, never concurrently with itself.
func WithResultHook(fn func(types.RequestResult)) SchedulerOption {
	return func(s *Scheduler) {
		s.onResult = fn
	}
}

// WithSchedulerClock sets the clock used for run and request timestamps
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.now = now
	}
}

// NewScheduler creates a scheduler sending requests through transport
func NewScheduler(transport llm.Transport, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		transport: transport,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run dispatches cfg.NumRequests tasks in index order to min(Concurrency,
// NumRequests) workers and blocks until every dispatched task has a result.
//
// An invalid configuration is rejected before anything is sent. Cancelling
// ctx stops dispatch; requests already in flight run to completion or to
// their own timeout, and the run is returned marked partial.
func (s *Scheduler) Run(ctx context.Context, cfg types.RunConfig) (*types.RunResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	run := &types.RunResult{
		ID:        uuid.New().String(),
		Config:    cfg,
		StartedAt: s.now(),
		Results:   make([]types.RequestResult, 0, cfg.NumRequests),
	}
	ctx = logging.WithRunID(ctx, run.ID)

	limiter := s.limiter
	if limiter == nil && cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	workerCount := min(cfg.Concurrency, cfg.NumRequests)
	s.logger.InfoContext(ctx, "starting run",
		"model", cfg.Model,
		"context_size", cfg.ContextSize,
		"requests", cfg.NumRequests,
		"concurrency", workerCount,
	)

	worker := NewWorker(s.transport, s.logger, s.now)
	tasks := make(chan types.RequestTask)
	results := make(chan types.RequestResult, cfg.NumRequests)

	var inFlight, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range tasks {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				s.recorder.RequestStarted()

				result := worker.Execute(ctx, task)

				inFlight.Add(-1)
				s.recorder.RequestFinished(cfg.ContextSize, result)
				results <- result
			}
		}()
	}

	dispatched := make(chan int, 1)
	go func() {
		n := 0
		defer func() {
			close(tasks)
			dispatched <- n
		}()

		for i := 0; i < cfg.NumRequests; i++ {
			if ctx.Err() != nil {
				return
			}
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
			}
			select {
			case tasks <- types.RequestTask{Index: i, Config: &run.Config}:
				n++
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for result := range results {
		run.Results = append(run.Results, result)
		if s.onResult != nil {
			s.onResult(result)
		}
	}

	run.Dispatched = <-dispatched
	run.Partial = run.Dispatched < cfg.NumRequests
	run.PeakInFlight = int(peak.Load())
	run.FinishedAt = s.now()

	if run.Partial {
		s.logger.WarnContext(ctx, "run cancelled", "dispatched", run.Dispatched, "requests", cfg.NumRequests)
	} else {
		s.logger.InfoContext(ctx, "run complete", "duration", run.FinishedAt.Sub(run.StartedAt))
	}
	return run, nil
}
