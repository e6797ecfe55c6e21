package benchmark

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"llm-stream-bench/internal/bedrock"
	"llm-stream-bench/internal/config"
	"llm-stream-bench/internal/llm"
	"llm-stream-bench/internal/metrics"
	"llm-stream-bench/internal/report"
	"llm-stream-bench/internal/storage"
	"llm-stream-bench/internal/types"
)

const defaultProgressInterval = 5 * time.Second

// PromptSet is the shared context and question list of one context size
type PromptSet struct {
	ContextSize string
	Prompt      string
	Questions   []string
}

// Runner orchestrates a sweep over context sizes and concurrency levels
type Runner struct {
	config           *config.Config
	transport        llm.Transport
	console          *report.ConsoleReporter
	logger           *slog.Logger
	recorder         *metrics.Recorder
	store            *storage.RunStore
	progressInterval time.Duration
}

// RunnerOption configures the runner
type RunnerOption func(*Runner)

// WithConsole sets the console reporter
func WithConsole(c *report.ConsoleReporter) RunnerOption {
	return func(r *Runner) {
		r.console = c
	}
}

// WithRunnerLogger sets the logger passed to every run
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithRunnerRecorder records every request of the sweep into rec
func WithRunnerRecorder(rec *metrics.Recorder) RunnerOption {
	return func(r *Runner) {
		r.recorder = rec
	}
}

// WithStore persists every completed run into store
func WithStore(store *storage.RunStore) RunnerOption {
	return func(r *Runner) {
		r.store = store
	}
}

// WithProgressInterval sets how often progress is printed during a run
func WithProgressInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.progressInterval = d
	}
}

// NewRunner creates a new benchmark runner
func NewRunner(cfg *config.Config, transport llm.Transport, opts ...RunnerOption) *Runner {
	r := &Runner{
		config:           cfg,
		transport:        transport,
		console:          report.NewConsoleReporter(nil),
		logger:           slog.Default(),
		progressInterval: defaultProgressInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewTransport builds the transport selected by the endpoint backend
func NewTransport(ctx context.Context, cfg *config.Config, logger *slog.Logger) (llm.Transport, error) {
	switch cfg.Endpoint.Backend {
	case config.BackendBedrock:
		client, err := bedrock.NewClient(ctx, bedrock.ClientConfig{
			Region:      cfg.AWS.Region,
			AccessKey:   cfg.AWS.AccessKeyID,
			SecretKey:   cfg.AWS.SecretAccessKey,
			ModelID:     cfg.Model.ID,
			ServiceTier: bedrock.ServiceTier(cfg.AWS.ServiceTier),
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.BackendOpenAI:
		client, err := llm.NewClient(cfg.Endpoint.URL, cfg.Endpoint.APIKey,
			llm.WithAPI(types.API(cfg.Endpoint.API)),
			llm.WithHTTPClient(llm.NewHTTPClient(cfg.MaxConcurrency())),
		)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", types.ErrInvalidConfig, cfg.Endpoint.Backend)
	}
}

// RunBenchmark runs one configuration against an OpenAI-compatible endpoint
// and returns the raw run together with its statistics
func RunBenchmark(ctx context.Context, cfg types.RunConfig) (*types.RunResult, *types.Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if cfg.Endpoint == "" {
		return nil, nil, fmt.Errorf("%w: endpoint is required", types.ErrInvalidConfig)
	}

	client, err := llm.NewClient(cfg.Endpoint, cfg.APIKey,
		llm.WithAPI(cfg.API),
		llm.WithHTTPClient(llm.NewHTTPClient(cfg.Concurrency)),
	)
	if err != nil {
		return nil, nil, err
	}

	run, err := NewScheduler(client).Run(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return run, Compute(run.Results), nil
}

// Prompts returns the prompt sets of the sweep. Without context presets the
// prompt is the configured template padded to the configured size.
func (r *Runner) Prompts() ([]PromptSet, error) {
	if len(r.config.Test.ContextSizes) == 0 {
		return []PromptSet{{
			Prompt: GeneratePrompt(r.config.Test.PromptTemplate, r.config.Test.PromptSize),
		}}, nil
	}

	sets := make([]PromptSet, 0, len(r.config.Test.ContextSizes))
	for _, name := range r.config.Test.ContextSizes {
		prompt, questions, err := BuildContext(name)
		if err != nil {
			return nil, err
		}
		sets = append(sets, PromptSet{ContextSize: name, Prompt: prompt, Questions: questions})
	}
	return sets, nil
}

// Run executes the sweep. It stops early when ctx is cancelled, returning
// the levels completed so far, or after a level with failures when
// stop_on_failure is set.
func (r *Runner) Run(ctx context.Context) ([]*types.LevelStats, error) {
	sets, err := r.Prompts()
	if err != nil {
		return nil, err
	}

	r.console.PrintHeader(r.config)

	if !r.config.Test.SkipProbe {
		if err := CheckEndpoint(ctx, r.transport, r.config.Model.ID, r.config.Test.ProbeTimeout, r.logger); err != nil {
			return nil, err
		}
	}

	var allStats []*types.LevelStats
	for _, set := range sets {
		if set.ContextSize != "" {
			r.console.PrintSection(fmt.Sprintf("Context Size: %s", set.ContextSize))
		}

		for _, concurrency := range r.config.ConcurrencyLevels() {
			if ctx.Err() != nil {
				r.logger.WarnContext(ctx, "sweep interrupted", "completed_levels", len(allStats))
				return allStats, nil
			}

			level, err := r.RunLevel(ctx, set, concurrency)
			if err != nil {
				return allStats, fmt.Errorf("concurrency level %d failed: %w", concurrency, err)
			}
			allStats = append(allStats, level)

			if level.Run.Partial {
				return allStats, nil
			}
			if r.config.Test.StopOnFailure && level.Stats.FailureCount > 0 {
				r.logger.WarnContext(ctx, "stopping sweep after failures",
					"context_size", set.ContextSize,
					"concurrency", concurrency,
					"failures", level.Stats.FailureCount,
				)
				return allStats, nil
			}
		}
	}

	return allStats, nil
}

// RunLevel runs one context size at one concurrency level
func (r *Runner) RunLevel(ctx context.Context, set PromptSet, concurrency int) (*types.LevelStats, error) {
	r.console.PrintConcurrencyLevel(concurrency, set.ContextSize)

	rc := r.config.RunConfig(concurrency)
	rc.ContextSize = set.ContextSize
	rc.Prompt = set.Prompt
	rc.Questions = set.Questions

	var done, failures atomic.Int64
	scheduler := NewScheduler(r.transport,
		WithLogger(r.logger),
		WithRecorder(r.recorder),
		WithResultHook(func(result types.RequestResult) {
			done.Add(1)
			if result.Status.IsFailure() {
				failures.Add(1)
			}
		}),
	)

	// Progress monitor
	start := time.Now()
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.console.PrintProgress(int(done.Load()), rc.NumRequests, int(failures.Load()), time.Since(start))
			}
		}
	}()

	run, err := scheduler.Run(ctx, rc)
	close(stop)
	wg.Wait()
	if err != nil {
		return nil, err
	}

	stats := Compute(run.Results)
	r.console.PrintStats(stats)

	return &types.LevelStats{
		ConcurrencyLevel: concurrency,
		ContextSize:      set.ContextSize,
		Run:              run,
		Stats:            stats,
	}, nil
}

// GenerateReport writes every configured output for the sweep: the markdown
// report, JSON files, the sqlite history and the metrics textfile
func (r *Runner) GenerateReport(ctx context.Context, allStats []*types.LevelStats) error {
	out := r.config.Output

	if out.ReportFile != "" {
		generator := report.NewMarkdownReporter(r.config)
		if err := generator.SaveToFile(generator.Generate(allStats), out.ReportFile); err != nil {
			return fmt.Errorf("failed to save report: %w", err)
		}
		r.console.PrintReportSaved(out.ReportFile)
	}

	if out.JSON && out.Dir != "" {
		paths, err := report.NewJSONWriter(out.Dir).Write(r.config.Model.ID, allStats)
		if err != nil {
			return fmt.Errorf("failed to save results: %w", err)
		}
		for _, path := range paths {
			r.console.PrintReportSaved(path)
		}
	}

	if r.store != nil {
		for _, level := range allStats {
			if err := r.store.Save(ctx, level.Run, level.Stats); err != nil {
				return fmt.Errorf("failed to store run: %w", err)
			}
		}
		r.logger.InfoContext(ctx, "runs stored", "count", len(allStats))
	}

	if out.MetricsFile != "" && r.recorder != nil {
		if err := r.recorder.WriteTextfile(out.MetricsFile); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
		r.console.PrintReportSaved(out.MetricsFile)
	}

	return nil
}
