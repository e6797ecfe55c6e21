package main

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"llm-stream-bench/internal/benchmark"
	"llm-stream-bench/internal/config"
	"llm-stream-bench/internal/logging"
	"llm-stream-bench/internal/metrics"
	"llm-stream-bench/internal/report"
	"llm-stream-bench/internal/storage"
)

// app carries state shared by every subcommand
type app struct {
	v          *viper.Viper
	configPath string
	debug      bool
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:           "llm-bench",
		Short:         "Load-test streaming LLM completion endpoints",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to configuration file (yaml or json)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().String("log-format", "", "Log format: text or json")
	mustBind(a.v, root.PersistentFlags(), map[string]string{
		"logging.format": "log-format",
	})

	root.AddCommand(
		a.newRunCmd(),
		a.newSweepCmd(),
		a.newProbeCmd(),
		a.newHistoryCmd(),
	)
	return root
}

// mustBind binds flags to config keys. Binding only fails for a nil flag,
// which is a programming error.
func mustBind(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %q: %v", name, err))
		}
	}
}

// addBenchmarkFlags registers the flags shared by run and sweep
func addBenchmarkFlags(flags *pflag.FlagSet) {
	flags.String("backend", "", "Backend: openai or bedrock")
	flags.String("url", "", "OpenAI-compatible base URL")
	flags.String("api", "", "Request shape: chat or completions")
	flags.String("model", "", "Model identifier")
	flags.IntP("requests", "n", 0, "Requests per run")
	flags.Int("max-tokens", 0, "Maximum output tokens per request")
	flags.Duration("timeout", 0, "Per-request timeout")
	flags.Float64("rate", 0, "Dispatch rate limit in requests per second (0 = unlimited)")
	flags.Bool("skip-probe", false, "Skip the endpoint probe before running")
	flags.String("report", "", "Write a markdown report to this file")
	flags.String("db", "", "Store runs in this SQLite database")
	flags.String("metrics-file", "", "Write prometheus metrics to this textfile")
	flags.String("output-dir", "", "Directory for JSON results")
}

// benchmarkFlagKeys maps config keys to the flags added by addBenchmarkFlags
var benchmarkFlagKeys = map[string]string{
	"endpoint.backend":     "backend",
	"endpoint.url":         "url",
	"endpoint.api":         "api",
	"model.id":             "model",
	"test.num_requests":    "requests",
	"test.max_tokens":      "max-tokens",
	"test.request_timeout": "timeout",
	"test.rate_limit":      "rate",
	"test.skip_probe":      "skip-probe",
	"output.report_file":   "report",
	"output.database_path": "db",
	"output.metrics_file":  "metrics-file",
	"output.dir":           "output-dir",
}

// loadConfig binds the running command's flags, loads and validates the
// merged configuration and sets up logging. Flags are bound here rather than
// at registration since several subcommands share config keys.
func (a *app) loadConfig(flags *pflag.FlagSet, keys map[string]string, override func(*config.Config)) (*config.Config, *slog.Logger, error) {
	mustBind(a.v, flags, keys)
	cfg, err := config.Load(a.v, a.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if override != nil {
		override(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}

	level := cfg.Logging.Level
	if a.debug {
		level = "debug"
	}
	logger := logging.Setup(logging.Config{Level: level, Format: cfg.Logging.Format})
	return cfg, logger, nil
}

func (a *app) newRunCmd() *cobra.Command {
	var concurrency int
	var contextSize string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one batch of requests at a single concurrency level",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := a.loadConfig(cmd.Flags(), benchmarkFlagKeys, func(cfg *config.Config) {
				if concurrency == 0 {
					concurrency = cfg.ConcurrencyLevels()[0]
				}
				cfg.Concurrency.Levels = []int{concurrency}
				if contextSize != "" {
					cfg.Test.ContextSizes = []string{contextSize}
				} else if len(cfg.Test.ContextSizes) > 1 {
					cfg.Test.ContextSizes = cfg.Test.ContextSizes[:1]
				}
			})
			if err != nil {
				return err
			}
			return execute(cmd, cfg, logger)
		},
	}

	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "Concurrent workers (default: first configured level)")
	cmd.Flags().StringVar(&contextSize, "context-size", "", fmt.Sprintf("Context preset (%v)", benchmark.PresetNames()))
	addBenchmarkFlags(cmd.Flags())
	return cmd
}

func (a *app) newSweepCmd() *cobra.Command {
	var levels []int
	var contextSizes []string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run every configured context size at every concurrency level",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := maps.Clone(benchmarkFlagKeys)
			keys["test.stop_on_failure"] = "stop-on-failure"
			cfg, logger, err := a.loadConfig(cmd.Flags(), keys, func(cfg *config.Config) {
				if len(levels) > 0 {
					cfg.Concurrency.Levels = levels
				}
				if len(contextSizes) > 0 {
					cfg.Test.ContextSizes = contextSizes
				}
			})
			if err != nil {
				return err
			}
			return execute(cmd, cfg, logger)
		},
	}

	cmd.Flags().IntSliceVar(&levels, "levels", nil, "Concurrency levels, e.g. 1,5,10")
	cmd.Flags().StringSliceVar(&contextSizes, "context-sizes", nil, "Context presets, e.g. 1k,8k")
	cmd.Flags().Bool("stop-on-failure", false, "Stop the sweep after a level with failures")
	addBenchmarkFlags(cmd.Flags())
	return cmd
}

// execute runs the sweep described by cfg and writes every configured output.
// Interrupted sweeps still report what completed.
func execute(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger) error {
	ctx := cmd.Context()

	transport, err := benchmark.NewTransport(ctx, cfg, logger)
	if err != nil {
		return err
	}

	console := report.NewConsoleReporter(cmd.OutOrStdout())
	opts := []benchmark.RunnerOption{
		benchmark.WithConsole(console),
		benchmark.WithRunnerLogger(logger),
		benchmark.WithRunnerRecorder(metrics.NewRecorder()),
	}

	if cfg.Output.DatabasePath != "" {
		db, err := openDB(ctx, cfg.Output.DatabasePath)
		if err != nil {
			return err
		}
		defer db.Close()
		opts = append(opts, benchmark.WithStore(storage.NewRunStore(db)))
	}

	runner := benchmark.NewRunner(cfg, transport, opts...)

	allStats, runErr := runner.Run(ctx)
	if len(allStats) > 0 {
		// Outputs are written after an interrupt too, so use a live context.
		if err := runner.GenerateReport(context.WithoutCancel(ctx), allStats); err != nil {
			console.PrintError(err)
			if runErr == nil {
				runErr = err
			}
		}
	}
	if runErr != nil {
		return runErr
	}

	if ctx.Err() != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "\nBenchmark interrupted; partial results reported.")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), "\nBenchmark completed successfully!")
	return nil
}

func openDB(ctx context.Context, path string) (*storage.DB, error) {
	db, err := storage.New(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (a *app) newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Send one short streaming request and report what came back",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := a.loadConfig(cmd.Flags(), probeFlagKeys, nil)
			if err != nil {
				return err
			}

			transport, err := benchmark.NewTransport(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}

			result, err := benchmark.Probe(cmd.Context(), transport, cfg.Model.ID, cfg.Test.ProbeTimeout)
			out := cmd.OutOrStdout()
			if err != nil {
				return fmt.Errorf("probe failed: %w", err)
			}

			fmt.Fprintf(out, "Events:        %d\n", result.Events)
			fmt.Fprintf(out, "Terminated:    %t\n", result.Terminated)
			fmt.Fprintf(out, "Finish reason: %s\n", result.FinishReason)
			fmt.Fprintf(out, "Duration:      %s\n", result.Duration.Round(time.Millisecond))
			fmt.Fprintf(out, "Content:       %q\n", result.Content)
			if result.Events == 0 {
				return fmt.Errorf("probe received no events")
			}
			return nil
		},
	}

	cmd.Flags().String("backend", "", "Backend: openai or bedrock")
	cmd.Flags().String("url", "", "OpenAI-compatible base URL")
	cmd.Flags().String("model", "", "Model identifier")
	cmd.Flags().Duration("timeout", 0, "Probe timeout")
	return cmd
}

var probeFlagKeys = map[string]string{
	"endpoint.backend":   "backend",
	"endpoint.url":       "url",
	"model.id":           "model",
	"test.probe_timeout": "timeout",
}

func (a *app) newHistoryCmd() *cobra.Command {
	var filter storage.RunFilter

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			// History only needs the database path, not a runnable config.
			mustBind(a.v, cmd.Flags(), map[string]string{"output.database_path": "db"})
			if err := config.ReadFile(a.v, a.configPath); err != nil {
				return err
			}
			path := a.v.GetString("output.database_path")
			if path == "" {
				return fmt.Errorf("no database configured: set output.database_path or --db")
			}

			ctx := cmd.Context()
			db, err := openDB(ctx, path)
			if err != nil {
				return err
			}
			defer db.Close()

			records, err := storage.NewRunStore(db).List(ctx, filter)
			if err != nil {
				return err
			}

			rows := make([]report.RunRow, 0, len(records))
			for _, rec := range records {
				row := report.RunRow{
					ID:              rec.ID,
					StartedAt:       rec.StartedAt,
					Model:           rec.Model,
					ContextSize:     rec.ContextSize,
					Concurrency:     rec.Concurrency,
					Requests:        rec.SuccessCount + rec.FailureCount,
					ErrorRate:       rec.ErrorRate,
					TokenThroughput: rec.TokenThroughput,
				}
				if rec.P50TTFTMS.Valid {
					d := time.Duration(rec.P50TTFTMS.Float64 * float64(time.Millisecond))
					row.P50TTFT = &d
				}
				rows = append(rows, row)
			}
			report.NewConsoleReporter(cmd.OutOrStdout()).PrintRunHistory(rows)
			return nil
		},
	}

	cmd.Flags().String("db", "", "SQLite database path")
	cmd.Flags().StringVar(&filter.Model, "model", "", "Only runs of this model")
	cmd.Flags().StringVar(&filter.ContextSize, "context-size", "", "Only runs of this context preset")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "Maximum runs to list")
	return cmd
}
