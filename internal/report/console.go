package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"llm-stream-bench/internal/config"
	"llm-stream-bench/internal/types"
)

// ConsoleReporter handles real-time console output
type ConsoleReporter struct {
	w io.Writer
}

// NewConsoleReporter creates a new console reporter writing to w, or stdout
// when w is nil
func NewConsoleReporter(w io.Writer) *ConsoleReporter {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleReporter{w: w}
}

// PrintHeader prints the test header
func (c *ConsoleReporter) PrintHeader(cfg *config.Config) {
	fmt.Fprintln(c.w, strings.Repeat("=", 80))
	fmt.Fprintln(c.w, "LLM Streaming Benchmark")
	fmt.Fprintln(c.w, strings.Repeat("=", 80))
	fmt.Fprintf(c.w, "Backend: %s\n", cfg.Endpoint.Backend)
	if cfg.Endpoint.Backend == config.BackendBedrock {
		fmt.Fprintf(c.w, "Region: %s\n", cfg.AWS.Region)
	} else {
		fmt.Fprintf(c.w, "Endpoint: %s\n", cfg.Endpoint.URL)
	}
	fmt.Fprintf(c.w, "Model: %s\n", cfg.Model.ID)
	fmt.Fprintf(c.w, "Requests per Run: %d\n", cfg.Test.NumRequests)
	fmt.Fprintf(c.w, "Max Tokens: %d\n", cfg.Test.MaxTokens)
	fmt.Fprintf(c.w, "Request Timeout: %s\n", cfg.Test.RequestTimeout)
	if len(cfg.Test.ContextSizes) > 0 {
		fmt.Fprintf(c.w, "Context Sizes: %s\n", strings.Join(cfg.Test.ContextSizes, ", "))
	} else {
		fmt.Fprintf(c.w, "Prompt Size: %d characters\n", cfg.Test.PromptSize)
	}
	fmt.Fprintf(c.w, "Concurrency Levels: %s\n", joinInts(cfg.ConcurrencyLevels()))
	fmt.Fprintln(c.w, strings.Repeat("=", 80))
	fmt.Fprintln(c.w)
}

// PrintSection prints a section header
func (c *ConsoleReporter) PrintSection(title string) {
	fmt.Fprintln(c.w)
	fmt.Fprintln(c.w, strings.Repeat("-", 80))
	fmt.Fprintf(c.w, ">>> %s\n", title)
	fmt.Fprintln(c.w, strings.Repeat("-", 80))
	fmt.Fprintln(c.w)
}

// PrintConcurrencyLevel prints the start of a new concurrency level test
func (c *ConsoleReporter) PrintConcurrencyLevel(level int, contextSize string) {
	if contextSize != "" {
		fmt.Fprintf(c.w, "\n[Context: %s | Concurrency Level: %d]\n", contextSize, level)
	} else {
		fmt.Fprintf(c.w, "\n[Concurrency Level: %d]\n", level)
	}
	fmt.Fprintln(c.w, "Starting test...")
}

// PrintProgress prints progress during the test
func (c *ConsoleReporter) PrintProgress(done, total, failures int, elapsed time.Duration) {
	fmt.Fprintf(c.w, "  Progress: %d/%d requests | Failures: %d | Elapsed: %s\n",
		done, total, failures, elapsed.Round(time.Second))
}

// PrintStats prints detailed statistics for a completed test
func (c *ConsoleReporter) PrintStats(stats *types.Stats) {
	fmt.Fprintln(c.w, "\nResults:")
	fmt.Fprintln(c.w, strings.Repeat("─", 80))

	fmt.Fprintf(c.w, "  Total Requests:     %d\n", stats.TotalRequests)
	fmt.Fprintf(c.w, "  Successful:         %d (%.2f%%)\n", stats.SuccessCount, stats.SuccessRate)
	fmt.Fprintf(c.w, "  Failed:             %d (error rate %.2f)\n", stats.FailureCount, stats.ErrorRate)
	if stats.UnterminatedCount > 0 {
		fmt.Fprintf(c.w, "  Unterminated:       %d\n", stats.UnterminatedCount)
	}
	fmt.Fprintf(c.w, "  Duration:           %s\n", stats.Duration.Round(time.Millisecond))

	fmt.Fprintln(c.w, "\n  Throughput:")
	fmt.Fprintf(c.w, "    Requests/sec:     %.2f\n", stats.RequestsPerSecond)
	fmt.Fprintf(c.w, "    Tokens/sec:       %.2f\n", stats.TokenThroughput)
	fmt.Fprintf(c.w, "    Generation TPS:   %.2f (mean per request)\n", stats.AvgGenerationTPS)
	fmt.Fprintf(c.w, "    Prompt TPS:       %.2f (mean per request)\n", stats.AvgPromptTPS)

	fmt.Fprintln(c.w, "\n  Tokens:")
	fmt.Fprintf(c.w, "    Output Tokens:    %d\n", stats.TotalOutputTokens)
	if stats.PartialOutputTokens > 0 {
		fmt.Fprintf(c.w, "    Partial Tokens:   %d (failed requests)\n", stats.PartialOutputTokens)
	}
	fmt.Fprintf(c.w, "    Output Bytes:     %d\n", stats.TotalOutputBytes)

	c.printDistribution("Latency (ms)", stats.Latency)
	c.printDistribution("Time to First Token (ms)", stats.TTFT)
	c.printDistribution("Time per Output Token (ms)", stats.TPOT)

	if errs := stats.ErrorsByType(); len(errs) > 0 {
		fmt.Fprintln(c.w, "\n  Error Distribution:")
		for _, status := range types.AllStatuses {
			if count := errs[status]; count > 0 {
				fmt.Fprintf(c.w, "    %s: %d\n", status, count)
			}
		}
	}

	fmt.Fprintln(c.w, strings.Repeat("─", 80))
}

func (c *ConsoleReporter) printDistribution(title string, d *types.DurationStats) {
	if d == nil {
		fmt.Fprintf(c.w, "\n  %s: n/a\n", title)
		return
	}
	fmt.Fprintf(c.w, "\n  %s:\n", title)
	fmt.Fprintf(c.w, "    Average:          %.2f\n", ms(d.Mean))
	fmt.Fprintf(c.w, "    Min:              %.2f\n", ms(d.Min))
	fmt.Fprintf(c.w, "    Max:              %.2f\n", ms(d.Max))
	fmt.Fprintf(c.w, "    P50:              %.2f\n", ms(d.P50))
	fmt.Fprintf(c.w, "    P90:              %.2f\n", ms(d.P90))
	fmt.Fprintf(c.w, "    P95:              %.2f\n", ms(d.P95))
	fmt.Fprintf(c.w, "    P99:              %.2f\n", ms(d.P99))
}

// PrintRunHistory prints stored runs as a table
func (c *ConsoleReporter) PrintRunHistory(runs []RunRow) {
	if len(runs) == 0 {
		fmt.Fprintln(c.w, "No stored runs.")
		return
	}
	fmt.Fprintf(c.w, "%-36s  %-19s  %-16s  %-6s  %5s  %8s  %6s  %10s  %10s\n",
		"ID", "STARTED", "MODEL", "CTX", "CONC", "REQUESTS", "ERR%", "TOKENS/S", "P50 TTFT")
	for _, r := range runs {
		ttft := "n/a"
		if r.P50TTFT != nil {
			ttft = fmt.Sprintf("%.0fms", ms(*r.P50TTFT))
		}
		fmt.Fprintf(c.w, "%-36s  %-19s  %-16s  %-6s  %5d  %8d  %6.1f  %10.2f  %10s\n",
			r.ID,
			r.StartedAt.Format("2006-01-02 15:04:05"),
			truncate(r.Model, 16),
			r.ContextSize,
			r.Concurrency,
			r.Requests,
			r.ErrorRate*100,
			r.TokenThroughput,
			ttft,
		)
	}
}

// RunRow is one line of the run history table
type RunRow struct {
	ID              string
	StartedAt       time.Time
	Model           string
	ContextSize     string
	Concurrency     int
	Requests        int
	ErrorRate       float64
	TokenThroughput float64
	P50TTFT         *time.Duration
}

// PrintReportSaved prints a message indicating an output file was saved
func (c *ConsoleReporter) PrintReportSaved(filename string) {
	fmt.Fprintf(c.w, "Saved: %s\n", filename)
}

// PrintError prints an error message
func (c *ConsoleReporter) PrintError(err error) {
	fmt.Fprintf(c.w, "\n[ERROR] %v\n", err)
}

// ms converts a duration to fractional milliseconds
func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
