package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"llm-stream-bench/internal/config"
	"llm-stream-bench/internal/types"
)

// MarkdownReporter generates markdown reports
type MarkdownReporter struct {
	config *config.Config
	now    func() time.Time
}

// NewMarkdownReporter creates a new markdown reporter
func NewMarkdownReporter(cfg *config.Config) *MarkdownReporter {
	return &MarkdownReporter{
		config: cfg,
		now:    time.Now,
	}
}

// Generate generates the full markdown report
func (m *MarkdownReporter) Generate(allStats []*types.LevelStats) string {
	var sb strings.Builder

	sb.WriteString("# LLM Streaming Benchmark Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", m.now().Format("2006-01-02 15:04:05")))

	m.writeConfiguration(&sb)
	m.writeOverallSummary(&sb, allStats)
	m.writeDetailedResults(&sb, allStats)
	m.writeDistribution(&sb, allStats, "Latency Analysis", func(s *types.Stats) *types.DurationStats { return s.Latency })
	m.writeDistribution(&sb, allStats, "Time to First Token (TTFT) Analysis", func(s *types.Stats) *types.DurationStats { return s.TTFT })
	m.writeDistribution(&sb, allStats, "Time per Output Token (TPOT) Analysis", func(s *types.Stats) *types.DurationStats { return s.TPOT })
	m.writeErrorAnalysis(&sb, allStats)

	return sb.String()
}

// writeConfiguration writes the test configuration section
func (m *MarkdownReporter) writeConfiguration(sb *strings.Builder) {
	c := m.config
	sb.WriteString("## Test Configuration\n\n")
	sb.WriteString("| Parameter | Value |\n")
	sb.WriteString("|-----------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Backend | %s |\n", c.Endpoint.Backend))
	if c.Endpoint.Backend == config.BackendBedrock {
		sb.WriteString(fmt.Sprintf("| Region | %s |\n", c.AWS.Region))
	} else {
		sb.WriteString(fmt.Sprintf("| Endpoint | %s |\n", c.Endpoint.URL))
		sb.WriteString(fmt.Sprintf("| API | %s |\n", c.Endpoint.API))
	}
	sb.WriteString(fmt.Sprintf("| Model | %s |\n", c.Model.ID))
	sb.WriteString(fmt.Sprintf("| Requests per Run | %d |\n", c.Test.NumRequests))
	sb.WriteString(fmt.Sprintf("| Max Tokens | %d |\n", c.Test.MaxTokens))
	sb.WriteString(fmt.Sprintf("| Temperature | %.2f |\n", c.Test.Temperature))
	sb.WriteString(fmt.Sprintf("| Request Timeout | %s |\n", c.Test.RequestTimeout))
	if len(c.Test.ContextSizes) > 0 {
		sb.WriteString(fmt.Sprintf("| Context Sizes | %s |\n", strings.Join(c.Test.ContextSizes, ", ")))
	} else {
		sb.WriteString(fmt.Sprintf("| Prompt Size | %d characters |\n", c.Test.PromptSize))
	}
	sb.WriteString(fmt.Sprintf("| Concurrency Levels | %s |\n\n", joinInts(c.ConcurrencyLevels())))
}

// writeOverallSummary writes the overall summary section
func (m *MarkdownReporter) writeOverallSummary(sb *strings.Builder, allStats []*types.LevelStats) {
	sb.WriteString("## Overall Summary\n\n")

	totalRequests := 0
	totalSuccess := 0
	totalFailures := 0
	totalTokens := 0
	partialRuns := 0

	for _, stat := range allStats {
		totalRequests += stat.Stats.TotalRequests
		totalSuccess += stat.Stats.SuccessCount
		totalFailures += stat.Stats.FailureCount
		totalTokens += stat.Stats.TotalOutputTokens
		if stat.Run != nil && stat.Run.Partial {
			partialRuns++
		}
	}

	successRate := 0.0
	if totalRequests > 0 {
		successRate = float64(totalSuccess) / float64(totalRequests) * 100.0
	}

	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Runs | %d |\n", len(allStats)))
	if partialRuns > 0 {
		sb.WriteString(fmt.Sprintf("| Partial Runs | %d |\n", partialRuns))
	}
	sb.WriteString(fmt.Sprintf("| Total Requests | %d |\n", totalRequests))
	sb.WriteString(fmt.Sprintf("| Successful Requests | %d (%.2f%%) |\n", totalSuccess, successRate))
	sb.WriteString(fmt.Sprintf("| Failed Requests | %d |\n", totalFailures))
	sb.WriteString(fmt.Sprintf("| Output Tokens | %d |\n\n", totalTokens))
}

// writeDetailedResults writes detailed results for each run
func (m *MarkdownReporter) writeDetailedResults(sb *strings.Builder, allStats []*types.LevelStats) {
	sb.WriteString("## Detailed Results\n\n")

	sb.WriteString("| Context | Concurrency | Requests | Success Rate | Req/s | Tokens/s | Gen TPS | Prompt TPS | P50 Latency (ms) | P50 TTFT (ms) |\n")
	sb.WriteString("|---------|-------------|----------|--------------|-------|----------|---------|------------|------------------|---------------|\n")

	for _, stat := range allStats {
		s := stat.Stats
		sb.WriteString(fmt.Sprintf("| %s | %d | %d | %.2f%% | %.2f | %.2f | %.1f | %.1f | %s | %s |\n",
			contextLabel(stat.ContextSize),
			stat.ConcurrencyLevel,
			s.TotalRequests,
			s.SuccessRate,
			s.RequestsPerSecond,
			s.TokenThroughput,
			s.AvgGenerationTPS,
			s.AvgPromptTPS,
			p50(s.Latency),
			p50(s.TTFT),
		))
	}
	sb.WriteString("\n")
}

// writeDistribution writes one distribution table, skipping runs without data
func (m *MarkdownReporter) writeDistribution(sb *strings.Builder, allStats []*types.LevelStats, title string, pick func(*types.Stats) *types.DurationStats) {
	hasData := false
	for _, stat := range allStats {
		if pick(stat.Stats) != nil {
			hasData = true
			break
		}
	}
	if !hasData {
		return
	}

	sb.WriteString(fmt.Sprintf("## %s\n\n", title))
	sb.WriteString("| Context | Concurrency | Min (ms) | Avg (ms) | Max (ms) | P50 (ms) | P90 (ms) | P95 (ms) | P99 (ms) |\n")
	sb.WriteString("|---------|-------------|----------|----------|----------|----------|----------|----------|----------|\n")

	for _, stat := range allStats {
		d := pick(stat.Stats)
		if d == nil {
			continue
		}
		sb.WriteString(fmt.Sprintf("| %s | %d | %.2f | %.2f | %.2f | %.2f | %.2f | %.2f | %.2f |\n",
			contextLabel(stat.ContextSize),
			stat.ConcurrencyLevel,
			ms(d.Min),
			ms(d.Mean),
			ms(d.Max),
			ms(d.P50),
			ms(d.P90),
			ms(d.P95),
			ms(d.P99),
		))
	}
	sb.WriteString("\n")
}

// writeErrorAnalysis writes error analysis section
func (m *MarkdownReporter) writeErrorAnalysis(sb *strings.Builder, allStats []*types.LevelStats) {
	allErrors := make(map[types.Status]int)
	for _, stat := range allStats {
		for status, count := range stat.Stats.ErrorsByType() {
			allErrors[status] += count
		}
	}

	sb.WriteString("## Error Analysis\n\n")
	if len(allErrors) == 0 {
		sb.WriteString("No errors occurred during the test.\n\n")
		return
	}

	sb.WriteString("### Error Distribution\n\n")
	sb.WriteString("| Status | Count |\n")
	sb.WriteString("|--------|-------|\n")
	for _, status := range types.AllStatuses {
		if count := allErrors[status]; count > 0 {
			sb.WriteString(fmt.Sprintf("| %s | %d |\n", status, count))
		}
	}
	sb.WriteString("\n")

	sb.WriteString("### Errors by Run\n\n")
	sb.WriteString("| Context | Concurrency | Total Errors | Statuses |\n")
	sb.WriteString("|---------|-------------|--------------|----------|\n")

	for _, stat := range allStats {
		if stat.Stats.FailureCount == 0 {
			continue
		}
		errs := stat.Stats.ErrorsByType()
		var parts []string
		for _, status := range types.AllStatuses {
			if count := errs[status]; count > 0 {
				parts = append(parts, fmt.Sprintf("%s(%d)", status, count))
			}
		}
		sb.WriteString(fmt.Sprintf("| %s | %d | %d | %s |\n",
			contextLabel(stat.ContextSize),
			stat.ConcurrencyLevel,
			stat.Stats.FailureCount,
			strings.Join(parts, ", "),
		))
	}
	sb.WriteString("\n")
}

// SaveToFile saves the report to a file, creating its directory
func (m *MarkdownReporter) SaveToFile(content string, filename string) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	return os.WriteFile(filename, []byte(content), 0644)
}

func contextLabel(size string) string {
	if size == "" {
		return "-"
	}
	return size
}

func p50(d *types.DurationStats) string {
	if d == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", ms(d.P50))
}
