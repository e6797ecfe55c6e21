package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-stream-bench/internal/config"
	"llm-stream-bench/internal/types"
)

func sampleConfig() *config.Config {
	return &config.Config{
		Endpoint: config.EndpointConfig{Backend: config.BackendOpenAI, URL: "http://llm:8000/v1", API: "chat"},
		Model:    config.ModelConfig{ID: "qwen"},
		Test: config.TestConfig{
			NumRequests:    3,
			MaxTokens:      256,
			RequestTimeout: 30 * time.Second,
			ContextSizes:   []string{"1k"},
		},
		Concurrency: config.ConcurrencyConfig{Levels: []int{1, 4}},
	}
}

func sampleStats() []*types.LevelStats {
	dist := &types.DurationStats{
		Count: 2,
		Min:   100 * time.Millisecond,
		Max:   300 * time.Millisecond,
		Mean:  200 * time.Millisecond,
		P50:   100 * time.Millisecond,
		P90:   300 * time.Millisecond,
		P95:   300 * time.Millisecond,
		P99:   300 * time.Millisecond,
	}
	return []*types.LevelStats{
		{
			ConcurrencyLevel: 1,
			ContextSize:      "1k",
			Run:              &types.RunResult{ID: "run-1", Dispatched: 3},
			Stats: &types.Stats{
				TotalRequests:     3,
				SuccessCount:      2,
				FailureCount:      1,
				SuccessRate:       66.67,
				ErrorRate:         1.0 / 3.0,
				StatusCounts:      map[types.Status]int{types.StatusSuccess: 2, types.StatusTimeout: 1},
				TotalOutputTokens: 40,
				TokenThroughput:   12.5,
				Latency:           dist,
				TTFT:              dist,
			},
		},
		{
			ConcurrencyLevel: 4,
			ContextSize:      "1k",
			Run:              &types.RunResult{ID: "run-2", Dispatched: 2, Partial: true},
			Stats: &types.Stats{
				TotalRequests: 2,
				FailureCount:  2,
				ErrorRate:     1,
				StatusCounts:  map[types.Status]int{types.StatusConnectionError: 2},
			},
		},
	}
}

func TestMarkdownReporter_Generate(t *testing.T) {
	m := NewMarkdownReporter(sampleConfig())
	m.now = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }

	content := m.Generate(sampleStats())

	assert.Contains(t, content, "Generated: 2025-03-01 10:00:00")
	assert.Contains(t, content, "| Endpoint | http://llm:8000/v1 |")
	assert.Contains(t, content, "| Concurrency Levels | 1, 4 |")
	assert.Contains(t, content, "| Partial Runs | 1 |")
	assert.Contains(t, content, "| Successful Requests | 2 (40.00%) |")
	assert.Contains(t, content, "| 1k | 1 | 3 | 66.67% |")
	assert.Contains(t, content, "| 1k | 4 | 2 | 0.00% |")
	assert.Contains(t, content, "## Latency Analysis")
	assert.NotContains(t, content, "## Time per Output Token")
	assert.Contains(t, content, "| timeout | 1 |")
	assert.Contains(t, content, "| connection_error | 2 |")
	assert.Contains(t, content, "| 1k | 4 | 2 | connection_error(2) |")
}

func TestMarkdownReporter_NoErrors(t *testing.T) {
	stats := sampleStats()[:1]
	stats[0].Stats.FailureCount = 0
	stats[0].Stats.StatusCounts = map[types.Status]int{types.StatusSuccess: 3}

	content := NewMarkdownReporter(sampleConfig()).Generate(stats)
	assert.Contains(t, content, "No errors occurred during the test.")
}

func TestMarkdownReporter_SaveToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "report.md")
	m := NewMarkdownReporter(sampleConfig())

	require.NoError(t, m.SaveToFile("# report", path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# report", string(data))
}

func TestJSONWriter_Write(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "results")
	w := NewJSONWriter(dir)
	w.now = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }

	paths, err := w.Write("qwen", sampleStats())
	require.NoError(t, err)

	require.Equal(t, []string{
		filepath.Join(dir, "results_20250301_100000.json"),
		filepath.Join(dir, "summary_20250301_100000.json"),
	}, paths)

	var runs []types.RunResult
	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &runs))
	assert.Len(t, runs, 2)
	assert.Equal(t, "run-1", runs[0].ID)

	var summaries []RunSummary
	data, err = os.ReadFile(paths[1])
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &summaries))
	require.Len(t, summaries, 2)
	assert.Equal(t, "qwen", summaries[1].Model)
	assert.Equal(t, 4, summaries[1].ConcurrencyLevel)
	assert.True(t, summaries[1].Partial)
	assert.Equal(t, 2, summaries[0].Stats.SuccessCount)
}

func TestConsoleReporter_PrintStats(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleReporter(&buf)

	c.PrintStats(sampleStats()[0].Stats)

	out := buf.String()
	assert.Contains(t, out, "Successful:         2 (66.67%)")
	assert.Contains(t, out, "Failed:             1 (error rate 0.33)")
	assert.Contains(t, out, "P50:              100.00")
	assert.Contains(t, out, "Time per Output Token (ms): n/a")
	assert.Contains(t, out, "timeout: 1")
}

func TestConsoleReporter_PrintHeaderAndProgress(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleReporter(&buf)

	c.PrintHeader(sampleConfig())
	c.PrintConcurrencyLevel(4, "1k")
	c.PrintProgress(5, 10, 1, 12500*time.Millisecond)
	c.PrintError(errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, "Endpoint: http://llm:8000/v1")
	assert.Contains(t, out, "Context Sizes: 1k")
	assert.Contains(t, out, "[Context: 1k | Concurrency Level: 4]")
	assert.Contains(t, out, "Progress: 5/10 requests | Failures: 1 | Elapsed: 13s")
	assert.Contains(t, out, "[ERROR] boom")
}

func TestConsoleReporter_PrintRunHistory(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleReporter(&buf)

	c.PrintRunHistory(nil)
	assert.Contains(t, buf.String(), "No stored runs.")

	buf.Reset()
	ttft := 250 * time.Millisecond
	c.PrintRunHistory([]RunRow{{
		ID:              "run-1",
		StartedAt:       time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		Model:           "a-rather-long-model-name",
		ContextSize:     "1k",
		Concurrency:     4,
		Requests:        10,
		ErrorRate:       0.1,
		TokenThroughput: 42,
		P50TTFT:         &ttft,
	}})

	out := buf.String()
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "2025-03-01 10:00:00")
	assert.Contains(t, out, "a-rather-long-m…")
	assert.Contains(t, out, "10.0")
	assert.Contains(t, out, "250ms")
}
