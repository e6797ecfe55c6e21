package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"llm-stream-bench/internal/types"
)

// RunSummary is the JSON form of one run's statistics
type RunSummary struct {
	RunID            string       `json:"run_id"`
	Model            string       `json:"model"`
	ContextSize      string       `json:"context_size,omitempty"`
	ConcurrencyLevel int          `json:"concurrency"`
	Partial          bool         `json:"partial"`
	Dispatched       int          `json:"dispatched"`
	PeakInFlight     int          `json:"peak_in_flight"`
	Stats            *types.Stats `json:"stats"`
}

// JSONWriter writes raw results and summaries as timestamped JSON files
type JSONWriter struct {
	dir string
	now func() time.Time
}

// NewJSONWriter creates a writer storing files under dir
func NewJSONWriter(dir string) *JSONWriter {
	return &JSONWriter{dir: dir, now: time.Now}
}

// Write stores the raw request results and the summaries of a sweep and
// returns the paths written
func (j *JSONWriter) Write(model string, allStats []*types.LevelStats) ([]string, error) {
	if err := os.MkdirAll(j.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	stamp := j.now().Format("20060102_150405")

	var runs []*types.RunResult
	summaries := make([]RunSummary, 0, len(allStats))
	for _, stat := range allStats {
		summary := RunSummary{
			Model:            model,
			ContextSize:      stat.ContextSize,
			ConcurrencyLevel: stat.ConcurrencyLevel,
			Stats:            stat.Stats,
		}
		if stat.Run != nil {
			runs = append(runs, stat.Run)
			summary.RunID = stat.Run.ID
			summary.Partial = stat.Run.Partial
			summary.Dispatched = stat.Run.Dispatched
			summary.PeakInFlight = stat.Run.PeakInFlight
		}
		summaries = append(summaries, summary)
	}

	resultsPath := filepath.Join(j.dir, fmt.Sprintf("results_%s.json", stamp))
	if err := writeJSON(resultsPath, runs); err != nil {
		return nil, err
	}

	summaryPath := filepath.Join(j.dir, fmt.Sprintf("summary_%s.json", stamp))
	if err := writeJSON(summaryPath, summaries); err != nil {
		return nil, err
	}

	return []string{resultsPath, summaryPath}, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
