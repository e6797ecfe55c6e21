package types

import "time"

// DurationStats summarises one duration distribution
type DurationStats struct {
	Count int           `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P90   time.Duration `json:"p90"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
}

// Stats contains computed statistics for one run
type Stats struct {
	// General stats. SuccessRate is a percentage, ErrorRate a fraction.
	TotalRequests     int            `json:"total_requests"`
	SuccessCount      int            `json:"success_count"`
	FailureCount      int            `json:"failure_count"`
	UnterminatedCount int            `json:"unterminated_count"`
	SuccessRate       float64        `json:"success_rate"`
	ErrorRate         float64        `json:"error_rate"`
	StatusCounts      map[Status]int `json:"status_counts"`

	// Wall-clock span from the earliest start to the latest end
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`

	// Token stats. PartialOutputTokens are tokens received by failed requests.
	TotalOutputTokens   int `json:"total_output_tokens"`
	PartialOutputTokens int `json:"partial_output_tokens"`
	TotalOutputBytes    int `json:"total_output_bytes"`

	// Throughput
	TokenThroughput   float64 `json:"token_throughput"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	AvgGenerationTPS  float64 `json:"avg_generation_tps"`
	AvgPromptTPS      float64 `json:"avg_prompt_tps"`

	// Distributions over successful requests, nil when there is nothing to summarise
	Latency *DurationStats `json:"latency,omitempty"`
	TTFT    *DurationStats `json:"ttft,omitempty"`
	TPOT    *DurationStats `json:"tpot,omitempty"`
}

// HasLatency reports whether any successful request was measured
func (s *Stats) HasLatency() bool {
	return s.Latency != nil
}

// HasTTFT reports whether any successful request produced a token
func (s *Stats) HasTTFT() bool {
	return s.TTFT != nil
}

// ErrorsByType returns the failure counts keyed by status
func (s *Stats) ErrorsByType() map[Status]int {
	errs := make(map[Status]int)
	for status, count := range s.StatusCounts {
		if status != StatusSuccess && count > 0 {
			errs[status] = count
		}
	}
	return errs
}

// LevelStats tracks stats for one concurrency level and context size of a sweep
type LevelStats struct {
	ConcurrencyLevel int
	ContextSize      string
	Run              *RunResult
	Stats            *Stats
}
