package benchmark

import (
	"math"
	"slices"
	"time"

	"llm-stream-bench/internal/types"
)

// Compute derives run statistics from a result set. It is a pure function of
// its input: results are not modified and repeated calls return equal stats.
//
// Distributions cover successful requests only and are nil when there is
// nothing to summarise. The wall-clock span runs from the earliest start to
// the latest end over all results, failures included.
func Compute(results []types.RequestResult) *types.Stats {
	stats := &types.Stats{
		TotalRequests: len(results),
		StatusCounts:  make(map[types.Status]int),
	}

	var latencies, ttfts, tpots []time.Duration
	var genTPS, promptTPS []float64

	for _, r := range results {
		stats.StatusCounts[r.Status]++
		stats.TotalOutputBytes += r.OutputBytes

		if !r.StartTime.IsZero() && (stats.StartTime.IsZero() || r.StartTime.Before(stats.StartTime)) {
			stats.StartTime = r.StartTime
		}
		if r.EndTime.After(stats.EndTime) {
			stats.EndTime = r.EndTime
		}

		if !r.Succeeded() {
			stats.FailureCount++
			stats.PartialOutputTokens += r.OutputTokens
			continue
		}

		stats.SuccessCount++
		stats.TotalOutputTokens += r.OutputTokens
		if r.Unterminated {
			stats.UnterminatedCount++
		}

		latency := r.Duration()
		latencies = append(latencies, latency)
		if latency > 0 {
			genTPS = append(genTPS, float64(r.OutputTokens)/latency.Seconds())
		}

		if ttft, ok := r.TTFT(); ok {
			ttfts = append(ttfts, ttft)
			if ttft > 0 && r.PromptTokensEstimate > 0 {
				promptTPS = append(promptTPS, float64(r.PromptTokensEstimate)/ttft.Seconds())
			}
		}
		if tpot, ok := r.TPOT(); ok {
			tpots = append(tpots, tpot)
		}
	}

	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.TotalRequests) * 100.0
		stats.ErrorRate = float64(stats.FailureCount) / float64(stats.TotalRequests)
	}

	if !stats.StartTime.IsZero() && stats.EndTime.After(stats.StartTime) {
		stats.Duration = stats.EndTime.Sub(stats.StartTime)
	}
	if seconds := stats.Duration.Seconds(); seconds > 0 {
		stats.TokenThroughput = float64(stats.TotalOutputTokens) / seconds
		stats.RequestsPerSecond = float64(stats.SuccessCount) / seconds
	}

	stats.AvgGenerationTPS = average(genTPS)
	stats.AvgPromptTPS = average(promptTPS)

	stats.Latency = summarize(latencies)
	stats.TTFT = summarize(ttfts)
	stats.TPOT = summarize(tpots)

	return stats
}

// summarize computes the distribution of values, or nil for an empty set
func summarize(values []time.Duration) *types.DurationStats {
	if len(values) == 0 {
		return nil
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	var sum time.Duration
	for _, v := range sorted {
		sum += v
	}

	return &types.DurationStats{
		Count: len(sorted),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / time.Duration(len(sorted)),
		P50:   percentile(sorted, 0.50),
		P90:   percentile(sorted, 0.90),
		P95:   percentile(sorted, 0.95),
		P99:   percentile(sorted, 0.99),
	}
}

// average calculates the average of a slice of float64
func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// percentile returns the nearest-rank percentile of a sorted slice: the
// element at index ceil(p*n)-1, clamped to the slice bounds
func percentile(sorted []time.Duration, p float64) time.Duration {
	n := len(sorted)
	if n == 0 {
		return 0
	}

	// The epsilon keeps exact products like 0.9*10 from rounding up a rank.
	rank := int(math.Ceil(p*float64(n) - 1e-9))
	idx := min(max(rank-1, 0), n-1)
	return sorted[idx]
}
