package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"llm-stream-bench/internal/types"
)

// RunRecord is the stored summary of one run
type RunRecord struct {
	ID                string          `json:"id"`
	StartedAt         time.Time       `json:"started_at"`
	FinishedAt        time.Time       `json:"finished_at"`
	Endpoint          string          `json:"endpoint"`
	Model             string          `json:"model"`
	ContextSize       string          `json:"context_size,omitempty"`
	NumRequests       int             `json:"num_requests"`
	Concurrency       int             `json:"concurrency"`
	Dispatched        int             `json:"dispatched"`
	Partial           bool            `json:"partial"`
	PeakInFlight      int             `json:"peak_in_flight"`
	SuccessCount      int             `json:"success_count"`
	FailureCount      int             `json:"failure_count"`
	ErrorRate         float64         `json:"error_rate"`
	TokenThroughput   float64         `json:"token_throughput"`
	RequestsPerSecond float64         `json:"requests_per_second"`
	P50LatencyMS      sql.NullFloat64 `json:"-"`
	P50TTFTMS         sql.NullFloat64 `json:"-"`
	Stats             *types.Stats    `json:"stats,omitempty"`
}

// RunFilter narrows List
type RunFilter struct {
	Model       string
	ContextSize string
	Limit       int
}

// RunStore handles run persistence
type RunStore struct {
	db *DB
}

// NewRunStore creates a new run store
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// Save stores a run, its summary and every request result in one transaction.
// A run without an ID gets a fresh one.
func (s *RunStore) Save(ctx context.Context, run *types.RunResult, stats *types.Stats) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}

	configJSON, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	var p50Latency, p50TTFT sql.NullFloat64
	if stats.Latency != nil {
		p50Latency = sql.NullFloat64{Float64: millis(stats.Latency.P50), Valid: true}
	}
	if stats.TTFT != nil {
		p50TTFT = sql.NullFloat64{Float64: millis(stats.TTFT.P50), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, started_at, finished_at, endpoint, model, context_size,
			num_requests, concurrency, dispatched, partial, peak_in_flight,
			success_count, failure_count, error_rate, token_throughput, requests_per_second,
			p50_latency_ms, p50_ttft_ms, config_json, stats_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID, unixNano(run.StartedAt), unixNano(run.FinishedAt), run.Config.Endpoint, run.Config.Model, run.Config.ContextSize,
		run.Config.NumRequests, run.Config.Concurrency, run.Dispatched, run.Partial, run.PeakInFlight,
		stats.SuccessCount, stats.FailureCount, stats.ErrorRate, stats.TokenThroughput, stats.RequestsPerSecond,
		p50Latency, p50TTFT, string(configJSON), string(statsJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO request_results (
			run_id, idx, request_id, status, error,
			start_ns, headers_ns, first_token_ns, last_token_ns, end_ns,
			http_status, finish_reason, unterminated,
			output_tokens, reasoning_tokens, usage_output_tokens, estimated_output_tokens,
			output_bytes, output_chars, prompt_chars, prompt_tokens_estimate
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare result insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range run.Results {
		_, err := stmt.ExecContext(ctx,
			run.ID, r.Index, r.RequestID, string(r.Status), nullString(r.Error),
			unixNano(r.StartTime), unixNano(r.HeadersTime), unixNano(r.FirstTokenAt), unixNano(r.LastTokenAt), unixNano(r.EndTime),
			r.HTTPStatusCode, r.FinishReason, r.Unterminated,
			r.OutputTokens, r.ReasoningTokens, r.UsageOutputTokens, r.EstimatedOutputTokens,
			r.OutputBytes, r.OutputChars, r.PromptChars, r.PromptTokensEstimate,
		)
		if err != nil {
			return fmt.Errorf("failed to insert result %d: %w", r.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

const selectRun = `
	SELECT
		id, started_at, finished_at, endpoint, model, context_size,
		num_requests, concurrency, dispatched, partial, peak_in_flight,
		success_count, failure_count, error_rate, token_throughput, requests_per_second,
		p50_latency_ms, p50_ttft_ms, stats_json
	FROM runs
`

// Get retrieves a run summary by ID
func (s *RunStore) Get(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, selectRun+" WHERE id = ?", id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return rec, nil
}

// List returns stored runs, newest first
func (s *RunStore) List(ctx context.Context, filter RunFilter) ([]*RunRecord, error) {
	query := selectRun + " WHERE 1=1"
	var args []any

	if filter.Model != "" {
		query += " AND model = ?"
		args = append(args, filter.Model)
	}
	if filter.ContextSize != "" {
		query += " AND context_size = ?"
		args = append(args, filter.ContextSize)
	}

	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Results returns the request results of a run ordered by request index
func (s *RunStore) Results(ctx context.Context, runID string) ([]types.RequestResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			idx, request_id, status, error,
			start_ns, headers_ns, first_token_ns, last_token_ns, end_ns,
			http_status, finish_reason, unterminated,
			output_tokens, reasoning_tokens, usage_output_tokens, estimated_output_tokens,
			output_bytes, output_chars, prompt_chars, prompt_tokens_estimate
		FROM request_results
		WHERE run_id = ?
		ORDER BY idx
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var results []types.RequestResult
	for rows.Next() {
		var r types.RequestResult
		var status string
		var errMsg sql.NullString
		var start, headers, first, last, end int64

		if err := rows.Scan(
			&r.Index, &r.RequestID, &status, &errMsg,
			&start, &headers, &first, &last, &end,
			&r.HTTPStatusCode, &r.FinishReason, &r.Unterminated,
			&r.OutputTokens, &r.ReasoningTokens, &r.UsageOutputTokens, &r.EstimatedOutputTokens,
			&r.OutputBytes, &r.OutputChars, &r.PromptChars, &r.PromptTokensEstimate,
		); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}

		r.Status = types.Status(status)
		r.Error = errMsg.String
		r.StartTime = fromUnixNano(start)
		r.HeadersTime = fromUnixNano(headers)
		r.FirstTokenAt = fromUnixNano(first)
		r.LastTokenAt = fromUnixNano(last)
		r.EndTime = fromUnixNano(end)
		results = append(results, r)
	}
	return results, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*RunRecord, error) {
	rec := &RunRecord{}
	var started, finished int64
	var statsJSON string

	err := row.Scan(
		&rec.ID, &started, &finished, &rec.Endpoint, &rec.Model, &rec.ContextSize,
		&rec.NumRequests, &rec.Concurrency, &rec.Dispatched, &rec.Partial, &rec.PeakInFlight,
		&rec.SuccessCount, &rec.FailureCount, &rec.ErrorRate, &rec.TokenThroughput, &rec.RequestsPerSecond,
		&rec.P50LatencyMS, &rec.P50TTFTMS, &statsJSON,
	)
	if err != nil {
		return nil, err
	}

	rec.StartedAt = fromUnixNano(started)
	rec.FinishedAt = fromUnixNano(finished)

	var stats types.Stats
	if err := json.Unmarshal([]byte(statsJSON), &stats); err == nil {
		rec.Stats = &stats
	}
	return rec, nil
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
