package benchmark

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"llm-stream-bench/internal/llm"
	"llm-stream-bench/internal/logging"
	"llm-stream-bench/internal/sse"
	"llm-stream-bench/internal/tokens"
	"llm-stream-bench/internal/types"
)

// Worker executes single requests against a transport. A Worker holds no
// per-request state, so one instance may serve every goroutine of a run.
type Worker struct {
	transport llm.Transport
	logger    *slog.Logger
	now       func() time.Time
}

// NewWorker creates a worker for the given transport
func NewWorker(transport llm.Transport, logger *slog.Logger, now func() time.Time) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Worker{transport: transport, logger: logger, now: now}
}

// Execute runs one request to completion and returns its result. Failures
// are reported through the result status, never as an error.
//
// The request runs on a context detached from ctx's cancellation and bounded
// by the configured request timeout, so cancelling a run lets in-flight
// requests finish on their own.
func (w *Worker) Execute(ctx context.Context, task types.RequestTask) (result types.RequestResult) {
	cfg := task.Config
	prompt := cfg.PromptFor(task.Index)

	result = types.RequestResult{
		Index:                task.Index,
		RequestID:            cfg.RequestID(task.Index),
		PromptChars:          utf8.RuneCountInString(prompt),
		PromptTokensEstimate: tokens.Estimate(prompt),
	}

	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.RequestTimeout)
	defer cancel()
	reqCtx = logging.WithRequestID(reqCtx, result.RequestID)

	var output strings.Builder
	defer func() {
		// A panic is a local fault while handling the response, not a
		// transport failure.
		if r := recover(); r != nil {
			w.logger.ErrorContext(reqCtx, "request panicked", "panic", r)
			result.Status = types.StatusProtocolError
			result.Error = fmt.Sprintf("panic: %v", r)
		}
		if result.EndTime.IsZero() {
			result.EndTime = w.now()
		}
		result.OutputChars = utf8.RuneCountInString(output.String())
		result.EstimatedOutputTokens = tokens.Estimate(output.String())
	}()

	result.StartTime = w.now()
	w.logger.DebugContext(reqCtx, "sending request", "prompt_tokens_estimate", result.PromptTokensEstimate)

	stream, err := w.transport.Open(reqCtx, llm.CompletionRequest{
		Model:        cfg.Model,
		Prompt:       prompt,
		MaxTokens:    cfg.MaxTokens,
		Temperature:  cfg.Temperature,
		IncludeUsage: cfg.IncludeUsage,
	})
	if err != nil {
		w.fail(reqCtx, &result, err)
		return result
	}
	defer stream.Close()

	info := stream.Info()
	result.HTTPStatusCode = info.StatusCode
	result.HeadersTime = info.HeadersAt

	for {
		ev, err := stream.Next()
		if errors.Is(err, sse.ErrUnterminated) || errors.Is(err, io.EOF) {
			result.Unterminated = true
			result.Error = sse.ErrUnterminated.Error()
			w.logger.WarnContext(reqCtx, "stream closed without terminal marker", "output_tokens", result.OutputTokens)
			break
		}
		if err != nil {
			w.fail(reqCtx, &result, err)
			return result
		}
		if ev.Done {
			break
		}

		if ev.FinishReason != "" {
			result.FinishReason = ev.FinishReason
		}
		if ev.UsageOutputTokens > 0 {
			result.UsageOutputTokens = ev.UsageOutputTokens
		}
		if !ev.IsToken() {
			continue
		}

		at := ev.Received
		if at.IsZero() {
			at = w.now()
		}
		if result.FirstTokenAt.IsZero() {
			result.FirstTokenAt = at
			w.logger.DebugContext(reqCtx, "first token", "ttft", at.Sub(result.StartTime))
		}
		result.LastTokenAt = at
		result.OutputTokens++
		if ev.Reasoning != "" {
			result.ReasoningTokens++
		}
		result.OutputBytes += len(ev.Text) + len(ev.Reasoning)
		output.WriteString(ev.Reasoning)
		output.WriteString(ev.Text)
	}

	result.Status = types.StatusSuccess
	result.EndTime = w.now()
	w.logger.DebugContext(reqCtx, "request complete",
		"duration", result.Duration(),
		"output_tokens", result.OutputTokens,
		"finish_reason", result.FinishReason,
	)
	return result
}

// fail finalizes a failed result. Partial counts gathered so far are kept.
func (w *Worker) fail(ctx context.Context, result *types.RequestResult, err error) {
	result.EndTime = w.now()
	result.Status = llm.Classify(ctx, err)
	result.Error = err.Error()
	if code := llm.StatusCode(err); code != 0 {
		result.HTTPStatusCode = code
	}

	attrs := []any{
		"status", result.Status,
		"error", err,
		"elapsed", result.Duration(),
		"output_tokens", result.OutputTokens,
	}
	if result.Status == types.StatusTimeout {
		w.logger.WarnContext(ctx, "request timed out", attrs...)
		return
	}
	w.logger.ErrorContext(ctx, "request failed", attrs...)
}
