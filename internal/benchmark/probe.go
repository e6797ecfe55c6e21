package benchmark

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"llm-stream-bench/internal/llm"
	"llm-stream-bench/internal/sse"
	"llm-stream-bench/internal/types"
)

const (
	probePrompt    = "Say hello."
	probeMaxTokens = 10
)

// ProbeResult describes a short streaming request used to check an endpoint
type ProbeResult struct {
	Events       int
	Content      string
	FinishReason string
	Terminated   bool
	Duration     time.Duration
}

// Probe sends one short streaming request and reads it until the server
// finishes. It returns the transport or decode error if the stream failed.
func Probe(ctx context.Context, transport llm.Transport, model string, timeout time.Duration) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result := &ProbeResult{}

	stream, err := transport.Open(ctx, llm.CompletionRequest{
		Model:     model,
		Prompt:    probePrompt,
		MaxTokens: probeMaxTokens,
	})
	if err != nil {
		return result, err
	}
	defer stream.Close()

	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) || errors.Is(err, sse.ErrUnterminated) {
			break
		}
		if err != nil {
			result.Duration = time.Since(start)
			return result, err
		}
		if ev.Done {
			result.Terminated = true
			break
		}
		result.Events++
		result.Content += ev.Text
		if ev.FinishReason != "" {
			result.FinishReason = ev.FinishReason
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// CheckEndpoint probes the endpoint before a run. An unreachable endpoint is
// a configuration error; any other probe failure is only logged, since the
// run itself will record it per request.
func CheckEndpoint(ctx context.Context, transport llm.Transport, model string, timeout time.Duration, logger *slog.Logger) error {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := Probe(probeCtx, transport, model, timeout)
	if err != nil {
		if llm.Classify(probeCtx, err) == types.StatusConnectionError {
			return fmt.Errorf("%w: endpoint unreachable: %v", types.ErrInvalidConfig, err)
		}
		logger.WarnContext(ctx, "endpoint probe failed", "error", err)
		return nil
	}

	if result.Events == 0 {
		logger.WarnContext(ctx, "endpoint probe received no events")
		return nil
	}
	logger.InfoContext(ctx, "endpoint probe succeeded",
		"events", result.Events,
		"content_length", len(result.Content),
		"terminated", result.Terminated,
		"duration", result.Duration,
	)
	return nil
}
