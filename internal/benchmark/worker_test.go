package benchmark

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-stream-bench/internal/llm"
	"llm-stream-bench/internal/logging"
	"llm-stream-bench/internal/sse"
	"llm-stream-bench/internal/types"
)

func TestWorker_Execute_Success(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	transport := &fakeTransport{events: []sse.Event{
		{Received: start.Add(100 * time.Millisecond), Text: "Hel"},
		{Received: start.Add(150 * time.Millisecond), Reasoning: "hmm"},
		{Received: start.Add(200 * time.Millisecond), Text: "lo"},
		{Received: start.Add(210 * time.Millisecond), FinishReason: "stop", UsageOutputTokens: 3},
		{Done: true},
	}}
	cfg := testRunConfig(1, 1)
	cfg.ContextSize = "1k"
	cfg.Questions = []string{"q1", "q2"}

	worker := NewWorker(transport, logging.Discard(), stepClock(start, time.Second))
	result := worker.Execute(context.Background(), types.RequestTask{Index: 1, Config: &cfg})

	assert.Equal(t, types.StatusSuccess, result.Status)
	assert.Empty(t, result.Error)
	assert.Equal(t, 1, result.Index)
	assert.Equal(t, "1k-2", result.RequestID)
	assert.Equal(t, http.StatusOK, result.HTTPStatusCode)
	assert.Equal(t, 3, result.OutputTokens)
	assert.Equal(t, 1, result.ReasoningTokens)
	assert.Equal(t, 3, result.UsageOutputTokens)
	assert.Equal(t, "stop", result.FinishReason)
	assert.Equal(t, len("Hel")+len("hmm")+len("lo"), result.OutputBytes)
	assert.Equal(t, 8, result.OutputChars)
	assert.Positive(t, result.EstimatedOutputTokens)
	assert.False(t, result.Unterminated)

	assert.Equal(t, start, result.StartTime)
	assert.Equal(t, start.Add(100*time.Millisecond), result.FirstTokenAt)
	assert.Equal(t, start.Add(200*time.Millisecond), result.LastTokenAt)
	ttft, ok := result.TTFT()
	require.True(t, ok)
	assert.Equal(t, 100*time.Millisecond, ttft)

	assert.Equal(t, []string{"hello\n\nq2"}, transport.prompts)
	assert.Equal(t, len("hello\n\nq2"), result.PromptChars)
	assert.Positive(t, result.PromptTokensEstimate)
}

func TestWorker_Execute_UnterminatedStreamSucceeds(t *testing.T) {
	transport := &fakeTransport{openFn: func(ctx context.Context, req llm.CompletionRequest) (llm.Stream, error) {
		return &fakeStream{
			ctx:    ctx,
			events: []sse.Event{{Received: time.Now(), Text: "a"}, {Received: time.Now(), Text: "b"}},
			err:    sse.ErrUnterminated,
		}, nil
	}}
	cfg := testRunConfig(1, 1)

	result := NewWorker(transport, logging.Discard(), nil).Execute(context.Background(), types.RequestTask{Config: &cfg})

	assert.Equal(t, types.StatusSuccess, result.Status)
	assert.True(t, result.Unterminated)
	assert.Equal(t, sse.ErrUnterminated.Error(), result.Error)
	assert.Equal(t, 2, result.OutputTokens)
}

func TestWorker_Execute_TimeoutKeepsPartialCounts(t *testing.T) {
	server := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeChunks(w, false, "one", "two")
		<-r.Context().Done()
	})
	cfg := testRunConfig(1, 1)
	cfg.RequestTimeout = 200 * time.Millisecond

	result := NewWorker(newHTTPTransport(t, server.URL), logging.Discard(), nil).
		Execute(context.Background(), types.RequestTask{Config: &cfg})

	assert.Equal(t, types.StatusTimeout, result.Status)
	assert.Equal(t, 2, result.OutputTokens)
	assert.Equal(t, len("onetwo"), result.OutputBytes)
	assert.False(t, result.FirstTokenAt.IsZero())
	assert.GreaterOrEqual(t, result.Duration(), 200*time.Millisecond)
}

func TestWorker_Execute_Failures(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		status   types.Status
		httpCode int
	}{
		{
			name: "non-2xx status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "overloaded", http.StatusServiceUnavailable)
			},
			status:   types.StatusProtocolError,
			httpCode: http.StatusServiceUnavailable,
		},
		{
			name: "malformed payload",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\ndata: {not json}\n\n"))
			},
			status:   types.StatusProtocolError,
			httpCode: http.StatusOK,
		},
		{
			name: "wrong content type",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"choices":[]}`))
			},
			status: types.StatusProtocolError,
		},
		{
			name: "plain json without content type",
			handler: func(w http.ResponseWriter, r *http.Request) {
				// A nil value suppresses content sniffing.
				w.Header()["Content-Type"] = nil
				_, _ = w.Write([]byte(`{"id":"x","choices":[{"message":{"content":"hello world"}}]}`))
			},
			status:   types.StatusProtocolError,
			httpCode: http.StatusOK,
		},
		{
			name: "endless line",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				_, _ = w.Write([]byte("data: " + strings.Repeat("x", sse.DefaultMaxLineLength+1)))
			},
			status:   types.StatusProtocolError,
			httpCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := sseServer(t, tt.handler)
			cfg := testRunConfig(1, 1)

			result := NewWorker(newHTTPTransport(t, server.URL), logging.Discard(), nil).
				Execute(context.Background(), types.RequestTask{Config: &cfg})

			assert.Equal(t, tt.status, result.Status)
			assert.NotEmpty(t, result.Error)
			if tt.httpCode != 0 {
				assert.Equal(t, tt.httpCode, result.HTTPStatusCode)
			}
			assert.False(t, result.EndTime.IsZero())
		})
	}
}

func TestWorker_Execute_ConnectionError(t *testing.T) {
	server := sseServer(t, func(w http.ResponseWriter, r *http.Request) {})
	url := server.URL
	server.Close()

	cfg := testRunConfig(1, 1)
	result := NewWorker(newHTTPTransport(t, url), logging.Discard(), nil).
		Execute(context.Background(), types.RequestTask{Config: &cfg})

	assert.Equal(t, types.StatusConnectionError, result.Status)
	assert.Zero(t, result.OutputTokens)
}

func TestWorker_Execute_RunCancellationDoesNotAbortRequest(t *testing.T) {
	transport := &fakeTransport{hold: 50 * time.Millisecond, events: tokenEvents("a")}
	cfg := testRunConfig(1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := NewWorker(transport, logging.Discard(), nil).Execute(ctx, types.RequestTask{Config: &cfg})

	assert.Equal(t, types.StatusSuccess, result.Status)
	assert.Equal(t, 1, result.OutputTokens)
}

func TestWorker_Execute_RecoversPanic(t *testing.T) {
	transport := &fakeTransport{openFn: func(context.Context, llm.CompletionRequest) (llm.Stream, error) {
		panic("boom")
	}}
	cfg := testRunConfig(1, 1)

	result := NewWorker(transport, logging.Discard(), nil).Execute(context.Background(), types.RequestTask{Config: &cfg})

	assert.Equal(t, types.StatusProtocolError, result.Status)
	assert.Contains(t, result.Error, "panic: boom")
	assert.False(t, result.EndTime.IsZero())
}

func TestWorker_Execute_TransportErrorClassified(t *testing.T) {
	transport := &fakeTransport{openFn: func(context.Context, llm.CompletionRequest) (llm.Stream, error) {
		return nil, &llm.StatusError{StatusCode: http.StatusTooManyRequests, Body: "slow down"}
	}}
	cfg := testRunConfig(1, 1)

	result := NewWorker(transport, logging.Discard(), nil).Execute(context.Background(), types.RequestTask{Config: &cfg})

	assert.Equal(t, types.StatusProtocolError, result.Status)
	assert.Equal(t, http.StatusTooManyRequests, result.HTTPStatusCode)

	transport.openFn = func(context.Context, llm.CompletionRequest) (llm.Stream, error) {
		return nil, errors.New("connection reset by peer")
	}
	result = NewWorker(transport, logging.Discard(), nil).Execute(context.Background(), types.RequestTask{Config: &cfg})
	assert.Equal(t, types.StatusConnectionError, result.Status)
}
