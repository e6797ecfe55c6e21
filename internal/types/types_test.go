package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRunConfig() RunConfig {
	return RunConfig{
		Endpoint:       "http://localhost:8000/v1",
		API:            APIChat,
		Model:          "m",
		NumRequests:    10,
		Concurrency:    2,
		MaxTokens:      64,
		RequestTimeout: time.Second,
		Prompt:         "hi",
	}
}

func TestRunConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RunConfig)
		message string
	}{
		{"valid", func(*RunConfig) {}, ""},
		{"zero requests", func(c *RunConfig) { c.NumRequests = 0 }, "num_requests must be at least 1"},
		{"zero concurrency", func(c *RunConfig) { c.Concurrency = 0 }, "concurrency must be at least 1"},
		{"negative max tokens", func(c *RunConfig) { c.MaxTokens = -1 }, "max_tokens must be at least 1"},
		{"missing model", func(c *RunConfig) { c.Model = "" }, "model is required"},
		{"bad api", func(c *RunConfig) { c.API = "embeddings" }, "api must be one of [chat completions]"},
		{"temperature too high", func(c *RunConfig) { c.Temperature = 3 }, "temperature must be at most 2"},
		{"zero timeout", func(c *RunConfig) { c.RequestTimeout = 0 }, "request_timeout must be positive"},
		{"bad endpoint", func(c *RunConfig) { c.Endpoint = "not a url" }, "endpoint failed validation (url)"},
		{"no endpoint is allowed", func(c *RunConfig) { c.Endpoint = "" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validRunConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.message == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestToSnakeCase(t *testing.T) {
	assert.Equal(t, "num_requests", toSnakeCase("NumRequests"))
	assert.Equal(t, "api", toSnakeCase("API"))
	assert.Equal(t, "http_status_code", toSnakeCase("HTTPStatusCode"))
}

func TestRunConfig_PromptFor(t *testing.T) {
	cfg := RunConfig{Prompt: "ctx"}
	assert.Equal(t, "ctx", cfg.PromptFor(5))

	cfg.Questions = []string{"a", "b"}
	assert.Equal(t, "ctx\n\na", cfg.PromptFor(0))
	assert.Equal(t, "ctx\n\nb", cfg.PromptFor(1))
	assert.Equal(t, "ctx\n\na", cfg.PromptFor(2))
}

func TestRunConfig_RequestID(t *testing.T) {
	cfg := RunConfig{}
	assert.Equal(t, "req-1", cfg.RequestID(0))

	cfg.ContextSize = "4k"
	assert.Equal(t, "4k-10", cfg.RequestID(9))
}

func TestRequestResult_Timings(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := RequestResult{
		Status:       StatusSuccess,
		StartTime:    start,
		HeadersTime:  start.Add(20 * time.Millisecond),
		FirstTokenAt: start.Add(100 * time.Millisecond),
		LastTokenAt:  start.Add(400 * time.Millisecond),
		EndTime:      start.Add(500 * time.Millisecond),
		OutputTokens: 4,
	}

	assert.Equal(t, 500*time.Millisecond, r.Duration())

	ttft, ok := r.TTFT()
	require.True(t, ok)
	assert.Equal(t, 100*time.Millisecond, ttft)

	headers, ok := r.TimeToHeaders()
	require.True(t, ok)
	assert.Equal(t, 20*time.Millisecond, headers)

	tpot, ok := r.TPOT()
	require.True(t, ok)
	assert.Equal(t, 100*time.Millisecond, tpot)
	assert.True(t, r.Succeeded())

	single := RequestResult{StartTime: start, FirstTokenAt: start, LastTokenAt: start, OutputTokens: 1}
	_, ok = single.TPOT()
	assert.False(t, ok)

	none := RequestResult{Status: StatusTimeout}
	_, ok = none.TTFT()
	assert.False(t, ok)
	_, ok = none.TimeToHeaders()
	assert.False(t, ok)
	assert.False(t, none.Succeeded())
}

func TestStatus_IsFailure(t *testing.T) {
	assert.False(t, StatusSuccess.IsFailure())
	for _, s := range []Status{StatusTimeout, StatusConnectionError, StatusProtocolError} {
		assert.True(t, s.IsFailure(), s)
	}
	assert.Len(t, AllStatuses, 4)
}

func TestStats_ErrorsByType(t *testing.T) {
	s := &Stats{StatusCounts: map[Status]int{
		StatusSuccess:       5,
		StatusTimeout:       2,
		StatusProtocolError: 0,
	}}

	assert.Equal(t, map[Status]int{StatusTimeout: 2}, s.ErrorsByType())
	assert.False(t, s.HasLatency())
	assert.False(t, s.HasTTFT())
}
