package bedrock

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-stream-bench/internal/llm"
	"llm-stream-bench/internal/logging"
	"llm-stream-bench/internal/sse"
	benchtypes "llm-stream-bench/internal/types"
)

type fakeEvents struct {
	ch  chan types.ResponseStream
	err error
}

func newFakeEvents(payloads ...string) *fakeEvents {
	ch := make(chan types.ResponseStream, len(payloads))
	for _, p := range payloads {
		ch <- &types.ResponseStreamMemberChunk{Value: types.PayloadPart{Bytes: []byte(p)}}
	}
	close(ch)
	return &fakeEvents{ch: ch}
}

func (f *fakeEvents) Events() <-chan types.ResponseStream { return f.ch }
func (f *fakeEvents) Close() error                        { return nil }
func (f *fakeEvents) Err() error                          { return f.err }

func collect(t *testing.T, s llm.Stream) ([]sse.Event, error) {
	t.Helper()
	var events []sse.Event
	for i := 0; i < 100; i++ {
		ev, err := s.Next()
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	t.Fatal("stream did not terminate")
	return nil, nil
}

func TestModelFamily(t *testing.T) {
	tests := []struct {
		modelID  string
		expected family
	}{
		{"anthropic.claude-3-haiku-20240307-v1:0", familyClaude},
		{"us.anthropic.claude-sonnet-4-20250514-v1:0", familyClaude},
		{"deepseek.r1-v1:0", familyOpenAI},
		{"qwen.qwen3-32b-v1:0", familyOpenAI},
		{"mistral.mistral-large-2407-v1:0", familyMistral},
		{"amazon.titan-text-express-v1", familyUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.modelID, func(t *testing.T) {
			assert.Equal(t, tt.expected, modelFamily(tt.modelID))
		})
	}
}

func TestRequestBody(t *testing.T) {
	req := llm.CompletionRequest{Model: "m", Prompt: "hello", MaxTokens: 64, Temperature: 0.5}

	t.Run("claude", func(t *testing.T) {
		body, err := (&Client{family: familyClaude}).requestBody(req)
		require.NoError(t, err)

		var got ClaudeRequest
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, "bedrock-2023-05-31", got.AnthropicVersion)
		assert.Equal(t, 64, got.MaxTokens)
		assert.Equal(t, 0.5, got.Temperature)
		require.Len(t, got.Messages, 1)
		assert.Equal(t, "hello", got.Messages[0].Content)
	})

	t.Run("mistral", func(t *testing.T) {
		body, err := (&Client{family: familyMistral}).requestBody(req)
		require.NoError(t, err)

		var got MistralRequest
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, "<s>[INST] hello [/INST]", got.Prompt)
	})

	t.Run("openai", func(t *testing.T) {
		body, err := (&Client{family: familyOpenAI}).requestBody(req)
		require.NoError(t, err)

		var got OpenAIRequest
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, 64, got.MaxTokens)
		require.Len(t, got.Messages, 1)
	})
}

func TestStream_Claude(t *testing.T) {
	events := newFakeEvents(
		`{"type":"message_start","message":{"id":"msg","model":"claude","usage":{"input_tokens":5}}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" there"}}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`,
		`{"type":"message_stop","amazon-bedrock-invocationMetrics":{"inputTokenCount":5,"outputTokenCount":2}}`,
	)
	s := &stream{events: events, family: familyClaude, now: time.Now}

	got, err := collect(t, s)

	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, got, 5)
	assert.Equal(t, "Hi", got[0].Text)
	assert.Equal(t, " there", got[1].Text)
	assert.Equal(t, "end_turn", got[2].FinishReason)
	assert.Equal(t, 2, got[2].UsageOutputTokens)
	assert.True(t, got[4].Done)
}

func TestStream_MistralWithoutStopIsUnterminated(t *testing.T) {
	events := newFakeEvents(`{"outputs":[{"text":"a","stop_reason":null}]}`)
	s := &stream{events: events, family: familyMistral, now: time.Now}

	got, err := collect(t, s)

	assert.ErrorIs(t, err, sse.ErrUnterminated)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Text)
}

func TestStream_OpenAIFamily(t *testing.T) {
	events := newFakeEvents(
		`{"choices":[{"delta":{"reasoning_content":"hmm"}}]}`,
		`{"choices":[{"delta":{"content":"ok"},"finish_reason":"stop"}]}`,
	)
	s := &stream{events: events, family: familyOpenAI, now: time.Now}

	got, err := collect(t, s)

	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, got, 3)
	assert.Equal(t, "hmm", got[0].Reasoning)
	assert.Equal(t, "stop", got[1].FinishReason)
	assert.True(t, got[2].Done)
}

func TestStream_MalformedChunk(t *testing.T) {
	s := &stream{events: newFakeEvents(`{broken`), family: familyClaude, now: time.Now}

	_, err := s.Next()

	var decodeErr *sse.DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestStream_TransportError(t *testing.T) {
	events := newFakeEvents()
	events.err = errors.New("connection reset")
	s := &stream{events: events, family: familyClaude, now: time.Now}

	_, err := s.Next()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NotErrorIs(t, err, sse.ErrUnterminated)
}

func discardClient() *Client {
	return &Client{logger: logging.Discard(), now: time.Now}
}

func TestCategorizeError(t *testing.T) {
	c := discardClient()
	ctx := context.Background()
	assert.Equal(t, "ThrottlingError", c.categorizeError(ctx, errors.New("ThrottlingException: Too many requests")))
	assert.Equal(t, "ValidationError", c.categorizeError(ctx, errors.New("ValidationException: bad input")))
	assert.Equal(t, "AccessDeniedError", c.categorizeError(ctx, errors.New("access denied")))
	assert.Equal(t, "UnknownError", c.categorizeError(ctx, errors.New("something else")))
}

func TestCategorizeError_LogsToClientLogger(t *testing.T) {
	var buf bytes.Buffer
	c := &Client{logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}

	assert.Equal(t, "UnknownError", c.categorizeError(context.Background(), errors.New("something else")))
	assert.Contains(t, buf.String(), "uncategorized bedrock error")
	assert.Contains(t, buf.String(), "something else")
}

func TestCategorizeError_APIErrorCodes(t *testing.T) {
	tests := []struct {
		code     string
		expected string
	}{
		{"ThrottlingException", "ThrottlingError"},
		{"ServiceQuotaExceededException", "QuotaExceededError"},
		{"ResourceNotFoundException", "ModelNotFoundError"},
		{"ModelTimeoutException", "ModelTimeoutError"},
		{"ModelNotReadyException", "ServiceUnavailableError"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := fmt.Errorf("operation error: %w", &smithy.GenericAPIError{Code: tt.code, Message: "rejected"})
			assert.Equal(t, tt.expected, discardClient().categorizeError(context.Background(), err))
		})
	}
}

func TestClassifyInvokeError_ServiceRejection(t *testing.T) {
	err := &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusTooManyRequests}},
			Err:      &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"},
		},
	}

	classified := discardClient().classifyInvokeError(context.Background(), err)

	var statusErr *llm.StatusError
	require.ErrorAs(t, classified, &statusErr)
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.True(t, strings.HasPrefix(statusErr.Body, "ThrottlingError: "))
	assert.Equal(t, benchtypes.StatusProtocolError, llm.Classify(context.Background(), classified))
}

func TestClassifyInvokeError_PassesThroughTransportErrors(t *testing.T) {
	err := errors.New("dial tcp: no such host")
	assert.Equal(t, err, discardClient().classifyInvokeError(context.Background(), err))
}
