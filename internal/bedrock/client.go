// Package bedrock streams completions from AWS Bedrock and exposes them as
// the same token events as the HTTP transport.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"llm-stream-bench/internal/llm"
	"llm-stream-bench/internal/sse"
)

// ServiceTier represents the Bedrock service tier
type ServiceTier string

const (
	ServiceTierDefault  ServiceTier = "default"
	ServiceTierPriority ServiceTier = "priority"
	ServiceTierFlex     ServiceTier = "flex"
)

// family is the request/response format a model speaks
type family int

const (
	familyUnsupported family = iota
	familyClaude
	familyOpenAI
	familyMistral
)

// ClientConfig holds the configuration needed to create a Bedrock client
type ClientConfig struct {
	Region      string
	AccessKey   string
	SecretKey   string
	ModelID     string
	ServiceTier ServiceTier
	Logger      *slog.Logger
}

// Client wraps the AWS Bedrock Runtime client
type Client struct {
	client      *bedrockruntime.Client
	modelID     string
	family      family
	serviceTier ServiceTier
	logger      *slog.Logger
	now         func() time.Time
}

// NewClient creates a new Bedrock client. Empty credentials fall back to the
// default credential chain (env, shared credentials, IAM role).
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	f := modelFamily(cfg.ModelID)
	if f == familyUnsupported {
		return nil, fmt.Errorf("streaming not supported for model %q", cfg.ModelID)
	}

	var awsCfg aws.Config
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		var err error
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load default AWS config: %w", err)
		}
	} else {
		awsCfg = aws.Config{
			Region:      cfg.Region,
			Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		}
	}

	tier := cfg.ServiceTier
	if tier == "" {
		tier = ServiceTierDefault
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		client:      bedrockruntime.NewFromConfig(awsCfg),
		modelID:     cfg.ModelID,
		family:      f,
		serviceTier: tier,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Open starts a streaming invocation
func (c *Client) Open(ctx context.Context, req llm.CompletionRequest) (llm.Stream, error) {
	body, err := c.requestBody(req)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare request: %w", err)
	}

	input := &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(c.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	}
	if c.serviceTier != ServiceTierDefault {
		input.ServiceTier = types.ServiceTierType(c.serviceTier)
	}

	output, err := c.client.InvokeModelWithResponseStream(ctx, input)
	if err != nil {
		return nil, c.classifyInvokeError(ctx, err)
	}

	return &stream{
		events: output.GetStream(),
		family: c.family,
		now:    c.now,
		info:   llm.ResponseInfo{StatusCode: 200, HeadersAt: c.now()},
	}, nil
}

// requestBody prepares the body for the model's family
func (c *Client) requestBody(req llm.CompletionRequest) ([]byte, error) {
	switch c.family {
	case familyClaude:
		return json.Marshal(ClaudeRequest{
			AnthropicVersion: "bedrock-2023-05-31",
			MaxTokens:        req.MaxTokens,
			Messages:         []ClaudeMessage{{Role: "user", Content: req.Prompt}},
			Temperature:      req.Temperature,
		})
	case familyMistral:
		return json.Marshal(MistralRequest{
			Prompt:      "<s>[INST] " + req.Prompt + " [/INST]",
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		})
	default:
		return json.Marshal(OpenAIRequest{
			Messages:    []ClaudeMessage{{Role: "user", Content: req.Prompt}},
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		})
	}
}

// modelFamily detects the request format from the model id
func modelFamily(modelID string) family {
	id := strings.ToLower(modelID)
	switch {
	case strings.Contains(id, "claude") || strings.Contains(id, "anthropic"):
		return familyClaude
	case strings.Contains(id, "deepseek") || strings.Contains(id, "qwen") || strings.Contains(id, "openai"):
		return familyOpenAI
	case strings.Contains(id, "mistral") || strings.Contains(id, "mixtral"):
		return familyMistral
	default:
		return familyUnsupported
	}
}

// classifyInvokeError turns service rejections into status errors so they are
// reported as protocol errors; anything without an HTTP status stays a
// transport error.
func (c *Client) classifyInvokeError(ctx context.Context, err error) error {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() != 0 {
		return &llm.StatusError{
			StatusCode: respErr.HTTPStatusCode(),
			Body:       c.categorizeError(ctx, err) + ": " + err.Error(),
		}
	}
	return err
}

// categorizeError labels AWS errors for diagnostics. Service errors are
// matched on their API error code, anything else on its message.
func (c *Client) categorizeError(ctx context.Context, err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return "ThrottlingError"
		case "ValidationException":
			return "ValidationError"
		case "AccessDeniedException":
			return "AccessDeniedError"
		case "ResourceNotFoundException":
			return "ModelNotFoundError"
		case "ServiceQuotaExceededException":
			return "QuotaExceededError"
		case "ModelTimeoutException":
			return "ModelTimeoutError"
		case "ServiceUnavailableException", "InternalServerException", "ModelNotReadyException":
			return "ServiceUnavailableError"
		}
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "throttling") || strings.Contains(errStr, "too many"):
		return "ThrottlingError"
	case strings.Contains(errStr, "validation"):
		return "ValidationError"
	case strings.Contains(errStr, "access denied"):
		return "AccessDeniedError"
	case strings.Contains(errStr, "not found"):
		return "ModelNotFoundError"
	case strings.Contains(errStr, "service quota"):
		return "QuotaExceededError"
	default:
		c.logger.DebugContext(ctx, "uncategorized bedrock error", "error", err)
		return "UnknownError"
	}
}

// eventStream is the part of the SDK event stream we read
type eventStream interface {
	Events() <-chan types.ResponseStream
	Close() error
	Err() error
}

// stream adapts a Bedrock response stream to llm.Stream
type stream struct {
	events   eventStream
	family   family
	now      func() time.Time
	info     llm.ResponseInfo
	finished bool
	done     bool
}

func (s *stream) Info() llm.ResponseInfo {
	return s.info
}

// Next returns the next token event. Bedrock has no terminal marker, so a
// stop signal followed by the channel closing yields a Done event.
func (s *stream) Next() (sse.Event, error) {
	if s.done {
		return sse.Event{}, io.EOF
	}

	for event := range s.events.Events() {
		chunk, ok := event.(*types.ResponseStreamMemberChunk)
		if !ok {
			continue
		}

		ev, terminal, err := parseChunk(s.family, chunk.Value.Bytes)
		if err != nil {
			return sse.Event{}, err
		}
		if terminal {
			s.finished = true
		}
		if ev.IsToken() || ev.UsageOutputTokens > 0 || ev.FinishReason != "" {
			ev.Received = s.now()
			return ev, nil
		}
	}

	if err := s.events.Err(); err != nil && !errors.Is(err, io.EOF) {
		return sse.Event{}, fmt.Errorf("stream error: %w", err)
	}
	if !s.finished {
		return sse.Event{}, sse.ErrUnterminated
	}
	s.done = true
	return sse.Event{Done: true, Received: s.now()}, nil
}

func (s *stream) Close() error {
	return s.events.Close()
}

// parseChunk decodes one chunk payload for the given family and reports
// whether it signals the end of generation
func parseChunk(f family, payload []byte) (sse.Event, bool, error) {
	var ev sse.Event
	terminal := false

	switch f {
	case familyClaude:
		var e ClaudeStreamEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return sse.Event{}, false, &sse.DecodeError{Payload: string(payload), Err: err}
		}
		switch e.Type {
		case "content_block_delta":
			if e.Delta != nil {
				ev.Text = e.Delta.Text
			}
		case "message_delta":
			if e.Usage != nil {
				ev.UsageOutputTokens = e.Usage.OutputTokens
			}
			if e.Delta != nil {
				ev.FinishReason = e.Delta.StopReason
			}
		case "message_stop":
			terminal = true
		}
	case familyMistral:
		var c MistralStreamChunk
		if err := json.Unmarshal(payload, &c); err != nil {
			return sse.Event{}, false, &sse.DecodeError{Payload: string(payload), Err: err}
		}
		if len(c.Outputs) > 0 {
			ev.Text = c.Outputs[0].Text
			ev.FinishReason = c.Outputs[0].StopReason
		}
	default:
		parsed, err := sse.ParsePayload(payload)
		if err != nil {
			return sse.Event{}, false, err
		}
		ev = parsed
	}

	var envelope metricsEnvelope
	if err := json.Unmarshal(payload, &envelope); err == nil && envelope.Metrics != nil {
		terminal = true
		if ev.UsageOutputTokens == 0 {
			ev.UsageOutputTokens = envelope.Metrics.OutputTokenCount
		}
	}
	if ev.FinishReason != "" {
		terminal = true
	}
	return ev, terminal, nil
}
