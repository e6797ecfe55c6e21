package llm

import (
	"context"
	"time"

	"llm-stream-bench/internal/sse"
)

// CompletionRequest holds the per-request generation parameters
type CompletionRequest struct {
	Model        string
	Prompt       string
	MaxTokens    int
	Temperature  float64
	IncludeUsage bool
}

// ResponseInfo describes the response once headers have arrived
type ResponseInfo struct {
	StatusCode int
	HeadersAt  time.Time
}

// Stream yields the decoded events of one streaming completion
type Stream interface {
	Info() ResponseInfo
	Next() (sse.Event, error)
	Close() error
}

// Transport opens streaming completions against a backend
type Transport interface {
	Open(ctx context.Context, req CompletionRequest) (Stream, error)
}

// ChatRequest represents a streaming chat completion request body
type ChatRequest struct {
	Model         string         `json:"model"`
	Messages      []ChatMessage  `json:"messages"`
	MaxTokens     int            `json:"max_tokens"`
	Temperature   float64        `json:"temperature"`
	Stream        bool           `json:"stream"`
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
}

// ChatMessage represents a message in a chat request
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionBody represents a streaming legacy completion request body
type CompletionBody struct {
	Model         string         `json:"model"`
	Prompt        string         `json:"prompt"`
	MaxTokens     int            `json:"max_tokens"`
	Temperature   float64        `json:"temperature"`
	Stream        bool           `json:"stream"`
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
}

// StreamOptions asks the server to append a usage chunk
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}
