package types

import (
	"time"
)

// Status is the closed set of request outcomes
type Status string

const (
	StatusSuccess         Status = "success"
	StatusTimeout         Status = "timeout"
	StatusConnectionError Status = "connection_error"
	StatusProtocolError   Status = "protocol_error"
)

// AllStatuses lists every status in reporting order
var AllStatuses = []Status{
	StatusSuccess,
	StatusTimeout,
	StatusConnectionError,
	StatusProtocolError,
}

// IsFailure reports whether the status counts against the error rate
func (s Status) IsFailure() bool {
	return s != StatusSuccess
}

// RequestTask is one unit of scheduled work
type RequestTask struct {
	Index  int
	Config *RunConfig
}

// RequestResult is the outcome of one RequestTask. It is created once by a
// worker and never modified afterwards.
type RequestResult struct {
	Index     int    `json:"index"`
	RequestID string `json:"request_id"`
	Status    Status `json:"status"`
	Error     string `json:"error,omitempty"`

	StartTime    time.Time `json:"start_time"`
	HeadersTime  time.Time `json:"headers_time,omitempty"`
	FirstTokenAt time.Time `json:"first_token_at,omitempty"`
	LastTokenAt  time.Time `json:"last_token_at,omitempty"`
	EndTime      time.Time `json:"end_time"`

	HTTPStatusCode int    `json:"http_status_code,omitempty"`
	FinishReason   string `json:"finish_reason,omitempty"`
	Unterminated   bool   `json:"unterminated,omitempty"`

	// OutputTokens counts token events; UsageOutputTokens is the server's own
	// count when the stream reports usage.
	OutputTokens          int `json:"output_tokens"`
	ReasoningTokens       int `json:"reasoning_tokens"`
	UsageOutputTokens     int `json:"usage_output_tokens,omitempty"`
	EstimatedOutputTokens int `json:"estimated_output_tokens"`
	OutputBytes           int `json:"output_bytes"`
	OutputChars           int `json:"output_chars"`
	PromptChars           int `json:"prompt_chars"`
	PromptTokensEstimate  int `json:"prompt_tokens_estimate"`
}

// Duration returns the total elapsed time of the request
func (r *RequestResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// TTFT returns the time to first token, or false if no token arrived
func (r *RequestResult) TTFT() (time.Duration, bool) {
	if r.FirstTokenAt.IsZero() {
		return 0, false
	}
	return r.FirstTokenAt.Sub(r.StartTime), true
}

// TimeToHeaders returns the time until response headers arrived
func (r *RequestResult) TimeToHeaders() (time.Duration, bool) {
	if r.HeadersTime.IsZero() {
		return 0, false
	}
	return r.HeadersTime.Sub(r.StartTime), true
}

// TPOT returns the mean time per output token after the first one
func (r *RequestResult) TPOT() (time.Duration, bool) {
	if r.OutputTokens < 2 || r.FirstTokenAt.IsZero() {
		return 0, false
	}
	return r.LastTokenAt.Sub(r.FirstTokenAt) / time.Duration(r.OutputTokens-1), true
}

// Succeeded reports whether the request completed successfully
func (r *RequestResult) Succeeded() bool {
	return r.Status == StatusSuccess
}
