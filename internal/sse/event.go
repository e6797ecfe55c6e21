package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DoneMarker is the payload that terminates an OpenAI-compatible stream
const DoneMarker = "[DONE]"

var (
	// ErrUnterminated is returned when the connection closes before the terminal marker
	ErrUnterminated = errors.New("stream closed without terminal marker")
	// ErrNotEventStream is wrapped in a *DecodeError when a body ends without
	// ever carrying a data field
	ErrNotEventStream = errors.New("body is not an event stream")
	// ErrLineTooLong is wrapped in a *DecodeError when a line exceeds the
	// decoder's maximum length
	ErrLineTooLong = errors.New("line exceeds maximum length")
)

// strayLimit caps how much of an offending line is kept for error reports
const strayLimit = 256

// Event is one decoded stream event
type Event struct {
	Received          time.Time
	Text              string
	Reasoning         string
	FinishReason      string
	UsageOutputTokens int
	Done              bool
}

// IsToken reports whether the event carries generated text
func (e Event) IsToken() bool {
	return e.Text != "" || e.Reasoning != ""
}

// empty reports whether the event carries nothing worth surfacing
func (e Event) empty() bool {
	return !e.Done && !e.IsToken() && e.FinishReason == "" && e.UsageOutputTokens == 0
}

// DecodeError is returned when a data payload is not valid JSON or the body
// does not follow event stream framing
type DecodeError struct {
	Payload string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed stream payload %q: %v", truncate(e.Payload, 120), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ServerError is an error object delivered inside the stream
type ServerError struct {
	Message string
	Type    string
}

func (e *ServerError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("server error in stream (%s): %s", e.Type, e.Message)
	}
	return fmt.Sprintf("server error in stream: %s", e.Message)
}

// chunk is the subset of an OpenAI-compatible streaming chunk we read
type chunk struct {
	Choices []struct {
		Text  string `json:"text"`
		Delta *struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			Reasoning        string `json:"reasoning"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ParsePayload decodes one JSON data payload into an Event. Received is left
// for the caller to stamp.
func ParsePayload(data []byte) (Event, error) {
	var c chunk
	if err := json.Unmarshal(data, &c); err != nil {
		return Event{}, &DecodeError{Payload: string(data), Err: err}
	}

	if c.Error != nil {
		return Event{}, &ServerError{Message: c.Error.Message, Type: c.Error.Type}
	}

	var ev Event
	if len(c.Choices) > 0 {
		choice := c.Choices[0]
		ev.Text = choice.Text
		if choice.Delta != nil {
			ev.Text += choice.Delta.Content
			ev.Reasoning = choice.Delta.ReasoningContent
			if ev.Reasoning == "" {
				ev.Reasoning = choice.Delta.Reasoning
			}
		}
		if choice.FinishReason != nil {
			ev.FinishReason = *choice.FinishReason
		}
	}
	if c.Usage != nil {
		ev.UsageOutputTokens = c.Usage.CompletionTokens
	}
	return ev, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
