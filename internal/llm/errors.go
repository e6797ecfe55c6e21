package llm

import (
	"context"
	"errors"
	"fmt"

	"llm-stream-bench/internal/sse"
	"llm-stream-bench/internal/types"
)

// StatusError is returned when the endpoint answers with a non-2xx status
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// ProtocolError is returned when the response is not an event stream
type ProtocolError struct {
	StatusCode int
	Reason     string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

// Classify maps a request failure onto the result status taxonomy. ctx is the
// request context, whose deadline marks a timeout regardless of where the
// failure surfaced.
func Classify(ctx context.Context, err error) types.Status {
	if err == nil {
		return types.StatusSuccess
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return types.StatusTimeout
	}

	var statusErr *StatusError
	var protocolErr *ProtocolError
	var decodeErr *sse.DecodeError
	var serverErr *sse.ServerError
	switch {
	case errors.As(err, &statusErr),
		errors.As(err, &protocolErr),
		errors.As(err, &decodeErr),
		errors.As(err, &serverErr):
		return types.StatusProtocolError
	default:
		return types.StatusConnectionError
	}
}

// StatusCode extracts the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	var protocolErr *ProtocolError
	if errors.As(err, &protocolErr) {
		return protocolErr.StatusCode
	}
	return 0
}
