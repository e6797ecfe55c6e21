package benchmark

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"llm-stream-bench/internal/llm"
	"llm-stream-bench/internal/sse"
	"llm-stream-bench/internal/types"
)

// fakeStream replays events, then returns err (io.EOF when nil)
type fakeStream struct {
	ctx    context.Context
	events []sse.Event
	err    error
	delay  time.Duration
	info   llm.ResponseInfo
	pos    int
}

func (s *fakeStream) Info() llm.ResponseInfo { return s.info }

func (s *fakeStream) Next() (sse.Event, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-s.ctx.Done():
			return sse.Event{}, s.ctx.Err()
		}
	}
	if s.pos < len(s.events) {
		ev := s.events[s.pos]
		s.pos++
		return ev, nil
	}
	if s.err != nil {
		return sse.Event{}, s.err
	}
	return sse.Event{}, io.EOF
}

func (s *fakeStream) Close() error { return nil }

// fakeTransport serves canned streams and tracks concurrent requests
type fakeTransport struct {
	// hold delays each request before its stream is returned
	hold   time.Duration
	events []sse.Event
	openFn func(ctx context.Context, req llm.CompletionRequest) (llm.Stream, error)

	mu      sync.Mutex
	prompts []string

	calls  atomic.Int64
	active atomic.Int64
	peak   atomic.Int64
}

func (f *fakeTransport) Open(ctx context.Context, req llm.CompletionRequest) (llm.Stream, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.prompts = append(f.prompts, req.Prompt)
	f.mu.Unlock()

	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if f.hold > 0 {
		select {
		case <-time.After(f.hold):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.openFn != nil {
		return f.openFn(ctx, req)
	}
	return &fakeStream{
		ctx:    ctx,
		events: f.events,
		info:   llm.ResponseInfo{StatusCode: http.StatusOK, HeadersAt: time.Now()},
	}, nil
}

// tokenEvents returns one token event per text followed by the terminal event
func tokenEvents(texts ...string) []sse.Event {
	events := make([]sse.Event, 0, len(texts)+1)
	for _, text := range texts {
		events = append(events, sse.Event{Received: time.Now(), Text: text})
	}
	return append(events, sse.Event{Done: true})
}

// stepClock advances by step on every call
func stepClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := current
		current = current.Add(step)
		return t
	}
}

func testRunConfig(n, c int) types.RunConfig {
	return types.RunConfig{
		Endpoint:       "http://localhost:8000/v1",
		API:            types.APIChat,
		Model:          "test-model",
		NumRequests:    n,
		Concurrency:    c,
		MaxTokens:      16,
		RequestTimeout: 5 * time.Second,
		Prompt:         "hello",
	}
}

func sseServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

// writeChunks writes token chunks, flushing each, and optionally the terminal marker
func writeChunks(w http.ResponseWriter, done bool, tokens ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	for _, tok := range tokens {
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", tok)
		if flusher != nil {
			flusher.Flush()
		}
	}
	if done {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
}

func newHTTPTransport(t *testing.T, url string) *llm.Client {
	t.Helper()
	client, err := llm.NewClient(url+"/v1", "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}
