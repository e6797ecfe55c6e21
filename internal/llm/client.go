// Package llm talks to OpenAI-compatible streaming completion endpoints.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"llm-stream-bench/internal/sse"
	"llm-stream-bench/internal/types"
)

const (
	chatPath        = "/chat/completions"
	completionsPath = "/completions"
	errorBodyLimit  = 512
)

// Client sends streaming completion requests over HTTP. One Client is shared
// by all workers of a run so connections are reused.
type Client struct {
	url        string
	apiKey     string
	api        types.API
	httpClient *http.Client
	now        func() time.Time
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithAPI selects the chat or legacy completions body shape
func WithAPI(api types.API) ClientOption {
	return func(c *Client) {
		if api != "" {
			c.api = api
		}
	}
}

// WithClock sets the clock used for header and event timestamps
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a client for the given base URL. The completion path is
// appended unless the URL already ends with it.
func NewClient(endpoint, apiKey string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid endpoint: %v", types.ErrInvalidConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: endpoint must be an http(s) URL, got %q", types.ErrInvalidConfig, endpoint)
	}

	c := &Client{
		apiKey:     apiKey,
		api:        types.APIChat,
		httpClient: NewHTTPClient(0),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.url = completionURL(strings.TrimRight(endpoint, "/"), c.api)
	return c, nil
}

// NewHTTPClient returns an HTTP client without an overall timeout, keeping up
// to maxConns idle connections per host. Request deadlines come from the
// request context.
func NewHTTPClient(maxConns int) *http.Client {
	if maxConns <= 0 {
		maxConns = 100
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          maxConns,
		MaxIdleConnsPerHost:   maxConns,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{Transport: transport}
}

// URL returns the full completion URL requests are sent to
func (c *Client) URL() string {
	return c.url
}

// Open sends the request and returns the event stream once headers arrive
func (c *Client) Open(ctx context.Context, req CompletionRequest) (Stream, error) {
	body, err := c.requestBody(req)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	info := ResponseInfo{StatusCode: resp.StatusCode, HeadersAt: c.now()}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "text/event-stream" {
			resp.Body.Close()
			return nil, &ProtocolError{
				StatusCode: resp.StatusCode,
				Reason:     fmt.Sprintf("unexpected content type %q", ct),
			}
		}
	}

	return &httpStream{
		body:    resp.Body,
		info:    info,
		decoder: sse.NewDecoder(resp.Body, sse.WithClock(c.now)),
	}, nil
}

// requestBody builds the JSON body for the configured API shape
func (c *Client) requestBody(req CompletionRequest) ([]byte, error) {
	var opts *StreamOptions
	if req.IncludeUsage {
		opts = &StreamOptions{IncludeUsage: true}
	}

	if c.api == types.APICompletions {
		return json.Marshal(CompletionBody{
			Model:         req.Model,
			Prompt:        req.Prompt,
			MaxTokens:     req.MaxTokens,
			Temperature:   req.Temperature,
			Stream:        true,
			StreamOptions: opts,
		})
	}

	return json.Marshal(ChatRequest{
		Model: req.Model,
		Messages: []ChatMessage{
			{
				Role:    "user",
				Content: req.Prompt,
			},
		},
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		Stream:        true,
		StreamOptions: opts,
	})
}

// completionURL appends the API path unless the endpoint already names it
func completionURL(base string, api types.API) string {
	path := chatPath
	if api == types.APICompletions {
		path = completionsPath
	}
	if strings.HasSuffix(base, path) {
		return base
	}
	return base + path
}

// httpStream adapts an HTTP response body to the Stream interface
type httpStream struct {
	body    io.ReadCloser
	info    ResponseInfo
	decoder *sse.Decoder
}

func (s *httpStream) Info() ResponseInfo {
	return s.info
}

func (s *httpStream) Next() (sse.Event, error) {
	return s.decoder.Next()
}

func (s *httpStream) Close() error {
	return s.body.Close()
}
