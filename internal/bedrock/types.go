package bedrock

// ClaudeRequest represents a request to Claude models
type ClaudeRequest struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	Messages         []ClaudeMessage `json:"messages"`
	Temperature      float64         `json:"temperature,omitempty"`
}

// ClaudeMessage represents a message in Claude request
type ClaudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ClaudeResponse represents the message envelope sent at stream start
type ClaudeResponse struct {
	ID    string      `json:"id"`
	Model string      `json:"model"`
	Usage ClaudeUsage `json:"usage"`
}

// ClaudeUsage represents token usage in Claude response
type ClaudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ClaudeStreamEvent represents a streaming event from Claude
type ClaudeStreamEvent struct {
	Type    string             `json:"type"`
	Index   int                `json:"index,omitempty"`
	Delta   *ClaudeStreamDelta `json:"delta,omitempty"`
	Message *ClaudeResponse    `json:"message,omitempty"`
	Usage   *ClaudeUsage       `json:"usage,omitempty"`
}

// ClaudeStreamDelta represents a delta in streaming response
type ClaudeStreamDelta struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

// MistralRequest represents a request to Mistral models
type MistralRequest struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// MistralStreamChunk represents a streaming chunk from Mistral models
type MistralStreamChunk struct {
	Outputs []struct {
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"outputs"`
}

// OpenAIRequest represents a request to OpenAI-format models (DeepSeek, Qwen)
type OpenAIRequest struct {
	Messages    []ClaudeMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
}

// InvocationMetrics is appended by Bedrock to the final chunk of a stream
type InvocationMetrics struct {
	InputTokenCount  int `json:"inputTokenCount"`
	OutputTokenCount int `json:"outputTokenCount"`
}

// metricsEnvelope extracts the invocation metrics from any chunk
type metricsEnvelope struct {
	Metrics *InvocationMetrics `json:"amazon-bedrock-invocationMetrics"`
}
