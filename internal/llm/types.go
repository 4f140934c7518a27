package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// the model call failed; the action produced nothing billable
var ErrUpstream = errors.New("llm: upstream call failed")

// runs a metered action against the language model. the caller never
// inspects the result beyond success or failure.
type Performer interface {
	Perform(ctx context.Context, action string, payload json.RawMessage) (json.RawMessage, error)
}

// holds configuration for the Anthropic performer
type AnthropicConfig struct {
	APIKey      string
	Model       string // e.g., "claude-sonnet-4-20250514"
	MaxTokens   int
	Temperature float32

	// overrides the messages endpoint (tests)
	BaseURL string
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature float32   `json:"temperature"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Role    string    `json:"role"`
	Content []content `json:"content"`
	Model   string    `json:"model"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// the body returned to callers
type Result struct {
	Action string          `json:"action"`
	Output json.RawMessage `json:"output"`
	Model  string          `json:"model"`
	Usage  Usage           `json:"usage"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
