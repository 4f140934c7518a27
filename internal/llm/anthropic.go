package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"codeberg.org/interviewkit/server/internal/retry"
)

const (
	anthropicMessagesURL = "https://api.anthropic.com/v1/messages"
	anthropicVersion     = "2023-06-01"
	defaultMaxTokens     = 1024
	defaultTemperature   = 0.3

	// anthropic "overloaded"
	statusOverloaded = 529
)

// shared HTTP client for Anthropic API calls
var anthropicHTTPClient = &http.Client{
	Timeout: 60 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
}

// rate limiter for Anthropic API calls (50 requests/second with burst capacity of 10)
var anthropicRateLimiter = rate.NewLimiter(50, 10)

type AnthropicPerformer struct {
	config     AnthropicConfig
	httpClient *http.Client
	retry      retry.Policy
}

func NewAnthropicPerformer(config AnthropicConfig) *AnthropicPerformer {
	if config.MaxTokens == 0 {
		config.MaxTokens = defaultMaxTokens
	}

	if config.Temperature == 0 {
		config.Temperature = defaultTemperature
	}

	if config.BaseURL == "" {
		config.BaseURL = anthropicMessagesURL
	}

	return &AnthropicPerformer{
		config:     config,
		httpClient: anthropicHTTPClient,
		retry:      retry.DefaultPolicy(),
	}
}

func (p *AnthropicPerformer) Model() string {
	return p.config.Model
}

// runs action with payload as the user message and returns a Result as JSON.
// transient upstream failures are retried; anything else fails immediately.
func (p *AnthropicPerformer) Perform(ctx context.Context, action string, payload json.RawMessage) (json.RawMessage, error) {
	system, ok := systemPrompts[action]
	if !ok {
		return nil, fmt.Errorf("%w: no prompt for action %s", ErrUpstream, action)
	}

	reqBody := messagesRequest{
		Model:       p.config.Model,
		MaxTokens:   p.config.MaxTokens,
		System:      system,
		Temperature: p.config.Temperature,
		Messages: []message{
			{Role: "user", Content: string(payload)},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := retry.Do(ctx, p.retry, func(ctx context.Context) (*messagesResponse, error) {
		return p.send(ctx, jsonData)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	if len(resp.Content) == 0 {
		return nil, fmt.Errorf("%w: no content in response", ErrUpstream)
	}

	text := strings.TrimSpace(resp.Content[0].Text)

	output := json.RawMessage(text)
	if !json.Valid(output) {
		quoted, err := json.Marshal(text)
		if err != nil {
			return nil, fmt.Errorf("failed to encode output: %w", err)
		}

		output = quoted
	}

	return json.Marshal(Result{
		Action: action,
		Output: output,
		Model:  resp.Model,
		Usage: Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	})
}

func (p *AnthropicPerformer) send(ctx context.Context, body []byte) (*messagesResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	// rate limiting
	if err := anthropicRateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, retry.Transientf("failed to send request: %w", err)
	}

	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body) //nolint:errcheck
		err := fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))

		switch {
		case resp.StatusCode == http.StatusTooManyRequests,
			resp.StatusCode == statusOverloaded,
			resp.StatusCode >= 500:
			return nil, retry.Transient(err)
		default:
			return nil, err
		}
	}

	var apiResp messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &apiResp, nil
}
