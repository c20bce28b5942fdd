// Package llm provides the completion client used by the content analyzer.
// The wire format follows the OpenAI-compatible chat completions shape so the
// base URL can point at any compatible gateway.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

const (
	defaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 1024
	maxRetries       = 3
	initialDelay     = 1 * time.Second
	defaultTimeout   = 30 * time.Second
)

// Client is the minimal completion interface the pipeline depends on.
type Client interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// HTTPClient calls an OpenAI-compatible chat completions endpoint with
// bounded retries on 429/5xx.
type HTTPClient struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

type chatRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Messages  []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// ErrNoAPIKey is returned when the client is constructed without credentials.
var ErrNoAPIKey = errors.New("llm: api key not set")

// NewHTTPClient builds a client against baseURL (e.g. https://api.openai.com/v1).
// Empty model and timeout fall back to defaults.
func NewHTTPClient(baseURL, apiKey, model string, timeout time.Duration) *HTTPClient {
	if model == "" {
		model = defaultModel
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

// Complete sends a single-user-message completion and returns the text of the
// first choice.
func (c *HTTPClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if c.apiKey == "" {
		return "", ErrNoAPIKey
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	body, err := json.Marshal(chatRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * initialDelay
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("http request failed: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if isRetryableStatus(resp.StatusCode) {
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("llm: status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
		}

		var parsed chatResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return "", fmt.Errorf("unmarshal response: %w", err)
		}
		if parsed.Error != nil {
			return "", fmt.Errorf("llm: %s: %s", parsed.Error.Type, parsed.Error.Message)
		}
		if len(parsed.Choices) == 0 {
			return "", errors.New("llm: empty choices")
		}
		return parsed.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("llm: max retries exceeded: %w", lastErr)
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
