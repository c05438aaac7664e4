// Package openaicompat implements the remote model provider against any
// OpenAI-compatible chat completion API. Works with OpenAI, Grok/xAI,
// Together, Ollama, and others.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/divvychat/divvychat/internal/provider"
	"github.com/divvychat/divvychat/pkg/models"
)

// Client is an OpenAI-compatible chat completion client.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	tierModels map[models.Tier]string
	timeout    time.Duration
	maxTokens  int
	limiter    *rate.Limiter
}

var _ provider.Provider = (*Client)(nil)

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Client) { p.httpClient = c }
}

// WithTimeout bounds each Invoke call (default 30s).
func WithTimeout(d time.Duration) Option {
	return func(p *Client) { p.timeout = d }
}

// WithMaxTokens caps the completion length requested from the model.
func WithMaxTokens(n int) Option {
	return func(p *Client) { p.maxTokens = n }
}

// WithRateLimit throttles outbound calls to rps requests per second.
func WithRateLimit(rps float64) Option {
	return func(p *Client) {
		if rps > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// New creates a new OpenAI-compatible client. tierModels maps each tier to
// the provider model name that serves it.
func New(name, baseURL, apiKey string, tierModels map[models.Tier]string, opts ...Option) *Client {
	c := &Client{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: http.DefaultClient,
		tierModels: tierModels,
		timeout:    30 * time.Second,
		maxTokens:  1024,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return c.name }

// apiRequest is the OpenAI chat completion request format.
type apiRequest struct {
	Model     string       `json:"model"`
	Messages  []apiMessage `json:"messages"`
	MaxTokens int          `json:"max_tokens,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// apiResponse is the OpenAI chat completion response format.
type apiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int        `json:"index"`
		Message      apiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Invoke sends the prompt to the model mapped to tier.
func (c *Client) Invoke(ctx context.Context, tier models.Tier, systemPrompt string, messages []provider.ChatMessage) (*provider.Completion, error) {
	model, ok := c.tierModels[tier]
	if !ok || model == "" {
		return nil, provider.NewProviderError(c.name, "invoke", 0,
			fmt.Sprintf("no model configured for tier %s", tier), provider.ErrInvalidResponse)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s invoke throttle: %w", c.name, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := apiRequest{
		Model:     model,
		MaxTokens: c.maxTokens,
	}
	if systemPrompt != "" {
		req.Messages = append(req.Messages, apiMessage{Role: "system", Content: systemPrompt})
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, apiMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := c.doRequest(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s invoke: %w", c.name, provider.ErrProviderTimeout)
		}
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, provider.NewProviderError(c.name, "invoke", 0, "response has no choices", provider.ErrInvalidResponse)
	}

	return &provider.Completion{
		Text:     resp.Choices[0].Message.Content,
		UnitsIn:  resp.Usage.PromptTokens,
		UnitsOut: resp.Usage.CompletionTokens,
		Model:    resp.Model,
	}, nil
}

func (c *Client) doRequest(ctx context.Context, req apiRequest) (*apiResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%s invoke: marshal request: %w", c.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s invoke: build request: %w", c.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, fmt.Errorf("%s invoke: %w", c.name, provider.ErrProviderTimeout)
		}
		return nil, fmt.Errorf("%s invoke: %w", c.name, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s invoke: read response: %w", c.name, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, c.mapHTTPError(httpResp.StatusCode, respBody)
	}

	var resp apiResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, provider.NewProviderError(c.name, "invoke", httpResp.StatusCode,
			"malformed response body", provider.ErrInvalidResponse)
	}
	return &resp, nil
}

func (c *Client) mapHTTPError(status int, body []byte) error {
	message := strings.TrimSpace(string(body))
	var ae apiError
	if err := json.Unmarshal(body, &ae); err == nil && ae.Error.Message != "" {
		message = ae.Error.Message
	}

	var sentinel error
	switch {
	case status == http.StatusTooManyRequests:
		sentinel = provider.ErrProviderRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		sentinel = provider.ErrProviderAuth
	default:
		sentinel = provider.ErrProviderError
	}
	return provider.NewProviderError(c.name, "invoke", status, message, sentinel)
}
