package provider

import (
	"context"
	"errors"

	"github.com/divvychat/divvychat/pkg/models"
)

// Common errors returned by providers
var (
	ErrProviderRateLimit = errors.New("provider rate limit exceeded")
	ErrProviderAuth      = errors.New("provider authentication failed")
	ErrProviderTimeout   = errors.New("provider call timed out")
	ErrProviderError     = errors.New("provider API error")
	ErrInvalidResponse   = errors.New("invalid provider response")
)

// ChatMessage is one message in the prompt sent to the remote model.
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Completion is the result of one remote model invocation.
type Completion struct {
	Text     string
	UnitsIn  int64
	UnitsOut int64
	Model    string
}

// Provider defines the interface to the remote model provider. The router
// is agnostic to which provider or model family answers the call; the tier
// selects the capability/price level.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai")
	Name() string

	// Invoke sends the prompt to the model mapped to the given tier.
	// Implementations must honor ctx cancellation and apply a bounded
	// timeout; a timed-out call returns an error wrapping ErrProviderTimeout.
	Invoke(ctx context.Context, tier models.Tier, systemPrompt string, messages []ChatMessage) (*Completion, error)
}
