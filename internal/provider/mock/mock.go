// Package mock provides a scripted model provider for tests and local
// development.
package mock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/divvychat/divvychat/internal/provider"
	"github.com/divvychat/divvychat/pkg/models"
)

// Provider is a mock model provider.
type Provider struct {
	name         string
	latency      time.Duration
	staticErr    error
	text         string
	unitsIn      int64
	unitsOut     int64
	callCount    atomic.Int64
	responseFunc func(tier models.Tier, messages []provider.ChatMessage) (*provider.Completion, error)
}

var _ provider.Provider = (*Provider)(nil)

// Option configures a mock Provider.
type Option func(*Provider)

// New creates a mock provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:     "mock",
		text:     "mock response",
		unitsIn:  10,
		unitsOut: 20,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithName sets the provider name.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithError makes the provider always return this error.
func WithError(err error) Option {
	return func(p *Provider) { p.staticErr = err }
}

// WithResponse sets the text and usage returned by the mock.
func WithResponse(text string, unitsIn, unitsOut int64) Option {
	return func(p *Provider) {
		p.text = text
		p.unitsIn = unitsIn
		p.unitsOut = unitsOut
	}
}

// WithResponseFunc sets a custom response function.
func WithResponseFunc(fn func(tier models.Tier, messages []provider.ChatMessage) (*provider.Completion, error)) Option {
	return func(p *Provider) { p.responseFunc = fn }
}

func (p *Provider) Name() string { return p.name }

// CallCount returns how many times Invoke has been called.
func (p *Provider) CallCount() int64 { return p.callCount.Load() }

// Invoke returns the scripted completion.
func (p *Provider) Invoke(ctx context.Context, tier models.Tier, systemPrompt string, messages []provider.ChatMessage) (*provider.Completion, error) {
	p.callCount.Add(1)

	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if p.staticErr != nil {
		return nil, p.staticErr
	}

	if p.responseFunc != nil {
		return p.responseFunc(tier, messages)
	}

	return &provider.Completion{
		Text:     p.text,
		UnitsIn:  p.unitsIn,
		UnitsOut: p.unitsOut,
		Model:    "mock-" + tier.String(),
	}, nil
}
