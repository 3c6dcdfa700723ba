// Package anthropic adapts the Anthropic Messages API to the canonical
// streaming protocol.
package anthropic

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	llmprovider "github.com/haowjy/meridian-agent-go"
)

// MessagesClient is the subset of the SDK client the provider uses.
// *anthropic.MessageService satisfies it.
type MessagesClient interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
	NewStreaming(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

// Provider implements llmprovider.Provider for Anthropic (Claude) models.
type Provider struct {
	messages MessagesClient
	logger   *slog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

var (
	_ llmprovider.Provider                 = (*Provider)(nil)
	_ llmprovider.StructuredOutputProvider = (*Provider)(nil)
)

// NewProvider creates a new Anthropic provider with the given API key.
func NewProvider(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, llmprovider.ErrInvalidAPIKey
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return New(&client.Messages, opts...)
}

// New creates a provider over an existing messages client.
func New(messages MessagesClient, opts ...Option) (*Provider, error) {
	if messages == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	p := &Provider{messages: messages, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "anthropic")
	return p, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() llmprovider.ProviderID {
	return llmprovider.ProviderAnthropic
}

// SupportsModel returns true if this provider supports the given model.
// Anthropic models start with "claude-"
func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "claude-")
}

func (p *Provider) checkModel(model string) error {
	if p.SupportsModel(model) {
		return nil
	}
	return &llmprovider.ModelError{
		Model:    model,
		Provider: p.Name().String(),
		Reason:   "model not supported by Anthropic (must start with 'claude-')",
		Err:      llmprovider.ErrInvalidModel,
	}
}

// mapError turns SDK API errors into *llmprovider.ProviderError. Other errors
// are wrapped as-is.
func mapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return llmprovider.NewProviderError(llmprovider.ProviderAnthropic, apiErr.StatusCode, apiErr.Error())
	}
	return err
}
