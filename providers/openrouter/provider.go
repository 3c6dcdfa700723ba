// Package openrouter adapts OpenRouter's OpenAI-compatible chat completions
// API to the canonical streaming protocol.
//
// OpenRouter proxies requests to many upstream providers (Anthropic, OpenAI,
// Google, Moonshot, ...) under "provider/model" names.
//
// Common Issues:
//   - 404 errors: Verify model name at https://openrouter.ai/models
//   - Tool calling: Not all models support function calling - check OpenRouter docs
package openrouter

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	llmprovider "github.com/haowjy/meridian-agent-go"
)

// BaseURL is OpenRouter's OpenAI-compatible endpoint.
const BaseURL = "https://openrouter.ai/api/v1/"

// CompletionsClient is the subset of the SDK client the provider uses.
// *openai.ChatCompletionService satisfies it.
type CompletionsClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// Provider implements llmprovider.Provider for OpenRouter.
type Provider struct {
	completions CompletionsClient
	logger      *slog.Logger
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

// NewProvider creates a new OpenRouter provider with the given API key.
// Extra request options (e.g. option.WithHeader for OpenRouter's X-Title
// attribution header) are applied to every request.
func NewProvider(apiKey string, requestOpts []option.RequestOption, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, llmprovider.ErrInvalidAPIKey
	}
	clientOpts := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(BaseURL),
	}, requestOpts...)
	client := openai.NewClient(clientOpts...)
	return New(&client.Chat.Completions, opts...)
}

// New creates a provider over an existing completions client.
func New(completions CompletionsClient, opts ...Option) (*Provider, error) {
	if completions == nil {
		return nil, errors.New("openrouter: completions client is required")
	}
	p := &Provider{completions: completions, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "openrouter")
	return p, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() llmprovider.ProviderID {
	return llmprovider.ProviderOpenRouter
}

// SupportsModel returns true if this provider supports the given model.
// OpenRouter supports models in "provider/model" format (e.g., "anthropic/claude-3.5-sonnet")
// or special models like "openrouter/auto"
func (p *Provider) SupportsModel(model string) bool {
	return strings.Contains(model, "/")
}

func (p *Provider) checkModel(model string) error {
	if p.SupportsModel(model) {
		return nil
	}
	return &llmprovider.ModelError{
		Model:    model,
		Provider: p.Name().String(),
		Reason:   "model not supported by OpenRouter (must be in 'provider/model' format)",
		Err:      llmprovider.ErrInvalidModel,
	}
}

// mapError maps SDK API errors to library errors. Other errors are returned
// unchanged.
func mapError(model string, err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}

	switch apiErr.StatusCode {
	case http.StatusNotFound:
		return &llmprovider.ModelError{
			Model:    model,
			Provider: llmprovider.ProviderOpenRouter.String(),
			Reason:   "model not found on OpenRouter - verify model name at https://openrouter.ai/models",
			Err:      llmprovider.ErrInvalidModel,
		}
	case http.StatusPaymentRequired:
		pe := llmprovider.NewProviderError(llmprovider.ProviderOpenRouter, apiErr.StatusCode, "insufficient credits: "+apiErr.Message)
		pe.Err = llmprovider.ErrProviderUnavailable
		return pe
	}

	msg := apiErr.Message
	if msg == "" {
		msg = http.StatusText(apiErr.StatusCode)
	}
	return llmprovider.NewProviderError(llmprovider.ProviderOpenRouter, apiErr.StatusCode, msg)
}
