package llmprovider

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
// These can be checked with errors.Is().
var (
	// ErrInvalidModel indicates the requested model is not supported by the provider.
	ErrInvalidModel = errors.New("llmprovider: invalid or unsupported model")

	// ErrInvalidAPIKey indicates the API key is missing, malformed, or unauthorized.
	ErrInvalidAPIKey = errors.New("llmprovider: invalid API key")

	// ErrRateLimited indicates the provider's rate limit has been exceeded.
	ErrRateLimited = errors.New("llmprovider: rate limit exceeded")

	// ErrUnsupportedFeature indicates the requested feature is not available.
	// Examples: extended thinking on models that don't support it, vision on text-only models.
	ErrUnsupportedFeature = errors.New("llmprovider: unsupported feature")

	// ErrInvalidRequest indicates the request parameters are invalid.
	ErrInvalidRequest = errors.New("llmprovider: invalid request")

	// ErrProviderUnavailable indicates the provider service is down or unreachable.
	ErrProviderUnavailable = errors.New("llmprovider: provider unavailable")

	// ErrUnknownTool indicates a tool call named a tool that is not registered.
	ErrUnknownTool = errors.New("llmprovider: unknown tool")

	// ErrProtocol indicates a malformed or out-of-order event sequence.
	ErrProtocol = errors.New("llmprovider: stream protocol violation")

	// ErrInvalidTransition indicates a tool call state change the lifecycle forbids.
	ErrInvalidTransition = errors.New("llmprovider: invalid tool call state transition")

	// ErrToolCallNotFound indicates no tool call with the given ID exists.
	ErrToolCallNotFound = errors.New("llmprovider: tool call not found")

	// ErrApprovalNotFound indicates no pending approval with the given ID exists.
	ErrApprovalNotFound = errors.New("llmprovider: approval not found")

	// ErrToolInputInvalid indicates tool input failed schema validation.
	ErrToolInputInvalid = errors.New("llmprovider: tool input does not match schema")
)

// ModelError represents an error related to model validation or availability.
type ModelError struct {
	Model    string // The model that was requested
	Provider string // The provider name
	Reason   string // Human-readable explanation
	Err      error  // Wrapped error (usually ErrInvalidModel or ErrUnsupportedFeature)
}

func (e *ModelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model '%s' for provider '%s': %s (%v)", e.Model, e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("model '%s' for provider '%s': %s", e.Model, e.Provider, e.Reason)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// ValidationError represents an error in request parameter validation.
type ValidationError struct {
	Field  string // The parameter field that failed validation
	Value  any    // The invalid value
	Reason string // Human-readable explanation
	Err    error  // Wrapped error (usually ErrInvalidRequest)
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("validation failed for '%s' (value: %v): %s (%v)", e.Field, e.Value, e.Reason, e.Err)
	}
	return fmt.Sprintf("validation failed for '%s' (value: %v): %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Code returns a short machine-readable code derived from the status.
func (e *ProviderError) Code() string {
	switch {
	case e.StatusCode == 429:
		return "rate_limited"
	case e.StatusCode == 401 || e.StatusCode == 403:
		return "unauthorized"
	case e.StatusCode >= 500:
		return "provider_unavailable"
	case e.StatusCode >= 400:
		return "invalid_request"
	}
	return ""
}

// AsProviderError unwraps err to a *ProviderError.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// NewProviderError classifies an HTTP status from a vendor API into the
// matching sentinel.
func NewProviderError(provider ProviderID, statusCode int, message string) *ProviderError {
	pe := &ProviderError{
		Provider:   provider.String(),
		StatusCode: statusCode,
		Message:    message,
	}
	switch {
	case statusCode == 429:
		pe.Err, pe.Retryable = ErrRateLimited, true
	case statusCode == 401 || statusCode == 403:
		pe.Err = ErrInvalidAPIKey
	case statusCode >= 500:
		pe.Err, pe.Retryable = ErrProviderUnavailable, true
	case statusCode >= 400:
		pe.Err = ErrInvalidRequest
	}
	return pe
}

// ProtocolError reports an event that violates the streaming grammar.
type ProtocolError struct {
	Event  string // Event type that was rejected
	ID     string // Message or tool call ID the event referred to
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("protocol error on %s (%s): %s", e.Event, e.ID, e.Reason)
	}
	return fmt.Sprintf("protocol error on %s: %s", e.Event, e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return ErrProtocol
}

// StreamError is an ErrorEvent surfaced as a Go error.
type StreamError struct {
	Message string
	Code    string
	Err     error
}

func (e *StreamError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stream error [%s]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("stream error: %s", e.Message)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// TransitionError reports a rejected tool call state change.
type TransitionError struct {
	ToolCallID string
	From       ToolCallState
	To         ToolCallState
	Err        error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("tool call %s: cannot move from %s to %s", e.ToolCallID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// ProviderError represents an error from the underlying provider API.
type ProviderError struct {
	Provider   string // The provider name
	StatusCode int    // HTTP status code (if applicable)
	Message    string // Error message from provider
	Retryable  bool   // Whether this error is potentially retryable
	Err        error  // Wrapped sentinel error (ErrRateLimited, ErrProviderUnavailable, etc.)
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider '%s' error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider '%s' error: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryable checks if an error is potentially retryable.
// Returns true for rate limits, temporary unavailability, network errors, etc.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Check for ProviderError with Retryable flag
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Retryable
	}

	// Rate limits are always retryable
	if errors.Is(err, ErrRateLimited) {
		return true
	}

	// Provider unavailable is retryable
	if errors.Is(err, ErrProviderUnavailable) {
		return true
	}

	return false
}

// IsInvalidRequest checks if an error indicates invalid request parameters.
// These errors are not retryable and require request changes.
func IsInvalidRequest(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrInvalidRequest) {
		return true
	}

	if errors.Is(err, ErrInvalidModel) {
		return true
	}

	if errors.Is(err, ErrUnsupportedFeature) {
		return true
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return true
	}

	return false
}

// IsCancellation reports whether err stems from context cancellation
// rather than a provider or protocol failure.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// IsAuthError checks if an error is related to authentication.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrInvalidAPIKey) {
		return true
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		// HTTP 401/403 indicate auth issues
		return providerErr.StatusCode == 401 || providerErr.StatusCode == 403
	}

	return false
}
