package llmprovider

import (
	"context"
)

// Provider defines the interface that every model adapter implements.
// Adapters translate a vendor's wire format into canonical StreamEvents; the
// agent loop never sees vendor payloads.
type Provider interface {
	// StreamResponse starts one model turn (non-blocking).
	// Returns a channel that emits canonical events as they arrive. The
	// channel is closed after a RunFinishedEvent or an ErrorEvent, or when
	// ctx is cancelled.
	//
	// Errors returned directly are precondition failures (unsupported model,
	// invalid parameters) raised before any network call.
	//
	// Usage:
	//   events, err := provider.StreamResponse(ctx, req)
	//   if err != nil { return err }
	//   for ev := range events {
	//     switch e := ev.(type) {
	//     case llmprovider.TextDeltaEvent: ...
	//     case llmprovider.ErrorEvent: ...
	//     }
	//   }
	StreamResponse(ctx context.Context, req *GenerateRequest) (<-chan StreamEvent, error)

	// Name returns the provider identifier.
	Name() ProviderID

	// SupportsModel returns true if the provider supports the given model.
	SupportsModel(model string) bool
}

// StructuredOutputProvider is implemented by providers that can produce a
// single schema-constrained JSON value without streaming.
type StructuredOutputProvider interface {
	GenerateStructured(ctx context.Context, req *StructuredOutputRequest) (*StructuredOutputResponse, error)
}
