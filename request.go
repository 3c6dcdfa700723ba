package llmprovider

// GenerateRequest contains the parameters for one model turn.
type GenerateRequest struct {
	// Messages is the reconciled conversation history.
	Messages []Message

	// Model is the model identifier (e.g., "claude-haiku-4-5-20251001")
	Model string

	// Params contains all request parameters (temperature, max_tokens, tools, thinking settings, etc.)
	// Provider adapters extract what they support from this unified struct.
	Params *RequestParams
}

// StructuredOutputRequest asks for one JSON value matching Schema.
type StructuredOutputRequest struct {
	Messages []Message
	Model    string
	Params   *RequestParams

	// SchemaName names the output (used as the forced tool name by adapters
	// that implement structured output through tool calling).
	SchemaName string

	// Schema is the JSON Schema the output must satisfy.
	Schema map[string]any
}
