package llmprovider

import "encoding/json"

// Usage reports token consumption for one turn or, summed, for a run.
type Usage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int `json:"cache_write_tokens,omitempty"`
}

// TotalTokens returns input plus output tokens.
func (u Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}

// Add returns the element-wise sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:      u.InputTokens + other.InputTokens,
		OutputTokens:     u.OutputTokens + other.OutputTokens,
		CacheReadTokens:  u.CacheReadTokens + other.CacheReadTokens,
		CacheWriteTokens: u.CacheWriteTokens + other.CacheWriteTokens,
	}
}

// StructuredOutputResponse contains a schema-constrained result.
type StructuredOutputResponse struct {
	// Data is the JSON value produced by the model.
	Data json.RawMessage

	// Model is the model that was used (may differ from request if aliased)
	Model string

	Usage Usage

	// ResponseMetadata contains provider-specific response data
	// Examples: stop_sequence, cache_creation_input_tokens, etc.
	ResponseMetadata map[string]any
}

// Decode unmarshals Data into v.
func (r *StructuredOutputResponse) Decode(v any) error {
	return json.Unmarshal(r.Data, v)
}
