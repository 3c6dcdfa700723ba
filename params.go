package llmprovider

import (
	"encoding/json"
	"fmt"
)

// RequestParams represents all possible LLM request parameters across providers.
// All fields are optional pointers to distinguish "not set" from "set to zero value".
type RequestParams struct {
	// ===== Core Parameters (Most Providers) =====

	// MaxTokens sets the maximum number of tokens to generate
	MaxTokens *int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0-2.0, most providers cap at 1.0)
	Temperature *float64 `json:"temperature,omitempty"`

	// TopP (nucleus sampling) - cumulative probability cutoff (0.0-1.0)
	TopP *float64 `json:"top_p,omitempty"`

	// TopK limits sampling to top K tokens
	TopK *int `json:"top_k,omitempty"`

	// Stop sequences - generation stops if any of these are generated
	Stop []string `json:"stop,omitempty"`

	// Seed for deterministic sampling (if supported by provider)
	Seed *int `json:"seed,omitempty"`

	// System prompt, prepended to any system messages in the history
	System *string `json:"system,omitempty"`

	// ===== Thinking =====

	// ThinkingEnabled enables extended thinking / reasoning
	ThinkingEnabled *bool `json:"thinking_enabled,omitempty"`

	// ThinkingLevel sets the thinking budget: "low", "medium", "high"
	// Maps to token budgets: low=2000, medium=5000, high=12000
	ThinkingLevel *string `json:"thinking_level,omitempty"`

	// ThinkingBudget sets an explicit token budget and wins over ThinkingLevel
	ThinkingBudget *int `json:"thinking_budget,omitempty"`

	// ===== OpenAI-Compatible Parameters =====

	// FrequencyPenalty reduces repetition of token sequences (-2.0 to 2.0)
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`

	// PresencePenalty reduces repetition of topics (-2.0 to 2.0)
	PresencePenalty *float64 `json:"presence_penalty,omitempty"`

	// ResponseFormat for structured outputs (JSON mode, etc.)
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`

	// ===== Tool Parameters =====

	// Tools available for the model to use. The agent loop fills this from
	// its tool registry.
	Tools []Tool `json:"tools,omitempty"`

	// ToolChoice controls whether/which tools to use
	ToolChoice *ToolChoice `json:"tool_choice,omitempty"`

	// ParallelToolCalls allows model to use multiple tools simultaneously
	ParallelToolCalls *bool `json:"parallel_tool_calls,omitempty"`

	// ===== Provider Routing (OpenRouter) =====

	// Provider pins an upstream provider (OpenRouter), e.g. "anthropic"
	Provider *string `json:"provider,omitempty"`

	// FallbackModels lists alternative models if primary fails
	FallbackModels []string `json:"fallback_models,omitempty"`
}

// ResponseFormat specifies the format for structured outputs
type ResponseFormat struct {
	Type       string         `json:"type"`                  // "text", "json_object", "json_schema"
	Name       string         `json:"name,omitempty"`        // Schema name for "json_schema"
	JSONSchema map[string]any `json:"json_schema,omitempty"` // Schema for structured output
}

// ValidateRequestParams validates parameter ranges. Failures are returned as
// *ValidationError wrapping ErrInvalidRequest.
func ValidateRequestParams(params *RequestParams) error {
	if params == nil {
		return nil // nil params is valid
	}

	if params.Temperature != nil {
		if *params.Temperature < 0.0 || *params.Temperature > 2.0 {
			return invalidParam("temperature", *params.Temperature, "must be between 0.0 and 2.0")
		}
	}

	if params.TopP != nil {
		if *params.TopP < 0.0 || *params.TopP > 1.0 {
			return invalidParam("top_p", *params.TopP, "must be between 0.0 and 1.0")
		}
	}

	if params.TopK != nil {
		if *params.TopK < 0 {
			return invalidParam("top_k", *params.TopK, "must be non-negative")
		}
	}

	if params.MaxTokens != nil {
		if *params.MaxTokens < 1 {
			return invalidParam("max_tokens", *params.MaxTokens, "must be positive")
		}
	}

	if params.ThinkingLevel != nil {
		validLevels := map[string]bool{"low": true, "medium": true, "high": true}
		if !validLevels[*params.ThinkingLevel] {
			return invalidParam("thinking_level", *params.ThinkingLevel, "must be 'low', 'medium', or 'high'")
		}
	}

	if params.ThinkingBudget != nil && *params.ThinkingBudget < 1 {
		return invalidParam("thinking_budget", *params.ThinkingBudget, "must be positive")
	}

	if params.FrequencyPenalty != nil {
		if *params.FrequencyPenalty < -2.0 || *params.FrequencyPenalty > 2.0 {
			return invalidParam("frequency_penalty", *params.FrequencyPenalty, "must be between -2.0 and 2.0")
		}
	}

	if params.PresencePenalty != nil {
		if *params.PresencePenalty < -2.0 || *params.PresencePenalty > 2.0 {
			return invalidParam("presence_penalty", *params.PresencePenalty, "must be between -2.0 and 2.0")
		}
	}

	if params.ToolChoice != nil {
		if err := params.ToolChoice.Validate(); err != nil {
			return invalidParam("tool_choice", params.ToolChoice.Mode, err.Error())
		}
	}

	return nil
}

func invalidParam(field string, value any, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason, Err: ErrInvalidRequest}
}

// GetRequestParamStruct unmarshals a JSON-shaped map into a typed RequestParams struct
func GetRequestParamStruct(params map[string]any) (*RequestParams, error) {
	if params == nil {
		return &RequestParams{}, nil
	}

	jsonBytes, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}

	var rp RequestParams
	if err := json.Unmarshal(jsonBytes, &rp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal params: %w", err)
	}

	return &rp, nil
}

// Clone returns a copy that can be modified without affecting rp.
func (rp *RequestParams) Clone() *RequestParams {
	if rp == nil {
		return &RequestParams{}
	}
	c := *rp
	if rp.Stop != nil {
		c.Stop = append([]string(nil), rp.Stop...)
	}
	if rp.Tools != nil {
		c.Tools = append([]Tool(nil), rp.Tools...)
	}
	if rp.FallbackModels != nil {
		c.FallbackModels = append([]string(nil), rp.FallbackModels...)
	}
	return &c
}

// GetMaxTokens returns max_tokens with default fallback
func (rp *RequestParams) GetMaxTokens(defaultValue int) int {
	if rp.MaxTokens != nil {
		return *rp.MaxTokens
	}
	return defaultValue
}

// GetTemperature returns temperature with default fallback
func (rp *RequestParams) GetTemperature(defaultValue float64) float64 {
	if rp.Temperature != nil {
		return *rp.Temperature
	}
	return defaultValue
}

// IsThinkingEnabled reports whether extended thinking was requested.
func (rp *RequestParams) IsThinkingEnabled() bool {
	return rp.ThinkingEnabled != nil && *rp.ThinkingEnabled
}

// GetThinkingBudgetTokens returns the explicit budget if set, otherwise
// converts thinking_level to a token budget:
// low = 2000, medium = 5000, high = 12000
func (rp *RequestParams) GetThinkingBudgetTokens() int {
	if !rp.IsThinkingEnabled() {
		return 0
	}
	if rp.ThinkingBudget != nil {
		return *rp.ThinkingBudget
	}
	if rp.ThinkingLevel == nil {
		return 0
	}

	switch *rp.ThinkingLevel {
	case "low":
		return 2000
	case "medium":
		return 5000
	case "high":
		return 12000
	default:
		return 0
	}
}
