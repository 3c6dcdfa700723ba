package llmprovider

import (
	"fmt"
)

// ModelValidationRule checks model-related warnings
type ModelValidationRule struct {
	registry *CapabilityRegistry
}

func (r *ModelValidationRule) Name() string {
	return "Model Validation"
}

func (r *ModelValidationRule) Check(provider string, req *GenerateRequest) []ValidationWarning {
	var warnings []ValidationWarning

	// Check if model exists in capabilities (might be outdated)
	if !r.registry.SupportsModel(provider, req.Model) {
		warnings = append(warnings, ValidationWarning{
			Code:     WarningCodeModelUnknown,
			Category: "model",
			Field:    "model",
			Value:    req.Model,
			Message:  fmt.Sprintf("Model %s not found in %s capabilities (capabilities may be outdated)", req.Model, provider),
			Severity: SeverityWarning,
		})
	}

	return warnings
}

// ToolValidationRule checks tool-related warnings
type ToolValidationRule struct {
	registry *CapabilityRegistry
}

func (r *ToolValidationRule) Name() string {
	return "Tool Validation"
}

func (r *ToolValidationRule) Check(provider string, req *GenerateRequest) []ValidationWarning {
	var warnings []ValidationWarning

	if req.Params == nil {
		return warnings
	}

	if tc := req.Params.ToolChoice; tc != nil && tc.Mode == ToolChoiceModeSpecific && tc.ToolName != nil {
		if !hasTool(req.Params.Tools, *tc.ToolName) {
			warnings = append(warnings, ValidationWarning{
				Code:     WarningCodeToolChoiceUnknown,
				Category: "tool",
				Field:    "tool_choice",
				Value:    *tc.ToolName,
				Message:  fmt.Sprintf("Tool choice names %s, which is not among the request's tools", *tc.ToolName),
				Severity: SeverityError,
			})
		}
	}

	if len(req.Params.Tools) == 0 {
		return warnings
	}

	modelCap, err := r.registry.GetModelCapability(provider, req.Model)
	if err != nil {
		// Can't check without capabilities
		return warnings
	}

	if !modelCap.Features.Tools {
		warnings = append(warnings, ValidationWarning{
			Code:     WarningCodeModelDoesNotSupportTools,
			Category: "tool",
			Field:    "tools",
			Value:    len(req.Params.Tools),
			Message:  fmt.Sprintf("Model %s might not support tools", req.Model),
			Severity: SeverityWarning,
		})
		return warnings
	}

	for _, tool := range req.Params.Tools {
		_, err := r.registry.GetToolCapability(provider, req.Model, tool.Function.Name)
		if err != nil {
			warnings = append(warnings, ValidationWarning{
				Code:     WarningCodeToolNotInCapabilities,
				Category: "tool",
				Field:    "tools",
				Value:    tool.Function.Name,
				Message:  fmt.Sprintf("Tool %s might not be supported by %s", tool.Function.Name, req.Model),
				Severity: SeverityInfo,
			})
		}
	}

	return warnings
}

// ThinkingValidationRule checks thinking-related warnings
type ThinkingValidationRule struct {
	registry *CapabilityRegistry
}

func (r *ThinkingValidationRule) Name() string {
	return "Thinking Validation"
}

func (r *ThinkingValidationRule) Check(provider string, req *GenerateRequest) []ValidationWarning {
	var warnings []ValidationWarning

	if req.Params == nil || !req.Params.IsThinkingEnabled() {
		return warnings
	}

	// Provider-independent constraints first: they hold even for models
	// missing from the capabilities.
	if budget := req.Params.GetThinkingBudgetTokens(); budget > 0 && req.Params.MaxTokens != nil && budget >= *req.Params.MaxTokens {
		warnings = append(warnings, ValidationWarning{
			Code:     WarningCodeThinkingExceedsMaxTokens,
			Category: "thinking",
			Field:    "thinking_budget",
			Value:    budget,
			Message:  fmt.Sprintf("Thinking budget %d must be lower than max_tokens %d", budget, *req.Params.MaxTokens),
			Severity: SeverityError,
		})
	}

	if provider == ProviderAnthropic.String() && req.Params.ToolChoice.ForcesTool() {
		warnings = append(warnings, ValidationWarning{
			Code:     WarningCodeThinkingForcedToolChoice,
			Category: "thinking",
			Field:    "tool_choice",
			Value:    req.Params.ToolChoice.Mode,
			Message:  "Extended thinking cannot be combined with a tool choice that forces tool use",
			Severity: SeverityError,
		})
	}

	modelCap, err := r.registry.GetModelCapability(provider, req.Model)
	if err != nil {
		// Can't check without capabilities
		return warnings
	}

	if !modelCap.Features.Thinking {
		warnings = append(warnings, ValidationWarning{
			Code:     WarningCodeThinkingUnsupported,
			Category: "thinking",
			Field:    "thinking",
			Value:    true,
			Message:  fmt.Sprintf("Model %s might not support extended thinking", req.Model),
			Severity: SeverityWarning,
		})
		return warnings
	}

	// Check explicit budget
	if req.Params.ThinkingBudget != nil {
		budget := *req.Params.ThinkingBudget
		min, max := modelCap.Thinking.MinBudget, modelCap.Thinking.MaxBudget

		if budget < min {
			warnings = append(warnings, ValidationWarning{
				Code:     WarningCodeThinkingBudgetTooLow,
				Category: "thinking",
				Field:    "thinking_budget",
				Value:    budget,
				Message:  fmt.Sprintf("Thinking budget %d below recommended minimum %d", budget, min),
				Severity: SeverityInfo,
			})
		}

		if budget > max {
			warnings = append(warnings, ValidationWarning{
				Code:     WarningCodeThinkingBudgetTooHigh,
				Category: "thinking",
				Field:    "thinking_budget",
				Value:    budget,
				Message:  fmt.Sprintf("Thinking budget %d above maximum %d (will likely fail)", budget, max),
				Severity: SeverityError,
			})
		}
	}

	// Check effort level
	if req.Params.ThinkingLevel != nil {
		_, err := r.registry.ConvertEffortToBudget(provider, req.Model, *req.Params.ThinkingLevel)
		if err != nil {
			warnings = append(warnings, ValidationWarning{
				Code:     WarningCodeThinkingLevelInvalid,
				Category: "thinking",
				Field:    "thinking_level",
				Value:    *req.Params.ThinkingLevel,
				Message:  "Unknown thinking level (valid: low, medium, high)",
				Severity: SeverityWarning,
			})
		}
	}

	return warnings
}

// VisionValidationRule checks vision-related warnings
type VisionValidationRule struct {
	registry *CapabilityRegistry
}

func (r *VisionValidationRule) Name() string {
	return "Vision Validation"
}

func (r *VisionValidationRule) Check(provider string, req *GenerateRequest) []ValidationWarning {
	var warnings []ValidationWarning

	if !hasImageContent(req.Messages) {
		return warnings
	}

	modelCap, err := r.registry.GetModelCapability(provider, req.Model)
	if err != nil {
		// Can't check without capabilities
		return warnings
	}

	if !modelCap.Features.Vision {
		warnings = append(warnings, ValidationWarning{
			Code:     WarningCodeVisionUnsupported,
			Category: "vision",
			Field:    "messages",
			Value:    "contains images",
			Message:  fmt.Sprintf("Model %s might not support vision (check capabilities)", req.Model),
			Severity: SeverityWarning,
		})
	}

	return warnings
}

// ParameterValidationRule checks parameter range warnings
type ParameterValidationRule struct {
	registry *CapabilityRegistry
}

func (r *ParameterValidationRule) Name() string {
	return "Parameter Validation"
}

func (r *ParameterValidationRule) Check(provider string, req *GenerateRequest) []ValidationWarning {
	var warnings []ValidationWarning

	if req.Params == nil {
		return warnings
	}

	providerCaps, err := r.registry.GetProviderCapabilities(provider)
	if err != nil {
		// Can't check without capabilities
		return warnings
	}

	constraints := providerCaps.Constraints

	if req.Params.MaxTokens != nil {
		if modelCap, err := r.registry.GetModelCapability(provider, req.Model); err == nil && modelCap.MaxOutputTokens > 0 && *req.Params.MaxTokens > modelCap.MaxOutputTokens {
			warnings = append(warnings, ValidationWarning{
				Code:     WarningCodeMaxTokensTooHigh,
				Category: "parameter",
				Field:    "max_tokens",
				Value:    *req.Params.MaxTokens,
				Message:  fmt.Sprintf("max_tokens %d above %s's output limit %d", *req.Params.MaxTokens, req.Model, modelCap.MaxOutputTokens),
				Severity: SeverityWarning,
			})
		}
	}

	// Check temperature
	if req.Params.Temperature != nil {
		temp := *req.Params.Temperature
		if temp < constraints.TemperatureMin || temp > constraints.TemperatureMax {
			warnings = append(warnings, ValidationWarning{
				Code:     WarningCodeTemperatureOutOfRange,
				Category: "parameter",
				Field:    "temperature",
				Value:    temp,
				Message:  fmt.Sprintf("Temperature %.2f outside recommended range [%.2f, %.2f]", temp, constraints.TemperatureMin, constraints.TemperatureMax),
				Severity: SeverityWarning,
			})
		}
	}

	// Check top_p
	if req.Params.TopP != nil {
		topP := *req.Params.TopP
		if topP < constraints.TopPMin || topP > constraints.TopPMax {
			warnings = append(warnings, ValidationWarning{
				Code:     WarningCodeTopPOutOfRange,
				Category: "parameter",
				Field:    "top_p",
				Value:    topP,
				Message:  fmt.Sprintf("TopP %.2f outside recommended range [%.2f, %.2f]", topP, constraints.TopPMin, constraints.TopPMax),
				Severity: SeverityWarning,
			})
		}
	}

	// Check top_k
	if req.Params.TopK != nil {
		topK := *req.Params.TopK
		if topK < constraints.TopKMin || topK > constraints.TopKMax {
			warnings = append(warnings, ValidationWarning{
				Code:     WarningCodeTopKOutOfRange,
				Category: "parameter",
				Field:    "top_k",
				Value:    topK,
				Message:  fmt.Sprintf("TopK %d outside recommended range [%d, %d]", topK, constraints.TopKMin, constraints.TopKMax),
				Severity: SeverityWarning,
			})
		}
	}

	return warnings
}

// ConversationValidationRule checks the shape of the history itself
type ConversationValidationRule struct{}

func (r *ConversationValidationRule) Name() string {
	return "Conversation Validation"
}

func (r *ConversationValidationRule) Check(provider string, req *GenerateRequest) []ValidationWarning {
	var warnings []ValidationWarning

	if len(req.Messages) == 0 {
		return append(warnings, ValidationWarning{
			Code:     WarningCodeNoMessages,
			Category: "conversation",
			Field:    "messages",
			Value:    0,
			Message:  "Request has no messages",
			Severity: SeverityError,
		})
	}

	for _, msg := range req.Messages {
		for _, call := range msg.ToolCalls() {
			switch {
			case call.State == ToolStateApprovalRequested:
				warnings = append(warnings, ValidationWarning{
					Code:     WarningCodePendingApproval,
					Category: "conversation",
					Field:    "messages",
					Value:    call.ID,
					Message:  fmt.Sprintf("Tool call %s (%s) is still awaiting approval", call.ID, call.Name),
					Severity: SeverityInfo,
				})
			case !call.IsResolved() && call.State != ToolStateApprovalResponded:
				warnings = append(warnings, ValidationWarning{
					Code:     WarningCodeToolCallUnresolved,
					Category: "conversation",
					Field:    "messages",
					Value:    call.ID,
					Message:  fmt.Sprintf("Tool call %s (%s) has no result", call.ID, call.Name),
					Severity: SeverityInfo,
				})
			}
		}
	}

	return warnings
}

// hasImageContent checks if any messages contain image parts
func hasImageContent(messages []Message) bool {
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if _, ok := part.(*ImagePart); ok {
				return true
			}
		}
	}
	return false
}

func hasTool(tools []Tool, name string) bool {
	for _, t := range tools {
		if t.Function.Name == name {
			return true
		}
	}
	return false
}
