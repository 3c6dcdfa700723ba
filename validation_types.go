package llmprovider

// Severity indicates how serious a validation warning is
type Severity string

const (
	SeverityInfo    Severity = "info"    // Informational (might be expected)
	SeverityWarning Severity = "warning" // Potentially problematic
	SeverityError   Severity = "error"   // Rejected before the request is sent
)

// WarningCode is a machine-readable identifier for validation warnings
type WarningCode string

const (
	// Model warnings
	WarningCodeModelUnknown      WarningCode = "MODEL_UNKNOWN"
	WarningCodeCapabilityMissing WarningCode = "CAPABILITY_MISSING"

	// Tool warnings
	WarningCodeToolUnsupported          WarningCode = "TOOL_UNSUPPORTED"
	WarningCodeToolNotInCapabilities    WarningCode = "TOOL_NOT_IN_CAPABILITIES"
	WarningCodeModelDoesNotSupportTools WarningCode = "MODEL_DOES_NOT_SUPPORT_TOOLS"
	WarningCodeToolChoiceUnknown        WarningCode = "TOOL_CHOICE_UNKNOWN"

	// Thinking warnings
	WarningCodeThinkingUnsupported      WarningCode = "THINKING_UNSUPPORTED"
	WarningCodeThinkingBudgetTooLow     WarningCode = "THINKING_BUDGET_TOO_LOW"
	WarningCodeThinkingBudgetTooHigh    WarningCode = "THINKING_BUDGET_TOO_HIGH"
	WarningCodeThinkingLevelInvalid     WarningCode = "THINKING_LEVEL_INVALID"
	WarningCodeThinkingExceedsMaxTokens WarningCode = "THINKING_EXCEEDS_MAX_TOKENS"
	WarningCodeThinkingForcedToolChoice WarningCode = "THINKING_FORCED_TOOL_CHOICE"

	// Vision warnings
	WarningCodeVisionUnsupported WarningCode = "VISION_UNSUPPORTED"

	// Parameter warnings
	WarningCodeTemperatureOutOfRange WarningCode = "TEMPERATURE_OUT_OF_RANGE"
	WarningCodeTopPOutOfRange        WarningCode = "TOP_P_OUT_OF_RANGE"
	WarningCodeTopKOutOfRange        WarningCode = "TOP_K_OUT_OF_RANGE"
	WarningCodeMaxTokensTooHigh      WarningCode = "MAX_TOKENS_TOO_HIGH"

	// Conversation warnings
	WarningCodeNoMessages         WarningCode = "NO_MESSAGES"
	WarningCodePendingApproval    WarningCode = "PENDING_APPROVAL"
	WarningCodeToolCallUnresolved WarningCode = "TOOL_CALL_UNRESOLVED"
)

// ValidationWarning represents a potential issue with a request.
// Error-severity warnings block the request when checked with
// ValidationEngine.Check; the rest are informational.
type ValidationWarning struct {
	Code     WarningCode // Machine-readable code
	Category string      // "model", "tool", "thinking", "parameter", "vision", "conversation"
	Field    string      // Field that might cause issues
	Value    any         // The potentially problematic value
	Message  string      // Human-readable warning
	Severity Severity    // How serious this warning is
}

// Err converts the warning into a *ValidationError. Feature combinations the
// provider cannot serve wrap ErrUnsupportedFeature, everything else wraps
// ErrInvalidRequest.
func (w ValidationWarning) Err() error {
	sentinel := ErrInvalidRequest
	switch w.Code {
	case WarningCodeThinkingForcedToolChoice, WarningCodeModelDoesNotSupportTools,
		WarningCodeThinkingUnsupported, WarningCodeVisionUnsupported:
		sentinel = ErrUnsupportedFeature
	}
	return &ValidationError{Field: w.Field, Value: w.Value, Reason: w.Message, Err: sentinel}
}

// ValidationRule interface allows adding custom validation logic
type ValidationRule interface {
	// Name returns a human-readable name for this rule
	Name() string

	// Check validates a request and returns warnings
	Check(provider string, req *GenerateRequest) []ValidationWarning
}
