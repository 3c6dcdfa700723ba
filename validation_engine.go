package llmprovider

import (
	"sync"
)

// ValidationEngine manages validation rules and executes them
type ValidationEngine struct {
	rules []ValidationRule
	mu    sync.RWMutex
}

var (
	globalValidationEngine     *ValidationEngine
	globalValidationEngineOnce sync.Once
)

// NewValidationEngine creates an engine with the built-in rules bound to
// registry. A nil registry uses the global one.
func NewValidationEngine(registry *CapabilityRegistry) *ValidationEngine {
	if registry == nil {
		registry = GetCapabilityRegistry()
	}
	ve := &ValidationEngine{
		rules: make([]ValidationRule, 0),
	}
	ve.registerDefaultRules(registry)
	return ve
}

// GetValidationEngine returns the global validation engine (singleton)
func GetValidationEngine() *ValidationEngine {
	globalValidationEngineOnce.Do(func() {
		globalValidationEngine = NewValidationEngine(GetCapabilityRegistry())
	})
	return globalValidationEngine
}

// registerDefaultRules registers the built-in validation rules
func (ve *ValidationEngine) registerDefaultRules(registry *CapabilityRegistry) {
	ve.AddRule(&ModelValidationRule{registry: registry})
	ve.AddRule(&ToolValidationRule{registry: registry})
	ve.AddRule(&ThinkingValidationRule{registry: registry})
	ve.AddRule(&VisionValidationRule{registry: registry})
	ve.AddRule(&ParameterValidationRule{registry: registry})
	ve.AddRule(&ConversationValidationRule{})
}

// AddRule adds a validation rule to the engine
func (ve *ValidationEngine) AddRule(rule ValidationRule) {
	ve.mu.Lock()
	defer ve.mu.Unlock()
	ve.rules = append(ve.rules, rule)
}

// RemoveRule removes a validation rule by name
func (ve *ValidationEngine) RemoveRule(name string) bool {
	ve.mu.Lock()
	defer ve.mu.Unlock()

	for i, rule := range ve.rules {
		if rule.Name() == name {
			ve.rules = append(ve.rules[:i], ve.rules[i+1:]...)
			return true
		}
	}
	return false
}

// Validate runs all validation rules and returns warnings
func (ve *ValidationEngine) Validate(provider string, req *GenerateRequest) []ValidationWarning {
	ve.mu.RLock()
	defer ve.mu.RUnlock()

	var warnings []ValidationWarning
	for _, rule := range ve.rules {
		warnings = append(warnings, rule.Check(provider, req)...)
	}
	return warnings
}

// Check validates parameter ranges and runs every rule. The first
// error-severity warning is returned as a *ValidationError; lower severities
// are returned for the caller to log or ignore.
func (ve *ValidationEngine) Check(provider string, req *GenerateRequest) ([]ValidationWarning, error) {
	if err := ValidateRequestParams(req.Params); err != nil {
		return nil, err
	}

	warnings := ve.Validate(provider, req)
	for _, w := range warnings {
		if w.Severity == SeverityError {
			return warnings, w.Err()
		}
	}
	return warnings, nil
}

// GetValidationWarnings returns potential issues with a request.
// Warnings are informational; only Check turns error-severity warnings into
// failures.
func GetValidationWarnings(provider string, req *GenerateRequest) []ValidationWarning {
	return GetValidationEngine().Validate(provider, req)
}

// ValidateRequest runs the global engine's Check and discards the warnings.
func ValidateRequest(provider string, req *GenerateRequest) error {
	_, err := GetValidationEngine().Check(provider, req)
	return err
}

// FilterWarningsBySeverity returns warnings matching the specified severities
func FilterWarningsBySeverity(warnings []ValidationWarning, severities ...Severity) []ValidationWarning {
	filtered := make([]ValidationWarning, 0)
	severityMap := make(map[Severity]bool)
	for _, s := range severities {
		severityMap[s] = true
	}

	for _, w := range warnings {
		if severityMap[w.Severity] {
			filtered = append(filtered, w)
		}
	}
	return filtered
}

// FilterWarningsByCategory returns warnings matching the specified categories
func FilterWarningsByCategory(warnings []ValidationWarning, categories ...string) []ValidationWarning {
	filtered := make([]ValidationWarning, 0)
	categoryMap := make(map[string]bool)
	for _, c := range categories {
		categoryMap[c] = true
	}

	for _, w := range warnings {
		if categoryMap[w.Category] {
			filtered = append(filtered, w)
		}
	}
	return filtered
}

// FilterWarningsByCode returns warnings matching the specified codes
func FilterWarningsByCode(warnings []ValidationWarning, codes ...WarningCode) []ValidationWarning {
	filtered := make([]ValidationWarning, 0)
	codeMap := make(map[WarningCode]bool)
	for _, c := range codes {
		codeMap[c] = true
	}

	for _, w := range warnings {
		if codeMap[w.Code] {
			filtered = append(filtered, w)
		}
	}
	return filtered
}
