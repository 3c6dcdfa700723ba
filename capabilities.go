package llmprovider

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed config/capabilities/anthropic.yaml
var anthropicCapabilitiesYAML []byte

//go:embed config/capabilities/lorem.yaml
var loremCapabilitiesYAML []byte

//go:embed config/capabilities/openrouter.yaml
var openrouterCapabilitiesYAML []byte

// Capabilities are model metadata: context windows, pricing, feature flags
// and thinking budgets. They feed the validation engine and cost estimates.
// Capabilities may lag behind vendor releases, so a missing model is a
// warning, never a hard failure.
//
// Embedded data can be overridden with LoadCapabilitiesFromFile or
// RegisterProviderCapabilities.

// ProviderCapabilities represents the full capability configuration for a provider
type ProviderCapabilities struct {
	Version     string                     `yaml:"version"`      // Semantic version (e.g., "1.0.0")
	LastUpdated string                     `yaml:"last_updated"` // ISO 8601 date (e.g., "2025-01-15")
	Provider    string                     `yaml:"provider"`
	Models      map[string]ModelCapability `yaml:"models"`
	Constraints ProviderConstraints        `yaml:"constraints"`
}

// ModelCapability represents the capabilities of a specific model
type ModelCapability struct {
	ContextWindow   int                `yaml:"context_window"`
	MaxOutputTokens int                `yaml:"max_output_tokens"`
	Features        ModelFeatures      `yaml:"features"`
	Thinking        ThinkingCapability `yaml:"thinking"`
	Pricing         PricingInfo        `yaml:"pricing"`
	Tools           []ToolCapability   `yaml:"tools"`
}

// ModelFeatures indicates which features a model supports
type ModelFeatures struct {
	Vision    bool `yaml:"vision"`
	Tools     bool `yaml:"tools"`
	Thinking  bool `yaml:"thinking"`
	Streaming bool `yaml:"streaming"`
}

// ThinkingCapability defines thinking/reasoning constraints
type ThinkingCapability struct {
	MinBudget      int            `yaml:"min_budget"`
	MaxBudget      int            `yaml:"max_budget"`
	EffortToBudget map[string]int `yaml:"effort_to_budget"` // "low" -> 2000, etc.
}

// PricingInfo contains model pricing in USD per million tokens
type PricingInfo struct {
	InputPer1M      float64 `yaml:"input_per_1m"`
	OutputPer1M     float64 `yaml:"output_per_1m"`
	CacheWritePer1M float64 `yaml:"cache_write_per_1m"`
	CacheReadPer1M  float64 `yaml:"cache_read_per_1m"`
}

// Cost returns the price of usage in USD.
func (p PricingInfo) Cost(u Usage) float64 {
	return (float64(u.InputTokens)*p.InputPer1M +
		float64(u.OutputTokens)*p.OutputPer1M +
		float64(u.CacheWriteTokens)*p.CacheWritePer1M +
		float64(u.CacheReadTokens)*p.CacheReadPer1M) / 1_000_000
}

// ToolCapability represents tool support for a model
type ToolCapability struct {
	Name                 string  `yaml:"name"`
	NativeSupport        bool    `yaml:"native_support"`
	ExecutionSide        string  `yaml:"execution_side"`
	PricingPer1KRequests float64 `yaml:"pricing_per_1k_requests"`
	Description          string  `yaml:"description"`
}

// ProviderConstraints defines provider-wide parameter limits
type ProviderConstraints struct {
	TemperatureMin float64 `yaml:"temperature_min"`
	TemperatureMax float64 `yaml:"temperature_max"`
	TopPMin        float64 `yaml:"top_p_min"`
	TopPMax        float64 `yaml:"top_p_max"`
	TopKMin        int     `yaml:"top_k_min"`
	TopKMax        int     `yaml:"top_k_max"`
}

// defaultEffortBudgets are used when a model has no budgets of its own.
var defaultEffortBudgets = map[string]int{
	"low":    2000,
	"medium": 5000,
	"high":   12000,
}

// datedModelSuffix matches snapshot suffixes such as "-20251001".
var datedModelSuffix = regexp.MustCompile(`-\d{8}$`)

// CapabilityRegistry manages provider capabilities
type CapabilityRegistry struct {
	capabilities map[string]*ProviderCapabilities
	logger       *slog.Logger
	mu           sync.RWMutex
}

var (
	globalRegistry     *CapabilityRegistry
	globalRegistryOnce sync.Once
)

// NewCapabilityRegistry creates a registry holding the embedded capabilities.
func NewCapabilityRegistry(logger *slog.Logger) *CapabilityRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &CapabilityRegistry{
		capabilities: make(map[string]*ProviderCapabilities),
		logger:       logger.With("component", "capabilities"),
	}
	embedded := map[ProviderID][]byte{
		ProviderAnthropic:  anthropicCapabilitiesYAML,
		ProviderLorem:      loremCapabilitiesYAML,
		ProviderOpenRouter: openrouterCapabilitiesYAML,
	}
	for provider, data := range embedded {
		if err := r.load(data); err != nil {
			// Validation reports missing capabilities; don't fail construction.
			r.logger.Warn("failed to load embedded capabilities", "provider", provider, "error", err)
		}
	}
	return r
}

// GetCapabilityRegistry returns the global capability registry (singleton)
func GetCapabilityRegistry() *CapabilityRegistry {
	globalRegistryOnce.Do(func() {
		globalRegistry = NewCapabilityRegistry(nil)
	})
	return globalRegistry
}

func (r *CapabilityRegistry) load(data []byte) error {
	var caps ProviderCapabilities
	if err := yaml.Unmarshal(data, &caps); err != nil {
		return fmt.Errorf("failed to unmarshal capabilities: %w", err)
	}
	if caps.Provider == "" {
		return fmt.Errorf("capabilities file has no provider")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.capabilities[caps.Provider] = &caps
	return nil
}

// GetProviderCapabilities returns capabilities for a provider
func (r *CapabilityRegistry) GetProviderCapabilities(provider string) (*ProviderCapabilities, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps, ok := r.capabilities[provider]
	if !ok {
		return nil, fmt.Errorf("no capabilities found for provider: %s", provider)
	}
	return caps, nil
}

// GetModelCapability returns capabilities for a specific model. Dated
// snapshot IDs ("claude-haiku-4-5-20251001") resolve to their alias.
func (r *CapabilityRegistry) GetModelCapability(provider, model string) (*ModelCapability, error) {
	providerCaps, err := r.GetProviderCapabilities(provider)
	if err != nil {
		return nil, err
	}

	modelCap, ok := providerCaps.Models[model]
	if !ok {
		modelCap, ok = providerCaps.Models[datedModelSuffix.ReplaceAllString(model, "")]
	}
	if !ok {
		return nil, fmt.Errorf("model %s not found for provider %s", model, provider)
	}
	return &modelCap, nil
}

// SupportsModel checks if a provider supports a specific model
func (r *CapabilityRegistry) SupportsModel(provider, model string) bool {
	_, err := r.GetModelCapability(provider, model)
	return err == nil
}

// SupportsTools checks if a model supports tools
func (r *CapabilityRegistry) SupportsTools(provider, model string) bool {
	modelCap, err := r.GetModelCapability(provider, model)
	if err != nil {
		return false
	}
	return modelCap.Features.Tools
}

// SupportsThinking checks if a model supports extended thinking
func (r *CapabilityRegistry) SupportsThinking(provider, model string) bool {
	modelCap, err := r.GetModelCapability(provider, model)
	if err != nil {
		return false
	}
	return modelCap.Features.Thinking
}

// GetToolCapability returns tool capability for a specific tool
func (r *CapabilityRegistry) GetToolCapability(provider, model, toolName string) (*ToolCapability, error) {
	modelCap, err := r.GetModelCapability(provider, model)
	if err != nil {
		return nil, err
	}

	for _, tool := range modelCap.Tools {
		if tool.Name == toolName {
			return &tool, nil
		}
	}
	return nil, fmt.Errorf("tool %s not supported by model %s", toolName, model)
}

// GetThinkingBudgetRange returns the valid thinking budget range for a model
func (r *CapabilityRegistry) GetThinkingBudgetRange(provider, model string) (min int, max int, err error) {
	modelCap, err := r.GetModelCapability(provider, model)
	if err != nil {
		return 0, 0, err
	}
	return modelCap.Thinking.MinBudget, modelCap.Thinking.MaxBudget, nil
}

// ConvertEffortToBudget converts effort level to token budget
// Falls back to default budgets if model not found in registry
func (r *CapabilityRegistry) ConvertEffortToBudget(provider, model, effort string) (int, error) {
	modelCap, err := r.GetModelCapability(provider, model)
	if err == nil {
		if budget, ok := modelCap.Thinking.EffortToBudget[effort]; ok {
			return budget, nil
		}
	}

	budget, ok := defaultEffortBudgets[effort]
	if !ok {
		return 0, fmt.Errorf("unknown effort level: %s (valid: low, medium, high)", effort)
	}
	r.logger.Debug("using default thinking budget",
		"provider", provider,
		"model", model,
		"effort", effort,
		"budget", budget,
	)
	return budget, nil
}

// EstimateCost prices usage for a model. It returns false when the model has
// no pricing data.
func (r *CapabilityRegistry) EstimateCost(provider, model string, usage Usage) (float64, bool) {
	modelCap, err := r.GetModelCapability(provider, model)
	if err != nil {
		return 0, false
	}
	return modelCap.Pricing.Cost(usage), true
}

// LoadCapabilitiesFromFile loads provider capabilities from a YAML file,
// replacing whatever was registered for the same provider.
func (r *CapabilityRegistry) LoadCapabilitiesFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read capabilities file: %w", err)
	}
	return r.load(data)
}

// RegisterProviderCapabilities programmatically registers provider capabilities.
func (r *CapabilityRegistry) RegisterProviderCapabilities(provider string, caps *ProviderCapabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capabilities[provider] = caps
}

// LoadCapabilitiesFromFile is a convenience function that calls the global registry's LoadCapabilitiesFromFile.
func LoadCapabilitiesFromFile(path string) error {
	return GetCapabilityRegistry().LoadCapabilitiesFromFile(path)
}

// RegisterProviderCapabilities is a convenience function that calls the global registry's RegisterProviderCapabilities.
func RegisterProviderCapabilities(provider string, caps *ProviderCapabilities) {
	GetCapabilityRegistry().RegisterProviderCapabilities(provider, caps)
}
