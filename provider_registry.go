package llmprovider

// ProviderID represents a unique provider identifier.
// Using a typed constant prevents typos and provides compile-time safety.
type ProviderID string

// Known provider identifiers
const (
	// ProviderAnthropic is Anthropic's Claude API
	ProviderAnthropic ProviderID = "anthropic"

	// ProviderOpenRouter is OpenRouter's OpenAI-compatible routing API
	ProviderOpenRouter ProviderID = "openrouter"

	// ProviderLorem is the mock Lorem provider for offline development
	ProviderLorem ProviderID = "lorem"

	// ProviderScripted replays pre-recorded turns (tests and demos)
	ProviderScripted ProviderID = "scripted"
)

// String returns the string representation of the provider ID
func (p ProviderID) String() string {
	return string(p)
}

// IsValid returns true if the provider ID is a known provider
func (p ProviderID) IsValid() bool {
	switch p {
	case ProviderAnthropic, ProviderOpenRouter, ProviderLorem, ProviderScripted:
		return true
	default:
		return false
	}
}
