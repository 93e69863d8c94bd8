package constants

import (
	"fmt"
	"strings"
)

// ProviderID identifies an LLM vendor. The set is closed: credentials,
// registries and config validation all key off these values.
type ProviderID string

const (
	ProviderOpenAI    ProviderID = "openai"
	ProviderGemini    ProviderID = "gemini"
	ProviderAnthropic ProviderID = "anthropic"
	ProviderXAI       ProviderID = "xai"
)

var allProviders = []ProviderID{
	ProviderOpenAI,
	ProviderGemini,
	ProviderAnthropic,
	ProviderXAI,
}

// Providers returns the closed provider set in stable order.
func Providers() []ProviderID {
	out := make([]ProviderID, len(allProviders))
	copy(out, allProviders)
	return out
}

// ParseProviderID validates a raw string against the closed set.
func ParseProviderID(s string) (ProviderID, error) {
	id := ProviderID(strings.ToLower(strings.TrimSpace(s)))
	for _, p := range allProviders {
		if id == p {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q (want one of: openai, gemini, anthropic, xai)", s)
}
