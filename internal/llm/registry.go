package llm

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/askelva/herbarium-batch/constants"
)

// Registry maps the closed provider set to implementations sharing one
// HTTP client.
type Registry struct {
	providers map[constants.ProviderID]Provider
}

// NewRegistry builds the registry. A nil client gets a sane default
// timeout; vision calls on large specimen scans can be slow.
func NewRegistry(client *http.Client, logger *slog.Logger) *Registry {
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		providers: map[constants.ProviderID]Provider{
			constants.ProviderOpenAI:    NewOpenAI(client, logger),
			constants.ProviderGemini:    NewGemini(client, logger),
			constants.ProviderAnthropic: NewAnthropic(client, logger),
			constants.ProviderXAI:       NewXAI(client, logger),
		},
	}
}

// ForProvider resolves a provider id. Unknown ids are an error, never a
// nil provider.
func (r *Registry) ForProvider(id constants.ProviderID) (Provider, error) {
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("no provider registered for %q", id)
	}
	return p, nil
}

// DefaultModel is the fallback model per provider when a step has no
// explicit model configured.
func DefaultModel(id constants.ProviderID) string {
	switch id {
	case constants.ProviderOpenAI:
		return "gpt-4o"
	case constants.ProviderGemini:
		return "gemini-1.5-flash"
	case constants.ProviderAnthropic:
		return "claude-3-5-sonnet-20240620"
	case constants.ProviderXAI:
		return "grok-vision-beta"
	default:
		return ""
	}
}
