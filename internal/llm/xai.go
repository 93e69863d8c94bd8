package llm

import (
	"log/slog"
	"net/http"

	"github.com/askelva/herbarium-batch/constants"
)

const xaiBaseURL = "https://api.x.ai/v1"

// NewXAI returns the xAI provider. The API is OpenAI-compatible, so it
// shares the chat/completions client.
func NewXAI(client *http.Client, logger *slog.Logger) Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &chatClient{
		id:      constants.ProviderXAI,
		baseURL: xaiBaseURL,
		filter:  "grok",
		fallback: []Model{
			{ID: "grok-vision-beta", Name: "Grok Vision Beta", Provider: constants.ProviderXAI},
			{ID: "grok-2-vision-1212", Name: "Grok 2 Vision", Provider: constants.ProviderXAI},
		},
		client: client,
		log:    logger,
	}
}
