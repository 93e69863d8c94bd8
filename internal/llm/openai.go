package llm

import (
	"log/slog"
	"net/http"

	"github.com/askelva/herbarium-batch/constants"
)

const openaiBaseURL = "https://api.openai.com/v1"

// NewOpenAI returns the OpenAI provider.
func NewOpenAI(client *http.Client, logger *slog.Logger) Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &chatClient{
		id:      constants.ProviderOpenAI,
		baseURL: openaiBaseURL,
		filter:  "gpt",
		fallback: []Model{
			{ID: "gpt-4o", Name: "GPT-4o", Provider: constants.ProviderOpenAI},
			{ID: "gpt-4o-mini", Name: "GPT-4o Mini", Provider: constants.ProviderOpenAI},
			{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", Provider: constants.ProviderOpenAI},
		},
		client: client,
		log:    logger,
	}
}
