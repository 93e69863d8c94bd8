package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/askelva/herbarium-batch/constants"
)

// chatClient speaks the OpenAI chat/completions dialect, which xAI also
// implements verbatim. Vendor specifics (base URL, model filter, static
// fallback list) are data, not code.
type chatClient struct {
	id       constants.ProviderID
	baseURL  string
	filter   string // substring a listed model id must contain
	fallback []Model
	client   *http.Client
	log      *slog.Logger
}

func (c *chatClient) ID() constants.ProviderID { return c.id }

func (c *chatClient) ListModels(ctx context.Context, apiKey, relayURL string) ([]Model, error) {
	if apiKey == "" {
		return c.fallback, nil
	}
	raw, _, err := GetJSON(ctx, c.client, Endpoint(relayURL, c.baseURL+"/models"),
		map[string]string{"Authorization": "Bearer " + apiKey}, c.log)
	if err != nil {
		// Listing is best-effort; a CORS or auth hiccup falls back to the
		// static set rather than blocking model selection.
		c.log.Warn("llm.models.fallback", "provider", c.id, "error", err)
		return c.fallback, nil
	}

	var listing struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &listing); err != nil {
		return c.fallback, nil
	}
	var models []Model
	for _, m := range listing.Data {
		if strings.Contains(m.ID, c.filter) {
			models = append(models, Model{ID: m.ID, Name: m.ID, Provider: c.id})
		}
	}
	if len(models) == 0 {
		return c.fallback, nil
	}
	return models, nil
}

func (c *chatClient) GenerateTranscription(ctx context.Context, req Request) (Response, error) {
	body := map[string]any{
		"model": req.Model,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": req.Prompt},
					{"type": "image_url", "image_url": map[string]any{
						"url":    req.ImageDataURI,
						"detail": "high",
					}},
				},
			},
		},
		"max_tokens":  4096,
		"temperature": req.Temperature,
	}
	return c.chat(ctx, req, body)
}

func (c *chatClient) StandardizeText(ctx context.Context, req Request) (Response, error) {
	body := map[string]any{
		"model": req.Model,
		"messages": []map[string]any{
			{"role": "system", "content": req.Prompt},
			{"role": "user", "content": req.Text},
		},
		"max_tokens":  4096,
		"temperature": req.Temperature,
	}
	return c.chat(ctx, req, body)
}

func (c *chatClient) chat(ctx context.Context, req Request, body map[string]any) (Response, error) {
	url := Endpoint(req.RelayURL, c.baseURL+"/chat/completions")
	raw, status, err := SendJSON(ctx, c.client, url, body,
		map[string]string{"Authorization": "Bearer " + req.APIKey}, c.log)
	if err != nil {
		return Response{}, &ProviderError{
			Provider: c.id,
			Status:   status,
			Message:  apiErrorMessage(raw, err.Error()),
		}
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage *struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return Response{}, &ProviderError{Provider: c.id, Message: fmt.Sprintf("decode response: %v", err)}
	}
	if len(cc.Choices) == 0 {
		return Response{}, &ProviderError{Provider: c.id, Message: "no choices in response"}
	}

	resp := Response{Text: strings.TrimSpace(cc.Choices[0].Message.Content)}
	if cc.Usage != nil {
		resp.Usage = &Usage{
			InputTokens:  cc.Usage.PromptTokens,
			OutputTokens: cc.Usage.CompletionTokens,
			TotalTokens:  cc.Usage.TotalTokens,
		}
	}
	return resp, nil
}
