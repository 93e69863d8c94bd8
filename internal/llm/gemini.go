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

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"

type geminiClient struct {
	client *http.Client
	log    *slog.Logger
}

// NewGemini returns the Google Gemini provider.
func NewGemini(client *http.Client, logger *slog.Logger) Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &geminiClient{client: client, log: logger}
}

func (c *geminiClient) ID() constants.ProviderID { return constants.ProviderGemini }

func (c *geminiClient) ListModels(_ context.Context, _, _ string) ([]Model, error) {
	return []Model{
		{ID: "gemini-1.5-flash", Name: "Gemini 1.5 Flash", Provider: constants.ProviderGemini},
		{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", Provider: constants.ProviderGemini},
		{ID: "gemini-1.0-pro-vision", Name: "Gemini 1.0 Pro Vision", Provider: constants.ProviderGemini},
	}, nil
}

func (c *geminiClient) GenerateTranscription(ctx context.Context, req Request) (Response, error) {
	mimeType, data, err := splitDataURI(req.ImageDataURI)
	if err != nil {
		return Response{}, &ProviderError{Provider: constants.ProviderGemini, Message: err.Error()}
	}
	body := map[string]any{
		"contents": []map[string]any{
			{
				"parts": []map[string]any{
					{"text": req.Prompt},
					{"inline_data": map[string]any{"mime_type": mimeType, "data": data}},
				},
			},
		},
		"generationConfig": map[string]any{"temperature": req.Temperature},
	}
	return c.generate(ctx, req, body)
}

func (c *geminiClient) StandardizeText(ctx context.Context, req Request) (Response, error) {
	body := map[string]any{
		"contents": []map[string]any{
			{
				"parts": []map[string]any{
					{"text": req.Prompt + "\n\nHere is the text to standardize:\n" + req.Text},
				},
			},
		},
		"generationConfig": map[string]any{"temperature": req.Temperature},
	}
	return c.generate(ctx, req, body)
}

func (c *geminiClient) generate(ctx context.Context, req Request, body map[string]any) (Response, error) {
	// The key travels in the query string for this API, so the relay sees
	// it as part of the forwarded target URL.
	target := fmt.Sprintf("%s/%s:generateContent?key=%s", geminiBaseURL, req.Model, req.APIKey)
	raw, status, err := SendJSON(ctx, c.client, Endpoint(req.RelayURL, target), body, nil, c.log)
	if err != nil {
		return Response{}, &ProviderError{
			Provider: constants.ProviderGemini,
			Status:   status,
			Message:  apiErrorMessage(raw, err.Error()),
		}
	}

	var gr struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata *struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
			TotalTokenCount      int `json:"totalTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.Unmarshal(raw, &gr); err != nil {
		return Response{}, &ProviderError{Provider: constants.ProviderGemini, Message: fmt.Sprintf("decode response: %v", err)}
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return Response{}, &ProviderError{Provider: constants.ProviderGemini, Message: "no candidates in response"}
	}

	resp := Response{Text: strings.TrimSpace(gr.Candidates[0].Content.Parts[0].Text)}
	if gr.UsageMetadata != nil {
		resp.Usage = &Usage{
			InputTokens:  gr.UsageMetadata.PromptTokenCount,
			OutputTokens: gr.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  gr.UsageMetadata.TotalTokenCount,
		}
	}
	return resp, nil
}
