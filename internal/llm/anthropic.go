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

const (
	anthropicMessagesURL = "https://api.anthropic.com/v1/messages"
	anthropicVersion     = "2023-06-01"
)

type anthropicClient struct {
	client *http.Client
	log    *slog.Logger
}

// NewAnthropic returns the Anthropic provider.
func NewAnthropic(client *http.Client, logger *slog.Logger) Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &anthropicClient{client: client, log: logger}
}

func (c *anthropicClient) ID() constants.ProviderID { return constants.ProviderAnthropic }

func (c *anthropicClient) ListModels(_ context.Context, _, _ string) ([]Model, error) {
	// Static list: the vision-capable set is small and stable.
	return []Model{
		{ID: "claude-3-5-sonnet-20240620", Name: "Claude 3.5 Sonnet", Provider: constants.ProviderAnthropic},
		{ID: "claude-3-opus-20240229", Name: "Claude 3 Opus", Provider: constants.ProviderAnthropic},
		{ID: "claude-3-sonnet-20240229", Name: "Claude 3 Sonnet", Provider: constants.ProviderAnthropic},
		{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", Provider: constants.ProviderAnthropic},
	}, nil
}

func (c *anthropicClient) GenerateTranscription(ctx context.Context, req Request) (Response, error) {
	mimeType, data, err := splitDataURI(req.ImageDataURI)
	if err != nil {
		return Response{}, &ProviderError{Provider: constants.ProviderAnthropic, Message: err.Error()}
	}
	body := map[string]any{
		"model":       req.Model,
		"max_tokens":  4096,
		"temperature": req.Temperature,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{
						"type": "image",
						"source": map[string]any{
							"type":       "base64",
							"media_type": mimeType,
							"data":       data,
						},
					},
					{"type": "text", "text": req.Prompt},
				},
			},
		},
	}
	return c.send(ctx, req, body)
}

func (c *anthropicClient) StandardizeText(ctx context.Context, req Request) (Response, error) {
	body := map[string]any{
		"model":       req.Model,
		"max_tokens":  4096,
		"temperature": req.Temperature,
		"messages": []map[string]any{
			{"role": "user", "content": req.Prompt + "\n\n" + req.Text},
		},
	}
	return c.send(ctx, req, body)
}

func (c *anthropicClient) send(ctx context.Context, req Request, body map[string]any) (Response, error) {
	headers := map[string]string{
		"x-api-key":         req.APIKey,
		"anthropic-version": anthropicVersion,
	}
	raw, status, err := SendJSON(ctx, c.client, Endpoint(req.RelayURL, anthropicMessagesURL), body, headers, c.log)
	if err != nil {
		return Response{}, &ProviderError{
			Provider: constants.ProviderAnthropic,
			Status:   status,
			Message:  apiErrorMessage(raw, err.Error()),
		}
	}

	var msg struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage *struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Response{}, &ProviderError{Provider: constants.ProviderAnthropic, Message: fmt.Sprintf("decode response: %v", err)}
	}
	if len(msg.Content) == 0 {
		return Response{}, &ProviderError{Provider: constants.ProviderAnthropic, Message: "empty content in response"}
	}

	resp := Response{Text: strings.TrimSpace(msg.Content[0].Text)}
	if msg.Usage != nil {
		resp.Usage = &Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
			TotalTokens:  msg.Usage.InputTokens + msg.Usage.OutputTokens,
		}
	}
	return resp, nil
}

// splitDataURI breaks a data:<mime>;base64,<data> URI into its parts.
func splitDataURI(uri string) (mimeType, data string, err error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", "", fmt.Errorf("invalid image data URI")
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return "", "", fmt.Errorf("invalid image data URI")
	}
	mimeType, ok = strings.CutSuffix(meta, ";base64")
	if !ok || mimeType == "" || data == "" {
		return "", "", fmt.Errorf("invalid image data URI")
	}
	return mimeType, data, nil
}
