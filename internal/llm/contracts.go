package llm

import (
	"context"
	"fmt"

	"github.com/askelva/herbarium-batch/constants"
)

// Usage carries token counts reported by a vendor, when available.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Response is one model answer: free text plus optional usage metadata.
type Response struct {
	Text  string `json:"text"`
	Usage *Usage `json:"usage,omitempty"`
}

// Model describes one selectable model of a provider.
type Model struct {
	ID       string               `json:"id"`
	Name     string               `json:"name"`
	Provider constants.ProviderID `json:"provider"`
}

// Request carries everything a single provider call needs. The credential
// and relay URL travel with the request so callers can re-read live
// configuration between calls.
type Request struct {
	APIKey      string
	Model       string
	Prompt      string
	RelayURL    string
	Temperature float32

	// ImageDataURI is set for transcription calls (data:<mime>;base64,...),
	// Text for standardization calls.
	ImageDataURI string
	Text         string
}

// Provider is the capability contract the pipeline depends on. One
// conforming implementation exists per vendor; selection goes through
// ForProvider over the closed provider set.
type Provider interface {
	ID() constants.ProviderID

	// ListModels returns selectable models, falling back to a static
	// per-vendor list when the key is missing or the listing call fails.
	ListModels(ctx context.Context, apiKey, relayURL string) ([]Model, error)

	// GenerateTranscription runs step 1: image to free-text label transcription.
	GenerateTranscription(ctx context.Context, req Request) (Response, error)

	// StandardizeText runs step 2: free text to a Darwin Core JSON object.
	StandardizeText(ctx context.Context, req Request) (Response, error)
}

// ProviderError is the one error shape providers surface: which vendor
// failed, a human-readable message, and the HTTP status when there was
// one. StatusCode feeds the retry classifier.
type ProviderError struct {
	Provider constants.ProviderID
	Status   int
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// StatusCode returns the HTTP status of the failure, 0 when unknown.
func (e *ProviderError) StatusCode() int {
	return e.Status
}
