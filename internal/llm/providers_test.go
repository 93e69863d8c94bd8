package llm

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askelva/herbarium-batch/constants"
)

func TestEndpointRelayRouting(t *testing.T) {
	assert.Equal(t, "https://api.openai.com/v1/models", Endpoint("", "https://api.openai.com/v1/models"))
	assert.Equal(t,
		"https://relay.example/https://api.openai.com/v1/models",
		Endpoint("https://relay.example", "https://api.openai.com/v1/models"))
	assert.Equal(t,
		"https://relay.example/https://api.openai.com/v1/models",
		Endpoint("https://relay.example/", "https://api.openai.com/v1/models"))
}

func TestSplitDataURI(t *testing.T) {
	mt, data, err := splitDataURI("data:image/jpeg;base64,aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mt)
	assert.Equal(t, "aGVsbG8=", data)

	for _, bad := range []string{"", "http://x.jpg", "data:image/jpeg,plain", "data:;base64,xx"} {
		_, _, err := splitDataURI(bad)
		assert.Error(t, err, bad)
	}
}

func TestChatClientStandardizeText(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": " {\"dwc:country\":\"NO\"} "}},
			},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19},
		})
	}))
	defer srv.Close()

	c := &chatClient{
		id:      constants.ProviderOpenAI,
		baseURL: srv.URL,
		client:  srv.Client(),
		log:     slog.Default(),
	}
	resp, err := c.StandardizeText(context.Background(), Request{
		APIKey:      "sk-test",
		Model:       "gpt-4o",
		Prompt:      "standardize",
		Text:        "Carex nigra, Oslo 1923",
		Temperature: 0.2,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"dwc:country":"NO"}`, resp.Text)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 7, resp.Usage.OutputTokens)
	assert.Equal(t, 19, resp.Usage.TotalTokens)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-4o", gotBody["model"])
	messages := gotBody["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
}

func TestChatClientErrorCarriesStatusAndMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided"}}`))
	}))
	defer srv.Close()

	c := &chatClient{id: constants.ProviderOpenAI, baseURL: srv.URL, client: srv.Client(), log: slog.Default()}
	_, err := c.StandardizeText(context.Background(), Request{APIKey: "bad", Model: "gpt-4o", Text: "x"})
	require.Error(t, err)

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, constants.ProviderOpenAI, perr.Provider)
	assert.Equal(t, http.StatusUnauthorized, perr.StatusCode())
	assert.Contains(t, perr.Error(), "Incorrect API key provided")
}

func TestChatClientListModelsFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	fallback := []Model{{ID: "gpt-4o", Name: "GPT-4o", Provider: constants.ProviderOpenAI}}
	c := &chatClient{
		id:       constants.ProviderOpenAI,
		baseURL:  srv.URL,
		filter:   "gpt",
		fallback: fallback,
		client:   srv.Client(),
		log:      slog.Default(),
	}

	models, err := c.ListModels(context.Background(), "sk-test", "")
	require.NoError(t, err)
	assert.Equal(t, fallback, models)

	// Missing key short-circuits to the fallback without a request.
	models, err = c.ListModels(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, fallback, models)
}

func TestChatClientListModelsFiltersIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": "gpt-4o"},
				{"id": "whisper-1"},
				{"id": "gpt-4o-mini"},
			},
		})
	}))
	defer srv.Close()

	c := &chatClient{id: constants.ProviderOpenAI, baseURL: srv.URL, filter: "gpt", client: srv.Client(), log: slog.Default()}
	models, err := c.ListModels(context.Background(), "sk-test", "")
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "gpt-4o", models[0].ID)
	assert.Equal(t, "gpt-4o-mini", models[1].ID)
}

func TestRegistryClosedSet(t *testing.T) {
	reg := NewRegistry(nil, nil)
	for _, id := range constants.Providers() {
		p, err := reg.ForProvider(id)
		require.NoError(t, err)
		assert.Equal(t, id, p.ID())
	}
	_, err := reg.ForProvider("mistral")
	assert.Error(t, err)
}

func TestValidateRecord(t *testing.T) {
	assert.Empty(t, ValidateRecord(map[string]any{
		"dwc:scientificName": "Carex nigra",
		"dwc:year":           float64(1923),
	}))
	assert.NotEmpty(t, ValidateRecord(map[string]any{
		"dwc:notes": map[string]any{"nested": "object"},
	}))
	assert.Nil(t, ValidateRecord(nil))
}
