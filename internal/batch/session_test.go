package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askelva/herbarium-batch/constants"
	"github.com/askelva/herbarium-batch/internal/common"
	"github.com/askelva/herbarium-batch/internal/llm"
	"github.com/askelva/herbarium-batch/internal/store"
)

type fakeProvider struct {
	transcribe  func(llm.Request) (llm.Response, error)
	standardize func(llm.Request) (llm.Response, error)
}

func (f *fakeProvider) ID() constants.ProviderID { return constants.ProviderOpenAI }

func (f *fakeProvider) ListModels(context.Context, string, string) ([]llm.Model, error) {
	return nil, nil
}

func (f *fakeProvider) GenerateTranscription(_ context.Context, req llm.Request) (llm.Response, error) {
	if f.transcribe != nil {
		return f.transcribe(req)
	}
	return llm.Response{
		Text:  "Herbarium label text",
		Usage: &llm.Usage{InputTokens: 100, OutputTokens: 50},
	}, nil
}

func (f *fakeProvider) StandardizeText(_ context.Context, req llm.Request) (llm.Response, error) {
	if f.standardize != nil {
		return f.standardize(req)
	}
	return llm.Response{
		Text:  `{"dwc:scientificName": "Quercus robur", "dwc:country": "NO"}`,
		Usage: &llm.Usage{InputTokens: 80, OutputTokens: 40},
	}, nil
}

type fakeSource struct{ p llm.Provider }

func (s fakeSource) ForProvider(constants.ProviderID) (llm.Provider, error) { return s.p, nil }

type passthroughImages struct{}

func (passthroughImages) FetchDataURI(_ context.Context, url string) (string, error) {
	return "data:image/png;base64,QUJD", nil
}

type fixedPricing struct {
	perCall float64
	known   bool
}

func (p fixedPricing) Cost(string, int, int) (float64, bool) { return p.perCall, p.known }

func testConfig() *common.Config {
	return &common.Config{
		Batch: common.BatchConfig{
			Concurrency:     2,
			MaxRetries:      0,
			RetryDelay:      time.Millisecond,
			BackoffFactor:   2,
			PersistDebounce: 10 * time.Millisecond,
		},
		Step1: common.StepConfig{Provider: constants.ProviderOpenAI, Model: "step1-model"},
		Step2: common.StepConfig{Provider: constants.ProviderOpenAI, Model: "step2-model"},
		Credentials: map[constants.ProviderID]string{
			constants.ProviderOpenAI: "test-key",
		},
	}
}

func testDeps(p llm.Provider) SessionDeps {
	return SessionDeps{
		Providers: fakeSource{p: p},
		Images:    passthroughImages{},
		Pricing:   fixedPricing{perCall: 0.01, known: true},
	}
}

func TestParseInput(t *testing.T) {
	items := ParseInput("https://img.example/a.jpg\n\n  1056970865  \n\t\nhttps://img.example/b.jpg")
	require.Len(t, items, 3)
	assert.Equal(t, "https://img.example/a.jpg", items[0].OriginalInput)
	assert.Equal(t, "1056970865", items[1].OriginalInput, "lines are trimmed")
	for _, it := range items {
		assert.Equal(t, constants.ItemPending, it.Status)
		assert.NotEmpty(t, it.ID)
	}
	assert.NotEqual(t, items[0].ID, items[1].ID)
}

func TestRunCompletesItems(t *testing.T) {
	s := NewSession(testConfig(), nil, testDeps(&fakeProvider{}), nil)
	s.Parse("https://img.example/a.jpg\nhttps://img.example/b.jpg")

	require.NoError(t, s.Run(context.Background()))

	for _, it := range s.Items().Snapshot() {
		assert.Equal(t, constants.ItemCompleted, it.Status)
		assert.Equal(t, constants.StepDone, it.Step)
		assert.Equal(t, constants.ParseClean, it.ParsingStatus)
		assert.Equal(t, "Quercus robur", it.ParsedData["dwc:scientificName"])
		require.NotNil(t, it.Usage)
		require.NotNil(t, it.Usage.Cost)
		assert.InDelta(t, 0.02, *it.Usage.Cost, 1e-9)
	}
	stats := s.Items().Stats()
	assert.Equal(t, 2, stats.Completed)
	assert.Zero(t, stats.Failed)
}

func TestMiddleItemFailureIsIsolated(t *testing.T) {
	cfg := testConfig()
	cfg.Batch.Concurrency = 1 // deterministic order: one, two, three
	cfg.Batch.MaxRetries = 2
	var n atomic.Int32
	p := &fakeProvider{
		transcribe: func(req llm.Request) (llm.Response, error) {
			if n.Add(1) == 2 {
				return llm.Response{}, &llm.ProviderError{
					Provider: constants.ProviderOpenAI,
					Status:   401,
					Message:  "invalid api key",
				}
			}
			return llm.Response{Text: "ok", Usage: &llm.Usage{InputTokens: 1, OutputTokens: 1}}, nil
		},
	}
	s := NewSession(cfg, nil, testDeps(p), nil)
	s.Parse("one\ntwo\nthree")

	require.NoError(t, s.Run(context.Background()))

	got := s.Items().Snapshot()
	require.Len(t, got, 3)
	assert.Equal(t, constants.ItemCompleted, got[0].Status)
	assert.Equal(t, constants.ItemFailed, got[1].Status)
	assert.Equal(t, constants.ItemCompleted, got[2].Status)
	assert.Contains(t, got[1].Error, "transcription failed:")
	assert.Contains(t, got[1].Error, "invalid api key")
	assert.Equal(t, int32(3), n.Load(), "a 401 is not retried despite the retry budget")
}

func TestStopLeavesQueuedItemsPending(t *testing.T) {
	cfg := testConfig()
	cfg.Batch.Concurrency = 2

	started := make(chan struct{}, 10)
	release := make(chan struct{})
	p := &fakeProvider{
		transcribe: func(req llm.Request) (llm.Response, error) {
			started <- struct{}{}
			<-release
			return llm.Response{Text: "ok"}, nil
		},
	}
	s := NewSession(cfg, nil, testDeps(p), nil)

	var lines string
	for i := 0; i < 10; i++ {
		lines += fmt.Sprintf("https://img.example/%d.jpg\n", i)
	}
	s.Parse(lines)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	// Wait for the first two slots to fill, then stop.
	<-started
	<-started
	s.Stop()
	close(release)
	require.NoError(t, <-done)

	stats := s.Items().Stats()
	assert.Less(t, stats.Completed, 10, "stop must keep queued items from starting")
	assert.GreaterOrEqual(t, stats.Pending, 1, "not-yet-started items stay pending for resume")
	assert.Zero(t, stats.Running, "nothing is left stuck in processing")
}

func TestRunIsNoOpWhileRunning(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	p := &fakeProvider{
		transcribe: func(req llm.Request) (llm.Response, error) {
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
			return llm.Response{Text: "ok"}, nil
		},
	}
	s := NewSession(testConfig(), nil, testDeps(p), nil)
	s.Parse("https://img.example/a.jpg")

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	<-started

	require.True(t, s.IsRunning())
	require.NoError(t, s.Run(context.Background()), "second Run is a no-op, not a second sweep")

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, s.Items().Stats().Completed)
}

func TestRetryItem(t *testing.T) {
	var failNext atomic.Bool
	failNext.Store(true)
	p := &fakeProvider{
		transcribe: func(req llm.Request) (llm.Response, error) {
			if failNext.Load() {
				return llm.Response{}, &llm.ProviderError{
					Provider: constants.ProviderOpenAI, Status: 400, Message: "bad request",
				}
			}
			return llm.Response{Text: "ok", Usage: &llm.Usage{InputTokens: 1, OutputTokens: 1}}, nil
		},
	}
	s := NewSession(testConfig(), nil, testDeps(p), nil)
	items := s.Parse("https://img.example/a.jpg")
	id := items[0].ID

	require.NoError(t, s.Run(context.Background()))
	it, _ := s.Items().Get(id)
	require.Equal(t, constants.ItemFailed, it.Status)

	failNext.Store(false)
	require.NoError(t, s.RetryItem(context.Background(), id))
	it, _ = s.Items().Get(id)
	assert.Equal(t, constants.ItemCompleted, it.Status)
	assert.Empty(t, it.Error, "retry clears the previous failure")
}

func TestRetryItemRejectsCompleted(t *testing.T) {
	s := NewSession(testConfig(), nil, testDeps(&fakeProvider{}), nil)
	items := s.Parse("https://img.example/a.jpg")
	require.NoError(t, s.Run(context.Background()))

	err := s.RetryItem(context.Background(), items[0].ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only pending or failed")
}

func TestUnknownCostStaysNil(t *testing.T) {
	deps := testDeps(&fakeProvider{})
	deps.Pricing = fixedPricing{known: false}
	s := NewSession(testConfig(), nil, deps, nil)
	s.Parse("https://img.example/a.jpg")

	require.NoError(t, s.Run(context.Background()))
	it := s.Items().Snapshot()[0]
	require.Equal(t, constants.ItemCompleted, it.Status)
	require.NotNil(t, it.Usage)
	assert.Nil(t, it.Usage.Cost, "unknown price must not be reported as a cost of 0")
}

func TestFailedParseLeavesItemCompleted(t *testing.T) {
	p := &fakeProvider{
		standardize: func(req llm.Request) (llm.Response, error) {
			return llm.Response{Text: "I could not produce JSON for this label."}, nil
		},
	}
	s := NewSession(testConfig(), nil, testDeps(p), nil)
	s.Parse("https://img.example/a.jpg")

	require.NoError(t, s.Run(context.Background()))
	it := s.Items().Snapshot()[0]
	assert.Equal(t, constants.ItemCompleted, it.Status, "the LLM call succeeded; only interpretation failed")
	assert.Equal(t, constants.ParseFailed, it.ParsingStatus)
	assert.Nil(t, it.ParsedData)
	assert.Empty(t, it.Error)
}

func TestLoadDemotesProcessing(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "s.db"), nil)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	midRun := []Item{
		{ID: "a", OriginalInput: "x", Status: constants.ItemCompleted, Step: constants.StepDone},
		{ID: "b", OriginalInput: "y", Status: constants.ItemProcessing, Step: constants.StepTranscribing},
		{ID: "c", OriginalInput: "z", Status: constants.ItemPending, Step: constants.StepResolving},
	}
	raw, err := json.Marshal(midRun)
	require.NoError(t, err)
	require.NoError(t, st.SaveSession(ctx, raw))

	s := NewSession(testConfig(), st, testDeps(&fakeProvider{}), nil)
	require.NoError(t, s.Load(ctx))

	got := s.Items().Snapshot()
	require.Len(t, got, 3)
	assert.Equal(t, constants.ItemCompleted, got[0].Status)
	assert.Equal(t, constants.ItemPending, got[1].Status, "in-flight work is not crash-recovered")
	assert.Equal(t, constants.StepResolving, got[1].Step, "step resets with the demotion")
	assert.Equal(t, constants.ItemPending, got[2].Status)
}

func TestRunAppendsHistory(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "s.db"), nil)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	s := NewSession(testConfig(), st, testDeps(&fakeProvider{}), nil)
	s.Parse("https://img.example/a.jpg\nhttps://img.example/b.jpg")
	require.NoError(t, s.Run(ctx))
	s.Close()

	entries, err := st.ListHistory(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].Total)
	assert.Equal(t, 2, entries[0].Completed)
	require.NotNil(t, entries[0].TotalCost)
	assert.InDelta(t, 0.04, *entries[0].TotalCost, 1e-9)

	var snap runSnapshot
	require.NoError(t, json.Unmarshal(entries[0].Snapshot, &snap))
	assert.Equal(t, "step1-model", snap.Step1.Model)
	assert.Len(t, snap.Items, 2)
}
