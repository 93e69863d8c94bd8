package batch

import (
	"context"
	"log/slog"
	"time"

	"github.com/askelva/herbarium-batch/constants"
	"github.com/askelva/herbarium-batch/internal/async"
	"github.com/askelva/herbarium-batch/internal/barcode"
	"github.com/askelva/herbarium-batch/internal/common"
	"github.com/askelva/herbarium-batch/internal/gbif"
	"github.com/askelva/herbarium-batch/internal/llm"
)

// ProviderSource selects the LLM implementation for a provider id.
// *llm.Registry is the production implementation.
type ProviderSource interface {
	ForProvider(id constants.ProviderID) (llm.Provider, error)
}

// OccurrenceResolver turns a biodiversity-portal reference into an image
// URL. *gbif.Service is the production implementation.
type OccurrenceResolver interface {
	Resolve(ctx context.Context, input string) (string, error)
}

// ImageFetcher downloads an image and returns it as a data URI.
type ImageFetcher interface {
	FetchDataURI(ctx context.Context, url string) (string, error)
}

// CostLookup prices one model call. ok=false means the price is unknown,
// which callers must never collapse into zero.
type CostLookup interface {
	Cost(modelID string, inputTokens, outputTokens int) (float64, bool)
}

// Runner drives one item through the pipeline:
//
//	pending → processing(resolving → scanning → transcribing → standardizing) → completed(done)
//
// Any stage error lands in the item as a failed status with a
// stage-specific message; failures never escape Run. Items fail
// independently of each other.
type Runner struct {
	Items       *List
	Providers   ProviderSource
	Occurrences OccurrenceResolver
	Images      ImageFetcher
	Scanner     barcode.Scanner
	Pricing     CostLookup
	Config      *common.Config

	// Stop reports whether a cooperative stop was requested. Checked once
	// at state-machine entry; in-flight stages run to completion.
	Stop func() bool

	Log *slog.Logger
}

func (r *Runner) logger() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

// Run executes the state machine for one item. Items not in a
// schedulable status (processing, completed) are left untouched.
func (r *Runner) Run(ctx context.Context, id string) {
	log := r.logger().With("item_id", id)

	if r.Stop != nil && r.Stop() {
		log.Debug("batch.item.skipped", "reason", "stop requested")
		return
	}
	it, ok := r.Items.Get(id)
	if !ok {
		log.Warn("batch.item.unknown")
		return
	}
	if !it.Status.Schedulable() {
		log.Debug("batch.item.skipped", "reason", "not schedulable", "status", it.Status)
		return
	}

	started := time.Now()
	r.Items.Update(id, func(it *Item) {
		it.Status = constants.ItemProcessing
		it.Step = constants.StepResolving
		it.Error = ""
		it.Transcription = ""
		it.Standardization = ""
		it.ParsedData = nil
		it.ParsingStatus = ""
		it.SchemaWarnings = nil
		it.DetectedCodes = nil
		it.Timings = &Timings{}
		it.Usage = &ItemUsage{}
	})
	log.Info("batch.item.start", "input", it.OriginalInput)

	// resolving: occurrence reference or direct URL, then the image bytes.
	stageStart := time.Now()
	dataURI, imageURL, err := r.resolve(ctx, it.OriginalInput)
	if err != nil {
		r.fail(id, "resolution failed: "+err.Error())
		return
	}
	r.Items.Update(id, func(it *Item) {
		it.ImageURL = imageURL
		it.Timings.ResolveMS = time.Since(stageStart).Milliseconds()
		it.Step = constants.StepScanning
	})

	// scanning: best-effort barcode detection, never fatal.
	stageStart = time.Now()
	codes := r.scan(ctx, log, dataURI)
	r.Items.Update(id, func(it *Item) {
		it.DetectedCodes = codes
		it.Timings.ScanMS = time.Since(stageStart).Milliseconds()
		it.Step = constants.StepTranscribing
	})

	// transcribing: step 1, image to free text.
	stageStart = time.Now()
	resp, err := r.callStep(ctx, r.Config.Step1, llm.DefaultTranscriptionPrompt, func(ctx context.Context, p llm.Provider, req llm.Request) (llm.Response, error) {
		req.ImageDataURI = dataURI
		return p.GenerateTranscription(ctx, req)
	})
	if err != nil {
		r.fail(id, "transcription failed: "+err.Error())
		return
	}
	r.Items.Update(id, func(it *Item) {
		it.Transcription = resp.Text
		it.Usage.Transcription = stepUsage(r.Config.Step1, resp.Usage)
		it.Timings.TranscribeMS = time.Since(stageStart).Milliseconds()
		it.Step = constants.StepStandardizing
	})

	// standardizing: step 2, free text to a Darwin Core record.
	stageStart = time.Now()
	resp2, err := r.callStep(ctx, r.Config.Step2, llm.DefaultStandardizationPrompt, func(ctx context.Context, p llm.Provider, req llm.Request) (llm.Response, error) {
		req.Text = resp.Text
		return p.StandardizeText(ctx, req)
	})
	if err != nil {
		r.fail(id, "standardization failed: "+err.Error())
		return
	}

	// done: structured recovery, validation, cost. A failed parse leaves
	// the item completed; the LLM call itself succeeded.
	parsed := llm.RobustParse(resp2.Text)
	var warnings []string
	if parsed.Data != nil {
		warnings = llm.ValidateRecord(parsed.Data)
	}
	r.Items.Update(id, func(it *Item) {
		it.Standardization = resp2.Text
		it.Usage.Standardization = stepUsage(r.Config.Step2, resp2.Usage)
		it.ParsedData = parsed.Data
		it.ParsingStatus = parsed.Status
		it.SchemaWarnings = warnings
		it.Timings.StandardizeMS = time.Since(stageStart).Milliseconds()
		it.Timings.TotalMS = time.Since(started).Milliseconds()
		it.Usage.Cost = r.cost(it.Usage)
		it.Step = constants.StepDone
		it.Status = constants.ItemCompleted
	})
	log.Info("batch.item.completed",
		"parse_status", parsed.Status,
		"elapsed_ms", time.Since(started).Milliseconds())
}

func (r *Runner) fail(id, msg string) {
	r.Items.Update(id, func(it *Item) {
		it.Status = constants.ItemFailed
		it.Error = msg
	})
	r.logger().Warn("batch.item.failed", "item_id", id, "error", msg)
}

// resolve maps the raw input line to image bytes. Occurrence references
// go through the biodiversity portal first; anything else is taken as a
// direct image URL.
func (r *Runner) resolve(ctx context.Context, input string) (dataURI, imageURL string, err error) {
	imageURL = input
	if _, ok := gbif.ParseOccurrenceID(input); ok && r.Occurrences != nil {
		imageURL, err = r.Occurrences.Resolve(ctx, input)
		if err != nil {
			return "", "", err
		}
	}
	dataURI, err = r.Images.FetchDataURI(ctx, imageURL)
	if err != nil {
		return "", "", err
	}
	return dataURI, imageURL, nil
}

// scan runs barcode detection when enabled. Failures are logged and the
// item proceeds with no codes.
func (r *Runner) scan(ctx context.Context, log *slog.Logger, dataURI string) []string {
	if r.Scanner == nil || !r.Config.Batch.ScanBarcodes {
		return nil
	}
	codes, err := r.Scanner.Scan(ctx, dataURI)
	if err != nil {
		log.Warn("batch.item.scan_failed", "error", err)
		return nil
	}
	return codes
}

// callStep runs one LLM step with its configured provider, retry-wrapped
// per the batch retry policy and bounded by the step timeout. The last
// error is propagated unchanged.
func (r *Runner) callStep(ctx context.Context, step common.StepConfig, defaultPrompt string,
	invoke func(context.Context, llm.Provider, llm.Request) (llm.Response, error)) (llm.Response, error) {

	provider, err := r.Providers.ForProvider(step.Provider)
	if err != nil {
		return llm.Response{}, err
	}
	key, err := r.Config.Credential(step.Provider)
	if err != nil {
		return llm.Response{}, err
	}
	model := step.Model
	if model == "" {
		model = llm.DefaultModel(step.Provider)
	}
	prompt := step.Prompt
	if prompt == "" {
		prompt = defaultPrompt
	}
	req := llm.Request{
		APIKey:      key,
		Model:       model,
		Prompt:      prompt,
		RelayURL:    r.Config.Relay.URL,
		Temperature: step.Temperature,
	}

	policy := async.Policy{
		MaxRetries:    r.Config.Batch.MaxRetries,
		InitialDelay:  r.Config.Batch.RetryDelay,
		BackoffFactor: r.Config.Batch.BackoffFactor,
		Classify:      async.DefaultRetryable,
		Logger:        r.logger(),
	}
	var resp llm.Response
	err = async.Retry(ctx, policy, func() error {
		cctx := ctx
		if r.Config.Batch.StepTimeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(ctx, r.Config.Batch.StepTimeout)
			defer cancel()
		}
		var callErr error
		resp, callErr = invoke(cctx, provider, req)
		return callErr
	})
	return resp, err
}

// cost prices the whole item. Unknown pricing for either step, or absent
// usage metadata, yields nil rather than a misleading partial sum.
func (r *Runner) cost(u *ItemUsage) *float64 {
	if r.Pricing == nil || u == nil || u.Transcription == nil || u.Standardization == nil {
		return nil
	}
	c1, ok1 := r.Pricing.Cost(u.Transcription.Model, u.Transcription.InputTokens, u.Transcription.OutputTokens)
	c2, ok2 := r.Pricing.Cost(u.Standardization.Model, u.Standardization.InputTokens, u.Standardization.OutputTokens)
	if !ok1 || !ok2 {
		return nil
	}
	total := c1 + c2
	return &total
}

func stepUsage(step common.StepConfig, u *llm.Usage) *StepUsage {
	if u == nil {
		return nil
	}
	model := step.Model
	if model == "" {
		model = llm.DefaultModel(step.Provider)
	}
	return &StepUsage{
		Model:        model,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
	}
}
