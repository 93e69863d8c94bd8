package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/askelva/herbarium-batch/constants"
	"github.com/askelva/herbarium-batch/internal/async"
	"github.com/askelva/herbarium-batch/internal/barcode"
	"github.com/askelva/herbarium-batch/internal/common"
	"github.com/askelva/herbarium-batch/internal/store"
)

// SessionDeps are the external collaborators a session wires into its
// runner. Any of them may be a test fake.
type SessionDeps struct {
	Providers   ProviderSource
	Occurrences OccurrenceResolver
	Images      ImageFetcher
	Scanner     barcode.Scanner
	Pricing     CostLookup
}

// Session owns one batch: the item collection, the limiter, the runner,
// and debounced persistence. One session exists per process.
type Session struct {
	cfg     *common.Config
	store   store.Store
	items   *List
	limiter *async.Limiter
	runner  *Runner
	persist *persister
	log     *slog.Logger

	mu      sync.Mutex
	running bool
	stop    atomic.Bool
}

// NewSession wires a session. st may be nil for an ephemeral session
// with no persistence.
func NewSession(cfg *common.Config, st store.Store, deps SessionDeps, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		cfg:     cfg,
		store:   st,
		items:   NewList(),
		limiter: async.NewLimiter(cfg.Batch.Concurrency),
		log:     logger,
	}
	s.runner = &Runner{
		Items:       s.items,
		Providers:   deps.Providers,
		Occurrences: deps.Occurrences,
		Images:      deps.Images,
		Scanner:     deps.Scanner,
		Pricing:     deps.Pricing,
		Config:      cfg,
		Stop:        s.stop.Load,
		Log:         logger,
	}
	s.persist = newPersister(cfg.Batch.PersistDebounce, s.saveNow)
	if st != nil {
		s.items.SetOnChange(s.persist.Notify)
	}
	return s
}

// Items exposes the shared collection for status display and export.
func (s *Session) Items() *List { return s.items }

// IsRunning reports whether a bulk run is in flight.
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Parse replaces the whole item collection with fresh pending items, one
// per non-empty line. All prior progress is destroyed.
func (s *Session) Parse(raw string) []Item {
	items := ParseInput(raw)
	s.items.Replace(items)
	s.log.Info("batch.session.parsed", "items", len(items))
	return items
}

// Load rehydrates the item collection from the durable store. Items
// persisted mid-flight come back pending. A missing snapshot is not an
// error; the session just starts empty.
func (s *Session) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	raw, err := s.store.LoadSession(ctx)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var items []Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return common.WrapError(err, "decode session snapshot")
	}
	s.items.Replace(Normalize(items))
	s.log.Info("batch.session.loaded", "items", len(items))
	return nil
}

// Run schedules every schedulable item (pending or failed) through the
// limiter, in input order, each via the retry-wrapped state machine, and
// waits for all of them. Calling Run while a run is in flight is a
// no-op; two sweeps never race over the same items. The concurrency
// limit and the stop flag are read live, so both can change mid-run.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Debug("batch.session.run_skipped", "reason", "already running")
		return nil
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()
	s.stop.Store(false)

	ids := s.items.IDs()
	started := time.Now()
	s.log.Info("batch.session.run_start", "items", len(ids), "concurrency", s.limiter.Limit())

	g := new(errgroup.Group)
	scheduled := 0
	for _, id := range ids {
		if s.stop.Load() {
			break
		}
		it, ok := s.items.Get(id)
		if !ok || !it.Status.Schedulable() {
			continue
		}
		scheduled++
		id := id
		g.Go(func() error {
			return s.limiter.Do(ctx, func() error {
				s.runner.Run(ctx, id)
				return nil
			})
		})
	}
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return common.WrapError(err, "batch run")
	}

	stats := s.items.Stats()
	s.log.Info("batch.session.run_done",
		"scheduled", scheduled,
		"completed", stats.Completed,
		"failed", stats.Failed,
		"stopped", s.stop.Load(),
		"elapsed_ms", time.Since(started).Milliseconds())
	s.persist.Flush()
	s.appendHistory(stats, started)
	return nil
}

// Stop requests cooperative cancellation: in-flight stages finish, queued
// items stay where they are.
func (s *Session) Stop() {
	s.stop.Store(true)
	s.log.Info("batch.session.stop_requested")
}

// SetConcurrency adjusts the limiter bound live. Running tasks keep
// their slot until completion.
func (s *Session) SetConcurrency(n int) error {
	if n < 1 || n > 10 {
		return common.NewAppError("BATCH_INVALID", fmt.Sprintf("concurrency must be 1..10, got %d", n), common.ErrInvalidInput)
	}
	s.cfg.Batch.Concurrency = n
	s.limiter.SetLimit(n)
	return nil
}

// RetryItem re-runs the state machine for exactly one pending or failed
// item, bypassing the bulk scheduler. Used for manual recovery after a
// run finishes with failures.
func (s *Session) RetryItem(ctx context.Context, id string) error {
	it, ok := s.items.Get(id)
	if !ok {
		return common.NewAppError("BATCH_UNKNOWN_ITEM", fmt.Sprintf("no item %s", id), common.ErrNotFound)
	}
	if !it.Status.Schedulable() {
		return common.NewAppError("BATCH_NOT_RETRYABLE",
			fmt.Sprintf("item %s is %s; only pending or failed items can be retried", id, it.Status),
			common.ErrInvalidInput)
	}
	s.stop.Store(false)
	s.runner.Run(ctx, id)
	s.persist.Flush()
	return nil
}

// Clear destroys the item collection and the persisted snapshot.
func (s *Session) Clear(ctx context.Context) error {
	s.items.Replace(nil)
	if s.store != nil {
		return s.store.ClearSession(ctx)
	}
	return nil
}

// ExportCSV writes the current collection as CSV.
func (s *Session) ExportCSV(w io.Writer) error {
	return WriteCSV(w, s.items.Snapshot())
}

// Close flushes any pending persistence write. The store itself belongs
// to the caller.
func (s *Session) Close() {
	s.persist.Close()
}

func (s *Session) saveNow() {
	raw, err := json.Marshal(s.items.Snapshot())
	if err != nil {
		s.log.Error("batch.session.snapshot_failed", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.SaveSession(ctx, raw); err != nil {
		s.log.Error("batch.session.save_failed", "error", err)
	}
}

// runSnapshot is the compact history payload: enough to reproduce what
// was asked of which models, plus the full item outcomes.
type runSnapshot struct {
	Step1 common.StepConfig `json:"step1"`
	Step2 common.StepConfig `json:"step2"`
	Items []Item            `json:"items"`
}

func (s *Session) appendHistory(stats Stats, started time.Time) {
	if s.store == nil {
		return
	}
	snap, err := json.Marshal(runSnapshot{Step1: s.cfg.Step1, Step2: s.cfg.Step2, Items: s.items.Snapshot()})
	if err != nil {
		s.log.Error("batch.session.history_snapshot_failed", "error", err)
		return
	}
	entry := store.HistoryEntry{
		ID:         uuid.NewString(),
		FinishedAt: time.Now(),
		Total:      stats.Total,
		Completed:  stats.Completed,
		Failed:     stats.Failed,
		TotalCost:  s.totalCost(),
		Snapshot:   snap,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.AddHistory(ctx, entry); err != nil {
		s.log.Warn("batch.session.history_failed", "error", err)
	}
}

// totalCost sums per-item costs. If any completed item's cost is
// unknown the total is unknown too; a partial sum would understate
// spend and read as authoritative.
func (s *Session) totalCost() *float64 {
	var (
		sum float64
		n   int
	)
	for _, it := range s.items.Snapshot() {
		if it.Status != constants.ItemCompleted {
			continue
		}
		n++
		if it.Usage == nil || it.Usage.Cost == nil {
			return nil
		}
		sum += *it.Usage.Cost
	}
	if n == 0 {
		return nil
	}
	return &sum
}
