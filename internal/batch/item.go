// Package batch is the orchestration core: the per-item state machine,
// the session controller, and the item collection they share.
package batch

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/askelva/herbarium-batch/constants"
)

// StepUsage records token consumption for one LLM step.
type StepUsage struct {
	Model        string `json:"model"`
	InputTokens  int    `json:"inputTokens"`
	OutputTokens int    `json:"outputTokens"`
}

// ItemUsage aggregates both steps' usage. Cost is nil when the price of
// either model is unknown; nil and 0 mean different things and are kept
// distinct all the way to export.
type ItemUsage struct {
	Transcription   *StepUsage `json:"transcription,omitempty"`
	Standardization *StepUsage `json:"standardization,omitempty"`
	Cost            *float64   `json:"cost,omitempty"`
}

// Timings records per-stage elapsed milliseconds. Observability only,
// never drives control flow.
type Timings struct {
	ResolveMS     int64 `json:"resolveMs,omitempty"`
	ScanMS        int64 `json:"scanMs,omitempty"`
	TranscribeMS  int64 `json:"transcribeMs,omitempty"`
	StandardizeMS int64 `json:"standardizeMs,omitempty"`
	TotalMS       int64 `json:"totalMs,omitempty"`
}

// Item is one unit of work: a single input line and everything the
// pipeline learned about it. These exact JSON keys are persisted in
// session snapshots.
type Item struct {
	ID              string                `json:"id"`
	OriginalInput   string                `json:"originalInput"`
	Status          constants.ItemStatus  `json:"status"`
	Step            constants.Step        `json:"step"`
	ImageURL        string                `json:"imageUrl,omitempty"`
	Transcription   string                `json:"transcription,omitempty"`
	Standardization string                `json:"standardization,omitempty"`
	ParsedData      map[string]any        `json:"parsedData,omitempty"`
	ParsingStatus   constants.ParseStatus `json:"parsingStatus,omitempty"`
	SchemaWarnings  []string              `json:"schemaWarnings,omitempty"`
	DetectedCodes   []string              `json:"detectedCodes,omitempty"`
	Error           string                `json:"error,omitempty"`
	Timings         *Timings              `json:"timings,omitempty"`
	Usage           *ItemUsage            `json:"usage,omitempty"`
}

// NewItem creates a pending item for one input line.
func NewItem(input string) Item {
	return Item{
		ID:            uuid.NewString(),
		OriginalInput: input,
		Status:        constants.ItemPending,
		Step:          constants.StepResolving,
	}
}

// ParseInput splits raw user input into items: one per non-empty trimmed
// line, in input order, each freshly identified and pending.
func ParseInput(raw string) []Item {
	var items []Item
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		items = append(items, NewItem(line))
	}
	return items
}

// Normalize prepares rehydrated items for scheduling: anything persisted
// mid-flight as processing is demoted to pending with its step reset.
// There is no crash-recovery of in-flight work.
func Normalize(items []Item) []Item {
	for i := range items {
		if items[i].Status == constants.ItemProcessing {
			items[i].Status = constants.ItemPending
			items[i].Step = constants.StepResolving
		}
	}
	return items
}

func cloneItem(it Item) Item {
	if it.ParsedData != nil {
		data := make(map[string]any, len(it.ParsedData))
		for k, v := range it.ParsedData {
			data[k] = v
		}
		it.ParsedData = data
	}
	if it.SchemaWarnings != nil {
		it.SchemaWarnings = append([]string(nil), it.SchemaWarnings...)
	}
	if it.DetectedCodes != nil {
		it.DetectedCodes = append([]string(nil), it.DetectedCodes...)
	}
	if it.Timings != nil {
		t := *it.Timings
		it.Timings = &t
	}
	if it.Usage != nil {
		u := *it.Usage
		if u.Transcription != nil {
			s := *u.Transcription
			u.Transcription = &s
		}
		if u.Standardization != nil {
			s := *u.Standardization
			u.Standardization = &s
		}
		if u.Cost != nil {
			c := *u.Cost
			u.Cost = &c
		}
		it.Usage = &u
	}
	return it
}

// Stats are the live aggregate counts a running batch reports.
type Stats struct {
	Total     int
	Pending   int
	Running   int
	Completed int
	Failed    int
}

// List is the shared, ordered item collection. Every mutation goes
// through Update, which applies the patch against the latest state under
// the lock, so a stage's write can never be clobbered by a stale
// concurrent update captured at task start.
type List struct {
	mu       sync.RWMutex
	items    []Item
	index    map[string]int
	onChange func()
}

func NewList() *List {
	return &List{index: make(map[string]int)}
}

// SetOnChange registers a hook invoked after every mutation, outside the
// lock. Used to schedule debounced persistence.
func (l *List) SetOnChange(fn func()) {
	l.mu.Lock()
	l.onChange = fn
	l.mu.Unlock()
}

func (l *List) notify() {
	l.mu.RLock()
	fn := l.onChange
	l.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Replace swaps in a whole new collection, destroying all prior progress.
func (l *List) Replace(items []Item) {
	l.mu.Lock()
	l.items = append([]Item(nil), items...)
	l.index = make(map[string]int, len(items))
	for i, it := range l.items {
		l.index[it.ID] = i
	}
	l.mu.Unlock()
	l.notify()
}

// Update applies fn to the latest state of one item, atomically.
func (l *List) Update(id string, fn func(*Item)) bool {
	l.mu.Lock()
	i, ok := l.index[id]
	if !ok {
		l.mu.Unlock()
		return false
	}
	fn(&l.items[i])
	l.mu.Unlock()
	l.notify()
	return true
}

// Get returns a defensive copy of one item.
func (l *List) Get(id string) (Item, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[id]
	if !ok {
		return Item{}, false
	}
	return cloneItem(l.items[i]), true
}

// Snapshot returns defensive copies of all items in input order.
func (l *List) Snapshot() []Item {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Item, len(l.items))
	for i, it := range l.items {
		out[i] = cloneItem(it)
	}
	return out
}

// IDs returns all item ids in input order.
func (l *List) IDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, len(l.items))
	for i, it := range l.items {
		ids[i] = it.ID
	}
	return ids
}

func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Stats aggregates live status counts.
func (l *List) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := Stats{Total: len(l.items)}
	for _, it := range l.items {
		switch it.Status {
		case constants.ItemPending:
			s.Pending++
		case constants.ItemProcessing:
			s.Running++
		case constants.ItemCompleted:
			s.Completed++
		case constants.ItemFailed:
			s.Failed++
		}
	}
	return s
}
