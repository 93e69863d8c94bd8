package constants

// ItemStatus is the canonical lifecycle status for a batch item.
type ItemStatus string

// Stable values (these exact strings are persisted and exported).
const (
	ItemPending    ItemStatus = "pending"    // waiting to be scheduled
	ItemProcessing ItemStatus = "processing" // state machine in flight
	ItemCompleted  ItemStatus = "completed"  // both LLM steps finished
	ItemFailed     ItemStatus = "failed"     // terminal stage error recorded
)

// Schedulable reports whether an item in this status may be (re)entered
// into the pipeline. Processing and completed items are never rescheduled.
func (s ItemStatus) Schedulable() bool {
	return s == ItemPending || s == ItemFailed
}

// Step is the fine-grained progress marker, meaningful only while an
// item is processing.
type Step string

const (
	StepResolving     Step = "resolving"
	StepScanning      Step = "scanning"
	StepTranscribing  Step = "transcribing"
	StepStandardizing Step = "standardizing"
	StepDone          Step = "done"
)

// ParseStatus ranks how a structured record was recovered from model
// output, in decreasing order of confidence.
type ParseStatus string

const (
	ParseClean    ParseStatus = "clean"    // whole output parsed directly
	ParseMarkdown ParseStatus = "markdown" // parsed out of a code fence
	ParseFuzzy    ParseStatus = "fuzzy"    // parsed from a brace-matched window
	ParseFailed   ParseStatus = "failed"   // no strategy produced JSON
)
