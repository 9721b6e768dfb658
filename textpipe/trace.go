package textpipe

import "time"

// TraceStatus classifies a trace entry.
type TraceStatus string

const (
	TraceInfo  TraceStatus = "info"
	TraceWarn  TraceStatus = "warn"
	TraceError TraceStatus = "error"
)

// TraceEntry is one diagnostic record of a pipeline stage decision.
type TraceEntry struct {
	Stage     string      `json:"stage"`
	Detail    string      `json:"detail"`
	Status    TraceStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
}

// TraceBuilder accumulates trace entries in order. It is owned by the
// orchestrator; stages return values and the orchestrator records the
// transitions, so no mutable slice is aliased across stages.
type TraceBuilder struct {
	entries []TraceEntry
	now     func() time.Time
}

// NewTraceBuilder returns an empty builder.
func NewTraceBuilder() *TraceBuilder {
	return &TraceBuilder{now: time.Now}
}

// Add appends one entry.
func (t *TraceBuilder) Add(stage string, status TraceStatus, detail string) {
	t.entries = append(t.entries, TraceEntry{
		Stage:     stage,
		Detail:    detail,
		Status:    status,
		Timestamp: t.now(),
	})
}

// Info records an informational transition.
func (t *TraceBuilder) Info(stage, detail string) { t.Add(stage, TraceInfo, detail) }

// Warn records a degraded or skipped stage.
func (t *TraceBuilder) Warn(stage, detail string) { t.Add(stage, TraceWarn, detail) }

// Error records a stage failure that the pipeline absorbed.
func (t *TraceBuilder) Error(stage, detail string) { t.Add(stage, TraceError, detail) }

// Merge folds a delta produced by a sub-stage into the builder, preserving
// the delta's internal order.
func (t *TraceBuilder) Merge(delta []TraceEntry) {
	t.entries = append(t.entries, delta...)
}

// Entries returns a copy of the accumulated log.
func (t *TraceBuilder) Entries() []TraceEntry {
	out := make([]TraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}
