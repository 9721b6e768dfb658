package textpipe

import "errors"

// The pipeline converts stage failures into trace entries instead of letting
// them cross stage boundaries. Only input acquisition may surface an error
// to the caller; everything else yields a structurally valid Result.
var (
	// ErrUnreadableInput means the buffer could not be acquired at all.
	// This is the only fatal condition.
	ErrUnreadableInput = errors.New("unreadable input")

	// ErrStageUnavailable marks a strategy whose required capability is
	// missing (no renderer, no OCR endpoint). Recorded, never returned
	// from Extract.
	ErrStageUnavailable = errors.New("stage unavailable")

	// ErrAllStrategiesExhausted tags the terminal unreadable-document
	// outcome. It is carried in the trace, not returned: the caller still
	// receives an empty-text Result with diagnostics.
	ErrAllStrategiesExhausted = errors.New("all strategies exhausted")
)
