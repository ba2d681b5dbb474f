package planner

import (
	"fmt"

	"docuscene/pkg/model"
)

// EmptyInputError is returned by Plan when the document has no text.
type EmptyInputError struct{}

func (e *EmptyInputError) Error() string { return "document text is empty" }

func (e *EmptyInputError) Unwrap() error { return model.ErrInput }

// GenerationError wraps an LLM call or parse failure. Plan recovers from it
// with the heuristic fallback.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string { return fmt.Sprintf("scene generation failed: %v", e.Err) }

func (e *GenerationError) Unwrap() error { return e.Err }

// ValidationError describes a generated scene field that had to be coerced.
type ValidationError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("scene %d: %s: %s", e.Index+1, e.Field, e.Reason)
}

// NoScenesProducedError is returned when generated output holds no scenes.
type NoScenesProducedError struct{}

func (e *NoScenesProducedError) Error() string { return "no scenes produced" }
