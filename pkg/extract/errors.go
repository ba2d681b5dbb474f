package extract

import (
	"fmt"

	"docuscene/pkg/model"
)

// InputError rejects a document before or after extraction: unsupported
// extension, oversized file, or too little text.
type InputError struct {
	Path   string
	Reason string
}

func (e *InputError) Error() string { return fmt.Sprintf("%s: %s", e.Path, e.Reason) }

func (e *InputError) Unwrap() error { return model.ErrInput }

// ExtractionFailedError wraps a reader failure for a supported format.
type ExtractionFailedError struct {
	Path   string
	Format string
	Err    error
}

func (e *ExtractionFailedError) Error() string {
	return fmt.Sprintf("failed to extract %s text from %s: %v", e.Format, e.Path, e.Err)
}

func (e *ExtractionFailedError) Unwrap() error { return e.Err }
