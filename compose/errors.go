package compose

import "fmt"

// ExtractionError reports that no decoded frame survived compositing.
type ExtractionError struct {
	Decoded int // Number of frames the decoder produced.
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("compose: no valid frames among %d decoded", e.Decoded)
}

// PreconditionError reports a caller bug such as reassembling without a prior
// extraction, or buffers whose count or dimensions disagree.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "compose: precondition failed: " + e.Reason
}

func precondition(format string, args ...any) error {
	return &PreconditionError{Reason: fmt.Sprintf(format, args...)}
}
