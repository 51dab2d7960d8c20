package domain

import "fmt"

// OutcomeKind classifies the result of examining one image field.
type OutcomeKind int

const (
	OutcomeConverted OutcomeKind = iota
	OutcomeSkippedAlreadyTarget
	OutcomeSkippedNoImage
	OutcomeFailed
)

// String returns the log name of the outcome kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeConverted:
		return "converted"
	case OutcomeSkippedAlreadyTarget:
		return "skipped_already_target"
	case OutcomeSkippedNoImage:
		return "skipped_no_image"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the tagged per-field result. Failures carry a Reason instead of
// being raised, so the iteration loop never unwinds on a bad item.
type Outcome struct {
	Kind        OutcomeKind
	Reason      error
	Path        string
	Field       string
	BytesBefore int64
	BytesAfter  int64
}
