package convert

import (
	"time"

	"github.com/google/uuid"
)

// State is a phase of the conversion job.
type State string

const (
	StateInit        State = "init"
	StateEnumerating State = "enumerating"
	StateIterating   State = "iterating"
	StateFinalizing  State = "finalizing"
	StateDone        State = "done"
	StateAborted     State = "aborted"
)

// Summary is the result of one run.
type Summary struct {
	RunID                uuid.UUID
	State                State
	DryRun               bool
	Total                int
	Examined             int
	Converted            int
	SkippedAlreadyTarget int
	SkippedNoImage       int
	Failed               int
	Commits              int
	Compacted            bool
	BlobsReclaimed       int
	BytesBefore          int64
	BytesAfter           int64
	StartTime            time.Time
	EndTime              time.Time
}

// Skipped returns the number of fields left untouched without failing.
func (s *Summary) Skipped() int {
	return s.SkippedAlreadyTarget + s.SkippedNoImage
}

// Elapsed returns the run duration.
func (s *Summary) Elapsed() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}
