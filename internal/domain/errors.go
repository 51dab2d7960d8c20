package domain

import "errors"

// Error classes used across the job and the supervisor. Callers wrap them with
// fmt.Errorf("%w: ...") and test with errors.Is.
var (
	// ErrConfig is returned for invalid or missing run configuration. Fatal at Init.
	ErrConfig = errors.New("config error")

	// ErrCommit is returned when a batch could not be persisted. Fatal; earlier batches stay applied.
	ErrCommit = errors.New("commit error")

	// ErrCompaction is returned when storage compaction fails after a successful run.
	ErrCompaction = errors.New("compaction error")

	// ErrProcessControl is returned when a process cannot be found, signalled or spawned.
	ErrProcessControl = errors.New("process control error")

	// ErrNotAnImage marks field data that does not decode as a supported raster format.
	ErrNotAnImage = errors.New("not an image")
)
