package models

import "errors"

// Recoverable error taxonomy. All of these are logged and isolated to
// the dataset, destination, or snapshot they occurred on; none aborts
// the whole run.
var (
	// ErrUnknownTemplate means a dataset references a template name
	// that was never declared. The dataset is excluded from generation.
	ErrUnknownTemplate = errors.New("unknown template")

	// ErrBadFrequency means a frequency string did not match
	// <integer><unit>. Scheduling falls back to once yearly.
	ErrBadFrequency = errors.New("unrecognized frequency")

	// ErrBadTimestamp means a snapshot creation time matched none of
	// the accepted formats. The snapshot is excluded from pruning and
	// age decisions.
	ErrBadTimestamp = errors.New("unparseable creation timestamp")

	// ErrPoolMissing means the destination's top-level pool does not
	// exist. The destination is skipped.
	ErrPoolMissing = errors.New("destination pool not found")

	// ErrNoSnapshots means a destination holds no snapshot matching
	// our naming convention.
	ErrNoSnapshots = errors.New("no matching snapshots")
)
