// Package stats accumulates per-thread loop counters and reports the merged
// aggregates at loop teardown through pluggable sinks.
package stats

import (
	"time"

	"github.com/google/uuid"
)

// Counters are the per-thread tallies of one loop. Each instance is mutated
// only by its owning worker thread; no atomics are needed on the hot path.
type Counters struct {
	Iterations uint64
	Conflicts  uint64
	Pushes     uint64
}

// Report is the merged outcome of a loop, assembled single-threaded after all
// workers have exited.
type Report struct {
	// RunID uniquely identifies this execution of the loop.
	RunID string
	// LoopName is the diagnostic label the loop was configured with.
	LoopName string
	// Threads is the number of workers that ran the loop.
	Threads int
	// Duration is wall time from seeding to the last worker exit.
	Duration time.Duration

	Iterations uint64
	Commits    uint64
	Conflicts  uint64
	Pushes     uint64

	// Broke reports whether the loop ended through the break flag.
	Broke bool
}

// NewReport merges per-thread counters into a report. Commits are derived as
// iterations minus conflicts.
func NewReport(loopName string, duration time.Duration, broke bool, perThread []Counters) Report {
	r := Report{
		RunID:    uuid.NewString(),
		LoopName: loopName,
		Threads:  len(perThread),
		Duration: duration,
		Broke:    broke,
	}
	for i := range perThread {
		r.Iterations += perThread[i].Iterations
		r.Conflicts += perThread[i].Conflicts
		r.Pushes += perThread[i].Pushes
	}
	r.Commits = r.Iterations - r.Conflicts
	return r
}
