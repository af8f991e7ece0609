// Package term provides distributed termination detection for the executor's
// worker loops. Each thread repeatedly reports whether it did work since its
// last report; global quiescence holds once every thread has reported quiet.
// The executor combines the detector with a barrier round and a worklist
// emptiness recheck to reach a safe consensus on shutdown.
package term

import "sync/atomic"

// Detector is the two-phase quiescence contract.
//
// The invariant implementations must keep: if a thread did work since its
// last LocalTermination(tid, false), the next GlobalTermination observation
// returns false. Once every thread has reported quiet and none has rearmed,
// GlobalTermination stays true.
type Detector interface {
	// InitializeThread rearms the thread as active for a new round.
	InitializeThread(tid int)
	// LocalTermination reports whether the thread did work since its last
	// report.
	LocalTermination(tid int, didWork bool)
	// GlobalTermination reports global quiescence.
	GlobalTermination() bool
}

// Counting is the stock detector: an atomic count of quiet threads plus a
// per-thread working flag. All threads start active.
type Counting struct {
	threads int
	quiet   atomic.Int32
	working []atomic.Bool
}

// NewCounting creates a counting detector for the given thread count.
func NewCounting(threads int) *Counting {
	c := &Counting{
		threads: threads,
		working: make([]atomic.Bool, threads),
	}
	for i := range c.working {
		c.working[i].Store(true)
	}
	return c
}

func (c *Counting) InitializeThread(tid int) {
	if !c.working[tid].Load() {
		c.working[tid].Store(true)
		c.quiet.Add(-1)
	}
}

func (c *Counting) LocalTermination(tid int, didWork bool) {
	w := &c.working[tid]
	switch {
	case didWork && !w.Load():
		w.Store(true)
		c.quiet.Add(-1)
	case !didWork && w.Load():
		w.Store(false)
		c.quiet.Add(1)
	}
}

func (c *Counting) GlobalTermination() bool {
	return int(c.quiet.Load()) == c.threads
}
