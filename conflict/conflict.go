// Package conflict implements the lock-based conflict detection used by the
// speculative executor. Each worker thread owns a Context; user data embeds
// Locks. An iteration acquires every Lock it touches through its Context, and
// a collision with another thread's in-flight iteration surfaces as
// ErrConflict, which the operator propagates back to the executor.
package conflict

import (
	"errors"
	"sync/atomic"
)

// ErrConflict signals that an acquisition collided with another thread's
// in-flight iteration. Operators propagate it unchanged; the executor aborts
// and retries the iteration.
var ErrConflict = errors.New("conflict: lock owned by another iteration")

// ErrIterationInProgress is returned by StartIteration when the previous
// iteration on this context was neither committed nor cancelled.
var ErrIterationInProgress = errors.New("conflict: iteration already in progress")

// Lock is a logical lock attached to a unit of user data. The zero value is
// an unowned lock. Ownership transfers only through Context acquisition and
// is released on commit or cancel.
type Lock struct {
	owner atomic.Pointer[Context]
}

// Held reports whether any iteration currently owns the lock.
func (l *Lock) Held() bool { return l.owner.Load() != nil }

// Context tracks the acquisitions of one thread's in-flight iteration.
// All methods except MarkAbort must be called only by the owning thread.
type Context struct {
	held        []*Lock
	inside      bool
	acquiring   atomic.Bool
	abortMarked atomic.Bool
}

// NewContext creates an idle context.
func NewContext() *Context {
	return &Context{held: make([]*Lock, 0, 8)}
}

// StartIteration opens a transactional scope. At most one iteration may be in
// progress per context.
func (c *Context) StartIteration() error {
	if c.inside {
		return ErrIterationInProgress
	}
	c.inside = true
	c.abortMarked.Store(false)
	return nil
}

// Acquire records ownership of l for the current iteration. Re-acquiring an
// owned lock is a no-op. Returns ErrConflict if another context owns l, or if
// this context has been marked for abort.
func (c *Context) Acquire(l *Lock) error {
	if c.abortMarked.Load() {
		return ErrConflict
	}

	c.acquiring.Store(true)
	defer c.acquiring.Store(false)

	for {
		owner := l.owner.Load()
		if owner == c {
			return nil
		}
		if owner != nil {
			return ErrConflict
		}
		if l.owner.CompareAndSwap(nil, c) {
			c.held = append(c.held, l)
			return nil
		}
	}
}

// CommitIteration releases all acquisitions in acquisition order and closes
// the scope. Every lock held for the iteration is released before return.
func (c *Context) CommitIteration() {
	c.release()
	c.abortMarked.Store(false)
	c.inside = false
}

// CancelIteration releases all acquisitions, clears the in-progress-acquire
// flag and any abort mark, and closes the scope. Safe to call after a
// conflicted acquisition; re-entry via StartIteration is valid afterwards.
func (c *Context) CancelIteration() {
	c.release()
	c.acquiring.Store(false)
	c.abortMarked.Store(false)
	c.inside = false
}

// MarkAbort flags the context so that its next acquisition fails with
// ErrConflict. May be called from any thread.
func (c *Context) MarkAbort() {
	c.abortMarked.Store(true)
}

// Inside reports whether an iteration is currently open.
func (c *Context) Inside() bool { return c.inside }

func (c *Context) release() {
	for _, l := range c.held {
		l.owner.CompareAndSwap(c, nil)
	}
	c.held = c.held[:0]
}
