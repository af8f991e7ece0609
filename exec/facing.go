package exec

import (
	"sync/atomic"

	"github.com/amorphous-parallel/runtime/conflict"
)

// Facing is the per-iteration scratch surface handed to the operator. One
// instance lives on each worker's stack for the duration of the loop; its
// mutable state is rebuilt around every iteration.
type Facing[T any] struct {
	buf      []T
	arena    *Arena
	brk      *atomic.Bool
	fastPush func(v T)
	ctx      *conflict.Context
}

// Push stages a new work item. On commit the staged items are flushed to the
// worklist in order; on abort they are discarded. When the loop runs without
// aborts, the item spills directly into the worklist instead.
func (f *Facing[T]) Push(v T) {
	if f.fastPush != nil {
		f.fastPush(v)
		return
	}
	f.buf = append(f.buf, v)
}

// Acquire records ownership of a logical lock for this iteration. Returns
// conflict.ErrConflict when another in-flight iteration owns it; the operator
// must propagate that error unchanged. In a loop that cannot conflict,
// acquisition trivially succeeds.
func (f *Facing[T]) Acquire(l *conflict.Lock) error {
	if f.ctx == nil {
		return nil
	}
	return f.ctx.Acquire(l)
}

// Alloc returns per-iteration scratch memory, reclaimed wholesale on commit
// or abort. Loops that did not enable the arena get plain allocations.
func (f *Facing[T]) Alloc(n int) []byte {
	if f.arena == nil {
		return make([]byte, n)
	}
	return f.arena.Alloc(n)
}

// Break requests orderly shutdown of the loop. Every worker observes the flag
// at its next round check; in-flight iterations finish first. A no-op unless
// the loop enabled break.
func (f *Facing[T]) Break() {
	if f.brk != nil {
		f.brk.Store(true)
	}
}
