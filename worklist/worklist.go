// Package worklist defines the shared bag of pending work the executor draws
// from, and provides the stock implementations. The executor treats a
// worklist as a black box: any container with non-blocking pop can back a
// loop. Ownership of an item passes from pusher to popper.
//
// Go has no thread-local storage, so every operation takes the caller's
// thread id explicitly; implementations may use it for per-thread locality
// and must not assume anything else about it beyond 0 <= tid < threads.
package worklist

// Worklist is the container contract the executor requires.
type Worklist[T any] interface {
	// Push adds one item. Safe to call concurrently from any thread.
	Push(tid int, v T)
	// PushMany adds items in order, semantically a loop of Push.
	PushMany(tid int, vs []T)
	// Pop removes an item, or returns false when nothing is available right
	// now. Pop must never block; false may be spurious.
	Pop(tid int) (T, bool)
	// PushInitial seeds the calling thread's partition of the input range.
	// Called once per thread before the loop starts.
	PushInitial(tid, total int, items []T)
}

// Emptier is an optional hint interface. When a worklist implements it, the
// executor consults Empty after global quiescence as an early-exit check.
type Emptier interface {
	Empty() bool
}

// Factory builds a worklist sized for the given thread count. Factories are
// generic, so a loop instantiates its worklist at the operator's item type.
type Factory[T any] func(threads int) Worklist[T]
