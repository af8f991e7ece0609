// Package abort holds items whose speculative iteration conflicted, and
// routes each retry toward a progressively more distant thread so that
// contention on a hot lock dissipates with growing physical radius.
package abort

import (
	"fmt"
	"sync"
)

// Item is a unit of work that has aborted at least once. Retries counts the
// aborts so far and never decreases for a given item.
type Item[T any] struct {
	Val     T
	Retries int
}

// Policy names an escalation strategy.
type Policy string

const (
	// PolicyBasic climbs the package tree on every retry. Default when the
	// topology has at most two packages.
	PolicyBasic Policy = "basic"
	// PolicyDouble alternates local retries with hops toward the package
	// leader and then up the package tree. Default on larger topologies.
	PolicyDouble Policy = "double"
	// PolicyBounded keeps the first retries local, then climbs within the
	// package, then across packages.
	PolicyBounded Policy = "bounded"
	// PolicyEager always retries on the aborting thread.
	PolicyEager Policy = "eager"
)

// Topology describes the thread layout escalation routes over. *pool.Pool
// satisfies it.
type Topology interface {
	Threads() int
	Packages() int
	Package(tid int) int
	LeaderOf(pkg int) int
	IsLeader(tid int) bool
}

// TraceFunc observes each routing decision: the pushing thread, the
// destination queue, and the item's retry count. Used by instrumentation and
// tests; nil disables tracing.
type TraceFunc func(from, to, retries int)

// Handler owns one retry queue per thread. Any thread may push to any queue;
// only the owning thread pops.
type Handler[T any] struct {
	topo   Topology
	policy Policy
	trace  TraceFunc
	queues []queue[T]
}

type queue[T any] struct {
	mu    sync.Mutex
	items []Item[T]
	head  int
}

// DefaultPolicy returns the policy selected for a topology when none is
// configured: basic for at most two packages, double otherwise.
func DefaultPolicy(topo Topology) Policy {
	if topo.Packages() <= 2 {
		return PolicyBasic
	}
	return PolicyDouble
}

// NewHandler creates a handler routing with the given policy. An empty policy
// selects DefaultPolicy(topo). Unknown policy names are a configuration
// error.
func NewHandler[T any](topo Topology, policy Policy, trace TraceFunc) (*Handler[T], error) {
	if policy == "" {
		policy = DefaultPolicy(topo)
	}
	switch policy {
	case PolicyBasic, PolicyDouble, PolicyBounded, PolicyEager:
	default:
		return nil, fmt.Errorf("abort: unknown escalation policy %q", policy)
	}
	return &Handler[T]{
		topo:   topo,
		policy: policy,
		trace:  trace,
		queues: make([]queue[T], topo.Threads()),
	}, nil
}

// Policy returns the policy the handler routes with.
func (h *Handler[T]) Policy() Policy { return h.policy }

// Push enqueues an aborted item for retry. tid is the aborting thread; the
// destination queue is chosen from it and the item's retry count.
func (h *Handler[T]) Push(tid int, it Item[T]) {
	dest := h.destination(tid, it.Retries)
	if h.trace != nil {
		h.trace(tid, dest, it.Retries)
	}
	q := &h.queues[dest]
	q.mu.Lock()
	q.items = append(q.items, it)
	q.mu.Unlock()
}

// Pop removes the oldest item from the calling thread's queue.
func (h *Handler[T]) Pop(tid int) (Item[T], bool) {
	q := &h.queues[tid]
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == len(q.items) {
		var zero Item[T]
		return zero, false
	}
	it := q.items[q.head]
	var zero Item[T]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return it, true
}

// Empty reports whether every queue is drained. Only meaningful when no
// thread is pushing concurrently.
func (h *Handler[T]) Empty() bool {
	for i := range h.queues {
		q := &h.queues[i]
		q.mu.Lock()
		empty := q.head == len(q.items)
		q.mu.Unlock()
		if !empty {
			return false
		}
	}
	return true
}

// destination implements the escalation table. k is the retry count of the
// item being placed; p is the package of the pushing thread.
func (h *Handler[T]) destination(tid, k int) int {
	switch h.policy {
	case PolicyEager:
		return tid

	case PolicyBasic:
		return h.topo.LeaderOf(h.topo.Package(tid) / 2)

	case PolicyBounded:
		if k < 2 {
			return tid
		}
		if k < 5 && !h.topo.IsLeader(tid) {
			return h.topo.LeaderOf(h.topo.Package(tid))
		}
		return h.topo.LeaderOf(h.topo.Package(tid) / 2)

	default: // PolicyDouble
		if k%2 == 1 {
			return tid
		}
		leader := h.topo.LeaderOf(h.topo.Package(tid))
		if tid != leader {
			return leader + (tid-leader)/2
		}
		return h.topo.LeaderOf(h.topo.Package(tid) / 2)
	}
}
