// Package exec implements the speculative for-each executor: worker threads
// pull items from a shared worklist, run the operator inside a
// conflict-detecting scope, commit or abort, re-enqueue aborted items under
// an escalating retry policy, and detect global quiescence through a
// termination protocol with barrier-separated rounds.
//
//	p, err := pool.New(nil)
//	report, err := exec.ForEach(ctx, p, exec.Ints(0, 1000),
//		func(v int, f *exec.Facing[int]) error {
//			sum.Add(int64(v))
//			return nil
//		},
//		exec.WithLoopName[int]("count"),
//	)
package exec

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amorphous-parallel/runtime/abort"
	"github.com/amorphous-parallel/runtime/conflict"
	"github.com/amorphous-parallel/runtime/observability"
	"github.com/amorphous-parallel/runtime/pool"
	"github.com/amorphous-parallel/runtime/stats"
	"github.com/amorphous-parallel/runtime/term"
	"github.com/amorphous-parallel/runtime/worklist"
)

// leaderChunkLimit bounds how many items the leader pops per inner cycle when
// break is enabled, so break requests are observed promptly.
const leaderChunkLimit = 64

// Operator is the user function applied to each item. It reports a conflict
// by returning conflict.ErrConflict (usually propagated from Facing.Acquire);
// any other non-nil error is an operator failure that shuts the loop down.
type Operator[T any] func(item T, f *Facing[T]) error

// ForEach runs op over every item of r, plus every item pushed during
// execution, on the pool's worker threads. It returns once the loop reaches
// global quiescence, breaks, or fails.
//
// On success the merged report is returned. On break the same, with
// Report.Broke set; items left in the worklist are discarded. On operator
// failure the first failure is returned as an *OperatorError after counters
// are reported. Configuration problems are returned before any worker runs.
func ForEach[T any](ctx context.Context, p *pool.Pool, r Range[T], op Operator[T], opts ...Option[T]) (stats.Report, error) {
	if op == nil {
		return stats.Report{}, ErrNilOperator
	}
	if r == nil {
		return stats.Report{}, ErrNilRange
	}

	cfg := newLoopConfig(opts)
	if err := cfg.resolve(); err != nil {
		return stats.Report{}, err
	}

	threads := p.Threads()
	couldAbort := cfg.aborts && threads > 1

	var handler *abort.Handler[T]
	if h, err := abort.NewHandler[T](p, cfg.policy, cfg.trace); err != nil {
		return stats.Report{}, err
	} else if couldAbort {
		handler = h
	}

	wl := cfg.factory(threads)
	det := cfg.newDetector(threads)
	counters := make([]stats.Counters, threads)

	var broke atomic.Bool
	var stop atomic.Bool
	var failure failureSlot

	cfg.observer.OnEvent(ctx, observability.Event{
		Type:      EventLoopStart,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "exec.ForEach",
		Data: map[string]any{
			"loop":    cfg.name,
			"threads": threads,
			"aborts":  couldAbort,
			"push":    cfg.push,
			"break":   cfg.brk,
		},
	})

	start := time.Now()

	_ = p.Run(func(tid int) error {
		w := worker[T]{
			ctx:        ctx,
			tid:        tid,
			threads:    threads,
			op:         op,
			cctx:       conflict.NewContext(),
			counters:   &counters[tid],
			wl:         wl,
			handler:    handler,
			det:        det,
			barrier:    p.Barrier(),
			observer:   cfg.observer,
			broke:      &broke,
			stop:       &stop,
			failure:    &failure,
			couldAbort: couldAbort,
			push:       cfg.push,
			brk:        cfg.brk,
		}
		if cfg.arena {
			w.facing.arena = NewArena(cfg.arenaChunk)
		}
		if cfg.brk && p.IsLeader(tid) {
			w.limit = leaderChunkLimit
		}
		w.run(r)
		return nil
	})

	duration := time.Since(start)
	report := stats.NewReport(cfg.name, duration, broke.Load(), counters)
	if cfg.stats {
		cfg.sink.Record(ctx, report)
	}

	if report.Broke {
		cfg.observer.OnEvent(ctx, observability.Event{
			Type:      EventBreak,
			Level:     observability.LevelInfo,
			Timestamp: time.Now(),
			Source:    "exec.ForEach",
			Data:      map[string]any{"loop": cfg.name},
		})
	}

	err := failure.get()
	cfg.observer.OnEvent(ctx, observability.Event{
		Type:      EventLoopComplete,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "exec.ForEach",
		Data: map[string]any{
			"loop":       cfg.name,
			"iterations": report.Iterations,
			"conflicts":  report.Conflicts,
			"duration":   duration.String(),
			"error":      err != nil,
		},
	})

	if err != nil {
		return report, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return report, ctxErr
	}
	return report, nil
}

// failureSlot remembers the first operator failure. The field is written
// under the once and read only after all workers have joined.
type failureSlot struct {
	once sync.Once
	err  error
}

func (f *failureSlot) set(err error) {
	f.once.Do(func() { f.err = err })
}

func (f *failureSlot) get() error { return f.err }

// worker is the per-thread state of one loop, living on the worker's stack.
type worker[T any] struct {
	ctx     context.Context
	tid     int
	threads int
	op      Operator[T]

	facing   Facing[T]
	cctx     *conflict.Context
	counters *stats.Counters

	wl      worklist.Worklist[T]
	handler *abort.Handler[T]
	det     term.Detector
	barrier *pool.Barrier

	observer observability.Observer
	broke    *atomic.Bool
	stop     *atomic.Bool
	failure  *failureSlot

	couldAbort bool
	push       bool
	brk        bool
	limit      int

	lastIterations uint64
}

// run is the worker loop. Inner cycles drain the worklist and this thread's
// abort queue, then report local activity; the inner loop ends when the
// detector observes global quiescence or a shutdown flag is set. A barrier
// then freezes the state, every thread evaluates the same exit predicate, and
// survivors rearm behind a second barrier before the next round. The double
// barrier is what makes the exit decision a consensus: between the two
// crossings nothing mutates the worklist, the abort queues, or the flags.
func (w *worker[T]) run(r Range[T]) {
	w.wl.PushInitial(w.tid, w.threads, r.Partition(w.tid, w.threads))

	if w.brk {
		w.facing.brk = w.broke
	}
	if w.couldAbort {
		w.facing.ctx = w.cctx
	}
	if w.push && !w.couldAbort {
		w.facing.fastPush = func(v T) {
			w.wl.Push(w.tid, v)
			w.counters.Pushes++
		}
	}

	for {
		for {
			if w.couldAbort || w.brk {
				w.runQueue(w.limit)
				if w.couldAbort {
					w.handleAborts()
				}
			} else {
				w.runQueueSimple()
			}

			didWork := w.counters.Iterations != w.lastIterations
			w.lastIterations = w.counters.Iterations
			w.det.LocalTermination(w.tid, didWork)
			runtime.Gosched()

			if w.ctx.Err() != nil {
				w.stop.Store(true)
			}
			if w.stopping() || w.det.GlobalTermination() {
				break
			}
		}

		w.barrier.Wait()

		if w.stopping() || w.exhausted() {
			return
		}

		if w.tid == 0 {
			w.observer.OnEvent(w.ctx, observability.Event{
				Type:      EventRound,
				Level:     observability.LevelVerbose,
				Timestamp: time.Now(),
				Source:    "exec.worker",
				Data:      map[string]any{"iterations": w.lastIterations},
			})
		}

		w.det.InitializeThread(w.tid)
		w.barrier.Wait()
	}
}

func (w *worker[T]) stopping() bool {
	return w.stop.Load() || (w.brk && w.broke.Load())
}

// exhausted decides whether the quiescent loop is finished. The worklist
// emptiness hint is optional; the abort queues must always be drained, or a
// retry stranded between a foreign push and this round would be lost.
func (w *worker[T]) exhausted() bool {
	if w.handler != nil && !w.handler.Empty() {
		return false
	}
	if e, ok := w.wl.(worklist.Emptier); ok {
		return e.Empty()
	}
	return true
}

// runQueue is the speculative inner loop. A zero limit pops until the
// worklist runs dry.
func (w *worker[T]) runQueue(limit int) {
	popped := 0
	for limit == 0 || popped < limit {
		v, ok := w.wl.Pop(w.tid)
		if !ok {
			return
		}
		popped++
		w.process(v, 0)
		if w.stopping() {
			return
		}
	}
}

// runQueueSimple is the non-speculative inner loop: no conflict scope, no
// retry bookkeeping.
func (w *worker[T]) runQueueSimple() {
	for {
		v, ok := w.wl.Pop(w.tid)
		if !ok {
			return
		}
		w.counters.Iterations++
		if err := w.op(v, &w.facing); err != nil {
			w.resetFacing()
			w.fail(err)
			return
		}
		w.commit()
		if w.stop.Load() {
			return
		}
	}
}

// handleAborts drains this thread's retry queue. Items that conflict again
// are re-routed with their retry count escalated.
func (w *worker[T]) handleAborts() {
	for {
		it, ok := w.handler.Pop(w.tid)
		if !ok {
			return
		}
		w.process(it.Val, it.Retries)
		if w.stopping() {
			return
		}
	}
}

func (w *worker[T]) process(v T, retries int) {
	if w.couldAbort {
		if err := w.cctx.StartIteration(); err != nil {
			w.fail(err)
			return
		}
	}
	w.counters.Iterations++

	err := w.op(v, &w.facing)
	if err == nil {
		w.commit()
		return
	}
	if w.couldAbort && errors.Is(err, conflict.ErrConflict) {
		w.abortItem(v, retries)
		return
	}

	if w.couldAbort {
		w.cctx.CancelIteration()
	}
	w.resetFacing()
	w.fail(err)
}

// commit finalizes a successful iteration. Staged pushes flush to the
// worklist before locks release; a conflict observed after the flush is a
// commit, and the post-commit state is not revertible.
func (w *worker[T]) commit() {
	if w.push && w.facing.fastPush == nil {
		if n := len(w.facing.buf); n > 0 {
			w.wl.PushMany(w.tid, w.facing.buf)
			w.counters.Pushes += uint64(n)
			w.facing.buf = w.facing.buf[:0]
		}
	}
	if w.facing.arena != nil {
		w.facing.arena.Reset()
	}
	if w.couldAbort {
		w.cctx.CommitIteration()
	}
}

// abortItem rolls back a conflicted iteration and hands the item to the
// escalation policy. Staged pushes are discarded.
func (w *worker[T]) abortItem(v T, retries int) {
	w.cctx.CancelIteration()
	w.counters.Conflicts++
	w.handler.Push(w.tid, abort.Item[T]{Val: v, Retries: retries + 1})
	w.resetFacing()
}

func (w *worker[T]) resetFacing() {
	w.facing.buf = w.facing.buf[:0]
	if w.facing.arena != nil {
		w.facing.arena.Reset()
	}
}

func (w *worker[T]) fail(err error) {
	w.failure.set(&OperatorError{Tid: w.tid, Err: err})
	w.stop.Store(true)

	w.observer.OnEvent(w.ctx, observability.Event{
		Type:      EventOperatorError,
		Level:     observability.LevelError,
		Timestamp: time.Now(),
		Source:    "exec.worker",
		Data: map[string]any{
			"tid":   w.tid,
			"error": err.Error(),
		},
	})
}
