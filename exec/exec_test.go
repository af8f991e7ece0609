package exec_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/amorphous-parallel/runtime/abort"
	"github.com/amorphous-parallel/runtime/conflict"
	"github.com/amorphous-parallel/runtime/exec"
	"github.com/amorphous-parallel/runtime/pool"
)

func newPool(t *testing.T, threads, packages int) *pool.Pool {
	t.Helper()
	p, err := pool.New(&pool.Config{Threads: threads, Packages: packages})
	require.NoError(t, err)
	return p
}

func TestForEach_Counting(t *testing.T) {
	p := newPool(t, 4, 2)
	var sum atomic.Int64

	report, err := exec.ForEach(context.Background(), p, exec.Ints(0, 1000),
		func(v int, f *exec.Facing[int]) error {
			sum.Add(int64(v))
			return nil
		},
		exec.WithLoopName[int]("count"),
	)

	require.NoError(t, err)
	require.Equal(t, int64(499500), sum.Load())
	require.Equal(t, uint64(1000), report.Iterations)
	require.Equal(t, uint64(0), report.Conflicts)
	require.Equal(t, uint64(1000), report.Commits)
	require.False(t, report.Broke)
}

func TestForEach_Push(t *testing.T) {
	p := newPool(t, 2, 1)

	report, err := exec.ForEach(context.Background(), p, exec.FromSlice([]int{1}),
		func(v int, f *exec.Facing[int]) error {
			if v > 0 {
				f.Push(v - 1)
			}
			return nil
		},
		exec.WithPush[int](true),
	)

	require.NoError(t, err)
	require.Equal(t, uint64(2), report.Iterations)
	require.Equal(t, uint64(1), report.Pushes)
	require.Equal(t, uint64(0), report.Conflicts)
}

func TestForEach_ForcedConflict(t *testing.T) {
	p := newPool(t, 2, 1)

	var lock conflict.Lock
	var conflicts atomic.Int64
	var committed atomic.Int64

	op := func(v int, f *exec.Facing[int]) error {
		if err := f.Acquire(&lock); err != nil {
			return err
		}
		// The first winner holds the lock until the other thread has
		// collided, so at least one conflict is forced.
		deadline := time.Now().Add(5 * time.Second)
		for committed.Load() == 0 && conflicts.Load() == 0 && time.Now().Before(deadline) {
			time.Sleep(50 * time.Microsecond)
		}
		committed.Add(1)
		return nil
	}

	report, err := exec.ForEach(context.Background(), p,
		exec.PerThread(func(tid, total int) []int { return []int{tid} }),
		op,
		exec.WithEscalationTrace[int](func(from, to, retries int) {
			conflicts.Add(1)
		}),
	)

	require.NoError(t, err)
	require.Equal(t, uint64(2), report.Commits)
	require.GreaterOrEqual(t, report.Conflicts, uint64(1))
	require.Equal(t, report.Commits+report.Conflicts, report.Iterations)
}

func TestForEach_Break(t *testing.T) {
	p := newPool(t, 4, 2)

	report, err := exec.ForEach(context.Background(), p, exec.Ints(0, 1000),
		func(v int, f *exec.Facing[int]) error {
			if v == 42 {
				f.Break()
			}
			return nil
		},
		exec.WithBreak[int](true),
	)

	require.NoError(t, err)
	require.True(t, report.Broke)
	require.LessOrEqual(t, report.Iterations, uint64(1000))
	require.GreaterOrEqual(t, report.Iterations, uint64(1))
}

func TestForEach_BreakOnFirstIteration(t *testing.T) {
	p := newPool(t, 1, 1)

	report, err := exec.ForEach(context.Background(), p, exec.Ints(0, 10),
		func(v int, f *exec.Facing[int]) error {
			f.Break()
			return nil
		},
		exec.WithBreak[int](true),
	)

	require.NoError(t, err)
	require.True(t, report.Broke)
	require.Equal(t, uint64(1), report.Iterations)
}

func TestForEach_Escalation(t *testing.T) {
	// 8 threads in 4 packages; the item seeded on thread 5 conflicts four
	// times, so its retries climb local -> toward leader -> across packages.
	p := newPool(t, 8, 4)

	const target = 5
	var aborts atomic.Int64
	var mu sync.Mutex
	var dests []int
	var retries []int

	report, err := exec.ForEach(context.Background(), p,
		exec.PerThread(func(tid, total int) []int {
			if tid == target {
				return []int{target}
			}
			return nil
		}),
		func(v int, f *exec.Facing[int]) error {
			if aborts.Load() < 4 {
				aborts.Add(1)
				return conflict.ErrConflict
			}
			return nil
		},
		exec.WithEscalation[int](abort.PolicyDouble),
		exec.WithEscalationTrace[int](func(from, to, k int) {
			mu.Lock()
			dests = append(dests, to)
			retries = append(retries, k)
			mu.Unlock()
		}),
	)

	require.NoError(t, err)
	require.Equal(t, uint64(4), report.Conflicts)
	require.Equal(t, uint64(1), report.Commits)
	require.Equal(t, uint64(5), report.Iterations)

	require.Equal(t, []int{1, 2, 3, 4}, retries, "retries must escalate monotonically")
	require.Equal(t, []int{5, 4, 4, 2}, dests,
		"item must climb from local through package leader to a foreign package")
}

func TestForEach_SlowProducer(t *testing.T) {
	// A single chain of pushed items, produced slowly through the fast
	// push-back path: the loop must not terminate before the chain ends.
	p := newPool(t, 2, 1)

	const last = 50
	var committed atomic.Int64

	report, err := exec.ForEach(context.Background(), p, exec.FromSlice([]int{0}),
		func(v int, f *exec.Facing[int]) error {
			time.Sleep(200 * time.Microsecond)
			if v < last {
				f.Push(v + 1)
			}
			committed.Add(1)
			return nil
		},
		exec.WithAborts[int](false),
		exec.WithPush[int](true),
	)

	require.NoError(t, err)
	require.Equal(t, int64(last+1), committed.Load())
	require.Equal(t, uint64(last+1), report.Iterations)
	require.Equal(t, uint64(last), report.Pushes)
}

func TestForEach_EmptyRange(t *testing.T) {
	p := newPool(t, 4, 2)

	report, err := exec.ForEach(context.Background(), p, exec.Ints(0, 0),
		func(v int, f *exec.Facing[int]) error { return nil },
	)

	require.NoError(t, err)
	require.Equal(t, uint64(0), report.Iterations)
	require.Equal(t, uint64(0), report.Conflicts)
}

func TestForEach_SingleItemSingleThread(t *testing.T) {
	p := newPool(t, 1, 1)

	report, err := exec.ForEach(context.Background(), p, exec.FromSlice([]string{"only"}),
		func(v string, f *exec.Facing[string]) error { return nil },
	)

	require.NoError(t, err)
	require.Equal(t, uint64(1), report.Commits)
}

func TestForEach_SingleThreadMatchesSequential(t *testing.T) {
	p := newPool(t, 1, 1)

	var got []int
	report, err := exec.ForEach(context.Background(), p, exec.Ints(0, 100),
		func(v int, f *exec.Facing[int]) error {
			got = append(got, v)
			return nil
		},
	)

	require.NoError(t, err)
	require.Equal(t, uint64(100), report.Commits)

	want := make([]int, 100)
	for i := range want {
		want[i] = i
	}
	require.Equal(t, want, got, "one thread must commit in pop order")
}

func TestForEach_OperatorFailure(t *testing.T) {
	p := newPool(t, 2, 1)
	boom := errors.New("boom")

	report, err := exec.ForEach(context.Background(), p, exec.Ints(0, 100),
		func(v int, f *exec.Facing[int]) error {
			if v == 7 {
				return boom
			}
			return nil
		},
	)

	require.Error(t, err)
	require.ErrorIs(t, err, boom)
	var opErr *exec.OperatorError
	require.ErrorAs(t, err, &opErr)
	require.LessOrEqual(t, report.Iterations, uint64(100))
}

func TestForEach_NilArguments(t *testing.T) {
	p := newPool(t, 1, 1)

	_, err := exec.ForEach[int](context.Background(), p, exec.Ints(0, 1), nil)
	require.ErrorIs(t, err, exec.ErrNilOperator)

	_, err = exec.ForEach(context.Background(), p, nil,
		func(v int, f *exec.Facing[int]) error { return nil })
	require.ErrorIs(t, err, exec.ErrNilRange)
}

func TestForEach_UnknownObserverName(t *testing.T) {
	p := newPool(t, 1, 1)

	_, err := exec.ForEach(context.Background(), p, exec.Ints(0, 1),
		func(v int, f *exec.Facing[int]) error { return nil },
		exec.WithConfig[int](&exec.Config{Observer: "no-such-observer"}),
	)
	require.Error(t, err)
}

func TestForEach_ContextCancelled(t *testing.T) {
	p := newPool(t, 2, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.ForEach(ctx, p, exec.Ints(0, 10),
		func(v int, f *exec.Facing[int]) error { return nil },
	)
	require.ErrorIs(t, err, context.Canceled)
}

func TestForEach_PushDiscardedOnAbort(t *testing.T) {
	// The first execution of the item stages a push and then conflicts;
	// the staged push must be discarded, so only the retry's push lands.
	p := newPool(t, 2, 1)

	var aborted atomic.Bool
	report, err := exec.ForEach(context.Background(), p, exec.FromSlice([]int{10}),
		func(v int, f *exec.Facing[int]) error {
			if v == 10 {
				if aborted.CompareAndSwap(false, true) {
					f.Push(99)
					return conflict.ErrConflict
				}
				f.Push(11)
			}
			return nil
		},
		exec.WithPush[int](true),
	)

	require.NoError(t, err)
	require.Equal(t, uint64(1), report.Conflicts)
	require.Equal(t, uint64(1), report.Pushes, "aborted push must not count")
	// Items processed: 10 (aborted), 10 (retry), 11.
	require.Equal(t, uint64(3), report.Iterations)
}

func TestForEach_ArenaScratch(t *testing.T) {
	p := newPool(t, 2, 1)

	report, err := exec.ForEach(context.Background(), p, exec.Ints(0, 64),
		func(v int, f *exec.Facing[int]) error {
			b := f.Alloc(16)
			if len(b) != 16 {
				return errors.New("short arena allocation")
			}
			return nil
		},
		exec.WithArena[int](256),
	)

	require.NoError(t, err)
	require.Equal(t, uint64(64), report.Commits)
}
