// Package pool provides the fixed thread pool the executor runs on: worker
// goroutines bound to OS threads, thread identifiers, the package (cache
// domain) topology used by abort escalation, and the system barrier.
package pool

import (
	"fmt"
	"runtime"

	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"
)

// Pool is a fixed-size group of worker slots. Thread ids are dense in
// [0, Threads()) and stable across Run invocations. Threads are grouped into
// packages; the first thread of each package is its leader.
type Pool struct {
	threads    int
	packages   int
	perPackage int
	barrier    *Barrier
}

// New creates a pool from configuration. A zero thread count sizes the pool
// to the effective GOMAXPROCS after honoring any container CPU quota; a zero
// package count creates one package per four threads, rounded up. Each
// package holds ceil(threads/packages) consecutive threads; the last may hold
// fewer.
func New(cfg *Config) (*Pool, error) {
	c := DefaultConfig()
	if cfg != nil {
		c.Merge(cfg)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	threads := c.Threads
	if threads == 0 {
		undo, err := maxprocs.Set(maxprocs.Logger(nil))
		if err != nil {
			undo()
			return nil, fmt.Errorf("failed to apply cpu quota: %w", err)
		}
		threads = runtime.GOMAXPROCS(0)
	}

	packages := c.Packages
	if packages == 0 {
		packages = (threads + 3) / 4
	}
	if packages > threads {
		packages = threads
	}

	return &Pool{
		threads:    threads,
		packages:   packages,
		perPackage: (threads + packages - 1) / packages,
		barrier:    NewBarrier(threads),
	}, nil
}

// Threads returns the number of worker slots.
func (p *Pool) Threads() int { return p.threads }

// Packages returns the number of thread packages.
func (p *Pool) Packages() int { return p.packages }

// Package returns the package id of the given thread.
func (p *Pool) Package(tid int) int { return tid / p.perPackage }

// LeaderOf returns the thread id of the given package's leader.
func (p *Pool) LeaderOf(pkg int) int { return pkg * p.perPackage }

// IsLeader reports whether the given thread leads its package.
func (p *Pool) IsLeader(tid int) bool { return tid == p.LeaderOf(p.Package(tid)) }

// Barrier returns the pool's system barrier, sized to Threads().
func (p *Pool) Barrier() *Barrier { return p.barrier }

// Run executes fn once per worker slot, each on its own OS-bound goroutine,
// and joins them. The first non-nil error is returned after all workers exit.
// fn must not call Run reentrantly: the barrier is shared across the pool.
func (p *Pool) Run(fn func(tid int) error) error {
	var g errgroup.Group
	for tid := range p.threads {
		g.Go(func() error {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			return fn(tid)
		})
	}
	return g.Wait()
}
