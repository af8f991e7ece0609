package exec

import (
	"context"
	"fmt"
	"time"

	"github.com/amorphous-parallel/runtime/observability"
	"github.com/amorphous-parallel/runtime/pool"
)

// EachOption configures an OnEach region.
type EachOption func(*eachConfig)

type eachConfig struct {
	name         string
	observer     observability.Observer
	observerName string
}

// WithEachName sets the diagnostic label for the region's events.
func WithEachName(name string) EachOption {
	return func(c *eachConfig) { c.name = name }
}

// WithEachObserver sets the observability backend for the region.
func WithEachObserver(obs observability.Observer) EachOption {
	return func(c *eachConfig) { c.observer = obs; c.observerName = "" }
}

// OnEach runs fn exactly once per pool worker, passing the thread id and the
// total thread count. It is the non-speculative sibling of ForEach, used to
// set up per-thread state, emit statistics, or run simple parallel regions:
// no worklist, no aborts, no barrier beyond the pool's own join. The first
// error returned by fn is returned after all workers exit.
func OnEach(ctx context.Context, p *pool.Pool, fn func(tid, total int) error, opts ...EachOption) error {
	cfg := &eachConfig{observer: observability.NoOpObserver{}}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.observerName != "" {
		obs, err := observability.GetObserver(cfg.observerName)
		if err != nil {
			return err
		}
		cfg.observer = obs
	}

	cfg.observer.OnEvent(ctx, observability.Event{
		Type:      EventEachStart,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "exec.OnEach",
		Data:      map[string]any{"loop": cfg.name, "threads": p.Threads()},
	})

	total := p.Threads()
	err := p.Run(func(tid int) error {
		if err := fn(tid, total); err != nil {
			return fmt.Errorf("worker %d: %w", tid, err)
		}
		return nil
	})

	cfg.observer.OnEvent(ctx, observability.Event{
		Type:      EventEachComplete,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "exec.OnEach",
		Data:      map[string]any{"loop": cfg.name, "error": err != nil},
	})

	return err
}
