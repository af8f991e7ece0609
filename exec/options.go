package exec

import (
	"github.com/amorphous-parallel/runtime/abort"
	"github.com/amorphous-parallel/runtime/observability"
	"github.com/amorphous-parallel/runtime/stats"
	"github.com/amorphous-parallel/runtime/term"
	"github.com/amorphous-parallel/runtime/worklist"
)

// Option configures one ForEach loop. Options override config-file values;
// they are applied in order.
type Option[T any] func(*loopConfig[T])

type loopConfig[T any] struct {
	name         string
	observer     observability.Observer
	observerName string
	sink         stats.Sink
	sinkName     string
	factory      worklist.Factory[T]
	policy       abort.Policy
	trace        abort.TraceFunc
	newDetector  func(threads int) term.Detector

	aborts bool
	push   bool
	arena  bool
	brk    bool
	stats  bool

	arenaChunk int
}

func newLoopConfig[T any](opts []Option[T]) *loopConfig[T] {
	cfg := &loopConfig[T]{
		observer:    observability.NoOpObserver{},
		factory:     worklist.NewChunkedFIFO[T],
		newDetector: func(threads int) term.Detector { return term.NewCounting(threads) },
		aborts:      true,
		stats:       true,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// resolve turns registry names into instances and fills derived defaults.
// Any failure here is a configuration error reported before workers start.
func (c *loopConfig[T]) resolve() error {
	if c.observerName != "" {
		obs, err := observability.GetObserver(c.observerName)
		if err != nil {
			return err
		}
		c.observer = obs
	}
	if c.sinkName != "" {
		s, err := stats.GetSink(c.sinkName)
		if err != nil {
			return err
		}
		c.sink = s
	}
	if c.sink == nil {
		c.sink = stats.NewObserverSink(c.observer)
	}
	return nil
}

// WithLoopName sets the diagnostic label carried by events and the report.
func WithLoopName[T any](name string) Option[T] {
	return func(c *loopConfig[T]) { c.name = name }
}

// WithObserver sets the observability backend for loop events.
func WithObserver[T any](obs observability.Observer) Option[T] {
	return func(c *loopConfig[T]) { c.observer = obs; c.observerName = "" }
}

// WithWorklist sets the worklist factory. Default: chunked FIFO, chunk 32.
func WithWorklist[T any](f worklist.Factory[T]) Option[T] {
	return func(c *loopConfig[T]) { c.factory = f }
}

// WithAborts enables or disables the speculative path. Disabled loops skip
// all conflict bookkeeping; their operators must not rely on Acquire for
// exclusion. Default: enabled.
func WithAborts[T any](enabled bool) Option[T] {
	return func(c *loopConfig[T]) { c.aborts = enabled }
}

// WithPush declares that the operator may push new work. Default: disabled.
func WithPush[T any](enabled bool) Option[T] {
	return func(c *loopConfig[T]) { c.push = enabled }
}

// WithArena gives each iteration an arena allocator, reclaimed on commit and
// abort. chunkSize <= 0 selects the default chunk.
func WithArena[T any](chunkSize int) Option[T] {
	return func(c *loopConfig[T]) { c.arena = true; c.arenaChunk = chunkSize }
}

// WithBreak declares that the operator may request early shutdown via
// Facing.Break. Default: disabled.
func WithBreak[T any](enabled bool) Option[T] {
	return func(c *loopConfig[T]) { c.brk = enabled }
}

// WithStats enables or disables report emission at teardown. Counters are
// always collected; only sink delivery is elided. Default: enabled.
func WithStats[T any](enabled bool) Option[T] {
	return func(c *loopConfig[T]) { c.stats = enabled }
}

// WithSink sets the statistics sink. Default: an ObserverSink over the loop's
// observer.
func WithSink[T any](s stats.Sink) Option[T] {
	return func(c *loopConfig[T]) { c.sink = s; c.sinkName = "" }
}

// WithEscalation selects the abort escalation policy. Default: chosen from
// the pool's package topology.
func WithEscalation[T any](p abort.Policy) Option[T] {
	return func(c *loopConfig[T]) { c.policy = p }
}

// WithEscalationTrace installs a hook observing every abort routing decision.
func WithEscalationTrace[T any](trace abort.TraceFunc) Option[T] {
	return func(c *loopConfig[T]) { c.trace = trace }
}

// WithDetector overrides the termination detector constructor.
func WithDetector[T any](newDetector func(threads int) term.Detector) Option[T] {
	return func(c *loopConfig[T]) { c.newDetector = newDetector }
}

// WithConfig applies file-loadable configuration. Registry names are resolved
// when the loop starts; unknown names fail before any worker runs.
func WithConfig[T any](fileCfg *Config) Option[T] {
	return func(c *loopConfig[T]) {
		if fileCfg.LoopName != "" {
			c.name = fileCfg.LoopName
		}
		if fileCfg.Observer != "" {
			c.observerName = fileCfg.Observer
		}
		if fileCfg.Sink != "" {
			c.sinkName = fileCfg.Sink
		}
		if fileCfg.Escalation != "" {
			c.policy = abort.Policy(fileCfg.Escalation)
		}
		if fileCfg.ChunkSize > 0 {
			c.factory = worklist.NewChunked[T](fileCfg.ChunkSize)
		}
		if fileCfg.Stats != nil {
			c.stats = *fileCfg.Stats
		}
	}
}
