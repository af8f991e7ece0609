package exec

import "github.com/amorphous-parallel/runtime/observability"

// Executor event types emitted during parallel loops.
const (
	EventLoopStart     observability.EventType = "exec.loop.start"
	EventLoopComplete  observability.EventType = "exec.loop.complete"
	EventRound         observability.EventType = "exec.loop.round"
	EventBreak         observability.EventType = "exec.loop.break"
	EventOperatorError observability.EventType = "exec.operator.error"
	EventEachStart     observability.EventType = "exec.each.start"
	EventEachComplete  observability.EventType = "exec.each.complete"
)
