package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amorphous-parallel/runtime/observability"
)

// EventReport is emitted by ObserverSink for each recorded loop report.
const EventReport observability.EventType = "stats.loop.report"

// Sink receives the merged report of a finished loop.
type Sink interface {
	Record(ctx context.Context, r Report)
}

// NoOpSink discards reports.
type NoOpSink struct{}

func (NoOpSink) Record(ctx context.Context, r Report) {}

// ObserverSink emits each report as an observability event.
type ObserverSink struct {
	observer observability.Observer
}

// NewObserverSink creates a sink emitting to the given observer.
func NewObserverSink(observer observability.Observer) *ObserverSink {
	return &ObserverSink{observer: observer}
}

func (s *ObserverSink) Record(ctx context.Context, r Report) {
	s.observer.OnEvent(ctx, observability.Event{
		Type:      EventReport,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "stats.ObserverSink",
		Data: map[string]any{
			"run_id":     r.RunID,
			"loop":       r.LoopName,
			"threads":    r.Threads,
			"duration":   r.Duration.String(),
			"iterations": r.Iterations,
			"commits":    r.Commits,
			"conflicts":  r.Conflicts,
			"pushes":     r.Pushes,
			"broke":      r.Broke,
		},
	})
}

var (
	sinks = map[string]Sink{
		"noop": NoOpSink{},
	}
	mutex sync.RWMutex
)

// GetSink returns a registered sink by name. Pre-registered: "noop".
func GetSink(name string) (Sink, error) {
	mutex.RLock()
	defer mutex.RUnlock()

	s, exists := sinks[name]
	if !exists {
		return nil, fmt.Errorf("unknown sink: %s", name)
	}
	return s, nil
}

// RegisterSink adds or replaces a named sink in the global registry.
func RegisterSink(name string, sink Sink) {
	mutex.Lock()
	defer mutex.Unlock()

	sinks[name] = sink
}
