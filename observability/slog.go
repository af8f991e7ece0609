package observability

import (
	"context"
	"log/slog"
)

// SlogObserver emits events to a slog.Logger. Event levels are mapped via
// SlogLevel, the event type becomes the log message, and Data keys are
// flattened as top-level slog attributes. Events below the observer's floor
// are dropped before any attribute work, which keeps per-round verbose
// events cheap when only reports matter.
type SlogObserver struct {
	logger *slog.Logger
	floor  Level
}

// NewSlogObserver creates a SlogObserver that emits every event to the given
// logger.
func NewSlogObserver(logger *slog.Logger) *SlogObserver {
	return &SlogObserver{logger: logger, floor: LevelVerbose}
}

// NewSlogObserverAt creates a SlogObserver that drops events below floor.
func NewSlogObserverAt(logger *slog.Logger, floor Level) *SlogObserver {
	return &SlogObserver{logger: logger, floor: floor}
}

func (o *SlogObserver) OnEvent(ctx context.Context, event Event) {
	if event.Level < o.floor {
		return
	}

	attrs := make([]slog.Attr, 0, len(event.Data)+1)
	attrs = append(attrs, slog.String("source", event.Source))
	for k, v := range event.Data {
		attrs = append(attrs, slog.Any(k, v))
	}

	o.logger.LogAttrs(ctx, event.Level.SlogLevel(), string(event.Type), attrs...)
}
