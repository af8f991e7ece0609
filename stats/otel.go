package stats

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelSink records loop aggregates on OpenTelemetry counters, one add per
// aggregate per loop, attributed with the loop name.
type OTelSink struct {
	iterations metric.Int64Counter
	commits    metric.Int64Counter
	conflicts  metric.Int64Counter
	pushes     metric.Int64Counter
}

// NewOTelSink creates the four counter instruments on the given meter.
func NewOTelSink(meter metric.Meter) (*OTelSink, error) {
	s := &OTelSink{}
	var err error

	if s.iterations, err = meter.Int64Counter("runtime.loop.iterations",
		metric.WithDescription("Operator applications, committed or aborted")); err != nil {
		return nil, fmt.Errorf("failed to create iterations counter: %w", err)
	}
	if s.commits, err = meter.Int64Counter("runtime.loop.commits",
		metric.WithDescription("Iterations that committed")); err != nil {
		return nil, fmt.Errorf("failed to create commits counter: %w", err)
	}
	if s.conflicts, err = meter.Int64Counter("runtime.loop.conflicts",
		metric.WithDescription("Iterations aborted on conflict")); err != nil {
		return nil, fmt.Errorf("failed to create conflicts counter: %w", err)
	}
	if s.pushes, err = meter.Int64Counter("runtime.loop.pushes",
		metric.WithDescription("Items pushed by operators")); err != nil {
		return nil, fmt.Errorf("failed to create pushes counter: %w", err)
	}
	return s, nil
}

func (s *OTelSink) Record(ctx context.Context, r Report) {
	attrs := metric.WithAttributes(attribute.String("loop", r.LoopName))

	s.iterations.Add(ctx, int64(r.Iterations), attrs)
	s.commits.Add(ctx, int64(r.Commits), attrs)
	s.conflicts.Add(ctx, int64(r.Conflicts), attrs)
	s.pushes.Add(ctx, int64(r.Pushes), attrs)
}
