// Package metrics provides the small counter/timer wrappers the chain
// store and syncer use to publish operational telemetry through
// go.opencensus.io, following the same pattern the teacher's own
// metrics package exposed to chain/syncer.go (NewInt64Counter, NewTimerMs).
package metrics

import (
	"context"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

// Int64Counter is a monotonically increasing counter exported as an
// opencensus view.
type Int64Counter struct {
	measure *stats.Int64Measure
}

// NewInt64Counter registers name/description as an opencensus count view
// and returns a handle to increment it.
func NewInt64Counter(name, description string) *Int64Counter {
	m := stats.Int64(name, description, stats.UnitDimensionless)
	v := &view.View{
		Name:        name,
		Measure:     m,
		Description: description,
		Aggregation: view.Count(),
	}
	// Registration failures (e.g. duplicate name on repeated package
	// init in tests) are not actionable; the measure still works
	// unregistered, it just won't be exported.
	_ = view.Register(v)
	return &Int64Counter{measure: m}
}

// Inc records delta against the counter.
func (c *Int64Counter) Inc(ctx context.Context, delta int64) {
	stats.Record(ctx, c.measure.M(delta))
}

// Float64Timer measures the duration of an operation in milliseconds.
type Float64Timer struct {
	measure *stats.Float64Measure
}

// NewTimerMs registers name/description as an opencensus distribution view
// measured in milliseconds.
func NewTimerMs(name, description string) *Float64Timer {
	m := stats.Float64(name, description, stats.UnitMilliseconds)
	v := &view.View{
		Name:        name,
		Measure:     m,
		Description: description,
		Aggregation: view.Distribution(0, 1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 10000),
	}
	_ = view.Register(v)
	return &Float64Timer{measure: m}
}

// Stopwatch is a started timer measurement awaiting Stop.
type Stopwatch struct {
	timer *Float64Timer
	start time.Time
	ctx   context.Context
}

// Start begins timing an operation.
func (t *Float64Timer) Start(ctx context.Context) *Stopwatch {
	return &Stopwatch{timer: t, start: time.Now(), ctx: ctx}
}

// Stop records the elapsed milliseconds since Start.
func (s *Stopwatch) Stop(ctx context.Context) {
	elapsedMs := float64(time.Since(s.start)) / float64(time.Millisecond)
	stats.Record(ctx, s.timer.measure.M(elapsedMs))
}

// WithTag returns a context carrying an opencensus tag, for breaking down
// counters/timers by a dimension such as peer or sync state.
func WithTag(ctx context.Context, key, value string) context.Context {
	k, err := tag.NewKey(key)
	if err != nil {
		return ctx
	}
	out, err := tag.New(ctx, tag.Insert(k, value))
	if err != nil {
		return ctx
	}
	return out
}
