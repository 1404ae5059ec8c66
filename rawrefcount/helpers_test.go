// ABOUTME: Shared fixtures for the bridge tests
// ABOUTME: Builds simulated worlds and asserts on invariant panics

package rawrefcount_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/rrcbridge/rrcbridge/internal/simheap"
	"github.com/rrcbridge/rrcbridge/rawrefcount"
)

var allStrategies = []rawrefcount.Strategy{
	rawrefcount.StrategySimple,
	rawrefcount.StrategyMark,
	rawrefcount.StrategyIncMark,
}

var cycleStrategies = []rawrefcount.Strategy{
	rawrefcount.StrategyMark,
	rawrefcount.StrategyIncMark,
}

func newWorld(t *testing.T, s rawrefcount.Strategy) *simheap.World {
	t.Helper()
	cfg := rawrefcount.DefaultConfig()
	cfg.Strategy = s
	cfg.Debug = true
	return simheap.NewWorld(cfg)
}

func expectInvariant(t *testing.T, what string, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Fatalf("%s: expected an invariant panic", what)
		}
		err, ok := r.(error)
		if !ok || !errors.Is(err, rawrefcount.ErrInvariant) {
			t.Fatalf("%s: panic %v does not wrap ErrInvariant", what, r)
		}
	}()
	fn()
}

// recordingTracer remembers the names of the spans it starts.
type recordingTracer struct {
	noop.Tracer
	names []string
}

func (r *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	r.names = append(r.names, name)
	return r.Tracer.Start(ctx, name, opts...)
}
