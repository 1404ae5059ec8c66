// ABOUTME: Non-incremental cycle detection strategy
// ABOUTME: Runs trial deletion over every tracked foreign object within a single step

package rawrefcount

import "go.opentelemetry.io/otel/attribute"

type markStrategy struct{}

func (markStrategy) traceStep(b *Bridge) bool {
	if !b.cycles {
		b.traceBorder(false)
		return true
	}
	span := b.startSpan("rawrefcount.mark")
	defer span.End()

	b.beginCycle()
	b.collectRoots()
	b.markLive()
	useCyclic := b.finishCycle()
	b.traceBorder(useCyclic)

	span.SetAttributes(
		attribute.Int("rrc.candidates", b.last.Candidates),
		attribute.Int("rrc.dead", b.last.Dead),
		attribute.Int("rrc.garbage", b.last.Garbage),
		attribute.Int("rrc.isolated", b.last.Isolated))
	return true
}
