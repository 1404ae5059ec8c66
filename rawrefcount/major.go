// ABOUTME: Major collection entry points shared by every strategy
// ABOUTME: Border tracing, sweeping of old links and the simple strategy

package rawrefcount

import (
	"go.opentelemetry.io/otel/attribute"

	"github.com/rrcbridge/rrcbridge/gclist"
)

// majorStrategy performs the bridge's part of one major collection step and
// reports whether the bridge is done marking.
type majorStrategy interface {
	traceStep(b *Bridge) bool
}

func newStrategy(s Strategy) majorStrategy {
	switch s {
	case StrategySimple:
		return simpleStrategy{}
	case StrategyMark:
		return markStrategy{}
	case StrategyIncMark:
		return &incMarkStrategy{}
	}
	panic(&InvariantError{Msg: "unknown strategy " + s.String()})
}

// MajorCollectionTraceStep runs one bridge step of the marking phase of a
// major collection. The heap calls it, drains its mark queue, and repeats
// until it returns true.
func (b *Bridge) MajorCollectionTraceStep() bool {
	assertf(len(b.pYoung) == 0 && len(b.oYoung) == 0, "major step with young links pending")
	assertf(!b.minorTraced, "major step inside a minor collection")
	span := b.startSpan("rawrefcount.MajorCollectionTraceStep",
		attribute.Int("rrc.p_old", len(b.pOld)),
		attribute.Int("rrc.o_old", len(b.oOld)),
		attribute.Bool("rrc.cycles", b.cycles))
	defer span.End()

	done := b.major.traceStep(b)
	span.SetAttributes(attribute.Bool("rrc.done", done), attribute.String("rrc.state", b.state.String()))
	b.checkpoint("major trace step")
	return done
}

// MajorCollectionFree runs once the heap's marks are final. Old links whose
// mirror died are released and the cyclic garbage found by the cycle finder
// becomes visible to the embedder.
func (b *Bridge) MajorCollectionFree() {
	assertf(len(b.pDictNurs) == 0, "major free with nursery links pending")
	assertf(b.state == StateDefault || b.state == StateGarbage, "major free while %s", b.state)
	span := b.startSpan("rawrefcount.MajorCollectionFree",
		attribute.Int("rrc.p_old", len(b.pOld)),
		attribute.Int("rrc.o_old", len(b.oOld)))
	defer span.End()

	if b.cycleDone {
		b.arena.Each(b.old, func(s gclist.Slot) {
			b.foreign.ClearWeakrefs(b.entry(s).h)
		})
		b.arena.Merge(b.old, b.dead)
	} else {
		// finalized isolates parked here wait for the next trial deletion
		b.arena.Merge(b.old, b.objects)
	}
	b.cycleDone = false

	freed := 0
	pOld := b.pOld
	b.pOld = nil
	clear(b.pDict)
	for _, h := range pOld {
		h.list = untracked
		if b.heap.Marked(h.link) {
			b.push(&b.pOld, h, inManagedOld)
			b.pDict[h.link] = h
			continue
		}
		b.free(h)
		freed++
	}
	oOld := b.oOld
	b.oOld = nil
	for _, h := range oOld {
		h.list = untracked
		if b.heap.Marked(h.link) {
			b.push(&b.oOld, h, inForeignOld)
			continue
		}
		b.free(h)
		freed++
	}
	clear(b.nongc)

	span.SetAttributes(
		attribute.Int("rrc.freed", freed),
		attribute.Int("rrc.dead_pending", len(b.deallocPending)),
		attribute.Int("rrc.cyclic_garbage", b.arena.Len(b.dead)))
	b.checkpoint("major free")
	b.InvokeCallback()
}

// traceBorder keeps alive the mirrors of managed-originated links whose
// foreign side is referenced from outside the managed world. With
// useCyclic the counts computed by trial deletion decide; otherwise the raw
// external refcount does.
func (b *Bridge) traceBorder(useCyclic bool) {
	kept := 0
	for _, h := range b.pOld {
		var alive bool
		if useCyclic {
			alive = b.cyclicRefs(h) > 0
		} else {
			alive = b.hasExternal(h)
		}
		if alive {
			b.log.Debug("foreign side keeps mirror alive", "header", h, "cyclic", useCyclic)
			b.heap.KeepAlive(h.link)
			b.heap.VisitAll()
			kept++
		}
	}
	b.log.Debug("border traced", "links", len(b.pOld), "kept", kept, "cyclic", useCyclic)
}

// cyclicRefs returns the references to h from outside the dead foreign
// subgraph found by the last trial deletion.
func (b *Bridge) cyclicRefs(h *Header) int64 {
	if b.candidate(h) {
		return b.entry(h.slot).refs
	}
	if n, ok := b.nongc[h]; ok {
		return n
	}
	return b.ExternalRefcnt(h)
}

// candidate reports whether h takes part in the running trial deletion.
func (b *Bridge) candidate(h *Header) bool {
	if h.slot == gclist.Nil {
		return false
	}
	id := b.arena.ListOf(h.slot)
	return id == listObjects || id == listOld
}

type simpleStrategy struct{}

func (simpleStrategy) traceStep(b *Bridge) bool {
	b.traceBorder(false)
	return true
}
