// ABOUTME: Trial deletion machinery shared by the mark and incremental mark strategies
// ABOUTME: Root collection, live marking fixpoint, legacy garbage and finalizer isolates

package rawrefcount

import "github.com/rrcbridge/rrcbridge/gclist"

// beginCycle prepares the gc lists for a new trial deletion.
func (b *Bridge) beginCycle() {
	if b.state == StateGarbage {
		b.log.Debug("legacy garbage not drained before next cycle", "pending", len(b.garbageTrace))
	}
	b.state = StateDefault
	b.last = CycleStats{Consistent: true}
	b.garbageHead, b.garbageTail = gclist.Nil, gclist.Nil
	b.garbageTrace = b.garbageTrace[:0]
	clear(b.nongc)
	b.promoteTuples()
	// isolates already handed out are judged again with everything else
	b.arena.Merge(b.old, b.objects)
}

func (b *Bridge) promoteTuples() {
	b.arena.Each(b.tuples, func(s gclist.Slot) {
		if b.foreign.MaybeUntrackTuple(b.entry(s).h) {
			b.arena.Remove(s)
			b.arena.Append(b.objects, s)
		}
	})
}

func (b *Bridge) eachBorder(fn func(*Header)) {
	for _, h := range b.pOld {
		fn(h)
	}
	for _, h := range b.oOld {
		fn(h)
	}
}

// traverse adds delta to the trial count of everything h references.
func (b *Bridge) traverse(h *Header, delta int64) {
	b.foreign.Traverse(h, func(c *Header) {
		b.visit(c, delta)
	})
}

func (b *Bridge) visit(c *Header, delta int64) {
	if b.candidate(c) {
		b.entry(c.slot).refs += delta
		return
	}
	if !c.linked() {
		return
	}
	n, ok := b.nongc[c]
	if !ok {
		n = b.ExternalRefcnt(c)
	}
	b.nongc[c] = n + delta
	if delta > 0 {
		b.heap.KeepAlive(c.link)
		b.heap.VisitAll()
	}
}

// collectRoots leaves in every candidate the number of references from
// outside the candidate set and moves all candidates to the old list.
func (b *Bridge) collectRoots() {
	b.arena.Each(b.objects, func(s gclist.Slot) {
		e := b.entry(s)
		e.refs = b.ExternalRefcnt(e.h)
		b.last.Candidates++
	})
	b.eachBorder(func(h *Header) {
		if !b.candidate(h) {
			b.nongc[h] = b.ExternalRefcnt(h)
		}
	})
	b.arena.Each(b.objects, func(s gclist.Slot) {
		b.traverse(b.entry(s).h, -1)
	})
	b.arena.Move(b.objects, b.old)
}

// markLive moves back to the object list every candidate that is
// referenced from outside the old list or whose mirror is marked, until
// nothing changes. Whatever stays on the old list is cyclic garbage.
func (b *Bridge) markLive() {
	b.eachBorder(func(h *Header) {
		if !b.candidate(h) && b.nongc[h] > 0 {
			b.heap.KeepAlive(h.link)
			b.heap.VisitAll()
		}
	})
	for found := true; found; {
		found = false
		b.arena.Each(b.old, func(s gclist.Slot) {
			if b.markIfAlive(s) {
				found = true
			}
		})
	}
}

func (b *Bridge) markIfAlive(s gclist.Slot) bool {
	e := b.entry(s)
	h := e.h
	assertf(e.refs >= 0, "negative trial count %d on %v", e.refs, h)
	if e.refs == 0 && h.linked() && b.heap.Marked(h.link) {
		e.refs = 1
	}
	if e.refs == 0 {
		return false
	}
	b.arena.Remove(s)
	b.arena.Append(b.objects, s)
	b.traverse(h, 1)
	if h.linked() {
		b.heap.KeepAlive(h.link)
		b.heap.VisitAll()
	}
	return true
}

// finishCycle hands legacy garbage and modern finalizer isolates found on
// the old list to the embedder. It reports whether the trial counts may
// decide which mirrors the border trace keeps alive.
func (b *Bridge) finishCycle() bool {
	b.state = StateGarbageMarking
	if b.findGarbage() {
		b.markGarbage()
	}
	useCyclic := true
	if b.findFinalizer() {
		b.last.Isolated = b.arena.Len(b.old)
		b.arena.Merge(b.old, b.isolate)
		useCyclic = false
	}
	b.last.Dead = b.arena.Len(b.old)
	b.cycleDone = true
	b.state = StateDefault
	b.log.Debug("cycle finished",
		"candidates", b.last.Candidates,
		"dead", b.last.Dead,
		"garbage", b.last.Garbage,
		"isolated", b.last.Isolated)
	return useCyclic
}

func (b *Bridge) findGarbage() bool {
	found := false
	b.arena.Each(b.old, func(s gclist.Slot) {
		if b.foreign.FinalizerKind(b.entry(s).h) == FinalizerLegacy {
			b.moveToGarbage(s)
			found = true
		}
	})
	return found
}

// markGarbage extends the legacy garbage to everything it keeps alive.
func (b *Bridge) markGarbage() {
	for found := true; found; {
		found = false
		b.arena.Each(b.old, func(s gclist.Slot) {
			e := b.entry(s)
			if e.refs == 0 && e.h.linked() && b.heap.Marked(e.h.link) {
				e.refs = 1
			}
			if e.refs > 0 {
				b.moveToGarbage(s)
				found = true
			}
		})
	}
}

// moveToGarbage puts s at the head of the object list, growing the garbage
// view, and marks everything it references as alive.
func (b *Bridge) moveToGarbage(s gclist.Slot) {
	h := b.entry(s).h
	b.arena.Remove(s)
	b.arena.Add(b.objects, s)
	if b.garbageHead == gclist.Nil {
		b.garbageTail = s
	}
	b.garbageHead = s
	b.last.Garbage++
	b.traverse(h, 1)
	if h.linked() {
		b.garbageTrace = append(b.garbageTrace, h.link)
		b.heap.KeepAlive(h.link)
		b.heap.VisitAll()
	}
}

func (b *Bridge) findFinalizer() bool {
	found := false
	b.arena.Each(b.old, func(s gclist.Slot) {
		e := b.entry(s)
		if !e.finalized && b.foreign.FinalizerKind(e.h) == FinalizerModern {
			found = true
		}
	})
	return found
}
