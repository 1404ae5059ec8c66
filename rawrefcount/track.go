// ABOUTME: GC tracking of traversable foreign objects and the embedder-facing garbage API
// ABOUTME: Track/Untrack, cyclic garbage, finalizer isolates and legacy garbage iteration

package rawrefcount

import "github.com/rrcbridge/rrcbridge/gclist"

// Track registers h as a foreign object that can take part in reference
// cycles. The foreign runtime must be able to Traverse it.
func (b *Bridge) Track(h *Header) {
	b.track(h, b.objects)
}

// TrackTuple registers an immutable container. It stays out of cycle
// detection until MaybeUntrackTuple says it holds cyclic references.
func (b *Bridge) TrackTuple(h *Header) {
	b.track(h, b.tuples)
}

func (b *Bridge) track(h *Header, l gclist.List) {
	assertf(!h.freed, "tracking freed header %v", h)
	assertf(h.slot == gclist.Nil, "header %v is already tracked", h)
	h.slot = b.arena.Alloc(gcEntry{h: h})
	b.arena.Append(l, h.slot)
}

// Untrack removes h from whatever gc list it is on. The embedder calls it
// before deallocating a tracked object.
func (b *Bridge) Untrack(h *Header) {
	s := h.slot
	if s == gclist.Nil {
		return
	}
	if s == b.garbageHead && s == b.garbageTail {
		b.garbageHead, b.garbageTail = gclist.Nil, gclist.Nil
	} else if s == b.garbageHead {
		b.garbageHead = b.arena.Next(s)
	} else if s == b.garbageTail {
		b.garbageTail = b.arena.Prev(s)
	}
	b.arena.Remove(s)
	b.arena.Free(s)
	h.slot = gclist.Nil
	delete(b.nongc, h)
}

// IsTracked reports whether h is on a gc list.
func (b *Bridge) IsTracked(h *Header) bool {
	return h.slot != gclist.Nil
}

// CyclicGarbageHead returns the first header found to be unreachable cyclic
// garbage, or nil. The embedder clears it, which normally deallocates it and
// removes it from the list; if it survives clearing the embedder calls
// CyclicGarbageRemove.
func (b *Bridge) CyclicGarbageHead() *Header {
	s := b.arena.Head(b.dead)
	if s == gclist.Nil {
		return nil
	}
	return b.entry(s).h
}

// CyclicGarbageRemove moves the head of the cyclic garbage list back to the
// live objects.
func (b *Bridge) CyclicGarbageRemove() {
	s := b.arena.Pop(b.dead)
	if s != gclist.Nil {
		b.arena.Append(b.objects, s)
	}
}

// NextCyclicIsolate returns the next object of an unreachable isolate whose
// modern finalizer has not run yet, or nil. Each object is returned at most
// once over its lifetime. The isolate is checked again by the next major
// collection.
func (b *Bridge) NextCyclicIsolate() *Header {
	for {
		s := b.arena.Pop(b.isolate)
		if s == gclist.Nil {
			return nil
		}
		b.arena.Append(b.old, s)
		e := b.entry(s)
		if !e.finalized && b.foreign.FinalizerKind(e.h) == FinalizerModern {
			e.finalized = true
			return e.h
		}
	}
}

// NextGarbageForeign returns the next foreign object kept alive only by a
// legacy finalizer cycle, or nil. The embedder stores it in its garbage
// list; the view is valid until the next major collection.
func (b *Bridge) NextGarbageForeign() *Header {
	s := b.garbageHead
	if s == gclist.Nil {
		return nil
	}
	if s == b.garbageTail {
		b.garbageHead, b.garbageTail = gclist.Nil, gclist.Nil
	} else {
		b.garbageHead = b.arena.Next(s)
	}
	return b.entry(s).h
}

// NextGarbageManaged returns the next managed object reachable only from
// legacy garbage, or Nil once all of them were returned.
func (b *Bridge) NextGarbageManaged() Addr {
	if b.state == StateDefault && len(b.garbageTrace) > 0 {
		b.state = StateGarbage
	}
	for n := len(b.garbageTrace); n > 0; n = len(b.garbageTrace) {
		obj := b.garbageTrace[n-1]
		b.garbageTrace = b.garbageTrace[:n-1]
		if b.heap.TakeGarbageFlag(obj) {
			b.heap.EachRef(obj, func(ref Addr) {
				b.garbageTrace = append(b.garbageTrace, ref)
			})
			return obj
		}
	}
	if b.state == StateGarbage {
		b.state = StateDefault
	}
	return Nil
}
