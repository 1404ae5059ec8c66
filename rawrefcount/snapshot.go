// ABOUTME: Self-contained copy of the foreign graph's shape used by incremental marking
// ABOUTME: Taking, validating against the live graph, and discarding the copy

package rawrefcount

import "github.com/rrcbridge/rrcbridge/gclist"

type snapObject struct {
	h        *Header
	gc       bool
	link     Addr
	external int64
	refcnt   int64
	refs     []int32 // -1 for targets outside the snapshot
	marked   bool
}

type snapshot struct {
	objs []snapObject
}

// takeSnapshot copies every candidate and every non-gc border object.
func (b *Bridge) takeSnapshot() *snapshot {
	snap := &snapshot{}
	add := func(h *Header, gc bool) {
		o := snapObject{h: h, gc: gc, external: b.ExternalRefcnt(h)}
		if h.linked() {
			o.link = h.link
		}
		o.refcnt = o.external
		snap.objs = append(snap.objs, o)
		h.snap = int32(len(snap.objs))
	}
	b.arena.Each(b.objects, func(s gclist.Slot) {
		add(b.entry(s).h, true)
	})
	b.eachBorder(func(h *Header) {
		if !b.candidate(h) && h.snap == 0 {
			add(h, false)
		}
	})
	for i := range snap.objs {
		o := &snap.objs[i]
		if !o.gc {
			continue
		}
		b.foreign.Traverse(o.h, func(c *Header) {
			o.refs = append(o.refs, c.snap-1)
		})
	}
	return snap
}

func (snap *snapshot) gcObjects() int {
	n := 0
	for i := range snap.objs {
		if snap.objs[i].gc {
			n++
		}
	}
	return n
}

// subtractInternal turns every refcnt into the number of references from
// outside the snapshot.
func (snap *snapshot) subtractInternal() {
	for i := range snap.objs {
		for _, r := range snap.objs[i].refs {
			if r >= 0 {
				snap.objs[r].refcnt--
			}
		}
	}
	for i := range snap.objs {
		o := &snap.objs[i]
		assertf(o.refcnt >= 0, "snapshot refcount of %v below zero", o.h)
	}
}

// unchanged reports whether the live h still matches its snapshot copy: same
// external count, same link, mirror still unmarked, same outgoing edges.
func (b *Bridge) unchanged(h *Header, o *snapObject) bool {
	if h.freed || b.ExternalRefcnt(h) != o.external {
		return false
	}
	link := Nil
	if h.linked() {
		link = h.link
	}
	if link != o.link || (link != Nil && b.heap.Marked(link)) {
		return false
	}
	if !o.gc {
		return true
	}
	i, same := 0, true
	b.foreign.Traverse(h, func(c *Header) {
		if i >= len(o.refs) || o.refs[i] != c.snap-1 {
			same = false
		}
		i++
	})
	return same && i == len(o.refs)
}

// syncSnapshot applies the marking result to the gc lists: dead candidates
// move to the old list and non-gc border objects get their trial counts. It
// changes nothing and reports false if any object concluded dead no longer
// matches the snapshot.
func (b *Bridge) syncSnapshot(snap *snapshot) bool {
	for i := range snap.objs {
		o := &snap.objs[i]
		if o.marked {
			continue
		}
		if o.gc && (o.h.slot == gclist.Nil || b.arena.ListOf(o.h.slot) != listObjects) {
			continue
		}
		if !o.gc && o.h.list == untracked {
			continue
		}
		if !b.unchanged(o.h, o) {
			b.log.Debug("snapshot inconsistent", "header", o.h)
			return false
		}
	}

	b.arena.Each(b.objects, func(s gclist.Slot) {
		e := b.entry(s)
		if e.h.snap == 0 {
			e.refs = 1
			return
		}
		if o := &snap.objs[e.h.snap-1]; o.marked || !o.gc {
			e.refs = 1
			return
		}
		e.refs = 0
		b.arena.Remove(s)
		b.arena.Append(b.old, s)
	})
	for i := range snap.objs {
		o := &snap.objs[i]
		if o.gc || o.h.list == untracked {
			continue
		}
		if o.marked {
			b.nongc[o.h] = o.refcnt
		} else {
			b.nongc[o.h] = 0
		}
	}
	return true
}

// discardSnapshot releases snap and clears the back references from the
// headers.
func (b *Bridge) discardSnapshot(snap *snapshot) {
	for i := range snap.objs {
		snap.objs[i].h.snap = 0
	}
	snap.objs = nil
}
