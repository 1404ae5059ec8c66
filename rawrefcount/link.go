// ABOUTME: Link protocol between managed mirrors and foreign headers
// ABOUTME: create_link, from_obj, to_obj, mark_deallocating and next_dead

package rawrefcount

import "github.com/rrcbridge/rrcbridge/refcount"

// CreateLinkManaged links the managed object obj to h, for a foreign object
// created on behalf of obj. h dies with obj unless foreign code still holds
// references. FromObj(obj) returns h afterwards. A light link lets the bridge
// reclaim h with Foreign.Free instead of handing it to the embedder.
func (b *Bridge) CreateLinkManaged(obj Addr, h *Header, light bool) {
	assertf(b.FromObj(obj) == nil, "managed object %#x is already linked", uint64(obj))
	b.link(obj, h, light)
	switch {
	case b.heap.InNursery(obj):
		b.pDictNurs[obj] = h
		b.push(&b.pYoung, h, inManagedYoung)
	case b.heap.IsYoung(obj):
		b.pDict[obj] = h
		b.push(&b.pYoung, h, inManagedYoung)
	default:
		b.pDict[obj] = h
		b.push(&b.pOld, h, inManagedOld)
	}
}

// CreateLinkForeign links obj to h for a managed proxy created on behalf of
// an existing foreign object. obj dies as soon as it is unreachable from the
// managed side; FromObj(obj) does not find h.
func (b *Bridge) CreateLinkForeign(obj Addr, h *Header, light bool) {
	b.link(obj, h, light)
	if b.heap.IsYoung(obj) {
		b.push(&b.oYoung, h, inForeignYoung)
	} else {
		b.push(&b.oOld, h, inForeignOld)
	}
}

func (b *Bridge) link(obj Addr, h *Header, light bool) {
	assertf(obj != Nil, "link to nil managed object")
	assertf(!h.freed, "link of freed header %v", h)
	assertf(h.kind == linkUnset, "header %v is already linked", h)
	assertf(!h.rc.OwnedByManaged(), "header %v already carries a managed base", h)
	assertf(h.list == untracked, "header %v is already on %s", h, h.list)
	base := refcount.FromManaged
	if light {
		base = refcount.FromManagedLight
	}
	h.rc = h.rc.WithBase(base)
	h.kind = linkManaged
	h.link = obj
}

func (b *Bridge) push(list *[]*Header, h *Header, in trackedIn) {
	*list = append(*list, h)
	h.list = in
}

// FromObj returns the header linked to the managed-originated obj, or nil.
func (b *Bridge) FromObj(obj Addr) *Header {
	if b.heap.InNursery(obj) {
		return b.pDictNurs[obj]
	}
	return b.pDict[obj]
}

// ToObj returns the managed object linked to h, the deallocating marker if
// MarkDeallocating was called, or Nil.
func (b *Bridge) ToObj(h *Header) Addr {
	if h.kind == linkUnset {
		return Nil
	}
	return h.link
}

// MarkDeallocating stores marker in the link of the unlinked h while its
// destructor runs, so that ToObj(h) never resolves to a dead mirror.
func (b *Bridge) MarkDeallocating(marker Addr, h *Header) {
	assertf(h.kind != linkManaged, "deallocating header %v is still linked", h)
	h.kind = linkDeallocating
	h.link = marker
}

// IsDeallocating reports whether MarkDeallocating was called on h.
func (b *Bridge) IsDeallocating(h *Header) bool {
	return h.kind == linkDeallocating
}

// NextDead pops a header whose last owner was a dead managed mirror. Its
// refcount is 1; the embedder decrefs it to run the destructor. Returns nil
// once the queue is drained.
func (b *Bridge) NextDead() *Header {
	n := len(b.deallocPending)
	if n == 0 {
		return nil
	}
	h := b.deallocPending[n-1]
	b.deallocPending[n-1] = nil
	b.deallocPending = b.deallocPending[:n-1]
	return h
}

// Pending returns the number of headers waiting in the dead queue.
func (b *Bridge) Pending() int { return len(b.deallocPending) }
