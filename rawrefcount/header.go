// ABOUTME: Foreign object header carrying the tagged refcount and the managed link
// ABOUTME: Refcount mutation helpers that consult the overflow side table

package rawrefcount

import (
	"fmt"

	"github.com/rrcbridge/rrcbridge/gclist"
	"github.com/rrcbridge/rrcbridge/refcount"
)

type linkKind uint8

const (
	linkUnset linkKind = iota
	linkManaged
	linkDeallocating
)

// trackedIn names the handle table list a header is on.
type trackedIn uint8

const (
	untracked trackedIn = iota
	inManagedYoung
	inManagedOld
	inForeignYoung
	inForeignOld
)

var trackedNames = [...]string{"none", "p_list_young", "p_list_old", "o_list_young", "o_list_old"}

func (t trackedIn) String() string { return trackedNames[t] }

// Header is the part of a foreign object the bridge owns. The embedder
// allocates one per foreign object and never copies it.
type Header struct {
	rc    refcount.Word
	kind  linkKind
	link  Addr
	list  trackedIn
	slot  gclist.Slot
	snap  int32
	freed bool
}

// NewHeader returns a header with a zero refcount and no link.
func NewHeader() *Header {
	return &Header{}
}

func (h *Header) linked() bool { return h.kind == linkManaged }

func (h *Header) String() string {
	switch h.kind {
	case linkManaged:
		return fmt.Sprintf("%p{rc=%v link=%#x}", h, h.rc, uint64(h.link))
	case linkDeallocating:
		return fmt.Sprintf("%p{rc=%v deallocating}", h, h.rc)
	}
	return fmt.Sprintf("%p{rc=%v}", h, h.rc)
}

// Incref adds one external reference to h.
func (b *Bridge) Incref(h *Header) {
	assertf(!h.freed, "incref of freed header %v", h)
	h.rc = b.overflow.Incr(h.rc, h)
}

// Decref drops one external reference and reports whether no reference of
// any kind remains, in which case the embedder must deallocate h.
func (b *Bridge) Decref(h *Header) bool {
	assertf(!h.freed, "decref of freed header %v", h)
	rc, ok := b.overflow.Decr(h.rc, h)
	assertf(ok, "refcount underflow on %v", h)
	h.rc = rc
	return h.rc.IsZero()
}

// Refcnt returns the raw refcount word of h, ownership flags included.
func (b *Bridge) Refcnt(h *Header) refcount.Word {
	return h.rc
}

// ExternalRefcnt returns the references held by foreign code: the full
// count without the one owned by a managed mirror.
func (b *Bridge) ExternalRefcnt(h *Header) int64 {
	return b.overflow.Total(h.rc, h)
}

// hasExternal reports whether anything besides a managed mirror holds h.
func (b *Bridge) hasExternal(h *Header) bool {
	return h.rc.Count() > 0 || h.rc.Overflowed()
}
