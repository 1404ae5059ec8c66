// ABOUTME: Minor collection sync: keep young mirrors with external references alive
// ABOUTME: Promotes survivors and frees headers whose young mirror died

package rawrefcount

import (
	"go.opentelemetry.io/otel/attribute"

	"github.com/rrcbridge/rrcbridge/refcount"
)

// MinorTrace runs during a minor collection, before the heap drains its copy
// queue. Every young managed-originated mirror whose foreign object has
// external references is kept alive.
func (b *Bridge) MinorTrace() {
	assertf(!b.minorTraced, "MinorTrace called twice without MinorFree")
	span := b.startSpan("rawrefcount.MinorTrace", attribute.Int("rrc.p_young", len(b.pYoung)))
	defer span.End()

	clear(b.pDictNurs)
	kept := 0
	for _, h := range b.pYoung {
		if !h.rc.AtBase() {
			b.heap.KeepAlive(h.link)
			kept++
		}
	}
	b.minorTraced = true
	span.SetAttributes(attribute.Int("rrc.kept", kept))
}

// MinorFree runs after the heap finished copying survivors. Young links are
// moved to the old lists or released.
func (b *Bridge) MinorFree() {
	assertf(b.minorTraced, "MinorFree called without MinorTrace")
	b.minorTraced = false
	span := b.startSpan("rawrefcount.MinorFree",
		attribute.Int("rrc.p_young", len(b.pYoung)),
		attribute.Int("rrc.o_young", len(b.oYoung)))
	defer span.End()

	freed := 0
	for n := len(b.pYoung); n > 0; n = len(b.pYoung) {
		h := b.pYoung[n-1]
		b.pYoung = b.pYoung[:n-1]
		if !b.minorFree(h, &b.pOld, inManagedOld, true) {
			freed++
		}
	}
	for n := len(b.oYoung); n > 0; n = len(b.oYoung) {
		h := b.oYoung[n-1]
		b.oYoung = b.oYoung[:n-1]
		if !b.minorFree(h, &b.oOld, inForeignOld, false) {
			freed++
		}
	}
	span.SetAttributes(attribute.Int("rrc.freed", freed), attribute.Int("rrc.dead_pending", len(b.deallocPending)))
	b.checkpoint("minor free")
	b.InvokeCallback()
}

// minorFree promotes h if its young mirror survived and reports whether it
// did.
func (b *Bridge) minorFree(h *Header, survivors *[]*Header, in trackedIn, dict bool) bool {
	h.list = untracked
	obj := h.link
	switch {
	case b.heap.InNursery(obj):
		if b.heap.IsForwarded(obj) {
			moved := b.heap.ForwardingAddress(obj)
			h.link = moved
			b.push(survivors, h, in)
			if dict {
				b.pDict[moved] = h
			}
			return true
		}
	case b.heap.SurvivedMinor(obj):
		b.push(survivors, h, in)
		return true
	default:
		if dict {
			delete(b.pDict, obj)
		}
	}
	b.free(h)
	return false
}

// free releases the managed ownership of h after its mirror died. A light
// header without other references is reclaimed directly; a heavy one is
// queued for deallocation with a refcount of one.
func (b *Bridge) free(h *Header) {
	b.log.Debug("mirror died", "header", h)
	switch h.rc.Base() {
	case refcount.FromManagedLight:
		h.kind, h.link = linkUnset, Nil
		if h.rc.StripBase().IsZero() {
			h.rc = 0
			b.Untrack(h)
			h.freed = true
			b.foreign.Free(h)
			return
		}
		h.rc = h.rc.StripBase()
	case refcount.FromManaged:
		h.kind, h.link = linkUnset, Nil
		h.rc = h.rc.StripBase()
		if h.rc.IsZero() {
			h.rc = 1
			b.deallocPending = append(b.deallocPending, h)
		}
	default:
		assertf(false, "freeing header %v without managed base", h)
	}
}
