// ABOUTME: Consistency checks over the bridge's lists and handle tables
// ABOUTME: Used by tests and, with Config.Debug, at every phase boundary

package rawrefcount

import (
	"errors"
	"fmt"

	"github.com/rrcbridge/rrcbridge/gclist"
)

// ErrLeftoverState is wrapped by CheckNoState.
var ErrLeftoverState = errors.New("rawrefcount: state left over")

// CheckConsistency verifies every gc list, that every linked header is on
// exactly one link list with its base flag set, and that the handle tables
// agree with the lists.
func (b *Bridge) CheckConsistency() error {
	for _, l := range []gclist.List{b.objects, b.tuples, b.old, b.dead, b.isolate} {
		if err := b.arena.Check(l); err != nil {
			return err
		}
		var err error
		b.arena.Each(l, func(s gclist.Slot) {
			if h := b.entry(s).h; err == nil && h.slot != s {
				err = fmt.Errorf("%w: header %v on %s points at slot %d", ErrInvariant, h, b.arena.Name(l.ID()), h.slot)
			}
		})
		if err != nil {
			return err
		}
	}

	seen := make(map[*Header]trackedIn)
	lists := []struct {
		hs []*Header
		in trackedIn
	}{
		{b.pYoung, inManagedYoung},
		{b.pOld, inManagedOld},
		{b.oYoung, inForeignYoung},
		{b.oOld, inForeignOld},
	}
	for _, l := range lists {
		for _, h := range l.hs {
			if prev, dup := seen[h]; dup {
				return fmt.Errorf("%w: header %v on %s and %s", ErrInvariant, h, prev, l.in)
			}
			seen[h] = l.in
			if h.list != l.in {
				return fmt.Errorf("%w: header %v on %s tagged %s", ErrInvariant, h, l.in, h.list)
			}
			if !h.linked() || !h.rc.OwnedByManaged() {
				return fmt.Errorf("%w: header %v on %s without link and base", ErrInvariant, h, l.in)
			}
		}
	}

	for _, dict := range []map[Addr]*Header{b.pDict, b.pDictNurs} {
		for obj, h := range dict {
			in := seen[h]
			if in != inManagedYoung && in != inManagedOld {
				return fmt.Errorf("%w: handle %#x maps to header %v not on a managed list", ErrInvariant, uint64(obj), h)
			}
			if h.link != obj {
				return fmt.Errorf("%w: handle %#x maps to header linked to %#x", ErrInvariant, uint64(obj), uint64(h.link))
			}
		}
	}
	return nil
}

// CheckNoState reports an error if any link, handle or pending header is
// left. Embedders call it when shutting down.
func (b *Bridge) CheckNoState() error {
	switch {
	case len(b.pYoung)+len(b.pOld) > 0:
		return fmt.Errorf("%w: %d managed-originated links", ErrLeftoverState, len(b.pYoung)+len(b.pOld))
	case len(b.oYoung)+len(b.oOld) > 0:
		return fmt.Errorf("%w: %d foreign-originated links", ErrLeftoverState, len(b.oYoung)+len(b.oOld))
	case len(b.pDict)+len(b.pDictNurs) > 0:
		return fmt.Errorf("%w: %d handles", ErrLeftoverState, len(b.pDict)+len(b.pDictNurs))
	case len(b.deallocPending) > 0:
		return fmt.Errorf("%w: %d headers waiting for deallocation", ErrLeftoverState, len(b.deallocPending))
	case !b.arena.IsEmpty(b.dead):
		return fmt.Errorf("%w: cyclic garbage not cleared", ErrLeftoverState)
	}
	return nil
}
