// ABOUTME: Index-based arena of circular doubly linked lists with sentinel slots
// ABOUTME: Every slot is tagged with the list it belongs to, so membership is checkable

// Package gclist provides the intrusive lists that thread through foreign
// objects taking part in cycle detection. Instead of raw next/prev pointers
// the links are slot indices into one contiguous arena, and every slot records
// the list it is on. A slot can therefore be on at most one list at a time.
package gclist

import (
	"errors"
	"fmt"
)

// Slot is a stable index into an Arena. The zero Slot is nil.
type Slot int32

// Nil is the zero Slot.
const Nil Slot = 0

// ListID names a list. None tags slots that are on no list.
type ListID uint8

// None is the tag of untracked slots.
const None ListID = 0

var (
	// ErrCorrupt is wrapped by every consistency error returned by Check.
	ErrCorrupt = errors.New("gclist: corrupt list")
)

type slot[T any] struct {
	prev, next Slot
	list       ListID
	sentinel   bool
	live       bool
	val        T
}

// Arena owns the slots of any number of lists.
type Arena[T any] struct {
	slots []slot[T]
	free  []Slot
	names map[ListID]string
}

// List is a handle on one circular list: its sentinel slot and tag.
type List struct {
	head Slot
	id   ListID
}

// ID returns the tag of l.
func (l List) ID() ListID { return l.id }

// NewArena creates an empty arena.
func NewArena[T any]() *Arena[T] {
	// slot 0 is reserved so that the zero Slot means nil
	return &Arena[T]{
		slots: make([]slot[T], 1, 64),
		names: make(map[ListID]string),
	}
}

// NewList allocates the sentinel of a new empty list tagged id.
func (a *Arena[T]) NewList(id ListID, name string) List {
	if id == None {
		panic("gclist: list id None is reserved")
	}
	if _, dup := a.names[id]; dup {
		panic(fmt.Sprintf("gclist: duplicate list id %d", id))
	}
	s := a.alloc()
	a.slots[s].sentinel = true
	a.slots[s].list = id
	a.slots[s].prev = s
	a.slots[s].next = s
	a.names[id] = name
	return List{head: s, id: id}
}

// Name returns the name the list with tag id was created with.
func (a *Arena[T]) Name(id ListID) string {
	if id == None {
		return "none"
	}
	return a.names[id]
}

// Alloc stores val in a fresh untracked slot.
func (a *Arena[T]) Alloc(val T) Slot {
	s := a.alloc()
	a.slots[s].val = val
	return s
}

func (a *Arena[T]) alloc() Slot {
	var s Slot
	if n := len(a.free); n > 0 {
		s = a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[s] = slot[T]{}
	} else {
		a.slots = append(a.slots, slot[T]{})
		s = Slot(len(a.slots) - 1)
	}
	a.slots[s].live = true
	return s
}

// Free releases an untracked slot for reuse.
func (a *Arena[T]) Free(s Slot) {
	sl := a.get(s)
	if sl.list != None {
		panic(fmt.Sprintf("gclist: freeing slot %d still on list %s", s, a.Name(sl.list)))
	}
	var zero slot[T]
	*sl = zero
	a.free = append(a.free, s)
}

// Value returns a pointer to the payload of s. The pointer is invalidated by
// the next Alloc or NewList.
func (a *Arena[T]) Value(s Slot) *T {
	return &a.get(s).val
}

// ListOf returns the tag of the list s is on, or None.
func (a *Arena[T]) ListOf(s Slot) ListID {
	return a.get(s).list
}

// Live returns the number of allocated slots, sentinels included.
func (a *Arena[T]) Live() int {
	return len(a.slots) - 1 - len(a.free)
}

func (a *Arena[T]) get(s Slot) *slot[T] {
	if s <= Nil || int(s) >= len(a.slots) || !a.slots[s].live {
		panic(fmt.Sprintf("gclist: invalid slot %d", s))
	}
	return &a.slots[s]
}

func (a *Arena[T]) insertAfter(at Slot, s Slot, id ListID) {
	sl := a.get(s)
	if sl.list != None {
		panic(fmt.Sprintf("gclist: slot %d already on list %s", s, a.Name(sl.list)))
	}
	next := a.slots[at].next
	sl.prev = at
	sl.next = next
	sl.list = id
	a.slots[at].next = s
	a.slots[next].prev = s
}

// Add inserts s at the head of l.
func (a *Arena[T]) Add(l List, s Slot) {
	a.insertAfter(l.head, s, l.id)
}

// Append inserts s at the tail of l.
func (a *Arena[T]) Append(l List, s Slot) {
	a.insertAfter(a.slots[l.head].prev, s, l.id)
}

// Remove unlinks s from whatever list it is on. Removing an untracked slot
// is a no-op.
func (a *Arena[T]) Remove(s Slot) {
	sl := a.get(s)
	if sl.sentinel {
		panic("gclist: cannot remove a sentinel")
	}
	if sl.list == None {
		return
	}
	a.slots[sl.prev].next = sl.next
	a.slots[sl.next].prev = sl.prev
	sl.prev, sl.next, sl.list = Nil, Nil, None
}

// Pop removes and returns the head of l, or Nil when l is empty.
func (a *Arena[T]) Pop(l List) Slot {
	s := a.Head(l)
	if s != Nil {
		a.Remove(s)
	}
	return s
}

// IsEmpty reports whether l has no members.
func (a *Arena[T]) IsEmpty(l List) bool {
	return a.slots[l.head].next == l.head
}

// Head returns the first member of l, or Nil.
func (a *Arena[T]) Head(l List) Slot {
	if a.IsEmpty(l) {
		return Nil
	}
	return a.slots[l.head].next
}

// Tail returns the last member of l, or Nil.
func (a *Arena[T]) Tail(l List) Slot {
	if a.IsEmpty(l) {
		return Nil
	}
	return a.slots[l.head].prev
}

// Next returns the member after s, or Nil at the end of its list.
func (a *Arena[T]) Next(s Slot) Slot {
	n := a.get(s).next
	if a.slots[n].sentinel {
		return Nil
	}
	return n
}

// Prev returns the member before s, or Nil at the start of its list.
func (a *Arena[T]) Prev(s Slot) Slot {
	p := a.get(s).prev
	if a.slots[p].sentinel {
		return Nil
	}
	return p
}

// Len counts the members of l.
func (a *Arena[T]) Len(l List) int {
	n := 0
	for s := a.Head(l); s != Nil; s = a.Next(s) {
		n++
	}
	return n
}

// Each calls fn for every member of l. fn may remove the slot it is given
// from l but must not remove other members.
func (a *Arena[T]) Each(l List, fn func(Slot)) {
	s := a.Head(l)
	for s != Nil {
		next := a.Next(s)
		fn(s)
		s = next
	}
}

// Move transfers every member of src to dst, which must be empty.
func (a *Arena[T]) Move(src, dst List) {
	if !a.IsEmpty(dst) {
		panic(fmt.Sprintf("gclist: move into non-empty list %s", a.Name(dst.id)))
	}
	a.Merge(src, dst)
}

// Merge splices every member of src in front of the members of dst and
// leaves src empty.
func (a *Arena[T]) Merge(src, dst List) {
	if src.head == dst.head || a.IsEmpty(src) {
		return
	}
	first := a.slots[src.head].next
	last := a.slots[src.head].prev
	for s := first; s != src.head; s = a.slots[s].next {
		a.slots[s].list = dst.id
	}
	next := a.slots[dst.head].next
	a.slots[dst.head].next = first
	a.slots[first].prev = dst.head
	a.slots[last].next = next
	a.slots[next].prev = last
	a.slots[src.head].next = src.head
	a.slots[src.head].prev = src.head
}

// Check walks l and verifies link symmetry and member tags.
func (a *Arena[T]) Check(l List) error {
	prev := l.head
	seen := 0
	for s := a.slots[l.head].next; s != l.head; s = a.slots[s].next {
		if s <= Nil || int(s) >= len(a.slots) {
			return fmt.Errorf("%w: %s: link to invalid slot %d", ErrCorrupt, a.Name(l.id), s)
		}
		sl := &a.slots[s]
		if !sl.live || sl.sentinel {
			return fmt.Errorf("%w: %s: slot %d is not a live member", ErrCorrupt, a.Name(l.id), s)
		}
		if sl.prev != prev {
			return fmt.Errorf("%w: %s: slot %d prev is %d, want %d", ErrCorrupt, a.Name(l.id), s, sl.prev, prev)
		}
		if sl.list != l.id {
			return fmt.Errorf("%w: %s: slot %d tagged %s", ErrCorrupt, a.Name(l.id), s, a.Name(sl.list))
		}
		prev = s
		seen++
		if seen > len(a.slots) {
			return fmt.Errorf("%w: %s: cycle without sentinel", ErrCorrupt, a.Name(l.id))
		}
	}
	if a.slots[l.head].prev != prev {
		return fmt.Errorf("%w: %s: sentinel prev is %d, want %d", ErrCorrupt, a.Name(l.id), a.slots[l.head].prev, prev)
	}
	return nil
}
