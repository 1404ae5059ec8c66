// ABOUTME: Inline reference count word with reserved flag bits for managed ownership
// ABOUTME: Encodes "owned by a managed mirror" and "owned lightly" next to the real count

// Package refcount implements the tagged reference count stored in every
// foreign object header. The low bits hold the number of owning edges; the
// high bits record whether a managed mirror owns the object and whether that
// ownership is light. Counts that no longer fit inline spill into a Table.
package refcount

import "fmt"

// Word is the raw refcount field of a foreign object header.
type Word int64

const (
	// Overflow marks a word whose count continues in a side table.
	Overflow Word = 1 << 60

	// FromManaged is set while exactly one managed mirror owns the object.
	FromManaged Word = 1 << 61

	// FromManagedLight is FromManaged plus the light marker: the header may
	// be reclaimed without running the foreign destructor.
	FromManagedLight Word = FromManaged | lightBit

	lightBit  Word = 1 << 62
	countMask Word = Overflow - 1

	// MaxInline is the largest count representable without the side table.
	MaxInline = int64(countMask)
)

// Count returns the inline part of the count.
func (w Word) Count() int64 {
	return int64(w & countMask)
}

// Base returns the managed ownership flags (0, FromManaged or FromManagedLight).
func (w Word) Base() Word {
	return w & FromManagedLight
}

// Overflowed reports whether part of the count lives in a side table.
func (w Word) Overflowed() bool {
	return w&Overflow != 0
}

// IsLight reports whether the managed mirror owns the object lightly.
func (w Word) IsLight() bool {
	return w&FromManagedLight == FromManagedLight
}

// OwnedByManaged reports whether either managed ownership flag is set.
func (w Word) OwnedByManaged() bool {
	return w&FromManaged != 0
}

// AtBase reports whether the only owner is the managed mirror: no external
// references exist.
func (w Word) AtBase() bool {
	return w == FromManaged || w == FromManagedLight
}

// IsZero reports whether no references of any kind are recorded.
func (w Word) IsZero() bool {
	return w == 0
}

// WithBase returns w with its ownership flags replaced by base.
func (w Word) WithBase(base Word) Word {
	return w&^FromManagedLight | base&FromManagedLight
}

// StripBase returns w without ownership flags.
func (w Word) StripBase() Word {
	return w &^ FromManagedLight
}

func (w Word) String() string {
	var base string
	switch w.Base() {
	case FromManagedLight:
		base = "light+"
	case FromManaged:
		base = "managed+"
	case lightBit:
		base = "invalid+"
	}
	if w.Overflowed() {
		return fmt.Sprintf("%s%d+ovf", base, w.Count())
	}
	return fmt.Sprintf("%s%d", base, w.Count())
}
