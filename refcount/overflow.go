// ABOUTME: Side table that extends saturated inline refcounts
// ABOUTME: Consulted only when a word carries the Overflow bit

package refcount

import "math"

// Table holds the excess count of every word whose inline count saturated.
// Keys are object identities chosen by the caller.
type Table[K comparable] struct {
	excess map[K]int64
}

// NewTable creates an empty overflow table.
func NewTable[K comparable]() *Table[K] {
	return &Table[K]{excess: make(map[K]int64)}
}

// Incr returns w incremented by one, spilling into the table when the inline
// count is saturated.
func (t *Table[K]) Incr(w Word, key K) Word {
	if w.Overflowed() {
		t.excess[key] = saturatingAdd(t.excess[key], 1)
		return w
	}
	if w.Count() < MaxInline {
		return w + 1
	}
	t.excess[key] = 1
	return w | Overflow
}

// Decr returns w decremented by one. The table is drained before the inline
// count. ok is false when the count is already zero; w is returned unchanged.
func (t *Table[K]) Decr(w Word, key K) (Word, bool) {
	if w.Overflowed() {
		n := t.excess[key] - 1
		if n > 0 {
			t.excess[key] = n
			return w, true
		}
		delete(t.excess, key)
		return w &^ Overflow, true
	}
	if w.Count() == 0 {
		return w, false
	}
	return w - 1, true
}

// Total returns the full count of w, base flags excluded.
func (t *Table[K]) Total(w Word, key K) int64 {
	if !w.Overflowed() {
		return w.Count()
	}
	return saturatingAdd(w.Count(), t.excess[key])
}

// Forget drops any excess recorded for key and clears the Overflow bit.
func (t *Table[K]) Forget(w Word, key K) Word {
	delete(t.excess, key)
	return w &^ Overflow
}

// Len returns the number of words currently spilled into the table.
func (t *Table[K]) Len() int {
	return len(t.excess)
}

func saturatingAdd(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
