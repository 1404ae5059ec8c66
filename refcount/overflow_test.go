// ABOUTME: Property tests for the overflow side table near the saturation boundary
// ABOUTME: Checks that the logical count always matches a reference counter

package refcount

import (
	"math"
	"math/rand"
	"testing"
)

func TestTableSpillAndDrain(t *testing.T) {
	tab := NewTable[int]()
	w := FromManaged | countMask // inline count saturated

	w = tab.Incr(w, 1)
	if !w.Overflowed() {
		t.Fatal("expected overflow bit after saturating increment")
	}
	if got := tab.Total(w, 1); got != MaxInline+1 {
		t.Errorf("Total = %d, want %d", got, MaxInline+1)
	}
	if tab.Len() != 1 {
		t.Errorf("Len = %d, want 1", tab.Len())
	}

	w, ok := tab.Decr(w, 1)
	if !ok {
		t.Fatal("Decr reported underflow")
	}
	if w.Overflowed() {
		t.Error("overflow bit should be cleared once the excess is drained")
	}
	if w != FromManaged|countMask {
		t.Errorf("word after drain = %v", w)
	}
	if tab.Len() != 0 {
		t.Errorf("Len = %d after drain, want 0", tab.Len())
	}
}

func TestTableUnderflow(t *testing.T) {
	tab := NewTable[string]()
	w, ok := tab.Decr(FromManaged, "a")
	if ok {
		t.Error("expected underflow on a word at its base")
	}
	if w != FromManaged {
		t.Errorf("word changed on underflow: %v", w)
	}
}

func TestTableSaturatesExcess(t *testing.T) {
	tab := NewTable[int]()
	w := Overflow | countMask
	tab.excess[7] = math.MaxInt64
	w = tab.Incr(w, 7)
	if got := tab.excess[7]; got != math.MaxInt64 {
		t.Errorf("excess = %d, want saturation at MaxInt64", got)
	}
	if got := tab.Total(w, 7); got != math.MaxInt64 {
		t.Errorf("Total = %d, want MaxInt64", got)
	}
}

func TestTableForget(t *testing.T) {
	tab := NewTable[int]()
	w := tab.Incr(countMask, 3)
	w = tab.Forget(w, 3)
	if w.Overflowed() || tab.Len() != 0 {
		t.Errorf("Forget left state behind: %v len=%d", w, tab.Len())
	}
}

// Property: a random walk of increments and decrements around MaxInline keeps
// Total equal to a plain counter and keeps flags untouched.
func TestPropertyTableMatchesCounter(t *testing.T) {
	bases := []Word{0, FromManaged, FromManagedLight}
	for i := 0; i < 200; i++ {
		rng := rand.New(rand.NewSource(int64(i)))
		tab := NewTable[int]()
		base := bases[i%len(bases)]

		start := MaxInline - int64(rng.Intn(8))
		w := Word(start) | base
		want := start

		for step := 0; step < 64; step++ {
			if rng.Intn(2) == 0 {
				w = tab.Incr(w, 0)
				want++
			} else {
				var ok bool
				w, ok = tab.Decr(w, 0)
				if ok != (want > 0) {
					t.Fatalf("seed %d step %d: Decr ok=%v with count %d", i, step, ok, want)
				}
				if ok {
					want--
				}
			}
			if got := tab.Total(w, 0); got != want {
				t.Fatalf("seed %d step %d: Total = %d, want %d", i, step, got, want)
			}
			if w.Base() != base {
				t.Fatalf("seed %d step %d: base changed to %v", i, step, w.Base())
			}
			if w.Overflowed() != (want > MaxInline) {
				t.Fatalf("seed %d step %d: overflow=%v with count %d", i, step, w.Overflowed(), want)
			}
			if (tab.Len() == 1) != w.Overflowed() {
				t.Fatalf("seed %d step %d: table len %d disagrees with overflow bit", i, step, tab.Len())
			}
		}
	}
}

// Property: independent keys never share excess.
func TestPropertyTableKeysIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tab := NewTable[int]()
	words := make([]Word, 4)
	want := make([]int64, 4)
	for k := range words {
		words[k] = countMask
		want[k] = MaxInline
	}
	for step := 0; step < 500; step++ {
		k := rng.Intn(len(words))
		if rng.Intn(3) > 0 {
			words[k] = tab.Incr(words[k], k)
			want[k]++
		} else if want[k] > 0 {
			words[k], _ = tab.Decr(words[k], k)
			want[k]--
		}
		for j := range words {
			if got := tab.Total(words[j], j); got != want[j] {
				t.Fatalf("step %d key %d: Total = %d, want %d", step, j, got, want[j])
			}
		}
	}
}
