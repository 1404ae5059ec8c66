// ABOUTME: Tests for finalizer handling during cycle detection
// ABOUTME: Modern finalizer isolates, resurrection, and legacy garbage with its managed part

package rawrefcount_test

import (
	"slices"
	"testing"

	"github.com/rrcbridge/rrcbridge/internal/simheap"
	"github.com/rrcbridge/rrcbridge/rawrefcount"
)

func finalizerCycle(w *simheap.World, kind rawrefcount.FinalizerKind) (a, b *simheap.PyObject) {
	a = w.Runtime.NewObject("a")
	b = w.Runtime.NewObject("b")
	a.Finalizer = kind
	w.Runtime.AddRef(a, b)
	w.Runtime.AddRef(b, a)
	return a, b
}

func TestModernFinalizerRunsOnceThenCycleDies(t *testing.T) {
	for _, s := range cycleStrategies {
		t.Run(s.String(), func(t *testing.T) {
			w := newWorld(t, s)
			a, b := finalizerCycle(w, rawrefcount.FinalizerModern)

			w.Collect()

			if !a.Alive() || !b.Alive() {
				t.Fatal("isolate was freed before its finalizer ran")
			}
			if a.Finalized() != 1 {
				t.Fatalf("finalizer ran %d times, want 1", a.Finalized())
			}
			if st := w.Bridge.LastCycle(); st.Isolated != 2 || st.Dead != 0 {
				t.Errorf("stats = %+v, want 2 isolated and nothing dead", st)
			}

			w.Collect()

			if a.Alive() || b.Alive() {
				t.Error("finalized cycle survived the next collection")
			}
			if a.Finalized() != 1 {
				t.Errorf("finalizer ran %d times, want 1", a.Finalized())
			}
			if err := w.Bridge.CheckNoState(); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestModernFinalizerResurrection(t *testing.T) {
	for _, s := range cycleStrategies {
		t.Run(s.String(), func(t *testing.T) {
			w := newWorld(t, s)
			a, b := finalizerCycle(w, rawrefcount.FinalizerModern)
			var saved *simheap.PyObject
			a.OnFinalize = func(o *simheap.PyObject) {
				saved = o
				w.Runtime.Incref(o)
			}

			for i := 0; i < 3; i++ {
				w.Collect()
			}

			if saved != a {
				t.Fatal("finalizer did not run")
			}
			if !a.Alive() || !b.Alive() {
				t.Error("resurrected cycle was freed")
			}
			if a.Finalized() != 1 {
				t.Errorf("finalizer ran %d times, want 1", a.Finalized())
			}

			w.Runtime.Decref(saved)
			w.Collect()
			if a.Alive() || b.Alive() {
				t.Error("cycle survived after the resurrecting reference was dropped")
			}
			if a.Finalized() != 1 {
				t.Error("finalizer ran again")
			}
		})
	}
}

func TestResurrectedIsolateSurvivesWithCyclesOff(t *testing.T) {
	for _, s := range cycleStrategies {
		t.Run(s.String(), func(t *testing.T) {
			w := newWorld(t, s)
			a, b := finalizerCycle(w, rawrefcount.FinalizerModern)
			a.OnFinalize = func(o *simheap.PyObject) { w.Runtime.Incref(o) }

			w.Collect()
			if a.Finalized() != 1 {
				t.Fatalf("finalizer ran %d times, want 1", a.Finalized())
			}

			w.Bridge.SetCycleDetection(false)
			w.Collect()

			if !a.Alive() || !b.Alive() {
				t.Fatal("resurrected cycle was freed with cycle detection off")
			}
			if len(a.Refs()) != 1 || len(b.Refs()) != 1 {
				t.Errorf("references cleared: a=%d b=%d", len(a.Refs()), len(b.Refs()))
			}
			if err := w.Bridge.CheckConsistency(); err != nil {
				t.Fatal(err)
			}

			w.Bridge.SetCycleDetection(true)
			w.Runtime.Decref(a)
			w.Collect()
			if a.Alive() || b.Alive() {
				t.Error("cycle survived once cycle detection was back on")
			}
			if a.Finalized() != 1 {
				t.Error("finalizer ran again")
			}
		})
	}
}

func TestFinalizerIsolateKeepsMirrorsAlive(t *testing.T) {
	for _, s := range cycleStrategies {
		t.Run(s.String(), func(t *testing.T) {
			w := newWorld(t, s)
			a, b := finalizerCycle(w, rawrefcount.FinalizerModern)
			p, r := w.NewPair("r", 1, false, true)
			w.Runtime.AddRef(b, r)

			w.Collect()

			if !p.Alive() || !r.Alive() {
				t.Fatal("pair referenced from an isolate died before the finalizer ran")
			}
			w.Collect()
			if a.Alive() || b.Alive() || r.Alive() || p.Alive() {
				t.Error("isolate and its pair survived the second collection")
			}
		})
	}
}

func TestLegacyFinalizerGarbage(t *testing.T) {
	for _, s := range cycleStrategies {
		t.Run(s.String(), func(t *testing.T) {
			w := newWorld(t, s)
			a, b := finalizerCycle(w, rawrefcount.FinalizerLegacy)
			p, r := w.NewPair("r", 1, false, true)
			q := w.Heap.AllocOld(2)
			w.Heap.SetRef(p, q)
			w.Runtime.AddRef(b, r)

			w.Collect()

			for _, o := range []*simheap.PyObject{a, b, r} {
				if !o.Alive() {
					t.Fatalf("%v freed although a legacy finalizer keeps it", o)
				}
				if !slices.Contains(w.Runtime.Garbage, o) {
					t.Errorf("%v not reported as garbage", o)
				}
			}
			if len(w.Runtime.Garbage) != 3 {
				t.Errorf("garbage = %v, want a, b and r", w.Runtime.Garbage)
			}
			if !p.Alive() || !q.Alive() {
				t.Fatal("managed objects reachable from legacy garbage died")
			}
			if !slices.Equal(w.Runtime.ManagedGarbage, []rawrefcount.Addr{p.Addr(), q.Addr()}) {
				t.Errorf("managed garbage = %v, want [%v %v]", w.Runtime.ManagedGarbage, p, q)
			}
			if st := w.Bridge.LastCycle(); st.Garbage != 3 {
				t.Errorf("Garbage = %d, want 3", st.Garbage)
			}
			if w.Bridge.State() != rawrefcount.StateDefault {
				t.Errorf("state = %v after draining", w.Bridge.State())
			}

			w.Collect()
			if !a.Alive() || !p.Alive() {
				t.Error("garbage died while the embedder still holds it")
			}
			if st := w.Bridge.LastCycle(); st.Garbage != 0 {
				t.Errorf("held garbage was reported again: %+v", st)
			}
		})
	}
}

func TestNoIsolateWithoutFinalizer(t *testing.T) {
	w := newWorld(t, rawrefcount.StrategyMark)
	a, _ := finalizerCycle(w, rawrefcount.FinalizerNone)

	w.Heap.Collect()

	if h := w.Bridge.NextCyclicIsolate(); h != nil {
		t.Errorf("NextCyclicIsolate = %v without finalizers", h)
	}
	if h := w.Bridge.NextGarbageForeign(); h != nil {
		t.Errorf("NextGarbageForeign = %v without legacy finalizers", h)
	}
	if addr := w.Bridge.NextGarbageManaged(); addr != rawrefcount.Nil {
		t.Errorf("NextGarbageManaged = %#x", uint64(addr))
	}
	if w.Bridge.CyclicGarbageHead() == nil {
		t.Fatal("plain cycle not reported as cyclic garbage")
	}
	w.Runtime.ProcessPending()
	if a.Alive() {
		t.Error("plain cycle survived clearing")
	}
}
