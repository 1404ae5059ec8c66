// ABOUTME: Tests for the bridge's part of minor collections
// ABOUTME: Young mirrors, moved handles, light and heavy reclamation, proxies

package rawrefcount_test

import (
	"testing"

	"github.com/rrcbridge/rrcbridge/rawrefcount"
)

func TestUnreferencedLightPairDiesInMinor(t *testing.T) {
	for _, s := range allStrategies {
		t.Run(s.String(), func(t *testing.T) {
			w := newWorld(t, s)
			p, r := w.NewPair("r", 1, true, false)
			addr := p.Addr()

			w.Heap.MinorCollection()

			if p.Alive() || r.Alive() {
				t.Fatalf("pair survived: p=%v r alive=%v", p, r.Alive())
			}
			if w.Runtime.LightFreed != 1 {
				t.Errorf("LightFreed = %d, want 1", w.Runtime.LightFreed)
			}
			if h := w.Bridge.FromObj(addr); h != nil {
				t.Errorf("FromObj still finds %v", h)
			}
			if h := w.Bridge.NextDead(); h != nil {
				t.Errorf("light header was queued: %v", h)
			}
			if err := w.Bridge.CheckNoState(); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestHeavyPairLifecycle(t *testing.T) {
	w := newWorld(t, rawrefcount.StrategyMark)
	p, r := w.NewPair("r", 1, false, false)
	young := p.Addr()

	w.Runtime.Incref(r)
	w.Heap.MinorCollection()

	if !p.Alive() || !r.Alive() {
		t.Fatal("external reference did not keep the pair alive")
	}
	if p.Addr() == young {
		t.Fatal("young mirror was not moved")
	}
	if got := w.Bridge.FromObj(p.Addr()); got != r.Header {
		t.Errorf("FromObj(moved) = %v, want %v", got, r.Header)
	}
	if got := w.Bridge.ToObj(r.Header); got != p.Addr() {
		t.Errorf("ToObj = %#x, want moved address %#x", uint64(got), uint64(p.Addr()))
	}
	if got := w.Bridge.FromObj(young); got != nil {
		t.Errorf("FromObj(stale nursery address) = %v", got)
	}

	w.Runtime.Decref(r)
	w.Heap.Collect()

	if p.Alive() {
		t.Fatal("unreferenced mirror survived a major collection")
	}
	if got := w.Bridge.NextDead(); got != r.Header {
		t.Fatalf("NextDead = %v, want %v", got, r.Header)
	}
	if got := w.Bridge.NextDead(); got != nil {
		t.Fatalf("second NextDead = %v, want nil", got)
	}
	if rc := w.Bridge.Refcnt(r.Header); rc.OwnedByManaged() || rc.Count() != 1 {
		t.Errorf("dead header refcount = %v, want plain 1", rc)
	}
	if w.Bridge.ToObj(r.Header) != rawrefcount.Nil {
		t.Error("dead header is still linked")
	}

	w.Runtime.Decref(r)
	if r.Alive() {
		t.Error("destructor did not run")
	}
	if err := w.Bridge.CheckNoState(); err != nil {
		t.Error(err)
	}
}

func TestHeavyYoungPairQueuedOnMinor(t *testing.T) {
	w := newWorld(t, rawrefcount.StrategySimple)
	_, r := w.NewPair("r", 1, false, false)

	w.Heap.MinorCollection()

	if !w.Runtime.Pending() {
		t.Error("bridge did not ask for cleanup")
	}
	if got := w.Bridge.Pending(); got != 1 {
		t.Fatalf("Pending = %d, want 1", got)
	}
	w.Runtime.ProcessPending()
	if r.Alive() {
		t.Error("queued header was not deallocated")
	}
	if w.Runtime.LightFreed != 0 {
		t.Error("heavy header went through the light path")
	}
}

func TestLightPairWithExternalReferenceSurvives(t *testing.T) {
	w := newWorld(t, rawrefcount.StrategyMark)
	p, r := w.NewPair("r", 1, true, false)
	holder := w.Runtime.NewObject("holder")
	w.Runtime.Incref(holder)
	w.Runtime.AddRef(holder, r)

	w.Minor()

	if !p.Alive() || !r.Alive() {
		t.Fatal("referenced light pair died")
	}
	if w.Bridge.FromObj(p.Addr()) != r.Header {
		t.Error("handle lost after the move")
	}

	w.Runtime.RemoveRef(holder, r)
	w.Collect()
	if p.Alive() || r.Alive() {
		t.Error("light pair survived after its last reference was dropped")
	}
	if w.Runtime.LightFreed != 1 {
		t.Errorf("LightFreed = %d, want 1", w.Runtime.LightFreed)
	}
}

func TestLightHeaderReferencedByGarbageIsDetached(t *testing.T) {
	w := newWorld(t, rawrefcount.StrategyMark)
	p, r := w.NewPair("r", 1, true, true)
	a := w.Runtime.NewObject("a")
	b := w.Runtime.NewObject("b")
	w.Runtime.AddRef(a, b)
	w.Runtime.AddRef(b, a)
	w.Runtime.AddRef(a, r)

	w.Heap.Collect()

	if p.Alive() {
		t.Fatal("mirror referenced only from cyclic garbage survived")
	}
	if !r.Alive() {
		t.Fatal("light header with references must not be reclaimed directly")
	}
	if rc := w.Bridge.Refcnt(r.Header); rc.OwnedByManaged() || rc.Count() != 1 {
		t.Errorf("refcount = %v, want plain 1", rc)
	}
	if w.Bridge.ToObj(r.Header) != rawrefcount.Nil {
		t.Error("detached header is still linked")
	}

	w.Runtime.ProcessPending()
	if a.Alive() || b.Alive() || r.Alive() {
		t.Error("clearing the cycle did not release everything")
	}
	if w.Runtime.LightFreed != 0 {
		t.Errorf("LightFreed = %d, want 0", w.Runtime.LightFreed)
	}
	if err := w.Bridge.CheckNoState(); err != nil {
		t.Error(err)
	}
}

func TestLargeYoungPair(t *testing.T) {
	w := newWorld(t, rawrefcount.StrategyMark)
	p := w.Heap.AllocLarge(1)
	r := w.Runtime.NewObject("r")
	w.Bridge.CreateLinkManaged(p.Addr(), r.Header, false)
	w.Runtime.Incref(r)
	addr := p.Addr()

	w.Heap.MinorCollection()

	if !p.Alive() || p.Addr() != addr {
		t.Fatalf("large mirror should survive in place: %v", p)
	}
	if w.Bridge.FromObj(addr) != r.Header {
		t.Error("large mirror lost its handle")
	}

	lost := w.Heap.AllocLarge(2)
	lr := w.Runtime.NewObject("lr")
	w.Bridge.CreateLinkManaged(lost.Addr(), lr.Header, false)
	w.Heap.MinorCollection()
	if lost.Alive() {
		t.Fatal("unreferenced large mirror survived")
	}
	if got := w.Bridge.NextDead(); got != lr.Header {
		t.Errorf("NextDead = %v, want %v", got, lr.Header)
	}
}

func TestYoungProxyDiesWithoutManagedReferences(t *testing.T) {
	w := newWorld(t, rawrefcount.StrategyMark)
	r := w.Runtime.NewObject("r")
	w.Runtime.Incref(r)
	p := w.NewProxy(r, 1, false, false)

	w.Minor()

	if p.Alive() {
		t.Error("proxy survived although nothing managed references it")
	}
	if !r.Alive() {
		t.Fatal("foreign object with an external reference died")
	}
	if w.Bridge.ToObj(r.Header) != rawrefcount.Nil {
		t.Error("header still linked to a dead proxy")
	}
	if rc := w.Bridge.Refcnt(r.Header); rc.OwnedByManaged() || rc.Count() != 1 {
		t.Errorf("refcount = %v, want plain 1", rc)
	}
}

func TestRootedProxySurvives(t *testing.T) {
	w := newWorld(t, rawrefcount.StrategyMark)
	r := w.Runtime.NewObject("r")
	p := w.NewProxy(r, 1, false, false)
	w.Heap.PushRoot(p)

	w.Minor()
	w.Collect()

	if !p.Alive() || !r.Alive() {
		t.Fatal("rooted proxy or its foreign object died")
	}
	if w.Bridge.ToObj(r.Header) != p.Addr() {
		t.Error("link does not follow the moved proxy")
	}

	w.Heap.PopRoot()
	w.Collect()
	if p.Alive() || r.Alive() {
		t.Error("unrooted proxy pair survived")
	}
}

func TestMinorProtocolMisuse(t *testing.T) {
	w := newWorld(t, rawrefcount.StrategyMark)
	expectInvariant(t, "free without trace", func() {
		w.Bridge.MinorFree()
	})

	w = newWorld(t, rawrefcount.StrategyMark)
	w.Bridge.MinorTrace()
	expectInvariant(t, "trace twice", func() {
		w.Bridge.MinorTrace()
	})
}
