// ABOUTME: Simulated refcounted runtime implementing rawrefcount.Foreign
// ABOUTME: Objects with counted references, destructors, finalizers and the cleanup loop

package simheap

import (
	"fmt"
	"slices"

	"github.com/rrcbridge/rrcbridge/rawrefcount"
)

// DeallocMarker is stored in the link of a header while its destructor runs.
const DeallocMarker rawrefcount.Addr = 1

// PyObject is a foreign object.
type PyObject struct {
	Header *rawrefcount.Header
	Name   string

	// Finalizer selects the finalizer discipline; OnFinalize runs when a
	// modern finalizer is invoked.
	Finalizer  rawrefcount.FinalizerKind
	OnFinalize func(*PyObject)

	refs      []*PyObject
	weakrefs  []*Weakref
	gc        bool
	tuple     bool
	finalized int
	freed     bool
}

// Alive reports whether o was not deallocated.
func (o *PyObject) Alive() bool { return !o.freed }

// Refs returns the references held by o.
func (o *PyObject) Refs() []*PyObject { return o.refs }

// Finalized returns how many times the modern finalizer of o ran.
func (o *PyObject) Finalized() int { return o.finalized }

// GC reports whether o takes part in cycle detection.
func (o *PyObject) GC() bool { return o.gc }

func (o *PyObject) String() string {
	if o.Name != "" {
		return o.Name
	}
	return fmt.Sprintf("pyobj%p", o)
}

// Weakref is a weak reference to a foreign object. It does not count as a
// reference and is cleared once its target is found to be cyclic garbage
// or deallocated.
type Weakref struct {
	target *PyObject

	// OnClear runs when the reference is cleared.
	OnClear func(*Weakref)
}

// Get returns the referent, or nil once the reference was cleared.
func (w *Weakref) Get() *PyObject { return w.target }

// Runtime is the foreign side of the simulation.
type Runtime struct {
	bridge   *rawrefcount.Bridge
	byHeader map[*rawrefcount.Header]*PyObject
	pending  bool

	// Garbage holds objects kept alive by legacy finalizer cycles.
	Garbage []*PyObject
	// ManagedGarbage holds managed objects reachable only from Garbage.
	ManagedGarbage []rawrefcount.Addr

	Deallocated int
	LightFreed  int
}

// NewRuntime returns an empty runtime. The bridge is attached by NewWorld.
func NewRuntime() *Runtime {
	return &Runtime{byHeader: make(map[*rawrefcount.Header]*PyObject)}
}

func (rt *Runtime) newObject(name string, gc, tuple bool) *PyObject {
	o := &PyObject{Header: rawrefcount.NewHeader(), Name: name, gc: gc, tuple: tuple}
	rt.byHeader[o.Header] = o
	return o
}

// NewObject creates a container that can take part in reference cycles.
// Its refcount starts at zero.
func (rt *Runtime) NewObject(name string) *PyObject {
	o := rt.newObject(name, true, false)
	rt.bridge.Track(o.Header)
	return o
}

// NewAtomic creates an object that holds no references and is invisible to
// cycle detection.
func (rt *Runtime) NewAtomic(name string) *PyObject {
	return rt.newObject(name, false, false)
}

// NewTuple creates an immutable container holding items.
func (rt *Runtime) NewTuple(name string, items ...*PyObject) *PyObject {
	o := rt.newObject(name, true, true)
	for _, it := range items {
		o.refs = append(o.refs, it)
		rt.Incref(it)
	}
	rt.bridge.TrackTuple(o.Header)
	return o
}

// Object returns the foreign object owning h.
func (rt *Runtime) Object(h *rawrefcount.Header) *PyObject {
	o := rt.byHeader[h]
	if o == nil {
		panic(fmt.Sprintf("simheap: unknown header %v", h))
	}
	return o
}

// Objects returns every foreign object created, dead ones included.
func (rt *Runtime) Objects() []*PyObject {
	out := make([]*PyObject, 0, len(rt.byHeader))
	for _, o := range rt.byHeader {
		out = append(out, o)
	}
	return out
}

// AddRef stores a counted reference to dst in src.
func (rt *Runtime) AddRef(src, dst *PyObject) {
	if !src.gc || src.tuple {
		panic(fmt.Sprintf("simheap: %v cannot hold references", src))
	}
	src.refs = append(src.refs, dst)
	rt.Incref(dst)
}

// RemoveRef drops one reference from src to dst.
func (rt *Runtime) RemoveRef(src, dst *PyObject) {
	i := slices.Index(src.refs, dst)
	if i < 0 {
		panic(fmt.Sprintf("simheap: %v does not reference %v", src, dst))
	}
	src.refs = slices.Delete(src.refs, i, i+1)
	rt.Decref(dst)
}

// Incref adds an external reference to o.
func (rt *Runtime) Incref(o *PyObject) {
	rt.bridge.Incref(o.Header)
}

// Decref drops a reference to o, deallocating it at zero.
func (rt *Runtime) Decref(o *PyObject) {
	if rt.bridge.Decref(o.Header) {
		rt.dealloc(o)
	}
}

func (rt *Runtime) dealloc(o *PyObject) {
	if o.freed {
		panic(fmt.Sprintf("simheap: double dealloc of %v", o))
	}
	rt.bridge.MarkDeallocating(DeallocMarker, o.Header)
	rt.bridge.Untrack(o.Header)
	rt.clearWeakrefs(o)
	children := o.refs
	o.refs = nil
	o.freed = true
	rt.Deallocated++
	for _, c := range children {
		rt.Decref(c)
	}
}

// Traverse implements rawrefcount.Foreign.
func (rt *Runtime) Traverse(h *rawrefcount.Header, visit func(*rawrefcount.Header)) {
	for _, r := range rt.Object(h).refs {
		visit(r.Header)
	}
}

// FinalizerKind implements rawrefcount.Foreign.
func (rt *Runtime) FinalizerKind(h *rawrefcount.Header) rawrefcount.FinalizerKind {
	return rt.Object(h).Finalizer
}

// MaybeUntrackTuple implements rawrefcount.Foreign.
func (rt *Runtime) MaybeUntrackTuple(h *rawrefcount.Header) bool {
	for _, r := range rt.Object(h).refs {
		if r.gc {
			return true
		}
	}
	return false
}

// Free implements rawrefcount.Foreign.
func (rt *Runtime) Free(h *rawrefcount.Header) {
	o := rt.Object(h)
	rt.clearWeakrefs(o)
	children := o.refs
	o.refs = nil
	o.freed = true
	rt.LightFreed++
	for _, c := range children {
		rt.Decref(c)
	}
}

// NewWeakref creates a weak reference to o.
func (rt *Runtime) NewWeakref(o *PyObject) *Weakref {
	w := &Weakref{target: o}
	o.weakrefs = append(o.weakrefs, w)
	return w
}

// ClearWeakrefs implements rawrefcount.Foreign.
func (rt *Runtime) ClearWeakrefs(h *rawrefcount.Header) {
	rt.clearWeakrefs(rt.Object(h))
}

func (rt *Runtime) clearWeakrefs(o *PyObject) {
	refs := o.weakrefs
	o.weakrefs = nil
	for _, w := range refs {
		w.target = nil
		if w.OnClear != nil {
			w.OnClear(w)
		}
	}
}

// Trigger is the callback handed to the bridge.
func (rt *Runtime) Trigger() { rt.pending = true }

// Pending reports whether the bridge asked for cleanup since the last call
// to ProcessPending.
func (rt *Runtime) Pending() bool { return rt.pending }

// ProcessPending is the embedder's cleanup loop: destroy headers whose
// mirror died, run modern finalizers of isolates, collect legacy garbage and
// clear cyclic garbage.
func (rt *Runtime) ProcessPending() {
	rt.pending = false
	b := rt.bridge
	for h := b.NextDead(); h != nil; h = b.NextDead() {
		rt.Decref(rt.Object(h))
	}
	for h := b.NextCyclicIsolate(); h != nil; h = b.NextCyclicIsolate() {
		o := rt.Object(h)
		o.finalized++
		if o.OnFinalize != nil {
			o.OnFinalize(o)
		}
	}
	for h := b.NextGarbageForeign(); h != nil; h = b.NextGarbageForeign() {
		o := rt.Object(h)
		rt.Incref(o)
		rt.Garbage = append(rt.Garbage, o)
	}
	for a := b.NextGarbageManaged(); a != rawrefcount.Nil; a = b.NextGarbageManaged() {
		rt.ManagedGarbage = append(rt.ManagedGarbage, a)
	}
	for h := b.CyclicGarbageHead(); h != nil; h = b.CyclicGarbageHead() {
		o := rt.Object(h)
		rt.Incref(o)
		rt.clear(o)
		rt.Decref(o)
		if o.Alive() && b.CyclicGarbageHead() == h {
			b.CyclicGarbageRemove()
		}
	}
}

func (rt *Runtime) clear(o *PyObject) {
	children := o.refs
	o.refs = nil
	for _, c := range children {
		rt.Decref(c)
	}
}
