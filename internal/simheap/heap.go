// ABOUTME: Simulated generational tracing collector implementing rawrefcount.Heap
// ABOUTME: Moving nursery, young non-moving objects, incremental marking with a write barrier

// Package simheap is a small reference host for the refcount bridge: a
// generational moving collector for managed objects and a refcounted runtime
// for foreign objects, wired together the way a real virtual machine would
// drive rawrefcount.
package simheap

import (
	"fmt"

	"github.com/rrcbridge/rrcbridge/rawrefcount"
)

const (
	oldBase     rawrefcount.Addr = 0x1000
	nurseryBase rawrefcount.Addr = 1 << 40
)

// Object is a managed object. Its address changes when it leaves the
// nursery; the pointer stays valid.
type Object struct {
	addr     rawrefcount.Addr
	Value    int
	refs     []*Object
	young    bool
	large    bool
	immortal bool
	marked   bool
	garbage  bool
	survived bool
	freed    bool
}

// Addr returns the current address of o.
func (o *Object) Addr() rawrefcount.Addr { return o.addr }

// Alive reports whether o was not collected.
func (o *Object) Alive() bool { return !o.freed }

// Young reports whether o has not survived a minor collection yet.
func (o *Object) Young() bool { return o.young }

// Refs returns the managed references held by o.
func (o *Object) Refs() []*Object { return o.refs }

func (o *Object) String() string {
	return fmt.Sprintf("obj@%#x(%d)", uint64(o.addr), o.Value)
}

// Heap is the managed side of the simulation.
type Heap struct {
	objs      map[rawrefcount.Addr]*Object
	nursery   map[rawrefcount.Addr]*Object
	large     []*Object
	forwarded map[rawrefcount.Addr]rawrefcount.Addr
	nextOld   rawrefcount.Addr
	nextYoung rawrefcount.Addr
	roots     []*Object
	copyQueue []*Object
	markQueue []*Object
	inMinor   bool
	marking   bool
	bridge    *rawrefcount.Bridge

	// Mutator runs between two major collection steps, before the minor
	// collection that precedes the next step.
	Mutator func(step int)

	MinorCollections int
	MajorCollections int
}

// NewHeap returns an empty heap. The bridge is attached by NewWorld.
func NewHeap() *Heap {
	return &Heap{
		objs:      make(map[rawrefcount.Addr]*Object),
		nursery:   make(map[rawrefcount.Addr]*Object),
		forwarded: make(map[rawrefcount.Addr]rawrefcount.Addr),
		nextOld:   oldBase,
		nextYoung: nurseryBase,
	}
}

// Alloc allocates a young object in the nursery.
func (hp *Heap) Alloc(value int) *Object {
	hp.nextYoung += 16
	o := &Object{addr: hp.nextYoung, Value: value, young: true}
	hp.objs[o.addr] = o
	hp.nursery[o.addr] = o
	return o
}

// AllocLarge allocates a young object outside the nursery; it never moves.
func (hp *Heap) AllocLarge(value int) *Object {
	o := &Object{addr: hp.oldAddr(), Value: value, young: true, large: true}
	hp.objs[o.addr] = o
	hp.large = append(hp.large, o)
	return o
}

// AllocOld allocates an object directly in the old generation.
func (hp *Heap) AllocOld(value int) *Object {
	o := &Object{addr: hp.oldAddr(), Value: value}
	hp.objs[o.addr] = o
	if hp.marking {
		hp.grey(o)
	}
	return o
}

// AllocPrebuilt allocates an immortal object without heap pointers, such as
// a constant baked into the executable.
func (hp *Heap) AllocPrebuilt(value int) *Object {
	o := &Object{addr: hp.oldAddr(), Value: value, immortal: true}
	hp.objs[o.addr] = o
	return o
}

func (hp *Heap) oldAddr() rawrefcount.Addr {
	hp.nextOld += 16
	return hp.nextOld
}

// SetRef appends a reference from src to dst.
func (hp *Heap) SetRef(src, dst *Object) {
	if src.immortal {
		panic("simheap: prebuilt objects hold no heap pointers")
	}
	src.refs = append(src.refs, dst)
	if hp.marking && src.marked {
		hp.grey(dst)
		hp.drainMark()
	}
}

// ClearRefs drops every reference held by o.
func (hp *Heap) ClearRefs(o *Object) {
	o.refs = nil
}

// PushRoot adds o to the root stack.
func (hp *Heap) PushRoot(o *Object) {
	hp.roots = append(hp.roots, o)
	if hp.marking {
		hp.grey(o)
		hp.drainMark()
	}
}

// PopRoot removes and returns the last root.
func (hp *Heap) PopRoot() *Object {
	n := len(hp.roots)
	o := hp.roots[n-1]
	hp.roots = hp.roots[:n-1]
	return o
}

// Roots returns the root stack.
func (hp *Heap) Roots() []*Object { return hp.roots }

// Objects returns every live object.
func (hp *Heap) Objects() []*Object {
	out := make([]*Object, 0, len(hp.objs))
	for _, o := range hp.objs {
		out = append(out, o)
	}
	return out
}

// Lookup returns the object at addr, or nil.
func (hp *Heap) Lookup(addr rawrefcount.Addr) *Object {
	if o := hp.objs[addr]; o != nil {
		return o
	}
	return hp.nursery[addr]
}

// InNursery implements rawrefcount.Heap.
func (hp *Heap) InNursery(addr rawrefcount.Addr) bool {
	return addr >= nurseryBase && hp.nursery[addr] != nil
}

// IsYoung implements rawrefcount.Heap.
func (hp *Heap) IsYoung(addr rawrefcount.Addr) bool {
	o := hp.Lookup(addr)
	return o != nil && o.young
}

// IsForwarded implements rawrefcount.Heap.
func (hp *Heap) IsForwarded(addr rawrefcount.Addr) bool {
	_, ok := hp.forwarded[addr]
	return ok
}

// ForwardingAddress implements rawrefcount.Heap.
func (hp *Heap) ForwardingAddress(addr rawrefcount.Addr) rawrefcount.Addr {
	return hp.forwarded[addr]
}

// SurvivedMinor implements rawrefcount.Heap.
func (hp *Heap) SurvivedMinor(addr rawrefcount.Addr) bool {
	o := hp.objs[addr]
	return o != nil && o.survived
}

// Marked implements rawrefcount.Heap.
func (hp *Heap) Marked(addr rawrefcount.Addr) bool {
	o := hp.objs[addr]
	return o != nil && (o.marked || o.immortal)
}

// KeepAlive implements rawrefcount.Heap.
func (hp *Heap) KeepAlive(addr rawrefcount.Addr) {
	o := hp.Lookup(addr)
	if o == nil {
		panic(fmt.Sprintf("simheap: keepalive of unknown object %#x", uint64(addr)))
	}
	switch {
	case hp.inMinor:
		hp.dragOut(o)
	case hp.marking:
		hp.grey(o)
	}
}

// VisitAll implements rawrefcount.Heap.
func (hp *Heap) VisitAll() {
	if hp.marking {
		hp.drainMark()
	}
}

// TakeGarbageFlag implements rawrefcount.Heap.
func (hp *Heap) TakeGarbageFlag(addr rawrefcount.Addr) bool {
	o := hp.objs[addr]
	if o == nil || !o.garbage {
		return false
	}
	o.garbage = false
	return true
}

// EachRef implements rawrefcount.Heap.
func (hp *Heap) EachRef(addr rawrefcount.Addr, fn func(rawrefcount.Addr)) {
	if o := hp.objs[addr]; o != nil {
		for _, r := range o.refs {
			fn(r.addr)
		}
	}
}

// MinorCollection empties the nursery. Survivors are copied to the old
// generation; young non-moving survivors become old in place.
func (hp *Heap) MinorCollection() {
	hp.MinorCollections++
	hp.inMinor = true

	for _, r := range hp.roots {
		hp.dragOut(r)
	}
	for _, o := range hp.Objects() {
		if !o.young {
			for _, r := range o.refs {
				hp.dragOut(r)
			}
		}
	}
	hp.bridge.MinorTrace()
	for n := len(hp.copyQueue); n > 0; n = len(hp.copyQueue) {
		o := hp.copyQueue[n-1]
		hp.copyQueue = hp.copyQueue[:n-1]
		for _, r := range o.refs {
			hp.dragOut(r)
		}
	}
	hp.bridge.MinorFree()

	for addr, o := range hp.nursery {
		if _, ok := hp.forwarded[addr]; !ok {
			hp.release(o)
		}
	}
	for _, o := range hp.large {
		if o.survived {
			o.young, o.survived = false, false
		} else {
			hp.release(o)
		}
	}
	hp.large = hp.large[:0]
	clear(hp.nursery)
	clear(hp.forwarded)
	hp.inMinor = false
	if hp.marking {
		hp.drainMark()
	}
}

func (hp *Heap) dragOut(o *Object) {
	if o.freed {
		panic(fmt.Sprintf("simheap: reference to freed %v", o))
	}
	if !o.young {
		return
	}
	if o.large {
		if !o.survived {
			o.survived = true
			hp.promoted(o)
		}
		return
	}
	from := o.addr
	to := hp.oldAddr()
	delete(hp.objs, from)
	o.addr = to
	o.young = false
	hp.objs[to] = o
	hp.forwarded[from] = to
	hp.promoted(o)
}

func (hp *Heap) promoted(o *Object) {
	hp.copyQueue = append(hp.copyQueue, o)
	if hp.marking {
		// allocate black: objects leaving the nursery during marking survive
		hp.grey(o)
	}
}

func (hp *Heap) release(o *Object) {
	o.freed = true
	o.refs = nil
	delete(hp.objs, o.addr)
}

func (hp *Heap) grey(o *Object) {
	if o.freed || o.marked || o.immortal {
		return
	}
	o.marked = true
	if hp.bridge.State() == rawrefcount.StateGarbageMarking {
		o.garbage = true
	}
	hp.markQueue = append(hp.markQueue, o)
}

func (hp *Heap) drainMark() {
	for n := len(hp.markQueue); n > 0; n = len(hp.markQueue) {
		o := hp.markQueue[n-1]
		hp.markQueue = hp.markQueue[:n-1]
		for _, r := range o.refs {
			// young referents are promoted black by the next minor collection
			if !r.young {
				hp.grey(r)
			}
		}
	}
}

// StartMajor empties the nursery and marks everything reachable from the
// roots.
func (hp *Heap) StartMajor() {
	hp.MinorCollection()
	hp.MajorCollections++
	for _, o := range hp.objs {
		o.marked, o.garbage = false, false
	}
	hp.marking = true
	for _, r := range hp.roots {
		hp.grey(r)
	}
	hp.drainMark()
}

// MajorStep runs one bridge step and propagates the marks it produced.
func (hp *Heap) MajorStep() bool {
	done := hp.bridge.MajorCollectionTraceStep()
	hp.drainMark()
	return done
}

// FinishMajor empties the nursery, lets the bridge release dead links and
// sweeps unmarked old objects.
func (hp *Heap) FinishMajor() {
	hp.MinorCollection()
	hp.marking = false
	hp.bridge.MajorCollectionFree()
	for _, o := range hp.Objects() {
		if !o.young && !o.marked && !o.immortal {
			hp.release(o)
		}
	}
	for _, o := range hp.objs {
		o.marked = false
	}
}

// Collect runs a full major collection, calling Mutator between steps.
func (hp *Heap) Collect() {
	hp.StartMajor()
	for step := 0; !hp.MajorStep(); step++ {
		if hp.Mutator != nil {
			hp.Mutator(step)
		}
		hp.MinorCollection()
	}
	hp.FinishMajor()
}
