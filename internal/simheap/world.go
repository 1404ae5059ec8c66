// ABOUTME: Wires a Heap, a Runtime and a Bridge into one simulated process
// ABOUTME: Helpers to create linked pairs and to export the object graph

package simheap

import (
	"github.com/rrcbridge/rrcbridge/graph"
	"github.com/rrcbridge/rrcbridge/rawrefcount"
)

// World is a managed heap and a foreign runtime sharing one bridge.
type World struct {
	Heap    *Heap
	Runtime *Runtime
	Bridge  *rawrefcount.Bridge
}

// NewWorld creates an empty world whose bridge uses cfg.
func NewWorld(cfg rawrefcount.Config) *World {
	hp := NewHeap()
	rt := NewRuntime()
	b := rawrefcount.New(hp, rt, rt.Trigger, cfg)
	hp.bridge = b
	rt.bridge = b
	return &World{Heap: hp, Runtime: rt, Bridge: b}
}

// NewPair creates a managed object and its foreign counterpart, linked on
// behalf of the managed side. With old the managed object skips the nursery.
func (w *World) NewPair(name string, value int, light, old bool) (*Object, *PyObject) {
	var p *Object
	if old {
		p = w.Heap.AllocOld(value)
	} else {
		p = w.Heap.Alloc(value)
	}
	r := w.Runtime.NewObject(name)
	w.Bridge.CreateLinkManaged(p.Addr(), r.Header, light)
	return p, r
}

// NewProxy creates a managed proxy for an existing foreign object.
func (w *World) NewProxy(r *PyObject, value int, light, old bool) *Object {
	var p *Object
	if old {
		p = w.Heap.AllocOld(value)
	} else {
		p = w.Heap.Alloc(value)
	}
	w.Bridge.CreateLinkForeign(p.Addr(), r.Header, light)
	return p
}

// Collect runs a major collection and, if the bridge asked for it, the
// embedder's cleanup.
func (w *World) Collect() {
	w.Heap.Collect()
	if w.Runtime.Pending() {
		w.Runtime.ProcessPending()
	}
}

// Minor runs a minor collection and, if the bridge asked for it, the
// embedder's cleanup.
func (w *World) Minor() {
	w.Heap.MinorCollection()
	if w.Runtime.Pending() {
		w.Runtime.ProcessPending()
	}
}

// Graph exports the live objects of both worlds. Managed roots and foreign
// objects with references from outside the foreign graph are the roots.
// A mirror always keeps its foreign object alive; a foreign object keeps
// its mirror alive only if the link was created for the managed side.
func (w *World) Graph(names map[*Object]string) (graph.Graph, map[*Object]graph.ObjID, map[*PyObject]graph.ObjID) {
	g := graph.NewMemGraph()
	managed := make(map[*Object]graph.ObjID)
	foreign := make(map[*PyObject]graph.ObjID)
	next := graph.ObjID(0)
	newID := func() graph.ObjID {
		next++
		return next
	}

	for _, o := range w.Heap.Objects() {
		managed[o] = newID()
	}
	for _, o := range w.Runtime.Objects() {
		if o.Alive() {
			foreign[o] = newID()
		}
	}

	internal := make(map[*PyObject]int64)
	for o := range foreign {
		for _, r := range o.refs {
			internal[r]++
		}
	}

	var roots []graph.ObjID
	for _, o := range w.Heap.Roots() {
		roots = append(roots, managed[o])
	}
	for o, id := range managed {
		obj := &graph.Object{ID: id, Kind: graph.Managed, Name: names[o]}
		for _, r := range o.refs {
			if rid, ok := managed[r]; ok {
				obj.Edges = append(obj.Edges, graph.Edge{To: rid, Kind: graph.Field})
			}
		}
		g.AddObject(obj)
	}
	for o, id := range foreign {
		obj := &graph.Object{ID: id, Kind: graph.Foreign, Name: o.Name}
		for _, r := range o.refs {
			if rid, ok := foreign[r]; ok {
				obj.Edges = append(obj.Edges, graph.Edge{To: rid, Kind: graph.Ref})
			}
		}
		if addr := w.Bridge.ToObj(o.Header); addr != rawrefcount.Nil && !w.Bridge.IsDeallocating(o.Header) {
			if p := w.Heap.Lookup(addr); p != nil {
				pid := managed[p]
				// a proxy does not survive because of its foreign object
				if w.Bridge.FromObj(addr) == o.Header {
					obj.Edges = append(obj.Edges, graph.Edge{To: pid, Kind: graph.Link})
				}
				g.GetObject(pid).Edges = append(g.GetObject(pid).Edges, graph.Edge{To: id, Kind: graph.Link})
			}
		}
		g.AddObject(obj)
		if w.Bridge.ExternalRefcnt(o.Header) > internal[o] {
			roots = append(roots, id)
		}
	}
	g.SetRoots(graph.Roots{IDs: roots})
	return g, managed, foreign
}
