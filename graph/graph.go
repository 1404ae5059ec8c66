// ABOUTME: Graph interface and in-memory implementation
// ABOUTME: Stores objects of both worlds with named lookup and typed edges

package graph

import (
	"fmt"
	"slices"
	"sync"
)

// Graph represents an object graph spanning the managed and foreign worlds
type Graph interface {
	// AddObject adds an object to the graph, replacing one with the same ID
	AddObject(obj *Object)

	// AddEdge appends an edge to an existing object
	AddEdge(from, to ObjID, kind EdgeKind) error

	// GetObject retrieves an object by ID
	GetObject(id ObjID) *Object

	// ByName retrieves an object by name
	ByName(name string) *Object

	// NumObjects returns the total number of objects
	NumObjects() int

	// ForEachObject iterates over all objects in ID order
	ForEachObject(fn func(*Object))

	// SetRoots sets the roots
	SetRoots(roots Roots)

	// GetRoots returns the roots
	GetRoots() Roots
}

// MemGraph is an in-memory implementation of Graph
type MemGraph struct {
	mu      sync.RWMutex
	objects map[ObjID]*Object
	names   map[string]ObjID
	roots   Roots
}

// NewMemGraph creates a new in-memory graph
func NewMemGraph() *MemGraph {
	return &MemGraph{
		objects: make(map[ObjID]*Object),
		names:   make(map[string]ObjID),
	}
}

// AddObject adds an object to the graph
func (g *MemGraph) AddObject(obj *Object) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if old, ok := g.objects[obj.ID]; ok && old.Name != "" {
		delete(g.names, old.Name)
	}
	g.objects[obj.ID] = obj
	if obj.Name != "" {
		g.names[obj.Name] = obj.ID
	}
}

// AddEdge appends an edge from one existing object to another
func (g *MemGraph) AddEdge(from, to ObjID, kind EdgeKind) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	src, ok := g.objects[from]
	if !ok {
		return fmt.Errorf("graph: edge from unknown object %d", from)
	}
	if _, ok := g.objects[to]; !ok {
		return fmt.Errorf("graph: edge to unknown object %d", to)
	}
	src.Edges = append(src.Edges, Edge{To: to, Kind: kind})
	return nil
}

// GetObject retrieves an object by ID
func (g *MemGraph) GetObject(id ObjID) *Object {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.objects[id]
}

// ByName retrieves an object by name
func (g *MemGraph) ByName(name string) *Object {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.names[name]
	if !ok {
		return nil
	}
	return g.objects[id]
}

// NumObjects returns the total number of objects
func (g *MemGraph) NumObjects() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.objects)
}

// ForEachObject iterates over all objects in ID order
func (g *MemGraph) ForEachObject(fn func(*Object)) {
	g.mu.RLock()
	ids := make([]ObjID, 0, len(g.objects))
	for id := range g.objects {
		ids = append(ids, id)
	}
	objs := make([]*Object, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		objs = append(objs, g.objects[id])
	}
	g.mu.RUnlock()

	for _, obj := range objs {
		fn(obj)
	}
}

// SetRoots sets the roots
func (g *MemGraph) SetRoots(roots Roots) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.roots = roots
}

// GetRoots returns the roots
func (g *MemGraph) GetRoots() Roots {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.roots
}
