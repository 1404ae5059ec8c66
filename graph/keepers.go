// ABOUTME: Immediate dominators of the object graph, read as "who keeps this alive"
// ABOUTME: Removing an object's keeper makes the object unreachable

package graph

import (
	"gonum.org/v1/gonum/graph/flow"
	"gonum.org/v1/gonum/graph/simple"
)

// Keepers computes the immediate dominator of every reachable object. The
// keeper of an object is the closest object every path from the roots must
// pass through; 0 stands for the virtual root above all roots.
func Keepers(g Graph) map[ObjID]ObjID {
	dg := simple.NewDirectedGraph()
	dg.AddNode(simple.Node(0))
	g.ForEachObject(func(obj *Object) {
		dg.AddNode(simple.Node(obj.ID))
	})
	// self loops and parallel edges do not change dominance
	setEdge := func(from, to ObjID) {
		if from == to || dg.Node(int64(to)) == nil {
			return
		}
		dg.SetEdge(dg.NewEdge(simple.Node(from), simple.Node(to)))
	}
	for _, id := range g.GetRoots().IDs {
		setEdge(0, id)
	}
	g.ForEachObject(func(obj *Object) {
		for _, e := range obj.Edges {
			setEdge(obj.ID, e.To)
		}
	})

	tree := flow.Dominators(simple.Node(0), dg)
	keepers := make(map[ObjID]ObjID)
	g.ForEachObject(func(obj *Object) {
		if d := tree.DominatorOf(int64(obj.ID)); d != nil {
			keepers[obj.ID] = ObjID(d.ID())
		}
	})
	return keepers
}

// KeeperChain follows keepers from id up to the virtual root. The result
// starts with id and ends with 0.
func KeeperChain(keepers map[ObjID]ObjID, id ObjID) []ObjID {
	chain := []ObjID{id}
	for id != 0 {
		k, ok := keepers[id]
		if !ok {
			break
		}
		chain = append(chain, k)
		id = k
	}
	if chain[len(chain)-1] != 0 {
		chain = append(chain, 0)
	}
	return chain
}
