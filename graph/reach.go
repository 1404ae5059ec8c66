// ABOUTME: Reachability from the roots across both worlds
// ABOUTME: The ground truth every collection strategy must agree with

package graph

// Reachable returns the set of objects reachable from the roots over edges
// of any kind
func Reachable(g Graph) map[ObjID]bool {
	seen := make(map[ObjID]bool)
	stack := append([]ObjID(nil), g.GetRoots().IDs...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		obj := g.GetObject(id)
		if obj == nil {
			continue
		}
		seen[id] = true
		for _, e := range obj.Edges {
			if !seen[e.To] {
				stack = append(stack, e.To)
			}
		}
	}
	return seen
}

// Unreachable returns the IDs of objects no root can reach, in ID order
func Unreachable(g Graph) []ObjID {
	live := Reachable(g)
	var dead []ObjID
	g.ForEachObject(func(obj *Object) {
		if !live[obj.ID] {
			dead = append(dead, obj.ID)
		}
	})
	return dead
}
