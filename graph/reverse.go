// ABOUTME: Builds reverse edges for graph traversal
// ABOUTME: Maps objects to their referrers for paths-to-roots

package graph

// ReverseEdges maps each object to the objects that reference it. Edge.To
// holds the referrer.
type ReverseEdges map[ObjID][]Edge

// BuildReverseEdges creates a map of reverse edges
func BuildReverseEdges(g Graph) ReverseEdges {
	reverse := make(ReverseEdges)

	g.ForEachObject(func(obj *Object) {
		for _, e := range obj.Edges {
			reverse[e.To] = append(reverse[e.To], Edge{To: obj.ID, Kind: e.Kind})
		}
	})

	return reverse
}
