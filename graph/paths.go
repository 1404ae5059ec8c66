// ABOUTME: BFS algorithm for finding paths from objects to roots
// ABOUTME: Explains why an object is still alive, edge kinds included

package graph

import (
	"strconv"
	"strings"
)

// Path is a chain of referrers from an object to a root
type Path struct {
	IDs   []ObjID    // from the target to the root
	Kinds []EdgeKind // Kinds[i] is the edge from IDs[i+1] to IDs[i]
}

// PathsToRoots finds up to maxPaths shortest referrer chains from an object
// to the roots using BFS
func PathsToRoots(g Graph, from ObjID, maxPaths int) []Path {
	if maxPaths <= 0 {
		return nil
	}

	reverse := BuildReverseEdges(g)

	rootSet := make(map[ObjID]bool)
	for _, id := range g.GetRoots().IDs {
		rootSet[id] = true
	}

	if rootSet[from] {
		return []Path{{IDs: []ObjID{from}}}
	}

	var result []Path
	queue := []Path{{IDs: []ObjID{from}}}

	for len(queue) > 0 && len(result) < maxPaths {
		p := queue[0]
		queue = queue[1:]
		last := p.IDs[len(p.IDs)-1]

		for _, ref := range reverse[last] {
			if p.contains(ref.To) {
				continue
			}
			next := Path{
				IDs:   append(append(make([]ObjID, 0, len(p.IDs)+1), p.IDs...), ref.To),
				Kinds: append(append(make([]EdgeKind, 0, len(p.Kinds)+1), p.Kinds...), ref.Kind),
			}
			if rootSet[ref.To] {
				result = append(result, next)
				if len(result) >= maxPaths {
					break
				}
				continue
			}
			queue = append(queue, next)
		}
	}

	return result
}

func (p Path) contains(id ObjID) bool {
	for _, x := range p.IDs {
		if x == id {
			return true
		}
	}
	return false
}

// Format renders p as "a <-ref- b <-field- root" using object names
func (p Path) Format(g Graph) string {
	var sb strings.Builder
	for i, id := range p.IDs {
		if i > 0 {
			sb.WriteString(" <-")
			sb.WriteString(p.Kinds[i-1].String())
			sb.WriteString("- ")
		}
		sb.WriteString(nameOf(g, id))
	}
	return sb.String()
}

func nameOf(g Graph, id ObjID) string {
	if obj := g.GetObject(id); obj != nil && obj.Name != "" {
		return obj.Name
	}
	return "#" + strconv.FormatUint(uint64(id), 10)
}
