// ABOUTME: Core data types of the object graph spanning both worlds
// ABOUTME: Defines ObjID, object kinds, typed edges and Roots

package graph

// ObjID is a unique identifier for an object. Zero is reserved for the
// virtual root that points at every root.
type ObjID uint64

// Kind tells which world an object lives in
type Kind uint8

const (
	Managed Kind = iota + 1 // traced by the collector
	Foreign                 // kept alive by its refcount
)

func (k Kind) String() string {
	switch k {
	case Managed:
		return "managed"
	case Foreign:
		return "foreign"
	}
	return "unknown"
}

// EdgeKind tells how a reference keeps its target alive
type EdgeKind uint8

const (
	Field EdgeKind = iota + 1 // managed field, traced
	Ref                       // counted foreign reference
	Link                      // mirror and foreign object keeping each other
)

func (k EdgeKind) String() string {
	switch k {
	case Field:
		return "field"
	case Ref:
		return "ref"
	case Link:
		return "link"
	}
	return "edge"
}

// Edge is a reference to another object
type Edge struct {
	To   ObjID
	Kind EdgeKind
}

// Object is a single node of the graph
type Object struct {
	ID    ObjID
	Kind  Kind
	Name  string // scenario node name, or a generated one
	Edges []Edge
}

// Roots represents the set of objects alive by definition: stack roots on
// the managed side and foreign objects with external holders.
type Roots struct {
	IDs []ObjID
}
