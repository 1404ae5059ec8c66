// ABOUTME: Collaborator interfaces the embedding system injects into the bridge
// ABOUTME: The tracing collector hooks and the foreign runtime hooks

package rawrefcount

// Addr is the address of a managed object as seen by the tracing collector.
// Objects in the nursery change address when they survive a minor
// collection.
type Addr uint64

// Nil is the zero Addr.
const Nil Addr = 0

// Heap is the tracing collector the bridge is embedded in.
type Heap interface {
	// InNursery reports whether obj lives in the moving nursery.
	InNursery(obj Addr) bool

	// IsYoung reports whether obj was allocated since the last minor
	// collection, in the nursery or as a young non-moving object.
	IsYoung(obj Addr) bool

	// IsForwarded reports whether the nursery object obj survived the
	// running minor collection and was copied out.
	IsForwarded(obj Addr) bool

	// ForwardingAddress returns the new address of a forwarded object.
	ForwardingAddress(obj Addr) Addr

	// SurvivedMinor reports whether the young non-moving object obj was
	// reached by the running minor collection.
	SurvivedMinor(obj Addr) bool

	// Marked reports whether obj is known to survive the running major
	// collection: visited by marking or never collectable.
	Marked(obj Addr) bool

	// KeepAlive makes obj survive the running collection. During a minor
	// collection the object is copied out of the nursery; during a major
	// collection it is queued for marking.
	KeepAlive(obj Addr)

	// VisitAll drains the marking queue of a major collection.
	VisitAll()

	// TakeGarbageFlag clears the garbage flag set on objects marked while
	// the bridge is in StateGarbageMarking and reports whether it was set.
	TakeGarbageFlag(obj Addr) bool

	// EachRef calls fn for every managed reference held by obj.
	EachRef(obj Addr, fn func(Addr))
}

// FinalizerKind classifies the finalizer of a foreign object.
type FinalizerKind uint8

const (
	// FinalizerNone means the object needs no finalization before it is
	// cleared.
	FinalizerNone FinalizerKind = iota

	// FinalizerModern finalizers may resurrect and run at most once; the
	// cyclic isolate they belong to is kept for one more collection.
	FinalizerModern

	// FinalizerLegacy finalizers make their cycle uncollectable: the whole
	// subgraph is handed to the embedder as garbage instead of cleared.
	FinalizerLegacy
)

func (k FinalizerKind) String() string {
	switch k {
	case FinalizerNone:
		return "none"
	case FinalizerModern:
		return "modern"
	case FinalizerLegacy:
		return "legacy"
	}
	return "unknown"
}

// Foreign is the runtime owning the foreign objects.
type Foreign interface {
	// Traverse calls visit once for every foreign reference held by h.
	// It is only called for tracked headers.
	Traverse(h *Header, visit func(*Header))

	// FinalizerKind reports the finalizer discipline of the tracked h.
	FinalizerKind(h *Header) FinalizerKind

	// MaybeUntrackTuple reports whether the tuple h holds references that
	// can take part in cycles.
	MaybeUntrackTuple(h *Header) bool

	// Free releases the memory of a light header whose managed mirror died
	// and which has no other references. No destructor runs.
	Free(h *Header)

	// ClearWeakrefs clears the weak references to h. It is called for every
	// object of a garbage cycle before the cycle is handed to the embedder,
	// so no weak reference can reach an object that is being cleared.
	ClearWeakrefs(h *Header)
}
