// ABOUTME: The Bridge owns every piece of state linking managed mirrors to foreign objects
// ABOUTME: Handle tables, young/old link lists, gc lists, dead queue and cycle finder state

// Package rawrefcount bridges a moving tracing collector with a runtime whose
// objects are kept alive by reference counts. A foreign object and its
// managed mirror are linked: the mirror owns one reserved reference (the base
// flag in the refcount word) and the bridge makes sure neither side is freed
// while the other is still reachable. Major collections can additionally
// detect reference cycles among foreign objects by trial deletion.
//
// A Bridge is not safe for concurrent use. It is driven by the collector
// thread between mutator resumption points.
package rawrefcount

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rrcbridge/rrcbridge/gclist"
	"github.com/rrcbridge/rrcbridge/refcount"
)

// State is the phase of the major collection cycle finder.
type State uint8

const (
	// StateDefault means no cycle detection is in progress.
	StateDefault State = iota

	// StateMarking means an incremental cycle is marking its snapshot.
	StateMarking

	// StateGarbageMarking means managed objects reached from legacy
	// garbage are being marked; the heap flags them as garbage.
	StateGarbageMarking

	// StateGarbage means the embedder is draining managed legacy garbage.
	StateGarbage
)

func (s State) String() string {
	switch s {
	case StateDefault:
		return "default"
	case StateMarking:
		return "marking"
	case StateGarbageMarking:
		return "garbage-marking"
	case StateGarbage:
		return "garbage"
	}
	return "unknown"
}

// gc list tags
const (
	listObjects gclist.ListID = iota + 1
	listTuples
	listOld
	listDead
	listIsolate
)

type gcEntry struct {
	h         *Header
	refs      int64
	finalized bool
}

// CycleStats describes the last completed major collection step that ran
// cycle detection.
type CycleStats struct {
	Candidates int
	Dead       int
	Garbage    int
	Isolated   int
	Snapshot   int
	Consistent bool
}

// Bridge links managed mirrors with foreign objects. Create one with New.
type Bridge struct {
	heap    Heap
	foreign Foreign
	trigger func()
	cfg     Config
	log     *slog.Logger
	tracer  trace.Tracer

	pYoung, pOld []*Header
	oYoung, oOld []*Header
	pDict        map[Addr]*Header
	pDictNurs    map[Addr]*Header

	deallocPending []*Header
	overflow       *refcount.Table[*Header]

	arena        *gclist.Arena[gcEntry]
	objects      gclist.List
	tuples       gclist.List
	old          gclist.List
	dead         gclist.List
	isolate      gclist.List
	garbageHead  gclist.Slot
	garbageTail  gclist.Slot
	garbageTrace []Addr

	nongc       map[*Header]int64
	state       State
	cycles      bool
	// cycleDone is set when trial deletion finished during the current
	// major collection; only then does the old list hold garbage.
	cycleDone   bool
	minorTraced bool
	major       majorStrategy
	last        CycleStats
}

// New creates a bridge embedded in heap, calling into foreign for traversal
// and finalizer information. trigger is invoked whenever headers are waiting
// to be deallocated, finalized or cleared; it may be nil.
func New(heap Heap, foreign Foreign, trigger func(), cfg Config) *Bridge {
	cfg = cfg.withDefaults()
	if trigger == nil {
		trigger = func() {}
	}
	b := &Bridge{
		heap:      heap,
		foreign:   foreign,
		trigger:   trigger,
		cfg:       cfg,
		log:       cfg.Logger.With("component", "rawrefcount", "strategy", cfg.Strategy.String()),
		tracer:    cfg.Tracer,
		pDict:     make(map[Addr]*Header),
		pDictNurs: make(map[Addr]*Header),
		overflow:  refcount.NewTable[*Header](),
		arena:     gclist.NewArena[gcEntry](),
		nongc:     make(map[*Header]int64),
		cycles:    !cfg.DisableCycles,
	}
	b.objects = b.arena.NewList(listObjects, "pyobj_list")
	b.tuples = b.arena.NewList(listTuples, "tuple_list")
	b.old = b.arena.NewList(listOld, "pyobj_old_list")
	b.dead = b.arena.NewList(listDead, "pyobj_dead_list")
	b.isolate = b.arena.NewList(listIsolate, "pyobj_isolate_list")
	b.major = newStrategy(cfg.Strategy)
	return b
}

// State returns the phase of the cycle finder.
func (b *Bridge) State() State { return b.state }

// Strategy returns the major collection strategy fixed at construction.
func (b *Bridge) Strategy() Strategy { return b.cfg.Strategy }

// SetCycleDetection turns cycle detection on or off. With detection off,
// every strategy behaves like StrategySimple.
func (b *Bridge) SetCycleDetection(on bool) { b.cycles = on }

// CycleDetection reports whether cycle detection is on.
func (b *Bridge) CycleDetection() bool { return b.cycles }

// LastCycle returns statistics of the last cycle detection pass.
func (b *Bridge) LastCycle() CycleStats { return b.last }

// InvokeCallback calls the trigger if anything is waiting for the embedder.
func (b *Bridge) InvokeCallback() {
	if len(b.deallocPending) > 0 ||
		!b.arena.IsEmpty(b.dead) ||
		!b.arena.IsEmpty(b.isolate) ||
		b.garbageHead != gclist.Nil {
		b.trigger()
	}
}

func (b *Bridge) entry(s gclist.Slot) *gcEntry {
	return b.arena.Value(s)
}

func (b *Bridge) startSpan(name string, attrs ...attribute.KeyValue) trace.Span {
	_, span := b.tracer.Start(context.Background(), name,
		trace.WithAttributes(append(attrs, attribute.String("rrc.strategy", b.cfg.Strategy.String()))...))
	return span
}

func (b *Bridge) checkpoint(phase string) {
	if !b.cfg.Debug {
		return
	}
	if err := b.CheckConsistency(); err != nil {
		panic(&InvariantError{Msg: phase + ": " + err.Error()})
	}
}
