// ABOUTME: Builds a scenario in a simulated world, collects it and checks expectations
// ABOUTME: Reports liveness and refcount mismatches with a path-to-root explanation

package scenario

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rrcbridge/rrcbridge/graph"
	"github.com/rrcbridge/rrcbridge/internal/simheap"
	"github.com/rrcbridge/rrcbridge/rawrefcount"
)

// Rounds is the number of major collections, each followed by the
// embedder's cleanup, that a scenario runs. Objects with modern finalizers
// need the second one.
const Rounds = 2

// Result is the outcome for one node.
type Result struct {
	Node  *Node
	Alive bool

	// Refcnt and WantRefcnt are the actual and expected references held by
	// foreign code, for surviving foreign objects.
	Refcnt     int64
	WantRefcnt int64

	// Problem is empty if the node met its expectations.
	Problem     string
	Explanation string
}

// OK reports whether the node met its expectations.
func (r Result) OK() bool { return r.Problem == "" }

func (r Result) String() string {
	if r.OK() {
		return fmt.Sprintf("%s: ok", r.Node.Name)
	}
	if r.Explanation == "" {
		return fmt.Sprintf("%s: %s", r.Node.Name, r.Problem)
	}
	return fmt.Sprintf("%s: %s (%s)", r.Node.Name, r.Problem, r.Explanation)
}

// Report is the outcome of one scenario run.
type Report struct {
	Scenario string
	Strategy rawrefcount.Strategy
	Results  []Result
	Cycles   []rawrefcount.CycleStats
}

// OK reports whether every node met its expectations.
func (r *Report) OK() bool {
	return len(r.Failures()) == 0
}

// Failures returns the results of nodes that missed their expectations.
func (r *Report) Failures() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.OK() {
			out = append(out, res)
		}
	}
	return out
}

func (r *Report) String() string {
	var sb strings.Builder
	status := "PASS"
	if !r.OK() {
		status = "FAIL"
	}
	fmt.Fprintf(&sb, "%s %s (%s)\n", status, r.Scenario, r.Strategy)
	for _, res := range r.Failures() {
		fmt.Fprintf(&sb, "  %s\n", res)
	}
	return sb.String()
}

type object struct {
	node *Node
	p    *simheap.Object
	r    *simheap.PyObject
}

type run struct {
	s           *Scenario
	w           *simheap.World
	objs        map[string]*object
	resurrected map[*simheap.PyObject]int64
}

// Run builds s with every object in the old generation, runs Rounds
// collections and compares the outcome with the expectations. Bridge
// invariant violations are returned as errors wrapping
// rawrefcount.ErrInvariant.
func Run(s *Scenario, cfg rawrefcount.Config) (rep *Report, err error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(error)
			if !ok || !errors.Is(e, rawrefcount.ErrInvariant) {
				panic(r)
			}
			rep, err = nil, fmt.Errorf("scenario %s: %w", s.Name, e)
		}
	}()

	ru := build(s, simheap.NewWorld(cfg))
	rep = &Report{Scenario: s.Name, Strategy: cfg.Strategy}
	for i := 0; i < Rounds; i++ {
		ru.w.Collect()
		rep.Cycles = append(rep.Cycles, ru.w.Bridge.LastCycle())
	}
	rep.Results = ru.check()
	return rep, nil
}

func build(s *Scenario, w *simheap.World) *run {
	ru := &run{
		s:           s,
		w:           w,
		objs:        make(map[string]*object, len(s.Nodes)),
		resurrected: make(map[*simheap.PyObject]int64),
	}
	hp, rt := w.Heap, w.Runtime

	for i, n := range s.Nodes {
		o := &object{node: n}
		if n.Managed() {
			o.p = hp.AllocOld(i)
			if n.Rooted {
				hp.PushRoot(o.p)
			}
		}
		if n.Foreign() {
			if n.NoGC {
				o.r = rt.NewAtomic(n.Name)
			} else {
				o.r = rt.NewObject(n.Name)
			}
			o.r.Finalizer = n.Finalizer
			for k := 0; k < n.ExtRefcnt; k++ {
				rt.Incref(o.r)
			}
		}
		if n.Kind == Border {
			w.Bridge.CreateLinkManaged(o.p.Addr(), o.r.Header, n.Light)
		}
		ru.objs[n.Name] = o
	}

	for _, n := range s.Nodes {
		if n.Resurrect == "" {
			continue
		}
		target := ru.objs[n.Resurrect].r
		ru.objs[n.Name].r.OnFinalize = func(*simheap.PyObject) {
			rt.Incref(target)
			ru.resurrected[target]++
		}
	}

	for _, e := range s.Edges {
		from, to := ru.objs[e.From], ru.objs[e.To]
		if s.ForeignEdge(e) {
			rt.AddRef(from.r, to.r)
		} else {
			hp.SetRef(from.p, to.p)
		}
	}
	return ru
}

func (ru *run) check() []Result {
	held := make(map[*simheap.PyObject]int64)
	for _, o := range ru.w.Runtime.Garbage {
		held[o]++
	}

	var (
		g        graph.Graph
		managed  map[*simheap.Object]graph.ObjID
		foreign  map[*simheap.PyObject]graph.ObjID
		keepers  map[graph.ObjID]graph.ObjID
		explains = func(o *object) string {
			if g == nil {
				g, managed, foreign = ru.w.Graph(ru.names())
				keepers = graph.Keepers(g)
			}
			id, ok := foreign[o.r]
			if !ok {
				id = managed[o.p]
			}
			paths := graph.PathsToRoots(g, id, 1)
			if len(paths) == 0 {
				return "unreachable from any root"
			}
			msg := "reachable: " + paths[0].Format(g)
			if k, ok := keepers[id]; ok && k != 0 && g.GetObject(k) != nil {
				msg += "; dominated by " + nameOf(g, k)
			}
			return msg
		}
	)

	results := make([]Result, 0, len(ru.s.Nodes))
	for _, n := range ru.s.Nodes {
		o := ru.objs[n.Name]
		res := Result{Node: n, Alive: true}
		pAlive := o.p == nil || o.p.Alive()
		rAlive := o.r == nil || o.r.Alive()
		res.Alive = pAlive && rAlive

		switch {
		case pAlive != rAlive:
			res.Problem = fmt.Sprintf("managed half alive=%v, foreign half alive=%v", pAlive, rAlive)
		case res.Alive && !n.Alive:
			res.Problem = "expected dead, survived"
			res.Explanation = explains(o)
		case !res.Alive && n.Alive:
			res.Problem = "expected alive, freed"
		case res.Alive && o.r != nil:
			res.Refcnt = ru.w.Bridge.ExternalRefcnt(o.r.Header)
			res.WantRefcnt = ru.wantRefcnt(n) + ru.resurrected[o.r] + held[o.r]
			if res.Refcnt != res.WantRefcnt {
				res.Problem = fmt.Sprintf("refcount %d, want %d", res.Refcnt, res.WantRefcnt)
			}
		}
		results = append(results, res)
	}
	return results
}

// wantRefcnt is the external count of n plus the references from nodes
// expected to survive.
func (ru *run) wantRefcnt(n *Node) int64 {
	want := int64(n.ExtRefcnt)
	for _, e := range ru.s.Edges {
		if e.To == n.Name && ru.s.ForeignEdge(e) && ru.s.Node(e.From).Alive {
			want++
		}
	}
	return want
}

func (ru *run) names() map[*simheap.Object]string {
	names := make(map[*simheap.Object]string, len(ru.objs))
	for _, o := range ru.objs {
		switch {
		case o.p == nil:
		case o.r == nil:
			names[o.p] = o.node.Name
		default:
			names[o.p] = o.node.Name + ".p"
		}
	}
	return names
}

func nameOf(g graph.Graph, id graph.ObjID) string {
	if obj := g.GetObject(id); obj != nil && obj.Name != "" {
		return obj.Name
	}
	return fmt.Sprintf("#%d", id)
}
