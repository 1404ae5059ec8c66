// ABOUTME: Randomized tests comparing collection results with graph reachability
// ABOUTME: Random mixed object graphs are built, collected and checked object by object

package rawrefcount_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/rrcbridge/rrcbridge/graph"
	"github.com/rrcbridge/rrcbridge/internal/simheap"
	"github.com/rrcbridge/rrcbridge/rawrefcount"
)

type randomWorld struct {
	w       *simheap.World
	managed []*simheap.Object
	foreign []*simheap.PyObject // containers
	atoms   []*simheap.PyObject // linked, without references
	held    []*simheap.PyObject
}

// buildRandom creates a world of managed objects, foreign containers, linked
// pairs and linked atoms with random references and roots.
func buildRandom(rng *rand.Rand, cfg rawrefcount.Config) *randomWorld {
	rw := &randomWorld{w: simheap.NewWorld(cfg)}
	w := rw.w
	n := 4 + rng.Intn(16)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("o%d", i)
		switch rng.Intn(4) {
		case 0:
			rw.managed = append(rw.managed, w.Heap.AllocOld(i))
		case 1:
			rw.foreign = append(rw.foreign, w.Runtime.NewObject(name))
		case 2:
			p, r := w.NewPair(name, i, rng.Intn(2) == 0, true)
			rw.managed = append(rw.managed, p)
			rw.foreign = append(rw.foreign, r)
		case 3:
			p := w.Heap.AllocOld(i)
			a := w.Runtime.NewAtomic(name)
			w.Bridge.CreateLinkManaged(p.Addr(), a.Header, rng.Intn(2) == 0)
			rw.managed = append(rw.managed, p)
			rw.atoms = append(rw.atoms, a)
		}
	}

	targets := append(append([]*simheap.PyObject(nil), rw.foreign...), rw.atoms...)
	for e := rng.Intn(2*n + 1); e > 0; e-- {
		if rng.Intn(2) == 0 && len(rw.managed) > 0 {
			src := rw.managed[rng.Intn(len(rw.managed))]
			w.Heap.SetRef(src, rw.managed[rng.Intn(len(rw.managed))])
		} else if len(rw.foreign) > 0 {
			src := rw.foreign[rng.Intn(len(rw.foreign))]
			w.Runtime.AddRef(src, targets[rng.Intn(len(targets))])
		}
	}

	for _, o := range rw.managed {
		if rng.Intn(6) == 0 {
			w.Heap.PushRoot(o)
		}
	}
	for _, o := range targets {
		if rng.Intn(6) == 0 {
			w.Runtime.Incref(o)
			rw.held = append(rw.held, o)
		}
	}
	return rw
}

type expectation struct {
	managed map[*simheap.Object]bool
	foreign map[*simheap.PyObject]bool
}

func (rw *randomWorld) expect() expectation {
	g, mids, fids := rw.w.Graph(nil)
	live := graph.Reachable(g)
	exp := expectation{
		managed: make(map[*simheap.Object]bool),
		foreign: make(map[*simheap.PyObject]bool),
	}
	for o, id := range mids {
		exp.managed[o] = live[id]
	}
	for o, id := range fids {
		exp.foreign[o] = live[id]
	}
	return exp
}

func (rw *randomWorld) check(t *testing.T, exp expectation, exact bool) {
	t.Helper()
	for o, want := range exp.managed {
		if want && !o.Alive() {
			t.Errorf("reachable managed %v was freed", o)
		}
		if exact && !want && o.Alive() {
			t.Errorf("unreachable managed %v survived", o)
		}
	}
	for o, want := range exp.foreign {
		if want && !o.Alive() {
			t.Errorf("reachable foreign %v was freed", o)
		}
		if exact && !want && o.Alive() {
			t.Errorf("unreachable foreign %v survived", o)
		}
	}
	if err := rw.w.Bridge.CheckConsistency(); err != nil {
		t.Error(err)
	}
}

// release drops every root and held reference and collects.
func (rw *randomWorld) release() {
	for len(rw.w.Heap.Roots()) > 0 {
		rw.w.Heap.PopRoot()
	}
	for _, o := range rw.held {
		rw.w.Runtime.Decref(o)
	}
	rw.held = nil
	rw.w.Collect()
}

func TestRandomGraphsMatchReachability(t *testing.T) {
	for _, s := range cycleStrategies {
		t.Run(s.String(), func(t *testing.T) {
			for seed := int64(1); seed <= 200; seed++ {
				rng := rand.New(rand.NewSource(seed))
				cfg := rawrefcount.DefaultConfig()
				cfg.Strategy = s
				cfg.Debug = true
				cfg.IncrementLimit = 1 + rng.Intn(4)
				rw := buildRandom(rng, cfg)
				exp := rw.expect()

				rw.w.Collect()
				rw.check(t, exp, true)
				if s == rawrefcount.StrategyIncMark && !rw.w.Bridge.LastCycle().Consistent {
					t.Errorf("seed %d: undisturbed snapshot reported inconsistent", seed)
				}

				rw.w.Collect()
				rw.check(t, exp, true)

				rw.release()
				for o := range exp.foreign {
					if o.Alive() {
						t.Errorf("seed %d: %v survived after everything was released", seed, o)
					}
				}
				if err := rw.w.Bridge.CheckNoState(); err != nil {
					t.Errorf("seed %d: %v", seed, err)
				}
				if t.Failed() {
					t.Fatalf("seed %d failed", seed)
				}
			}
		})
	}
}

func TestRandomGraphsSimpleIsConservative(t *testing.T) {
	for seed := int64(1); seed <= 200; seed++ {
		rng := rand.New(rand.NewSource(seed))
		cfg := rawrefcount.DefaultConfig()
		cfg.Strategy = rawrefcount.StrategySimple
		cfg.Debug = true
		rw := buildRandom(rng, cfg)
		exp := rw.expect()

		rw.w.Collect()
		rw.check(t, exp, false)
		if t.Failed() {
			t.Fatalf("seed %d failed", seed)
		}
	}
}

func TestRandomGraphsStrategiesAgree(t *testing.T) {
	for seed := int64(1); seed <= 100; seed++ {
		results := make([][]bool, 0, len(cycleStrategies))
		for _, s := range cycleStrategies {
			cfg := rawrefcount.DefaultConfig()
			cfg.Strategy = s
			rw := buildRandom(rand.New(rand.NewSource(seed)), cfg)
			rw.w.Collect()
			var alive []bool
			for _, o := range rw.managed {
				alive = append(alive, o.Alive())
			}
			for _, o := range rw.foreign {
				alive = append(alive, o.Alive())
			}
			for _, o := range rw.atoms {
				alive = append(alive, o.Alive())
			}
			results = append(results, alive)
		}
		for i := range results[0] {
			if results[0][i] != results[1][i] {
				t.Fatalf("seed %d: object %d alive=%v under mark, %v under incmark", seed, i, results[0][i], results[1][i])
			}
		}
	}
}
