// ABOUTME: Integration tests for the complete bridge system
// ABOUTME: Loads a scenario file, runs it under every strategy and checks the explanations

package rrcbridge_test

import (
	"strings"
	"testing"

	"github.com/rrcbridge/rrcbridge/rawrefcount"
	"github.com/rrcbridge/rrcbridge/scenario"
)

func TestEndToEndScenario(t *testing.T) {
	s, err := scenario.Load("scenario/testdata/managed_through_foreign.dot")
	if err != nil {
		t.Fatalf("Failed to load scenario: %v", err)
	}
	if s.Name != "managed_through_foreign" || len(s.Nodes) != 7 {
		t.Fatalf("scenario = %s with %d nodes", s.Name, len(s.Nodes))
	}

	tests := []struct {
		strategy rawrefcount.Strategy
		leaked   []string
	}{
		{rawrefcount.StrategyMark, nil},
		{rawrefcount.StrategyIncMark, nil},
		// without cycle detection the b3/c3 cycle is never freed
		{rawrefcount.StrategySimple, []string{"b3", "c3"}},
	}
	for _, tt := range tests {
		t.Run(tt.strategy.String(), func(t *testing.T) {
			cfg := rawrefcount.DefaultConfig()
			cfg.Strategy = tt.strategy
			cfg.Debug = true

			rep, err := scenario.Run(s, cfg)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			fails := rep.Failures()
			if len(fails) != len(tt.leaked) {
				t.Fatalf("failures:\n%s", rep)
			}
			for i, res := range fails {
				if res.Node.Name != tt.leaked[i] {
					t.Errorf("failure %d is %s, want %s", i, res.Node.Name, tt.leaked[i])
				}
				if res.Problem != "expected dead, survived" || res.Explanation != "unreachable from any root" {
					t.Errorf("%s", res)
				}
			}
			if len(tt.leaked) > 0 && !strings.HasPrefix(rep.String(), "FAIL managed_through_foreign (simple)") {
				t.Errorf("report = %q", rep.String())
			}
		})
	}
}

func TestScenarioFormatsAgree(t *testing.T) {
	for _, path := range []string{
		"scenario/testdata/modern_finalizer.dot",
		"scenario/testdata/finalizer_isolate.json",
	} {
		s, err := scenario.Load(path)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		rep, err := scenario.Run(s, rawrefcount.DefaultConfig())
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		if !rep.OK() {
			t.Errorf("%s", rep)
		}
	}
}
