// ABOUTME: Tests for bridge configuration and strategy parsing
// ABOUTME: Covers name round trips, defaults and construction options

package rawrefcount_test

import (
	"errors"
	"testing"

	"github.com/rrcbridge/rrcbridge/internal/simheap"
	"github.com/rrcbridge/rrcbridge/rawrefcount"
)

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    rawrefcount.Strategy
		wantErr bool
	}{
		{"simple", rawrefcount.StrategySimple, false},
		{"mark", rawrefcount.StrategyMark, false},
		{"incmark", rawrefcount.StrategyIncMark, false},
		{" IncMark ", rawrefcount.StrategyIncMark, false},
		{"", 0, true},
		{"generational", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := rawrefcount.ParseStrategy(tt.in)
			if tt.wantErr {
				if !errors.Is(err, rawrefcount.ErrUnknownStrategy) {
					t.Fatalf("err = %v, want ErrUnknownStrategy", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStrategyNamesRoundTrip(t *testing.T) {
	for _, s := range allStrategies {
		got, err := rawrefcount.ParseStrategy(s.String())
		if err != nil || got != s {
			t.Errorf("ParseStrategy(%q) = %v, %v", s.String(), got, err)
		}
	}
	if got := rawrefcount.Strategy(9).String(); got != "Strategy(9)" {
		t.Errorf("unknown strategy prints as %q", got)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := rawrefcount.DefaultConfig()
	if cfg.Strategy != rawrefcount.StrategyMark {
		t.Errorf("default strategy = %v", cfg.Strategy)
	}
	if cfg.IncrementLimit != rawrefcount.DefaultIncrementLimit {
		t.Errorf("default increment limit = %d", cfg.IncrementLimit)
	}
}

func TestNewHonoursConfig(t *testing.T) {
	cfg := rawrefcount.Config{Strategy: rawrefcount.StrategyIncMark, DisableCycles: true}
	w := simheap.NewWorld(cfg)
	if w.Bridge.Strategy() != rawrefcount.StrategyIncMark {
		t.Errorf("Strategy = %v", w.Bridge.Strategy())
	}
	if w.Bridge.CycleDetection() {
		t.Error("cycle detection should start disabled")
	}
	if w.Bridge.State() != rawrefcount.StateDefault {
		t.Errorf("initial state = %v", w.Bridge.State())
	}
}

func TestUnknownStrategyPanics(t *testing.T) {
	expectInvariant(t, "bad strategy", func() {
		simheap.NewWorld(rawrefcount.Config{Strategy: rawrefcount.Strategy(7)})
	})
}

func TestStateNames(t *testing.T) {
	tests := map[rawrefcount.State]string{
		rawrefcount.StateDefault:        "default",
		rawrefcount.StateMarking:        "marking",
		rawrefcount.StateGarbageMarking: "garbage-marking",
		rawrefcount.StateGarbage:        "garbage",
	}
	for st, want := range tests {
		if got := st.String(); got != want {
			t.Errorf("%d: got %q, want %q", st, got, want)
		}
	}
}
