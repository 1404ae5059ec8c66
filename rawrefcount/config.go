// ABOUTME: Configuration of the refcount bridge and cycle finder strategy selection
// ABOUTME: Provides defaults and parsing of strategy names

package rawrefcount

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Strategy selects how major collections deal with foreign objects.
type Strategy uint8

const (
	// StrategySimple keeps every border object with external references
	// alive and never detects cycles.
	StrategySimple Strategy = iota

	// StrategyMark runs trial deletion over all foreign objects in one step.
	StrategyMark

	// StrategyIncMark runs trial deletion over a snapshot, spread over
	// several steps.
	StrategyIncMark
)

var strategyNames = map[Strategy]string{
	StrategySimple:  "simple",
	StrategyMark:    "mark",
	StrategyIncMark: "incmark",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Strategy(%d)", uint8(s))
}

// ParseStrategy maps "simple", "mark" or "incmark" to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for s, n := range strategyNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// TracerName is the instrumentation name of the default tracer.
const TracerName = "github.com/rrcbridge/rrcbridge/rawrefcount"

// Config holds the construction parameters of a Bridge.
type Config struct {
	// Strategy is fixed for the lifetime of the bridge.
	Strategy Strategy

	// IncrementLimit bounds the snapshot work done by one incremental
	// step. Zero means DefaultIncrementLimit.
	IncrementLimit int

	// DisableCycles starts the bridge with cycle detection turned off.
	DisableCycles bool

	// Debug verifies list consistency at every phase boundary.
	Debug bool

	// Logger receives debug events. Nil discards them.
	Logger *slog.Logger

	// Tracer records one span per collection phase. Nil uses the global
	// OpenTelemetry provider.
	Tracer trace.Tracer
}

// DefaultIncrementLimit is the snapshot work budget of one incremental step.
const DefaultIncrementLimit = 1024

// DefaultConfig returns the configuration used by New when fields are unset.
func DefaultConfig() Config {
	return Config{
		Strategy:       StrategyMark,
		IncrementLimit: DefaultIncrementLimit,
	}
}

func (c Config) withDefaults() Config {
	if c.IncrementLimit <= 0 {
		c.IncrementLimit = DefaultIncrementLimit
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.Tracer == nil {
		c.Tracer = otel.Tracer(TracerName)
	}
	return c
}
