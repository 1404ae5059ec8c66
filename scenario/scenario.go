// ABOUTME: Scenario model: mixed managed/foreign object graphs with expected liveness
// ABOUTME: Node kinds, attributes and structural validation shared by all parsers

// Package scenario describes small object graphs spanning the managed heap
// and the foreign runtime, together with the liveness every object should
// have after collection, and runs them against the refcount bridge.
package scenario

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	semver "github.com/Masterminds/semver/v3"

	"github.com/rrcbridge/rrcbridge/rawrefcount"
)

// FormatVersion is the scenario format written by this package. Files may
// declare the version they use; any 1.x version is accepted.
const FormatVersion = "1.1"

var supportedFormats = semver.MustParse(FormatVersion)

var (
	// ErrInvalid is returned for scenarios that cannot be built.
	ErrInvalid = errors.New("invalid scenario")
)

// Kind says on which side of the bridge a node lives.
type Kind uint8

const (
	// Foreign nodes exist only in the refcounted runtime.
	Foreign Kind = iota + 1
	// Managed nodes exist only in the tracing heap.
	Managed
	// Border nodes are a managed mirror linked to a foreign object.
	Border
)

func (k Kind) String() string {
	switch k {
	case Foreign:
		return "C"
	case Managed:
		return "P"
	case Border:
		return "B"
	}
	return "?"
}

// ParseKind accepts the single letter node types C, P and B.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "C":
		return Foreign, nil
	case "P":
		return Managed, nil
	case "B":
		return Border, nil
	}
	return 0, fmt.Errorf("%w: unknown node type %q", ErrInvalid, s)
}

// Node is one object of a scenario.
type Node struct {
	Name string
	Kind Kind

	// Alive is the expected liveness after the scenario ran.
	Alive bool

	Rooted    bool
	ExtRefcnt int
	Finalizer rawrefcount.FinalizerKind

	// Resurrect names the node the finalizer stores a new reference to.
	Resurrect string

	// Light links a border node lightly.
	Light bool

	// NoGC creates the foreign object as one that holds no references.
	NoGC bool
}

// Foreign reports whether n has a foreign object.
func (n *Node) Foreign() bool { return n.Kind == Foreign || n.Kind == Border }

// Managed reports whether n has a managed object.
func (n *Node) Managed() bool { return n.Kind == Managed || n.Kind == Border }

// Edge is a reference from one node to another. It is a foreign reference
// if either end is a foreign-only node and a managed field otherwise.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Scenario is a complete object graph with expectations.
type Scenario struct {
	Name string
	// Version is the declared format version, empty if none was given.
	Version string
	Nodes   []*Node
	Edges   []Edge
}

// Node returns the node called name, or nil.
func (s *Scenario) Node(name string) *Node {
	for _, n := range s.Nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// ForeignEdge reports whether e is a counted foreign reference.
func (s *Scenario) ForeignEdge(e Edge) bool {
	return s.Node(e.From).Kind == Foreign || s.Node(e.To).Kind == Foreign
}

// Validate checks that s can be built.
func (s *Scenario) Validate() error {
	if err := checkVersion(s.Version); err != nil {
		return err
	}
	seen := make(map[string]bool, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.Name == "" {
			return fmt.Errorf("%w: node without a name", ErrInvalid)
		}
		if seen[n.Name] {
			return fmt.Errorf("%w: duplicate node %q", ErrInvalid, n.Name)
		}
		seen[n.Name] = true
		if n.Kind < Foreign || n.Kind > Border {
			return fmt.Errorf("%w: node %q has no type", ErrInvalid, n.Name)
		}
		if !n.Foreign() && (n.ExtRefcnt != 0 || n.Finalizer != rawrefcount.FinalizerNone || n.NoGC) {
			return fmt.Errorf("%w: managed node %q has foreign attributes", ErrInvalid, n.Name)
		}
		if n.Kind == Foreign && (n.Rooted || n.Light) {
			return fmt.Errorf("%w: foreign node %q has managed attributes", ErrInvalid, n.Name)
		}
		if n.ExtRefcnt < 0 {
			return fmt.Errorf("%w: node %q has a negative refcount", ErrInvalid, n.Name)
		}
	}
	for _, n := range s.Nodes {
		if n.Resurrect == "" {
			continue
		}
		if n.Finalizer != rawrefcount.FinalizerModern {
			return fmt.Errorf("%w: node %q resurrects without a modern finalizer", ErrInvalid, n.Name)
		}
		if t := s.Node(n.Resurrect); t == nil || !t.Foreign() {
			return fmt.Errorf("%w: node %q resurrects unknown foreign node %q", ErrInvalid, n.Name, n.Resurrect)
		}
	}
	for _, e := range s.Edges {
		from, to := s.Node(e.From), s.Node(e.To)
		if from == nil || to == nil {
			return fmt.Errorf("%w: edge %s -> %s references an unknown node", ErrInvalid, e.From, e.To)
		}
		if !s.ForeignEdge(e) {
			continue
		}
		if !from.Foreign() || !to.Foreign() {
			return fmt.Errorf("%w: edge %s -> %s crosses the border without a link", ErrInvalid, e.From, e.To)
		}
		if from.NoGC {
			return fmt.Errorf("%w: node %q holds no references", ErrInvalid, e.From)
		}
	}
	return nil
}

// checkVersion accepts an empty version and any version with the major
// version of FormatVersion that is not newer than it.
func checkVersion(v string) error {
	if v == "" {
		return nil
	}
	sv, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("%w: format version %q: %v", ErrInvalid, v, err)
	}
	if sv.Major() != supportedFormats.Major() || sv.GreaterThan(supportedFormats) {
		return fmt.Errorf("%w: format version %s is not supported, want 1.x up to %s", ErrInvalid, sv, FormatVersion)
	}
	return nil
}

// setAttribute applies a textual attribute to n. Unknown keys such as
// Graphviz styling are ignored.
func (n *Node) setAttribute(key, value string) error {
	var err error
	switch key {
	case "type":
		n.Kind, err = ParseKind(value)
	case "alive":
		n.Alive, err = parseFlag(value)
	case "rooted":
		n.Rooted, err = parseFlag(value)
	case "light":
		n.Light, err = parseFlag(value)
	case "gc":
		var gc bool
		gc, err = parseFlag(value)
		n.NoGC = !gc
	case "ext_refcnt":
		n.ExtRefcnt, err = strconv.Atoi(value)
	case "finalizer":
		n.Finalizer, err = parseFinalizer(value)
	case "resurrect":
		n.Resurrect = value
	}
	if err != nil {
		return fmt.Errorf("%w: node %q attribute %s=%q: %v", ErrInvalid, n.Name, key, value, err)
	}
	return nil
}

func parseFlag(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "y", "yes", "true", "1":
		return true, nil
	case "n", "no", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("not a flag")
}

func parseFinalizer(v string) (rawrefcount.FinalizerKind, error) {
	switch strings.ToLower(v) {
	case "", "none":
		return rawrefcount.FinalizerNone, nil
	case "modern":
		return rawrefcount.FinalizerModern, nil
	case "legacy":
		return rawrefcount.FinalizerLegacy, nil
	}
	return 0, fmt.Errorf("unknown finalizer")
}
