// ABOUTME: Graphviz DOT scenario parser built on gonum's DOT decoder
// ABOUTME: Node attributes carry the object type and expectations; edges are references

package scenario

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/multi"
)

// DOT parses scenarios written as Graphviz digraphs:
//
//	digraph border_cycle {
//	    graph [version="1.1"];
//	    a [type=B, alive=n];
//	    c [type=C, alive=n, ext_refcnt=0];
//	    a -> c -> a;
//	}
//
// Parallel edges and self loops are references like any other.
type DOT struct{}

// dotGraph is a multigraph remembering the order in which the decoder
// created nodes and lines.
type dotGraph struct {
	*multi.DirectedGraph
	id      string
	version string
	nodes   []*dotNode
	lines   []graph.Line
}

func (g *dotGraph) SetDOTID(id string) { g.id = id }

// DOTAttributeSetters receives graph-wide attributes. Node and edge
// defaults are ignored.
func (g *dotGraph) DOTAttributeSetters() (encoding.AttributeSetter, encoding.AttributeSetter, encoding.AttributeSetter) {
	return graphAttrs{g}, ignoreAttrs{}, ignoreAttrs{}
}

type graphAttrs struct{ g *dotGraph }

func (a graphAttrs) SetAttribute(attr encoding.Attribute) error {
	if attr.Key == "version" {
		a.g.version = unquote(attr.Value)
	}
	return nil
}

type ignoreAttrs struct{}

func (ignoreAttrs) SetAttribute(encoding.Attribute) error { return nil }

func (g *dotGraph) NewNode() graph.Node {
	n := &dotNode{Node: g.DirectedGraph.NewNode(), node: &Node{}}
	g.nodes = append(g.nodes, n)
	return n
}

func (g *dotGraph) SetLine(l graph.Line) {
	g.DirectedGraph.SetLine(l)
	g.lines = append(g.lines, l)
}

type dotNode struct {
	graph.Node
	node *Node
}

func (n *dotNode) SetDOTID(id string) { n.node.Name = id }

func (n *dotNode) SetAttribute(a encoding.Attribute) error {
	return n.node.setAttribute(a.Key, unquote(a.Value))
}

func unquote(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return v[1 : len(v)-1]
	}
	return v
}

// CanParse checks whether the input starts with a digraph declaration
func (p *DOT) CanParse(r io.Reader) bool {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "//") || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "strict ")
		return strings.HasPrefix(line, "digraph")
	}
	return false
}

// Parse reads a DOT scenario
func (p *DOT) Parse(r io.Reader) (*Scenario, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	g := &dotGraph{DirectedGraph: multi.NewDirectedGraph()}
	if err := dot.UnmarshalMulti(data, g); err != nil {
		return nil, fmt.Errorf("failed to decode DOT: %w", err)
	}

	s := &Scenario{Name: g.id, Version: g.version}
	for _, n := range g.nodes {
		s.Nodes = append(s.Nodes, n.node)
	}
	for _, l := range g.lines {
		s.Edges = append(s.Edges, Edge{
			From: l.From().(*dotNode).node.Name,
			To:   l.To().(*dotNode).node.Name,
		})
	}
	return s, nil
}

func init() {
	Register(&DOT{})
}
