// ABOUTME: JSON scenario parser
// ABOUTME: Reads nodes with typed attributes and an edge list

package scenario

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// JSON parses scenarios of the form
//
//	{"name": "...", "version": "1.1", "nodes": [{"name": "a", "type": "C", "alive": true}], "edges": [{"from": "a", "to": "a"}]}
type JSON struct{}

type jsonScenario struct {
	Name    string     `json:"name"`
	Version string     `json:"version"`
	Nodes   []jsonNode `json:"nodes"`
	Edges   []Edge     `json:"edges"`
}

type jsonNode struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Alive     bool   `json:"alive"`
	Rooted    bool   `json:"rooted"`
	ExtRefcnt int    `json:"ext_refcnt"`
	Finalizer string `json:"finalizer"`
	Resurrect string `json:"resurrect"`
	Light     bool   `json:"light"`
	GC        *bool  `json:"gc"`
}

// CanParse checks if the input looks like a JSON scenario
func (p *JSON) CanParse(r io.Reader) bool {
	buf, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return false
	}
	buf = bytes.TrimSpace(buf)
	return len(buf) > 0 && buf[0] == '{' && bytes.Contains(buf, []byte(`"nodes"`))
}

// Parse reads a JSON scenario
func (p *JSON) Parse(r io.Reader) (*Scenario, error) {
	var in jsonScenario
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}

	s := &Scenario{Name: in.Name, Version: in.Version, Edges: in.Edges}
	for i, jn := range in.Nodes {
		if jn.Name == "" {
			return nil, fmt.Errorf("%w: node at index %d missing name", ErrInvalid, i)
		}
		kind, err := ParseKind(jn.Type)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", jn.Name, err)
		}
		fin, err := parseFinalizer(jn.Finalizer)
		if err != nil {
			return nil, fmt.Errorf("%w: node %q finalizer %q", ErrInvalid, jn.Name, jn.Finalizer)
		}
		s.Nodes = append(s.Nodes, &Node{
			Name:      jn.Name,
			Kind:      kind,
			Alive:     jn.Alive,
			Rooted:    jn.Rooted,
			ExtRefcnt: jn.ExtRefcnt,
			Finalizer: fin,
			Resurrect: jn.Resurrect,
			Light:     jn.Light,
			NoGC:      jn.GC != nil && !*jn.GC,
		})
	}
	return s, nil
}

func init() {
	Register(&JSON{})
}
