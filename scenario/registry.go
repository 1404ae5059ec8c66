// ABOUTME: Registry for scenario file parsers
// ABOUTME: Manages parser plugins and selects the parser matching a file's format

package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	// ErrNoParser is returned when no parser can handle the scenario format
	ErrNoParser = errors.New("no parser found for scenario format")
)

// Parser reads one scenario format.
type Parser interface {
	// CanParse checks if this parser can handle the given input.
	// The reader is a preview: implementations should only look at
	// its beginning.
	CanParse(r io.Reader) bool

	// Parse reads a whole scenario. The reader is positioned at the start.
	Parse(r io.Reader) (*Scenario, error)
}

// parserRegistry holds registered parsers
type parserRegistry struct {
	mu      sync.RWMutex
	parsers []Parser
}

var registry = &parserRegistry{}

// Register adds a parser to the registry
func Register(p Parser) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.parsers = append(registry.parsers, p)
}

// Open reads a scenario with the first registered parser that recognizes
// its format, and validates it.
func Open(r io.Reader) (*Scenario, error) {
	detectBuf := make([]byte, 4096)
	n, err := io.ReadFull(r, detectBuf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}

	registry.mu.RLock()
	defer registry.mu.RUnlock()

	for _, parser := range registry.parsers {
		if !parser.CanParse(bytes.NewReader(detectBuf[:n])) {
			continue
		}
		s, err := parser.Parse(io.MultiReader(bytes.NewReader(detectBuf[:n]), r))
		if err != nil {
			return nil, err
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, ErrNoParser
}

// Load opens the scenario file at path. Scenarios without a name are named
// after the file.
func Load(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	s, err := Open(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return s, nil
}
