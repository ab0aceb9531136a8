// Package relmap holds the relationship maps that describe one level transition
// and the tab-separated data and relationship files exchanged with the
// integration tool.
package relmap

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Map relates parent (higher level) keys to child (lower level) keys.
// A child may have several parents; the zero value is an empty map.
type Map struct {
	Header   string
	children map[string]map[string]struct{}
	parents  map[string]map[string]struct{}
}

// New returns an empty map with the given file header description.
func New(header string) *Map {
	return &Map{
		Header:   header,
		children: make(map[string]map[string]struct{}),
		parents:  make(map[string]map[string]struct{}),
	}
}

// Add records that child belongs to parent. Adding a pair twice has no effect.
func (m *Map) Add(parent, child string) {
	if m.children == nil {
		m.children = make(map[string]map[string]struct{})
		m.parents = make(map[string]map[string]struct{})
	}
	if m.children[parent] == nil {
		m.children[parent] = make(map[string]struct{})
	}
	m.children[parent][child] = struct{}{}
	if m.parents[child] == nil {
		m.parents[child] = make(map[string]struct{})
	}
	m.parents[child][parent] = struct{}{}
}

// Len returns the number of distinct parent keys.
func (m *Map) Len() int {
	return len(m.children)
}

// Pairs returns the number of parent/child rows.
func (m *Map) Pairs() int {
	n := 0
	for _, c := range m.children {
		n += len(c)
	}
	return n
}

// Parents returns the parent keys in lexicographic order.
func (m *Map) Parents() []string {
	return sortedKeys(m.children)
}

// Children returns the children of parent in lexicographic order.
func (m *Map) Children(parent string) []string {
	return sortedKeys(m.children[parent])
}

// ChildKeys returns every child key in lexicographic order.
func (m *Map) ChildKeys() []string {
	return sortedKeys(m.parents)
}

// HasChild reports whether key appears on the child side.
func (m *Map) HasChild(key string) bool {
	_, ok := m.parents[key]
	return ok
}

// ParentsOf returns the parents of child in lexicographic order.
func (m *Map) ParentsOf(child string) []string {
	return sortedKeys(m.parents[child])
}

// IsIdentity reports whether every parent has exactly one child equal to itself,
// i.e. the transition would not aggregate anything.
func (m *Map) IsIdentity() bool {
	for p, c := range m.children {
		if len(c) != 1 {
			return false
		}
		if _, ok := c[p]; !ok {
			return false
		}
	}
	return true
}

// Merge returns a new map holding the pairs of both maps. The header of m is kept.
func (m *Map) Merge(other *Map) *Map {
	out := New(m.Header)
	for _, src := range []*Map{m, other} {
		if src == nil {
			continue
		}
		for p, cs := range src.children {
			for c := range cs {
				out.Add(p, c)
			}
		}
	}
	return out
}

// Restrict returns the sub-map whose children satisfy keep.
func (m *Map) Restrict(keep func(child string) bool) *Map {
	out := New(m.Header)
	for p, cs := range m.children {
		for c := range cs {
			if keep(c) {
				out.Add(p, c)
			}
		}
	}
	return out
}

// Write serializes the map: a '#' header line then one parent\tchild row per
// pair, parents sorted and children sorted within each parent.
func (m *Map) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	header := m.Header
	if header == "" {
		header = "idsup\tidinf"
	}
	if _, err := fmt.Fprintf(bw, "#%s\n", header); err != nil {
		return err
	}
	for _, p := range m.Parents() {
		for _, c := range m.Children(p) {
			if _, err := fmt.Fprintf(bw, "%s\t%s\n", p, c); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// WriteFile writes the map to path.
func (m *Map) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create relationship file %s: %w", path, err)
	}
	if err := m.Write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write relationship file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close relationship file %s: %w", path, err)
	}
	return nil
}

// Read parses a relationship file.
func Read(r io.Reader) (*Map, error) {
	m := New("")
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if lineNum == 1 {
				m.Header = strings.TrimPrefix(line, "#")
			}
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) < 2 {
			return nil, fmt.Errorf("line %d: expected parent and child separated by a tab", lineNum)
		}
		m.Add(parts[0], parts[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading relationship file: %w", err)
	}
	return m, nil
}

// ReadFile parses the relationship file at path.
func ReadFile(path string) (*Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open relationship file: %w", err)
	}
	defer f.Close()
	m, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func sortedKeys[V any](set map[string]V) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
