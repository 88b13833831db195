// Package scope holds named data contexts that expressions read through
// property access ("context.property"). Stores chain to a parent, so a
// request can layer its own contexts over a shared base.
package scope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/lemonberrylabs/exprtree/pkg/types"
)

// Store is a thread-safe set of named contexts. Context and property names
// are case-insensitive. Lookups that miss in a child store fall back to its
// parent, property by property.
type Store struct {
	parent   *Store
	contexts map[string]*types.OrderedMap
	mu       sync.RWMutex
}

// New creates a new root store.
func New() *Store {
	return &Store{
		contexts: make(map[string]*types.OrderedMap),
	}
}

// Child creates a store that inherits from this one. Writes to the child
// never reach the parent.
func (s *Store) Child() *Store {
	return &Store{
		parent:   s,
		contexts: make(map[string]*types.OrderedMap),
	}
}

// Set sets one property, creating the context if needed.
func (s *Store) Set(context, property string, value types.Value) {
	key := strings.ToLower(context)
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.contexts[key]
	if !ok {
		m = types.NewOrderedMap()
		s.contexts[key] = m
	}
	m.Set(property, value)
}

// SetContext replaces a whole context in this store.
func (s *Store) SetContext(name string, props *types.OrderedMap) {
	if props == nil {
		props = types.NewOrderedMap()
	}
	s.mu.Lock()
	s.contexts[strings.ToLower(name)] = props.Clone()
	s.mu.Unlock()
}

// Get retrieves a property, searching up the store chain.
func (s *Store) Get(context, property string) (types.Value, bool) {
	key := strings.ToLower(context)
	s.mu.RLock()
	m, ok := s.contexts[key]
	var v types.Value
	if ok {
		v, ok = m.GetFold(property)
	}
	s.mu.RUnlock()
	if ok {
		return v, true
	}
	if s.parent != nil {
		return s.parent.Get(context, property)
	}
	return types.Null, false
}

// ResolveProperty implements expr.Resolver.
func (s *Store) ResolveProperty(contextName, propertyName string) (types.Value, bool) {
	return s.Get(contextName, propertyName)
}

// Exists reports whether a context exists in this store or any parent.
func (s *Store) Exists(context string) bool {
	s.mu.RLock()
	_, ok := s.contexts[strings.ToLower(context)]
	s.mu.RUnlock()
	if ok {
		return true
	}
	if s.parent != nil {
		return s.parent.Exists(context)
	}
	return false
}

// Names returns the sorted names of all visible contexts.
func (s *Store) Names() []string {
	seen := make(map[string]bool)
	for cur := s; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		for name := range cur.contexts {
			seen[name] = true
		}
		cur.mu.RUnlock()
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns every visible context as a map value, with child
// properties shadowing the parent's.
func (s *Store) Snapshot() types.Value {
	var chain []*Store
	for cur := s; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	out := types.NewOrderedMap()
	for _, name := range s.Names() {
		merged := types.NewOrderedMap()
		for i := len(chain) - 1; i >= 0; i-- {
			chain[i].mu.RLock()
			if m, ok := chain[i].contexts[name]; ok {
				for _, k := range m.Keys() {
					v, _ := m.Get(k)
					merged.Set(k, v)
				}
			}
			chain[i].mu.RUnlock()
		}
		out.Set(name, types.NewMap(merged))
	}
	return types.NewMap(out)
}

// LoadMap loads contexts from a decoded document of the form
// {context: {property: value}}.
func (s *Store) LoadMap(doc map[string]any) error {
	for name, raw := range doc {
		v := types.FromGo(raw)
		if v.Type() != types.TypeMap {
			return fmt.Errorf("context '%s' must be a mapping, got %s", name, v.Type())
		}
		s.SetContext(name, v.AsMap())
	}
	return nil
}

// LoadYAML loads contexts from a YAML document.
func (s *Store) LoadYAML(data []byte) error {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse contexts yaml: %w", err)
	}
	return s.LoadMap(doc)
}

// LoadJSON loads contexts from a JSON document. Integral numbers stay ints.
func (s *Store) LoadJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("parse contexts json: %w", err)
	}
	return s.LoadMap(doc)
}

// LoadFile loads contexts from a .yaml, .yml or .json file.
func (s *Store) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read contexts file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return s.LoadJSON(data)
	case ".yaml", ".yml":
		return s.LoadYAML(data)
	default:
		return fmt.Errorf("unsupported contexts file extension: %s", filepath.Ext(path))
	}
}

// ParseAssignment parses "context.property=value" as used on the command
// line. The value is decoded as YAML, so numbers, booleans and null keep
// their kinds and anything else is a string.
func ParseAssignment(s string) (context, property string, value types.Value, err error) {
	path, raw, ok := strings.Cut(s, "=")
	if !ok {
		return "", "", types.Null, fmt.Errorf("assignment %q: missing '='", s)
	}
	context, property, ok = strings.Cut(strings.TrimSpace(path), ".")
	if !ok || context == "" || property == "" {
		return "", "", types.Null, fmt.Errorf("assignment %q: want context.property=value", s)
	}
	var decoded any
	if err := yaml.Unmarshal([]byte(raw), &decoded); err != nil {
		return context, property, types.NewString(raw), nil
	}
	return context, property, types.FromGo(decoded), nil
}
