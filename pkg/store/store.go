// Package store persists named expression rules.
package store

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("rule not found")
	ErrAlreadyExists = errors.New("rule already exists")
	ErrClosed        = errors.New("store closed")
)

// Rule is a stored expression.
type Rule struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Expression  string    `json:"expression"`
	Description string    `json:"description,omitempty"`
	Revision    int       `json:"revision"`
	CreateTime  time.Time `json:"createTime"`
	UpdateTime  time.Time `json:"updateTime"`
}

// Store is implemented by every rule backend. Returned rules are copies;
// mutating them does not affect the store.
type Store interface {
	// Create stores a new rule at revision 1. An empty ID is replaced with
	// a random UUID.
	Create(r Rule) (*Rule, error)
	Get(id string) (*Rule, error)
	// List returns all rules in creation order.
	List() ([]*Rule, error)
	// Update replaces name, expression and description and bumps the
	// revision.
	Update(r Rule) (*Rule, error)
	Delete(id string) error
	Close() error
}

// NewID returns a fresh rule ID.
func NewID() string {
	return uuid.NewString()
}

var idPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,127}$`)

// ValidID reports whether id is acceptable as a caller-chosen rule ID: a
// lowercase letter followed by up to 127 lowercase letters, digits, '_' or
// '-'. Such IDs are safe in URL paths.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

func notFound(id string) error {
	return fmt.Errorf("rule '%s': %w", id, ErrNotFound)
}

func alreadyExists(id string) error {
	return fmt.Errorf("rule '%s': %w", id, ErrAlreadyExists)
}

// Memory is a thread-safe in-memory Store.
type Memory struct {
	mu     sync.RWMutex
	rules  map[string]*Rule
	order  []string
	closed bool
}

// NewMemory creates a new empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		rules: make(map[string]*Rule),
	}
}

// Create implements Store.
func (s *Memory) Create(r Rule) (*Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if r.ID == "" {
		r.ID = NewID()
	}
	if _, exists := s.rules[r.ID]; exists {
		return nil, alreadyExists(r.ID)
	}

	// Stored strings must not alias caller buffers.
	r.ID = strings.Clone(r.ID)
	r.Name = strings.Clone(r.Name)
	r.Expression = strings.Clone(r.Expression)
	r.Description = strings.Clone(r.Description)

	now := time.Now().UTC()
	r.Revision = 1
	r.CreateTime = now
	r.UpdateTime = now
	s.rules[r.ID] = &r
	s.order = append(s.order, r.ID)

	out := r
	return &out, nil
}

// Get implements Store.
func (s *Memory) Get(id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	r, ok := s.rules[id]
	if !ok {
		return nil, notFound(id)
	}
	out := *r
	return &out, nil
}

// List implements Store.
func (s *Memory) List() ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	result := make([]*Rule, 0, len(s.order))
	for _, id := range s.order {
		r, ok := s.rules[id]
		if !ok {
			continue
		}
		out := *r
		result = append(result, &out)
	}
	return result, nil
}

// Update implements Store.
func (s *Memory) Update(r Rule) (*Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	cur, ok := s.rules[r.ID]
	if !ok {
		return nil, notFound(r.ID)
	}
	cur.Name = strings.Clone(r.Name)
	cur.Expression = strings.Clone(r.Expression)
	cur.Description = strings.Clone(r.Description)
	cur.Revision++
	cur.UpdateTime = time.Now().UTC()

	out := *cur
	return &out, nil
}

// Delete implements Store.
func (s *Memory) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, ok := s.rules[id]; !ok {
		return notFound(id)
	}
	delete(s.rules, id)
	for i, cur := range s.order {
		if cur == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Close implements Store.
func (s *Memory) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
