package store

import (
	"fmt"
	"sync"

	"github.com/lemonberrylabs/exprtree/pkg/expr"
)

// InvalidExpressionError is returned when a rule's expression does not
// compile.
type InvalidExpressionError struct {
	Expression string
	Err        error
}

func (e *InvalidExpressionError) Error() string {
	return fmt.Sprintf("invalid expression %q: %v", e.Expression, e.Err)
}

func (e *InvalidExpressionError) Unwrap() error { return e.Err }

type compiledEntry struct {
	revision int
	expr     *expr.Expression
}

// Compiled wraps a Store, rejecting rules whose expressions do not compile
// and caching compiled expressions per rule revision.
type Compiled struct {
	Store
	opts []expr.Option

	mu    sync.RWMutex
	cache map[string]compiledEntry
}

// NewCompiled wraps s. opts are passed to every expr.Compile call.
func NewCompiled(s Store, opts ...expr.Option) *Compiled {
	return &Compiled{
		Store: s,
		opts:  opts,
		cache: make(map[string]compiledEntry),
	}
}

// Create validates the expression before storing the rule.
func (c *Compiled) Create(r Rule) (*Rule, error) {
	e, err := c.compile(r.Expression)
	if err != nil {
		return nil, err
	}
	created, err := c.Store.Create(r)
	if err != nil {
		return nil, err
	}
	c.put(created, e)
	return created, nil
}

// Update validates the expression before updating the rule.
func (c *Compiled) Update(r Rule) (*Rule, error) {
	e, err := c.compile(r.Expression)
	if err != nil {
		return nil, err
	}
	updated, err := c.Store.Update(r)
	if err != nil {
		return nil, err
	}
	c.put(updated, e)
	return updated, nil
}

// Delete removes the rule and its cached expression.
func (c *Compiled) Delete(id string) error {
	if err := c.Store.Delete(id); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.cache, id)
	c.mu.Unlock()
	return nil
}

// Expression returns the rule and its compiled expression, compiling and
// caching it when the cached revision is stale.
func (c *Compiled) Expression(id string) (*Rule, *expr.Expression, error) {
	r, err := c.Store.Get(id)
	if err != nil {
		return nil, nil, err
	}

	c.mu.RLock()
	entry, ok := c.cache[id]
	c.mu.RUnlock()
	if ok && entry.revision == r.Revision {
		return r, entry.expr, nil
	}

	e, err := c.compile(r.Expression)
	if err != nil {
		return nil, nil, err
	}
	c.put(r, e)
	return r, e, nil
}

func (c *Compiled) compile(source string) (*expr.Expression, error) {
	e, err := expr.Compile(source, c.opts...)
	if err != nil {
		return nil, &InvalidExpressionError{Expression: source, Err: err}
	}
	return e, nil
}

func (c *Compiled) put(r *Rule, e *expr.Expression) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.cache[r.ID]; ok && cur.revision > r.Revision {
		return
	}
	c.cache[r.ID] = compiledEntry{revision: r.Revision, expr: e}
}
