package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemonberrylabs/exprtree/pkg/expr"
	"github.com/lemonberrylabs/exprtree/pkg/types"
)

// backends runs fn against every Store implementation.
func backends(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		s := NewMemory()
		defer s.Close()
		fn(t, s)
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := NewSQLite(filepath.Join(t.TempDir(), "rules.db"))
		require.NoError(t, err)
		defer s.Close()
		fn(t, s)
	})
}

func TestStoreCRUD(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		created, err := s.Create(Rule{ID: "discount", Name: "Discount", Expression: "order.total -gt 100"})
		require.NoError(t, err)
		assert.Equal(t, 1, created.Revision)
		assert.False(t, created.CreateTime.IsZero())

		got, err := s.Get("discount")
		require.NoError(t, err)
		assert.Equal(t, "order.total -gt 100", got.Expression)
		assert.Equal(t, "Discount", got.Name)

		_, err = s.Create(Rule{ID: "discount", Expression: "1"})
		assert.True(t, errors.Is(err, ErrAlreadyExists))

		updated, err := s.Update(Rule{ID: "discount", Name: "Discount", Expression: "order.total -gt 200", Description: "raised"})
		require.NoError(t, err)
		assert.Equal(t, 2, updated.Revision)
		assert.Equal(t, "raised", updated.Description)
		assert.True(t, updated.CreateTime.Equal(created.CreateTime))

		require.NoError(t, s.Delete("discount"))
		_, err = s.Get("discount")
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.True(t, errors.Is(s.Delete("discount"), ErrNotFound))
		_, err = s.Update(Rule{ID: "discount", Expression: "1"})
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestStoreGeneratesIDs(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		a, err := s.Create(Rule{Expression: "1"})
		require.NoError(t, err)
		b, err := s.Create(Rule{Expression: "2"})
		require.NoError(t, err)
		assert.NotEmpty(t, a.ID)
		assert.NotEqual(t, a.ID, b.ID)

		rules, err := s.List()
		require.NoError(t, err)
		require.Len(t, rules, 2)
		assert.Equal(t, a.ID, rules[0].ID)
		assert.Equal(t, b.ID, rules[1].ID)
	})
}

func TestStoreReturnsCopies(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		r, err := s.Create(Rule{ID: "x", Expression: "1"})
		require.NoError(t, err)
		r.Expression = "changed"

		got, err := s.Get("x")
		require.NoError(t, err)
		assert.Equal(t, "1", got.Expression)
	})
}

func TestMemoryDoesNotAliasCallerStrings(t *testing.T) {
	s := NewMemory()
	buf := []byte("alias-one")
	id := unsafe.String(&buf[0], len(buf))

	_, err := s.Create(Rule{ID: id, Expression: "1"})
	require.NoError(t, err)
	copy(buf, "alias-two")

	got, err := s.Get("alias-one")
	require.NoError(t, err)
	assert.Equal(t, "alias-one", got.ID)
	_, err = s.Get("alias-two")
	assert.ErrorIs(t, err, ErrNotFound)

	rules, err := s.List()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "alias-one", rules[0].ID)
}

func TestMemoryListSkipsMissingEntries(t *testing.T) {
	s := NewMemory()
	_, err := s.Create(Rule{ID: "kept", Expression: "1"})
	require.NoError(t, err)

	s.mu.Lock()
	s.order = append(s.order, "stale")
	s.mu.Unlock()

	rules, err := s.List()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "kept", rules[0].ID)
}

func TestValidID(t *testing.T) {
	for _, id := range []string{"a", "big-order", "with_tax", "r2d2", "a" + strings.Repeat("b", 127)} {
		assert.True(t, ValidID(id), id)
	}
	for _, id := range []string{"", "Big", "1st", "-x", "a/b", "a.b", "a b", "a" + strings.Repeat("b", 128)} {
		assert.False(t, ValidID(id), id)
	}
}

func TestStoreClosed(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		require.NoError(t, s.Close())
		require.NoError(t, s.Close())

		_, err := s.Get("x")
		assert.ErrorIs(t, err, ErrClosed)
		_, err = s.Create(Rule{Expression: "1"})
		assert.ErrorIs(t, err, ErrClosed)
		_, err = s.List()
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestSQLitePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.db")

	s1, err := NewSQLite(path)
	require.NoError(t, err)
	_, err = s1.Create(Rule{ID: "keep", Expression: "1 + 2"})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := NewSQLite(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get("keep")
	require.NoError(t, err)
	assert.Equal(t, "1 + 2", got.Expression)
}

func TestSQLiteInvalidPath(t *testing.T) {
	_, err := NewSQLite("/nonexistent/path/rules.db")
	assert.Error(t, err)
}

func TestStoreConcurrent(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("rule-%d", i)
				_, _ = s.Create(Rule{ID: id, Expression: "1"})
				_, _ = s.Get(id)
				_, _ = s.Update(Rule{ID: id, Expression: "2"})
				_, _ = s.List()
			}(i)
		}
		wg.Wait()

		rules, err := s.List()
		require.NoError(t, err)
		assert.Len(t, rules, 10)
	})
}

func TestCompiledRejectsInvalidExpressions(t *testing.T) {
	c := NewCompiled(NewMemory())

	_, err := c.Create(Rule{ID: "bad", Expression: "(1 + 2"})
	var ie *InvalidExpressionError
	require.ErrorAs(t, err, &ie)
	var mp *expr.MismatchedParenthesesError
	assert.ErrorAs(t, err, &mp)

	_, err = c.Get("bad")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Create(Rule{ID: "good", Expression: "1 + 2"})
	require.NoError(t, err)
	_, err = c.Update(Rule{ID: "good", Expression: "pow(1)"})
	assert.ErrorAs(t, err, &ie)

	got, err := c.Get("good")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Revision)
}

func TestCompiledCachesPerRevision(t *testing.T) {
	c := NewCompiled(NewMemory())

	_, err := c.Create(Rule{ID: "r", Expression: "1 + 2"})
	require.NoError(t, err)

	_, e1, err := c.Expression("r")
	require.NoError(t, err)
	_, again, err := c.Expression("r")
	require.NoError(t, err)
	assert.Same(t, e1, again)

	v, err := e1.Eval(nil)
	require.NoError(t, err)
	assert.True(t, v.Equal(types.NewInt(3)))

	_, err = c.Update(Rule{ID: "r", Expression: "2 * 5"})
	require.NoError(t, err)
	r, e2, err := c.Expression("r")
	require.NoError(t, err)
	assert.Equal(t, 2, r.Revision)
	assert.NotSame(t, e1, e2)
	v, err = e2.Eval(nil)
	require.NoError(t, err)
	assert.True(t, v.Equal(types.NewInt(10)))

	require.NoError(t, c.Delete("r"))
	_, _, err = c.Expression("r")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompiledPicksUpOutOfBandWrites(t *testing.T) {
	base := NewMemory()
	c := NewCompiled(base)

	_, err := c.Create(Rule{ID: "r", Expression: "1"})
	require.NoError(t, err)
	_, err = base.Update(Rule{ID: "r", Expression: "41 + 1"})
	require.NoError(t, err)

	_, e, err := c.Expression("r")
	require.NoError(t, err)
	v, err := e.Eval(nil)
	require.NoError(t, err)
	assert.True(t, v.Equal(types.NewInt(42)))
}
