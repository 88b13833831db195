package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite persists rules to a SQLite database.
type SQLite struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLite opens (or creates) a rule database. The path is a file path or
// ":memory:".
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Every pooled connection to ":memory:" would be its own database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS rules (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			expression TEXT NOT NULL,
			description TEXT NOT NULL,
			revision INTEGER NOT NULL,
			create_time TEXT NOT NULL,
			update_time TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Create implements Store.
func (s *SQLite) Create(r Rule) (*Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if r.ID == "" {
		r.ID = NewID()
	}
	if _, err := s.get(r.ID); err == nil {
		return nil, alreadyExists(r.ID)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	r.Revision = 1
	r.CreateTime = now
	r.UpdateTime = now
	_, err := s.db.Exec(`
		INSERT INTO rules (id, name, expression, description, revision, create_time, update_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Name, r.Expression, r.Description, r.Revision, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert rule: %w", err)
	}
	return &r, nil
}

// Get implements Store.
func (s *SQLite) Get(id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	return s.get(id)
}

func (s *SQLite) get(id string) (*Rule, error) {
	row := s.db.QueryRow(`
		SELECT id, name, expression, description, revision, create_time, update_time
		FROM rules WHERE id = ?
	`, id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("load rule: %w", err)
	}
	return r, nil
}

// List implements Store.
func (s *SQLite) List() ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.Query(`
		SELECT id, name, expression, description, revision, create_time, update_time
		FROM rules
		ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	result := []*Rule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return result, nil
}

// Update implements Store.
func (s *SQLite) Update(r Rule) (*Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	res, err := s.db.Exec(`
		UPDATE rules
		SET name = ?, expression = ?, description = ?, revision = revision + 1, update_time = ?
		WHERE id = ?
	`, r.Name, r.Expression, r.Description, formatTime(time.Now().UTC()), r.ID)
	if err != nil {
		return nil, fmt.Errorf("update rule: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, notFound(r.ID)
	}
	return s.get(r.ID)
}

// Delete implements Store.
func (s *SQLite) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	res, err := s.db.Exec(`DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound(id)
	}
	return nil
}

// Close implements Store. Closing twice is a no-op.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (*Rule, error) {
	var r Rule
	var created, updated string
	if err := row.Scan(&r.ID, &r.Name, &r.Expression, &r.Description, &r.Revision, &created, &updated); err != nil {
		return nil, err
	}
	r.CreateTime, _ = time.Parse(time.RFC3339Nano, created)
	r.UpdateTime, _ = time.Parse(time.RFC3339Nano, updated)
	return &r, nil
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}
