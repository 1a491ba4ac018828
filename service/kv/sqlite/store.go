// Package sqlite provides a kv.Store persisted in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/viant/ocap/service/kv"
	_ "modernc.org/sqlite"
)

// InMemory is the path of a private, non-persistent database.
const InMemory = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT NOT NULL PRIMARY KEY,
	value TEXT NOT NULL
)`

// Store implements kv.Store and kv.Querier over one SQLite table.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

var (
	_ kv.Store   = (*Store)(nil)
	_ kv.Querier = (*Store)(nil)
)

// New opens (creating if needed) the database at path.
func New(path string) (*Store, error) {
	if path == "" {
		path = InMemory
	}
	if path != InMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a second connection to ":memory:" would see a different database
	db.SetMaxOpenConns(1)
	if _, err = db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database location.
func (s *Store) Path() string {
	return s.path
}

// Get returns the value under key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	switch {
	case err == sql.ErrNoRows:
		return "", false
	case err != nil:
		kv.EngineFailure("get", key, err)
	}
	return value, true
}

// GetRequired returns the value under key or panics.
func (s *Store) GetRequired(key string) string {
	value, ok := s.Get(key)
	if !ok {
		kv.MissingKey(key)
	}
	return value
}

// Set stores value under key.
func (s *Store) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := set(s.db, key, value); err != nil {
		kv.EngineFailure("set", key, err)
	}
}

// Delete removes key.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		kv.EngineFailure("delete", key, err)
	}
}

// GetNextKey returns the smallest key greater than previous.
func (s *Store) GetNextKey(previous string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var key string
	err := s.db.QueryRow(`SELECT key FROM kv WHERE key > ? ORDER BY key LIMIT 1`, previous).Scan(&key)
	switch {
	case err == sql.ErrNoRows:
		return "", false
	case err != nil:
		kv.EngineFailure("getNextKey", previous, err)
	}
	return key, true
}

// Keys yields the keys starting with prefix.
func (s *Store) Keys(prefix string) iter.Seq[string] {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows *sql.Rows
	var err error
	if end := kv.PrefixEnd(prefix); end != "" {
		rows, err = s.db.Query(`SELECT key FROM kv WHERE key >= ? AND key < ? ORDER BY key`, prefix, end)
	} else {
		rows, err = s.db.Query(`SELECT key FROM kv WHERE key >= ? ORDER BY key`, prefix)
	}
	if err != nil {
		kv.EngineFailure("keys", prefix, err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		if err = rows.Scan(&key); err != nil {
			kv.EngineFailure("keys", prefix, err)
		}
		keys = append(keys, key)
	}
	if err = rows.Err(); err != nil {
		kv.EngineFailure("keys", prefix, err)
	}
	return slices.Values(keys)
}

// Batch applies sets and deletes in one transaction.
func (s *Store) Batch(sets []kv.Pair, deletes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		kv.EngineFailure("batch", "", err)
	}
	for _, pair := range sets {
		if err = set(tx, pair.Key, pair.Value); err != nil {
			_ = tx.Rollback()
			kv.EngineFailure("batch set", pair.Key, err)
		}
	}
	for _, key := range deletes {
		if _, err = tx.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
			_ = tx.Rollback()
			kv.EngineFailure("batch delete", key, err)
		}
	}
	if err = tx.Commit(); err != nil {
		kv.EngineFailure("batch commit", "", err)
	}
}

// Clear removes all keys.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM kv`); err != nil {
		kv.EngineFailure("clear", "", err)
	}
}

// Query executes an ad-hoc statement and returns its rows as column→text maps.
func (s *Store) Query(ctx context.Context, SQL string) ([]map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, SQL)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var result []map[string]string
	for rows.Next() {
		values := make([]sql.NullString, len(columns))
		dest := make([]interface{}, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err = rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(map[string]string, len(columns))
		for i, column := range columns {
			row[column] = values[i].String
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func set(db execer, key, value string) error {
	_, err := db.Exec(`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}
