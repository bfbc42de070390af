// Package duckdb stores exported journal entries in a DuckDB database for
// offline analysis.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tinytelemetry/journald-query/internal/duckdb/migrate"
)

// DefaultQueryTimeout bounds every statement the store runs.
const DefaultQueryTimeout = 30 * time.Second

// Store is a DuckDB database holding journal entries.
type Store struct {
	db           *sql.DB
	mu           sync.RWMutex
	path         string
	QueryTimeout time.Duration
}

// Open opens or creates the database at path and applies pending
// migrations. An empty path opens an in-memory database.
func Open(path string, queryTimeout time.Duration) (*Store, error) {
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("duckdb: mkdir: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("duckdb: open: %w", err)
	}
	if err := migrate.NewRunner(db).Run(); err != nil {
		db.Close()
		return nil, err
	}

	if queryTimeout <= 0 {
		queryTimeout = DefaultQueryTimeout
	}
	return &Store{db: db, path: path, QueryTimeout: queryTimeout}, nil
}

// Path returns the database file, or "" for an in-memory store.
func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.QueryTimeout)
}
