// Package store is the PostgreSQL persistence layer. All rows are
// tenant-scoped and every query filters by tenant_id; callers pass the tenant
// from the request context, never from payloads.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/engram-memory/engram/pkg/database"
)

// Store-level sentinel errors. Services map these onto the public taxonomy.
var (
	ErrNotFound  = errors.New("row not found")
	ErrDuplicate = errors.New("duplicate key")
)

// Querier is the subset of *sql.DB / *sql.Tx the store runs on.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store executes queries against either the connection pool or, inside
// WithTx, a single transaction.
type Store struct {
	q  Querier
	db *sql.DB // nil when transaction-bound
}

// New creates a store on the client's connection pool.
func New(client *database.Client) *Store {
	db := client.DB()
	return &Store{q: db, db: db}
}

// NewFromDB creates a store on a raw connection pool (useful for testing).
func NewFromDB(db *sql.DB) *Store {
	return &Store{q: db, db: db}
}

// WithTx runs fn against a transaction-bound copy of the store and commits
// if fn returns nil. Calling WithTx on an already transaction-bound store
// joins the open transaction instead of nesting.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.db == nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Store{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// InTx reports whether the store is bound to an open transaction.
func (s *Store) InTx() bool {
	return s.db == nil
}

// isUniqueViolation detects PostgreSQL unique_violation (23505) errors.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- scan/value helpers shared by the entity files ---

// jsonArray marshals a string slice for a jsonb column, writing [] for nil.
func jsonArray(ss []string) ([]byte, error) {
	if ss == nil {
		ss = []string{}
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal string array: %w", err)
	}
	return b, nil
}

// jsonObject marshals a map for a jsonb column, writing {} for nil.
func jsonObject(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal object: %w", err)
	}
	return b, nil
}

// vectorValue converts an optional embedding into a driver value (NULL for nil).
func vectorValue(v *pgvector.Vector) any {
	if v == nil {
		return nil
	}
	return *v
}

// scanVector parses a nullable vector column into an optional embedding.
func scanVector(ns sql.NullString) (*pgvector.Vector, error) {
	if !ns.Valid {
		return nil, nil
	}
	var v pgvector.Vector
	if err := v.Parse(ns.String); err != nil {
		return nil, fmt.Errorf("failed to parse embedding column: %w", err)
	}
	return &v, nil
}

// nullableTime converts an optional timestamp into a driver value.
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// timePtr converts a scanned nullable timestamp into an optional UTC time.
func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
