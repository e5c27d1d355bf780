// Package executor defines the capability the dispatcher serializes access
// to: a single physical handle able to run already-resolved statements
// against the underlying store.
package executor

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotInResultSet is returned by result accessors when a requested
// column is absent. It is a local parsing error, never a remote one.
var ErrNotInResultSet = errors.New("not in result set")

// Rows is the materialized result of a select.
type Rows struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// ColumnIndex resolves a column name to its position.
func (r *Rows) ColumnIndex(name string) (int, error) {
	for i, c := range r.Columns {
		if c == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("column %q: %w", name, ErrNotInResultSet)
}

// Value returns the named column of row i.
func (r *Rows) Value(i int, name string) (any, error) {
	if i < 0 || i >= len(r.Rows) {
		return nil, fmt.Errorf("row %d: %w", i, ErrNotInResultSet)
	}
	col, err := r.ColumnIndex(name)
	if err != nil {
		return nil, err
	}
	return r.Rows[i][col], nil
}

// Exec is the result of an insert, update or delete.
type Exec struct {
	RowsAffected int64 `json:"rowsAffected"`
	LastInsertID int64 `json:"lastInsertId"`
}

// Statement is one entry of a batch: resolved text plus bound arguments.
type Statement struct {
	Text string
	Args []any
}

// Executor is the single shared handle. Implementations need not be safe
// for concurrent use; the dispatcher guarantees at most one in-flight call.
type Executor interface {
	Open(ctx context.Context) error
	Close() error

	RunSelect(ctx context.Context, text string, args []any) (*Rows, error)
	RunInsert(ctx context.Context, text string, args []any) (*Exec, error)
	RunUpdate(ctx context.Context, text string, args []any) (*Exec, error)
	RunDelete(ctx context.Context, text string, args []any) (*Exec, error)

	// RunBatched runs all statements as one atomic operation: inside an
	// open transaction via a savepoint, otherwise in its own transaction.
	RunBatched(ctx context.Context, stmts []Statement) error

	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
