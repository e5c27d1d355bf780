package client

import (
	"context"

	"github.com/relaydb/relaydb/internal/executor"
	"github.com/relaydb/relaydb/internal/protocol"
)

// Tx scopes statements to the connection's open transaction. While it is
// open, every other connection's statements queue behind it on the server;
// a Tx that is never committed or rolled back starves them indefinitely.
type Tx struct {
	c *Client
}

// Transaction begins a transaction and returns its scoped handle.
func (c *Client) Transaction(ctx context.Context) (*Tx, error) {
	if _, err := c.roundtrip(ctx, &protocol.Request{Kind: protocol.KindBegin}); err != nil {
		return nil, err
	}
	return &Tx{c: c}, nil
}

// InTransaction runs fn inside a transaction, committing on success and
// rolling back on error.
func (c *Client) InTransaction(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := c.Transaction(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		// The original error wins; rollback failure usually means the
		// connection already died.
		tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (tx *Tx) RunSelect(ctx context.Context, text string, args ...any) (*executor.Rows, error) {
	return tx.c.RunSelect(ctx, text, args...)
}

func (tx *Tx) RunInsert(ctx context.Context, text string, args ...any) (*executor.Exec, error) {
	return tx.c.RunInsert(ctx, text, args...)
}

func (tx *Tx) RunUpdate(ctx context.Context, text string, args ...any) (*executor.Exec, error) {
	return tx.c.RunUpdate(ctx, text, args...)
}

func (tx *Tx) RunDelete(ctx context.Context, text string, args ...any) (*executor.Exec, error) {
	return tx.c.RunDelete(ctx, text, args...)
}

func (tx *Tx) RunBatched(ctx context.Context, stmts []Statement) error {
	return tx.c.RunBatched(ctx, stmts)
}

// Commit releases the transaction, emitting one coalesced notification
// for everything it wrote.
func (tx *Tx) Commit(ctx context.Context) error {
	_, err := tx.c.roundtrip(ctx, &protocol.Request{Kind: protocol.KindCommit})
	return err
}

// Rollback releases the transaction without emitting any notification.
func (tx *Tx) Rollback(ctx context.Context) error {
	_, err := tx.c.roundtrip(ctx, &protocol.Request{Kind: protocol.KindRollback})
	return err
}
