package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// SQL runs statements on a single pinned database/sql connection. One
// instance backs the whole dispatcher, so "exactly one statement at a
// time" falls out of the dispatcher's queue rather than driver pooling.
type SQL struct {
	log    *zap.Logger
	driver string
	dsn    string

	db   *sql.DB
	conn *sql.Conn
	tx   *sql.Tx
}

// NewSQLite returns an executor over a sqlite database file. ":memory:"
// works for tests.
func NewSQLite(path string, log *zap.Logger) *SQL {
	return &SQL{log: log, driver: "sqlite3", dsn: path}
}

// NewPostgres returns an executor over a postgres DSN (lib/pq).
func NewPostgres(dsn string, log *zap.Logger) *SQL {
	return &SQL{log: log, driver: "postgres", dsn: dsn}
}

func (e *SQL) Open(ctx context.Context) error {
	if e.conn != nil {
		return nil
	}
	db, err := sql.Open(e.driver, e.dsn)
	if err != nil {
		return fmt.Errorf("open %s: %w", e.driver, err)
	}
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return fmt.Errorf("pin connection: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		db.Close()
		return fmt.Errorf("ping: %w", err)
	}

	e.db = db
	e.conn = conn
	e.log.Info("executor open", zap.String("driver", e.driver))
	return nil
}

func (e *SQL) Close() error {
	if e.conn == nil {
		return nil
	}
	if e.tx != nil {
		e.tx.Rollback()
		e.tx = nil
	}
	err := e.conn.Close()
	if dberr := e.db.Close(); err == nil {
		err = dberr
	}
	e.conn = nil
	e.db = nil
	return err
}

func (e *SQL) RunSelect(ctx context.Context, text string, args []any) (*Rows, error) {
	var rows *sql.Rows
	var err error
	if e.tx != nil {
		rows, err = e.tx.QueryContext(ctx, text, args...)
	} else {
		rows, err = e.conn.QueryContext(ctx, text, args...)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func (e *SQL) RunInsert(ctx context.Context, text string, args []any) (*Exec, error) {
	return e.exec(ctx, text, args)
}

func (e *SQL) RunUpdate(ctx context.Context, text string, args []any) (*Exec, error) {
	return e.exec(ctx, text, args)
}

func (e *SQL) RunDelete(ctx context.Context, text string, args []any) (*Exec, error) {
	return e.exec(ctx, text, args)
}

func (e *SQL) exec(ctx context.Context, text string, args []any) (*Exec, error) {
	var res sql.Result
	var err error
	if e.tx != nil {
		res, err = e.tx.ExecContext(ctx, text, args...)
	} else {
		res, err = e.conn.ExecContext(ctx, text, args...)
	}
	if err != nil {
		return nil, err
	}

	out := &Exec{}
	// lib/pq has no LastInsertId; leave it zero there.
	if id, err := res.LastInsertId(); err == nil {
		out.LastInsertID = id
	}
	if n, err := res.RowsAffected(); err == nil {
		out.RowsAffected = n
	}
	return out, nil
}

func (e *SQL) RunBatched(ctx context.Context, stmts []Statement) error {
	if e.tx != nil {
		return e.runBatchSavepoint(ctx, stmts)
	}

	tx, err := e.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.Text, st.Args...); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// runBatchSavepoint keeps a mid-transaction batch all-or-nothing without
// touching the outer transaction. SAVEPOINT syntax is shared by sqlite
// and postgres.
func (e *SQL) runBatchSavepoint(ctx context.Context, stmts []Statement) error {
	if _, err := e.tx.ExecContext(ctx, "SAVEPOINT relaydb_batch"); err != nil {
		return err
	}
	for _, st := range stmts {
		if _, err := e.tx.ExecContext(ctx, st.Text, st.Args...); err != nil {
			e.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT relaydb_batch")
			e.tx.ExecContext(ctx, "RELEASE SAVEPOINT relaydb_batch")
			return err
		}
	}
	_, err := e.tx.ExecContext(ctx, "RELEASE SAVEPOINT relaydb_batch")
	return err
}

func (e *SQL) Begin(ctx context.Context) error {
	if e.tx != nil {
		return errors.New("transaction already open")
	}
	tx, err := e.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	e.tx = tx
	return nil
}

func (e *SQL) Commit(context.Context) error {
	if e.tx == nil {
		return errors.New("no open transaction")
	}
	err := e.tx.Commit()
	e.tx = nil
	return err
}

func (e *SQL) Rollback(context.Context) error {
	if e.tx == nil {
		return errors.New("no open transaction")
	}
	err := e.tx.Rollback()
	e.tx = nil
	return err
}

func scanRows(rows *sql.Rows) (*Rows, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := &Rows{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			values[i] = normalize(v)
		}
		out.Rows = append(out.Rows, values)
	}
	return out, rows.Err()
}

// normalize maps driver types onto the wire codec's value domain.
func normalize(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case []byte:
		// Drivers reuse scan buffers between rows.
		cp := make([]byte, len(t))
		copy(cp, t)
		return cp
	default:
		return v
	}
}
