package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestDB(t *testing.T) *SQL {
	t.Helper()
	e := NewSQLite(t.TempDir()+"/test.db", zap.NewNop())
	require.NoError(t, e.Open(context.Background()))
	t.Cleanup(func() { e.Close() })

	_, err := e.RunInsert(context.Background(),
		"CREATE TABLE todos (id INTEGER PRIMARY KEY, title TEXT, done INTEGER DEFAULT 0)", nil)
	require.NoError(t, err)
	return e
}

func TestInsertAndSelect(t *testing.T) {
	e := openTestDB(t)
	ctx := context.Background()

	res, err := e.RunInsert(ctx, "INSERT INTO todos (title) VALUES (?)", []any{"write tests"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)
	assert.Equal(t, int64(1), res.LastInsertID)

	rows, err := e.RunSelect(ctx, "SELECT id, title, done FROM todos", nil)
	require.NoError(t, err)
	require.Len(t, rows.Rows, 1)
	assert.Equal(t, []string{"id", "title", "done"}, rows.Columns)

	title, err := rows.Value(0, "title")
	require.NoError(t, err)
	assert.Equal(t, "write tests", title)
}

func TestValueNotInResultSet(t *testing.T) {
	e := openTestDB(t)
	rows, err := e.RunSelect(context.Background(), "SELECT id FROM todos", nil)
	require.NoError(t, err)

	_, err = rows.ColumnIndex("missing")
	assert.ErrorIs(t, err, ErrNotInResultSet)

	_, err = rows.Value(99, "id")
	assert.ErrorIs(t, err, ErrNotInResultSet)
}

func TestExecutorErrorDoesNotPoisonHandle(t *testing.T) {
	e := openTestDB(t)
	ctx := context.Background()

	_, err := e.RunSelect(ctx, "SELECT * FROM missing_table", nil)
	require.Error(t, err)

	// The handle stays usable after a statement failure.
	_, err = e.RunInsert(ctx, "INSERT INTO todos (title) VALUES (?)", []any{"still alive"})
	assert.NoError(t, err)
}

func TestTransactionCommitAndRollback(t *testing.T) {
	e := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, e.Begin(ctx))
	_, err := e.RunInsert(ctx, "INSERT INTO todos (title) VALUES (?)", []any{"tx"})
	require.NoError(t, err)
	require.NoError(t, e.Commit(ctx))

	rows, err := e.RunSelect(ctx, "SELECT COUNT(*) AS n FROM todos", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows.Rows[0][0])

	require.NoError(t, e.Begin(ctx))
	_, err = e.RunInsert(ctx, "INSERT INTO todos (title) VALUES (?)", []any{"discard"})
	require.NoError(t, err)
	require.NoError(t, e.Rollback(ctx))

	rows, err = e.RunSelect(ctx, "SELECT COUNT(*) AS n FROM todos", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows.Rows[0][0])
}

func TestDoubleBeginRejected(t *testing.T) {
	e := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, e.Begin(ctx))
	assert.Error(t, e.Begin(ctx))
	require.NoError(t, e.Rollback(ctx))
	assert.Error(t, e.Rollback(ctx), "no transaction left to roll back")
}

func TestBatchAllOrNothing(t *testing.T) {
	e := openTestDB(t)
	ctx := context.Background()

	err := e.RunBatched(ctx, []Statement{
		{Text: "INSERT INTO todos (title) VALUES (?)", Args: []any{"a"}},
		{Text: "INSERT INTO nope (title) VALUES (?)", Args: []any{"b"}},
	})
	require.Error(t, err)

	rows, err := e.RunSelect(ctx, "SELECT COUNT(*) AS n FROM todos", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows.Rows[0][0], "failed batch leaves no partial writes")

	err = e.RunBatched(ctx, []Statement{
		{Text: "INSERT INTO todos (title) VALUES (?)", Args: []any{"a"}},
		{Text: "INSERT INTO todos (title) VALUES (?)", Args: []any{"b"}},
	})
	require.NoError(t, err)

	rows, err = e.RunSelect(ctx, "SELECT COUNT(*) AS n FROM todos", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rows.Rows[0][0])
}

func TestBatchInsideTransactionUsesSavepoint(t *testing.T) {
	e := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, e.Begin(ctx))
	_, err := e.RunInsert(ctx, "INSERT INTO todos (title) VALUES (?)", []any{"outer"})
	require.NoError(t, err)

	// Failing batch rolls back to the savepoint, keeping the outer write.
	err = e.RunBatched(ctx, []Statement{
		{Text: "INSERT INTO todos (title) VALUES (?)", Args: []any{"inner"}},
		{Text: "INSERT INTO nope (x) VALUES (1)", Args: nil},
	})
	require.Error(t, err)
	require.NoError(t, e.Commit(ctx))

	rows, err := e.RunSelect(ctx, "SELECT title FROM todos", nil)
	require.NoError(t, err)
	require.Len(t, rows.Rows, 1)
	assert.Equal(t, "outer", rows.Rows[0][0])
}

func TestBlobRoundtrip(t *testing.T) {
	e := openTestDB(t)
	ctx := context.Background()

	_, err := e.RunInsert(ctx, "CREATE TABLE blobs (data BLOB)", nil)
	require.NoError(t, err)

	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err = e.RunInsert(ctx, "INSERT INTO blobs (data) VALUES (?)", []any{payload})
	require.NoError(t, err)

	rows, err := e.RunSelect(ctx, "SELECT data FROM blobs", nil)
	require.NoError(t, err)
	assert.Equal(t, payload, rows.Rows[0][0])
}
