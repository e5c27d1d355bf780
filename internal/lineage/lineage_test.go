package lineage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectReadsOnly(t *testing.T) {
	reads, writes, err := Tables("SELECT t.id, u.name FROM todos t JOIN users u ON u.id = t.user_id")
	require.NoError(t, err)
	assert.Equal(t, []string{"todos", "users"}, reads)
	assert.Empty(t, writes)
}

func TestInsertSelect(t *testing.T) {
	reads, writes, err := Tables("INSERT INTO archive SELECT * FROM todos WHERE done = 1")
	require.NoError(t, err)
	assert.Equal(t, []string{"todos"}, reads)
	assert.Equal(t, []string{"archive"}, writes)
}

func TestPlainInsertHasNoReads(t *testing.T) {
	reads, writes, err := Tables("INSERT INTO todos (title) VALUES ($1)")
	require.NoError(t, err)
	assert.Empty(t, reads)
	assert.Equal(t, []string{"todos"}, writes)
}

func TestUpdateReadsItsTarget(t *testing.T) {
	reads, writes, err := Tables("UPDATE todos SET done = 1 WHERE id IN (SELECT todo_id FROM tags)")
	require.NoError(t, err)
	assert.Equal(t, []string{"tags", "todos"}, reads)
	assert.Equal(t, []string{"todos"}, writes)
}

func TestDelete(t *testing.T) {
	reads, writes, err := Tables("DELETE FROM todos WHERE done = 1")
	require.NoError(t, err)
	assert.Equal(t, []string{"todos"}, reads)
	assert.Equal(t, []string{"todos"}, writes)
}

func TestSchemaQualified(t *testing.T) {
	reads, _, err := Tables("SELECT * FROM audit.events")
	require.NoError(t, err)
	assert.Equal(t, []string{"audit.events"}, reads)
}

func TestCTE(t *testing.T) {
	reads, _, err := Tables("WITH open AS (SELECT * FROM todos WHERE done = 0) SELECT count(*) FROM open")
	require.NoError(t, err)
	assert.Contains(t, reads, "todos")
}

func TestQuestionMarkPlaceholders(t *testing.T) {
	// sqlite-style placeholders must not defeat inference.
	reads, writes, err := Tables("INSERT INTO todos (title, owner) VALUES (?, ?)")
	require.NoError(t, err)
	assert.Empty(t, reads)
	assert.Equal(t, []string{"todos"}, writes)

	_, writes, err = Tables("UPDATE todos SET title = ? WHERE id = ?")
	require.NoError(t, err)
	assert.Equal(t, []string{"todos"}, writes)
}

func TestQuestionMarkInsideStringLiteral(t *testing.T) {
	_, writes, err := Tables("UPDATE todos SET title = 'why?' WHERE id = ?")
	require.NoError(t, err)
	assert.Equal(t, []string{"todos"}, writes)
}

func TestNumberPlaceholders(t *testing.T) {
	out, rewrote := numberPlaceholders("INSERT INTO t (a, b) VALUES (?, ?)")
	assert.True(t, rewrote)
	assert.Equal(t, "INSERT INTO t (a, b) VALUES ($1, $2)", out)

	out, rewrote = numberPlaceholders("SELECT 'a?b' FROM t")
	assert.False(t, rewrote)
	assert.Equal(t, "SELECT 'a?b' FROM t", out)
}

func TestParseError(t *testing.T) {
	_, _, err := Tables("SELEC nope")
	assert.Error(t, err)
}
