package client_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relaydb/relaydb/internal/api"
	"github.com/relaydb/relaydb/internal/dispatcher"
	"github.com/relaydb/relaydb/internal/executor"
	"github.com/relaydb/relaydb/pkg/client"
	"github.com/relaydb/relaydb/pkg/stream"
)

// startServer brings up the full stack: sqlite executor, dispatcher and
// the websocket endpoint on an ephemeral port.
func startServer(t *testing.T) string {
	t.Helper()
	exec := executor.NewSQLite(t.TempDir()+"/test.db", zap.NewNop())
	require.NoError(t, exec.Open(context.Background()))
	t.Cleanup(func() { exec.Close() })

	_, err := exec.RunInsert(context.Background(),
		"CREATE TABLE todos (id INTEGER PRIMARY KEY, title TEXT, done INTEGER DEFAULT 0)", nil)
	require.NoError(t, err)

	d := dispatcher.New(exec, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	t.Cleanup(cancel)

	srv := httptest.NewServer(api.SetupRoutes(zap.NewNop(), d))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string, opts ...client.Option) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, url, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestInsertAndSelect(t *testing.T) {
	url := startServer(t)
	c := dial(t, url)
	ctx := context.Background()

	res, err := c.RunInsert(ctx, "INSERT INTO todos (title) VALUES (?)", "write docs")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)

	rows, err := c.RunSelect(ctx, "SELECT title, done FROM todos")
	require.NoError(t, err)
	require.Len(t, rows.Rows, 1)

	title, err := rows.Value(0, "title")
	require.NoError(t, err)
	assert.Equal(t, "write docs", title)
}

func TestConcurrentCallersShareOneConnection(t *testing.T) {
	url := startServer(t)
	c := dial(t, url)
	ctx := context.Background()

	// Request ids must reach the wire in increasing order even when many
	// goroutines issue statements at once; the server kills the connection
	// on the first out-of-order id.
	const callers = 64
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.RunSelect(ctx, "SELECT count(*) FROM todos")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
}

func TestCloseDuringNotificationStream(t *testing.T) {
	url := startServer(t)
	writer := dial(t, url)
	reader := dial(t, url)
	ctx := context.Background()

	// Keep notifications flowing at the reader while it shuts down.
	inserted := make(chan struct{})
	go func() {
		defer close(inserted)
		for i := 0; i < 50; i++ {
			if _, err := writer.RunInsert(ctx, "INSERT INTO todos (title) VALUES (?)", "burst"); err != nil {
				return
			}
		}
	}()

	select {
	case <-reader.Updates():
	case <-time.After(2 * time.Second):
		t.Fatal("no notification before close")
	}
	reader.Close()

	// The relay drains and the channel closes cleanly; a send on a closed
	// channel here would panic the read loop.
	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-reader.Updates():
			if !ok {
				<-inserted
				return
			}
		case <-timeout:
			t.Fatal("updates channel did not close after Close")
		}
	}
}

func TestRemoteErrorIsScopedToRequest(t *testing.T) {
	url := startServer(t)
	c := dial(t, url)
	ctx := context.Background()

	_, err := c.RunSelect(ctx, "SELECT nope FROM missing")
	require.Error(t, err)
	assert.True(t, client.IsExecutorError(err))

	// The connection survives the failed statement.
	rows, err := c.RunSelect(ctx, "SELECT count(*) AS n FROM todos")
	require.NoError(t, err)
	require.Len(t, rows.Rows, 1)
}

func TestUpdatesRelayedToOtherConnections(t *testing.T) {
	url := startServer(t)
	a := dial(t, url)
	b := dial(t, url)
	ctx := context.Background()

	_, err := a.RunInsert(ctx, "INSERT INTO todos (title) VALUES (?)", "notify b")
	require.NoError(t, err)

	select {
	case u := <-b.Updates():
		assert.Equal(t, []string{"todos"}, u.Tables)
		assert.Equal(t, "insert", u.WriteKind)
	case <-time.After(2 * time.Second):
		t.Fatal("no notification reached the other connection")
	}
}

func TestTransactionCommitCoalesces(t *testing.T) {
	url := startServer(t)
	a := dial(t, url)
	b := dial(t, url)
	ctx := context.Background()

	err := a.InTransaction(ctx, func(tx *client.Tx) error {
		if _, err := tx.RunInsert(ctx, "INSERT INTO todos (title) VALUES (?)", "one"); err != nil {
			return err
		}
		_, err := tx.RunInsert(ctx, "INSERT INTO todos (title) VALUES (?)", "two")
		return err
	})
	require.NoError(t, err)

	// Both writes collapse into one notification at commit.
	select {
	case u := <-b.Updates():
		assert.Equal(t, []string{"todos"}, u.Tables)
	case <-time.After(2 * time.Second):
		t.Fatal("no commit notification")
	}
	select {
	case u := <-b.Updates():
		t.Fatalf("unexpected second notification %v", u)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRollbackEmitsNothing(t *testing.T) {
	url := startServer(t)
	a := dial(t, url)
	b := dial(t, url)
	ctx := context.Background()

	tx, err := a.Transaction(ctx)
	require.NoError(t, err)
	_, err = tx.RunInsert(ctx, "INSERT INTO todos (title) VALUES (?)", "discard me")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	select {
	case u := <-b.Updates():
		t.Fatalf("rollback must not notify, got %v", u)
	case <-time.After(100 * time.Millisecond):
	}

	rows, err := a.RunSelect(ctx, "SELECT count(*) AS n FROM todos")
	require.NoError(t, err)
	n, err := rows.Value(0, "n")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestTransactionStateErrors(t *testing.T) {
	url := startServer(t)
	a := dial(t, url)
	b := dial(t, url)
	ctx := context.Background()

	tx, err := a.Transaction(ctx)
	require.NoError(t, err)

	// A second begin on the same connection and any begin on another
	// connection both violate transaction state.
	_, err = a.Transaction(ctx)
	assert.True(t, client.IsTransactionStateError(err))
	_, err = b.Transaction(ctx)
	assert.True(t, client.IsTransactionStateError(err))

	require.NoError(t, tx.Commit(ctx))

	// Once released, the other connection may take its turn.
	tx2, err := b.Transaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx2.Rollback(ctx))
}

func TestCloseFailsOutstandingCalls(t *testing.T) {
	url := startServer(t)
	a := dial(t, url)
	b := dial(t, url)
	ctx := context.Background()

	// A holds the transaction, so B's statement parks on the server.
	tx, err := a.Transaction(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	errCh := make(chan error, 1)
	go func() {
		_, err := b.RunSelect(ctx, "SELECT count(*) FROM todos")
		errCh <- err
	}()

	// Give the parked statement time to reach the server, then cut B.
	time.Sleep(100 * time.Millisecond)
	b.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, client.ErrConnectionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("outstanding call did not fail on close")
	}

	// The updates stream closes with the connection.
	select {
	case _, ok := <-b.Updates():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("updates channel did not close")
	}
}

func TestLiveQueryReflectsRemoteWrites(t *testing.T) {
	url := startServer(t)
	writer := dial(t, url)
	reader := dial(t, url)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := stream.New(zap.NewNop())
	go store.Feed(ctx, reader.Updates())

	count := func(ctx context.Context) (any, error) {
		rows, err := reader.RunSelect(ctx, "SELECT count(*) AS n FROM todos")
		if err != nil {
			return nil, err
		}
		return rows.Value(0, "n")
	}
	sub := store.Subscribe(
		stream.Fingerprint{Text: "SELECT count(*) AS n FROM todos", Shape: []string{"int"}},
		[]string{"todos"}, count)
	defer sub.Unsubscribe()

	recv := func() int64 {
		t.Helper()
		select {
		case r := <-sub.C:
			require.NoError(t, r.Err)
			return r.Value.(int64)
		case <-time.After(2 * time.Second):
			t.Fatal("no live query emission")
			return 0
		}
	}

	assert.EqualValues(t, 0, recv())

	_, err := writer.RunInsert(ctx, "INSERT INTO todos (title) VALUES (?)", "from writer")
	require.NoError(t, err)

	// The write on the other connection reaches the reader's live query
	// without any manual refresh.
	assert.EqualValues(t, 1, recv())
}

type staticMeta struct {
	writes []string
}

func (m staticMeta) Tables(text string) (readsFrom, writesTo []string, ok bool) {
	return nil, m.writes, true
}

func TestMetaProviderDeclaresWrites(t *testing.T) {
	url := startServer(t)
	a := dial(t, url, client.WithMetaProvider(staticMeta{writes: []string{"todos"}}))
	b := dial(t, url)
	ctx := context.Background()

	// Dialect-specific syntax defeats text inference; the declared write
	// set still produces a notification.
	_, err := a.RunInsert(ctx, "INSERT OR REPLACE INTO todos (id, title) VALUES (1, ?)", "upsert")
	require.NoError(t, err)

	select {
	case u := <-b.Updates():
		assert.Equal(t, []string{"todos"}, u.Tables)
	case <-time.After(2 * time.Second):
		t.Fatal("declared write set produced no notification")
	}
}
