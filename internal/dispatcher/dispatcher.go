// Package dispatcher owns the single shared executor and serializes every
// connection's requests against it: per-connection FIFO, cross-connection
// interleaving only at statement boundaries, and full exclusion while a
// transaction is held.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaydb/relaydb/internal/executor"
	"github.com/relaydb/relaydb/internal/lineage"
	"github.com/relaydb/relaydb/internal/logutil"
	"github.com/relaydb/relaydb/internal/protocol"
	"github.com/relaydb/relaydb/internal/wire"
)

const defaultTxWarnAfter = 30 * time.Second

type job struct {
	conn *Conn
	req  *protocol.Request // nil marks connection teardown
}

// Dispatcher accepts connections and funnels their requests through one
// run loop, so the executor sees at most one in-flight call at any time.
type Dispatcher struct {
	log         *zap.Logger
	exec        executor.Executor
	txWarnAfter time.Duration

	mu    sync.Mutex
	conns map[string]*Conn

	jobs    chan job
	stopped chan struct{}

	// Run-loop-owned transaction state. txHolder/txStarted are written
	// under mu as well so Snapshot can read them.
	txHolder  *Conn
	txStarted time.Time
	txTables  map[string]struct{}
	txKinds   map[protocol.WriteKind]struct{}
	deferred  []job
}

// New wires a dispatcher around an already-opened executor.
func New(exec executor.Executor, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		log:         log,
		exec:        exec,
		txWarnAfter: defaultTxWarnAfter,
		conns:       make(map[string]*Conn),
		jobs:        make(chan job, 64),
		stopped:     make(chan struct{}),
	}
}

// SetTxWarnAfter adjusts the held-transaction warning threshold.
func (d *Dispatcher) SetTxWarnAfter(dur time.Duration) { d.txWarnAfter = dur }

// Run processes requests until ctx is cancelled. It must be running before
// any connection is attached.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.stopped)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	warned := false
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-d.jobs:
			if j.req == nil {
				d.connClosed(ctx, j.conn)
				continue
			}
			d.process(ctx, j)
		case <-ticker.C:
			// An uncommitted transaction starves every other connection.
			// Surface it; never abort it.
			d.mu.Lock()
			holder, started := d.txHolder, d.txStarted
			d.mu.Unlock()
			if holder == nil {
				warned = false
			} else if held := time.Since(started); held > d.txWarnAfter && !warned {
				warned = true
				d.log.Warn("transaction held open", logutil.Values(
					zap.String("conn_id", holder.id),
					zap.Duration("held_for", held),
					zap.Int("queued_behind", len(d.deferred))))
			}
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, j job) {
	if j.conn.closed.Load() {
		return
	}

	// Once one of a connection's jobs is parked behind a foreign
	// transaction, everything after it parks too, or its responses would
	// arrive out of request order.
	if j.conn.parked > 0 {
		d.park(j)
		return
	}

	switch j.req.Kind {
	case protocol.KindPing:
		d.respondOK(j.conn, j.req.ID, nil)

	case protocol.KindExecute:
		if d.mustQueue(j.conn) {
			d.park(j)
			return
		}
		d.runExecute(ctx, j)

	case protocol.KindBatch:
		if d.mustQueue(j.conn) {
			d.park(j)
			return
		}
		d.runBatch(ctx, j)

	case protocol.KindBegin:
		d.runBegin(ctx, j)

	case protocol.KindCommit:
		d.runCommit(ctx, j)

	case protocol.KindRollback:
		d.runRollback(ctx, j)

	default:
		d.protocolFailure(j.conn, j.req.ID, "unsupported request kind")
	}
}

func (d *Dispatcher) mustQueue(c *Conn) bool {
	return d.txHolder != nil && d.txHolder != c
}

func (d *Dispatcher) park(j job) {
	j.conn.parked++
	d.deferred = append(d.deferred, j)
}

// releaseTx clears transaction ownership and replays deferred jobs in
// arrival order. A deferred begin may re-acquire the transaction, in which
// case the jobs after it simply park again.
func (d *Dispatcher) releaseTx(ctx context.Context) {
	d.mu.Lock()
	d.txHolder = nil
	d.mu.Unlock()
	d.txTables = nil
	d.txKinds = nil

	pending := d.deferred
	d.deferred = nil
	for _, j := range pending {
		j.conn.parked--
		d.process(ctx, j)
	}
}

func (d *Dispatcher) runBegin(ctx context.Context, j job) {
	if d.txHolder == j.conn {
		d.failure(j.conn, j.req.ID, protocol.ErrKindTransactionState, "transaction already open on this connection")
		return
	}
	if d.txHolder != nil {
		d.failure(j.conn, j.req.ID, protocol.ErrKindTransactionState, "transaction held by another connection")
		return
	}
	if err := d.exec.Begin(ctx); err != nil {
		d.failure(j.conn, j.req.ID, protocol.ErrKindExecutor, err.Error())
		return
	}
	d.mu.Lock()
	d.txHolder = j.conn
	d.txStarted = time.Now()
	d.mu.Unlock()
	d.txTables = make(map[string]struct{})
	d.txKinds = make(map[protocol.WriteKind]struct{})
	d.respondOK(j.conn, j.req.ID, nil)
}

func (d *Dispatcher) runCommit(ctx context.Context, j job) {
	if d.txHolder != j.conn {
		d.failure(j.conn, j.req.ID, protocol.ErrKindTransactionState, "no transaction held by this connection")
		return
	}
	tables, kind := coalesce(d.txTables, d.txKinds)
	if err := d.exec.Commit(ctx); err != nil {
		// The transaction is gone either way; release so others proceed.
		d.failure(j.conn, j.req.ID, protocol.ErrKindExecutor, err.Error())
		d.releaseTx(ctx)
		return
	}
	if len(tables) > 0 {
		d.broadcast(tables, kind)
	}
	d.respondOK(j.conn, j.req.ID, nil)
	d.releaseTx(ctx)
}

func (d *Dispatcher) runRollback(ctx context.Context, j job) {
	if d.txHolder != j.conn {
		d.failure(j.conn, j.req.ID, protocol.ErrKindTransactionState, "no transaction held by this connection")
		return
	}
	err := d.exec.Rollback(ctx)
	if err != nil {
		d.failure(j.conn, j.req.ID, protocol.ErrKindExecutor, err.Error())
	} else {
		d.respondOK(j.conn, j.req.ID, nil)
	}
	d.releaseTx(ctx)
}

func (d *Dispatcher) runExecute(ctx context.Context, j job) {
	st := j.req.Statement
	if st == nil {
		d.protocolFailure(j.conn, j.req.ID, "execute request without statement")
		return
	}
	args, err := wire.DecodeArgs(st.Args)
	if err != nil {
		d.protocolFailure(j.conn, j.req.ID, "undecodable arguments: "+err.Error())
		return
	}

	var result wire.Value
	var execErr error
	switch st.Op {
	case protocol.OpSelect:
		var rows *executor.Rows
		rows, execErr = d.exec.RunSelect(ctx, st.Text, args)
		if execErr == nil {
			result, execErr = protocol.EncodeRows(rows)
		}
	case protocol.OpInsert, protocol.OpUpdate, protocol.OpDelete:
		var run func(context.Context, string, []any) (*executor.Exec, error)
		switch st.Op {
		case protocol.OpInsert:
			run = d.exec.RunInsert
		case protocol.OpUpdate:
			run = d.exec.RunUpdate
		default:
			run = d.exec.RunDelete
		}
		var res *executor.Exec
		res, execErr = run(ctx, st.Text, args)
		if execErr == nil {
			result, execErr = protocol.EncodeExec(res)
		}
	default:
		d.protocolFailure(j.conn, j.req.ID, "unknown statement op")
		return
	}

	if execErr != nil {
		d.failure(j.conn, j.req.ID, protocol.ErrKindExecutor, execErr.Error())
		return
	}

	if writes := d.writeSet(st); len(writes) > 0 {
		kind := writeKindFor(st.Op)
		if d.txHolder == j.conn {
			for _, tbl := range writes {
				d.txTables[tbl] = struct{}{}
			}
			d.txKinds[kind] = struct{}{}
		} else {
			// Notification first: the originator must see it no later
			// than this statement's own response.
			d.broadcast(writes, kind)
		}
	}
	d.respondOK(j.conn, j.req.ID, &result)
}

func (d *Dispatcher) runBatch(ctx context.Context, j job) {
	if len(j.req.Batch) == 0 {
		d.protocolFailure(j.conn, j.req.ID, "empty batch")
		return
	}

	stmts := make([]executor.Statement, len(j.req.Batch))
	tables := map[string]struct{}{}
	kinds := map[protocol.WriteKind]struct{}{}
	for i, st := range j.req.Batch {
		args, err := wire.DecodeArgs(st.Args)
		if err != nil {
			d.protocolFailure(j.conn, j.req.ID, "undecodable arguments: "+err.Error())
			return
		}
		stmts[i] = executor.Statement{Text: st.Text, Args: args}
		if st.Op != protocol.OpSelect {
			for _, tbl := range d.writeSet(&j.req.Batch[i]) {
				tables[tbl] = struct{}{}
			}
			kinds[writeKindFor(st.Op)] = struct{}{}
		}
	}

	if err := d.exec.RunBatched(ctx, stmts); err != nil {
		d.failure(j.conn, j.req.ID, protocol.ErrKindExecutor, err.Error())
		return
	}

	writes, kind := coalesce(tables, kinds)
	if len(writes) > 0 {
		if d.txHolder == j.conn {
			for _, tbl := range writes {
				d.txTables[tbl] = struct{}{}
			}
			d.txKinds[kind] = struct{}{}
		} else {
			d.broadcast(writes, kind)
		}
	}
	d.respondOK(j.conn, j.req.ID, nil)
}

// writeSet returns the statement's declared written tables, inferring them
// from the text when a write statement declares nothing. Inference failure
// (dialect-specific syntax) downgrades to "no notification" with a log line
// rather than failing the statement.
func (d *Dispatcher) writeSet(st *protocol.Statement) []string {
	if len(st.WritesTo) > 0 {
		return st.WritesTo
	}
	if st.Op == protocol.OpSelect {
		return nil
	}
	_, writes, err := lineage.Tables(st.Text)
	if err != nil {
		d.log.Debug("table inference failed", zap.String("text", st.Text), zap.Error(err))
		return nil
	}
	return writes
}

func coalesce(tables map[string]struct{}, kinds map[protocol.WriteKind]struct{}) ([]string, protocol.WriteKind) {
	out := make([]string, 0, len(tables))
	for t := range tables {
		out = append(out, t)
	}
	// Mixed-kind bursts collapse to update; subscribers only care that the
	// tables changed.
	kind := protocol.WriteUpdate
	if len(kinds) == 1 {
		for k := range kinds {
			kind = k
		}
	}
	return out, kind
}

func writeKindFor(op protocol.StatementOp) protocol.WriteKind {
	switch op {
	case protocol.OpInsert:
		return protocol.WriteInsert
	case protocol.OpDelete:
		return protocol.WriteDelete
	default:
		return protocol.WriteUpdate
	}
}

// broadcast queues a table-write notification on every connection,
// originator included, ahead of any response queued afterwards.
func (d *Dispatcher) broadcast(tables []string, kind protocol.WriteKind) {
	frame, err := protocol.MarshalNotification(&protocol.Notification{
		Tables:    tables,
		WriteKind: kind,
	})
	if err != nil {
		d.log.Error("marshal notification", zap.Error(err))
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.conns {
		c.enqueue(frame)
	}
}

func (d *Dispatcher) respondOK(c *Conn, id int64, result *wire.Value) {
	d.send(c, &protocol.Response{ID: id, OK: true, Result: result})
}

func (d *Dispatcher) failure(c *Conn, id int64, kind protocol.ErrorKind, msg string) {
	d.send(c, &protocol.Response{ID: id, Error: &protocol.WireError{Kind: kind, Message: msg}})
}

// protocolFailure answers a malformed request and closes the offending
// connection. Only that connection is affected.
func (d *Dispatcher) protocolFailure(c *Conn, id int64, msg string) {
	d.failure(c, id, protocol.ErrKindProtocol, msg)
	d.log.Warn("protocol error", zap.String("conn_id", c.id), zap.String("reason", msg))
	d.closeConn(c)
}

func (d *Dispatcher) send(c *Conn, resp *protocol.Response) {
	frame, err := protocol.MarshalResponse(resp)
	if err != nil {
		// An unencodable result (NaN floats and the like) must still answer
		// the request, or the caller waits forever.
		d.log.Error("marshal response", zap.Int64("req_id", resp.ID), zap.Error(err))
		frame, err = protocol.MarshalResponse(&protocol.Response{
			ID:    resp.ID,
			Error: &protocol.WireError{Kind: protocol.ErrKindExecutor, Message: "unencodable result: " + err.Error()},
		})
		if err != nil {
			return
		}
	}
	c.enqueue(frame)
}
