// Package client implements the executor capability over a websocket
// channel: requests carry monotonically increasing ids, callers suspend on
// the matching response, and unsolicited table-write notifications are
// republished on a local stream.
package client

import (
	"context"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relaydb/relaydb/internal/executor"
	"github.com/relaydb/relaydb/internal/protocol"
	"github.com/relaydb/relaydb/internal/wire"
)

// MetaProvider declares the tables a statement reads and writes. When no
// provider is set (or it reports no match) the server infers the sets from
// the statement text.
type MetaProvider interface {
	Tables(text string) (readsFrom, writesTo []string, ok bool)
}

// TableUpdate is a republished table-write notification.
type TableUpdate struct {
	Tables    []string
	WriteKind string
}

// Statement is one entry of a batch.
type Statement struct {
	Text string
	Args []any
}

type Option func(*Client)

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

func WithMetaProvider(meta MetaProvider) Option {
	return func(c *Client) { c.meta = meta }
}

// Client is a remote executor stub over one websocket connection. It is
// safe for concurrent use; the server serializes actual execution.
type Client struct {
	log  *zap.Logger
	ws   *websocket.Conn
	meta MetaProvider

	// writeMu serializes id allocation and the frame write as one unit, so
	// ids reach the wire in increasing order even under concurrent callers.
	writeMu sync.Mutex
	nextID  int64

	mu      sync.Mutex
	pending map[int64]chan *protocol.Response
	closed  bool

	updates  chan TableUpdate
	done     chan struct{}
	doneOnce sync.Once
}

// Dial connects, performs the ping handshake and starts the notification
// relay. The returned client is ready for statements.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c := &Client{
		log:     zap.NewNop(),
		ws:      ws,
		pending: make(map[int64]chan *protocol.Response),
		updates: make(chan TableUpdate, 256),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.readLoop()

	if _, err := c.roundtrip(ctx, &protocol.Request{Kind: protocol.KindPing}); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Close tears the channel down. Every outstanding call fails with
// ErrConnectionClosed; no partial results are delivered. The updates
// channel closes once the read loop unwinds.
func (c *Client) Close() error {
	err := c.ws.Close()
	c.failPending()
	c.signalDone()
	return err
}

// Updates returns the local stream of table-write notifications. The
// channel closes when the connection does.
func (c *Client) Updates() <-chan TableUpdate { return c.updates }

// failPending marks the client closed and fails every outstanding call.
func (c *Client) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) signalDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// shutdown runs only from the read loop, which is the sole sender on
// updates; closing updates anywhere else would race the notification
// relay.
func (c *Client) shutdown() {
	c.failPending()
	c.signalDone()
	close(c.updates)
}

func (c *Client) readLoop() {
	defer c.shutdown()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Unmarshal(data)
		if err != nil {
			c.log.Error("undecodable frame from server", zap.Error(err))
			return
		}
		switch m := msg.(type) {
		case *protocol.Response:
			c.mu.Lock()
			ch, ok := c.pending[m.ID]
			if ok {
				delete(c.pending, m.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- m
			}
		case *protocol.Notification:
			select {
			case c.updates <- TableUpdate{Tables: m.Tables, WriteKind: string(m.WriteKind)}:
			case <-c.done:
				return
			}
		default:
			c.log.Warn("unexpected message from server")
		}
	}
}

// roundtrip sends a request and suspends the caller until its correlated
// response arrives.
func (c *Client) roundtrip(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	ch := make(chan *protocol.Response, 1)

	c.writeMu.Lock()
	c.nextID++
	req.ID = c.nextID

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.writeMu.Unlock()
		return nil, ErrConnectionClosed
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	frame, err := protocol.MarshalRequest(req)
	if err != nil {
		c.writeMu.Unlock()
		c.forget(req.ID)
		return nil, err
	}
	err = c.ws.WriteMessage(websocket.BinaryMessage, frame)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(req.ID)
		return nil, ErrConnectionClosed
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrConnectionClosed
		}
		if !resp.OK {
			if resp.Error == nil {
				return nil, &RemoteError{Kind: protocol.ErrKindProtocol, Message: "failure response without error"}
			}
			return nil, &RemoteError{Kind: resp.Error.Kind, Message: resp.Error.Message}
		}
		return resp, nil
	case <-ctx.Done():
		c.forget(req.ID)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) statement(text string, args []any, op protocol.StatementOp) (*protocol.Statement, error) {
	wargs, err := wire.EncodeArgs(args)
	if err != nil {
		return nil, err
	}
	st := &protocol.Statement{Text: text, Args: wargs, Op: op}
	if c.meta != nil {
		if reads, writes, ok := c.meta.Tables(text); ok {
			st.ReadsFrom = reads
			st.WritesTo = writes
		}
	}
	return st, nil
}

func (c *Client) execute(ctx context.Context, text string, args []any, op protocol.StatementOp) (*protocol.Response, error) {
	st, err := c.statement(text, args, op)
	if err != nil {
		return nil, err
	}
	return c.roundtrip(ctx, &protocol.Request{Kind: protocol.KindExecute, Statement: st})
}

// RunSelect executes a query and returns its materialized rows.
func (c *Client) RunSelect(ctx context.Context, text string, args ...any) (*executor.Rows, error) {
	resp, err := c.execute(ctx, text, args, protocol.OpSelect)
	if err != nil {
		return nil, err
	}
	if resp.Result == nil {
		return nil, &RemoteError{Kind: protocol.ErrKindProtocol, Message: "select response without result"}
	}
	return protocol.DecodeRows(*resp.Result)
}

func (c *Client) RunInsert(ctx context.Context, text string, args ...any) (*executor.Exec, error) {
	return c.runWrite(ctx, text, args, protocol.OpInsert)
}

func (c *Client) RunUpdate(ctx context.Context, text string, args ...any) (*executor.Exec, error) {
	return c.runWrite(ctx, text, args, protocol.OpUpdate)
}

func (c *Client) RunDelete(ctx context.Context, text string, args ...any) (*executor.Exec, error) {
	return c.runWrite(ctx, text, args, protocol.OpDelete)
}

func (c *Client) runWrite(ctx context.Context, text string, args []any, op protocol.StatementOp) (*executor.Exec, error) {
	resp, err := c.execute(ctx, text, args, op)
	if err != nil {
		return nil, err
	}
	if resp.Result == nil {
		return &executor.Exec{}, nil
	}
	return protocol.DecodeExec(*resp.Result)
}

// RunBatched executes all statements as a single atomic request. One
// coalesced notification covers everything the batch wrote.
func (c *Client) RunBatched(ctx context.Context, stmts []Statement) error {
	batch := make([]protocol.Statement, len(stmts))
	for i, st := range stmts {
		ps, err := c.statement(st.Text, st.Args, opForText(st.Text))
		if err != nil {
			return err
		}
		batch[i] = *ps
	}
	_, err := c.roundtrip(ctx, &protocol.Request{Kind: protocol.KindBatch, Batch: batch})
	return err
}

func opForText(text string) protocol.StatementOp {
	head := text
	if i := strings.IndexByte(head, ' '); i > 0 {
		head = head[:i]
	}
	switch strings.ToUpper(head) {
	case "SELECT":
		return protocol.OpSelect
	case "INSERT":
		return protocol.OpInsert
	case "DELETE":
		return protocol.OpDelete
	default:
		return protocol.OpUpdate
	}
}
