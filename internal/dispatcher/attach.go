package dispatcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/relaydb/relaydb/internal/protocol"
)

// Attach registers a channel as a new connection and starts its read and
// write loops. The connection lives until the channel fails or the
// dispatcher closes it after a protocol violation.
func (d *Dispatcher) Attach(ch Channel) *Conn {
	c := newConn(ch, d.log)
	d.mu.Lock()
	d.conns[c.id] = c
	d.mu.Unlock()

	c.log.Info("connection attached")
	go c.writeLoop()
	go d.readLoop(c)
	return c
}

func (d *Dispatcher) readLoop(c *Conn) {
	defer d.detach(c)
	for {
		data, err := c.ch.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Unmarshal(data)
		if err != nil {
			d.protocolFailure(c, 0, "malformed frame: "+err.Error())
			return
		}
		req, ok := msg.(*protocol.Request)
		if !ok {
			d.protocolFailure(c, 0, "clients may only send requests")
			return
		}
		if req.ID <= c.lastID {
			d.protocolFailure(c, req.ID, "request id must increase")
			return
		}
		c.lastID = req.ID
		select {
		case d.jobs <- job{conn: c, req: req}:
		case <-d.stopped:
			return
		}
	}
}

// detach tears the connection down and tells the run loop, which releases
// a transaction the connection may still hold. Outstanding requests of a
// closed connection are dropped; the client side fails them locally.
func (d *Dispatcher) detach(c *Conn) {
	d.closeConn(c)
	select {
	case d.jobs <- job{conn: c}:
	case <-d.stopped:
	}
}

func (d *Dispatcher) closeConn(c *Conn) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	d.mu.Lock()
	delete(d.conns, c.id)
	d.mu.Unlock()
	// Close after drain: already-queued responses still go out before the
	// channel shuts.
	c.out.close()
	c.log.Info("connection closed")
}

// connClosed runs on the dispatcher loop once a connection is gone. A
// transaction abandoned by a dead connection can never be committed, so it
// is rolled back rather than left to starve everyone forever.
func (d *Dispatcher) connClosed(ctx context.Context, c *Conn) {
	if d.txHolder != c {
		return
	}
	d.log.Warn("connection closed with open transaction, rolling back",
		zap.String("conn_id", c.id))
	if err := d.exec.Rollback(ctx); err != nil {
		d.log.Error("rollback after disconnect", zap.Error(err))
	}
	d.releaseTx(ctx)
}

// ConnInfo describes one attached connection for introspection.
type ConnInfo struct {
	ID      string `json:"id"`
	HoldsTx bool   `json:"holdsTx"`
}

// Snapshot is a point-in-time view of the dispatcher for the HTTP
// introspection endpoint.
type Snapshot struct {
	Connections []ConnInfo    `json:"connections"`
	TxHolder    string        `json:"txHolder,omitempty"`
	TxHeldFor   time.Duration `json:"txHeldForNs,omitempty"`
}

func (d *Dispatcher) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := Snapshot{Connections: make([]ConnInfo, 0, len(d.conns))}
	for _, c := range d.conns {
		snap.Connections = append(snap.Connections, ConnInfo{
			ID:      c.id,
			HoldsTx: d.txHolder == c,
		})
	}
	if d.txHolder != nil {
		snap.TxHolder = d.txHolder.id
		snap.TxHeldFor = time.Since(d.txStarted)
	}
	return snap
}
