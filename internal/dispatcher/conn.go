package dispatcher

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Channel is the ordered, reliable message pipe a connection runs over.
// The websocket adapter lives in the api package; tests use an in-memory
// pipe.
type Channel interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Conn is one client's session: its channel, its outbound frame queue and
// its request-ordering state. Responses and notifications for a connection
// are written by a single goroutine draining the outbox, so per-writer
// ordering holds without further locking.
type Conn struct {
	id  string
	ch  Channel
	log *zap.Logger

	out    *outbox
	closed atomic.Bool

	// Owned by the read loop.
	lastID int64

	// Owned by the dispatcher run loop: number of this connection's jobs
	// currently parked behind another connection's transaction.
	parked int
}

func newConn(ch Channel, log *zap.Logger) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:  id,
		ch:  ch,
		log: log.With(zap.String("conn_id", id)),
		out: newOutbox(),
	}
}

// ID returns the connection's identifier.
func (c *Conn) ID() string { return c.id }

// enqueue appends a frame to the outbound queue. Frames enqueued after the
// connection closed are dropped.
func (c *Conn) enqueue(frame []byte) {
	c.out.push(frame)
}

// writeLoop drains the outbox onto the channel. It exits once the outbox
// is closed and empty, then closes the channel.
func (c *Conn) writeLoop() {
	defer c.ch.Close()
	for {
		frame, ok := c.out.pop()
		if !ok {
			return
		}
		if err := c.ch.WriteMessage(frame); err != nil {
			c.log.Debug("write failed", zap.Error(err))
			return
		}
	}
}

// outbox is an unbounded FIFO of frames with a close-after-drain contract:
// pop keeps returning queued frames after close and reports done only once
// the queue is empty.
type outbox struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	signal chan struct{}
}

func newOutbox() *outbox {
	return &outbox{signal: make(chan struct{}, 1)}
}

func (o *outbox) push(frame []byte) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.frames = append(o.frames, frame)
	o.mu.Unlock()

	select {
	case o.signal <- struct{}{}:
	default:
	}
}

func (o *outbox) pop() ([]byte, bool) {
	for {
		o.mu.Lock()
		if len(o.frames) > 0 {
			frame := o.frames[0]
			o.frames[0] = nil
			o.frames = o.frames[1:]
			o.mu.Unlock()
			return frame, true
		}
		closed := o.closed
		o.mu.Unlock()
		if closed {
			return nil, false
		}
		<-o.signal
	}
}

func (o *outbox) close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	select {
	case o.signal <- struct{}{}:
	default:
	}
}
