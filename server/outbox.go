package server

import (
	"errors"
	"sync"

	"github.com/eapache/queue"

	"controlsync/broadcaster"
)

var errOutboxClosed = errors.New("connection closed")

// outbox is the broadcaster.Handle of one connection: a bounded FIFO
// drained by the connection's write loop. Send never blocks; a full queue
// means the client is too slow. The outbox then fails for good: pending
// messages are discarded and the write loop ends the connection, so the
// client has to reconnect and resync.
type outbox struct {
	mu         sync.Mutex
	q          *queue.Queue
	limit      int
	closed     bool
	overflowed bool
	ready      chan struct{}
}

var _ broadcaster.Handle = (*outbox)(nil)

func newOutbox(limit int) *outbox {
	return &outbox{
		q:     queue.New(),
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

func (o *outbox) Send(msg []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errOutboxClosed
	}
	if o.q.Length() >= o.limit {
		o.overflowed = true
		o.closed = true
		o.q = queue.New()
		o.signal()
		return broadcaster.ErrSlowConsumer
	}
	o.q.Add(msg)
	o.signal()
	return nil
}

func (o *outbox) signal() {
	select {
	case o.ready <- struct{}{}:
	default:
	}
}

// next blocks until a message is queued or the outbox is closed. Messages
// queued before close are still returned, unless the outbox overflowed.
func (o *outbox) next() ([]byte, bool) {
	for {
		o.mu.Lock()
		if o.q.Length() > 0 {
			msg := o.q.Remove().([]byte)
			o.mu.Unlock()
			return msg, true
		}
		closed := o.closed
		o.mu.Unlock()
		if closed {
			return nil, false
		}
		<-o.ready
	}
}

func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.signal()
	o.mu.Unlock()
}

// failed reports whether the outbox was closed because it overflowed.
func (o *outbox) failed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.overflowed
}
