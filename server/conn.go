package server

import (
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

type connState int32

const (
	stateConnecting connState = iota
	stateOpen
	stateClosing
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateOpen:
		return "open"
	case stateClosing:
		return "closing"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// conn is one client connection. Frames are read and handled one at a
// time on the goroutine running run; writes of broadcast messages happen
// on a second goroutine draining the outbox.
type conn struct {
	cs     *ControlServer
	ws     *websocket.Conn
	peer   string
	out    *outbox
	logger *slog.Logger
	state  atomic.Int32
}

func newConn(cs *ControlServer, ws *websocket.Conn) *conn {
	peer := uuid.NewString()
	c := &conn{
		cs:   cs,
		ws:   ws,
		peer: peer,
		out:  newOutbox(cs.sendBuffer),
		logger: cs.logger.With(
			"peer", peer,
			"remote", ws.RemoteAddr().String(),
		),
	}
	c.setState(stateConnecting)
	return c
}

func (c *conn) setState(s connState) {
	c.state.Store(int32(s))
}

func (c *conn) getState() connState {
	return connState(c.state.Load())
}

// run serves the connection until it fails or the client closes it.
func (c *conn) run() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("connection handler panicked", "panic", r)
		}
		c.teardown()
	}()

	c.ws.SetPingHandler(func(payload string) error {
		err := c.ws.WriteControl(websocket.PongMessage, []byte(payload), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil
		}
		return err
	})
	c.ws.SetCloseHandler(func(code int, text string) error {
		c.setState(stateClosing)
		c.logger.Info("client disconnected", "code", code, "reason", text)
		msg := websocket.FormatCloseMessage(code, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		return nil
	})

	doc, err := c.cs.resync(func() {
		c.cs.bc.Register(c.peer, c.out)
	})
	if err != nil {
		c.logger.Error("building resync document failed", "error", err)
		return
	}
	// The write loop is not running yet, so this frame goes out before
	// anything the broadcaster has queued.
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, doc); err != nil {
		c.logger.Warn("sending resync failed", "error", err)
		return
	}
	c.setState(stateOpen)
	c.logger.Info("websocket connection opened")

	go c.writeLoop()
	c.readLoop()
}

func (c *conn) readLoop() {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.getState() != stateClosing && !errors.Is(err, net.ErrClosed) &&
				!websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("reading from client failed", "error", err)
			}
			return
		}
		switch mt {
		case websocket.TextMessage:
			c.cs.receive(c.peer, data, c.logger)
		default:
			c.logger.Warn("ignoring unexpected frame", "type", mt, "size", len(data))
		}
	}
}

func (c *conn) writeLoop() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("connection writer panicked", "panic", r)
			c.ws.Close()
		}
	}()
	for {
		msg, ok := c.out.next()
		if !ok {
			if c.out.failed() {
				c.logger.Warn("closing connection of slow client")
				frame := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "send buffer full")
				c.ws.WriteControl(websocket.CloseMessage, frame, time.Now().Add(writeWait))
			}
			// Unblocks the read loop, which tears the connection down.
			c.ws.Close()
			return
		}
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.logger.Warn("writing to client failed", "error", err)
			// Unblocks the read loop, which tears the connection down.
			c.ws.Close()
			return
		}
	}
}

func (c *conn) teardown() {
	c.cs.bc.Deregister(c.peer)
	c.out.close()
	c.ws.Close()
	c.cs.forget(c)
	c.setState(stateClosed)
	c.logger.Debug("connection closed")
}
