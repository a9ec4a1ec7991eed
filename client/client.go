// Package client speaks the control server's websocket protocol: it
// receives the resync document, sends updates and reads the updates other
// clients make.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"controlsync/controls"
)

const writeWait = 10 * time.Second

// Document is a full control surface as sent by the server: on connect
// (with State set) and after a layout reload (without State).
type Document struct {
	Title string               `json:"title"`
	Root  json.RawMessage      `json:"root"`
	State []controls.UpdateMsg `json:"state,omitempty"`
	Raw   []byte               `json:"-"`
}

// Event is one frame received from the server. Exactly one of Resync and
// Update is set, or neither when the frame was not understood; Raw always
// holds the frame.
type Event struct {
	Resync *Document
	Update *controls.UpdateMsg
	Raw    []byte
}

type options struct {
	logger       *slog.Logger
	subprotocols []string
}

// Option configures Dial and Follow.
type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithSubprotocols(protocols ...string) Option {
	return func(o *options) { o.subprotocols = protocols }
}

// Client is one connection to a control server. Send may be called
// concurrently with Next.
type Client struct {
	ws      *websocket.Conn
	resync  *Document
	logger  *slog.Logger
	writeMu sync.Mutex
}

// Dial connects to url (ws:// or wss://) and waits for the resync
// document.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     o.subprotocols,
	}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", url, err)
	}
	c := &Client{ws: ws, logger: o.logger}

	_, data, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("reading resync: %w", err)
	}
	doc, err := parseDocument(data)
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("reading resync: %w", err)
	}
	c.resync = doc
	return c, nil
}

func parseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Root) == 0 {
		return nil, errors.New("document has no root")
	}
	doc.Raw = data
	return &doc, nil
}

// Resync returns the document received when the connection was opened.
func (c *Client) Resync() *Document {
	return c.resync
}

// Subprotocol returns the subprotocol the server selected.
func (c *Client) Subprotocol() string {
	return c.ws.Subprotocol()
}

// Send encodes msg and sends it to the server.
func (c *Client) Send(msg controls.UpdateMsg) error {
	data, err := controls.EncodeUpdate(&msg)
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

// SendRaw sends data as a text frame without checking it.
func (c *Client) SendRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Ping sends a ping frame; the pong is handled by Next.
func (c *Client) Ping(payload []byte) error {
	return c.ws.WriteControl(websocket.PingMessage, payload, time.Now().Add(writeWait))
}

// SetPongHandler installs h to be called from Next for every pong.
func (c *Client) SetPongHandler(h func(payload string) error) {
	c.ws.SetPongHandler(h)
}

// Next blocks for the next frame from the server.
func (c *Client) Next() (Event, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return Event{}, err
		}
		if mt != websocket.TextMessage {
			c.logger.Debug("ignoring non-text frame", "type", mt)
			continue
		}
		ev := Event{Raw: data}
		if msg, err := controls.DecodeUpdate(data); err == nil {
			ev.Update = &msg
		} else if doc, err := parseDocument(data); err == nil {
			ev.Resync = doc
		}
		return ev, nil
	}
}

// Close performs the closing handshake and closes the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.writeMu.Unlock()
	if cerr := c.ws.Close(); err == nil {
		err = cerr
	}
	return err
}

// Follow keeps a connection to url open until ctx is done, reconnecting
// with exponential backoff. handle is called with the resync event of
// every new connection and with every event after it.
func Follow(ctx context.Context, url string, handle func(Event), opts ...Option) error {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0

	session := func() error {
		c, err := Dial(ctx, url, opts...)
		if err != nil {
			return err
		}
		defer c.Close()
		b.Reset()
		stop := context.AfterFunc(ctx, func() { c.ws.Close() })
		defer stop()

		o.logger.Info("connected to control server", "url", url, "title", c.resync.Title)
		handle(Event{Resync: c.resync, Raw: c.resync.Raw})
		for {
			ev, err := c.Next()
			if err != nil {
				return err
			}
			handle(ev)
		}
	}
	notify := func(err error, wait time.Duration) {
		o.logger.Warn("control server connection lost", "error", err, "retry_in", wait)
	}
	err := backoff.RetryNotify(session, backoff.WithContext(b, ctx), notify)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
