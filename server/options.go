package server

import (
	"log/slog"
)

const (
	// DefaultSubprotocol is selected when a client offers it during the
	// websocket handshake.
	DefaultSubprotocol = "controlsync"

	// DefaultSendBuffer is how many outbound messages may queue for one
	// client before it is dropped as too slow.
	DefaultSendBuffer = 256
)

// Publisher forwards changes applied on this server to other instances
// sharing the same control surface.
type Publisher interface {
	PublishUpdate(data []byte)
	PublishDefinition(text string)
}

// Option configures a ControlServer.
type Option func(*ControlServer)

func WithLogger(logger *slog.Logger) Option {
	return func(cs *ControlServer) {
		if logger != nil {
			cs.logger = logger
		}
	}
}

// WithPublisher makes the server forward every locally applied update and
// reload to p.
func WithPublisher(p Publisher) Option {
	return func(cs *ControlServer) { cs.publisher = p }
}

func WithSendBuffer(n int) Option {
	return func(cs *ControlServer) {
		if n > 0 {
			cs.sendBuffer = n
		}
	}
}

// WithSubprotocols sets the websocket subprotocols the server accepts, in
// order of preference.
func WithSubprotocols(protocols ...string) Option {
	return func(cs *ControlServer) { cs.subprotocols = protocols }
}

// WithStaticDir serves the files in dir (typically a browser UI) over
// plain HTTP.
func WithStaticDir(dir string) Option {
	return func(cs *ControlServer) { cs.staticDir = dir }
}
