// Package server hosts a control tree and keeps every connected websocket
// client's view of it consistent.
//
// All reads and writes of the control state go through one mutex held only
// for the in-memory step; encoding and network sends happen after it is
// released. A panic inside that critical section is recovered and the lock
// released, so one fault never wedges the server: later callers carry on
// with the last state the map was left in.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"controlsync/broadcaster"
	"controlsync/controls"
)

// ErrClosed is returned by Start-related calls on a closed server.
var ErrClosed = errors.New("control server closed")

// ControlServer owns the control state and the set of connected clients.
type ControlServer struct {
	mu   sync.Mutex
	info *ControlInfo

	bc *broadcaster.Broadcaster

	procMu    sync.Mutex
	processor UpdateProcessor
	publisher Publisher

	logger       *slog.Logger
	sendBuffer   int
	subprotocols []string
	staticDir    string
	upgrader     websocket.Upgrader

	connsMu    sync.Mutex
	conns      map[*conn]struct{}
	closed     bool
	httpServer *http.Server
	listener   net.Listener
}

// New builds a server from a definition document without listening
// anywhere. processor may be nil. Serve it with Handler or use Start.
func New(definition string, processor UpdateProcessor, opts ...Option) (*ControlServer, error) {
	info, err := newControlInfo(definition)
	if err != nil {
		return nil, err
	}
	cs := &ControlServer{
		info:         info,
		processor:    processor,
		logger:       slog.Default(),
		sendBuffer:   DefaultSendBuffer,
		subprotocols: []string{DefaultSubprotocol},
		conns:        make(map[*conn]struct{}),
	}
	for _, opt := range opts {
		opt(cs)
	}
	cs.bc = broadcaster.New(cs.logger)
	cs.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		Subprotocols:    cs.subprotocols,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	cs.logger.Info("control layout loaded", "title", info.title, "controls", len(info.cm))
	return cs, nil
}

// withInfo runs fn with exclusive access to the control state. It reports
// false if fn panicked; the panic is logged and the lock released.
func (cs *ControlServer) withInfo(op string, fn func(ci *ControlInfo)) (ok bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			cs.logger.Error("recovered fault in control state", "op", op, "panic", r)
			ok = false
		}
	}()
	fn(cs.info)
	return true
}

// Broadcaster returns the server's client registry.
func (cs *ControlServer) Broadcaster() *broadcaster.Broadcaster {
	return cs.bc
}

// Update applies msg and sends it to every connected client. Updates for
// unknown controls are ignored. The update processor is not called:
// it only hears about changes made by clients.
func (cs *ControlServer) Update(msg controls.UpdateMsg) error {
	data, err := controls.EncodeUpdate(&msg)
	if err != nil {
		return err
	}
	var applied bool
	cs.withInfo("update", func(ci *ControlInfo) {
		applied = controls.Apply(ci.cm, &msg)
	})
	if !applied {
		return nil
	}
	cs.bc.Broadcast(data)
	if cs.publisher != nil {
		cs.publisher.PublishUpdate(data)
	}
	return nil
}

// UpdateLabel sets the text of the label control called name.
func (cs *ControlServer) UpdateLabel(name, label string) error {
	id, ok := cs.ControlID(name)
	if !ok {
		return nil
	}
	return cs.Update(controls.LabelUpdate(id, label))
}

// UpdateButton sets the fields given as non-nil on the button called name.
func (cs *ControlServer) UpdateButton(name string, state *controls.State, label *string) error {
	id, ok := cs.ControlID(name)
	if !ok {
		return nil
	}
	return cs.Update(controls.ButtonUpdate(id, state, label))
}

// UpdateSlider sets the fields given as non-nil on the slider called name.
func (cs *ControlServer) UpdateSlider(name string, state *controls.State, location *float64, label *string) error {
	id, ok := cs.ControlID(name)
	if !ok {
		return nil
	}
	return cs.Update(controls.SliderUpdate(id, state, location, label))
}

// LoadGuiString replaces the whole control surface with the one described
// by text and sends text to every client so they rebuild their view. A
// malformed definition is rejected before anything changes.
func (cs *ControlServer) LoadGuiString(text string) error {
	if err := cs.swapInfo(text); err != nil {
		return err
	}
	if cs.publisher != nil {
		cs.publisher.PublishDefinition(text)
	}
	return nil
}

func (cs *ControlServer) swapInfo(text string) error {
	info, err := newControlInfo(text)
	if err != nil {
		return fmt.Errorf("loading control layout: %w", err)
	}
	cs.withInfo("load", func(*ControlInfo) {
		cs.info = info
	})
	cs.logger.Info("new control layout received", "title", info.title, "controls", len(info.cm))
	cs.bc.Broadcast([]byte(text))
	return nil
}

// ApplyRemote applies an encoded update received from another instance
// and sends it to every local client. It is neither published again nor
// passed to the update processor.
func (cs *ControlServer) ApplyRemote(data []byte) error {
	msg, err := controls.DecodeUpdate(data)
	if err != nil {
		return err
	}
	var applied bool
	cs.withInfo("remote update", func(ci *ControlInfo) {
		applied = controls.Apply(ci.cm, &msg)
	})
	if applied {
		cs.bc.Broadcast(data)
	}
	return nil
}

// LoadRemote is LoadGuiString for a definition received from another
// instance; it is not published again.
func (cs *ControlServer) LoadRemote(text string) error {
	return cs.swapInfo(text)
}

// receive handles one update frame from the client registered as peer.
func (cs *ControlServer) receive(peer string, data []byte, logger *slog.Logger) {
	msg, err := controls.DecodeUpdate(data)
	if err != nil {
		logger.Warn("ignoring malformed update", "error", err)
		return
	}
	var applied bool
	cs.withInfo("client update", func(ci *ControlInfo) {
		applied = controls.Apply(ci.cm, &msg)
	})
	if applied {
		cs.bc.BroadcastOthers(peer, data)
		if cs.publisher != nil {
			cs.publisher.PublishUpdate(data)
		}
	} else {
		logger.Debug("update for unknown control", "control_id", msg.ControlID.String())
	}
	cs.notify(msg, logger)
}

func (cs *ControlServer) notify(msg controls.UpdateMsg, logger *slog.Logger) {
	if cs.processor == nil {
		return
	}
	info := cs.Info()
	cs.procMu.Lock()
	defer cs.procMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("update processor panicked", "panic", r)
		}
	}()
	cs.processor.OnUpdateReceived(msg, info)
}

// Info returns a private copy of the current control surface.
func (cs *ControlServer) Info() *ControlInfo {
	var info *ControlInfo
	cs.withInfo("info", func(ci *ControlInfo) {
		info = ci.clone()
	})
	return info
}

// GetName returns the name of the control at id.
func (cs *ControlServer) GetName(id controls.ID) (name string, ok bool) {
	cs.withInfo("get name", func(ci *ControlInfo) {
		name, ok = ci.GetName(id)
	})
	return name, ok
}

// ControlID resolves a control name to its position.
func (cs *ControlServer) ControlID(name string) (id controls.ID, ok bool) {
	cs.withInfo("control id", func(ci *ControlInfo) {
		id, ok = ci.ControlID(name)
	})
	return id, ok
}

// NewUpdate returns an update addressed at the named control with no
// fields set, ready for the caller to fill in and pass to Update.
func (cs *ControlServer) NewUpdate(name string) (msg controls.UpdateMsg, ok bool) {
	cs.withInfo("new update", func(ci *ControlInfo) {
		id, found := ci.cnm[name]
		if !found {
			return
		}
		msg, ok = controls.EmptyUpdate(ci.cm, id)
	})
	return msg, ok
}

// resync returns the document a new client starts from. register runs
// under the state lock, so no update can slip in between the snapshot and
// the registration.
func (cs *ControlServer) resync(register func()) ([]byte, error) {
	var (
		definition string
		state      []controls.UpdateMsg
	)
	ok := cs.withInfo("resync", func(ci *ControlInfo) {
		definition = ci.guiJSON
		state = controls.Snapshot(ci.cm)
		if register != nil {
			register()
		}
	})
	if !ok {
		return nil, errors.New("reading control state failed")
	}
	return controls.ResyncDocument(definition, state)
}
