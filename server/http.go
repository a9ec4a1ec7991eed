package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Start builds a server from definition and serves it on addr. The
// listener is bound before Start returns, so address errors are reported
// here; connections are served in the background until Close.
func Start(definition string, processor UpdateProcessor, addr string, opts ...Option) (*ControlServer, error) {
	cs, err := New(definition, processor, opts...)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	cs.listener = ln
	cs.httpServer = &http.Server{
		Handler:           cs.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := cs.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cs.logger.Error("http server stopped", "error", err)
		}
	}()
	cs.logger.Info("control server listening", "addr", ln.Addr().String())
	return cs, nil
}

// Addr returns the listening address of a server created by Start.
func (cs *ControlServer) Addr() net.Addr {
	if cs.listener == nil {
		return nil
	}
	return cs.listener.Addr()
}

// Close stops accepting connections and closes every open one.
func (cs *ControlServer) Close() error {
	cs.connsMu.Lock()
	if cs.closed {
		cs.connsMu.Unlock()
		return ErrClosed
	}
	cs.closed = true
	conns := make([]*conn, 0, len(cs.conns))
	for c := range cs.conns {
		conns = append(conns, c)
	}
	cs.connsMu.Unlock()

	var err error
	if cs.httpServer != nil {
		err = cs.httpServer.Close()
	}
	for _, c := range conns {
		c.ws.Close()
	}
	return err
}

func (cs *ControlServer) track(c *conn) bool {
	cs.connsMu.Lock()
	defer cs.connsMu.Unlock()
	if cs.closed {
		return false
	}
	cs.conns[c] = struct{}{}
	return true
}

func (cs *ControlServer) forget(c *conn) {
	cs.connsMu.Lock()
	delete(cs.conns, c)
	cs.connsMu.Unlock()
}

// Handler returns the HTTP handler of the server. Websocket upgrades are
// accepted on any path; GET /gui returns the current resync document and
// GET /healthz reports liveness.
func (cs *ControlServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.MatcherFunc(func(req *http.Request, _ *mux.RouteMatch) bool {
		return websocket.IsWebSocketUpgrade(req)
	}).HandlerFunc(cs.serveWS)
	r.HandleFunc("/gui", cs.serveGUI).Methods(http.MethodGet)
	r.HandleFunc("/healthz", cs.serveHealth).Methods(http.MethodGet)
	if cs.staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(cs.staticDir)))
	}
	return r
}

func (cs *ControlServer) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := cs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied with an HTTP error.
		cs.logger.Warn("websocket handshake failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := newConn(cs, ws)
	if !cs.track(c) {
		ws.Close()
		return
	}
	c.run()
}

func (cs *ControlServer) serveGUI(w http.ResponseWriter, r *http.Request) {
	doc, err := cs.resync(nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(doc)
}

func (cs *ControlServer) serveHealth(w http.ResponseWriter, r *http.Request) {
	info := cs.Info()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"title":    info.Title(),
		"controls": info.Len(),
		"clients":  cs.bc.Len(),
	})
}
