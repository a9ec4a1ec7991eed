// Package broadcaster keeps the set of live client connections and fans
// encoded messages out to them.
package broadcaster

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrSlowConsumer is returned by a Handle whose outbound queue is full.
// The broadcaster treats it like any other send failure.
var ErrSlowConsumer = errors.New("outbound queue full")

// Handle is the outbound side of one connection. Send must not block for
// long: it is called once per registered handle on every broadcast.
type Handle interface {
	Send(msg []byte) error
}

type entry struct {
	peer   string
	handle Handle
}

// Broadcaster is a registry of connection handles keyed by peer identity.
// A *Broadcaster is meant to be shared; all holders see the same set of
// connections. Registration and fan-out may run concurrently.
type Broadcaster struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *slog.Logger
}

// New returns an empty Broadcaster. A nil logger means slog.Default().
func New(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// Register adds h under peer, replacing any handle already registered
// under the same identity.
func (b *Broadcaster) Register(peer string, h Handle) {
	b.mu.Lock()
	b.entries[peer] = &entry{peer: peer, handle: h}
	total := len(b.entries)
	b.mu.Unlock()
	b.logger.Debug("client registered", "peer", peer, "clients", total)
}

// Deregister removes the handle registered under peer, if any.
func (b *Broadcaster) Deregister(peer string) {
	b.mu.Lock()
	_, ok := b.entries[peer]
	delete(b.entries, peer)
	total := len(b.entries)
	b.mu.Unlock()
	if ok {
		b.logger.Debug("client deregistered", "peer", peer, "clients", total)
	}
}

// Len returns the number of registered handles.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Peers returns the identities of all registered handles.
func (b *Broadcaster) Peers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	peers := make([]string, 0, len(b.entries))
	for peer := range b.entries {
		peers = append(peers, peer)
	}
	return peers
}

// Broadcast sends msg to every registered handle and returns how many
// sends succeeded.
func (b *Broadcaster) Broadcast(msg []byte) int {
	return b.fanOut("", false, msg)
}

// BroadcastOthers sends msg to every registered handle except the one
// registered under excluded, so a client never gets its own update echoed.
func (b *Broadcaster) BroadcastOthers(excluded string, msg []byte) int {
	return b.fanOut(excluded, true, msg)
}

// fanOut sends outside the registry lock so Register and Deregister never
// wait on a client. Handles that fail are pruned afterwards, unless they
// were replaced in the meantime.
func (b *Broadcaster) fanOut(excluded string, exclude bool, msg []byte) int {
	b.mu.RLock()
	targets := make([]*entry, 0, len(b.entries))
	for peer, e := range b.entries {
		if exclude && peer == excluded {
			continue
		}
		targets = append(targets, e)
	}
	b.mu.RUnlock()

	var failed []*entry
	sent := 0
	for _, e := range targets {
		if err := send(e.handle, msg); err != nil {
			b.logger.Warn("dropping client after failed send", "peer", e.peer, "error", err)
			failed = append(failed, e)
			continue
		}
		sent++
	}

	if len(failed) > 0 {
		b.mu.Lock()
		for _, e := range failed {
			if b.entries[e.peer] == e {
				delete(b.entries, e.peer)
			}
		}
		b.mu.Unlock()
	}
	return sent
}

func send(h Handle, msg []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()
	return h.Send(msg)
}
