// Package discovery announces control servers on the local network over
// mDNS and finds them again from clients.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/grandcat/zeroconf"
)

const (
	DefaultService = "_controlsync._tcp"
	Domain         = "local."
)

// Entry is a server found by Browse.
type Entry struct {
	Instance string
	Host     string
	Port     int
	Path     string
}

// URL returns the websocket URL of the server.
func (e Entry) URL() string {
	path := e.Path
	if path == "" {
		path = "/ws"
	}
	return "ws://" + net.JoinHostPort(e.Host, strconv.Itoa(e.Port)) + path
}

// InstanceName returns the default instance name for this host.
func InstanceName() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("controlsync-%s", host)
}

// Advertise registers the server under instance until ctx is done.
func Advertise(ctx context.Context, instance, service string, port int, logger *slog.Logger) error {
	if service == "" {
		service = DefaultService
	}
	if logger == nil {
		logger = slog.Default()
	}
	if instance == "" {
		instance = InstanceName()
	}
	server, err := zeroconf.Register(instance, service, Domain, port, []string{"txtv=0", "path=/ws"}, nil)
	if err != nil {
		return fmt.Errorf("registering mDNS service: %w", err)
	}
	logger.Info("mDNS service registered", "instance", instance, "service", service, "port", port)
	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()
	return nil
}

// Browse collects the servers that answer until ctx is done.
func Browse(ctx context.Context, service string, logger *slog.Logger) ([]Entry, error) {
	if service == "" {
		service = DefaultService
	}
	if logger == nil {
		logger = slog.Default()
	}
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("initializing mDNS resolver: %w", err)
	}
	results := make(chan *zeroconf.ServiceEntry)
	done := make(chan []Entry)
	go func() {
		var found []Entry
		defer func() { done <- found }()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-results:
				if !ok {
					return
				}
				entry, ok := toEntry(e)
				if !ok {
					continue
				}
				logger.Debug("mDNS discovered server", "instance", entry.Instance, "url", entry.URL())
				found = append(found, entry)
			}
		}
	}()
	if err := resolver.Browse(ctx, service, Domain, results); err != nil {
		return nil, fmt.Errorf("browsing for mDNS services: %w", err)
	}
	<-ctx.Done()
	return <-done, nil
}

func toEntry(e *zeroconf.ServiceEntry) (Entry, bool) {
	entry := Entry{Instance: e.Instance, Port: e.Port}
	switch {
	case len(e.AddrIPv4) > 0:
		entry.Host = e.AddrIPv4[0].String()
	case len(e.AddrIPv6) > 0:
		entry.Host = e.AddrIPv6[0].String()
	default:
		return Entry{}, false
	}
	for _, txt := range e.Text {
		if len(txt) > 5 && txt[:5] == "path=" {
			entry.Path = txt[5:]
		}
	}
	return entry, true
}
