// controlagent connects to a control server, prints the control surface
// and follows the updates other clients make. With --send it sends update
// frames instead and exits.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"controlsync/client"
	"controlsync/config"
	"controlsync/controls"
	"controlsync/discovery"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		url         string
		discover    bool
		service     string
		subprotocol string
		sends       []string
		logLevel    string
	)
	flagSet := pflag.NewFlagSet("controlagent", pflag.ContinueOnError)
	flagSet.StringVar(&url, "url", "ws://localhost:9001/ws", "websocket URL of the control server")
	flagSet.BoolVar(&discover, "discover", false, "find the server over mDNS instead of using --url")
	flagSet.StringVar(&service, "service", discovery.DefaultService, "mDNS service type to browse for")
	flagSet.StringVar(&subprotocol, "subprotocol", "controlsync", "websocket subprotocol to offer")
	flagSet.StringArrayVar(&sends, "send", nil, "update frame to send, e.g. '{\"type\":\"slider\",\"control_id\":[0],\"location\":0.5}' (repeatable)")
	flagSet.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	logger := config.LogConfig{Level: logLevel, Format: "text"}.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if discover {
		browseCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		entries, err := discovery.Browse(browseCtx, service, logger)
		cancel()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return fmt.Errorf("no %s server found", service)
		}
		url = entries[0].URL()
		logger.Info("discovered control server", "instance", entries[0].Instance, "url", url)
	}

	opts := []client.Option{client.WithLogger(logger), client.WithSubprotocols(subprotocol)}
	if len(sends) > 0 {
		return send(ctx, url, sends, opts)
	}
	return client.Follow(ctx, url, printEvent, opts...)
}

func send(ctx context.Context, url string, frames []string, opts []client.Option) error {
	c, err := client.Dial(ctx, url, opts...)
	if err != nil {
		return err
	}
	defer c.Close()
	for _, frame := range frames {
		msg, err := controls.DecodeUpdate([]byte(frame))
		if err != nil {
			return fmt.Errorf("update %q: %w", frame, err)
		}
		if err := c.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

func printEvent(ev client.Event) {
	switch {
	case ev.Resync != nil:
		fmt.Printf("layout %q (%d stateful controls)\n", ev.Resync.Title, len(ev.Resync.State))
		for _, msg := range ev.Resync.State {
			printUpdate(msg)
		}
	case ev.Update != nil:
		printUpdate(*ev.Update)
	default:
		fmt.Printf("? %s\n", ev.Raw)
	}
}

func printUpdate(msg controls.UpdateMsg) {
	fmt.Printf("%-6s %-10s", msg.Type, msg.ControlID)
	if msg.State != nil {
		fmt.Printf(" state=%s", *msg.State)
	}
	if msg.Location != nil {
		fmt.Printf(" location=%.3f", *msg.Location)
	}
	if msg.Label != nil {
		fmt.Printf(" label=%q", *msg.Label)
	}
	fmt.Println()
}
