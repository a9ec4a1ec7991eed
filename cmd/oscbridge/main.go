// oscbridge answers OSC key messages from a hardware control surface with
// label messages.
//
//	oscbridge <listen host:port> <peer host:port>
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"controlsync/config"
	"controlsync/oscbridge"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var logLevel string
	flagSet := pflag.NewFlagSet("oscbridge", pflag.ContinueOnError)
	flagSet.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	flagSet.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: oscbridge [flags] <listen host:port> <peer host:port>")
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	args := flagSet.Args()
	if len(args) != 2 {
		flagSet.Usage()
		return errors.New("expected a listen address and a peer address")
	}

	logger := config.LogConfig{Level: logLevel, Format: "text"}.NewLogger()
	slog.SetDefault(logger)

	bridge, err := oscbridge.Listen(args[0], args[1], logger)
	if err != nil {
		return err
	}
	logger.Info("osc bridge running", "listen", args[0], "peer", args[1])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return bridge.Run(ctx)
}
