// controlserver hosts a control surface for websocket clients.
//
// The control layout is read from a JSON definition file (comments
// allowed). Send SIGHUP to reload it; every client is resynchronised with
// the new layout. Optional Redis, Postgres and mDNS integrations are
// enabled from the config file or flags.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"controlsync/config"
	"controlsync/controls"
	"controlsync/discovery"
	"controlsync/journal"
	"controlsync/relay"
	"controlsync/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		listen      string
		definition  string
		staticDir   string
		redisAddr   string
		postgresDSN string
		mdns        bool
		logLevel    string
	)
	flagSet := pflag.NewFlagSet("controlserver", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to YAML config file (default: $"+config.EnvVar+")")
	flagSet.StringVar(&listen, "listen", "", "address to listen on")
	flagSet.StringVar(&definition, "definition", "", "path to the control definition document")
	flagSet.StringVar(&staticDir, "static", "", "directory of static files to serve")
	flagSet.StringVar(&redisAddr, "redis", "", "redis address for sharing state between instances")
	flagSet.StringVar(&postgresDSN, "postgres", "", "postgres DSN for the update journal")
	flagSet.BoolVar(&mdns, "mdns", false, "advertise the server over mDNS")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if flagSet.Changed("listen") {
		cfg.Listen = listen
	}
	if flagSet.Changed("definition") {
		cfg.Definition = definition
	} else if args := flagSet.Args(); len(args) > 0 {
		cfg.Definition = args[0]
	}
	if flagSet.Changed("static") {
		cfg.StaticDir = staticDir
	}
	if flagSet.Changed("redis") {
		cfg.Redis.Addr = redisAddr
	}
	if flagSet.Changed("postgres") {
		cfg.Postgres.DSN = postgresDSN
	}
	if flagSet.Changed("mdns") {
		cfg.MDNS.Enabled = mdns
	}
	if flagSet.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := cfg.Log.NewLogger()
	slog.SetDefault(logger)

	text, err := config.ReadDefinition(cfg.Definition)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithSendBuffer(cfg.SendBuffer),
		server.WithSubprotocols(cfg.Subprotocol),
		server.WithStaticDir(cfg.StaticDir),
	}
	processors := []server.UpdateProcessor{logUpdates(logger)}

	if cfg.Postgres.DSN != "" {
		pool, j, err := journal.Open(ctx, cfg.Postgres.DSN, logger)
		if err != nil {
			return err
		}
		defer pool.Close()
		logger.Info("update journal enabled")
		processors = append(processors, j)
	}

	var rl *relay.Relay
	if cfg.Redis.Addr != "" {
		rdb, err := relay.Connect(ctx, cfg.Redis.Addr, logger)
		if err != nil {
			return err
		}
		defer rdb.Close()
		rl = relay.New(rdb, cfg.Redis.Channel, logger)
		opts = append(opts, server.WithPublisher(rl))
	}

	cs, err := server.Start(text, server.Processors(processors...), cfg.Listen, opts...)
	if err != nil {
		return err
	}
	defer cs.Close()

	if rl != nil {
		go func() {
			if err := rl.Run(ctx, cs); err != nil {
				logger.Error("relay stopped", "error", err)
			}
		}()
	}

	if cfg.MDNS.Enabled {
		port := cs.Addr().(*net.TCPAddr).Port
		if err := discovery.Advertise(ctx, cfg.MDNS.Instance, cfg.MDNS.Service, port, logger); err != nil {
			logger.Warn("mDNS advertisement failed", "error", err)
		}
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-hup:
			text, err := config.ReadDefinition(cfg.Definition)
			if err == nil {
				err = cs.LoadGuiString(text)
			}
			if err != nil {
				logger.Error("reloading control layout failed, keeping the current one", "error", err)
			}
		}
	}
}

func logUpdates(logger *slog.Logger) server.UpdateProcessor {
	return server.UpdateProcessorFunc(func(msg controls.UpdateMsg, info *server.ControlInfo) {
		name, _ := info.GetName(msg.ControlID)
		logger.Debug("update received", "type", msg.Type, "control_id", msg.ControlID.String(), "name", name)
	})
}
