// Package config loads the control server configuration.
//
// Configuration comes from one YAML file named by the --config flag or the
// CONTROLSYNC_CONFIG environment variable. Values missing from the file
// keep their defaults; command-line flags override both.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "CONTROLSYNC_CONFIG"

// Config is the full server configuration.
type Config struct {
	// Listen is the TCP address the HTTP/websocket server binds.
	Listen string `yaml:"listen"`

	// Definition is the path of the control definition document. JSON
	// with comments and trailing commas is accepted.
	Definition string `yaml:"definition"`

	// StaticDir, if set, is served over HTTP (typically a browser UI).
	StaticDir string `yaml:"static_dir"`

	// Subprotocol is the websocket subprotocol selected when offered.
	Subprotocol string `yaml:"subprotocol"`

	// SendBuffer is the per-client outbound queue length.
	SendBuffer int `yaml:"send_buffer"`

	Log      LogConfig      `yaml:"log"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	MDNS     MDNSConfig     `yaml:"mdns"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// RedisConfig enables the multi-instance relay when Addr is set.
type RedisConfig struct {
	Addr    string `yaml:"addr"`
	Channel string `yaml:"channel"`
}

// PostgresConfig enables the update journal when DSN is set.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type MDNSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
	Service  string `yaml:"service"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:      "0.0.0.0:9001",
		Subprotocol: "controlsync",
		SendBuffer:  256,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Redis: RedisConfig{
			Channel: "controlsync",
		},
		MDNS: MDNSConfig{
			Service: "_controlsync._tcp",
		},
	}
}

// Load reads path over the defaults. An empty path falls back to
// CONTROLSYNC_CONFIG; if both are empty the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if c.Definition == "" {
		return errors.New("definition path is required")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive, got %d", c.SendBuffer)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// ReadDefinition reads a control definition file, stripping comments and
// trailing commas so the result is plain JSON.
func ReadDefinition(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading definition: %w", err)
	}
	return string(jsonc.ToJSON(data)), nil
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// NewLogger builds the process logger described by c, writing to stderr.
func (c LogConfig) NewLogger() *slog.Logger {
	level, err := ParseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
