// File: server/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server configuration, loadable from TOML.

package server

import (
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/momentics/hioload-uring/api"
	"github.com/momentics/hioload-uring/reactor"
	"github.com/sirupsen/logrus"
)

// Config holds all server-side configuration parameters.
type Config struct {
	ListenAddr   string         `toml:"listen_addr"`   // TCP bind address, e.g. ":8080"
	Backlog      int            `toml:"backlog"`       // listen(2) backlog
	BindAttempts int            `toml:"bind_attempts"` // bind tries while the address is in use
	LogLevel     string         `toml:"log_level"`     // logrus level name
	LogFormat    string         `toml:"log_format"`    // "text" or "json"
	CPU          int            `toml:"cpu"`           // pin the loop thread to this CPU, -1 disables
	Reactor      reactor.Config `toml:"reactor"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:   ":8080",
		Backlog:      4096,
		BindAttempts: 8,
		LogLevel:     "info",
		LogFormat:    "text",
		CPU:          -1,
		Reactor:      reactor.DefaultConfig(),
	}
}

// LoadConfig reads a TOML document over the defaults. Unknown keys are an error.
func LoadConfig(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	md, err := toml.NewDecoder(r).Decode(cfg)
	if err != nil {
		return nil, fmt.Errorf("server: config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("server: config: unknown keys %s: %w", strings.Join(keys, ", "), api.ErrInvalidArgument)
	}
	return cfg, cfg.Validate()
}

// LoadConfigFile is LoadConfig on a file path.
func LoadConfigFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("server: config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("server: config %s: unknown key %s: %w", path, undecoded[0], api.ErrInvalidArgument)
	}
	return cfg, cfg.Validate()
}

// Validate checks the server fields and the loop configuration.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("server: empty listen address: %w", api.ErrInvalidArgument)
	}
	if c.Backlog <= 0 {
		return fmt.Errorf("server: backlog %d: %w", c.Backlog, api.ErrInvalidArgument)
	}
	if c.BindAttempts <= 0 {
		return fmt.Errorf("server: bind attempts %d: %w", c.BindAttempts, api.ErrInvalidArgument)
	}
	if c.CPU < -1 {
		return fmt.Errorf("server: cpu %d: %w", c.CPU, api.ErrInvalidArgument)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("server: %v: %w", err, api.ErrInvalidArgument)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("server: log format %q: %w", c.LogFormat, api.ErrInvalidArgument)
	}
	return c.Reactor.Validate()
}

// NewLogger builds a logger with the configured level and formatter.
func (c *Config) NewLogger(out io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(level)
	if c.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}
