// Package config loads the nfcbinderd service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/librescoot/nfc-binder/transport"
)

const (
	EnvSocket  = "NFCBINDER_SOCKET"
	EnvBackend = "NFCBINDER_BACKEND"
)

const (
	DefaultSocket   = "/run/nfc/hal.sock"
	DefaultBackend  = transport.BackendAIDL
	DefaultInstance = "default"
)

var (
	ErrNoSocket = errors.New("config: socket path is empty")
	ErrBackend  = errors.New("config: unsupported backend")
)

type Service struct {
	Socket   string
	Backend  string
	Instance string
}

type Log struct {
	Level     string
	Hexdump   bool
	NoColor   bool
	Timestamp bool
}

type Metrics struct {
	// Listen is the address of the Prometheus endpoint, empty disables it
	Listen string
}

type Config struct {
	Service Service
	Log     Log
	Metrics Metrics
}

// config.toml key mapping
type fileConfig struct {
	Socket        string `toml:"socket"`
	Backend       string `toml:"backend"`
	Instance      string `toml:"instance"`
	LogLevel      string `toml:"log_level"`
	LogHexdump    bool   `toml:"log_hexdump"`
	LogNoColor    bool   `toml:"log_nocolor"`
	LogTimestamp  bool   `toml:"log_timestamp"`
	MetricsListen string `toml:"metrics_listen"`
}

func Default() Config {
	return Config{
		Service: Service{
			Socket:   DefaultSocket,
			Backend:  DefaultBackend,
			Instance: DefaultInstance,
		},
		Log: Log{
			Level:     "info",
			Timestamp: true,
		},
	}
}

// Load overlays the keys defined in the TOML file at path on Default,
// then applies environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		var raw fileConfig
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
		}

		if meta.IsDefined("socket") {
			cfg.Service.Socket = strings.TrimSpace(raw.Socket)
		}
		if meta.IsDefined("backend") {
			cfg.Service.Backend = strings.ToLower(strings.TrimSpace(raw.Backend))
		}
		if meta.IsDefined("instance") {
			cfg.Service.Instance = strings.TrimSpace(raw.Instance)
		}
		if meta.IsDefined("log_level") {
			cfg.Log.Level = strings.TrimSpace(raw.LogLevel)
		}
		if meta.IsDefined("log_hexdump") {
			cfg.Log.Hexdump = raw.LogHexdump
		}
		if meta.IsDefined("log_nocolor") {
			cfg.Log.NoColor = raw.LogNoColor
		}
		if meta.IsDefined("log_timestamp") {
			cfg.Log.Timestamp = raw.LogTimestamp
		}
		if meta.IsDefined("metrics_listen") {
			cfg.Metrics.Listen = strings.TrimSpace(raw.MetricsListen)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvSocket)); v != "" {
		cfg.Service.Socket = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBackend)); v != "" {
		cfg.Service.Backend = strings.ToLower(v)
	}
}

func (c Config) Validate() error {
	if c.Service.Socket == "" {
		return ErrNoSocket
	}
	switch c.Service.Backend {
	case transport.BackendAIDL, transport.BackendHIDL:
	default:
		return fmt.Errorf("%w: %q", ErrBackend, c.Service.Backend)
	}
	return nil
}
