// Package tick forwards application events to a kdb+ tickerplant. It is
// the boundary layer above the kdb IPC client: transport failures are
// logged and reported as booleans here and never propagate to callers.
package tick

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config controls the forwarder. Zero values fall back to the defaults
// of the original integration.
type Config struct {
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	Auth            string   `toml:"auth"`
	Name            string   `toml:"name"`
	Func            string   `toml:"func"`
	ListenAddr      string   `toml:"listen_addr"`
	IncludeEntities []string `toml:"include_entities"`
	ExcludeEntities []string `toml:"exclude_entities"`
	RetrySeconds    int      `toml:"retry_interval_seconds"`
}

const (
	DefaultHost         = "localhost"
	DefaultPort         = 5010
	DefaultName         = "hass_event"
	DefaultFunc         = ".u.updjson"
	DefaultListenAddr   = ":9464"
	DefaultRetrySeconds = 60
)

// DefaultConfig returns the forwarder defaults.
func DefaultConfig() Config {
	return Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		Name:         DefaultName,
		Func:         DefaultFunc,
		ListenAddr:   DefaultListenAddr,
		RetrySeconds: DefaultRetrySeconds,
	}
}

// LoadConfig reads a TOML config file, overlaying defined keys on the
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	var raw Config
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, errors.Wrap(err, "load tick config")
	}
	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("auth") {
		cfg.Auth = raw.Auth
	}
	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("func") {
		cfg.Func = strings.TrimSpace(raw.Func)
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("include_entities") {
		cfg.IncludeEntities = raw.IncludeEntities
	}
	if meta.IsDefined("exclude_entities") {
		cfg.ExcludeEntities = raw.ExcludeEntities
	}
	if meta.IsDefined("retry_interval_seconds") {
		cfg.RetrySeconds = raw.RetrySeconds
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Host == "" {
		return errors.New("host must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("port %d out of range", c.Port)
	}
	if c.RetrySeconds <= 0 {
		return errors.Errorf("retry_interval_seconds %d must be positive", c.RetrySeconds)
	}
	return nil
}

// RetryInterval is how long the forwarder waits before reconnecting.
func (c Config) RetryInterval() time.Duration {
	return time.Duration(c.RetrySeconds) * time.Second
}
