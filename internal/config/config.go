// Package config reads the progsync TOML config file and resolves it,
// together with the environment, into runtime settings.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/roach88/progsync/internal/remote"
	"github.com/roach88/progsync/internal/timeacc"
)

// TokenEnv names the environment variable holding the bearer token.
const TokenEnv = "PROGSYNC_TOKEN"

// FileConfig represents the TOML configuration file. Pointer fields are
// nil when the key is absent.
type FileConfig struct {
	Remote  RemoteConfig  `toml:"remote"`
	Store   StoreConfig   `toml:"store"`
	Catalog CatalogConfig `toml:"catalog"`
	Timing  TimingConfig  `toml:"timing"`
}

// RemoteConfig maps the [remote] section.
type RemoteConfig struct {
	BaseURL *string   `toml:"base_url"`
	Token   *string   `toml:"token"`
	Timeout *Duration `toml:"timeout"`
}

// StoreConfig maps the [store] section.
type StoreConfig struct {
	Path *string `toml:"path"`
}

// CatalogConfig maps the [catalog] section.
type CatalogConfig struct {
	Dir *string `toml:"dir"`
}

// TimingConfig maps the [timing] section.
type TimingConfig struct {
	Tick     *Duration `toml:"tick"`
	Flush    *Duration `toml:"flush"`
	Check    *Duration `toml:"check"`
	Realtime *bool     `toml:"realtime"`
}

// Duration is a time.Duration written as "15s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	if v <= 0 {
		return fmt.Errorf("invalid duration %q: must be positive", text)
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return FileConfig{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	return cfg, nil
}

// Config is the resolved runtime configuration.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	DBPath     string
	CatalogDir string
	Timing     timeacc.Config
}

// Offline reports whether no remote service is configured.
func (c Config) Offline() bool {
	return c.BaseURL == ""
}

// Resolve applies defaults and the environment to a file config.
// The token from the environment wins over the file.
func Resolve(fc FileConfig) Config {
	cfg := Config{
		Timeout: remote.DefaultTimeout,
		DBPath:  DefaultDBPath(),
	}
	if fc.Remote.BaseURL != nil {
		cfg.BaseURL = *fc.Remote.BaseURL
	}
	if fc.Remote.Token != nil {
		cfg.Token = *fc.Remote.Token
	}
	if v := os.Getenv(TokenEnv); v != "" {
		cfg.Token = v
	}
	if fc.Remote.Timeout != nil {
		cfg.Timeout = fc.Remote.Timeout.Duration
	}
	if fc.Store.Path != nil && *fc.Store.Path != "" {
		cfg.DBPath = *fc.Store.Path
	}
	if fc.Catalog.Dir != nil {
		cfg.CatalogDir = *fc.Catalog.Dir
	}
	if fc.Timing.Tick != nil {
		cfg.Timing.Tick = fc.Timing.Tick.Duration
	}
	if fc.Timing.Flush != nil {
		cfg.Timing.Flush = fc.Timing.Flush.Duration
	}
	if fc.Timing.Check != nil {
		cfg.Timing.Check = fc.Timing.Check.Duration
	}
	if fc.Timing.Realtime != nil {
		cfg.Timing.Realtime = *fc.Timing.Realtime
	}
	return cfg
}

// Load reads path and resolves it. An empty path selects the default
// config location.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	fc, err := LoadConfig(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Resolve(fc)
	if cfg.Timing.Tick > 0 && cfg.Timing.Tick < time.Second {
		return Config{}, fmt.Errorf("timing.tick must be at least 1s, got %s", cfg.Timing.Tick)
	}
	return cfg, nil
}
