// Package config loads the operator configuration used by ledgerctl.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"lendledger/storage/backend"
)

// Config is the on-disk TOML layout.
type Config struct {
	Storage backend.Config `toml:"Storage"`
	Log     Log            `toml:"Log"`
}

// Log controls ledgerctl diagnostics. Command output always goes to stdout;
// log lines go to stderr and, when File is set, to a rotated file.
type Log struct {
	Level      string `toml:"Level"`
	File       string `toml:"File,omitempty"`
	MaxSizeMB  int    `toml:"MaxSizeMB,omitempty"`
	MaxBackups int    `toml:"MaxBackups,omitempty"`
	Compress   bool   `toml:"Compress,omitempty"`
}

// Load reads the configuration at path. A missing file is an error matching
// os.ErrNotExist; Init writes the defaults.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path required")
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file %s not found: %w", path, err)
		}
		return nil, err
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a file-backed SQLite ledger next to the config.
func Default(path string) *Config {
	dir := filepath.Dir(path)
	if dir == "" {
		dir = "."
	}
	cfg := &Config{
		Storage: backend.Config{
			Driver: backend.DriverSQLite,
			Path:   filepath.Join(dir, "ledger.db"),
		},
		Log: Log{Level: "info"},
	}
	cfg.normalize()
	return cfg
}

// Init writes the default configuration to path. An existing file is left
// untouched and reported as an error matching os.ErrExist.
func Init(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path required")
	}
	cfg := Default(path)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Storage.Normalize()
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	c.Log.File = strings.TrimSpace(c.Log.File)
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
