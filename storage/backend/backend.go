// Package backend selects and opens a ledger.Store from configuration.
package backend

import (
	"fmt"
	"io"
	"strings"

	"lendledger/core/ledger"
	"lendledger/storage"
	"lendledger/storage/boltstore"
	"lendledger/storage/gormstore"
	"lendledger/storage/sqlstore"
)

// Supported drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverLevelDB  = "leveldb"
	DriverBolt     = "bolt"
)

// Config describes which backend holds the chain.
type Config struct {
	Driver string `yaml:"driver" toml:"Driver"`
	// DSN is the connection string for postgres, or an explicit SQLite DSN.
	DSN string `yaml:"dsn" toml:"DSN"`
	// Path is the on-disk location for sqlite, leveldb and bolt.
	Path string `yaml:"path" toml:"Path"`
}

// Normalize trims values and applies the default driver.
func (c *Config) Normalize() {
	c.Driver = strings.ToLower(strings.TrimSpace(c.Driver))
	if c.Driver == "" {
		c.Driver = DriverMemory
	}
	c.DSN = strings.TrimSpace(c.DSN)
	c.Path = strings.TrimSpace(c.Path)
}

// Validate reports missing settings for the selected driver.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverMemory:
		return nil
	case DriverPostgres:
		if c.DSN == "" {
			return fmt.Errorf("storage: postgres driver requires dsn")
		}
	case DriverSQLite:
		if c.DSN == "" && c.Path == "" {
			return fmt.Errorf("storage: sqlite driver requires path or dsn")
		}
	case DriverLevelDB, DriverBolt:
		if c.Path == "" {
			return fmt.Errorf("storage: %s driver requires path", c.Driver)
		}
	default:
		return fmt.Errorf("storage: unsupported driver %q", c.Driver)
	}
	return nil
}

// Open opens the configured store. The returned closer releases it.
func Open(cfg Config) (ledger.Store, io.Closer, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	switch cfg.Driver {
	case DriverPostgres:
		store, err := gormstore.OpenPostgres(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case DriverSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			var err error
			if dsn, err = sqlstore.FileDSN(cfg.Path); err != nil {
				return nil, nil, err
			}
		}
		store, err := sqlstore.Open(dsn)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case DriverLevelDB:
		store, err := storage.NewLevelStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case DriverBolt:
		store, err := boltstore.Open(cfg.Path, nil)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		store := storage.NewMemStore()
		return store, store, nil
	}
}
