package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lendledger/storage/backend"
)

func TestLoadRequiresExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledgerctl.tmol")

	_, err := Load(path)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
	if _, statErr := os.Stat(path); !errors.Is(statErr, fs.ErrNotExist) {
		t.Fatalf("load created a config file: %v", statErr)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "ledger.db")); !errors.Is(statErr, fs.ErrNotExist) {
		t.Fatalf("load created a ledger: %v", statErr)
	}
}

func TestInitWritesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "ledgerctl.toml")

	cfg, err := Init(path)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if cfg.Storage.Driver != backend.DriverSQLite {
		t.Fatalf("expected sqlite default, got %q", cfg.Storage.Driver)
	}
	if cfg.Storage.Path != filepath.Join(dir, "nested", "ledger.db") {
		t.Fatalf("unexpected default path %q", cfg.Storage.Path)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if *again != *cfg {
		t.Fatalf("reloaded config differs: %+v vs %+v", again, cfg)
	}

	if _, err := Init(path); !errors.Is(err, fs.ErrExist) {
		t.Fatalf("expected existing config to be kept, got %v", err)
	}
}

func TestLoadParsesStorageAndLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `[Storage]
Driver = " LevelDB "
Path = "/var/lib/lendledger/chain"

[Log]
Level = "DEBUG"
File = "/var/log/ledgerctl.log"
MaxSizeMB = 50
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != backend.DriverLevelDB {
		t.Fatalf("driver not normalized: %q", cfg.Storage.Driver)
	}
	if cfg.Storage.Path != "/var/lib/lendledger/chain" {
		t.Fatalf("unexpected path %q", cfg.Storage.Path)
	}
	if cfg.Log.Level != "debug" || cfg.Log.MaxSizeMB != 50 {
		t.Fatalf("unexpected log config %+v", cfg.Log)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `[Storage]
Driver = "memory"
Replicas = 3
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "Replicas") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"memory", Config{Storage: backend.Config{Driver: "memory"}, Log: Log{Level: "info"}}, true},
		{"postgres without dsn", Config{Storage: backend.Config{Driver: "postgres"}, Log: Log{Level: "info"}}, false},
		{"bolt without path", Config{Storage: backend.Config{Driver: "bolt"}, Log: Log{Level: "info"}}, false},
		{"unknown driver", Config{Storage: backend.Config{Driver: "mongo"}, Log: Log{Level: "info"}}, false},
		{"bad level", Config{Storage: backend.Config{Driver: "memory"}, Log: Log{Level: "verbose"}}, false},
		{"negative rotation", Config{Storage: backend.Config{Driver: "memory"}, Log: Log{Level: "warn", MaxBackups: -1}}, false},
	}
	for _, tc := range cases {
		err := tc.cfg.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
