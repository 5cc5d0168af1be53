package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"lendledger/storage/backend"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "auditd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  driver: SQLite
  path: ./ledger.db
auth:
  hmac_secret: "0123456789abcdef0123456789abcdef"
participants:
  " user-1 ": " Amina Yusuf "
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":8090" || cfg.ShutdownTimeout != 10*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Storage.Driver != backend.DriverSQLite {
		t.Fatalf("driver not normalised: %q", cfg.Storage.Driver)
	}
	if cfg.Auth.RoleClaim != "role" || cfg.Auth.AdminRole != "admin" {
		t.Fatalf("auth defaults missing: %+v", cfg.Auth)
	}
	if cfg.RateLimit.ValidatePerMinute != 6 || cfg.RateLimit.Burst != 2 {
		t.Fatalf("rate limit defaults missing: %+v", cfg.RateLimit)
	}
	if cfg.Participants["user-1"] != "Amina Yusuf" {
		t.Fatalf("participants not trimmed: %v", cfg.Participants)
	}
}

func TestLoadReadsSecretFromEnv(t *testing.T) {
	t.Setenv("AUDITD_TEST_SECRET", "abcdefghijklmnopqrstuvwxyz0123456789")
	path := writeConfig(t, `
auth:
  secret_env: AUDITD_TEST_SECRET
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Auth.HMACSecret != "abcdefghijklmnopqrstuvwxyz0123456789" {
		t.Fatalf("secret not loaded from env")
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"missing secret": "listen: \":9000\"\n",
		"short secret":   "auth:\n  hmac_secret: short\n",
		"bad driver":     "storage:\n  driver: mongo\nauth:\n  disabled: true\n",
		"unknown field":  "listen: \":9000\"\nbogus: true\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadRequiresPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
