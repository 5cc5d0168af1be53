package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"lendledger/core/ledger"
)

func TestValidateRejectsIncompleteConfig(t *testing.T) {
	cases := map[string]Config{
		"unknown":  {Driver: "mongo"},
		"postgres": {Driver: DriverPostgres},
		"sqlite":   {Driver: DriverSQLite},
		"leveldb":  {Driver: DriverLevelDB},
		"bolt":     {Driver: DriverBolt},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			cfg.Normalize()
			require.Error(t, cfg.Validate())
		})
	}
}

func TestNormalizeDefaultsToMemory(t *testing.T) {
	cfg := Config{Driver: "  "}
	cfg.Normalize()
	require.Equal(t, DriverMemory, cfg.Driver)
	require.NoError(t, cfg.Validate())
}

func TestOpenEveryFileBackend(t *testing.T) {
	dir := t.TempDir()
	configs := []Config{
		{Driver: DriverMemory},
		{Driver: "SQLite", Path: filepath.Join(dir, "ledger.db")},
		{Driver: DriverLevelDB, Path: filepath.Join(dir, "leveldb")},
		{Driver: DriverBolt, Path: filepath.Join(dir, "ledger.bolt")},
	}
	for _, cfg := range configs {
		t.Run(cfg.Driver, func(t *testing.T) {
			store, closer, err := Open(cfg)
			require.NoError(t, err)
			defer closer.Close()

			engine, err := ledger.NewEngine(store)
			require.NoError(t, err)
			_, err = engine.Append(context.Background(), ledger.Entry{
				Type:   ledger.TxLoanCreated,
				From:   "borrower-1",
				Amount: decimal.NewFromInt(5000),
			})
			require.NoError(t, err)
			report, err := engine.Validate(context.Background())
			require.NoError(t, err)
			require.True(t, report.Valid)
			require.Equal(t, uint64(1), report.Count)
		})
	}
}
