package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"lendledger/core/ledger"
	"lendledger/storage/storetest"
)

func openTestDB(t *testing.T) *Store {
	t.Helper()
	store, err := Open(MemoryDSN(uuid.NewString()))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.Store { return openTestDB(t) })
}

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open("  "); err != ErrPathRequired {
		t.Fatalf("expected ErrPathRequired, got %v", err)
	}
	if _, err := FileDSN(""); err != ErrPathRequired {
		t.Fatalf("expected ErrPathRequired from FileDSN, got %v", err)
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dsn, err := FileDSN(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("file dsn: %v", err)
	}
	chain := storetest.Chain(t, 4)

	store, err := Open(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, b := range chain {
		if err := store.Append(context.Background(), b); err != nil {
			t.Fatalf("append %d: %v", b.Index, err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(dsn)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	engine, err := ledger.NewEngine(reopened)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	report, err := engine.Validate(context.Background())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !report.Valid || report.Count != 4 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestLoanCreatedStoresNullCounterparty(t *testing.T) {
	store := openTestDB(t)
	chain := storetest.Chain(t, 1)
	if err := store.Append(context.Background(), chain[0]); err != nil {
		t.Fatalf("append: %v", err)
	}
	var to *string
	if err := store.db.QueryRow(`SELECT to_party FROM ledger_blocks WHERE block_index = 0`).Scan(&to); err != nil {
		t.Fatalf("query: %v", err)
	}
	if to != nil {
		t.Fatalf("expected NULL to_party, got %q", *to)
	}
}

func TestEditedRowsReportContentTampered(t *testing.T) {
	cases := []struct {
		name   string
		update string
	}{
		{"AmountReplaced", `UPDATE ledger_blocks SET amount = '9999' WHERE block_index = 3`},
		{"AmountNotDecimal", `UPDATE ledger_blocks SET amount = '1e' WHERE block_index = 3`},
		{"AmountReformatted", `UPDATE ledger_blocks SET amount = '400.0' WHERE block_index = 3`},
		{"TypeSwapped", `UPDATE ledger_blocks SET tx_type = 'loan_funded' WHERE block_index = 3`},
		{"TypeUppercased", `UPDATE ledger_blocks SET tx_type = 'LOAN_CREATED' WHERE block_index = 3`},
		{"PayloadExtraKey", `UPDATE ledger_blocks SET payload = replace(payload, '{', '{"note":"waived",') WHERE block_index = 3`},
		{"PayloadPadded", `UPDATE ledger_blocks SET payload = replace(payload, '"working capital"', '"   working capital   "') WHERE block_index = 3`},
		{"PayloadNotJSON", `UPDATE ledger_blocks SET payload = 'loan' WHERE block_index = 3`},
		{"TimestampExtraDigits", `UPDATE ledger_blocks SET created_at = replace(created_at, 'Z', '999Z') WHERE block_index = 3`},
		{"TimestampOffset", `UPDATE ledger_blocks SET created_at = replace(created_at, 'Z', '+00:00') WHERE block_index = 3`},
		{"PartyPadded", `UPDATE ledger_blocks SET from_party = ' ' || from_party WHERE block_index = 3`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := openTestDB(t)
			for _, b := range storetest.Chain(t, 5) {
				if err := store.Append(context.Background(), b); err != nil {
					t.Fatalf("append %d: %v", b.Index, err)
				}
			}
			res, err := store.db.Exec(tc.update)
			if err != nil {
				t.Fatalf("update: %v", err)
			}
			if n, _ := res.RowsAffected(); n != 1 {
				t.Fatalf("expected one edited row, got %d", n)
			}
			storetest.RequireTampered(t, store, 3)
		})
	}
}
