package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"lendledger/core/ledger"
)

func TestLedgerMetricsCountAppendOutcomes(t *testing.T) {
	m := NewLedgerMetrics(prometheus.NewRegistry())
	m.ObserveAppend(ledger.TxLoanCreated, 1, nil, time.Millisecond)
	m.ObserveAppend(ledger.TxLoanFunded, 2, nil, time.Millisecond)
	m.ObserveAppend(ledger.TxLoanFunded, 0, ledger.ErrDuplicateIndex, time.Millisecond)
	m.ObserveAppend("bogus", 0, ledger.ErrUnknownTxType, time.Millisecond)
	m.ObserveAppend(ledger.TxRepayment, 0, ledger.Unavailable("write", errors.New("io")), time.Millisecond)

	if got := testutil.ToFloat64(m.appends.WithLabelValues("loan_created", "success")); got != 1 {
		t.Fatalf("expected 1 created success, got %v", got)
	}
	if got := testutil.ToFloat64(m.appends.WithLabelValues("loan_funded", "conflict")); got != 1 {
		t.Fatalf("expected 1 funded conflict, got %v", got)
	}
	if got := testutil.ToFloat64(m.appends.WithLabelValues("unknown", "rejected")); got != 1 {
		t.Fatalf("expected 1 rejected unknown, got %v", got)
	}
	if got := testutil.ToFloat64(m.appends.WithLabelValues("repayment", "unavailable")); got != 1 {
		t.Fatalf("expected 1 unavailable repayment, got %v", got)
	}
	if got := testutil.ToFloat64(m.height); got != 2 {
		t.Fatalf("expected height 2, got %v", got)
	}
}

func TestLedgerMetricsValidationResults(t *testing.T) {
	m := NewLedgerMetrics(prometheus.NewRegistry())
	m.ObserveValidation(ledger.Report{Valid: true, Count: 9}, time.Millisecond)
	m.ObserveValidation(ledger.Report{Valid: false, Index: 4, Reason: ledger.ReasonContentTampered}, time.Millisecond)

	if got := testutil.ToFloat64(m.validations.WithLabelValues("valid")); got != 1 {
		t.Fatalf("expected 1 valid run, got %v", got)
	}
	if got := testutil.ToFloat64(m.validations.WithLabelValues("content_tampered")); got != 1 {
		t.Fatalf("expected 1 tampered run, got %v", got)
	}
	if got := testutil.ToFloat64(m.height); got != 9 {
		t.Fatalf("expected height 9, got %v", got)
	}
}

func TestLedgerMetricsSingleton(t *testing.T) {
	if LedgerMetrics() != LedgerMetrics() {
		t.Fatalf("expected the shared recorder to be reused")
	}
}
