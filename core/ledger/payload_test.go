package ledger

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func sampleBlock() Block {
	b := Block{
		Index:     4,
		Timestamp: time.Date(2024, 2, 29, 23, 59, 59, 123000000, time.UTC),
		Type:      TxRepayment,
		From:      "borrower-9",
		To:        "lender-2",
		Amount:    decimal.RequireFromString("250.75"),
		Payload: RepaymentPayload{
			LoanID:      "loan-9",
			RepaymentID: "rp-1",
			Installment: 3,
			Principal:   decimal.RequireFromString("230"),
			Interest:    decimal.RequireFromString("20.75"),
		},
		PreviousHash: "abc123",
	}
	b.CurrentHash, _ = ComputeHash(b)
	return b
}

func TestCanonicalContentIsSortedAndStable(t *testing.T) {
	content, err := CanonicalContent(sampleBlock())
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	want := `{"amount":"250.75","fromParty":"borrower-9","index":4,"payload":{"installment":3,"interest":"20.75","loanId":"loan-9","principal":"230","repaymentId":"rp-1"},"timestamp":"2024-02-29T23:59:59.123Z","toParty":"lender-2","transactionType":"repayment"}`
	if string(content) != want {
		t.Fatalf("unexpected canonical form:\n got %s\nwant %s", content, want)
	}
}

func TestCanonicalContentNullParties(t *testing.T) {
	b := Block{Type: TxLoanCreated, Timestamp: time.Unix(0, 0), Amount: decimal.NewFromInt(5000)}
	content, err := CanonicalContent(b)
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if !strings.Contains(string(content), `"toParty":null`) || !strings.Contains(string(content), `"payload":{}`) {
		t.Fatalf("expected null party and empty payload: %s", content)
	}
}

func TestEquivalentValuesHashIdentically(t *testing.T) {
	a := sampleBlock()
	b := a
	b.Amount = decimal.RequireFromString("250.750")
	b.Timestamp = a.Timestamp.In(time.FixedZone("UTC+3", 3*3600))
	hash, err := ComputeHash(b)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash != a.CurrentHash {
		t.Fatalf("equivalent content hashed differently")
	}
}

func TestPreviousHashIsCommitted(t *testing.T) {
	b := sampleBlock()
	b.PreviousHash = "abc124"
	if err := b.Verify(); !errors.Is(err, ErrContentTampered) {
		t.Fatalf("expected tamper error, got %v", err)
	}
}

func TestPayloadMismatchRejectedByHash(t *testing.T) {
	b := sampleBlock()
	b.Payload = LoanFundedPayload{LoanID: "x"}
	if _, err := ComputeHash(b); !errors.Is(err, ErrPayloadMismatch) {
		t.Fatalf("expected ErrPayloadMismatch, got %v", err)
	}
}

func TestDecodePayloadRoundTrip(t *testing.T) {
	payloads := []Payload{
		LoanCreatedPayload{LoanID: "l1", Purpose: "seeds", DurationMonths: 9, InterestRate: decimal.RequireFromString("12.5"), RiskScore: 40},
		LoanFundedPayload{LoanID: "l1", Purpose: "seeds", InterestRate: decimal.RequireFromString("12.5"), DurationMonths: 9},
		RepaymentPayload{LoanID: "l1", RepaymentID: "r1", Installment: 2, Principal: decimal.NewFromInt(100), Interest: decimal.RequireFromString("1.25")},
		LoanCreatedPayload{},
	}
	for _, p := range payloads {
		raw, err := EncodePayload(p)
		if err != nil {
			t.Fatalf("encode %s: %v", p.TxType(), err)
		}
		decoded, err := DecodePayload(p.TxType(), raw)
		if err != nil {
			t.Fatalf("decode %s: %v", p.TxType(), err)
		}
		again, err := EncodePayload(decoded)
		if err != nil {
			t.Fatalf("re-encode %s: %v", p.TxType(), err)
		}
		if string(raw) != string(again) {
			t.Fatalf("%s payload changed across round trip: %s vs %s", p.TxType(), raw, again)
		}
	}
}

func TestDecodePayloadRejectsForeignKeys(t *testing.T) {
	_, err := DecodePayload(TxLoanFunded, []byte(`{"loanId":"l1","riskScore":10}`))
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	if _, err := DecodePayload("transfer", []byte(`{}`)); !errors.Is(err, ErrUnknownTxType) {
		t.Fatalf("expected ErrUnknownTxType, got %v", err)
	}
	p, err := DecodePayload(TxRepayment, nil)
	if err != nil {
		t.Fatalf("decode empty: %v", err)
	}
	if _, ok := p.(RepaymentPayload); !ok {
		t.Fatalf("expected empty repayment payload, got %T", p)
	}
}

func TestBlockJSONPreservesHash(t *testing.T) {
	b := sampleBlock()
	raw, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Block
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := decoded.Verify(); err != nil {
		t.Fatalf("decoded block does not verify: %v", err)
	}
	if decoded.CurrentHash != b.CurrentHash || decoded.Index != b.Index {
		t.Fatalf("decoded block differs: %+v", decoded)
	}
}

func TestParseTxType(t *testing.T) {
	got, err := ParseTxType("  Loan_Funded ")
	if err != nil || got != TxLoanFunded {
		t.Fatalf("unexpected parse result %q %v", got, err)
	}
	if _, err := ParseTxType("loan_closed"); !errors.Is(err, ErrUnknownTxType) {
		t.Fatalf("expected ErrUnknownTxType, got %v", err)
	}
}

func TestWhitespaceIsCommitted(t *testing.T) {
	a := Block{
		Timestamp: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
		Type:      TxLoanCreated,
		From:      "borrower-1",
		Amount:    decimal.NewFromInt(300),
		Payload:   LoanCreatedPayload{LoanID: "l1", Purpose: "farm"},
	}
	padded := a
	padded.Payload = LoanCreatedPayload{LoanID: "l1", Purpose: "   farm   "}
	h1, err := ComputeHash(a)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := ComputeHash(padded)
	if err != nil {
		t.Fatalf("hash padded: %v", err)
	}
	if h1 == h2 {
		t.Fatalf("padded purpose hashed like the trimmed one")
	}
	padded = a
	padded.From = " borrower-1"
	if h3, _ := ComputeHash(padded); h3 == h1 {
		t.Fatalf("padded party hashed like the trimmed one")
	}
}

func TestParseTimestampIsStrict(t *testing.T) {
	ts, err := ParseTimestamp("2026-03-04T10:11:48.060Z")
	if err != nil {
		t.Fatalf("parse canonical: %v", err)
	}
	if ts.Nanosecond() != 60_000_000 || ts.Location() != time.UTC {
		t.Fatalf("unexpected timestamp %v", ts)
	}
	for _, raw := range []string{
		"2026-03-04T10:11:48.060999Z",
		"2026-03-04T10:11:48.06Z",
		"2026-03-04T10:11:48Z",
		"2026-03-04T10:11:48.060+00:00",
		"2026-03-04T13:11:48.060+03:00",
		" 2026-03-04T10:11:48.060Z",
	} {
		if _, err := ParseTimestamp(raw); err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}

func TestFromRecordRejectsNonCanonicalFields(t *testing.T) {
	rec, err := ToRecord(sampleBlock())
	if err != nil {
		t.Fatalf("to record: %v", err)
	}
	if _, err := FromRecord(rec); err != nil {
		t.Fatalf("canonical record rejected: %v", err)
	}
	cases := map[string]func(r *Record){
		"amount exponent":   func(r *Record) { r.Amount = "1e" },
		"amount padded":     func(r *Record) { r.Amount = "250.750" },
		"type case":         func(r *Record) { r.Type = "REPAYMENT" },
		"timestamp nanos":   func(r *Record) { r.Timestamp = "2024-02-29T23:59:59.123456Z" },
		"payload extra key": func(r *Record) { r.Payload = []byte(`{"installment":3,"interest":"20.75","loanId":"loan-9","note":"x","principal":"230","repaymentId":"rp-1"}`) },
		"payload spacing":   func(r *Record) { r.Payload = []byte(`{"installment": 3,"interest":"20.75","loanId":"loan-9","principal":"230","repaymentId":"rp-1"}`) },
		"payload decimal":   func(r *Record) { r.Payload = []byte(`{"installment":3,"interest":"20.750","loanId":"loan-9","principal":"230","repaymentId":"rp-1"}`) },
	}
	for name, edit := range cases {
		r := rec
		edit(&r)
		_, err := FromRecord(r)
		var corrupt *CorruptBlockError
		if !errors.As(err, &corrupt) || corrupt.Index != 4 {
			t.Fatalf("%s: expected corrupt block 4, got %v", name, err)
		}
		if !errors.Is(err, ErrContentTampered) {
			t.Fatalf("%s: expected ErrContentTampered, got %v", name, err)
		}
	}
}

func TestDecodeStoredBlockChecksKeyIndex(t *testing.T) {
	raw, err := json.Marshal(sampleBlock())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := DecodeStoredBlock(4, raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var corrupt *CorruptBlockError
	if _, err := DecodeStoredBlock(5, raw); !errors.As(err, &corrupt) || corrupt.Index != 5 {
		t.Fatalf("expected corrupt block 5, got %v", err)
	}
	if _, err := DecodeStoredBlock(7, []byte(`{"index":7,"amount":`)); !errors.As(err, &corrupt) || corrupt.Index != 7 {
		t.Fatalf("expected corrupt block 7, got %v", err)
	}
}
