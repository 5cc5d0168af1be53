package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Payload carries the transaction specific detail of a block. Each transaction
// type has exactly one payload variant.
type Payload interface {
	TxType() TxType
	// Fields returns the canonical key/value form hashed into the block. Zero
	// valued fields are omitted.
	Fields() map[string]any
}

// LoanCreatedPayload details a loan request at creation time.
type LoanCreatedPayload struct {
	LoanID         string
	Purpose        string
	DurationMonths int
	InterestRate   decimal.Decimal
	RiskScore      int
}

// LoanFundedPayload details the funding of a loan request.
type LoanFundedPayload struct {
	LoanID         string
	Purpose        string
	InterestRate   decimal.Decimal
	DurationMonths int
}

// RepaymentPayload details a repayment instalment.
type RepaymentPayload struct {
	LoanID      string
	RepaymentID string
	Installment int
	Principal   decimal.Decimal
	Interest    decimal.Decimal
}

func (LoanCreatedPayload) TxType() TxType { return TxLoanCreated }
func (LoanFundedPayload) TxType() TxType  { return TxLoanFunded }
func (RepaymentPayload) TxType() TxType   { return TxRepayment }

func (p LoanCreatedPayload) Fields() map[string]any {
	f := fieldSet{}
	f.str("loanId", p.LoanID)
	f.str("purpose", p.Purpose)
	f.num("duration", p.DurationMonths)
	f.dec("interestRate", p.InterestRate)
	f.num("riskScore", p.RiskScore)
	return f
}

func (p LoanFundedPayload) Fields() map[string]any {
	f := fieldSet{}
	f.str("loanId", p.LoanID)
	f.str("purpose", p.Purpose)
	f.dec("interestRate", p.InterestRate)
	f.num("duration", p.DurationMonths)
	return f
}

func (p RepaymentPayload) Fields() map[string]any {
	f := fieldSet{}
	f.str("loanId", p.LoanID)
	f.str("repaymentId", p.RepaymentID)
	f.num("installment", p.Installment)
	f.dec("principal", p.Principal)
	f.dec("interest", p.Interest)
	return f
}

// trimPayload strips surrounding whitespace from the identifier and text
// fields of p. Appends store the trimmed values, so the hash covers exactly
// what is persisted.
func trimPayload(p Payload) Payload {
	switch v := p.(type) {
	case LoanCreatedPayload:
		v.LoanID, v.Purpose = strings.TrimSpace(v.LoanID), strings.TrimSpace(v.Purpose)
		return v
	case LoanFundedPayload:
		v.LoanID, v.Purpose = strings.TrimSpace(v.LoanID), strings.TrimSpace(v.Purpose)
		return v
	case RepaymentPayload:
		v.LoanID, v.RepaymentID = strings.TrimSpace(v.LoanID), strings.TrimSpace(v.RepaymentID)
		return v
	default:
		return p
	}
}

// NewPayload returns the empty payload variant for the type.
func NewPayload(t TxType) (Payload, error) {
	switch t {
	case TxLoanCreated:
		return LoanCreatedPayload{}, nil
	case TxLoanFunded:
		return LoanFundedPayload{}, nil
	case TxRepayment:
		return RepaymentPayload{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTxType, string(t))
	}
}

// EncodePayload renders the payload in its canonical JSON form. A nil payload
// encodes as an empty object.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.Fields())
}

// wirePayload is the superset of every variant's stored keys. Decimal values are
// stored as strings.
type wirePayload struct {
	LoanID       string           `json:"loanId"`
	Purpose      string           `json:"purpose"`
	Duration     int              `json:"duration"`
	InterestRate *decimal.Decimal `json:"interestRate"`
	RiskScore    int              `json:"riskScore"`
	RepaymentID  string           `json:"repaymentId"`
	Installment  int              `json:"installment"`
	Principal    *decimal.Decimal `json:"principal"`
	Interest     *decimal.Decimal `json:"interest"`
}

var allowedPayloadKeys = map[TxType]map[string]struct{}{
	TxLoanCreated: keySet("loanId", "purpose", "duration", "interestRate", "riskScore"),
	TxLoanFunded:  keySet("loanId", "purpose", "interestRate", "duration"),
	TxRepayment:   keySet("loanId", "repaymentId", "installment", "principal", "interest"),
}

// DecodePayload rebuilds the payload variant for t from its stored canonical
// form. Empty input yields the empty variant.
func DecodePayload(t TxType, raw []byte) (Payload, error) {
	allowed, ok := allowedPayloadKeys[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTxType, string(t))
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return NewPayload(t)
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &keys); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	for key := range keys {
		if _, ok := allowed[key]; !ok {
			return nil, fmt.Errorf("%w: unexpected key %q for %s", ErrInvalidPayload, key, t)
		}
	}
	var w wirePayload
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	switch t {
	case TxLoanCreated:
		return LoanCreatedPayload{
			LoanID:         w.LoanID,
			Purpose:        w.Purpose,
			DurationMonths: w.Duration,
			InterestRate:   deref(w.InterestRate),
			RiskScore:      w.RiskScore,
		}, nil
	case TxLoanFunded:
		return LoanFundedPayload{
			LoanID:         w.LoanID,
			Purpose:        w.Purpose,
			InterestRate:   deref(w.InterestRate),
			DurationMonths: w.Duration,
		}, nil
	default:
		return RepaymentPayload{
			LoanID:      w.LoanID,
			RepaymentID: w.RepaymentID,
			Installment: w.Installment,
			Principal:   deref(w.Principal),
			Interest:    deref(w.Interest),
		}, nil
	}
}

type fieldSet map[string]any

func (f fieldSet) str(key, value string) {
	if value != "" {
		f[key] = value
	}
}

func (f fieldSet) num(key string, value int) {
	if value != 0 {
		f[key] = value
	}
}

func (f fieldSet) dec(key string, value decimal.Decimal) {
	if !value.IsZero() {
		f[key] = value.String()
	}
}

func keySet(keys ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out
}

func deref(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
