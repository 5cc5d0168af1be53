package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// GenesisHash is the previous hash recorded by the block at index zero.
const GenesisHash = "0"

// TxType enumerates the transactions audited by the ledger.
type TxType string

const (
	// TxLoanCreated records a borrower opening a loan request.
	TxLoanCreated TxType = "loan_created"
	// TxLoanFunded records a lender funding a loan request.
	TxLoanFunded TxType = "loan_funded"
	// TxRepayment records a borrower repaying a lender.
	TxRepayment TxType = "repayment"
)

var txTypes = []TxType{TxLoanCreated, TxLoanFunded, TxRepayment}

// TxTypes returns the supported transaction types in a stable order.
func TxTypes() []TxType {
	out := make([]TxType, len(txTypes))
	copy(out, txTypes)
	return out
}

// Valid reports whether the type belongs to the closed set.
func (t TxType) Valid() bool {
	switch t {
	case TxLoanCreated, TxLoanFunded, TxRepayment:
		return true
	default:
		return false
	}
}

func (t TxType) String() string { return string(t) }

// ParseTxType normalises and validates a transaction type string.
func ParseTxType(raw string) (TxType, error) {
	t := TxType(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownTxType, raw)
	}
	return t, nil
}

// PartyID references an external account. The zero value means no party.
type PartyID string

// IsZero reports whether no party is referenced.
func (p PartyID) IsZero() bool { return p == "" }

func (p PartyID) String() string { return string(p) }

// Block is one immutable ledger record.
type Block struct {
	Index        uint64
	Timestamp    time.Time
	Type         TxType
	From         PartyID
	To           PartyID
	Amount       decimal.Decimal
	Payload      Payload
	PreviousHash string
	CurrentHash  string
}

// Entry describes a transaction submitted for recording. Index, timestamp and
// hashes are assigned by the engine.
type Entry struct {
	Type    TxType
	From    PartyID
	To      PartyID
	Amount  decimal.Decimal
	Payload Payload
}

// Stats aggregates block counts.
type Stats struct {
	Total  uint64
	ByType map[TxType]uint64
}

// Count returns the number of blocks recorded for the type.
func (s Stats) Count(t TxType) uint64 {
	if s.ByType == nil {
		return 0
	}
	return s.ByType[t]
}

// NewStats returns a Stats value with a zero entry for every type.
func NewStats() Stats {
	byType := make(map[TxType]uint64, len(txTypes))
	for _, t := range txTypes {
		byType[t] = 0
	}
	return Stats{ByType: byType}
}
