package ledger

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"
)

// blockJSON is the persisted record layout shared by the key/value backends.
type blockJSON struct {
	Index           uint64          `json:"index"`
	Timestamp       string          `json:"timestamp"`
	TransactionType string          `json:"transactionType"`
	FromParty       *string         `json:"fromParty"`
	ToParty         *string         `json:"toParty"`
	Amount          string          `json:"amount"`
	Payload         json.RawMessage `json:"payload"`
	PreviousHash    string          `json:"previousHash"`
	CurrentHash     string          `json:"currentHash"`
}

// MarshalJSON encodes the block in its persisted record layout.
func (b Block) MarshalJSON() ([]byte, error) {
	payload, err := EncodePayload(b.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(blockJSON{
		Index:           b.Index,
		Timestamp:       FormatTimestamp(b.Timestamp),
		TransactionType: string(b.Type),
		FromParty:       partyPtr(b.From),
		ToParty:         partyPtr(b.To),
		Amount:          b.Amount.String(),
		Payload:         payload,
		PreviousHash:    b.PreviousHash,
		CurrentHash:     b.CurrentHash,
	})
}

// UnmarshalJSON decodes a persisted record, rebuilding the typed payload.
func (b *Block) UnmarshalJSON(data []byte) error {
	var raw blockJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	// Indented documents re-indent the embedded payload.
	var payload bytes.Buffer
	if err := json.Compact(&payload, raw.Payload); err != nil {
		return err
	}
	decoded, err := FromRecord(Record{
		Index:        raw.Index,
		Timestamp:    raw.Timestamp,
		Type:         raw.TransactionType,
		From:         deptr(raw.FromParty),
		To:           deptr(raw.ToParty),
		Amount:       raw.Amount,
		Payload:      payload.Bytes(),
		PreviousHash: raw.PreviousHash,
		CurrentHash:  raw.CurrentHash,
	})
	if err != nil {
		return err
	}
	*b = decoded
	return nil
}

// Record is the flat, string typed form of a block used by the SQL backends.
type Record struct {
	Index        uint64
	Timestamp    string
	Type         string
	From         string
	To           string
	Amount       string
	Payload      []byte
	PreviousHash string
	CurrentHash  string
}

// ToRecord flattens b for persistence.
func ToRecord(b Block) (Record, error) {
	payload, err := EncodePayload(b.Payload)
	if err != nil {
		return Record{}, err
	}
	return Record{
		Index:        b.Index,
		Timestamp:    FormatTimestamp(b.Timestamp),
		Type:         string(b.Type),
		From:         string(b.From),
		To:           string(b.To),
		Amount:       b.Amount.String(),
		Payload:      payload,
		PreviousHash: b.PreviousHash,
		CurrentHash:  b.CurrentHash,
	}, nil
}

// FromRecord rebuilds a block from its flattened form. Every field must be in
// the exact text form ToRecord produces; anything else is reported as a
// *CorruptBlockError for the record's index.
func FromRecord(r Record) (Block, error) {
	t, err := ParseTxType(r.Type)
	if err != nil {
		return Block{}, corrupt(r.Index, "%w", err)
	}
	if string(t) != r.Type {
		return Block{}, corrupt(r.Index, "transaction type %q is not canonical", r.Type)
	}
	ts, err := ParseTimestamp(r.Timestamp)
	if err != nil {
		return Block{}, corrupt(r.Index, "timestamp: %w", err)
	}
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return Block{}, corrupt(r.Index, "amount: %w", err)
	}
	if amount.String() != r.Amount {
		return Block{}, corrupt(r.Index, "amount %q is not canonical", r.Amount)
	}
	payload, err := DecodePayload(t, r.Payload)
	if err != nil {
		return Block{}, corrupt(r.Index, "%w", err)
	}
	canonical, err := EncodePayload(payload)
	if err != nil {
		return Block{}, corrupt(r.Index, "%w", err)
	}
	if !bytes.Equal(canonical, r.Payload) {
		return Block{}, corrupt(r.Index, "%w: payload is not canonical", ErrInvalidPayload)
	}
	return Block{
		Index:        r.Index,
		Timestamp:    ts,
		Type:         t,
		From:         PartyID(r.From),
		To:           PartyID(r.To),
		Amount:       amount,
		Payload:      payload,
		PreviousHash: r.PreviousHash,
		CurrentHash:  r.CurrentHash,
	}, nil
}

// DecodeStoredBlock decodes a block persisted with json.Marshal under the key
// for index. Decode failures and records claiming another index are reported
// as a *CorruptBlockError.
func DecodeStoredBlock(index uint64, raw []byte) (Block, error) {
	var b Block
	if err := json.Unmarshal(raw, &b); err != nil {
		var ce *CorruptBlockError
		if errors.As(err, &ce) {
			return Block{}, &CorruptBlockError{Index: index, Err: ce.Err}
		}
		return Block{}, corrupt(index, "decode: %w", err)
	}
	if b.Index != index {
		return Block{}, corrupt(index, "record claims index %d", b.Index)
	}
	return b, nil
}

// StoredTxType reads only the transaction type of a persisted record, so
// counting blocks does not depend on the rest of the record decoding.
func StoredTxType(raw []byte) (TxType, error) {
	var head struct {
		TransactionType string `json:"transactionType"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", err
	}
	return TxType(head.TransactionType), nil
}

func partyPtr(p PartyID) *string {
	if p.IsZero() {
		return nil
	}
	s := string(p)
	return &s
}

func deptr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
