package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the canonical text form of a block timestamp. Blocks carry
// millisecond precision so every backend can persist them losslessly.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders ts in the canonical UTC layout.
func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a timestamp in TimestampLayout. Values that do not
// format back to the same text, such as extra sub-millisecond digits or a
// non-UTC offset, are rejected.
func ParseTimestamp(raw string) (time.Time, error) {
	ts, err := time.Parse(TimestampLayout, raw)
	if err != nil {
		return time.Time{}, err
	}
	ts = ts.UTC()
	if FormatTimestamp(ts) != raw {
		return time.Time{}, fmt.Errorf("timestamp %q is not in canonical form", raw)
	}
	return ts, nil
}

// CanonicalContent serialises the hashed content fields of b. Keys are sorted
// at every level so the output depends only on the logical content.
func CanonicalContent(b Block) ([]byte, error) {
	payload := map[string]any{}
	if b.Payload != nil {
		if b.Payload.TxType() != b.Type {
			return nil, fmt.Errorf("%w: %s payload on %s block", ErrPayloadMismatch, b.Payload.TxType(), b.Type)
		}
		payload = b.Payload.Fields()
	}
	content := map[string]any{
		"index":           b.Index,
		"timestamp":       FormatTimestamp(b.Timestamp),
		"transactionType": string(b.Type),
		"fromParty":       partyValue(b.From),
		"toParty":         partyValue(b.To),
		"amount":          b.Amount.String(),
		"payload":         payload,
	}
	// encoding/json orders map keys lexicographically.
	return json.Marshal(content)
}

// ComputeHash returns hex(SHA-256(canonical content ++ previous hash)).
func ComputeHash(b Block) (string, error) {
	content, err := CanonicalContent(b)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(content)
	h.Write([]byte(b.PreviousHash))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify recomputes the content hash and compares it with CurrentHash.
func (b Block) Verify() error {
	hash, err := ComputeHash(b)
	if err != nil {
		return err
	}
	if hash != b.CurrentHash {
		return &ValidationError{Index: b.Index, Reason: ReasonContentTampered}
	}
	return nil
}

func partyValue(p PartyID) any {
	if p.IsZero() {
		return nil
	}
	return string(p)
}
