package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateIndex is returned by a store when a block with the same index
	// already exists.
	ErrDuplicateIndex = errors.New("ledger: duplicate block index")
	// ErrDuplicateHash is returned by a store when the block hash collides with
	// an existing block.
	ErrDuplicateHash = errors.New("ledger: duplicate block hash")
	// ErrStoreUnavailable wraps backend failures.
	ErrStoreUnavailable = errors.New("ledger: store unavailable")
	// ErrBlockNotFound is returned when no block exists at the requested index.
	ErrBlockNotFound = errors.New("ledger: block not found")

	ErrBrokenLink      = errors.New("ledger: broken link")
	ErrContentTampered = errors.New("ledger: content tampered")
	ErrIndexGap        = errors.New("ledger: index gap")

	ErrUnknownTxType   = errors.New("ledger: unknown transaction type")
	ErrNegativeAmount  = errors.New("ledger: amount must not be negative")
	ErrPayloadMismatch = errors.New("ledger: payload does not match transaction type")
	ErrInvalidPayload  = errors.New("ledger: invalid payload")
)

// IsConflict reports whether err is an append conflict raised by the store.
// Callers may retry the append with a fresh tail.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateIndex) || errors.Is(err, ErrDuplicateHash)
}

// Unavailable wraps a backend error so callers can match ErrStoreUnavailable.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

// ValidationError describes the first inconsistency found in the chain.
type ValidationError struct {
	Index  uint64
	Reason Reason
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ledger: block %d: %s", e.Index, e.Reason.describe())
}

func (e *ValidationError) Unwrap() error {
	return e.Reason.sentinel()
}

// CorruptBlockError reports a stored block whose record no longer decodes to
// the canonical form written at append time. It matches ErrContentTampered.
type CorruptBlockError struct {
	Index uint64
	Err   error
}

func (e *CorruptBlockError) Error() string {
	return fmt.Sprintf("ledger: block %d: corrupt record: %v", e.Index, e.Err)
}

func (e *CorruptBlockError) Unwrap() []error {
	return []error{ErrContentTampered, e.Err}
}

func corrupt(index uint64, format string, args ...any) error {
	return &CorruptBlockError{Index: index, Err: fmt.Errorf(format, args...)}
}
