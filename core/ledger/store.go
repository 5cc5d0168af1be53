package ledger

import (
	"context"
	"time"
)

// Store is the durable, ordered, write-once collection of blocks backing the
// engine. Implementations must make each Append visible atomically and must
// never expose update or delete operations.
type Store interface {
	// Append persists a fully formed block. It fails with ErrDuplicateIndex or
	// ErrDuplicateHash without writing anything when either value is taken.
	Append(ctx context.Context, b Block) error
	// Tail returns the block with the highest index. The boolean is false when
	// the store is empty.
	Tail(ctx context.Context) (Block, bool, error)
	// Range returns up to limit blocks in ascending index order starting at
	// from. A non-positive limit returns every remaining block.
	Range(ctx context.Context, from uint64, limit int) ([]Block, error)
	// BlockAt returns the block at index or ErrBlockNotFound.
	BlockAt(ctx context.Context, index uint64) (Block, error)
	// Scan streams every block in ascending index order. Returning an error
	// from fn stops the scan and the error is returned unchanged.
	Scan(ctx context.Context, fn func(Block) error) error
	// Stats counts the stored blocks at call time.
	Stats(ctx context.Context) (Stats, error)
}

// Observer receives engine outcomes, typically to feed metrics.
type Observer interface {
	ObserveAppend(t TxType, height uint64, err error, elapsed time.Duration)
	ObserveValidation(report Report, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveAppend(TxType, uint64, error, time.Duration) {}
func (nopObserver) ObserveValidation(Report, time.Duration)            {}
