// Package storetest holds the behaviour every ledger.Store backend must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"lendledger/core/ledger"
)

// Factory opens an empty store for a single test. Cleanup is registered on t.
type Factory func(t *testing.T) ledger.Store

var baseTime = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

// Chain builds n correctly linked blocks cycling through every transaction
// type.
func Chain(t *testing.T, n int) []ledger.Block {
	t.Helper()
	types := ledger.TxTypes()
	blocks := make([]ledger.Block, 0, n)
	prev := ledger.GenesisHash
	for i := 0; i < n; i++ {
		txType := types[i%len(types)]
		b := ledger.Block{
			Index:        uint64(i),
			Timestamp:    baseTime.Add(time.Duration(i) * time.Minute),
			Type:         txType,
			From:         ledger.PartyID(fmt.Sprintf("user-%d", i)),
			Amount:       decimal.NewFromInt(int64(100 * (i + 1))),
			Payload:      samplePayload(txType, i),
			PreviousHash: prev,
		}
		if txType != ledger.TxLoanCreated {
			b.To = ledger.PartyID(fmt.Sprintf("user-%d", i+1))
		}
		hash, err := ledger.ComputeHash(b)
		require.NoError(t, err)
		b.CurrentHash = hash
		blocks = append(blocks, b)
		prev = hash
	}
	return blocks
}

func samplePayload(t ledger.TxType, i int) ledger.Payload {
	loanID := fmt.Sprintf("loan-%d", i)
	switch t {
	case ledger.TxLoanCreated:
		return ledger.LoanCreatedPayload{
			LoanID:         loanID,
			Purpose:        "working capital",
			DurationMonths: 12,
			InterestRate:   decimal.RequireFromString("7.5"),
			RiskScore:      62,
		}
	case ledger.TxLoanFunded:
		return ledger.LoanFundedPayload{
			LoanID:         loanID,
			Purpose:        "inventory",
			InterestRate:   decimal.RequireFromString("8.25"),
			DurationMonths: 6,
		}
	default:
		return ledger.RepaymentPayload{
			LoanID:      loanID,
			RepaymentID: fmt.Sprintf("rp-%d", i),
			Installment: 1,
			Principal:   decimal.RequireFromString("80"),
			Interest:    decimal.RequireFromString("6.40"),
		}
	}
}

// Run executes the conformance suite against stores produced by open.
func Run(t *testing.T, open Factory) {
	t.Run("EmptyTail", func(t *testing.T) { testEmptyTail(t, open(t)) })
	t.Run("AppendAndRead", func(t *testing.T) { testAppendAndRead(t, open(t)) })
	t.Run("RangePagination", func(t *testing.T) { testRange(t, open(t)) })
	t.Run("DuplicateIndex", func(t *testing.T) { testDuplicateIndex(t, open(t)) })
	t.Run("DuplicateHash", func(t *testing.T) { testDuplicateHash(t, open(t)) })
	t.Run("RacingAppends", func(t *testing.T) { testRacingAppends(t, open(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, open(t)) })
	t.Run("ScanEarlyAbort", func(t *testing.T) { testScanAbort(t, open(t)) })
	t.Run("HashSurvivesRoundTrip", func(t *testing.T) { testRoundTrip(t, open(t)) })
}

func appendAll(t *testing.T, store ledger.Store, blocks []ledger.Block) {
	t.Helper()
	for _, b := range blocks {
		require.NoError(t, store.Append(context.Background(), b))
	}
}

func testEmptyTail(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	_, ok, err := store.Tail(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	blocks, err := store.Range(ctx, 0, 0)
	require.NoError(t, err)
	require.Empty(t, blocks)

	_, err = store.BlockAt(ctx, 0)
	require.ErrorIs(t, err, ledger.ErrBlockNotFound)
}

func testAppendAndRead(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	chain := Chain(t, 4)
	appendAll(t, store, chain)

	tail, ok, err := store.Tail(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(3), tail.Index)
	require.Equal(t, chain[3].CurrentHash, tail.CurrentHash)

	got, err := store.BlockAt(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, chain[2].CurrentHash, got.CurrentHash)
	require.Equal(t, chain[2].PreviousHash, got.PreviousHash)
	require.True(t, chain[2].Amount.Equal(got.Amount))
	require.True(t, chain[2].Timestamp.Equal(got.Timestamp))
	require.Equal(t, chain[2].To, got.To)
}

func testRange(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	appendAll(t, store, Chain(t, 7))

	all, err := store.Range(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 7)
	for i, b := range all {
		require.Equal(t, uint64(i), b.Index)
	}

	page, err := store.Range(ctx, 2, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.Equal(t, uint64(2), page[0].Index)
	require.Equal(t, uint64(4), page[2].Index)

	tailPage, err := store.Range(ctx, 5, 10)
	require.NoError(t, err)
	require.Len(t, tailPage, 2)

	past, err := store.Range(ctx, 20, 5)
	require.NoError(t, err)
	require.Empty(t, past)
}

func testDuplicateIndex(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	chain := Chain(t, 2)
	appendAll(t, store, chain[:1])

	clash := chain[1]
	clash.Index = 0
	clash.CurrentHash = "f00d"
	err := store.Append(ctx, clash)
	require.ErrorIs(t, err, ledger.ErrDuplicateIndex)
	require.True(t, ledger.IsConflict(err))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), stats.Total)
	_, err = store.BlockAt(ctx, 0)
	require.NoError(t, err)
}

func testDuplicateHash(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	chain := Chain(t, 2)
	appendAll(t, store, chain[:1])

	clash := chain[1]
	clash.CurrentHash = chain[0].CurrentHash
	err := store.Append(ctx, clash)
	require.ErrorIs(t, err, ledger.ErrDuplicateHash)

	_, err = store.BlockAt(ctx, 1)
	require.ErrorIs(t, err, ledger.ErrBlockNotFound)
}

func testRacingAppends(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	const racers = 8
	candidates := make([]ledger.Block, racers)
	for i := range candidates {
		b := Chain(t, 1)[0]
		b.Amount = decimal.NewFromInt(int64(1000 + i))
		hash, err := ledger.ComputeHash(b)
		require.NoError(t, err)
		b.CurrentHash = hash
		candidates[i] = b
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		others    []error
	)
	start := make(chan struct{})
	for _, b := range candidates {
		wg.Add(1)
		go func(b ledger.Block) {
			defer wg.Done()
			<-start
			err := store.Append(ctx, b)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ledger.ErrDuplicateIndex):
				conflicts++
			default:
				others = append(others, err)
			}
		}(b)
	}
	close(start)
	wg.Wait()

	require.Empty(t, others)
	require.Equal(t, 1, successes)
	require.Equal(t, racers-1, conflicts)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), stats.Total)
}

func testStats(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Total)
	for _, txType := range ledger.TxTypes() {
		require.Zero(t, stats.Count(txType))
	}

	appendAll(t, store, Chain(t, 5))
	stats, err = store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(5), stats.Total)
	require.Equal(t, uint64(2), stats.Count(ledger.TxLoanCreated))
	require.Equal(t, uint64(2), stats.Count(ledger.TxLoanFunded))
	require.Equal(t, uint64(1), stats.Count(ledger.TxRepayment))
}

func testScanAbort(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	appendAll(t, store, Chain(t, 6))

	stop := errors.New("stop")
	var seen []uint64
	err := store.Scan(ctx, func(b ledger.Block) error {
		seen = append(seen, b.Index)
		if b.Index == 2 {
			return stop
		}
		return nil
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, []uint64{0, 1, 2}, seen)

	seen = seen[:0]
	require.NoError(t, store.Scan(ctx, func(b ledger.Block) error {
		seen = append(seen, b.Index)
		return nil
	}))
	require.Equal(t, []uint64{0, 1, 2, 3, 4, 5}, seen)
}

func testRoundTrip(t *testing.T, store ledger.Store) {
	ctx := context.Background()
	chain := Chain(t, 3)
	appendAll(t, store, chain)

	blocks, err := store.Range(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	for i, b := range blocks {
		require.NoError(t, b.Verify(), "block %d", i)
		require.Equal(t, chain[i].Payload.Fields(), b.Payload.Fields())
		if i == 0 {
			require.True(t, b.To.IsZero())
		}
	}
}

// RequireTampered asserts that validating store reports content tampering at
// index, and that reading the stored range up to it fails with
// ledger.ErrContentTampered rather than a backend error.
func RequireTampered(t *testing.T, store ledger.Store, index uint64) {
	t.Helper()
	ctx := context.Background()
	engine, err := ledger.NewEngine(store)
	require.NoError(t, err)
	report, err := engine.Validate(ctx)
	require.NoError(t, err)
	require.False(t, report.Valid)
	require.Equal(t, index, report.Index)
	require.Equal(t, index, report.Count)
	require.Equal(t, ledger.ReasonContentTampered, report.Reason)

	_, err = store.Range(ctx, 0, 0)
	if err != nil {
		require.ErrorIs(t, err, ledger.ErrContentTampered)
		var corrupt *ledger.CorruptBlockError
		require.ErrorAs(t, err, &corrupt)
		require.Equal(t, index, corrupt.Index)
	}
}
