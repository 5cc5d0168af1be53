package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"lendledger/core/ledger"
)

// MemStore keeps the chain in process memory. It is intended for tests and
// ephemeral deployments.
type MemStore struct {
	mu     sync.RWMutex
	blocks []ledger.Block
	byIdx  map[uint64]int
	hashes map[string]uint64
}

// NewMemStore returns an empty in-memory block store.
func NewMemStore() *MemStore {
	return &MemStore{
		byIdx:  make(map[uint64]int),
		hashes: make(map[string]uint64),
	}
}

// Append stores b unless its index or hash is already present.
func (s *MemStore) Append(ctx context.Context, b ledger.Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byIdx[b.Index]; ok {
		return fmt.Errorf("%w: %d", ledger.ErrDuplicateIndex, b.Index)
	}
	if existing, ok := s.hashes[b.CurrentHash]; ok {
		return fmt.Errorf("%w: %s (block %d)", ledger.ErrDuplicateHash, b.CurrentHash, existing)
	}
	pos := sort.Search(len(s.blocks), func(i int) bool { return s.blocks[i].Index > b.Index })
	s.blocks = append(s.blocks, ledger.Block{})
	copy(s.blocks[pos+1:], s.blocks[pos:])
	s.blocks[pos] = b
	for i := pos; i < len(s.blocks); i++ {
		s.byIdx[s.blocks[i].Index] = i
	}
	s.hashes[b.CurrentHash] = b.Index
	return nil
}

// Tail returns the highest indexed block.
func (s *MemStore) Tail(ctx context.Context) (ledger.Block, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.blocks) == 0 {
		return ledger.Block{}, false, nil
	}
	return s.blocks[len(s.blocks)-1], true, nil
}

// Range returns blocks with index >= from in ascending order.
func (s *MemStore) Range(ctx context.Context, from uint64, limit int) ([]ledger.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := sort.Search(len(s.blocks), func(i int) bool { return s.blocks[i].Index >= from })
	end := len(s.blocks)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]ledger.Block, end-start)
	copy(out, s.blocks[start:end])
	return out, nil
}

// BlockAt returns the block stored at index.
func (s *MemStore) BlockAt(ctx context.Context, index uint64) (ledger.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.byIdx[index]
	if !ok {
		return ledger.Block{}, fmt.Errorf("%w: %d", ledger.ErrBlockNotFound, index)
	}
	return s.blocks[pos], nil
}

// Scan visits a snapshot of the chain taken when the scan starts.
func (s *MemStore) Scan(ctx context.Context, fn func(ledger.Block) error) error {
	s.mu.RLock()
	snapshot := make([]ledger.Block, len(s.blocks))
	copy(snapshot, s.blocks)
	s.mu.RUnlock()
	for _, b := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(b); err != nil {
			return err
		}
	}
	return nil
}

// Stats counts blocks by transaction type.
func (s *MemStore) Stats(ctx context.Context) (ledger.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := ledger.NewStats()
	for _, b := range s.blocks {
		stats.Total++
		stats.ByType[b.Type]++
	}
	return stats, nil
}

// Close satisfies io.Closer.
func (s *MemStore) Close() error { return nil }
