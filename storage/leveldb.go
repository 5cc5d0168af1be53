package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"lendledger/core/ledger"
)

var (
	blockPrefix = []byte("b/")
	hashPrefix  = []byte("h/")
)

// LevelStore is a persistent block store backed by LevelDB. Blocks are keyed
// by big-endian index so iteration order matches chain order.
type LevelStore struct {
	db *leveldb.DB
	mu sync.Mutex
}

// NewLevelStore creates or opens a LevelDB database at path.
func NewLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, ledger.Unavailable("open leveldb", err)
	}
	return &LevelStore{db: db}, nil
}

func blockKey(index uint64) []byte {
	key := make([]byte, len(blockPrefix)+8)
	copy(key, blockPrefix)
	binary.BigEndian.PutUint64(key[len(blockPrefix):], index)
	return key
}

func hashKey(hash string) []byte {
	return append(append([]byte{}, hashPrefix...), hash...)
}

// Append writes the block and its hash index in one synced batch.
func (s *LevelStore) Append(ctx context.Context, b ledger.Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	encoded, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode block %d: %w", b.Index, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok, err := s.db.Has(blockKey(b.Index), nil); err != nil {
		return ledger.Unavailable("check index", err)
	} else if ok {
		return fmt.Errorf("%w: %d", ledger.ErrDuplicateIndex, b.Index)
	}
	if ok, err := s.db.Has(hashKey(b.CurrentHash), nil); err != nil {
		return ledger.Unavailable("check hash", err)
	} else if ok {
		return fmt.Errorf("%w: %s", ledger.ErrDuplicateHash, b.CurrentHash)
	}
	batch := new(leveldb.Batch)
	batch.Put(blockKey(b.Index), encoded)
	idx := make([]byte, 8)
	binary.BigEndian.PutUint64(idx, b.Index)
	batch.Put(hashKey(b.CurrentHash), idx)
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return ledger.Unavailable("write block", err)
	}
	return nil
}

// Tail returns the last block in key order.
func (s *LevelStore) Tail(ctx context.Context) (ledger.Block, bool, error) {
	iter := s.db.NewIterator(util.BytesPrefix(blockPrefix), nil)
	defer iter.Release()
	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return ledger.Block{}, false, ledger.Unavailable("read tail", err)
		}
		return ledger.Block{}, false, nil
	}
	b, err := decodeBlock(iter.Key(), iter.Value())
	if err != nil {
		return ledger.Block{}, false, err
	}
	return b, true, nil
}

// Range returns up to limit blocks starting at index from.
func (s *LevelStore) Range(ctx context.Context, from uint64, limit int) ([]ledger.Block, error) {
	var out []ledger.Block
	err := s.iterate(ctx, from, func(b ledger.Block) error {
		out = append(out, b)
		if limit > 0 && len(out) >= limit {
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	return out, nil
}

// BlockAt returns the block stored at index.
func (s *LevelStore) BlockAt(ctx context.Context, index uint64) (ledger.Block, error) {
	raw, err := s.db.Get(blockKey(index), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return ledger.Block{}, fmt.Errorf("%w: %d", ledger.ErrBlockNotFound, index)
	}
	if err != nil {
		return ledger.Block{}, ledger.Unavailable("read block", err)
	}
	return ledger.DecodeStoredBlock(index, raw)
}

// Scan iterates an implicit snapshot of the database.
func (s *LevelStore) Scan(ctx context.Context, fn func(ledger.Block) error) error {
	return s.iterate(ctx, 0, fn)
}

// Stats counts blocks by transaction type. Only the type of each record is
// decoded.
func (s *LevelStore) Stats(ctx context.Context) (ledger.Stats, error) {
	stats := ledger.NewStats()
	iter := s.db.NewIterator(util.BytesPrefix(blockPrefix), nil)
	defer iter.Release()
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return ledger.Stats{}, err
		}
		t, err := ledger.StoredTxType(iter.Value())
		if err != nil {
			return ledger.Stats{}, fmt.Errorf("decode block type: %w", err)
		}
		stats.Total++
		stats.ByType[t]++
	}
	if err := iter.Error(); err != nil {
		return ledger.Stats{}, ledger.Unavailable("iterate blocks", err)
	}
	return stats, nil
}

// Close closes the database handle.
func (s *LevelStore) Close() error {
	return s.db.Close()
}

func (s *LevelStore) iterate(ctx context.Context, from uint64, fn func(ledger.Block) error) error {
	iter := s.db.NewIterator(util.BytesPrefix(blockPrefix), nil)
	defer iter.Release()
	for ok := iter.Seek(blockKey(from)); ok; ok = iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := decodeBlock(iter.Key(), iter.Value())
		if err != nil {
			return err
		}
		if err := fn(b); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return ledger.Unavailable("iterate blocks", err)
	}
	return nil
}

var errStop = errors.New("storage: stop iteration")

func decodeBlock(key, raw []byte) (ledger.Block, error) {
	if len(key) != len(blockPrefix)+8 {
		return ledger.Block{}, fmt.Errorf("malformed block key %x", key)
	}
	return ledger.DecodeStoredBlock(binary.BigEndian.Uint64(key[len(blockPrefix):]), raw)
}
