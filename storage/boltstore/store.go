// Package boltstore persists the ledger in a single bbolt file.
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"lendledger/core/ledger"
)

var (
	bucketBlocks = []byte("blocks")
	bucketHashes = []byte("hashes")
)

// Store is a ledger.Store backed by bbolt. bbolt serialises write
// transactions, so every Append is its own atomic unit.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the bbolt file at path.
func Open(path string, options *bolt.Options) (*Store, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, ledger.Unavailable("open bolt", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketBlocks, bucketHashes} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, ledger.Unavailable("create buckets", err)
	}
	return &Store{db: db}, nil
}

// Close releases the bbolt handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func indexKey(index uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, index)
	return key
}

// Append writes b and its hash index in one update transaction.
func (s *Store) Append(ctx context.Context, b ledger.Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	encoded, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode block %d: %w", b.Index, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		blocks := tx.Bucket(bucketBlocks)
		hashes := tx.Bucket(bucketHashes)
		key := indexKey(b.Index)
		if blocks.Get(key) != nil {
			return fmt.Errorf("%w: %d", ledger.ErrDuplicateIndex, b.Index)
		}
		if hashes.Get([]byte(b.CurrentHash)) != nil {
			return fmt.Errorf("%w: %s", ledger.ErrDuplicateHash, b.CurrentHash)
		}
		if err := blocks.Put(key, encoded); err != nil {
			return err
		}
		return hashes.Put([]byte(b.CurrentHash), key)
	})
	if err != nil && !ledger.IsConflict(err) {
		return ledger.Unavailable("append block", err)
	}
	return err
}

// Tail returns the last block in key order.
func (s *Store) Tail(ctx context.Context) (ledger.Block, bool, error) {
	var (
		block ledger.Block
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		key, raw := tx.Bucket(bucketBlocks).Cursor().Last()
		if key == nil {
			return nil
		}
		found = true
		var err error
		block, err = decodeBlock(key, raw)
		return err
	})
	if err != nil {
		return ledger.Block{}, false, err
	}
	return block, found, nil
}

// Range returns up to limit blocks with index >= from.
func (s *Store) Range(ctx context.Context, from uint64, limit int) ([]ledger.Block, error) {
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

// BlockAt returns the block at index.
func (s *Store) BlockAt(ctx context.Context, index uint64) (ledger.Block, error) {
	var block ledger.Block
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketBlocks).Get(indexKey(index))
		if raw == nil {
			return fmt.Errorf("%w: %d", ledger.ErrBlockNotFound, index)
		}
		var err error
		block, err = ledger.DecodeStoredBlock(index, raw)
		return err
	})
	return block, err
}

// Scan visits every block inside one read transaction, so it observes a
// consistent snapshot even while appends continue.
func (s *Store) Scan(ctx context.Context, fn func(ledger.Block) error) error {
	return s.iterate(ctx, 0, fn)
}

// Stats counts blocks by transaction type. Only the type of each record is
// decoded.
func (s *Store) Stats(ctx context.Context) (ledger.Stats, error) {
	stats := ledger.NewStats()
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlocks).ForEach(func(_, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			t, err := ledger.StoredTxType(v)
			if err != nil {
				return fmt.Errorf("decode block type: %w", err)
			}
			stats.Total++
			stats.ByType[t]++
			return nil
		})
	})
	if err != nil {
		return ledger.Stats{}, err
	}
	return stats, nil
}

var errStop = errors.New("boltstore: stop iteration")

func (s *Store) iterate(ctx context.Context, from uint64, fn func(ledger.Block) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBlocks).Cursor()
		for k, v := c.Seek(indexKey(from)); k != nil; k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			b, err := decodeBlock(k, v)
			if err != nil {
				return err
			}
			if err := fn(b); err != nil {
				return err
			}
		}
		return nil
	})
}

func decodeBlock(key, raw []byte) (ledger.Block, error) {
	if len(key) != 8 {
		return ledger.Block{}, fmt.Errorf("malformed block key %x", key)
	}
	return ledger.DecodeStoredBlock(binary.BigEndian.Uint64(key), raw)
}
