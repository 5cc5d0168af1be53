// Package sqlstore persists the ledger in SQLite through database/sql.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/glebarez/sqlite"

	"lendledger/core/ledger"
)

// ErrPathRequired is returned when the database path is missing.
var ErrPathRequired = errors.New("sqlstore: path must be configured")

const schema = `
CREATE TABLE IF NOT EXISTS ledger_blocks (
    block_index   INTEGER NOT NULL PRIMARY KEY,
    created_at    TEXT NOT NULL,
    tx_type       TEXT NOT NULL,
    from_party    TEXT NULL,
    to_party      TEXT NULL,
    amount        TEXT NOT NULL,
    payload       TEXT NOT NULL,
    previous_hash TEXT NOT NULL,
    current_hash  TEXT NOT NULL UNIQUE
);
CREATE INDEX IF NOT EXISTS idx_ledger_blocks_type ON ledger_blocks(tx_type);
`

const selectColumns = `block_index, created_at, tx_type, from_party, to_party, amount, payload, previous_hash, current_hash`

// Store is a ledger.Store over a SQLite database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open connects to the SQLite database described by dsn and applies the
// schema.
func Open(dsn string) (*Store, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, ledger.Unavailable("open database", err)
	}
	if isMemoryDSN(trimmed) {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, ledger.Unavailable("apply schema", err)
	}
	return &Store{db: db}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append inserts b inside a transaction after checking index and hash
// uniqueness. The table constraints back the checks up.
func (s *Store) Append(ctx context.Context, b ledger.Block) error {
	rec, err := ledger.ToRecord(b)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Unavailable("begin append", err)
	}
	defer tx.Rollback()

	if err := conflict(ctx, tx, rec); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
        INSERT INTO ledger_blocks(block_index, created_at, tx_type, from_party, to_party, amount, payload, previous_hash, current_hash)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, int64(rec.Index), rec.Timestamp, rec.Type, nullable(rec.From), nullable(rec.To), rec.Amount, string(rec.Payload), rec.PreviousHash, rec.CurrentHash)
	if err != nil {
		if cerr := conflict(ctx, tx, rec); cerr != nil {
			return cerr
		}
		return ledger.Unavailable("insert block", err)
	}
	if err := tx.Commit(); err != nil {
		return ledger.Unavailable("commit append", err)
	}
	return nil
}

func conflict(ctx context.Context, tx *sql.Tx, rec ledger.Record) error {
	var exists int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM ledger_blocks WHERE block_index = ?`, int64(rec.Index)).Scan(&exists)
	if err != nil {
		return ledger.Unavailable("check index", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %d", ledger.ErrDuplicateIndex, rec.Index)
	}
	err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM ledger_blocks WHERE current_hash = ?`, rec.CurrentHash).Scan(&exists)
	if err != nil {
		return ledger.Unavailable("check hash", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", ledger.ErrDuplicateHash, rec.CurrentHash)
	}
	return nil
}

// Tail returns the highest indexed block.
func (s *Store) Tail(ctx context.Context) (ledger.Block, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM ledger_blocks ORDER BY block_index DESC LIMIT 1`)
	b, err := scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Block{}, false, nil
	}
	if err != nil {
		return ledger.Block{}, false, err
	}
	return b, true, nil
}

// Range returns up to limit blocks with index >= from.
func (s *Store) Range(ctx context.Context, from uint64, limit int) ([]ledger.Block, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT `+selectColumns+`
        FROM ledger_blocks
        WHERE block_index >= ?
        ORDER BY block_index ASC
        LIMIT ?
    `, int64(from), limit)
	if err != nil {
		return nil, ledger.Unavailable("query range", err)
	}
	defer rows.Close()
	var out []ledger.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.Unavailable("iterate range", err)
	}
	return out, nil
}

// BlockAt returns the block at index.
func (s *Store) BlockAt(ctx context.Context, index uint64) (ledger.Block, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM ledger_blocks WHERE block_index = ?`, int64(index))
	b, err := scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Block{}, fmt.Errorf("%w: %d", ledger.ErrBlockNotFound, index)
	}
	return b, err
}

// Scan streams every block in index order through a single cursor.
func (s *Store) Scan(ctx context.Context, fn func(ledger.Block) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM ledger_blocks ORDER BY block_index ASC`)
	if err != nil {
		return ledger.Unavailable("query blocks", err)
	}
	defer rows.Close()
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return err
		}
		if err := fn(b); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return ledger.Unavailable("iterate blocks", err)
	}
	return nil
}

// Stats aggregates block counts per transaction type.
func (s *Store) Stats(ctx context.Context) (ledger.Stats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tx_type, COUNT(1) FROM ledger_blocks GROUP BY tx_type`)
	if err != nil {
		return ledger.Stats{}, ledger.Unavailable("query stats", err)
	}
	defer rows.Close()
	stats := ledger.NewStats()
	for rows.Next() {
		var (
			txType string
			count  uint64
		)
		if err := rows.Scan(&txType, &count); err != nil {
			return ledger.Stats{}, ledger.Unavailable("scan stats", err)
		}
		stats.ByType[ledger.TxType(txType)] += count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return ledger.Stats{}, ledger.Unavailable("iterate stats", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlock(row rowScanner) (ledger.Block, error) {
	var (
		rec      ledger.Record
		index    int64
		from, to sql.NullString
		payload  string
	)
	err := row.Scan(&index, &rec.Timestamp, &rec.Type, &from, &to, &rec.Amount, &payload, &rec.PreviousHash, &rec.CurrentHash)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Block{}, err
	}
	if err != nil {
		return ledger.Block{}, ledger.Unavailable("scan block", err)
	}
	rec.Index = uint64(index)
	rec.From = from.String
	rec.To = to.String
	rec.Payload = []byte(payload)
	return ledger.FromRecord(rec)
}

func nullable(value string) sql.NullString {
	return sql.NullString{String: value, Valid: strings.TrimSpace(value) != ""}
}
