// Package gormstore persists the ledger through gorm. Production deployments
// use the Postgres dialector; tests run against SQLite.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"lendledger/core/ledger"
)

// BlockRecord is the persisted row for one ledger block.
type BlockRecord struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	BlockIndex      uint64    `gorm:"uniqueIndex;not null"`
	Timestamp       string    `gorm:"size:32;not null"`
	TransactionType string    `gorm:"size:32;index;not null"`
	FromParty       *string   `gorm:"size:128;index"`
	ToParty         *string   `gorm:"size:128;index"`
	Amount          string    `gorm:"size:64;not null"`
	Payload         string    `gorm:"type:text;not null"`
	PreviousHash    string    `gorm:"size:128;not null"`
	CurrentHash     string    `gorm:"size:128;uniqueIndex;not null"`
	CreatedAt       time.Time
}

// TableName pins the table name regardless of gorm naming strategy.
func (BlockRecord) TableName() string { return "ledger_blocks" }

// AutoMigrate creates or updates the ledger schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&BlockRecord{})
}

// Store is a ledger.Store over a gorm connection.
type Store struct {
	db *gorm.DB
	mu sync.Mutex
}

// OpenPostgres connects to Postgres using dsn and migrates the schema.
func OpenPostgres(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, ledger.Unavailable("connect postgres", err)
	}
	return New(db)
}

// New wraps an open gorm connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("gormstore: database required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, ledger.Unavailable("auto migrate", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append inserts b in a transaction after checking index and hash
// uniqueness. Unique indexes reject anything the checks miss.
func (s *Store) Append(ctx context.Context, b ledger.Block) error {
	rec, err := ledger.ToRecord(b)
	if err != nil {
		return err
	}
	row := BlockRecord{
		ID:              uuid.New(),
		BlockIndex:      rec.Index,
		Timestamp:       rec.Timestamp,
		TransactionType: rec.Type,
		FromParty:       optional(rec.From),
		ToParty:         optional(rec.To),
		Amount:          rec.Amount,
		Payload:         string(rec.Payload),
		PreviousHash:    rec.PreviousHash,
		CurrentHash:     rec.CurrentHash,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := conflict(tx, rec); err != nil {
			return err
		}
		return tx.Create(&row).Error
	})
	if err == nil || ledger.IsConflict(err) {
		return err
	}
	if cerr := conflict(s.db.WithContext(ctx), rec); cerr != nil {
		return cerr
	}
	return ledger.Unavailable("insert block", err)
}

func conflict(tx *gorm.DB, rec ledger.Record) error {
	var count int64
	if err := tx.Model(&BlockRecord{}).Where("block_index = ?", rec.Index).Count(&count).Error; err != nil {
		return ledger.Unavailable("check index", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %d", ledger.ErrDuplicateIndex, rec.Index)
	}
	if err := tx.Model(&BlockRecord{}).Where("current_hash = ?", rec.CurrentHash).Count(&count).Error; err != nil {
		return ledger.Unavailable("check hash", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", ledger.ErrDuplicateHash, rec.CurrentHash)
	}
	return nil
}

// Tail returns the highest indexed block.
func (s *Store) Tail(ctx context.Context) (ledger.Block, bool, error) {
	var rows []BlockRecord
	if err := s.db.WithContext(ctx).Order("block_index DESC").Limit(1).Find(&rows).Error; err != nil {
		return ledger.Block{}, false, ledger.Unavailable("query tail", err)
	}
	if len(rows) == 0 {
		return ledger.Block{}, false, nil
	}
	b, err := rows[0].block()
	if err != nil {
		return ledger.Block{}, false, err
	}
	return b, true, nil
}

// Range returns up to limit blocks with index >= from.
func (s *Store) Range(ctx context.Context, from uint64, limit int) ([]ledger.Block, error) {
	query := s.db.WithContext(ctx).Where("block_index >= ?", from).Order("block_index ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []BlockRecord
	if err := query.Find(&rows).Error; err != nil {
		return nil, ledger.Unavailable("query range", err)
	}
	out := make([]ledger.Block, 0, len(rows))
	for _, row := range rows {
		b, err := row.block()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// BlockAt returns the block at index.
func (s *Store) BlockAt(ctx context.Context, index uint64) (ledger.Block, error) {
	var row BlockRecord
	err := s.db.WithContext(ctx).Where("block_index = ?", index).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Block{}, fmt.Errorf("%w: %d", ledger.ErrBlockNotFound, index)
	}
	if err != nil {
		return ledger.Block{}, ledger.Unavailable("query block", err)
	}
	return row.block()
}

// Scan streams blocks in index order through a database cursor.
func (s *Store) Scan(ctx context.Context, fn func(ledger.Block) error) error {
	db := s.db.WithContext(ctx)
	rows, err := db.Model(&BlockRecord{}).Order("block_index ASC").Rows()
	if err != nil {
		return ledger.Unavailable("query blocks", err)
	}
	defer rows.Close()
	for rows.Next() {
		var row BlockRecord
		if err := db.ScanRows(rows, &row); err != nil {
			return ledger.Unavailable("scan block", err)
		}
		b, err := row.block()
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

// Stats aggregates counts per transaction type.
func (s *Store) Stats(ctx context.Context) (ledger.Stats, error) {
	var groups []struct {
		TransactionType string
		Count           uint64
	}
	err := s.db.WithContext(ctx).Model(&BlockRecord{}).
		Select("transaction_type, COUNT(*) AS count").
		Group("transaction_type").
		Scan(&groups).Error
	if err != nil {
		return ledger.Stats{}, ledger.Unavailable("query stats", err)
	}
	stats := ledger.NewStats()
	for _, g := range groups {
		stats.ByType[ledger.TxType(g.TransactionType)] += g.Count
		stats.Total += g.Count
	}
	return stats, nil
}

func (r BlockRecord) block() (ledger.Block, error) {
	return ledger.FromRecord(ledger.Record{
		Index:        r.BlockIndex,
		Timestamp:    r.Timestamp,
		Type:         r.TransactionType,
		From:         deref(r.FromParty),
		To:           deref(r.ToParty),
		Amount:       r.Amount,
		Payload:      []byte(r.Payload),
		PreviousHash: r.PreviousHash,
		CurrentHash:  r.CurrentHash,
	})
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
