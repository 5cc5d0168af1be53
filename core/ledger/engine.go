package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Engine appends blocks linked to the current tail and validates the stored
// chain. All appends made through one engine are serialised.
type Engine struct {
	store    Store
	mu       sync.Mutex
	now      func() time.Time
	logger   *slog.Logger
	observer Observer
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for block timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver registers an observer for append and validation outcomes.
func WithObserver(observer Observer) Option {
	return func(e *Engine) {
		if observer != nil {
			e.observer = observer
		}
	}
}

// NewEngine constructs an engine over the supplied store.
func NewEngine(store Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("ledger: store required")
	}
	e := &Engine{
		store:    store,
		now:      time.Now,
		logger:   slog.Default(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "ledger"))
	return e, nil
}

// Append records entry as the next block of the chain and returns the
// persisted block. Conflicts reported by the store are returned unchanged and
// never retried here.
func (e *Engine) Append(ctx context.Context, entry Entry) (Block, error) {
	start := time.Now()
	block, err := e.append(ctx, entry)
	height := uint64(0)
	if err == nil {
		height = block.Index + 1
	}
	e.observer.ObserveAppend(entry.Type, height, err, time.Since(start))
	if err != nil {
		e.logger.Error("ledger append failed",
			slog.String("type", string(entry.Type)),
			slog.Any("error", err))
		return Block{}, err
	}
	e.logger.Info("ledger block appended",
		slog.Uint64("index", block.Index),
		slog.String("type", string(block.Type)),
		slog.String("hash", block.CurrentHash))
	return block, nil
}

func (e *Engine) append(ctx context.Context, entry Entry) (Block, error) {
	payload, err := normalizeEntry(&entry)
	if err != nil {
		return Block{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Block{}, err
	}
	tail, ok, err := e.store.Tail(ctx)
	if err != nil {
		return Block{}, fmt.Errorf("read tail: %w", err)
	}
	block := Block{
		Index:        0,
		Timestamp:    e.now().UTC().Truncate(time.Millisecond),
		Type:         entry.Type,
		From:         entry.From,
		To:           entry.To,
		Amount:       entry.Amount,
		Payload:      payload,
		PreviousHash: GenesisHash,
	}
	if ok {
		block.Index = tail.Index + 1
		block.PreviousHash = tail.CurrentHash
	}
	if block.CurrentHash, err = ComputeHash(block); err != nil {
		return Block{}, err
	}
	if err := e.store.Append(ctx, block); err != nil {
		return Block{}, fmt.Errorf("append block %d: %w", block.Index, err)
	}
	return block, nil
}

func normalizeEntry(entry *Entry) (Payload, error) {
	if !entry.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTxType, string(entry.Type))
	}
	if entry.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrNegativeAmount, entry.Amount)
	}
	entry.From = PartyID(strings.TrimSpace(string(entry.From)))
	entry.To = PartyID(strings.TrimSpace(string(entry.To)))
	if entry.Payload == nil {
		return NewPayload(entry.Type)
	}
	if entry.Payload.TxType() != entry.Type {
		return nil, fmt.Errorf("%w: %s payload on %s entry", ErrPayloadMismatch, entry.Payload.TxType(), entry.Type)
	}
	return trimPayload(entry.Payload), nil
}

// Tail returns the newest block. The boolean is false on an empty chain.
func (e *Engine) Tail(ctx context.Context) (Block, bool, error) {
	return e.store.Tail(ctx)
}

// Block returns the block at index.
func (e *Engine) Block(ctx context.Context, index uint64) (Block, error) {
	return e.store.BlockAt(ctx, index)
}

// Blocks returns up to limit blocks in ascending order starting at from.
func (e *Engine) Blocks(ctx context.Context, from uint64, limit int) ([]Block, error) {
	return e.store.Range(ctx, from, limit)
}

// Stats returns block counts computed from the store at call time.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	return e.store.Stats(ctx)
}
