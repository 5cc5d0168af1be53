package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Reason classifies the first inconsistency found by Validate.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonBrokenLink      Reason = "broken_link"
	ReasonContentTampered Reason = "content_tampered"
	ReasonIndexGap        Reason = "index_gap"
	ReasonDuplicateHash   Reason = "duplicate_hash"
)

func (r Reason) describe() string {
	switch r {
	case ReasonBrokenLink:
		return "previous hash does not match the preceding block"
	case ReasonContentTampered:
		return "content hash does not match the stored hash"
	case ReasonIndexGap:
		return "index is not contiguous"
	case ReasonDuplicateHash:
		return "hash already used by an earlier block"
	default:
		return "consistent"
	}
}

func (r Reason) sentinel() error {
	switch r {
	case ReasonBrokenLink:
		return ErrBrokenLink
	case ReasonContentTampered:
		return ErrContentTampered
	case ReasonIndexGap:
		return ErrIndexGap
	case ReasonDuplicateHash:
		return ErrDuplicateHash
	default:
		return nil
	}
}

// Report is the outcome of a full chain validation. Count is the number of
// blocks verified before the scan stopped; Index and Reason are set only when
// Valid is false.
type Report struct {
	Valid  bool
	Count  uint64
	Index  uint64
	Reason Reason
}

// Err returns nil for a valid report, otherwise a *ValidationError.
func (r Report) Err() error {
	if r.Valid {
		return nil
	}
	return &ValidationError{Index: r.Index, Reason: r.Reason}
}

// Message renders a short human readable summary.
func (r Report) Message() string {
	if r.Valid {
		return "chain is valid"
	}
	return r.Err().Error()
}

var errStopScan = errors.New("ledger: stop scan")

// Validate walks the stored chain in index order and recomputes every link
// and content hash. It stops at the first inconsistency. A stored record
// that no longer decodes is reported as content tampering at its index.
// Other store failures and context cancellation are returned as errors.
func (e *Engine) Validate(ctx context.Context) (Report, error) {
	start := time.Now()
	report := Report{Valid: true}
	var (
		prevHash = GenesisHash
		seen     = make(map[string]uint64)
	)
	fail := func(index uint64, reason Reason) error {
		report = Report{Valid: false, Count: report.Count, Index: index, Reason: reason}
		return errStopScan
	}
	err := e.store.Scan(ctx, func(b Block) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if b.Index != report.Count {
			return fail(b.Index, ReasonIndexGap)
		}
		if b.PreviousHash != prevHash {
			return fail(b.Index, ReasonBrokenLink)
		}
		if _, dup := seen[b.CurrentHash]; dup {
			return fail(b.Index, ReasonDuplicateHash)
		}
		hash, err := ComputeHash(b)
		if err != nil || hash != b.CurrentHash {
			return fail(b.Index, ReasonContentTampered)
		}
		seen[b.CurrentHash] = b.Index
		prevHash = b.CurrentHash
		report.Count++
		return nil
	})
	var corruptErr *CorruptBlockError
	switch {
	case err == nil, errors.Is(err, errStopScan):
	case errors.As(err, &corruptErr):
		report = Report{Valid: false, Count: report.Count, Index: corruptErr.Index, Reason: ReasonContentTampered}
	default:
		return Report{}, err
	}
	e.observer.ObserveValidation(report, time.Since(start))
	if !report.Valid {
		e.logger.Warn("ledger validation failed",
			slog.Uint64("index", report.Index),
			slog.String("reason", string(report.Reason)))
	}
	return report, nil
}
