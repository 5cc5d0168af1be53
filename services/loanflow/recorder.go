// Package loanflow records loan workflow events on the audit ledger and
// gates each business action on a successful append.
package loanflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"lendledger/core/ledger"
	"lendledger/observability/logging"
)

var (
	// ErrNotRecorded wraps every append failure surfaced by the recorder. The
	// business action it was meant to record must be treated as failed.
	ErrNotRecorded = errors.New("loanflow: ledger entry not recorded")
	// ErrInvalidEvent is returned when a workflow event is missing data.
	ErrInvalidEvent = errors.New("loanflow: invalid event")
)

// Appender is the ledger capability the recorder needs.
type Appender interface {
	Append(ctx context.Context, entry ledger.Entry) (ledger.Block, error)
}

// LoanCreation is emitted when a borrower opens a loan request.
type LoanCreation struct {
	LoanID         string
	BorrowerID     string
	Amount         decimal.Decimal
	Purpose        string
	DurationMonths int
	InterestRate   decimal.Decimal
	RiskScore      int
}

// LoanFunding is emitted when a lender funds a loan request.
type LoanFunding struct {
	LoanID         string
	LenderID       string
	BorrowerID     string
	Amount         decimal.Decimal
	Purpose        string
	InterestRate   decimal.Decimal
	DurationMonths int
}

// Repayment is emitted when a borrower repays a lender.
type Repayment struct {
	LoanID      string
	RepaymentID string
	BorrowerID  string
	LenderID    string
	Amount      decimal.Decimal
	Installment int
	Principal   decimal.Decimal
	Interest    decimal.Decimal
}

// Config tunes the recorder.
type Config struct {
	// MaxAttempts bounds how often an append is tried when the ledger reports
	// a duplicate conflict. Values below one mean a single attempt.
	MaxAttempts int
	// RevealParties disables masking of participant ids in logs.
	RevealParties bool
	Logger        *slog.Logger
}

// Recorder translates workflow events into ledger entries.
type Recorder struct {
	ledger   Appender
	attempts int
	reveal   bool
	logger   *slog.Logger
}

// NewRecorder wraps the ledger appender.
func NewRecorder(appender Appender, cfg Config) (*Recorder, error) {
	if appender == nil {
		return nil, errors.New("loanflow: ledger required")
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		ledger:   appender,
		attempts: attempts,
		reveal:   cfg.RevealParties,
		logger:   logger.With(slog.String("component", "loanflow")),
	}, nil
}

// RecordLoanCreated appends a loan_created block with no counterparty.
func (r *Recorder) RecordLoanCreated(ctx context.Context, ev LoanCreation) (ledger.Block, error) {
	if err := requireFields(map[string]string{"loan id": ev.LoanID, "borrower": ev.BorrowerID}); err != nil {
		return ledger.Block{}, err
	}
	if err := requirePositive(ev.Amount); err != nil {
		return ledger.Block{}, err
	}
	return r.record(ctx, ledger.Entry{
		Type:   ledger.TxLoanCreated,
		From:   ledger.PartyID(ev.BorrowerID),
		Amount: ev.Amount,
		Payload: ledger.LoanCreatedPayload{
			LoanID:         ev.LoanID,
			Purpose:        ev.Purpose,
			DurationMonths: ev.DurationMonths,
			InterestRate:   ev.InterestRate,
			RiskScore:      ev.RiskScore,
		},
	})
}

// RecordLoanFunded appends a loan_funded block from lender to borrower.
func (r *Recorder) RecordLoanFunded(ctx context.Context, ev LoanFunding) (ledger.Block, error) {
	if err := requireFields(map[string]string{"loan id": ev.LoanID, "lender": ev.LenderID, "borrower": ev.BorrowerID}); err != nil {
		return ledger.Block{}, err
	}
	if err := requirePositive(ev.Amount); err != nil {
		return ledger.Block{}, err
	}
	return r.record(ctx, ledger.Entry{
		Type:   ledger.TxLoanFunded,
		From:   ledger.PartyID(ev.LenderID),
		To:     ledger.PartyID(ev.BorrowerID),
		Amount: ev.Amount,
		Payload: ledger.LoanFundedPayload{
			LoanID:         ev.LoanID,
			Purpose:        ev.Purpose,
			InterestRate:   ev.InterestRate,
			DurationMonths: ev.DurationMonths,
		},
	})
}

// RecordRepayment appends a repayment block from borrower to lender.
func (r *Recorder) RecordRepayment(ctx context.Context, ev Repayment) (ledger.Block, error) {
	if err := requireFields(map[string]string{"loan id": ev.LoanID, "borrower": ev.BorrowerID, "lender": ev.LenderID}); err != nil {
		return ledger.Block{}, err
	}
	if err := requirePositive(ev.Amount); err != nil {
		return ledger.Block{}, err
	}
	return r.record(ctx, ledger.Entry{
		Type:   ledger.TxRepayment,
		From:   ledger.PartyID(ev.BorrowerID),
		To:     ledger.PartyID(ev.LenderID),
		Amount: ev.Amount,
		Payload: ledger.RepaymentPayload{
			LoanID:      ev.LoanID,
			RepaymentID: ev.RepaymentID,
			Installment: ev.Installment,
			Principal:   ev.Principal,
			Interest:    ev.Interest,
		},
	})
}

func (r *Recorder) record(ctx context.Context, entry ledger.Entry) (ledger.Block, error) {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		block, err := r.ledger.Append(ctx, entry)
		if err == nil {
			r.logger.Info("workflow event recorded",
				slog.String("type", string(entry.Type)),
				slog.Uint64("index", block.Index),
				r.party("from", entry.From),
				r.party("to", entry.To))
			return block, nil
		}
		lastErr = err
		if !ledger.IsConflict(err) {
			break
		}
		r.logger.Warn("ledger append conflict",
			slog.String("type", string(entry.Type)),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
	}
	return ledger.Block{}, fmt.Errorf("%w: %s: %w", ErrNotRecorded, entry.Type, lastErr)
}

func (r *Recorder) party(key string, id ledger.PartyID) slog.Attr {
	if r.reveal {
		return slog.String(key, string(id))
	}
	return logging.MaskField(key, string(id))
}

// Commit runs the business action only after its ledger entry is recorded.
// An append failure aborts the action; an action failure is returned with
// the recorded block so callers can reconcile it.
func Commit(record func() (ledger.Block, error), apply func(ledger.Block) error) (ledger.Block, error) {
	block, err := record()
	if err != nil {
		if !errors.Is(err, ErrNotRecorded) {
			err = fmt.Errorf("%w: %w", ErrNotRecorded, err)
		}
		return ledger.Block{}, err
	}
	if apply == nil {
		return block, nil
	}
	if err := apply(block); err != nil {
		return block, fmt.Errorf("apply after ledger block %d: %w", block.Index, err)
	}
	return block, nil
}

func requireFields(fields map[string]string) error {
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%w: %s required", ErrInvalidEvent, name)
		}
	}
	return nil
}

func requirePositive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidEvent)
	}
	return nil
}
