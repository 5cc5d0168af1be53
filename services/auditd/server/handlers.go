package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"lendledger/core/ledger"
	"lendledger/observability/logging"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	maxPage          = 1_000_000_000
)

type participantView struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type blockView struct {
	Index           uint64           `json:"index"`
	Timestamp       string           `json:"timestamp"`
	TransactionType string           `json:"transactionType"`
	FromParty       *participantView `json:"fromParty"`
	ToParty         *participantView `json:"toParty"`
	Amount          string           `json:"amount"`
	Payload         json.RawMessage  `json:"payload"`
	PreviousHash    string           `json:"previousHash"`
	CurrentHash     string           `json:"currentHash"`
}

type paginationView struct {
	Page        int    `json:"page"`
	Limit       int    `json:"limit"`
	Order       string `json:"order"`
	TotalBlocks uint64 `json:"totalBlocks"`
	TotalPages  uint64 `json:"totalPages"`
}

type validationView struct {
	Valid      bool    `json:"valid"`
	BlockCount uint64  `json:"blockCount"`
	Index      *uint64 `json:"index,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Error      string  `json:"error,omitempty"`
}

type statsView struct {
	TotalBlocks       uint64            `json:"totalBlocks"`
	LoanCreatedBlocks uint64            `json:"loanCreatedBlocks"`
	LoanFundedBlocks  uint64            `json:"loanFundedBlocks"`
	RepaymentBlocks   uint64            `json:"repaymentBlocks"`
	ByType            map[string]uint64 `json:"byType"`
}

type pageRequest struct {
	page  int
	limit int
	desc  bool
}

// Health reports the chain height, failing when the store is unreachable.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	tail, ok, err := s.ledger.Tail(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	height := uint64(0)
	if ok {
		height = tail.Index + 1
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "height": height})
}

// Overview combines the newest blocks, the validation result and the stats
// in one response for the admin dashboard.
func (s *Server) Overview(w http.ResponseWriter, r *http.Request) {
	req, err := parsePage(r, true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// A corrupt record in the page still leaves the validation verdict and
	// counts worth returning.
	blocks, pagination, err := s.page(r, req)
	var corrupt *ledger.CorruptBlockError
	switch {
	case err == nil:
	case errors.As(err, &corrupt):
		blocks = []blockView{}
	default:
		s.writeError(w, r, err)
		return
	}
	report, err := s.validate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats, err := s.ledger.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body := map[string]any{
		"success":    true,
		"blocks":     blocks,
		"pagination": pagination,
		"validation": validationFrom(report),
		"stats":      statsFrom(stats),
	}
	if corrupt != nil {
		body["blocksError"] = corruptMessage(corrupt)
	}
	writeJSON(w, http.StatusOK, body)
}

// ListBlocks returns one page of blocks, newest first unless order=asc.
func (s *Server) ListBlocks(w http.ResponseWriter, r *http.Request) {
	req, err := parsePage(r, true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	blocks, pagination, err := s.page(r, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"blocks":     blocks,
		"pagination": pagination,
	})
}

// GetBlock returns a single block by index.
func (s *Server) GetBlock(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 64)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: index must be a non-negative integer", errBadRequest))
		return
	}
	block, err := s.ledger.Block(r.Context(), index)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view, err := s.view(block)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "block": view})
}

// Validate runs a full chain validation.
func (s *Server) Validate(w http.ResponseWriter, r *http.Request) {
	report, err := s.validate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, validationFrom(report))
}

// validate runs a full validation and records which admin asked for it.
func (s *Server) validate(r *http.Request) (ledger.Report, error) {
	report, err := s.ledger.Validate(r.Context())
	if err != nil {
		return report, err
	}
	attrs := []any{
		logging.MaskField("subject", SubjectFromContext(r.Context())),
		slog.String("route", r.URL.Path),
		slog.Bool("valid", report.Valid),
	}
	if !report.Valid {
		attrs = append(attrs, slog.Uint64("index", report.Index), slog.String("reason", string(report.Reason)))
	}
	s.logger.Info("chain validation requested", attrs...)
	return report, nil
}

// Stats returns block counts per transaction type.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ledger.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsFrom(stats))
}

func parsePage(r *http.Request, defaultDesc bool) (pageRequest, error) {
	req := pageRequest{page: 1, limit: defaultPageLimit, desc: defaultDesc}
	query := r.URL.Query()
	if raw := strings.TrimSpace(query.Get("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return req, fmt.Errorf("%w: page must be a positive integer", errBadRequest)
		}
		if page > maxPage {
			return req, fmt.Errorf("%w: page must not exceed %d", errBadRequest, maxPage)
		}
		req.page = page
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return req, fmt.Errorf("%w: limit must be a positive integer", errBadRequest)
		}
		if limit > maxPageLimit {
			limit = maxPageLimit
		}
		req.limit = limit
	}
	switch strings.ToLower(strings.TrimSpace(query.Get("order"))) {
	case "":
	case "asc":
		req.desc = false
	case "desc":
		req.desc = true
	default:
		return req, fmt.Errorf("%w: order must be asc or desc", errBadRequest)
	}
	return req, nil
}

func (s *Server) page(r *http.Request, req pageRequest) ([]blockView, paginationView, error) {
	ctx := r.Context()
	stats, err := s.ledger.Stats(ctx)
	if err != nil {
		return nil, paginationView{}, err
	}
	pagination := paginationView{
		Page:        req.page,
		Limit:       req.limit,
		Order:       "asc",
		TotalBlocks: stats.Total,
		TotalPages:  (stats.Total + uint64(req.limit) - 1) / uint64(req.limit),
	}
	skip := uint64(req.page-1) * uint64(req.limit)

	var blocks []ledger.Block
	if req.desc {
		pagination.Order = "desc"
		tail, ok, err := s.ledger.Tail(ctx)
		if err != nil {
			return nil, pagination, err
		}
		if ok && skip <= tail.Index {
			end := tail.Index + 1 - skip
			start := uint64(0)
			if end > uint64(req.limit) {
				start = end - uint64(req.limit)
			}
			if blocks, err = s.ledger.Blocks(ctx, start, int(end-start)); err != nil {
				return nil, pagination, err
			}
			for i, j := 0, len(blocks)-1; i < j; i, j = i+1, j-1 {
				blocks[i], blocks[j] = blocks[j], blocks[i]
			}
		}
	} else if blocks, err = s.ledger.Blocks(ctx, skip, req.limit); err != nil {
		return nil, pagination, err
	}

	views := make([]blockView, 0, len(blocks))
	for _, b := range blocks {
		view, err := s.view(b)
		if err != nil {
			return nil, paginationView{}, err
		}
		views = append(views, view)
	}
	return views, pagination, nil
}

func (s *Server) view(b ledger.Block) (blockView, error) {
	payload, err := ledger.EncodePayload(b.Payload)
	if err != nil {
		return blockView{}, err
	}
	return blockView{
		Index:           b.Index,
		Timestamp:       ledger.FormatTimestamp(b.Timestamp),
		TransactionType: string(b.Type),
		FromParty:       s.participant(b.From),
		ToParty:         s.participant(b.To),
		Amount:          b.Amount.String(),
		Payload:         payload,
		PreviousHash:    b.PreviousHash,
		CurrentHash:     b.CurrentHash,
	}, nil
}

func (s *Server) participant(id ledger.PartyID) *participantView {
	if id.IsZero() {
		return nil
	}
	view := &participantView{ID: string(id)}
	if name, ok := s.directory.Name(id); ok {
		view.Name = name
	}
	return view
}

func validationFrom(report ledger.Report) validationView {
	view := validationView{Valid: report.Valid, BlockCount: report.Count}
	if !report.Valid {
		index := report.Index
		view.Index = &index
		view.Reason = string(report.Reason)
		view.Error = report.Message()
	}
	return view
}

func statsFrom(stats ledger.Stats) statsView {
	byType := make(map[string]uint64, len(stats.ByType))
	for _, t := range ledger.TxTypes() {
		byType[string(t)] = stats.Count(t)
	}
	return statsView{
		TotalBlocks:       stats.Total,
		LoanCreatedBlocks: stats.Count(ledger.TxLoanCreated),
		LoanFundedBlocks:  stats.Count(ledger.TxLoanFunded),
		RepaymentBlocks:   stats.Count(ledger.TxRepayment),
		ByType:            byType,
	}
}
