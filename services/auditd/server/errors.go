package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"lendledger/core/ledger"
)

var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeError maps ledger errors onto HTTP status codes. Internal details are
// logged, never returned.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := http.StatusInternalServerError, "failed to fetch ledger"
	var corrupt *ledger.CorruptBlockError
	switch {
	case errors.As(err, &corrupt):
		status, message = http.StatusConflict, corruptMessage(corrupt)
		s.logger.Warn("corrupt ledger record",
			slog.String("route", r.URL.Path),
			slog.Uint64("index", corrupt.Index),
			slog.Any("error", err))
	case errors.Is(err, errBadRequest):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, ledger.ErrBlockNotFound):
		status, message = http.StatusNotFound, "block not found"
	case errors.Is(err, ledger.ErrStoreUnavailable):
		status, message = http.StatusServiceUnavailable, "ledger store unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		status, message = http.StatusGatewayTimeout, "ledger request timed out"
	case errors.Is(err, context.Canceled):
		status, message = http.StatusServiceUnavailable, "request cancelled"
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("audit request failed",
			slog.String("route", r.URL.Path),
			slog.Int("status", status),
			slog.Any("error", err))
	}
	writeErrorMessage(w, status, message)
}

// corruptMessage names the block without echoing the stored bytes.
func corruptMessage(err *ledger.CorruptBlockError) string {
	return fmt.Sprintf("block %d record is corrupt", err.Index)
}
