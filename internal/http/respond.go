package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"TicketMint/internal/services"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}

// statusFor maps an engine error to an HTTP status and a stable code.
// Ledger waits answer 202: the request was accepted and will settle later.
func statusFor(err error) (int, string) {
	code := "internal"
	var e *services.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	switch {
	case errors.Is(err, services.ErrMissingUserID):
		return http.StatusUnauthorized, code
	case errors.Is(err, services.ErrNotTicketOwner), errors.Is(err, services.ErrNotSeller):
		return http.StatusForbidden, code
	}

	switch services.KindOf(err) {
	case services.KindValidation:
		return http.StatusBadRequest, code
	case services.KindInventory, services.KindConflict:
		return http.StatusConflict, code
	case services.KindNotFound:
		return http.StatusNotFound, code
	case services.KindLedgerTransient:
		return http.StatusAccepted, code
	case services.KindLedgerFinal:
		return http.StatusUnprocessableEntity, code
	}
	return http.StatusInternalServerError, code
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+userHeader)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
