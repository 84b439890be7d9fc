package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ama3639/telegram-bot-os-sub000/internal/currency"
	"github.com/ama3639/telegram-bot-os-sub000/internal/ledger"
	"github.com/ama3639/telegram-bot-os-sub000/internal/security"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	cid := security.CorrelationIDFromContext(r.Context())
	if cid != "" {
		w.Header().Set(security.CorrelationIDHeader, cid)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorStatus maps domain errors to an HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrValidation),
		errors.Is(err, currency.ErrInvalidAmount),
		errors.Is(err, currency.ErrUnsupportedCurrency):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, ledger.ErrAccountNotFound):
		return http.StatusNotFound, "account_not_found"
	case errors.Is(err, ledger.ErrTransactionNotFound):
		return http.StatusNotFound, "transaction_not_found"
	case errors.Is(err, currency.ErrRateNotFound):
		return http.StatusNotFound, "rate_not_found"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusConflict, "insufficient_funds"
	case errors.Is(err, ledger.ErrCurrencyMismatch):
		return http.StatusConflict, "currency_mismatch"
	case errors.Is(err, ledger.ErrAlreadyProcessed):
		return http.StatusConflict, "already_processed"
	case errors.Is(err, ledger.ErrAccountInactive):
		return http.StatusUnprocessableEntity, "account_inactive"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			"cid", security.CorrelationIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		security.WriteJSONError(w, r, status, code)
		return
	}
	security.WriteJSONErrorMessage(w, r, status, code, err.Error())
}
