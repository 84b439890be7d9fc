package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ama3639/telegram-bot-os-sub000/internal/auth"
	"github.com/ama3639/telegram-bot-os-sub000/internal/currency"
	"github.com/ama3639/telegram-bot-os-sub000/internal/ledger"
	"github.com/ama3639/telegram-bot-os-sub000/internal/security"
)

type handlers struct {
	deps   Dependencies
	logger *slog.Logger
}

type accountResponse struct {
	CorrelationID string          `json:"correlation_id"`
	Account       *ledger.Account `json:"account"`
}

type accountsResponse struct {
	CorrelationID string            `json:"correlation_id"`
	Accounts      []*ledger.Account `json:"accounts"`
}

type transactionResponse struct {
	CorrelationID string              `json:"correlation_id"`
	Transaction   *ledger.Transaction `json:"transaction"`
}

type transactionsResponse struct {
	CorrelationID string                `json:"correlation_id"`
	Transactions  []*ledger.Transaction `json:"transactions"`
}

type historyResponse struct {
	CorrelationID string                `json:"correlation_id"`
	AccountID     string                `json:"account_id"`
	History       []ledger.BalancePoint `json:"history"`
}

type rateResponse struct {
	CorrelationID string                 `json:"correlation_id"`
	Rate          *currency.CurrencyPair `json:"rate"`
}

type convertResponse struct {
	CorrelationID string  `json:"correlation_id"`
	Amount        float64 `json:"amount"`
	From          string  `json:"from"`
	To            string  `json:"to"`
	Converted     float64 `json:"converted"`
	Formatted     string  `json:"formatted"`
}

func cid(r *http.Request) string {
	return security.CorrelationIDFromContext(r.Context())
}

func (h *handlers) ledgerReady(w http.ResponseWriter, r *http.Request) bool {
	if h.deps.Ledger == nil {
		security.WriteJSONError(w, r, http.StatusServiceUnavailable, "ledger_unavailable")
		return false
	}
	return true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
		return false
	}
	return true
}

// bindOwner fills an absent owner from the authenticated principal and rejects
// owners the principal may not act for. It is a no-op without authentication.
func bindOwner(w http.ResponseWriter, r *http.Request, owner **int64) bool {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return true
	}
	if *owner == nil {
		id := p.UserID
		*owner = &id
		return true
	}
	if !p.CanActFor(**owner) {
		security.WriteJSONError(w, r, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}

// canRead reports whether the caller may see data owned by owner.
func canRead(r *http.Request, owner *int64) bool {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok || p.Admin() {
		return true
	}
	return owner != nil && *owner == p.UserID
}

// ownsAccount loads the account only when a non-admin principal must be
// checked against it.
func (h *handlers) ownsAccount(w http.ResponseWriter, r *http.Request, id string) bool {
	if p, ok := auth.PrincipalFromContext(r.Context()); !ok || p.Admin() {
		return true
	}
	acct, err := h.deps.Ledger.GetAccount(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return false
	}
	if acct == nil {
		writeError(w, r, h.logger, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, id))
		return false
	}
	if !canRead(r, acct.OwnerID) {
		security.WriteJSONError(w, r, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}

func (h *handlers) ready(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ready != nil {
		if err := h.deps.Ready(r.Context()); err != nil {
			h.logger.Warn("readiness check failed", "error", err)
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "not_ready")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (h *handlers) createAccount(w http.ResponseWriter, r *http.Request) {
	if !h.ledgerReady(w, r) {
		return
	}
	var req ledger.CreateAccountRequest
	if !decode(w, r, &req) || !bindOwner(w, r, &req.OwnerID) {
		return
	}
	acct, err := h.deps.Ledger.CreateAccount(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, accountResponse{CorrelationID: cid(r), Account: acct})
}

func (h *handlers) getAccount(w http.ResponseWriter, r *http.Request) {
	if !h.ledgerReady(w, r) {
		return
	}
	id := chi.URLParam(r, "id")
	acct, err := h.deps.Ledger.GetAccount(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if acct == nil {
		writeError(w, r, h.logger, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, id))
		return
	}
	if !canRead(r, acct.OwnerID) {
		security.WriteJSONError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	writeJSON(w, r, http.StatusOK, accountResponse{CorrelationID: cid(r), Account: acct})
}

func (h *handlers) balanceHistory(w http.ResponseWriter, r *http.Request) {
	if !h.ledgerReady(w, r) {
		return
	}
	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 366 {
			security.WriteJSONErrorMessage(w, r, http.StatusBadRequest, "validation_error", "days must be between 0 and 366")
			return
		}
		days = n
	}
	id := chi.URLParam(r, "id")
	if !h.ownsAccount(w, r, id) {
		return
	}
	history, err := h.deps.Ledger.BalanceHistory(r.Context(), id, days)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, historyResponse{CorrelationID: cid(r), AccountID: id, History: history})
}

func (h *handlers) accountTransactions(w http.ResponseWriter, r *http.Request) {
	if !h.ledgerReady(w, r) {
		return
	}
	filter, err := parseTransactionFilter(r)
	if err != nil {
		security.WriteJSONErrorMessage(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	if !h.ownsAccount(w, r, id) {
		return
	}
	txns, err := h.deps.Ledger.ListAccountTransactions(r.Context(), id, filter)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if txns == nil {
		txns = []*ledger.Transaction{}
	}
	writeJSON(w, r, http.StatusOK, transactionsResponse{CorrelationID: cid(r), Transactions: txns})
}

func (h *handlers) userAccounts(w http.ResponseWriter, r *http.Request) {
	if !h.ledgerReady(w, r) {
		return
	}
	owner, err := strconv.ParseInt(chi.URLParam(r, "owner"), 10, 64)
	if err != nil {
		security.WriteJSONErrorMessage(w, r, http.StatusBadRequest, "validation_error", "user id must be an integer")
		return
	}
	if !canRead(r, &owner) {
		security.WriteJSONError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	activeOnly := true
	if v := r.URL.Query().Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			security.WriteJSONErrorMessage(w, r, http.StatusBadRequest, "validation_error", "active must be a boolean")
			return
		}
		activeOnly = b
	}
	accounts, err := h.deps.Ledger.ListUserAccounts(r.Context(), owner, activeOnly)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if accounts == nil {
		accounts = []*ledger.Account{}
	}
	writeJSON(w, r, http.StatusOK, accountsResponse{CorrelationID: cid(r), Accounts: accounts})
}

func (h *handlers) deposit(w http.ResponseWriter, r *http.Request) {
	if !h.ledgerReady(w, r) {
		return
	}
	var req ledger.DepositRequest
	if !decode(w, r, &req) || !bindOwner(w, r, &req.OwnerID) || !h.ownsAccount(w, r, req.AccountID) {
		return
	}
	txn, err := h.deps.Ledger.Deposit(r.Context(), req)
	h.writeTransaction(w, r, txn, err)
}

func (h *handlers) withdraw(w http.ResponseWriter, r *http.Request) {
	if !h.ledgerReady(w, r) {
		return
	}
	var req ledger.WithdrawalRequest
	if !decode(w, r, &req) || !bindOwner(w, r, &req.OwnerID) || !h.ownsAccount(w, r, req.AccountID) {
		return
	}
	txn, err := h.deps.Ledger.Withdraw(r.Context(), req)
	h.writeTransaction(w, r, txn, err)
}

func (h *handlers) transfer(w http.ResponseWriter, r *http.Request) {
	if !h.ledgerReady(w, r) {
		return
	}
	var req ledger.TransferRequest
	if !decode(w, r, &req) || !bindOwner(w, r, &req.OwnerID) || !h.ownsAccount(w, r, req.SourceAccountID) {
		return
	}
	txn, err := h.deps.Ledger.Transfer(r.Context(), req)
	h.writeTransaction(w, r, txn, err)
}

func (h *handlers) writeTransaction(w http.ResponseWriter, r *http.Request, txn *ledger.Transaction, err error) {
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, transactionResponse{CorrelationID: cid(r), Transaction: txn})
}

func (h *handlers) getTransaction(w http.ResponseWriter, r *http.Request) {
	if !h.ledgerReady(w, r) {
		return
	}
	id := chi.URLParam(r, "id")
	txn, err := h.deps.Ledger.GetTransaction(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if txn == nil {
		writeError(w, r, h.logger, fmt.Errorf("%w: %s", ledger.ErrTransactionNotFound, id))
		return
	}
	if !canRead(r, txn.OwnerID) {
		security.WriteJSONError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	writeJSON(w, r, http.StatusOK, transactionResponse{CorrelationID: cid(r), Transaction: txn})
}

func (h *handlers) getRate(w http.ResponseWriter, r *http.Request) {
	if h.deps.Converter == nil {
		security.WriteJSONError(w, r, http.StatusServiceUnavailable, "converter_unavailable")
		return
	}
	base := strings.ToUpper(chi.URLParam(r, "base"))
	quote := strings.ToUpper(chi.URLParam(r, "quote"))
	pair, err := h.deps.Converter.GetRate(r.Context(), base, quote)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rateResponse{CorrelationID: cid(r), Rate: pair})
}

func (h *handlers) convert(w http.ResponseWriter, r *http.Request) {
	if h.deps.Converter == nil {
		security.WriteJSONError(w, r, http.StatusServiceUnavailable, "converter_unavailable")
		return
	}
	q := r.URL.Query()
	amount, err := strconv.ParseFloat(q.Get("amount"), 64)
	if err != nil {
		security.WriteJSONErrorMessage(w, r, http.StatusBadRequest, "validation_error", "amount must be a number")
		return
	}
	from := strings.ToUpper(q.Get("from"))
	to := strings.ToUpper(q.Get("to"))

	converted, err := h.deps.Converter.Convert(r.Context(), amount, from, to)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, convertResponse{
		CorrelationID: cid(r),
		Amount:        amount,
		From:          from,
		To:            to,
		Converted:     converted,
		Formatted:     currency.FormatAmount(to, converted),
	})
}

func parseTransactionFilter(r *http.Request) (ledger.TransactionFilter, error) {
	q := r.URL.Query()
	var f ledger.TransactionFilter

	if v := q.Get("status"); v != "" {
		f.Status = ledger.Status(strings.ToLower(v))
		if !f.Status.Valid() {
			return f, fmt.Errorf("unknown status %q", v)
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, fmt.Errorf("limit must be a positive integer")
		}
		f.Limit = n
	}
	for _, p := range []struct {
		key string
		dst **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("%s must be an RFC3339 timestamp", p.key)
		}
		*p.dst = &t
	}
	return f, nil
}
