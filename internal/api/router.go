package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ama3639/telegram-bot-os-sub000/internal/auth"
	"github.com/ama3639/telegram-bot-os-sub000/internal/currency"
	"github.com/ama3639/telegram-bot-os-sub000/internal/ledger"
	"github.com/ama3639/telegram-bot-os-sub000/internal/security"
	"github.com/ama3639/telegram-bot-os-sub000/pkg/audit"
)

// UserIDHeader carries the Telegram user id of the caller, when known.
const UserIDHeader = "X-Telegram-User-ID"

type Auditor interface {
	Append(payload string) *audit.LogEntry
}

// Ledger is the accounting surface served over HTTP.
type Ledger interface {
	CreateAccount(ctx context.Context, req ledger.CreateAccountRequest) (*ledger.Account, error)
	GetAccount(ctx context.Context, id string) (*ledger.Account, error)
	ListUserAccounts(ctx context.Context, ownerID int64, activeOnly bool) ([]*ledger.Account, error)
	BalanceHistory(ctx context.Context, accountID string, days int) ([]ledger.BalancePoint, error)
	ListAccountTransactions(ctx context.Context, accountID string, f ledger.TransactionFilter) ([]*ledger.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*ledger.Transaction, error)
	Deposit(ctx context.Context, req ledger.DepositRequest) (*ledger.Transaction, error)
	Withdraw(ctx context.Context, req ledger.WithdrawalRequest) (*ledger.Transaction, error)
	Transfer(ctx context.Context, req ledger.TransferRequest) (*ledger.Transaction, error)
}

// Converter resolves exchange rates.
type Converter interface {
	GetRate(ctx context.Context, base, quote string) (*currency.CurrencyPair, error)
	Convert(ctx context.Context, amount float64, from, to string) (float64, error)
}

type Dependencies struct {
	Logger    *slog.Logger
	Ledger    Ledger
	Converter Converter

	// Ready, when set, backs /readyz.
	Ready func(ctx context.Context) error

	// Auth, when set, requires a bearer token on every /v1 route.
	Auth *auth.Validator

	Auditor      Auditor
	RateLimiter  *security.RedisTokenBucket
	IPAllowlist  []*net.IPNet
	MaxBodyBytes int64
}

func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	createAccountV, err := security.NewJSONSchemaValidator(createAccountSchema)
	if err != nil {
		return nil, err
	}
	depositV, err := security.NewJSONSchemaValidator(depositSchema)
	if err != nil {
		return nil, err
	}
	withdrawalV, err := security.NewJSONSchemaValidator(withdrawalSchema)
	if err != nil {
		return nil, err
	}
	transferV, err := security.NewJSONSchemaValidator(transferSchema)
	if err != nil {
		return nil, err
	}

	h := &handlers{deps: deps, logger: deps.Logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.CorrelationID)
	r.Use(RequestLogger(deps.Logger))
	r.Use(security.BodySizeLimit(deps.MaxBodyBytes))
	r.Use(security.IPAllowlist(deps.IPAllowlist))
	if deps.RateLimiter != nil {
		r.Use(security.RateLimitMiddleware(deps.RateLimiter, rateLimitKey))
	}
	if deps.Auditor != nil {
		r.Use(AuditMiddleware(deps.Auditor))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", h.ready)

	r.Route("/v1", func(r chi.Router) {
		if deps.Auth != nil {
			r.Use(auth.Authenticate(deps.Auth, security.WriteJSONError))
		}
		r.Route("/accounts", func(r chi.Router) {
			r.With(createAccountV.Middleware).Post("/", h.createAccount)
			r.Get("/{id}", h.getAccount)
			r.Get("/{id}/history", h.balanceHistory)
			r.Get("/{id}/transactions", h.accountTransactions)
		})
		r.Get("/users/{owner}/accounts", h.userAccounts)

		r.With(depositV.Middleware).Post("/deposits", h.deposit)
		r.With(withdrawalV.Middleware).Post("/withdrawals", h.withdraw)
		r.With(transferV.Middleware).Post("/transfers", h.transfer)
		r.Get("/transactions/{id}", h.getTransaction)

		r.Get("/rates/{base}/{quote}", h.getRate)
		r.Get("/convert", h.convert)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	return r, nil
}

// rateLimitKey buckets by Telegram user when the caller names one, else by peer IP.
func rateLimitKey(r *http.Request) string {
	if uid := strings.TrimSpace(r.Header.Get(UserIDHeader)); uid != "" {
		return "user:" + uid
	}
	ip := security.RemoteIP(r)
	if ip == nil {
		return ""
	}
	return "ip:" + ip.String()
}
