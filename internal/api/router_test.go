package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ama3639/telegram-bot-os-sub000/internal/auth"
	"github.com/ama3639/telegram-bot-os-sub000/internal/clock"
	"github.com/ama3639/telegram-bot-os-sub000/internal/currency"
	"github.com/ama3639/telegram-bot-os-sub000/internal/ledger"
	"github.com/ama3639/telegram-bot-os-sub000/internal/security"
	"github.com/ama3639/telegram-bot-os-sub000/internal/store"
	"github.com/ama3639/telegram-bot-os-sub000/pkg/audit"
)

type fakeConverter struct {
	rates map[string]float64
}

func (f *fakeConverter) GetRate(ctx context.Context, base, quote string) (*currency.CurrencyPair, error) {
	if !currency.IsSupported(base) || !currency.IsSupported(quote) {
		return nil, currency.ErrUnsupportedCurrency
	}
	rate, ok := f.rates[base+"/"+quote]
	if !ok {
		return nil, currency.ErrRateNotFound
	}
	return &currency.CurrencyPair{Base: base, Quote: quote, Rate: rate, Source: currency.SourceDirect}, nil
}

func (f *fakeConverter) Convert(ctx context.Context, amount float64, from, to string) (float64, error) {
	if amount <= 0 {
		return 0, currency.ErrInvalidAmount
	}
	pair, err := f.GetRate(ctx, from, to)
	if err != nil {
		return 0, err
	}
	return currency.Round(to, amount*pair.Rate), nil
}

type auditSpy struct{ payloads []string }

func (a *auditSpy) Append(payload string) *audit.LogEntry {
	a.payloads = append(a.payloads, payload)
	return &audit.LogEntry{Payload: payload}
}

type testServer struct {
	*httptest.Server
	ledger *ledger.Ledger
	audit  *auditSpy
}

func newTestServer(t *testing.T, mutate func(*Dependencies)) *testServer {
	t.Helper()
	gw, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })
	require.NoError(t, store.Migrate(context.Background(), gw))

	l := ledger.New(ledger.Options{Gateway: gw, Clock: clock.NewFixed(time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC))})
	spy := &auditSpy{}
	deps := Dependencies{
		Ledger:    l,
		Converter: &fakeConverter{rates: map[string]float64{"USD/EUR": 0.9, "USD/IRR": 500000}},
		Auditor:   spy,
	}
	if mutate != nil {
		mutate(&deps)
	}
	h, err := NewRouter(deps)
	require.NoError(t, err)

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, ledger: l, audit: spy}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (ts *testServer) createAccount(t *testing.T, name, code string) string {
	t.Helper()
	resp, body := ts.do(t, http.MethodPost, "/v1/accounts", map[string]any{
		"name": name, "account_type": "ASSET", "currency": code, "user_id": 77,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	return body["account"].(map[string]any)["id"].(string)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := ts.Client().Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(security.CorrelationIDHeader))
}

func TestReadyz(t *testing.T) {
	ts := newTestServer(t, func(d *Dependencies) {
		d.Ready = func(ctx context.Context) error { return errors.New("db down") }
	})
	resp, body := ts.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "not_ready", body["error"])
}

func TestAccountLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	a := ts.createAccount(t, "Wallet", "usd")
	b := ts.createAccount(t, "Savings", "USD")

	resp, body := ts.do(t, http.MethodPost, "/v1/deposits", map[string]any{"account_id": a, "amount": 100, "currency": "USD"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	txn := body["transaction"].(map[string]any)
	assert.Equal(t, "completed", txn["status"])

	resp, body = ts.do(t, http.MethodPost, "/v1/transfers", map[string]any{
		"source_account_id": a, "destination_account_id": b, "amount": 150,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "insufficient_funds", body["error"])
	assert.NotEmpty(t, body["correlation_id"])

	resp, body = ts.do(t, http.MethodPost, "/v1/transfers", map[string]any{
		"source_account_id": a, "destination_account_id": b, "amount": 40,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	transferID := body["transaction"].(map[string]any)["id"].(string)

	resp, body = ts.do(t, http.MethodPost, "/v1/withdrawals", map[string]any{"account_id": b, "amount": 15})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)

	resp, body = ts.do(t, http.MethodGet, "/v1/accounts/"+a, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 60.0, body["account"].(map[string]any)["balance"])

	resp, body = ts.do(t, http.MethodGet, "/v1/transactions/"+transferID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "TRANSFER", body["transaction"].(map[string]any)["transaction_type"])

	resp, body = ts.do(t, http.MethodGet, "/v1/accounts/"+b+"/transactions?limit=10&status=completed", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["transactions"], 2)

	resp, body = ts.do(t, http.MethodGet, "/v1/users/77/accounts", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["accounts"], 2)

	resp, body = ts.do(t, http.MethodGet, "/v1/accounts/"+a+"/history?days=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := body["history"].([]any)
	require.Len(t, history, 3)
	assert.Equal(t, 60.0, history[2].(map[string]any)["balance"])

	assert.NotEmpty(t, ts.audit.payloads)
	for _, p := range ts.audit.payloads {
		assert.NotContains(t, p, "method=GET")
	}
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t, nil)
	usd := ts.createAccount(t, "USD", "USD")
	irr := ts.createAccount(t, "IRR", "IRR")
	require.NoError(t, ts.ledger.Registry().SetActive(context.Background(), irr, false))

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown account", http.MethodGet, "/v1/accounts/nope", nil, http.StatusNotFound, "account_not_found"},
		{"unknown transaction", http.MethodGet, "/v1/transactions/nope", nil, http.StatusNotFound, "transaction_not_found"},
		{"schema rejects negative", http.MethodPost, "/v1/deposits", map[string]any{"account_id": usd, "amount": -5}, http.StatusBadRequest, "validation_error"},
		{"schema rejects unknown field", http.MethodPost, "/v1/deposits", map[string]any{"account_id": usd, "amount": 5, "admin": true}, http.StatusBadRequest, "validation_error"},
		{"unsupported currency", http.MethodPost, "/v1/accounts", map[string]any{"name": "x", "account_type": "ASSET", "currency": "JPY"}, http.StatusBadRequest, "validation_error"},
		{"currency mismatch", http.MethodPost, "/v1/deposits", map[string]any{"account_id": usd, "amount": 5, "currency": "EUR"}, http.StatusConflict, "currency_mismatch"},
		{"inactive account", http.MethodPost, "/v1/deposits", map[string]any{"account_id": irr, "amount": 5}, http.StatusUnprocessableEntity, "account_inactive"},
		{"bad owner", http.MethodGet, "/v1/users/abc/accounts", nil, http.StatusBadRequest, "validation_error"},
		{"bad days", http.MethodGet, "/v1/accounts/" + usd + "/history?days=x", nil, http.StatusBadRequest, "validation_error"},
		{"bad status filter", http.MethodGet, "/v1/accounts/" + usd + "/transactions?status=lost", nil, http.StatusBadRequest, "validation_error"},
		{"unknown route", http.MethodGet, "/v2/nothing", nil, http.StatusNotFound, "not_found"},
		{"wrong method", http.MethodDelete, "/v1/deposits", nil, http.StatusMethodNotAllowed, "method_not_allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode, body)
			assert.Equal(t, tt.code, body["error"])
		})
	}
}

func TestRatesAndConversion(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := ts.do(t, http.MethodGet, "/v1/rates/usd/eur", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0.9, body["rate"].(map[string]any)["rate"])

	resp, body = ts.do(t, http.MethodGet, "/v1/rates/EUR/GBP", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "rate_not_found", body["error"])

	resp, body = ts.do(t, http.MethodGet, "/v1/rates/USD/JPY", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/v1/convert?amount=2.5&from=USD&to=IRR", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1250000.0, body["converted"])
	assert.Equal(t, "1,250,000 ﷼", body["formatted"])

	resp, body = ts.do(t, http.MethodGet, "/v1/convert?amount=0&from=USD&to=EUR", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/v1/convert?amount=abc&from=USD&to=EUR", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRateLimitByUser(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ts := newTestServer(t, func(d *Dependencies) {
		d.RateLimiter = &security.RedisTokenBucket{Redis: rdb, Prefix: "rl", Capacity: 2, RefillRate: 0.001}
	})

	get := func(uid string) int {
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
		require.NoError(t, err)
		req.Header.Set(UserIDHeader, uid)
		resp, err := ts.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, get("1"))
	assert.Equal(t, http.StatusOK, get("1"))
	assert.Equal(t, http.StatusTooManyRequests, get("1"))
	assert.Equal(t, http.StatusOK, get("2"))
}

func TestIPAllowlistBlocks(t *testing.T) {
	allow, err := security.ParseCIDRAllowlist("10.0.0.0/8")
	require.NoError(t, err)
	ts := newTestServer(t, func(d *Dependencies) { d.IPAllowlist = allow })

	resp, body := ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "forbidden", body["error"])
}

func TestBodyLimit(t *testing.T) {
	ts := newTestServer(t, func(d *Dependencies) { d.MaxBodyBytes = 64 })
	resp, _ := ts.do(t, http.MethodPost, "/v1/deposits", map[string]any{
		"account_id": "a", "amount": 1, "description": strings.Repeat("x", 200),
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestErrorStatusDefaults(t *testing.T) {
	status, code := errorStatus(fmt.Errorf("boom"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", code)

	status, _ = errorStatus(&ledger.InvalidStatusTransitionError{From: ledger.StatusCompleted, To: ledger.StatusCancelled})
	assert.Equal(t, http.StatusConflict, status)
}

func TestBearerAuthScopesToOwner(t *testing.T) {
	v := auth.NewValidator("test-secret", "ledgerd")
	ts := newTestServer(t, func(d *Dependencies) { d.Auth = v })

	token := func(uid int64, scopes ...string) string {
		tok, err := v.Issue(uid, time.Hour, scopes...)
		require.NoError(t, err)
		return tok
	}
	call := func(tok, method, path string, body any) (int, map[string]any) {
		var b []byte
		if body != nil {
			var err error
			b, err = json.Marshal(body)
			require.NoError(t, err)
		}
		req, err := http.NewRequest(method, ts.URL+path, bytes.NewReader(b))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		resp, err := ts.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		out := map[string]any{}
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}

	status, _ := call("", http.MethodGet, "/v1/users/77/accounts", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	resp, err := ts.Client().Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	alice, bob, admin := token(77), token(78), token(1, auth.ScopeAdmin)

	status, body := call(alice, http.MethodPost, "/v1/accounts", map[string]any{
		"name": "Wallet", "account_type": "ASSET", "currency": "USD",
	})
	require.Equal(t, http.StatusCreated, status, body)
	acct := body["account"].(map[string]any)
	assert.EqualValues(t, 77, acct["user_id"])
	id := acct["id"].(string)

	status, _ = call(bob, http.MethodPost, "/v1/accounts", map[string]any{
		"name": "Stolen", "account_type": "ASSET", "currency": "USD", "user_id": 77,
	})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = call(bob, http.MethodGet, "/v1/accounts/"+id, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = call(bob, http.MethodGet, "/v1/accounts/"+id+"/history", nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = call(bob, http.MethodGet, "/v1/users/77/accounts", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = call(bob, http.MethodPost, "/v1/withdrawals", map[string]any{"account_id": id, "amount": 1})
	assert.Equal(t, http.StatusForbidden, status)

	status, body = call(alice, http.MethodPost, "/v1/deposits", map[string]any{"account_id": id, "amount": 10})
	require.Equal(t, http.StatusCreated, status, body)
	assert.EqualValues(t, 77, body["transaction"].(map[string]any)["user_id"])

	status, _ = call(alice, http.MethodGet, "/v1/accounts/"+id+"/transactions", nil)
	assert.Equal(t, http.StatusOK, status)
	status, body = call(admin, http.MethodGet, "/v1/users/77/accounts", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body["accounts"], 1)
}
