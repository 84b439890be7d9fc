package currency

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchangeRateAPILatestRates(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v6/test-key/latest/USD", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result":           "success",
			"conversion_rates": map[string]float64{"USD": 1, "EUR": 0.92, "IRR": 500000},
		})
	}))
	defer ts.Close()

	p := NewExchangeRateAPI(ProviderConfig{BaseURL: ts.URL, APIKey: "test-key", Enabled: true})
	require.True(t, p.Enabled())

	rates, err := p.LatestRates(context.Background(), USD)
	require.NoError(t, err)
	assert.Equal(t, 0.92, rates[EUR])
	assert.Equal(t, 500000.0, rates[IRR])
}

func TestExchangeRateAPIErrorResult(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"result": "error", "error-type": "invalid-key"})
	}))
	defer ts.Close()

	p := NewExchangeRateAPI(ProviderConfig{BaseURL: ts.URL, APIKey: "bad", Enabled: true})
	_, err := p.LatestRates(context.Background(), USD)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid-key")
}

func TestProviderDisabledWithoutKey(t *testing.T) {
	fiat := NewExchangeRateAPI(ProviderConfig{Enabled: true})
	assert.False(t, fiat.Enabled())
	_, err := fiat.LatestRates(context.Background(), USD)
	assert.ErrorIs(t, err, ErrProviderDisabled)

	crypto := NewCoinMarketCap(ProviderConfig{APIKey: "key", Enabled: false})
	assert.False(t, crypto.Enabled())
	_, err = crypto.Quote(context.Background(), BTC, USD)
	assert.ErrorIs(t, err, ErrProviderDisabled)
}

func TestCoinMarketCapQuote(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/cryptocurrency/quotes/latest", r.URL.Path)
		assert.Equal(t, "cmc-key", r.Header.Get("X-CMC_PRO_API_KEY"))
		assert.Equal(t, "BTC", r.URL.Query().Get("symbol"))
		assert.Equal(t, "USD", r.URL.Query().Get("convert"))
		_, _ = w.Write([]byte(`{
			"status": {"error_code": 0, "error_message": null},
			"data": {"BTC": {"quote": {"USD": {"price": 61234.5, "last_updated": "2024-03-20T11:59:00.000Z"}}}}
		}`))
	}))
	defer ts.Close()

	p := NewCoinMarketCap(ProviderConfig{BaseURL: ts.URL, APIKey: "cmc-key", Enabled: true})
	pair, err := p.Quote(context.Background(), BTC, USD)
	require.NoError(t, err)
	assert.Equal(t, 61234.5, pair.Rate)
	assert.Equal(t, SourceCoinMarketCap, pair.Source)
	assert.Equal(t, 2024, pair.Timestamp.Year())
	assert.True(t, p.Supports("SOL"))
	assert.False(t, p.Supports(IRR))
}

func TestCoinMarketCapErrorCode(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": {"error_code": 1001, "error_message": "This API Key is invalid."}}`))
	}))
	defer ts.Close()

	p := NewCoinMarketCap(ProviderConfig{BaseURL: ts.URL, APIKey: "k", Enabled: true})
	_, err := p.Quote(context.Background(), BTC, USD)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1001")
}

func TestProviderTimeoutIsAMiss(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer ts.Close()
	defer close(release)

	p := NewExchangeRateAPI(ProviderConfig{BaseURL: ts.URL, APIKey: "k", Enabled: true, Timeout: 50 * time.Millisecond})
	conv := NewConverter(Options{Fiat: p})

	_, err := conv.GetRate(context.Background(), USD, EUR)
	assert.ErrorIs(t, err, ErrRateNotFound)
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		code   string
		amount float64
		want   string
	}{
		{IRR, 1234567, "1,234,567 ﷼"},
		{IRR, 999, "999 ﷼"},
		{USD, 1234.5, "$1,234.50"},
		{EUR, 12, "€12.00"},
		{GBP, -1500.25, "-£1,500.25"},
		{BTC, 0.5, "0.50000000 ₿"},
		{USDT, 10, "10.000000 ₮"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatAmount(tt.code, tt.amount), tt.code)
	}
}

func TestCurrencyClassification(t *testing.T) {
	assert.Equal(t, []string{EUR, GBP, IRR, USD}, FiatCodes())
	assert.Equal(t, []string{BTC, ETH, USDT}, CryptoCodes())
	assert.True(t, IsFiat(IRR))
	assert.True(t, IsCrypto(ETH))
	assert.False(t, IsSupported("DOGE"))

	c, ok := Lookup(ETH)
	require.True(t, ok)
	assert.Equal(t, int32(18), c.DecimalDigits)
	assert.Equal(t, 1235.0, Round(IRR, 1234.5))
}
