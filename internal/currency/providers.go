package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DefaultProviderTimeout bounds a single provider request.
const DefaultProviderTimeout = 10 * time.Second

const (
	DefaultExchangeRateAPIURL = "https://v6.exchangerate-api.com"
	DefaultCoinMarketCapURL   = "https://pro-api.coinmarketcap.com"
)

// FiatProvider returns quotes of every known currency against one fiat base.
type FiatProvider interface {
	Name() string
	Enabled() bool
	Supports(code string) bool
	LatestRates(ctx context.Context, base string) (map[string]float64, error)
}

// CryptoProvider returns the price of one crypto asset in a fiat currency.
type CryptoProvider interface {
	Name() string
	Enabled() bool
	Supports(code string) bool
	Quote(ctx context.Context, symbol, fiat string) (*CurrencyPair, error)
}

// ProviderConfig configures an HTTP rate provider. A provider with no API key is disabled.
type ProviderConfig struct {
	BaseURL string
	APIKey  string
	Enabled bool
	Timeout time.Duration
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	return &http.Client{Timeout: timeout}
}

// ExchangeRateAPI talks to exchangerate-api.com v6.
type ExchangeRateAPI struct {
	baseURL string
	apiKey  string
	enabled bool
	client  *http.Client
}

var exchangeRateAPICurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "IRR": true, "AED": true,
	"TRY": true, "CNY": true, "JPY": true, "CAD": true, "AUD": true,
}

func NewExchangeRateAPI(cfg ProviderConfig) *ExchangeRateAPI {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultExchangeRateAPIURL
	}
	return &ExchangeRateAPI{
		baseURL: base,
		apiKey:  cfg.APIKey,
		enabled: cfg.Enabled && cfg.APIKey != "",
		client:  newHTTPClient(cfg.Timeout),
	}
}

func (p *ExchangeRateAPI) Name() string { return SourceExchangeRateAPI }

func (p *ExchangeRateAPI) Enabled() bool { return p.enabled }

func (p *ExchangeRateAPI) Supports(code string) bool { return exchangeRateAPICurrencies[code] }

type exchangeRateAPIResponse struct {
	Result          string             `json:"result"`
	ErrorType       string             `json:"error-type"`
	ConversionRates map[string]float64 `json:"conversion_rates"`
}

func (p *ExchangeRateAPI) LatestRates(ctx context.Context, base string) (map[string]float64, error) {
	if !p.enabled {
		return nil, ErrProviderDisabled
	}
	endpoint := fmt.Sprintf("%s/v6/%s/latest/%s", p.baseURL, url.PathEscape(p.apiKey), url.PathEscape(base))

	var body exchangeRateAPIResponse
	if err := getJSON(ctx, p.client, endpoint, nil, &body); err != nil {
		return nil, fmt.Errorf("exchangerate-api: %w", err)
	}
	if body.Result != "success" {
		return nil, fmt.Errorf("exchangerate-api: result %q: %s", body.Result, body.ErrorType)
	}
	return body.ConversionRates, nil
}

// CoinMarketCap talks to the CoinMarketCap pro API.
type CoinMarketCap struct {
	baseURL string
	apiKey  string
	enabled bool
	client  *http.Client
}

var coinMarketCapCurrencies = map[string]bool{
	"BTC": true, "ETH": true, "USDT": true, "BNB": true, "XRP": true,
	"ADA": true, "SOL": true, "DOT": true, "DOGE": true, "SHIB": true,
}

func NewCoinMarketCap(cfg ProviderConfig) *CoinMarketCap {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultCoinMarketCapURL
	}
	return &CoinMarketCap{
		baseURL: base,
		apiKey:  cfg.APIKey,
		enabled: cfg.Enabled && cfg.APIKey != "",
		client:  newHTTPClient(cfg.Timeout),
	}
}

func (p *CoinMarketCap) Name() string { return SourceCoinMarketCap }

func (p *CoinMarketCap) Enabled() bool { return p.enabled }

func (p *CoinMarketCap) Supports(code string) bool { return coinMarketCapCurrencies[code] }

type coinMarketCapResponse struct {
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
	Data map[string]struct {
		Quote map[string]struct {
			Price       float64 `json:"price"`
			LastUpdated string  `json:"last_updated"`
		} `json:"quote"`
	} `json:"data"`
}

func (p *CoinMarketCap) Quote(ctx context.Context, symbol, fiat string) (*CurrencyPair, error) {
	if !p.enabled {
		return nil, ErrProviderDisabled
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("convert", fiat)
	endpoint := p.baseURL + "/v1/cryptocurrency/quotes/latest?" + q.Encode()

	var body coinMarketCapResponse
	headers := map[string]string{"X-CMC_PRO_API_KEY": p.apiKey}
	if err := getJSON(ctx, p.client, endpoint, headers, &body); err != nil {
		return nil, fmt.Errorf("coinmarketcap: %w", err)
	}
	if body.Status.ErrorCode != 0 {
		return nil, fmt.Errorf("coinmarketcap: error %d: %s", body.Status.ErrorCode, body.Status.ErrorMessage)
	}
	asset, ok := body.Data[symbol]
	if !ok {
		return nil, fmt.Errorf("coinmarketcap: no data for %s", symbol)
	}
	quote, ok := asset.Quote[fiat]
	if !ok || quote.Price <= 0 {
		return nil, fmt.Errorf("coinmarketcap: no %s quote for %s", fiat, symbol)
	}

	ts, err := time.Parse(time.RFC3339, quote.LastUpdated)
	if err != nil {
		ts = time.Now()
	}
	return &CurrencyPair{Base: symbol, Quote: fiat, Rate: quote.Price, Timestamp: ts, Source: SourceCoinMarketCap}, nil
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
