package currency

import (
	"errors"
	"time"
)

// Rate sources.
const (
	SourceDirect          = "direct"
	SourceComputed        = "computed"
	SourceUnknown         = "unknown"
	SourceExchangeRateAPI = "exchangerate-api"
	SourceCoinMarketCap   = "coinmarketcap"
)

var (
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrRateNotFound        = errors.New("exchange rate not found")
	ErrProviderDisabled    = errors.New("rate provider disabled")
)

// CurrencyPair is a quote: Rate units of Quote per one unit of Base.
type CurrencyPair struct {
	Base      string    `json:"base_currency"`
	Quote     string    `json:"quote_currency"`
	Rate      float64   `json:"rate"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// PairCode returns "BASE/QUOTE".
func (p *CurrencyPair) PairCode() string {
	return p.Base + "/" + p.Quote
}

func cacheKey(base, quote string) string {
	return "rate_" + base + "_" + quote
}
