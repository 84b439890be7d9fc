package currency

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ama3639/telegram-bot-os-sub000/internal/clock"
)

// DefaultMaxRateAge is how old a stored quote may be and still be served.
const DefaultMaxRateAge = 6 * time.Hour

// Options wires a Converter. Store, Fiat and Crypto are optional.
type Options struct {
	Cache  RateCache
	Store  *RateStore
	Fiat   FiatProvider
	Crypto CryptoProvider
	Clock  clock.Clock
	MaxAge time.Duration
	Logger *slog.Logger
}

// Converter resolves exchange rates through cache, stored quotes, providers
// and finally a USD cross rate.
type Converter struct {
	cache  RateCache
	store  *RateStore
	fiat   FiatProvider
	crypto CryptoProvider
	clock  clock.Clock
	maxAge time.Duration
	logger *slog.Logger
}

func NewConverter(opts Options) *Converter {
	c := &Converter{
		cache:  opts.Cache,
		store:  opts.Store,
		fiat:   opts.Fiat,
		crypto: opts.Crypto,
		clock:  opts.Clock,
		maxAge: opts.MaxAge,
		logger: opts.Logger,
	}
	if c.clock == nil {
		c.clock, _ = clock.New("")
	}
	if c.cache == nil {
		c.cache = NewMemoryCache(DefaultCacheTTL, c.clock)
	}
	if c.maxAge <= 0 {
		c.maxAge = DefaultMaxRateAge
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// GetRate returns the quote for base/quote. Unsupported codes fail with
// ErrUnsupportedCurrency and unresolvable pairs with ErrRateNotFound.
func (c *Converter) GetRate(ctx context.Context, base, quote string) (*CurrencyPair, error) {
	for _, code := range []string{base, quote} {
		if !IsSupported(code) {
			c.logger.Warn("unsupported currency", "currency", code)
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, code)
		}
	}

	if base == quote {
		return &CurrencyPair{Base: base, Quote: quote, Rate: 1.0, Timestamp: c.clock.Now(), Source: SourceDirect}, nil
	}

	key := cacheKey(base, quote)
	if pair, ok := c.cache.Get(ctx, key); ok {
		return pair, nil
	}

	if pair := c.stored(ctx, base, quote); pair != nil {
		c.cache.Set(ctx, key, pair)
		return pair, nil
	}

	if pair := c.fromProviders(ctx, base, quote); pair != nil {
		c.remember(ctx, pair)
		return pair, nil
	}

	if base != USD && quote != USD {
		toUSD, err := c.GetRate(ctx, base, USD)
		if err == nil {
			fromUSD, err := c.GetRate(ctx, USD, quote)
			if err == nil {
				pair := &CurrencyPair{
					Base:      base,
					Quote:     quote,
					Rate:      toUSD.Rate * fromUSD.Rate,
					Timestamp: c.clock.Now(),
					Source:    SourceComputed,
				}
				c.remember(ctx, pair)
				return pair, nil
			}
		}
	}

	c.logger.Warn("exchange rate not found", "base", base, "quote", quote)
	return nil, fmt.Errorf("%w: %s/%s", ErrRateNotFound, base, quote)
}

func (c *Converter) stored(ctx context.Context, base, quote string) *CurrencyPair {
	if c.store == nil {
		return nil
	}
	now := c.clock.Now()
	pair, err := c.store.Latest(ctx, base, quote, now.Add(-c.maxAge))
	if err != nil {
		c.logger.Error("failed to read stored rate", "base", base, "quote", quote, "error", err)
		return nil
	}
	if pair != nil {
		pair.Timestamp = pair.Timestamp.In(now.Location())
	}
	return pair
}

func (c *Converter) fromProviders(ctx context.Context, base, quote string) *CurrencyPair {
	switch {
	case IsFiat(base) && IsFiat(quote):
		return c.fiatRate(ctx, base, quote)
	case IsCrypto(base) && IsFiat(quote):
		return c.cryptoQuote(ctx, base, quote)
	case IsFiat(base) && IsCrypto(quote):
		p := c.cryptoQuote(ctx, quote, base)
		if p == nil {
			return nil
		}
		return &CurrencyPair{Base: base, Quote: quote, Rate: 1 / p.Rate, Timestamp: p.Timestamp, Source: p.Source}
	default:
		b := c.cryptoQuote(ctx, base, USD)
		if b == nil {
			return nil
		}
		q := c.cryptoQuote(ctx, quote, USD)
		if q == nil {
			return nil
		}
		return &CurrencyPair{Base: base, Quote: quote, Rate: b.Rate / q.Rate, Timestamp: c.clock.Now(), Source: SourceComputed}
	}
}

func (c *Converter) fiatRate(ctx context.Context, base, quote string) *CurrencyPair {
	if c.fiat == nil || !c.fiat.Enabled() || !c.fiat.Supports(base) || !c.fiat.Supports(quote) {
		return nil
	}
	rates, err := c.fiat.LatestRates(ctx, base)
	if err != nil {
		c.logger.Warn("fiat rate provider failed", "provider", c.fiat.Name(), "base", base, "error", err)
		return nil
	}
	rate, ok := rates[quote]
	if !ok || rate <= 0 {
		return nil
	}
	return &CurrencyPair{Base: base, Quote: quote, Rate: rate, Timestamp: c.clock.Now(), Source: c.fiat.Name()}
}

func (c *Converter) cryptoQuote(ctx context.Context, symbol, fiat string) *CurrencyPair {
	if c.crypto == nil || !c.crypto.Enabled() || !c.crypto.Supports(symbol) {
		return nil
	}
	pair, err := c.crypto.Quote(ctx, symbol, fiat)
	if err != nil {
		c.logger.Warn("crypto rate provider failed", "provider", c.crypto.Name(), "symbol", symbol, "fiat", fiat, "error", err)
		return nil
	}
	if pair.Rate <= 0 {
		return nil
	}
	return pair
}

// remember persists and caches a freshly resolved pair.
func (c *Converter) remember(ctx context.Context, pair *CurrencyPair) {
	c.save(ctx, pair)
	c.cache.Set(ctx, cacheKey(pair.Base, pair.Quote), pair)
}

func (c *Converter) save(ctx context.Context, pair *CurrencyPair) bool {
	if c.store == nil {
		return true
	}
	if _, err := c.store.Save(ctx, pair); err != nil {
		c.logger.Error("failed to persist rate", "pair", pair.PairCode(), "error", err)
		return false
	}
	return true
}

// Convert converts amount and rounds to the destination currency's digits.
func (c *Converter) Convert(ctx context.Context, amount float64, from, to string) (float64, error) {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		c.logger.Warn("invalid conversion amount", "amount", amount)
		return 0, ErrInvalidAmount
	}
	pair, err := c.GetRate(ctx, from, to)
	if err != nil {
		return 0, err
	}
	target, _ := Lookup(to)
	out, _ := decimal.NewFromFloat(amount).
		Mul(decimal.NewFromFloat(pair.Rate)).
		Round(target.DecimalDigits).
		Float64()
	return out, nil
}

// FormatConversion renders a conversion with the rate used, for chat replies.
func (c *Converter) FormatConversion(ctx context.Context, amount float64, from, to string) (string, error) {
	converted, err := c.Convert(ctx, amount, from, to)
	if err != nil {
		return "", err
	}
	pair, err := c.GetRate(ctx, from, to)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s = %s\nrate: 1 %s = %.6f %s",
		FormatAmount(from, amount), FormatAmount(to, converted), from, pair.Rate, to), nil
}

// AllRates resolves base against every other supported currency, skipping
// pairs that cannot be resolved.
func (c *Converter) AllRates(ctx context.Context, base string) (map[string]*CurrencyPair, error) {
	if !IsSupported(base) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, base)
	}
	out := make(map[string]*CurrencyPair)
	for _, quote := range Codes() {
		if quote == base {
			continue
		}
		pair, err := c.GetRate(ctx, base, quote)
		if err != nil {
			continue
		}
		out[quote] = pair
	}
	return out, nil
}

// UpdateAllRates refreshes USD/fiat, fiat/USD and crypto/USD quotes, persists
// them and clears the cache. The result maps each pair code to whether it was refreshed.
func (c *Converter) UpdateAllRates(ctx context.Context) map[string]bool {
	results := make(map[string]bool)
	now := c.clock.Now()

	if c.fiat != nil && c.fiat.Enabled() {
		rates, err := c.fiat.LatestRates(ctx, USD)
		if err != nil {
			c.logger.Error("failed to fetch fiat rates", "provider", c.fiat.Name(), "error", err)
		}
		for _, code := range FiatCodes() {
			if code == USD {
				continue
			}
			pair := &CurrencyPair{Base: USD, Quote: code, Timestamp: now, Source: c.fiat.Name()}
			rate, ok := rates[code]
			if !ok || rate <= 0 {
				results[pair.PairCode()] = false
				continue
			}
			pair.Rate = rate
			results[pair.PairCode()] = c.save(ctx, pair)
		}
	}

	for _, code := range FiatCodes() {
		if code == USD {
			continue
		}
		_, err := c.GetRate(ctx, code, USD)
		results[code+"/"+USD] = err == nil
	}

	if c.crypto != nil && c.crypto.Enabled() {
		for _, code := range CryptoCodes() {
			pair := c.cryptoQuote(ctx, code, USD)
			if pair == nil {
				results[code+"/"+USD] = false
				continue
			}
			results[pair.PairCode()] = c.save(ctx, pair)
		}
	}

	c.cache.Clear(ctx)
	c.logger.Info("exchange rates refreshed", "pairs", len(results))
	return results
}
