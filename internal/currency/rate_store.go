package currency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ama3639/telegram-bot-os-sub000/internal/store"
)

// RateStore persists quotes in the currency_rates table.
type RateStore struct {
	gw store.Gateway
}

func NewRateStore(gw store.Gateway) *RateStore {
	return &RateStore{gw: gw}
}

// Latest returns the newest stored quote for the pair taken after since, or nil.
func (s *RateStore) Latest(ctx context.Context, base, quote string, since time.Time) (*CurrencyPair, error) {
	var pair CurrencyPair
	err := s.gw.QueryRow(ctx, `
		SELECT base_currency, quote_currency, rate, timestamp, source
		FROM currency_rates
		WHERE base_currency = ? AND quote_currency = ? AND timestamp > ?
		ORDER BY timestamp DESC
		LIMIT 1
	`, base, quote, since).Scan(&pair.Base, &pair.Quote, &pair.Rate, &pair.Timestamp, &pair.Source)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load rate %s/%s: %w", base, quote, err)
	}
	return &pair, nil
}

// Save appends a quote and returns its row id.
func (s *RateStore) Save(ctx context.Context, pair *CurrencyPair) (int64, error) {
	id, err := s.gw.InsertReturningID(ctx, `
		INSERT INTO currency_rates (base_currency, quote_currency, rate, timestamp, source)
		VALUES (?, ?, ?, ?, ?)
	`, pair.Base, pair.Quote, pair.Rate, pair.Timestamp, pair.Source)
	if err != nil {
		return 0, fmt.Errorf("failed to save rate %s: %w", pair.PairCode(), err)
	}
	return id, nil
}
