package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"
)

const (
	defaultHistoryDays = 30
	dayLayout          = "2006-01-02"
)

// BalanceHistory returns the end-of-day balance of the account for each of the
// last days days and today, oldest first. It starts from the current balance and
// undoes completed transactions newest first. Unknown accounts yield an empty series.
func (l *Ledger) BalanceHistory(ctx context.Context, accountID string, days int) ([]BalancePoint, error) {
	acct, err := l.registry.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return []BalancePoint{}, nil
	}
	if days <= 0 {
		days = defaultHistoryDays
	}

	now := l.clock.Now()
	loc := now.Location()
	today := startOfDay(now)
	first := today.AddDate(0, 0, -days)

	rows, err := l.gw.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE (source_account_id = ? OR destination_account_id = ?)
		AND status = ? AND COALESCE(processed_at, created_at) >= ?`,
		accountID, accountID, string(StatusCompleted), first)
	if err != nil {
		return nil, fmt.Errorf("failed to query balance history: %w", err)
	}
	defer rows.Close()

	var txns []*Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows, l.clock)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate balance history: %w", err)
	}
	sort.SliceStable(txns, func(i, j int) bool {
		return effectiveTime(txns[i]).After(effectiveTime(txns[j]))
	})

	points := make([]BalancePoint, 0, days+1)
	balance := acct.Balance
	next := 0
	for day := today; !day.Before(first); day = day.AddDate(0, 0, -1) {
		end := day.AddDate(0, 0, 1)
		for next < len(txns) && !effectiveTime(txns[next]).In(loc).Before(end) {
			balance -= txns[next].signedAmountFor(accountID)
			next++
		}
		points = append(points, BalancePoint{Date: day.Format(dayLayout), Balance: balance})
	}

	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}

func effectiveTime(t *Transaction) time.Time {
	if t.ProcessedAt != nil {
		return *t.ProcessedAt
	}
	return t.CreatedAt
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
