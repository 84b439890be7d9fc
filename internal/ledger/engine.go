package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ama3639/telegram-bot-os-sub000/internal/store"
)

// Process applies a pending transaction's balance changes and marks it
// completed, or marks it failed when any change is rejected. Balance changes
// and the status write commit together; a failed transaction changes no balance.
func (l *Ledger) Process(ctx context.Context, id string) error {
	release := l.locks.lock("txn:" + id)
	defer release()

	txn, err := l.GetTransaction(ctx, id)
	if err != nil {
		l.logger.Error("failed to load transaction for processing", "transaction_id", id, "error", err)
		return err
	}
	if txn == nil {
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	if txn.Status != StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyProcessed, id, txn.Status)
	}

	ids := txn.accountIDs()
	keys := make([]string, len(ids))
	for i, accountID := range ids {
		keys[i] = "acct:" + accountID
	}
	releaseAccounts := l.locks.lockAll(keys...)
	defer releaseAccounts()

	at := l.clock.Now()
	err = l.gw.WithinTx(ctx, func(q store.Querier) error {
		if err := l.apply(ctx, q, txn); err != nil {
			return err
		}
		return l.setStatus(ctx, q, id, StatusPending, StatusCompleted, at)
	})
	l.registry.Refresh(ctx, ids...)

	if err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			return err
		}
		l.logger.Warn("transaction failed", "transaction_id", id, "transaction_type", txn.Type, "amount", txn.Amount, "error", err)
		if serr := l.setStatus(ctx, l.gw, id, StatusPending, StatusFailed, at); serr != nil {
			l.logger.Error("failed to mark transaction failed", "transaction_id", id, "error", serr)
		} else {
			l.record(txn, StatusFailed, err)
		}
		return err
	}

	l.logger.Info("transaction completed", "transaction_id", id, "transaction_type", txn.Type, "amount", txn.Amount)
	l.record(txn, StatusCompleted, nil)
	return nil
}

func (l *Ledger) apply(ctx context.Context, q store.Querier, txn *Transaction) error {
	ds, err := txn.deltas()
	if err != nil {
		return fmt.Errorf("%w: %s", err, txn.Type)
	}
	for _, d := range ds {
		if err := l.registry.UpdateBalance(ctx, q, d.accountID, txn.Amount, d.isCredit); err != nil {
			return err
		}
	}
	return nil
}

// setStatus moves a transaction from one status to another only if it is
// still in from. Losing the race yields ErrAlreadyProcessed.
func (l *Ledger) setStatus(ctx context.Context, q store.Querier, id string, from, to Status, at time.Time) error {
	if err := validateTransition(id, from, to); err != nil {
		return err
	}
	n, err := q.Exec(ctx, `
		UPDATE transactions SET status = ?, processed_at = ?
		WHERE id = ? AND status = ?
	`, string(to), at, id, string(from))
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyProcessed, id)
	}
	return nil
}

// Cancel withdraws a pending transaction before it is processed.
func (l *Ledger) Cancel(ctx context.Context, id string) error {
	release := l.locks.lock("txn:" + id)
	defer release()

	txn, err := l.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if txn == nil {
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	if err := validateTransition(id, txn.Status, StatusCancelled); err != nil {
		return err
	}
	if err := l.setStatus(ctx, l.gw, id, StatusPending, StatusCancelled, l.clock.Now()); err != nil {
		return err
	}
	l.logger.Info("transaction cancelled", "transaction_id", id)
	l.record(txn, StatusCancelled, nil)
	return nil
}

func (l *Ledger) record(txn *Transaction, status Status, cause error) {
	if l.auditor == nil {
		return
	}
	payload := fmt.Sprintf("txn=%s type=%s amount=%.8f currency=%s src=%s dst=%s status=%s",
		txn.ID, txn.Type, txn.Amount, txn.Currency, txn.SourceAccountID, txn.DestinationAccountID, status)
	if cause != nil {
		payload += " reason=" + cause.Error()
	}
	l.auditor.Append(payload)
}
