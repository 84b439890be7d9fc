package ledger

import (
	"context"
	"fmt"
	"strings"
)

// DepositRequest credits an account from outside the ledger.
type DepositRequest struct {
	AccountID   string   `json:"account_id"`
	Amount      float64  `json:"amount"`
	Currency    string   `json:"currency"`
	Description string   `json:"description"`
	OwnerID     *int64   `json:"user_id,omitempty"`
	ReferenceID string   `json:"reference_id,omitempty"`
	Metadata    Metadata `json:"metadata,omitempty"`
}

// WithdrawalRequest debits an account to outside the ledger. The account's currency is used.
type WithdrawalRequest struct {
	AccountID   string   `json:"account_id"`
	Amount      float64  `json:"amount"`
	Description string   `json:"description"`
	OwnerID     *int64   `json:"user_id,omitempty"`
	ReferenceID string   `json:"reference_id,omitempty"`
	Metadata    Metadata `json:"metadata,omitempty"`
}

// TransferRequest moves money between two accounts of the same currency.
type TransferRequest struct {
	SourceAccountID      string   `json:"source_account_id"`
	DestinationAccountID string   `json:"destination_account_id"`
	Amount               float64  `json:"amount"`
	Description          string   `json:"description"`
	OwnerID              *int64   `json:"user_id,omitempty"`
	ReferenceID          string   `json:"reference_id,omitempty"`
	Metadata             Metadata `json:"metadata,omitempty"`
}

// AdjustmentRequest corrects a balance in either direction.
type AdjustmentRequest struct {
	AccountID   string   `json:"account_id"`
	Amount      float64  `json:"amount"`
	IsCredit    bool     `json:"is_credit"`
	Reason      string   `json:"reason"`
	OwnerID     *int64   `json:"user_id,omitempty"`
	ReferenceID string   `json:"reference_id,omitempty"`
	Metadata    Metadata `json:"metadata,omitempty"`
}

// Deposit credits req.AccountID. An empty currency means the account's currency.
func (l *Ledger) Deposit(ctx context.Context, req DepositRequest) (*Transaction, error) {
	acct, err := l.requireAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	code := strings.ToUpper(req.Currency)
	if code == "" {
		code = acct.Currency
	}
	if code != acct.Currency {
		l.logger.Warn("deposit currency mismatch", "account_id", acct.ID, "account_currency", acct.Currency, "currency", code)
		return nil, fmt.Errorf("%w: account %s is %s, deposit is %s", ErrCurrencyMismatch, acct.ID, acct.Currency, code)
	}
	return l.post(ctx, TransactionRequest{
		Type:                 TypeDeposit,
		Amount:               req.Amount,
		Currency:             code,
		Description:          req.Description,
		DestinationAccountID: acct.ID,
		OwnerID:              req.OwnerID,
		ReferenceID:          req.ReferenceID,
		Metadata:             req.Metadata,
	})
}

// Withdraw debits req.AccountID.
func (l *Ledger) Withdraw(ctx context.Context, req WithdrawalRequest) (*Transaction, error) {
	acct, err := l.requireAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if err := l.requireFunds(acct, req.Amount); err != nil {
		return nil, err
	}
	return l.post(ctx, TransactionRequest{
		Type:            TypeWithdrawal,
		Amount:          req.Amount,
		Currency:        acct.Currency,
		Description:     req.Description,
		SourceAccountID: acct.ID,
		OwnerID:         req.OwnerID,
		ReferenceID:     req.ReferenceID,
		Metadata:        req.Metadata,
	})
}

// Transfer moves req.Amount from source to destination atomically.
func (l *Ledger) Transfer(ctx context.Context, req TransferRequest) (*Transaction, error) {
	src, err := l.requireAccount(ctx, req.SourceAccountID)
	if err != nil {
		return nil, err
	}
	dst, err := l.requireAccount(ctx, req.DestinationAccountID)
	if err != nil {
		return nil, err
	}
	if err := l.requireFunds(src, req.Amount); err != nil {
		return nil, err
	}
	if src.Currency != dst.Currency {
		l.logger.Warn("transfer currency mismatch", "source", src.ID, "source_currency", src.Currency, "destination", dst.ID, "destination_currency", dst.Currency)
		return nil, fmt.Errorf("%w: %s is %s, %s is %s", ErrCurrencyMismatch, src.ID, src.Currency, dst.ID, dst.Currency)
	}
	return l.post(ctx, TransactionRequest{
		Type:                 TypeTransfer,
		Amount:               req.Amount,
		Currency:             src.Currency,
		Description:          req.Description,
		SourceAccountID:      src.ID,
		DestinationAccountID: dst.ID,
		OwnerID:              req.OwnerID,
		ReferenceID:          req.ReferenceID,
		Metadata:             req.Metadata,
	})
}

// Pay debits the paying account for a purchase.
func (l *Ledger) Pay(ctx context.Context, req WithdrawalRequest) (*Transaction, error) {
	return l.debitOnly(ctx, TypePayment, req)
}

// ChargeFee debits a service fee.
func (l *Ledger) ChargeFee(ctx context.Context, req WithdrawalRequest) (*Transaction, error) {
	return l.debitOnly(ctx, TypeFee, req)
}

// Refund credits an account back.
func (l *Ledger) Refund(ctx context.Context, req DepositRequest) (*Transaction, error) {
	acct, err := l.requireAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	return l.post(ctx, TransactionRequest{
		Type:                 TypeRefund,
		Amount:               req.Amount,
		Currency:             acct.Currency,
		Description:          req.Description,
		DestinationAccountID: acct.ID,
		OwnerID:              req.OwnerID,
		ReferenceID:          req.ReferenceID,
		Metadata:             req.Metadata,
	})
}

// Adjust credits or debits an account outside the normal flows.
func (l *Ledger) Adjust(ctx context.Context, req AdjustmentRequest) (*Transaction, error) {
	acct, err := l.requireAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	meta := req.Metadata.WithCredit(req.IsCredit)
	if req.Reason != "" {
		meta[MetaReason] = req.Reason
	}
	treq := TransactionRequest{
		Type:        TypeAdjustment,
		Amount:      req.Amount,
		Currency:    acct.Currency,
		Description: req.Reason,
		OwnerID:     req.OwnerID,
		ReferenceID: req.ReferenceID,
		Metadata:    meta,
	}
	if req.IsCredit {
		treq.DestinationAccountID = acct.ID
	} else {
		treq.SourceAccountID = acct.ID
	}
	return l.post(ctx, treq)
}

func (l *Ledger) debitOnly(ctx context.Context, t TransactionType, req WithdrawalRequest) (*Transaction, error) {
	acct, err := l.requireAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if err := l.requireFunds(acct, req.Amount); err != nil {
		return nil, err
	}
	return l.post(ctx, TransactionRequest{
		Type:            t,
		Amount:          req.Amount,
		Currency:        acct.Currency,
		Description:     req.Description,
		SourceAccountID: acct.ID,
		OwnerID:         req.OwnerID,
		ReferenceID:     req.ReferenceID,
		Metadata:        req.Metadata,
	})
}

// post builds, persists and processes a transaction and returns it reloaded.
// When processing fails the failed row is kept and the processing error is returned.
func (l *Ledger) post(ctx context.Context, req TransactionRequest) (*Transaction, error) {
	txn, err := l.CreateTransaction(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := l.Process(ctx, txn.ID); err != nil {
		return nil, err
	}
	return l.GetTransaction(ctx, txn.ID)
}

func (l *Ledger) requireAccount(ctx context.Context, id string) (*Account, error) {
	acct, err := l.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		l.logger.Warn("account not found", "account_id", id)
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return acct, nil
}

// requireFunds is the pre-check for debits. Process re-checks under lock.
func (l *Ledger) requireFunds(acct *Account, amount float64) error {
	if acct.Type.AllowsNegative() || acct.Balance >= amount {
		return nil
	}
	l.logger.Warn("insufficient funds", "account_id", acct.ID, "balance", acct.Balance, "amount", amount)
	return fmt.Errorf("%w: account %s has %.8f, needs %.8f", ErrInsufficientFunds, acct.ID, acct.Balance, amount)
}
