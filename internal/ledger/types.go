package ledger

import (
	"time"
)

// AccountType classifies an account. Only LIABILITY accounts may go negative.
type AccountType string

const (
	AccountAsset     AccountType = "ASSET"
	AccountLiability AccountType = "LIABILITY"
	AccountEquity    AccountType = "EQUITY"
	AccountRevenue   AccountType = "REVENUE"
	AccountExpense   AccountType = "EXPENSE"
)

func AccountTypes() []AccountType {
	return []AccountType{AccountAsset, AccountLiability, AccountEquity, AccountRevenue, AccountExpense}
}

func (t AccountType) Valid() bool {
	switch t {
	case AccountAsset, AccountLiability, AccountEquity, AccountRevenue, AccountExpense:
		return true
	}
	return false
}

// AllowsNegative reports whether a debit may take the balance below zero.
func (t AccountType) AllowsNegative() bool {
	return t == AccountLiability
}

// TransactionType is the kind of money movement.
type TransactionType string

const (
	TypeDeposit    TransactionType = "DEPOSIT"
	TypeWithdrawal TransactionType = "WITHDRAWAL"
	TypeTransfer   TransactionType = "TRANSFER"
	TypePayment    TransactionType = "PAYMENT"
	TypeRefund     TransactionType = "REFUND"
	TypeAdjustment TransactionType = "ADJUSTMENT"
	TypeFee        TransactionType = "FEE"
)

func TransactionTypes() []TransactionType {
	return []TransactionType{TypeDeposit, TypeWithdrawal, TypeTransfer, TypePayment, TypeRefund, TypeAdjustment, TypeFee}
}

func (t TransactionType) Valid() bool {
	switch t {
	case TypeDeposit, TypeWithdrawal, TypeTransfer, TypePayment, TypeRefund, TypeAdjustment, TypeFee:
		return true
	}
	return false
}

// Account is a balance holder in one currency.
type Account struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Type        AccountType `json:"account_type"`
	Currency    string      `json:"currency"`
	Description string      `json:"description"`
	IsActive    bool        `json:"is_active"`
	CreatedAt   time.Time   `json:"created_at"`
	Balance     float64     `json:"balance"`
	OwnerID     *int64      `json:"user_id,omitempty"`
	Metadata    Metadata    `json:"metadata"`
}

func (a *Account) clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.OwnerID != nil {
		id := *a.OwnerID
		c.OwnerID = &id
	}
	c.Metadata = a.Metadata.Clone()
	return &c
}

// Transaction is a single money movement touching zero, one or two accounts.
type Transaction struct {
	ID                   string          `json:"id"`
	Type                 TransactionType `json:"transaction_type"`
	Amount               float64         `json:"amount"`
	Currency             string          `json:"currency"`
	Description          string          `json:"description"`
	SourceAccountID      string          `json:"source_account_id,omitempty"`
	DestinationAccountID string          `json:"destination_account_id,omitempty"`
	OwnerID              *int64          `json:"user_id,omitempty"`
	Status               Status          `json:"status"`
	ReferenceID          string          `json:"reference_id,omitempty"`
	Metadata             Metadata        `json:"metadata"`
	CreatedAt            time.Time       `json:"created_at"`
	ProcessedAt          *time.Time      `json:"processed_at,omitempty"`
}

// accountIDs lists the distinct accounts the transaction references.
func (t *Transaction) accountIDs() []string {
	var ids []string
	if t.SourceAccountID != "" {
		ids = append(ids, t.SourceAccountID)
	}
	if t.DestinationAccountID != "" && t.DestinationAccountID != t.SourceAccountID {
		ids = append(ids, t.DestinationAccountID)
	}
	return ids
}

// BalancePoint is the end-of-day balance of an account.
type BalancePoint struct {
	Date    string  `json:"date"`
	Balance float64 `json:"balance"`
}

// TransactionFilter narrows transaction listings. Zero values mean no filter.
type TransactionFilter struct {
	From   *time.Time
	To     *time.Time
	Status Status
	Limit  int
}

const defaultListLimit = 50
