package ledger

import (
	"errors"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrAccountNotFound        = errors.New("account not found")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrCurrencyMismatch       = errors.New("currency mismatch")
	ErrAlreadyProcessed       = errors.New("transaction already processed")
	ErrAccountInactive        = errors.New("account is not active")
	ErrUnknownTransactionType = errors.New("unknown transaction type")
)
