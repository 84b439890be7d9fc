package ledger

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/ama3639/telegram-bot-os-sub000/internal/currency"
)

// maxAmount bounds a single transaction amount.
const maxAmount = 999999999999.99999999

var currencyCodePattern = regexp.MustCompile(`^[A-Z]{3,5}$`)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ValidateAccountType checks if account type is valid
func ValidateAccountType(t AccountType) error {
	if t == "" {
		return validationError("account type is required")
	}
	if !t.Valid() {
		names := make([]string, 0, 5)
		for _, v := range AccountTypes() {
			names = append(names, string(v))
		}
		return validationError("invalid account type '%s'. Valid types are: %s", t, strings.Join(names, ", "))
	}
	return nil
}

// ValidateCurrencyCode checks the code's shape and that it is supported
func ValidateCurrencyCode(code string) error {
	if !currencyCodePattern.MatchString(code) {
		return validationError("currency code '%s' must contain only uppercase letters", code)
	}
	if !currency.IsSupported(code) {
		return validationError("currency '%s' is not supported", code)
	}
	return nil
}

// ValidateTransactionAmount checks if transaction amount is valid
func ValidateTransactionAmount(amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return validationError("transaction amount must be a finite number")
	}
	if amount <= 0 {
		return validationError("transaction amount must be greater than zero")
	}
	if amount > maxAmount {
		return validationError("transaction amount exceeds maximum limit")
	}
	return nil
}

// ValidateEndpoints checks that the referenced accounts fit the transaction type.
func ValidateEndpoints(t TransactionType, source, destination string, meta Metadata) error {
	switch t {
	case TypeDeposit, TypeRefund:
		if destination == "" {
			return validationError("%s requires a destination account", t)
		}
	case TypeWithdrawal, TypePayment, TypeFee:
		if source == "" {
			return validationError("%s requires a source account", t)
		}
	case TypeTransfer:
		if source == "" || destination == "" {
			return validationError("TRANSFER requires source and destination accounts")
		}
		if source == destination {
			return validationError("TRANSFER source and destination must differ")
		}
	case TypeAdjustment:
		if meta.IsCredit() && destination == "" {
			return validationError("credit ADJUSTMENT requires a destination account")
		}
		if !meta.IsCredit() && source == "" {
			return validationError("debit ADJUSTMENT requires a source account")
		}
	default:
		return validationError("invalid transaction type '%s'", t)
	}
	return nil
}
