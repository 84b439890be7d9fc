package ledger

import (
	"strings"

	"github.com/google/uuid"

	"github.com/ama3639/telegram-bot-os-sub000/internal/clock"
)

// TransactionRequest describes a transaction to build.
type TransactionRequest struct {
	Type                 TransactionType `json:"transaction_type"`
	Amount               float64         `json:"amount"`
	Currency             string          `json:"currency"`
	Description          string          `json:"description"`
	SourceAccountID      string          `json:"source_account_id,omitempty"`
	DestinationAccountID string          `json:"destination_account_id,omitempty"`
	OwnerID              *int64          `json:"user_id,omitempty"`
	ReferenceID          string          `json:"reference_id,omitempty"`
	Metadata             Metadata        `json:"metadata,omitempty"`
}

// NewTransaction validates req and builds a pending transaction with a fresh id.
// Nothing is persisted.
func NewTransaction(c clock.Clock, req TransactionRequest) (*Transaction, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Currency))

	if !req.Type.Valid() {
		return nil, validationError("invalid transaction type '%s'", req.Type)
	}
	if err := ValidateTransactionAmount(req.Amount); err != nil {
		return nil, err
	}
	if err := ValidateCurrencyCode(code); err != nil {
		return nil, err
	}
	meta := req.Metadata.Clone()
	if err := ValidateEndpoints(req.Type, req.SourceAccountID, req.DestinationAccountID, meta); err != nil {
		return nil, err
	}

	return &Transaction{
		ID:                   uuid.NewString(),
		Type:                 req.Type,
		Amount:               req.Amount,
		Currency:             code,
		Description:          req.Description,
		SourceAccountID:      req.SourceAccountID,
		DestinationAccountID: req.DestinationAccountID,
		OwnerID:              req.OwnerID,
		Status:               StatusPending,
		ReferenceID:          req.ReferenceID,
		Metadata:             meta,
		CreatedAt:            c.Now(),
	}, nil
}

// delta is one balance change applied by processing.
type delta struct {
	accountID string
	isCredit  bool
}

// deltas lists the balance changes of t in application order.
func (t *Transaction) deltas() ([]delta, error) {
	switch t.Type {
	case TypeDeposit, TypeRefund:
		return []delta{{accountID: t.DestinationAccountID, isCredit: true}}, nil
	case TypeWithdrawal, TypePayment, TypeFee:
		return []delta{{accountID: t.SourceAccountID, isCredit: false}}, nil
	case TypeTransfer:
		return []delta{
			{accountID: t.SourceAccountID, isCredit: false},
			{accountID: t.DestinationAccountID, isCredit: true},
		}, nil
	case TypeAdjustment:
		if t.Metadata.IsCredit() {
			return []delta{{accountID: t.DestinationAccountID, isCredit: true}}, nil
		}
		return []delta{{accountID: t.SourceAccountID, isCredit: false}}, nil
	default:
		return nil, ErrUnknownTransactionType
	}
}

// signedAmountFor is the change t made to accountID's balance.
func (t *Transaction) signedAmountFor(accountID string) float64 {
	ds, err := t.deltas()
	if err != nil {
		return 0
	}
	var total float64
	for _, d := range ds {
		if d.accountID != accountID {
			continue
		}
		if d.isCredit {
			total += t.Amount
		} else {
			total -= t.Amount
		}
	}
	return total
}
