package ledger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusPending, false},
		{StatusCompleted, StatusFailed, false},
		{StatusCompleted, StatusPending, false},
		{StatusFailed, StatusCompleted, false},
		{StatusCancelled, StatusCompleted, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTerminalStatuses(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, Status("archived").Valid())
}

func TestInvalidTransitionError(t *testing.T) {
	err := validateTransition("t1", StatusCompleted, StatusFailed)
	require.Error(t, err)

	var transitionErr *InvalidStatusTransitionError
	require.True(t, errors.As(err, &transitionErr))
	assert.Equal(t, "t1", transitionErr.TransactionID)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
	assert.Contains(t, err.Error(), "from completed to failed")
}

func TestNewTransactionValidation(t *testing.T) {
	c := fixedTestClock()
	for _, typ := range TransactionTypes() {
		for _, amount := range []float64{0, -1} {
			_, err := NewTransaction(c, TransactionRequest{
				Type: typ, Amount: amount, Currency: "USD",
				SourceAccountID: "a", DestinationAccountID: "b",
			})
			assert.ErrorIs(t, err, ErrValidation, "%s with amount %v", typ, amount)
		}
	}

	tests := []struct {
		name string
		req  TransactionRequest
	}{
		{"unknown type", TransactionRequest{Type: "GIFT", Amount: 1, Currency: "USD", DestinationAccountID: "b"}},
		{"bad currency", TransactionRequest{Type: TypeDeposit, Amount: 1, Currency: "usd1", DestinationAccountID: "b"}},
		{"unsupported currency", TransactionRequest{Type: TypeDeposit, Amount: 1, Currency: "JPY", DestinationAccountID: "b"}},
		{"deposit without destination", TransactionRequest{Type: TypeDeposit, Amount: 1, Currency: "USD"}},
		{"withdrawal without source", TransactionRequest{Type: TypeWithdrawal, Amount: 1, Currency: "USD", DestinationAccountID: "b"}},
		{"transfer to self", TransactionRequest{Type: TypeTransfer, Amount: 1, Currency: "USD", SourceAccountID: "a", DestinationAccountID: "a"}},
		{"transfer missing leg", TransactionRequest{Type: TypeTransfer, Amount: 1, Currency: "USD", SourceAccountID: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTransaction(c, tt.req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	txn, err := NewTransaction(c, TransactionRequest{Type: TypeDeposit, Amount: 5, Currency: "btc", DestinationAccountID: "b"})
	require.NoError(t, err)
	assert.Equal(t, "BTC", txn.Currency)
	assert.Equal(t, StatusPending, txn.Status)
	assert.NotEmpty(t, txn.ID)
	assert.Equal(t, c.Now(), txn.CreatedAt)
}

func TestMetadataAccessors(t *testing.T) {
	var empty Metadata
	assert.True(t, empty.IsCredit())
	assert.False(t, empty.WithCredit(false).IsCredit())
	assert.Nil(t, empty)

	m, err := decodeMetadata(`{"is_credit":"false","extension_days":14,"discount_code":"NOWRUZ","gift_from":"42"}`)
	require.NoError(t, err)
	assert.False(t, m.IsCredit())
	assert.Equal(t, 14, m.ExtensionDays())
	assert.Equal(t, "NOWRUZ", m.DiscountCode())
	assert.Equal(t, "42", m.GiftFrom())

	_, err = decodeMetadata(`{not json`)
	assert.Error(t, err)
}
