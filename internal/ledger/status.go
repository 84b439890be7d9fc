package ledger

import (
	"fmt"
)

// Status is the processing state of a transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(AllowedTransitions()[s]) == 0
}

// InvalidStatusTransitionError represents a rejected status change
type InvalidStatusTransitionError struct {
	From          Status
	To            Status
	TransactionID string
}

func (e *InvalidStatusTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s for transaction %s", e.From, e.To, e.TransactionID)
}

// Unwrap lets callers match the error against ErrAlreadyProcessed.
func (e *InvalidStatusTransitionError) Unwrap() error {
	return ErrAlreadyProcessed
}

// AllowedTransitions defines valid status transitions
func AllowedTransitions() map[Status][]Status {
	return map[Status][]Status{
		StatusPending:   {StatusCompleted, StatusFailed, StatusCancelled},
		StatusCompleted: {},
		StatusFailed:    {},
		StatusCancelled: {},
	}
}

// CanTransition checks if a status transition is allowed
func CanTransition(from, to Status) bool {
	for _, allowed := range AllowedTransitions()[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func validateTransition(id string, from, to Status) error {
	if !CanTransition(from, to) {
		return &InvalidStatusTransitionError{From: from, To: to, TransactionID: id}
	}
	return nil
}
