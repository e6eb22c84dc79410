package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	IncomeTransactionCreated  = "transaction.income.created"
	ExpenseTransactionCreated = "transaction.expense.created"
	TransactionRejected       = "transaction.rejected"

	AccountBalanceUpdated = "account.balance.updated"
)

// Stream names
const (
	AccountEventsStream     = "account.events"
	TransactionEventsStream = "transaction.events"
)

// Event is the envelope carried over the broker. ID is unique per logical event
// and survives redelivery, so consumers use it as their idempotency key.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEvent wraps data in an envelope with the given id.
func NewEvent(id, eventType string, occurredOn time.Time, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return Event{ID: id, Type: eventType, Timestamp: occurredOn.UTC(), Data: raw}, nil
}

// Decode unmarshals the payload into v. A malformed payload is a permanent failure.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return Permanent(fmt.Errorf("failed to decode %s event %s: %w", e.Type, e.ID, err))
	}
	return nil
}

// Transaction events

// TransactionCreatedEvent is published by the transactions service for both
// income and expense transactions; the envelope type tells them apart.
type TransactionCreatedEvent struct {
	EventID       uuid.UUID       `json:"eventId"`
	OccurredOn    time.Time       `json:"occurredOn"`
	TransactionID uuid.UUID       `json:"transactionId"`
	UserID        uuid.UUID       `json:"userId"`
	AccountID     uuid.UUID       `json:"accountId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
}

type TransactionRejectedEvent struct {
	EventID          uuid.UUID       `json:"eventId"`
	OccurredOn       time.Time       `json:"occurredOn"`
	TransactionID    uuid.UUID       `json:"transactionId"`
	UserID           uuid.UUID       `json:"userId"`
	AccountID        uuid.UUID       `json:"accountId"`
	AttemptedAmount  decimal.Decimal `json:"attemptedAmount"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
	Currency         string          `json:"currency"`
	Reason           string          `json:"reason"`
}

// Account events

type AccountBalanceUpdatedEvent struct {
	EventID         uuid.UUID       `json:"eventId"`
	OccurredOn      time.Time       `json:"occurredOn"`
	AccountID       uuid.UUID       `json:"accountId"`
	UserID          uuid.UUID       `json:"userId"`
	NewBalance      decimal.Decimal `json:"newBalance"`
	PreviousBalance decimal.Decimal `json:"previousBalance"`
	Currency        string          `json:"currency"`
	UpdateReason    string          `json:"updateReason"`
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as one that redelivery cannot fix. Subscribers dead-letter
// such messages instead of leaving them pending.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
