package domain

import (
	"time"

	"github.com/google/uuid"
)

// Names of the domain events raised by Account.
const (
	EventAccountCreated        = "AccountCreated"
	EventBalanceUpdated        = "BalanceUpdated"
	EventDefaultAccountChanged = "DefaultAccountChanged"
	EventAccountDetailsChanged = "AccountDetailsChanged"
	EventAccountDeactivated    = "AccountDeactivated"
)

// Clock stamps events and account timestamps.
type Clock func() time.Time

// SystemClock reads the wall clock in UTC.
func SystemClock() time.Time { return time.Now().UTC() }

// Event is a fact about a state change of one account, raised in-process.
type Event interface {
	EventID() uuid.UUID
	OccurredOn() time.Time
	EventName() string
	AggregateID() uuid.UUID
}

type eventMeta struct {
	ID        uuid.UUID `json:"eventId"`
	Occurred  time.Time `json:"occurredOn"`
	AccountID uuid.UUID `json:"accountId"`
}

func newMeta(accountID uuid.UUID, at time.Time) eventMeta {
	return eventMeta{ID: uuid.New(), Occurred: at, AccountID: accountID}
}

func (m eventMeta) EventID() uuid.UUID     { return m.ID }
func (m eventMeta) OccurredOn() time.Time  { return m.Occurred }
func (m eventMeta) AggregateID() uuid.UUID { return m.AccountID }

type AccountCreated struct {
	eventMeta
	UserID        uuid.UUID   `json:"userId"`
	Name          string      `json:"name"`
	Type          AccountType `json:"type"`
	AccountNumber string      `json:"accountNumber"`
	Currency      string      `json:"currency"`
}

func (AccountCreated) EventName() string { return EventAccountCreated }

// BalanceUpdated is raised for every deposit and withdrawal, and once more for
// the source account of a transfer with IsTransfer set.
type BalanceUpdated struct {
	eventMeta
	UserID          uuid.UUID   `json:"userId"`
	Name            string      `json:"name"`
	Type            AccountType `json:"type"`
	Amount          Money       `json:"amount"`
	PreviousBalance Money       `json:"previousBalance"`
	NewBalance      Money       `json:"newBalance"`
	IsDeposit       bool        `json:"isDeposit"`
	IsTransfer      bool        `json:"isTransfer"`
	CounterpartyID  uuid.UUID   `json:"counterpartyId,omitempty"`
}

func (BalanceUpdated) EventName() string { return EventBalanceUpdated }

type DefaultAccountChanged struct {
	eventMeta
	UserID    uuid.UUID `json:"userId"`
	IsDefault bool      `json:"isDefault"`
}

func (DefaultAccountChanged) EventName() string { return EventDefaultAccountChanged }

type AccountDetailsChanged struct {
	eventMeta
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

func (AccountDetailsChanged) EventName() string { return EventAccountDetailsChanged }

type AccountDeactivated struct {
	eventMeta
	UserID uuid.UUID `json:"userId"`
}

func (AccountDeactivated) EventName() string { return EventAccountDeactivated }
