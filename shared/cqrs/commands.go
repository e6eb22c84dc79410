package cqrs

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// A zero RequestingUserID means the command comes from a trusted internal
// caller and skips the ownership check.

type CreateAccountCommand struct {
	UserID         uuid.UUID
	Name           string
	AccountType    string
	InitialBalance decimal.Decimal
	Currency       string
	AccountNumber  string
	Description    string
	IsDefault      bool
}

type DepositCommand struct {
	AccountID        uuid.UUID
	RequestingUserID uuid.UUID
	Amount           decimal.Decimal
	Currency         string
}

type WithdrawCommand struct {
	AccountID        uuid.UUID
	RequestingUserID uuid.UUID
	Amount           decimal.Decimal
	Currency         string
}

// TransferCommand moves money between two accounts atomically. Only the source
// account is checked against RequestingUserID.
type TransferCommand struct {
	FromAccountID    uuid.UUID
	ToAccountID      uuid.UUID
	RequestingUserID uuid.UUID
	Amount           decimal.Decimal
	Currency         string
}

type SetDefaultAccountCommand struct {
	UserID        uuid.UUID
	AccountNumber string
}

// UpdateAccountCommand changes only the fields that are non-nil.
type UpdateAccountCommand struct {
	AccountID        uuid.UUID
	RequestingUserID uuid.UUID
	Name             *string
	Description      *string
}

type DeactivateAccountCommand struct {
	AccountID        uuid.UUID
	RequestingUserID uuid.UUID
}
