package cqrs

import "github.com/google/uuid"

// GetAccountQuery fetches a single account by id, subject to ownership check.
type GetAccountQuery struct {
	AccountID        uuid.UUID
	RequestingUserID uuid.UUID
}

// GetAccountByNumberQuery fetches a single account by account number.
type GetAccountByNumberQuery struct {
	AccountNumber    string
	RequestingUserID uuid.UUID
}

// ListAccountsQuery fetches all accounts belonging to a user.
type ListAccountsQuery struct {
	UserID uuid.UUID
}
