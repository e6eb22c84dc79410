package domain

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/eaglebank/ledger/shared/events"
)

// Session is the view of one unit of work handed to a command. Accounts loaded
// through it are tracked; changed ones are written when the unit of work commits.
type Session interface {
	// Account returns ErrAccountNotFound when no account has the id.
	Account(ctx context.Context, id uuid.UUID) (*Account, error)
	AccountByNumber(ctx context.Context, accountNumber string) (*Account, error)
	AccountsByUser(ctx context.Context, userID uuid.UUID) ([]*Account, error)
	AccountNumberTaken(ctx context.Context, accountNumber string) (bool, error)
	// Add tracks a new account for insertion.
	Add(a *Account)
	// Stage queues an integration event for the outbox of this transaction.
	Stage(stream string, e events.Event) error
	// ClaimMessage records key as processed by consumer. It returns false when
	// the key was already claimed in an earlier transaction.
	ClaimMessage(ctx context.Context, consumer, key string) (bool, error)
	// Now is the unit of work's clock. Accounts loaded through the session use it too.
	Now() time.Time
}

// UnitOfWork runs fn inside one transaction. Domain events of the accounts it
// touched are dispatched only after a successful commit.
type UnitOfWork interface {
	Execute(ctx context.Context, fn func(ctx context.Context, s Session) error) error
}
