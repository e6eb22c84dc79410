package command

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eaglebank/ledger/internal/repository"
	"github.com/eaglebank/ledger/internal/repository/sqlitetest"
	"github.com/eaglebank/ledger/shared/cqrs"
	"github.com/eaglebank/ledger/shared/events"
	"github.com/eaglebank/ledger/shared/models"
)

var discard = slog.New(slog.DiscardHandler)

type fixture struct {
	db  *repository.DB
	uow *repository.UnitOfWork
	svc *AccountCommandService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := sqlitetest.Open(t)
	uow := repository.NewUnitOfWork(db, discard)
	return &fixture{db: db, uow: uow, svc: NewAccountCommandService(uow, discard, nil, 3)}
}

func (f *fixture) create(t *testing.T, userID uuid.UUID, number string) *models.AccountView {
	t.Helper()
	view, err := f.svc.CreateAccount(context.Background(), cqrs.CreateAccountCommand{
		UserID:        userID,
		Name:          "Account " + number,
		AccountType:   "savings",
		Currency:      "INR",
		AccountNumber: number,
	})
	require.NoError(t, err)
	return view
}

// outbox returns the staged integration events in write order.
func (f *fixture) outbox(t *testing.T) []events.Event {
	t.Helper()
	pending, err := repository.NewOutboxRepository(f.db).Pending(context.Background(), 1000)
	require.NoError(t, err)
	out := make([]events.Event, 0, len(pending))
	for _, m := range pending {
		var e events.Event
		require.NoError(t, json.Unmarshal(m.Payload, &e))
		out = append(out, e)
	}
	return out
}

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func id(t *testing.T, v *models.AccountView) uuid.UUID {
	t.Helper()
	parsed, err := uuid.Parse(v.ID)
	require.NoError(t, err)
	return parsed
}

func assertKind(t *testing.T, err error, kind cqrs.ErrorKind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, cqrs.KindOf(err), "error: %v", err)
}
