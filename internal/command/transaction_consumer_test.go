package command

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eaglebank/ledger/internal/domain"
	"github.com/eaglebank/ledger/internal/metrics"
	"github.com/eaglebank/ledger/shared/cqrs"
	"github.com/eaglebank/ledger/shared/events"
)

type consumedRecorder struct {
	outcomes []string
}

func (r *consumedRecorder) MessageConsumed(_ string, outcome string) {
	r.outcomes = append(r.outcomes, outcome)
}
func (r *consumedRecorder) ConcurrencyRetry(string) {}

func transactionEvent(t *testing.T, eventType string, accountID uuid.UUID, amt string) events.Event {
	t.Helper()
	id := uuid.New()
	e, err := events.NewEvent(id.String(), eventType, time.Now(), events.TransactionCreatedEvent{
		EventID:       id,
		OccurredOn:    time.Now().UTC(),
		TransactionID: uuid.New(),
		UserID:        uuid.New(),
		AccountID:     accountID,
		Amount:        amount(amt),
		Currency:      "INR",
	})
	require.NoError(t, err)
	return e
}

func (f *fixture) balance(t *testing.T, accountID uuid.UUID) string {
	t.Helper()
	var out string
	err := f.uow.Execute(context.Background(), func(ctx context.Context, s domain.Session) error {
		a, err := s.Account(ctx, accountID)
		if err != nil {
			return err
		}
		out = a.Balance().String()
		return nil
	})
	require.NoError(t, err)
	return out
}

func newConsumer(f *fixture) (*TransactionConsumer, *consumedRecorder) {
	rec := &consumedRecorder{}
	return NewTransactionConsumer(f.uow, discard, rec, 3), rec
}

func TestTransactionConsumerAppliesIncome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, uuid.New(), "ACC-001")
	_, err := f.svc.Deposit(ctx, cqrs.DepositCommand{AccountID: id(t, a), Amount: amount("100"), Currency: "INR"})
	require.NoError(t, err)
	consumer, rec := newConsumer(f)

	require.NoError(t, consumer.Handle(ctx, transactionEvent(t, events.IncomeTransactionCreated, id(t, a), "150")))

	assert.Equal(t, "250.00 INR", f.balance(t, id(t, a)))
	assert.Equal(t, []string{metrics.OutcomeApplied}, rec.outcomes)

	staged := f.outbox(t)
	require.Len(t, staged, 2)
	var p events.AccountBalanceUpdatedEvent
	require.NoError(t, staged[1].Decode(&p))
	assert.Equal(t, ReasonIncome, p.UpdateReason)
	assert.Equal(t, "100", p.PreviousBalance.String())
	assert.Equal(t, "250", p.NewBalance.String())
	assert.Equal(t, id(t, a), p.AccountID)
}

func TestTransactionConsumerIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, uuid.New(), "ACC-001")
	consumer, rec := newConsumer(f)

	event := transactionEvent(t, events.IncomeTransactionCreated, id(t, a), "40")
	require.NoError(t, consumer.Handle(ctx, event))
	require.NoError(t, consumer.Handle(ctx, event))

	// Same transaction republished under a new event id.
	var payload events.TransactionCreatedEvent
	require.NoError(t, event.Decode(&payload))
	payload.EventID = uuid.New()
	republished, err := events.NewEvent(payload.EventID.String(), event.Type, time.Now(), payload)
	require.NoError(t, err)
	require.NoError(t, consumer.Handle(ctx, republished))

	assert.Equal(t, "40.00 INR", f.balance(t, id(t, a)))
	assert.Equal(t, []string{metrics.OutcomeApplied, metrics.OutcomeDuplicate, metrics.OutcomeDuplicate}, rec.outcomes)
	assert.Len(t, f.outbox(t), 1)
}

func TestTransactionConsumerRejectsExpenseBeyondBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, uuid.New(), "ACC-001")
	_, err := f.svc.Deposit(ctx, cqrs.DepositCommand{AccountID: id(t, a), Amount: amount("30"), Currency: "INR"})
	require.NoError(t, err)
	consumer, rec := newConsumer(f)

	event := transactionEvent(t, events.ExpenseTransactionCreated, id(t, a), "75")
	require.NoError(t, consumer.Handle(ctx, event))

	assert.Equal(t, "30.00 INR", f.balance(t, id(t, a)))
	assert.Equal(t, []string{metrics.OutcomeRejected}, rec.outcomes)

	staged := f.outbox(t)
	require.Len(t, staged, 2)
	rejection := staged[1]
	assert.Equal(t, events.TransactionRejected, rejection.Type)

	var sent events.TransactionCreatedEvent
	require.NoError(t, event.Decode(&sent))
	var p events.TransactionRejectedEvent
	require.NoError(t, rejection.Decode(&p))
	assert.Equal(t, sent.TransactionID, p.TransactionID)
	assert.Equal(t, "75", p.AttemptedAmount.String())
	assert.Equal(t, "30", p.AvailableBalance.String())
	assert.Equal(t, "insufficient funds", p.Reason)

	// A redelivery of the rejected event is not evaluated again.
	require.NoError(t, consumer.Handle(ctx, event))
	assert.Len(t, f.outbox(t), 2)
}

func TestTransactionConsumerAppliesExpense(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, uuid.New(), "ACC-001")
	_, err := f.svc.Deposit(ctx, cqrs.DepositCommand{AccountID: id(t, a), Amount: amount("30"), Currency: "INR"})
	require.NoError(t, err)
	consumer, _ := newConsumer(f)

	require.NoError(t, consumer.Handle(ctx, transactionEvent(t, events.ExpenseTransactionCreated, id(t, a), "12.5")))
	assert.Equal(t, "17.50 INR", f.balance(t, id(t, a)))
}

func TestTransactionConsumerRejectsEventsWithoutID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, uuid.New(), "ACC-001")
	consumer, rec := newConsumer(f)

	for range 2 {
		e, err := events.NewEvent("", events.IncomeTransactionCreated, time.Now(), events.TransactionCreatedEvent{
			OccurredOn:    time.Now().UTC(),
			TransactionID: uuid.New(),
			UserID:        uuid.New(),
			AccountID:     id(t, a),
			Amount:        amount("100"),
			Currency:      "INR",
		})
		require.NoError(t, err)

		err = consumer.Handle(ctx, e)
		require.Error(t, err)
		assert.True(t, events.IsPermanent(err))
	}

	assert.Equal(t, []string{metrics.OutcomeFailed, metrics.OutcomeFailed}, rec.outcomes)
	assert.Equal(t, "0.00 INR", f.balance(t, id(t, a)))

	// A payload event id alone is enough to deduplicate.
	payloadOnly := transactionEvent(t, events.IncomeTransactionCreated, id(t, a), "100")
	payloadOnly.ID = ""
	require.NoError(t, consumer.Handle(ctx, payloadOnly))
	require.NoError(t, consumer.Handle(ctx, payloadOnly))
	assert.Equal(t, "100.00 INR", f.balance(t, id(t, a)))
}

func TestTransactionConsumerFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	consumer, rec := newConsumer(f)

	t.Run("unknown account is retried", func(t *testing.T) {
		event := transactionEvent(t, events.IncomeTransactionCreated, uuid.New(), "10")
		err := consumer.Handle(ctx, event)
		require.ErrorIs(t, err, domain.ErrAccountNotFound)
		assert.False(t, events.IsPermanent(err))

		// The claim was rolled back with the transaction.
		err = consumer.Handle(ctx, event)
		require.ErrorIs(t, err, domain.ErrAccountNotFound)
	})

	t.Run("malformed payload is permanent", func(t *testing.T) {
		event := events.Event{ID: uuid.NewString(), Type: events.IncomeTransactionCreated, Data: json.RawMessage(`{"amount":`)}
		err := consumer.Handle(ctx, event)
		require.Error(t, err)
		assert.True(t, events.IsPermanent(err))
	})

	t.Run("missing account id is permanent", func(t *testing.T) {
		err := consumer.Handle(ctx, transactionEvent(t, events.IncomeTransactionCreated, uuid.Nil, "10"))
		require.Error(t, err)
		assert.True(t, events.IsPermanent(err))
	})

	t.Run("other event types are ignored", func(t *testing.T) {
		rec.outcomes = nil
		event := events.Event{ID: uuid.NewString(), Type: events.TransactionRejected, Data: json.RawMessage(`{}`)}
		require.NoError(t, consumer.Handle(ctx, event))
		assert.Equal(t, []string{metrics.OutcomeIgnored}, rec.outcomes)
	})

	assert.Empty(t, f.outbox(t))
}
