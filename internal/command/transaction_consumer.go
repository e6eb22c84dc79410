package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/eaglebank/ledger/internal/domain"
	"github.com/eaglebank/ledger/internal/metrics"
	"github.com/eaglebank/ledger/shared/events"
)

// ConsumerName scopes the processed-message keys of TransactionConsumer.
const ConsumerName = "account-service.transactions"

const (
	outcomeApplied   = metrics.OutcomeApplied
	outcomeDuplicate = metrics.OutcomeDuplicate
	outcomeRejected  = metrics.OutcomeRejected
	outcomeIgnored   = metrics.OutcomeIgnored
	outcomeFailed    = metrics.OutcomeFailed
)

// ConsumerRecorder receives consumer outcomes. *metrics.Collector implements it.
type ConsumerRecorder interface {
	MessageConsumed(eventType, outcome string)
	ConcurrencyRetry(operation string)
}

type nopConsumerRecorder struct{}

func (nopConsumerRecorder) MessageConsumed(string, string) {}
func (nopConsumerRecorder) ConcurrencyRetry(string)        {}

// TransactionConsumer applies transaction-created events from the transactions
// service to account balances. Each event is applied at most once: the event id
// and the transaction id are claimed in the same transaction as the balance
// change. Business rejections publish TransactionRejected and are acknowledged.
type TransactionConsumer struct {
	uow         domain.UnitOfWork
	logger      *slog.Logger
	recorder    ConsumerRecorder
	maxAttempts int
}

func NewTransactionConsumer(uow domain.UnitOfWork, logger *slog.Logger, recorder ConsumerRecorder, maxAttempts int) *TransactionConsumer {
	if recorder == nil {
		recorder = nopConsumerRecorder{}
	}
	return &TransactionConsumer{uow: uow, logger: logger, recorder: recorder, maxAttempts: maxAttempts}
}

type balanceEffect struct {
	apply  func(a *domain.Account, m domain.Money) error
	reason string
}

var effects = map[string]balanceEffect{
	events.IncomeTransactionCreated:  {apply: (*domain.Account).Deposit, reason: ReasonIncome},
	events.ExpenseTransactionCreated: {apply: (*domain.Account).Withdraw, reason: ReasonExpense},
}

// Handle is an events.Handler. A returned error leaves the message for redelivery
// unless it is marked permanent.
func (c *TransactionConsumer) Handle(ctx context.Context, event events.Event) error {
	effect, ok := effects[event.Type]
	if !ok {
		c.recorder.MessageConsumed(event.Type, outcomeIgnored)
		return nil
	}
	logger := c.logger.With("event_id", event.ID, "event_type", event.Type)

	var payload events.TransactionCreatedEvent
	if err := event.Decode(&payload); err != nil {
		c.recorder.MessageConsumed(event.Type, outcomeFailed)
		return err
	}
	if payload.AccountID == uuid.Nil {
		c.recorder.MessageConsumed(event.Type, outcomeFailed)
		return events.Permanent(fmt.Errorf("event %s has no account id", event.ID))
	}
	key := event.ID
	if key == "" && payload.EventID != uuid.Nil {
		key = payload.EventID.String()
	}
	if key == "" {
		c.recorder.MessageConsumed(event.Type, outcomeFailed)
		return events.Permanent(fmt.Errorf("event on transaction %s has no event id", payload.TransactionID))
	}
	logger = logger.With("account_id", payload.AccountID, "transaction_id", payload.TransactionID)

	var outcome string
	err := retryOnConflict(ctx, c.maxAttempts, func() error {
		return c.uow.Execute(ctx, func(ctx context.Context, s domain.Session) error {
			var err error
			outcome, err = c.apply(ctx, s, key, payload, effect)
			return err
		})
	}, func(int) { c.recorder.ConcurrencyRetry("consume_" + event.Type) })

	if err != nil {
		c.recorder.MessageConsumed(event.Type, outcomeFailed)
		if errors.Is(err, domain.ErrAccountNotFound) {
			logger.Error("transaction references an unknown account", "error", err)
		} else {
			logger.Warn("failed to apply transaction event", "error", err)
		}
		return err
	}

	c.recorder.MessageConsumed(event.Type, outcome)
	logger.Info("transaction event consumed", "outcome", outcome)
	return nil
}

func (c *TransactionConsumer) apply(ctx context.Context, s domain.Session, key string, p events.TransactionCreatedEvent, effect balanceEffect) (string, error) {
	claimed, err := s.ClaimMessage(ctx, ConsumerName, "event:"+key)
	if err != nil || !claimed {
		return outcomeDuplicate, err
	}
	if p.TransactionID != uuid.Nil {
		claimed, err := s.ClaimMessage(ctx, ConsumerName, "txn:"+p.TransactionID.String())
		if err != nil || !claimed {
			return outcomeDuplicate, err
		}
	}

	a, err := s.Account(ctx, p.AccountID)
	if err != nil {
		return outcomeFailed, err
	}

	amount, err := positiveMoney(p.Amount, p.Currency)
	if err == nil {
		err = effect.apply(a, amount)
	}
	if err != nil {
		if !isBusinessRejection(err) {
			return outcomeFailed, err
		}
		return outcomeRejected, stageRejection(s, a, p, err)
	}

	return outcomeApplied, stageBalanceUpdates(s, a, effect.reason)
}

func isBusinessRejection(err error) bool {
	return errors.Is(err, domain.ErrInsufficientFunds) || domain.IsValidation(err)
}

func stageRejection(s domain.Session, a *domain.Account, p events.TransactionCreatedEvent, cause error) error {
	id := uuid.New()
	occurred := s.Now()
	event, err := events.NewEvent(id.String(), events.TransactionRejected, occurred, events.TransactionRejectedEvent{
		EventID:          id,
		OccurredOn:       occurred,
		TransactionID:    p.TransactionID,
		UserID:           p.UserID,
		AccountID:        a.ID(),
		AttemptedAmount:  p.Amount,
		AvailableBalance: a.Balance().Amount(),
		Currency:         a.Balance().Currency(),
		Reason:           rejectionReason(cause),
	})
	if err != nil {
		return err
	}
	return s.Stage(events.TransactionEventsStream, event)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient funds"
	case errors.Is(err, domain.ErrCurrencyMismatch):
		return "currency mismatch"
	case errors.Is(err, domain.ErrAccountInactive):
		return "account is inactive"
	default:
		return err.Error()
	}
}
