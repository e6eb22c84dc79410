package command

import (
	"github.com/eaglebank/ledger/internal/domain"
	"github.com/eaglebank/ledger/shared/events"
)

// Reasons carried by AccountBalanceUpdated.
const (
	ReasonInitialDeposit = "Initial Deposit"
	ReasonDeposit        = "Deposit"
	ReasonWithdrawal     = "Withdrawal"
	ReasonTransferOut    = "Transfer Sent"
	ReasonTransferIn     = "Transfer Received"
	ReasonIncome         = "Income Transaction Created"
	ReasonExpense        = "Expense Transaction Created"
)

// stageBalanceUpdates queues one AccountBalanceUpdated per balance movement
// staged on a. The transfer summary event is skipped; each side of a transfer
// already has its own movement.
func stageBalanceUpdates(s domain.Session, a *domain.Account, reason string) error {
	for _, e := range a.Events() {
		bu, ok := e.(domain.BalanceUpdated)
		if !ok || bu.IsTransfer {
			continue
		}
		event, err := events.NewEvent(bu.EventID().String(), events.AccountBalanceUpdated, bu.OccurredOn(), events.AccountBalanceUpdatedEvent{
			EventID:         bu.EventID(),
			OccurredOn:      bu.OccurredOn(),
			AccountID:       a.ID(),
			UserID:          a.UserID(),
			NewBalance:      bu.NewBalance.Amount(),
			PreviousBalance: bu.PreviousBalance.Amount(),
			Currency:        bu.NewBalance.Currency(),
			UpdateReason:    reason,
		})
		if err != nil {
			return err
		}
		if err := s.Stage(events.AccountEventsStream, event); err != nil {
			return err
		}
	}
	return nil
}
