package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/eaglebank/ledger/internal/domain"
	"github.com/eaglebank/ledger/internal/repository"
	"github.com/eaglebank/ledger/shared/cqrs"
	"github.com/eaglebank/ledger/shared/models"
	"github.com/eaglebank/ledger/shared/utils"
)

// DefaultCurrency applies when CreateAccount is given no currency.
const DefaultCurrency = "INR"

const accountNumberAttempts = 5

// Recorder receives command outcomes. *metrics.Collector implements it.
type Recorder interface {
	CommandHandled(command, outcome string, took time.Duration)
	ConcurrencyRetry(operation string)
}

type nopRecorder struct{}

func (nopRecorder) CommandHandled(string, string, time.Duration) {}
func (nopRecorder) ConcurrencyRetry(string)                      {}

// AccountCommandService runs each account command as one unit of work and
// retries it from a fresh read on a concurrency conflict.
type AccountCommandService struct {
	uow         domain.UnitOfWork
	logger      *slog.Logger
	recorder    Recorder
	maxAttempts int
}

func NewAccountCommandService(uow domain.UnitOfWork, logger *slog.Logger, recorder Recorder, maxAttempts int) *AccountCommandService {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &AccountCommandService{
		uow:         uow,
		logger:      logger,
		recorder:    recorder,
		maxAttempts: maxAttempts,
	}
}

func (s *AccountCommandService) CreateAccount(ctx context.Context, cmd cqrs.CreateAccountCommand) (*models.AccountView, error) {
	accountType, err := domain.ParseAccountType(cmd.AccountType)
	if err != nil {
		return nil, translate(err)
	}
	currency := cmd.Currency
	if strings.TrimSpace(currency) == "" {
		currency = DefaultCurrency
	}
	initial, err := domain.NewMoney(cmd.InitialBalance, currency)
	if err != nil {
		return nil, translate(err)
	}

	var created *domain.Account
	err = s.run(ctx, "create_account", func(ctx context.Context, sess domain.Session) error {
		number, err := s.accountNumber(ctx, sess, cmd.AccountNumber)
		if err != nil {
			return err
		}

		a, err := domain.NewAccount(cmd.Name, accountType, cmd.UserID, number, initial.Currency(), domain.WithClock(sess.Now))
		if err != nil {
			return err
		}
		if !initial.IsZero() {
			if err := a.Deposit(initial); err != nil {
				return err
			}
		}
		if strings.TrimSpace(cmd.Description) != "" {
			if err := a.AddDescription(cmd.Description); err != nil {
				return err
			}
		}
		if cmd.IsDefault {
			others, err := sess.AccountsByUser(ctx, cmd.UserID)
			if err != nil {
				return err
			}
			for _, other := range others {
				if err := other.ToggleDefault(false); err != nil {
					return err
				}
			}
			if err := a.ToggleDefault(true); err != nil {
				return err
			}
		}

		sess.Add(a)
		created = a
		return stageBalanceUpdates(sess, a, ReasonInitialDeposit)
	})
	if err != nil {
		return nil, err
	}
	return viewOf(created), nil
}

// accountNumber returns requested if it is free, or generates one when requested is empty.
func (s *AccountCommandService) accountNumber(ctx context.Context, sess domain.Session, requested string) (string, error) {
	if requested = strings.TrimSpace(requested); requested != "" {
		taken, err := sess.AccountNumberTaken(ctx, requested)
		if err != nil {
			return "", err
		}
		if taken {
			return "", fmt.Errorf("%w: %s", domain.ErrAccountNumberTaken, requested)
		}
		return requested, nil
	}

	for i := 0; i < accountNumberAttempts; i++ {
		number, err := utils.GenerateAccountNumber()
		if err != nil {
			return "", err
		}
		taken, err := sess.AccountNumberTaken(ctx, number)
		if err != nil {
			return "", err
		}
		if !taken {
			return number, nil
		}
	}
	return "", errors.New("could not generate a free account number")
}

func (s *AccountCommandService) Deposit(ctx context.Context, cmd cqrs.DepositCommand) (*models.AccountView, error) {
	amount, err := positiveMoney(cmd.Amount, cmd.Currency)
	if err != nil {
		return nil, translate(err)
	}

	var target *domain.Account
	err = s.run(ctx, "deposit", func(ctx context.Context, sess domain.Session) error {
		a, err := loadOwned(ctx, sess, cmd.AccountID, cmd.RequestingUserID)
		if err != nil {
			return err
		}
		if err := a.Deposit(amount); err != nil {
			return err
		}
		target = a
		return stageBalanceUpdates(sess, a, ReasonDeposit)
	})
	if err != nil {
		return nil, err
	}
	return viewOf(target), nil
}

func (s *AccountCommandService) Withdraw(ctx context.Context, cmd cqrs.WithdrawCommand) (*models.AccountView, error) {
	amount, err := positiveMoney(cmd.Amount, cmd.Currency)
	if err != nil {
		return nil, translate(err)
	}

	var target *domain.Account
	err = s.run(ctx, "withdraw", func(ctx context.Context, sess domain.Session) error {
		a, err := loadOwned(ctx, sess, cmd.AccountID, cmd.RequestingUserID)
		if err != nil {
			return err
		}
		if err := a.Withdraw(amount); err != nil {
			return err
		}
		target = a
		return stageBalanceUpdates(sess, a, ReasonWithdrawal)
	})
	if err != nil {
		return nil, err
	}
	return viewOf(target), nil
}

// Transfer moves money between two accounts in one unit of work. Accounts are
// loaded in id order so opposing transfers contend in the same order.
func (s *AccountCommandService) Transfer(ctx context.Context, cmd cqrs.TransferCommand) (*models.AccountView, error) {
	if cmd.FromAccountID == cmd.ToAccountID {
		return nil, cqrs.NewError(cqrs.KindValidation, "cannot transfer to the same account")
	}
	amount, err := positiveMoney(cmd.Amount, cmd.Currency)
	if err != nil {
		return nil, translate(err)
	}

	var source *domain.Account
	err = s.run(ctx, "transfer", func(ctx context.Context, sess domain.Session) error {
		first, second := cmd.FromAccountID, cmd.ToAccountID
		if second.String() < first.String() {
			first, second = second, first
		}
		if _, err := sess.Account(ctx, first); err != nil {
			return err
		}
		if _, err := sess.Account(ctx, second); err != nil {
			return err
		}

		from, err := loadOwned(ctx, sess, cmd.FromAccountID, cmd.RequestingUserID)
		if err != nil {
			return err
		}
		to, err := sess.Account(ctx, cmd.ToAccountID)
		if err != nil {
			return err
		}

		if err := from.Transfer(to, amount); err != nil {
			return err
		}
		source = from
		if err := stageBalanceUpdates(sess, from, ReasonTransferOut); err != nil {
			return err
		}
		return stageBalanceUpdates(sess, to, ReasonTransferIn)
	})
	if err != nil {
		return nil, err
	}
	return viewOf(source), nil
}

// SetDefaultAccount makes the user's account with the given number the only
// default one.
func (s *AccountCommandService) SetDefaultAccount(ctx context.Context, cmd cqrs.SetDefaultAccountCommand) (*models.AccountView, error) {
	var target *domain.Account
	err := s.run(ctx, "set_default_account", func(ctx context.Context, sess domain.Session) error {
		accounts, err := sess.AccountsByUser(ctx, cmd.UserID)
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			return cqrs.NewError(cqrs.KindNotFound, "no accounts found for user")
		}

		target = nil
		for _, a := range accounts {
			if a.AccountNumber() == cmd.AccountNumber {
				target = a
			}
		}
		if target == nil {
			return cqrs.NewError(cqrs.KindNotFound, fmt.Sprintf("account %s not found for user", cmd.AccountNumber))
		}

		for _, a := range accounts {
			if a != target {
				if err := a.ToggleDefault(false); err != nil {
					return err
				}
			}
		}
		return target.ToggleDefault(true)
	})
	if err != nil {
		return nil, err
	}
	return viewOf(target), nil
}

func (s *AccountCommandService) UpdateAccount(ctx context.Context, cmd cqrs.UpdateAccountCommand) (*models.AccountView, error) {
	if cmd.Name == nil && cmd.Description == nil {
		return nil, cqrs.NewError(cqrs.KindValidation, "nothing to update")
	}

	var target *domain.Account
	err := s.run(ctx, "update_account", func(ctx context.Context, sess domain.Session) error {
		a, err := loadOwned(ctx, sess, cmd.AccountID, cmd.RequestingUserID)
		if err != nil {
			return err
		}
		if cmd.Name != nil {
			if err := a.Rename(*cmd.Name); err != nil {
				return err
			}
		}
		if cmd.Description != nil {
			if err := a.AddDescription(*cmd.Description); err != nil {
				return err
			}
		}
		target = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return viewOf(target), nil
}

func (s *AccountCommandService) DeactivateAccount(ctx context.Context, cmd cqrs.DeactivateAccountCommand) (*models.AccountView, error) {
	var target *domain.Account
	err := s.run(ctx, "deactivate_account", func(ctx context.Context, sess domain.Session) error {
		a, err := loadOwned(ctx, sess, cmd.AccountID, cmd.RequestingUserID)
		if err != nil {
			return err
		}
		if err := a.Deactivate(); err != nil {
			return err
		}
		target = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return viewOf(target), nil
}

// run executes fn with conflict retries, records the outcome and converts the
// error to a *cqrs.Error.
func (s *AccountCommandService) run(ctx context.Context, name string, fn func(ctx context.Context, sess domain.Session) error) error {
	start := time.Now()
	err := retryOnConflict(ctx, s.maxAttempts, func() error {
		return s.uow.Execute(ctx, fn)
	}, func(attempt int) {
		s.recorder.ConcurrencyRetry(name)
		s.logger.Debug("retrying after concurrency conflict", "command", name, "attempt", attempt)
	})

	if err == nil {
		s.recorder.CommandHandled(name, "ok", time.Since(start))
		return nil
	}

	translated := translate(err)
	kind := cqrs.KindOf(translated)
	if kind == cqrs.KindDependencyFailure {
		s.logger.Error("command failed", "command", name, "error", err)
	}
	s.recorder.CommandHandled(name, string(kind), time.Since(start))
	return translated
}

// loadOwned loads an account and, when requester is set, checks it owns it.
func loadOwned(ctx context.Context, sess domain.Session, id, requester uuid.UUID) (*domain.Account, error) {
	a, err := sess.Account(ctx, id)
	if err != nil {
		return nil, err
	}
	if requester != uuid.Nil && a.UserID() != requester {
		return nil, cqrs.NewError(cqrs.KindForbidden, "account belongs to another user")
	}
	return a, nil
}

func positiveMoney(amount decimal.Decimal, currency string) (domain.Money, error) {
	m, err := domain.NewMoney(amount, currency)
	if err != nil {
		return domain.Money{}, err
	}
	if m.IsZero() {
		return domain.Money{}, fmt.Errorf("%w: amount must be greater than zero", domain.ErrInvalidAmount)
	}
	return m, nil
}

func viewOf(a *domain.Account) *models.AccountView {
	view := repository.ToView(a.Snapshot())
	return &view
}

// translate maps domain failures to user-facing errors. Anything unrecognised
// becomes a dependency failure without internal detail.
func translate(err error) error {
	var cerr *cqrs.Error
	switch {
	case errors.As(err, &cerr):
		return cerr
	case errors.Is(err, domain.ErrAccountNotFound):
		return cqrs.NewError(cqrs.KindNotFound, "account not found")
	case errors.Is(err, domain.ErrInsufficientFunds):
		return cqrs.NewError(cqrs.KindInsufficientFunds, "insufficient funds")
	case errors.Is(err, domain.ErrAccountNumberTaken):
		return cqrs.NewError(cqrs.KindAlreadyExists, "account number already exists")
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return cqrs.NewError(cqrs.KindConcurrencyConflict, "the account was modified concurrently, please retry")
	case domain.IsValidation(err):
		return cqrs.NewError(cqrs.KindValidation, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return cqrs.NewError(cqrs.KindDependencyFailure, "request was cancelled")
	default:
		return cqrs.NewError(cqrs.KindDependencyFailure, "service temporarily unavailable")
	}
}
