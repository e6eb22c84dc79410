package query

import (
	"context"
	"errors"
	"log/slog"

	"github.com/eaglebank/ledger/internal/domain"
	"github.com/eaglebank/ledger/internal/repository"
	"github.com/eaglebank/ledger/shared/cqrs"
	"github.com/eaglebank/ledger/shared/models"
)

type AccountQueryService struct {
	readRepo *repository.AccountReadRepository
	logger   *slog.Logger
}

func NewAccountQueryService(readRepo *repository.AccountReadRepository, logger *slog.Logger) *AccountQueryService {
	return &AccountQueryService{readRepo: readRepo, logger: logger}
}

// GetAccount fetches a single account view and enforces ownership.
func (s *AccountQueryService) GetAccount(ctx context.Context, q cqrs.GetAccountQuery) (*models.AccountView, error) {
	view, err := s.readRepo.GetByID(ctx, q.AccountID)
	if err != nil {
		return nil, s.translate(err)
	}
	return owned(view, q.RequestingUserID.String())
}

func (s *AccountQueryService) GetAccountByNumber(ctx context.Context, q cqrs.GetAccountByNumberQuery) (*models.AccountView, error) {
	view, err := s.readRepo.GetByNumber(ctx, q.AccountNumber)
	if err != nil {
		return nil, s.translate(err)
	}
	return owned(view, q.RequestingUserID.String())
}

// ListAccounts returns every account of the user, inactive ones included.
func (s *AccountQueryService) ListAccounts(ctx context.Context, q cqrs.ListAccountsQuery) ([]models.AccountView, error) {
	views, err := s.readRepo.ListByUserID(ctx, q.UserID)
	if err != nil {
		return nil, s.translate(err)
	}
	return views, nil
}

func owned(view *models.AccountView, requester string) (*models.AccountView, error) {
	if view.UserID != requester {
		return nil, cqrs.NewError(cqrs.KindForbidden, "account belongs to another user")
	}
	return view, nil
}

func (s *AccountQueryService) translate(err error) error {
	if errors.Is(err, domain.ErrAccountNotFound) {
		return cqrs.NewError(cqrs.KindNotFound, "account not found")
	}
	s.logger.Error("account query failed", "error", err)
	return cqrs.NewError(cqrs.KindDependencyFailure, "service temporarily unavailable")
}
