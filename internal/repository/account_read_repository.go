package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/eaglebank/ledger/internal/domain"
	"github.com/eaglebank/ledger/shared/models"
	sharedredis "github.com/eaglebank/ledger/shared/redis"
)

const (
	accountViewKeyPrefix   = "account:view:"
	accountNumberKeyPrefix = "account:number:"
)

// AccountReadRepository serves account views. Redis is the primary read store
// when a cache is configured; misses fall back to SQL and warm the cache.
type AccountReadRepository struct {
	db     *DB
	cache  *sharedredis.ViewCache[models.AccountView]
	logger *slog.Logger
}

// NewAccountReadRepository accepts a nil cache, in which case every read goes to SQL.
func NewAccountReadRepository(db *DB, cache *sharedredis.ViewCache[models.AccountView], logger *slog.Logger) *AccountReadRepository {
	return &AccountReadRepository{db: db, cache: cache, logger: logger}
}

// ToView projects persisted account state to its API shape.
func ToView(st domain.AccountState) models.AccountView {
	return models.AccountView{
		ID:            st.ID.String(),
		UserID:        st.UserID.String(),
		AccountNumber: st.AccountNumber,
		Name:          st.Name,
		AccountType:   string(st.Type),
		Balance:       st.Balance.Amount(),
		Currency:      st.Balance.Currency(),
		Description:   st.Description,
		IsDefault:     st.IsDefault,
		IsActive:      st.IsActive,
		Version:       st.Version,
		CreatedAt:     st.CreatedAt,
		UpdatedAt:     st.UpdatedAt,
	}
}

func cacheKeys(v *models.AccountView) []string {
	return []string{accountViewKeyPrefix + v.ID, accountNumberKeyPrefix + v.AccountNumber}
}

func (r *AccountReadRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AccountView, error) {
	if view, ok := r.cache.Get(ctx, accountViewKeyPrefix+id.String()); ok {
		return view, nil
	}
	view, err := r.loadOne(ctx, "id = ?", id)
	if err != nil {
		return nil, err
	}
	r.cache.Set(ctx, view, cacheKeys(view)...)
	return view, nil
}

func (r *AccountReadRepository) GetByNumber(ctx context.Context, accountNumber string) (*models.AccountView, error) {
	if view, ok := r.cache.Get(ctx, accountNumberKeyPrefix+accountNumber); ok {
		return view, nil
	}
	view, err := r.loadOne(ctx, "account_number = ?", accountNumber)
	if err != nil {
		return nil, err
	}
	r.cache.Set(ctx, view, cacheKeys(view)...)
	return view, nil
}

// ListByUserID always reads SQL; an empty slice means the user has no accounts.
func (r *AccountReadRepository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]models.AccountView, error) {
	rows, err := r.db.QueryContext(ctx,
		r.db.rebind("SELECT "+accountColumns+" FROM accounts WHERE user_id = ? ORDER BY created_at, id"),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	views := []models.AccountView{}
	for rows.Next() {
		st, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		views = append(views, ToView(st))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return views, nil
}

// Refresh reloads one account from SQL into the cache. It is subscribed to
// committed domain events so the cache follows every write.
func (r *AccountReadRepository) Refresh(ctx context.Context, id uuid.UUID) error {
	if r.cache == nil {
		return nil
	}
	view, err := r.loadOne(ctx, "id = ?", id)
	if err != nil {
		return err
	}
	if cached, ok := r.cache.Get(ctx, accountViewKeyPrefix+view.ID); ok && cached.Version > view.Version {
		return nil
	}
	r.cache.Set(ctx, view, cacheKeys(view)...)
	return nil
}

// ProjectEvent refreshes the account an event belongs to.
func (r *AccountReadRepository) ProjectEvent(ctx context.Context, e domain.Event) error {
	if err := r.Refresh(ctx, e.AggregateID()); err != nil {
		r.logger.Warn("failed to refresh account view", "account_id", e.AggregateID(), "event", e.EventName(), "error", err)
		return err
	}
	return nil
}

func (r *AccountReadRepository) loadOne(ctx context.Context, where string, arg any) (*models.AccountView, error) {
	row := r.db.QueryRowContext(ctx, r.db.rebind("SELECT "+accountColumns+" FROM accounts WHERE "+where), arg)
	st, err := scanAccount(row)
	if err != nil {
		return nil, err
	}
	view := ToView(st)
	return &view, nil
}
