package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/eaglebank/ledger/internal/domain"
	"github.com/eaglebank/ledger/shared/events"
)

// EventDispatcher delivers committed domain events to in-process subscribers.
type EventDispatcher interface {
	Dispatch(ctx context.Context, evts []domain.Event) error
}

// UnitOfWork implements domain.UnitOfWork on a SQL transaction.
type UnitOfWork struct {
	db         *DB
	dispatcher EventDispatcher
	logger     *slog.Logger
	onOutbox   func()
	clock      domain.Clock
}

type UnitOfWorkOption func(*UnitOfWork)

// WithDispatcher sets the dispatcher that receives events after commit.
func WithDispatcher(d EventDispatcher) UnitOfWorkOption {
	return func(u *UnitOfWork) { u.dispatcher = d }
}

// WithOutboxNotify registers fn to be called after a commit that wrote outbox rows.
func WithOutboxNotify(fn func()) UnitOfWorkOption {
	return func(u *UnitOfWork) { u.onOutbox = fn }
}

// WithClock stamps accounts, outbox rows and processed messages with c.
func WithClock(c domain.Clock) UnitOfWorkOption {
	return func(u *UnitOfWork) { u.clock = c }
}

func NewUnitOfWork(db *DB, logger *slog.Logger, opts ...UnitOfWorkOption) *UnitOfWork {
	u := &UnitOfWork{db: db, logger: logger, clock: domain.SystemClock}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Execute runs fn in one transaction. Tracked accounts with staged events are
// written with an optimistic version check, staged integration events go to
// the outbox, and only after commit are domain events dispatched. Dispatch
// ignores cancellation of ctx.
func (u *UnitOfWork) Execute(ctx context.Context, fn func(ctx context.Context, s domain.Session) error) error {
	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	s := &session{
		tx:      tx,
		driver:  u.db.driver,
		clock:   u.clock,
		tracked: make(map[uuid.UUID]*domain.Account),
		added:   make(map[uuid.UUID]bool),
	}

	if err := fn(ctx, s); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := s.flush(ctx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return classifyWriteError("commit transaction", err)
	}

	committed := s.pullEvents()

	if len(s.staged) > 0 && u.onOutbox != nil {
		u.onOutbox()
	}

	if u.dispatcher != nil && len(committed) > 0 {
		if err := u.dispatcher.Dispatch(context.WithoutCancel(ctx), committed); err != nil {
			u.logger.Warn("domain event dispatch failed after commit", "events", len(committed), "error", err)
		}
	}

	return nil
}

type outboxRow struct {
	id        string
	stream    string
	eventType string
	eventID   string
	payload   []byte
}

type session struct {
	tx      *sql.Tx
	driver  string
	clock   domain.Clock
	tracked map[uuid.UUID]*domain.Account
	order   []*domain.Account
	added   map[uuid.UUID]bool
	staged  []outboxRow
}

const accountColumns = `id, user_id, name, account_type, balance, currency, account_number,
	description, is_default, is_active, version, created_at, updated_at`

func (s *session) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.tx.QueryContext(ctx, rebind(s.driver, query), args...)
}

func (s *session) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.tx.ExecContext(ctx, rebind(s.driver, query), args...)
}

func (s *session) track(a *domain.Account) *domain.Account {
	if existing, ok := s.tracked[a.ID()]; ok {
		return existing
	}
	s.tracked[a.ID()] = a
	s.order = append(s.order, a)
	return a
}

func (s *session) loadOne(ctx context.Context, where string, arg any) (*domain.Account, error) {
	accounts, err := s.loadMany(ctx, where, arg)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, domain.ErrAccountNotFound
	}
	return accounts[0], nil
}

func (s *session) loadMany(ctx context.Context, where string, args ...any) ([]*domain.Account, error) {
	rows, err := s.query(ctx, "SELECT "+accountColumns+" FROM accounts WHERE "+where+" ORDER BY created_at, id", args...)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		st, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, s.track(domain.RestoreAccount(st, domain.WithClock(s.clock))))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	return accounts, nil
}

func (s *session) Account(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	if a, ok := s.tracked[id]; ok {
		return a, nil
	}
	return s.loadOne(ctx, "id = ?", id)
}

func (s *session) AccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	for _, a := range s.order {
		if a.AccountNumber() == accountNumber {
			return a, nil
		}
	}
	return s.loadOne(ctx, "account_number = ?", accountNumber)
}

func (s *session) AccountsByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Account, error) {
	accounts, err := s.loadMany(ctx, "user_id = ?", userID)
	if err != nil {
		return nil, err
	}
	for _, a := range s.order {
		if s.added[a.ID()] && a.UserID() == userID {
			accounts = append(accounts, a)
		}
	}
	return accounts, nil
}

func (s *session) AccountNumberTaken(ctx context.Context, accountNumber string) (bool, error) {
	for _, a := range s.order {
		if a.AccountNumber() == accountNumber {
			return true, nil
		}
	}
	rows, err := s.query(ctx, "SELECT 1 FROM accounts WHERE account_number = ?", accountNumber)
	if err != nil {
		return false, fmt.Errorf("check account number: %w", err)
	}
	defer rows.Close()
	taken := rows.Next()
	return taken, rows.Err()
}

func (s *session) Add(a *domain.Account) {
	s.added[a.ID()] = true
	s.track(a)
}

func (s *session) Stage(stream string, e events.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal outbox event %s: %w", e.ID, err)
	}
	s.staged = append(s.staged, outboxRow{
		id:        ulid.Make().String(),
		stream:    stream,
		eventType: e.Type,
		eventID:   e.ID,
		payload:   payload,
	})
	return nil
}

func (s *session) Now() time.Time { return s.clock() }

func (s *session) ClaimMessage(ctx context.Context, consumer, key string) (bool, error) {
	res, err := s.exec(ctx,
		`INSERT INTO processed_messages (consumer, message_key, processed_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (consumer, message_key) DO NOTHING`,
		consumer, key, s.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("claim message %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim message %s: %w", key, err)
	}
	return n == 1, nil
}

// flush writes new and changed accounts, then the outbox rows. Updates run
// with non-default rows first so a default flag is cleared before another is
// set, then by id so concurrent writers touch rows in the same order.
func (s *session) flush(ctx context.Context) error {
	var dirty []*domain.Account
	for _, a := range s.order {
		if s.added[a.ID()] {
			continue
		}
		if a.HasChanges() {
			dirty = append(dirty, a)
		}
	}
	sort.Slice(dirty, func(i, j int) bool {
		if dirty[i].IsDefault() != dirty[j].IsDefault() {
			return !dirty[i].IsDefault()
		}
		return dirty[i].ID().String() < dirty[j].ID().String()
	})

	for _, a := range dirty {
		if err := s.update(ctx, a); err != nil {
			return err
		}
	}

	// Inserts follow updates so a new default account lands after old defaults are cleared.
	for _, a := range s.order {
		if !s.added[a.ID()] {
			continue
		}
		if err := s.insert(ctx, a); err != nil {
			return err
		}
	}

	for _, row := range s.staged {
		_, err := s.exec(ctx,
			`INSERT INTO outbox_messages (id, stream, event_type, event_id, payload, created_at, attempts)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			row.id, row.stream, row.eventType, row.eventID, string(row.payload), s.Now(), 0,
		)
		if err != nil {
			return fmt.Errorf("write outbox event %s: %w", row.eventID, err)
		}
	}
	return nil
}

func (s *session) insert(ctx context.Context, a *domain.Account) error {
	st := a.Snapshot()
	_, err := s.exec(ctx,
		`INSERT INTO accounts (id, user_id, name, account_type, balance, currency, account_number,
			description, is_default, is_active, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.UserID, st.Name, string(st.Type), st.Balance.Amount(), st.Balance.Currency(), st.AccountNumber,
		nullString(st.Description), st.IsDefault, st.IsActive, int64(1), st.CreatedAt, st.UpdatedAt,
	)
	if err != nil {
		return classifyWriteError(fmt.Sprintf("insert account %s", st.AccountNumber), err)
	}
	a.MarkPersisted(1)
	return nil
}

func (s *session) update(ctx context.Context, a *domain.Account) error {
	st := a.Snapshot()
	res, err := s.exec(ctx,
		`UPDATE accounts
		 SET name = ?, balance = ?, description = ?, is_default = ?, is_active = ?, version = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		st.Name, st.Balance.Amount(), nullString(st.Description), st.IsDefault, st.IsActive,
		st.Version+1, st.UpdatedAt, st.ID, st.Version,
	)
	if err != nil {
		return classifyWriteError(fmt.Sprintf("update account %s", st.ID), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account %s: %w", st.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: account %s at version %d", domain.ErrConcurrencyConflict, st.ID, st.Version)
	}
	a.MarkPersisted(st.Version + 1)
	return nil
}

func classifyWriteError(op string, err error) error {
	if lockConflict(err) {
		return fmt.Errorf("%s: %w", op, domain.ErrConcurrencyConflict)
	}
	if unique, onNumber := uniqueViolation(err); unique {
		if onNumber {
			return fmt.Errorf("%s: %w", op, domain.ErrAccountNumberTaken)
		}
		return fmt.Errorf("%s: %w", op, domain.ErrConcurrencyConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *session) pullEvents() []domain.Event {
	var out []domain.Event
	for _, a := range s.order {
		out = append(out, a.PullEvents()...)
	}
	return out
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (domain.AccountState, error) {
	var (
		st          domain.AccountState
		accountType string
		currency    string
		description sql.NullString
		amount      decimal.Decimal
	)
	err := row.Scan(
		&st.ID, &st.UserID, &st.Name, &accountType, &amount, &currency, &st.AccountNumber,
		&description, &st.IsDefault, &st.IsActive, &st.Version, &st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return st, domain.ErrAccountNotFound
		}
		return st, fmt.Errorf("scan account: %w", err)
	}

	balance, err := domain.NewMoney(amount, currency)
	if err != nil {
		return st, fmt.Errorf("scan account %s balance: %w", st.ID, err)
	}
	st.Type = domain.AccountType(accountType)
	st.Balance = balance
	st.Description = stringPtr(description)
	return st, nil
}
