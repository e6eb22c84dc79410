package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MaxNameLength          = 500
	MaxDescriptionLength   = 256
	MaxAccountNumberLength = 16
)

var accountNumberPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,16}$`)

type AccountType string

const (
	AccountTypeSavings    AccountType = "savings"
	AccountTypeChecking   AccountType = "checking"
	AccountTypeCreditCard AccountType = "credit_card"
	AccountTypeInvestment AccountType = "investment"
)

// ParseAccountType accepts the canonical names case-insensitively.
func ParseAccountType(s string) (AccountType, error) {
	t := AccountType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown account type %q", ErrInvalidArgument, s)
	}
	return t, nil
}

func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeSavings, AccountTypeChecking, AccountTypeCreditCard, AccountTypeInvestment:
		return true
	}
	return false
}

// Account is the aggregate owning a balance and the default-account flag.
// State changes only through its methods; each change stages a domain event.
type Account struct {
	id            uuid.UUID
	userID        uuid.UUID
	name          string
	accountType   AccountType
	balance       Money
	accountNumber string
	description   *string
	isDefault     bool
	isActive      bool
	version       int64
	createdAt     time.Time
	updatedAt     time.Time

	clock  Clock
	events []Event
}

// AccountOption configures an Account built by NewAccount or RestoreAccount.
type AccountOption func(*Account)

// WithClock stamps the account's timestamps and events with c.
func WithClock(c Clock) AccountOption {
	return func(a *Account) {
		if c != nil {
			a.clock = c
		}
	}
}

// AccountState is the persisted shape of an Account.
type AccountState struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Name          string
	Type          AccountType
	Balance       Money
	AccountNumber string
	Description   *string
	IsDefault     bool
	IsActive      bool
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewAccount creates an active account with a zero balance and stages AccountCreated.
func NewAccount(name string, typ AccountType, userID uuid.UUID, accountNumber, currency string, opts ...AccountOption) (*Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: account name is required", ErrInvalidArgument)
	}
	if len(name) > MaxNameLength {
		return nil, fmt.Errorf("%w: account name exceeds %d characters", ErrInvalidArgument, MaxNameLength)
	}
	accountNumber = strings.TrimSpace(accountNumber)
	if accountNumber == "" {
		return nil, fmt.Errorf("%w: account number is required", ErrInvalidArgument)
	}
	if !accountNumberPattern.MatchString(accountNumber) {
		return nil, fmt.Errorf("%w: account number must be 1-%d letters, digits or dashes", ErrInvalidArgument, MaxAccountNumberLength)
	}
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: unknown account type %q", ErrInvalidArgument, typ)
	}
	balance, err := ZeroMoney(currency)
	if err != nil {
		return nil, err
	}

	a := &Account{
		id:            uuid.New(),
		userID:        userID,
		name:          name,
		accountType:   typ,
		balance:       balance,
		accountNumber: accountNumber,
		isActive:      true,
		clock:         SystemClock,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.createdAt = a.clock()
	a.updatedAt = a.createdAt
	a.raise(AccountCreated{
		eventMeta:     a.meta(),
		UserID:        userID,
		Name:          name,
		Type:          typ,
		AccountNumber: accountNumber,
		Currency:      balance.Currency(),
	})
	return a, nil
}

// RestoreAccount rebuilds an aggregate from storage. No events are staged.
func RestoreAccount(s AccountState, opts ...AccountOption) *Account {
	a := &Account{
		id:            s.ID,
		userID:        s.UserID,
		name:          s.Name,
		accountType:   s.Type,
		balance:       s.Balance,
		accountNumber: s.AccountNumber,
		description:   s.Description,
		isDefault:     s.IsDefault,
		isActive:      s.IsActive,
		version:       s.Version,
		createdAt:     s.CreatedAt,
		updatedAt:     s.UpdatedAt,
		clock:         SystemClock,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Account) ID() uuid.UUID         { return a.id }
func (a *Account) UserID() uuid.UUID     { return a.userID }
func (a *Account) Name() string          { return a.name }
func (a *Account) Type() AccountType     { return a.accountType }
func (a *Account) Balance() Money        { return a.balance }
func (a *Account) AccountNumber() string { return a.accountNumber }
func (a *Account) IsDefault() bool       { return a.isDefault }
func (a *Account) IsActive() bool        { return a.isActive }
func (a *Account) Version() int64        { return a.version }
func (a *Account) CreatedAt() time.Time  { return a.createdAt }
func (a *Account) UpdatedAt() time.Time  { return a.updatedAt }

func (a *Account) Description() *string {
	if a.description == nil {
		return nil
	}
	d := *a.description
	return &d
}

// Snapshot returns the current state for persistence.
func (a *Account) Snapshot() AccountState {
	return AccountState{
		ID:            a.id,
		UserID:        a.userID,
		Name:          a.name,
		Type:          a.accountType,
		Balance:       a.balance,
		AccountNumber: a.accountNumber,
		Description:   a.Description(),
		IsDefault:     a.isDefault,
		IsActive:      a.isActive,
		Version:       a.version,
		CreatedAt:     a.createdAt,
		UpdatedAt:     a.updatedAt,
	}
}

// Deposit adds amount to the balance.
func (a *Account) Deposit(amount Money) error {
	return a.deposit(amount, false, uuid.Nil)
}

// Withdraw removes amount from the balance. The balance never goes below zero.
func (a *Account) Withdraw(amount Money) error {
	return a.withdraw(amount, false, uuid.Nil)
}

// Transfer moves amount from a to the destination account. Every precondition on
// both accounts is checked before either balance changes. Both accounts must be
// persisted in the same unit of work.
func (a *Account) Transfer(to *Account, amount Money) error {
	if to == nil {
		return fmt.Errorf("%w: destination account is required", ErrInvalidArgument)
	}
	if to.id == a.id {
		return fmt.Errorf("%w: cannot transfer to the same account", ErrInvalidArgument)
	}
	if err := a.ensureActive(); err != nil {
		return err
	}
	if err := to.ensureActive(); err != nil {
		return err
	}
	if err := a.checkFunds(amount); err != nil {
		return err
	}
	if amount.Currency() != to.balance.Currency() {
		return fmt.Errorf("%w: destination account holds %s, amount is %s", ErrCurrencyMismatch, to.balance.Currency(), amount.Currency())
	}

	previous := a.balance
	if err := a.withdraw(amount, true, to.id); err != nil {
		return err
	}
	if err := to.deposit(amount, true, a.id); err != nil {
		return err
	}
	a.raise(BalanceUpdated{
		eventMeta:       a.meta(),
		UserID:          a.userID,
		Name:            a.name,
		Type:            a.accountType,
		Amount:          amount,
		PreviousBalance: previous,
		NewBalance:      a.balance,
		IsDeposit:       false,
		IsTransfer:      true,
		CounterpartyID:  to.id,
	})
	return nil
}

func (a *Account) deposit(amount Money, partOfTransfer bool, counterparty uuid.UUID) error {
	if err := a.ensureActive(); err != nil {
		return err
	}
	previous := a.balance
	next, err := a.balance.Add(amount)
	if err != nil {
		return err
	}
	a.balance = next
	a.touch()
	a.raise(BalanceUpdated{
		eventMeta:       a.meta(),
		UserID:          a.userID,
		Name:            a.name,
		Type:            a.accountType,
		Amount:          amount,
		PreviousBalance: previous,
		NewBalance:      next,
		IsDeposit:       true,
		CounterpartyID:  counterpartyOrNil(partOfTransfer, counterparty),
	})
	return nil
}

func (a *Account) withdraw(amount Money, partOfTransfer bool, counterparty uuid.UUID) error {
	if err := a.ensureActive(); err != nil {
		return err
	}
	if err := a.checkFunds(amount); err != nil {
		return err
	}
	previous := a.balance
	next, err := a.balance.Subtract(amount)
	if err != nil {
		return err
	}
	a.balance = next
	a.touch()
	a.raise(BalanceUpdated{
		eventMeta:       a.meta(),
		UserID:          a.userID,
		Name:            a.name,
		Type:            a.accountType,
		Amount:          amount,
		PreviousBalance: previous,
		NewBalance:      next,
		IsDeposit:       false,
		CounterpartyID:  counterpartyOrNil(partOfTransfer, counterparty),
	})
	return nil
}

func counterpartyOrNil(ok bool, id uuid.UUID) uuid.UUID {
	if !ok {
		return uuid.Nil
	}
	return id
}

func (a *Account) checkFunds(amount Money) error {
	if amount.Currency() != a.balance.Currency() {
		return fmt.Errorf("%w: account holds %s, amount is %s", ErrCurrencyMismatch, a.balance.Currency(), amount.Currency())
	}
	if a.balance.LessThan(amount) {
		return fmt.Errorf("%w: balance %s is less than %s", ErrInsufficientFunds, a.balance, amount)
	}
	return nil
}

// ToggleDefault sets the default flag. An event is staged only when the flag changes.
func (a *Account) ToggleDefault(isDefault bool) error {
	if isDefault && !a.isActive {
		return fmt.Errorf("%w: an inactive account cannot be the default", ErrAccountInactive)
	}
	if a.isDefault == isDefault {
		return nil
	}
	a.isDefault = isDefault
	a.touch()
	a.raise(DefaultAccountChanged{
		eventMeta: a.meta(),
		UserID:    a.userID,
		IsDefault: isDefault,
	})
	return nil
}

// AddDescription replaces the free-text description.
func (a *Account) AddDescription(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: description cannot be empty", ErrInvalidArgument)
	}
	if len(text) > MaxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidArgument, MaxDescriptionLength)
	}
	if err := a.ensureActive(); err != nil {
		return err
	}
	a.description = &text
	a.touch()
	a.raise(AccountDetailsChanged{
		eventMeta:   a.meta(),
		Name:        a.name,
		Description: a.Description(),
	})
	return nil
}

// Rename changes the display name.
func (a *Account) Rename(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: account name is required", ErrInvalidArgument)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: account name exceeds %d characters", ErrInvalidArgument, MaxNameLength)
	}
	if err := a.ensureActive(); err != nil {
		return err
	}
	if name == a.name {
		return nil
	}
	a.name = name
	a.touch()
	a.raise(AccountDetailsChanged{
		eventMeta:   a.meta(),
		Name:        a.name,
		Description: a.Description(),
	})
	return nil
}

// Deactivate logically deletes the account. The balance must be zero.
func (a *Account) Deactivate() error {
	if err := a.ensureActive(); err != nil {
		return err
	}
	if !a.balance.IsZero() {
		return fmt.Errorf("%w: balance is %s", ErrBalanceNotZero, a.balance)
	}
	if a.isDefault {
		if err := a.ToggleDefault(false); err != nil {
			return err
		}
	}
	a.isActive = false
	a.touch()
	a.raise(AccountDeactivated{eventMeta: a.meta(), UserID: a.userID})
	return nil
}

func (a *Account) ensureActive() error {
	if !a.isActive {
		return fmt.Errorf("%w: %s", ErrAccountInactive, a.accountNumber)
	}
	return nil
}

func (a *Account) touch() { a.updatedAt = a.clock() }

func (a *Account) meta() eventMeta { return newMeta(a.id, a.updatedAt) }

func (a *Account) raise(e Event) { a.events = append(a.events, e) }

// Events returns the staged events without clearing them.
func (a *Account) Events() []Event {
	out := make([]Event, len(a.events))
	copy(out, a.events)
	return out
}

// HasChanges reports whether any event is staged.
func (a *Account) HasChanges() bool { return len(a.events) > 0 }

// PullEvents returns and clears the staged events.
func (a *Account) PullEvents() []Event {
	out := a.events
	a.events = nil
	return out
}

// MarkPersisted records the version written by the store.
func (a *Account) MarkPersisted(version int64) { a.version = version }
