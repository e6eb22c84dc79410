package domain

import "errors"

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidCurrency     = errors.New("invalid currency")
	ErrCurrencyMismatch    = errors.New("currency mismatch")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrAccountInactive     = errors.New("account is inactive")
	ErrBalanceNotZero      = errors.New("account balance must be zero")
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountNumberTaken  = errors.New("account number already exists")
	ErrConcurrencyConflict = errors.New("concurrency conflict: account version mismatch")
)

// IsValidation reports whether err is a rejection of bad input that must not be retried.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidCurrency) ||
		errors.Is(err, ErrCurrencyMismatch) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrAccountInactive) ||
		errors.Is(err, ErrBalanceNotZero)
}
