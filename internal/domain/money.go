package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// MaxScale is the number of fractional digits a Money amount may carry.
const MaxScale = 4

// Money is an immutable, non-negative amount in a single ISO-4217 currency.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// NewMoney validates amount and currency. The currency code is normalized to upper case.
func NewMoney(amount decimal.Decimal, code string) (Money, error) {
	if amount.IsNegative() {
		return Money{}, fmt.Errorf("%w: amount cannot be negative", ErrInvalidAmount)
	}
	if !amount.Equal(amount.Round(MaxScale)) {
		return Money{}, fmt.Errorf("%w: at most %d decimal places are allowed", ErrInvalidAmount, MaxScale)
	}
	normalized, err := normalizeCurrency(code)
	if err != nil {
		return Money{}, err
	}
	return Money{amount: amount, currency: normalized}, nil
}

// ZeroMoney returns a zero amount in the given currency.
func ZeroMoney(code string) (Money, error) {
	return NewMoney(decimal.Zero, code)
}

// MustMoney is NewMoney for amounts known to be valid. It panics otherwise.
func MustMoney(amount string, code string) Money {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		panic(err)
	}
	m, err := NewMoney(d, code)
	if err != nil {
		panic(err)
	}
	return m
}

func normalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", fmt.Errorf("%w: %q is not a 3-letter code", ErrInvalidCurrency, code)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("%w: %q is not a 3-letter code", ErrInvalidCurrency, code)
		}
	}
	if _, err := currency.ParseISO(code); err != nil {
		return "", fmt.Errorf("%w: %q is not a recognized ISO-4217 code", ErrInvalidCurrency, code)
	}
	return code, nil
}

func (m Money) Amount() decimal.Decimal { return m.amount }

func (m Money) Currency() string { return m.currency }

func (m Money) IsZero() bool { return m.amount.IsZero() }

// Add returns m + other. Both values must share a currency.
func (m Money) Add(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("%w: cannot add %s to %s", ErrCurrencyMismatch, other.currency, m.currency)
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

// Subtract returns m - other. It fails when currencies differ or the result would be negative.
func (m Money) Subtract(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("%w: cannot subtract %s from %s", ErrCurrencyMismatch, other.currency, m.currency)
	}
	result := m.amount.Sub(other.amount)
	if result.IsNegative() {
		return Money{}, fmt.Errorf("%w: result would be negative", ErrInvalidAmount)
	}
	return Money{amount: result, currency: m.currency}, nil
}

// LessThan compares amounts of the same currency.
func (m Money) LessThan(other Money) bool {
	return m.amount.LessThan(other.amount)
}

// Equal reports whether both amount and currency match.
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

// String shows at least two fractional digits and as many more as the amount needs.
func (m Money) String() string {
	places := int32(2)
	for places < MaxScale && !m.amount.Equal(m.amount.Round(places)) {
		places++
	}
	return m.amount.StringFixed(places) + " " + m.currency
}

type moneyJSON struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.amount, Currency: m.currency})
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewMoney(raw.Amount, raw.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
