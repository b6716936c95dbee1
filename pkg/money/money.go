// Package money provides the fixed-point monetary value used across the core.
//
// CRITICAL: Arithmetic is only defined between values of the same currency.
// Every Money that reaches storage carries its currency code explicitly and
// persists its amount as a decimal string to preserve precision.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

// Currency is an ISO 4217 currency code. The set is closed: only codes
// listed below are accepted by ParseCurrency.
type Currency string

// Supported currencies.
const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
	CHF Currency = "CHF"
	JPY Currency = "JPY"
	CAD Currency = "CAD"
	AUD Currency = "AUD"
)

var knownCurrencies = map[Currency]bool{
	USD: true, EUR: true, GBP: true, CHF: true, JPY: true, CAD: true, AUD: true,
}

// ParseCurrency validates a currency code string.
func ParseCurrency(code string) (Currency, error) {
	c := Currency(code)
	if !knownCurrencies[c] {
		return "", fmt.Errorf("unknown currency code: %q", code)
	}
	return c, nil
}

// ErrCurrencyMismatch is returned by arithmetic between different currencies.
var ErrCurrencyMismatch = fmt.Errorf("currency mismatch")

// Money is a fixed-point amount in a single currency.
type Money struct {
	Amount   decimal.Decimal
	Currency Currency
}

// New creates a Money from a decimal amount and currency.
func New(amount decimal.Decimal, currency Currency) Money {
	return Money{Amount: amount, Currency: currency}
}

// FromString parses a decimal string ("100.00") into a Money.
func FromString(amount string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	return Money{Amount: d, Currency: currency}, nil
}

// MustFromString is FromString that panics on malformed input.
// Use only with literals, typically in tests and seed tables.
func MustFromString(amount string, currency Currency) Money {
	m, err := FromString(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns the zero amount in the given currency.
func Zero(currency Currency) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

// Add returns m + other. Fails on currency mismatch.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s + %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Sub returns m - other. Fails on currency mismatch.
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s - %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// Neg returns the negated amount.
func (m Money) Neg() Money {
	return Money{Amount: m.Amount.Neg(), Currency: m.Currency}
}

// Cmp compares amounts: -1 if m < other, 0 if equal, +1 if m > other.
func (m Money) Cmp(other Money) (int, error) {
	if m.Currency != other.Currency {
		return 0, fmt.Errorf("%w: compare %s with %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return m.Amount.Cmp(other.Amount), nil
}

// Equal reports whether both currency and amount match.
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

// IsPositive reports whether the amount is strictly greater than zero.
func (m Money) IsPositive() bool {
	return m.Amount.IsPositive()
}

// IsNegative reports whether the amount is strictly less than zero.
func (m Money) IsNegative() bool {
	return m.Amount.IsNegative()
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

// StringAmount returns the amount formatted with two decimal places.
// This is the wire form used in envelopes and persisted rows.
func (m Money) StringAmount() string {
	return m.Amount.StringFixed(2)
}

// String returns "100.00 USD".
func (m Money) String() string {
	return m.StringAmount() + " " + string(m.Currency)
}

// wire is the persisted representation: amount string plus currency code.
type wire struct {
	Amount   string `msgpack:"amount"`
	Currency string `msgpack:"currency"`
}

// EncodeMsgpack persists the amount as a decimal string.
func (m Money) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.Encode(wire{Amount: m.Amount.String(), Currency: string(m.Currency)})
}

// DecodeMsgpack restores a Money from its persisted form.
func (m *Money) DecodeMsgpack(dec *msgpack.Decoder) error {
	var w wire
	if err := dec.Decode(&w); err != nil {
		return err
	}
	d, err := decimal.NewFromString(w.Amount)
	if err != nil {
		return fmt.Errorf("decode money amount %q: %w", w.Amount, err)
	}
	m.Amount = d
	m.Currency = Currency(w.Currency)
	return nil
}

// Verify custom codec compliance at compile time.
var (
	_ msgpack.CustomEncoder = Money{}
	_ msgpack.CustomDecoder = (*Money)(nil)
)
